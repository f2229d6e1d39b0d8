package auth

import (
	"fmt"
	"strings"
)

// Role is a closed enumeration. The hierarchy is flat: superadmin grants
// everything, all other roles are peers. Extending it later is a change to
// the grants table, not to the gate logic.
type Role string

const (
	RoleSuperAdmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleAgent      Role = "agent"
)

var allRoles = []Role{RoleSuperAdmin, RoleAdmin, RoleManager, RoleAgent}

// grants lists, per role, the other roles it can act as.
var grants = map[Role][]Role{
	RoleSuperAdmin: {RoleAdmin, RoleManager, RoleAgent},
}

// ParseRole validates a stored or transmitted role name.
func ParseRole(raw string) (Role, error) {
	candidate := Role(strings.ToLower(strings.TrimSpace(raw)))
	for _, r := range allRoles {
		if candidate == r {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
}

// Grants reports whether r satisfies the required role, either directly or
// through the grants table.
func (r Role) Grants(required Role) bool {
	if r == required {
		return true
	}
	for _, g := range grants[r] {
		if g == required {
			return true
		}
	}
	return false
}

// Require is the role gate: it returns ErrForbidden unless the identity's
// role grants the required role.
func Require(id Identity, required Role) error {
	if !id.Role.Grants(required) {
		return ErrForbidden
	}
	return nil
}
