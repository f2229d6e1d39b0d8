// Package tenant implements the tenant-isolation data-access layer: it turns
// the shared database pool plus a tenant identifier into a Handle whose every
// operation is transparently scoped to that tenant.
//
// Two isolation strategies are supported. Schema-per-tenant gives strong
// physical isolation at the cost of session state (the active search_path),
// which is why a schema-scoped Handle pins one pooled connection for its
// whole lifetime. Field-per-tenant keeps all tenants in shared tables and
// injects a tenant_id predicate into every statement; it needs no session
// state and scales better with tenant count. The resolver is the only place
// this policy decision lives; code above it is mode-agnostic.
package tenant

import (
	"fmt"
	"strings"
)

// Mode selects the isolation strategy. It is read once at startup and is
// immutable for the process lifetime.
type Mode string

const (
	// ModeNone applies no scoping. Reserved for tenant-agnostic
	// maintenance operations.
	ModeNone Mode = "none"
	// ModeSchema switches the session search_path to the tenant's private
	// schema on a pinned connection.
	ModeSchema Mode = "schema"
	// ModeField injects tenant_id into every read and write predicate.
	ModeField Mode = "field"
)

// ParseMode validates a configured isolation mode string.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeNone:
		return ModeNone, nil
	case ModeSchema:
		return ModeSchema, nil
	case ModeField:
		return ModeField, nil
	default:
		return "", fmt.Errorf("%w: isolation mode %q", ErrBadMode, raw)
	}
}
