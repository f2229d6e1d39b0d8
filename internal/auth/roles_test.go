package auth

import "testing"

func TestParseRole(t *testing.T) {
	if r, err := ParseRole("  Admin "); err != nil || r != RoleAdmin {
		t.Fatalf("ParseRole(Admin) = %v, %v", r, err)
	}
	if _, err := ParseRole("root"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestSuperAdminGrantsEverything(t *testing.T) {
	for _, required := range []Role{RoleSuperAdmin, RoleAdmin, RoleManager, RoleAgent} {
		if !RoleSuperAdmin.Grants(required) {
			t.Fatalf("superadmin should grant %s", required)
		}
	}
}

func TestPeerRolesDoNotGrantEachOther(t *testing.T) {
	if RoleAdmin.Grants(RoleManager) {
		t.Fatal("admin must not grant manager")
	}
	if RoleAgent.Grants(RoleAdmin) {
		t.Fatal("agent must not grant admin")
	}
	if !RoleManager.Grants(RoleManager) {
		t.Fatal("a role must grant itself")
	}
}

func TestRequire(t *testing.T) {
	admin := Identity{SubjectID: "u1", TenantID: "t1", Role: RoleAdmin}
	super := Identity{SubjectID: "u2", TenantID: "t1", Role: RoleSuperAdmin}

	if err := Require(admin, RoleAdmin); err != nil {
		t.Fatalf("admin vs admin: %v", err)
	}
	if err := Require(admin, RoleSuperAdmin); err != ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := Require(super, RoleAgent); err != nil {
		t.Fatalf("superadmin vs agent: %v", err)
	}
}
