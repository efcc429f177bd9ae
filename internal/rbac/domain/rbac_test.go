package domain

import "testing"

func TestParseAction(t *testing.T) {
	for _, s := range []string{"read", "write", "delete", "manage"} {
		if a, err := ParseAction(s); err != nil || string(a) != s {
			t.Errorf("ParseAction(%q) = %q, %v", s, a, err)
		}
	}
	for _, s := range []string{"", "READ", "admin", "*"} {
		if _, err := ParseAction(s); err != ErrInvalidAction {
			t.Errorf("ParseAction(%q): want ErrInvalidAction, got %v", s, err)
		}
	}
}

func TestSubjectGraph_Union(t *testing.T) {
	read := Permission{"documents", ActionRead}
	manage := Permission{"documents", ActionManage}
	users := Permission{"users", ActionManage}
	g := &SubjectGraph{
		Roles: map[string]string{"r-admin": "admin", "r-viewer": "viewer"},
		Grants: map[string]PermissionSet{
			"r-admin":  {manage: {}, read: {}, users: {}},
			"r-viewer": {read: {}},
			"r-other":  {{"billing", ActionRead}: {}},
		},
	}
	perms := g.Permissions()
	if len(perms) != 3 {
		t.Fatalf("len(perms) = %d, want 3 (duplicates collapse, unheld roles ignored)", len(perms))
	}
	if !perms.Has(read) || !perms.Has(manage) || !perms.Has(users) {
		t.Errorf("perms = %v", perms)
	}
	names := g.RoleNames()
	if _, ok := names["admin"]; !ok || len(names) != 2 {
		t.Errorf("RoleNames = %v", names)
	}
}

func TestPermissionSet_NoSubsumption(t *testing.T) {
	s := PermissionSet{{"documents", ActionManage}: {}}
	if s.Has(Permission{"documents", ActionRead}) {
		t.Error("manage must not imply read")
	}
}

func TestValidate(t *testing.T) {
	if err := (Permission{"", ActionRead}).Validate(); err != ErrInvalidResource {
		t.Errorf("empty resource: %v", err)
	}
	if err := (Permission{"documents", "own"}).Validate(); err != ErrInvalidAction {
		t.Errorf("bad action: %v", err)
	}
	if err := (&Role{Name: "  "}).Validate(); err != ErrInvalidRoleName {
		t.Errorf("blank role: %v", err)
	}
}
