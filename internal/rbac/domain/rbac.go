package domain

import (
	"errors"
	"strings"
	"time"
)

// Action is what a permission allows on a resource.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
	ActionManage Action = "manage"
)

var (
	ErrInvalidAction   = errors.New("action must be one of read, write, delete, manage")
	ErrInvalidResource = errors.New("resource is required")
	ErrInvalidRoleName = errors.New("role name is required")
)

// ParseAction returns the Action for s or ErrInvalidAction. Matching is exact.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionRead, ActionWrite, ActionDelete, ActionManage:
		return a, nil
	}
	return "", ErrInvalidAction
}

// Role is a named set of permissions. Names are case-sensitive unique keys.
type Role struct {
	ID           string
	Name         string
	IsSystemRole bool
	CreatedAt    time.Time
}

// Validate checks the role before persistence.
func (r *Role) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrInvalidRoleName
	}
	return nil
}

// Permission is a (resource, action) pair. The pair is unique.
type Permission struct {
	Resource string
	Action   Action
}

// Validate checks the permission before persistence.
func (p Permission) Validate() error {
	if strings.TrimSpace(p.Resource) == "" {
		return ErrInvalidResource
	}
	_, err := ParseAction(string(p.Action))
	return err
}

func (p Permission) String() string { return p.Resource + ":" + string(p.Action) }

// RoleAssignment links a subject to a role.
type RoleAssignment struct {
	SubjectID  string
	RoleID     string
	AssignedAt time.Time
	AssignedBy string // empty when assigned by the system
}

// RolePermission links a role to a permission.
type RolePermission struct {
	RoleID     string
	Permission Permission
}

// PermissionSet is a set of permissions; duplicates collapse.
type PermissionSet map[Permission]struct{}

// Has reports exact membership. No action implies another.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Union adds every permission of other to s.
func (s PermissionSet) Union(other PermissionSet) {
	for p := range other {
		s[p] = struct{}{}
	}
}

// SubjectGraph is a snapshot of the role graph reachable from one subject, as plain maps.
type SubjectGraph struct {
	// Roles maps role id to role name for the roles the subject holds.
	Roles map[string]string
	// Grants maps role id to the permissions attached to that role.
	Grants map[string]PermissionSet
}

// RoleNames returns the set of role names held by the subject.
func (g *SubjectGraph) RoleNames() map[string]struct{} {
	out := make(map[string]struct{}, len(g.Roles))
	for _, name := range g.Roles {
		out[name] = struct{}{}
	}
	return out
}

// Permissions returns the union of the permissions of every role in the graph.
func (g *SubjectGraph) Permissions() PermissionSet {
	out := make(PermissionSet)
	for roleID := range g.Roles {
		out.Union(g.Grants[roleID])
	}
	return out
}
