package repository

import (
	"context"
	"errors"

	"access-core/internal/rbac/domain"
)

// ErrRoleExists is returned by CreateRole when the name is taken.
var ErrRoleExists = errors.New("role already exists")

// Repository is the data collaborator of the RBAC resolver.
type Repository interface {
	// LoadSubjectGraph returns the roles held by subjectID and the permissions of those roles.
	LoadSubjectGraph(ctx context.Context, subjectID string) (*domain.SubjectGraph, error)
	// GetRoleByName returns the role or nil if not found. Names are case-sensitive.
	GetRoleByName(ctx context.Context, name string) (*domain.Role, error)
	ListRoles(ctx context.Context) ([]*domain.Role, error)
	CreateRole(ctx context.Context, r *domain.Role) error
	// GrantPermission attaches p to the role, creating the permission if needed. Idempotent.
	GrantPermission(ctx context.Context, roleID string, p domain.Permission) error
	// AssignRole links the subject to the role. It reports false when the link already existed.
	AssignRole(ctx context.Context, a *domain.RoleAssignment) (bool, error)
	// RevokeRole removes the link and reports false when there was none.
	RevokeRole(ctx context.Context, subjectID, roleID string) (bool, error)
}
