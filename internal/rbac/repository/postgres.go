package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"access-core/internal/rbac/domain"
)

const (
	subjectGraphSQL = `SELECT r.id, r.name, p.resource, p.action
FROM user_roles ur
JOIN roles r ON r.id = ur.role_id
LEFT JOIN role_permissions rp ON rp.role_id = r.id
LEFT JOIN permissions p ON p.id = rp.permission_id
WHERE ur.user_id = $1`
	roleByNameSQL    = `SELECT id, name, is_system_role, created_at FROM roles WHERE name = $1`
	listRolesSQL     = `SELECT id, name, is_system_role, created_at FROM roles ORDER BY name`
	createRoleSQL    = `INSERT INTO roles (id, name, is_system_role, created_at) VALUES ($1, $2, $3, $4)`
	upsertPermSQL    = `INSERT INTO permissions (id, resource, action) VALUES ($1, $2, $3) ON CONFLICT (resource, action) DO NOTHING`
	grantSQL         = `INSERT INTO role_permissions (role_id, permission_id)
SELECT $1, id FROM permissions WHERE resource = $2 AND action = $3
ON CONFLICT DO NOTHING`
	assignRoleSQL = `INSERT INTO user_roles (user_id, role_id, assigned_at, assigned_by) VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, role_id) DO NOTHING`
	revokeRoleSQL = `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`
)

const uniqueViolation = "23505"

// PostgresRepository reads and writes the roles, permissions, role_permissions and user_roles tables.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an RBAC repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// LoadSubjectGraph reads the subject's roles and their permissions in one query.
func (r *PostgresRepository) LoadSubjectGraph(ctx context.Context, subjectID string) (*domain.SubjectGraph, error) {
	rows, err := r.db.QueryContext(ctx, subjectGraphSQL, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	g := &domain.SubjectGraph{Roles: map[string]string{}, Grants: map[string]domain.PermissionSet{}}
	for rows.Next() {
		var (
			roleID, roleName string
			resource, action sql.NullString
		)
		if err := rows.Scan(&roleID, &roleName, &resource, &action); err != nil {
			return nil, err
		}
		g.Roles[roleID] = roleName
		if !resource.Valid || !action.Valid {
			continue
		}
		set, ok := g.Grants[roleID]
		if !ok {
			set = domain.PermissionSet{}
			g.Grants[roleID] = set
		}
		set[domain.Permission{Resource: resource.String, Action: domain.Action(action.String)}] = struct{}{}
	}
	return g, rows.Err()
}

// GetRoleByName returns the role for name, or nil if not found.
func (r *PostgresRepository) GetRoleByName(ctx context.Context, name string) (*domain.Role, error) {
	var role domain.Role
	err := r.db.QueryRowContext(ctx, roleByNameSQL, name).Scan(&role.ID, &role.Name, &role.IsSystemRole, &role.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &role, nil
}

// ListRoles returns all roles ordered by name.
func (r *PostgresRepository) ListRoles(ctx context.Context) ([]*domain.Role, error) {
	rows, err := r.db.QueryContext(ctx, listRolesSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Role
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.IsSystemRole, &role.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &role)
	}
	return out, rows.Err()
}

// CreateRole inserts the role. A duplicate name returns ErrRoleExists.
func (r *PostgresRepository) CreateRole(ctx context.Context, role *domain.Role) error {
	_, err := r.db.ExecContext(ctx, createRoleSQL, role.ID, role.Name, role.IsSystemRole, role.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrRoleExists
	}
	return err
}

// GrantPermission upserts the permission and links it to the role in one transaction.
func (r *PostgresRepository) GrantPermission(ctx context.Context, roleID string, p domain.Permission) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, upsertPermSQL, uuid.NewString(), p.Resource, string(p.Action)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, grantSQL, roleID, p.Resource, string(p.Action)); err != nil {
		return err
	}
	return tx.Commit()
}

// AssignRole inserts the assignment unless it already exists.
func (r *PostgresRepository) AssignRole(ctx context.Context, a *domain.RoleAssignment) (bool, error) {
	res, err := r.db.ExecContext(ctx, assignRoleSQL, a.SubjectID, a.RoleID, a.AssignedAt,
		sql.NullString{String: a.AssignedBy, Valid: a.AssignedBy != ""})
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// RevokeRole deletes the assignment.
func (r *PostgresRepository) RevokeRole(ctx context.Context, subjectID, roleID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, revokeRoleSQL, subjectID, roleID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
