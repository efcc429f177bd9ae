package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"access-core/internal/rbac/domain"
)

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

func TestPostgresRepository_LoadSubjectGraph(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("FROM user_roles ur").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "resource", "action"}).
			AddRow("r-admin", "admin", "documents", "manage").
			AddRow("r-admin", "admin", "documents", "read").
			AddRow("r-viewer", "viewer", "documents", "read").
			AddRow("r-empty", "empty", nil, nil))

	g, err := repo.LoadSubjectGraph(context.Background(), "u1")
	if err != nil {
		t.Fatalf("LoadSubjectGraph: %v", err)
	}
	if len(g.Roles) != 3 {
		t.Fatalf("roles = %v, want 3", g.Roles)
	}
	if len(g.Grants["r-admin"]) != 2 || len(g.Grants["r-viewer"]) != 1 {
		t.Errorf("grants = %v", g.Grants)
	}
	if len(g.Grants["r-empty"]) != 0 {
		t.Errorf("role without permissions should have no grants, got %v", g.Grants["r-empty"])
	}
	if perms := g.Permissions(); len(perms) != 2 {
		t.Errorf("union = %v, want 2 permissions", perms)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepository_GetRoleByName(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()
	mock.ExpectQuery("FROM roles WHERE name = \\$1").WithArgs("admin").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "is_system_role", "created_at"}).AddRow("r1", "admin", true, now))
	mock.ExpectQuery("FROM roles WHERE name = \\$1").WithArgs("Admin").WillReturnError(sql.ErrNoRows)

	role, err := repo.GetRoleByName(context.Background(), "admin")
	if err != nil || role == nil || role.ID != "r1" || !role.IsSystemRole {
		t.Fatalf("GetRoleByName = %+v, %v", role, err)
	}
	role, err = repo.GetRoleByName(context.Background(), "Admin")
	if err != nil || role != nil {
		t.Fatalf("case mismatch should be not found, got %+v, %v", role, err)
	}
}

func TestPostgresRepository_CreateRoleDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("INSERT INTO roles").WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.CreateRole(context.Background(), &domain.Role{ID: "r1", Name: "admin"})
	if !errors.Is(err, ErrRoleExists) {
		t.Fatalf("CreateRole duplicate: want ErrRoleExists, got %v", err)
	}
}

func TestPostgresRepository_GrantPermission(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO permissions").WithArgs(sqlmock.AnyArg(), "documents", "read").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO role_permissions").WithArgs("r1", "documents", "read").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.GrantPermission(context.Background(), "r1", domain.Permission{Resource: "documents", Action: domain.ActionRead}); err != nil {
		t.Fatalf("GrantPermission: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepository_GrantPermissionRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO permissions").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	if err := repo.GrantPermission(context.Background(), "r1", domain.Permission{Resource: "documents", Action: domain.ActionRead}); err == nil {
		t.Fatal("GrantPermission should fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepository_AssignAndRevoke(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Now()
	mock.ExpectExec("INSERT INTO user_roles").
		WithArgs("u1", "r1", at, sql.NullString{String: "admin-1", Valid: true}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO user_roles").
		WithArgs("u1", "r1", at, sql.NullString{}).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM user_roles").WithArgs("u1", "r1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM user_roles").WithArgs("u1", "r1").WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	if ok, err := repo.AssignRole(ctx, &domain.RoleAssignment{SubjectID: "u1", RoleID: "r1", AssignedAt: at, AssignedBy: "admin-1"}); err != nil || !ok {
		t.Fatalf("first AssignRole = %v, %v", ok, err)
	}
	if ok, err := repo.AssignRole(ctx, &domain.RoleAssignment{SubjectID: "u1", RoleID: "r1", AssignedAt: at}); err != nil || ok {
		t.Fatalf("repeat AssignRole = %v, %v; want false, nil", ok, err)
	}
	if ok, err := repo.RevokeRole(ctx, "u1", "r1"); err != nil || !ok {
		t.Fatalf("RevokeRole = %v, %v", ok, err)
	}
	if ok, err := repo.RevokeRole(ctx, "u1", "r1"); err != nil || ok {
		t.Fatalf("repeat RevokeRole = %v, %v; want false, nil", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
