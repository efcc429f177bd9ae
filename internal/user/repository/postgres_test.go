package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"access-core/internal/user/domain"
)

func TestPostgresRepository_GetByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepository(db)
	now := time.Now()

	mock.ExpectQuery("FROM users WHERE email = \\$1").WithArgs("a@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "password_hash", "status", "created_at", "updated_at"}).
			AddRow("u1", "a@example.com", nil, "$2a$hash", "active", now, now))
	mock.ExpectQuery("FROM users WHERE email = \\$1").WithArgs("b@example.com").WillReturnError(sql.ErrNoRows)

	u, err := repo.GetByEmail(context.Background(), "a@example.com")
	if err != nil || u == nil {
		t.Fatalf("GetByEmail = %v, %v", u, err)
	}
	if u.ID != "u1" || !u.Active() || u.PasswordHash != "$2a$hash" || u.Name != "" {
		t.Errorf("unexpected user %+v", u)
	}
	u, err = repo.GetByEmail(context.Background(), "b@example.com")
	if err != nil || u != nil {
		t.Fatalf("missing user = %v, %v; want nil, nil", u, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepository(db)
	now := time.Now()

	mock.ExpectExec("INSERT INTO users").
		WithArgs("u1", "a@example.com", sql.NullString{String: "Ann", Valid: true}, "hash", "active", now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = repo.Create(context.Background(), &domain.User{ID: "u1", Email: "a@example.com", Name: "Ann", PasswordHash: "hash", CreatedAt: now, UpdatedAt: now})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(context.Background(), &domain.User{ID: "u2"}); err == nil {
		t.Error("Create without email should fail validation")
	}
}

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	if err := repo.Create(ctx, &domain.User{ID: "u1", Email: "a@example.com"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, &domain.User{ID: "u2", Email: "a@example.com"}); err != ErrEmailTaken {
		t.Errorf("duplicate email: want ErrEmailTaken, got %v", err)
	}
	_ = repo.SetStatus(ctx, "u1", domain.UserStatusDisabled)
	u, _ := repo.GetByEmail(ctx, "a@example.com")
	if u == nil || u.Active() {
		t.Errorf("user should be disabled: %+v", u)
	}
	if u, _ := repo.GetByID(ctx, "nope"); u != nil {
		t.Error("unknown id should be nil")
	}
}
