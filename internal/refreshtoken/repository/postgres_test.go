package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"access-core/internal/refreshtoken/domain"
)

var recordColumns = []string{"id", "subject_id", "token_hash", "issued_at", "expires_at", "revoked_at", "device", "parent_id"}

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

func TestPostgresRepository_FindByHash(t *testing.T) {
	repo, mock := newMockRepo(t)
	issued := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	revoked := issued.Add(time.Hour)
	mock.ExpectQuery("SELECT id, subject_id, token_hash.*FROM refresh_tokens WHERE token_hash = \\$1").
		WithArgs("h1").
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("r1", "u1", "h1", issued, issued.Add(24*time.Hour), revoked, "cli", "r0"))

	rec, err := repo.FindByHash(context.Background(), "h1")
	if err != nil {
		t.Fatalf("FindByHash: %v", err)
	}
	if rec == nil || rec.ID != "r1" || rec.SubjectID != "u1" || rec.Device != "cli" || rec.ParentID != "r0" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.RevokedAt == nil || !rec.RevokedAt.Equal(revoked) {
		t.Errorf("RevokedAt = %v, want %v", rec.RevokedAt, revoked)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepository_FindByHash_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("FROM refresh_tokens").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	rec, err := repo.FindByHash(context.Background(), "missing")
	if err != nil || rec != nil {
		t.Fatalf("FindByHash missing = %v, %v; want nil, nil", rec, err)
	}
}

func TestPostgresRepository_FindByHash_DBError(t *testing.T) {
	repo, mock := newMockRepo(t)
	dbErr := errors.New("connection refused")
	mock.ExpectQuery("FROM refresh_tokens").WillReturnError(dbErr)

	if _, err := repo.FindByHash(context.Background(), "h"); !errors.Is(err, dbErr) {
		t.Fatalf("FindByHash error = %v, want %v", err, dbErr)
	}
}

func TestPostgresRepository_Insert(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	mock.ExpectExec("INSERT INTO refresh_tokens").
		WithArgs("r1", "u1", "h1", now, now.Add(time.Hour), sql.NullTime{}, sql.NullString{}, sql.NullString{String: "r0", Valid: true}).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Insert(context.Background(), &domain.Record{
		ID: "r1", SubjectID: "u1", TokenHash: "h1", IssuedAt: now, ExpiresAt: now.Add(time.Hour), ParentID: "r0",
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepository_Revoke(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"first revoke wins", 1, true},
		{"already revoked", 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			at := time.Now()
			mock.ExpectExec("UPDATE refresh_tokens SET revoked_at = \\$2 WHERE id = \\$1 AND revoked_at IS NULL").
				WithArgs("r1", at).
				WillReturnResult(sqlmock.NewResult(0, tc.affected))

			got, err := repo.Revoke(context.Background(), "r1", at)
			if err != nil {
				t.Fatalf("Revoke: %v", err)
			}
			if got != tc.want {
				t.Errorf("Revoke = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPostgresRepository_RevokeAllForSubject(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Now()
	mock.ExpectExec("UPDATE refresh_tokens SET revoked_at = \\$2 WHERE subject_id = \\$1 AND revoked_at IS NULL").
		WithArgs("u1", at).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.RevokeAllForSubject(context.Background(), "u1", at)
	if err != nil {
		t.Fatalf("RevokeAllForSubject: %v", err)
	}
	if n != 3 {
		t.Errorf("revoked = %d, want 3", n)
	}
}
