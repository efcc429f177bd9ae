package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"access-core/internal/refreshtoken/domain"
)

const (
	findByHashSQL = `SELECT id, subject_id, token_hash, issued_at, expires_at, revoked_at, device, parent_id
FROM refresh_tokens WHERE token_hash = $1`
	insertSQL = `INSERT INTO refresh_tokens (id, subject_id, token_hash, issued_at, expires_at, revoked_at, device, parent_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	revokeSQL    = `UPDATE refresh_tokens SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`
	revokeAllSQL = `UPDATE refresh_tokens SET revoked_at = $2 WHERE subject_id = $1 AND revoked_at IS NULL`
)

// PostgresRepository stores refresh tokens in the refresh_tokens table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a refresh token repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindByHash returns the record for hash, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) FindByHash(ctx context.Context, hash string) (*domain.Record, error) {
	var (
		rec       domain.Record
		revokedAt sql.NullTime
		device    sql.NullString
		parentID  sql.NullString
	)
	err := r.db.QueryRowContext(ctx, findByHashSQL, hash).Scan(
		&rec.ID, &rec.SubjectID, &rec.TokenHash, &rec.IssuedAt, &rec.ExpiresAt, &revokedAt, &device, &parentID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.RevokedAt = nullTimeToPtr(revokedAt)
	rec.Device = device.String
	rec.ParentID = parentID.String
	return &rec, nil
}

// Insert persists rec. The record must have ID and TokenHash set.
func (r *PostgresRepository) Insert(ctx context.Context, rec *domain.Record) error {
	_, err := r.db.ExecContext(ctx, insertSQL,
		rec.ID, rec.SubjectID, rec.TokenHash, rec.IssuedAt, rec.ExpiresAt,
		timeToNullTime(rec.RevokedAt),
		sql.NullString{String: rec.Device, Valid: rec.Device != ""},
		sql.NullString{String: rec.ParentID, Valid: rec.ParentID != ""},
	)
	return err
}

// Revoke is a single conditional UPDATE; the row count decides which caller won.
func (r *PostgresRepository) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, revokeSQL, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RevokeAllForSubject revokes all unrevoked tokens for subjectID. Already revoked rows are untouched.
func (r *PostgresRepository) RevokeAllForSubject(ctx context.Context, subjectID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, revokeAllSQL, subjectID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
