package repository

import (
	"context"
	"database/sql"

	"access-core/internal/audit/domain"
)

const (
	createAuditSQL = `INSERT INTO audit_logs (id, subject_id, action, resource, ip, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	listBySubjectSQL = `SELECT id, subject_id, action, resource, ip, metadata, created_at
FROM audit_logs WHERE subject_id = $1 ORDER BY created_at DESC LIMIT $2`
)

// PostgresRepository implements Repository using raw SQL on the audit_logs table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit repository that uses db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the audit log entry. The entry must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx, createAuditSQL,
		a.ID, a.SubjectID, a.Action, a.Resource, a.IP,
		sql.NullString{String: a.Metadata, Valid: a.Metadata != ""}, a.CreatedAt)
	return err
}

// ListBySubject returns the newest entries recorded for subjectID.
func (r *PostgresRepository) ListBySubject(ctx context.Context, subjectID string, limit int32) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, listBySubjectSQL, subjectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		var (
			a    domain.AuditLog
			meta sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.SubjectID, &a.Action, &a.Resource, &a.IP, &meta, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Metadata = meta.String
		out = append(out, &a)
	}
	return out, rows.Err()
}
