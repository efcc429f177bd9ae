package repository

import (
	"context"

	"access-core/internal/audit/domain"
)

// Repository defines persistence for audit logs. Entries are append-only.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	ListBySubject(ctx context.Context, subjectID string, limit int32) ([]*domain.AuditLog, error)
}
