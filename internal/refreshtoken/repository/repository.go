package repository

import (
	"context"
	"time"

	"access-core/internal/refreshtoken/domain"
)

// Repository is the only place refresh token state is persisted.
type Repository interface {
	// FindByHash returns the record with the given token hash, or nil if none exists.
	FindByHash(ctx context.Context, hash string) (*domain.Record, error)
	Insert(ctx context.Context, r *domain.Record) error
	// Revoke sets revoked_at on the record if it is not already revoked. It reports false when
	// the record was already revoked or does not exist, so concurrent rotations have one winner.
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	// RevokeAllForSubject revokes every unrevoked record of subject and returns how many changed.
	RevokeAllForSubject(ctx context.Context, subjectID string, at time.Time) (int64, error)
}
