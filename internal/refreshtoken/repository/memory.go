package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"access-core/internal/refreshtoken/domain"
)

// ErrDuplicate is returned by MemoryRepository.Insert when the id or hash already exists.
var ErrDuplicate = errors.New("refresh token already exists")

// MemoryRepository is an in-process Repository for development and tests. A single mutex
// makes Revoke a check-and-set, matching the conditional UPDATE of the Postgres implementation.
type MemoryRepository struct {
	mu     sync.Mutex
	byID   map[string]*domain.Record
	byHash map[string]string
}

// NewMemoryRepository returns an empty in-memory refresh token repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]*domain.Record),
		byHash: make(map[string]string),
	}
}

// FindByHash returns a copy of the record for hash, or nil if not found.
func (m *MemoryRepository) FindByHash(ctx context.Context, hash string) (*domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byHash[hash]
	if !ok {
		return nil, nil
	}
	return copyRecord(m.byID[id]), nil
}

// Insert stores a copy of rec.
func (m *MemoryRepository) Insert(ctx context.Context, rec *domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[rec.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := m.byHash[rec.TokenHash]; ok {
		return ErrDuplicate
	}
	m.byID[rec.ID] = copyRecord(rec)
	m.byHash[rec.TokenHash] = rec.ID
	return nil
}

// Revoke marks the record revoked if it exists and is not revoked yet.
func (m *MemoryRepository) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok || rec.RevokedAt != nil {
		return false, nil
	}
	rec.RevokedAt = &at
	return true, nil
}

// RevokeAllForSubject revokes every active record of subjectID.
func (m *MemoryRepository) RevokeAllForSubject(ctx context.Context, subjectID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, rec := range m.byID {
		if rec.SubjectID == subjectID && rec.RevokedAt == nil {
			t := at
			rec.RevokedAt = &t
			n++
		}
	}
	return n, nil
}

func copyRecord(r *domain.Record) *domain.Record {
	c := *r
	if r.RevokedAt != nil {
		t := *r.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}
