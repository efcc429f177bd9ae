package repository

import (
	"context"
	"sync"

	"access-core/internal/audit/domain"
)

// MemoryRepository keeps audit entries in process. Used when no database is configured.
type MemoryRepository struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *a)
	return nil
}

func (m *MemoryRepository) ListBySubject(ctx context.Context, subjectID string, limit int32) ([]*domain.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.AuditLog
	for i := len(m.entries) - 1; i >= 0 && (limit <= 0 || int32(len(out)) < limit); i-- {
		if m.entries[i].SubjectID == subjectID {
			c := m.entries[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

// All returns a copy of every entry in insertion order.
func (m *MemoryRepository) All() []domain.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditLog(nil), m.entries...)
}
