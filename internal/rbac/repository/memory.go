package repository

import (
	"context"
	"sort"
	"sync"

	"access-core/internal/rbac/domain"
)

// MemoryRepository is an in-process Repository for development and tests.
type MemoryRepository struct {
	mu          sync.RWMutex
	roles       map[string]*domain.Role // by id
	byName      map[string]string       // name -> id
	grants      map[string]domain.PermissionSet
	assignments map[string]map[string]domain.RoleAssignment // subject -> role id -> assignment
}

// NewMemoryRepository returns an empty in-memory RBAC repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		roles:       make(map[string]*domain.Role),
		byName:      make(map[string]string),
		grants:      make(map[string]domain.PermissionSet),
		assignments: make(map[string]map[string]domain.RoleAssignment),
	}
}

func (m *MemoryRepository) LoadSubjectGraph(ctx context.Context, subjectID string) (*domain.SubjectGraph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g := &domain.SubjectGraph{Roles: map[string]string{}, Grants: map[string]domain.PermissionSet{}}
	for roleID := range m.assignments[subjectID] {
		role, ok := m.roles[roleID]
		if !ok {
			continue
		}
		g.Roles[roleID] = role.Name
		set := domain.PermissionSet{}
		set.Union(m.grants[roleID])
		g.Grants[roleID] = set
	}
	return g, nil
}

func (m *MemoryRepository) GetRoleByName(ctx context.Context, name string) (*domain.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byName[name]
	if !ok {
		return nil, nil
	}
	r := *m.roles[id]
	return &r, nil
}

func (m *MemoryRepository) ListRoles(ctx context.Context) ([]*domain.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Role, 0, len(m.roles))
	for _, r := range m.roles {
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryRepository) CreateRole(ctx context.Context, r *domain.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[r.Name]; ok {
		return ErrRoleExists
	}
	c := *r
	m.roles[r.ID] = &c
	m.byName[r.Name] = r.ID
	return nil
}

func (m *MemoryRepository) GrantPermission(ctx context.Context, roleID string, p domain.Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.grants[roleID]
	if !ok {
		set = domain.PermissionSet{}
		m.grants[roleID] = set
	}
	set[p] = struct{}{}
	return nil
}

func (m *MemoryRepository) AssignRole(ctx context.Context, a *domain.RoleAssignment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	held, ok := m.assignments[a.SubjectID]
	if !ok {
		held = make(map[string]domain.RoleAssignment)
		m.assignments[a.SubjectID] = held
	}
	if _, exists := held[a.RoleID]; exists {
		return false, nil
	}
	held[a.RoleID] = *a
	return true, nil
}

func (m *MemoryRepository) RevokeRole(ctx context.Context, subjectID, roleID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	held := m.assignments[subjectID]
	if _, ok := held[roleID]; !ok {
		return false, nil
	}
	delete(held, roleID)
	return true, nil
}
