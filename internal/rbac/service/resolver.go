// Package service answers permission questions over the role graph.
package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"access-core/internal/apperr"
	"access-core/internal/logging"
	"access-core/internal/obs"
	"access-core/internal/rbac/domain"
	"access-core/internal/rbac/repository"
)

// Resolver computes roles and permissions of subjects. Reads have no side effects.
type Resolver struct {
	repo    repository.Repository
	now     func() time.Time
	log     logrus.FieldLogger
	metrics *obs.Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger for role assignment changes.
func WithLogger(l logrus.FieldLogger) Option { return func(r *Resolver) { r.log = l } }

// WithMetrics counts permission checks by outcome.
func WithMetrics(m *obs.Metrics) Option { return func(r *Resolver) { r.metrics = m } }

// WithClock sets the clock stamped on new roles and assignments.
func WithClock(now func() time.Time) Option { return func(r *Resolver) { r.now = now } }

// NewResolver returns a Resolver reading from repo.
func NewResolver(repo repository.Repository, opts ...Option) *Resolver {
	r := &Resolver{repo: repo, now: time.Now, log: logging.Discard()}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.WithField("component", "rbac")
	return r
}

func (r *Resolver) graph(ctx context.Context, subject string) (*domain.SubjectGraph, error) {
	if c := cacheFrom(ctx); c != nil {
		if g, ok := c.get(subject); ok {
			return g, nil
		}
	}
	g, err := r.repo.LoadSubjectGraph(ctx, subject)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	if c := cacheFrom(ctx); c != nil {
		c.put(subject, g)
	}
	return g, nil
}

// RolesFor returns the names of the roles subject holds.
func (r *Resolver) RolesFor(ctx context.Context, subject string) (map[string]struct{}, error) {
	g, err := r.graph(ctx, subject)
	if err != nil {
		return nil, err
	}
	return g.RoleNames(), nil
}

// PermissionsFor returns the union of the permissions of every role subject holds.
func (r *Resolver) PermissionsFor(ctx context.Context, subject string) (domain.PermissionSet, error) {
	g, err := r.graph(ctx, subject)
	if err != nil {
		return nil, err
	}
	return g.Permissions(), nil
}

// HasPermission reports whether subject holds exactly (resource, action). manage does not imply
// read, write or delete.
func (r *Resolver) HasPermission(ctx context.Context, subject, resource string, action domain.Action) (bool, error) {
	perms, err := r.PermissionsFor(ctx, subject)
	if err != nil {
		return false, err
	}
	ok := perms.Has(domain.Permission{Resource: resource, Action: action})
	r.metrics.AuthzCheck(ok)
	return ok, nil
}

// AssignRole gives roleName to subject. It returns false when the role does not exist and true
// when the subject holds the role afterwards, including when it already did.
func (r *Resolver) AssignRole(ctx context.Context, subject, roleName, assignedBy string) (bool, error) {
	role, err := r.repo.GetRoleByName(ctx, roleName)
	if err != nil {
		return false, apperr.Unavailable(err)
	}
	if role == nil {
		return false, nil
	}
	created, err := r.repo.AssignRole(ctx, &domain.RoleAssignment{
		SubjectID:  subject,
		RoleID:     role.ID,
		AssignedAt: r.now().UTC(),
		AssignedBy: assignedBy,
	})
	if err != nil {
		return false, apperr.Unavailable(err)
	}
	if created {
		r.log.WithFields(logrus.Fields{"subject": subject, "role": roleName, "assigned_by": assignedBy}).Info("role assigned")
	}
	invalidate(ctx, subject)
	return true, nil
}

// RevokeRole removes roleName from subject. It returns false when the subject did not hold it.
func (r *Resolver) RevokeRole(ctx context.Context, subject, roleName string) (bool, error) {
	role, err := r.repo.GetRoleByName(ctx, roleName)
	if err != nil {
		return false, apperr.Unavailable(err)
	}
	if role == nil {
		return false, nil
	}
	removed, err := r.repo.RevokeRole(ctx, subject, role.ID)
	if err != nil {
		return false, apperr.Unavailable(err)
	}
	if removed {
		r.log.WithFields(logrus.Fields{"subject": subject, "role": roleName}).Info("role revoked")
	}
	invalidate(ctx, subject)
	return removed, nil
}

// CreateRole creates a role. Names are case-sensitive; a taken name returns repository.ErrRoleExists.
func (r *Resolver) CreateRole(ctx context.Context, name string, isSystem bool) (*domain.Role, error) {
	role := &domain.Role{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(name),
		IsSystemRole: isSystem,
		CreatedAt:    r.now().UTC(),
	}
	if err := role.Validate(); err != nil {
		return nil, err
	}
	if err := r.repo.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// GrantPermission attaches (resource, action) to roleName. It returns false when the role does not exist.
func (r *Resolver) GrantPermission(ctx context.Context, roleName, resource, action string) (bool, error) {
	a, err := domain.ParseAction(action)
	if err != nil {
		return false, err
	}
	p := domain.Permission{Resource: strings.TrimSpace(resource), Action: a}
	if err := p.Validate(); err != nil {
		return false, err
	}
	role, err := r.repo.GetRoleByName(ctx, roleName)
	if err != nil {
		return false, apperr.Unavailable(err)
	}
	if role == nil {
		return false, nil
	}
	if err := r.repo.GrantPermission(ctx, role.ID, p); err != nil {
		return false, apperr.Unavailable(err)
	}
	return true, nil
}

// ListRoles returns every role ordered by name.
func (r *Resolver) ListRoles(ctx context.Context) ([]*domain.Role, error) {
	roles, err := r.repo.ListRoles(ctx)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return roles, nil
}

type cacheKey struct{}

// requestCache memoizes subject graphs for the life of one request.
type requestCache struct {
	mu     sync.Mutex
	graphs map[string]*domain.SubjectGraph
}

// WithCache returns a context that memoizes role graph lookups until the request ends.
func WithCache(ctx context.Context) context.Context {
	if cacheFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, cacheKey{}, &requestCache{graphs: map[string]*domain.SubjectGraph{}})
}

func cacheFrom(ctx context.Context) *requestCache {
	c, _ := ctx.Value(cacheKey{}).(*requestCache)
	return c
}

func (c *requestCache) get(subject string) (*domain.SubjectGraph, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.graphs[subject]
	return g, ok
}

func (c *requestCache) put(subject string, g *domain.SubjectGraph) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.graphs[subject] = g
}

func invalidate(ctx context.Context, subject string) {
	if c := cacheFrom(ctx); c != nil {
		c.mu.Lock()
		delete(c.graphs, subject)
		c.mu.Unlock()
	}
}
