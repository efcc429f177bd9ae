// Package accesstest wires a Facade over in-memory stores for tests of the access edges.
package accesstest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"access-core/internal/access"
	"access-core/internal/audit"
	auditrepo "access-core/internal/audit/repository"
	rbacrepo "access-core/internal/rbac/repository"
	rbacservice "access-core/internal/rbac/service"
	"access-core/internal/ratelimit"
	refreshrepo "access-core/internal/refreshtoken/repository"
	"access-core/internal/security"
	tokenservice "access-core/internal/token/service"
	userdomain "access-core/internal/user/domain"
	userrepo "access-core/internal/user/repository"
)

// Epoch is the fixture clock's starting time.
var Epoch = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// Fixture bundles a Facade with the in-memory stores behind it.
type Fixture struct {
	Facade   *access.Facade
	Clock    *security.FixedClock
	Tokens   *tokenservice.Service
	Resolver *rbacservice.Resolver
	Users    *userrepo.MemoryRepository
	Refresh  *refreshrepo.MemoryRepository
	Audit    *auditrepo.MemoryRepository
	Limiter  *ratelimit.MemoryLimiter
	Hasher   *security.Hasher
}

// New returns a Fixture with the given default quota, roles "admin" (documents:manage,
// documents:read) and "viewer" (documents:read).
func New(t testing.TB, limit int, window time.Duration) *Fixture {
	t.Helper()
	clock := security.NewFixedClock(Epoch)
	provider, err := security.NewTestHMACTokenProvider(security.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("token provider: %v", err)
	}
	f := &Fixture{
		Clock:   clock,
		Users:   userrepo.NewMemoryRepository(),
		Refresh: refreshrepo.NewMemoryRepository(),
		Audit:   auditrepo.NewMemoryRepository(),
		Limiter: ratelimit.NewMemoryLimiter(clock.Now),
		Hasher:  security.NewHasher(4),
	}
	f.Tokens = tokenservice.NewService(provider, f.Refresh, tokenservice.Config{}, tokenservice.WithClock(clock.Now))
	f.Resolver = rbacservice.NewResolver(rbacrepo.NewMemoryRepository(), rbacservice.WithClock(clock.Now))
	f.Facade = access.New(f.Tokens, f.Resolver, f.Limiter, f.Users, f.Hasher,
		access.Config{RateLimit: limit, RateWindow: window},
		access.WithClock(clock.Now),
		access.WithAuditor(audit.NewLogger(f.Audit, audit.WithClock(clock.Now))),
	)

	ctx := context.Background()
	for role, grants := range map[string][]string{
		"admin":  {"manage", "read"},
		"viewer": {"read"},
	} {
		if _, err := f.Resolver.CreateRole(ctx, role, role == "admin"); err != nil {
			t.Fatalf("create role %s: %v", role, err)
		}
		for _, action := range grants {
			if _, err := f.Resolver.GrantPermission(ctx, role, "documents", action); err != nil {
				t.Fatalf("grant %s documents:%s: %v", role, action, err)
			}
		}
	}
	return f
}

// AddUser creates an active user with password and assigns roles. It returns the user id.
func (f *Fixture) AddUser(t testing.TB, email, password string, roles ...string) string {
	t.Helper()
	hash, err := f.Hasher.Hash(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &userdomain.User{
		ID:           uuid.NewString(),
		Email:        userdomain.NormalizeEmail(email),
		PasswordHash: hash,
		Status:       userdomain.UserStatusActive,
		CreatedAt:    f.Clock.Now(),
		UpdatedAt:    f.Clock.Now(),
	}
	ctx := context.Background()
	if err := f.Users.Create(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	for _, r := range roles {
		if ok, err := f.Resolver.AssignRole(ctx, u.ID, r, "fixture"); err != nil || !ok {
			t.Fatalf("assign %s: ok=%v err=%v", r, ok, err)
		}
	}
	return u.ID
}

// Actions returns the recorded audit actions in order.
func (f *Fixture) Actions() []string {
	var out []string
	for _, e := range f.Audit.All() {
		out = append(out, e.Action)
	}
	return out
}
