// seed inserts development users and roles for local testing. Run after cmd/migrate.
// Idempotent: existing users, roles, grants and assignments are left as they are.
package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"access-core/internal/config"
	"access-core/internal/db"
	"access-core/internal/logging"
	rbacrepo "access-core/internal/rbac/repository"
	rbacservice "access-core/internal/rbac/service"
	"access-core/internal/security"
	userdomain "access-core/internal/user/domain"
	userrepo "access-core/internal/user/repository"
)

const (
	devPassword  = "password123"
	seedActor    = "seed"
	seedDeadline = 30 * time.Second
)

type roleDef struct {
	name   string
	system bool
	grants [][2]string
}

var roles = []roleDef{
	{name: "admin", system: true, grants: [][2]string{
		{"documents", "read"}, {"documents", "write"}, {"documents", "delete"}, {"documents", "manage"},
		{"users", "manage"}, {"health", "read"},
	}},
	{name: "viewer", grants: [][2]string{{"documents", "read"}}},
}

type userDef struct {
	id, email, name, role string
}

var users = []userDef{
	{id: "dev-user-001", email: "dev@example.com", name: "Dev User", role: "admin"},
	{id: "dev-user-002", email: "member@example.com", name: "Member User", role: "viewer"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env or set DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), seedDeadline)
	defer cancel()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("db")
	}
	defer conn.Close()

	resolver := rbacservice.NewResolver(rbacrepo.NewPostgresRepository(conn), rbacservice.WithLogger(log))
	if err := seed(ctx, userrepo.NewPostgresRepository(conn), resolver, security.NewHasher(cfg.BcryptCost), log); err != nil {
		log.WithError(err).Fatal("seed")
	}
	log.Info("seed completed")
	for _, u := range users {
		fmt.Printf("%s login: %s / %s\n", u.role, u.email, devPassword)
	}
}

func seed(ctx context.Context, repo userrepo.Repository, resolver *rbacservice.Resolver, hasher *security.Hasher, log logrus.FieldLogger) error {
	for _, r := range roles {
		if _, err := resolver.CreateRole(ctx, r.name, r.system); err != nil && !errors.Is(err, rbacrepo.ErrRoleExists) {
			return fmt.Errorf("create role %s: %w", r.name, err)
		}
		for _, g := range r.grants {
			if _, err := resolver.GrantPermission(ctx, r.name, g[0], g[1]); err != nil {
				return fmt.Errorf("grant %s:%s to %s: %w", g[0], g[1], r.name, err)
			}
		}
	}

	hash, err := hasher.Hash(devPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	for _, def := range users {
		existing, err := repo.GetByEmail(ctx, def.email)
		if err != nil {
			return fmt.Errorf("lookup %s: %w", def.email, err)
		}
		id := def.id
		if existing != nil {
			id = existing.ID
			log.WithField("email", def.email).Info("user exists; skipping create")
		} else if err := repo.Create(ctx, &userdomain.User{
			ID:           def.id,
			Email:        def.email,
			Name:         def.name,
			PasswordHash: hash,
			Status:       userdomain.UserStatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		}); err != nil {
			return fmt.Errorf("create user %s: %w", def.email, err)
		}
		if _, err := resolver.AssignRole(ctx, id, def.role, seedActor); err != nil {
			return fmt.Errorf("assign %s to %s: %w", def.role, def.email, err)
		}
	}
	return nil
}
