package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"access-core/internal/user/domain"
)

const (
	userColumns    = `id, email, name, password_hash, status, created_at, updated_at`
	getUserSQL     = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	getByEmailSQL  = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	createUserSQL  = `INSERT INTO users (` + userColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	setStatusSQL   = `UPDATE users SET status = $2, updated_at = $3 WHERE id = $1`
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, getUserSQL, id))
}

// GetByEmail returns the user with the given email, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, getByEmailSQL, email))
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*domain.User, error) {
	var (
		u      domain.User
		name   sql.NullString
		status string
	)
	if err := row.Scan(&u.ID, &u.Email, &name, &u.PasswordHash, &status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Name = name.String
	u.Status = domain.UserStatus(status)
	return &u, nil
}

// Create persists the user to the database. The user must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, createUserSQL,
		u.ID, u.Email, sql.NullString{String: u.Name, Valid: u.Name != ""}, u.PasswordHash,
		string(u.Status), u.CreatedAt, u.UpdatedAt)
	return err
}

// SetStatus updates the user's status.
func (r *PostgresRepository) SetStatus(ctx context.Context, id string, status domain.UserStatus) error {
	_, err := r.db.ExecContext(ctx, setStatusSQL, id, string(status), time.Now().UTC())
	return err
}
