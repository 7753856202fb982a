package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetUser fetches a user by id.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	var u User
	err := r.pool.QueryRow(ctx, getUserSQL, id).Scan(&u.ID, &u.Username, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("users: get user: %w", err)
	}
	return u, nil
}

// Exists reports whether a user with id is known.
func (r *Repository) Exists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, userExistsSQL, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("users: exists: %w", err)
	}
	return ok, nil
}

// UpsertUser inserts the user or refreshes the username of an existing one.
func (r *Repository) UpsertUser(ctx context.Context, in RegisterInput) (User, error) {
	var u User
	if err := r.pool.QueryRow(ctx, upsertUserSQL, in.ID, in.Username).Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
		return User{}, fmt.Errorf("users: upsert user: %w", err)
	}
	return u, nil
}
