package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CreateUser inserts a new user. Email must be unique.
func (s *Store) CreateUser(ctx context.Context, email, name string) (*User, error) {
	const query = `
		INSERT INTO users (email, name)
		VALUES ($1, $2)
		RETURNING id, email, name, created_at, updated_at`

	var u User
	err := s.db.QueryRow(ctx, query, email, name).Scan(
		&u.ID, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEmail, email)
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return &u, nil
}

// GetUser returns the user by ID.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	const query = `
		SELECT id, email, name, created_at, updated_at
		FROM users
		WHERE id = $1`

	var u User
	err := s.db.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}
	return &u, nil
}

// GetUserByEmail returns the user with the given email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	const query = `
		SELECT id, email, name, created_at, updated_at
		FROM users
		WHERE email = $1`

	var u User
	err := s.db.QueryRow(ctx, query, email).Scan(
		&u.ID, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}
	return &u, nil
}
