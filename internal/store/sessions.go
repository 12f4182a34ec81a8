package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const sessionColumns = `id, user_id, title, model_provider, model_name, created_at, updated_at`

// CreateSession starts a new conversation thread for the user.
func (s *Store) CreateSession(ctx context.Context, userID uuid.UUID, title, provider, model string) (*Session, error) {
	const query = `
		INSERT INTO chat_sessions (user_id, title, model_provider, model_name)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + sessionColumns

	var sess Session
	err := s.db.QueryRow(ctx, query, userID, title, provider, model).Scan(
		&sess.ID, &sess.UserID, &sess.Title, &sess.ModelProvider, &sess.ModelName,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return &sess, nil
}

// GetSession returns the session by ID.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE id = $1`

	var sess Session
	err := s.db.QueryRow(ctx, query, id).Scan(
		&sess.ID, &sess.UserID, &sess.Title, &sess.ModelProvider, &sess.ModelName,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, ErrSessionNotFound)
	}
	return &sess, nil
}

// ListSessions returns the user's sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context, userID uuid.UUID, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT ` + sessionColumns + `
		FROM chat_sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(
			&sess.ID, &sess.UserID, &sess.Title, &sess.ModelProvider, &sess.ModelName,
			&sess.CreatedAt, &sess.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// UpdateSessionTitle renames the session.
func (s *Store) UpdateSessionTitle(ctx context.Context, id uuid.UUID, title string) error {
	const query = `
		UPDATE chat_sessions
		SET title = $2, updated_at = now()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id, title)
	if err != nil {
		return fmt.Errorf("updating session title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// UpdateSessionModel repins the session to a new provider/model pair.
// Existing messages are unaffected; later turns use the new pair.
func (s *Store) UpdateSessionModel(ctx context.Context, id uuid.UUID, provider, model string) error {
	const query = `
		UPDATE chat_sessions
		SET model_provider = $2, model_name = $3, updated_at = now()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id, provider, model)
	if err != nil {
		return fmt.Errorf("updating session model: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteSession removes the session and, via cascade, its messages,
// attachments, and suggestions.
func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM chat_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}
