package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const messageColumns = `id, session_id, role, content, reasoning, model_provider, model_name, tokens_used, sequence_number, created_at`

// NewMessage is the input shape for appending a message. The store assigns
// ID, sequence number, and timestamp.
type NewMessage struct {
	Role          string
	Content       string
	Reasoning     string
	ModelProvider string
	ModelName     string
	TokensUsed    int
}

// AppendMessages appends messages to the session in order, atomically.
// The session row is locked for the duration so concurrent appends to the
// same session serialize and sequence numbers stay contiguous. Either all
// messages land or none do.
func (s *Store) AppendMessages(ctx context.Context, sessionID uuid.UUID, msgs ...NewMessage) ([]*Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	out := make([]*Message, 0, len(msgs))
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		// Lock the session row first; concurrent appends serialize here.
		var locked uuid.UUID
		err := tx.QueryRow(ctx,
			`SELECT id FROM chat_sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&locked)
		if err != nil {
			return notFound(err, ErrSessionNotFound)
		}

		var next int
		err = tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(sequence_number), 0) + 1
			FROM messages
			WHERE session_id = $1`, sessionID).Scan(&next)
		if err != nil {
			return fmt.Errorf("reading sequence number: %w", err)
		}

		const insert = `
			INSERT INTO messages (session_id, role, content, reasoning, model_provider, model_name, tokens_used, sequence_number)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING ` + messageColumns

		for i, nm := range msgs {
			var m Message
			err := tx.QueryRow(ctx, insert,
				sessionID, nm.Role, nm.Content, nm.Reasoning,
				nm.ModelProvider, nm.ModelName, nm.TokensUsed, next+i,
			).Scan(
				&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Reasoning,
				&m.ModelProvider, &m.ModelName,
				&m.TokensUsed, &m.SequenceNumber, &m.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("inserting message: %w", err)
			}
			out = append(out, &m)
		}

		_, err = tx.Exec(ctx, `UPDATE chat_sessions SET updated_at = now() WHERE id = $1`, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetMessages returns the session's messages ordered by sequence number.
func (s *Store) GetMessages(ctx context.Context, sessionID uuid.UUID) ([]*Message, error) {
	const query = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE session_id = $1
		ORDER BY sequence_number`

	rows, err := s.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Reasoning,
			&m.ModelProvider, &m.ModelName,
			&m.TokensUsed, &m.SequenceNumber, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// LastMessage returns the newest message in the session, or
// ErrMessageNotFound for an empty session.
func (s *Store) LastMessage(ctx context.Context, sessionID uuid.UUID) (*Message, error) {
	const query = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE session_id = $1
		ORDER BY sequence_number DESC
		LIMIT 1`

	var m Message
	err := s.db.QueryRow(ctx, query, sessionID).Scan(
		&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Reasoning,
		&m.ModelProvider, &m.ModelName,
		&m.TokensUsed, &m.SequenceNumber, &m.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err, ErrMessageNotFound)
	}
	return &m, nil
}

// CountMessages returns the number of messages in the session.
func (s *Store) CountMessages(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = $1`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}
