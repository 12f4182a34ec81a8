package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const suggestionColumns = `id, session_id, question, relevance_score, used, created_at`

// NewSuggestion is the input shape for recording a follow-up question.
type NewSuggestion struct {
	Question  string
	Relevance float64
}

// ReplaceSuggestions records a fresh batch of follow-up questions for the
// session, discarding previous unused ones. Questions duplicating an existing
// unused suggestion (exact text match) are skipped; relevance is floored at
// zero. Used suggestions are kept for history.
func (s *Store) ReplaceSuggestions(ctx context.Context, sessionID uuid.UUID, batch []NewSuggestion) ([]*Suggestion, error) {
	var out []*Suggestion
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`DELETE FROM suggested_questions WHERE session_id = $1 AND used = FALSE`, sessionID)
		if err != nil {
			return fmt.Errorf("clearing stale suggestions: %w", err)
		}

		const insert = `
			INSERT INTO suggested_questions (session_id, question, relevance_score)
			SELECT $1, $2, $3
			WHERE NOT EXISTS (
				SELECT 1 FROM suggested_questions
				WHERE session_id = $1 AND question = $2 AND used = FALSE
			)
			RETURNING ` + suggestionColumns

		for _, ns := range batch {
			rel := ns.Relevance
			if rel < 0 {
				rel = 0
			}
			var sg Suggestion
			err := tx.QueryRow(ctx, insert, sessionID, ns.Question, rel).Scan(
				&sg.ID, &sg.SessionID, &sg.Question, &sg.Relevance, &sg.Used, &sg.CreatedAt,
			)
			if errors.Is(err, pgx.ErrNoRows) {
				continue // duplicate text, skipped
			}
			if err != nil {
				return fmt.Errorf("inserting suggestion: %w", err)
			}
			out = append(out, &sg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SessionSuggestions returns the session's unused suggestions by descending
// relevance, then question text for determinism.
func (s *Store) SessionSuggestions(ctx context.Context, sessionID uuid.UUID) ([]*Suggestion, error) {
	const query = `
		SELECT ` + suggestionColumns + `
		FROM suggested_questions
		WHERE session_id = $1 AND used = FALSE
		ORDER BY relevance_score DESC, question ASC`

	rows, err := s.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading suggestions: %w", err)
	}
	defer rows.Close()

	var suggestions []*Suggestion
	for rows.Next() {
		var sg Suggestion
		if err := rows.Scan(
			&sg.ID, &sg.SessionID, &sg.Question, &sg.Relevance, &sg.Used, &sg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning suggestion: %w", err)
		}
		suggestions = append(suggestions, &sg)
	}
	return suggestions, rows.Err()
}

// MarkSuggestionUsed flags the suggestion as consumed. The flag never
// transitions back; marking an already-used suggestion is a no-op.
func (s *Store) MarkSuggestionUsed(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE suggested_questions SET used = TRUE WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("marking suggestion used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSuggestionNotFound
	}
	return nil
}
