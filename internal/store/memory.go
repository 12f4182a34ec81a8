package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const memoryColumns = `id, user_id, memory_key, memory_value, confidence, created_at, updated_at`

// clampConfidence bounds a confidence score to [0, 1] at the write path, so
// no out-of-range value ever reaches a row.
func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// confidenceHysteresis is the margin a new fact must come within of the stored
// confidence before it replaces the stored value. A lower-confidence candidate
// outside the margin leaves the existing fact untouched, so values do not
// oscillate between near-equal extractions.
const confidenceHysteresis = 0.1

// UpsertMemory inserts a fact or updates it under the hysteresis rule: the new
// value wins only when its confidence is at least the stored confidence minus
// the margin. The returned memory is the row as stored after the operation,
// which may be the prior value when the update lost.
func (s *Store) UpsertMemory(ctx context.Context, userID uuid.UUID, key, value string, confidence float64) (*Memory, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	confidence = clampConfidence(confidence)

	const query = `
		INSERT INTO user_memory (user_id, memory_key, memory_value, confidence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, memory_key) DO UPDATE
		SET memory_value = EXCLUDED.memory_value,
		    confidence   = EXCLUDED.confidence,
		    updated_at   = now()
		WHERE EXCLUDED.confidence >= user_memory.confidence - $5`

	if _, err := s.db.Exec(ctx, query, userID, key, value, confidence, confidenceHysteresis); err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("upserting memory: %w", err)
	}

	// Re-read rather than RETURNING: a losing update touches no row, and the
	// caller still gets the surviving fact.
	return s.GetMemory(ctx, userID, key)
}

// GetMemory returns one fact by user and key.
func (s *Store) GetMemory(ctx context.Context, userID uuid.UUID, key string) (*Memory, error) {
	const query = `
		SELECT ` + memoryColumns + `
		FROM user_memory
		WHERE user_id = $1 AND memory_key = $2`

	var m Memory
	err := s.db.QueryRow(ctx, query, userID, key).Scan(
		&m.ID, &m.UserID, &m.Key, &m.Value, &m.Confidence, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, ErrMemoryNotFound)
	}
	return &m, nil
}

// TopMemories returns the user's n highest-confidence facts. Ordering is
// confidence descending, then key ascending, so equal-confidence results are
// deterministic.
func (s *Store) TopMemories(ctx context.Context, userID uuid.UUID, n int) ([]*Memory, error) {
	if n <= 0 {
		return nil, nil
	}
	const query = `
		SELECT ` + memoryColumns + `
		FROM user_memory
		WHERE user_id = $1
		ORDER BY confidence DESC, memory_key ASC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, userID, n)
	if err != nil {
		return nil, fmt.Errorf("loading memories: %w", err)
	}
	defer rows.Close()

	var memories []*Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(
			&m.ID, &m.UserID, &m.Key, &m.Value, &m.Confidence, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		memories = append(memories, &m)
	}
	return memories, rows.Err()
}

// ListMemories returns all facts for the user, ordered like TopMemories.
func (s *Store) ListMemories(ctx context.Context, userID uuid.UUID) ([]*Memory, error) {
	const query = `
		SELECT ` + memoryColumns + `
		FROM user_memory
		WHERE user_id = $1
		ORDER BY confidence DESC, memory_key ASC`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing memories: %w", err)
	}
	defer rows.Close()

	var memories []*Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(
			&m.ID, &m.UserID, &m.Key, &m.Value, &m.Confidence, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		memories = append(memories, &m)
	}
	return memories, rows.Err()
}

// DeleteMemory removes one fact. Deleting an absent key is a no-op.
func (s *Store) DeleteMemory(ctx context.Context, userID uuid.UUID, key string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM user_memory WHERE user_id = $1 AND memory_key = $2`, userID, key)
	if err != nil {
		return fmt.Errorf("deleting memory: %w", err)
	}
	return nil
}
