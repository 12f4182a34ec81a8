package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const attachmentColumns = `id, message_id, file_name, content_type, size_bytes, content_hash, created_at`

// AddAttachment records file metadata for a message. The payload lives in the
// local spool under content_hash.
func (s *Store) AddAttachment(ctx context.Context, messageID uuid.UUID, fileName, contentType string, size int64, hash string) (*Attachment, error) {
	const query = `
		INSERT INTO file_attachments (message_id, file_name, content_type, size_bytes, content_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + attachmentColumns

	var a Attachment
	err := s.db.QueryRow(ctx, query, messageID, fileName, contentType, size, hash).Scan(
		&a.ID, &a.MessageID, &a.FileName, &a.ContentType, &a.SizeBytes, &a.ContentHash, &a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("adding attachment: %w", err)
	}
	return &a, nil
}

// MessageAttachments returns attachments for a message in insertion order.
func (s *Store) MessageAttachments(ctx context.Context, messageID uuid.UUID) ([]*Attachment, error) {
	const query = `
		SELECT ` + attachmentColumns + `
		FROM file_attachments
		WHERE message_id = $1
		ORDER BY created_at`

	rows, err := s.db.Query(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("loading attachments: %w", err)
	}
	defer rows.Close()

	var attachments []*Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(
			&a.ID, &a.MessageID, &a.FileName, &a.ContentType, &a.SizeBytes, &a.ContentHash, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning attachment: %w", err)
		}
		attachments = append(attachments, &a)
	}
	return attachments, rows.Err()
}
