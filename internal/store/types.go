// Package store persists users, chat sessions, messages, long-term memory,
// attachments, and suggested questions in PostgreSQL.
//
// All methods take raw SQL to a pgx pool; multi-statement operations run in
// transactions. The store performs no provider calls and knows nothing about
// prompt assembly.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Role values stored on messages. Mirrors the CHECK constraint on the table.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// User is an account owning sessions and memory.
type User struct {
	ID        uuid.UUID
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session is one conversation thread pinned to a provider/model pair.
type Session struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Title         string
	ModelProvider string
	ModelName     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Message is one turn entry within a session. SequenceNumber is assigned by
// the store and is contiguous per session.
type Message struct {
	ID             uuid.UUID
	SessionID      uuid.UUID
	Role           string
	Content        string
	Reasoning      string // model thinking trace, empty when absent
	ModelProvider  string // attribution, empty for user messages
	ModelName      string
	TokensUsed     int // 0 when the provider did not report usage
	SequenceNumber int
	CreatedAt      time.Time
}

// Memory is one persistent fact about a user, keyed for upsert.
// Confidence is always within [0, 1].
type Memory struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Key        string
	Value      string
	Confidence float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Attachment is file metadata tied to a message. The payload itself lives in
// the local spool, addressed by content hash.
type Attachment struct {
	ID          uuid.UUID
	MessageID   uuid.UUID
	FileName    string
	ContentType string
	SizeBytes   int64
	ContentHash string
	CreatedAt   time.Time
}

// Suggestion is an AI-proposed follow-up question for a session.
// Used never transitions back to false once set.
type Suggestion struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Question  string
	Relevance float64
	Used      bool
	CreatedAt time.Time
}
