package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/prism-chat/prism/internal/store"
)

// Wire representations. Storage types stay tag free; the API owns its own
// field names so the JSON contract cannot drift with schema changes.

type userResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *store.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name, CreatedAt: u.CreatedAt}
}

type sessionResponse struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toSessionResponse(s *store.Session) sessionResponse {
	return sessionResponse{
		ID:        s.ID,
		UserID:    s.UserID,
		Title:     s.Title,
		Provider:  s.ModelProvider,
		Model:     s.ModelName,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

type messageResponse struct {
	ID             uuid.UUID `json:"id"`
	SessionID      uuid.UUID `json:"session_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Reasoning      string    `json:"reasoning,omitempty"`
	Provider       string    `json:"provider,omitempty"`
	Model          string    `json:"model,omitempty"`
	TokensUsed     int       `json:"tokens_used,omitempty"`
	SequenceNumber int       `json:"sequence_number"`
	CreatedAt      time.Time `json:"created_at"`
}

func toMessageResponse(m *store.Message) messageResponse {
	return messageResponse{
		ID:             m.ID,
		SessionID:      m.SessionID,
		Role:           m.Role,
		Content:        m.Content,
		Reasoning:      m.Reasoning,
		Provider:       m.ModelProvider,
		Model:          m.ModelName,
		TokensUsed:     m.TokensUsed,
		SequenceNumber: m.SequenceNumber,
		CreatedAt:      m.CreatedAt,
	}
}

type memoryResponse struct {
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toMemoryResponse(m *store.Memory) memoryResponse {
	return memoryResponse{Key: m.Key, Value: m.Value, Confidence: m.Confidence, UpdatedAt: m.UpdatedAt}
}

type suggestionResponse struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Question  string    `json:"question"`
	Relevance float64   `json:"relevance"`
	Used      bool      `json:"used"`
}

func toSuggestionResponse(s *store.Suggestion) suggestionResponse {
	return suggestionResponse{
		ID:        s.ID,
		SessionID: s.SessionID,
		Question:  s.Question,
		Relevance: s.Relevance,
		Used:      s.Used,
	}
}

type providerResponse struct {
	Name   string   `json:"name"`
	Models []string `json:"models"`
}
