// Package suggest generates follow-up questions for a conversation. Like
// memory extraction it runs after the turn is persisted, through the same
// provider client as chat, and its failures never fail the turn.
package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/prism-chat/prism/internal/log"
	"github.com/prism-chat/prism/internal/provider"
)

// DefaultCount is the number of suggestions requested per turn.
const DefaultCount = 3

// maxQuestionLength bounds a single suggested question.
const maxQuestionLength = 300

// maxResponseBytes limits LLM response size before JSON parsing.
const maxResponseBytes = 10 * 1024

// suggestionPrompt asks for follow-up questions the user might plausibly ask
// next. %d placeholder: count. %s placeholder: recent conversation.
const suggestionPrompt = `Given the conversation below, propose %d follow-up questions the user might naturally ask next.

Rules:
- Questions must be from the user's perspective, addressed to the assistant
- Each question must be self-contained and under 200 characters
- Score each question's relevance from 0.0 to 1.0
- Do not repeat questions already asked in the conversation

Output format: JSON array.
Example: [{"question": "How do goroutines differ from threads?", "relevance": 0.9}]

Conversation:
%s

Follow-up questions as JSON array:`

// Suggestion is one proposed follow-up question.
type Suggestion struct {
	Question  string  `json:"question"`
	Relevance float64 `json:"relevance"`
}

// Generator produces follow-up questions through a provider client.
type Generator struct {
	client provider.Client
	model  string
	count  int
	logger log.Logger
}

// NewGenerator builds a generator requesting count questions per call.
// A non-positive count falls back to DefaultCount.
func NewGenerator(client provider.Client, model string, count int, logger log.Logger) *Generator {
	if count <= 0 {
		count = DefaultCount
	}
	return &Generator{client: client, model: model, count: count, logger: logger}
}

// Generate proposes follow-up questions for the exchange. The result is
// deduplicated, bounded, and sorted by descending relevance, at most count
// entries.
func (g *Generator) Generate(ctx context.Context, userInput, assistantResponse string) ([]Suggestion, error) {
	conversation := "User: " + userInput + "\nAssistant: " + assistantResponse
	prompt := fmt.Sprintf(suggestionPrompt, g.count, conversation)

	resp, err := g.client.Complete(ctx, provider.Request{
		Model:    g.model,
		Messages: []provider.Message{provider.TextMessage(provider.RoleUser, prompt)},
	})
	if err != nil {
		return nil, fmt.Errorf("generating suggestions: %w", err)
	}

	return ParseSuggestions(resp.Content, g.count)
}

// ParseSuggestions validates the model's raw JSON output: deduplicates on
// exact question text, clamps relevance to [0, 1], and keeps the top count by
// relevance. Input order breaks ties so output is deterministic.
func ParseSuggestions(raw string, count int) ([]Suggestion, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, nil
	}
	if len(text) > maxResponseBytes {
		return nil, fmt.Errorf("suggestion response too large: %d bytes", len(text))
	}
	text = stripCodeFences(text)

	var suggestions []Suggestion
	if err := json.Unmarshal([]byte(text), &suggestions); err != nil {
		return nil, fmt.Errorf("parsing suggestions: %w", err)
	}

	seen := make(map[string]bool)
	valid := suggestions[:0]
	for _, s := range suggestions {
		s.Question = strings.TrimSpace(s.Question)
		if s.Question == "" || len(s.Question) > maxQuestionLength {
			continue
		}
		if seen[s.Question] {
			continue
		}
		seen[s.Question] = true
		if s.Relevance < 0 {
			s.Relevance = 0
		}
		if s.Relevance > 1 {
			s.Relevance = 1
		}
		valid = append(valid, s)
	}

	// Stable sort keeps input order for equal relevance.
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Relevance > valid[j].Relevance
	})
	if len(valid) > count {
		valid = valid[:count]
	}
	return valid, nil
}

// stripCodeFences removes ```json ... ``` wrapping from LLM output.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}
