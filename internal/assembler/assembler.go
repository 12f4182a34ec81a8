// Package assembler builds the prompt sent to a provider: persisted user
// facts synthesized into a system header, followed by conversation history
// truncated to the model's context budget.
//
// Assembly is deterministic: the same stored state always yields the same
// prompt. The assembler reads, it never writes.
package assembler

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/prism-chat/prism/internal/log"
	"github.com/prism-chat/prism/internal/provider"
	"github.com/prism-chat/prism/internal/store"
)

// Loader is the slice of the store the assembler needs.
type Loader interface {
	GetMessages(ctx context.Context, sessionID uuid.UUID) ([]*store.Message, error)
	TopMemories(ctx context.Context, userID uuid.UUID, n int) ([]*store.Memory, error)
}

// Assembler builds provider prompts from stored conversation state.
type Assembler struct {
	loader Loader
	facts  int // memory facts included in the header
	logger log.Logger
}

// New creates an assembler including up to facts memories per prompt.
func New(loader Loader, facts int, logger log.Logger) *Assembler {
	return &Assembler{loader: loader, facts: facts, logger: logger}
}

// Assemble loads history and memory in parallel and returns the prompt for
// the session's next turn, truncated to budget tokens. The memory header and
// the newest turn always survive truncation.
func (a *Assembler) Assemble(ctx context.Context, userID, sessionID uuid.UUID, budget int) ([]provider.Message, error) {
	var (
		history  []*store.Message
		memories []*store.Memory
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		history, err = a.loader.GetMessages(gctx, sessionID)
		return err
	})
	g.Go(func() error {
		var err error
		memories, err = a.loader.TopMemories(gctx, userID, a.facts)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("loading context: %w", err)
	}

	msgs := make([]provider.Message, 0, len(history)+1)
	if header := MemoryHeader(memories); header != "" {
		msgs = append(msgs, provider.TextMessage(provider.RoleSystem, header))
	}
	for _, m := range history {
		msgs = append(msgs, provider.Message{
			Role:  provider.Role(m.Role),
			Parts: []provider.Part{{Text: m.Content}},
		})
	}

	return a.truncate(msgs, budget), nil
}

// MemoryHeader renders user facts into the system prompt block. Facts arrive
// already ordered by confidence, so rendering preserves store ordering and
// stays deterministic.
func MemoryHeader(memories []*store.Memory) string {
	if len(memories) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Known facts about the user:\n")
	for _, m := range memories {
		fmt.Fprintf(&b, "- %s: %s\n", m.Key, m.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}

// truncate removes oldest history to fit within budget. The system header
// (if present) and the newest message are kept even when over budget.
func (a *Assembler) truncate(msgs []provider.Message, budget int) []provider.Message {
	if len(msgs) == 0 || budget <= 0 {
		return msgs
	}
	total := 0
	for _, m := range msgs {
		total += estimateMessageTokens(m)
	}
	if total <= budget {
		return msgs
	}

	result := make([]provider.Message, 0, len(msgs))
	start := 0
	if msgs[0].Role == provider.RoleSystem {
		result = append(result, msgs[0])
		start = 1
	}
	if start >= len(msgs) {
		return result
	}

	remaining := budget
	for _, m := range result {
		remaining -= estimateMessageTokens(m)
	}

	// Walk newest to oldest; the newest message is unconditional.
	kept := []provider.Message{msgs[len(msgs)-1]}
	remaining -= estimateMessageTokens(msgs[len(msgs)-1])
	for i := len(msgs) - 2; i >= start; i-- {
		cost := estimateMessageTokens(msgs[i])
		if remaining < cost {
			break
		}
		kept = append(kept, msgs[i])
		remaining -= cost
	}
	slices.Reverse(kept)

	a.logger.Debug("history truncated",
		"original_count", len(msgs),
		"kept_count", len(result)+len(kept),
		"budget", budget,
	)
	return append(result, kept...)
}
