package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prism-chat/prism/internal/provider"
)

// Title generation constants.
const (
	titleGenerationTimeout = 5 * time.Second
	titleInputMaxRunes     = 500
	titleMaxLength         = 100
)

var titlePrompt = fmt.Sprintf(`Generate a concise title (max %d characters) for a chat session based on this first message.`, titleMaxLength) + `
The title should capture the main topic or intent.
Return ONLY the title text, no quotes, no explanations, no punctuation at the end.

Message: %s

Title:`

// generateTitle derives a session title from the user's first message.
// Best-effort: returns empty string on failure.
func (o *Orchestrator) generateTitle(ctx context.Context, client provider.Client, model, userMessage string) string {
	ctx, cancel := context.WithTimeout(ctx, titleGenerationTimeout)
	defer cancel()

	inputRunes := []rune(userMessage)
	if len(inputRunes) > titleInputMaxRunes {
		userMessage = string(inputRunes[:titleInputMaxRunes]) + "..."
	}

	resp, err := o.retrier.Complete(ctx, client, provider.Request{
		Model:    model,
		Messages: []provider.Message{provider.TextMessage(provider.RoleUser, fmt.Sprintf(titlePrompt, userMessage))},
	})
	if err != nil {
		o.logger.Debug("AI title generation failed", "error", err)
		return ""
	}

	title := strings.TrimSpace(resp.Content)
	if title == "" {
		return ""
	}
	titleRunes := []rune(title)
	if len(titleRunes) > titleMaxLength {
		title = string(titleRunes[:titleMaxLength-3]) + "..."
	}
	return title
}
