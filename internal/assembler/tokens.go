package assembler

import (
	"unicode/utf8"

	"github.com/prism-chat/prism/internal/provider"
)

// EstimateTokens provides a rough token count.
// Uses rune count divided by 2 as a conservative estimate that works
// for both English (~4 chars/token) and CJK (~1.5 chars/token) text.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 2
}

// estimateMessageTokens estimates tokens across all text parts of a message.
func estimateMessageTokens(m provider.Message) int {
	total := 0
	for _, p := range m.Parts {
		total += EstimateTokens(p.Text)
	}
	return total
}
