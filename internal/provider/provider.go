// Package provider normalizes heterogeneous LLM provider APIs behind one contract.
//
// The provider set is closed and known at build time: ollama (local), openai,
// anthropic, gemini, and openrouter. Each variant implements Client; capability
// flags gate request validity before any network I/O. Providers differ in wire
// format (OpenAI-compatible chat completions, Anthropic messages, Gemini
// generateContent) but callers see one Request/Response shape and one Stream type.
//
// No persistence happens in this package; side effects are limited to the
// network call itself.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Role identifies the author of a message.
type Role string

// Valid message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Part is one piece of message content: either text or inline binary data
// (images) with its MIME type.
type Part struct {
	Text string
	Data []byte // inline payload (e.g. image bytes); nil for text parts
	MIME string // set when Data is non-nil
}

// Message is a role-tagged entry in the conversation sent to a provider.
type Message struct {
	Role  Role
	Parts []Part
}

// TextMessage builds a single-part text message.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{{Text: text}}}
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	var s string
	for _, p := range m.Parts {
		s += p.Text
	}
	return s
}

// Request is the uniform request shape sent to any provider variant.
// Messages are ordered; the first system-role message (if any) carries the
// synthesized memory header.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int
	Stream      bool
}

// HasVision reports whether any message carries inline binary payloads.
func (r Request) HasVision() bool {
	for _, m := range r.Messages {
		for _, p := range m.Parts {
			if len(p.Data) > 0 {
				return true
			}
		}
	}
	return false
}

// Usage reports token consumption for a completed request.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the uniform response shape returned by any provider variant.
type Response struct {
	Content      string
	Reasoning    string // chain-of-thought trace, empty for providers without CapReasoning
	Usage        Usage
	FinishReason string
}

// Capability is a provider feature flag gating request validity.
type Capability uint8

// Provider capabilities.
const (
	CapText Capability = 1 << iota
	CapStreaming
	CapVision
	CapReasoning
)

// Has reports whether c includes all flags in want.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// Client is the uniform contract implemented once per provider variant.
//
// Implementations perform no persistence and hold no mutable state beyond
// the HTTP client; they are safe for concurrent use.
type Client interface {
	// Name returns the provider identifier (e.g. "ollama", "anthropic").
	Name() string

	// Capabilities returns the provider's feature flags.
	Capabilities() Capability

	// Complete sends the request and blocks until the full response is available.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream sends the request and returns a lazy, finite, non-restartable
	// sequence of incremental chunks. The caller must drain Chunks() and then
	// check Err(), or call Close() to abandon the stream.
	Stream(ctx context.Context, req Request) (*Stream, error)
}

// checkCapabilities validates the request against the client's capability set.
// Called by every variant before issuing any network request (fail fast).
func checkCapabilities(c Client, req Request) error {
	if req.HasVision() && !c.Capabilities().Has(CapVision) {
		return fmt.Errorf("%w: provider %s model %s does not accept image input",
			ErrUnsupportedCapability, c.Name(), req.Model)
	}
	return nil
}

// defaultHTTPTimeout bounds a single non-streaming provider round trip.
const defaultHTTPTimeout = 120 * time.Second

// newHTTPClient returns the http.Client shared by hand-rolled variants.
// Streaming requests use a client without the overall timeout so long
// generations are bounded by the request context instead.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}
