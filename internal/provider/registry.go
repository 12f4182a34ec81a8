package provider

import (
	"context"
	"fmt"
	"sort"
)

// Settings carries the credentials and endpoints needed to build the
// configured provider set. Empty keys leave the variant unconfigured.
type Settings struct {
	OpenAIKey     string
	AnthropicKey  string
	GeminiKey     string
	OpenRouterKey string
	OllamaHost    string
}

// Registry holds the closed set of configured provider clients, keyed by name.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	clients map[string]Client
}

// NewRegistry builds clients for every provider with credentials present.
// Ollama needs no credentials and is always configured when a host is set.
func NewRegistry(ctx context.Context, s Settings) (*Registry, error) {
	clients := make(map[string]Client)
	if s.OllamaHost != "" {
		clients["ollama"] = NewOllama(s.OllamaHost)
	}
	if s.OpenAIKey != "" {
		clients["openai"] = NewOpenAI(s.OpenAIKey)
	}
	if s.AnthropicKey != "" {
		clients["anthropic"] = NewAnthropic(s.AnthropicKey)
	}
	if s.OpenRouterKey != "" {
		clients["openrouter"] = NewOpenRouter(s.OpenRouterKey)
	}
	if s.GeminiKey != "" {
		g, err := NewGemini(ctx, s.GeminiKey)
		if err != nil {
			return nil, err
		}
		clients["gemini"] = g
	}
	return &Registry{clients: clients}, nil
}

// NewRegistryFromClients builds a registry from pre-built clients. Used by tests.
func NewRegistryFromClients(clients ...Client) *Registry {
	m := make(map[string]Client, len(clients))
	for _, c := range clients {
		m[c.Name()] = c
	}
	return &Registry{clients: m}
}

// Client returns the configured client for name. A known provider without
// credentials reports an auth error rather than an unknown-provider error.
func (r *Registry) Client(name string) (Client, error) {
	if c, ok := r.clients[name]; ok {
		return c, nil
	}
	switch name {
	case "ollama", "openai", "anthropic", "gemini", "openrouter":
		return nil, &Error{
			Provider: name,
			Kind:     KindAuth,
			Message:  "provider not configured: missing API key or host",
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
}

// Names returns the configured provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
