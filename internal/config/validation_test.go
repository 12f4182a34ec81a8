package config

import (
	"errors"
	"strings"
	"testing"
)

// validConfig returns a configuration that passes Validate().
func validConfig() *Config {
	return &Config{
		DefaultProvider:  ProviderOllama,
		DefaultModel:     "llama3.2",
		Temperature:      0.7,
		MaxTokens:        2048,
		OllamaHost:       "http://localhost:11434",
		MemoryFacts:      10,
		SuggestionCount:  3,
		PostgresHost:     "localhost",
		PostgresPort:     5432,
		PostgresUser:     "prism",
		PostgresPassword: "secret-password",
		PostgresDBName:   "prism",
		PostgresSSLMode:  "disable",
	}
}

func TestValidateOK(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateNil(t *testing.T) {
	t.Parallel()

	var c *Config
	if err := c.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Errorf("expected ErrConfigNil, got %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.DefaultProvider = "mistral" },
			wantErr: ErrInvalidProvider,
		},
		{
			name: "cloud provider without key",
			mutate: func(c *Config) {
				c.DefaultProvider = ProviderOpenAI
				c.OpenAIAPIKey = ""
			},
			wantErr: ErrMissingAPIKey,
		},
		{
			name:    "empty model",
			mutate:  func(c *Config) { c.DefaultModel = "" },
			wantErr: ErrInvalidModelName,
		},
		{
			name:    "temperature too high",
			mutate:  func(c *Config) { c.Temperature = 2.5 },
			wantErr: ErrInvalidTemperature,
		},
		{
			name:    "negative temperature",
			mutate:  func(c *Config) { c.Temperature = -0.1 },
			wantErr: ErrInvalidTemperature,
		},
		{
			name:    "zero max tokens",
			mutate:  func(c *Config) { c.MaxTokens = 0 },
			wantErr: ErrInvalidMaxTokens,
		},
		{
			name:    "ollama host missing scheme",
			mutate:  func(c *Config) { c.OllamaHost = "localhost:11434" },
			wantErr: ErrInvalidOllamaHost,
		},
		{
			name:    "memory facts out of range",
			mutate:  func(c *Config) { c.MemoryFacts = 500 },
			wantErr: ErrInvalidMemoryFacts,
		},
		{
			name:    "suggestion count out of range",
			mutate:  func(c *Config) { c.SuggestionCount = 50 },
			wantErr: ErrInvalidSuggestionCount,
		},
		{
			name:    "zero context budget",
			mutate:  func(c *Config) { c.ContextBudgets = map[string]int{"gpt-4o": 0} },
			wantErr: ErrInvalidContextBudget,
		},
		{
			name:    "postgres port out of range",
			mutate:  func(c *Config) { c.PostgresPort = 70000 },
			wantErr: ErrInvalidPostgresPort,
		},
		{
			name:    "empty postgres password",
			mutate:  func(c *Config) { c.PostgresPassword = "" },
			wantErr: ErrInvalidPostgresPassword,
		},
		{
			name:    "deprecated ssl mode",
			mutate:  func(c *Config) { c.PostgresSSLMode = "prefer" },
			wantErr: ErrInvalidPostgresSSLMode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestContextBudget(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.ContextBudgets = map[string]int{"gpt-4o": 120000}

	if got := cfg.ContextBudget("gpt-4o"); got != 120000 {
		t.Errorf("explicit budget: got %d, want 120000", got)
	}
	if got := cfg.ContextBudget("unknown-model"); got != DefaultContextBudget {
		t.Errorf("fallback budget: got %d, want %d", got, DefaultContextBudget)
	}
}

func TestMarshalJSONMasksSecrets(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.OpenAIAPIKey = "sk-super-secret-key-value"
	cfg.PostgresPassword = "hunter2-long-password"

	data, err := cfg.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	out := string(data)

	if strings.Contains(out, "sk-super-secret-key-value") {
		t.Error("API key leaked in JSON output")
	}
	if strings.Contains(out, "hunter2-long-password") {
		t.Error("postgres password leaked in JSON output")
	}
	if !strings.Contains(out, maskedValue) {
		t.Error("expected masked placeholder in JSON output")
	}
}

func TestAPIKeyLookup(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.OpenAIAPIKey = "a"
	cfg.AnthropicAPIKey = "b"
	cfg.GeminiAPIKey = "c"
	cfg.OpenRouterAPIKey = "d"

	tests := map[string]string{
		ProviderOpenAI:     "a",
		ProviderAnthropic:  "b",
		ProviderGemini:     "c",
		ProviderOpenRouter: "d",
		ProviderOllama:     "",
	}
	for provider, want := range tests {
		if got := cfg.APIKey(provider); got != want {
			t.Errorf("APIKey(%q) = %q, want %q", provider, got, want)
		}
	}
}
