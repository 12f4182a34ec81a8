package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider validation
	if !slices.Contains(Providers, c.DefaultProvider) {
		return fmt.Errorf("%w: %q is not one of %v", ErrInvalidProvider, c.DefaultProvider, Providers)
	}

	// The default provider must be usable at startup. Other providers are
	// validated lazily when a session selects them.
	if c.DefaultProvider != ProviderOllama && c.APIKey(c.DefaultProvider) == "" {
		return fmt.Errorf("%w: %s requires an API key (set %s)",
			ErrMissingAPIKey, c.DefaultProvider, apiKeyEnvVar(c.DefaultProvider))
	}

	if c.DefaultModel == "" {
		return fmt.Errorf("%w: default_model cannot be empty", ErrInvalidModelName)
	}

	// Temperature range: 0.0 (deterministic) to 2.0 (maximum creativity)
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.MaxTokens < 1 || c.MaxTokens > 2097152 {
		return fmt.Errorf("%w: must be between 1 and 2,097,152, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	// 2. Ollama host validation (always checked; any session may select ollama)
	if c.OllamaHost == "" {
		return fmt.Errorf("%w: ollama_host cannot be empty", ErrInvalidOllamaHost)
	}
	if u, err := url.Parse(c.OllamaHost); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q must be a URL like http://localhost:11434", ErrInvalidOllamaHost, c.OllamaHost)
	}

	// 3. Context assembly validation
	if c.MemoryFacts < 0 || c.MemoryFacts > 100 {
		return fmt.Errorf("%w: must be between 0 and 100, got %d", ErrInvalidMemoryFacts, c.MemoryFacts)
	}
	if c.SuggestionCount < 0 || c.SuggestionCount > 10 {
		return fmt.Errorf("%w: must be between 0 and 10, got %d", ErrInvalidSuggestionCount, c.SuggestionCount)
	}
	for model, budget := range c.ContextBudgets {
		if budget < 1 {
			return fmt.Errorf("%w: budget for %q must be positive, got %d", ErrInvalidContextBudget, model, budget)
		}
	}

	// 4. PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set", ErrInvalidPostgresPassword)
	}
	if c.PostgresPassword == "prism_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable)
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}

// apiKeyEnvVar returns the conventional environment variable for a provider's API key.
func apiKeyEnvVar(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	case ProviderOpenRouter:
		return "OPENROUTER_API_KEY"
	default:
		return ""
	}
}
