// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.prism/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Providers: default AI provider/model, per-provider API keys and hosts
//   - Storage: PostgreSQL connection (see storage.go)
//   - Context: per-model token budgets, memory fact count
//   - Server: listen address, rate limiting
//
// Security: Sensitive data (passwords, API keys) are never logged; masked in MarshalJSON.
// Validation: Range checks in validation.go with sentinel errors for errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidMemoryFacts indicates the memory fact count is out of range.
	ErrInvalidMemoryFacts = errors.New("invalid memory fact count")

	// ErrInvalidSuggestionCount indicates the suggestion count is out of range.
	ErrInvalidSuggestionCount = errors.New("invalid suggestion count")

	// ErrInvalidContextBudget indicates a context token budget is out of range.
	ErrInvalidContextBudget = errors.New("invalid context budget")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// AI provider identifiers used in Config.DefaultProvider and session records.
const (
	ProviderOllama     = "ollama"
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
)

// Providers is the closed set of supported provider identifiers.
var Providers = []string{ProviderOllama, ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderOpenRouter}

const (
	// DefaultMemoryFacts is the number of highest-confidence memory facts
	// injected into the system prompt per turn.
	DefaultMemoryFacts = 10

	// DefaultSuggestionCount is the number of follow-up questions persisted
	// after each assistant reply.
	DefaultSuggestionCount = 3

	// DefaultContextBudget is the token budget applied to models without an
	// explicit entry in context_budgets.
	DefaultContextBudget = 8000
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// Default provider and model for new sessions
	DefaultProvider string  `mapstructure:"default_provider" json:"default_provider"`
	DefaultModel    string  `mapstructure:"default_model" json:"default_model"`
	Temperature     float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens       int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Provider credentials and endpoints
	OpenAIAPIKey     string `mapstructure:"openai_api_key" json:"openai_api_key"`         // SENSITIVE: masked in MarshalJSON
	AnthropicAPIKey  string `mapstructure:"anthropic_api_key" json:"anthropic_api_key"`   // SENSITIVE: masked in MarshalJSON
	GeminiAPIKey     string `mapstructure:"gemini_api_key" json:"gemini_api_key"`         // SENSITIVE: masked in MarshalJSON
	OpenRouterAPIKey string `mapstructure:"openrouter_api_key" json:"openrouter_api_key"` // SENSITIVE: masked in MarshalJSON
	OllamaHost       string `mapstructure:"ollama_host" json:"ollama_host"`

	// Context assembly configuration
	MemoryFacts     int            `mapstructure:"memory_facts" json:"memory_facts"`
	SuggestionCount int            `mapstructure:"suggestion_count" json:"suggestion_count"`
	ContextBudgets  map[string]int `mapstructure:"context_budgets" json:"context_budgets"` // model name -> token budget

	// Attachment spool directory (local uploads)
	AttachmentsDir string `mapstructure:"attachments_dir" json:"attachments_dir"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Server configuration (serve mode only)
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	RateBurst  int    `mapstructure:"rate_burst" json:"rate_burst"`

	// Observability (OTLP trace export; empty = disabled)
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
	Environment  string `mapstructure:"environment" json:"environment"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".prism")

	// Ensure directory exists (use 0750 permission for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// CRITICAL: Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Provider defaults
	viper.SetDefault("default_provider", ProviderOllama)
	viper.SetDefault("default_model", "llama3.2")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 2048)
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// Context assembly defaults
	viper.SetDefault("memory_facts", DefaultMemoryFacts)
	viper.SetDefault("suggestion_count", DefaultSuggestionCount)
	viper.SetDefault("context_budgets", map[string]int{})

	// Attachment spool
	viper.SetDefault("attachments_dir", "uploads")

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "prism")
	viper.SetDefault("postgres_password", "prism_dev_password")
	viper.SetDefault("postgres_db_name", "prism")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Server defaults
	viper.SetDefault("listen_addr", "localhost:8080")
	viper.SetDefault("rate_burst", 60)

	// Observability defaults (disabled unless endpoint set)
	viper.SetDefault("otlp_endpoint", "")
	viper.SetDefault("service_name", "prism")
	viper.SetDefault("environment", "dev")
}

// bindEnvVariables binds sensitive environment variables explicitly.
// Provider API keys follow each vendor's conventional variable name so that
// existing shell environments work without prism-specific configuration.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	// Provider credentials (vendor-conventional names)
	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("anthropic_api_key", "ANTHROPIC_API_KEY")
	mustBind("gemini_api_key", "GEMINI_API_KEY")
	mustBind("openrouter_api_key", "OPENROUTER_API_KEY")

	// Provider and model overrides
	mustBind("default_provider", "PRISM_PROVIDER")
	mustBind("default_model", "PRISM_MODEL")
	mustBind("ollama_host", "PRISM_OLLAMA_HOST")

	// Server overrides
	mustBind("listen_addr", "PRISM_LISTEN_ADDR")

	// Observability
	mustBind("otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// maskedValue is the placeholder for masked sensitive data.
// Using full-width blocks (U+2588) to avoid substring matching against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Shows first 2 and last 2 characters for secrets longer than 8 characters,
// otherwise masks fully to prevent substring matching.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + maskedValue + s[len(s)-2:]
}

// MarshalJSON masks sensitive fields for safe logging and debug output.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config // Avoid infinite recursion
	masked := alias(c)
	masked.OpenAIAPIKey = maskSecret(c.OpenAIAPIKey)
	masked.AnthropicAPIKey = maskSecret(c.AnthropicAPIKey)
	masked.GeminiAPIKey = maskSecret(c.GeminiAPIKey)
	masked.OpenRouterAPIKey = maskSecret(c.OpenRouterAPIKey)
	masked.PostgresPassword = maskSecret(c.PostgresPassword)
	return json.Marshal(masked)
}

// ContextBudget returns the token budget for the given model.
// Falls back to DefaultContextBudget when the model has no explicit entry.
func (c *Config) ContextBudget(model string) int {
	if b, ok := c.ContextBudgets[model]; ok && b > 0 {
		return b
	}
	return DefaultContextBudget
}

// APIKey returns the configured API key for the given provider.
// Ollama has no key; returns empty string.
func (c *Config) APIKey(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	case ProviderAnthropic:
		return c.AnthropicAPIKey
	case ProviderGemini:
		return c.GeminiAPIKey
	case ProviderOpenRouter:
		return c.OpenRouterAPIKey
	default:
		return ""
	}
}
