// Package cmd implements the prism command line interface.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/prism-chat/prism/internal/log"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "prism",
	Short: "Prism - a multi-provider AI chat service",
	Long: `Prism routes chat conversations to pluggable AI providers (OpenAI,
Anthropic, Gemini, OpenRouter, Ollama), persists history in PostgreSQL,
learns durable facts about each user, and suggests follow-up questions
after every reply.

Run 'prism serve' to start the HTTP API, or 'prism ask' for a one-shot
question without persistence.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// newLogger builds the process logger honoring the verbose flag.
func newLogger(json bool) log.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: json})
}
