package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/prism-chat/prism/internal/config"
	"github.com/prism-chat/prism/internal/provider"
)

var (
	askProvider string
	askModel    string
	askStream   bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a one-shot question without persistence",
	Long: `Ask sends a single question to the configured provider and prints
the answer. Nothing is stored; history, memory, and suggestions only
apply to sessions created through the API.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askProvider, "provider", "", "provider to use (defaults to configuration)")
	askCmd.Flags().StringVar(&askModel, "model", "", "model to use (defaults to configuration)")
	askCmd.Flags().BoolVar(&askStream, "stream", false, "print the answer incrementally")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	providerName := askProvider
	if providerName == "" {
		providerName = cfg.DefaultProvider
	}
	model := askModel
	if model == "" {
		model = cfg.DefaultModel
	}

	logger := newLogger(false)
	registry, err := provider.NewRegistry(ctx, provider.Settings{
		OpenAIKey:     cfg.OpenAIAPIKey,
		AnthropicKey:  cfg.AnthropicAPIKey,
		GeminiKey:     cfg.GeminiAPIKey,
		OpenRouterKey: cfg.OpenRouterAPIKey,
		OllamaHost:    cfg.OllamaHost,
	})
	if err != nil {
		return fmt.Errorf("configuring providers: %w", err)
	}
	client, err := registry.Client(providerName)
	if err != nil {
		return err
	}

	retrier := provider.NewRetrier(provider.DefaultRetryConfig(), logger)
	req := provider.Request{
		Model:       model,
		Messages:    []provider.Message{provider.TextMessage(provider.RoleUser, strings.Join(args, " "))},
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Stream:      askStream,
	}

	if askStream {
		stream, err := retrier.Stream(ctx, client, req)
		if err != nil {
			return err
		}
		for chunk := range stream.Chunks() {
			fmt.Print(chunk.Text)
		}
		if err := stream.Err(); err != nil {
			return err
		}
		fmt.Println()
		return nil
	}

	resp, err := retrier.Complete(ctx, client, req)
	if err != nil {
		return err
	}
	fmt.Println(resp.Content)
	return nil
}
