package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/prism-chat/prism/db"
	"github.com/prism-chat/prism/internal/assembler"
	"github.com/prism-chat/prism/internal/attachment"
	"github.com/prism-chat/prism/internal/config"
	"github.com/prism-chat/prism/internal/log"
	"github.com/prism-chat/prism/internal/orchestrator"
	"github.com/prism-chat/prism/internal/provider"
	"github.com/prism-chat/prism/internal/store"
)

// Setup initializes the application. On error, everything already
// initialized is released before returning.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool
	a.Store = store.New(pool, logger)

	registry, err := provider.NewRegistry(ctx, provider.Settings{
		OpenAIKey:     cfg.OpenAIAPIKey,
		AnthropicKey:  cfg.AnthropicAPIKey,
		GeminiKey:     cfg.GeminiAPIKey,
		OpenRouterKey: cfg.OpenRouterAPIKey,
		OllamaHost:    cfg.OllamaHost,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring providers: %w", err)
	}
	a.Registry = registry
	a.Retrier = provider.NewRetrier(provider.DefaultRetryConfig(), logger)

	a.Assembler = assembler.New(a.Store, cfg.MemoryFacts, logger)

	spool, err := attachment.NewSpool(cfg.AttachmentsDir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening attachment spool: %w", err)
	}
	a.Spool = spool

	a.Orchestrator = orchestrator.New(a.Store, a.Assembler, registry, a.Retrier, orchestrator.Config{
		Temperature:     cfg.Temperature,
		MaxTokens:       cfg.MaxTokens,
		SuggestionCount: cfg.SuggestionCount,
		ContextBudget:   cfg.ContextBudget,
		Payloads:        spool,
	}, logger)

	return a, nil
}

// provideOtelShutdown sets up OTLP trace export when an endpoint is
// configured. The returned function flushes and shuts the provider down.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	if cfg.OTLPEndpoint == "" {
		return func() {}
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating OTLP exporter, tracing disabled", "error", err)
		return func() {}
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		logger.Warn("building trace resource, tracing disabled", "error", err)
		return func() {}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Debug("tracing enabled",
		"endpoint", cfg.OTLPEndpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and creates a PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
