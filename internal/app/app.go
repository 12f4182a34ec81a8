// Package app wires configuration, storage, providers, and the orchestrator
// into a running application. All entry points (HTTP server, CLI one-shots)
// initialize through Setup.
package app

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prism-chat/prism/internal/assembler"
	"github.com/prism-chat/prism/internal/attachment"
	"github.com/prism-chat/prism/internal/config"
	"github.com/prism-chat/prism/internal/log"
	"github.com/prism-chat/prism/internal/orchestrator"
	"github.com/prism-chat/prism/internal/provider"
	"github.com/prism-chat/prism/internal/store"
)

// App is the application container. Components are exported for entry points
// and tests; construct through Setup so cleanup ordering stays correct.
type App struct {
	Config       *config.Config
	Logger       log.Logger
	Pool         *pgxpool.Pool
	Store        *store.Store
	Registry     *provider.Registry
	Retrier      *provider.Retrier
	Assembler    *assembler.Assembler
	Orchestrator *orchestrator.Orchestrator
	Spool        *attachment.Spool

	otelCleanup func()
}

// Close releases resources in reverse initialization order. Safe to call on
// a partially initialized App.
func (a *App) Close() {
	if a.Orchestrator != nil {
		a.Orchestrator.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Debug("database pool closed")
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
}
