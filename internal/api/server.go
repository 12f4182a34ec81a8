// Package api exposes the chat service over HTTP/JSON, with Server-Sent
// Events for streamed turns.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/prism-chat/prism/internal/attachment"
	"github.com/prism-chat/prism/internal/log"
	"github.com/prism-chat/prism/internal/orchestrator"
	"github.com/prism-chat/prism/internal/provider"
	"github.com/prism-chat/prism/internal/store"
)

// Store is the persistence surface the HTTP handlers need. *store.Store
// satisfies it.
type Store interface {
	CreateUser(ctx context.Context, email, name string) (*store.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*store.User, error)

	CreateSession(ctx context.Context, userID uuid.UUID, title, provider, model string) (*store.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*store.Session, error)
	ListSessions(ctx context.Context, userID uuid.UUID, limit int) ([]*store.Session, error)
	UpdateSessionTitle(ctx context.Context, id uuid.UUID, title string) error
	UpdateSessionModel(ctx context.Context, id uuid.UUID, provider, model string) error
	DeleteSession(ctx context.Context, id uuid.UUID) error

	GetMessages(ctx context.Context, sessionID uuid.UUID) ([]*store.Message, error)

	ListMemories(ctx context.Context, userID uuid.UUID) ([]*store.Memory, error)
	UpsertMemory(ctx context.Context, userID uuid.UUID, key, value string, confidence float64) (*store.Memory, error)
	DeleteMemory(ctx context.Context, userID uuid.UUID, key string) error

	SessionSuggestions(ctx context.Context, sessionID uuid.UUID) ([]*store.Suggestion, error)
	MarkSuggestionUsed(ctx context.Context, id uuid.UUID) error
}

// TurnRunner runs chat turns. *orchestrator.Orchestrator satisfies it.
type TurnRunner interface {
	Send(ctx context.Context, req orchestrator.TurnRequest) (<-chan orchestrator.Event, error)
	RetryTurn(ctx context.Context, sessionID uuid.UUID, stream bool) (<-chan orchestrator.Event, error)
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Logger     log.Logger
	Store      Store             // required
	Turns      TurnRunner        // required
	Spool      *attachment.Spool // optional: nil disables uploads
	Providers  []string          // configured provider names for GET /providers
	Pool       *pgxpool.Pool     // optional: nil disables pool stats in /ready
	TrustProxy bool              // trust X-Real-IP/X-Forwarded-For
	RateBurst  int               // per-IP burst (0 = default 60)
	Tracing    bool              // wrap API routes in OpenTelemetry HTTP spans
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Turns == nil {
		return nil, errors.New("turn runner is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	uh := &userHandler{store: cfg.Store, logger: logger}
	sh := &sessionHandler{store: cfg.Store, logger: logger}
	ch := &chatHandler{store: cfg.Store, turns: cfg.Turns, spool: cfg.Spool, logger: logger}
	mh := &memoryHandler{store: cfg.Store, logger: logger}
	gh := &suggestionHandler{store: cfg.Store, logger: logger}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/users", uh.create)
	mux.HandleFunc("GET /api/v1/users/{id}", uh.get)
	mux.HandleFunc("GET /api/v1/users/{id}/memories", mh.list)
	mux.HandleFunc("PUT /api/v1/users/{id}/memories/{key}", mh.save)
	mux.HandleFunc("DELETE /api/v1/users/{id}/memories/{key}", mh.remove)

	mux.HandleFunc("POST /api/v1/sessions", sh.create)
	mux.HandleFunc("GET /api/v1/sessions", sh.list)
	mux.HandleFunc("GET /api/v1/sessions/{id}", sh.get)
	mux.HandleFunc("PATCH /api/v1/sessions/{id}", sh.update)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", sh.remove)
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", sh.messages)

	mux.HandleFunc("POST /api/v1/sessions/{id}/messages", ch.send)
	mux.HandleFunc("POST /api/v1/sessions/{id}/retry", ch.retry)

	mux.HandleFunc("GET /api/v1/sessions/{id}/suggestions", gh.list)
	mux.HandleFunc("POST /api/v1/suggestions/{id}/use", gh.use)

	if cfg.Spool != nil {
		ah := &attachmentHandler{spool: cfg.Spool, logger: logger}
		mux.HandleFunc("POST /api/v1/attachments", ah.upload)
	}

	providers := make([]providerResponse, 0, len(cfg.Providers))
	for _, name := range cfg.Providers {
		providers = append(providers, providerResponse{Name: name, Models: provider.KnownModels(name)})
	}
	mux.HandleFunc("GET /api/v1/providers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"providers": providers}, logger)
	})

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery -> RequestID -> Logging -> RateLimit -> Routes
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)
	if cfg.Tracing {
		handler = otelhttp.NewHandler(handler, "prism.api")
	}

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
