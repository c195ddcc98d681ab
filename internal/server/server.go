package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
	"github.com/alanyoungcy/arbexecutor/internal/server/handler"
	"github.com/alanyoungcy/arbexecutor/internal/server/middleware"
	"github.com/alanyoungcy/arbexecutor/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port             int
	CORSOrigins      []string
	SignatureMaxSkew time.Duration
	// RateLimit is requests per RateWindow per caller; zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Execute *handler.ExecuteHandler
	Admin   *handler.AdminHandler
	State   *handler.StateHandler
}

// Extras are optional collaborators. A nil Nonces keeps used request
// signatures in process.
type Extras struct {
	Hub      *ws.Hub
	Limiter  domain.RateLimiter
	Nonces   domain.NonceStore
	Gatherer prometheus.Gatherer
	Now      func() time.Time
}

// Server is the executor's HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain. Mutating routes require a request signature.
func NewServer(cfg Config, handlers Handlers, extras Extras, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, extras, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, extras Extras, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	nonces := extras.Nonces
	if nonces == nil {
		nonces = middleware.NewMemoryNonces(middleware.DefaultNonceCapacity, extras.Now)
	}
	signed := func(h http.HandlerFunc) http.Handler {
		var next http.Handler = h
		if cfg.RateLimit > 0 && extras.Limiter != nil {
			next = middleware.RateLimit(extras.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(next)
		}
		return middleware.Signature(cfg.SignatureMaxSkew, extras.Now, nonces)(next)
	}

	mux.HandleFunc("GET /healthz", handlers.Health.HealthCheck)

	mux.Handle("POST /v1/execute", signed(handlers.Execute.Execute))
	mux.Handle("POST /v1/execute/abi", signed(handlers.Execute.ExecuteABI))

	mux.Handle("POST /v1/admin/withdraw", signed(handlers.Admin.Withdraw))
	mux.Handle("POST /v1/admin/halt", signed(handlers.Admin.ToggleHalt))
	mux.Handle("PUT /v1/admin/limits", signed(handlers.Admin.UpdateLimits))

	mux.HandleFunc("GET /v1/safety", handlers.State.Safety)
	mux.HandleFunc("GET /v1/balances/{token}", handlers.State.Balance)
	mux.HandleFunc("GET /v1/executions/{id}", handlers.State.Execution)

	if extras.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(extras.Gatherer, promhttp.HandlerOpts{}))
	}
	if extras.Hub != nil {
		mux.HandleFunc("GET /ws", extras.Hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
