// Package server exposes the treasury bot over HTTP: ledger and audit
// queries, pass reports, manual pass triggers, Prometheus metrics and a
// WebSocket feed of pass events.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/treasurybot/internal/domain"
	"github.com/alanyoungcy/treasurybot/internal/server/handler"
	"github.com/alanyoungcy/treasurybot/internal/server/middleware"
	"github.com/alanyoungcy/treasurybot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port           int
	APIKey         string // if empty, authentication is disabled
	ReadOnlyAPIKey string // may read but not trigger passes
	CORSOrigins    []string

	// TriggerLimit caps POST /api/reconcile per client within TriggerWindow.
	TriggerLimit  int
	TriggerWindow time.Duration

	// WriteTimeout must cover a full pass because POST /api/reconcile runs
	// synchronously. Defaults to 30s.
	WriteTimeout time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Positions *handler.PositionHandler
	Audit     *handler.AuditHandler
	Reconcile *handler.ReconcileHandler
	Metrics   http.Handler
	Observe   middleware.ObserveFunc

	// Limiter backs the trigger rate limit; nil disables it.
	Limiter domain.RateLimiter
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, wsHub, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: writeTimeout(cfg),
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed and middleware-wrapped handler tree.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check and metrics skip auth.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)
	}

	mux.HandleFunc("GET /api/reports", handlers.Reconcile.ListReports)
	mux.HandleFunc("GET /api/reports/latest", handlers.Reconcile.LatestReport)
	limitTrigger := middleware.RateLimit(handlers.Limiter, "reconcile", cfg.TriggerLimit, cfg.TriggerWindow, logger)
	mux.Handle("POST /api/reconcile", limitTrigger(http.HandlerFunc(handlers.Reconcile.TriggerReconcile)))

	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(middleware.AuthConfig{
		AdminKey:    cfg.APIKey,
		ReadOnlyKey: cfg.ReadOnlyAPIKey,
		Public:      []string{"/api/health", "/metrics"},
	})(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.Logging(logger, handlers.Observe)(h)
	return h
}

func writeTimeout(cfg Config) time.Duration {
	if cfg.WriteTimeout > 0 {
		return cfg.WriteTimeout
	}
	return 30 * time.Second
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
