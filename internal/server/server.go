package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dashdb/dash/internal/auth"
	"github.com/dashdb/dash/internal/ratelimit"
)

// ServerConfig configures the DASH HTTP server. Handlers and most
// dependencies are supplied pre-built via HandlersDeps (NewHandlers); this
// struct owns only transport-layer concerns: listen address, timeouts,
// middleware policy, and the authenticator/rate limiter that sit in front
// of every route.
type ServerConfig struct {
	Addr                string
	Handlers            *Handlers
	Authenticator       *auth.Authenticator
	RateLimiter         *ratelimit.Limiter
	Admission           *Admission
	Logger              *slog.Logger
	CORSAllowedOrigins  []string
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	IdleTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

// Server owns the http.Server and the fully composed middleware chain.
type Server struct {
	httpServer    *http.Server
	logger        *slog.Logger
	shutdownGrace time.Duration
}

// New builds the DASH route table (spec §6.1) and wraps it in the
// middleware chain, grounded on the teacher's internal/server/server.go
// composition: requestID -> security headers -> cors -> tracing -> logging
// -> recovery -> auth -> rate limit (when configured) -> admission (when
// configured) -> handler. Each wrapper is applied
// outermost-last so requestID executes first on every request.
func New(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := cfg.Handlers

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /metrics", h.HandleMetrics)
	mux.HandleFunc("POST /v1/ingest", h.HandleIngest)
	mux.HandleFunc("POST /v1/ingest/batch", h.HandleIngestBatch)
	mux.HandleFunc("POST /v1/ingest/raw", h.HandleIngestRaw)
	mux.HandleFunc("GET /v1/retrieve", h.HandleRetrieve)
	mux.HandleFunc("POST /v1/retrieve", h.HandleRetrieve)
	mux.HandleFunc("GET /v1/claims/{id}", h.HandleGetClaim)
	mux.HandleFunc("GET /debug/placement", h.HandleDebugPlacement)
	mux.HandleFunc("GET /debug/planner", h.HandleDebugPlanner)
	mux.HandleFunc("GET /debug/storage-visibility", h.HandleDebugStorageVisibility)
	mux.HandleFunc("GET /internal/replication/wal", h.HandleReplicationWAL)
	mux.HandleFunc("GET /internal/replication/export", h.HandleReplicationExport)

	var handler http.Handler = mux
	if cfg.Admission != nil {
		handler = admissionMiddleware(cfg.Admission, handler)
	}
	if cfg.RateLimiter != nil {
		handler = rateLimitMiddleware(cfg.RateLimiter, ratelimit.Rule{Prefix: "api", Limit: 600, Window: time.Minute}, handler)
	}
	handler = authMiddleware(cfg.Authenticator, handler)
	handler = recoveryMiddleware(logger, handler)
	handler = loggingMiddleware(logger, handler)
	handler = tracingMiddleware(handler)
	handler = corsMiddleware(cfg.CORSAllowedOrigins, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	readHeaderTimeout := cfg.ReadHeaderTimeout
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = 5 * time.Second
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 120 * time.Second
	}
	shutdownGrace := cfg.ShutdownGracePeriod
	if shutdownGrace <= 0 {
		shutdownGrace = 15 * time.Second
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       idleTimeout,
		},
		logger:        logger,
		shutdownGrace: shutdownGrace,
	}
}

// Start blocks serving HTTP until the server is shut down or fails.
// http.ErrServerClosed is treated as a clean shutdown, not an error.
func (s *Server) Start() error {
	s.logger.Info("server: listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen and serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the server's configured grace
// period before returning.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.shutdownGrace)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
