// Package api provides the HTTP REST API for recall.
//
// This package exposes the memory engine via HTTP endpoints, enabling
// programmatic access from chat frontends and automation pipelines.
//
//	POST   /api/memories         →  gated write from a conversation exchange
//	GET    /api/memories/search  →  ranked two-tier retrieval
//	DELETE /api/memories         →  delete by id (with group maintenance)
//	POST   /api/memories/reset   →  wipe one user's memories and groups
//	POST   /api/consolidate      →  run a consolidation pass
//	POST   /api/observe          →  usage-driven narrative grouping
//	GET    /health               →  liveness probe
//	GET    /ready                →  readiness probe (pings the database)
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (request id, logging, recovery)
//   - health.go: health check endpoints (/health, /ready)
//   - memory.go: memory engine endpoints
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/recall/internal/log"
	"github.com/koopa0/recall/internal/memory"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:8080"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	// This prevents Slowloris attacks (CWE-400).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	// Consolidation passes call out to the LLM, so this is generous.
	WriteTimeout = 120 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for recall's REST API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	health *HealthHandler
	memory *MemoryHandler
}

// NewServer creates a new HTTP server with all routes registered.
// pool is only used by the readiness probe; it may be nil in tests.
func NewServer(sys *memory.System, pool *pgxpool.Pool, logger log.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		mux:    mux,
		logger: logger,
		health: NewHealthHandler(pool, logger),
		memory: NewMemoryHandler(sys, logger),
	}

	s.health.RegisterRoutes(mux)
	s.memory.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → request id → logging → handler
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		requestIDMiddleware,
		loggingMiddleware(s.logger),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
