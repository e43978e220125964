// Package app provides application initialization and dependency wiring.
//
// App is the container that assembles the memory engine from its
// collaborators: the PostgreSQL vector store, the genkit model and
// embedder, and the LLM decision service. Setup builds everything in
// dependency order; Close releases it in reverse.
package app

import (
	"context"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/recall/internal/config"
	"github.com/koopa0/recall/internal/log"
	"github.com/koopa0/recall/internal/memory"
	"github.com/koopa0/recall/internal/store"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit *genkit.Genkit
	Pool   *pgxpool.Pool
	Store  *store.Postgres

	System    *memory.System
	Scheduler *memory.Scheduler

	otelCleanup func()
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Info("database pool closed")
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}

// RunScheduler blocks running periodic consolidation until ctx is canceled.
func (a *App) RunScheduler(ctx context.Context) {
	a.Scheduler.Run(ctx)
}
