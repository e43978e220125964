package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/koopa0/recall/db"
	"github.com/koopa0/recall/internal/config"
	"github.com/koopa0/recall/internal/embed"
	"github.com/koopa0/recall/internal/llm"
	"github.com/koopa0/recall/internal/log"
	"github.com/koopa0/recall/internal/memory"
	"github.com/koopa0/recall/internal/observability"
	"github.com/koopa0/recall/internal/store"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	g, err := provideGenkit(ctx)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	pg, err := store.New(pool, logger.With("component", "store"))
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}
	a.Store = pg

	embedder, err := embed.New(
		googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel),
		int32(cfg.EmbeddingDim), //nolint:gosec // Validate bounds EmbeddingDim to 1..4096
		newLimiter(cfg.EmbedRateLimit),
		logger.With("component", "embed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	decider, err := llm.New(g, cfg.ModelName, newLimiter(cfg.LLMRateLimit),
		logger.With("component", "llm"))
	if err != nil {
		return nil, fmt.Errorf("creating decision service: %w", err)
	}

	a.System = memory.NewSystem(pg, pg, embedder, decider, memory.Options{
		MergeHigh:      cfg.MergeHigh,
		AmbiguousLow:   cfg.AmbiguousLow,
		GroupThreshold: cfg.GroupThreshold,
		SameChatWindow: cfg.SameChatWindowSec,
		DiffChatWindow: cfg.DiffChatWindowSec,
		KSemantic:      cfg.KSemantic,
		KEpisodic:      cfg.KEpisodic,
		TopN:           cfg.TopN,
		ScanLimit:      cfg.ScanLimit,
	}, logger.With("component", "memory"))

	a.Scheduler = memory.NewScheduler(a.System.Consolidator, cfg.ConsolidateInterval,
		logger.With("component", "scheduler"))

	return a, nil
}

// newLimiter builds a rate limiter from a requests-per-second setting.
// Zero or negative disables client-side limiting.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// provideOtelShutdown sets up OTLP tracing before Genkit initialization,
// so the engine's spans land on the configured provider.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	}, logger)
	if err != nil {
		logger.Warn("setting up tracing, continuing without it", "error", err)
		return func() {}
	}

	//nolint:contextcheck // Independent context: shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideGenkit initializes Genkit with the Gemini provider. The API key
// comes from GEMINI_API_KEY, checked by config.Validate at startup.
func provideGenkit(ctx context.Context) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit with gemini provider")
	}
	return g, nil
}

// provideDBPool runs migrations and creates a PostgreSQL connection pool.
// Pool is configured with sensible defaults for connection management.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
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
