package memory

import (
	"context"
	"log/slog"
	"time"
)

// DefaultConsolidateInterval is how often the scheduler sweeps all users.
const DefaultConsolidateInterval = 6 * time.Hour

// Scheduler periodically runs consolidation across all users.
type Scheduler struct {
	consolidator *Consolidator
	interval     time.Duration
	logger       *slog.Logger
}

// NewScheduler creates a consolidation scheduler. A non-positive interval
// falls back to the default.
func NewScheduler(consolidator *Consolidator, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultConsolidateInterval
	}
	return &Scheduler{
		consolidator: consolidator,
		interval:     interval,
		logger:       logger,
	}
}

// Run blocks until ctx is canceled, running a full consolidation sweep on
// each tick. Callers must track the goroutine with a WaitGroup.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce executes a single sweep.
func (s *Scheduler) runOnce(ctx context.Context) {
	stats, err := s.consolidator.ConsolidateAll(ctx)
	if err != nil {
		s.logger.Warn("scheduled consolidation failed", "error", err)
		return
	}
	if stats.Merged > 0 || stats.Separated > 0 || stats.SemanticCreated > 0 {
		s.logger.Info("scheduled consolidation complete",
			"merged", stats.Merged,
			"separated", stats.Separated,
			"semantic_created", stats.SemanticCreated,
			"failures", len(stats.Failures))
	}
}
