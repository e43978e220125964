package memory

import (
	"context"
	"fmt"
	"log/slog"
)

// Reconsolidator closes the retrieval feedback loop: after a reply has
// been produced with retrieved episodic candidates, it asks the decider
// which candidates were actually used and clusters those into narrative
// groups. Memories that are repeatedly used together end up in the same
// storyline.
type Reconsolidator struct {
	decider Decider
	grouper *Grouper
	logger  *slog.Logger
}

// NewReconsolidator wires the usage-driven grouping path.
func NewReconsolidator(decider Decider, grouper *Grouper, logger *slog.Logger) *Reconsolidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconsolidator{decider: decider, grouper: grouper, logger: logger}
}

// Observe judges which episodic candidates in usage were used for the
// reply and assigns them to narrative groups. It returns the
// memory-to-group mapping for the used candidates. Out-of-range indices
// from the decider are dropped.
func (r *Reconsolidator) Observe(ctx context.Context, userID string, usage UsageContext) (map[int64]int64, error) {
	if len(usage.Episodic) == 0 {
		return nil, nil
	}

	indices, err := r.decider.JudgeUsed(ctx, usage)
	if err != nil {
		return nil, fmt.Errorf("usage judgment: %w", err)
	}

	seen := make(map[int64]bool, len(indices))
	usedIDs := make([]int64, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(usage.Episodic) {
			r.logger.Warn("usage judgment returned out-of-range index",
				"index", idx, "candidates", len(usage.Episodic))
			continue
		}
		id := usage.Episodic[idx].ID
		if seen[id] {
			continue
		}
		seen[id] = true
		usedIDs = append(usedIDs, id)
	}
	if len(usedIDs) == 0 {
		return nil, nil
	}

	assigned, failed, err := r.grouper.Assign(ctx, userID, usedIDs)
	if err != nil {
		return nil, fmt.Errorf("assigning used memories: %w", err)
	}
	if len(failed) > 0 {
		r.logger.Warn("some used memories were not assigned",
			"user_id", userID, "failed", len(failed))
	}

	r.logger.Debug("usage-driven grouping complete",
		"user_id", userID, "used", len(usedIDs), "assigned", len(assigned))
	return assigned, nil
}
