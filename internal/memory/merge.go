package memory

import (
	"context"
	"fmt"
	"log/slog"
)

// Merger applies a merge decision: it synthesizes one consolidated record
// from two near-duplicates and commits it to the store.
//
// Commit protocol: delete both originals, then insert the merged row. A
// completed merge always changes the scope's record count by exactly -1.
// If the insert fails after the deletes, the pair is lost and the error
// is surfaced to the caller's failure list; this component does not retry.
type Merger struct {
	store    Store
	embedder Embedder
	decider  Decider
	logger   *slog.Logger
}

// NewMerger creates a merge executor.
func NewMerger(store Store, embedder Embedder, decider Decider, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{store: store, embedder: embedder, decider: decider, logger: logger}
}

// Merge consolidates records a and b into one. Callers are expected to
// have already classified the pair as a merge candidate and verified the
// time-window constraints.
//
// The merged row takes the earlier timestamp, a's chat id unless the
// collaborator overrides it, and the collaborator's text. When the
// collaborator fails, both texts are concatenated so neither side's
// content is silently dropped.
func (m *Merger) Merge(ctx context.Context, a, b Record) (Record, error) {
	merged := Record{
		UserID:  a.UserID,
		Type:    TypeEpisodic,
		TS:      minTS(a.TS, b.TS),
		ChatID:  a.ChatID,
		GroupID: Ungrouped,
	}

	out, err := m.decider.MergeText(ctx, a, b)
	switch {
	case err != nil:
		m.logger.Warn("merge collaborator failed, falling back to concatenation",
			"id_a", a.ID, "id_b", b.ID, "error", err)
		merged.Text = concatTexts(a.Text, b.Text)
	case out.Text == "":
		merged.Text = concatTexts(a.Text, b.Text)
	default:
		merged.Text = out.Text
		if out.ChatID != "" {
			merged.ChatID = out.ChatID
		}
	}

	vectors, err := m.embedder.Encode(ctx, []string{merged.Text})
	if err != nil {
		return Record{}, fmt.Errorf("embedding merged text: %w", err)
	}
	if len(vectors) == 0 {
		return Record{}, fmt.Errorf("empty embedding for merged text")
	}
	merged.Vector = vectors[0]

	if _, err := m.store.Delete(ctx, a.ID, b.ID); err != nil {
		return Record{}, fmt.Errorf("deleting originals %d, %d: %w", a.ID, b.ID, err)
	}

	ids, err := m.store.Insert(ctx, []Record{merged})
	if err != nil {
		// Originals are already gone; surface as fatal for this pair.
		return Record{}, fmt.Errorf("inserting merged record after deleting %d, %d: %w", a.ID, b.ID, err)
	}
	if len(ids) > 0 {
		merged.ID = ids[0]
	}

	m.logger.Debug("merged memories",
		"id_a", a.ID, "id_b", b.ID, "merged_id", merged.ID, "ts", merged.TS)
	return merged, nil
}

func minTS(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func concatTexts(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
