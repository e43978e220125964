package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Options carries the tunable thresholds and caps for a System. Zero
// values fall back to the package defaults.
type Options struct {
	MergeHigh      float64
	AmbiguousLow   float64
	GroupThreshold float64
	SameChatWindow int64 // seconds
	DiffChatWindow int64 // seconds
	KSemantic      int
	KEpisodic      int
	TopN           int
	ScanLimit      int
}

// System bundles the memory engine's operations behind one entry point:
// gated ingestion, ranked search, batch consolidation, usage-driven
// narrative grouping, and deletion with group maintenance.
type System struct {
	store  Store
	groups GroupStore

	Writer         *Writer
	Searcher       *Searcher
	Consolidator   *Consolidator
	Grouper        *Grouper
	Reconsolidator *Reconsolidator

	logger *slog.Logger
}

// NewSystem wires the full engine from its collaborators.
func NewSystem(store Store, groups GroupStore, embedder Embedder, decider Decider,
	opts Options, logger *slog.Logger) *System {

	if logger == nil {
		logger = slog.Default()
	}

	classifier := NewClassifier(opts.MergeHigh, opts.AmbiguousLow)
	constraints := NewConstraintChecker(opts.SameChatWindow, opts.DiffChatWindow)
	grouper := NewGrouper(store, groups, opts.GroupThreshold, logger)

	return &System{
		store:          store,
		groups:         groups,
		Writer:         NewWriter(store, embedder, decider, logger),
		Searcher:       NewSearcher(store, embedder, opts.KSemantic, opts.KEpisodic, logger),
		Consolidator:   NewConsolidator(store, embedder, decider, classifier, constraints, opts.TopN, opts.ScanLimit, logger),
		Grouper:        grouper,
		Reconsolidator: NewReconsolidator(decider, grouper, logger),
		logger:         logger,
	}
}

// Add stores episodic records extracted from a conversation exchange.
func (s *System) Add(ctx context.Context, userID, chatID string, turns []Turn) ([]int64, error) {
	return s.Writer.Add(ctx, userID, chatID, turns)
}

// Search returns ranked memories for a query.
func (s *System) Search(ctx context.Context, userID, query string, limit int) ([]Hit, error) {
	return s.Searcher.Search(ctx, userID, query, limit)
}

// Consolidate runs a consolidation pass for one user.
func (s *System) Consolidate(ctx context.Context, userID string) (Stats, error) {
	return s.Consolidator.Consolidate(ctx, userID)
}

// Observe feeds a completed exchange back into narrative grouping.
func (s *System) Observe(ctx context.Context, userID string, usage UsageContext) (map[int64]int64, error) {
	return s.Reconsolidator.Observe(ctx, userID, usage)
}

// Delete removes memories by id and restores the invariants of any
// narrative group that lost a member: surviving groups get their centroid
// and size recomputed, emptied groups are removed. Ids that do not exist
// are skipped.
func (s *System) Delete(ctx context.Context, userID string, ids ...int64) (int64, error) {
	affected := make(map[int64]bool)
	existing := make([]int64, 0, len(ids))

	for _, id := range ids {
		rec, err := s.store.Get(ctx, id, userID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("loading memory %d: %w", id, err)
		}
		existing = append(existing, id)
		if rec.GroupID != Ungrouped {
			affected[rec.GroupID] = true
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}

	deleted, err := s.store.Delete(ctx, existing...)
	if err != nil {
		return 0, fmt.Errorf("deleting memories: %w", err)
	}

	for groupID := range affected {
		if err := s.Grouper.Maintain(ctx, userID, groupID); err != nil {
			// The rows are already gone; a stale centroid self-corrects on
			// the group's next mutation.
			s.logger.Warn("group maintenance failed after delete",
				"user_id", userID, "group_id", groupID, "error", err)
		}
	}

	s.logger.Info("deleted memories", "user_id", userID, "count", deleted)
	return deleted, nil
}

// Reset wipes all of a user's memories and narrative groups. Returns the
// number of memory rows removed.
func (s *System) Reset(ctx context.Context, userID string) (int64, error) {
	deleted, err := s.store.DeleteWhere(ctx, Filter{UserID: userID})
	if err != nil {
		return 0, fmt.Errorf("deleting memories: %w", err)
	}
	groups, err := s.groups.DeleteGroups(ctx, userID)
	if err != nil {
		return deleted, fmt.Errorf("deleting groups: %w", err)
	}

	s.logger.Info("reset user memory", "user_id", userID, "memories", deleted, "groups", groups)
	return deleted, nil
}
