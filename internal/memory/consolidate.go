package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Defaults for the consolidation scan.
const (
	// DefaultTopN is the candidate fan-out per source memory.
	DefaultTopN = 10

	// DefaultScanLimit caps the number of episodic memories pulled per
	// consolidation scope.
	DefaultScanLimit = 1000
)

// tracer instruments consolidation runs; spans are no-ops unless the
// process installed a tracer provider.
var tracer = otel.Tracer("github.com/koopa0/recall/internal/memory")

// Consolidator drives a two-phase batch run over one user's episodic
// memories:
//
//	phase 1: scan for near-duplicate pairs to merge and ambiguous pairs
//	         to separate;
//	phase 2: re-query the (now mutated) episodic set and promote stable
//	         facts to the semantic tier.
//
// Any error while processing one record or pair is caught, logged, and
// recorded in the returned Stats; a single failure never aborts the
// scope. Re-running a scope is safe: completed merges and separations
// are already reflected in the store.
type Consolidator struct {
	store    Store
	embedder Embedder
	decider  Decider

	classifier  Classifier
	constraints ConstraintChecker
	merger      *Merger
	separator   *Separator

	topN      int
	scanLimit int
	logger    *slog.Logger
	now       func() time.Time
}

// NewConsolidator wires a consolidation orchestrator. topN and scanLimit
// fall back to defaults when non-positive.
func NewConsolidator(store Store, embedder Embedder, decider Decider,
	classifier Classifier, constraints ConstraintChecker,
	topN, scanLimit int, logger *slog.Logger) *Consolidator {

	if logger == nil {
		logger = slog.Default()
	}
	if topN <= 0 {
		topN = DefaultTopN
	}
	if scanLimit <= 0 {
		scanLimit = DefaultScanLimit
	}
	return &Consolidator{
		store:       store,
		embedder:    embedder,
		decider:     decider,
		classifier:  classifier,
		constraints: constraints,
		merger:      NewMerger(store, embedder, decider, logger),
		separator:   NewSeparator(store, embedder, decider, logger),
		topN:        topN,
		scanLimit:   scanLimit,
		logger:      logger,
		now:         time.Now,
	}
}

// Consolidate runs both phases for a single user scope and returns the
// accumulated stats.
func (c *Consolidator) Consolidate(ctx context.Context, userID string) (Stats, error) {
	ctx, span := tracer.Start(ctx, "memory.Consolidate")
	span.SetAttributes(attribute.String("user_id", userID))
	defer span.End()

	var stats Stats

	if err := c.scanMergeSeparate(ctx, userID, &stats); err != nil {
		return stats, err
	}
	if err := c.extractSemantic(ctx, userID, &stats); err != nil {
		return stats, err
	}

	c.logger.Info("consolidation complete",
		"user_id", userID,
		"processed", stats.Processed,
		"merged", stats.Merged,
		"separated", stats.Separated,
		"semantic_created", stats.SemanticCreated,
		"failures", len(stats.Failures))
	return stats, nil
}

// ConsolidateAll runs Consolidate once per distinct user so a crash only
// loses one user's partial progress. Per-user stats are summed.
func (c *Consolidator) ConsolidateAll(ctx context.Context) (Stats, error) {
	users, err := c.store.Users(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("listing users: %w", err)
	}

	var total Stats
	for _, user := range users {
		stats, err := c.Consolidate(ctx, user)
		total.Processed += stats.Processed
		total.Merged += stats.Merged
		total.Separated += stats.Separated
		total.SemanticCreated += stats.SemanticCreated
		total.Failures = append(total.Failures, stats.Failures...)
		if err != nil {
			// One user's scope failure should not starve the rest.
			c.logger.Warn("consolidation scope failed", "user_id", user, "error", err)
			total.Failures = append(total.Failures, ItemFailure{Err: fmt.Errorf("user %s: %w", user, err)})
		}
	}
	return total, nil
}

// scanMergeSeparate is phase 1: for each unprocessed episodic memory,
// fetch top-N similar candidates, classify them, and apply first-match
// merge or pairwise separation.
func (c *Consolidator) scanMergeSeparate(ctx context.Context, userID string, stats *Stats) error {
	ctx, span := tracer.Start(ctx, "memory.scanMergeSeparate")
	defer span.End()

	records, err := c.store.Query(ctx, Filter{UserID: userID, Type: TypeEpisodic}, c.scanLimit)
	if err != nil {
		return fmt.Errorf("querying episodic memories: %w", err)
	}

	processed := make(map[int64]bool, len(records))
	separated := make(map[pairKey]bool)

	for _, rec := range records {
		if processed[rec.ID] {
			continue
		}
		stats.Processed++

		if err := c.processOne(ctx, userID, rec, processed, separated, stats); err != nil {
			c.logger.Warn("consolidation item failed", "memory_id", rec.ID, "error", err)
			stats.Failures = append(stats.Failures, ItemFailure{MemoryID: rec.ID, Err: err})
		}
		processed[rec.ID] = true
	}
	return nil
}

// processOne handles a single source memory in phase 1.
func (c *Consolidator) processOne(ctx context.Context, userID string, rec Record,
	processed map[int64]bool, separated map[pairKey]bool, stats *Stats) error {

	exclude := make([]int64, 0, len(processed)+1)
	exclude = append(exclude, rec.ID)
	for id := range processed {
		exclude = append(exclude, id)
	}

	hits, err := c.store.Search(ctx, rec.Vector,
		Filter{UserID: userID, Type: TypeEpisodic, ExcludeIDs: exclude}, c.topN)
	if err != nil {
		return fmt.Errorf("searching candidates: %w", err)
	}

	buckets := c.classifier.Classify(hits)

	// First-match merge policy: attempt the first merge candidate whose
	// constraints pass, then move on. Remaining merge candidates for this
	// source are intentionally skipped, not evaluated.
	for _, cand := range buckets.Merge {
		verdict := c.constraints.Check(rec, cand.Record)
		if !verdict.CanMerge {
			c.logger.Debug("merge constraints rejected pair",
				"id_a", rec.ID, "id_b", cand.ID, "reason", verdict.Reason)
			continue
		}

		// Both ids are consumed by the attempt whether or not it
		// succeeds: after the commit protocol starts, the originals must
		// not be reused within this run.
		processed[rec.ID] = true
		processed[cand.ID] = true

		if _, err := c.merger.Merge(ctx, rec, cand.Record); err != nil {
			return fmt.Errorf("merging %d with %d: %w", rec.ID, cand.ID, err)
		}
		stats.Merged++
		return nil
	}

	// No merge happened; separate against the ambiguous tier, skipping
	// pairs already handled in this run.
	for _, cand := range buckets.Separate {
		key := makePairKey(rec.ID, cand.ID)
		if separated[key] {
			continue
		}
		separated[key] = true

		if err := c.separator.Separate(ctx, rec, cand.Record); err != nil {
			c.logger.Warn("separation failed", "id_a", rec.ID, "id_b", cand.ID, "error", err)
			stats.Failures = append(stats.Failures, ItemFailure{MemoryID: cand.ID, Err: err})
			continue
		}
		stats.Separated++
	}
	return nil
}

// extractSemantic is phase 2: re-query the episodic scope (reflecting
// phase-1 mutations) and promote extracted facts to semantic rows.
func (c *Consolidator) extractSemantic(ctx context.Context, userID string, stats *Stats) error {
	ctx, span := tracer.Start(ctx, "memory.extractSemantic")
	defer span.End()

	records, err := c.store.Query(ctx, Filter{UserID: userID, Type: TypeEpisodic}, c.scanLimit)
	if err != nil {
		return fmt.Errorf("re-querying episodic memories: %w", err)
	}

	for _, rec := range records {
		n, err := c.extractFrom(ctx, rec)
		if err != nil {
			c.logger.Warn("fact extraction failed", "memory_id", rec.ID, "error", err)
			stats.Failures = append(stats.Failures, ItemFailure{MemoryID: rec.ID, Err: err})
			continue
		}
		stats.SemanticCreated += n
	}
	return nil
}

// extractFrom extracts facts from one episodic record and inserts one
// semantic row per fact. Returns the number of rows created.
func (c *Consolidator) extractFrom(ctx context.Context, rec Record) (int, error) {
	extraction, err := c.decider.ExtractFacts(ctx, rec)
	if err != nil {
		return 0, fmt.Errorf("fact extraction collaborator: %w", err)
	}
	if !extraction.Write || len(extraction.Facts) == 0 {
		return 0, nil
	}

	vectors, err := c.embedder.Encode(ctx, extraction.Facts)
	if err != nil {
		return 0, fmt.Errorf("embedding facts: %w", err)
	}
	if len(vectors) != len(extraction.Facts) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d facts", len(vectors), len(extraction.Facts))
	}

	now := c.now().Unix()
	rows := make([]Record, len(extraction.Facts))
	for i, fact := range extraction.Facts {
		rows[i] = Record{
			UserID:  rec.UserID,
			Type:    TypeSemantic,
			TS:      now,
			ChatID:  rec.ChatID,
			Text:    fact,
			Vector:  vectors[i],
			GroupID: Ungrouped,
		}
	}
	if _, err := c.store.Insert(ctx, rows); err != nil {
		return 0, fmt.Errorf("inserting semantic rows: %w", err)
	}
	return len(rows), nil
}

// pairKey identifies an unordered id pair within one consolidation run.
type pairKey struct{ lo, hi int64 }

func makePairKey(a, b int64) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}
