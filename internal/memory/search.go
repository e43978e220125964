package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Default per-tier retrieval caps for search.
const (
	DefaultKSemantic = 5
	DefaultKEpisodic = 5
)

// Searcher retrieves memories for a query: a capped number of candidates
// from each tier, reranked by combined similarity, type, and recency.
type Searcher struct {
	store    Store
	embedder Embedder

	kSemantic int
	kEpisodic int
	logger    *slog.Logger
	now       func() time.Time
}

// NewSearcher builds the retrieval path. Non-positive per-tier caps fall
// back to defaults.
func NewSearcher(store Store, embedder Embedder, kSemantic, kEpisodic int, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	if kSemantic <= 0 {
		kSemantic = DefaultKSemantic
	}
	if kEpisodic <= 0 {
		kEpisodic = DefaultKEpisodic
	}
	return &Searcher{
		store:     store,
		embedder:  embedder,
		kSemantic: kSemantic,
		kEpisodic: kEpisodic,
		logger:    logger,
		now:       time.Now,
	}
}

// Search embeds the query, pulls up to kSemantic semantic and kEpisodic
// episodic candidates, and returns them ranked by score. A non-positive
// limit returns the full reranked candidate set.
func (s *Searcher) Search(ctx context.Context, userID, query string, limit int) ([]Hit, error) {
	vectors, err := s.embedder.Encode(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding for query")
	}
	vec := vectors[0]

	semantic, err := s.store.Search(ctx, vec, Filter{UserID: userID, Type: TypeSemantic}, s.kSemantic)
	if err != nil {
		return nil, fmt.Errorf("searching semantic tier: %w", err)
	}
	episodic, err := s.store.Search(ctx, vec, Filter{UserID: userID, Type: TypeEpisodic}, s.kEpisodic)
	if err != nil {
		return nil, fmt.Errorf("searching episodic tier: %w", err)
	}

	hits := Rank(append(semantic, episodic...), s.now())
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	s.logger.Debug("search complete",
		"user_id", userID, "semantic", len(semantic), "episodic", len(episodic), "returned", len(hits))
	return hits, nil
}
