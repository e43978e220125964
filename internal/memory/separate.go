package memory

import (
	"context"
	"fmt"
	"log/slog"
)

// Separator applies a separation decision: it rewrites two
// similar-but-distinct records so their distinguishing details are
// explicit, then updates both rows in place. It never deletes and never
// changes the record count.
type Separator struct {
	store    Store
	embedder Embedder
	decider  Decider
	logger   *slog.Logger
}

// NewSeparator creates a separation executor.
func NewSeparator(store Store, embedder Embedder, decider Decider, logger *slog.Logger) *Separator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Separator{store: store, embedder: embedder, decider: decider, logger: logger}
}

// Separate rewrites the pair's free-text descriptions via the rewrite
// collaborator and writes both rows back. Immutable fields (id, user,
// timestamp, chat id, group id) are always preserved from the originals;
// only text and its embedding change. A record whose text comes back
// unchanged or empty is not rewritten.
func (s *Separator) Separate(ctx context.Context, a, b Record) error {
	out, err := s.decider.SeparateText(ctx, a, b)
	if err != nil {
		return fmt.Errorf("separation collaborator: %w", err)
	}

	if err := s.rewrite(ctx, a, out.TextA); err != nil {
		return fmt.Errorf("rewriting memory %d: %w", a.ID, err)
	}
	if err := s.rewrite(ctx, b, out.TextB); err != nil {
		return fmt.Errorf("rewriting memory %d: %w", b.ID, err)
	}

	s.logger.Debug("separated memories", "id_a", a.ID, "id_b", b.ID)
	return nil
}

// rewrite updates one record's text and embedding in place, keeping every
// other field from the original.
func (s *Separator) rewrite(ctx context.Context, rec Record, newText string) error {
	if newText == "" || newText == rec.Text {
		return nil
	}

	vectors, err := s.embedder.Encode(ctx, []string{newText})
	if err != nil {
		return fmt.Errorf("embedding rewritten text: %w", err)
	}
	if len(vectors) == 0 {
		return fmt.Errorf("empty embedding for rewritten text")
	}

	rec.Text = newText
	rec.Vector = vectors[0]
	if err := s.store.Update(ctx, rec); err != nil {
		return fmt.Errorf("updating record: %w", err)
	}
	return nil
}
