package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Writer is the gated ingestion path for episodic memories. A
// conversation exchange only produces rows when the write decider says it
// contains something worth remembering; most exchanges produce nothing.
type Writer struct {
	store    Store
	embedder Embedder
	decider  Decider
	logger   *slog.Logger
	now      func() time.Time
}

// NewWriter builds the ingestion path.
func NewWriter(store Store, embedder Embedder, decider Decider, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		store:    store,
		embedder: embedder,
		decider:  decider,
		logger:   logger,
		now:      time.Now,
	}
}

// Add evaluates a conversation exchange and stores any episodic records
// the decider extracts from it. It returns the ids of the inserted rows;
// an empty slice with a nil error means the exchange was judged not worth
// storing.
func (w *Writer) Add(ctx context.Context, userID, chatID string, turns []Turn) ([]int64, error) {
	if len(turns) == 0 {
		return nil, nil
	}

	decision, err := w.decider.DecideWrite(ctx, turns)
	if err != nil {
		return nil, fmt.Errorf("write decision: %w", err)
	}
	if !decision.Write || len(decision.Records) == 0 {
		w.logger.Debug("exchange skipped by write decider", "user_id", userID, "chat_id", chatID)
		return nil, nil
	}

	vectors, err := w.embedder.Encode(ctx, decision.Records)
	if err != nil {
		return nil, fmt.Errorf("embedding records: %w", err)
	}
	if len(vectors) != len(decision.Records) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d records", len(vectors), len(decision.Records))
	}

	ts := w.now().Unix()
	rows := make([]Record, len(decision.Records))
	for i, text := range decision.Records {
		rows[i] = Record{
			UserID:  userID,
			Type:    TypeEpisodic,
			TS:      ts,
			ChatID:  chatID,
			Text:    text,
			Vector:  vectors[i],
			GroupID: Ungrouped,
		}
	}

	ids, err := w.store.Insert(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("inserting episodic records: %w", err)
	}

	w.logger.Info("stored episodic memories",
		"user_id", userID, "chat_id", chatID, "count", len(ids))
	return ids, nil
}
