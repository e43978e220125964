package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/koopa0/recall/internal/memory"
	"github.com/koopa0/recall/internal/testutil"
)

func TestSearch(t *testing.T) {
	ctx := context.Background()
	logger := testutil.DiscardLogger()
	now := time.Now().Unix()

	t.Run("pulls both tiers and ranks semantic first at equal distance", func(t *testing.T) {
		store := testutil.NewMemStore()
		embedder := testutil.NewFakeEmbedder()
		embedder.Vectors["where do I live"] = []float32{1, 0}

		_, err := store.Insert(ctx, []memory.Record{
			{UserID: "u1", Type: memory.TypeSemantic, Text: "lives in Lisbon", TS: now, Vector: []float32{1, 0}, GroupID: memory.Ungrouped},
			{UserID: "u1", Type: memory.TypeEpisodic, Text: "mentioned the Lisbon flat", TS: now, ChatID: "c1", Vector: []float32{1, 0}, GroupID: memory.Ungrouped},
		})
		if err != nil {
			t.Fatalf("seeding: %v", err)
		}

		s := memory.NewSearcher(store, embedder, 0, 0, logger)
		hits, err := s.Search(ctx, "u1", "where do I live", 10)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}

		if len(hits) != 2 {
			t.Fatalf("hits = %d, want 2", len(hits))
		}
		if hits[0].Type != memory.TypeSemantic {
			t.Errorf("first hit type = %q, want semantic boost to win the tie", hits[0].Type)
		}
	})

	t.Run("per-tier caps apply before ranking", func(t *testing.T) {
		store := testutil.NewMemStore()
		embedder := testutil.NewFakeEmbedder()
		embedder.Vectors["query"] = []float32{1, 0}

		var rows []memory.Record
		for i := 0; i < 10; i++ {
			rows = append(rows, memory.Record{
				UserID: "u1", Type: memory.TypeEpisodic, Text: "event", TS: now,
				ChatID: "c1", Vector: []float32{1, 0}, GroupID: memory.Ungrouped,
			})
		}
		if _, err := store.Insert(ctx, rows); err != nil {
			t.Fatalf("seeding: %v", err)
		}

		s := memory.NewSearcher(store, embedder, 5, 3, logger)
		hits, err := s.Search(ctx, "u1", "query", 0)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(hits) != 3 {
			t.Errorf("hits = %d, want episodic cap of 3", len(hits))
		}
	})

	t.Run("overall limit truncates after ranking", func(t *testing.T) {
		store := testutil.NewMemStore()
		embedder := testutil.NewFakeEmbedder()
		embedder.Vectors["query"] = []float32{1, 0}

		_, err := store.Insert(ctx, []memory.Record{
			{UserID: "u1", Type: memory.TypeSemantic, Text: "fact", TS: now, Vector: []float32{1, 0}, GroupID: memory.Ungrouped},
			{UserID: "u1", Type: memory.TypeEpisodic, Text: "event", TS: now, ChatID: "c1", Vector: []float32{1, 0}, GroupID: memory.Ungrouped},
		})
		if err != nil {
			t.Fatalf("seeding: %v", err)
		}

		s := memory.NewSearcher(store, embedder, 0, 0, logger)
		hits, err := s.Search(ctx, "u1", "query", 1)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(hits) != 1 {
			t.Fatalf("hits = %d, want 1", len(hits))
		}
		if hits[0].Type != memory.TypeSemantic {
			t.Errorf("surviving hit = %q, want the top-ranked semantic row", hits[0].Type)
		}
	})

	t.Run("scoped to the requesting user", func(t *testing.T) {
		store := testutil.NewMemStore()
		embedder := testutil.NewFakeEmbedder()
		embedder.Vectors["query"] = []float32{1, 0}

		_, err := store.Insert(ctx, []memory.Record{
			{UserID: "u2", Type: memory.TypeEpisodic, Text: "someone else's memory", TS: now, ChatID: "c1", Vector: []float32{1, 0}, GroupID: memory.Ungrouped},
		})
		if err != nil {
			t.Fatalf("seeding: %v", err)
		}

		s := memory.NewSearcher(store, embedder, 0, 0, logger)
		hits, err := s.Search(ctx, "u1", "query", 10)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(hits) != 0 {
			t.Errorf("hits = %d, want 0 for a user with no memories", len(hits))
		}
	})
}
