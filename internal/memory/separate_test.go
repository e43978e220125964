package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/koopa0/recall/internal/memory"
	"github.com/koopa0/recall/internal/testutil"
)

func TestSeparate(t *testing.T) {
	ctx := context.Background()
	logger := testutil.DiscardLogger()

	base := memory.Record{
		UserID: "u1", Type: memory.TypeEpisodic, ChatID: "c1",
		Vector: []float32{1, 0}, GroupID: memory.Ungrouped,
	}

	t.Run("rewrites text and embedding only", func(t *testing.T) {
		store := testutil.NewMemStore()
		a, b := base, base
		a.Text, a.TS, a.GroupID = "meeting with Sam", 100, 7
		b.Text, b.TS = "meeting with Sam about hiring", 200
		a, b = seedPair(t, store, a, b)

		embedder := testutil.NewFakeEmbedder()
		embedder.Vectors["the budget meeting with Sam"] = []float32{0, 1}

		s := memory.NewSeparator(store, embedder, &testutil.ScriptedDecider{
			SeparateFn: func(_, _ memory.Record) (memory.SeparateText, error) {
				return memory.SeparateText{
					TextA: "the budget meeting with Sam",
					TextB: "the hiring meeting with Sam",
				}, nil
			},
		}, logger)

		if err := s.Separate(ctx, a, b); err != nil {
			t.Fatalf("Separate: %v", err)
		}

		gotA, _ := store.Record(a.ID)
		if gotA.Text != "the budget meeting with Sam" {
			t.Errorf("a.Text = %q, want rewritten text", gotA.Text)
		}
		if gotA.Vector[0] != 0 || gotA.Vector[1] != 1 {
			t.Errorf("a.Vector = %v, want re-embedded [0 1]", gotA.Vector)
		}
		// Immutable fields survive the rewrite.
		if gotA.TS != 100 || gotA.ChatID != "c1" || gotA.UserID != "u1" || gotA.GroupID != 7 {
			t.Errorf("immutable fields changed: %+v", gotA)
		}

		gotB, _ := store.Record(b.ID)
		if gotB.Text != "the hiring meeting with Sam" {
			t.Errorf("b.Text = %q, want rewritten text", gotB.Text)
		}
	})

	t.Run("record count unchanged", func(t *testing.T) {
		store := testutil.NewMemStore()
		a, b := base, base
		a.Text, b.Text = "x", "y"
		a, b = seedPair(t, store, a, b)

		s := memory.NewSeparator(store, testutil.NewFakeEmbedder(), &testutil.ScriptedDecider{
			SeparateFn: func(_, _ memory.Record) (memory.SeparateText, error) {
				return memory.SeparateText{TextA: "x, not y", TextB: "y, not x"}, nil
			},
		}, logger)

		if err := s.Separate(ctx, a, b); err != nil {
			t.Fatalf("Separate: %v", err)
		}
		count, _ := store.Count(ctx, memory.Filter{UserID: "u1"})
		if count != 2 {
			t.Errorf("record count = %d, want 2", count)
		}
	})

	t.Run("unchanged or empty text is a no-op", func(t *testing.T) {
		store := testutil.NewMemStore()
		a, b := base, base
		a.Text, b.Text = "left alone", "also left alone"
		a, b = seedPair(t, store, a, b)

		embedder := testutil.NewFakeEmbedder()
		embedder.Err = errors.New("must not be called")

		s := memory.NewSeparator(store, embedder, &testutil.ScriptedDecider{
			SeparateFn: func(a, _ memory.Record) (memory.SeparateText, error) {
				// A returns its own text, B comes back empty.
				return memory.SeparateText{TextA: a.Text, TextB: ""}, nil
			},
		}, logger)

		if err := s.Separate(ctx, a, b); err != nil {
			t.Fatalf("Separate: %v", err)
		}
		gotA, _ := store.Record(a.ID)
		gotB, _ := store.Record(b.ID)
		if gotA.Text != "left alone" || gotB.Text != "also left alone" {
			t.Error("no-op separation mutated texts")
		}
	})

	t.Run("collaborator failure is surfaced", func(t *testing.T) {
		store := testutil.NewMemStore()
		a, b := base, base
		a.Text, b.Text = "x", "y"
		a, b = seedPair(t, store, a, b)

		s := memory.NewSeparator(store, testutil.NewFakeEmbedder(), &testutil.ScriptedDecider{
			SeparateFn: func(_, _ memory.Record) (memory.SeparateText, error) {
				return memory.SeparateText{}, errors.New("model unavailable")
			},
		}, logger)

		if err := s.Separate(ctx, a, b); err == nil {
			t.Fatal("Separate succeeded despite collaborator failure")
		}
	})
}
