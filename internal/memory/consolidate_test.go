package memory_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/koopa0/recall/internal/memory"
	"github.com/koopa0/recall/internal/testutil"
)

func newConsolidator(store *testutil.MemStore, decider memory.Decider) *memory.Consolidator {
	return memory.NewConsolidator(
		store, testutil.NewFakeEmbedder(), decider,
		memory.NewClassifier(0, 0), memory.NewConstraintChecker(0, 0),
		0, 0, testutil.DiscardLogger())
}

func episodic(user, chat, text string, ts int64, vec []float32) memory.Record {
	return memory.Record{
		UserID: user, Type: memory.TypeEpisodic, ChatID: chat,
		Text: text, TS: ts, Vector: vec, GroupID: memory.Ungrouped,
	}
}

func TestConsolidateMergesNearDuplicates(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()

	// Identical vectors: similarity 1.0, same chat, 60s apart.
	_, err := store.Insert(ctx, []memory.Record{
		episodic("u1", "c1", "ordered ramen at noon", 1000, []float32{1, 0}),
		episodic("u1", "c1", "had ramen for lunch", 1060, []float32{1, 0}),
	})
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}

	c := newConsolidator(store, &testutil.ScriptedDecider{
		MergeFn: func(_, _ memory.Record) (memory.MergeText, error) {
			return memory.MergeText{Text: "had ramen for lunch at noon"}, nil
		},
	})

	stats, err := c.Consolidate(ctx, "u1")
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}

	if stats.Merged != 1 {
		t.Errorf("Merged = %d, want 1", stats.Merged)
	}
	if len(stats.Failures) != 0 {
		t.Errorf("Failures = %v, want none", stats.Failures)
	}

	count, _ := store.Count(ctx, memory.Filter{UserID: "u1", Type: memory.TypeEpisodic})
	if count != 1 {
		t.Errorf("episodic count = %d, want 1 after merge", count)
	}

	survivors, _ := store.Query(ctx, memory.Filter{UserID: "u1"}, 0)
	if survivors[0].Text != "had ramen for lunch at noon" {
		t.Errorf("surviving text = %q, want merged text", survivors[0].Text)
	}
	if survivors[0].TS != 1000 {
		t.Errorf("surviving TS = %d, want 1000 (min of pair)", survivors[0].TS)
	}
}

func TestConsolidateRespectsTimeWindow(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()

	// Near-duplicates in the same chat but 10000s apart: outside the
	// same-chat window, so the merge is rejected and both survive.
	_, err := store.Insert(ctx, []memory.Record{
		episodic("u1", "c1", "morning standup", 0, []float32{1, 0}),
		episodic("u1", "c1", "the standup", 10000, []float32{1, 0}),
	})
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}

	c := newConsolidator(store, &testutil.ScriptedDecider{})

	stats, err := c.Consolidate(ctx, "u1")
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}

	if stats.Merged != 0 {
		t.Errorf("Merged = %d, want 0", stats.Merged)
	}
	count, _ := store.Count(ctx, memory.Filter{UserID: "u1"})
	if count != 2 {
		t.Errorf("count = %d, want 2 (pair preserved)", count)
	}
}

func TestConsolidateSeparatesAmbiguousPairOnce(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()

	// cos(angle) = 0.7: inside the ambiguous band [0.65, 0.85).
	ambiguous := []float32{0.7, float32(math.Sqrt(1 - 0.49))}
	_, err := store.Insert(ctx, []memory.Record{
		episodic("u1", "c1", "dinner with Alex", 1000, []float32{1, 0}),
		episodic("u1", "c2", "dinner with Alex's team", 2000, ambiguous),
	})
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}

	var separateCalls int
	c := newConsolidator(store, &testutil.ScriptedDecider{
		SeparateFn: func(a, b memory.Record) (memory.SeparateText, error) {
			separateCalls++
			return memory.SeparateText{
				TextA: a.Text + " (just the two of us)",
				TextB: b.Text + " (group event)",
			}, nil
		},
	})

	stats, err := c.Consolidate(ctx, "u1")
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}

	if stats.Separated != 1 {
		t.Errorf("Separated = %d, want 1", stats.Separated)
	}
	if separateCalls != 1 {
		t.Errorf("separation collaborator called %d times, want 1 per pair", separateCalls)
	}
	if stats.Merged != 0 {
		t.Errorf("Merged = %d, want 0", stats.Merged)
	}

	count, _ := store.Count(ctx, memory.Filter{UserID: "u1"})
	if count != 2 {
		t.Errorf("count = %d, want 2 (separation never deletes)", count)
	}

	records, _ := store.Query(ctx, memory.Filter{UserID: "u1"}, 0)
	for _, rec := range records {
		if rec.Text == "dinner with Alex" || rec.Text == "dinner with Alex's team" {
			t.Errorf("record %d text not rewritten: %q", rec.ID, rec.Text)
		}
	}
}

func TestConsolidateExtractsSemanticFacts(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()

	_, err := store.Insert(ctx, []memory.Record{
		episodic("u1", "c9", "moved to Lisbon last month and loves it", 1000, []float32{1, 0}),
	})
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}

	c := newConsolidator(store, &testutil.ScriptedDecider{
		ExtractFn: func(rec memory.Record) (memory.FactExtraction, error) {
			return memory.FactExtraction{
				Write: true,
				Facts: []string{"lives in Lisbon", "enjoys living in Lisbon"},
			}, nil
		},
	})

	before := time.Now().Unix()
	stats, err := c.Consolidate(ctx, "u1")
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}

	if stats.SemanticCreated != 2 {
		t.Errorf("SemanticCreated = %d, want 2", stats.SemanticCreated)
	}

	semantic, _ := store.Query(ctx, memory.Filter{UserID: "u1", Type: memory.TypeSemantic}, 0)
	if len(semantic) != 2 {
		t.Fatalf("semantic rows = %d, want 2", len(semantic))
	}
	for _, rec := range semantic {
		if rec.ChatID != "c9" {
			t.Errorf("semantic ChatID = %q, want source's %q", rec.ChatID, "c9")
		}
		if rec.TS < before {
			t.Errorf("semantic TS = %d, want extraction time (>= %d)", rec.TS, before)
		}
		if rec.GroupID != memory.Ungrouped {
			t.Errorf("semantic GroupID = %d, want ungrouped", rec.GroupID)
		}
		if len(rec.Vector) == 0 {
			t.Error("semantic row has no embedding")
		}
	}

	// Episodic source is untouched.
	count, _ := store.Count(ctx, memory.Filter{UserID: "u1", Type: memory.TypeEpisodic})
	if count != 1 {
		t.Errorf("episodic count = %d, want 1", count)
	}
}

func TestConsolidateCollectsPerItemFailures(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()

	ambiguous := []float32{0.7, float32(math.Sqrt(1 - 0.49))}
	_, err := store.Insert(ctx, []memory.Record{
		episodic("u1", "c1", "a", 1000, []float32{1, 0}),
		episodic("u1", "c1", "b", 1100, ambiguous),
		episodic("u1", "c1", "unrelated", 1200, []float32{0, -1}),
	})
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}

	c := newConsolidator(store, &testutil.ScriptedDecider{
		SeparateFn: func(_, _ memory.Record) (memory.SeparateText, error) {
			return memory.SeparateText{}, errors.New("model unavailable")
		},
	})

	stats, err := c.Consolidate(ctx, "u1")
	if err != nil {
		t.Fatalf("Consolidate returned run-level error for item failure: %v", err)
	}

	if len(stats.Failures) == 0 {
		t.Fatal("no failures recorded")
	}
	if stats.Separated != 0 {
		t.Errorf("Separated = %d, want 0", stats.Separated)
	}
	// All three records were still visited.
	if stats.Processed != 3 {
		t.Errorf("Processed = %d, want 3", stats.Processed)
	}
}

func TestConsolidateAll(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()

	_, err := store.Insert(ctx, []memory.Record{
		episodic("u1", "c1", "u1 event", 1000, []float32{1, 0}),
		episodic("u2", "c1", "u2 event", 1000, []float32{1, 0}),
	})
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}

	c := newConsolidator(store, &testutil.ScriptedDecider{
		ExtractFn: func(rec memory.Record) (memory.FactExtraction, error) {
			return memory.FactExtraction{Write: true, Facts: []string{"fact from " + rec.UserID}}, nil
		},
	})

	stats, err := c.ConsolidateAll(ctx)
	if err != nil {
		t.Fatalf("ConsolidateAll: %v", err)
	}

	if stats.Processed != 2 {
		t.Errorf("Processed = %d, want 2", stats.Processed)
	}
	if stats.SemanticCreated != 2 {
		t.Errorf("SemanticCreated = %d, want 2", stats.SemanticCreated)
	}

	// Scopes never cross users: u1's semantic fact belongs to u1.
	u1sem, _ := store.Query(ctx, memory.Filter{UserID: "u1", Type: memory.TypeSemantic}, 0)
	if len(u1sem) != 1 || u1sem[0].Text != "fact from u1" {
		t.Errorf("u1 semantic rows = %+v, want one fact scoped to u1", u1sem)
	}
}
