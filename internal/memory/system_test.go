package memory_test

import (
	"context"
	"math"
	"testing"

	"github.com/koopa0/recall/internal/memory"
	"github.com/koopa0/recall/internal/testutil"
)

func newSystem(store *testutil.MemStore, decider memory.Decider) *memory.System {
	return memory.NewSystem(store, store, testutil.NewFakeEmbedder(), decider,
		memory.Options{}, testutil.DiscardLogger())
}

func TestSystemDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("maintains surviving group", func(t *testing.T) {
		store := testutil.NewMemStore()
		sys := newSystem(store, &testutil.ScriptedDecider{})

		similar := []float32{0.9, float32(math.Sqrt(1 - 0.81))}
		id1 := insertOne(t, store, episodic("u1", "c1", "one", 1000, []float32{1, 0}))
		id2 := insertOne(t, store, episodic("u1", "c1", "two", 2000, similar))

		assigned, _, err := sys.Grouper.Assign(ctx, "u1", []int64{id1, id2})
		if err != nil {
			t.Fatalf("Assign: %v", err)
		}
		groupID := assigned[id1]

		deleted, err := sys.Delete(ctx, "u1", id2)
		if err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if deleted != 1 {
			t.Errorf("deleted = %d, want 1", deleted)
		}

		group, ok := store.Group(groupID)
		if !ok {
			t.Fatal("group removed despite surviving member")
		}
		if group.Size != 1 {
			t.Errorf("size = %d, want 1 after maintenance", group.Size)
		}
		checkGroupInvariant(t, store, "u1", groupID)
	})

	t.Run("removes emptied group", func(t *testing.T) {
		store := testutil.NewMemStore()
		sys := newSystem(store, &testutil.ScriptedDecider{})

		id := insertOne(t, store, episodic("u1", "c1", "only member", 1000, []float32{1, 0}))
		assigned, _, err := sys.Grouper.Assign(ctx, "u1", []int64{id})
		if err != nil {
			t.Fatalf("Assign: %v", err)
		}

		if _, err := sys.Delete(ctx, "u1", id); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, ok := store.Group(assigned[id]); ok {
			t.Error("empty group still present after delete")
		}
	})

	t.Run("missing ids are skipped", func(t *testing.T) {
		store := testutil.NewMemStore()
		sys := newSystem(store, &testutil.ScriptedDecider{})

		id := insertOne(t, store, episodic("u1", "c1", "real", 1000, []float32{1, 0}))
		deleted, err := sys.Delete(ctx, "u1", id, 9999)
		if err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if deleted != 1 {
			t.Errorf("deleted = %d, want 1", deleted)
		}
	})

	t.Run("cannot delete another user's memories", func(t *testing.T) {
		store := testutil.NewMemStore()
		sys := newSystem(store, &testutil.ScriptedDecider{})

		id := insertOne(t, store, episodic("u2", "c1", "not yours", 1000, []float32{1, 0}))
		deleted, err := sys.Delete(ctx, "u1", id)
		if err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if deleted != 0 {
			t.Errorf("deleted = %d, want 0", deleted)
		}
		if _, ok := store.Record(id); !ok {
			t.Error("other user's record removed")
		}
	})
}

func TestSystemReset(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	sys := newSystem(store, &testutil.ScriptedDecider{})

	id1 := insertOne(t, store, episodic("u1", "c1", "mine", 1000, []float32{1, 0}))
	id2 := insertOne(t, store, episodic("u2", "c1", "theirs", 1000, []float32{1, 0}))
	if _, _, err := sys.Grouper.Assign(ctx, "u1", []int64{id1}); err != nil {
		t.Fatalf("Assign u1: %v", err)
	}
	if _, _, err := sys.Grouper.Assign(ctx, "u2", []int64{id2}); err != nil {
		t.Fatalf("Assign u2: %v", err)
	}

	deleted, err := sys.Reset(ctx, "u1")
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	count, _ := store.Count(ctx, memory.Filter{UserID: "u1"})
	if count != 0 {
		t.Errorf("u1 memories remaining = %d, want 0", count)
	}
	// u2 is untouched, including their group.
	if _, ok := store.Record(id2); !ok {
		t.Error("other user's record removed by reset")
	}
	if store.GroupCount() != 1 {
		t.Errorf("group count = %d, want only u2's group left", store.GroupCount())
	}
}
