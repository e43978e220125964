package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultGroupThreshold is the minimum inner-product similarity between a
// memory's embedding and a group centroid for the memory to join that
// group instead of seeding a new one.
const DefaultGroupThreshold = 0.8

// groupLocks serializes narrative-group mutations per user. Assignments
// and maintenance for different users proceed concurrently; within one
// user they are strictly ordered so centroid recomputes never interleave.
type groupLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newGroupLocks() *groupLocks {
	return &groupLocks{locks: make(map[string]*sync.Mutex)}
}

func (g *groupLocks) forUser(userID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		g.locks[userID] = l
	}
	return l
}

// Grouper assigns episodic memories to narrative groups and keeps group
// centroids consistent as members come and go.
//
// Assignment is incremental: each memory is matched against the nearest
// existing centroid by inner product (centroids and embeddings are unit
// vectors, so inner product equals cosine similarity). At or above the
// threshold the memory joins that group; below it the memory seeds a new
// single-member group. After every membership change the affected group's
// centroid is recomputed in full from its current members.
type Grouper struct {
	store     Store
	groups    GroupStore
	threshold float64
	locks     *groupLocks
	logger    *slog.Logger
}

// NewGrouper builds a narrative grouper. A non-positive threshold falls
// back to the default.
func NewGrouper(store Store, groups GroupStore, threshold float64, logger *slog.Logger) *Grouper {
	if logger == nil {
		logger = slog.Default()
	}
	if threshold <= 0 {
		threshold = DefaultGroupThreshold
	}
	return &Grouper{
		store:     store,
		groups:    groups,
		threshold: threshold,
		locks:     newGroupLocks(),
		logger:    logger,
	}
}

// Assign places each of the given memories into a narrative group and
// returns the memory-to-group mapping plus the ids that could not be
// assigned. Memories already in a group are re-reported with their
// current group and otherwise untouched, so re-assigning is idempotent.
// Per-item failures are logged and collected; they never abort the batch.
func (g *Grouper) Assign(ctx context.Context, userID string, memoryIDs []int64) (map[int64]int64, []int64, error) {
	lock := g.locks.forUser(userID)
	lock.Lock()
	defer lock.Unlock()

	assigned := make(map[int64]int64, len(memoryIDs))
	var failed []int64

	for _, id := range memoryIDs {
		groupID, err := g.assignOne(ctx, userID, id)
		if err != nil {
			g.logger.Warn("group assignment failed", "memory_id", id, "error", err)
			failed = append(failed, id)
			continue
		}
		assigned[id] = groupID
	}
	return assigned, failed, nil
}

func (g *Grouper) assignOne(ctx context.Context, userID string, memoryID int64) (int64, error) {
	rec, err := g.store.Get(ctx, memoryID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, fmt.Errorf("memory %d: %w", memoryID, ErrNotFound)
		}
		return 0, fmt.Errorf("loading memory %d: %w", memoryID, err)
	}
	if rec.GroupID != Ungrouped {
		return rec.GroupID, nil
	}

	vec := Normalize(rec.Vector)

	nearest, sim, err := g.groups.NearestGroup(ctx, userID, vec)
	if err != nil {
		return 0, fmt.Errorf("searching nearest group: %w", err)
	}

	if nearest != nil && sim >= g.threshold {
		if err := g.join(ctx, *rec, nearest.ID); err != nil {
			return 0, err
		}
		g.logger.Debug("memory joined group",
			"memory_id", memoryID, "group_id", nearest.ID, "similarity", sim)
		return nearest.ID, nil
	}

	groupID, err := g.seed(ctx, *rec, vec)
	if err != nil {
		return 0, err
	}
	g.logger.Debug("memory seeded new group", "memory_id", memoryID, "group_id", groupID)
	return groupID, nil
}

// join adds rec to an existing group and recomputes the centroid from the
// full member set.
func (g *Grouper) join(ctx context.Context, rec Record, groupID int64) error {
	rec.GroupID = groupID
	if err := g.store.Update(ctx, rec); err != nil {
		return fmt.Errorf("tagging memory %d with group %d: %w", rec.ID, groupID, err)
	}
	return g.recompute(ctx, rec.UserID, groupID)
}

// seed creates a single-member group whose centroid is the member's own
// unit vector.
func (g *Grouper) seed(ctx context.Context, rec Record, vec []float32) (int64, error) {
	groupID, err := g.groups.InsertGroup(ctx, Group{
		UserID:   rec.UserID,
		Centroid: vec,
		Size:     1,
	})
	if err != nil {
		return 0, fmt.Errorf("creating group: %w", err)
	}

	rec.GroupID = groupID
	if err := g.store.Update(ctx, rec); err != nil {
		return 0, fmt.Errorf("tagging memory %d with new group %d: %w", rec.ID, groupID, err)
	}
	return groupID, nil
}

// Maintain restores a group's invariants after one of its members was
// removed: an empty group is deleted, otherwise its centroid and size are
// recomputed from the surviving members. Callers invoke it after any
// deletion of a grouped memory.
func (g *Grouper) Maintain(ctx context.Context, userID string, groupID int64) error {
	if groupID == Ungrouped {
		return nil
	}

	lock := g.locks.forUser(userID)
	lock.Lock()
	defer lock.Unlock()

	return g.recompute(ctx, userID, groupID)
}

// recompute rebuilds a group's centroid and size from its current
// members; the caller must hold the user lock. A group left with no
// members is deleted.
func (g *Grouper) recompute(ctx context.Context, userID string, groupID int64) error {
	id := groupID
	members, err := g.store.Query(ctx, Filter{UserID: userID, GroupID: &id}, 0)
	if err != nil {
		return fmt.Errorf("loading group %d members: %w", groupID, err)
	}

	if len(members) == 0 {
		if err := g.groups.DeleteGroup(ctx, userID, groupID); err != nil {
			return fmt.Errorf("deleting empty group %d: %w", groupID, err)
		}
		g.logger.Debug("deleted empty group", "group_id", groupID)
		return nil
	}

	vectors := make([][]float32, len(members))
	for i, m := range members {
		vectors[i] = m.Vector
	}

	if err := g.groups.UpdateGroup(ctx, Group{
		ID:       groupID,
		UserID:   userID,
		Centroid: Centroid(vectors),
		Size:     int64(len(members)),
	}); err != nil {
		return fmt.Errorf("updating group %d: %w", groupID, err)
	}
	return nil
}
