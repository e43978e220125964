package testutil

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/koopa0/recall/internal/memory"
)

// MemStore is an in-memory implementation of memory.Store and
// memory.GroupStore for unit tests. Search uses exact cosine distance and
// NearestGroup exact inner product, so tests exercise the same geometry
// as the real store without a database.
//
// Error fields, when set, make the corresponding method fail; tests use
// them to exercise per-item failure handling.
type MemStore struct {
	mu          sync.Mutex
	nextID      int64
	nextGroupID int64
	records     map[int64]memory.Record
	groups      map[int64]memory.Group

	InsertErr      error
	QueryErr       error
	SearchErr      error
	GetErr         error
	UpdateErr      error
	DeleteErr      error
	InsertGroupErr error
	UpdateGroupErr error
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		records: make(map[int64]memory.Record),
		groups:  make(map[int64]memory.Group),
	}
}

// Insert implements memory.Store.
func (s *MemStore) Insert(_ context.Context, records []memory.Record) ([]int64, error) {
	if s.InsertErr != nil {
		return nil, s.InsertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, len(records))
	for i, rec := range records {
		s.nextID++
		rec.ID = s.nextID
		s.records[rec.ID] = rec
		ids[i] = rec.ID
	}
	return ids, nil
}

// Query implements memory.Store. Results come back in id order so tests
// are deterministic.
func (s *MemStore) Query(_ context.Context, f memory.Filter, limit int) ([]memory.Record, error) {
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []memory.Record
	for _, rec := range s.records {
		if matches(rec, f) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Search implements memory.Store with exact cosine distance.
func (s *MemStore) Search(_ context.Context, vector []float32, f memory.Filter, limit int) ([]memory.Hit, error) {
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var hits []memory.Hit
	for _, rec := range s.records {
		if !matches(rec, f) {
			continue
		}
		hits = append(hits, memory.Hit{Record: rec, Distance: cosineDistance(vector, rec.Vector)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Get implements memory.Store.
func (s *MemStore) Get(_ context.Context, id int64, userID string) (*memory.Record, error) {
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.UserID != userID {
		return nil, memory.ErrNotFound
	}
	return &rec, nil
}

// Update implements memory.Store.
func (s *MemStore) Update(_ context.Context, rec memory.Record) error {
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; !ok {
		return memory.ErrNotFound
	}
	s.records[rec.ID] = rec
	return nil
}

// Delete implements memory.Store.
func (s *MemStore) Delete(_ context.Context, ids ...int64) (int64, error) {
	if s.DeleteErr != nil {
		return 0, s.DeleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// DeleteWhere implements memory.Store.
func (s *MemStore) DeleteWhere(_ context.Context, f memory.Filter) (int64, error) {
	if s.DeleteErr != nil {
		return 0, s.DeleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, rec := range s.records {
		if matches(rec, f) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// Count implements memory.Store.
func (s *MemStore) Count(_ context.Context, f memory.Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, rec := range s.records {
		if matches(rec, f) {
			n++
		}
	}
	return n, nil
}

// Users implements memory.Store.
func (s *MemStore) Users(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var users []string
	for _, rec := range s.records {
		if !seen[rec.UserID] {
			seen[rec.UserID] = true
			users = append(users, rec.UserID)
		}
	}
	sort.Strings(users)
	return users, nil
}

// InsertGroup implements memory.GroupStore.
func (s *MemStore) InsertGroup(_ context.Context, g memory.Group) (int64, error) {
	if s.InsertGroupErr != nil {
		return 0, s.InsertGroupErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextGroupID++
	g.ID = s.nextGroupID
	s.groups[g.ID] = g
	return g.ID, nil
}

// NearestGroup implements memory.GroupStore with exact inner product.
func (s *MemStore) NearestGroup(_ context.Context, userID string, vector []float32) (*memory.Group, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *memory.Group
	bestSim := math.Inf(-1)
	for id := range s.groups {
		g := s.groups[id]
		if g.UserID != userID {
			continue
		}
		sim := dot(vector, g.Centroid)
		if sim > bestSim {
			bestSim = sim
			best = &g
		}
	}
	if best == nil {
		return nil, 0, nil
	}
	return best, bestSim, nil
}

// UpdateGroup implements memory.GroupStore.
func (s *MemStore) UpdateGroup(_ context.Context, g memory.Group) error {
	if s.UpdateGroupErr != nil {
		return s.UpdateGroupErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[g.ID]; !ok {
		return memory.ErrNotFound
	}
	s.groups[g.ID] = g
	return nil
}

// DeleteGroup implements memory.GroupStore.
func (s *MemStore) DeleteGroup(_ context.Context, userID string, groupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok || g.UserID != userID {
		return memory.ErrNotFound
	}
	delete(s.groups, groupID)
	return nil
}

// DeleteGroups implements memory.GroupStore.
func (s *MemStore) DeleteGroups(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, g := range s.groups {
		if g.UserID == userID {
			delete(s.groups, id)
			n++
		}
	}
	return n, nil
}

// Record returns a stored record by id, or false. Test inspection helper.
func (s *MemStore) Record(id int64) (memory.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Group returns a stored group by id, or false. Test inspection helper.
func (s *MemStore) Group(id int64) (memory.Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	return g, ok
}

// GroupCount returns the number of stored groups. Test inspection helper.
func (s *MemStore) GroupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.groups)
}

func matches(rec memory.Record, f memory.Filter) bool {
	if f.UserID != "" && rec.UserID != f.UserID {
		return false
	}
	if f.Type != "" && rec.Type != f.Type {
		return false
	}
	if f.ChatID != "" && rec.ChatID != f.ChatID {
		return false
	}
	if f.GroupID != nil && rec.GroupID != *f.GroupID {
		return false
	}
	for _, id := range f.ExcludeIDs {
		if rec.ID == id {
			return false
		}
	}
	return true
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosineDistance(a, b []float32) float64 {
	na, nb := norm(a), norm(b)
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot(a, b)/(na*nb)
}
