package memory

import (
	"testing"
	"time"
)

func TestScore(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	t.Run("semantic boost at equal similarity", func(t *testing.T) {
		sem := Hit{Record: Record{Type: TypeSemantic, TS: now.Unix()}, Distance: 0.2}
		epi := Hit{Record: Record{Type: TypeEpisodic, TS: now.Unix()}, Distance: 0.2}

		if Score(sem, now) <= Score(epi, now) {
			t.Errorf("semantic score %v not above episodic %v at equal similarity",
				Score(sem, now), Score(epi, now))
		}
	})

	t.Run("fresh episodic scores full weight", func(t *testing.T) {
		h := Hit{Record: Record{Type: TypeEpisodic, TS: now.Unix()}, Distance: 0.2}
		want := 0.8
		if got := Score(h, now); !closeTo(got, want) {
			t.Errorf("Score = %v, want %v", got, want)
		}
	})

	t.Run("episodic decays with age", func(t *testing.T) {
		fresh := Hit{Record: Record{Type: TypeEpisodic, TS: now.Unix()}, Distance: 0.2}
		dayOld := Hit{Record: Record{Type: TypeEpisodic, TS: now.Unix() - secondsPerDay}, Distance: 0.2}
		weekOld := Hit{Record: Record{Type: TypeEpisodic, TS: now.Unix() - 7*secondsPerDay}, Distance: 0.2}

		sFresh, sDay, sWeek := Score(fresh, now), Score(dayOld, now), Score(weekOld, now)
		if !(sFresh > sDay && sDay > sWeek) {
			t.Errorf("scores not monotone in recency: fresh=%v day=%v week=%v", sFresh, sDay, sWeek)
		}
		// 1 day old: 0.8 / 1.1
		if !closeTo(sDay, 0.8/1.1) {
			t.Errorf("day-old score = %v, want %v", sDay, 0.8/1.1)
		}
	})

	t.Run("episodic without timestamp takes no decay", func(t *testing.T) {
		h := Hit{Record: Record{Type: TypeEpisodic, TS: 0}, Distance: 0.5}
		if got := Score(h, now); !closeTo(got, 0.5) {
			t.Errorf("Score = %v, want 0.5", got)
		}
	})

	t.Run("semantic takes no decay regardless of age", func(t *testing.T) {
		old := Hit{Record: Record{Type: TypeSemantic, TS: now.Unix() - 30*secondsPerDay}, Distance: 0.5}
		if got := Score(old, now); !closeTo(got, 0.5*1.2) {
			t.Errorf("Score = %v, want %v", got, 0.5*1.2)
		}
	})

	t.Run("monotone in similarity", func(t *testing.T) {
		closer := Hit{Record: Record{Type: TypeEpisodic, TS: now.Unix()}, Distance: 0.1}
		farther := Hit{Record: Record{Type: TypeEpisodic, TS: now.Unix()}, Distance: 0.3}
		if Score(closer, now) <= Score(farther, now) {
			t.Error("score not monotone in similarity")
		}
	})
}

func TestRank(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	t.Run("orders by descending score", func(t *testing.T) {
		hits := []Hit{
			{Record: Record{ID: 1, Type: TypeEpisodic, TS: now.Unix() - 30*secondsPerDay}, Distance: 0.1},
			{Record: Record{ID: 2, Type: TypeSemantic}, Distance: 0.1},
			{Record: Record{ID: 3, Type: TypeEpisodic, TS: now.Unix()}, Distance: 0.1},
		}

		got := Rank(hits, now)

		// Semantic boost beats fresh episodic at equal similarity; stale
		// episodic comes last.
		wantOrder := []int64{2, 3, 1}
		for i, id := range wantOrder {
			if got[i].ID != id {
				t.Fatalf("rank[%d].ID = %d, want %d (full order %v)", i, got[i].ID, id, ids(got))
			}
		}
	})

	t.Run("ties keep input order", func(t *testing.T) {
		hits := []Hit{
			{Record: Record{ID: 10, Type: TypeSemantic}, Distance: 0.2},
			{Record: Record{ID: 11, Type: TypeSemantic}, Distance: 0.2},
			{Record: Record{ID: 12, Type: TypeSemantic}, Distance: 0.2},
		}

		got := Rank(hits, now)
		for i, id := range []int64{10, 11, 12} {
			if got[i].ID != id {
				t.Fatalf("tie order broken: got %v", ids(got))
			}
		}
	})

	t.Run("does not mutate input", func(t *testing.T) {
		hits := []Hit{
			{Record: Record{ID: 1, Type: TypeEpisodic, TS: now.Unix() - 10*secondsPerDay}, Distance: 0.0},
			{Record: Record{ID: 2, Type: TypeSemantic}, Distance: 0.0},
		}
		_ = Rank(hits, now)
		if hits[0].ID != 1 || hits[1].ID != 2 {
			t.Error("Rank mutated its input slice")
		}
	})
}

func closeTo(got, want float64) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	// float32 inputs round-trip through float64 here, so tolerance is set
	// for single precision.
	return diff < 1e-6
}

func ids(hits []Hit) []int64 {
	out := make([]int64, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}
