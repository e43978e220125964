package memory

import (
	"sort"
	"time"
)

// Ranking weights. Semantic memories get a fixed boost; episodic
// memories decay with age so recent events outrank stale ones at equal
// similarity.
const (
	semanticTypeWeight = 1.2
	episodicTypeWeight = 1.0
	ageDecayPerDay     = 0.1
	secondsPerDay      = 86400
)

// Score computes the ranking score for a hit at the given time:
// (1 - distance) * type_weight * time_weight. Semantic records and
// records without a positive timestamp take time_weight 1.
func Score(h Hit, now time.Time) float64 {
	similarity := 1 - h.Distance

	typeWeight := episodicTypeWeight
	if h.Type == TypeSemantic {
		typeWeight = semanticTypeWeight
	}

	timeWeight := 1.0
	if h.Type == TypeEpisodic && h.TS > 0 {
		ageDays := float64(now.Unix()-h.TS) / secondsPerDay
		timeWeight = 1 / (1 + ageDays*ageDecayPerDay)
	}

	return similarity * typeWeight * timeWeight
}

// Rank sorts hits by descending score. The sort is stable: ties keep
// their original relative order, so the store's native ordering is the
// final tie-break.
func Rank(hits []Hit, now time.Time) []Hit {
	out := make([]Hit, len(hits))
	copy(out, hits)
	sort.SliceStable(out, func(i, j int) bool {
		return Score(out[i], now) > Score(out[j], now)
	})
	return out
}
