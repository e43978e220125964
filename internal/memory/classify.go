package memory

// Default similarity thresholds. Both are configuration, not constants:
// NewClassifier accepts overrides from config.
const (
	// DefaultMergeHigh is the similarity at or above which two episodic
	// memories are near-duplicates and candidates for merging.
	DefaultMergeHigh = 0.85

	// DefaultAmbiguousLow is the lower bound of the ambiguous band
	// [AmbiguousLow, MergeHigh) where memories are similar but describe
	// distinct events and should be separated instead.
	DefaultAmbiguousLow = 0.65
)

// Classifier partitions search hits into merge/separate/distinct tiers by
// cosine similarity. The partition is total: every similarity in [0,1]
// lands in exactly one tier.
type Classifier struct {
	MergeHigh    float64
	AmbiguousLow float64
}

// NewClassifier builds a classifier, substituting defaults for
// non-positive thresholds.
func NewClassifier(mergeHigh, ambiguousLow float64) Classifier {
	if mergeHigh <= 0 {
		mergeHigh = DefaultMergeHigh
	}
	if ambiguousLow <= 0 {
		ambiguousLow = DefaultAmbiguousLow
	}
	return Classifier{MergeHigh: mergeHigh, AmbiguousLow: ambiguousLow}
}

// Buckets holds the tiered result of classification. Each slice preserves
// the store's native result ordering (descending similarity); no
// additional tie-break is applied.
type Buckets struct {
	Merge    []Hit // similarity >= MergeHigh
	Separate []Hit // AmbiguousLow <= similarity < MergeHigh
	Distinct []Hit // similarity < AmbiguousLow
}

// Classify partitions hits by similarity derived from cosine distance.
func (c Classifier) Classify(hits []Hit) Buckets {
	var b Buckets
	for _, h := range hits {
		sim := h.Similarity()
		switch {
		case sim >= c.MergeHigh:
			b.Merge = append(b.Merge, h)
		case sim >= c.AmbiguousLow:
			b.Separate = append(b.Separate, h)
		default:
			b.Distinct = append(b.Distinct, h)
		}
	}
	return b
}
