package memory

import "testing"

func hitWithSimilarity(id int64, sim float64) Hit {
	return Hit{Record: Record{ID: id, Type: TypeEpisodic}, Distance: 1 - sim}
}

func TestClassify(t *testing.T) {
	c := NewClassifier(0, 0)

	tests := []struct {
		name string
		sim  float64
		tier string
	}{
		{name: "identical", sim: 1.0, tier: "merge"},
		{name: "just above merge threshold", sim: 0.86, tier: "merge"},
		{name: "exactly merge threshold", sim: 0.85, tier: "merge"},
		{name: "just below merge threshold", sim: 0.8499, tier: "separate"},
		{name: "middle of ambiguous band", sim: 0.75, tier: "separate"},
		{name: "exactly ambiguous lower bound", sim: 0.65, tier: "separate"},
		{name: "just below ambiguous band", sim: 0.6499, tier: "distinct"},
		{name: "unrelated", sim: 0.1, tier: "distinct"},
		{name: "orthogonal", sim: 0.0, tier: "distinct"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := c.Classify([]Hit{hitWithSimilarity(1, tt.sim)})

			got := "none"
			total := len(b.Merge) + len(b.Separate) + len(b.Distinct)
			switch {
			case len(b.Merge) == 1:
				got = "merge"
			case len(b.Separate) == 1:
				got = "separate"
			case len(b.Distinct) == 1:
				got = "distinct"
			}
			if total != 1 {
				t.Fatalf("hit landed in %d tiers, want exactly 1", total)
			}
			if got != tt.tier {
				t.Errorf("similarity %v classified as %s, want %s", tt.sim, got, tt.tier)
			}
		})
	}
}

func TestClassifyPreservesOrder(t *testing.T) {
	c := NewClassifier(0, 0)
	hits := []Hit{
		hitWithSimilarity(1, 0.95),
		hitWithSimilarity(2, 0.70),
		hitWithSimilarity(3, 0.90),
		hitWithSimilarity(4, 0.66),
		hitWithSimilarity(5, 0.30),
	}

	b := c.Classify(hits)

	if len(b.Merge) != 2 || b.Merge[0].ID != 1 || b.Merge[1].ID != 3 {
		t.Errorf("merge tier = %+v, want ids [1 3] in input order", b.Merge)
	}
	if len(b.Separate) != 2 || b.Separate[0].ID != 2 || b.Separate[1].ID != 4 {
		t.Errorf("separate tier = %+v, want ids [2 4] in input order", b.Separate)
	}
	if len(b.Distinct) != 1 || b.Distinct[0].ID != 5 {
		t.Errorf("distinct tier = %+v, want id [5]", b.Distinct)
	}
}

func TestNewClassifierDefaults(t *testing.T) {
	c := NewClassifier(0, -1)
	if c.MergeHigh != DefaultMergeHigh {
		t.Errorf("MergeHigh = %v, want %v", c.MergeHigh, DefaultMergeHigh)
	}
	if c.AmbiguousLow != DefaultAmbiguousLow {
		t.Errorf("AmbiguousLow = %v, want %v", c.AmbiguousLow, DefaultAmbiguousLow)
	}

	custom := NewClassifier(0.9, 0.5)
	if custom.MergeHigh != 0.9 || custom.AmbiguousLow != 0.5 {
		t.Errorf("custom thresholds not kept: %+v", custom)
	}
}
