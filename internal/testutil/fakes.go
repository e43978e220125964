package testutil

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/koopa0/recall/internal/memory"
)

// FakeEmbedder is a deterministic memory.Embedder for tests. Each text
// maps to a stable unit vector; explicit vectors in Vectors take
// precedence over the hash-derived default, letting tests control the
// geometry of specific texts.
type FakeEmbedder struct {
	Dim     int
	Vectors map[string][]float32
	Err     error
}

// NewFakeEmbedder returns a fake embedder producing 8-dimensional unit
// vectors.
func NewFakeEmbedder() *FakeEmbedder {
	return &FakeEmbedder{Dim: 8, Vectors: make(map[string][]float32)}
}

// Encode implements memory.Embedder.
func (f *FakeEmbedder) Encode(_ context.Context, texts []string) ([][]float32, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := f.Vectors[text]; ok {
			out[i] = v
			continue
		}
		out[i] = f.derive(text)
	}
	return out, nil
}

func (f *FakeEmbedder) derive(text string) []float32 {
	dim := f.Dim
	if dim <= 0 {
		dim = 8
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	v := make([]float32, dim)
	var sum float64
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		x := float64(seed>>11) / float64(1<<53) // [0,1)
		v[i] = float32(x)
		sum += x * x
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
	return v
}

// ScriptedDecider is a memory.Decider whose behavior is supplied per test
// via function fields. A nil field yields a conservative default: do not
// write, keep texts unchanged, use nothing.
type ScriptedDecider struct {
	WriteFn    func(turns []memory.Turn) (memory.WriteDecision, error)
	MergeFn    func(a, b memory.Record) (memory.MergeText, error)
	SeparateFn func(a, b memory.Record) (memory.SeparateText, error)
	ExtractFn  func(rec memory.Record) (memory.FactExtraction, error)
	JudgeFn    func(usage memory.UsageContext) ([]int, error)
}

// DecideWrite implements memory.Decider.
func (d *ScriptedDecider) DecideWrite(_ context.Context, turns []memory.Turn) (memory.WriteDecision, error) {
	if d.WriteFn == nil {
		return memory.WriteDecision{}, nil
	}
	return d.WriteFn(turns)
}

// MergeText implements memory.Decider.
func (d *ScriptedDecider) MergeText(_ context.Context, a, b memory.Record) (memory.MergeText, error) {
	if d.MergeFn == nil {
		return memory.MergeText{Text: a.Text + " " + b.Text}, nil
	}
	return d.MergeFn(a, b)
}

// SeparateText implements memory.Decider.
func (d *ScriptedDecider) SeparateText(_ context.Context, a, b memory.Record) (memory.SeparateText, error) {
	if d.SeparateFn == nil {
		return memory.SeparateText{TextA: a.Text, TextB: b.Text}, nil
	}
	return d.SeparateFn(a, b)
}

// ExtractFacts implements memory.Decider.
func (d *ScriptedDecider) ExtractFacts(_ context.Context, rec memory.Record) (memory.FactExtraction, error) {
	if d.ExtractFn == nil {
		return memory.FactExtraction{}, nil
	}
	return d.ExtractFn(rec)
}

// JudgeUsed implements memory.Decider.
func (d *ScriptedDecider) JudgeUsed(_ context.Context, usage memory.UsageContext) ([]int, error) {
	if d.JudgeFn == nil {
		return nil, nil
	}
	return d.JudgeFn(usage)
}
