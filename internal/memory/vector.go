package memory

import "math"

// Normalize returns v scaled to unit length. A zero vector is returned
// unchanged, matching the store's inner-product search expectations.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Mean returns the element-wise mean of the given vectors. All vectors
// must share the same dimension; an empty input returns nil.
func Mean(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	acc := make([]float64, dim)
	for _, v := range vectors {
		for i, x := range v {
			acc[i] += float64(x)
		}
	}
	out := make([]float32, dim)
	n := float64(len(vectors))
	for i, x := range acc {
		out[i] = float32(x / n)
	}
	return out
}

// Centroid returns the unit-normalized mean of the given vectors, the
// canonical representation of a narrative group.
func Centroid(vectors [][]float32) []float32 {
	return Normalize(Mean(vectors))
}
