package similarity

import "math"

// Cosine returns the cosine similarity of a and b in [-1, 1].
//
// A zero-norm input on either side gives 0: a flat window is treated as
// dissimilar to everything. For unequal lengths the dot product covers the
// common prefix while each norm covers its full vector.
func Cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	na, nb := sumSq(a), sumSq(b)
	if na == 0 || nb == 0 {
		return 0
	}
	// sqrt(na*nb) rather than sqrt(na)*sqrt(nb): x·x over sqrt(x·x * x·x)
	// is exactly 1.
	sim := dot / math.Sqrt(na*nb)
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

func sumSq(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x * x
	}
	return s
}
