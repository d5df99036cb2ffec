// Package similarity holds the shape comparison primitives used by the
// pattern scanner: min-max normalization, cosine similarity and Dynamic
// Time Warping distance. All functions are pure; inputs are never mutated.
package similarity

// Normalize rescales series to [0, 1] with (x - min)/(max - min).
// A constant series (including a single value) maps to all zeros.
func Normalize(series []float64) []float64 {
	out := make([]float64, len(series))
	if len(series) == 0 {
		return out
	}
	lo, hi := series[0], series[0]
	for _, x := range series[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	span := hi - lo
	if span == 0 {
		return out
	}
	for i, x := range series {
		out[i] = (x - lo) / span
	}
	return out
}
