package pattern

import (
	"kr-quant-worker/internal/model"
	"kr-quant-worker/internal/similarity"
)

// AnnotateDTW sets DTWDistance on each match to the DTW distance between
// the normalized reference window and the normalized match window. It is
// O(w²) per match and meant for offline validation of cosine rankings.
// matches is modified in place.
func AnnotateDTW(series []float64, windowSize int, matches []model.PatternMatch) {
	n := len(series)
	if windowSize <= 0 || n < windowSize {
		return
	}
	ref := similarity.Normalize(series[n-windowSize:])
	for i := range matches {
		m := &matches[i]
		if m.StartIndex < 0 || m.EndIndex >= n || m.StartIndex > m.EndIndex {
			continue
		}
		cand := similarity.Normalize(series[m.StartIndex : m.EndIndex+1])
		m.DTWDistance = model.Some(similarity.DTW(ref, cand))
	}
}
