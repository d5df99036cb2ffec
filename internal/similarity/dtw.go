package similarity

import "math"

// DTW returns the Dynamic Time Warping distance between a and b using
// |a[i]-b[j]| as the step cost:
//
//	D[0][0] = 0, D[i][0] = D[0][j] = +Inf
//	D[i][j] = cost(i, j) + min(D[i-1][j], D[i][j-1], D[i-1][j-1])
//
// The result is D[n][m]. It is +Inf when either input is empty.
// Two rows of the matrix are kept, so memory is O(len(b)).
func DTW(a, b []float64) float64 {
	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		return math.Inf(1)
	}
	inf := math.Inf(1)
	prev := make([]float64, m+1)
	curr := make([]float64, m+1)
	for j := 1; j <= m; j++ {
		prev[j] = inf
	}
	prev[0] = 0

	for i := 1; i <= n; i++ {
		curr[0] = inf
		for j := 1; j <= m; j++ {
			cost := math.Abs(a[i-1] - b[j-1])
			best := prev[j] // insertion
			if curr[j-1] < best {
				best = curr[j-1] // deletion
			}
			if prev[j-1] < best {
				best = prev[j-1] // match
			}
			curr[j] = cost + best
		}
		prev, curr = curr, prev
	}
	return prev[m]
}
