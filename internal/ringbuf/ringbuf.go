// Package ringbuf provides a fixed-size sliding window over float64 samples
// with O(1) running aggregates. It backs the rolling indicators (SMA, RSI
// averages, Bollinger deviation) so each stays O(n) over a series instead of
// re-summing every window.
//
// A Window is not safe for concurrent use; indicator functions allocate one
// per call.
package ringbuf

import "math"

// Window keeps the last Size samples pushed. The backing buffer is rounded
// up to a power of two for bitwise modulo; the logical size is exact.
type Window struct {
	buf  []float64
	mask uint64
	size uint64

	head uint64 // next write position (monotonic)
	tail uint64 // oldest retained sample (monotonic)

	// Aggregates are kept over (x - shift) to limit cancellation in the
	// variance. shift starts as the first sample and moves on resync.
	shift   float64
	shifted bool
	sum     float64
	sumSq   float64
	evicted uint64
}

// New creates a window holding size samples. Sizes below 1 are treated as 1.
func New(size int) *Window {
	if size < 1 {
		size = 1
	}
	capacity := nextPow2(size)
	return &Window{
		buf:  make([]float64, capacity),
		mask: uint64(capacity - 1),
		size: uint64(size),
	}
}

// Push appends x, evicting the oldest sample when the window is full.
// It returns the evicted sample and whether one was evicted.
func (w *Window) Push(x float64) (float64, bool) {
	if !w.shifted {
		w.shift = x
		w.shifted = true
	}

	var old float64
	evicted := false
	if w.head-w.tail >= w.size {
		old = w.buf[w.tail&w.mask]
		w.tail++
		w.evicted++
		d := old - w.shift
		w.sum -= d
		w.sumSq -= d * d
		evicted = true
	}

	w.buf[w.head&w.mask] = x
	w.head++
	d := x - w.shift
	w.sum += d
	w.sumSq += d * d

	if evicted && w.evicted%w.size == 0 {
		w.resync()
	}
	return old, evicted
}

// resync recomputes the aggregates from the held samples around a fresh
// shift, bounding accumulated rounding. Runs once per Size evictions, so
// Push stays amortized O(1).
func (w *Window) resync() {
	w.shift = w.At(0)
	w.sum, w.sumSq = 0, 0
	for i := 0; i < w.Len(); i++ {
		d := w.At(i) - w.shift
		w.sum += d
		w.sumSq += d * d
	}
}

// Len returns the number of samples currently held.
func (w *Window) Len() int { return int(w.head - w.tail) }

// Size returns the configured window length.
func (w *Window) Size() int { return int(w.size) }

// Full reports whether the window holds Size samples.
func (w *Window) Full() bool { return w.head-w.tail == w.size }

// Evicted returns how many samples have slid out of the window.
func (w *Window) Evicted() uint64 { return w.evicted }

// Sum returns the sum of the held samples.
func (w *Window) Sum() float64 {
	n := float64(w.Len())
	return w.sum + n*w.shift
}

// Mean returns the mean of the held samples, or 0 when empty.
func (w *Window) Mean() float64 {
	n := w.Len()
	if n == 0 {
		return 0
	}
	return w.shift + w.sum/float64(n)
}

// Variance returns the variance with the given delta degrees of freedom
// (0 = population, 1 = sample). ok is false when Len() <= ddof.
func (w *Window) Variance(ddof int) (v float64, ok bool) {
	n := w.Len()
	if n <= ddof {
		return 0, false
	}
	fn := float64(n)
	v = (w.sumSq - w.sum*w.sum/fn) / (fn - float64(ddof))
	if v < 0 {
		// rounding on a flat window
		v = 0
	}
	return v, true
}

// StdDev is sqrt(Variance(ddof)).
func (w *Window) StdDev(ddof int) (float64, bool) {
	v, ok := w.Variance(ddof)
	if !ok {
		return 0, false
	}
	return math.Sqrt(v), true
}

// At returns the i-th oldest held sample (0 = oldest).
func (w *Window) At(i int) float64 {
	return w.buf[(w.tail+uint64(i))&w.mask]
}

// Reset clears the window for reuse.
func (w *Window) Reset() {
	w.head, w.tail, w.evicted = 0, 0, 0
	w.sum, w.sumSq, w.shift = 0, 0, 0
	w.shifted = false
	for i := range w.buf {
		w.buf[i] = 0
	}
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
