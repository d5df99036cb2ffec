// Package pattern finds historical windows of a close series whose shape
// resembles the most recent window, and reports what followed each one.
package pattern

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"kr-quant-worker/internal/model"
	"kr-quant-worker/internal/similarity"
)

// DefaultHorizon is the forward-return lookahead in bars.
const DefaultHorizon = 5

// Config controls one scan.
type Config struct {
	WindowSize int     `json:"window_size" yaml:"window_size"`
	TopK       int     `json:"top_k" yaml:"top_k"`
	Threshold  float64 `json:"similarity_threshold" yaml:"similarity_threshold"`
	Horizon    int     `json:"horizon" yaml:"horizon"`
	// Workers > 1 splits the candidate range across goroutines. Output is
	// identical to the sequential scan.
	Workers int `json:"workers" yaml:"workers"`
}

// DefaultConfig returns window 20, top 5, threshold 0.85, 5-bar horizon.
func DefaultConfig() Config {
	return Config{
		WindowSize: 20,
		TopK:       5,
		Threshold:  0.85,
		Horizon:    DefaultHorizon,
		Workers:    1,
	}
}

// Validate rejects configuration errors at the call boundary.
func (c Config) Validate() error {
	if c.WindowSize <= 0 {
		return fmt.Errorf("window size must be positive, got %d: %w", c.WindowSize, model.ErrInvalidConfiguration)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d: %w", c.TopK, model.ErrInvalidConfiguration)
	}
	if math.IsNaN(c.Threshold) || c.Threshold < -1 || c.Threshold > 1 {
		return fmt.Errorf("similarity threshold must be within [-1, 1], got %v: %w", c.Threshold, model.ErrInvalidConfiguration)
	}
	if c.Horizon <= 0 {
		return fmt.Errorf("horizon must be positive, got %d: %w", c.Horizon, model.ErrInvalidConfiguration)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d: %w", c.Workers, model.ErrInvalidConfiguration)
	}
	return nil
}

// ScanResult is the ranked output of a scan plus counters for metrics.
type ScanResult struct {
	Matches []model.PatternMatch
	// Candidates is the number of windows scored.
	Candidates int
	// Passed is the number of windows at or above the threshold, before top-K.
	Passed int
}

// Scanner runs pattern scans with a fixed configuration. It is stateless
// and safe for concurrent use.
type Scanner struct {
	cfg Config
}

// NewScanner validates cfg and returns a scanner for it.
func NewScanner(cfg Config) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scanner{cfg: cfg}, nil
}

// Config returns the scanner configuration.
func (s *Scanner) Config() Config { return s.cfg }

// FindSimilarPatterns scans series sequentially with the default 5-bar
// horizon.
func FindSimilarPatterns(series []float64, windowSize, topK int, threshold float64) ([]model.PatternMatch, error) {
	cfg := Config{
		WindowSize: windowSize,
		TopK:       topK,
		Threshold:  threshold,
		Horizon:    DefaultHorizon,
		Workers:    1,
	}
	sc, err := NewScanner(cfg)
	if err != nil {
		return nil, err
	}
	res, err := sc.Scan(context.Background(), series)
	if err != nil {
		return nil, err
	}
	return res.Matches, nil
}

// Scan compares every window series[i:i+w], 0 <= i <= len-2w, against the
// last w values after min-max normalizing both, keeps those with cosine
// similarity >= threshold, and returns the top K by similarity (ties keep
// the earlier start). Candidates never overlap the reference window.
//
// A series shorter than 2w yields no matches and no error.
func (s *Scanner) Scan(ctx context.Context, series []float64) (*ScanResult, error) {
	w := s.cfg.WindowSize
	n := len(series)
	res := &ScanResult{Matches: []model.PatternMatch{}}
	if n < 2*w {
		return res, nil
	}

	ref := similarity.Normalize(series[n-w:])
	last := n - 2*w
	total := last + 1
	res.Candidates = total

	workers := s.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > total {
		workers = total
	}

	var passed []model.PatternMatch
	if workers == 1 {
		passed = s.scanRange(series, ref, 0, last)
	} else {
		parts := make([][]model.PatternMatch, workers)
		chunk := (total + workers - 1) / workers
		g, gctx := errgroup.WithContext(ctx)
		for k := 0; k < workers; k++ {
			lo := k * chunk
			hi := lo + chunk - 1
			if hi > last {
				hi = last
			}
			if lo > hi {
				continue
			}
			k := k
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				parts[k] = s.scanRange(series, ref, lo, hi)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		// Chunks are in ascending start order, so concatenation matches the
		// sequential insertion order.
		for _, p := range parts {
			passed = append(passed, p...)
		}
	}

	res.Passed = len(passed)
	sort.SliceStable(passed, func(i, j int) bool {
		return passed[i].Similarity > passed[j].Similarity
	})
	if len(passed) > s.cfg.TopK {
		passed = passed[:s.cfg.TopK]
	}
	res.Matches = append(res.Matches, passed...)
	return res, nil
}

// scanRange scores candidate starts lo..hi inclusive, in order.
func (s *Scanner) scanRange(series, ref []float64, lo, hi int) []model.PatternMatch {
	w := s.cfg.WindowSize
	var out []model.PatternMatch
	for i := lo; i <= hi; i++ {
		cand := similarity.Normalize(series[i : i+w])
		sim := similarity.Cosine(ref, cand)
		if !(sim >= s.cfg.Threshold) { // NaN never passes
			continue
		}
		end := i + w - 1
		out = append(out, model.PatternMatch{
			StartIndex:      i,
			EndIndex:        end,
			Similarity:      sim,
			FutureReturnPct: ForwardReturn(series, end, s.cfg.Horizon),
		})
	}
	return out
}

// ForwardReturn is the percentage change from series[end] to
// series[end+h], h = min(horizon, len-1-end). It is 0 when no bars follow
// end or when the base close is zero.
func ForwardReturn(series []float64, end, horizon int) float64 {
	if end < 0 || end >= len(series) {
		return 0
	}
	h := len(series) - 1 - end
	if horizon < h {
		h = horizon
	}
	if h <= 0 {
		return 0
	}
	base := series[end]
	if base == 0 {
		return 0
	}
	return (series[end+h] - base) / base * 100
}
