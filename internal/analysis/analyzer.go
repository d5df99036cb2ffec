// Package analysis orchestrates one stock analysis: fetch bars, order them,
// run the indicator engine and the pattern scanner, and assemble the result
// record handed to the summarization worker.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"kr-quant-worker/internal/indicator"
	"kr-quant-worker/internal/logger"
	"kr-quant-worker/internal/metrics"
	"kr-quant-worker/internal/model"
	"kr-quant-worker/internal/pattern"
)

// Analyzer holds only immutable configuration and thread-safe collaborators,
// so one instance serves concurrent requests.
type Analyzer struct {
	params    Params
	engine    *indicator.Engine
	scanner   *pattern.Scanner
	source    model.BarSource
	publisher model.ResultPublisher
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// New validates params and wires the collaborators. publisher and m may be nil.
func New(params Params, source model.BarSource, publisher model.ResultPublisher, m *metrics.Metrics) (*Analyzer, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	engine, err := indicator.NewEngine(params.Indicators)
	if err != nil {
		return nil, err
	}
	scanner, err := pattern.NewScanner(params.Pattern)
	if err != nil {
		return nil, err
	}
	return &Analyzer{
		params:    params,
		engine:    engine,
		scanner:   scanner,
		source:    source,
		publisher: publisher,
		metrics:   m,
		log:       slog.Default().With(slog.String("component", "analysis")),
	}, nil
}

// Params returns the analyzer parameters.
func (a *Analyzer) Params() Params { return a.params }

// Analyze fetches up to days bars for stockCode (0 means the default
// lookback), analyzes them and publishes the result.
//
// Errors wrap model.ErrInvalidConfiguration (bad days), model.ErrNotFound
// (unknown stock) or model.ErrUpstream (fetch failed). Short history is not
// an error: the result carries warnings instead.
func (a *Analyzer) Analyze(ctx context.Context, stockCode string, days int) (*model.AnalysisResult, error) {
	start := time.Now()
	if days == 0 {
		days = a.params.DefaultLookbackDays
	}
	if days < 0 {
		a.metrics.ObserveAnalysis(metrics.OutcomeInvalid, time.Since(start))
		return nil, fmt.Errorf("lookback days must be positive, got %d: %w", days, model.ErrInvalidConfiguration)
	}
	if a.source == nil {
		return nil, fmt.Errorf("no bar source configured: %w", model.ErrUpstream)
	}

	fetchStart := time.Now()
	bars, err := a.source.FetchBars(ctx, stockCode, days)
	a.metrics.ObserveFetch(time.Since(fetchStart))
	if err != nil {
		outcome := metrics.OutcomeUpstreamError
		if errors.Is(err, model.ErrNotFound) {
			outcome = metrics.OutcomeNotFound
		} else if !errors.Is(err, model.ErrUpstream) {
			err = fmt.Errorf("%w: %w", model.ErrUpstream, err)
		}
		a.metrics.ObserveAnalysis(outcome, time.Since(start))
		a.log.Warn("fetch failed", append(logger.LogWithTrace(ctx),
			slog.String("stock_code", stockCode), slog.Int("days", days), slog.Any("error", err))...)
		return nil, fmt.Errorf("fetch %s: %w", stockCode, err)
	}

	res, err := a.analyze(ctx, stockCode, bars)
	if err != nil {
		a.metrics.ObserveAnalysis(metrics.OutcomeUpstreamError, time.Since(start))
		if errors.Is(err, model.ErrInvalidBar) {
			// the backend sent bars that fail validation
			err = fmt.Errorf("%w: %w", model.ErrUpstream, err)
		}
		return nil, err
	}
	a.metrics.ObserveAnalysis(metrics.OutcomeOK, time.Since(start))
	a.publish(ctx, res)
	return res, nil
}

// AnalyzeBars analyzes caller-supplied bars without fetching or publishing.
// Invalid bars are rejected with model.ErrInvalidBar.
func (a *Analyzer) AnalyzeBars(ctx context.Context, stockCode string, bars []model.PriceBar) (*model.AnalysisResult, error) {
	start := time.Now()
	res, err := a.analyze(ctx, stockCode, bars)
	if err != nil {
		a.metrics.ObserveAnalysis(metrics.OutcomeInvalid, time.Since(start))
		return nil, err
	}
	a.metrics.ObserveAnalysis(metrics.OutcomeOK, time.Since(start))
	return res, nil
}

func (a *Analyzer) analyze(ctx context.Context, stockCode string, raw []model.PriceBar) (*model.AnalysisResult, error) {
	for i := range raw {
		if err := raw[i].Validate(); err != nil {
			return nil, fmt.Errorf("%s bar %d: %w", stockCode, i, err)
		}
	}

	bars := model.PrepareBars(raw)
	closes := model.Closes(bars)
	n := len(closes)

	res := &model.AnalysisResult{
		StockCode:       stockCode,
		SimilarPatterns: []model.PatternMatch{},
		DataPoints:      n,
	}
	if dups := len(raw) - n; dups > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("removed %d duplicate dates", dups))
	}
	if n == 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%v: no price bars", model.ErrInsufficientData))
		return res, nil
	}
	res.CurrentPrice = closes[n-1]
	res.AsOf = bars[n-1].Date

	indStart := time.Now()
	ind := a.engine.Compute(closes)
	res.Indicators = ind.Snapshot()
	indDur := time.Since(indStart)
	res.Warnings = append(res.Warnings, a.indicatorWarnings(ind, n)...)

	scanStart := time.Now()
	scan, err := a.scanner.Scan(ctx, closes)
	if err != nil {
		return nil, err
	}
	scanDur := time.Since(scanStart)

	w := a.params.Pattern.WindowSize
	if n < 2*w {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%v: pattern scan needs %d bars, have %d", model.ErrInsufficientData, 2*w, n))
	}
	matches := scan.Matches
	if a.params.ValidateDTW {
		pattern.AnnotateDTW(closes, w, matches)
	}
	for i := range matches {
		matches[i].StartDate = bars[matches[i].StartIndex].Date
		matches[i].EndDate = bars[matches[i].EndIndex].Date
	}
	res.SimilarPatterns = matches
	res.PatternStats = Stats(matches)

	a.metrics.ObserveCompute(indDur, scanDur, scan.Candidates, len(matches))
	a.log.Info("analysis complete", append(logger.LogWithTrace(ctx),
		slog.String("stock_code", stockCode),
		slog.Int("data_points", n),
		slog.Int("candidates", scan.Candidates),
		slog.Int("passed", scan.Passed),
		slog.Int("matches", len(matches)),
		slog.Duration("indicator_dur", indDur),
		slog.Duration("scan_dur", scanDur))...)
	return res, nil
}

// indicatorWarnings explains each missing latest indicator: short history,
// or undefined despite enough bars (RSI with no down moves).
func (a *Analyzer) indicatorWarnings(ind *indicator.Result, n int) []string {
	cfg := a.params.Indicators
	need := map[string]int{
		"rsi":       cfg.RSIPeriod + 1,
		"sma_short": cfg.SMAShort,
		"sma_long":  cfg.SMALong,
		"bollinger": max(cfg.BollingerPeriod, 2),
	}
	var out []string
	for _, name := range ind.Unavailable() {
		if n < need[name] {
			out = append(out, fmt.Sprintf("%v: %s needs %d bars, have %d", model.ErrInsufficientData, name, need[name], n))
			continue
		}
		out = append(out, fmt.Sprintf("%s undefined at latest bar", name))
	}
	return out
}

func (a *Analyzer) publish(ctx context.Context, res *model.AnalysisResult) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.PublishResult(ctx, *res); err != nil {
		a.log.Warn("publish failed", append(logger.LogWithTrace(ctx),
			slog.String("stock_code", res.StockCode), slog.Any("error", err))...)
	}
}

// Stats summarizes the forward returns of matches. Aggregates are missing
// when there are no matches.
func Stats(matches []model.PatternMatch) model.PatternStats {
	st := model.PatternStats{Count: len(matches)}
	if len(matches) == 0 {
		return st
	}
	sum, positive := 0.0, 0
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, m := range matches {
		r := m.FutureReturnPct
		sum += r
		lo = math.Min(lo, r)
		hi = math.Max(hi, r)
		if r > 0 {
			positive++
		}
	}
	n := float64(len(matches))
	st.AvgFutureReturnPct = model.Some(sum / n)
	st.MaxFutureReturnPct = model.Some(hi)
	st.MinFutureReturnPct = model.Some(lo)
	st.PositiveRatio = model.Some(float64(positive) / n)
	return st
}
