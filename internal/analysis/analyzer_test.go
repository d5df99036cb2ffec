package analysis

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kr-quant-worker/internal/metrics"
	"kr-quant-worker/internal/model"
)

var baseDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func makeBars(closes []float64) []model.PriceBar {
	bars := make([]model.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = model.PriceBar{
			Date:   baseDate.AddDate(0, 0, i),
			Open:   c,
			High:   c * 1.01,
			Low:    c * 0.99,
			Close:  c,
			Volume: 1000 + int64(i),
		}
	}
	return bars
}

func waveCloses(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		x := float64(i)
		out[i] = 70000 + 2500*math.Sin(x/6) + 800*math.Cos(x/2.5) + 15*x
	}
	return out
}

func rampCloses(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 10 + float64(i)
	}
	return out
}

type fakeSource struct {
	mu    sync.Mutex
	bars  []model.PriceBar
	err   error
	calls []int
}

func (f *fakeSource) FetchBars(_ context.Context, _ string, days int) ([]model.PriceBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, days)
	if f.err != nil {
		return nil, f.err
	}
	return f.bars, nil
}

type capturePublisher struct {
	mu      sync.Mutex
	results []model.AnalysisResult
	err     error
}

func (c *capturePublisher) PublishResult(_ context.Context, r model.AnalysisResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
	return c.err
}

func newAnalyzer(t *testing.T, params Params, src model.BarSource, pub model.ResultPublisher) *Analyzer {
	t.Helper()
	a, err := New(params, src, pub, nil)
	require.NoError(t, err)
	return a
}

func TestAnalyze_FullHistory(t *testing.T) {
	closes := waveCloses(120)
	// end on a down day so the 14-delta RSI window holds a loss
	closes[118] = closes[119] + 300
	src := &fakeSource{bars: makeBars(closes)}
	pub := &capturePublisher{}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	a, err := New(DefaultParams(), src, pub, m)
	require.NoError(t, err)

	res, err := a.Analyze(context.Background(), "005930", 0)
	require.NoError(t, err)

	assert.Equal(t, []int{120}, src.calls, "days 0 should use the default lookback")
	assert.Equal(t, "005930", res.StockCode)
	assert.Equal(t, 120, res.DataPoints)
	assert.Equal(t, closes[119], res.CurrentPrice)
	assert.True(t, res.AsOf.Equal(baseDate.AddDate(0, 0, 119)))
	assert.Empty(t, res.Warnings)

	ind := res.Indicators
	for name, v := range map[string]model.Value{
		"rsi": ind.RSI, "macd": ind.MACD, "sma_20": ind.SMA20, "sma_60": ind.SMA60,
		"ema_12": ind.EMA12, "bollinger_upper": ind.BollingerUpper, "price_vs_sma60_pct": ind.PriceVsSMA60Pct,
	} {
		assert.True(t, v.Valid, "%s should be defined on 120 bars", name)
	}

	assert.LessOrEqual(t, len(res.SimilarPatterns), 5)
	assert.Equal(t, len(res.SimilarPatterns), res.PatternStats.Count)
	for _, p := range res.SimilarPatterns {
		assert.GreaterOrEqual(t, p.Similarity, 0.85)
		assert.True(t, p.StartDate.Equal(baseDate.AddDate(0, 0, p.StartIndex)))
		assert.True(t, p.EndDate.Equal(baseDate.AddDate(0, 0, p.EndIndex)))
		assert.False(t, p.DTWDistance.Valid, "DTW only in validation mode")
	}

	require.Len(t, pub.results, 1)
	assert.Equal(t, "005930", pub.results[0].StockCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysisTotal.WithLabelValues(metrics.OutcomeOK)))
}

func TestAnalyze_LinearRamp(t *testing.T) {
	src := &fakeSource{bars: makeBars(rampCloses(80))}
	a := newAnalyzer(t, DefaultParams(), src, nil)

	res, err := a.Analyze(context.Background(), "000660", 80)
	require.NoError(t, err)

	require.Len(t, res.SimilarPatterns, 5)
	for i, p := range res.SimilarPatterns {
		assert.Equal(t, 1.0, p.Similarity)
		assert.Equal(t, i, p.StartIndex)
	}
	// a ramp never moves down, so RSI is undefined despite enough bars
	assert.False(t, res.Indicators.RSI.Valid)
	assert.Contains(t, res.Warnings, "rsi undefined at latest bar")

	st := res.PatternStats
	assert.Equal(t, 5, st.Count)
	assert.True(t, st.PositiveRatio.Valid)
	assert.Equal(t, 1.0, st.PositiveRatio.V)
}

func TestAnalyze_ShortHistoryWarns(t *testing.T) {
	src := &fakeSource{bars: makeBars(waveCloses(30))}
	a := newAnalyzer(t, DefaultParams(), src, nil)

	res, err := a.Analyze(context.Background(), "035720", 30)
	require.NoError(t, err)

	assert.Equal(t, 30, res.DataPoints)
	assert.NotNil(t, res.SimilarPatterns)
	assert.Empty(t, res.SimilarPatterns)
	assert.False(t, res.PatternStats.AvgFutureReturnPct.Valid)
	assert.Contains(t, res.Warnings, "insufficient data: pattern scan needs 40 bars, have 30")
	assert.Contains(t, res.Warnings, "insufficient data: sma_long needs 60 bars, have 30")
	b, err := res.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(b), `"similar_patterns":[]`)
	assert.Contains(t, string(b), `"sma_60":null`)
}

func TestAnalyze_SortsAndDedupes(t *testing.T) {
	bars := makeBars(waveCloses(100))
	shuffled := make([]model.PriceBar, 0, len(bars)+1)
	for i := len(bars) - 1; i >= 0; i-- {
		shuffled = append(shuffled, bars[i])
	}
	dup := bars[99]
	dup.Close = 77777
	shuffled = append(shuffled, dup)

	a := newAnalyzer(t, DefaultParams(), &fakeSource{bars: shuffled}, nil)
	res, err := a.Analyze(context.Background(), "005930", 120)
	require.NoError(t, err)

	assert.Equal(t, 100, res.DataPoints)
	assert.Equal(t, 77777.0, res.CurrentPrice, "last occurrence of a date wins")
	assert.Contains(t, res.Warnings, "removed 1 duplicate dates")
	assert.Equal(t, 77777.0, shuffled[len(shuffled)-1].Close, "input not mutated")
	assert.Equal(t, bars[99].Date, shuffled[0].Date, "input order kept")
}

func TestAnalyze_NoBars(t *testing.T) {
	a := newAnalyzer(t, DefaultParams(), &fakeSource{}, nil)
	res, err := a.Analyze(context.Background(), "005930", 120)
	require.NoError(t, err)
	assert.Equal(t, 0, res.DataPoints)
	require.NotEmpty(t, res.Warnings)
	assert.True(t, strings.HasPrefix(res.Warnings[0], "insufficient data"))
}

func TestAnalyze_Errors(t *testing.T) {
	pub := &capturePublisher{}

	notFound := newAnalyzer(t, DefaultParams(), &fakeSource{err: model.ErrNotFound}, pub)
	_, err := notFound.Analyze(context.Background(), "XXXX", 120)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NotErrorIs(t, err, model.ErrUpstream)

	down := newAnalyzer(t, DefaultParams(), &fakeSource{err: errors.New("connection refused")}, pub)
	_, err = down.Analyze(context.Background(), "005930", 120)
	assert.ErrorIs(t, err, model.ErrUpstream)

	_, err = down.Analyze(context.Background(), "005930", -5)
	assert.ErrorIs(t, err, model.ErrInvalidConfiguration)

	bad := makeBars(waveCloses(50))
	bad[10].Close = 0
	badData := newAnalyzer(t, DefaultParams(), &fakeSource{bars: bad}, pub)
	_, err = badData.Analyze(context.Background(), "005930", 120)
	assert.ErrorIs(t, err, model.ErrUpstream)
	assert.ErrorIs(t, err, model.ErrInvalidBar)

	assert.Empty(t, pub.results, "failed analyses are never published")
}

func TestAnalyze_PublishFailureIsNotFatal(t *testing.T) {
	pub := &capturePublisher{err: errors.New("redis down")}
	a := newAnalyzer(t, DefaultParams(), &fakeSource{bars: makeBars(waveCloses(90))}, pub)
	res, err := a.Analyze(context.Background(), "005930", 90)
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Len(t, pub.results, 1)
}

func TestAnalyzeBars(t *testing.T) {
	pub := &capturePublisher{}
	a := newAnalyzer(t, DefaultParams(), nil, pub)

	res, err := a.AnalyzeBars(context.Background(), "005930", makeBars(waveCloses(70)))
	require.NoError(t, err)
	assert.Equal(t, 70, res.DataPoints)
	assert.Empty(t, pub.results, "caller-supplied bars are not published")

	bad := makeBars(waveCloses(5))
	bad[2].Volume = -1
	_, err = a.AnalyzeBars(context.Background(), "005930", bad)
	assert.ErrorIs(t, err, model.ErrInvalidBar)
}

func TestAnalyzeBars_RejectsNonFiniteCloses(t *testing.T) {
	a := newAnalyzer(t, DefaultParams(), nil, nil)
	for _, v := range []float64{math.NaN(), math.Inf(1)} {
		bars := makeBars(waveCloses(60))
		bars[20].Close = v
		res, err := a.AnalyzeBars(context.Background(), "005930", bars)
		assert.ErrorIs(t, err, model.ErrInvalidBar)
		assert.Nil(t, res)
	}
}

func TestAnalyze_RSIMissingOnUnbrokenRally(t *testing.T) {
	// waveCloses(120) rises over each of its last 14 deltas: no losses, RSI undefined
	a := newAnalyzer(t, DefaultParams(), &fakeSource{bars: makeBars(waveCloses(120))}, nil)
	res, err := a.Analyze(context.Background(), "005930", 120)
	require.NoError(t, err)
	assert.False(t, res.Indicators.RSI.Valid)
	assert.Contains(t, res.Warnings, "rsi undefined at latest bar")
}

func TestAnalyze_ValidateDTW(t *testing.T) {
	params := DefaultParams()
	params.ValidateDTW = true
	a := newAnalyzer(t, params, &fakeSource{bars: makeBars(rampCloses(80))}, nil)

	res, err := a.Analyze(context.Background(), "005930", 80)
	require.NoError(t, err)
	require.NotEmpty(t, res.SimilarPatterns)
	for _, p := range res.SimilarPatterns {
		require.True(t, p.DTWDistance.Valid)
		assert.Equal(t, 0.0, p.DTWDistance.V)
	}
}

func TestAnalyze_ParallelScanMatchesSequential(t *testing.T) {
	bars := makeBars(waveCloses(400))
	params := DefaultParams()
	params.Pattern.Workers = 4
	params.Pattern.Threshold = 0.5
	params.Pattern.TopK = 20
	seqParams := params
	seqParams.Pattern.Workers = 1
	par := newAnalyzer(t, params, &fakeSource{bars: bars}, nil)
	seq := newAnalyzer(t, seqParams, &fakeSource{bars: bars}, nil)

	want, err := seq.Analyze(context.Background(), "005930", 400)
	require.NoError(t, err)
	got, err := par.Analyze(context.Background(), "005930", 400)
	require.NoError(t, err)
	assert.Equal(t, want.SimilarPatterns, got.SimilarPatterns)
}

func TestNew_InvalidParams(t *testing.T) {
	params := DefaultParams()
	params.Pattern.TopK = 0
	_, err := New(params, nil, nil, nil)
	assert.ErrorIs(t, err, model.ErrInvalidConfiguration)

	params = DefaultParams()
	params.DefaultLookbackDays = 0
	_, err = New(params, nil, nil, nil)
	assert.ErrorIs(t, err, model.ErrInvalidConfiguration)
}

func TestStats(t *testing.T) {
	st := Stats([]model.PatternMatch{
		{FutureReturnPct: 2},
		{FutureReturnPct: -1},
		{FutureReturnPct: 5},
		{FutureReturnPct: 0},
	})
	assert.Equal(t, 4, st.Count)
	assert.InDelta(t, 1.5, st.AvgFutureReturnPct.V, 1e-12)
	assert.Equal(t, 5.0, st.MaxFutureReturnPct.V)
	assert.Equal(t, -1.0, st.MinFutureReturnPct.V)
	assert.InDelta(t, 0.5, st.PositiveRatio.V, 1e-12)

	empty := Stats(nil)
	assert.Equal(t, 0, empty.Count)
	assert.False(t, empty.AvgFutureReturnPct.Valid)
}

func TestMultiPublisher(t *testing.T) {
	ok := &capturePublisher{}
	failing := &capturePublisher{err: errors.New("boom")}
	mp := MultiPublisher{failing, nil, ok}

	err := mp.PublishResult(context.Background(), model.AnalysisResult{StockCode: "005930"})
	assert.EqualError(t, err, "boom")
	assert.Len(t, ok.results, 1, "later sinks still receive the result")
	assert.NoError(t, LogPublisher{}.PublishResult(context.Background(), model.AnalysisResult{}))
}
