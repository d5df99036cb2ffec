package redis

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kr-quant-worker/internal/breaker"
	"kr-quant-worker/internal/model"
)

type countingSource struct {
	calls int
	bars  []model.PriceBar
	err   error
}

func (s *countingSource) FetchBars(context.Context, string, int) ([]model.PriceBar, error) {
	s.calls++
	return s.bars, s.err
}

func sampleBars() []model.PriceBar {
	d := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	return []model.PriceBar{
		{Date: d, Open: 71000, High: 72000, Low: 70500, Close: 71800, Volume: 1000},
		{Date: d.AddDate(0, 0, 1), Open: 71800, High: 72500, Low: 71000, Close: 72100, Volume: 1200},
	}
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "bars:005930:120", CacheKey("005930", 120))
}

func TestBarCache_NilClientPassesThrough(t *testing.T) {
	src := &countingSource{bars: sampleBars()}
	c := NewBarCache(nil, src, 0, nil, nil)

	for i := 0; i < 2; i++ {
		got, err := c.FetchBars(context.Background(), "005930", 120)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	}
	assert.Equal(t, 2, src.calls)
}

func TestBarCache_SourceErrorPropagates(t *testing.T) {
	src := &countingSource{err: model.ErrNotFound}
	c := NewBarCache(nil, src, time.Minute, nil, nil)
	_, err := c.FetchBars(context.Background(), "999999", 120)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func openBreaker(t *testing.T) *breaker.Breaker {
	t.Helper()
	cb := breaker.New("redis", 1, time.Hour)
	_ = cb.Do(func() error { return errors.New("connection refused") })
	require.Equal(t, breaker.StateOpen, cb.State())
	return cb
}

func TestPublisher_HoldsWhileBreakerOpen(t *testing.T) {
	cb := openBreaker(t)
	p := NewPublisher(nil, cb, 2)
	held := 0
	p.OnBuffer = func() { held++ }

	for _, code := range []string{"A", "B", "C"} {
		require.NoError(t, p.PublishResult(context.Background(), model.AnalysisResult{StockCode: code}))
	}
	assert.Equal(t, 3, held)
	assert.Equal(t, 2, p.PendingCount(), "oldest result dropped beyond the cap")

	p.mu.Lock()
	assert.Equal(t, "B", p.pending[0].StockCode)
	p.mu.Unlock()
}

func TestPublisher_EncodeErrorIsNotHeld(t *testing.T) {
	p := NewPublisher(nil, openBreaker(t), 0)
	bad := model.AnalysisResult{StockCode: "A", SimilarPatterns: []model.PatternMatch{{Similarity: math.NaN()}}}
	assert.Error(t, p.PublishResult(context.Background(), bad))
	assert.Equal(t, 0, p.PendingCount())
}

func TestPublisher_HoldsFailuresBeforeBreakerOpens(t *testing.T) {
	// nothing listens on port 1
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	cb := breaker.New("redis", 3, time.Hour)
	p := NewPublisher(client, cb, 0)

	require.NoError(t, p.PublishResult(context.Background(), model.AnalysisResult{StockCode: "A"}))
	assert.Equal(t, breaker.StateClosed, cb.State())
	assert.Equal(t, 1, p.PendingCount(), "a counted failure is held for the next flush")

	unguarded := NewPublisher(client, nil, 0)
	assert.Error(t, unguarded.PublishResult(context.Background(), model.AnalysisResult{StockCode: "B"}))
	assert.Equal(t, 0, unguarded.PendingCount())
}

// Integration tests against a live server run only when REDIS_TEST_ADDR is set.
func liveClient(t *testing.T) Config {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	return Config{Addr: addr, DB: 15}
}

func TestBarCache_Live(t *testing.T) {
	client, err := NewClient(liveClient(t))
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	code := "TEST" + time.Now().Format("150405.000")
	defer client.Del(ctx, CacheKey(code, 30))

	src := &countingSource{bars: sampleBars()}
	c := NewBarCache(client, src, time.Minute, nil, nil)

	first, err := c.FetchBars(ctx, code, 30)
	require.NoError(t, err)
	second, err := c.FetchBars(ctx, code, 30)
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls, "second fetch should be served from Redis")
	assert.Equal(t, model.Closes(first), model.Closes(second))
	assert.True(t, second[0].Date.Equal(first[0].Date))
}

func TestPublisher_Live(t *testing.T) {
	client, err := NewClient(liveClient(t))
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	res := model.AnalysisResult{StockCode: "005930", CurrentPrice: 71800}
	sub := client.Subscribe(ctx, res.PubSubChannel())
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	p := NewPublisher(client, breaker.New("redis", 3, time.Second), 0)
	require.NoError(t, p.PublishResult(ctx, res))

	select {
	case msg := <-sub.Channel():
		assert.Contains(t, msg.Payload, `"current_price":71800`)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}
