package redis

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"kr-quant-worker/internal/breaker"
	"kr-quant-worker/internal/metrics"
	"kr-quant-worker/internal/model"
)

const defaultCacheTTL = 5 * time.Minute

// BarCache serves bars from Redis when a fresh copy exists and otherwise
// fetches from Source and caches the result for TTL. Redis failures never
// fail a fetch: the cache is skipped and Source answers directly.
type BarCache struct {
	client  *goredis.Client
	source  model.BarSource
	ttl     time.Duration
	cb      *breaker.Breaker
	metrics *metrics.Metrics
}

// NewBarCache wraps source. A nil client disables caching; cb and m may be nil.
func NewBarCache(client *goredis.Client, source model.BarSource, ttl time.Duration, cb *breaker.Breaker, m *metrics.Metrics) *BarCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &BarCache{
		client:  client,
		source:  source,
		ttl:     ttl,
		cb:      cb,
		metrics: m,
	}
}

// CacheKey returns the key bars for (stockCode, days) are cached under.
func CacheKey(stockCode string, days int) string {
	return "bars:" + stockCode + ":" + strconv.Itoa(days)
}

// FetchBars implements model.BarSource.
func (c *BarCache) FetchBars(ctx context.Context, stockCode string, days int) ([]model.PriceBar, error) {
	if c.client == nil {
		return c.source.FetchBars(ctx, stockCode, days)
	}
	key := CacheKey(stockCode, days)

	if bars, ok := c.get(ctx, key); ok {
		c.metrics.CacheLookup(true)
		return bars, nil
	}
	c.metrics.CacheLookup(false)

	bars, err := c.source.FetchBars(ctx, stockCode, days)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, bars)
	return bars, nil
}

func (c *BarCache) get(ctx context.Context, key string) ([]model.PriceBar, bool) {
	var data []byte
	err := c.do(func() error {
		var err error
		data, err = c.client.Get(ctx, key).Bytes()
		if err == goredis.Nil {
			return nil // a miss is not a failure
		}
		return err
	})
	if err != nil {
		log.Printf("[redis-cache] get %s: %v", key, err)
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}
	var bars []model.PriceBar
	if err := json.Unmarshal(data, &bars); err != nil {
		log.Printf("[redis-cache] corrupt entry %s: %v", key, err)
		return nil, false
	}
	return bars, true
}

func (c *BarCache) set(ctx context.Context, key string, bars []model.PriceBar) {
	data, err := json.Marshal(bars)
	if err != nil {
		return
	}
	err = c.do(func() error {
		return c.client.Set(ctx, key, data, c.ttl).Err()
	})
	if err != nil {
		log.Printf("[redis-cache] set %s: %v", key, err)
	}
}

func (c *BarCache) do(fn func() error) error {
	if c.cb == nil {
		return fn()
	}
	return c.cb.Do(fn)
}
