package redis

import (
	"context"
	"errors"
	"log"
	"sync"

	goredis "github.com/go-redis/redis/v8"

	"kr-quant-worker/internal/breaker"
	"kr-quant-worker/internal/model"
)

const defaultMaxPending = 1000

// Publisher PUBLISHes each analysis result to analysis:result:{code}, the
// channel the summarization worker subscribes to.
//
// Results that fail while a breaker guards the publisher (including the
// failures that trip it, and everything while it is open) are held in memory,
// oldest dropped beyond the cap. They are flushed when the breaker closes and
// after the next successful publish.
type Publisher struct {
	client *goredis.Client
	cb     *breaker.Breaker

	mu      sync.Mutex
	pending []model.AnalysisResult
	maxBuf  int

	// Callbacks
	OnBuffer func()          // called when a result is held back
	OnFlush  func(count int) // called after pending results are flushed
}

// NewPublisher creates a publisher guarded by cb. It hooks cb's state
// change callback to flush held results on close.
func NewPublisher(client *goredis.Client, cb *breaker.Breaker, maxPending int) *Publisher {
	if maxPending <= 0 {
		maxPending = defaultMaxPending
	}
	p := &Publisher{
		client: client,
		cb:     cb,
		maxBuf: maxPending,
	}
	if cb != nil {
		prev := cb.OnStateChange
		cb.OnStateChange = func(name string, from, to breaker.State) {
			if prev != nil {
				prev(name, from, to)
			}
			if to == breaker.StateClosed {
				go p.flush(context.Background())
			}
		}
	}
	return p
}

// PublishResult implements model.ResultPublisher.
func (p *Publisher) PublishResult(ctx context.Context, res model.AnalysisResult) error {
	payload, err := res.JSON()
	if err != nil {
		return err
	}
	err = p.do(func() error {
		return p.client.Publish(ctx, res.PubSubChannel(), payload).Err()
	})
	if err == nil {
		if p.PendingCount() > 0 {
			go p.flush(context.Background())
		}
		return nil
	}
	if p.holdable(err) {
		log.Printf("[redis-publisher] holding %s result: %v", res.StockCode, err)
		p.hold(res)
		return nil // held, not lost
	}
	return err
}

// holdable reports whether a failed result will be retried by a later flush.
func (p *Publisher) holdable(err error) bool {
	if p.cb == nil {
		return false
	}
	if errors.Is(err, breaker.ErrOpen) {
		return true
	}
	return p.cb.IsFailure == nil || p.cb.IsFailure(err)
}

func (p *Publisher) do(fn func() error) error {
	if p.cb == nil {
		return fn()
	}
	return p.cb.Do(fn)
}

func (p *Publisher) hold(res model.AnalysisResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pending) >= p.maxBuf {
		p.pending = p.pending[1:]
	}
	p.pending = append(p.pending, res)

	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// flush publishes every held result in one pipeline.
func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	toFlush := p.pending
	p.pending = nil
	p.mu.Unlock()

	pipe := p.client.Pipeline()
	for i := range toFlush {
		payload, err := toFlush[i].JSON()
		if err != nil {
			log.Printf("[redis-publisher] dropping held result: %v", err)
			continue
		}
		pipe.Publish(ctx, toFlush[i].PubSubChannel(), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis-publisher] flush pipeline error (%d results): %v", len(toFlush), err)
		return
	}

	log.Printf("[redis-publisher] flushed %d held results", len(toFlush))
	if p.OnFlush != nil {
		p.OnFlush(len(toFlush))
	}
}

// PendingCount returns the number of results waiting to be flushed.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
