// Package batch runs the daily watchlist analysis after the KRX close.
// Each symbol is analyzed on its own; one failure never stops the run.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"kr-quant-worker/internal/logger"
	"kr-quant-worker/internal/markethours"
	"kr-quant-worker/internal/metrics"
	"kr-quant-worker/internal/model"
)

// Batch results used as the "result" metric label.
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// ErrAlreadyRunning is returned by Trigger while a run is in progress.
var ErrAlreadyRunning = errors.New("batch already running")

// Runner analyzes one stock and publishes the result.
type Runner interface {
	Analyze(ctx context.Context, stockCode string, days int) (*model.AnalysisResult, error)
}

// Config controls the daily job.
type Config struct {
	Cron      string        // six-field spec with seconds, e.g. "0 0 16 * * MON-FRI"
	Timezone  string        // cron location, e.g. "Asia/Seoul"
	Watchlist []string      // stock codes, analyzed in order
	Delay     time.Duration // pause between symbols, eases backend rate limits
	Days      int           // lookback per symbol, 0 = analyzer default
}

// Report summarizes one run.
type Report struct {
	Date      string        `json:"date"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   string        `json:"skipped,omitempty"` // reason the run did nothing
	Duration  time.Duration `json:"duration"`
}

// Scheduler manages the cron entry and guards against overlapping or
// repeated runs on the same day.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	cfg     Config
	metrics *metrics.Metrics
	log     *slog.Logger

	running atomic.Bool
	mu      sync.Mutex
	lastRun string // KST date of the last completed run

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewScheduler creates a scheduler and registers the daily task. m may be nil.
func NewScheduler(cfg Config, runner Runner, m *metrics.Metrics) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("batch timezone: %w", err)
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		runner:  runner,
		cfg:     cfg,
		metrics: m,
		log:     slog.Default().With(slog.String("component", "batch")),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	if _, err := s.cron.AddFunc(cfg.Cron, s.scheduled); err != nil {
		return nil, fmt.Errorf("register daily analysis: %w", err)
	}
	return s, nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", slog.String("cron", s.cfg.Cron), slog.Int("watchlist", len(s.cfg.Watchlist)))
}

// Stop stops the cron scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) scheduled() {
	s.RunOnce(context.Background())
}

// Trigger starts a run in the background, for the manual batch endpoint.
func (s *Scheduler) Trigger(ctx context.Context) error {
	if s.running.Load() {
		return ErrAlreadyRunning
	}
	go s.RunOnce(context.WithoutCancel(ctx))
	return nil
}

// RunOnce analyzes the watchlist now. It does nothing on non-trading days,
// when today's run already completed, or while another run is in progress.
func (s *Scheduler) RunOnce(ctx context.Context) Report {
	start := s.now()
	today := start.In(markethours.KST).Format(model.DateLayout)
	rep := Report{Date: today, Total: len(s.cfg.Watchlist)}

	if !s.running.CompareAndSwap(false, true) {
		return s.skip(rep, "already running")
	}
	defer s.running.Store(false)

	if !markethours.IsTradingDay(start) {
		return s.skip(rep, markethours.StatusString(start))
	}
	s.mu.Lock()
	done := s.lastRun == today
	s.mu.Unlock()
	if done {
		return s.skip(rep, "already ran today")
	}
	if len(s.cfg.Watchlist) == 0 {
		return s.skip(rep, "empty watchlist")
	}

	s.log.Info("daily analysis started", slog.String("date", today), slog.Int("stocks", rep.Total))
	for i, code := range s.cfg.Watchlist {
		if i > 0 && s.cfg.Delay > 0 {
			if err := s.sleep(ctx, s.cfg.Delay); err != nil {
				break
			}
		}
		runCtx := logger.WithTraceID(ctx, logger.GenerateTraceID(code, s.now()))
		res, err := s.runner.Analyze(runCtx, code, s.cfg.Days)
		if err != nil {
			rep.Failed++
			s.metrics.BatchRun(ResultFailed)
			s.log.Error("analysis failed", append(logger.LogWithTrace(runCtx),
				slog.String("stock_code", code), slog.Any("error", err))...)
			continue
		}
		rep.Succeeded++
		s.metrics.BatchRun(ResultOK)
		s.log.Info("analysis done", append(logger.LogWithTrace(runCtx),
			slog.String("stock_code", code),
			slog.Int("matches", len(res.SimilarPatterns)),
			slog.String("rsi", res.Indicators.RSI.String()))...)
	}

	s.mu.Lock()
	s.lastRun = today
	s.mu.Unlock()

	rep.Duration = s.now().Sub(start)
	s.log.Info("daily analysis finished",
		slog.Int("total", rep.Total),
		slog.Int("succeeded", rep.Succeeded),
		slog.Int("failed", rep.Failed),
		slog.Duration("duration", rep.Duration))
	return rep
}

func (s *Scheduler) skip(rep Report, reason string) Report {
	rep.Skipped = reason
	s.metrics.BatchRun(ResultSkipped)
	s.log.Info("daily analysis skipped", slog.String("reason", reason))
	return rep
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
