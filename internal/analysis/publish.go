package analysis

import (
	"context"
	"errors"
	"log/slog"

	"kr-quant-worker/internal/model"
)

// MultiPublisher fans a result out to every sink. All sinks are attempted;
// the joined error reports every failure.
type MultiPublisher []model.ResultPublisher

func (m MultiPublisher) PublishResult(ctx context.Context, res model.AnalysisResult) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.PublishResult(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher logs a one-line summary of each result. It is the sink when
// Redis is disabled.
type LogPublisher struct {
	Log *slog.Logger
}

func (p LogPublisher) PublishResult(ctx context.Context, res model.AnalysisResult) error {
	l := p.Log
	if l == nil {
		l = slog.Default()
	}
	l.Info("analysis result",
		slog.String("stock_code", res.StockCode),
		slog.Float64("current_price", res.CurrentPrice),
		slog.String("rsi", res.Indicators.RSI.String()),
		slog.Int("matches", len(res.SimilarPatterns)),
		slog.String("avg_future_return_pct", res.PatternStats.AvgFutureReturnPct.String()),
	)
	return nil
}
