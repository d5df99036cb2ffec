package model

import "context"

// ── Collaborator Port Interfaces ──
// These decouple the analysis orchestrator from concrete data sources and
// result sinks (HTTP backend, Redis, SQLite, websocket clients).

// BarSource supplies daily OHLCV bars for one stock.
type BarSource interface {
	// FetchBars returns up to days recent bars. Order is not guaranteed;
	// callers run PrepareBars before computing.
	FetchBars(ctx context.Context, stockCode string, days int) ([]PriceBar, error)
}

// BarStore persists raw bars locally for offline replay.
type BarStore interface {
	SaveBars(stockCode string, bars []PriceBar) error
}

// ResultPublisher hands a finished analysis to downstream consumers
// (the summarization worker, dashboards).
type ResultPublisher interface {
	PublishResult(ctx context.Context, result AnalysisResult) error
}
