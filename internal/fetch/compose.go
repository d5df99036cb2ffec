package fetch

import (
	"context"
	"errors"
	"log"

	"kr-quant-worker/internal/model"
)

// Fallback serves bars from Secondary when Primary fails upstream.
// ErrNotFound from Primary is returned as is: the stock does not exist.
type Fallback struct {
	Primary   model.BarSource
	Secondary model.BarSource
}

func (f *Fallback) FetchBars(ctx context.Context, stockCode string, days int) ([]model.PriceBar, error) {
	bars, err := f.Primary.FetchBars(ctx, stockCode, days)
	if err == nil || f.Secondary == nil || errors.Is(err, model.ErrNotFound) {
		return bars, err
	}
	local, lerr := f.Secondary.FetchBars(ctx, stockCode, days)
	if lerr != nil || len(local) == 0 {
		return nil, err
	}
	log.Printf("[fetch] %s: primary failed (%v), served %d bars from fallback", stockCode, err, len(local))
	return local, nil
}

// Recording saves every successful fetch to Store. Save errors are logged,
// never returned.
type Recording struct {
	Source model.BarSource
	Store  model.BarStore
}

func (r *Recording) FetchBars(ctx context.Context, stockCode string, days int) ([]model.PriceBar, error) {
	bars, err := r.Source.FetchBars(ctx, stockCode, days)
	if err != nil || len(bars) == 0 || r.Store == nil {
		return bars, err
	}
	if serr := r.Store.SaveBars(stockCode, bars); serr != nil {
		log.Printf("[fetch] %s: record bars: %v", stockCode, serr)
	}
	return bars, nil
}
