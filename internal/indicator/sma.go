package indicator

import (
	"kr-quant-worker/internal/model"
	"kr-quant-worker/internal/ringbuf"
)

// SMA calculates the Simple Moving Average over a rolling window of period
// closes. Points before index period-1 are missing.
// Uses a sliding window with a running sum, O(n) over the series.
func SMA(closes []float64, period int) (model.Series, error) {
	if err := checkPeriod("SMA", period); err != nil {
		return nil, err
	}
	out := missing(len(closes))
	win := ringbuf.New(period)
	for i, price := range closes {
		win.Push(price)
		if win.Full() {
			out[i] = model.Some(win.Mean())
		}
	}
	return out, nil
}
