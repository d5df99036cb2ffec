package indicator

import (
	"fmt"
	"math"

	"kr-quant-worker/internal/model"
	"kr-quant-worker/internal/ringbuf"
)

// stdDDOF selects the Bollinger standard deviation convention: 1 means the
// sample deviation (n-1 denominator).
const stdDDOF = 1

// BollingerResult holds the three aligned band series.
type BollingerResult struct {
	Upper  model.Series
	Middle model.Series
	Lower  model.Series
}

// Bollinger calculates Bollinger Bands:
//
//	middle = SMA(period)
//	upper  = middle + k*std(period)
//	lower  = middle - k*std(period)
//
// std is the rolling sample standard deviation over the same window as the
// SMA. Bands are missing wherever the SMA or the deviation is undefined
// (the first period-1 points, and everywhere when period == 1).
func Bollinger(closes []float64, period int, k float64) (BollingerResult, error) {
	if err := checkPeriod("Bollinger", period); err != nil {
		return BollingerResult{}, err
	}
	if k < 0 || math.IsNaN(k) || math.IsInf(k, 0) {
		return BollingerResult{}, fmt.Errorf("bollinger k must be a finite non-negative number, got %v: %w", k, model.ErrInvalidConfiguration)
	}

	n := len(closes)
	res := BollingerResult{
		Upper:  missing(n),
		Middle: missing(n),
		Lower:  missing(n),
	}
	win := ringbuf.New(period)
	for i, price := range closes {
		win.Push(price)
		if !win.Full() {
			continue
		}
		mid := win.Mean()
		res.Middle[i] = model.Some(mid)
		sd, ok := win.StdDev(stdDDOF)
		if !ok {
			continue
		}
		half := k * sd
		res.Upper[i] = model.Some(mid + half)
		res.Lower[i] = model.Some(mid - half)
	}
	return res, nil
}
