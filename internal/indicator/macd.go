package indicator

import "kr-quant-worker/internal/model"

// MACDResult holds the three aligned MACD series.
type MACDResult struct {
	Line      model.Series
	Signal    model.Series
	Histogram model.Series
}

// MACD calculates Moving Average Convergence Divergence:
//
//	line      = EMA(fast) - EMA(slow)
//	signal    = EMA(line, signal)
//	histogram = line - signal
//
// All EMAs are seeded with their first input, so each series is defined from
// index 0. The histogram is computed point-wise from the other two.
func MACD(closes []float64, fast, slow, signal int) (MACDResult, error) {
	if err := checkPeriod("MACD fast", fast); err != nil {
		return MACDResult{}, err
	}
	if err := checkPeriod("MACD slow", slow); err != nil {
		return MACDResult{}, err
	}
	if err := checkPeriod("MACD signal", signal); err != nil {
		return MACDResult{}, err
	}

	emaFast := ema(closes, fast)
	emaSlow := ema(closes, slow)
	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = emaFast[i] - emaSlow[i]
	}
	sig := ema(line, signal)

	res := MACDResult{
		Line:      make(model.Series, len(closes)),
		Signal:    make(model.Series, len(closes)),
		Histogram: make(model.Series, len(closes)),
	}
	for i := range line {
		res.Line[i] = model.Some(line[i])
		res.Signal[i] = model.Some(sig[i])
		if res.Line[i].Valid && res.Signal[i].Valid {
			res.Histogram[i] = model.Some(res.Line[i].V - res.Signal[i].V)
		}
	}
	return res, nil
}
