package indicator

import "kr-quant-worker/internal/model"

// EMA calculates the Exponential Moving Average with alpha = 2/(span+1).
// The recurrence is seeded with the first close (ema[0] = x[0]), so every
// point is defined; there is no simple-average warm-up.
func EMA(closes []float64, span int) (model.Series, error) {
	if err := checkPeriod("EMA", span); err != nil {
		return nil, err
	}
	vals := ema(closes, span)
	out := make(model.Series, len(vals))
	for i, v := range vals {
		out[i] = model.Some(v)
	}
	return out, nil
}

// ema is the raw recurrence; callers validate span.
// EMA formula: EMA = (Price * alpha) + (EMA_prev * (1 - alpha))
func ema(xs []float64, span int) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 {
		return out
	}
	alpha := 2.0 / float64(span+1)
	out[0] = xs[0]
	for i := 1; i < len(xs); i++ {
		out[i] = alpha*xs[i] + (1-alpha)*out[i-1]
	}
	return out
}
