package indicator

import (
	"kr-quant-worker/internal/model"
	"kr-quant-worker/internal/ringbuf"
)

// RSI calculates the Relative Strength Index using a simple rolling mean of
// gains and losses over period deltas:
//
//	gain = max(Δ, 0), loss = max(-Δ, 0)
//	RS   = avg_gain / avg_loss
//	RSI  = 100 - 100/(1+RS)
//
// Index 0 has no delta, so the first period positions are missing and the
// first defined point is at index period. Where avg_loss is exactly zero
// (a window with no down moves, including a flat window) RSI is missing,
// not 100.
func RSI(closes []float64, period int) (model.Series, error) {
	if err := checkPeriod("RSI", period); err != nil {
		return nil, err
	}
	out := missing(len(closes))
	if len(closes) < 2 {
		return out, nil
	}

	gains := ringbuf.New(period)
	losses := ringbuf.New(period)
	// Count of strictly positive samples in each window. Decides exact zero
	// averages without trusting running-sum rounding.
	upCount, downCount := 0, 0

	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else if delta < 0 {
			loss = -delta
		}

		if old, ok := gains.Push(gain); ok && old > 0 {
			upCount--
		}
		if gain > 0 {
			upCount++
		}
		if old, ok := losses.Push(loss); ok && old > 0 {
			downCount--
		}
		if loss > 0 {
			downCount++
		}

		if !gains.Full() {
			continue
		}
		if downCount == 0 {
			continue // avg_loss == 0 → undefined
		}
		avgGain := 0.0
		if upCount > 0 {
			avgGain = gains.Mean()
		}
		avgLoss := losses.Mean()
		rs := avgGain / avgLoss
		out[i] = model.Some(clampRSI(100.0 - 100.0/(1.0+rs)))
	}
	return out, nil
}

// clampRSI bounds rounding noise so RSI stays within [0, 100].
func clampRSI(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
