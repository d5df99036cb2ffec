// Package indicator computes classical technical indicators over a close-price
// series.
//
// Every function is stateless: it reads the input slice, never mutates it, and
// returns a new model.Series aligned with the input (out[i] corresponds to
// closes[i]). Points inside an indicator's warm-up period, and points where
// the formula is undefined, are missing values rather than NaN or zero.
package indicator

import (
	"fmt"

	"kr-quant-worker/internal/model"
)

// checkPeriod rejects non-positive lookbacks at the call boundary.
func checkPeriod(name string, period int) error {
	if period <= 0 {
		return fmt.Errorf("%s period must be positive, got %d: %w", name, period, model.ErrInvalidConfiguration)
	}
	return nil
}

// missing returns an all-missing series of length n.
func missing(n int) model.Series {
	return make(model.Series, n)
}
