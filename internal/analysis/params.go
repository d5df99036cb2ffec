package analysis

import (
	"fmt"

	"kr-quant-worker/internal/indicator"
	"kr-quant-worker/internal/model"
	"kr-quant-worker/internal/pattern"
)

// Params is the full parameter set for one analyzer.
type Params struct {
	Indicators indicator.Config
	Pattern    pattern.Config

	// DefaultLookbackDays is used when a request passes days == 0.
	DefaultLookbackDays int

	// ValidateDTW annotates every match with its DTW distance to the
	// reference window. O(w²) per match; off on the request path.
	ValidateDTW bool
}

// DefaultParams returns the stock defaults: 120-day lookback, 20-bar window,
// top 5 at 0.85, RSI 14, MACD 12/26/9, SMA 20/60, EMA 12, Bollinger 20/2.
func DefaultParams() Params {
	return Params{
		Indicators:          indicator.DefaultConfig(),
		Pattern:             pattern.DefaultConfig(),
		DefaultLookbackDays: 120,
	}
}

// Validate checks every parameter once at construction.
func (p Params) Validate() error {
	if err := p.Indicators.Validate(); err != nil {
		return err
	}
	if err := p.Pattern.Validate(); err != nil {
		return err
	}
	if p.DefaultLookbackDays <= 0 {
		return fmt.Errorf("default lookback days must be positive, got %d: %w", p.DefaultLookbackDays, model.ErrInvalidConfiguration)
	}
	return nil
}
