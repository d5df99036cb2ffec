package indicator

import (
	"kr-quant-worker/internal/model"
)

// Config specifies the lookback periods for every indicator the engine
// computes.
type Config struct {
	RSIPeriod       int     `json:"rsi_period" yaml:"rsi_period"`
	MACDFast        int     `json:"macd_fast" yaml:"macd_fast"`
	MACDSlow        int     `json:"macd_slow" yaml:"macd_slow"`
	MACDSignal      int     `json:"macd_signal" yaml:"macd_signal"`
	SMAShort        int     `json:"sma_short" yaml:"sma_short"`
	SMALong         int     `json:"sma_long" yaml:"sma_long"`
	EMAPeriod       int     `json:"ema_period" yaml:"ema_period"`
	BollingerPeriod int     `json:"bollinger_period" yaml:"bollinger_period"`
	BollingerK      float64 `json:"bollinger_k" yaml:"bollinger_k"`
}

// DefaultConfig returns RSI 14, MACD 12/26/9, SMA 20/60, EMA 12, Bollinger 20/2.0.
func DefaultConfig() Config {
	return Config{
		RSIPeriod:       14,
		MACDFast:        12,
		MACDSlow:        26,
		MACDSignal:      9,
		SMAShort:        20,
		SMALong:         60,
		EMAPeriod:       12,
		BollingerPeriod: 20,
		BollingerK:      2.0,
	}
}

// Validate checks all periods once so Compute can't fail on configuration.
func (c Config) Validate() error {
	checks := []struct {
		name   string
		period int
	}{
		{"RSI", c.RSIPeriod},
		{"MACD fast", c.MACDFast},
		{"MACD slow", c.MACDSlow},
		{"MACD signal", c.MACDSignal},
		{"SMA short", c.SMAShort},
		{"SMA long", c.SMALong},
		{"EMA", c.EMAPeriod},
		{"Bollinger", c.BollingerPeriod},
	}
	for _, ch := range checks {
		if err := checkPeriod(ch.name, ch.period); err != nil {
			return err
		}
	}
	if _, err := Bollinger(nil, c.BollingerPeriod, c.BollingerK); err != nil {
		return err
	}
	return nil
}

// Result holds the full aligned series of every indicator, so callers can
// inspect intermediate values and not just the tail.
type Result struct {
	Closes    []float64
	RSI       model.Series
	MACD      MACDResult
	SMAShort  model.Series
	SMALong   model.Series
	EMA       model.Series
	Bollinger BollingerResult
}

// Engine computes the configured indicator set over a close series.
// It holds only its configuration and is safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and returns an engine for it.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Compute runs every indicator over closes. Short series yield missing
// points rather than errors.
func (e *Engine) Compute(closes []float64) *Result {
	cfg := e.cfg
	res := &Result{Closes: closes}

	// Periods were validated in NewEngine; errors here are unreachable.
	res.RSI, _ = RSI(closes, cfg.RSIPeriod)
	res.MACD, _ = MACD(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	res.SMAShort, _ = SMA(closes, cfg.SMAShort)
	res.SMALong, _ = SMA(closes, cfg.SMALong)
	res.EMA, _ = EMA(closes, cfg.EMAPeriod)
	res.Bollinger, _ = Bollinger(closes, cfg.BollingerPeriod, cfg.BollingerK)
	return res
}

// Snapshot reduces the result to the most recent value of each indicator,
// plus the price's percentage distance from the short and long SMAs.
func (r *Result) Snapshot() model.IndicatorSnapshot {
	snap := model.IndicatorSnapshot{
		RSI:             r.RSI.Last(),
		MACD:            r.MACD.Line.Last(),
		MACDSignal:      r.MACD.Signal.Last(),
		MACDHistogram:   r.MACD.Histogram.Last(),
		SMA20:           r.SMAShort.Last(),
		SMA60:           r.SMALong.Last(),
		EMA12:           r.EMA.Last(),
		BollingerUpper:  r.Bollinger.Upper.Last(),
		BollingerMiddle: r.Bollinger.Middle.Last(),
		BollingerLower:  r.Bollinger.Lower.Last(),
	}
	if len(r.Closes) > 0 {
		price := r.Closes[len(r.Closes)-1]
		snap.PriceVsSMA20Pct = PctDiff(price, snap.SMA20)
		snap.PriceVsSMA60Pct = PctDiff(price, snap.SMA60)
	}
	return snap
}

// PctDiff returns (price - base)/base*100, missing when base is missing or zero.
func PctDiff(price float64, base model.Value) model.Value {
	if !base.Valid || base.V == 0 {
		return model.None()
	}
	return model.Some((price - base.V) / base.V * 100)
}

// Unavailable lists the indicators whose most recent point is missing,
// either still in warm-up or undefined (RSI with no down moves).
func (r *Result) Unavailable() []string {
	var notes []string
	add := func(name string, s model.Series) {
		if len(s) == 0 || !s.Last().Valid {
			notes = append(notes, name)
		}
	}
	add("rsi", r.RSI)
	add("sma_short", r.SMAShort)
	add("sma_long", r.SMALong)
	add("bollinger", r.Bollinger.Upper)
	return notes
}
