package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// IndicatorSnapshot holds the most recent value of every indicator. The
// "20"/"60" keys are fixed names consumed by the summarization prompt; they
// carry the configured short/long SMA periods.
type IndicatorSnapshot struct {
	RSI             Value `json:"rsi"`
	MACD            Value `json:"macd"`
	MACDSignal      Value `json:"macd_signal"`
	MACDHistogram   Value `json:"macd_histogram"`
	SMA20           Value `json:"sma_20"`
	SMA60           Value `json:"sma_60"`
	EMA12           Value `json:"ema_12"`
	BollingerUpper  Value `json:"bollinger_upper"`
	BollingerMiddle Value `json:"bollinger_middle"`
	BollingerLower  Value `json:"bollinger_lower"`
	PriceVsSMA20Pct Value `json:"price_vs_sma20_pct"`
	PriceVsSMA60Pct Value `json:"price_vs_sma60_pct"`
}

// PatternMatch is one historical window whose normalized shape resembles the
// reference window. EndIndex is inclusive.
type PatternMatch struct {
	StartIndex      int       `json:"start_index"`
	EndIndex        int       `json:"end_index"`
	StartDate       time.Time `json:"-"`
	EndDate         time.Time `json:"-"`
	Similarity      float64   `json:"similarity"`
	FutureReturnPct float64   `json:"future_return_pct"`
	DTWDistance     Value     `json:"dtw_distance"`
}

type patternMatchJSON struct {
	StartIndex      int     `json:"start_index"`
	EndIndex        int     `json:"end_index"`
	StartDate       string  `json:"start_date,omitempty"`
	EndDate         string  `json:"end_date,omitempty"`
	Similarity      float64 `json:"similarity"`
	FutureReturnPct float64 `json:"future_return_pct"`
	DTWDistance     Value   `json:"dtw_distance"`
}

// MarshalJSON emits dates as "yyyy-MM-dd" and omits them when unset.
func (m PatternMatch) MarshalJSON() ([]byte, error) {
	out := patternMatchJSON{
		StartIndex:      m.StartIndex,
		EndIndex:        m.EndIndex,
		Similarity:      m.Similarity,
		FutureReturnPct: m.FutureReturnPct,
		DTWDistance:     m.DTWDistance,
	}
	if !m.StartDate.IsZero() {
		out.StartDate = m.StartDate.Format(DateLayout)
	}
	if !m.EndDate.IsZero() {
		out.EndDate = m.EndDate.Format(DateLayout)
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (m *PatternMatch) UnmarshalJSON(data []byte) error {
	var raw patternMatchJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = PatternMatch{
		StartIndex:      raw.StartIndex,
		EndIndex:        raw.EndIndex,
		Similarity:      raw.Similarity,
		FutureReturnPct: raw.FutureReturnPct,
		DTWDistance:     raw.DTWDistance,
	}
	var err error
	if raw.StartDate != "" {
		if m.StartDate, err = ParseDate(raw.StartDate); err != nil {
			return err
		}
	}
	if raw.EndDate != "" {
		if m.EndDate, err = ParseDate(raw.EndDate); err != nil {
			return err
		}
	}
	return nil
}

// PatternStats summarizes the forward returns of the returned matches.
type PatternStats struct {
	Count              int   `json:"count"`
	AvgFutureReturnPct Value `json:"avg_future_return_pct"`
	MaxFutureReturnPct Value `json:"max_future_return_pct"`
	MinFutureReturnPct Value `json:"min_future_return_pct"`
	PositiveRatio      Value `json:"positive_ratio"`
}

// AnalysisResult is the record handed to the summarization collaborator.
type AnalysisResult struct {
	StockCode       string            `json:"stock_code"`
	AsOf            time.Time         `json:"as_of"`
	CurrentPrice    float64           `json:"current_price"`
	Indicators      IndicatorSnapshot `json:"indicators"`
	SimilarPatterns []PatternMatch    `json:"similar_patterns"`
	PatternStats    PatternStats      `json:"pattern_stats"`
	DataPoints      int               `json:"data_points"`
	Warnings        []string          `json:"warnings,omitempty"`
}

// PubSubChannel returns the Redis channel results for this stock are published on.
func (r *AnalysisResult) PubSubChannel() string {
	return "analysis:result:" + r.StockCode
}

// JSON returns the JSON-encoded result.
func (r *AnalysisResult) JSON() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode result %s: %w", r.StockCode, err)
	}
	return b, nil
}
