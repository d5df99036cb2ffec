package model

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// DateLayout is the wire format of PriceBar.Date ("yyyy-MM-dd"), matching
// the backend price DTO.
const DateLayout = "2006-01-02"

// PriceBar is one daily OHLCV row for a single security.
type PriceBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Validate checks the field invariants once at ingestion.
func (b PriceBar) Validate() error {
	if b.Date.IsZero() {
		return fmt.Errorf("price bar: missing date: %w", ErrInvalidBar)
	}
	for _, p := range [...]float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("price bar %s: non-finite price (o=%v h=%v l=%v c=%v): %w",
				b.Date.Format(DateLayout), b.Open, b.High, b.Low, b.Close, ErrInvalidBar)
		}
	}
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return fmt.Errorf("price bar %s: prices must be positive (o=%v h=%v l=%v c=%v): %w",
			b.Date.Format(DateLayout), b.Open, b.High, b.Low, b.Close, ErrInvalidBar)
	}
	if b.Volume < 0 {
		return fmt.Errorf("price bar %s: negative volume %d: %w", b.Date.Format(DateLayout), b.Volume, ErrInvalidBar)
	}
	return nil
}

type priceBarJSON struct {
	Date       string   `json:"date"`
	Open       float64  `json:"open"`
	High       float64  `json:"high"`
	Low        float64  `json:"low"`
	Close      float64  `json:"close"`
	Volume     int64    `json:"volume"`
	ChangeRate *float64 `json:"changeRate,omitempty"` // sent by the backend, ignored
}

// MarshalJSON writes the date as "yyyy-MM-dd".
func (b PriceBar) MarshalJSON() ([]byte, error) {
	return json.Marshal(priceBarJSON{
		Date:   b.Date.Format(DateLayout),
		Open:   b.Open,
		High:   b.High,
		Low:    b.Low,
		Close:  b.Close,
		Volume: b.Volume,
	})
}

// UnmarshalJSON accepts "yyyy-MM-dd" or RFC3339 dates.
func (b *PriceBar) UnmarshalJSON(data []byte) error {
	var raw priceBarJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d, err := ParseDate(raw.Date)
	if err != nil {
		return err
	}
	*b = PriceBar{
		Date:   d,
		Open:   raw.Open,
		High:   raw.High,
		Low:    raw.Low,
		Close:  raw.Close,
		Volume: raw.Volume,
	}
	return nil
}

// ParseDate parses a calendar date, truncated to UTC midnight.
func ParseDate(s string) (time.Time, error) {
	if d, err := time.Parse(DateLayout, s); err == nil {
		return d, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// PrepareBars returns a new slice sorted ascending by date with duplicate
// dates removed (the last occurrence of a date wins). The input is not modified.
func PrepareBars(bars []PriceBar) []PriceBar {
	out := make([]PriceBar, len(bars))
	copy(out, bars)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	n := 0
	for i := range out {
		if n > 0 && out[i].Date.Equal(out[n-1].Date) {
			out[n-1] = out[i]
			continue
		}
		out[n] = out[i]
		n++
	}
	return out[:n]
}

// Closes extracts the close-price series.
func Closes(bars []PriceBar) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}
