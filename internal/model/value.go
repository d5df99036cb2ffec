package model

import (
	"encoding/json"
	"math"
	"strconv"
)

// Value is a computed point that may be missing (warm-up period, undefined
// ratio). The zero Value is missing.
type Value struct {
	V     float64
	Valid bool
}

// Some wraps a defined value. Non-finite inputs collapse to missing so NaN
// and Inf never leave the core.
func Some(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Value{}
	}
	return Value{V: v, Valid: true}
}

// None returns a missing value.
func None() Value { return Value{} }

// Ptr returns nil for missing values.
func (v Value) Ptr() *float64 {
	if !v.Valid {
		return nil
	}
	f := v.V
	return &f
}

// Or returns the value or fallback when missing.
func (v Value) Or(fallback float64) float64 {
	if !v.Valid {
		return fallback
	}
	return v.V
}

func (v Value) String() string {
	if !v.Valid {
		return "N/A"
	}
	return strconv.FormatFloat(v.V, 'f', 4, 64)
}

// MarshalJSON writes null for missing values.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid || math.IsNaN(v.V) || math.IsInf(v.V, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v.V)
}

// UnmarshalJSON accepts a number or null.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Some(f)
	return nil
}

// Series is an aligned indicator output: Series[i] corresponds to input index i.
type Series []Value

// Last returns the most recent point, or missing for an empty series.
func (s Series) Last() Value {
	if len(s) == 0 {
		return Value{}
	}
	return s[len(s)-1]
}

// Floats returns the defined points with their indexes.
func (s Series) Floats() (idx []int, vals []float64) {
	for i, v := range s {
		if v.Valid {
			idx = append(idx, i)
			vals = append(vals, v.V)
		}
	}
	return idx, vals
}
