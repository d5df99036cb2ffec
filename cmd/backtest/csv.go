package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"kr-quant-worker/internal/model"
)

// ReadCSV parses bars from CSV with a header row naming at least
// date, open, high, low, close and volume. Column order is free.
func ReadCSV(r io.Reader) ([]model.PriceBar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range []string{"date", "open", "high", "low", "close", "volume"} {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("csv header: missing column %q", name)
		}
	}

	var bars []model.PriceBar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		bar, err := parseRecord(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseRecord(rec []string, cols map[string]int) (model.PriceBar, error) {
	var bar model.PriceBar
	d, err := model.ParseDate(rec[cols["date"]])
	if err != nil {
		return bar, err
	}
	bar.Date = d

	prices := map[string]*float64{"open": &bar.Open, "high": &bar.High, "low": &bar.Low, "close": &bar.Close}
	for name, dst := range prices {
		v, err := strconv.ParseFloat(rec[cols[name]], 64)
		if err != nil {
			return bar, fmt.Errorf("%s: %w", name, err)
		}
		*dst = v
	}
	vol, err := strconv.ParseFloat(rec[cols["volume"]], 64)
	if err != nil {
		return bar, fmt.Errorf("volume: %w", err)
	}
	bar.Volume = int64(vol)
	return bar, bar.Validate()
}
