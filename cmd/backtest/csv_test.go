package main

import (
	"errors"
	"strings"
	"testing"

	"kr-quant-worker/internal/model"
)

func TestReadCSV(t *testing.T) {
	in := "Date,Close,Open,High,Low,Volume\n" +
		"2024-01-02,101,100,102,99,1500\n" +
		"2024-01-03, 103.5, 101, 104, 100.5, 2000.0\n"

	bars, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	b := bars[1]
	if b.Date.Format(model.DateLayout) != "2024-01-03" || b.Close != 103.5 || b.Open != 101 || b.Volume != 2000 {
		t.Errorf("unexpected bar: %+v", b)
	}
}

func TestReadCSV_MissingColumn(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("date,open,high,low,close\n2024-01-02,1,1,1,1\n"))
	if err == nil || !strings.Contains(err.Error(), `"volume"`) {
		t.Fatalf("expected missing volume error, got %v", err)
	}
}

func TestReadCSV_InvalidBar(t *testing.T) {
	in := "date,open,high,low,close,volume\n2024-01-02,100,101,99,-1,10\n"
	_, err := ReadCSV(strings.NewReader(in))
	if !errors.Is(err, model.ErrInvalidBar) {
		t.Fatalf("expected ErrInvalidBar, got %v", err)
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("error should name the line: %v", err)
	}
}

func TestReadCSV_NonFiniteClose(t *testing.T) {
	for _, v := range []string{"NaN", "Inf", "-Inf"} {
		in := "date,open,high,low,close,volume\n2024-01-02,100,101,99," + v + ",10\n"
		if _, err := ReadCSV(strings.NewReader(in)); !errors.Is(err, model.ErrInvalidBar) {
			t.Errorf("close=%s: expected ErrInvalidBar, got %v", v, err)
		}
	}
}

func TestReadCSV_BadNumber(t *testing.T) {
	in := "date,open,high,low,close,volume\n2024-01-02,abc,101,99,100,10\n"
	if _, err := ReadCSV(strings.NewReader(in)); err == nil {
		t.Fatal("expected parse error")
	}
}
