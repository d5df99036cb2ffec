package model

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestValue_NonFiniteIsMissing(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if Some(f).Valid {
			t.Errorf("Some(%v) should be missing", f)
		}
	}
	if v := Some(1.5); !v.Valid || v.V != 1.5 {
		t.Fatalf("Some(1.5) = %+v", v)
	}
}

func TestValue_JSON(t *testing.T) {
	out, err := json.Marshal([]Value{Some(2.5), None(), {V: math.NaN(), Valid: true}})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "[2.5,null,null]" {
		t.Fatalf("got %s", out)
	}

	var back []Value
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatal(err)
	}
	if !back[0].Valid || back[0].V != 2.5 || back[1].Valid || back[2].Valid {
		t.Fatalf("unexpected decode: %+v", back)
	}
}

func TestValue_Helpers(t *testing.T) {
	if None().Ptr() != nil {
		t.Error("missing Ptr should be nil")
	}
	if p := Some(3).Ptr(); p == nil || *p != 3 {
		t.Error("Ptr should carry the value")
	}
	if None().Or(-1) != -1 || Some(4).Or(-1) != 4 {
		t.Error("Or fallback")
	}
	if None().String() != "N/A" || Some(1.23456).String() != "1.2346" {
		t.Errorf("String: %q %q", None().String(), Some(1.23456).String())
	}
}

func TestSeries_LastAndFloats(t *testing.T) {
	s := Series{None(), Some(1), None(), Some(3)}
	if s.Last() != Some(3) {
		t.Fatal("Last")
	}
	if (Series{}).Last().Valid {
		t.Fatal("empty Last should be missing")
	}
	idx, vals := s.Floats()
	if len(idx) != 2 || idx[0] != 1 || idx[1] != 3 || vals[1] != 3 {
		t.Fatalf("Floats: %v %v", idx, vals)
	}
}

func TestPatternMatch_JSONDates(t *testing.T) {
	m := PatternMatch{
		StartIndex: 3, EndIndex: 22,
		StartDate: day("2023-02-01"), EndDate: day("2023-03-02"),
		Similarity: 0.93, FutureReturnPct: 1.5,
	}
	out, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	s := string(out)
	for _, want := range []string{`"start_date":"2023-02-01"`, `"end_date":"2023-03-02"`, `"dtw_distance":null`} {
		if !strings.Contains(s, want) {
			t.Errorf("missing %s in %s", want, s)
		}
	}

	var back PatternMatch
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatal(err)
	}
	if !back.StartDate.Equal(m.StartDate) || back.EndIndex != 22 {
		t.Fatalf("round trip: %+v", back)
	}

	bare, _ := json.Marshal(PatternMatch{StartIndex: 1})
	if strings.Contains(string(bare), "start_date") {
		t.Fatalf("zero dates should be omitted: %s", bare)
	}
}

func TestAnalysisResult_Channel(t *testing.T) {
	r := AnalysisResult{StockCode: "005930"}
	if r.PubSubChannel() != "analysis:result:005930" {
		t.Fatal(r.PubSubChannel())
	}
	b, err := r.JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if !strings.Contains(string(b), `"stock_code":"005930"`) {
		t.Fatal("JSON should carry stock_code")
	}
}

func TestAnalysisResult_JSONReportsEncodeErrors(t *testing.T) {
	r := AnalysisResult{StockCode: "005930", SimilarPatterns: []PatternMatch{{Similarity: math.NaN()}}}
	b, err := r.JSON()
	if err == nil {
		t.Fatalf("expected an encode error, got %s", b)
	}
	if !strings.Contains(err.Error(), "005930") {
		t.Errorf("error should name the stock: %v", err)
	}
}
