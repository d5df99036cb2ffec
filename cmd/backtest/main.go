// cmd/backtest runs one offline analysis over bars stored in SQLite (or a CSV
// export) and prints the indicator snapshot and the ranked historical matches
// with their DTW distances. No backend or Redis is needed.
//
// Usage:
//
//	go run ./cmd/backtest --code=005930 --limit=500 --window=20 --topk=5
//	go run ./cmd/backtest --csv=samsung.csv --code=005930
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"kr-quant-worker/internal/analysis"
	"kr-quant-worker/internal/model"
	sqlitestore "kr-quant-worker/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	defaults := analysis.DefaultParams()

	// Flags
	dbPath := flag.String("db", "data/bars.db", "Path to SQLite database")
	csvPath := flag.String("csv", "", "Read bars from CSV (date,open,high,low,close,volume) instead of SQLite")
	code := flag.String("code", "005930", "Stock code")
	limit := flag.Int("limit", 0, "Most recent bars to analyze (0=all)")
	window := flag.Int("window", defaults.Pattern.WindowSize, "Pattern window size")
	topK := flag.Int("topk", defaults.Pattern.TopK, "Matches to keep")
	threshold := flag.Float64("threshold", defaults.Pattern.Threshold, "Minimum cosine similarity")
	workers := flag.Int("workers", defaults.Pattern.Workers, "Parallel scan workers")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	bars, err := loadBars(ctx, *csvPath, *dbPath, *code, *limit)
	if err != nil {
		log.Fatalf("[backtest] load bars: %v", err)
	}
	log.Printf("[backtest] loaded %d bars for %s", len(bars), *code)

	params := defaults
	params.Pattern.WindowSize = *window
	params.Pattern.TopK = *topK
	params.Pattern.Threshold = *threshold
	params.Pattern.Workers = *workers
	params.ValidateDTW = true

	analyzer, err := analysis.New(params, nil, nil, nil)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	res, err := analyzer.AnalyzeBars(ctx, *code, bars)
	if err != nil {
		log.Fatalf("[backtest] analyze: %v", err)
	}
	printResult(res)
}

func loadBars(ctx context.Context, csvPath, dbPath, code string, limit int) ([]model.PriceBar, error) {
	if csvPath != "" {
		f, err := os.Open(csvPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		bars, err := ReadCSV(f)
		if err != nil {
			return nil, err
		}
		if limit > 0 && len(bars) > limit {
			bars = model.PrepareBars(bars)
			bars = bars[len(bars)-limit:]
		}
		return bars, nil
	}

	reader, err := sqlitestore.NewReader(dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	defer reader.Close()
	return reader.ReadBars(ctx, code, limit)
}

func printResult(res *model.AnalysisResult) {
	ind := res.Indicators
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║            BACKTEST ANALYSIS             ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Stock:          %-23s ║\n", res.StockCode)
	fmt.Printf("║  As of:          %-23s ║\n", res.AsOf.Format(model.DateLayout))
	fmt.Printf("║  Bars:           %-23d ║\n", res.DataPoints)
	fmt.Printf("║  Close:          %-23.2f ║\n", res.CurrentPrice)
	fmt.Println("╠══════════════════════════════════════════╣")
	rows := []struct {
		name string
		v    model.Value
	}{
		{"RSI", ind.RSI},
		{"MACD", ind.MACD},
		{"MACD signal", ind.MACDSignal},
		{"MACD hist", ind.MACDHistogram},
		{"SMA20", ind.SMA20},
		{"SMA60", ind.SMA60},
		{"EMA12", ind.EMA12},
		{"BB upper", ind.BollingerUpper},
		{"BB middle", ind.BollingerMiddle},
		{"BB lower", ind.BollingerLower},
		{"vs SMA20 %", ind.PriceVsSMA20Pct},
		{"vs SMA60 %", ind.PriceVsSMA60Pct},
	}
	for _, r := range rows {
		fmt.Printf("║  %-15s %-23s ║\n", r.name+":", r.v)
	}
	fmt.Println("╚══════════════════════════════════════════╝")

	fmt.Println()
	if len(res.SimilarPatterns) == 0 {
		fmt.Println("No similar patterns above threshold.")
	} else {
		fmt.Printf("%-4s %-23s %-10s %-10s %-10s\n", "#", "window", "cosine", "fwd ret %", "dtw")
		for i, m := range res.SimilarPatterns {
			span := fmt.Sprintf("[%d..%d]", m.StartIndex, m.EndIndex)
			if !m.StartDate.IsZero() {
				span = m.StartDate.Format(model.DateLayout) + "~" + m.EndDate.Format("01-02")
			}
			fmt.Printf("%-4d %-23s %-10.4f %-10.2f %-10s\n", i+1, span, m.Similarity, m.FutureReturnPct, m.DTWDistance)
		}
		st := res.PatternStats
		fmt.Printf("\nmatches=%d avg=%s max=%s min=%s positive=%s\n",
			st.Count, st.AvgFutureReturnPct, st.MaxFutureReturnPct, st.MinFutureReturnPct, st.PositiveRatio)
	}

	for _, w := range res.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
}
