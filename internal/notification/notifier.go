// Package notification delivers finished analyses to external channels
// (a webhook for the summarization service, Telegram for humans). Every
// notifier implements model.ResultPublisher.
package notification

import (
	"fmt"
	"strings"

	"kr-quant-worker/internal/model"
)

// FormatResult renders a short plain-text digest of an analysis.
func FormatResult(res model.AnalysisResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s @ %.0f (%d bars", res.StockCode, res.CurrentPrice, res.DataPoints)
	if !res.AsOf.IsZero() {
		fmt.Fprintf(&b, ", as of %s", res.AsOf.Format(model.DateLayout))
	}
	b.WriteString(")\n")

	ind := res.Indicators
	fmt.Fprintf(&b, "RSI %s | MACD %s / signal %s\n", ind.RSI, ind.MACD, ind.MACDSignal)
	fmt.Fprintf(&b, "vs SMA20 %s%% | vs SMA60 %s%%\n", ind.PriceVsSMA20Pct, ind.PriceVsSMA60Pct)

	st := res.PatternStats
	if st.Count == 0 {
		b.WriteString("No similar historical patterns")
		return b.String()
	}
	fmt.Fprintf(&b, "%d similar patterns, avg 5-bar return %s%% (%s positive)",
		st.Count, st.AvgFutureReturnPct, st.PositiveRatio)
	for _, m := range res.SimilarPatterns {
		b.WriteString("\n- ")
		if !m.StartDate.IsZero() {
			fmt.Fprintf(&b, "%s~%s ", m.StartDate.Format(model.DateLayout), m.EndDate.Format(model.DateLayout))
		}
		fmt.Fprintf(&b, "sim %.3f, return %+.2f%%", m.Similarity, m.FutureReturnPct)
	}
	return b.String()
}
