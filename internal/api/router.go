// Package api exposes the analysis worker over HTTP: JSON endpoints for
// on-demand analysis and a websocket stream that also carries batch results.
package api

import (
	"net/http"
)

// NewRouter sets up HTTP routes for the API server. hub may be nil, which
// disables /api/v1/stream.
func NewRouter(h *Handler, hub *Hub) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("/api/v1/analysis/", h.Analyze)
	mux.HandleFunc("/api/v1/analysis/bars", h.AnalyzeBars)

	if h.batch != nil {
		mux.HandleFunc("/api/v1/batch/daily-analysis", h.TriggerBatch)
	}

	if hub != nil {
		mux.HandleFunc("/api/v1/stream", hub.ServeWS)
	}

	return withRequestID(mux)
}
