package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"kr-quant-worker/internal/logger"
	"kr-quant-worker/internal/model"
)

const maxBodyBytes = 4 << 20

// Analyzer is the orchestrator surface the API needs.
type Analyzer interface {
	Analyze(ctx context.Context, stockCode string, days int) (*model.AnalysisResult, error)
	AnalyzeBars(ctx context.Context, stockCode string, bars []model.PriceBar) (*model.AnalysisResult, error)
}

// BatchTrigger starts the daily watchlist run in the background.
type BatchTrigger interface {
	Trigger(ctx context.Context) error
}

// Handler serves the analysis endpoints.
type Handler struct {
	analyzer Analyzer
	batch    BatchTrigger
	validate *validator.Validate
	timeout  time.Duration
}

// NewHandler creates a handler. timeout bounds each analysis, 0 means none.
func NewHandler(a Analyzer, timeout time.Duration) *Handler {
	return &Handler{
		analyzer: a,
		validate: validator.New(),
		timeout:  timeout,
	}
}

// Analyze handles POST /api/v1/analysis/.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, errors.New("use POST"))
		return
	}
	var req AnalysisRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	res, err := h.analyzer.Analyze(ctx, req.StockCode, req.LookbackDays)
	if err != nil {
		writeError(w, r, StatusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AnalyzeBars handles POST /api/v1/analysis/bars.
func (h *Handler) AnalyzeBars(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, errors.New("use POST"))
		return
	}
	var req BarsRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	res, err := h.analyzer.AnalyzeBars(ctx, req.StockCode, req.Bars)
	if err != nil {
		writeError(w, r, StatusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// WithBatch enables POST /api/v1/batch/daily-analysis.
func (h *Handler) WithBatch(b BatchTrigger) *Handler {
	h.batch = b
	return h
}

// TriggerBatch handles POST /api/v1/batch/daily-analysis. The run continues
// after the response is sent.
func (h *Handler) TriggerBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, errors.New("use POST"))
		return
	}
	if err := h.batch.Trigger(r.Context()); err != nil {
		writeError(w, r, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"message": "daily analysis is running in the background",
	})
}

func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

func (h *Handler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.timeout)
}

// StatusFor maps an analysis error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, model.ErrUpstream):
		// checked first: bad bars from the backend are its fault, not the caller's
		return http.StatusBadGateway
	case errors.Is(err, model.ErrInvalidConfiguration), errors.Is(err, model.ErrInvalidBar):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	ctx := r.Context()
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(ctx, level, "request failed", append(logger.LogWithTrace(ctx),
		slog.String("path", r.URL.Path), slog.Int("status", status), slog.Any("error", err))...)

	writeJSON(w, status, ErrorResponse{
		Status:    status,
		Error:     http.StatusText(status),
		Message:   err.Error(),
		RequestID: logger.TraceID(ctx),
	})
}

// withRequestID tags each request with an X-Request-ID (the caller's, or a
// fresh UUID) and carries it as the trace ID.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = logger.NewRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logger.WithTraceID(r.Context(), id)))
	})
}
