// Package fetch retrieves daily price bars from the backend price API and
// composes bar sources (fallback to the local store, recording to it).
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"kr-quant-worker/internal/breaker"
	"kr-quant-worker/internal/model"
)

const maxErrorBody = 512

// ClientConfig configures the backend price client.
type ClientConfig struct {
	BaseURL      string        // e.g. "http://localhost:8080"
	Timeout      time.Duration // per request, default 30s
	MaxFailures  int           // consecutive failures before the breaker opens, default 5
	ResetTimeout time.Duration // breaker open period, default 30s
	HTTPClient   *http.Client  // optional, overrides Timeout
}

// Client implements model.BarSource over
// GET {base}/api/v1/stocks/{code}/prices?days=N.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *breaker.Breaker
}

// NewClient creates a backend client guarded by a circuit breaker.
// Unknown stocks and caller cancellations do not count as breaker failures.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	br := breaker.New("backend", cfg.MaxFailures, cfg.ResetTimeout)
	br.IsFailure = func(err error) bool {
		return !errors.Is(err, model.ErrNotFound) &&
			!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    hc,
		breaker: br,
	}
}

// Breaker exposes the client's breaker for state export.
func (c *Client) Breaker() *breaker.Breaker { return c.breaker }

// errorResponse is the backend's error body.
type errorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// FetchBars returns the most recent days bars. Errors wrap model.ErrNotFound
// (404, or 400 which the backend returns for unknown codes) or
// model.ErrUpstream (anything else, including an open breaker).
func (c *Client) FetchBars(ctx context.Context, stockCode string, days int) ([]model.PriceBar, error) {
	var bars []model.PriceBar
	err := c.breaker.Do(func() error {
		var err error
		bars, err = c.get(ctx, stockCode, days)
		return err
	})
	if errors.Is(err, breaker.ErrOpen) {
		return nil, fmt.Errorf("%w: %w", model.ErrUpstream, err)
	}
	if err != nil {
		return nil, err
	}
	return bars, nil
}

func (c *Client) get(ctx context.Context, stockCode string, days int) ([]model.PriceBar, error) {
	u := fmt.Sprintf("%s/api/v1/stocks/%s/prices?days=%s",
		c.baseURL, url.PathEscape(stockCode), strconv.Itoa(days))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", model.ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Printf("[fetch] %s request failed: %v", stockCode, err)
		if ctx.Err() != nil {
			// the caller gave up; the backend is not at fault
			return nil, fmt.Errorf("%w: %w", model.ErrUpstream, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", model.ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("%s: %s: %w", stockCode, readMessage(resp.Body), model.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d: %s", model.ErrUpstream, resp.StatusCode, readMessage(resp.Body))
	}

	var bars []model.PriceBar
	if err := json.NewDecoder(resp.Body).Decode(&bars); err != nil {
		return nil, fmt.Errorf("%w: decode prices: %w", model.ErrUpstream, err)
	}
	for i := range bars {
		if err := bars[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrUpstream, err)
		}
	}
	log.Printf("[fetch] %s: %d bars in %v", stockCode, len(bars), time.Since(start))
	return bars, nil
}

// readMessage extracts the backend error message, falling back to the raw body.
func readMessage(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Message != "" {
		return er.Message
	}
	return strings.TrimSpace(string(body))
}
