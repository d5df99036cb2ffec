package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kr-quant-worker/internal/model"
)

type fakeAnalyzer struct {
	mu       sync.Mutex
	err      error
	lastCode string
	lastDays int
	lastBars int
}

func (f *fakeAnalyzer) result(code string) *model.AnalysisResult {
	return &model.AnalysisResult{
		StockCode:       code,
		CurrentPrice:    71800,
		Indicators:      model.IndicatorSnapshot{RSI: model.Some(55.5)},
		SimilarPatterns: []model.PatternMatch{},
		DataPoints:      120,
	}
}

func (f *fakeAnalyzer) Analyze(_ context.Context, code string, days int) (*model.AnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCode, f.lastDays = code, days
	if f.err != nil {
		return nil, f.err
	}
	return f.result(code), nil
}

func (f *fakeAnalyzer) AnalyzeBars(_ context.Context, code string, bars []model.PriceBar) (*model.AnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCode, f.lastBars = code, len(bars)
	if f.err != nil {
		return nil, f.err
	}
	return f.result(code), nil
}

func newServer(t *testing.T, a Analyzer) (*httptest.Server, *Hub) {
	t.Helper()
	hub := NewHub(a, nil, time.Second)
	srv := httptest.NewServer(NewRouter(NewHandler(a, time.Second), hub))
	t.Cleanup(srv.Close)
	return srv, hub
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t, &fakeAnalyzer{})
	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestAnalyze_OK(t *testing.T) {
	fa := &fakeAnalyzer{}
	srv, _ := newServer(t, fa)

	resp, body := post(t, srv.URL+"/api/v1/analysis/", `{"stock_code":"005930","lookback_days":120}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "005930", body["stock_code"])
	assert.Equal(t, 120, fa.lastDays)

	ind := body["indicators"].(map[string]any)
	assert.Equal(t, 55.5, ind["rsi"])
	assert.Nil(t, ind["sma_60"], "missing indicators serialize as null")
}

func TestAnalyze_DefaultLookback(t *testing.T) {
	fa := &fakeAnalyzer{}
	srv, _ := newServer(t, fa)
	resp, _ := post(t, srv.URL+"/api/v1/analysis/", `{"stock_code":"005930"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, fa.lastDays)
}

func TestAnalyze_Validation(t *testing.T) {
	srv, _ := newServer(t, &fakeAnalyzer{})
	for name, body := range map[string]string{
		"missing code":   `{"lookback_days":120}`,
		"bad code":       `{"stock_code":"00-5930"}`,
		"short lookback": `{"stock_code":"005930","lookback_days":10}`,
		"not json":       `{"stock_code":`,
	} {
		t.Run(name, func(t *testing.T) {
			resp, out := post(t, srv.URL+"/api/v1/analysis/", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, out["message"])
			assert.Equal(t, resp.Header.Get("X-Request-ID"), out["request_id"])
		})
	}
}

func TestAnalyze_MethodNotAllowed(t *testing.T) {
	srv, _ := newServer(t, &fakeAnalyzer{})
	resp, err := http.Get(srv.URL + "/api/v1/analysis/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", model.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", model.ErrUpstream), http.StatusBadGateway},
		{fmt.Errorf("%w: %w", model.ErrUpstream, model.ErrInvalidBar), http.StatusBadGateway},
		{fmt.Errorf("x: %w", model.ErrInvalidBar), http.StatusBadRequest},
		{fmt.Errorf("x: %w", model.ErrInvalidConfiguration), http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("fetch: %w: %w", model.ErrUpstream, context.DeadlineExceeded), http.StatusGatewayTimeout},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, StatusFor(c.err), c.err.Error())
	}
}

func TestAnalyze_UpstreamErrorMapped(t *testing.T) {
	srv, _ := newServer(t, &fakeAnalyzer{err: fmt.Errorf("fetch: %w", model.ErrNotFound)})
	resp, _ := post(t, srv.URL+"/api/v1/analysis/", `{"stock_code":"999999"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAnalyzeBars(t *testing.T) {
	fa := &fakeAnalyzer{}
	srv, _ := newServer(t, fa)

	body := `{"stock_code":"005930","bars":[
		{"date":"2024-05-02","open":71000,"high":72000,"low":70500,"close":71800,"volume":1000},
		{"date":"2024-05-03","open":71800,"high":72500,"low":71000,"close":72100,"volume":1200}]}`
	resp, _ := post(t, srv.URL+"/api/v1/analysis/bars", body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, fa.lastBars)

	resp, _ = post(t, srv.URL+"/api/v1/analysis/bars", `{"stock_code":"005930","bars":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) StreamEnvelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env StreamEnvelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestStream_Analyze(t *testing.T) {
	srv, _ := newServer(t, &fakeAnalyzer{})
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ANALYZE", "req_id": "r1", "stock_code": "005930"}))
	env := readEnvelope(t, conn)
	assert.Equal(t, MsgAnalysis, env.Type)
	assert.Equal(t, "r1", env.ReqID)
	require.NotNil(t, env.Result)
	assert.Equal(t, "005930", env.Result.StockCode)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ANALYZE", "req_id": "r2", "stock_code": ""}))
	env = readEnvelope(t, conn)
	assert.Equal(t, MsgError, env.Type)
	assert.Equal(t, "r2", env.ReqID)

	require.NoError(t, conn.WriteJSON(map[string]any{"ping": 42}))
	env = readEnvelope(t, conn)
	assert.Equal(t, MsgPong, env.Type)
	assert.Equal(t, int64(42), env.Ping)
}

func TestStream_BroadcastsPublishedResults(t *testing.T) {
	srv, hub := newServer(t, &fakeAnalyzer{})
	a, b := dial(t, srv), dial(t, srv)

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)
	require.NoError(t, hub.PublishResult(context.Background(), model.AnalysisResult{StockCode: "000660"}))

	for _, conn := range []*websocket.Conn{a, b} {
		env := readEnvelope(t, conn)
		assert.Equal(t, MsgAnalysis, env.Type)
		assert.Empty(t, env.ReqID)
		assert.Equal(t, "000660", env.Result.StockCode)
	}

	a.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestStream_ReplayBackfillsMissedResults(t *testing.T) {
	srv, hub := newServer(t, &fakeAnalyzer{})
	for _, code := range []string{"005930", "000660", "035420"} {
		require.NoError(t, hub.PublishResult(context.Background(), model.AnalysisResult{StockCode: code}))
	}

	conn := dial(t, srv)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "REPLAY", "after_seq": 1}))

	first, second := readEnvelope(t, conn), readEnvelope(t, conn)
	assert.Equal(t, int64(2), first.Seq)
	assert.Equal(t, "000660", first.Result.StockCode)
	assert.Equal(t, int64(3), second.Seq)
	assert.Equal(t, "035420", second.Result.StockCode)
}

func TestReplayBuffer(t *testing.T) {
	rb := NewReplayBuffer(5)
	assert.Empty(t, rb.Since(0))

	for i := int64(1); i <= 8; i++ {
		rb.Push(i, []byte("msg"))
	}
	assert.Equal(t, 5, rb.Len())

	got := rb.Since(0)
	require.Len(t, got, 5)
	assert.Equal(t, int64(4), got[0].Seq)
	assert.Equal(t, int64(8), got[4].Seq)

	got = rb.Since(6)
	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].Seq)
}

type fakeTrigger struct{ err error }

func (f fakeTrigger) Trigger(context.Context) error { return f.err }

func TestTriggerBatch(t *testing.T) {
	a := &fakeAnalyzer{}
	srv := httptest.NewServer(NewRouter(NewHandler(a, 0).WithBatch(fakeTrigger{}), nil))
	defer srv.Close()
	resp, body := post(t, srv.URL+"/api/v1/batch/daily-analysis", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "started", body["status"])

	busy := httptest.NewServer(NewRouter(NewHandler(a, 0).WithBatch(fakeTrigger{err: fmt.Errorf("busy")}), nil))
	defer busy.Close()
	resp, _ = post(t, busy.URL+"/api/v1/batch/daily-analysis", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err := http.Get(srv.URL + "/api/v1/stream")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no stream route without a hub")
}
