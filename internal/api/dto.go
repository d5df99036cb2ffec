package api

import (
	"encoding/json"

	"kr-quant-worker/internal/model"
)

// AnalysisRequest is the body of POST /api/v1/analysis/.
// LookbackDays 0 means the configured default.
type AnalysisRequest struct {
	StockCode    string `json:"stock_code" validate:"required,alphanum,min=1,max=12"`
	LookbackDays int    `json:"lookback_days" validate:"omitempty,min=30,max=2000"`
}

// BarsRequest is the body of POST /api/v1/analysis/bars.
type BarsRequest struct {
	StockCode string           `json:"stock_code" validate:"required,alphanum,min=1,max=12"`
	Bars      []model.PriceBar `json:"bars" validate:"required,min=1,max=5000"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Status    int    `json:"status"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Stream message types.
const (
	MsgAnalyze  = "ANALYZE"
	MsgAnalysis = "ANALYSIS"
	MsgError    = "ERROR"
	MsgReplay   = "REPLAY"
	MsgPong     = "pong"
)

// StreamRequest is a client message on /api/v1/stream.
type StreamRequest struct {
	Type  string `json:"type"`
	ReqID string `json:"req_id,omitempty"`
	Ping  int64  `json:"ping,omitempty"`

	// AfterSeq is the last broadcast seq the client saw, for REPLAY.
	AfterSeq int64 `json:"after_seq,omitempty"`

	AnalysisRequest
}

// StreamEnvelope is a server message on /api/v1/stream. Broadcast results
// carry a Seq and no ReqID.
type StreamEnvelope struct {
	Type    string                `json:"type"`
	ReqID   string                `json:"req_id,omitempty"`
	Seq     int64                 `json:"seq,omitempty"`
	Result  *model.AnalysisResult `json:"result,omitempty"`
	Message string                `json:"message,omitempty"`
	Ping    int64                 `json:"ping,omitempty"`
	TS      int64                 `json:"server_ts"`
}

func (e StreamEnvelope) bytes() []byte {
	b, _ := json.Marshal(e)
	return b
}
