package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"kr-quant-worker/internal/logger"
	"kr-quant-worker/internal/metrics"
	"kr-quant-worker/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Hub manages websocket clients. It answers ANALYZE requests and, as a
// model.ResultPublisher, broadcasts every published result to all clients.
type Hub struct {
	analyzer Analyzer
	validate *validator.Validate
	metrics  *metrics.Metrics
	timeout  time.Duration

	seq    atomic.Int64
	replay *ReplayBuffer

	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewHub creates a hub. m may be nil.
func NewHub(a Analyzer, m *metrics.Metrics, timeout time.Duration) *Hub {
	return &Hub{
		analyzer: a,
		validate: validator.New(),
		metrics:  m,
		timeout:  timeout,
		replay:   NewReplayBuffer(0),
		clients:  make(map[*Client]bool),
	}
}

// SetAnalyzer sets the analyzer after construction, for wiring where the
// analyzer publishes through this hub.
func (h *Hub) SetAnalyzer(a Analyzer) {
	h.mu.Lock()
	h.analyzer = a
	h.mu.Unlock()
}

// ServeWS upgrades an HTTP connection to WebSocket and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[stream] ws upgrade error: %v", err)
		return
	}
	client := &Client{
		conn:    conn,
		send:    make(chan []byte, 64),
		hub:     h,
		traceID: logger.TraceID(r.Context()),
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.metrics.StreamClientDelta(1)

	log.Printf("[stream] ws client connected (%d total)", count)

	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.send)
	h.metrics.StreamClientDelta(-1)
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishResult implements model.ResultPublisher. Slow clients whose
// buffers are full miss the message rather than block the publisher; they
// can recover it with REPLAY.
func (h *Hub) PublishResult(_ context.Context, res model.AnalysisResult) error {
	seq := h.seq.Add(1)
	msg := StreamEnvelope{
		Type:   MsgAnalysis,
		Seq:    seq,
		Result: &res,
		TS:     time.Now().UnixMilli(),
	}.bytes()
	h.replay.Push(seq, msg)
	h.broadcast(msg)
	return nil
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
		}
	}
}

// Client represents a single WebSocket peer.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	traceID string
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[stream] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var req StreamRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			c.sendError("", "invalid message: "+err.Error())
			continue
		}

		switch req.Type {
		case MsgAnalyze:
			go c.handleAnalyze(req)
		case MsgReplay:
			for _, e := range c.hub.replay.Since(req.AfterSeq) {
				c.enqueue(e.Data)
			}
		default:
			if req.Ping > 0 {
				c.enqueue(StreamEnvelope{Type: MsgPong, Ping: req.Ping, TS: time.Now().UnixMilli()}.bytes())
				continue
			}
			c.sendError(req.ReqID, "unknown message type: "+req.Type)
		}
	}
}

// handleAnalyze runs one analysis and replies to this client only.
func (c *Client) handleAnalyze(req StreamRequest) {
	if err := c.hub.validate.Struct(req.AnalysisRequest); err != nil {
		c.sendError(req.ReqID, "invalid ANALYZE: "+err.Error())
		return
	}

	c.hub.mu.RLock()
	a := c.hub.analyzer
	c.hub.mu.RUnlock()
	if a == nil {
		c.sendError(req.ReqID, "analysis unavailable")
		return
	}

	ctx := context.Background()
	if c.traceID != "" {
		ctx = logger.WithTraceID(ctx, c.traceID)
	}
	if c.hub.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.hub.timeout)
		defer cancel()
	}

	res, err := a.Analyze(ctx, req.StockCode, req.LookbackDays)
	if err != nil {
		c.sendError(req.ReqID, err.Error())
		return
	}
	c.enqueue(StreamEnvelope{
		Type:   MsgAnalysis,
		ReqID:  req.ReqID,
		Result: res,
		TS:     time.Now().UnixMilli(),
	}.bytes())
}

func (c *Client) sendError(reqID, message string) {
	c.enqueue(StreamEnvelope{
		Type:    MsgError,
		ReqID:   reqID,
		Message: message,
		TS:      time.Now().UnixMilli(),
	}.bytes())
}

// enqueue drops the message when the client is gone or its buffer is full.
func (c *Client) enqueue(msg []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}
