package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/voicelink-core/internal/infrastructure/config"
	"github.com/nerrad567/voicelink-core/internal/infrastructure/logging"
	"github.com/nerrad567/voicelink-core/internal/session"
)

// Gateway framing constants.
const (
	// jsonrpcVersion is the JSON-RPC version tag on every gateway frame.
	jsonrpcVersion = "2.0"

	// codeInvalidParams is the JSON-RPC error code for a frame missing
	// its device_id.
	codeInvalidParams = -32602

	// gatewaySendBuffer is the per-connection outbound frame buffer size.
	gatewaySendBuffer = 256
)

// Gateway sentinel errors, surfaced to sessions through the Sender.
var (
	errGatewayClosed   = errors.New("api: gateway connection closed")
	errGatewaySendFull = errors.New("api: gateway send buffer full")
)

// gatewayFrame is one decoded JSON-RPC line from the gateway peer.
// ID is kept raw so it can be echoed back without retyping (the peer
// uses numeric ids, but nothing here depends on that).
type gatewayFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  gatewayParams   `json:"params"`
}

// gatewayParams carries the fields VoiceLink reads from inbound frames.
// ASR results put their transcript in text; device messages put their
// content in payload.
type gatewayParams struct {
	DeviceID string `json:"device_id"`
	Text     string `json:"text"`
	Payload  string `json:"payload"`
}

// ackFrame acknowledges an inbound request: {"jsonrpc","method","id","result":"ok"}.
type ackFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	ID      json.RawMessage `json:"id"`
	Result  string          `json:"result"`
}

// errorFrame reports a malformed inbound request.
type errorFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	Error   rpcError        `json:"error"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// outboundFrame is one JSON-RPC request sent to the gateway peer. Ids are
// a per-connection sequence; the peer's acks are dropped, so nothing
// correlates on them.
type outboundFrame struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      uint64         `json:"id"`
	Method  string         `json:"method"`
	Params  outboundParams `json:"params"`
}

// outboundParams is the params object on outbound stream frames. Text is
// present on chunks only.
type outboundParams struct {
	TaskID   string `json:"task_id"`
	DeviceID string `json:"device_id"`
	Text     string `json:"text,omitempty"`
}

// upgrader configures the WebSocket upgrader for gateway connections.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// gatewayConn is one live gateway connection. It owns a session manager,
// a line buffer for inbound framing, and the outbound write pump. It is
// the session.Sender for every session it creates.
type gatewayConn struct {
	conn        *websocket.Conn
	manager     *session.Manager
	router      *session.Router
	logger      *logging.Logger
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	nextID      atomic.Uint64
	remote      string
	connectedAt time.Time
	buffer      []byte
}

var _ session.Sender = (*gatewayConn)(nil)

// handleGateway upgrades the HTTP connection and runs the gateway
// protocol until the peer disconnects. Each connection gets a fresh
// session manager; every session it starts is shut down when the
// connection drops.
func (s *Server) handleGateway(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("gateway upgrade failed", "error", err)
		return
	}

	remote := conn.RemoteAddr().String()
	g := &gatewayConn{
		conn:        conn,
		logger:      s.logger.With("gateway", remote),
		send:        make(chan []byte, gatewaySendBuffer),
		done:        make(chan struct{}),
		remote:      remote,
		connectedAt: time.Now().UTC(),
	}

	manager, err := s.managers(g)
	if err != nil {
		s.logger.Error("gateway session manager construction failed", "error", err)
		conn.Close()
		return
	}
	g.manager = manager
	g.router = session.NewRouter(manager, g.logger)

	parent := s.baseCtx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	s.registerGateway(g)
	defer s.unregisterGateway(g)

	g.logger.Info("gateway connected")

	go g.writePump(s.wsCfg)
	g.readLoop(ctx, s.wsCfg)

	// Read loop has exited: tear down every session this connection
	// created, then release the writer.
	g.manager.Shutdown()
	g.close()
	g.logger.Info("gateway disconnected", "sessions_closed", true)
}

// readLoop reads WebSocket messages and feeds them through the line
// buffer. It returns when the connection errors or closes.
func (g *gatewayConn) readLoop(ctx context.Context, cfg config.WebSocketConfig) {
	g.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	g.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	g.conn.SetPongHandler(func(string) error {
		return g.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, data, err := g.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Warn("gateway read error", "error", err)
			} else {
				g.logger.Debug("gateway closed", "error", err)
			}
			return
		}
		// Any peer message resets the read deadline (keeps the connection
		// alive even if the peer doesn't answer protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		g.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))

		g.buffer = append(g.buffer, data...)
		g.processBuffer(ctx)
	}
}

// processBuffer handles every complete newline-terminated line in the
// buffer. A trailing partial line stays buffered for the next read.
func (g *gatewayConn) processBuffer(ctx context.Context) {
	for {
		idx := bytes.IndexByte(g.buffer, '\n')
		if idx < 0 {
			return
		}
		line := g.buffer[:idx]
		g.buffer = g.buffer[idx+1:]

		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		g.handleLine(ctx, line)
	}
}

// handleLine processes one JSON-RPC line from the peer.
//
// Requests carrying an id are acknowledged immediately, before any
// dispatch, so the peer never waits on session work. A request without a
// device_id is answered with -32602 (or logged, if it carried no id)
// and goes no further. Control methods hit the manager directly;
// responses are dropped; everything else routes to its device session.
func (g *gatewayConn) handleLine(ctx context.Context, line []byte) {
	var frame gatewayFrame
	if err := json.Unmarshal(line, &frame); err != nil {
		g.logger.Warn("gateway frame decode failed", "error", err)
		return
	}

	hasID := len(frame.ID) > 0 && !bytes.Equal(frame.ID, []byte("null"))

	if frame.Method != "" && hasID {
		g.sendAck(frame.Method, frame.ID)
	}

	if frame.Method != "" && frame.Params.DeviceID == "" {
		if hasID {
			g.sendError(frame.ID, codeInvalidParams, "Missing device_id for method "+frame.Method)
		} else {
			g.logger.Warn("gateway frame missing device_id and id", "method", frame.Method)
		}
		return
	}

	switch {
	case frame.Method == session.MethodStartDevice:
		if err := g.manager.Start(ctx, frame.Params.DeviceID); err != nil {
			g.logger.Warn("device session start failed",
				"device_id", frame.Params.DeviceID,
				"error", err)
		}
	case frame.Method == session.MethodStopDevice:
		g.manager.Stop(frame.Params.DeviceID)
	case frame.Method == "" && hasID:
		// Ack for one of our stream requests; nothing correlates on it.
	case frame.Method == "":
		g.logger.Debug("gateway frame without method or id dropped")
	default:
		g.route(ctx, frame)
	}
}

// route converts a conversational frame into an inbound message and hands
// it to the session router.
func (g *gatewayConn) route(ctx context.Context, frame gatewayFrame) {
	kind, ok := session.KindForMethod(frame.Method)
	if !ok {
		g.logger.Warn("unknown gateway method",
			"method", frame.Method,
			"device_id", frame.Params.DeviceID)
		return
	}

	text := frame.Params.Text
	if kind == session.KindDeviceMessage {
		text = frame.Params.Payload
	}

	msg := session.InboundMessage{
		DeviceID: frame.Params.DeviceID,
		Kind:     kind,
		Text:     text,
	}
	if err := g.router.Route(ctx, msg); err != nil {
		g.logger.Warn("gateway message not routed",
			"device_id", msg.DeviceID,
			"method", frame.Method,
			"error", err)
	}
}

// Send implements session.Sender. It frames msg as a JSON-RPC request
// line and enqueues it for the write pump. Sessions for different
// devices share this sender; the channel serialises their writes while
// preserving each session's own ordering.
func (g *gatewayConn) Send(msg session.OutboundMessage) error {
	frame := outboundFrame{
		JSONRPC: jsonrpcVersion,
		ID:      g.nextID.Add(1),
		Method:  msg.Method,
		Params: outboundParams{
			TaskID:   msg.TaskID,
			DeviceID: msg.DeviceID,
			Text:     msg.Text,
		},
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshaling gateway frame: %w", err)
	}

	if !g.enqueue(append(data, '\n')) {
		select {
		case <-g.done:
			return errGatewayClosed
		default:
			return errGatewaySendFull
		}
	}
	return nil
}

// sendAck acknowledges an inbound request with result "ok".
func (g *gatewayConn) sendAck(method string, id json.RawMessage) {
	data, err := json.Marshal(ackFrame{
		JSONRPC: jsonrpcVersion,
		Method:  method,
		ID:      id,
		Result:  "ok",
	})
	if err != nil {
		return
	}
	if !g.enqueue(append(data, '\n')) {
		g.logger.Warn("gateway ack dropped", "method", method)
	}
}

// sendError reports a malformed request back to the peer.
func (g *gatewayConn) sendError(id json.RawMessage, code int, message string) {
	data, err := json.Marshal(errorFrame{
		JSONRPC: jsonrpcVersion,
		Error:   rpcError{Code: code, Message: message},
		ID:      id,
	})
	if err != nil {
		return
	}
	if !g.enqueue(append(data, '\n')) {
		g.logger.Warn("gateway error frame dropped", "code", code)
	}
}

// enqueue hands a framed line to the write pump without blocking.
// It reports false if the connection is closed or the buffer is full.
func (g *gatewayConn) enqueue(data []byte) bool {
	select {
	case <-g.done:
		return false
	default:
	}

	select {
	case g.send <- data:
		return true
	default:
		return false
	}
}

// writePump writes queued frames to the WebSocket connection and keeps
// the peer alive with protocol-level pings.
func (g *gatewayConn) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		g.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case data := <-g.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			g.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := g.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			g.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := g.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-g.done:
			//nolint:errcheck // Best-effort close message
			g.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}

// close shuts the connection down exactly once. Queued outbound frames
// that the write pump has not yet flushed are discarded.
func (g *gatewayConn) close() {
	g.closeOnce.Do(func() {
		close(g.done)
		g.conn.Close()
	})
}
