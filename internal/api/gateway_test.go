package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/voicelink-core/internal/session"
)

// wireFrame decodes any frame the gateway writes: acks carry result,
// rejections carry error, stream requests carry params.
type wireFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Result  string          `json:"result"`
	Error   *rpcError       `json:"error"`
	Params  outboundParams  `json:"params"`
}

// feed appends raw bytes as one WebSocket read and processes the buffer,
// exactly as readLoop does.
func feed(ctx context.Context, g *gatewayConn, data string) {
	g.buffer = append(g.buffer, data...)
	g.processBuffer(ctx)
}

// nextFrame pops one queued outbound frame, failing after the timeout.
func nextFrame(t *testing.T, g *gatewayConn, timeout time.Duration) wireFrame {
	t.Helper()
	select {
	case data := <-g.send:
		if !bytes.HasSuffix(data, []byte("\n")) {
			t.Fatalf("frame not newline-terminated: %q", data)
		}
		var frame wireFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("unmarshal frame %q: %v", data, err)
		}
		return frame
	case <-time.After(timeout):
		t.Fatal("no frame queued before timeout")
	}
	return wireFrame{}
}

// noFrame asserts nothing is queued for the peer.
func noFrame(t *testing.T, g *gatewayConn) {
	t.Helper()
	select {
	case data := <-g.send:
		t.Fatalf("unexpected frame queued: %s", data)
	default:
	}
}

// ─── Inbound Framing Tests ─────────────────────────────────────────

func TestGatewayLineSplitAcrossReads(t *testing.T) {
	srv, _ := testServer(t)
	g := newTestGateway(t, srv, "test-peer")
	ctx := context.Background()

	feed(ctx, g, `{"jsonrpc":"2.0","id":1,"method":"start_`)
	noFrame(t, g)
	if g.manager.Len() != 0 {
		t.Fatal("partial line must not dispatch")
	}

	feed(ctx, g, `device","params":{"device_id":"dev-1"}}`+"\n")

	ack := nextFrame(t, g, time.Second)
	if ack.Method != session.MethodStartDevice || ack.Result != "ok" {
		t.Errorf("ack = %+v, want start_device ok", ack)
	}
	if string(ack.ID) != "1" {
		t.Errorf("ack id = %s, want 1", ack.ID)
	}
	if g.manager.Len() != 1 {
		t.Errorf("sessions = %d, want 1", g.manager.Len())
	}
}

func TestGatewayMultipleLinesOneRead(t *testing.T) {
	srv, _ := testServer(t)
	g := newTestGateway(t, srv, "test-peer")
	ctx := context.Background()

	feed(ctx, g,
		`{"jsonrpc":"2.0","id":1,"method":"start_device","params":{"device_id":"dev-1"}}`+"\n"+
			"\n"+ // blank lines between frames are skipped
			`{"jsonrpc":"2.0","id":2,"method":"stop_device","params":{"device_id":"dev-1"}}`+"\n")

	first := nextFrame(t, g, time.Second)
	second := nextFrame(t, g, time.Second)
	if first.Method != session.MethodStartDevice || second.Method != session.MethodStopDevice {
		t.Errorf("acks = %s, %s, want start_device then stop_device", first.Method, second.Method)
	}
	noFrame(t, g)
	if g.manager.Len() != 0 {
		t.Errorf("sessions = %d, want 0 after stop", g.manager.Len())
	}
}

func TestGatewayAckEchoesStringID(t *testing.T) {
	srv, _ := testServer(t)
	g := newTestGateway(t, srv, "test-peer")

	feed(context.Background(), g,
		`{"jsonrpc":"2.0","id":"abc-7","method":"stop_device","params":{"device_id":"dev-9"}}`+"\n")

	ack := nextFrame(t, g, time.Second)
	if string(ack.ID) != `"abc-7"` {
		t.Errorf("ack id = %s, want the raw client id echoed", ack.ID)
	}
}

func TestGatewayMissingDeviceID(t *testing.T) {
	srv, _ := testServer(t)
	g := newTestGateway(t, srv, "test-peer")

	feed(context.Background(), g,
		`{"jsonrpc":"2.0","id":3,"method":"asr_result","params":{"text":"hello"}}`+"\n")

	// The request is acknowledged first, then rejected as invalid.
	ack := nextFrame(t, g, time.Second)
	if ack.Result != "ok" {
		t.Errorf("first frame = %+v, want ack", ack)
	}

	rejection := nextFrame(t, g, time.Second)
	if rejection.Error == nil || rejection.Error.Code != codeInvalidParams {
		t.Fatalf("error frame = %+v, want code %d", rejection, codeInvalidParams)
	}
	if !strings.Contains(rejection.Error.Message, session.MethodASRResult) {
		t.Errorf("error message = %q, want the method named", rejection.Error.Message)
	}
	if string(rejection.ID) != "3" {
		t.Errorf("error id = %s, want 3", rejection.ID)
	}
	if g.manager.Len() != 0 {
		t.Error("no session should start for a frame without device_id")
	}
}

func TestGatewayMissingDeviceIDWithoutID(t *testing.T) {
	srv, _ := testServer(t)
	g := newTestGateway(t, srv, "test-peer")

	feed(context.Background(), g,
		`{"jsonrpc":"2.0","method":"asr_result","params":{"text":"hello"}}`+"\n")

	noFrame(t, g)
	if g.manager.Len() != 0 {
		t.Error("no session should start")
	}
}

func TestGatewayDropsResponses(t *testing.T) {
	srv, _ := testServer(t)
	g := newTestGateway(t, srv, "test-peer")
	ctx := context.Background()

	// The peer's acks to our stream requests carry an id and no method.
	feed(ctx, g, `{"jsonrpc":"2.0","id":42,"result":"ok"}`+"\n")
	feed(ctx, g, `{"jsonrpc":"2.0","id":43,"error":{"code":-1,"message":"peer failed"}}`+"\n")

	noFrame(t, g)
	if g.manager.Len() != 0 {
		t.Error("responses must not create sessions")
	}
}

func TestGatewayDropsMalformedLine(t *testing.T) {
	srv, _ := testServer(t)
	g := newTestGateway(t, srv, "test-peer")
	ctx := context.Background()

	feed(ctx, g, "this is not json\n")
	noFrame(t, g)

	// Framing recovers for the next line.
	feed(ctx, g, `{"jsonrpc":"2.0","id":2,"method":"stop_device","params":{"device_id":"dev-1"}}`+"\n")
	ack := nextFrame(t, g, time.Second)
	if ack.Method != session.MethodStopDevice {
		t.Errorf("ack = %+v, want stop_device after a bad line", ack)
	}
}

func TestGatewayUnknownMethodAckedNotRouted(t *testing.T) {
	srv, _ := testServer(t)
	g := newTestGateway(t, srv, "test-peer")

	feed(context.Background(), g,
		`{"jsonrpc":"2.0","id":5,"method":"vacuum_floor","params":{"device_id":"dev-1"}}`+"\n")

	ack := nextFrame(t, g, time.Second)
	if ack.Method != "vacuum_floor" || ack.Result != "ok" {
		t.Errorf("ack = %+v, want vacuum_floor ok", ack)
	}
	noFrame(t, g)
	if g.manager.Len() != 0 {
		t.Errorf("sessions = %d, want 0 for an unknown method", g.manager.Len())
	}
}

func TestGatewayRoutesTurnToSession(t *testing.T) {
	srv, _ := testServer(t)
	g := newTestGateway(t, srv, "test-peer")

	feed(context.Background(), g,
		`{"jsonrpc":"2.0","id":1,"method":"asr_result","params":{"device_id":"dev-1","text":"lights on"}}`+"\n")

	ack := nextFrame(t, g, time.Second)
	if ack.Method != session.MethodASRResult || ack.Result != "ok" {
		t.Fatalf("ack = %+v, want asr_result ok", ack)
	}

	// Routing lazily started the session; the turn streams back through
	// this connection.
	start := nextFrame(t, g, 5*time.Second)
	chunk := nextFrame(t, g, time.Second)
	finish := nextFrame(t, g, time.Second)

	if start.Method != session.MethodStreamStart {
		t.Errorf("first stream method = %q, want %q", start.Method, session.MethodStreamStart)
	}
	if chunk.Method != session.MethodStreamChunk || chunk.Params.Text != "echo: lights on" {
		t.Errorf("chunk = %+v, want the responder's reply", chunk)
	}
	if finish.Method != session.MethodStreamFinish {
		t.Errorf("last stream method = %q, want %q", finish.Method, session.MethodStreamFinish)
	}

	taskID := start.Params.TaskID
	if !strings.HasPrefix(taskID, "task-") {
		t.Errorf("task id = %q, want task- prefix", taskID)
	}
	if chunk.Params.TaskID != taskID || finish.Params.TaskID != taskID {
		t.Errorf("task ids = %q, %q, %q, want one shared id",
			taskID, chunk.Params.TaskID, finish.Params.TaskID)
	}
	for _, frame := range []wireFrame{start, chunk, finish} {
		if frame.Params.DeviceID != "dev-1" {
			t.Errorf("%s device_id = %q, want dev-1", frame.Method, frame.Params.DeviceID)
		}
	}
	if g.manager.Len() != 1 {
		t.Errorf("sessions = %d, want 1", g.manager.Len())
	}
}

// ─── Outbound Framing Tests ────────────────────────────────────────

func TestGatewaySendFrameShape(t *testing.T) {
	srv, _ := testServer(t)
	g := newTestGateway(t, srv, "test-peer")

	msg := session.OutboundMessage{
		Method:   session.MethodStreamChunk,
		TaskID:   "task-1700000000-abcd1234",
		DeviceID: "dev-1",
		Text:     "Hello there.",
	}
	if err := g.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	data := <-g.send
	if !bytes.HasSuffix(data, []byte("\n")) {
		t.Errorf("frame = %q, want newline-terminated", data)
	}

	var frame struct {
		JSONRPC string         `json:"jsonrpc"`
		ID      uint64         `json:"id"`
		Method  string         `json:"method"`
		Params  outboundParams `json:"params"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.JSONRPC != "2.0" {
		t.Errorf("jsonrpc = %q, want 2.0", frame.JSONRPC)
	}
	if frame.ID != 1 {
		t.Errorf("id = %d, want 1", frame.ID)
	}
	if frame.Method != session.MethodStreamChunk {
		t.Errorf("method = %q, want %q", frame.Method, session.MethodStreamChunk)
	}
	if frame.Params.TaskID != msg.TaskID || frame.Params.DeviceID != "dev-1" || frame.Params.Text != "Hello there." {
		t.Errorf("params = %+v, want the message fields", frame.Params)
	}

	// Ids are a per-connection sequence.
	if err := g.Send(msg); err != nil {
		t.Fatalf("second Send: %v", err)
	}
	data = <-g.send
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal second frame: %v", err)
	}
	if frame.ID != 2 {
		t.Errorf("second id = %d, want 2", frame.ID)
	}
}

func TestGatewaySendOmitsEmptyText(t *testing.T) {
	srv, _ := testServer(t)
	g := newTestGateway(t, srv, "test-peer")

	err := g.Send(session.OutboundMessage{
		Method:   session.MethodStreamFinish,
		TaskID:   "task-1",
		DeviceID: "dev-1",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	data := <-g.send
	if bytes.Contains(data, []byte(`"text"`)) {
		t.Errorf("finish frame carries a text key: %s", data)
	}
}

func TestGatewaySendAfterClose(t *testing.T) {
	srv, _ := testServer(t)
	g := newTestGateway(t, srv, "test-peer")
	close(g.done)

	err := g.Send(session.OutboundMessage{
		Method:   session.MethodStreamStart,
		TaskID:   "task-1",
		DeviceID: "dev-1",
	})
	if !errors.Is(err, errGatewayClosed) {
		t.Errorf("Send after close error = %v, want errGatewayClosed", err)
	}
}

func TestGatewaySendBufferFull(t *testing.T) {
	srv, _ := testServer(t)
	g := newTestGateway(t, srv, "test-peer")

	msg := session.OutboundMessage{
		Method:   session.MethodStreamChunk,
		TaskID:   "task-1",
		DeviceID: "dev-1",
		Text:     "x",
	}
	for i := 0; i < gatewaySendBuffer; i++ {
		if err := g.Send(msg); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if err := g.Send(msg); !errors.Is(err, errGatewaySendFull) {
		t.Errorf("Send on full buffer error = %v, want errGatewaySendFull", err)
	}
}

// ─── Gateway Route Tests ───────────────────────────────────────────

func TestGatewayRoute_RequiresUpgrade(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/ws/gateway", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("plain GET status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestGatewayRoute_CustomPath(t *testing.T) {
	srv, _ := testServer(t)
	srv.wsCfg.Path = "/custom/stream"
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/custom/stream", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("custom path status = %d, want upgrade rejection %d", w.Code, http.StatusBadRequest)
	}

	req = httptest.NewRequest(http.MethodGet, "/ws/gateway", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("default path status = %d, want %d when a custom path is set", w.Code, http.StatusNotFound)
	}
}

// ─── Gateway Integration Tests ─────────────────────────────────────

// gatewayTestServer starts a server on a real listener for WebSocket
// tests.
func gatewayTestServer(t *testing.T, port int) (*Server, string) {
	t.Helper()

	srv, _ := testServer(t)
	srv.cfg.Port = port

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { srv.Close() })

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// Wait for the listener to come up.
	time.Sleep(100 * time.Millisecond)

	return srv, fmt.Sprintf("127.0.0.1:%d", port)
}

// wsDial connects to the gateway endpoint.
func wsDial(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/gateway", nil)
	if err != nil {
		t.Fatalf("gateway dial failed: %v", err)
	}
	return ws
}

// wsWriteLine sends one newline-terminated JSON-RPC line.
func wsWriteLine(t *testing.T, ws *websocket.Conn, line string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(line+"\n")); err != nil {
		t.Fatalf("write %q: %v", line, err)
	}
}

// wsReadFrame reads one frame line from the connection.
func wsReadFrame(t *testing.T, ws *websocket.Conn) wireFrame {
	t.Helper()
	//nolint:errcheck // Best-effort deadline; read error caught below
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}

	var frame wireFrame
	if err := json.Unmarshal(bytes.TrimSpace(data), &frame); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return frame
}

func TestGateway_FullConversation(t *testing.T) {
	_, addr := gatewayTestServer(t, 19180)

	ws := wsDial(t, addr)
	defer ws.Close()

	wsWriteLine(t, ws, `{"jsonrpc":"2.0","id":1,"method":"start_device","params":{"device_id":"bedroom-panel"}}`)
	ack := wsReadFrame(t, ws)
	if ack.Method != session.MethodStartDevice || ack.Result != "ok" {
		t.Fatalf("ack = %+v, want start_device ok", ack)
	}

	wsWriteLine(t, ws, `{"jsonrpc":"2.0","id":2,"method":"asr_result","params":{"device_id":"bedroom-panel","text":"good morning"}}`)
	if ack := wsReadFrame(t, ws); ack.Method != session.MethodASRResult {
		t.Fatalf("ack = %+v, want asr_result ack", ack)
	}

	start := wsReadFrame(t, ws)
	chunk := wsReadFrame(t, ws)
	finish := wsReadFrame(t, ws)

	if start.Method != session.MethodStreamStart ||
		chunk.Method != session.MethodStreamChunk ||
		finish.Method != session.MethodStreamFinish {
		t.Fatalf("stream methods = %s, %s, %s", start.Method, chunk.Method, finish.Method)
	}
	if chunk.Params.Text != "echo: good morning" {
		t.Errorf("chunk text = %q, want the responder's reply", chunk.Params.Text)
	}

	taskID := start.Params.TaskID
	if !strings.HasPrefix(taskID, "task-") {
		t.Errorf("task id = %q, want task- prefix", taskID)
	}
	if chunk.Params.TaskID != taskID || finish.Params.TaskID != taskID {
		t.Errorf("task ids = %q, %q, %q, want one shared id",
			taskID, chunk.Params.TaskID, finish.Params.TaskID)
	}
	if start.Params.DeviceID != "bedroom-panel" {
		t.Errorf("device_id = %q, want bedroom-panel", start.Params.DeviceID)
	}

	wsWriteLine(t, ws, `{"jsonrpc":"2.0","id":3,"method":"stop_device","params":{"device_id":"bedroom-panel"}}`)
	if ack := wsReadFrame(t, ws); ack.Method != session.MethodStopDevice {
		t.Fatalf("ack = %+v, want stop_device ack", ack)
	}
}

func TestGateway_SessionsVisibleOverAPI(t *testing.T) {
	_, addr := gatewayTestServer(t, 19181)

	ws := wsDial(t, addr)
	defer ws.Close()

	wsWriteLine(t, ws, `{"jsonrpc":"2.0","id":1,"method":"start_device","params":{"device_id":"hall-panel"}}`)
	wsReadFrame(t, ws) // ack

	// The ack is written before the session finishes starting; poll the
	// admin surface until it appears.
	token := bearerToken(t)
	deadline := time.Now().Add(3 * time.Second)
	for {
		req, err := http.NewRequest(http.MethodGet, "http://"+addr+"/api/v1/sessions", nil)
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		req.Header.Set("Authorization", token)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("sessions request: %v", err)
		}

		var body struct {
			Sessions []sessionEntry `json:"sessions"`
			Total    int            `json:"total"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if decodeErr != nil {
			t.Fatalf("decode sessions: %v", decodeErr)
		}

		if body.Total == 1 && body.Sessions[0].DeviceID == "hall-panel" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never appeared; last response %+v", body)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestGateway_CloseShutsDownConnections(t *testing.T) {
	srv, addr := gatewayTestServer(t, 19182)

	ws := wsDial(t, addr)
	defer ws.Close()

	wsWriteLine(t, ws, `{"jsonrpc":"2.0","id":1,"method":"start_device","params":{"device_id":"dev-1"}}`)
	wsReadFrame(t, ws) // ack

	if srv.GatewayCount() != 1 {
		t.Fatalf("gateway count = %d, want 1", srv.GatewayCount())
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	// The server forced our socket closed; reads drain and then fail.
	//nolint:errcheck // Best-effort deadline; loop exits on read error
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.GatewayCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("gateway count = %d after close, want 0", srv.GatewayCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
