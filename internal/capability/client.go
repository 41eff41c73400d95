package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/voicelink-core/internal/infrastructure/config"
	"github.com/nerrad567/voicelink-core/internal/infrastructure/mqtt"
)

// Client operation constants.
const (
	// rpcQoS is the QoS level for presence subscriptions and RPC traffic.
	// At-least-once keeps handshakes reliable across broker hiccups
	// without the session-state cost of exactly-once.
	rpcQoS byte = 1

	// eventBuffer is the capacity of the connection event channel. Events
	// only signal that the connected set changed; consumers re-read the
	// registry on each wake-up, so a drop while other events remain
	// queued loses nothing.
	eventBuffer = 16

	// discoveryBuffer is the capacity of the internal discovery queue
	// between presence handlers and the run loop.
	discoveryBuffer = 64

	// clientVersion is reported to servers during the handshake.
	clientVersion = "1.0.0"
)

// Presence notification methods.
const (
	presenceOnline       = "notifications/server/online"
	presenceDisconnected = "notifications/disconnected"
)

// Logger is the minimal logging interface used by this package.
// This avoids a dependency on a specific logging implementation.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output. Used when no logger is provided.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Broker is the pub/sub surface the client needs from an MQTT connection.
// *mqtt.Client satisfies it; tests substitute a fake.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
	Close() error
}

// Options configures a Client.
type Options struct {
	// Broker is the MQTT connection the client runs over. Each client
	// owns its broker exclusively: presence and RPC subscriptions collide
	// between clients sharing a connection, so callers dial one
	// connection per client. Stop closes it.
	Broker Broker

	// ClientID names this client's half of every RPC channel. It must be
	// unique per live client or responses cross between sessions.
	ClientID string

	// NameFilter selects which server names are in scope, usually the
	// result of ServerNameFilter.
	NameFilter string

	// Config supplies the handshake, call and discovery timeouts.
	Config config.CapabilityConfig

	// Logger is optional structured logging.
	Logger Logger
}

// Client discovers capability servers over MQTT and exposes tool listing
// and invocation against the connected ones.
//
// Start subscribes to the scoped presence filter and the client's RPC
// inbox; retained presence announcements then arrive immediately and each
// new server gets a bounded initialize handshake. Connection outcomes
// surface on Events; per-server state lives in the owned Registry.
//
// Thread safety: all methods are safe for concurrent use.
type Client struct {
	broker     Broker
	clientID   string
	nameFilter string
	cfg        config.CapabilityConfig
	topics     mqtt.Topics

	registry *Registry

	// In-flight requests awaiting their response, keyed by JSON-RPC id.
	pendingMu sync.Mutex
	pending   map[string]chan *rpcEnvelope

	// Parsed online announcements queued for the run loop.
	discoveries chan discoveryNotice

	events chan Event

	// settled closes after the first handshake attempt completes either
	// way, so WaitReady can stop waiting before the full window.
	settled    chan struct{}
	settleOnce sync.Once

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex
}

// discoveryNotice is one parsed online announcement awaiting the run loop.
type discoveryNotice struct {
	serverID    string
	serverName  string
	description string
}

// NewClient creates a client. Call Start to begin discovery.
func NewClient(opts Options) (*Client, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("capability: broker is required")
	}
	if opts.ClientID == "" {
		return nil, fmt.Errorf("capability: client id is required")
	}
	if opts.NameFilter == "" {
		return nil, fmt.Errorf("capability: name filter is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Client{
		broker:      opts.Broker,
		clientID:    opts.ClientID,
		nameFilter:  opts.NameFilter,
		cfg:         opts.Config,
		registry:    NewRegistry(),
		pending:     make(map[string]chan *rpcEnvelope),
		discoveries: make(chan discoveryNotice, discoveryBuffer),
		events:      make(chan Event, eventBuffer),
		settled:     make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger,
	}, nil
}

// Start subscribes to the RPC inbox and the scoped presence filter, then
// launches the run loop that handshakes discovered servers. Retained
// announcements begin arriving as soon as the presence subscription is
// established; use WaitReady to block until the first attempt settles.
func (c *Client) Start() error {
	if err := c.broker.Subscribe(c.topics.RPCInbox(c.clientID), rpcQoS, c.handleRPCMessage); err != nil {
		return fmt.Errorf("capability: subscribe rpc inbox: %w", err)
	}
	if err := c.broker.Subscribe(c.topics.PresenceFilter(c.nameFilter), rpcQoS, c.handlePresence); err != nil {
		if unsubErr := c.broker.Unsubscribe(c.topics.RPCInbox(c.clientID)); unsubErr != nil {
			c.logDebug("rpc inbox unsubscribe failed", "error", unsubErr)
		}
		return fmt.Errorf("capability: subscribe presence: %w", err)
	}

	c.wg.Add(1)
	go c.run()

	c.logInfo("capability client started",
		"client_id", c.clientID,
		"filter", c.nameFilter)
	return nil
}

// run consumes discovery notices for the client's lifetime. Handshakes
// spawn from here rather than from broker callbacks so Stop can wait on
// one WaitGroup without racing handler goroutines.
func (c *Client) run() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case notice := <-c.discoveries:
			if !c.registry.Discover(notice.serverID, notice.serverName, notice.description) {
				c.logDebug("duplicate announcement", "server", notice.serverName)
				continue
			}
			c.logInfo("capability server discovered",
				"server", notice.serverName,
				"server_id", notice.serverID)

			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.handshake(notice.serverID, notice.serverName)
			}()
		}
	}
}

// WaitReady blocks until the first discovered server finishes its
// handshake attempt either way, the discovery window elapses with no
// server settling, or ctx ends. An elapsed window is not an error: the
// caller proceeds degraded with an empty catalog and picks servers up as
// they announce.
func (c *Client) WaitReady(ctx context.Context) error {
	window := time.NewTimer(c.cfg.GetDiscoveryWindow())
	defer window.Stop()

	select {
	case <-c.settled:
		return nil
	case <-window.C:
		c.logDebug("discovery window elapsed without a settled handshake",
			"filter", c.nameFilter)
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop tears the client down: unsubscribes, aborts in-flight calls and
// handshakes, waits for them, and closes the owned broker connection.
// Safe to call more than once.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		if err := c.broker.Unsubscribe(c.topics.PresenceFilter(c.nameFilter)); err != nil {
			c.logDebug("presence unsubscribe failed", "error", err)
		}
		if err := c.broker.Unsubscribe(c.topics.RPCInbox(c.clientID)); err != nil {
			c.logDebug("rpc inbox unsubscribe failed", "error", err)
		}

		close(c.done)
		c.wg.Wait()

		if err := c.broker.Close(); err != nil {
			c.logDebug("broker close failed", "error", err)
		}
		c.logInfo("capability client stopped", "client_id", c.clientID)
	})
}

// =============================================================================
// Presence
// =============================================================================

// presenceNotice is the JSON body of a presence announcement.
type presenceNotice struct {
	Method string `json:"method"`
	Params struct {
		Description string `json:"description"`
	} `json:"params"`
}

// handlePresence reacts to one retained presence message. An empty
// payload is the broker's will for a vanished server and removes it the
// same way an explicit disconnect announcement does.
func (c *Client) handlePresence(topic string, payload []byte) error {
	serverID, serverName, err := mqtt.ParsePresenceTopic(topic)
	if err != nil {
		return err
	}

	if len(payload) == 0 {
		c.removeServer(serverName, "presence cleared")
		return nil
	}

	var notice presenceNotice
	if err := json.Unmarshal(payload, &notice); err != nil {
		return fmt.Errorf("capability: decode presence for %s: %w", serverName, err)
	}

	switch notice.Method {
	case presenceOnline:
		select {
		case c.discoveries <- discoveryNotice{
			serverID:    serverID,
			serverName:  serverName,
			description: notice.Params.Description,
		}:
		case <-c.done:
		}
	case presenceDisconnected:
		c.removeServer(serverName, "disconnect announced")
	default:
		c.logDebug("ignoring presence method",
			"server", serverName,
			"method", notice.Method)
	}
	return nil
}

// removeServer drops a server in any state. An in-flight handshake for it
// finds its registry entry gone and stands down without resurrecting it.
func (c *Client) removeServer(serverName, reason string) {
	if !c.registry.Remove(serverName) {
		return
	}
	c.logInfo("capability server removed",
		"server", serverName,
		"state", StateDisconnected,
		"reason", reason)
	c.emit(Event{Kind: EventRemoved, Server: serverName})
}

// =============================================================================
// Handshake
// =============================================================================

// handshake runs the initialize exchange against one server and settles
// its registry state.
func (c *Client) handshake(serverID, serverName string) {
	defer c.settle()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.GetHandshakeTimeout())
	defer cancel()

	if err := c.initialize(ctx, serverID, serverName); err != nil {
		if c.registry.MarkFailed(serverName) {
			c.logWarn("handshake failed", "server", serverName, "error", err)
			c.emit(Event{Kind: EventFailed, Server: serverName})
		}
		return
	}

	if !c.registry.MarkConnected(serverName) {
		c.logDebug("server removed during handshake", "server", serverName)
		return
	}
	c.logInfo("capability server connected", "server", serverName)
	c.emit(Event{Kind: EventConnected, Server: serverName})
}

// initialize performs the initialize request plus the initialized
// notification that completes the handshake.
func (c *Client) initialize(ctx context.Context, serverID, serverName string) error {
	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      peerInfo{Name: c.clientID, Version: clientVersion},
	}

	resp, err := c.call(ctx, serverID, serverName, methodInitialize, params)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, protocolErr(resp.Error))
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("%w: decode initialize result: %w", ErrHandshakeFailed, err)
	}

	if err := c.notify(serverID, serverName, methodInitialized); err != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	c.logDebug("initialized",
		"server", serverName,
		"protocol", result.ProtocolVersion,
		"peer", result.ServerInfo.Name)
	return nil
}

// settle marks the initial discovery round complete after the first
// handshake attempt of any outcome.
func (c *Client) settle() {
	c.settleOnce.Do(func() { close(c.settled) })
}

// =============================================================================
// Tool Operations
// =============================================================================

// ListTools fetches the server's advertised tools. Valid only while the
// server is connected; anything else fails fast with
// ErrServerNotConnected before any publish.
func (c *Client) ListTools(ctx context.Context, serverName string) ([]Tool, error) {
	serverID, ok := c.registry.connectedEndpoint(serverName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotConnected, serverName)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.GetCallTimeout())
	defer cancel()

	resp, err := c.call(ctx, serverID, serverName, methodToolsList, nil)
	if err != nil {
		return nil, fmt.Errorf("capability: list tools on %s: %w", serverName, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("capability: list tools on %s: %w", serverName, protocolErr(resp.Error))
	}

	var result toolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("capability: decode tool list from %s: %w", serverName, err)
	}

	tools := make([]Tool, 0, len(result.Tools))
	for _, schema := range result.Tools {
		tools = append(tools, toolFromSchema(schema))
	}
	c.registry.UpdateTools(serverName, tools)
	return tools, nil
}

// CallTool invokes one tool and reports how the invocation ended:
//
//   - (result, nil) with IsError false: the tool ran and succeeded.
//   - (result, nil) with IsError true: the tool ran and declared an
//     application error; the content carries the failure text.
//   - (nil, err): the invocation never completed — server not connected,
//     publish failure, timeout, protocol error. Check with errors.Is.
//
// The three cases are never conflated.
func (c *Client) CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (*CallResult, error) {
	serverID, ok := c.registry.connectedEndpoint(serverName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotConnected, serverName)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.GetCallTimeout())
	defer cancel()

	if args == nil {
		args = map[string]any{}
	}

	resp, err := c.call(ctx, serverID, serverName, methodToolsCall, toolsCallParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s on %s", ErrCallTimeout, toolName, serverName)
		}
		return nil, fmt.Errorf("capability: call %s on %s: %w", toolName, serverName, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("capability: call %s on %s: %w", toolName, serverName, protocolErr(resp.Error))
	}

	var result toolsCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("capability: decode %s result from %s: %w", toolName, serverName, err)
	}
	return &CallResult{Content: result.Content, IsError: result.IsError}, nil
}

// Publish sends an arbitrary payload to a broker topic.
func (c *Client) Publish(topic string, payload []byte) error {
	if err := c.broker.Publish(topic, payload, rpcQoS, false); err != nil {
		return fmt.Errorf("capability: publish to %s: %w", topic, err)
	}
	return nil
}

// NotifyDevice publishes an out-of-band notice on the device's channel.
func (c *Client) NotifyDevice(deviceID string, payload []byte) error {
	return c.Publish(c.topics.DeviceChannel(deviceID), payload)
}

// =============================================================================
// RPC plumbing
// =============================================================================

// call publishes one JSON-RPC request on the server's RPC channel and
// waits for the response carrying the same id.
func (c *Client) call(ctx context.Context, serverID, serverName, method string, params any) (*rpcEnvelope, error) {
	id := newRequestID()
	ch := make(chan *rpcEnvelope, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer c.dropPending(id)

	req := rpcRequest{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	topic := c.topics.RPC(c.clientID, serverID, serverName)
	if err := c.broker.Publish(topic, payload, rpcQoS, false); err != nil {
		return nil, fmt.Errorf("publish %s request: %w", method, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

// notify publishes a JSON-RPC notification: no id, no response.
func (c *Client) notify(serverID, serverName, method string) error {
	payload, err := json.Marshal(rpcRequest{JSONRPC: jsonRPCVersion, Method: method})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	topic := c.topics.RPC(c.clientID, serverID, serverName)
	if err := c.broker.Publish(topic, payload, rpcQoS, false); err != nil {
		return fmt.Errorf("publish %s: %w", method, err)
	}
	return nil
}

func (c *Client) dropPending(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// handleRPCMessage correlates a message on the RPC inbox with the pending
// request carrying its id. Server-initiated requests and notifications
// are not part of the convention this client speaks and are dropped.
func (c *Client) handleRPCMessage(topic string, payload []byte) error {
	_, _, serverName, err := mqtt.ParseRPCTopic(topic)
	if err != nil {
		return err
	}

	var envelope rpcEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("capability: decode rpc message from %s: %w", serverName, err)
	}

	if envelope.Method != "" {
		c.logDebug("dropping server-initiated rpc",
			"server", serverName,
			"method", envelope.Method)
		return nil
	}
	if envelope.ID == "" {
		return nil
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[envelope.ID]
	if ok {
		delete(c.pending, envelope.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logDebug("response with no pending request",
			"server", serverName,
			"id", envelope.ID)
		return nil
	}

	// Buffered channel and the pending entry is already deleted, so this
	// send never blocks and never races a second writer.
	ch <- &envelope
	return nil
}

func protocolErr(e *rpcError) error {
	return &ProtocolError{Code: e.Code, Message: e.Message}
}

// =============================================================================
// Introspection
// =============================================================================

// Events exposes connected-set changes. The channel is never closed;
// consumers stop reading when they stop the client.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Servers returns a snapshot of every known server, ordered by name.
func (c *Client) Servers() []ServerInfo {
	return c.registry.Snapshot()
}

// ConnectedServers returns the names of connected servers in sorted order.
func (c *Client) ConnectedServers() []string {
	return c.registry.ConnectedNames()
}

// ClientID returns the id this client publishes RPC requests under.
func (c *Client) ClientID() string {
	return c.clientID
}

// Connected reports whether the underlying broker connection is up.
func (c *Client) Connected() bool {
	return c.broker.IsConnected()
}

// emit delivers a connection event without ever blocking a handshake or
// presence path. A full buffer drops the event; the queued ones still
// wake the consumer, which re-reads the registry and sees this change.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logDebug("event buffer full, dropping",
			"kind", ev.Kind,
			"server", ev.Server)
	}
}

// =============================================================================
// Logging
// =============================================================================

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) logDebug(msg string, args ...any) { c.getLogger().Debug(msg, args...) }
func (c *Client) logInfo(msg string, args ...any)  { c.getLogger().Info(msg, args...) }
func (c *Client) logWarn(msg string, args ...any)  { c.getLogger().Warn(msg, args...) }
