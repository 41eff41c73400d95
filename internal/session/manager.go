package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/voicelink-core/internal/capability"
	"github.com/nerrad567/voicelink-core/internal/infrastructure/config"
)

// Logger is the minimal structured logging interface this package needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Transport is the device-scoped capability surface a session drives.
// *capability.Client satisfies it. The session owns its transport and
// releases it on stop.
type Transport interface {
	Start() error
	WaitReady(ctx context.Context) error
	Events() <-chan capability.Event
	ConnectedServers() []string
	Servers() []capability.ServerInfo
	ListTools(ctx context.Context, serverName string) ([]capability.Tool, error)
	CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (*capability.CallResult, error)
	NotifyDevice(deviceID string, payload []byte) error
	Stop()
}

var _ Transport = (*capability.Client)(nil)

// TransportFactory dials the broker and builds an unstarted transport
// scoped to one device's capability namespace.
type TransportFactory func(deviceID string) (Transport, error)

// Hooks observe session activity for audit and telemetry. Every field is
// optional; hooks must not block.
type Hooks struct {
	// Turn sees every completed (non-cancelled) conversational turn.
	Turn func(deviceID string, duration time.Duration, chunks int, errored bool)

	// Tool sees every catalog tool invocation.
	Tool func(deviceID, server, tool string, outcome capability.Outcome, duration time.Duration)

	// Session sees session starts (true) and stops (false).
	Session func(deviceID string, started bool)
}

func (h Hooks) turn(deviceID string, duration time.Duration, chunks int, errored bool) {
	if h.Turn != nil {
		h.Turn(deviceID, duration, chunks, errored)
	}
}

func (h Hooks) tool(deviceID, server, tool string, outcome capability.Outcome, duration time.Duration) {
	if h.Tool != nil {
		h.Tool(deviceID, server, tool, outcome, duration)
	}
}

func (h Hooks) session(deviceID string, started bool) {
	if h.Session != nil {
		h.Session(deviceID, started)
	}
}

// Options configures a Manager.
type Options struct {
	// Factory builds per-device transports. Required.
	Factory TransportFactory

	// Responder produces replies. Required; shared across sessions, so
	// it must be safe for concurrent use.
	Responder Responder

	// Sender delivers outbound stream messages. Required.
	Sender Sender

	// Config carries queue and memory sizing.
	Config config.SessionConfig

	// Hooks observe session activity.
	Hooks Hooks

	// Logger is optional structured logging.
	Logger Logger
}

// Manager owns the device-to-session map: at most one live session per
// device id, start replaces, stop is idempotent, shutdown leaks nothing.
type Manager struct {
	factory   TransportFactory
	responder Responder
	sender    Sender
	cfg       config.SessionConfig
	hooks     Hooks
	logger    Logger

	// startMu serializes lifecycle transitions so a replace is atomic
	// with respect to other starts and stops.
	startMu sync.Mutex

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewManager validates opts and builds a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Factory == nil {
		return nil, errors.New("session: manager requires a transport factory")
	}
	if opts.Responder == nil {
		return nil, errors.New("session: manager requires a responder")
	}
	if opts.Sender == nil {
		return nil, errors.New("session: manager requires a sender")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Manager{
		factory:   opts.Factory,
		responder: opts.Responder,
		sender:    opts.Sender,
		cfg:       opts.Config,
		hooks:     opts.Hooks,
		logger:    logger,
		sessions:  make(map[string]*Session),
	}, nil
}

// Start builds a session for the device, replacing any live one. It
// returns once the transport's initial handshake attempt has completed
// or definitively failed; a device with no capability servers starts
// degraded with an empty catalog rather than failing.
func (m *Manager) Start(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("session: device id required")
	}

	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	old := m.sessions[deviceID]
	delete(m.sessions, deviceID)
	m.mu.Unlock()

	if old != nil {
		m.logger.Info("replacing live session", "device_id", deviceID)
		old.stop()
		m.hooks.session(deviceID, false)
	}

	transport, err := m.factory(deviceID)
	if err != nil {
		return fmt.Errorf("session: transport for %s: %w", deviceID, err)
	}
	if err := transport.Start(); err != nil {
		transport.Stop()
		return fmt.Errorf("session: transport start for %s: %w", deviceID, err)
	}
	if err := transport.WaitReady(ctx); err != nil {
		transport.Stop()
		return fmt.Errorf("session: discovery for %s: %w", deviceID, err)
	}

	sess := newSession(deviceID, transport, m.responder, m.sender,
		m.cfg.QueueSize, m.cfg.HistoryLimit, m.hooks, m.logger)
	go sess.run()

	m.mu.Lock()
	m.sessions[deviceID] = sess
	m.mu.Unlock()

	m.hooks.session(deviceID, true)
	m.logger.Info("session started",
		"device_id", deviceID,
		"servers", len(transport.ConnectedServers()))
	return nil
}

// Stop tears down the device's session: cancel, await loop termination,
// release the transport, remove the entry. Unknown device ids are a
// no-op.
func (m *Manager) Stop(deviceID string) {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.Lock()
	sess := m.sessions[deviceID]
	delete(m.sessions, deviceID)
	m.mu.Unlock()

	if sess == nil {
		return
	}
	sess.stop()
	m.hooks.session(deviceID, false)
}

// Shutdown stops every live session and refuses new ones. Idempotent,
// safe from teardown paths.
func (m *Manager) Shutdown() {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for deviceID, sess := range sessions {
		sess.stop()
		m.hooks.session(deviceID, false)
	}
	if len(sessions) > 0 {
		m.logger.Info("all sessions stopped", "count", len(sessions))
	}
}

// Lookup returns the live session for a device id.
func (m *Manager) Lookup(deviceID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[deviceID]
	return sess, ok
}

// Sessions snapshots every live session, sorted by device id.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.RLock()
	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, sess := range m.sessions {
		infos = append(infos, sess.Info())
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].DeviceID < infos[j].DeviceID })
	return infos
}

// Len reports the live session count.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
