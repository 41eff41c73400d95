package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/voicelink-core/internal/capability"
)

// defaultQueueSize caps the inbound queue when no size is configured.
const defaultQueueSize = 32

// errorReplyText is the user-visible reply for a turn that failed before
// the Responder produced its own failure text.
const errorReplyText = "Sorry, I ran into a problem handling that. Please try again."

// Session serializes all work for one device: a FIFO inbound queue
// processed one message fully to completion at a time, a tool catalog
// kept fresh from transport events, device-scoped conversation memory,
// and the turn loop driving the Responder.
//
// Apart from queue enqueues and catalog reads, session state is touched
// only by the run goroutine.
type Session struct {
	deviceID  string
	transport Transport
	responder Responder
	streamer  *Streamer
	memory    *Memory
	hooks     Hooks
	logger    Logger

	queue        chan InboundMessage
	catalog      atomic.Pointer[capability.Catalog]
	catalogStale bool
	startedAt    time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// SessionInfo is a point-in-time view of one live session.
type SessionInfo struct {
	DeviceID  string    `json:"device_id"`
	StartedAt time.Time `json:"started_at"`
	QueueLen  int       `json:"queue_len"`
	MemoryLen int       `json:"memory_len"`
	ToolCount int       `json:"tool_count"`
}

func newSession(deviceID string, transport Transport, responder Responder, sender Sender, queueSize, historyLimit int, hooks Hooks, logger Logger) *Session {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		deviceID:  deviceID,
		transport: transport,
		responder: responder,
		memory:    NewMemory(historyLimit),
		hooks:     hooks,
		logger:    logger,
		queue:     make(chan InboundMessage, queueSize),
		startedAt: time.Now().UTC(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.streamer = newStreamer(deviceID, sender, s.notifyLoading, logger)
	s.catalog.Store(capability.EmptyCatalog())
	return s
}

// DeviceID returns the device this session serves.
func (s *Session) DeviceID() string {
	return s.deviceID
}

// Enqueue adds one message to the inbound queue without ever blocking on
// session processing. A full queue returns ErrQueueFull and the message
// is dropped; a stopped session returns ErrSessionStopped.
func (s *Session) Enqueue(msg InboundMessage) error {
	select {
	case <-s.ctx.Done():
		return ErrSessionStopped
	default:
	}

	select {
	case s.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Info snapshots the session for the admin surface.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		DeviceID:  s.deviceID,
		StartedAt: s.startedAt,
		QueueLen:  len(s.queue),
		MemoryLen: s.memory.Len(),
		ToolCount: s.catalog.Load().Len(),
	}
}

// Servers reports the capability servers this session's transport sees.
func (s *Session) Servers() []capability.ServerInfo {
	return s.transport.Servers()
}

// run is the session loop: drop out on cancellation, mark the catalog
// stale on transport events, otherwise pull one message and process it
// to completion before the next.
func (s *Session) run() {
	defer close(s.done)

	s.rebuildCatalog()
	events := s.transport.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-events:
			s.catalogStale = true
		case msg := <-s.queue:
			s.drainEvents(events)
			if s.catalogStale {
				s.rebuildCatalog()
			}
			s.handleTurn(msg)
		}
	}
}

// stop cancels the loop, waits for it to exit, releases the transport
// and clears conversation memory. Safe to call repeatedly.
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		<-s.done
		s.transport.Stop()
		s.memory.Clear()
		s.logger.Info("session stopped", "device_id", s.deviceID)
	})
}

// drainEvents absorbs any queued connected-set changes so one rebuild
// covers them all.
func (s *Session) drainEvents(events <-chan capability.Event) {
	for {
		select {
		case <-events:
			s.catalogStale = true
		default:
			return
		}
	}
}

func (s *Session) rebuildCatalog() {
	catalog := capability.BuildCatalog(s.ctx, s.transport, capability.BuildOptions{
		Observer: s.observeTool,
		Logger:   s.logger,
	})
	s.catalog.Store(catalog)
	s.catalogStale = false
	s.logger.Debug("catalog rebuilt",
		"device_id", s.deviceID,
		"tools", catalog.Len())
}

func (s *Session) observeTool(server, tool string, outcome capability.Outcome, duration time.Duration) {
	s.hooks.tool(s.deviceID, server, tool, outcome, duration)
}

// handleTurn runs one conversational turn. Failures are contained: the
// device hears exactly one error reply and the loop continues.
func (s *Session) handleTurn(msg InboundMessage) {
	start := time.Now()
	s.notifyLoading(statusProcessing)

	fragments, err := s.responder.Respond(s.ctx, msg.Text, s.catalog.Load(), s.memory.Snapshot())
	if err != nil {
		s.logger.Error("responder invocation failed",
			"device_id", s.deviceID,
			"error", err)
		fragments = errorFragments(errorReplyText)
	}

	result := s.streamer.Drain(s.ctx, fragments)
	if result.Cancelled {
		s.logger.Debug("turn cancelled",
			"device_id", s.deviceID,
			"task_id", result.TaskID)
		return
	}

	s.notifyLoading(statusComplete)

	if !result.Errored && result.Reply != "" {
		s.memory.Add(RoleUser, msg.Text)
		s.memory.Add(RoleAssistant, result.Reply)
	}

	s.hooks.turn(s.deviceID, time.Since(start), result.Chunks, result.Errored)
	s.logger.Info("turn completed",
		"device_id", s.deviceID,
		"task_id", result.TaskID,
		"chunks", result.Chunks,
		"tool_calls", result.ToolCalls,
		"errored", result.Errored,
		"duration_ms", time.Since(start).Milliseconds())
}

// notifyLoading publishes a loading status to the device channel. Best
// effort; a failed notice never fails the turn.
func (s *Session) notifyLoading(status string) {
	if err := s.transport.NotifyDevice(s.deviceID, loadingNotice(status)); err != nil {
		s.logger.Debug("device notice failed",
			"device_id", s.deviceID,
			"status", status,
			"error", err)
	}
}

// errorFragments builds the single-fragment stream for a turn that
// failed before its Responder stream existed.
func errorFragments(text string) <-chan Fragment {
	ch := make(chan Fragment, 1)
	ch <- Fragment{Kind: FragmentError, Text: text}
	close(ch)
	return ch
}
