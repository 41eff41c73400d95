package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Streamer turns one Responder fragment stream into the ordered wire
// sequence start, chunk..., finish, correlated by a task id. The task id
// is allocated lazily at the first content fragment, so a stream with no
// content produces no wire messages at all.
type Streamer struct {
	deviceID string
	sender   Sender
	notify   func(status string)
	logger   Logger
}

func newStreamer(deviceID string, sender Sender, notify func(status string), logger Logger) *Streamer {
	if notify == nil {
		notify = func(string) {}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Streamer{deviceID: deviceID, sender: sender, notify: notify, logger: logger}
}

// DrainResult summarizes one drained stream.
type DrainResult struct {
	// TaskID is the allocated task id, empty if the stream never
	// produced content.
	TaskID string

	// Reply is the concatenated content text, for conversation memory.
	Reply string

	Chunks    int
	ToolCalls int

	// Errored reports that the stream ended with a failure fragment.
	Errored bool

	// Cancelled reports that the drain was cut short by ctx before the
	// stream ended naturally.
	Cancelled bool
}

// Drain consumes fragments until the stream closes or ctx is cancelled.
//
// Fragment order is preserved exactly; chunks are emitted one per
// non-empty fragment with no batching. Cancellation stops output
// immediately and suppresses the finish message; a stream that ended
// naturally is always finished, however late the drain observes the
// close.
func (st *Streamer) Drain(ctx context.Context, fragments <-chan Fragment) DrainResult {
	var (
		res     DrainResult
		reply   strings.Builder
		started bool
		taskID  string
	)

	begin := func() {
		if started {
			return
		}
		started = true
		taskID = newTaskID()
		res.TaskID = taskID
		st.send(OutboundMessage{Method: MethodStreamStart, TaskID: taskID, DeviceID: st.deviceID})
		st.notify(statusWaiting)
	}

	for {
		select {
		case <-ctx.Done():
			res.Cancelled = true
			res.Reply = reply.String()
			return res
		case frag, ok := <-fragments:
			if !ok {
				if started {
					st.send(OutboundMessage{Method: MethodStreamFinish, TaskID: taskID, DeviceID: st.deviceID})
				}
				res.Reply = reply.String()
				return res
			}

			switch frag.Kind {
			case FragmentText:
				if frag.Text == "" {
					continue
				}
				begin()
				st.send(OutboundMessage{Method: MethodStreamChunk, TaskID: taskID, DeviceID: st.deviceID, Text: frag.Text})
				reply.WriteString(frag.Text)
				res.Chunks++
			case FragmentToolCall:
				res.ToolCalls++
				if frag.Tool != nil {
					st.logger.Debug("tool invoked",
						"device_id", st.deviceID,
						"tool", frag.Tool.Name)
				}
			case FragmentError:
				res.Errored = true
				text := frag.Text
				if text == "" {
					text = errorReplyText
				}
				begin()
				st.send(OutboundMessage{Method: MethodStreamChunk, TaskID: taskID, DeviceID: st.deviceID, Text: text})
				res.Chunks++
			}
		}
	}
}

func (st *Streamer) send(msg OutboundMessage) {
	if err := st.sender.Send(msg); err != nil {
		st.logger.Warn("outbound send failed",
			"device_id", st.deviceID,
			"method", msg.Method,
			"error", err)
	}
}

// newTaskID allocates a stream correlation id of the form
// task-<unix-seconds>-<8 random chars>.
func newTaskID() string {
	return fmt.Sprintf("task-%d-%s", time.Now().Unix(), uuid.NewString()[:8])
}
