package audit

import (
	"context"
	"sync"

	"github.com/nerrad567/voicelink-core/internal/infrastructure/logging"
)

// recorderChanSize is the buffer size for the async record channel.
// Entries beyond this are dropped (best-effort) to avoid back-pressure
// on session turns.
const recorderChanSize = 256

// Recorder decouples invocation records from SQLite writes. Session
// hooks fire on session goroutines mid-turn; Record never blocks them.
// Writes happen serially on one background goroutine, which is kinder to
// SQLite's serial write model.
type Recorder struct {
	repo   Repository
	logger *logging.Logger
	ch     chan *Invocation
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewRecorder starts the background writer. Close it to flush.
func NewRecorder(repo Repository, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Default()
	}
	r := &Recorder{
		repo:   repo,
		logger: logger,
		ch:     make(chan *Invocation, recorderChanSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.drain()
	return r
}

// Record enqueues an invocation for asynchronous write. If the channel
// is full or the recorder is closed the entry is dropped and a warning
// is logged.
func (r *Recorder) Record(inv *Invocation) {
	select {
	case <-r.stop:
		return
	default:
	}

	select {
	case r.ch <- inv:
	default:
		r.logger.Warn("audit channel full, dropping invocation record",
			"server", inv.ServerName,
			"tool", inv.ToolName,
		)
	}
}

// Close stops accepting new records, flushes everything already queued,
// and waits for the writer to exit. Safe to call more than once.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.stop)
	})
	<-r.done
}

// drain reads entries from the channel and writes them serially. On
// shutdown it flushes remaining entries before exiting.
func (r *Recorder) drain() {
	defer close(r.done)
	for {
		select {
		case inv := <-r.ch:
			r.write(inv)
		case <-r.stop:
			for {
				select {
				case inv := <-r.ch:
					r.write(inv)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(inv *Invocation) {
	if err := r.repo.Record(context.Background(), inv); err != nil {
		r.logger.Error("audit record write failed",
			"server", inv.ServerName,
			"tool", inv.ToolName,
			"error", err,
		)
	}
}
