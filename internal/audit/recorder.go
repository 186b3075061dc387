package audit

import (
	"context"
	"errors"
	"sync"
)

// defaultQueueSize is the buffer of the asynchronous recorder.
const defaultQueueSize = 256

// ErrDropped is returned by Record when the queue is full.
var ErrDropped = errors.New("audit: queue full, entry dropped")

// Logger is the logging surface of the recorder.
type Logger interface {
	Error(msg string, args ...any)
}

// Recorder writes entries to a Repository from one goroutine so callers
// never wait on SQLite. Entries beyond the queue size are dropped.
type Recorder struct {
	repo   Repository
	queue  chan *Entry
	logger Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewRecorder creates a recorder. Call Start before Record.
func NewRecorder(repo Repository, queueSize int, logger Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Recorder{repo: repo, queue: make(chan *Entry, queueSize), logger: logger}
}

// Start launches the writer goroutine.
func (r *Recorder) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.drain(ctx)
}

// Stop writes any queued entries and stops the writer goroutine.
func (r *Recorder) Stop() {
	r.once.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
	})
}

// Record queues entry without blocking.
func (r *Recorder) Record(entry *Entry) error {
	select {
	case r.queue <- entry:
		return nil
	default:
		return ErrDropped
	}
}

func (r *Recorder) drain(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case entry := <-r.queue:
			r.write(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-r.queue:
					r.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(entry *Entry) {
	// The caller's context may already be cancelled during shutdown.
	if err := r.repo.Create(context.Background(), entry); err != nil && r.logger != nil {
		r.logger.Error("write audit insert failed",
			"request_id", entry.RequestID,
			"path", entry.Path,
			"error", err)
	}
}
