package km200

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/km200-bridge/internal/infrastructure/mqtt"
)

// WriteState is a stage of the write-back state machine.
//
//	received -> validated -> transmitted -> confirmed
//	        \-> rejected  \-> failed
type WriteState string

const (
	WriteReceived    WriteState = "received"
	WriteValidated   WriteState = "validated"
	WriteTransmitted WriteState = "transmitted"
	WriteConfirmed   WriteState = "confirmed"
	WriteRejected    WriteState = "rejected"
	WriteFailed      WriteState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s WriteState) Terminal() bool {
	return s == WriteConfirmed || s == WriteRejected || s == WriteFailed
}

const (
	defaultWriteQueueSize = 32

	// writeTimeout bounds POST plus the confirming read.
	writeTimeout = 30 * time.Second
)

// WriteResult is the terminal outcome of one write request.
type WriteResult struct {
	RequestID string
	Topic     string
	ID        string
	Payload   string
	State     WriteState
	Reason    string
	Err       error

	// Sent is the coerced value transmitted to the device.
	Sent any

	// Confirmed is the value re-read after a successful POST, when the read succeeded.
	Confirmed *DecodedValue

	ReceivedAt time.Time
	Duration   time.Duration
}

// Refresher re-reads one path and publishes it. Implemented by *Poller.
type Refresher interface {
	Refresh(ctx context.Context, path string) Result
}

// WriterOptions configures a Writer.
type WriterOptions struct {
	Registry  *Registry
	Codec     *Codec
	Device    Device
	Refresher Refresher

	// Publisher receives acknowledgements; may be nil.
	Publisher Publisher
	Topics    mqtt.Topics

	// Audit and Observer may be nil.
	Audit    AuditRecorder
	Observer Observer

	// QueueSize bounds Submit; defaults to 32.
	QueueSize int

	Metrics Instrumentation
	Logger  Logger
}

type writeRequest struct {
	topic      string
	payload    []byte
	receivedAt time.Time
}

// Writer validates inbound write requests against cached constraints,
// sends accepted values to the device and confirms them with one re-read.
//
// It never retries a write. Submit hands requests to a single worker so
// subscription callbacks never block on device I/O.
type Writer struct {
	registry  *Registry
	codec     *Codec
	device    Device
	refresher Refresher
	publisher Publisher
	topics    mqtt.Topics
	audit     AuditRecorder
	observer  Observer
	metrics   Instrumentation
	logger    Logger

	queue    chan writeRequest
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	now func() time.Time
}

// NewWriter creates a Writer. Call Start before Submit.
func NewWriter(opts WriterOptions) *Writer {
	size := opts.QueueSize
	if size <= 0 {
		size = defaultWriteQueueSize
	}
	w := &Writer{
		registry:  opts.Registry,
		codec:     opts.Codec,
		device:    opts.Device,
		refresher: opts.Refresher,
		publisher: opts.Publisher,
		topics:    opts.Topics,
		audit:     opts.Audit,
		observer:  opts.Observer,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		queue:     make(chan writeRequest, size),
		done:      make(chan struct{}),
		now:       time.Now,
	}
	if w.registry == nil {
		w.registry = NewRegistry()
	}
	if w.metrics == nil {
		w.metrics = nopInstrumentation{}
	}
	if w.logger == nil {
		w.logger = discardLogger()
	}
	return w
}

// Start launches the queue worker. It stops when ctx is cancelled or Stop is called.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop stops the worker after the request in progress. Queued requests are dropped.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
	})
}

func (w *Writer) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case req := <-w.queue:
			w.handle(ctx, req)
		}
	}
}

// Submit queues a write request without blocking. When the queue is full
// the request is rejected with reason "queue full" and ErrQueueFull is returned.
// It matches mqtt.MessageHandler.
func (w *Writer) Submit(topic string, payload []byte) error {
	req := writeRequest{topic: topic, payload: append([]byte(nil), payload...), receivedAt: w.now()}
	select {
	case w.queue <- req:
		return nil
	default:
	}

	res := w.newResult(req)
	res.ID, _ = w.resolve(topic)
	w.reject(&res, ReasonQueueFull, ErrQueueFull)
	w.finish(&res)
	return ErrQueueFull
}

// HandleWrite runs one write request to completion. topicOrPath is either
// a {prefix}/set/... topic or a device path starting with "/".
func (w *Writer) HandleWrite(ctx context.Context, topicOrPath string, raw []byte) WriteResult {
	return w.handle(ctx, writeRequest{topic: topicOrPath, payload: raw, receivedAt: w.now()})
}

func (w *Writer) handle(ctx context.Context, req writeRequest) WriteResult {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	res := w.newResult(req)
	w.step(ctx, &res)
	w.finish(&res)
	return res
}

func (w *Writer) newResult(req writeRequest) WriteResult {
	return WriteResult{
		RequestID:  uuid.NewString(),
		Topic:      req.topic,
		Payload:    string(req.payload),
		State:      WriteReceived,
		ReceivedAt: req.receivedAt,
	}
}

// step drives res from received to a terminal state.
func (w *Writer) step(ctx context.Context, res *WriteResult) {
	id, ok := w.resolve(res.Topic)
	if !ok {
		w.reject(res, ReasonUnknownTopic, fmt.Errorf("%w: %s", ErrNotWritable, res.Topic))
		return
	}
	res.ID = id

	spec, ok := w.registry.LookupWritable(id)
	if !ok {
		w.reject(res, ReasonNotWritable, fmt.Errorf("%w: %s", ErrNotWritable, id))
		return
	}

	value, err := spec.Validate(res.Payload)
	if err != nil {
		var verr *ValidationError
		reason := ReasonNotWritable
		if errors.As(err, &verr) {
			reason = verr.Reason
		}
		w.reject(res, reason, err)
		return
	}
	res.State = WriteValidated
	res.Sent = value

	body, err := w.codec.Encode(value)
	if err != nil {
		w.fail(res, err)
		return
	}
	if err := w.device.Post(ctx, id, body); err != nil {
		w.fail(res, err)
		return
	}
	res.State = WriteTransmitted

	if w.refresher != nil {
		confirm := w.refresher.Refresh(ctx, id)
		if confirm.Err != nil {
			res.Reason = "confirmation read failed"
			res.Err = confirm.Err
		} else {
			v := confirm.Value
			res.Confirmed = &v
		}
	}
	res.State = WriteConfirmed
}

// resolve maps a set topic or plain path to a device path.
func (w *Writer) resolve(topicOrPath string) (string, bool) {
	if strings.HasPrefix(topicOrPath, "/") {
		return topicOrPath, len(topicOrPath) > 1
	}
	return w.topics.SetPath(topicOrPath)
}

func (w *Writer) reject(res *WriteResult, reason string, err error) {
	res.State = WriteRejected
	res.Reason = reason
	res.Err = err
}

func (w *Writer) fail(res *WriteResult, err error) {
	res.State = WriteFailed
	res.Reason = errorReasonWrite(err)
	res.Err = err
}

func errorReasonWrite(err error) string {
	switch {
	case errors.Is(err, ErrWriteTransport):
		return "transport"
	case errors.Is(err, ErrCrypto), errors.Is(err, ErrParse):
		return "encoding"
	default:
		return "other"
	}
}

// finish logs, counts, acknowledges and audits a terminal result.
func (w *Writer) finish(res *WriteResult) {
	res.Duration = w.now().Sub(res.ReceivedAt)
	w.metrics.WriteFinished(string(res.State))

	attrs := []any{
		"request_id", res.RequestID,
		"id", res.ID,
		"payload", res.Payload,
		"state", string(res.State),
	}
	if res.Reason != "" {
		attrs = append(attrs, "reason", res.Reason)
	}
	switch res.State {
	case WriteConfirmed:
		if res.Err != nil {
			w.logger.Warn("write sent, confirmation read failed", append(attrs, "error", res.Err)...)
		} else {
			w.logger.Info("write confirmed", attrs...)
		}
	case WriteRejected:
		w.logger.Info("write rejected", attrs...)
	default:
		w.logger.Warn("write failed", append(attrs, "error", res.Err)...)
	}

	w.publishAck(res)

	if w.audit != nil {
		if err := w.audit.RecordWrite(*res); err != nil {
			w.logger.Warn("recording write audit failed", "request_id", res.RequestID, "error", err)
		}
	}
	if w.observer != nil {
		w.observer.WriteFinished(*res)
	}
}

func (w *Writer) publishAck(res *WriteResult) {
	if w.publisher == nil || res.ID == "" {
		return
	}
	ack := AckPayload{
		RequestID: res.RequestID,
		ID:        res.ID,
		Payload:   res.Payload,
		State:     res.State,
		Reason:    res.Reason,
		TS:        w.now().Unix(),
	}
	if res.Confirmed != nil {
		ack.Value = res.Confirmed.Raw
	}
	payload, err := json.Marshal(ack)
	if err != nil {
		return
	}
	if err := w.publisher.PublishEvent(w.topics.Ack(res.ID), payload); err != nil {
		w.logger.Warn("publishing write ack failed", "id", res.ID, "error", err)
	}
}
