package km200

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/km200-bridge/internal/infrastructure/mqtt"
)

// Transport is the pub/sub connection the bridge drives. Implemented by *mqtt.Client.
type Transport interface {
	Publisher
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
}

// BridgeOptions holds the collaborators of a Bridge.
type BridgeOptions struct {
	Poller *Poller

	// Transport, Writer and Supervisor are nil when pub/sub is disabled.
	Transport  Transport
	Writer     *Writer
	Supervisor *Supervisor
	Topics     mqtt.Topics
	QoS        byte

	// Health may be nil.
	Health *HealthReporter

	Logger Logger
}

// Bridge connects the poll engine and write-back machine to the transport.
// It owns the lifecycle of the write worker and the health reporter.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	poller     *Poller
	transport  Transport
	writer     *Writer
	supervisor *Supervisor
	topics     mqtt.Topics
	qos        byte
	health     *HealthReporter
	logger     Logger

	// ctx outlives callers' contexts and is cancelled on Stop only, so a
	// cycle runs to completion unless the bridge is shutting down.
	ctx       context.Context
	ctxCancel context.CancelFunc
	stopOnce  sync.Once
}

// NewBridge creates a bridge. Call Start to subscribe and begin reporting.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Poller == nil {
		return nil, fmt.Errorf("poller is required")
	}
	if opts.Transport != nil && opts.Writer == nil {
		return nil, fmt.Errorf("writer is required with a transport")
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		poller:     opts.Poller,
		transport:  opts.Transport,
		writer:     opts.Writer,
		supervisor: opts.Supervisor,
		topics:     opts.Topics,
		qos:        opts.QoS,
		health:     opts.Health,
		logger:     opts.Logger,
		ctx:        ctx,
		ctxCancel:  cancel,
	}
	if b.logger == nil {
		b.logger = discardLogger()
	}
	return b, nil
}

// Start wires connectivity callbacks, starts the write worker, subscribes
// to write requests and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if b.health != nil {
		if err := b.health.PublishStarting(); err != nil {
			b.logger.Warn("failed to publish starting status", "error", err)
		}
	}

	if b.transport != nil {
		if b.supervisor != nil {
			b.transport.SetOnConnect(b.supervisor.TransportConnected)
			b.transport.SetOnDisconnect(b.supervisor.TransportLost)
			if b.transport.IsConnected() {
				b.supervisor.TransportConnected()
			}
		}

		b.writer.Start(b.ctx)

		topic := b.topics.SetWildcard()
		if err := b.transport.Subscribe(topic, b.qos, b.handleWrite); err != nil {
			return fmt.Errorf("subscribe to write requests: %w", err)
		}
		b.logger.Info("subscribed to write requests", "topic", topic)
	}

	if b.health != nil {
		b.health.Start(ctx)
	}

	b.logger.Info("bridge started", "endpoints", len(b.poller.Endpoints()))
	return nil
}

// Sync runs one full poll cycle. A cycle in progress is not interrupted by
// the caller; it stops early only when the bridge is stopped.
func (b *Bridge) Sync() CycleStats {
	return b.poller.Sync(b.ctx)
}

// Stop cancels in-flight work, stops the write worker and publishes a
// final stopping status. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()
		if b.writer != nil {
			b.writer.Stop()
		}
		if b.health != nil {
			b.health.Stop()
		}
		b.logger.Info("bridge stopped")
	})
}

// handleWrite hands a write request to the queue. A full queue has
// already been acknowledged and logged by the writer.
func (b *Bridge) handleWrite(topic string, payload []byte) error {
	if err := b.writer.Submit(topic, payload); err != nil && !errors.Is(err, ErrQueueFull) {
		return err
	}
	return nil
}
