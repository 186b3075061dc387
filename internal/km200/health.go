package km200

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/km200-bridge/internal/infrastructure/mqtt"
)

const defaultHealthInterval = 30 * time.Second

// HealthReporterOptions configures a HealthReporter.
type HealthReporterOptions struct {
	BridgeID string
	Version  string

	// DeviceHost is reported in the device section.
	DeviceHost string

	// Interval defaults to 30 seconds.
	Interval time.Duration

	// Publisher may be nil; Snapshot still works for the HTTP API.
	Publisher Publisher
	Topics    mqtt.Topics

	Supervisor *Supervisor
	Poller     *Poller
	Registry   *Registry
	Logger     Logger
}

// HealthReporter publishes a retained health summary at a fixed interval.
type HealthReporter struct {
	bridgeID   string
	version    string
	deviceHost string
	startTime  time.Time
	interval   time.Duration
	publisher  Publisher
	topics     mqtt.Topics
	supervisor *Supervisor
	poller     *Poller
	registry   *Registry
	logger     Logger

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	now func() time.Time
}

// NewHealthReporter creates a reporter. Call Start to begin publishing.
func NewHealthReporter(opts HealthReporterOptions) *HealthReporter {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	h := &HealthReporter{
		bridgeID:   opts.BridgeID,
		version:    opts.Version,
		deviceHost: opts.DeviceHost,
		startTime:  time.Now(),
		interval:   interval,
		publisher:  opts.Publisher,
		topics:     opts.Topics,
		supervisor: opts.Supervisor,
		poller:     opts.Poller,
		registry:   opts.Registry,
		logger:     opts.Logger,
		done:       make(chan struct{}),
		now:        time.Now,
	}
	if h.logger == nil {
		h.logger = discardLogger()
	}
	return h
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		if err := h.publish(HealthStopping, "bridge stopping"); err != nil {
			h.logger.Debug("final health publish failed", "error", err)
		}
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publish(status, reason)
}

// Snapshot returns the current health without publishing it.
func (h *HealthReporter) Snapshot() HealthPayload {
	status, reason := h.determineStatus()
	return h.build(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logger.Warn("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logger.Warn("failed to publish health", "error", err)
			}
		}
	}
}

// determineStatus is degraded when the device is unreachable or, with
// pub/sub active, the broker is disconnected.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher != nil && !h.publisher.IsConnected() {
		return HealthDegraded, "mqtt disconnected"
	}
	if h.supervisor != nil && !h.supervisor.DeviceHealth().Reachable {
		return HealthDegraded, "device unreachable"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) build(status HealthStatus, reason string) HealthPayload {
	now := h.now()
	msg := HealthPayload{
		BridgeID:      h.bridgeID,
		Version:       h.version,
		Status:        status,
		Reason:        reason,
		Timestamp:     now.UTC(),
		UptimeSeconds: int64(now.Sub(h.startTime).Seconds()),
		Device:        DeviceHealth{Host: h.deviceHost},
	}
	if h.publisher != nil {
		msg.MQTTConnected = h.publisher.IsConnected()
	}
	if h.supervisor != nil {
		msg.Device = h.supervisor.DeviceHealth()
		msg.Device.Host = h.deviceHost
	}
	if h.poller != nil {
		msg.Endpoints = len(h.poller.Endpoints())
		msg.LastCycle = h.poller.LastCycle()
	}
	if h.registry != nil {
		msg.Writables, _ = h.registry.Counts()
	}
	return msg
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.build(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.PublishRetained(h.topics.Health(), payload)
}
