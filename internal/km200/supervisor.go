package km200

import (
	"sync"
	"time"

	"github.com/nerrad567/km200-bridge/internal/infrastructure/mqtt"
)

// defaultUnreachableAfter is the failed-fetch streak that marks the device unreachable.
const defaultUnreachableAfter = 3

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	// Publisher may be nil when the pub/sub sink is disabled.
	Publisher Publisher
	Topics    mqtt.Topics

	// UnreachableAfter defaults to 3.
	UnreachableAfter int

	Metrics Instrumentation
	Logger  Logger
}

// Supervisor tracks broker connectivity and device reachability and
// publishes the combined level on {prefix}/connected:
//
//	0  offline (also the Last Will)
//	1  broker connected
//	2  broker connected and device reachable
//
// It never reconnects anything itself.
type Supervisor struct {
	publisher Publisher
	topics    mqtt.Topics
	threshold int
	metrics   Instrumentation
	logger    Logger

	mu             sync.Mutex
	mqttConnected  bool
	reachable      bool
	failStreak     int
	lastSuccess    time.Time
	lastError      string
	lastPublished  string
	publishPending bool

	// publishMu orders connected-topic publishes so the last one always
	// reflects the latest state.
	publishMu sync.Mutex
}

// NewSupervisor creates a supervisor with both signals down.
func NewSupervisor(opts SupervisorOptions) *Supervisor {
	s := &Supervisor{
		publisher: opts.Publisher,
		topics:    opts.Topics,
		threshold: opts.UnreachableAfter,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
	if s.threshold < 1 {
		s.threshold = defaultUnreachableAfter
	}
	if s.metrics == nil {
		s.metrics = nopInstrumentation{}
	}
	if s.logger == nil {
		s.logger = discardLogger()
	}
	return s
}

// TransportConnected records a broker connect or reconnect and republishes
// the current level. Retained state on the broker may have been replaced by
// the Last Will, so it publishes even when the level has not changed.
func (s *Supervisor) TransportConnected() {
	s.mu.Lock()
	s.mqttConnected = true
	s.mu.Unlock()

	s.metrics.SetMQTTConnected(true)
	s.logger.Info("mqtt connected")
	s.publish(true)
}

// TransportLost records a lost or closed broker connection. err is nil for
// a graceful close.
func (s *Supervisor) TransportLost(err error) {
	s.mu.Lock()
	wasConnected := s.mqttConnected
	s.mqttConnected = false
	s.mu.Unlock()

	s.metrics.SetMQTTConnected(false)
	if wasConnected {
		if err != nil {
			s.logger.Warn("mqtt connection lost", "error", err)
		} else {
			s.logger.Info("mqtt closed")
		}
	}
}

// ObserveFetch records the outcome of one device GET.
func (s *Supervisor) ObserveFetch(err error) {
	s.mu.Lock()
	changed := false
	if err == nil {
		s.failStreak = 0
		s.lastSuccess = time.Now()
		if !s.reachable {
			s.reachable = true
			changed = true
		}
	} else {
		s.failStreak++
		s.lastError = err.Error()
		if s.reachable && s.failStreak >= s.threshold {
			s.reachable = false
			changed = true
		}
	}
	reachable := s.reachable
	streak := s.failStreak
	s.mu.Unlock()

	if !changed {
		return
	}

	s.metrics.SetDeviceReachable(reachable)
	if reachable {
		s.logger.Info("device reachable")
	} else {
		s.logger.Warn("device unreachable", "consecutive_failures", streak)
	}
	s.publish(false)
}

// Level returns the current value of the connected topic.
func (s *Supervisor) Level() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levelLocked()
}

func (s *Supervisor) levelLocked() string {
	switch {
	case !s.mqttConnected:
		return mqtt.ConnectedOffline
	case s.reachable:
		return mqtt.ConnectedDevice
	default:
		return mqtt.ConnectedBroker
	}
}

// MQTTConnected reports the last observed broker state.
func (s *Supervisor) MQTTConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mqttConnected
}

// DeviceHealth returns a snapshot of device reachability.
func (s *Supervisor) DeviceHealth() DeviceHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := DeviceHealth{
		Reachable:           s.reachable,
		ConsecutiveFailures: s.failStreak,
		LastError:           s.lastError,
	}
	if !s.lastSuccess.IsZero() {
		t := s.lastSuccess
		h.LastSuccess = &t
	}
	return h
}

// publish sends the current level when it differs from the last published
// value, or unconditionally when force is set. Offline is never published
// here: the broker delivers it as the Last Will, and Close sends it on
// graceful shutdown.
func (s *Supervisor) publish(force bool) {
	if s.publisher == nil {
		return
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	level := s.Level()
	if level == mqtt.ConnectedOffline {
		return
	}

	s.mu.Lock()
	skip := !force && !s.publishPending && level == s.lastPublished
	s.mu.Unlock()
	if skip {
		return
	}

	err := s.publisher.PublishRetained(s.topics.Connected(), []byte(level))

	s.mu.Lock()
	if err == nil {
		s.lastPublished = level
		s.publishPending = false
	} else {
		s.publishPending = true
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("failed to publish connected state", "level", level, "error", err)
	}
}
