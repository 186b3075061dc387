package km200

import (
	"encoding/json"
	"time"
)

// StatePayload is the retained value published on {prefix}/status{id}.
type StatePayload struct {
	TS   int64  `json:"ts"`
	Val  any    `json:"val"`
	Unit string `json:"km200_unitOfMeasure,omitempty"`
}

// MetaPayload is the retained descriptor published once on {prefix}/meta{id}.
type MetaPayload struct {
	Native map[string]any `json:"native"`
}

// AckPayload is published, not retained, on {prefix}/ack{id} when a write
// request reaches a terminal state.
type AckPayload struct {
	RequestID string     `json:"request_id"`
	ID        string     `json:"id"`
	Payload   string     `json:"payload"`
	State     WriteState `json:"state"`
	Reason    string     `json:"reason,omitempty"`
	Value     any        `json:"value,omitempty"`
	TS        int64      `json:"ts"`
}

// HealthStatus is the overall bridge health.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthPayload is the retained message on {prefix}/bridge/health.
type HealthPayload struct {
	BridgeID      string       `json:"bridge_id"`
	Version       string       `json:"version"`
	Status        HealthStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	MQTTConnected bool         `json:"mqtt_connected"`
	Device        DeviceHealth `json:"device"`
	Endpoints     int          `json:"endpoints"`
	Writables     int          `json:"writables"`
	LastCycle     *CycleStats  `json:"last_cycle,omitempty"`
}

// DeviceHealth summarises gateway reachability.
type DeviceHealth struct {
	Host                string     `json:"host"`
	Reachable           bool       `json:"reachable"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}

func newStatePayload(v DecodedValue, now time.Time) StatePayload {
	return StatePayload{TS: now.Unix(), Val: v.Raw, Unit: v.Unit}
}

func marshalState(v DecodedValue, now time.Time) ([]byte, error) {
	return json.Marshal(newStatePayload(v, now))
}

func marshalMeta(v DecodedValue) ([]byte, error) {
	return json.Marshal(MetaPayload{Native: v.Meta()})
}
