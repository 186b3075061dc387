package km200

import (
	"io"
	"log/slog"
	"time"
)

// Publisher is the pub/sub sink. Implemented by *mqtt.Client.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
	PublishEvent(topic string, payload []byte) error
	IsConnected() bool
}

// GaugeSink receives name to value updates. Implemented by *metrics.Metrics.
type GaugeSink interface {
	SetGauge(name string, value float64) error
}

// HistorySink records readings over time. Implemented by *influxdb.Client.
type HistorySink interface {
	WriteNumber(id, unit string, value float64, ts time.Time)
	WriteText(id, unit, text string, ts time.Time)
}

// AuditRecorder stores terminal write results.
type AuditRecorder interface {
	RecordWrite(result WriteResult) error
}

// Observer is told about every published reading and every terminal
// write result. Implemented by *api.Hub for the live event stream.
type Observer interface {
	ValueUpdated(v DecodedValue, ts time.Time)
	WriteFinished(result WriteResult)
}

// Instrumentation receives the bridge's own operational signals.
// Implemented by *metrics.Metrics.
type Instrumentation interface {
	FetchFailed(reason string)
	CycleCompleted(attempted, succeeded, failed int, duration time.Duration)
	WriteFinished(state string)
	SetMQTTConnected(connected bool)
	SetDeviceReachable(reachable bool)
}

// Logger is the logging surface used by the core. *logging.Logger and
// *slog.Logger satisfy it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopInstrumentation struct{}

func (nopInstrumentation) FetchFailed(string)                          {}
func (nopInstrumentation) CycleCompleted(int, int, int, time.Duration) {}
func (nopInstrumentation) WriteFinished(string)                        {}
func (nopInstrumentation) SetMQTTConnected(bool)                       {}
func (nopInstrumentation) SetDeviceReachable(bool)                     {}

func discardLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
