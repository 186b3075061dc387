package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "km200_bridge"

// ErrUnknownMetric is returned when a single-metric lookup finds nothing.
var ErrUnknownMetric = errors.New("metrics: unknown metric")

// Metrics is the gauge sink and self-instrumentation of the bridge.
//
// Thread Safety: all methods are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	gauges   map[string]prometheus.Gauge
	gaugesMu sync.Mutex

	fetchErrors   *prometheus.CounterVec
	writes        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	cycleValues   *prometheus.GaugeVec
	mqttConnected prometheus.Gauge
	reachable     prometheus.Gauge
}

// New creates a registry with the Go and process collectors and the
// bridge's own metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		gauges:   make(map[string]prometheus.Gauge),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Failed endpoint polls by reason.",
		}, []string{"reason"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Write requests by terminal state.",
		}, []string{"state"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of full poll cycles.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
		cycleValues: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_endpoints",
			Help:      "Endpoint outcomes of the most recent poll cycle.",
		}, []string{"outcome"}),
		mqttConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected",
			Help:      "1 when the MQTT broker connection is up.",
		}),
		reachable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_reachable",
			Help:      "1 when the heating gateway answered recently.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.fetchErrors,
		m.writes,
		m.cycleDuration,
		m.cycleValues,
		m.mqttConnected,
		m.reachable,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGauge sets the device gauge name, registering it on first use.
func (m *Metrics) SetGauge(name string, value float64) error {
	m.gaugesMu.Lock()
	defer m.gaugesMu.Unlock()

	g, ok := m.gauges[name]
	if !ok {
		g = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: name,
			Help: "KM200 value " + name,
		})
		if err := m.registry.Register(g); err != nil {
			return fmt.Errorf("registering gauge %s: %w", name, err)
		}
		m.gauges[name] = g
	}
	g.Set(value)
	return nil
}

// GaugeCount returns the number of device gauges registered so far.
func (m *Metrics) GaugeCount() int {
	m.gaugesMu.Lock()
	defer m.gaugesMu.Unlock()
	return len(m.gauges)
}

// FetchFailed counts one failed endpoint poll.
func (m *Metrics) FetchFailed(reason string) {
	m.fetchErrors.WithLabelValues(reason).Inc()
}

// CycleCompleted records a finished poll cycle.
func (m *Metrics) CycleCompleted(attempted, succeeded, failed int, duration time.Duration) {
	m.cycleDuration.Observe(duration.Seconds())
	m.cycleValues.WithLabelValues("attempted").Set(float64(attempted))
	m.cycleValues.WithLabelValues("succeeded").Set(float64(succeeded))
	m.cycleValues.WithLabelValues("failed").Set(float64(failed))
}

// WriteFinished counts one write request reaching a terminal state.
func (m *Metrics) WriteFinished(state string) {
	m.writes.WithLabelValues(state).Inc()
}

// SetMQTTConnected records broker connectivity.
func (m *Metrics) SetMQTTConnected(connected bool) {
	m.mqttConnected.Set(boolToFloat(connected))
}

// SetDeviceReachable records gateway reachability.
func (m *Metrics) SetDeviceReachable(reachable bool) {
	m.reachable.Set(boolToFloat(reachable))
}

// Handler serves every metric in the text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SingleHandler serves one metric family. It returns ErrUnknownMetric when
// name is not currently registered.
func (m *Metrics) SingleHandler(name string) (http.Handler, error) {
	families, err := m.gatherOne(name)
	if err != nil {
		return nil, err
	}
	gatherer := prometheus.GathererFunc(func() ([]*dto.MetricFamily, error) {
		return families, nil
	})
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}), nil
}

func (m *Metrics) gatherOne(name string) ([]*dto.MetricFamily, error) {
	all, err := m.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}
	for _, mf := range all {
		if mf.GetName() == name {
			return []*dto.MetricFamily{mf}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, name)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
