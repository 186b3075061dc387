package km200

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind decides where an endpoint's values are published.
type Kind string

const (
	// KindNone endpoints are queried and cached but never published.
	KindNone Kind = ""

	// KindGauge endpoints go to the metrics sink and the pub/sub sink.
	KindGauge Kind = "gauge"

	// KindState endpoints go to the pub/sub sink only.
	KindState Kind = "state"
)

// Metric reports whether values of this kind become gauges.
func (k Kind) Metric() bool { return k == KindGauge }

// PubSub reports whether values of this kind are published as state topics.
func (k Kind) PubSub() bool { return k == KindGauge || k == KindState }

// metricPrefix starts every exposed metric name.
const metricPrefix = "km200_"

// Endpoint is one queryable device path.
type Endpoint struct {
	Path string `yaml:"url"`
	Kind Kind   `yaml:"kind"`
}

// ExposedName returns the metric name for the endpoint: km200_ followed by
// the path without its leading slash, with every character outside
// [a-zA-Z0-9_:] replaced by an underscore.
//
// Example: /dhwCircuits/dhw1/actualTemp -> km200_dhwCircuits_dhw1_actualTemp
func (e Endpoint) ExposedName() string {
	return ExposedName(e.Path)
}

// ExposedName sanitises a device path into a metric name.
func ExposedName(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	var b strings.Builder
	b.Grow(len(metricPrefix) + len(trimmed))
	b.WriteString(metricPrefix)
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// measurementsFile is the on-disk shape of the endpoint list.
type measurementsFile struct {
	Measurements []Endpoint `yaml:"measurements"`
}

// LoadMeasurements reads the endpoint list from a YAML file.
func LoadMeasurements(path string) ([]Endpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading measurements file: %w", err)
	}
	endpoints, err := ParseMeasurements(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return endpoints, nil
}

// ParseMeasurements decodes and validates an endpoint list:
//
//	measurements:
//	  - url: /dhwCircuits/dhw1/actualTemp
//	    kind: gauge
//	  - url: /heatingCircuits/hc1/operationMode
//	    kind: state
//
// Order is preserved. Paths must start with "/" and be unique.
func ParseMeasurements(data []byte) ([]Endpoint, error) {
	var file measurementsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing measurements: %w", err)
	}

	seen := make(map[string]bool, len(file.Measurements))
	var errs []string
	for i, ep := range file.Measurements {
		switch {
		case !strings.HasPrefix(ep.Path, "/"):
			errs = append(errs, fmt.Sprintf("measurement %d: url %q must start with /", i, ep.Path))
		case seen[ep.Path]:
			errs = append(errs, fmt.Sprintf("measurement %d: duplicate url %q", i, ep.Path))
		}
		switch ep.Kind {
		case KindNone, KindGauge, KindState:
		default:
			errs = append(errs, fmt.Sprintf("measurement %d: unknown kind %q", i, ep.Kind))
		}
		seen[ep.Path] = true
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid measurements: %s", strings.Join(errs, "; "))
	}

	return file.Measurements, nil
}
