package km200

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExposedName(t *testing.T) {
	tests := map[string]string{
		"/dhwCircuits/dhw1/actualTemp":   "km200_dhwCircuits_dhw1_actualTemp",
		"/heatSources/flameCurrent":      "km200_heatSources_flameCurrent",
		"/system/sensors/temperatures/x": "km200_system_sensors_temperatures_x",
		"/a-b.c:d":                       "km200_a_b_c:d",
		"noslash":                        "km200_noslash",
		"/ü":                             "km200__",
	}
	for path, want := range tests {
		assert.Equal(t, want, ExposedName(path), path)
		assert.Equal(t, want, Endpoint{Path: path}.ExposedName(), path)
	}
}

func TestKind(t *testing.T) {
	assert.True(t, KindGauge.Metric())
	assert.True(t, KindGauge.PubSub())
	assert.False(t, KindState.Metric())
	assert.True(t, KindState.PubSub())
	assert.False(t, KindNone.Metric())
	assert.False(t, KindNone.PubSub())
}

func TestParseMeasurements(t *testing.T) {
	eps, err := ParseMeasurements([]byte(`
measurements:
  - url: /dhwCircuits/dhw1/actualTemp
    kind: gauge
  - url: /heatingCircuits/hc1/operationMode
    kind: state
  - url: /system/brand
`))
	require.NoError(t, err)
	assert.Equal(t, []Endpoint{
		{Path: "/dhwCircuits/dhw1/actualTemp", Kind: KindGauge},
		{Path: "/heatingCircuits/hc1/operationMode", Kind: KindState},
		{Path: "/system/brand", Kind: KindNone},
	}, eps)
}

func TestParseMeasurements_CollectsErrors(t *testing.T) {
	_, err := ParseMeasurements([]byte(`
measurements:
  - url: relative
  - url: /a
  - url: /a
  - url: /b
    kind: counter
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must start with /")
	assert.Contains(t, err.Error(), "duplicate url")
	assert.Contains(t, err.Error(), `unknown kind "counter"`)
}

func TestParseMeasurements_BadYAML(t *testing.T) {
	_, err := ParseMeasurements([]byte("measurements: ["))
	assert.Error(t, err)
}

func TestLoadMeasurements(t *testing.T) {
	path := filepath.Join(t.TempDir(), "measurements.yaml")
	require.NoError(t, os.WriteFile(path, []byte("measurements:\n  - url: /a\n    kind: gauge\n"), 0o600))

	eps, err := LoadMeasurements(path)
	require.NoError(t, err)
	assert.Len(t, eps, 1)

	_, err = LoadMeasurements(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadMeasurements_ShippedExample(t *testing.T) {
	eps, err := LoadMeasurements(filepath.Join("..", "..", "configs", "measurements.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, eps)
	assert.Equal(t, "/dhwCircuits/dhw1/actualTemp", eps[0].Path)
	assert.Equal(t, KindGauge, eps[0].Kind)
	assert.Equal(t, KindNone, eps[len(eps)-1].Kind)
}
