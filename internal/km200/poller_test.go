package km200

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/km200-bridge/internal/infrastructure/mqtt"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type pollerFixture struct {
	device   *fakeDevice
	codec    *Codec
	pub      *mockPublisher
	gauges   *mockGauges
	history  *mockHistory
	observer *mockObserver
	metrics  *mockInstrumentation
	registry *Registry
	sup      *Supervisor
	topics   mqtt.Topics
	poller   *Poller
}

func newPollerFixture(t *testing.T, eps ...Endpoint) *pollerFixture {
	t.Helper()
	f := &pollerFixture{
		device:   newFakeDevice(),
		codec:    newTestCodec(t),
		pub:      newMockPublisher(),
		gauges:   &mockGauges{},
		history:  newMockHistory(),
		observer: &mockObserver{},
		metrics:  newMockInstrumentation(),
		registry: NewRegistry(),
		topics:   mqtt.NewTopics("km200"),
	}
	f.sup = NewSupervisor(SupervisorOptions{Publisher: f.pub, Topics: f.topics, Metrics: f.metrics})
	f.poller = NewPoller(PollerOptions{
		Device:     f.device,
		Codec:      f.codec,
		Registry:   f.registry,
		Endpoints:  eps,
		Gauges:     f.gauges,
		OnValue:    "on",
		Publisher:  f.pub,
		Topics:     f.topics,
		History:    f.history,
		Observer:   f.observer,
		Supervisor: f.sup,
		Metrics:    f.metrics,
	})
	f.poller.now = func() time.Time { return fixedNow }
	return f
}

func (f *pollerFixture) serve(t *testing.T, rec map[string]any) {
	t.Helper()
	f.device.set(rec["id"].(string), seal(t, f.codec, rec))
}

func floatRecord(id string, value float64, unit string) map[string]any {
	return map[string]any{"id": id, "type": "floatValue", "value": value, "unitOfMeasure": unit}
}

func TestPoller_PublishesGaugeStateAndMeta(t *testing.T) {
	const path = "/dhwCircuits/dhw1/actualTemp"
	f := newPollerFixture(t, Endpoint{Path: path, Kind: KindGauge})
	f.serve(t, floatRecord(path, 47.3, "C"))

	stats := f.poller.Sync(context.Background())
	assert.Equal(t, 1, stats.Attempted)
	assert.Equal(t, 1, stats.Succeeded)

	status := f.pub.onTopic("km200/status/dhwCircuits/dhw1/actualTemp")
	require.Len(t, status, 1)
	assert.True(t, status[0].Retained)
	assert.JSONEq(t,
		fmt.Sprintf(`{"ts":%d,"val":47.3,"km200_unitOfMeasure":"C"}`, fixedNow.Unix()),
		string(status[0].Payload))

	meta := f.pub.onTopic("km200/meta/dhwCircuits/dhw1/actualTemp")
	require.Len(t, meta, 1)
	native := decodeJSON(t, meta[0].Payload)["native"].(map[string]any)
	assert.Equal(t, "floatValue", native["type"])
	assert.NotContains(t, native, "value")
	assert.NotContains(t, native, "id")

	assert.Equal(t, []gaugeUpdate{{Name: "km200_dhwCircuits_dhw1_actualTemp", Value: 47.3}}, f.gauges.all())
	assert.Equal(t, 47.3, f.history.numbers[path])
}

func TestPoller_PartialFailure(t *testing.T) {
	eps := []Endpoint{
		{Path: "/a", Kind: KindGauge},
		{Path: "/b", Kind: KindGauge},
		{Path: "/c", Kind: KindGauge},
	}
	f := newPollerFixture(t, eps...)
	f.serve(t, floatRecord("/a", 1, ""))
	f.device.set("/b", []byte("!!! not base64"))
	f.serve(t, floatRecord("/c", 3, ""))

	stats := f.poller.Sync(context.Background())
	assert.Equal(t, 3, stats.Attempted)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)

	assert.Equal(t, []gaugeUpdate{{"km200_a", 1}, {"km200_c", 3}}, f.gauges.all())
	assert.Equal(t, 1, f.metrics.fetchErrors["framing"])
	assert.Equal(t, 1, f.metrics.cycles)
	assert.Equal(t, []string{"/a", "/b", "/c"}, f.device.gets)
}

func TestPoller_FetchFailureCounted(t *testing.T) {
	f := newPollerFixture(t, Endpoint{Path: "/a", Kind: KindGauge})
	f.device.fail("/a", fmt.Errorf("%w: GET /a: status 500", ErrFetch))

	stats := f.poller.Sync(context.Background())
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, f.metrics.fetchErrors["fetch"])
	assert.Empty(t, f.gauges.all())
}

func TestPoller_MetaPublishedOnce(t *testing.T) {
	f := newPollerFixture(t, Endpoint{Path: "/a", Kind: KindState})
	f.serve(t, map[string]any{"id": "/a", "type": "stringValue", "value": "on"})

	f.poller.Sync(context.Background())
	f.poller.Sync(context.Background())

	assert.Len(t, f.pub.onTopic("km200/meta/a"), 1)
	assert.Len(t, f.pub.onTopic("km200/status/a"), 2)
}

func TestPoller_MetaRetriedAfterPublishFailure(t *testing.T) {
	f := newPollerFixture(t, Endpoint{Path: "/a", Kind: KindState})
	f.serve(t, map[string]any{"id": "/a", "type": "stringValue", "value": "on"})

	f.pub.setErr(errBoom)
	f.poller.Sync(context.Background())
	assert.False(t, f.registry.IsEmitted("/a"))

	f.pub.setErr(nil)
	f.poller.Sync(context.Background())
	assert.True(t, f.registry.IsEmitted("/a"))
	assert.Len(t, f.pub.onTopic("km200/meta/a"), 1)
}

func TestPoller_MetaPublishedOnceUnderConcurrentRefresh(t *testing.T) {
	f := newPollerFixture(t, Endpoint{Path: "/a", Kind: KindState})
	f.serve(t, map[string]any{"id": "/a", "type": "stringValue", "value": "on"})

	// Hold the cycle's metadata publish until Refresh has run.
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.pub.setBeforePublish(func(topic string) {
		if topic != "km200/meta/a" {
			return
		}
		once.Do(func() {
			close(entered)
			<-release
		})
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.poller.Sync(context.Background())
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle never published metadata")
	}
	res := f.poller.Refresh(context.Background(), "/a")
	require.NoError(t, res.Err)
	close(release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not finish")
	}

	assert.Len(t, f.pub.onTopic("km200/meta/a"), 1)
	assert.Len(t, f.pub.onTopic("km200/status/a"), 2)
	assert.True(t, f.registry.IsEmitted("/a"))
}

func TestPoller_GaugeNamedAfterQueriedPath(t *testing.T) {
	f := newPollerFixture(t, Endpoint{Path: "/a", Kind: KindGauge})
	f.device.set("/a", seal(t, f.codec, floatRecord("/b", 1, "")))

	f.poller.Sync(context.Background())

	assert.Equal(t, []gaugeUpdate{{"km200_a", 1}}, f.gauges.all())
}

func TestPoller_KindRouting(t *testing.T) {
	f := newPollerFixture(t,
		Endpoint{Path: "/gauge", Kind: KindGauge},
		Endpoint{Path: "/state", Kind: KindState},
		Endpoint{Path: "/none", Kind: KindNone},
	)
	f.serve(t, map[string]any{"id": "/gauge", "type": "stringValue", "value": "on"})
	f.serve(t, map[string]any{"id": "/state", "type": "stringValue", "value": "on"})
	f.serve(t, map[string]any{
		"id": "/none", "type": "floatValue", "value": 20,
		"writeable": 1, "minValue": 10, "maxValue": 30,
	})

	f.poller.Sync(context.Background())

	assert.Equal(t, []gaugeUpdate{{"km200_gauge", 1}}, f.gauges.all())
	assert.Len(t, f.pub.onTopic("km200/status/gauge"), 1)
	assert.Len(t, f.pub.onTopic("km200/status/state"), 1)
	assert.Empty(t, f.pub.onTopic("km200/status/none"))
	assert.Empty(t, f.pub.onTopic("km200/meta/none"))
	assert.NotContains(t, f.history.numbers, "/none")

	_, ok := f.registry.LookupWritable("/none")
	assert.True(t, ok, "kind none still updates the registry")
	assert.Equal(t, []string{"/gauge", "/state"}, f.observer.valueIDs())
}

func TestPoller_NilSinksSkipped(t *testing.T) {
	device := newFakeDevice()
	codec := newTestCodec(t)
	device.set("/a", seal(t, codec, floatRecord("/a", 1, "")))

	p := NewPoller(PollerOptions{
		Device:    device,
		Codec:     codec,
		Endpoints: []Endpoint{{Path: "/a", Kind: KindGauge}},
	})
	stats := p.Sync(context.Background())
	assert.Equal(t, 1, stats.Succeeded)
}

func TestPoller_RunCycleStopsWhenConsumerStops(t *testing.T) {
	f := newPollerFixture(t)
	f.serve(t, floatRecord("/a", 1, ""))
	f.serve(t, floatRecord("/b", 2, ""))

	for ep, res := range f.poller.RunCycle(context.Background(), []Endpoint{{Path: "/a"}, {Path: "/b"}}) {
		assert.Equal(t, "/a", ep.Path)
		assert.NoError(t, res.Err)
		break
	}
	assert.Equal(t, 1, f.device.getCount())
}

func TestPoller_RunCycleStopsOnCancel(t *testing.T) {
	f := newPollerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := 0
	for range f.poller.RunCycle(ctx, []Endpoint{{Path: "/a"}}) {
		n++
	}
	assert.Zero(t, n)
	assert.Zero(t, f.device.getCount())
}

func TestPoller_RefreshPublishesUnknownPathAsState(t *testing.T) {
	f := newPollerFixture(t)
	f.serve(t, floatRecord("/x", 21, "C"))

	res := f.poller.Refresh(context.Background(), "/x")
	require.NoError(t, res.Err)
	assert.Equal(t, 21.0, res.Value.Number)
	assert.Len(t, f.pub.onTopic("km200/status/x"), 1)
	assert.Empty(t, f.gauges.all())
}

func TestPoller_RefreshKeepsConfiguredKind(t *testing.T) {
	f := newPollerFixture(t, Endpoint{Path: "/x", Kind: KindGauge})
	f.serve(t, floatRecord("/x", 21, "C"))

	f.poller.Refresh(context.Background(), "/x")
	assert.Equal(t, []gaugeUpdate{{"km200_x", 21}}, f.gauges.all())
}

func TestPoller_ReportsReachability(t *testing.T) {
	f := newPollerFixture(t, Endpoint{Path: "/a", Kind: KindGauge})
	f.sup.TransportConnected()
	f.serve(t, floatRecord("/a", 1, ""))

	f.poller.Sync(context.Background())
	assert.Equal(t, mqtt.ConnectedDevice, f.sup.Level())
	assert.Equal(t, 1, f.poller.LastCycle().Succeeded)
}

func TestPoller_LastCycleNilBeforeFirstSync(t *testing.T) {
	f := newPollerFixture(t)
	assert.Nil(t, f.poller.LastCycle())
}
