package km200

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/km200-bridge/internal/infrastructure/mqtt"
)

const testPasscode = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec(testPasscode)
	require.NoError(t, err)
	return c
}

// seal encrypts a record the way the gateway does.
func seal(t *testing.T, c *Codec, rec map[string]any) []byte {
	t.Helper()
	body, err := c.Seal(rec)
	require.NoError(t, err)
	return body
}

// fakeDevice is an in-memory gateway keyed by path.
type fakeDevice struct {
	mu        sync.Mutex
	responses map[string][]byte
	getErrs   map[string]error
	postErr   error
	gets      []string
	posts     []fakePost
	onPost    func(path string, body []byte)
}

type fakePost struct {
	Path string
	Body []byte
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		responses: make(map[string][]byte),
		getErrs:   make(map[string]error),
	}
}

func (d *fakeDevice) set(path string, body []byte) {
	d.mu.Lock()
	d.responses[path] = body
	d.mu.Unlock()
}

func (d *fakeDevice) fail(path string, err error) {
	d.mu.Lock()
	d.getErrs[path] = err
	d.mu.Unlock()
}

func (d *fakeDevice) Get(_ context.Context, path string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gets = append(d.gets, path)
	if err, ok := d.getErrs[path]; ok {
		return nil, err
	}
	body, ok := d.responses[path]
	if !ok {
		return nil, fmt.Errorf("%w: GET %s: status 404", ErrFetch, path)
	}
	return body, nil
}

func (d *fakeDevice) Post(_ context.Context, path string, body []byte) error {
	d.mu.Lock()
	d.posts = append(d.posts, fakePost{Path: path, Body: body})
	err := d.postErr
	hook := d.onPost
	d.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook(path, body)
	}
	return nil
}

func (d *fakeDevice) getCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.gets)
}

func (d *fakeDevice) postCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.posts)
}

// mockPublisher records publishes.
type mockPublisher struct {
	mu        sync.Mutex
	published []mockPublish
	connected bool
	err       error

	// beforePublish runs outside the lock ahead of every publish.
	beforePublish func(topic string)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	Retained bool
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{connected: true}
}

func (m *mockPublisher) PublishRetained(topic string, payload []byte) error {
	return m.record(topic, payload, true)
}

func (m *mockPublisher) PublishEvent(topic string, payload []byte) error {
	return m.record(topic, payload, false)
}

func (m *mockPublisher) record(topic string, payload []byte, retained bool) error {
	m.mu.Lock()
	hook := m.beforePublish
	m.mu.Unlock()
	if hook != nil {
		hook(topic)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, Retained: retained})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) setBeforePublish(hook func(topic string)) {
	m.mu.Lock()
	m.beforePublish = hook
	m.mu.Unlock()
}

func (m *mockPublisher) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *mockPublisher) onTopic(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *mockPublisher) all() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

// mockTransport adds subscriptions and callbacks to mockPublisher.
type mockTransport struct {
	*mockPublisher
	subMu        sync.Mutex
	handlers     map[string]mqtt.MessageHandler
	onConnect    func()
	onDisconnect func(error)
}

func newMockTransport() *mockTransport {
	return &mockTransport{mockPublisher: newMockPublisher(), handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *mockTransport) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *mockTransport) SetOnConnect(callback func()) {
	m.subMu.Lock()
	m.onConnect = callback
	m.subMu.Unlock()
}

func (m *mockTransport) SetOnDisconnect(callback func(error)) {
	m.subMu.Lock()
	m.onDisconnect = callback
	m.subMu.Unlock()
}

func (m *mockTransport) handler(topic string) mqtt.MessageHandler {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	return m.handlers[topic]
}

// mockGauges records gauge updates.
type mockGauges struct {
	mu      sync.Mutex
	updates []gaugeUpdate
}

type gaugeUpdate struct {
	Name  string
	Value float64
}

func (m *mockGauges) SetGauge(name string, value float64) error {
	m.mu.Lock()
	m.updates = append(m.updates, gaugeUpdate{Name: name, Value: value})
	m.mu.Unlock()
	return nil
}

func (m *mockGauges) all() []gaugeUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]gaugeUpdate(nil), m.updates...)
}

// mockHistory records history points.
type mockHistory struct {
	mu      sync.Mutex
	numbers map[string]float64
	texts   map[string]string
}

func newMockHistory() *mockHistory {
	return &mockHistory{numbers: make(map[string]float64), texts: make(map[string]string)}
}

func (m *mockHistory) WriteNumber(id, _ string, value float64, _ time.Time) {
	m.mu.Lock()
	m.numbers[id] = value
	m.mu.Unlock()
}

func (m *mockHistory) WriteText(id, _, text string, _ time.Time) {
	m.mu.Lock()
	m.texts[id] = text
	m.mu.Unlock()
}

// mockInstrumentation counts self-metric signals.
type mockInstrumentation struct {
	mu           sync.Mutex
	fetchErrors  map[string]int
	writes       map[string]int
	cycles       int
	mqttUp       []bool
	reachability []bool
}

func newMockInstrumentation() *mockInstrumentation {
	return &mockInstrumentation{fetchErrors: make(map[string]int), writes: make(map[string]int)}
}

func (m *mockInstrumentation) FetchFailed(reason string) {
	m.mu.Lock()
	m.fetchErrors[reason]++
	m.mu.Unlock()
}

func (m *mockInstrumentation) CycleCompleted(int, int, int, time.Duration) {
	m.mu.Lock()
	m.cycles++
	m.mu.Unlock()
}

func (m *mockInstrumentation) WriteFinished(state string) {
	m.mu.Lock()
	m.writes[state]++
	m.mu.Unlock()
}

func (m *mockInstrumentation) SetMQTTConnected(connected bool) {
	m.mu.Lock()
	m.mqttUp = append(m.mqttUp, connected)
	m.mu.Unlock()
}

func (m *mockInstrumentation) SetDeviceReachable(reachable bool) {
	m.mu.Lock()
	m.reachability = append(m.reachability, reachable)
	m.mu.Unlock()
}

func (m *mockInstrumentation) writeCount(state WriteState) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[string(state)]
}

// mockAudit records terminal write results.
type mockAudit struct {
	mu      sync.Mutex
	results []WriteResult
}

func (m *mockAudit) RecordWrite(result WriteResult) error {
	m.mu.Lock()
	m.results = append(m.results, result)
	m.mu.Unlock()
	return nil
}

func (m *mockAudit) all() []WriteResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WriteResult(nil), m.results...)
}

// mockObserver records values and write results.
type mockObserver struct {
	mu      sync.Mutex
	values  []DecodedValue
	results []WriteResult
}

func (m *mockObserver) ValueUpdated(v DecodedValue, _ time.Time) {
	m.mu.Lock()
	m.values = append(m.values, v)
	m.mu.Unlock()
}

func (m *mockObserver) WriteFinished(result WriteResult) {
	m.mu.Lock()
	m.results = append(m.results, result)
	m.mu.Unlock()
}

func (m *mockObserver) valueIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.values))
	for _, v := range m.values {
		ids = append(ids, v.ID)
	}
	return ids
}

func (m *mockObserver) writes() []WriteResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WriteResult(nil), m.results...)
}

var errBoom = errors.New("boom")

func decodeJSON(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}
