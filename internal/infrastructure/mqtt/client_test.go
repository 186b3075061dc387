package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/km200-bridge/internal/infrastructure/config"
)

// testConfig returns a configuration pointing at a local broker.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "km200-bridge-test",
		},
		QoS:         1,
		TopicPrefix: "km200",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
	errs  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func TestBrokerURL(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, "tcp://127.0.0.1:1883", brokerURL(cfg))

	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	assert.Equal(t, "ssl://127.0.0.1:8883", brokerURL(cfg))
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "bridge"
	cfg.Auth.Password = "pw"

	opts := buildClientOptions(cfg)
	configureLWT(opts, NewTopics(cfg.TopicPrefix))

	assert.Equal(t, "km200-bridge-test", opts.ClientID)
	assert.Equal(t, "bridge", opts.Username)
	assert.True(t, opts.AutoReconnect)
	assert.True(t, opts.CleanSession)
	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "km200/connected", opts.WillTopic)
	assert.Equal(t, []byte("0"), opts.WillPayload)
	assert.True(t, opts.WillRetained)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://127.0.0.1:1883", opts.Servers[0].String())
}

func TestPublish_Validation(t *testing.T) {
	c := newClient(testConfig())

	assert.ErrorIs(t, c.Publish("", []byte("x"), 1, false), ErrInvalidTopic)
	assert.ErrorIs(t, c.Publish("km200/x", []byte("x"), 3, false), ErrInvalidQoS)
	assert.ErrorIs(t, c.Publish("km200/x", make([]byte, maxPayloadSize+1), 1, false), ErrPublishFailed)
	assert.ErrorIs(t, c.Publish("km200/x", []byte("x"), 1, false), ErrNotConnected)
	assert.ErrorIs(t, c.PublishRetained("km200/x", []byte("x")), ErrNotConnected)
	assert.ErrorIs(t, c.PublishEvent("km200/x", []byte("x")), ErrNotConnected)
}

func TestSubscribe_Validation(t *testing.T) {
	c := newClient(testConfig())
	noop := func(string, []byte) error { return nil }

	assert.ErrorIs(t, c.Subscribe("", 1, noop), ErrInvalidTopic)
	assert.ErrorIs(t, c.Subscribe("km200/set/#", 3, noop), ErrInvalidQoS)
	assert.ErrorIs(t, c.Subscribe("km200/set/#", 1, nil), ErrSubscribeFailed)
	assert.ErrorIs(t, c.Subscribe("km200/set/#", 1, noop), ErrNotConnected)
	assert.False(t, c.HasSubscription("km200/set/#"))

	assert.ErrorIs(t, c.Unsubscribe(""), ErrInvalidTopic)
	assert.ErrorIs(t, c.Unsubscribe("km200/set/#"), ErrNotConnected)
}

func TestHealthCheck_NotConnected(t *testing.T) {
	c := newClient(testConfig())
	assert.ErrorIs(t, c.HealthCheck(context.Background()), ErrNotConnected)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.HealthCheck(ctx), context.Canceled)
}

func TestConnectionCallbacks(t *testing.T) {
	c := newClient(testConfig())

	var connects int
	var lost []error
	c.SetOnConnect(func() { connects++ })
	c.SetOnDisconnect(func(err error) { lost = append(lost, err) })

	c.handleConnect()
	assert.Equal(t, 1, connects)

	boom := errors.New("link down")
	c.handleDisconnect(boom)
	require.Len(t, lost, 1)
	assert.ErrorIs(t, lost[0], boom)
	assert.False(t, c.IsConnected())
}

func TestDispatch_RecoversPanicsAndLogsErrors(t *testing.T) {
	c := newClient(testConfig())
	logger := &recordingLogger{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("bad handler") }, "km200/set/x", nil)
	c.dispatch(func(string, []byte) error { return errors.New("rejected") }, "km200/set/x", nil)

	assert.Equal(t, []string{"MQTT handler panic recovered"}, logger.errs)
	assert.Equal(t, []string{"MQTT handler returned error"}, logger.warns)
}

func TestClose_NilClient(t *testing.T) {
	var c *Client
	assert.NoError(t, c.Close())
}
