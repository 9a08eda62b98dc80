package mqtt

import (
	"context"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/wildwatch/internal/conf"
	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeToken struct {
	paho.Token
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func pendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

type fakePaho struct {
	paho.Client
	mu           sync.Mutex
	connected    bool
	connectToken paho.Token
	publishToken paho.Token
	messages     []published
	disconnected bool
}

func (f *fakePaho) Connect() paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectToken.Error() == nil {
		f.connected = true
	}
	return f.connectToken
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload any) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{topic, qos, retained, payload.([]byte)})
	return f.publishToken
}

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnected = true
}

func newTestClient(t *testing.T, fake *fakePaho) (*client, *metrics.MQTTMetrics) {
	t.Helper()
	m, err := metrics.NewMQTTMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Broker = "tcp://broker.local:1883"
	cfg.ReconnectCooldown = 0
	cfg.PublishTimeout = 50 * time.Millisecond
	cfg.QoS = 1

	c, err := NewClient(cfg, m)
	require.NoError(t, err)
	impl := c.(*client)
	impl.newPaho = func(*paho.ClientOptions) paho.Client { return fake }
	impl.resolveHost = func(context.Context, string) error { return nil }
	return impl, m
}

func TestNewClientRejectsBadBroker(t *testing.T) {
	t.Parallel()

	for _, broker := range []string{"", "::not a url", "localhost"} {
		_, err := NewClient(Config{Broker: broker}, nil)
		require.Error(t, err, broker)
		assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration), broker)
	}
}

func TestConnectAndPublish(t *testing.T) {
	t.Parallel()

	fake := &fakePaho{connectToken: completedToken(nil), publishToken: completedToken(nil)}
	c, m := newTestClient(t, fake)

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.ConnectionStatus), 0)

	require.NoError(t, c.Publish(context.Background(), "wildwatch/dashboard", []byte(`{"ok":true}`)))
	require.Len(t, fake.messages, 1)
	assert.Equal(t, "wildwatch/dashboard", fake.messages[0].topic)
	assert.Equal(t, byte(1), fake.messages[0].qos)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.MessagesDelivered), 0)

	c.Disconnect()
	assert.True(t, fake.disconnected)
	assert.False(t, c.IsConnected())
	assert.InDelta(t, 0.0, testutil.ToFloat64(m.ConnectionStatus), 0)
}

func TestConnectFailure(t *testing.T) {
	t.Parallel()

	fake := &fakePaho{connectToken: completedToken(errors.NewStd("not authorized"))}
	c, _ := newTestClient(t, fake)

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTConnection))
	assert.False(t, c.IsConnected())
}

func TestConnectCooldown(t *testing.T) {
	t.Parallel()

	fake := &fakePaho{connectToken: completedToken(nil)}
	c, _ := newTestClient(t, fake)
	c.config.ReconnectCooldown = time.Hour

	require.NoError(t, c.Connect(context.Background()))
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too recent")
}

func TestPublishWhileDisconnected(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, &fakePaho{})
	err := c.Publish(context.Background(), "t", []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTConnection))
}

func TestPublishTimeoutAndCancel(t *testing.T) {
	t.Parallel()

	fake := &fakePaho{connectToken: completedToken(nil), publishToken: pendingToken()}
	c, m := newTestClient(t, fake)
	require.NoError(t, c.Connect(context.Background()))

	err := c.Publish(context.Background(), "t", []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.Errors), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = c.Publish(ctx, "t", []byte("x"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()

	cfg := ConfigFromSettings(&conf.MQTTSettings{
		Broker:   "tcp://10.0.0.2:1883",
		ClientID: "edge-1",
		QoS:      2,
		Retain:   true,
	})
	assert.Equal(t, "tcp://10.0.0.2:1883", cfg.Broker)
	assert.Equal(t, "edge-1", cfg.ClientID)
	assert.Equal(t, byte(2), cfg.QoS)
	assert.True(t, cfg.Retain)
	assert.Equal(t, 10*time.Second, cfg.PublishTimeout)

	cfg = ConfigFromSettings(&conf.MQTTSettings{Timeout: time.Second})
	assert.Equal(t, time.Second, cfg.PublishTimeout)
}
