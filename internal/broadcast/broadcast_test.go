package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingSink struct {
	name string
	mu   sync.Mutex
	got  []Message
	err  error
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(_ context.Context, topic string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, msg)
	return s.err
}

func (s *recordingSink) messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.got...)
}

// blockingSink waits for the send deadline
type blockingSink struct{}

func (blockingSink) Name() string { return "blocking" }

func (blockingSink) Send(ctx context.Context, _ string, _ Message) error {
	<-ctx.Done()
	return ctx.Err()
}

type sighting struct {
	Animal string `json:"animal"`
}

func (sighting) EventType() string { return "report_created" }

func newBroadcastMetrics(t *testing.T) *metrics.BroadcastMetrics {
	t.Helper()
	m, err := metrics.NewBroadcastMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestDeviceTopic(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "device.cam-42", DeviceTopic("cam-42"))
}

func TestPublishDeliversToAllSinks(t *testing.T) {
	t.Parallel()

	m := newBroadcastMetrics(t)
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	bc := New(time.Second, m, a)
	bc.AddSink(b)

	bc.Publish(context.Background(), TopicDashboard, sighting{Animal: "고라니"})

	for _, s := range []*recordingSink{a, b} {
		got := s.messages()
		require.Len(t, got, 1, s.name)
		assert.Equal(t, TopicDashboard, got[0].Topic)
		assert.Equal(t, "report_created", got[0].Event)
		assert.NotEmpty(t, got[0].ID)
	}
	assert.Equal(t, a.messages()[0].ID, b.messages()[0].ID)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("a", metrics.StatusSuccess)), 0)
}

func TestPublishUntypedPayload(t *testing.T) {
	t.Parallel()

	s := &recordingSink{name: "s"}
	New(0, nil, s).Publish(context.Background(), "device.1", map[string]string{"k": "v"})
	require.Len(t, s.messages(), 1)
	assert.Equal(t, "message", s.messages()[0].Event)
}

func TestPublishFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	m := newBroadcastMetrics(t)
	bad := &recordingSink{name: "bad", err: errors.NewStd("unreachable")}
	good := &recordingSink{name: "good"}
	New(time.Second, m, bad, good).Publish(context.Background(), TopicDashboard, nil)

	assert.Len(t, good.messages(), 1)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("bad", metrics.StatusFailure)), 0)
}

func TestPublishIsBoundedBySendTimeout(t *testing.T) {
	t.Parallel()

	m := newBroadcastMetrics(t)
	fast := &recordingSink{name: "fast"}
	bc := New(50*time.Millisecond, m, blockingSink{}, fast)

	start := time.Now()
	bc.Publish(context.Background(), TopicDashboard, nil)
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, fast.messages(), 1)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Deliveries.WithLabelValues("blocking", metrics.StatusTimeout)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPublishTopicsSharesOneTimeout(t *testing.T) {
	t.Parallel()

	m := newBroadcastMetrics(t)
	fast := &recordingSink{name: "fast"}
	timeout := 300 * time.Millisecond
	bc := New(timeout, m, blockingSink{}, fast)

	start := time.Now()
	bc.PublishTopics(context.Background(), []string{TopicDashboard, DeviceTopic("D1")}, sighting{Animal: "고라니"})
	assert.Less(t, time.Since(start), 2*timeout, "topics are delivered in parallel")

	got := fast.messages()
	require.Len(t, got, 2)
	topics := []string{got[0].Topic, got[1].Topic}
	assert.ElementsMatch(t, []string{TopicDashboard, "device.D1"}, topics)
	assert.Equal(t, got[0].Event, got[1].Event)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Deliveries.WithLabelValues("blocking", metrics.StatusTimeout)) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestPublishIgnoresCallerCancellation(t *testing.T) {
	t.Parallel()

	s := &recordingSink{name: "s"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	New(time.Second, nil, s).Publish(ctx, TopicDashboard, nil)
	assert.Len(t, s.messages(), 1)
}

func TestHubTopicFiltering(t *testing.T) {
	t.Parallel()

	hub := NewHub(HubConfig{ClientBuffer: 4}, nil)
	dash, err := hub.Subscribe(TopicDashboard)
	require.NoError(t, err)
	dev, err := hub.Subscribe(DeviceTopic("cam-3"))
	require.NoError(t, err)
	assert.Equal(t, 2, hub.ClientCount())

	require.NoError(t, hub.Send(context.Background(), DeviceTopic("cam-3"), Message{ID: "m1"}))

	select {
	case msg := <-dev.Messages():
		assert.Equal(t, "m1", msg.ID)
	default:
		t.Fatal("device subscriber did not receive message")
	}
	assert.Empty(t, dash.Messages())

	hub.Unsubscribe(dash)
	hub.Unsubscribe(dash)
	assert.Equal(t, 1, hub.ClientCount())
	hub.Close()
	<-dev.Done()
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHubEvictsSlowClient(t *testing.T) {
	t.Parallel()

	m := newBroadcastMetrics(t)
	hub := NewHub(HubConfig{ClientBuffer: 1}, m)
	c, err := hub.Subscribe(TopicDashboard)
	require.NoError(t, err)

	require.NoError(t, hub.Send(context.Background(), TopicDashboard, Message{ID: "1"}))
	require.NoError(t, hub.Send(context.Background(), TopicDashboard, Message{ID: "2"}))

	select {
	case <-c.Done():
	default:
		t.Fatal("slow client was not evicted")
	}
	assert.Equal(t, 0, hub.ClientCount())
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.SlowEvictions), 0)

	// the buffered message is still readable, nothing more arrives
	msg := <-c.Messages()
	assert.Equal(t, "1", msg.ID)
}

func TestHubMaxClients(t *testing.T) {
	t.Parallel()

	hub := NewHub(HubConfig{MaxClients: 1}, nil)
	_, err := hub.Subscribe(TopicDashboard)
	require.NoError(t, err)
	_, err = hub.Subscribe(TopicDashboard)
	require.ErrorIs(t, err, ErrTooManyClients)
}

func TestHubAsBroadcasterSink(t *testing.T) {
	t.Parallel()

	hub := NewHub(HubConfig{}, nil)
	c, err := hub.Subscribe(TopicDashboard)
	require.NoError(t, err)
	defer hub.Unsubscribe(c)

	New(time.Second, nil, hub).Publish(context.Background(), TopicDashboard, sighting{Animal: "너구리"})
	msg := <-c.Messages()
	assert.Equal(t, sighting{Animal: "너구리"}, msg.Payload)
}

func TestWriteEvent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteEvent(&buf, "report_created", sighting{Animal: "deer"}))
	assert.Equal(t, "event: report_created\ndata: {\"animal\":\"deer\"}\n\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteKeepAlive(&buf))
	assert.Equal(t, ":\n\n", buf.String())

	err := WriteEvent(&buf, "bad", func() {})
	assert.True(t, errors.IsCategory(err, errors.CategoryBroadcast))
}

type mockMQTT struct {
	mock.Mock
}

func (m *mockMQTT) Connect(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockMQTT) IsConnected() bool                 { return m.Called().Bool(0) }
func (m *mockMQTT) Disconnect()                       { m.Called() }

func (m *mockMQTT) Publish(ctx context.Context, topic string, payload []byte) error {
	return m.Called(ctx, topic, payload).Error(0)
}

func TestMQTTSink(t *testing.T) {
	t.Parallel()

	client := new(mockMQTT)
	sink := NewMQTTSink(client, "wildwatch/")
	assert.Equal(t, "wildwatch/device/9", sink.Topic("device.9"))
	assert.Equal(t, "device/9", NewMQTTSink(client, "").Topic("device.9"))

	client.On("IsConnected").Return(true).Once()
	client.On("Publish", mock.Anything, "wildwatch/dashboard", mock.MatchedBy(func(b []byte) bool {
		var msg Message
		return json.Unmarshal(b, &msg) == nil && msg.ID == "x1" && msg.Event == "cooldown"
	})).Return(nil).Once()

	require.NoError(t, sink.Send(context.Background(), TopicDashboard, Message{ID: "x1", Event: "cooldown"}))

	client.On("IsConnected").Return(false).Once()
	err := sink.Send(context.Background(), TopicDashboard, Message{ID: "x2"})
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTConnection))

	client.AssertExpectations(t)
}
