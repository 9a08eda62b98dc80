// Package broadcast fans pipeline outcomes out to live subscribers.
//
// Delivery is at-most-once per subscriber with no replay. Publish never
// returns an error: a sink that is slow or unreachable is logged and counted,
// and the caller continues once the send timeout elapses.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/wildwatch/internal/logger"
	"github.com/tphakala/wildwatch/internal/observability/metrics"
)

// DefaultSendTimeout bounds how long Publish waits for its sinks
const DefaultSendTimeout = 500 * time.Millisecond

// TopicDashboard is the global admin dashboard channel
const TopicDashboard = "dashboard"

// DeviceTopic returns the per-device channel name
func DeviceTopic(deviceID string) string {
	return "device." + deviceID
}

// Message is the envelope delivered to subscribers
type Message struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Typed payloads name the event they carry
type Typed interface {
	EventType() string
}

// Sink is one live delivery channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, topic string, msg Message) error
}

// Publisher is the capability the ingestion pipeline depends on
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any)
	PublishTopics(ctx context.Context, topics []string, payload any)
}

// Broadcaster delivers each published message to every sink concurrently.
type Broadcaster struct {
	mu      sync.RWMutex
	sinks   []Sink
	timeout time.Duration
	metrics *metrics.BroadcastMetrics
	now     func() time.Time
}

// New creates a Broadcaster. A non-positive timeout selects DefaultSendTimeout.
func New(timeout time.Duration, m *metrics.BroadcastMetrics, sinks ...Sink) *Broadcaster {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Broadcaster{
		sinks:   sinks,
		timeout: timeout,
		metrics: m,
		now:     time.Now,
	}
}

// AddSink registers an additional sink
func (b *Broadcaster) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Publish delivers payload to topic on every sink and returns once all sinks
// finish or the send timeout elapses.
func (b *Broadcaster) Publish(ctx context.Context, topic string, payload any) {
	b.PublishTopics(ctx, []string{topic}, payload)
}

// PublishTopics delivers payload to every topic on every sink. All
// deliveries share one send timeout, so the wait does not grow with the
// number of topics.
func (b *Broadcaster) PublishTopics(ctx context.Context, topics []string, payload any) {
	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()
	if len(sinks) == 0 || len(topics) == 0 {
		return
	}

	event := "message"
	if typed, ok := payload.(Typed); ok {
		event = typed.EventType()
	}
	ts := b.now().UTC()

	// Caller cancellation does not abort delivery; the send timeout does.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, topic := range topics {
		msg := Message{
			ID:        uuid.NewString(),
			Topic:     topic,
			Event:     event,
			Timestamp: ts,
			Payload:   payload,
		}
		for _, sink := range sinks {
			wg.Add(1)
			go func(s Sink) {
				defer wg.Done()
				b.deliver(sendCtx, s, topic, msg)
			}(sink)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-sendCtx.Done():
		GetLogger().Warn("broadcast send timeout",
			logger.Any("topics", topics),
			logger.Duration("timeout", b.timeout))
	}
}

func (b *Broadcaster) deliver(ctx context.Context, s Sink, topic string, msg Message) {
	if err := s.Send(ctx, topic, msg); err != nil {
		status := metrics.StatusFailure
		if ctx.Err() != nil {
			status = metrics.StatusTimeout
		}
		b.metrics.RecordDelivery(s.Name(), status)
		GetLogger().Warn("broadcast delivery failed",
			logger.String("sink", s.Name()),
			logger.String("topic", topic),
			logger.String("message_id", msg.ID),
			logger.Error(err))
		return
	}
	b.metrics.RecordDelivery(s.Name(), metrics.StatusSuccess)
}

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the broadcast module logger
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("broadcast")
	})
	return serviceLogger
}
