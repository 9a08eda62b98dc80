package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PushMetrics tracks push notification delivery
type PushMetrics struct {
	Messages            *prometheus.CounterVec   // by provider and status
	SendDuration        *prometheus.HistogramVec // by provider
	DeadTokensPruned    prometheus.Counter
	CircuitBreakerState *prometheus.GaugeVec // 0 closed, 1 half-open, 2 open
	QueueDepth          prometheus.Gauge
}

// NewPushMetrics creates the collectors and registers them
func NewPushMetrics(registry prometheus.Registerer) (*PushMetrics, error) {
	m := &PushMetrics{
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wildwatch_push_messages_total",
			Help: "Push messages by provider and status",
		}, []string{"provider", "status"}),
		SendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wildwatch_push_send_duration_seconds",
			Help:    "Time to deliver one push batch",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider"}),
		DeadTokensPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wildwatch_push_dead_tokens_pruned_total",
			Help: "Device tokens removed after a permanent delivery failure",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wildwatch_push_circuit_breaker_state",
			Help: "Circuit breaker state per provider (0=closed, 1=half-open, 2=open)",
		}, []string{"provider"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wildwatch_push_queue_depth",
			Help: "Report notices waiting for delivery",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register push metrics: %w", err)
	}
	return m, nil
}

// RecordBatch records the outcome of one send
func (m *PushMetrics) RecordBatch(provider string, success, failure int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(provider, StatusSuccess).Add(float64(success))
	m.Messages.WithLabelValues(provider, StatusFailure).Add(float64(failure))
	m.SendDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// RecordDropped counts notices dropped before sending
func (m *PushMetrics) RecordDropped(provider string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(provider, StatusDropped).Inc()
}

// RecordPruned counts pruned tokens
func (m *PushMetrics) RecordPruned(n int64) {
	if m == nil {
		return
	}
	m.DeadTokensPruned.Add(float64(n))
}

// SetCircuitState records a breaker state
func (m *PushMetrics) SetCircuitState(provider string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(provider).Set(float64(state))
}

// SetQueueDepth records the dispatcher backlog
func (m *PushMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// Describe implements prometheus.Collector
func (m *PushMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Messages.Describe(ch)
	m.SendDuration.Describe(ch)
	m.DeadTokensPruned.Describe(ch)
	m.CircuitBreakerState.Describe(ch)
	m.QueueDepth.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *PushMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Messages.Collect(ch)
	m.SendDuration.Collect(ch)
	m.DeadTokensPruned.Collect(ch)
	m.CircuitBreakerState.Collect(ch)
	m.QueueDepth.Collect(ch)
}
