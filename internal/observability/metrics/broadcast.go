package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// BroadcastMetrics tracks live fan-out to dashboards and MQTT
type BroadcastMetrics struct {
	Deliveries       *prometheus.CounterVec // by sink and status
	SubscribersTotal prometheus.Gauge
	SlowEvictions    prometheus.Counter
}

// NewBroadcastMetrics creates the collectors and registers them
func NewBroadcastMetrics(registry prometheus.Registerer) (*BroadcastMetrics, error) {
	m := &BroadcastMetrics{
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wildwatch_broadcast_deliveries_total",
			Help: "Live channel deliveries by sink and status",
		}, []string{"sink", "status"}),
		SubscribersTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wildwatch_broadcast_subscribers",
			Help: "Connected live channel subscribers",
		}),
		SlowEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wildwatch_broadcast_slow_evictions_total",
			Help: "Subscribers disconnected for not keeping up",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register broadcast metrics: %w", err)
	}
	return m, nil
}

// RecordDelivery counts one sink delivery
func (m *BroadcastMetrics) RecordDelivery(sink, status string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(sink, status).Inc()
}

// SetSubscribers sets the subscriber gauge
func (m *BroadcastMetrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.SubscribersTotal.Set(float64(n))
}

// RecordEviction counts a slow subscriber eviction
func (m *BroadcastMetrics) RecordEviction() {
	if m == nil {
		return
	}
	m.SlowEvictions.Inc()
}

// Describe implements prometheus.Collector
func (m *BroadcastMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Deliveries.Describe(ch)
	m.SubscribersTotal.Describe(ch)
	m.SlowEvictions.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *BroadcastMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Deliveries.Collect(ch)
	m.SubscribersTotal.Collect(ch)
	m.SlowEvictions.Collect(ch)
}
