// Package observability wires the Prometheus registry and the /metrics
// handler.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/wildwatch/internal/observability/metrics"
)

// Metrics holds all metric collectors of the application
type Metrics struct {
	registry  *prometheus.Registry
	Pipeline  *metrics.PipelineMetrics
	Broadcast *metrics.BroadcastMetrics
	Push      *metrics.PushMetrics
	MQTT      *metrics.MQTTMetrics
	Stream    *metrics.StreamMetrics
}

// NewMetrics creates a private registry with every collector plus the Go
// runtime and process collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pipeline, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}
	broadcast, err := metrics.NewBroadcastMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcast metrics: %w", err)
	}
	push, err := metrics.NewPushMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create push metrics: %w", err)
	}
	mqtt, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}
	stream, err := metrics.NewStreamMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream metrics: %w", err)
	}

	return &Metrics{
		registry:  registry,
		Pipeline:  pipeline,
		Broadcast: broadcast,
		Push:      push,
		MQTT:      mqtt,
		Stream:    stream,
	}, nil
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
