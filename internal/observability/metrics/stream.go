package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// StreamMetrics tracks CCTV stream workers
type StreamMetrics struct {
	Frames         *prometheus.CounterVec // by device and status
	WorkersRunning prometheus.Gauge
}

// NewStreamMetrics creates the collectors and registers them
func NewStreamMetrics(registry prometheus.Registerer) (*StreamMetrics, error) {
	m := &StreamMetrics{
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wildwatch_stream_frames_total",
			Help: "Frames handled by stream workers by device and status",
		}, []string{"device", "status"}),
		WorkersRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wildwatch_stream_workers_running",
			Help: "Stream workers currently running",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register stream metrics: %w", err)
	}
	return m, nil
}

// RecordFrame counts a processed or failed frame
func (m *StreamMetrics) RecordFrame(device string, err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusFailure
	}
	m.Frames.WithLabelValues(device, status).Inc()
}

// WorkerStarted increments the running gauge
func (m *StreamMetrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.WorkersRunning.Inc()
}

// WorkerStopped decrements the running gauge
func (m *StreamMetrics) WorkerStopped() {
	if m == nil {
		return
	}
	m.WorkersRunning.Dec()
}

// Describe implements prometheus.Collector
func (m *StreamMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Frames.Describe(ch)
	m.WorkersRunning.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *StreamMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Frames.Collect(ch)
	m.WorkersRunning.Collect(ch)
}
