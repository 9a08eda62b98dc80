// Package metrics provides the Prometheus collectors of the ingestion
// pipeline. Every recorder method is safe on a nil receiver so components
// run unchanged without metrics.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics counts ingestion outcomes and gate decisions
type PipelineMetrics struct {
	IngestTotal        *prometheus.CounterVec   // by event
	IngestRejected     *prometheus.CounterVec   // by reason
	IngestDuration     *prometheus.HistogramVec // by event
	GateDecisions      *prometheus.CounterVec   // by gate and result
	StateTransitions   *prometheus.CounterVec   // by state
	ClassifierFailures prometheus.Counter
	HeuristicLabels    prometheus.Counter
	ClassifierLatency  prometheus.Histogram
}

// NewPipelineMetrics creates the collectors and registers them
func NewPipelineMetrics(registry prometheus.Registerer) (*PipelineMetrics, error) {
	m := &PipelineMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.IngestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wildwatch_ingest_total",
		Help: "Accepted detections by outcome event",
	}, []string{"event"})

	m.IngestRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wildwatch_ingest_rejected_total",
		Help: "Rejected detections by reason",
	}, []string{"reason"})

	m.IngestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wildwatch_ingest_duration_seconds",
		Help:    "Time spent deciding a detection",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"event"})

	m.GateDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wildwatch_gate_decisions_total",
		Help: "Gate decisions by gate (confidence, cooldown) and result (pass, block)",
	}, []string{"gate", "result"})

	m.StateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wildwatch_ingest_state_transitions_total",
		Help: "Orchestrator state entries",
	}, []string{"state"})

	m.ClassifierFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wildwatch_classifier_failures_total",
		Help: "Model calls that failed and fell back to heuristics",
	})

	m.HeuristicLabels = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wildwatch_heuristic_labels_total",
		Help: "Detections labelled by the filename heuristic",
	})

	m.ClassifierLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wildwatch_classifier_request_duration_seconds",
		Help:    "Latency of model-serving requests",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	})
}

// RecordOutcome counts an accepted detection
func (m *PipelineMetrics) RecordOutcome(event string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(event).Inc()
	m.IngestDuration.WithLabelValues(event).Observe(elapsed.Seconds())
}

// RecordRejection counts a rejected detection
func (m *PipelineMetrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.IngestRejected.WithLabelValues(reason).Inc()
}

// RecordGate counts a gate decision
func (m *PipelineMetrics) RecordGate(gate string, passed bool) {
	if m == nil {
		return
	}
	result := ResultBlock
	if passed {
		result = ResultPass
	}
	m.GateDecisions.WithLabelValues(gate, result).Inc()
}

// RecordState counts entry into an orchestrator state
func (m *PipelineMetrics) RecordState(state string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(state).Inc()
}

// RecordClassifierFailure counts a failed model call
func (m *PipelineMetrics) RecordClassifierFailure() {
	if m == nil {
		return
	}
	m.ClassifierFailures.Inc()
}

// RecordHeuristic counts a heuristic label
func (m *PipelineMetrics) RecordHeuristic() {
	if m == nil {
		return
	}
	m.HeuristicLabels.Inc()
}

// ObserveClassifierLatency records one model-serving round trip
func (m *PipelineMetrics) ObserveClassifierLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.ClassifierLatency.Observe(d.Seconds())
}

// Describe implements prometheus.Collector
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.IngestTotal.Describe(ch)
	m.IngestRejected.Describe(ch)
	m.IngestDuration.Describe(ch)
	m.GateDecisions.Describe(ch)
	m.StateTransitions.Describe(ch)
	m.ClassifierFailures.Describe(ch)
	m.HeuristicLabels.Describe(ch)
	m.ClassifierLatency.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.IngestTotal.Collect(ch)
	m.IngestRejected.Collect(ch)
	m.IngestDuration.Collect(ch)
	m.GateDecisions.Collect(ch)
	m.StateTransitions.Collect(ch)
	m.ClassifierFailures.Collect(ch)
	m.HeuristicLabels.Collect(ch)
	m.ClassifierLatency.Collect(ch)
}
