// Package metrics exposes Prometheus collectors for the run pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "margin"

// Metrics holds every collector and the registry they are registered with.
type Metrics struct {
	registry *prometheus.Registry

	// RunsSubmitted counts runs accepted for processing.
	RunsSubmitted prometheus.Counter
	// RunsFinished counts runs reaching a terminal state, labeled by status.
	RunsFinished *prometheus.CounterVec
	// RunsInFlight is the number of runs currently processing.
	RunsInFlight prometheus.Gauge
	// StageDuration observes time spent in each pipeline stage.
	StageDuration *prometheus.HistogramVec
	// ValidationRejections counts submissions refused, labeled by dataset.
	ValidationRejections *prometheus.CounterVec
	// LLMFallbacks counts LLM calls that degraded to fallback output.
	LLMFallbacks *prometheus.CounterVec
}

// New creates collectors registered on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates collectors registered on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		RunsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_submitted_total",
			Help:      "Total number of runs accepted for processing.",
		}),
		RunsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Total number of runs reaching a terminal state, labeled by status.",
		}, []string{"status"}),
		RunsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Current number of runs still processing.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			// Ranking waits on an LLM round trip; the other stages are in-memory.
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"stage"}),
		ValidationRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_rejections_total",
			Help:      "Total number of submissions rejected by dataset validation, labeled by dataset.",
		}, []string{"dataset"}),
		LLMFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_fallbacks_total",
			Help:      "Total number of LLM operations that fell back to placeholder or empty output.",
		}, []string{"operation"}),
	}

	reg.MustRegister(
		m.RunsSubmitted,
		m.RunsFinished,
		m.RunsInFlight,
		m.StageDuration,
		m.ValidationRejections,
		m.LLMFallbacks,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RunSubmitted records an accepted run.
func (m *Metrics) RunSubmitted() {
	m.RunsSubmitted.Inc()
	m.RunsInFlight.Inc()
}

// RunFinished records a run reaching status.
func (m *Metrics) RunFinished(status string) {
	m.RunsFinished.WithLabelValues(status).Inc()
	m.RunsInFlight.Dec()
}

// StageCompleted records how long a stage took.
func (m *Metrics) StageCompleted(stage string, elapsed time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ValidationRejected records a refused submission.
func (m *Metrics) ValidationRejected(dataset string) {
	m.ValidationRejections.WithLabelValues(dataset).Inc()
}

// LLMFallback records an LLM operation that degraded.
func (m *Metrics) LLMFallback(operation string) {
	m.LLMFallbacks.WithLabelValues(operation).Inc()
}
