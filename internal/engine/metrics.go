package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tendant/ml-orchestrator/pkg/schema"
)

// Metrics are the execution counters exported on /metrics. A nil *Metrics
// records nothing.
type Metrics struct {
	Started       prometheus.Counter
	Finished      *prometheus.CounterVec
	Active        prometheus.Gauge
	Duration      prometheus.Histogram
	StageDuration *prometheus.HistogramVec
	ModelResults  *prometheus.CounterVec
}

// NewMetrics registers the execution metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Started: f.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_executions_started_total",
			Help: "Pipeline executions accepted.",
		}),
		Finished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_executions_finished_total",
			Help: "Pipeline executions that reached a terminal status.",
		}, []string{"status"}),
		Active: f.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_executions_active",
			Help: "Pipeline executions currently running.",
		}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_execution_duration_seconds",
			Help:    "Wall time from start to terminal status.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Wall time spent in each pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage"}),
		ModelResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_model_results_total",
			Help: "Per-model training and evaluation outcomes.",
		}, []string{"stage", "status"}),
	}
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.Started.Inc()
	m.Active.Inc()
}

func (m *Metrics) finished(status schema.JobStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.Active.Dec()
	m.Finished.WithLabelValues(string(status)).Inc()
	m.Duration.Observe(d.Seconds())
}

func (m *Metrics) observeStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) modelResult(stage, status string) {
	if m == nil {
		return
	}
	m.ModelResults.WithLabelValues(stage, status).Inc()
}
