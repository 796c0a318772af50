// Package metrics exposes Prometheus collectors for the pipeline and worker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	PipelineRuns = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "isocrates_pipeline_runs_total",
		Help: "Pipeline runs by outcome.",
	}, []string{"outcome"})

	ScoutReports = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "isocrates_scout_reports_total",
		Help: "Scout reports by outcome.",
	}, []string{"outcome"})

	DocumentsWritten = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "isocrates_documents_written_total",
		Help: "Writer results by outcome.",
	}, []string{"outcome"})

	JobDuration = promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "isocrates_job_duration_seconds",
		Help:    "Wall-clock duration of regeneration jobs.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	QueueDepth = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Name: "isocrates_queue_depth",
		Help: "Number of queued jobs at last poll.",
	})

	BreakerState = promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "isocrates_breaker_state",
		Help: "Circuit breaker state per endpoint (0=closed, 1=half-open, 2=open).",
	}, []string{"endpoint"})

	LLMCalls = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "isocrates_llm_calls_total",
		Help: "LLM completion calls by tier and outcome.",
	}, []string{"tier", "outcome"})
)

// Handler returns the HTTP handler serving the package registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
