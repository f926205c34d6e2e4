// Package metrics exposes Prometheus counters for pipeline runs and Notion syncs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pmcrew"

// Metrics holds all collectors on a private registry. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	pipelineRuns     *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec
	notionBatches    *prometheus.CounterVec
	notionPages      prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		pipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by kind and outcome.",
		}, []string{"pipeline", "outcome"}),
		pipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_run_duration_seconds",
			Help:      "Pipeline run duration in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"pipeline"}),
		notionBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notion_batches_total",
			Help:      "Notion block batches by result (sent, dropped, resent).",
		}, []string{"result"}),
		notionPages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notion_pages_created_total",
			Help:      "Notion workbook pages created.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.pipelineRuns,
		m.pipelineDuration,
		m.notionBatches,
		m.notionPages,
	)

	return m
}

// ObservePipeline records one finished run.
func (m *Metrics) ObservePipeline(pipeline string, seconds float64, err error) {
	if m == nil {
		return
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
	}

	m.pipelineRuns.WithLabelValues(pipeline, outcome).Inc()
	m.pipelineDuration.WithLabelValues(pipeline).Observe(seconds)
}

// BatchSent counts a batch accepted by Notion.
func (m *Metrics) BatchSent() { m.batch("sent") }

// BatchDropped counts a batch rejected and not retried.
func (m *Metrics) BatchDropped() { m.batch("dropped") }

// BatchResent counts a batch resent after a page replacement.
func (m *Metrics) BatchResent() { m.batch("resent") }

func (m *Metrics) batch(result string) {
	if m == nil {
		return
	}
	m.notionBatches.WithLabelValues(result).Inc()
}

// PageCreated counts a provisioned workbook page.
func (m *Metrics) PageCreated() {
	if m == nil {
		return
	}
	m.notionPages.Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
