// Package metrics provides internal Prometheus metrics for the pipeline.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the pipeline's Prometheus instruments. Construct one per
// process and share it.
type Collector struct {
	spansExported  *prometheus.CounterVec
	exportDuration prometheus.Histogram

	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	evaluationCost     prometheus.Counter

	backfillJobs  *prometheus.CounterVec
	backfillSpans prometheus.Counter

	analyticsDuration *prometheus.HistogramVec
}

// NewCollector registers the pipeline instruments on reg. Pass nil to use
// the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		spansExported: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spans_exported_total",
			Help:      "Spans written to the analytical store, by export outcome",
		}, []string{"status"}),
		exportDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_duration_seconds",
			Help:      "Wall clock duration of one trace export",
			Buckets:   prometheus.DefBuckets,
		}),
		evaluationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Metric evaluations, by metric type and outcome",
		}, []string{"metric_type", "outcome"}),
		evaluationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Wall clock duration of one metric evaluation",
			Buckets:   []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"metric_type"}),
		evaluationCost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_cost_usd_total",
			Help:      "Cumulative LLM judge spend in USD",
		}),
		backfillJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_jobs_total",
			Help:      "Retroactive evaluation jobs, by terminal status",
		}, []string{"status"}),
		backfillSpans: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_spans_evaluated_total",
			Help:      "Spans evaluated by retroactive jobs",
		}),
		analyticsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analytics_query_duration_seconds",
			Help:      "Duration of one analytics aggregate query",
			Buckets:   prometheus.DefBuckets,
		}, []string{"section"}),
	}
}

// RecordExport observes one export call.
func (c *Collector) RecordExport(spans int, success bool, d time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	c.spansExported.WithLabelValues(status).Add(float64(spans))
	c.exportDuration.Observe(d.Seconds())
}

// RecordEvaluation observes one metric evaluation. outcome is one of
// passed, failed, or error.
func (c *Collector) RecordEvaluation(metricType, outcome string, d time.Duration, costUSD float64) {
	c.evaluationsTotal.WithLabelValues(metricType, outcome).Inc()
	c.evaluationDuration.WithLabelValues(metricType).Observe(d.Seconds())
	if costUSD > 0 {
		c.evaluationCost.Add(costUSD)
	}
}

// RecordBackfillJob observes a job reaching a terminal status.
func (c *Collector) RecordBackfillJob(status string) {
	c.backfillJobs.WithLabelValues(status).Inc()
}

// RecordBackfillSpan counts one span processed by a retroactive job.
func (c *Collector) RecordBackfillSpan() {
	c.backfillSpans.Inc()
}

// RecordAnalyticsQuery observes one aggregate query.
func (c *Collector) RecordAnalyticsQuery(section string, d time.Duration) {
	c.analyticsDuration.WithLabelValues(section).Observe(d.Seconds())
}
