// Package observability exposes pipeline and cache instrumentation as
// Prometheus collectors.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ekaya-inc/ekaya-askdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
	"github.com/ekaya-inc/ekaya-askdb/pkg/services"
)

const namespace = "askdb"

// PipelineMetrics records pipeline events in Prometheus collectors.
type PipelineMetrics struct {
	stageDuration      *prometheus.HistogramVec
	runDuration        *prometheus.HistogramVec
	runsTotal          *prometheus.CounterVec
	validationRejected *prometheus.CounterVec
	rowsReturned       prometheus.Histogram
	truncatedTotal     prometheus.Counter
}

var _ services.PipelineMetrics = (*PipelineMetrics)(nil)

// NewPipelineMetrics creates the pipeline collectors and registers them on reg.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent reaching each pipeline state.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "End-to-end pipeline run latency by final state.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"state"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by final state, failing stage and error kind.",
		}, []string{"state", "failed_at", "error_kind"}),
		validationRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_rejected_total",
			Help:      "Queries rejected by the validation gate by reason.",
		}, []string{"reason"}),
		rowsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rows_returned",
			Help:      "Rows returned per executed query.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		truncatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_truncated_total",
			Help:      "Executed queries whose result hit the row cap.",
		}),
	}
	reg.MustRegister(m.stageDuration, m.runDuration, m.runsTotal, m.validationRejected, m.rowsReturned, m.truncatedTotal)
	return m
}

func (m *PipelineMetrics) StageCompleted(stage models.PipelineState, elapsed time.Duration) {
	m.stageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
}

func (m *PipelineMetrics) ValidationRejected(reason apperrors.SubReason) {
	m.validationRejected.WithLabelValues(string(reason)).Inc()
}

func (m *PipelineMetrics) RowsReturned(rows int, truncated bool) {
	m.rowsReturned.Observe(float64(rows))
	if truncated {
		m.truncatedTotal.Inc()
	}
}

func (m *PipelineMetrics) RunFinished(state, failedAt models.PipelineState, errorKind string, elapsed time.Duration) {
	m.runsTotal.WithLabelValues(string(state), string(failedAt), errorKind).Inc()
	m.runDuration.WithLabelValues(string(state)).Observe(elapsed.Seconds())
}

// RegisterCacheStats exposes the schema cache counters on reg. Values are
// read from stats at scrape time.
func RegisterCacheStats(reg prometheus.Registerer, stats func() services.CacheStats) {
	counter := func(name, help string, pick func(services.CacheStats) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "schema_cache",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(pick(stats())) })
	}
	reg.MustRegister(
		counter("hits_total", "Snapshots served from memory.", func(s services.CacheStats) int64 { return s.Hits }),
		counter("misses_total", "Lookups that needed a refresh.", func(s services.CacheStats) int64 { return s.Misses }),
		counter("refreshes_total", "Successful introspections.", func(s services.CacheStats) int64 { return s.Refreshes }),
		counter("refresh_failures_total", "Failed introspections.", func(s services.CacheStats) int64 { return s.RefreshFailures }),
		counter("stale_serves_total", "Expired snapshots served after a failed refresh.", func(s services.CacheStats) int64 { return s.StaleServes }),
		counter("store_hits_total", "Snapshots loaded from the shared store.", func(s services.CacheStats) int64 { return s.StoreHits }),
	)
}
