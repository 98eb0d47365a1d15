// Package metrics exposes Prometheus instrumentation for the import
// pipeline: package-level collectors registered in init, plus a Timer
// helper for latency histograms.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job Runner metrics.
	JobsStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadimport_jobs_started_total",
			Help: "Total number of import jobs started, by job type",
		},
		[]string{"type"},
	)

	JobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadimport_jobs_finished_total",
			Help: "Total number of import jobs finished, by job type and outcome",
		},
		[]string{"type", "outcome"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roadimport_job_duration_seconds",
			Help:    "Import job duration in seconds, by job type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	JobQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "roadimport_job_queue_depth",
			Help: "Number of jobs currently queued for dispatch",
		},
	)

	// Publisher metrics.
	PublishDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roadimport_publish_duration_seconds",
			Help:    "Time taken to run the publish procedure, including lock wait",
			Buckets: prometheus.DefBuckets,
		},
	)

	PublishLockWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roadimport_publish_lock_wait_seconds",
			Help:    "Time spent waiting to acquire the publish advisory lock",
			Buckets: prometheus.DefBuckets,
		},
	)

	PublishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadimport_publishes_total",
			Help: "Total number of publish attempts, by outcome",
		},
		[]string{"outcome"},
	)

	RollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadimport_rollbacks_total",
			Help: "Total number of rollback attempts, by outcome",
		},
		[]string{"outcome"},
	)

	// Diff classification metrics.
	DiffFeaturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadimport_diff_features_total",
			Help: "Total number of road features classified by the diff engine, by change kind",
		},
		[]string{"kind"}, // added, updated, unchanged, deactivated
	)

	// Blob Sweeper metrics.
	BlobsSweptTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadimport_blobs_swept_total",
			Help: "Total number of blobs the sweeper deleted or failed to delete, by outcome",
		},
		[]string{"outcome"}, // deleted, error
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roadimport_blob_sweep_duration_seconds",
			Help:    "Time taken to complete a blob sweep pass",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		JobsStartedTotal,
		JobsFinishedTotal,
		JobDuration,
		JobQueueDepth,
		PublishDuration,
		PublishLockWaitDuration,
		PublishesTotal,
		RollbacksTotal,
		DiffFeaturesTotal,
		BlobsSweptTotal,
		SweepDuration,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times a single operation against one or more histograms.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
