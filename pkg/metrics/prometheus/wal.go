// Package prometheus implements the metrics interfaces on top of
// prometheus/client_golang. Importing it (usually blank, from main)
// registers the constructors with pkg/metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/ringwal/pkg/metrics"
	"github.com/marmos91/ringwal/pkg/wal"
)

// walMetrics is the Prometheus implementation of wal.Metrics.
type walMetrics struct {
	appends         prometheus.Counter
	appendBytes     prometheus.Histogram
	appendDuration  prometheus.Histogram
	rotations       prometheus.Counter
	rotationLatency prometheus.Histogram
	persistBytes    prometheus.Histogram
	persistDuration prometheus.Histogram
	persistFailures prometheus.Counter
}

func init() {
	metrics.RegisterWALMetricsConstructor(newWALMetrics)
}

func newWALMetrics() wal.Metrics {
	reg := metrics.GetRegistry()

	return &walMetrics{
		appends: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ringwal_appends_total",
			Help: "Total number of completed appends",
		}),
		appendBytes: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "ringwal_append_bytes",
			Help:    "Append payload sizes in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		}),
		appendDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "ringwal_append_duration_seconds",
			Help:    "End-to-end append latency, including induced rotations",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
		rotations: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ringwal_rotations_total",
			Help: "Total number of segment rotations",
		}),
		rotationLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "ringwal_rotation_duration_seconds",
			Help:    "Rotation hand-off latency, including the storage persist",
			Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
		}),
		persistBytes: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "ringwal_persist_bytes",
			Help:    "Persisted segment run sizes in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		persistDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "ringwal_persist_duration_seconds",
			Help:    "Storage persist latency per segment run",
			Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
		}),
		persistFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ringwal_persist_failures_total",
			Help: "Total number of failed storage persists",
		}),
	}
}

// ObserveAppend records a completed append.
func (m *walMetrics) ObserveAppend(bytes int64, duration time.Duration) {
	m.appends.Inc()
	m.appendBytes.Observe(float64(bytes))
	m.appendDuration.Observe(duration.Seconds())
}

// ObserveRotation records a completed rotation.
func (m *walMetrics) ObserveRotation(duration time.Duration) {
	m.rotations.Inc()
	m.rotationLatency.Observe(duration.Seconds())
}

// ObservePersist records a successful persist.
func (m *walMetrics) ObservePersist(bytes int64, duration time.Duration) {
	m.persistBytes.Observe(float64(bytes))
	m.persistDuration.Observe(duration.Seconds())
}

// RecordPersistFailure records a failed persist.
func (m *walMetrics) RecordPersistFailure() {
	m.persistFailures.Inc()
}
