package metrics

import (
	"github.com/marmos91/ringwal/pkg/wal"
)

// NewWALMetrics creates a Prometheus-backed wal.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
// A nil handle is valid for wal.Config.Metrics and costs nothing.
//
// Example usage:
//
//	metrics.InitRegistry()
//	log, err := wal.New(wal.Config{..., Metrics: metrics.NewWALMetrics()})
func NewWALMetrics() wal.Metrics {
	if !IsEnabled() || newPrometheusWALMetrics == nil {
		return nil
	}
	return newPrometheusWALMetrics()
}

// newPrometheusWALMetrics is implemented in pkg/metrics/prometheus.
// The indirection keeps this package free of a dependency on the
// implementation while the implementation depends on the registry here.
var newPrometheusWALMetrics func() wal.Metrics

// RegisterWALMetricsConstructor registers the Prometheus constructor.
// Called by pkg/metrics/prometheus during package initialization.
func RegisterWALMetricsConstructor(constructor func() wal.Metrics) {
	newPrometheusWALMetrics = constructor
}
