// Package metrics exposes the scheduler's Prometheus counters directly
// through github.com/prometheus/client_golang, the library the teacher's
// internal/observability/metrics.go also drives (there via an OpenTelemetry
// meter provider in front of the same Prometheus registry; this package
// skips that extra layer since nothing here needs OTel's metric API — see
// DESIGN.md).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the scheduler's counters, registered against a dedicated
// registry so tests can create independent instances without colliding on
// the global default registry.
type Metrics struct {
	registry *prometheus.Registry

	Ticks           prometheus.Counter
	FiringsEnqueued prometheus.Counter
	LockContention  prometheus.Counter
	StorageErrors   prometheus.Counter
}

// New creates and registers the scheduler's metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cronbridge",
			Name:      "ticks_total",
			Help:      "Number of scheduler ticks executed.",
		}),
		FiringsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cronbridge",
			Name:      "firings_enqueued_total",
			Help:      "Number of firings that acquired their enqueue lock and were pushed onto a queue.",
		}),
		LockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cronbridge",
			Name:      "lock_contention_total",
			Help:      "Number of firings whose enqueue lock was already held (normal dedup outcome, not an error).",
		}),
		StorageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cronbridge",
			Name:      "storage_errors_total",
			Help:      "Number of Redis operations that failed.",
		}),
	}

	registry.MustRegister(m.Ticks, m.FiringsEnqueued, m.LockContention, m.StorageErrors)
	return m
}

// Handler returns the /metrics HTTP handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
