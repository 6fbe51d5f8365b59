package reconcile

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/compose-network/bridge-deployer/metrics"
)

// Metrics holds engine-level metrics
type Metrics struct {
	ResourcesProvisioned *prometheus.CounterVec
	Deltas               *prometheus.CounterVec
	Errors               *prometheus.CounterVec
	PassDuration         *prometheus.HistogramVec
	LastRunTimestamp     prometheus.Gauge
}

var engineMetrics = sync.OnceValue(func() *Metrics {
	reg := metrics.NewComponentRegistry(metrics.Namespace, "engine")

	return &Metrics{
		ResourcesProvisioned: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "resources_provisioned_total",
			Help: "Resources created or imported",
		}, []string{"network", "role"}),

		Deltas: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "deltas_total",
			Help: "Reconcile checks by outcome",
		}, []string{"network", "kind", "outcome"}),

		Errors: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Errors by kind",
		}, []string{"kind"}),

		PassDuration: reg.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pass_duration_seconds",
			Help:    "Duration of one engine pass over all networks",
			Buckets: metrics.DurationBuckets,
		}, []string{"pass"}),

		LastRunTimestamp: reg.NewGauge(prometheus.GaugeOpts{
			Name: "last_run_timestamp_seconds",
			Help: "Unix time of the last completed run",
		}),
	}
})
