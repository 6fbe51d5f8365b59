package chain

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/compose-network/bridge-deployer/metrics"
)

var writeDuration = metrics.NewComponentRegistry(metrics.Namespace, "chain").NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "write_duration_seconds",
		Help:    "Time from nonce lookup to confirmation of a chain write",
		Buckets: metrics.DurationBuckets,
	},
	[]string{"network", "operation"},
)
