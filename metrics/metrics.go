package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by the deployer.
const Namespace = "bridge_deployer"

// DurationBuckets covers chain round-trips from a fast read to a slow confirmation.
var DurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

var started = time.Now()

// Uptime reports seconds since the process loaded this package. It is
// computed on every scrape of the status API.
var Uptime = NewComponentRegistry(Namespace, "core").NewGaugeFunc(
	prometheus.GaugeOpts{
		Name: "uptime_seconds",
		Help: "Seconds since the deployer process started",
	},
	func() float64 { return time.Since(started).Seconds() },
)
