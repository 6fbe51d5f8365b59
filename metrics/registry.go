package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registryOnce   sync.Once
	customRegistry *prometheus.Registry
)

// GetRegistry returns the registry served on the status API's metrics
// route. Engine run counters, chain write latencies and uptime all land
// here; nothing is registered on the prometheus default registry.
func GetRegistry() *prometheus.Registry {
	registryOnce.Do(func() {
		customRegistry = prometheus.NewRegistry()
	})
	return customRegistry
}

// ComponentRegistry registers one deployer component's metrics under
// bridge_deployer_<subsystem>_<name>.
type ComponentRegistry struct {
	namespace string
	subsystem string
	registry  *prometheus.Registry
}

// NewComponentRegistry binds namespace and subsystem to the shared registry.
func NewComponentRegistry(namespace, subsystem string) *ComponentRegistry {
	return &ComponentRegistry{
		namespace: namespace,
		subsystem: subsystem,
		registry:  GetRegistry(),
	}
}

func (r *ComponentRegistry) NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	opts.Namespace = r.namespace
	opts.Subsystem = r.subsystem
	return promauto.With(r.registry).NewCounterVec(opts, labelNames)
}

func (r *ComponentRegistry) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace = r.namespace
	opts.Subsystem = r.subsystem
	return promauto.With(r.registry).NewGauge(opts)
}

// NewGaugeFunc registers a gauge whose value is read from fn at scrape time.
func (r *ComponentRegistry) NewGaugeFunc(opts prometheus.GaugeOpts, fn func() float64) prometheus.GaugeFunc {
	opts.Namespace = r.namespace
	opts.Subsystem = r.subsystem
	return promauto.With(r.registry).NewGaugeFunc(opts, fn)
}

// NewHistogramVec is used for chain write latency, labelled by network and operation.
func (r *ComponentRegistry) NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string,
) *prometheus.HistogramVec {
	opts.Namespace = r.namespace
	opts.Subsystem = r.subsystem
	return promauto.With(r.registry).NewHistogramVec(opts, labelNames)
}
