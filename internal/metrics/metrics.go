// Package metrics exposes Prometheus collectors for the application host.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records lifecycle telemetry. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	allocations   *prometheus.CounterVec
	resolutions   *prometheus.CounterVec
	starts        *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "apphost"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.allocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      "allocations_total",
			Help:      "Total number of endpoint allocations",
		},
		[]string{"resource", "result"},
	)

	c.resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "expression",
			Name:      "resolutions_total",
			Help:      "Total number of reference expression resolutions",
		},
		[]string{"result"},
	)

	c.starts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resource",
			Name:      "starts_total",
			Help:      "Total number of resource starts",
		},
		[]string{"kind", "result"},
	)

	c.phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "phase_duration_seconds",
			Help:      "Time spent in each lifecycle phase",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"phase"},
	)

	c.registry.MustRegister(c.allocations, c.resolutions, c.starts, c.phaseDuration)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collected metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordAllocation counts an endpoint allocation.
func (c *Collector) RecordAllocation(resource string, err error) {
	if c == nil {
		return
	}
	c.allocations.WithLabelValues(resource, result(err)).Inc()
}

// RecordResolution counts an expression resolution.
func (c *Collector) RecordResolution(err error) {
	if c == nil {
		return
	}
	c.resolutions.WithLabelValues(result(err)).Inc()
}

// RecordStart counts a resource start.
func (c *Collector) RecordStart(kind string, err error) {
	if c == nil {
		return
	}
	c.starts.WithLabelValues(kind, result(err)).Inc()
}

// ObservePhase records how long a lifecycle phase took.
func (c *Collector) ObservePhase(phase string, d time.Duration) {
	if c == nil {
		return
	}
	c.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
