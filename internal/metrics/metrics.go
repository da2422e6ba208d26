// Package metrics exposes the daemon's Prometheus counters and gauges over
// a private registry, so the supervisor, host, and registry can report
// tuner and sysctl activity without touching the global default registerer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge the supervisor, host, and registry
// update over the daemon's lifetime.
type Metrics struct {
	TunersLoaded      prometheus.Gauge
	EventsDispatched  prometheus.Counter
	DedupDrops        prometheus.Counter
	SysctlWrites      prometheus.Counter
	SysctlWriteErrors prometheus.Counter
	Rollbacks         prometheus.Counter

	registry *prometheus.Registry
}

// New constructs and registers every metric against a private registry, so
// multiple daemon instances in the same test process never collide on the
// default global registerer.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TunersLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bpftune_tuners_loaded",
			Help: "Number of tuners currently Initialized or Attached.",
		}),
		EventsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bpftune_events_dispatched_total",
			Help: "Number of ring events dispatched to a tuner's event_handler.",
		}),
		DedupDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bpftune_dedup_drops_total",
			Help: "Number of ring events suppressed by the dedup window.",
		}),
		SysctlWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bpftune_sysctl_writes_total",
			Help: "Number of sysctl writes committed by the registry.",
		}),
		SysctlWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bpftune_sysctl_write_errors_total",
			Help: "Number of sysctl writes that returned an error.",
		}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bpftune_rollbacks_total",
			Help: "Number of tunable values restored to original on tuner fini.",
		}),
		registry: reg,
	}

	reg.MustRegister(
		m.TunersLoaded,
		m.EventsDispatched,
		m.DedupDrops,
		m.SysctlWrites,
		m.SysctlWriteErrors,
		m.Rollbacks,
	)
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
