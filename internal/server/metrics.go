package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are registered on a per-server registry so tests can create many
// servers.
type Metrics struct {
	registry *prometheus.Registry

	Rebuilds        *prometheus.CounterVec
	RebuildDuration prometheus.Histogram
	Commits         prometheus.Gauge
	Clients         prometheus.Gauge
	Dropped         prometheus.Counter
}

func newMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "topo_order_rebuilds_total",
			Help: "Total number of history scans, labelled by outcome.",
		}, []string{"result"}),
		RebuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "topo_order_rebuild_duration_seconds",
			Help:    "Time to read, sort and annotate the history.",
			Buckets: prometheus.DefBuckets,
		}),
		Commits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "topo_order_commits",
			Help: "Number of commits in the last successful scan.",
		}),
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "topo_order_websocket_clients",
			Help: "Currently connected websocket clients.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "topo_order_broadcasts_dropped_total",
			Help: "Updates dropped because the broadcast queue was full.",
		}),
	}
	m.registry.MustRegister(m.Rebuilds, m.RebuildDuration, m.Commits, m.Clients, m.Dropped)
	return m
}
