package boltproxy

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/boltproxy/boltproxy/internal/store"
)

// Metrics exposes the control surface's own observability, registered
// on whatever *prometheus.Registry the admin package's router wires
// up. It never touches the data path itself.
type Metrics struct {
	ActiveWorkers prometheus.GaugeFunc
	CacheSize     prometheus.GaugeFunc
	DenylistSize  prometheus.GaugeFunc
	LogEvents     *prometheus.CounterVec
}

// NewMetrics builds and registers the gauges/counters against reg.
func NewMetrics(reg *prometheus.Registry, controller *Controller, cache *store.Cache, denylist *store.Denylist) *Metrics {
	m := &Metrics{
		ActiveWorkers: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "boltproxy",
			Name:      "active_workers",
			Help:      "Number of connection workers currently running.",
		}, func() float64 { return float64(controller.ActiveWorkers()) }),
		CacheSize: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "boltproxy",
			Name:      "cache_entries",
			Help:      "Number of entries currently in the response cache.",
		}, func() float64 { return float64(cache.Size()) }),
		DenylistSize: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "boltproxy",
			Name:      "denylist_hosts",
			Help:      "Number of hosts currently denylisted.",
		}, func() float64 { return float64(denylist.Size()) }),
		LogEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boltproxy",
			Name:      "log_events_total",
			Help:      "Count of audit log events recorded, by action tag.",
		}, []string{"action"}),
	}
	reg.MustRegister(m.ActiveWorkers, m.CacheSize, m.DenylistSize, m.LogEvents)
	return m
}

// ObserveLogEvents replays the log store's current snapshot into the
// per-action counter. It is called lazily by the admin /metrics handler
// rather than hooked into every Log.Append, so the log store itself
// stays free of any metrics dependency.
func (m *Metrics) ObserveLogEvents(events []store.Event) {
	counts := make(map[store.Action]float64)
	for _, e := range events {
		counts[e.Action]++
	}
	m.LogEvents.Reset()
	for action, n := range counts {
		m.LogEvents.WithLabelValues(string(action)).Add(n)
	}
}
