package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the script-cache Prometheus collectors, registered into a
// caller-supplied registry the way the teacher's pkg/metrics registers its
// own collectors into a package-level prometheus.Registry.
type Metrics struct {
	entries    prometheus.Gauge
	memory     prometheus.Gauge
	evictions  prometheus.Counter
	hits       prometheus.Counter
	misses     prometheus.Counter
	flushes    *prometheus.CounterVec
	pending    prometheus.Gauge
	freed      prometheus.Counter
}

// NewMetrics builds the script-cache collectors. reg may be nil, in which
// case the metrics are created but never exposed (useful in tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scriptlayer",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current number of cached script entries (ephemeral + pinned).",
		}),
		memory: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scriptlayer",
			Subsystem: "cache",
			Name:      "memory_bytes",
			Help:      "Current digest+body byte usage of the script cache.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scriptlayer",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of ephemeral entries evicted from the LRU.",
		}),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scriptlayer",
			Subsystem: "cache",
			Name:      "lookup_hits_total",
			Help:      "Total number of cache lookups that found an entry.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scriptlayer",
			Subsystem: "cache",
			Name:      "lookup_misses_total",
			Help:      "Total number of cache lookups that found nothing.",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scriptlayer",
			Subsystem: "cache",
			Name:      "flushes_total",
			Help:      "Total number of SCRIPT FLUSH operations, by mode.",
		}, []string{"mode"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scriptlayer",
			Subsystem: "cache",
			Name:      "reclaim_pending_objects",
			Help:      "Objects handed to the reclamation pool but not yet freed.",
		}),
		freed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scriptlayer",
			Subsystem: "cache",
			Name:      "reclaim_freed_objects_total",
			Help:      "Total objects freed by the reclamation pool.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.entries, m.memory, m.evictions, m.hits, m.misses, m.flushes, m.pending, m.freed)
	}
	return m
}
