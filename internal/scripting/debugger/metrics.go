package debugger

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the debugger's Prometheus collectors, mirroring the cache
// package's Metrics (which in turn mirrors the teacher's pkg/metrics
// package-level collector convention).
type Metrics struct {
	activeSessions prometheus.Gauge
	sessionsTotal  prometheus.Counter
	killedChildren prometheus.Counter
}

// NewMetrics builds the debugger's collectors. reg may be nil in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scriptlayer",
			Subsystem: "debugger",
			Name:      "active_sessions",
			Help:      "1 if a debugger session currently owns the process-singleton, else 0.",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scriptlayer",
			Subsystem: "debugger",
			Name:      "sessions_started_total",
			Help:      "Total number of debugger sessions started (forked or synchronous).",
		}),
		killedChildren: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scriptlayer",
			Subsystem: "debugger",
			Name:      "killed_children_total",
			Help:      "Total number of forked-session child processes SIGKILLed by KillAll.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.activeSessions, m.sessionsTotal, m.killedChildren)
	}
	return m
}
