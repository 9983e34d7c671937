// Package metrics exposes Prometheus collectors for the debugging core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "jswat"

// Metrics holds the collectors updated by the dispatcher, the breakpoint
// registry and the session manager.
type Metrics struct {
	// Dispatcher metrics
	EventsDispatched *prometheus.CounterVec
	ListenerFailures *prometheus.CounterVec
	EventSetDuration prometheus.Histogram

	// Breakpoint metrics
	BreakpointHits    *prometheus.CounterVec
	BreakpointStops   *prometheus.CounterVec
	Resolutions       *prometheus.CounterVec
	BreakpointsActive prometheus.Gauge

	// Session metrics
	SessionsConnected prometheus.Gauge
	SessionEvents     *prometheus.CounterVec

	startTime time.Time
}

// New creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		startTime: time.Now(),

		EventsDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dispatched_total",
				Help:      "Debuggee events delivered to listeners",
			},
			[]string{"kind"},
		),
		ListenerFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "listener_failures_total",
				Help:      "Listener invocations that returned an error or panicked",
			},
			[]string{"reason"},
		),
		EventSetDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "event_set_duration_seconds",
				Help:      "Time spent routing one event set through the listener chain",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
		),
		BreakpointHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breakpoint_hits_total",
				Help:      "Breakpoint hits, before skip counts and conditions",
			},
			[]string{"kind"},
		),
		BreakpointStops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breakpoint_stops_total",
				Help:      "Breakpoint hits that stopped the debuggee",
			},
			[]string{"kind"},
		),
		Resolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breakpoint_resolutions_total",
				Help:      "Breakpoint resolution attempts by outcome",
			},
			[]string{"outcome"},
		),
		BreakpointsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "breakpoints_resolved",
				Help:      "Breakpoints currently holding a live request",
			},
		),
		SessionsConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_connected",
				Help:      "Sessions with a live debuggee connection",
			},
		),
		SessionEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_events_total",
				Help:      "Session lifecycle events fired",
			},
			[]string{"type"},
		),
	}
}

// Uptime returns how long the collectors have existed.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// ObserveSince records the elapsed time since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
