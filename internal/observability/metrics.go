package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the agent and daemon.
type Metrics struct {
	registry      *prometheus.Registry
	Runs          *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	Iterations    prometheus.Counter
	Actions       *prometheus.CounterVec
	ThrottleWaits prometheus.Counter
	ThrottleSecs  prometheus.Histogram
	ActiveSession *prometheus.GaugeVec
	TransportErrs *prometheus.CounterVec
}

// NewMetrics constructs a metrics registry with agent collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deskpilot_runs_total",
		Help: "Finished agent runs by status and reason",
	}, []string{"status", "reason"})

	durs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deskpilot_run_duration_seconds",
		Help:    "Agent run duration in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
	}, []string{"status"})

	iterations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deskpilot_iterations_total",
		Help: "Model round trips performed",
	})

	actions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deskpilot_actions_total",
		Help: "Dispatched tool actions by kind and result",
	}, []string{"action", "result"})

	waits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deskpilot_throttle_waits_total",
		Help: "Requests retried after a rate-limit response",
	})

	waitSecs := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "deskpilot_throttle_wait_seconds",
		Help:    "Time spent waiting for rate-limit windows",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	active := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "deskpilot_transport_active_sessions",
		Help: "Active streaming sessions by transport",
	}, []string{"transport"})

	trErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deskpilot_transport_errors_total",
		Help: "Transport-level errors (handler/streaming) by transport and reason",
	}, []string{"transport", "reason"})

	reg.MustRegister(runs, durs, iterations, actions, waits, waitSecs, active, trErrors)

	return &Metrics{
		registry:      reg,
		Runs:          runs,
		RunDuration:   durs,
		Iterations:    iterations,
		Actions:       actions,
		ThrottleWaits: waits,
		ThrottleSecs:  waitSecs,
		ActiveSession: active,
		TransportErrs: trErrors,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(status, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.Runs.WithLabelValues(status, reason).Inc()
	m.RunDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordIteration counts one model round trip.
func (m *Metrics) RecordIteration() {
	if m == nil {
		return
	}
	m.Iterations.Inc()
}

// RecordAction counts a dispatched action.
func (m *Metrics) RecordAction(action string, failed bool) {
	if m == nil {
		return
	}
	if action == "" {
		action = "unknown"
	}
	result := "ok"
	if failed {
		result = "error"
	}
	m.Actions.WithLabelValues(action, result).Inc()
}

// RecordThrottle records one rate-limit wait.
func (m *Metrics) RecordThrottle(wait time.Duration) {
	if m == nil {
		return
	}
	m.ThrottleWaits.Inc()
	m.ThrottleSecs.Observe(wait.Seconds())
}

// IncActiveSessions increments the active session gauge.
func (m *Metrics) IncActiveSessions(transport string) {
	if m == nil {
		return
	}
	m.ActiveSession.WithLabelValues(transport).Inc()
}

// DecActiveSessions decrements the active session gauge.
func (m *Metrics) DecActiveSessions(transport string) {
	if m == nil {
		return
	}
	m.ActiveSession.WithLabelValues(transport).Dec()
}

// RecordTransportError records a transport-level error.
func (m *Metrics) RecordTransportError(transport, reason string) {
	if m == nil {
		return
	}
	if transport == "" {
		transport = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	m.TransportErrs.WithLabelValues(transport, reason).Inc()
}
