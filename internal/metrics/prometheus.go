package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the supervisor.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Reconcile metrics
	ReconcileTotal    *prometheus.CounterVec
	ReconcileDuration *prometheus.HistogramVec
	ReconcileActions  *prometheus.CounterVec

	// Worker metrics
	WorkersActive *prometheus.GaugeVec
	WorkerCrashes *prometheus.CounterVec

	// Event metrics
	EventsTotal   *prometheus.CounterVec
	EventDuration *prometheus.HistogramVec
	AgentErrors   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers Prometheus metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ReconcileTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botsupervisor_reconcile_total",
				Help: "Total number of reconcile passes",
			},
			[]string{"platform", "status"},
		),

		ReconcileDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "botsupervisor_reconcile_duration_seconds",
				Help:    "Duration of reconcile passes",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"platform"},
		),

		ReconcileActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botsupervisor_reconcile_actions_total",
				Help: "Worker actions taken by the reconciler",
			},
			[]string{"platform", "action", "status"},
		),

		WorkersActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "botsupervisor_workers_active",
				Help: "Number of registered workers",
			},
			[]string{"platform"},
		),

		WorkerCrashes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botsupervisor_worker_crashes_total",
				Help: "Total number of workers that exited unexpectedly",
			},
			[]string{"platform"},
		),

		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botsupervisor_events_total",
				Help: "Total number of events handled, by outcome",
			},
			[]string{"platform", "outcome"},
		),

		EventDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "botsupervisor_event_duration_seconds",
				Help:    "Duration of event handling",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"platform"},
		),

		AgentErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botsupervisor_agent_errors_total",
				Help: "Total number of downstream agent failures",
			},
			[]string{"platform"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botsupervisor_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "botsupervisor_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// RecordReconcile records one reconcile pass
func (m *Metrics) RecordReconcile(platform, status string, duration float64) {
	if m == nil {
		return
	}
	m.ReconcileTotal.WithLabelValues(platform, status).Inc()
	m.ReconcileDuration.WithLabelValues(platform).Observe(duration)
}

// RecordAction records a start, stop or restart
func (m *Metrics) RecordAction(platform, action, status string) {
	if m == nil {
		return
	}
	m.ReconcileActions.WithLabelValues(platform, action, status).Inc()
}

// SetWorkersActive updates the registered worker gauge
func (m *Metrics) SetWorkersActive(platform string, count int) {
	if m == nil {
		return
	}
	m.WorkersActive.WithLabelValues(platform).Set(float64(count))
}

// RecordCrash records a worker that exited unexpectedly
func (m *Metrics) RecordCrash(platform string) {
	if m == nil {
		return
	}
	m.WorkerCrashes.WithLabelValues(platform).Inc()
}

// RecordEvent records one handled event
func (m *Metrics) RecordEvent(platform, outcome string, duration float64) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(platform, outcome).Inc()
	m.EventDuration.WithLabelValues(platform).Observe(duration)
}

// RecordAgentError records a downstream agent failure
func (m *Metrics) RecordAgentError(platform string) {
	if m == nil {
		return
	}
	m.AgentErrors.WithLabelValues(platform).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration)
}
