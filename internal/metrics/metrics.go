// Package metrics exposes Prometheus instruments for the session and
// push layers. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ticketdesk"

// Refresh outcomes.
const (
	RefreshSucceeded = "success"
	RefreshExpired   = "expired"
	RefreshFailed    = "error"
	RefreshDiscarded = "discarded"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	TokenRefreshes   *prometheus.CounterVec
	PushReconnects   prometheus.Counter
	PushEvents       *prometheus.CounterVec
	PushDroppedSends *prometheus.CounterVec
	PushConnected    prometheus.Gauge
	DispatchPanics   *prometheus.CounterVec
	ReconcileRuns    *prometheus.CounterVec
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refresh_total",
				Help:      "Total number of access token refresh calls by outcome",
			},
			[]string{"outcome"},
		),
		PushReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "push_reconnects_total",
				Help:      "Total number of push channel reconnect attempts",
			},
		),
		PushEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "push_events_total",
				Help:      "Total number of inbound push events",
			},
			[]string{"event"},
		),
		PushDroppedSends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "push_dropped_sends_total",
				Help:      "Total number of outbound push events dropped while disconnected",
			},
			[]string{"event"},
		),
		PushConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "push_connected",
				Help:      "1 while the push channel is connected",
			},
		),
		DispatchPanics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_panics_total",
				Help:      "Total number of recovered event handler panics",
			},
			[]string{"event"},
		),
		ReconcileRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_runs_total",
				Help:      "Total number of background notification reconciliations by result",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		m.TokenRefreshes,
		m.PushReconnects,
		m.PushEvents,
		m.PushDroppedSends,
		m.PushConnected,
		m.DispatchPanics,
		m.ReconcileRuns,
	)

	return m
}

// Registry returns the registry holding every metric.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the metrics in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRefresh counts a token refresh with the given outcome.
func (m *Metrics) RecordRefresh(outcome string) {
	if m == nil {
		return
	}
	m.TokenRefreshes.WithLabelValues(outcome).Inc()
}

// RecordReconnect counts a push reconnect attempt.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.PushReconnects.Inc()
}

// RecordEvent counts an inbound push event.
func (m *Metrics) RecordEvent(event string) {
	if m == nil {
		return
	}
	m.PushEvents.WithLabelValues(event).Inc()
}

// RecordDroppedSend counts an outbound event dropped while disconnected.
func (m *Metrics) RecordDroppedSend(event string) {
	if m == nil {
		return
	}
	m.PushDroppedSends.WithLabelValues(event).Inc()
}

// SetConnected updates the push connectivity gauge.
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.PushConnected.Set(1)
		return
	}
	m.PushConnected.Set(0)
}

// RecordPanic counts a recovered handler panic.
func (m *Metrics) RecordPanic(event string) {
	if m == nil {
		return
	}
	m.DispatchPanics.WithLabelValues(event).Inc()
}

// RecordReconcile counts a background reconciliation run.
func (m *Metrics) RecordReconcile(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ReconcileRuns.WithLabelValues("error").Inc()
		return
	}
	m.ReconcileRuns.WithLabelValues("success").Inc()
}
