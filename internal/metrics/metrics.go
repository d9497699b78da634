// Package metrics holds the Prometheus collectors of the heartbeat server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "heartbeat"

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SessionsCreatedTotal     prometheus.Counter
	SessionsEvictedTotal     *prometheus.CounterVec
	PingsDispatchedTotal     prometheus.Counter
	PongsReceivedTotal       prometheus.Counter
	StreamEventsTotal        *prometheus.CounterVec
	PersistenceFailuresTotal *prometheus.CounterVec
	LoopFailuresTotal        *prometheus.CounterVec
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		SessionsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of sessions created",
		}),
		SessionsEvictedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Total number of sessions removed by the inactivity sweep",
		}, []string{"reason"}),
		PingsDispatchedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pings_dispatched_total",
			Help:      "Total number of application-level pings dispatched",
		}),
		PongsReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pongs_received_total",
			Help:      "Total number of pongs accepted",
		}),
		StreamEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Total number of events emitted on event streams",
		}, []string{"type"}),
		PersistenceFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Total number of failed persistence gateway calls",
		}, []string{"op"}),
		LoopFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liveness_loop_failures_total",
			Help:      "Total number of failed liveness loop iterations",
		}, []string{"loop"}),
	}

	registry.MustRegister(
		m.SessionsCreatedTotal,
		m.SessionsEvictedTotal,
		m.PingsDispatchedTotal,
		m.PongsReceivedTotal,
		m.StreamEventsTotal,
		m.PersistenceFailuresTotal,
		m.LoopFailuresTotal,
	)

	return m
}

// RegisterActiveSessions exposes the live session count as a gauge.
func (m *Metrics) RegisterActiveSessions(count func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of currently registered sessions",
	}, func() float64 {
		return float64(count())
	}))
}

// RegisterWebSocketClients exposes the number of open WebSocket clients as a gauge.
func (m *Metrics) RegisterWebSocketClients(count func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_clients",
		Help:      "Number of open WebSocket stream clients",
	}, func() float64 {
		return float64(count())
	}))
}

// Handler returns the exposition handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SessionCreated() {
	if m != nil {
		m.SessionsCreatedTotal.Inc()
	}
}

func (m *Metrics) SessionEvicted(reason string) {
	if m != nil {
		m.SessionsEvictedTotal.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) PingDispatched() {
	if m != nil {
		m.PingsDispatchedTotal.Inc()
	}
}

func (m *Metrics) PongReceived() {
	if m != nil {
		m.PongsReceivedTotal.Inc()
	}
}

func (m *Metrics) StreamEvent(eventType string) {
	if m != nil {
		m.StreamEventsTotal.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) PersistenceFailure(op string) {
	if m != nil {
		m.PersistenceFailuresTotal.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) LoopFailure(loop string) {
	if m != nil {
		m.LoopFailuresTotal.WithLabelValues(loop).Inc()
	}
}
