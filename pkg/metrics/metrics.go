// Package metrics exposes Prometheus instrumentation for live consultation sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "consult"

// Metrics holds the session collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	turnsStarted   *prometheus.CounterVec
	turnsCompleted prometheus.Counter
	turnsTimedOut  prometheus.Counter
	turnDuration   prometheus.Histogram
	eventsTotal    *prometheus.CounterVec
	malformedTotal *prometheus.CounterVec
	mediaTotal     *prometheus.CounterVec
	sessionErrors  *prometheus.CounterVec
	sessionsActive prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turnsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_started_total",
				Help:      "Total number of user turns sent to the live backend",
			},
			[]string{"modality"}, // text, audio, video, file
		),
		turnsCompleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_completed_total",
				Help:      "Total number of turns closed by a completion signal",
			},
		),
		turnsTimedOut: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_timed_out_total",
				Help:      "Total number of turns abandoned after the turn timeout",
			},
		),
		turnDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_duration_seconds",
				Help:      "Time from sending a turn to its completion signal",
				Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_received_total",
				Help:      "Total number of inbound live events by kind",
			},
			[]string{"kind"},
		),
		malformedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "malformed_events_total",
				Help:      "Inbound events that carried neither text nor a completion signal",
			},
			[]string{"kind"},
		),
		mediaTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "media_items_total",
				Help:      "Queued media items by outcome",
			},
			[]string{"status"}, // sent, error, dropped
		),
		sessionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_errors_total",
				Help:      "Session errors by type",
			},
			[]string{"type"},
		),
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of currently active live sessions",
			},
		),
	}
	m.registry.MustRegister(
		m.turnsStarted,
		m.turnsCompleted,
		m.turnsTimedOut,
		m.turnDuration,
		m.eventsTotal,
		m.malformedTotal,
		m.mediaTotal,
		m.sessionErrors,
		m.sessionsActive,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TurnStarted(modality string) {
	if m == nil {
		return
	}
	m.turnsStarted.WithLabelValues(modality).Inc()
}

func (m *Metrics) TurnCompleted(d time.Duration) {
	if m == nil {
		return
	}
	m.turnsCompleted.Inc()
	m.turnDuration.Observe(d.Seconds())
}

func (m *Metrics) TurnTimedOut() {
	if m == nil {
		return
	}
	m.turnsTimedOut.Inc()
}

func (m *Metrics) EventReceived(kind string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) MalformedEvent(kind string) {
	if m == nil {
		return
	}
	m.malformedTotal.WithLabelValues(kind).Inc()
}

// Media records a queued item outcome: "sent", "error" or "dropped".
func (m *Metrics) Media(status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.mediaTotal.WithLabelValues(status).Add(float64(n))
}

func (m *Metrics) SessionError(errType string) {
	if m == nil {
		return
	}
	m.sessionErrors.WithLabelValues(errType).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}
