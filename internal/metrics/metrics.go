package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_session_transitions_total",
			Help: "Session state transitions by target state",
		},
		[]string{"to"},
	)

	ReconnectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatgate_reconnect_attempts_total",
			Help: "Reconnect attempts across all tenants",
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatgate_active_sessions",
			Help: "Provisioned tenant supervisors",
		},
	)

	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_messages_total",
			Help: "Outbound message lifecycle counter by stage",
		},
		[]string{"stage"}, // enqueued | rejected | sent | failed
	)

	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_events_total",
			Help: "Events published on the bus by kind",
		},
		[]string{"kind"},
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatgate_events_dropped_total",
			Help: "Events dropped by the bus under backpressure",
		},
	)

	SinkDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_sink_deliveries_total",
			Help: "Sink delivery outcomes by sink kind",
		},
		[]string{"sink", "outcome"}, // delivered | failed
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		SessionTransitions,
		ReconnectAttempts,
		ActiveSessions,
		MessagesTotal,
		EventsTotal,
		EventsDropped,
		SinkDeliveries,
	)
}
