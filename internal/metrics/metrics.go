// Package metrics exposes Prometheus counters for signaling and call outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector of this module.
var Registry = prometheus.NewRegistry()

var (
	reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcoord_signal_reconnects_total",
			Help: "Signaling reconnects by outcome (scheduled, fatal)",
		},
		[]string{"outcome"},
	)

	droppedSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcoord_signal_dropped_total",
			Help: "Signaling messages dropped by reason",
		},
		[]string{"reason"},
	)

	callOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcoord_calls_total",
			Help: "Calls torn down, by final state",
		},
		[]string{"state"},
	)

	relayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcoord_relay_messages_total",
			Help: "Signaling messages handled by the relay, by type",
		},
		[]string{"type"},
	)

	relayRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcoord_relay_rejected_total",
			Help: "Signaling messages rejected by the relay, by reason",
		},
		[]string{"reason"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "callcoord_active_sessions",
			Help: "Sessions currently active on the session API",
		},
	)
)

func init() {
	Registry.MustRegister(
		reconnects,
		droppedSignals,
		callOutcomes,
		relayed,
		relayRejected,
		activeSessions,
		collectors.NewGoCollector(),
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordReconnectScheduled records a reconnect attempt being scheduled
func RecordReconnectScheduled() { reconnects.WithLabelValues("scheduled").Inc() }

// RecordReconnectFatal records a connection given up after the last attempt
func RecordReconnectFatal() { reconnects.WithLabelValues("fatal").Inc() }

func RecordDroppedSignal(reason string) { droppedSignals.WithLabelValues(reason).Inc() }

func RecordCallOutcome(state string) { callOutcomes.WithLabelValues(state).Inc() }

func RecordRelayed(msgType string) { relayed.WithLabelValues(msgType).Inc() }

func RecordRelayRejected(reason string) { relayRejected.WithLabelValues(reason).Inc() }

func IncActiveSessions() { activeSessions.Inc() }

func DecActiveSessions() { activeSessions.Dec() }
