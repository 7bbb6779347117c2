// Package metrics provides Prometheus instrumentation for the OMECHAT client
// core and the dev relay. It exposes counters for message throughput and
// discarded work, a histogram for match latency, and gauges for relay load.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesTotal counts chat messages handled by the session, labeled by
	// direction: "sent" or "received".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "omechat_messages_total",
		Help: "Total number of chat messages handled",
	}, []string{"direction"})

	// DroppedSendsTotal counts outbound messages dropped because the
	// transport was not connected.
	DroppedSendsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "omechat_dropped_sends_total",
		Help: "Outbound messages dropped while disconnected",
	})

	// StaleEventsTotal counts inbound events discarded because their search
	// attempt had been superseded.
	StaleEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "omechat_stale_events_total",
		Help: "Inbound events discarded as stale",
	})

	// ReconnectAttemptsTotal counts transport reconnection attempts.
	ReconnectAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "omechat_reconnect_attempts_total",
		Help: "Transport reconnection attempts",
	})

	// MatchDuration records the time from join emission to partner-found.
	MatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "omechat_match_duration_seconds",
		Help:    "Time from join emission to partner-found",
		Buckets: []float64{.1, .5, 1, 2, 5, 10, 15, 20, 30},
	})

	// RelayConnections tracks the current number of relay client connections.
	RelayConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "omechat_relay_connections",
		Help: "Current number of relay client connections",
	})

	// RelayActiveRooms tracks the current number of paired rooms on the relay.
	RelayActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "omechat_relay_active_rooms",
		Help: "Current number of active relay rooms",
	})

	// RelayWaiting tracks the number of clients waiting to be paired.
	RelayWaiting = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "omechat_relay_waiting",
		Help: "Current number of clients waiting for a partner",
	})
)

func init() {
	prometheus.MustRegister(
		MessagesTotal,
		DroppedSendsTotal,
		StaleEventsTotal,
		ReconnectAttemptsTotal,
		MatchDuration,
		RelayConnections,
		RelayActiveRooms,
		RelayWaiting,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
