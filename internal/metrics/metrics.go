// Package metrics provides Prometheus instrumentation for the messenger
// real-time core. It exposes gauges for connection counts, counters for
// event fan-out and message throughput, and histograms for latency tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "messenger_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// EventsDelivered counts events enqueued to connections, labeled by event type.
	EventsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_events_delivered_total",
		Help: "Total number of events delivered to connection queues",
	}, []string{"type"})

	// EventsDropped counts fan-out drops, labeled by reason:
	// "queue_full" or "resolve_error".
	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_events_dropped_total",
		Help: "Total number of events dropped during fan-out",
	}, []string{"reason"})

	// MessagesTotal counts pipeline outcomes, labeled by result:
	// "sent", "rejected", "edited", "deleted".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_messages_total",
		Help: "Total number of message pipeline operations",
	}, []string{"result"})

	// DispatchLatency records end-to-end fan-out latency in seconds.
	DispatchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "messenger_dispatch_latency_seconds",
		Help:    "Event fan-out latency in seconds",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// PresenceTransitions counts presence state changes, labeled by new status.
	PresenceTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_presence_transitions_total",
		Help: "Total number of presence status transitions",
	}, []string{"status"})

	// HistoryPulls counts history queries served (the reconnect recovery path).
	HistoryPulls = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messenger_history_pulls_total",
		Help: "Total number of history pull requests served",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		EventsDelivered,
		EventsDropped,
		MessagesTotal,
		DispatchLatency,
		PresenceTransitions,
		HistoryPulls,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
