// Package metrics registers the Prometheus collectors exported at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_active_connections",
			Help: "Currently open WebSocket connections",
		},
	)

	Rooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_rooms",
			Help: "Rooms known to the broadcaster",
		},
	)

	// Relay metrics
	MessagesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_relayed_total",
			Help: "Chat messages persisted and broadcast",
		},
		[]string{"message_type"},
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_rejected_total",
			Help: "Inbound frames answered with an error",
		},
		[]string{"reason"},
	)

	DeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_delivery_failures_total",
			Help: "Per-recipient deliveries that failed during fan-out",
		},
	)

	PresenceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_presence_transitions_total",
			Help: "Aggregate online/offline transitions",
		},
		[]string{"state"},
	)

	// Storage metrics
	PersistenceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_persistence_errors_total",
			Help: "Failed calls into the storage collaborator",
		},
		[]string{"operation"},
	)

	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_store_latency_seconds",
			Help:    "Storage call latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)
)

// ObserveStore records the latency of a storage call started at start and
// counts it as an error when err is non-nil.
func ObserveStore(operation string, start time.Time, err error) {
	StoreLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		PersistenceErrors.WithLabelValues(operation).Inc()
	}
}
