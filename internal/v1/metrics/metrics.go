package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the collaborative editing server.
//
// Naming convention: namespace_subsystem_name
// - namespace: collab_editor (application-level grouping)
// - subsystem: websocket, room (feature-level grouping)
// - name: specific metric (connections_active, operations_total, etc.)

var (
	// ActiveWebSocketConnections tracks the current number of open client transports
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "collab_editor",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of registered rooms
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "collab_editor",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomMembers tracks the number of members in each room
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "collab_editor",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room_id"})

	// WebsocketEvents tracks the total number of protocol messages processed
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab_editor",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks time spent dispatching inbound messages
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "collab_editor",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// OperationsApplied tracks document operations committed to room history
	OperationsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab_editor",
		Subsystem: "room",
		Name:      "operations_applied_total",
		Help:      "Total document operations applied, by operation type",
	}, []string{"type"})

	// OperationsRejected tracks operations that failed validation or apply
	OperationsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab_editor",
		Subsystem: "room",
		Name:      "operations_rejected_total",
		Help:      "Total document operations rejected, by reason",
	}, []string{"reason"})

	// RateLimitRequests tracks requests that passed the rate limiter
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab_editor",
		Subsystem: "ratelimit",
		Name:      "requests_total",
		Help:      "Total requests checked against a rate limit",
	}, []string{"path"})

	// RateLimitExceeded tracks requests rejected by the rate limiter
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab_editor",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Total requests rejected by a rate limit",
	}, []string{"path", "limit_type"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
