package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections is the gauge of live realtime connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "huddle_realtime_connections",
		Help: "Number of active realtime connections",
	})

	// RoomSubscriptions is the gauge of room subscriptions by room kind
	// (tenant or conversation).
	RoomSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "huddle_realtime_room_subscriptions",
		Help: "Number of active room subscriptions by room kind",
	}, []string{"kind"})

	// InboundEvents counts inbound socket events by type and outcome.
	InboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_realtime_inbound_events_total",
		Help: "Total inbound realtime events by type and outcome",
	}, []string{"event", "outcome"})

	// BroadcastsTotal counts room broadcasts by server event name.
	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_realtime_broadcasts_total",
		Help: "Total room broadcasts by event name",
	}, []string{"event"})

	// BackpressureDrops counts messages dropped because a client's send
	// buffer was full or its channel closed.
	BackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_realtime_backpressure_drops_total",
		Help: "Total realtime messages dropped due to backpressure",
	}, []string{"reason"})

	// PresenceTransitions counts presence state transitions by target status.
	PresenceTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_presence_transitions_total",
		Help: "Total presence transitions by target status",
	}, []string{"status"})

	// RedisErrors counts Redis errors by operation type.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_redis_errors_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})
)
