// Package metrics defines the daemon's Prometheus collectors. Collectors are
// registered on the default registry and exposed by pkg/server at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesReceived counts frames read from the bus, per interface.
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rvlink_can_frames_received_total",
		Help: "CAN frames received, per interface.",
	}, []string{"interface"})

	// FramesSent counts frames written to the bus, per interface.
	FramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rvlink_can_frames_sent_total",
		Help: "CAN frames transmitted, per interface.",
	}, []string{"interface"})

	// InputOverflow counts frames dropped because the dispatcher inbox was full.
	InputOverflow = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rvlink_can_input_overflow_total",
		Help: "Frames dropped on ingress due to a full dispatcher inbox.",
	}, []string{"interface"})

	// DecodeResults counts decoder outcomes by kind
	// (decoded, unmapped, unknown, ignored, malformed).
	DecodeResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rvlink_decode_results_total",
		Help: "Frame decode outcomes by result kind.",
	}, []string{"result"})

	// OutOfOrderDrops counts entity updates rejected for violating timestamp
	// monotonicity.
	OutOfOrderDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rvlink_entity_out_of_order_drops_total",
		Help: "Entity updates dropped because they were older than the entity's last update.",
	})

	// EntityUpdates counts applied entity updates that produced a delta.
	EntityUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rvlink_entity_updates_total",
		Help: "Entity state updates that produced a delta.",
	})

	// SubscriptionDrops counts events dropped from subscriber queues.
	SubscriptionDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rvlink_subscription_dropped_events_total",
		Help: "Events dropped from subscription queues due to overflow.",
	})

	// SubscriptionOverflows counts subscriptions closed for persistent overflow.
	SubscriptionOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rvlink_subscription_overflow_closures_total",
		Help: "Subscriptions closed after exceeding the drop threshold.",
	})

	// CommandDuration observes end-to-end single command latency.
	CommandDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rvlink_command_duration_seconds",
		Help:    "Latency of single entity commands, encode through transmit.",
		Buckets: prometheus.DefBuckets,
	})

	// FeatureHealth reports feature health (0 unknown, 1 healthy, 2 degraded,
	// 3 failed), per feature.
	FeatureHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rvlink_feature_health",
		Help: "Feature health state: 0 unknown, 1 healthy, 2 degraded, 3 failed.",
	}, []string{"feature"})

	// DTCActive reports the number of active diagnostic trouble codes per
	// protocol.
	DTCActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rvlink_dtc_active",
		Help: "Active diagnostic trouble codes, per protocol.",
	}, []string{"protocol"})

	// WebsocketClients reports currently connected WebSocket stream clients.
	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rvlink_websocket_clients",
		Help: "Connected WebSocket stream clients.",
	})
)
