package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WS metrics
	ConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_ws_connections_active",
			Help: "Currently open websocket connections",
		},
		[]string{"endpoint"}, // "chat" or "notifications"
	)

	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_frames_received_total",
			Help: "Inbound websocket frames",
		},
		[]string{"intent"}, // "send", "delete", "relay", "invalid"
	)

	BroadcastDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_broadcast_dropped_total",
			Help: "Broadcast deliveries dropped (dead or slow subscriber)",
		},
	)

	// Business metrics
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages persisted and fanned out",
		},
	)

	MessagesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_deleted_total",
			Help: "Messages soft-deleted",
		},
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_notifications_created_total",
			Help: "Notifications persisted",
		},
		[]string{"type"},
	)

	NotificationsPushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_notifications_pushed_total",
			Help: "Notifications pushed to a live user group",
		},
	)
)
