package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebSocket metrics
	WebSocketConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
		[]string{"stream"},
	)

	WebSocketFramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_frames_sent_total",
			Help: "Total number of snapshot frames sent via WebSocket",
		},
		[]string{"stream"},
	)

	// Database metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"operation", "table"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_open",
			Help: "Number of open database connections",
		},
	)

	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	// Chat core metrics
	ChatMessagesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_appended_total",
			Help: "Messages appended to chats, by message kind",
		},
		[]string{"kind"},
	)

	ChatMembershipOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_membership_ops_total",
			Help: "Membership operations by operation and result",
		},
		[]string{"op", "result"},
	)

	ChatBookkeepingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_bookkeeping_failures_total",
			Help: "Follow-up writes that failed after the primary write committed",
		},
		[]string{"stage"},
	)

	ChatStoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_store_retries_total",
			Help: "Retries of facade operations after the store was unavailable",
		},
		[]string{"op"},
	)

	ChatLiveSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_live_subscriptions",
			Help: "Open read-model subscriptions",
		},
		[]string{"stream"},
	)

	PushNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_notifications_total",
			Help: "Push notifications handled by the worker",
		},
		[]string{"result"},
	)
)

// Result label values
const (
	ResultOK    = "ok"
	ResultNoop  = "noop"
	ResultError = "error"
)
