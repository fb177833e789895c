package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	WSConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "im_realtime_ws_connections",
		Help: "Current authenticated websocket connections.",
	})
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "im_realtime_online_users",
		Help: "Users currently marked online by the presence tracker.",
	})
	Subscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "im_realtime_subscriptions",
		Help: "Active pub/sub subscriptions on this node.",
	})

	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_realtime_events_published_total",
		Help: "Events published to the local broker, by event type.",
	}, []string{"type"})
	EventsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_realtime_events_delivered_total",
		Help: "Events enqueued to subscriber buffers.",
	})
	RelayEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_realtime_relay_events_total",
		Help: "Cross-node relay events, by direction (out/in) and result.",
	}, []string{"direction", "result"})

	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_realtime_messages_sent_total",
		Help: "Messages persisted, by conversation kind (direct/group).",
	}, []string{"kind"})
	SideEffectFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_realtime_side_effect_failures_total",
		Help: "Swallowed failures of publish/notify/presence side effects.",
	}, []string{"kind"})

	TasksRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_realtime_tasks_rejected_total",
		Help: "Async tasks dropped because the worker queue was full.",
	})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_realtime_http_requests_total",
		Help: "HTTP requests, by method, route and status.",
	}, []string{"method", "route", "status"})
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "im_realtime_http_request_duration_seconds",
		Help:    "HTTP request latency, by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			WSConnections, OnlineUsers, Subscriptions,
			EventsPublished, EventsDelivered, RelayEvents,
			MessagesSent, SideEffectFailures, TasksRejected,
			HTTPRequests, HTTPDuration,
		)
	})
}
