package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Notification delivery channels.
const (
	DeliveryLive       = "live"
	DeliveryPush       = "push"
	DeliverySuppressed = "suppressed"
)

var (
	WsSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "connect_ws_sessions",
		Help: "Current number of authenticated websocket sessions",
	})
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connect_messages_total",
		Help: "Total number of accepted chat messages",
	}, []string{"kind"})
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connect_notifications_total",
		Help: "Notifications by delivery channel",
	}, []string{"channel"})
	PushPrunedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "connect_push_subscriptions_pruned_total",
		Help: "Push subscriptions removed after an expired or not-found response",
	})
	SlowModeRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "connect_slow_mode_rejections_total",
		Help: "Messages rejected by room slow mode",
	})
	RateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connect_rate_limited_total",
		Help: "HTTP requests rejected by a rate limiter",
	}, []string{"limiter"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsSessions,
		MessagesTotal,
		NotificationsTotal,
		PushPrunedTotal,
		SlowModeRejectionsTotal,
		RateLimitedTotal,
		HttpRequestsTotal,
		HttpRequestDuration,
	)
}

// Middleware records request count and latency per route.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		labels := prometheus.Labels{"method": c.Method(), "path": path, "status": strconv.Itoa(status)}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler serves the Prometheus exposition format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
