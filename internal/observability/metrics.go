// Package observability exposes the bus's Prometheus series (§4.10):
// publish throughput, backlog size, long-poll latency, and subscriber
// counts, alongside generic HTTP request metrics for the handler stack.
package observability

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus series the bus registers.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	publishTotal          *prometheus.CounterVec
	publishDuration       prometheus.Histogram
	backlogSize           *prometheus.GaugeVec
	globalID              prometheus.Gauge
	longpollActive        prometheus.Gauge
	longpollDuration       *prometheus.HistogramVec
	subscribers           *prometheus.GaugeVec
	backendErrorsTotal    *prometheus.CounterVec
}

// NewMetrics creates and registers every series. It panics on duplicate
// registration, matching promauto's behavior, so it must be called
// exactly once per process (the entrypoint owns this).
func NewMetrics() *Metrics {
	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messagebus_http_requests_total",
				Help: "Total number of HTTP requests handled.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "messagebus_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path", "status"},
		),

		publishTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messagebus_publish_total",
				Help: "Total number of messages published, by channel.",
			},
			[]string{"channel"},
		),
		publishDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "messagebus_publish_duration_seconds",
				Help:    "Backend publish call latency in seconds.",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
			},
		),
		backlogSize: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "messagebus_backlog_size",
				Help: "Best-effort sampled size of a channel's backlog.",
			},
			[]string{"channel"},
		),
		globalID: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "messagebus_global_id",
				Help: "Last global_id assigned, observed by the reliable-pubsub loop.",
			},
		),
		longpollActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "messagebus_longpoll_active",
				Help: "Current number of in-flight long-poll requests.",
			},
		),
		longpollDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "messagebus_longpoll_duration_seconds",
				Help:    "Long-poll request duration in seconds, by outcome.",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 25, 60},
			},
			[]string{"outcome"},
		),
		subscribers: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "messagebus_subscribers",
				Help: "Current number of in-process local subscribers, by channel.",
			},
			[]string{"channel"},
		),
		backendErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messagebus_backend_errors_total",
				Help: "Total number of backend errors, by error kind.",
			},
			[]string{"kind"},
		),
	}
}

// MetricsMiddleware returns a Fiber middleware recording generic HTTP
// request counters and latency histograms for every route.
func (m *Metrics) MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		path := normalizePath(c.Path())
		method := c.Method()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := statusClass(c.Response().StatusCode())

		m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)

		return err
	}
}

// RecordPublish records one successful Engine.Publish call.
func (m *Metrics) RecordPublish(channel string, duration time.Duration) {
	m.publishTotal.WithLabelValues(channel).Inc()
	m.publishDuration.Observe(duration.Seconds())
}

// SetBacklogSize records a sampled backlog size for channel.
func (m *Metrics) SetBacklogSize(channel string, size int) {
	m.backlogSize.WithLabelValues(channel).Set(float64(size))
}

// SetGlobalID records the last global_id observed by the reliable-pubsub
// loop.
func (m *Metrics) SetGlobalID(id uint64) {
	m.globalID.Set(float64(id))
}

// LongpollStarted increments the in-flight long-poll gauge; the caller
// must invoke the returned func exactly once when the request completes.
func (m *Metrics) LongpollStarted() func(outcome string) {
	m.longpollActive.Inc()
	start := time.Now()
	return func(outcome string) {
		m.longpollActive.Dec()
		m.longpollDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
}

// SetSubscribers records the current local subscriber count for channel.
func (m *Metrics) SetSubscribers(channel string, count int) {
	m.subscribers.WithLabelValues(channel).Set(float64(count))
}

// RecordBackendError records a backend failure by kind. The engine records
// kind "publish" for every failed Engine.Publish, including one rejected
// because the store is read-only.
func (m *Metrics) RecordBackendError(kind string) {
	m.backendErrorsTotal.WithLabelValues(kind).Inc()
}

// Handler returns a Fiber handler exposing the Prometheus text format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// normalizePath caps path cardinality; client IDs are arbitrary client-
// supplied strings and would otherwise create one series per client.
func normalizePath(path string) string {
	if len(path) > 50 {
		return "long_path"
	}
	return path
}

func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
