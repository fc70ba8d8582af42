// Package observability provides Prometheus instrumentation for the gateway.
package observability

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ExchangesRecorded prometheus.Counter
	ExchangesDropped  prometheus.Counter
	SearchesTotal     *prometheus.CounterVec
	StreamChunksTotal prometheus.Counter
}

// NewMetrics registers the gateway collectors on the given registerer.
// Pass prometheus.DefaultRegisterer for the standard /metrics endpoint.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promptkeeper",
			Name:      "requests_total",
			Help:      "Completed HTTP requests by endpoint and status code.",
		}, []string{"endpoint", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "promptkeeper",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by endpoint.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		ExchangesRecorded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "promptkeeper",
			Name:      "exchanges_recorded_total",
			Help:      "Exchanges accepted into the history buffer.",
		}),
		ExchangesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "promptkeeper",
			Name:      "exchanges_dropped_total",
			Help:      "Exchanges dropped because the history buffer was full.",
		}),
		SearchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promptkeeper",
			Name:      "searches_total",
			Help:      "History searches by scoring mode.",
		}, []string{"mode"}),
		StreamChunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "promptkeeper",
			Name:      "stream_chunks_total",
			Help:      "Stream chunks relayed to clients.",
		}),
	}
}

// Middleware returns an Echo middleware that records request counts and
// latency per route. The registered route path is used as the endpoint
// label so path parameters don't explode the cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			endpoint := c.Path()
			if endpoint == "" {
				endpoint = c.Request().URL.Path
			}
			m.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(c.Response().Status)).Inc()
			m.RequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
