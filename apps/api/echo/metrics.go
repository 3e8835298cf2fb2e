package echoapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edusmart",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"method", "route", "code"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "edusmart",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latencies by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	liveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "edusmart",
		Subsystem: "api",
		Name:      "live_connections",
		Help:      "Open websocket feeds by kind.",
	}, []string{"kind"})

	linkLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edusmart",
		Subsystem: "api",
		Name:      "link_lookups_total",
		Help:      "Magic link lookups by result.",
	}, []string{"result"})
)

func metricsHandler() http.Handler {
	return promhttp.Handler()
}

func metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		start := time.Now()
		err := next(ctx)

		route := ctx.Path() // route pattern, keeps the label set bounded
		if route == "" {
			route = "unmatched"
		}
		code := ctx.Response().Status
		if err != nil && !ctx.Response().Committed {
			code = errorStatus(err)
		}
		method := ctx.Request().Method
		requestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
		requestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		return err
	}
}
