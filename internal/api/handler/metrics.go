package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mlBlocksTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "medledger_blocks_total",
		Help: "Number of blocks in the chain, genesis included.",
	})

	mlChainValid = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "medledger_chain_valid",
		Help: "1 when the last verification found the chain intact, 0 otherwise.",
	})

	mlAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medledger_appends_total",
		Help: "Total record append attempts by result.",
	}, []string{"result"})

	mlRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	mlRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "medledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request
// metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		mlRequestsTotal.WithLabelValues(method, path, status).Inc()
		mlRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAppend records one append attempt.
func RecordAppend(ok bool) {
	if ok {
		mlAppendsTotal.WithLabelValues("success").Inc()
	} else {
		mlAppendsTotal.WithLabelValues("failure").Inc()
	}
}

// SetChainGauges updates the chain size and validity gauges.
func SetChainGauges(blocks int, valid bool) {
	mlBlocksTotal.Set(float64(blocks))
	if valid {
		mlChainValid.Set(1)
	} else {
		mlChainValid.Set(0)
	}
}
