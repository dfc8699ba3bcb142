package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMiddleware returns a Gin middleware that records HTTP metrics
// for every route except /metrics itself.
func PrometheusMiddleware() gin.HandlerFunc {
	m := Get()

	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()

		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.RecordHTTPRequest(route, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

// PrometheusHandler exposes the default Prometheus registry over HTTP.
func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
