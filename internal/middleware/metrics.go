package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/overseer-lite/overseer-lite/internal/telemetry"
)

// MetricsMiddleware records http_requests_total and
// http_request_duration_seconds for every request.
//
// The path label is the matched route template (e.g.
// /api/request/:media_type/:tmdb_id), never the raw URL, so feed tokens in
// query strings and ids in paths cannot inflate label cardinality. Unmatched
// requests use "<no-route>".
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
