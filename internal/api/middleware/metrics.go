package middleware

import (
	"time"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/metrics"
	"github.com/gin-gonic/gin"
)

// MetricsMiddleware records request count and latency per route template
func MetricsMiddleware(collector metrics.MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		if collector == nil {
			return
		}
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		collector.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
