package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openpubs/publications-api/internal/service"
)

// Metrics records per-request duration and status counts. The scrape
// endpoint itself is not observed.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		// Unmatched routes report the raw path so 404 probes stay visible
		// without exploding label cardinality on real routes.
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
