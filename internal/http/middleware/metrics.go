package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/observability"
)

// Metrics instruments request counts and latency when metrics are enabled.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.ObserveAPI(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
