package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/ctxutil"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/logger"
)

func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if log == nil {
			return
		}
		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []interface{}{
			"method", strings.ToUpper(c.Request.Method),
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if td := ctxutil.GetTraceData(c.Request.Context()); td != nil {
			if td.TraceID != "" {
				fields = append(fields, "trace_id", td.TraceID)
			}
			if td.RequestID != "" {
				fields = append(fields, "request_id", td.RequestID)
			}
		}
		if id, ok := c.Get(eventIDKey); ok {
			fields = append(fields, "event_id", id)
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		case path == "/healthcheck" || path == "/metrics":
			log.Debug("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}

const eventIDKey = "event_id"

// SetEventID records the trigger event a request produced for the request log.
func SetEventID(c *gin.Context, id string) {
	c.Set(eventIDKey, id)
}
