package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/houzhh15/capworks/pkg/logger"
	"github.com/houzhh15/capworks/pkg/metrics"
)

// RequestLogger injects a trace_id, echoes it in the response header, and
// writes one structured log line plus request metrics per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		traceID := uuid.NewString()
		c.Set("trace_id", traceID)
		c.Writer.Header().Set("X-Trace-Id", traceID)

		c.Next()

		duration := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		metrics.RecordHTTPRequest(c.Request.Method, route, status)
		metrics.ObserveHTTPDuration(c.Request.Method, route, duration.Seconds())

		logger.L().Info("http_request",
			"trace_id", traceID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", duration.Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}
