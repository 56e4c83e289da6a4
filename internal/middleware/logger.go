package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bpoc/video-calls/pkg/metrics"
)

// Logger returns a zap-based request logging middleware that also records latency metrics.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		clientIP := c.ClientIP()
		method := c.Request.Method

		c.Next()

		statusCode := c.Writer.Status()
		latency := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.APILatency.WithLabelValues(method, route, strconv.Itoa(statusCode)).Observe(latency.Seconds())

		fields := []zap.Field{
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("method", method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", clientIP),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if statusCode >= 500 {
			logger.Warn("request", fields...)
			return
		}
		logger.Info("request", fields...)
	}
}
