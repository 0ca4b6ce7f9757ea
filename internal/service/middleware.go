package service

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nvandessel/rumormill/internal/metrics"
	"github.com/nvandessel/rumormill/internal/ratelimit"
)

// requestLogger logs each request after it completes. Routine traffic stays
// at debug so the log is quiet unless something fails.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Warn("request failed", attrs...)
			return
		}
		log.Debug("request handled", attrs...)
	}
}

// requestMetrics records request latency by route and status code.
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestDurationSeconds.
			WithLabelValues(route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// rateLimit rejects clients that exceed their per-IP budget. Rejections use
// the busy taxonomy entry so throttled callers back off the same way they
// would on a contended database.
func rateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, Response{
				Success: false,
				Error:   "rate limit exceeded, please try again shortly",
				Type:    "busy",
			})
			return
		}
		c.Next()
	}
}
