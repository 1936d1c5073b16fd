package logging

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Middleware attaches a correlation identifier to each request context,
// echoes it back to the caller, and logs one line per request.
func Middleware(log *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		corr := c.GetHeader("X-Correlation-Id")
		if corr == "" {
			corr = c.GetHeader("X-Request-Id")
		}
		if corr == "" {
			corr = uuid.NewString()
		}
		ctx := WithCorrelationID(c.Request.Context(), corr)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Correlation-Id", corr)

		start := time.Now()
		c.Next()

		log.Info(ctx, "request completed", map[string]any{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
	}
}
