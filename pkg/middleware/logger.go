package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("http")

// RequestLogger replaces gin.Logger so access lines go through the same
// subsystem loggers as the rest of the service.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"took", time.Since(start),
			"trace_id", c.GetString("trace_id"),
		}
		if uid := c.GetString("user_id"); uid != "" {
			fields = append(fields, "user", uid)
		}
		switch {
		case status >= 500:
			log.Errorw("request", fields...)
		case status >= 400:
			log.Warnw("request", fields...)
		default:
			log.Infow("request", fields...)
		}
	}
}
