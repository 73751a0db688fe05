package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/ctxutil"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

// Probe routes are scraped every few seconds and would drown everything else.
var quietRoutes = map[string]bool{
	"/healthcheck": true,
	"/metrics":     true,
}

// RequestLogger emits one entry per request once the handler chain returns.
// Server errors log at error, client errors at warn, the rest at debug.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	log = log.With("component", "HTTP")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		if quietRoutes[route] && status < 400 {
			return
		}

		fields := append([]interface{}{
			"method", c.Request.Method,
			"path", route,
			"status", status,
			"bytes", c.Writer.Size(),
			"duration_ms", time.Since(start).Milliseconds(),
		}, ctxutil.LogFields(c.Request.Context())...)
		if len(c.Errors) > 0 {
			fields = append(fields, "error", c.Errors.String())
		}

		emit := log.Debug
		if status >= 500 {
			emit = log.Error
		} else if status >= 400 {
			emit = log.Warn
		}
		emit("HTTP request", fields...)
	}
}
