package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ledgerly/backend/internal/auth"
)

// Logger logs one line per request. The session fields are read after the
// handler ran, so a moved active workspace is logged with its new value.
// Errors the handler attached to the context (internal failures) raise the
// line to error level and are logged with it.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("client_ip", c.ClientIP()),
		}
		if caller, ok := auth.CallerFrom(c); ok {
			fields = append(fields, zap.String("user_id", caller.UserID().String()))
			if id := caller.ActiveWorkspaceID(); id != nil {
				fields = append(fields, zap.String("active_workspace_id", id.String()))
			}
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
			logger.Error("request", fields...)
			return
		}
		logger.Info("request", fields...)
	}
}
