package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	"github.com/ledgerly/backend/internal/apperr"
	"github.com/ledgerly/backend/pkg/response"
)

// HeaderServerKey carries the shared secret of server-only routes.
const HeaderServerKey = "X-Server-Key"

// RequireServerKey allows only requests presenting the configured server key.
// An empty key disables the route.
func RequireServerKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderServerKey)
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			response.Error(c, apperr.New(apperr.KindForbidden, apperr.CodeUnauthorized, "server key required"))
			c.Abort()
			return
		}
		c.Next()
	}
}
