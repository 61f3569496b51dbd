package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ledgerly/backend/internal/auth"
	"github.com/ledgerly/backend/internal/models"
	"github.com/ledgerly/backend/pkg/response"
)

// SessionLoader loads the rows behind a session token.
type SessionLoader interface {
	FindSession(ctx context.Context, token string) (*models.Session, error)
	FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Session returns a middleware that authenticates the request from a Bearer token
// or the session cookie and stores *auth.Caller in the context.
// The session row, not the token, is authoritative for the active workspace.
func Session(jwtService *auth.JWTService, store SessionLoader, cookieName string) gin.HandlerFunc {
	return sessionWithClock(jwtService, store, cookieName, time.Now)
}

func sessionWithClock(jwtService *auth.JWTService, store SessionLoader, cookieName string, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" && cookieName != "" {
			raw, _ = c.Cookie(cookieName)
		}
		if raw == "" {
			response.Unauthorized(c, "missing session")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(raw)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		ctx := c.Request.Context()
		session, err := store.FindSession(ctx, claims.SessionToken())
		if err != nil || session == nil || session.Expired(now()) || session.UserID != claims.UserID {
			response.Unauthorized(c, "session not found or expired")
			c.Abort()
			return
		}
		user, err := store.FindUserByID(ctx, session.UserID)
		if err != nil || user == nil {
			response.Unauthorized(c, "user not found")
			c.Abort()
			return
		}
		c.Set(auth.ContextCaller, &auth.Caller{Session: session, User: user})
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
