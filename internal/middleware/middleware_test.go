package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ledgerly/backend/internal/apperr"
	"github.com/ledgerly/backend/internal/auth"
	"github.com/ledgerly/backend/internal/models"
	"github.com/ledgerly/backend/pkg/response"
)

var errMissing = errors.New("missing")

type fakeLoader struct {
	sessions map[string]*models.Session
	users    map[uuid.UUID]*models.User
}

func (f *fakeLoader) FindSession(_ context.Context, token string) (*models.Session, error) {
	if s, ok := f.sessions[token]; ok {
		return s, nil
	}
	return nil, errMissing
}

func (f *fakeLoader) FindUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, errMissing
}

func setup(t *testing.T) (*gin.Engine, *auth.JWTService, *fakeLoader, *models.User) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	user := &models.User{ID: uuid.New(), Email: "a@example.com"}
	loader := &fakeLoader{
		sessions: map[string]*models.Session{},
		users:    map[uuid.UUID]*models.User{user.ID: user},
	}
	svc := auth.NewJWTService("secret", 1)

	r := gin.New()
	r.GET("/me", Session(svc, loader, "sid"), func(c *gin.Context) {
		caller, ok := auth.CallerFrom(c)
		require.True(t, ok)
		c.String(http.StatusOK, caller.Email())
	})
	return r, svc, loader, user
}

func TestSessionAcceptsBearerAndCookie(t *testing.T) {
	r, svc, loader, user := setup(t)
	s := &models.Session{Token: "tok", UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour)}
	loader.sessions[s.Token] = s
	token, err := svc.Generate(s, user.Email)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a@example.com", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: token})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionRejects(t *testing.T) {
	r, svc, loader, user := setup(t)
	live := &models.Session{Token: "live", UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour)}
	unknown := &models.Session{Token: "gone", UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour)}
	loader.sessions[live.Token] = live

	liveToken, err := svc.Generate(live, user.Email)
	require.NoError(t, err)
	unknownToken, err := svc.Generate(unknown, user.Email)
	require.NoError(t, err)

	// the row expired even though the token did not
	expiredRow := &models.Session{Token: "expired", UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour)}
	expiredToken, err := svc.Generate(expiredRow, user.Email)
	require.NoError(t, err)
	loader.sessions["expired"] = &models.Session{Token: "expired", UserID: user.ID, ExpiresAt: time.Now().Add(-time.Minute)}

	delete(loader.users, user.ID)
	noUserToken := liveToken

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"malformed", "Token abc"},
		{"unknown session", "Bearer " + unknownToken},
		{"expired session", "Bearer " + expiredToken},
		{"user gone", "Bearer " + noUserToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRequireServerKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/k", RequireServerKey("s3cret"), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/off", RequireServerKey(""), func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(path, key string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if key != "" {
			req.Header.Set(HeaderServerKey, key)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, do("/k", "s3cret"))
	assert.Equal(t, http.StatusForbidden, do("/k", "wrong"))
	assert.Equal(t, http.StatusForbidden, do("/k", ""))
	assert.Equal(t, http.StatusForbidden, do("/off", ""))
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS("http://app.example.com"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://app.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "http://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggerRecordsCallerAndInternalErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)
	user := &models.User{ID: uuid.New(), Email: "a@example.com"}
	caller := &auth.Caller{Session: &models.Session{Token: "t", UserID: user.ID}, User: user}
	moved := uuid.New()

	r := gin.New()
	r.Use(Logger(zap.New(core)))
	r.GET("/move", func(c *gin.Context) {
		c.Set(auth.ContextCaller, caller)
		caller.Session.ActiveWorkspaceID = &moved
		c.Status(http.StatusOK)
	})
	r.GET("/fail", func(c *gin.Context) {
		response.Error(c, apperr.Internal(errors.New("connection reset"), "failed to list workspaces"))
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/move", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fail", nil))

	entries := logs.All()
	require.Len(t, entries, 2)

	first := entries[0].ContextMap()
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, user.ID.String(), first["user_id"])
	assert.Equal(t, moved.String(), first["active_workspace_id"])
	assert.Equal(t, int64(http.StatusOK), first["status"])

	second := entries[1].ContextMap()
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
	assert.NotContains(t, second, "user_id")
	assert.Equal(t, int64(http.StatusInternalServerError), second["status"])
	assert.Contains(t, second["errors"], "INTERNAL_ERROR: failed to list workspaces: connection reset")
}
