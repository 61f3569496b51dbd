package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerly/backend/internal/models"
)

func TestGenerateValidateRoundTrip(t *testing.T) {
	svc := NewJWTService("secret", 24)
	wsID := uuid.New()
	session := &models.Session{
		Token:             "tok-1",
		UserID:            uuid.New(),
		ActiveWorkspaceID: &wsID,
		ExpiresAt:         time.Now().Add(time.Hour),
	}

	token, err := svc.Generate(session, "a@example.com")
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", claims.SessionToken())
	assert.Equal(t, session.UserID, claims.UserID)
	assert.Equal(t, "a@example.com", claims.Email)
	require.NotNil(t, claims.ActiveWorkspaceID)
	assert.Equal(t, wsID, *claims.ActiveWorkspaceID)
}

func TestValidateRejects(t *testing.T) {
	svc := NewJWTService("secret", 24)
	session := &models.Session{Token: "tok", UserID: uuid.New(), ExpiresAt: time.Now().Add(-time.Minute)}
	expired, err := svc.Generate(session, "a@example.com")
	require.NoError(t, err)

	_, err = svc.Validate(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	session.ExpiresAt = time.Now().Add(time.Hour)
	other, err := NewJWTService("other", 24).Generate(session, "a@example.com")
	require.NoError(t, err)
	_, err = svc.Validate(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Validate("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

type sessionMap map[string]*models.Session

func (m sessionMap) CreateSession(_ context.Context, s *models.Session) error {
	m[s.Token] = s
	return nil
}

func (m sessionMap) FindSession(_ context.Context, token string) (*models.Session, error) {
	return m[token], nil
}

func TestIssuerIssue(t *testing.T) {
	store := sessionMap{}
	svc := NewJWTService("secret", 2)
	issuer := NewIssuer(store, svc)
	user := &models.User{ID: uuid.New(), Email: "a@example.com"}

	token, session, err := issuer.Issue(context.Background(), user)
	require.NoError(t, err)
	assert.Nil(t, session.ActiveWorkspaceID)
	assert.Contains(t, store, session.Token)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), session.ExpiresAt, time.Minute)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, session.Token, claims.SessionToken())
}

func TestRefresherWritesCookieAndHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	svc := NewJWTService("secret", 1)
	wsID := uuid.New()
	caller := &Caller{
		Session: &models.Session{Token: "tok", UserID: uuid.New(), ActiveWorkspaceID: &wsID, ExpiresAt: time.Now().Add(time.Hour)},
		User:    &models.User{Email: "a@example.com"},
	}

	token, err := NewRefresher(svc, "sid", true).Refresh(c, caller)
	require.NoError(t, err)
	assert.Equal(t, token, w.Header().Get(HeaderSessionToken))
	assert.Contains(t, w.Header().Get("Set-Cookie"), "sid="+token)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, wsID, *claims.ActiveWorkspaceID)
}
