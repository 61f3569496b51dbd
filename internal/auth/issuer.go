package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerly/backend/internal/models"
)

// SessionStore persists session rows.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.Session) error
	FindSession(ctx context.Context, token string) (*models.Session, error)
}

// Issuer opens sessions for users authenticated by the sign-in collaborator.
type Issuer struct {
	store SessionStore
	jwt   *JWTService
	now   func() time.Time
}

// NewIssuer creates a session issuer.
func NewIssuer(store SessionStore, jwt *JWTService) *Issuer {
	return &Issuer{store: store, jwt: jwt, now: time.Now}
}

// Issue creates a session row for user with no active workspace and returns its signed token.
func (i *Issuer) Issue(ctx context.Context, user *models.User) (string, *models.Session, error) {
	session := &models.Session{
		Token:     uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: i.now().Add(i.jwt.Lifetime()),
	}
	if err := i.store.CreateSession(ctx, session); err != nil {
		return "", nil, fmt.Errorf("create session: %w", err)
	}
	token, err := i.jwt.Generate(session, user.Email)
	if err != nil {
		return "", nil, fmt.Errorf("sign session: %w", err)
	}
	return token, session, nil
}
