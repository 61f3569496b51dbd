package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ledgerly/backend/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
)

// Claims holds JWT claims for one session. The registered ID (jti) is the session token.
type Claims struct {
	UserID            uuid.UUID  `json:"user_id"`
	Email             string     `json:"email"`
	ActiveWorkspaceID *uuid.UUID `json:"active_workspace_id,omitempty"`
	jwt.RegisteredClaims
}

// SessionToken returns the session row key carried by the claims.
func (c *Claims) SessionToken() string { return c.ID }

// JWTService handles token generation and validation.
type JWTService struct {
	secret      []byte
	expireHours int
	now         func() time.Time
}

// NewJWTService creates a JWT service.
func NewJWTService(secret string, expireHours int) *JWTService {
	return &JWTService{
		secret:      []byte(secret),
		expireHours: expireHours,
		now:         time.Now,
	}
}

// Lifetime is the configured session lifetime.
func (s *JWTService) Lifetime() time.Duration {
	return time.Duration(s.expireHours) * time.Hour
}

// Generate signs a token for the session. The token expires with the session.
func (s *JWTService) Generate(session *models.Session, email string) (string, error) {
	claims := Claims{
		UserID:            session.UserID,
		Email:             email,
		ActiveWorkspaceID: session.ActiveWorkspaceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ID:        session.Token,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and validates a JWT, returning claims or error.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
