package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is an authenticated session. ActiveWorkspaceID is the tenant the
// session currently points at; nil when unset.
type Session struct {
	Token             string     `json:"-"`
	UserID            uuid.UUID  `json:"user_id"`
	ActiveWorkspaceID *uuid.UUID `json:"active_workspace_id"`
	ExpiresAt         time.Time  `json:"expires_at"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
