package auth

import (
	"github.com/google/uuid"

	"github.com/ledgerly/backend/internal/models"
)

// Caller is the authenticated principal of one request.
type Caller struct {
	Session *models.Session
	User    *models.User
}

// UserID returns the caller's user id.
func (c *Caller) UserID() uuid.UUID { return c.User.ID }

// Email returns the caller's email as stored.
func (c *Caller) Email() string { return c.User.Email }

// ActiveWorkspaceID returns the session's active workspace pointer, or nil.
func (c *Caller) ActiveWorkspaceID() *uuid.UUID { return c.Session.ActiveWorkspaceID }
