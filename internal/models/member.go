package models

import (
	"time"

	"github.com/google/uuid"
)

// Member binds one user to one workspace with a role.
// Role may list several comma-separated role names.
type Member struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	UserID      uuid.UUID `json:"user_id"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// MemberWithUser is a member joined with the summary of its user.
type MemberWithUser struct {
	Member
	User UserSummary `json:"user"`
}
