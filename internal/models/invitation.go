package models

import (
	"time"

	"github.com/google/uuid"
)

// InvitationStatus is the lifecycle state of an invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRejected InvitationStatus = "rejected"
	InvitationCanceled InvitationStatus = "canceled"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s InvitationStatus) IsTerminal() bool {
	return s == InvitationAccepted || s == InvitationRejected || s == InvitationCanceled
}

// Invitation is an outstanding offer for Email to join a workspace with Role.
type Invitation struct {
	ID          uuid.UUID        `json:"id"`
	WorkspaceID uuid.UUID        `json:"workspace_id"`
	Email       string           `json:"email"`
	Role        string           `json:"role"`
	Status      InvitationStatus `json:"status"`
	InviterID   uuid.UUID        `json:"inviter_id"`
	ExpiresAt   time.Time        `json:"expires_at"`
	CreatedAt   time.Time        `json:"created_at"`
}

// IsActive reports whether the invitation is pending and not yet expired at now.
// Expired invitations are treated as absent even while their stored status is pending.
func (i *Invitation) IsActive(now time.Time) bool {
	return i.Status == InvitationPending && now.Before(i.ExpiresAt)
}

// InvitationDetails is an invitation enriched for the "accept this invite" screen.
type InvitationDetails struct {
	Invitation
	WorkspaceName string `json:"workspace_name"`
	WorkspaceSlug string `json:"workspace_slug"`
	InviterEmail  string `json:"inviter_email"`
}
