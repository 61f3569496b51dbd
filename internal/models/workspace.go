package models

import (
	"time"

	"github.com/google/uuid"
)

// Metadata is free-form workspace configuration such as the default currency.
type Metadata map[string]string

// Clone returns a copy of m; nil stays nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge returns a copy of m with every key of other applied on top.
func (m Metadata) Merge(other Metadata) Metadata {
	out := m.Clone()
	if out == nil {
		out = make(Metadata, len(other))
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Workspace is the tenant root.
type Workspace struct {
	ID        uuid.UUID `json:"id"`
	PublicID  string    `json:"public_id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Logo      *string   `json:"logo,omitempty"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FullWorkspace is a workspace with every member (joined with its user) and every invitation.
type FullWorkspace struct {
	Workspace
	Members     []MemberWithUser `json:"members"`
	Invitations []Invitation     `json:"invitations"`
}
