// Package tenant is the persistence facade over workspaces, members, invitations,
// user summaries and the session's active-workspace pointer.
package tenant

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerly/backend/internal/models"
)

var (
	// ErrNotFound means the row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a uniqueness constraint was hit or a conditional update lost its race.
	ErrConflict = errors.New("conflict")
	// ErrIntegrity means the backing store holds rows that violate a referential invariant.
	ErrIntegrity = errors.New("data integrity violation")
)

// Store is the tenant data-access surface. Every method is safe to retry on a
// transient failure. Implementations must make InTx atomic as observed by
// other readers.
type Store interface {
	// InTx runs fn against a Store bound to a single transaction. A nested call reuses it.
	InTx(ctx context.Context, fn func(Store) error) error
	// LockWorkspace serialises writers of one workspace until the transaction ends.
	LockWorkspace(ctx context.Context, workspaceID uuid.UUID) error

	FindWorkspaceByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error)
	FindWorkspaceBySlug(ctx context.Context, slug string) (*models.Workspace, error)
	FindWorkspaceByPublicID(ctx context.Context, publicID string) (*models.Workspace, error)
	FindFullWorkspace(ctx context.Context, id uuid.UUID) (*models.FullWorkspace, error)
	ListWorkspaces(ctx context.Context, userID uuid.UUID) ([]models.Workspace, error)
	CreateWorkspace(ctx context.Context, ws *models.Workspace, creator *models.Member) error
	UpdateWorkspace(ctx context.Context, ws *models.Workspace) error
	DeleteWorkspace(ctx context.Context, id uuid.UUID) error

	FindMemberByID(ctx context.Context, id uuid.UUID) (*models.Member, error)
	FindMemberByEmail(ctx context.Context, email string, workspaceID uuid.UUID) (*models.Member, error)
	FindMemberByWorkspaceID(ctx context.Context, userID, workspaceID uuid.UUID) (*models.Member, error)
	FindMemberByUserID(ctx context.Context, userID uuid.UUID) (*models.Member, error)
	ListMembers(ctx context.Context, workspaceID uuid.UUID) ([]models.MemberWithUser, error)
	CountMembers(ctx context.Context, workspaceID uuid.UUID) (int, error)
	CreateMember(ctx context.Context, m *models.Member) error
	UpdateMember(ctx context.Context, id uuid.UUID, role string) (*models.Member, error)
	DeleteMember(ctx context.Context, id uuid.UUID) error

	CreateInvitation(ctx context.Context, inv *models.Invitation) error
	FindInvitationByID(ctx context.Context, id uuid.UUID) (*models.Invitation, error)
	FindPendingInvitation(ctx context.Context, email string, workspaceID uuid.UUID, now time.Time) (*models.Invitation, error)
	ListInvitations(ctx context.Context, workspaceID uuid.UUID) ([]models.Invitation, error)
	ListPendingInvitationsByEmail(ctx context.Context, email string, now time.Time) ([]models.Invitation, error)
	CountPendingInvitations(ctx context.Context, workspaceID uuid.UUID, now time.Time) (int, error)
	// UpdateInvitationStatus moves id from status from to status to. It returns
	// ErrConflict when the stored status is no longer from.
	UpdateInvitationStatus(ctx context.Context, id uuid.UUID, from, to models.InvitationStatus) (*models.Invitation, error)
	// CancelPendingInvitations cancels every pending invitation for email in a workspace.
	CancelPendingInvitations(ctx context.Context, email string, workspaceID uuid.UUID) (int, error)

	FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error

	CreateSession(ctx context.Context, s *models.Session) error
	FindSession(ctx context.Context, token string) (*models.Session, error)
	SetActiveWorkspace(ctx context.Context, token string, workspaceID *uuid.UUID) error
	// ClearActiveWorkspace clears the pointer of every session of userID that references workspaceID.
	ClearActiveWorkspace(ctx context.Context, userID, workspaceID uuid.UUID) error
}
