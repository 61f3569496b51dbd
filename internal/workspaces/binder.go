package workspaces

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerly/backend/internal/apperr"
	"github.com/ledgerly/backend/internal/auth"
	"github.com/ledgerly/backend/internal/models"
	"github.com/ledgerly/backend/internal/tenant"
)

// Target names a workspace by id, slug or public id, checked in that order.
// For SetActive, a target naming none of them leaves the pointer unchanged
// and Clear unsets it.
type Target struct {
	Omitted  bool
	Clear    bool
	ID       *uuid.UUID
	Slug     string
	PublicID string
}

// Named reports whether t names a workspace.
func (t Target) Named() bool {
	return t.ID != nil || t.Slug != "" || t.PublicID != ""
}

// Binder owns the session's active-workspace pointer.
type Binder struct {
	store  tenant.Store
	logger *zap.Logger
}

// NewBinder creates a session-workspace binder.
func NewBinder(store tenant.Store, logger *zap.Logger) *Binder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Binder{store: store, logger: logger}
}

// SetActive points caller's session at target and returns the workspace now active,
// or nil when the pointer is unset. A target the caller is not a member of clears
// the pointer and fails with USER_IS_NOT_A_MEMBER_OF_THE_WORKSPACE.
func (b *Binder) SetActive(ctx context.Context, caller *auth.Caller, target Target) (*models.Workspace, error) {
	switch {
	case target.Clear:
		if err := b.Point(ctx, b.store, caller, nil); err != nil {
			return nil, err
		}
		return nil, nil
	case !target.Named():
		return b.current(ctx, caller)
	}

	ws, err := b.Lookup(ctx, target)
	if err != nil {
		return nil, err
	}

	if _, err := b.store.FindMemberByWorkspaceID(ctx, caller.UserID(), ws.ID); err != nil {
		if !tenant.IsNotFound(err) {
			return nil, apperr.Internal(err, "failed to load membership")
		}
		if err := b.Point(ctx, b.store, caller, nil); err != nil {
			return nil, err
		}
		b.logger.Debug("active workspace cleared for non-member",
			zap.String("user_id", caller.UserID().String()),
			zap.String("workspace_id", ws.ID.String()))
		return nil, apperr.New(apperr.KindForbidden, apperr.CodeNotAMember, "user is not a member of the workspace")
	}

	if err := b.Point(ctx, b.store, caller, &ws.ID); err != nil {
		return nil, err
	}
	return ws, nil
}

// Lookup loads the workspace target names. Each form is matched only against
// its own column.
func (b *Binder) Lookup(ctx context.Context, target Target) (*models.Workspace, error) {
	var ws *models.Workspace
	var err error
	switch {
	case target.ID != nil:
		ws, err = b.store.FindWorkspaceByID(ctx, *target.ID)
	case target.Slug != "":
		ws, err = b.store.FindWorkspaceBySlug(ctx, target.Slug)
	case target.PublicID != "":
		ws, err = b.store.FindWorkspaceByPublicID(ctx, target.PublicID)
	default:
		return nil, apperr.New(apperr.KindBadRequest, apperr.CodeInvalidRequest, "workspace required")
	}
	if err != nil {
		return nil, tenant.AppError(err, apperr.CodeWorkspaceNotFound, "workspace not found")
	}
	return ws, nil
}

func (b *Binder) current(ctx context.Context, caller *auth.Caller) (*models.Workspace, error) {
	id := caller.ActiveWorkspaceID()
	if id == nil {
		return nil, nil
	}
	ws, err := b.store.FindWorkspaceByID(ctx, *id)
	if err != nil {
		return nil, tenant.AppError(err, apperr.CodeWorkspaceNotFound, "workspace not found")
	}
	return ws, nil
}

// Point writes the pointer through s, which may be a transaction, and mirrors it on caller.
func (b *Binder) Point(ctx context.Context, s tenant.Store, caller *auth.Caller, workspaceID *uuid.UUID) error {
	if err := s.SetActiveWorkspace(ctx, caller.Session.Token, workspaceID); err != nil {
		if tenant.IsNotFound(err) {
			return apperr.Wrap(err, apperr.KindUnauthorized, apperr.CodeUnauthorized, "session not found")
		}
		return apperr.Internal(err, "failed to update session")
	}
	caller.Session.ActiveWorkspaceID = workspaceID
	return nil
}

// Sync reloads caller's pointer from the stored session, for use after a
// transaction that moved it has rolled back.
func (b *Binder) Sync(ctx context.Context, caller *auth.Caller) {
	session, err := b.store.FindSession(ctx, caller.Session.Token)
	if err != nil {
		return
	}
	caller.Session.ActiveWorkspaceID = session.ActiveWorkspaceID
}

// Resolve returns the workspace a tenant-scoped request operates on: explicit
// when given, otherwise the session's active workspace.
func (b *Binder) Resolve(caller *auth.Caller, explicit *uuid.UUID) (uuid.UUID, error) {
	if explicit != nil {
		return *explicit, nil
	}
	if id := caller.ActiveWorkspaceID(); id != nil {
		return *id, nil
	}
	return uuid.Nil, apperr.New(apperr.KindBadRequest, apperr.CodeNoActiveWorkspace, "no active workspace")
}

// Forget clears caller's pointer in memory when it referenced workspaceID.
// The rows themselves are cleared by the store.
func Forget(caller *auth.Caller, workspaceID uuid.UUID) {
	if id := caller.ActiveWorkspaceID(); id != nil && *id == workspaceID {
		caller.Session.ActiveWorkspaceID = nil
	}
}
