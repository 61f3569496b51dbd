package organizations

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerly/backend/internal/access"
	"github.com/ledgerly/backend/internal/apperr"
	"github.com/ledgerly/backend/internal/auth"
	"github.com/ledgerly/backend/internal/models"
	"github.com/ledgerly/backend/internal/tenant"
	"github.com/ledgerly/backend/internal/workspaces"
)

// MemberService manages workspace memberships.
// Every mutation runs under the workspace lock so the creator-role count cannot race.
type MemberService struct {
	store  tenant.Store
	gate   *workspaces.Gate
	binder *workspaces.Binder
	opts   Options
	logger *zap.Logger
}

// NewMemberService creates a member service.
func NewMemberService(store tenant.Store, gate *workspaces.Gate, binder *workspaces.Binder, opts Options, logger *zap.Logger) *MemberService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemberService{store: store, gate: gate, binder: binder, opts: opts.withDefaults(), logger: logger}
}

// AddMemberInput is the input of AddMember.
type AddMemberInput struct {
	UserID      uuid.UUID
	Role        string
	WorkspaceID uuid.UUID
}

// AddMember adds a user directly. It is reserved for trusted server callers and
// performs no role check on behalf of a session.
func (s *MemberService) AddMember(ctx context.Context, in AddMemberInput) (*models.Member, error) {
	role := strings.TrimSpace(in.Role)
	if err := s.gate.ValidRole(role); err != nil {
		return nil, err
	}
	if _, err := s.store.FindWorkspaceByID(ctx, in.WorkspaceID); err != nil {
		return nil, tenant.AppError(err, apperr.CodeWorkspaceNotFound, "workspace not found")
	}
	if _, err := s.store.FindUserByID(ctx, in.UserID); err != nil {
		return nil, tenant.AppError(err, apperr.CodeUserNotFound, "user not found")
	}

	member := &models.Member{WorkspaceID: in.WorkspaceID, UserID: in.UserID, Role: role}
	err := s.store.InTx(ctx, func(tx tenant.Store) error {
		if err := tx.LockWorkspace(ctx, in.WorkspaceID); err != nil {
			return apperr.Internal(err, "failed to lock workspace")
		}
		if _, err := tx.FindMemberByWorkspaceID(ctx, in.UserID, in.WorkspaceID); err == nil {
			return apperr.New(apperr.KindConflict, apperr.CodeAlreadyMember, "user is already a member of this workspace")
		} else if !tenant.IsNotFound(err) {
			return apperr.Internal(err, "failed to check membership")
		}
		if err := checkMembershipLimit(ctx, tx, in.WorkspaceID, s.opts.MembershipLimit); err != nil {
			return err
		}
		if err := tx.CreateMember(ctx, member); err != nil {
			if tenant.IsConflict(err) {
				return apperr.Wrap(err, apperr.KindConflict, apperr.CodeAlreadyMember, "user is already a member of this workspace")
			}
			return apperr.Internal(err, "failed to create member")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("member added",
		zap.String("workspace_id", in.WorkspaceID.String()),
		zap.String("user_id", in.UserID.String()),
		zap.String("role", role))
	return member, nil
}

// RemoveInput names the member to remove by member id or by email.
type RemoveInput struct {
	MemberIDOrEmail string
	WorkspaceID     *uuid.UUID
}

// RemoveMember removes a member. Anyone may remove themselves; removing someone else
// requires member:delete. The sole creator-role holder can never be removed.
func (s *MemberService) RemoveMember(ctx context.Context, caller *auth.Caller, in RemoveInput) (*models.Member, error) {
	wsID, err := s.binder.Resolve(caller, in.WorkspaceID)
	if err != nil {
		return nil, err
	}
	ref := strings.TrimSpace(in.MemberIDOrEmail)
	if ref == "" {
		return nil, apperr.New(apperr.KindBadRequest, apperr.CodeInvalidRequest, "member id or email required")
	}
	return s.remove(ctx, caller, wsID, func(tx tenant.Store) (*models.Member, error) {
		var m *models.Member
		var err error
		if id, perr := uuid.Parse(ref); perr == nil {
			m, err = tx.FindMemberByID(ctx, id)
		} else {
			m, err = tx.FindMemberByEmail(ctx, ref, wsID)
		}
		if err != nil {
			return nil, tenant.AppError(err, apperr.CodeMemberNotFound, "member not found")
		}
		if m.WorkspaceID != wsID {
			return nil, apperr.New(apperr.KindNotFound, apperr.CodeMemberNotFound, "member not found")
		}
		return m, nil
	})
}

// Leave removes caller from the workspace.
func (s *MemberService) Leave(ctx context.Context, caller *auth.Caller, workspaceID *uuid.UUID) (*models.Member, error) {
	wsID, err := s.binder.Resolve(caller, workspaceID)
	if err != nil {
		return nil, err
	}
	return s.remove(ctx, caller, wsID, func(tx tenant.Store) (*models.Member, error) {
		return s.gate.Member(ctx, tx, caller.UserID(), wsID)
	})
}

func (s *MemberService) remove(ctx context.Context, caller *auth.Caller, wsID uuid.UUID,
	find func(tx tenant.Store) (*models.Member, error)) (*models.Member, error) {
	var target *models.Member
	err := s.store.InTx(ctx, func(tx tenant.Store) error {
		if err := tx.LockWorkspace(ctx, wsID); err != nil {
			return apperr.Internal(err, "failed to lock workspace")
		}
		var err error
		if target, err = find(tx); err != nil {
			return err
		}
		if s.gate.IsCreator(target.Role) {
			n, err := s.gate.CountCreators(ctx, tx, wsID)
			if err != nil {
				return err
			}
			if n <= 1 {
				return apperr.New(apperr.KindConflict, apperr.CodeOnlyOwner, "you cannot leave the workspace as the only owner")
			}
		}
		self, err := s.gate.Member(ctx, tx, caller.UserID(), wsID)
		if err != nil {
			return err
		}
		if target.ID != self.ID {
			if err := s.gate.Allow(self.Role, access.ResourceMember, access.ActionDelete, apperr.CodeNotAllowedDeleteMember); err != nil {
				return err
			}
			if s.gate.IsCreator(target.Role) && !s.gate.IsCreator(self.Role) {
				return apperr.New(apperr.KindForbidden, apperr.CodeNotAllowedDeleteMember, "you are not allowed to delete this member")
			}
		}
		if err := tx.DeleteMember(ctx, target.ID); err != nil {
			return tenant.AppError(err, apperr.CodeMemberNotFound, "failed to delete member")
		}
		if err := tx.ClearActiveWorkspace(ctx, target.UserID, wsID); err != nil {
			return apperr.Internal(err, "failed to clear active workspace")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if target.UserID == caller.UserID() {
		workspaces.Forget(caller, wsID)
	}
	s.logger.Info("member removed",
		zap.String("workspace_id", wsID.String()),
		zap.String("member_id", target.ID.String()),
		zap.String("by_user_id", caller.UserID().String()))
	return target, nil
}

// UpdateRoleInput is the input of UpdateMemberRole.
type UpdateRoleInput struct {
	MemberID    uuid.UUID
	Role        string
	WorkspaceID *uuid.UUID
}

// UpdateMemberRole changes a member's role. It requires member:update; granting the
// creator role or changing a creator's role also requires the caller to hold it.
func (s *MemberService) UpdateMemberRole(ctx context.Context, caller *auth.Caller, in UpdateRoleInput) (*models.Member, error) {
	role := strings.TrimSpace(in.Role)
	if err := s.gate.ValidRole(role); err != nil {
		return nil, err
	}
	wsID, err := s.binder.Resolve(caller, in.WorkspaceID)
	if err != nil {
		return nil, err
	}

	var updated *models.Member
	err = s.store.InTx(ctx, func(tx tenant.Store) error {
		if err := tx.LockWorkspace(ctx, wsID); err != nil {
			return apperr.Internal(err, "failed to lock workspace")
		}
		self, err := s.gate.Require(ctx, tx, caller.UserID(), wsID,
			access.ResourceMember, access.ActionUpdate, apperr.CodeNotAllowedUpdateMember)
		if err != nil {
			return err
		}
		target, err := tx.FindMemberByID(ctx, in.MemberID)
		if err != nil {
			return tenant.AppError(err, apperr.CodeMemberNotFound, "member not found")
		}
		if target.WorkspaceID != wsID {
			return apperr.New(apperr.KindNotFound, apperr.CodeMemberNotFound, "member not found")
		}
		if (s.gate.IsCreator(role) || s.gate.IsCreator(target.Role)) && !s.gate.IsCreator(self.Role) {
			return apperr.New(apperr.KindForbidden, apperr.CodeNotAllowedUpdateMember, "you are not allowed to update this member")
		}
		if s.gate.IsCreator(target.Role) && !s.gate.IsCreator(role) {
			n, err := s.gate.CountCreators(ctx, tx, wsID)
			if err != nil {
				return err
			}
			if n <= 1 {
				return apperr.New(apperr.KindConflict, apperr.CodeOnlyOwner, "you cannot leave the workspace as the only owner")
			}
		}
		if updated, err = tx.UpdateMember(ctx, target.ID, role); err != nil {
			return tenant.AppError(err, apperr.CodeMemberNotFound, "failed to update member")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("member role updated",
		zap.String("workspace_id", wsID.String()),
		zap.String("member_id", updated.ID.String()),
		zap.String("role", role))
	return updated, nil
}

// GetActiveMember returns caller's membership in the session's active workspace.
// A stale pointer is reported, not repaired.
func (s *MemberService) GetActiveMember(ctx context.Context, caller *auth.Caller) (*models.MemberWithUser, error) {
	wsID := caller.ActiveWorkspaceID()
	if wsID == nil {
		return nil, apperr.New(apperr.KindBadRequest, apperr.CodeNoActiveWorkspace, "no active workspace")
	}
	m, err := s.store.FindMemberByWorkspaceID(ctx, caller.UserID(), *wsID)
	if err != nil {
		if tenant.IsNotFound(err) {
			return nil, apperr.New(apperr.KindBadRequest, apperr.CodeMemberNotFound, "member not found")
		}
		return nil, apperr.Internal(err, "failed to load member")
	}
	return &models.MemberWithUser{Member: *m, User: caller.User.Summary()}, nil
}

// ListMembers returns the members of a workspace caller belongs to.
func (s *MemberService) ListMembers(ctx context.Context, caller *auth.Caller, workspaceID *uuid.UUID) ([]models.MemberWithUser, error) {
	wsID, err := s.binder.Resolve(caller, workspaceID)
	if err != nil {
		return nil, err
	}
	if _, err := s.gate.Member(ctx, s.store, caller.UserID(), wsID); err != nil {
		return nil, err
	}
	list, err := s.store.ListMembers(ctx, wsID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list members")
	}
	return list, nil
}
