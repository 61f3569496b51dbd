// Package organizations drives workspace invitations and memberships.
package organizations

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerly/backend/internal/access"
	"github.com/ledgerly/backend/internal/apperr"
	"github.com/ledgerly/backend/internal/auth"
	"github.com/ledgerly/backend/internal/mailer"
	"github.com/ledgerly/backend/internal/models"
	"github.com/ledgerly/backend/internal/tenant"
	"github.com/ledgerly/backend/internal/workspaces"
)

// DefaultInvitationExpiry applies when Options.ExpiresIn is unset.
const DefaultInvitationExpiry = 48 * time.Hour

// Options holds the invitation and membership limits.
type Options struct {
	ExpiresIn               time.Duration
	InvitationLimit         int
	MembershipLimit         int
	CancelPendingOnReInvite bool
}

func (o Options) withDefaults() Options {
	if o.ExpiresIn <= 0 {
		o.ExpiresIn = DefaultInvitationExpiry
	}
	return o
}

// InvitationService implements the invitation lifecycle.
type InvitationService struct {
	store  tenant.Store
	gate   *workspaces.Gate
	binder *workspaces.Binder
	mailer mailer.Mailer
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewInvitationService creates an invitation service. m may be nil when email is not configured;
// invitations are then refused.
func NewInvitationService(store tenant.Store, gate *workspaces.Gate, binder *workspaces.Binder,
	m mailer.Mailer, opts Options, logger *zap.Logger) *InvitationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvitationService{
		store:  store,
		gate:   gate,
		binder: binder,
		mailer: m,
		opts:   opts.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

// InviteInput is the input of Create.
type InviteInput struct {
	Email       string
	Role        string
	WorkspaceID *uuid.UUID
	Resend      bool
}

// Create invites Email to the workspace at Role and sends the invitation email.
// A failed send is reported but the invitation stays pending.
func (s *InvitationService) Create(ctx context.Context, caller *auth.Caller, in InviteInput) (*models.Invitation, error) {
	if s.mailer == nil {
		return nil, apperr.New(apperr.KindBadRequest, apperr.CodeEmailNotConfigured, "invitation email is not configured")
	}
	email, err := validEmail(in.Email)
	if err != nil {
		return nil, err
	}
	role := strings.TrimSpace(in.Role)
	if err := s.gate.ValidRole(role); err != nil {
		return nil, err
	}
	wsID, err := s.binder.Resolve(caller, in.WorkspaceID)
	if err != nil {
		return nil, err
	}
	inviter, err := s.gate.Require(ctx, s.store, caller.UserID(), wsID,
		access.ResourceInvitation, access.ActionCreate, apperr.CodeNotAllowedInvite)
	if err != nil {
		return nil, err
	}
	if s.gate.IsCreator(role) && !s.gate.IsCreator(inviter.Role) {
		return nil, apperr.New(apperr.KindForbidden, apperr.CodeNotAllowedInviteRole, "you are not allowed to invite a user with this role")
	}
	ws, err := s.store.FindWorkspaceByID(ctx, wsID)
	if err != nil {
		return nil, tenant.AppError(err, apperr.CodeWorkspaceNotFound, "workspace not found")
	}
	if _, err := s.store.FindMemberByEmail(ctx, email, wsID); err == nil {
		return nil, apperr.New(apperr.KindConflict, apperr.CodeAlreadyMember, "user is already a member of this workspace")
	} else if !tenant.IsNotFound(err) {
		return nil, apperr.Internal(err, "failed to check membership")
	}

	now := s.now()
	inv := &models.Invitation{
		WorkspaceID: wsID,
		Email:       email,
		Role:        role,
		Status:      models.InvitationPending,
		InviterID:   caller.UserID(),
		ExpiresAt:   now.Add(s.opts.ExpiresIn),
	}
	err = s.store.InTx(ctx, func(tx tenant.Store) error {
		if err := tx.LockWorkspace(ctx, wsID); err != nil {
			return apperr.Internal(err, "failed to lock workspace")
		}
		if _, err := tx.FindPendingInvitation(ctx, email, wsID, now); err == nil {
			if !in.Resend {
				return apperr.New(apperr.KindConflict, apperr.CodeAlreadyInvited, "user is already invited to this workspace")
			}
			if s.opts.CancelPendingOnReInvite {
				if _, err := tx.CancelPendingInvitations(ctx, email, wsID); err != nil {
					return apperr.Internal(err, "failed to cancel pending invitations")
				}
			}
		} else if !tenant.IsNotFound(err) {
			return apperr.Internal(err, "failed to check pending invitations")
		}
		if s.opts.InvitationLimit > 0 {
			n, err := tx.CountPendingInvitations(ctx, wsID, now)
			if err != nil {
				return apperr.Internal(err, "failed to count invitations")
			}
			if n >= s.opts.InvitationLimit {
				return apperr.New(apperr.KindForbidden, apperr.CodeInvitationLimit, "invitation limit reached")
			}
		}
		if err := tx.CreateInvitation(ctx, inv); err != nil {
			return tenant.AppError(err, apperr.CodeWorkspaceNotFound, "failed to create invitation")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("invitation created",
		zap.String("invitation_id", inv.ID.String()),
		zap.String("workspace_id", wsID.String()),
		zap.String("role", role),
		zap.Bool("resend", in.Resend))

	err = s.mailer.SendInvitation(ctx, mailer.InvitationEmail{
		InvitationID:  inv.ID,
		WorkspaceID:   wsID,
		WorkspaceName: ws.Name,
		InviterName:   caller.User.Name,
		InviterEmail:  caller.Email(),
		Email:         email,
		Role:          role,
		ExpiresAt:     inv.ExpiresAt,
	})
	if err != nil {
		s.logger.Error("invitation email failed", zap.String("invitation_id", inv.ID.String()), zap.Error(err))
		return inv, apperr.Wrap(err, apperr.KindUnavailable, apperr.CodeEmailFailed, "invitation created but the email could not be sent")
	}
	return inv, nil
}

// recipientInvitation loads an invitation addressed to caller that can still be resolved.
func (s *InvitationService) recipientInvitation(ctx context.Context, caller *auth.Caller, id uuid.UUID) (*models.Invitation, error) {
	inv, err := s.store.FindInvitationByID(ctx, id)
	if err != nil {
		return nil, tenant.AppError(err, apperr.CodeInvitationNotFound, "invitation not found")
	}
	if !inv.IsActive(s.now()) {
		return nil, apperr.New(apperr.KindNotFound, apperr.CodeInvitationNotFound, "invitation not found")
	}
	if inv.Email != caller.Email() {
		return nil, apperr.New(apperr.KindForbidden, apperr.CodeNotRecipient, "you are not the recipient of the invitation")
	}
	return inv, nil
}

// resolve moves a pending invitation to status, translating a lost race.
func resolve(ctx context.Context, tx tenant.Store, id uuid.UUID, to models.InvitationStatus) (*models.Invitation, error) {
	inv, err := tx.UpdateInvitationStatus(ctx, id, models.InvitationPending, to)
	if err == nil {
		return inv, nil
	}
	if tenant.IsConflict(err) {
		return nil, apperr.Wrap(err, apperr.KindConflict, apperr.CodeAlreadyResolved, "invitation already resolved")
	}
	return nil, tenant.AppError(err, apperr.CodeInvitationNotFound, "invitation not found")
}

// AcceptResult is the outcome of Accept.
type AcceptResult struct {
	Invitation *models.Invitation `json:"invitation"`
	Member     *models.Member     `json:"member"`
}

// Accept accepts an invitation addressed to caller. The status change, the new member
// and the session pointer commit together.
func (s *InvitationService) Accept(ctx context.Context, caller *auth.Caller, id uuid.UUID) (*AcceptResult, error) {
	inv, err := s.recipientInvitation(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.FindMemberByWorkspaceID(ctx, caller.UserID(), inv.WorkspaceID); err == nil {
		return nil, apperr.New(apperr.KindConflict, apperr.CodeAlreadyMember, "user is already a member of this workspace")
	} else if !tenant.IsNotFound(err) {
		return nil, apperr.Internal(err, "failed to check membership")
	}

	res := &AcceptResult{}
	err = s.store.InTx(ctx, func(tx tenant.Store) error {
		if err := tx.LockWorkspace(ctx, inv.WorkspaceID); err != nil {
			return apperr.Internal(err, "failed to lock workspace")
		}
		if err := checkMembershipLimit(ctx, tx, inv.WorkspaceID, s.opts.MembershipLimit); err != nil {
			return err
		}
		accepted, err := resolve(ctx, tx, inv.ID, models.InvitationAccepted)
		if err != nil {
			return err
		}
		member := &models.Member{WorkspaceID: inv.WorkspaceID, UserID: caller.UserID(), Role: inv.Role}
		if err := tx.CreateMember(ctx, member); err != nil {
			if tenant.IsConflict(err) {
				return apperr.Wrap(err, apperr.KindConflict, apperr.CodeAlreadyMember, "user is already a member of this workspace")
			}
			return tenant.AppError(err, apperr.CodeWorkspaceNotFound, "failed to create member")
		}
		res.Invitation, res.Member = accepted, member
		return s.binder.Point(ctx, tx, caller, &inv.WorkspaceID)
	})
	if err != nil {
		s.binder.Sync(ctx, caller)
		return nil, err
	}
	s.logger.Info("invitation accepted",
		zap.String("invitation_id", inv.ID.String()),
		zap.String("workspace_id", inv.WorkspaceID.String()),
		zap.String("user_id", caller.UserID().String()))
	return res, nil
}

// Reject rejects an invitation addressed to caller.
func (s *InvitationService) Reject(ctx context.Context, caller *auth.Caller, id uuid.UUID) (*models.Invitation, error) {
	inv, err := s.recipientInvitation(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	rejected, err := resolve(ctx, s.store, inv.ID, models.InvitationRejected)
	if err != nil {
		return nil, err
	}
	s.logger.Info("invitation rejected", zap.String("invitation_id", inv.ID.String()))
	return rejected, nil
}

// Cancel cancels a pending invitation. Any member with invitation:cancel may cancel it.
func (s *InvitationService) Cancel(ctx context.Context, caller *auth.Caller, id uuid.UUID) (*models.Invitation, error) {
	inv, err := s.store.FindInvitationByID(ctx, id)
	if err != nil {
		return nil, tenant.AppError(err, apperr.CodeInvitationNotFound, "invitation not found")
	}
	if _, err := s.gate.Require(ctx, s.store, caller.UserID(), inv.WorkspaceID,
		access.ResourceInvitation, access.ActionCancel, apperr.CodeNotAllowedCancel); err != nil {
		return nil, err
	}
	if inv.Status.IsTerminal() {
		return nil, apperr.New(apperr.KindConflict, apperr.CodeAlreadyResolved, "invitation already resolved")
	}
	if !inv.IsActive(s.now()) {
		return nil, apperr.New(apperr.KindNotFound, apperr.CodeInvitationNotFound, "invitation not found")
	}
	canceled, err := resolve(ctx, s.store, inv.ID, models.InvitationCanceled)
	if err != nil {
		return nil, err
	}
	s.logger.Info("invitation canceled",
		zap.String("invitation_id", inv.ID.String()),
		zap.String("user_id", caller.UserID().String()))
	return canceled, nil
}

// Get returns an invitation addressed to caller with its workspace and inviter.
func (s *InvitationService) Get(ctx context.Context, caller *auth.Caller, id uuid.UUID) (*models.InvitationDetails, error) {
	inv, err := s.recipientInvitation(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	ws, err := s.store.FindWorkspaceByID(ctx, inv.WorkspaceID)
	if err != nil {
		return nil, tenant.AppError(err, apperr.CodeWorkspaceNotFound, "workspace not found")
	}
	if _, err := s.store.FindMemberByWorkspaceID(ctx, inv.InviterID, inv.WorkspaceID); err != nil {
		if tenant.IsNotFound(err) {
			return nil, apperr.New(apperr.KindBadRequest, apperr.CodeInviterGone, "inviter is no longer a member of the workspace")
		}
		return nil, apperr.Internal(err, "failed to load inviter")
	}
	inviter, err := s.store.FindUserByID(ctx, inv.InviterID)
	if err != nil {
		return nil, tenant.AppError(err, apperr.CodeUserNotFound, "inviter not found")
	}
	return &models.InvitationDetails{
		Invitation:    *inv,
		WorkspaceName: ws.Name,
		WorkspaceSlug: ws.Slug,
		InviterEmail:  inviter.Email,
	}, nil
}

// ListInvitations returns every invitation of a workspace caller belongs to.
func (s *InvitationService) ListInvitations(ctx context.Context, caller *auth.Caller, workspaceID *uuid.UUID) ([]models.Invitation, error) {
	wsID, err := s.binder.Resolve(caller, workspaceID)
	if err != nil {
		return nil, err
	}
	if _, err := s.gate.Member(ctx, s.store, caller.UserID(), wsID); err != nil {
		return nil, err
	}
	list, err := s.store.ListInvitations(ctx, wsID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list invitations")
	}
	return list, nil
}

// ListUserInvitations returns the pending invitations addressed to caller.
func (s *InvitationService) ListUserInvitations(ctx context.Context, caller *auth.Caller) ([]models.Invitation, error) {
	list, err := s.store.ListPendingInvitationsByEmail(ctx, caller.Email(), s.now())
	if err != nil {
		return nil, apperr.Internal(err, "failed to list invitations")
	}
	return list, nil
}

func validEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.New(apperr.KindBadRequest, apperr.CodeInvalidRequest, "invalid email address")
	}
	return email, nil
}

func checkMembershipLimit(ctx context.Context, tx tenant.Store, workspaceID uuid.UUID, limit int) error {
	if limit <= 0 {
		return nil
	}
	n, err := tx.CountMembers(ctx, workspaceID)
	if err != nil {
		return apperr.Internal(err, "failed to count members")
	}
	if n >= limit {
		return apperr.New(apperr.KindForbidden, apperr.CodeMembershipLimit, "workspace membership limit reached")
	}
	return nil
}
