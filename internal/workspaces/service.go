// Package workspaces manages workspaces and the session's active workspace.
package workspaces

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerly/backend/internal/access"
	"github.com/ledgerly/backend/internal/apperr"
	"github.com/ledgerly/backend/internal/auth"
	"github.com/ledgerly/backend/internal/models"
	"github.com/ledgerly/backend/internal/tenant"
	"github.com/ledgerly/backend/pkg/storage"
	"github.com/ledgerly/backend/pkg/utils"
)

const maxNameLen = 255

// LogoStore keeps workspace logo objects.
type LogoStore interface {
	UploadLogo(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
	DeleteLogo(ctx context.Context, key string) error
	ObjectKeyFromURL(rawURL string) string
}

// Options tunes workspace creation.
type Options struct {
	AllowUserToCreateWorkspace bool
	MaxLogoBytes               int64
}

// Service implements the workspace operations.
type Service struct {
	store    tenant.Store
	gate     *Gate
	binder   *Binder
	logos    LogoStore
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
	publicID func() string
}

// NewService creates a workspace service. logos may be nil when logo storage is not configured.
func NewService(store tenant.Store, gate *Gate, binder *Binder, logos LogoStore, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxLogoBytes <= 0 {
		opts.MaxLogoBytes = storage.DefaultMaxLogoSize
	}
	return &Service{
		store:    store,
		gate:     gate,
		binder:   binder,
		logos:    logos,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		publicID: utils.PublicID,
	}
}

// CreateInput is the input of Create.
type CreateInput struct {
	Name                       string
	Slug                       string
	Logo                       *string
	Metadata                   models.Metadata
	KeepCurrentActiveWorkspace bool
}

// Create creates a workspace with caller as its creator-role member and,
// unless asked not to, makes it the caller's active workspace. Keeping the
// current workspace when none is active points the session at the caller's
// oldest membership.
func (s *Service) Create(ctx context.Context, caller *auth.Caller, in CreateInput) (*models.Workspace, error) {
	if !s.opts.AllowUserToCreateWorkspace {
		return nil, apperr.New(apperr.KindForbidden, apperr.CodeNotAllowedCreateWorkspace, "you are not allowed to create a new workspace")
	}
	name, err := validName(in.Name)
	if err != nil {
		return nil, err
	}
	slug, err := validSlug(in.Slug)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.FindWorkspaceBySlug(ctx, slug); err == nil {
		return nil, apperr.New(apperr.KindConflict, apperr.CodeWorkspaceExists, "workspace already exists")
	} else if !tenant.IsNotFound(err) {
		return nil, apperr.Internal(err, "failed to check slug")
	}

	ws := &models.Workspace{
		PublicID: s.publicID(),
		Slug:     slug,
		Name:     name,
		Logo:     in.Logo,
		Metadata: in.Metadata.Clone(),
	}
	creator := &models.Member{UserID: caller.UserID(), Role: s.gate.CreatorRole()}

	err = s.store.InTx(ctx, func(tx tenant.Store) error {
		if err := tx.CreateWorkspace(ctx, ws, creator); err != nil {
			if tenant.IsConflict(err) {
				return apperr.Wrap(err, apperr.KindConflict, apperr.CodeWorkspaceExists, "workspace already exists")
			}
			return apperr.Internal(err, "failed to create workspace")
		}
		if !in.KeepCurrentActiveWorkspace {
			return s.binder.Point(ctx, tx, caller, &ws.ID)
		}
		if caller.ActiveWorkspaceID() != nil {
			return nil
		}
		// nothing to keep: fall back to the caller's oldest membership
		oldest, err := tx.FindMemberByUserID(ctx, caller.UserID())
		if err != nil {
			return apperr.Internal(err, "failed to load membership")
		}
		return s.binder.Point(ctx, tx, caller, &oldest.WorkspaceID)
	})
	if err != nil {
		// the pointer write rolled back with the workspace
		s.binder.Sync(ctx, caller)
		return nil, err
	}

	s.logger.Info("workspace created",
		zap.String("workspace_id", ws.ID.String()),
		zap.String("slug", ws.Slug),
		zap.String("user_id", caller.UserID().String()))
	return ws, nil
}

// UpdateInput is a partial update; nil fields are left unchanged.
type UpdateInput struct {
	WorkspaceID   *uuid.UUID
	Name          *string
	Slug          *string
	Logo          *string // "" removes the logo
	Metadata      models.Metadata
	MergeMetadata bool
}

// Update applies in to the workspace. It requires organization:update.
func (s *Service) Update(ctx context.Context, caller *auth.Caller, in UpdateInput) (*models.Workspace, error) {
	wsID, err := s.binder.Resolve(caller, in.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if _, err := s.gate.Require(ctx, s.store, caller.UserID(), wsID,
		access.ResourceOrganization, access.ActionUpdate, apperr.CodeNotAllowedUpdateWorkspace); err != nil {
		return nil, err
	}
	ws, err := s.store.FindWorkspaceByID(ctx, wsID)
	if err != nil {
		return nil, tenant.AppError(err, apperr.CodeWorkspaceNotFound, "workspace not found")
	}

	if in.Name != nil {
		if ws.Name, err = validName(*in.Name); err != nil {
			return nil, err
		}
	}
	if in.Slug != nil {
		slug, err := validSlug(*in.Slug)
		if err != nil {
			return nil, err
		}
		if slug != ws.Slug {
			if _, err := s.store.FindWorkspaceBySlug(ctx, slug); err == nil {
				return nil, apperr.New(apperr.KindConflict, apperr.CodeWorkspaceExists, "workspace already exists")
			} else if !tenant.IsNotFound(err) {
				return nil, apperr.Internal(err, "failed to check slug")
			}
			ws.Slug = slug
		}
	}
	if in.Logo != nil {
		if *in.Logo == "" {
			ws.Logo = nil
		} else {
			logo := *in.Logo
			ws.Logo = &logo
		}
	}
	if in.Metadata != nil {
		if in.MergeMetadata {
			ws.Metadata = ws.Metadata.Merge(in.Metadata)
		} else {
			ws.Metadata = in.Metadata.Clone()
		}
	}

	if err := s.store.UpdateWorkspace(ctx, ws); err != nil {
		if tenant.IsConflict(err) {
			return nil, apperr.Wrap(err, apperr.KindConflict, apperr.CodeWorkspaceExists, "workspace already exists")
		}
		return nil, tenant.AppError(err, apperr.CodeWorkspaceNotFound, "failed to update workspace")
	}
	s.logger.Info("workspace updated", zap.String("workspace_id", ws.ID.String()), zap.String("user_id", caller.UserID().String()))
	return ws, nil
}

// Delete removes the workspace with its members and invitations. It requires organization:delete.
func (s *Service) Delete(ctx context.Context, caller *auth.Caller, workspaceID *uuid.UUID) (*models.Workspace, error) {
	wsID, err := s.binder.Resolve(caller, workspaceID)
	if err != nil {
		return nil, err
	}
	if _, err := s.gate.Require(ctx, s.store, caller.UserID(), wsID,
		access.ResourceOrganization, access.ActionDelete, apperr.CodeNotAllowedDeleteWorkspace); err != nil {
		return nil, err
	}
	ws, err := s.store.FindWorkspaceByID(ctx, wsID)
	if err != nil {
		return nil, tenant.AppError(err, apperr.CodeWorkspaceNotFound, "workspace not found")
	}

	err = s.store.InTx(ctx, func(tx tenant.Store) error {
		if err := tx.LockWorkspace(ctx, wsID); err != nil {
			return apperr.Internal(err, "failed to lock workspace")
		}
		if err := tx.DeleteWorkspace(ctx, wsID); err != nil {
			return tenant.AppError(err, apperr.CodeWorkspaceNotFound, "failed to delete workspace")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	Forget(caller, wsID)
	s.logger.Info("workspace deleted", zap.String("workspace_id", wsID.String()), zap.String("user_id", caller.UserID().String()))

	if ws.Logo != nil {
		s.removeLogo(ctx, *ws.Logo)
	}
	return ws, nil
}

func (s *Service) removeLogo(ctx context.Context, logoURL string) {
	if s.logos == nil {
		return
	}
	key := s.logos.ObjectKeyFromURL(logoURL)
	if key == "" {
		return
	}
	if err := s.logos.DeleteLogo(ctx, key); err != nil {
		s.logger.Warn("logo removal failed", zap.String("key", key), zap.Error(err))
	}
}

// List returns every workspace caller is a member of.
func (s *Service) List(ctx context.Context, caller *auth.Caller) ([]models.Workspace, error) {
	list, err := s.store.ListWorkspaces(ctx, caller.UserID())
	if err != nil {
		return nil, apperr.Internal(err, "failed to list workspaces")
	}
	return list, nil
}

// GetFull returns a workspace with members and invitations. A ref naming no
// workspace means the active one. Only members may read it.
func (s *Service) GetFull(ctx context.Context, caller *auth.Caller, ref Target) (*models.FullWorkspace, error) {
	var wsID uuid.UUID
	if ref.Named() {
		ws, err := s.binder.Lookup(ctx, ref)
		if err != nil {
			return nil, err
		}
		wsID = ws.ID
	} else {
		id, err := s.binder.Resolve(caller, nil)
		if err != nil {
			return nil, err
		}
		wsID = id
	}
	full, err := s.store.FindFullWorkspace(ctx, wsID)
	if err != nil {
		return nil, tenant.AppError(err, apperr.CodeWorkspaceNotFound, "workspace not found")
	}
	for _, m := range full.Members {
		if m.UserID == caller.UserID() {
			return full, nil
		}
	}
	return nil, apperr.New(apperr.KindForbidden, apperr.CodeNotAMember, "user is not a member of the workspace")
}

// CheckSlug reports whether slug is free to use.
func (s *Service) CheckSlug(ctx context.Context, slug string) (bool, error) {
	slug, err := validSlug(slug)
	if err != nil {
		return false, err
	}
	if _, err := s.store.FindWorkspaceBySlug(ctx, slug); err != nil {
		if tenant.IsNotFound(err) {
			return true, nil
		}
		return false, apperr.Internal(err, "failed to check slug")
	}
	return false, nil
}

// LogoUpload is one uploaded logo file.
type LogoUpload struct {
	WorkspaceID *uuid.UUID
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadLogo stores a new logo and points the workspace at it. It requires organization:update.
func (s *Service) UploadLogo(ctx context.Context, caller *auth.Caller, in LogoUpload) (*models.Workspace, error) {
	if s.logos == nil {
		return nil, apperr.New(apperr.KindUnavailable, apperr.CodeLogoNotConfigured, "logo storage is not configured")
	}
	wsID, err := s.binder.Resolve(caller, in.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if _, err := s.gate.Require(ctx, s.store, caller.UserID(), wsID,
		access.ResourceOrganization, access.ActionUpdate, apperr.CodeNotAllowedUpdateWorkspace); err != nil {
		return nil, err
	}
	if !storage.ValidateLogoFileType(in.ContentType, in.Filename) {
		return nil, apperr.New(apperr.KindBadRequest, apperr.CodeInvalidRequest, "logo must be a jpeg, png, webp or svg image")
	}
	if in.Size <= 0 || in.Size > s.opts.MaxLogoBytes {
		return nil, apperr.New(apperr.KindBadRequest, apperr.CodeInvalidRequest,
			fmt.Sprintf("logo must be between 1 and %d bytes", s.opts.MaxLogoBytes))
	}
	ws, err := s.store.FindWorkspaceByID(ctx, wsID)
	if err != nil {
		return nil, tenant.AppError(err, apperr.CodeWorkspaceNotFound, "workspace not found")
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = storage.ContentTypeForFilename(in.Filename)
	}
	key := storage.LogoKey(wsID.String(), s.publicID()+strings.ToLower(path.Ext(in.Filename)))
	url, err := s.logos.UploadLogo(ctx, key, contentType, in.Body, in.Size)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("upload logo for workspace %s: %w", wsID, err), "failed to upload logo")
	}

	previous := ws.Logo
	ws.Logo = &url
	if err := s.store.UpdateWorkspace(ctx, ws); err != nil {
		s.removeLogo(ctx, url)
		return nil, tenant.AppError(err, apperr.CodeWorkspaceNotFound, "failed to update workspace")
	}
	if previous != nil {
		s.removeLogo(ctx, *previous)
	}
	return ws, nil
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLen {
		return "", apperr.New(apperr.KindBadRequest, apperr.CodeInvalidRequest, "name must be 1–255 characters")
	}
	return name, nil
}

func validSlug(slug string) (string, error) {
	slug = utils.NormalizeSlug(slug)
	if !utils.ValidSlug(slug) {
		return "", apperr.New(apperr.KindBadRequest, apperr.CodeInvalidSlug, "slug must be 2–64 chars, lowercase letters, numbers, hyphens only")
	}
	return slug, nil
}
