package workspaces

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerly/backend/internal/apperr"
	"github.com/ledgerly/backend/internal/auth"
	"github.com/ledgerly/backend/internal/models"
	"github.com/ledgerly/backend/pkg/response"
	"github.com/ledgerly/backend/pkg/utils"
)

// OptionalString distinguishes an absent JSON field from an explicit null.
type OptionalString struct {
	Set   bool
	Null  bool
	Value string
}

// UnmarshalJSON records that the field was present.
func (o *OptionalString) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Null = true
		return nil
	}
	return json.Unmarshal(b, &o.Value)
}

// CreateRequest is the body for POST /workspace/create.
type CreateRequest struct {
	Name                       string          `json:"name" binding:"required"`
	Slug                       string          `json:"slug" binding:"required"`
	Logo                       *string         `json:"logo"`
	Metadata                   models.Metadata `json:"metadata"`
	KeepCurrentActiveWorkspace bool            `json:"keep_current_active_workspace"`
}

// UpdateRequest is the body for POST /workspace/update.
type UpdateRequest struct {
	WorkspaceID   string          `json:"workspace_id"`
	Name          *string         `json:"name"`
	Slug          *string         `json:"slug"`
	Logo          *string         `json:"logo"`
	Metadata      models.Metadata `json:"metadata"`
	MergeMetadata bool            `json:"merge_metadata"`
}

// WorkspaceRequest names a workspace; empty means the active one.
type WorkspaceRequest struct {
	WorkspaceID string `json:"workspace_id"`
}

// SetActiveRequest is the body for POST /workspace/set-active.
// workspace_id null clears the pointer; omitting every field leaves it unchanged.
type SetActiveRequest struct {
	WorkspaceID       OptionalString `json:"workspace_id"`
	WorkspaceSlug     OptionalString `json:"workspace_slug"`
	WorkspacePublicID OptionalString `json:"workspace_public_id"`
}

// CheckSlugRequest is the body for POST /workspace/check-slug.
type CheckSlugRequest struct {
	Slug string `json:"slug" binding:"required"`
}

// SetActiveResponse is the result of set-active.
type SetActiveResponse struct {
	Workspace *models.Workspace `json:"workspace"`
	Token     string            `json:"token"`
}

// Handler handles workspace HTTP endpoints.
type Handler struct {
	svc       *Service
	binder    *Binder
	refresher *auth.Refresher
	logger    *zap.Logger
}

// NewHandler creates a workspaces handler.
func NewHandler(svc *Service, binder *Binder, refresher *auth.Refresher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, binder: binder, refresher: refresher, logger: logger}
}

// CallerOrAbort returns the authenticated caller or writes 401.
func CallerOrAbort(c *gin.Context) (*auth.Caller, bool) {
	caller, ok := auth.CallerFrom(c)
	if !ok {
		response.Unauthorized(c, "missing session")
		return nil, false
	}
	return caller, true
}

// ParseWorkspaceID parses an optional workspace id; "" yields nil.
func ParseWorkspaceID(s string) (*uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindBadRequest, apperr.CodeInvalidRequest, "invalid workspace_id")
	}
	return &id, nil
}

// refreshIfMoved re-signs the session token when the active pointer changed during the request.
func (h *Handler) refreshIfMoved(c *gin.Context, caller *auth.Caller, before *uuid.UUID) string {
	after := caller.ActiveWorkspaceID()
	if (before == nil) == (after == nil) && (before == nil || *before == *after) {
		return ""
	}
	return h.refresh(c, caller)
}

func (h *Handler) refresh(c *gin.Context, caller *auth.Caller) string {
	token, err := h.refresher.Refresh(c, caller)
	if err != nil {
		h.logger.Error("session token refresh failed", zap.String("user_id", caller.UserID().String()), zap.Error(err))
		return ""
	}
	return token
}

func snapshot(caller *auth.Caller) *uuid.UUID {
	if id := caller.ActiveWorkspaceID(); id != nil {
		v := *id
		return &v
	}
	return nil
}

// Create handles POST /workspace/create.
func (h *Handler) Create(c *gin.Context) {
	caller, ok := CallerOrAbort(c)
	if !ok {
		return
	}
	var body CreateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "name and slug required")
		return
	}
	before := snapshot(caller)
	ws, err := h.svc.Create(c.Request.Context(), caller, CreateInput{
		Name:                       body.Name,
		Slug:                       body.Slug,
		Logo:                       body.Logo,
		Metadata:                   body.Metadata,
		KeepCurrentActiveWorkspace: body.KeepCurrentActiveWorkspace,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	h.refreshIfMoved(c, caller, before)
	response.Created(c, ws)
}

// Update handles POST /workspace/update.
func (h *Handler) Update(c *gin.Context) {
	caller, ok := CallerOrAbort(c)
	if !ok {
		return
	}
	var body UpdateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	wsID, err := ParseWorkspaceID(body.WorkspaceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	ws, err := h.svc.Update(c.Request.Context(), caller, UpdateInput{
		WorkspaceID:   wsID,
		Name:          body.Name,
		Slug:          body.Slug,
		Logo:          body.Logo,
		Metadata:      body.Metadata,
		MergeMetadata: body.MergeMetadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, ws)
}

// Delete handles POST /workspace/delete.
func (h *Handler) Delete(c *gin.Context) {
	caller, ok := CallerOrAbort(c)
	if !ok {
		return
	}
	var body WorkspaceRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	wsID, err := ParseWorkspaceID(body.WorkspaceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	before := snapshot(caller)
	ws, err := h.svc.Delete(c.Request.Context(), caller, wsID)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.refreshIfMoved(c, caller, before)
	response.OK(c, ws)
}

// List handles GET /workspace/list.
func (h *Handler) List(c *gin.Context) {
	caller, ok := CallerOrAbort(c)
	if !ok {
		return
	}
	list, err := h.svc.List(c.Request.Context(), caller)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// GetFull handles GET /workspace/get-full-workspace?workspace_id=|workspace_slug=|workspace_public_id=.
func (h *Handler) GetFull(c *gin.Context) {
	caller, ok := CallerOrAbort(c)
	if !ok {
		return
	}
	var ref Target
	switch {
	case c.Query("workspace_id") != "":
		id, err := ParseWorkspaceID(c.Query("workspace_id"))
		if err != nil {
			response.Error(c, err)
			return
		}
		ref.ID = id
	case c.Query("workspace_slug") != "":
		ref.Slug = utils.NormalizeSlug(c.Query("workspace_slug"))
	default:
		ref.PublicID = strings.TrimSpace(c.Query("workspace_public_id"))
	}
	full, err := h.svc.GetFull(c.Request.Context(), caller, ref)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, full)
}

// SetActive handles POST /workspace/set-active.
func (h *Handler) SetActive(c *gin.Context) {
	caller, ok := CallerOrAbort(c)
	if !ok {
		return
	}
	var body SetActiveRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	target, err := body.target()
	if err != nil {
		response.Error(c, err)
		return
	}
	before := snapshot(caller)
	ws, err := h.binder.SetActive(c.Request.Context(), caller, target)
	if err != nil {
		h.refreshIfMoved(c, caller, before)
		response.Error(c, err)
		return
	}
	token := h.refreshIfMoved(c, caller, before)
	response.OK(c, SetActiveResponse{Workspace: ws, Token: token})
}

func (r SetActiveRequest) target() (Target, error) {
	switch {
	case r.WorkspaceID.Set && !r.WorkspaceID.Null:
		id, err := ParseWorkspaceID(r.WorkspaceID.Value)
		if err != nil {
			return Target{}, err
		}
		if id == nil {
			return Target{}, apperr.New(apperr.KindBadRequest, apperr.CodeInvalidRequest, "invalid workspace_id")
		}
		return Target{ID: id}, nil
	case r.WorkspaceSlug.Set && !r.WorkspaceSlug.Null && strings.TrimSpace(r.WorkspaceSlug.Value) != "":
		return Target{Slug: utils.NormalizeSlug(r.WorkspaceSlug.Value)}, nil
	case r.WorkspacePublicID.Set && !r.WorkspacePublicID.Null && strings.TrimSpace(r.WorkspacePublicID.Value) != "":
		return Target{PublicID: strings.TrimSpace(r.WorkspacePublicID.Value)}, nil
	case r.WorkspaceID.Set && r.WorkspaceID.Null:
		return Target{Clear: true}, nil
	default:
		return Target{Omitted: true}, nil
	}
}

// CheckSlug handles POST /workspace/check-slug.
func (h *Handler) CheckSlug(c *gin.Context) {
	var body CheckSlugRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "slug required")
		return
	}
	available, err := h.svc.CheckSlug(c.Request.Context(), body.Slug)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"available": available})
}

// UploadLogo handles POST /workspace/upload-logo (multipart: file, workspace_id).
func (h *Handler) UploadLogo(c *gin.Context) {
	caller, ok := CallerOrAbort(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file required")
		return
	}
	wsID, err := ParseWorkspaceID(c.PostForm("workspace_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, "failed to read file")
		return
	}
	defer f.Close()

	ws, err := h.svc.UploadLogo(c.Request.Context(), caller, LogoUpload{
		WorkspaceID: wsID,
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, ws)
}
