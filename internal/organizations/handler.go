package organizations

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerly/backend/internal/apperr"
	"github.com/ledgerly/backend/internal/auth"
	"github.com/ledgerly/backend/internal/workspaces"
	"github.com/ledgerly/backend/pkg/response"
)

// Handler handles invitation and membership HTTP endpoints.
type Handler struct {
	invitations *InvitationService
	members     *MemberService
	refresher   *auth.Refresher
	logger      *zap.Logger
}

// NewHandler creates an organizations handler.
func NewHandler(invitations *InvitationService, members *MemberService, refresher *auth.Refresher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{invitations: invitations, members: members, refresher: refresher, logger: logger}
}

// InviteMemberRequest is the body for POST /organization/invite-member.
type InviteMemberRequest struct {
	Email       string `json:"email" binding:"required"`
	Role        string `json:"role" binding:"required"`
	WorkspaceID string `json:"workspace_id"`
	Resend      bool   `json:"resend"`
}

// InvitationRequest names an invitation.
type InvitationRequest struct {
	InvitationID string `json:"invitation_id" binding:"required"`
}

// AddMemberRequest is the body for POST /organization/add-member.
type AddMemberRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	Role        string `json:"role" binding:"required"`
	WorkspaceID string `json:"workspace_id" binding:"required"`
}

// RemoveMemberRequest is the body for POST /organization/remove-member.
type RemoveMemberRequest struct {
	MemberIDOrEmail string `json:"member_id_or_email" binding:"required"`
	WorkspaceID     string `json:"workspace_id"`
}

// UpdateMemberRoleRequest is the body for POST /organization/update-member-role.
type UpdateMemberRoleRequest struct {
	MemberID    string `json:"member_id" binding:"required"`
	Role        string `json:"role" binding:"required"`
	WorkspaceID string `json:"workspace_id"`
}

// AcceptResponse is the result of accept-invitation.
type AcceptResponse struct {
	*AcceptResult
	Token string `json:"token,omitempty"`
}

func parseID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Wrap(err, apperr.KindBadRequest, apperr.CodeInvalidRequest, "invalid "+field)
	}
	return id, nil
}

func (h *Handler) invitationID(c *gin.Context) (uuid.UUID, bool) {
	var body InvitationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invitation_id required")
		return uuid.Nil, false
	}
	id, err := parseID(body.InvitationID, "invitation_id")
	if err != nil {
		response.Error(c, err)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) refresh(c *gin.Context, caller *auth.Caller) string {
	token, err := h.refresher.Refresh(c, caller)
	if err != nil {
		h.logger.Error("session token refresh failed", zap.String("user_id", caller.UserID().String()), zap.Error(err))
		return ""
	}
	return token
}

// InviteMember handles POST /organization/invite-member.
func (h *Handler) InviteMember(c *gin.Context) {
	caller, ok := workspaces.CallerOrAbort(c)
	if !ok {
		return
	}
	var body InviteMemberRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "email and role required")
		return
	}
	wsID, err := workspaces.ParseWorkspaceID(body.WorkspaceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	inv, err := h.invitations.Create(c.Request.Context(), caller, InviteInput{
		Email:       body.Email,
		Role:        body.Role,
		WorkspaceID: wsID,
		Resend:      body.Resend,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, inv)
}

// AcceptInvitation handles POST /organization/accept-invitation.
func (h *Handler) AcceptInvitation(c *gin.Context) {
	caller, ok := workspaces.CallerOrAbort(c)
	if !ok {
		return
	}
	id, ok := h.invitationID(c)
	if !ok {
		return
	}
	res, err := h.invitations.Accept(c.Request.Context(), caller, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, AcceptResponse{AcceptResult: res, Token: h.refresh(c, caller)})
}

// RejectInvitation handles POST /organization/reject-invitation.
func (h *Handler) RejectInvitation(c *gin.Context) {
	caller, ok := workspaces.CallerOrAbort(c)
	if !ok {
		return
	}
	id, ok := h.invitationID(c)
	if !ok {
		return
	}
	inv, err := h.invitations.Reject(c.Request.Context(), caller, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, inv)
}

// CancelInvitation handles POST /organization/cancel-invitation.
func (h *Handler) CancelInvitation(c *gin.Context) {
	caller, ok := workspaces.CallerOrAbort(c)
	if !ok {
		return
	}
	id, ok := h.invitationID(c)
	if !ok {
		return
	}
	inv, err := h.invitations.Cancel(c.Request.Context(), caller, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, inv)
}

// GetInvitation handles GET /organization/get-invitation?id=.
func (h *Handler) GetInvitation(c *gin.Context) {
	caller, ok := workspaces.CallerOrAbort(c)
	if !ok {
		return
	}
	id, err := parseID(c.Query("id"), "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	details, err := h.invitations.Get(c.Request.Context(), caller, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, details)
}

// ListInvitations handles GET /organization/list-invitations?workspace_id=.
func (h *Handler) ListInvitations(c *gin.Context) {
	caller, ok := workspaces.CallerOrAbort(c)
	if !ok {
		return
	}
	wsID, err := workspaces.ParseWorkspaceID(c.Query("workspace_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	list, err := h.invitations.ListInvitations(c.Request.Context(), caller, wsID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// ListUserInvitations handles GET /organization/list-user-invitations.
func (h *Handler) ListUserInvitations(c *gin.Context) {
	caller, ok := workspaces.CallerOrAbort(c)
	if !ok {
		return
	}
	list, err := h.invitations.ListUserInvitations(c.Request.Context(), caller)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// AddMember handles POST /organization/add-member. Mounted behind the server key.
func (h *Handler) AddMember(c *gin.Context) {
	var body AddMemberRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "user_id, role and workspace_id required")
		return
	}
	userID, err := parseID(body.UserID, "user_id")
	if err != nil {
		response.Error(c, err)
		return
	}
	wsID, err := parseID(body.WorkspaceID, "workspace_id")
	if err != nil {
		response.Error(c, err)
		return
	}
	m, err := h.members.AddMember(c.Request.Context(), AddMemberInput{UserID: userID, Role: body.Role, WorkspaceID: wsID})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, m)
}

// RemoveMember handles POST /organization/remove-member.
func (h *Handler) RemoveMember(c *gin.Context) {
	caller, ok := workspaces.CallerOrAbort(c)
	if !ok {
		return
	}
	var body RemoveMemberRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "member_id_or_email required")
		return
	}
	wsID, err := workspaces.ParseWorkspaceID(body.WorkspaceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	hadPointer := caller.ActiveWorkspaceID() != nil
	m, err := h.members.RemoveMember(c.Request.Context(), caller, RemoveInput{MemberIDOrEmail: body.MemberIDOrEmail, WorkspaceID: wsID})
	if err != nil {
		response.Error(c, err)
		return
	}
	if hadPointer && caller.ActiveWorkspaceID() == nil {
		h.refresh(c, caller)
	}
	response.OK(c, m)
}

// Leave handles POST /organization/leave.
func (h *Handler) Leave(c *gin.Context) {
	caller, ok := workspaces.CallerOrAbort(c)
	if !ok {
		return
	}
	var body workspaces.WorkspaceRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	wsID, err := workspaces.ParseWorkspaceID(body.WorkspaceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	hadPointer := caller.ActiveWorkspaceID() != nil
	m, err := h.members.Leave(c.Request.Context(), caller, wsID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if hadPointer && caller.ActiveWorkspaceID() == nil {
		h.refresh(c, caller)
	}
	response.OK(c, m)
}

// UpdateMemberRole handles POST /organization/update-member-role.
func (h *Handler) UpdateMemberRole(c *gin.Context) {
	caller, ok := workspaces.CallerOrAbort(c)
	if !ok {
		return
	}
	var body UpdateMemberRoleRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "member_id and role required")
		return
	}
	memberID, err := parseID(body.MemberID, "member_id")
	if err != nil {
		response.Error(c, err)
		return
	}
	wsID, err := workspaces.ParseWorkspaceID(body.WorkspaceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	m, err := h.members.UpdateMemberRole(c.Request.Context(), caller, UpdateRoleInput{MemberID: memberID, Role: body.Role, WorkspaceID: wsID})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, m)
}

// GetActiveMember handles GET /organization/get-active-member.
func (h *Handler) GetActiveMember(c *gin.Context) {
	caller, ok := workspaces.CallerOrAbort(c)
	if !ok {
		return
	}
	m, err := h.members.GetActiveMember(c.Request.Context(), caller)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, m)
}

// ListMembers handles GET /organization/list-members?workspace_id=.
func (h *Handler) ListMembers(c *gin.Context) {
	caller, ok := workspaces.CallerOrAbort(c)
	if !ok {
		return
	}
	wsID, err := workspaces.ParseWorkspaceID(c.Query("workspace_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	list, err := h.members.ListMembers(c.Request.Context(), caller, wsID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}
