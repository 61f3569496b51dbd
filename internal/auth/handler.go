package auth

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ledgerly/backend/internal/apperr"
	"github.com/ledgerly/backend/internal/models"
	"github.com/ledgerly/backend/internal/tenant"
	"github.com/ledgerly/backend/pkg/response"
)

// ContextCaller is the gin context key holding *Caller.
const ContextCaller = "caller"

// SessionResponse is the body of GET /auth/session.
type SessionResponse struct {
	Session *models.Session `json:"session"`
	User    *models.User    `json:"user"`
	Token   string          `json:"token,omitempty"`
}

// IssueSessionRequest is the body of POST /auth/sessions.
type IssueSessionRequest struct {
	Email string `json:"email" binding:"required"`
}

// UserFinder looks users up by email.
type UserFinder interface {
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// CallerFrom returns the caller stored by the session middleware.
func CallerFrom(c *gin.Context) (*Caller, bool) {
	v, ok := c.Get(ContextCaller)
	if !ok {
		return nil, false
	}
	caller, ok := v.(*Caller)
	return caller, ok && caller != nil
}

// Handler serves session introspection and server-side session issuing.
type Handler struct {
	issuer    *Issuer
	users     UserFinder
	refresher *Refresher
	logger    *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(issuer *Issuer, users UserFinder, refresher *Refresher, logger *zap.Logger) *Handler {
	return &Handler{issuer: issuer, users: users, refresher: refresher, logger: logger}
}

// Session handles GET /auth/session.
func (h *Handler) Session(c *gin.Context) {
	caller, ok := CallerFrom(c)
	if !ok {
		response.Unauthorized(c, "missing session")
		return
	}
	response.OK(c, SessionResponse{Session: caller.Session, User: caller.User})
}

// IssueSession handles POST /auth/sessions. The sign-in service calls it with the
// server key once it has authenticated the user; the new session has no active workspace.
func (h *Handler) IssueSession(c *gin.Context) {
	var req IssueSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	user, err := h.users.FindUserByEmail(c.Request.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		response.Error(c, tenant.AppError(err, apperr.CodeUserNotFound, "user not found"))
		return
	}
	_, session, err := h.issuer.Issue(c.Request.Context(), user)
	if err != nil {
		h.logger.Error("issue session", zap.String("user_id", user.ID.String()), zap.Error(err))
		response.Internal(c, "could not create session")
		return
	}
	token, err := h.refresher.Refresh(c, &Caller{Session: session, User: user})
	if err != nil {
		h.logger.Error("sign session", zap.Error(err))
		response.Internal(c, "could not sign session")
		return
	}
	response.Created(c, SessionResponse{Session: session, User: user, Token: token})
}
