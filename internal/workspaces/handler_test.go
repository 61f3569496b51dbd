package workspaces

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerly/backend/internal/apperr"
	"github.com/ledgerly/backend/internal/auth"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
}

func router(e *env, jwt *auth.JWTService, caller *auth.Caller) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(e.svc, e.binder, auth.NewRefresher(jwt, "sid", false), nil)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(auth.ContextCaller, caller)
		c.Next()
	})
	g := r.Group("/workspace")
	g.POST("/create", h.Create)
	g.POST("/delete", h.Delete)
	g.POST("/set-active", h.SetActive)
	g.POST("/check-slug", h.CheckSlug)
	g.GET("/get-full-workspace", h.GetFull)
	return r
}

func do(r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

// doStreamed sends body without a Content-Length, as a chunked client would.
func doStreamed(r *gin.Engine, path, body string) (*httptest.ResponseRecorder, envelope) {
	req := httptest.NewRequest(http.MethodPost, path, io.NopCloser(strings.NewReader(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestHandlerCreateRefreshesToken(t *testing.T) {
	e := newEnv(t)
	a := e.fx.Caller("a@example.com")
	jwt := auth.NewJWTService("secret", 24)
	r := router(e, jwt, a)

	w, body := do(r, http.MethodPost, "/workspace/create", `{"name":"Acme","slug":"acme"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, body.Success)

	token := w.Header().Get(auth.HeaderSessionToken)
	require.NotEmpty(t, token)
	claims, err := jwt.Validate(token)
	require.NoError(t, err)
	require.NotNil(t, claims.ActiveWorkspaceID)
	assert.Equal(t, *a.ActiveWorkspaceID(), *claims.ActiveWorkspaceID)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "sid=")

	w, body = do(r, http.MethodPost, "/workspace/create", `{"name":"Acme"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(apperr.CodeInvalidRequest), body.Code)
}

func TestHandlerSetActiveNullVersusOmitted(t *testing.T) {
	e := newEnv(t)
	a := e.fx.Caller("a@example.com")
	ws := e.workspace(t, a, "acme")
	r := router(e, auth.NewJWTService("secret", 24), a)

	w, body := do(r, http.MethodPost, "/workspace/set-active", `{}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get(auth.HeaderSessionToken))
	var res SetActiveResponse
	require.NoError(t, json.Unmarshal(body.Data, &res))
	require.NotNil(t, res.Workspace)
	assert.Equal(t, ws.ID, res.Workspace.ID)

	w, body = do(r, http.MethodPost, "/workspace/set-active", `{"workspace_id":null}`)
	require.Equal(t, http.StatusOK, w.Code)
	res = SetActiveResponse{}
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.Nil(t, res.Workspace)
	assert.NotEmpty(t, res.Token)
	assert.Nil(t, e.fx.Refresh(a).ActiveWorkspaceID())

	w, _ = do(r, http.MethodPost, "/workspace/set-active", `{"workspace_slug":"acme"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ws.ID, *e.fx.Refresh(a).ActiveWorkspaceID())

	w, body = do(r, http.MethodPost, "/workspace/set-active", `{"workspace_id":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(apperr.CodeInvalidRequest), body.Code)
}

func TestHandlerSetActiveForbiddenStillRefreshes(t *testing.T) {
	e := newEnv(t)
	a := e.fx.Caller("a@example.com")
	b := e.fx.Caller("b@example.com")
	e.workspace(t, b, "bee")
	e.workspace(t, a, "acme")
	r := router(e, auth.NewJWTService("secret", 24), b)

	w, body := do(r, http.MethodPost, "/workspace/set-active", `{"workspace_slug":"acme"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, string(apperr.CodeNotAMember), body.Code)
	assert.NotEmpty(t, w.Header().Get(auth.HeaderSessionToken))
	assert.Nil(t, e.fx.Refresh(b).ActiveWorkspaceID())
}

func TestHandlerCheckSlugAndGetFull(t *testing.T) {
	e := newEnv(t)
	a := e.fx.Caller("a@example.com")
	e.workspace(t, a, "acme")
	r := router(e, auth.NewJWTService("secret", 24), a)

	w, body := do(r, http.MethodPost, "/workspace/check-slug", `{"slug":"acme"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"available":false}`, string(body.Data))

	w, _ = do(r, http.MethodGet, "/workspace/get-full-workspace?workspace_slug=acme", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w, body = do(r, http.MethodGet, "/workspace/get-full-workspace?workspace_slug=nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(apperr.CodeWorkspaceNotFound), body.Code)
}

func TestHandlerRejectsMalformedStreamedBody(t *testing.T) {
	e := newEnv(t)
	a := e.fx.Caller("a@example.com")
	ws := e.workspace(t, a, "acme")
	r := router(e, auth.NewJWTService("secret", 24), a)

	w, body := doStreamed(r, "/workspace/set-active", `{"workspace_id":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(apperr.CodeInvalidRequest), body.Code)
	assert.Equal(t, ws.ID, *e.fx.Refresh(a).ActiveWorkspaceID())

	w, _ = doStreamed(r, "/workspace/delete", `{"workspace_id":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	_, err := e.fx.Store.FindWorkspaceByID(context.Background(), ws.ID)
	require.NoError(t, err)

	// an empty body still means the active workspace
	w, _ = doStreamed(r, "/workspace/set-active", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = doStreamed(r, "/workspace/delete", "")
	assert.Equal(t, http.StatusOK, w.Code)
	_, err = e.fx.Store.FindWorkspaceByID(context.Background(), ws.ID)
	assert.Error(t, err)
}

func TestHandlerPublicIDReferences(t *testing.T) {
	e := newEnv(t)
	a := e.fx.Caller("a@example.com")
	acme := e.workspace(t, a, "acme")
	e.workspace(t, a, "globex")
	r := router(e, auth.NewJWTService("secret", 24), a)

	w, body := do(r, http.MethodGet, "/workspace/get-full-workspace?workspace_public_id="+acme.PublicID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var full struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &full))
	assert.Equal(t, acme.ID.String(), full.ID)

	w, _ = do(r, http.MethodPost, "/workspace/set-active", `{"workspace_public_id":"`+acme.PublicID+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, acme.ID, *e.fx.Refresh(a).ActiveWorkspaceID())

	w, body = do(r, http.MethodGet, "/workspace/get-full-workspace?workspace_slug="+acme.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(apperr.CodeWorkspaceNotFound), body.Code)
}

func TestOptionalString(t *testing.T) {
	var req SetActiveRequest
	require.NoError(t, json.Unmarshal([]byte(`{"workspace_id":null}`), &req))
	assert.True(t, req.WorkspaceID.Set)
	assert.True(t, req.WorkspaceID.Null)
	assert.False(t, req.WorkspaceSlug.Set)
}
