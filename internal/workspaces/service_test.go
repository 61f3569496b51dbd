package workspaces

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerly/backend/internal/access"
	"github.com/ledgerly/backend/internal/apperr"
	"github.com/ledgerly/backend/internal/auth"
	"github.com/ledgerly/backend/internal/models"
	"github.com/ledgerly/backend/internal/testutil"
)

const logoHost = "https://logos.s3.us-east-1.amazonaws.com/"

type fakeLogos struct {
	uploaded []string
	deleted  []string
}

func (f *fakeLogos) UploadLogo(_ context.Context, key, _ string, body io.Reader, _ int64) (string, error) {
	if _, err := io.ReadAll(body); err != nil {
		return "", err
	}
	f.uploaded = append(f.uploaded, key)
	return logoHost + key, nil
}

func (f *fakeLogos) DeleteLogo(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeLogos) ObjectKeyFromURL(rawURL string) string {
	if !strings.HasPrefix(rawURL, logoHost) {
		return ""
	}
	return strings.TrimPrefix(rawURL, logoHost)
}

type env struct {
	fx     *testutil.Fixtures
	svc    *Service
	binder *Binder
	logos  *fakeLogos
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fx := testutil.NewFixtures(t)
	binder := NewBinder(fx.Store, nil)
	gate := NewGate(access.NewTable(nil), access.RoleOwner)
	logos := &fakeLogos{}
	svc := NewService(fx.Store, gate, binder, logos, Options{AllowUserToCreateWorkspace: true}, nil)
	return &env{fx: fx, svc: svc, binder: binder, logos: logos}
}

func (e *env) workspace(t *testing.T, owner *auth.Caller, slug string) *models.Workspace {
	t.Helper()
	ws, err := e.svc.Create(context.Background(), owner, CreateInput{Name: strings.ToUpper(slug), Slug: slug})
	require.NoError(t, err)
	return ws
}

func (e *env) join(t *testing.T, c *auth.Caller, ws *models.Workspace, role string) {
	t.Helper()
	require.NoError(t, e.fx.Store.CreateMember(context.Background(),
		&models.Member{WorkspaceID: ws.ID, UserID: c.UserID(), Role: role}))
}

func TestCreateMakesCreatorOwnerAndActivates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.fx.Caller("a@example.com")

	ws, err := e.svc.Create(ctx, a, CreateInput{Name: "Acme", Slug: " Acme ", Metadata: models.Metadata{"currency": "EUR"}})
	require.NoError(t, err)
	assert.Equal(t, "acme", ws.Slug)
	assert.NotEmpty(t, ws.PublicID)
	assert.Equal(t, "EUR", ws.Metadata["currency"])

	m, err := e.fx.Store.FindMemberByWorkspaceID(ctx, a.UserID(), ws.ID)
	require.NoError(t, err)
	assert.Equal(t, access.RoleOwner, m.Role)

	require.NotNil(t, a.ActiveWorkspaceID())
	assert.Equal(t, ws.ID, *a.ActiveWorkspaceID())
	stored := e.fx.Refresh(a)
	require.NotNil(t, stored.ActiveWorkspaceID())
	assert.Equal(t, ws.ID, *stored.ActiveWorkspaceID())
}

func TestCreateKeepsCurrentActiveWorkspace(t *testing.T) {
	e := newEnv(t)
	a := e.fx.Caller("a@example.com")
	first := e.workspace(t, a, "first")

	_, err := e.svc.Create(context.Background(), a, CreateInput{Name: "Second", Slug: "second", KeepCurrentActiveWorkspace: true})
	require.NoError(t, err)
	assert.Equal(t, first.ID, *e.fx.Refresh(a).ActiveWorkspaceID())
}

func TestCreateKeepCurrentWithoutActiveFallsBackToOldestMembership(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.fx.Caller("a@example.com")
	b := e.fx.Caller("b@example.com")
	acme := e.workspace(t, a, "acme")
	e.join(t, b, acme, access.RoleMember)
	require.Nil(t, b.ActiveWorkspaceID())

	_, err := e.svc.Create(ctx, b, CreateInput{Name: "Bee", Slug: "bee", KeepCurrentActiveWorkspace: true})
	require.NoError(t, err)
	require.NotNil(t, b.ActiveWorkspaceID())
	assert.Equal(t, acme.ID, *b.ActiveWorkspaceID())
	assert.Equal(t, acme.ID, *e.fx.Refresh(b).ActiveWorkspaceID())

	// a first workspace is the only membership there is
	c := e.fx.Caller("c@example.com")
	ws, err := e.svc.Create(ctx, c, CreateInput{Name: "Cee", Slug: "cee", KeepCurrentActiveWorkspace: true})
	require.NoError(t, err)
	require.NotNil(t, e.fx.Refresh(c).ActiveWorkspaceID())
	assert.Equal(t, ws.ID, *e.fx.Refresh(c).ActiveWorkspaceID())
}

func TestCreateRejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.fx.Caller("a@example.com")
	e.workspace(t, a, "acme")

	_, err := e.svc.Create(ctx, a, CreateInput{Name: "Acme 2", Slug: "acme"})
	assert.Equal(t, apperr.CodeWorkspaceExists, apperr.CodeOf(err))
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = e.svc.Create(ctx, a, CreateInput{Name: "Bad", Slug: "not a slug"})
	assert.Equal(t, apperr.CodeInvalidSlug, apperr.CodeOf(err))

	_, err = e.svc.Create(ctx, a, CreateInput{Name: "Uuid", Slug: uuid.NewString()})
	assert.Equal(t, apperr.CodeInvalidSlug, apperr.CodeOf(err))

	_, err = e.svc.Create(ctx, a, CreateInput{Name: "  ", Slug: "blank"})
	assert.Equal(t, apperr.CodeInvalidRequest, apperr.CodeOf(err))

	e.svc.opts.AllowUserToCreateWorkspace = false
	_, err = e.svc.Create(ctx, a, CreateInput{Name: "Other", Slug: "other"})
	assert.Equal(t, apperr.CodeNotAllowedCreateWorkspace, apperr.CodeOf(err))
}

func TestCreateRollsBackWhenPointerWriteFails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.fx.Caller("a@example.com")
	a.Session.Token = "revoked"

	_, err := e.svc.Create(ctx, a, CreateInput{Name: "Acme", Slug: "acme"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	_, err = e.fx.Store.FindWorkspaceBySlug(ctx, "acme")
	assert.Error(t, err)
	list, err := e.fx.Store.ListWorkspaces(ctx, a.UserID())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUpdateRequiresPermissionAndMergesMetadata(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.fx.Caller("a@example.com")
	b := e.fx.Caller("b@example.com")
	ws, err := e.svc.Create(ctx, a, CreateInput{Name: "Acme", Slug: "acme", Metadata: models.Metadata{"currency": "EUR"}})
	require.NoError(t, err)
	e.join(t, b, ws, access.RoleMember)

	name := "Acme Ltd"
	_, err = e.svc.Update(ctx, b, UpdateInput{WorkspaceID: &ws.ID, Name: &name})
	assert.Equal(t, apperr.CodeNotAllowedUpdateWorkspace, apperr.CodeOf(err))
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	updated, err := e.svc.Update(ctx, a, UpdateInput{
		Name:          &name,
		Metadata:      models.Metadata{"locale": "de"},
		MergeMetadata: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme Ltd", updated.Name)
	assert.Equal(t, models.Metadata{"currency": "EUR", "locale": "de"}, updated.Metadata)

	updated, err = e.svc.Update(ctx, a, UpdateInput{Metadata: models.Metadata{"locale": "fr"}})
	require.NoError(t, err)
	assert.Equal(t, models.Metadata{"locale": "fr"}, updated.Metadata)
}

func TestUpdateWithoutActiveWorkspace(t *testing.T) {
	e := newEnv(t)
	a := e.fx.Caller("a@example.com")
	name := "x"
	_, err := e.svc.Update(context.Background(), a, UpdateInput{Name: &name})
	assert.Equal(t, apperr.CodeNoActiveWorkspace, apperr.CodeOf(err))
}

func TestDeleteCascadesAndClearsPointers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.fx.Caller("a@example.com")
	b := e.fx.Caller("b@example.com")
	ws := e.workspace(t, a, "acme")
	e.join(t, b, ws, access.RoleAdmin)
	_, err := e.binder.SetActive(ctx, b, Target{ID: &ws.ID})
	require.NoError(t, err)

	_, err = e.svc.Delete(ctx, b, &ws.ID)
	assert.Equal(t, apperr.CodeNotAllowedDeleteWorkspace, apperr.CodeOf(err))

	logo := logoHost + "logos/" + ws.ID.String() + "/old.png"
	_, err = e.svc.Update(ctx, a, UpdateInput{Logo: &logo})
	require.NoError(t, err)

	_, err = e.svc.Delete(ctx, a, nil)
	require.NoError(t, err)
	assert.Nil(t, a.ActiveWorkspaceID())
	assert.Nil(t, e.fx.Refresh(a).ActiveWorkspaceID())
	assert.Nil(t, e.fx.Refresh(b).ActiveWorkspaceID())

	members, err := e.fx.Store.ListMembers(ctx, ws.ID)
	require.NoError(t, err)
	assert.Empty(t, members)
	assert.Equal(t, []string{"logos/" + ws.ID.String() + "/old.png"}, e.logos.deleted)
}

func TestGetFullIsMemberOnly(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.fx.Caller("a@example.com")
	outsider := e.fx.Caller("x@example.com")
	ws := e.workspace(t, a, "acme")

	full, err := e.svc.GetFull(ctx, a, Target{})
	require.NoError(t, err)
	assert.Equal(t, ws.ID, full.ID)
	require.Len(t, full.Members, 1)
	assert.Equal(t, "a@example.com", full.Members[0].User.Email)

	_, err = e.svc.GetFull(ctx, outsider, Target{Slug: "acme"})
	assert.Equal(t, apperr.CodeNotAMember, apperr.CodeOf(err))

	_, err = e.svc.GetFull(ctx, a, Target{Slug: "missing"})
	assert.Equal(t, apperr.CodeWorkspaceNotFound, apperr.CodeOf(err))
}

func TestGetFullMatchesEachReferenceOnItsOwnColumn(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.fx.Caller("a@example.com")
	acme := e.workspace(t, a, "acme")
	globex := e.workspace(t, a, "globex")

	full, err := e.svc.GetFull(ctx, a, Target{PublicID: acme.PublicID})
	require.NoError(t, err)
	assert.Equal(t, acme.ID, full.ID)

	full, err = e.svc.GetFull(ctx, a, Target{ID: &globex.ID})
	require.NoError(t, err)
	assert.Equal(t, globex.ID, full.ID)

	// an id passed as a slug is not an id
	_, err = e.svc.GetFull(ctx, a, Target{Slug: acme.ID.String()})
	assert.Equal(t, apperr.CodeWorkspaceNotFound, apperr.CodeOf(err))
	_, err = e.svc.GetFull(ctx, a, Target{PublicID: acme.Slug})
	assert.Equal(t, apperr.CodeWorkspaceNotFound, apperr.CodeOf(err))
}

func TestGetFullReportsMissingUserAsIntegrityFailure(t *testing.T) {
	e := newEnv(t)
	a := e.fx.Caller("a@example.com")
	b := e.fx.Caller("b@example.com")
	ws := e.workspace(t, a, "acme")
	e.join(t, b, ws, access.RoleMember)
	e.fx.Store.DeleteUser(b.UserID())

	_, err := e.svc.GetFull(context.Background(), a, Target{ID: &ws.ID})
	assert.Equal(t, apperr.CodeDataIntegrity, apperr.CodeOf(err))
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestListAndCheckSlug(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.fx.Caller("a@example.com")
	b := e.fx.Caller("b@example.com")
	e.workspace(t, a, "acme")
	e.workspace(t, a, "globex")
	e.workspace(t, b, "initech")

	list, err := e.svc.List(ctx, a)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	free, err := e.svc.CheckSlug(ctx, "ACME")
	require.NoError(t, err)
	assert.False(t, free)
	free, err = e.svc.CheckSlug(ctx, "umbrella")
	require.NoError(t, err)
	assert.True(t, free)
	_, err = e.svc.CheckSlug(ctx, "-")
	assert.Equal(t, apperr.CodeInvalidSlug, apperr.CodeOf(err))
}

func TestUploadLogoReplacesPrevious(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.fx.Caller("a@example.com")
	ws := e.workspace(t, a, "acme")

	upload := func(name string) *models.Workspace {
		out, err := e.svc.UploadLogo(ctx, a, LogoUpload{
			Filename:    name,
			ContentType: "image/png",
			Size:        4,
			Body:        strings.NewReader("data"),
		})
		require.NoError(t, err)
		return out
	}
	first := upload("one.png")
	require.NotNil(t, first.Logo)
	assert.True(t, strings.HasPrefix(*first.Logo, logoHost+"logos/"+ws.ID.String()+"/"))

	second := upload("two.PNG")
	require.Len(t, e.logos.uploaded, 2)
	assert.True(t, strings.HasSuffix(e.logos.uploaded[1], ".png"))
	assert.Equal(t, []string{e.logos.uploaded[0]}, e.logos.deleted)
	assert.NotEqual(t, *first.Logo, *second.Logo)

	_, err := e.svc.UploadLogo(ctx, a, LogoUpload{Filename: "doc.pdf", ContentType: "application/pdf", Size: 4, Body: strings.NewReader("data")})
	assert.Equal(t, apperr.CodeInvalidRequest, apperr.CodeOf(err))
	_, err = e.svc.UploadLogo(ctx, a, LogoUpload{Filename: "big.png", ContentType: "image/png", Size: 3 << 20, Body: strings.NewReader("")})
	assert.Equal(t, apperr.CodeInvalidRequest, apperr.CodeOf(err))
}

func TestUploadLogoWithoutStorage(t *testing.T) {
	e := newEnv(t)
	e.svc.logos = nil
	a := e.fx.Caller("a@example.com")
	e.workspace(t, a, "acme")

	_, err := e.svc.UploadLogo(context.Background(), a, LogoUpload{Filename: "x.png", Size: 1, Body: strings.NewReader("x")})
	assert.Equal(t, apperr.CodeLogoNotConfigured, apperr.CodeOf(err))
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
}

func TestSetActiveNonMemberClearsPointer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.fx.Caller("a@example.com")
	b := e.fx.Caller("b@example.com")
	own := e.workspace(t, b, "bee")
	other := e.workspace(t, a, "acme")
	require.Equal(t, own.ID, *b.ActiveWorkspaceID())

	_, err := e.binder.SetActive(ctx, b, Target{ID: &other.ID})
	assert.Equal(t, apperr.CodeNotAMember, apperr.CodeOf(err))
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Nil(t, b.ActiveWorkspaceID())
	assert.Nil(t, e.fx.Refresh(b).ActiveWorkspaceID())
}

func TestSetActiveTargets(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.fx.Caller("a@example.com")
	acme := e.workspace(t, a, "acme")
	globex := e.workspace(t, a, "globex")

	ws, err := e.binder.SetActive(ctx, a, Target{Slug: "acme"})
	require.NoError(t, err)
	assert.Equal(t, acme.ID, ws.ID)

	ws, err = e.binder.SetActive(ctx, a, Target{Omitted: true})
	require.NoError(t, err)
	assert.Equal(t, acme.ID, ws.ID)

	ws, err = e.binder.SetActive(ctx, a, Target{ID: &globex.ID})
	require.NoError(t, err)
	assert.Equal(t, globex.ID, ws.ID)

	ws, err = e.binder.SetActive(ctx, a, Target{PublicID: acme.PublicID})
	require.NoError(t, err)
	assert.Equal(t, acme.ID, ws.ID)
	assert.Equal(t, acme.ID, *e.fx.Refresh(a).ActiveWorkspaceID())

	ws, err = e.binder.SetActive(ctx, a, Target{Clear: true})
	require.NoError(t, err)
	assert.Nil(t, ws)
	assert.Nil(t, e.fx.Refresh(a).ActiveWorkspaceID())

	missing := uuid.New()
	_, err = e.binder.SetActive(ctx, a, Target{ID: &missing})
	assert.Equal(t, apperr.CodeWorkspaceNotFound, apperr.CodeOf(err))
}

func TestGateDistinguishesMissingWorkspaceFromNonMember(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.fx.Caller("a@example.com")
	b := e.fx.Caller("b@example.com")
	ws := e.workspace(t, a, "acme")

	_, err := e.svc.gate.Member(ctx, e.fx.Store, b.UserID(), ws.ID)
	assert.Equal(t, apperr.CodeNotAMember, apperr.CodeOf(err))
	_, err = e.svc.gate.Member(ctx, e.fx.Store, b.UserID(), uuid.New())
	assert.Equal(t, apperr.CodeWorkspaceNotFound, apperr.CodeOf(err))

	err = e.svc.gate.Allow("ghost", access.ResourceOrganization, access.ActionRead, apperr.CodeNotAllowedUpdateWorkspace)
	assert.Equal(t, apperr.CodeNotAllowedUpdateWorkspace, apperr.CodeOf(err))
	assert.Equal(t, apperr.CodeRoleNotFound, apperr.CodeOf(e.svc.gate.ValidRole("ghost")))
	assert.NoError(t, e.svc.gate.ValidRole("admin,member"))
}
