package workspaces

import (
	"context"

	"github.com/google/uuid"

	"github.com/ledgerly/backend/internal/access"
	"github.com/ledgerly/backend/internal/apperr"
	"github.com/ledgerly/backend/internal/models"
	"github.com/ledgerly/backend/internal/tenant"
)

// Gate resolves a user's membership in a workspace and checks it against the role table.
// Every check re-reads the store.
type Gate struct {
	roles       *access.Table
	creatorRole string
}

// NewGate creates a gate over roles. creatorRole is the role given to workspace creators.
func NewGate(roles *access.Table, creatorRole string) *Gate {
	return &Gate{roles: roles, creatorRole: creatorRole}
}

// Roles returns the role table.
func (g *Gate) Roles() *access.Table { return g.roles }

// CreatorRole returns the role given to workspace creators.
func (g *Gate) CreatorRole() string { return g.creatorRole }

// IsCreator reports whether role includes the creator role.
func (g *Gate) IsCreator(role string) bool { return access.HasRole(role, g.creatorRole) }

// Member returns userID's member row in workspaceID. A missing workspace yields
// WORKSPACE_NOT_FOUND and a missing membership USER_IS_NOT_A_MEMBER_OF_THE_WORKSPACE.
func (g *Gate) Member(ctx context.Context, s tenant.Store, userID, workspaceID uuid.UUID) (*models.Member, error) {
	m, err := s.FindMemberByWorkspaceID(ctx, userID, workspaceID)
	if err == nil {
		return m, nil
	}
	if !tenant.IsNotFound(err) {
		return nil, apperr.Internal(err, "failed to load membership")
	}
	if _, err := s.FindWorkspaceByID(ctx, workspaceID); err != nil {
		return nil, tenant.AppError(err, apperr.CodeWorkspaceNotFound, "workspace not found")
	}
	return nil, apperr.New(apperr.KindForbidden, apperr.CodeNotAMember, "user is not a member of the workspace")
}

// Require returns userID's member row if its role grants action on resource.
// Otherwise it fails with denied.
func (g *Gate) Require(ctx context.Context, s tenant.Store, userID, workspaceID uuid.UUID,
	resource access.Resource, action access.Action, denied apperr.Code) (*models.Member, error) {
	m, err := g.Member(ctx, s, userID, workspaceID)
	if err != nil {
		return nil, err
	}
	if err := g.Allow(m.Role, resource, action, denied); err != nil {
		return nil, err
	}
	return m, nil
}

// Allow checks role against one resource/action pair.
func (g *Gate) Allow(role string, resource access.Resource, action access.Action, denied apperr.Code) error {
	res, err := g.roles.Authorize(role, access.Permission{resource: {action}})
	if err != nil {
		return apperr.Wrap(err, apperr.KindBadRequest, apperr.CodeInvalidPermission, "invalid permission")
	}
	if !res.Success {
		return apperr.New(apperr.KindForbidden, denied, res.Error)
	}
	return nil
}

// ValidRole fails with ROLE_NOT_FOUND unless every role named in role exists.
func (g *Gate) ValidRole(role string) error {
	if !g.roles.Valid(role) {
		return apperr.New(apperr.KindBadRequest, apperr.CodeRoleNotFound, "role not found")
	}
	return nil
}

// CountCreators returns how many members of workspaceID hold the creator role.
func (g *Gate) CountCreators(ctx context.Context, s tenant.Store, workspaceID uuid.UUID) (int, error) {
	members, err := s.ListMembers(ctx, workspaceID)
	if err != nil {
		return 0, apperr.Internal(err, "failed to list members")
	}
	n := 0
	for _, m := range members {
		if g.IsCreator(m.Role) {
			n++
		}
	}
	return n, nil
}
