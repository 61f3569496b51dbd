package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizeDefaults(t *testing.T) {
	table := NewTable(nil)

	tests := []struct {
		name    string
		role    string
		perm    Permission
		success bool
	}{
		{"owner deletes organization", RoleOwner, Permission{ResourceOrganization: {ActionDelete}}, true},
		{"admin cannot delete organization", RoleAdmin, Permission{ResourceOrganization: {ActionDelete}}, false},
		{"admin updates member", RoleAdmin, Permission{ResourceMember: {ActionUpdate}}, true},
		{"member reads organization", RoleMember, Permission{ResourceOrganization: {ActionRead}}, true},
		{"member cannot invite", RoleMember, Permission{ResourceInvitation: {ActionCreate}}, false},
		{"member cannot cancel", RoleMember, Permission{ResourceInvitation: {ActionCancel}}, false},
		{"all actions must be granted", RoleAdmin, Permission{ResourceOrganization: {ActionUpdate, ActionDelete}}, false},
		{"multi role takes any grant", "member,admin", Permission{ResourceInvitation: {ActionCreate}}, true},
		{"unknown role denied", "auditor", Permission{ResourceOrganization: {ActionRead}}, false},
		{"unknown resource denied", RoleOwner, Permission{Resource("expense"): {ActionRead}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := table.Authorize(tt.role, tt.perm)
			require.NoError(t, err)
			assert.Equal(t, tt.success, res.Success)
			if !tt.success {
				assert.NotEmpty(t, res.Error)
			}
		})
	}
}

func TestAuthorizeRejectsMultipleResources(t *testing.T) {
	table := NewTable(nil)

	res, err := table.Authorize(RoleOwner, Permission{
		ResourceOrganization: {ActionRead},
		ResourceMember:       {ActionDelete},
	})
	assert.ErrorIs(t, err, ErrInvalidPermission)
	assert.False(t, res.Success)

	_, err = table.Authorize(RoleOwner, Permission{})
	assert.ErrorIs(t, err, ErrInvalidPermission)
}

func TestAuthorizeDeniesEveryUngrantedAction(t *testing.T) {
	table := NewTable(nil)
	resources := []Resource{ResourceOrganization, ResourceMember, ResourceInvitation}
	actions := []Action{ActionRead, ActionCreate, ActionUpdate, ActionDelete, ActionCancel}

	for role, st := range DefaultRoles() {
		for _, r := range resources {
			granted := make(map[Action]bool)
			for _, a := range st[r] {
				granted[a] = true
			}
			for _, a := range actions {
				res, err := table.Authorize(role, Permission{r: {a}})
				require.NoError(t, err)
				assert.Equal(t, granted[a], res.Success, "%s %s:%s", role, r, a)
			}
		}
	}
}

func TestCustomRolesMergeWithDefaults(t *testing.T) {
	table := NewTable(map[string]Statements{
		"accountant": {ResourceOrganization: {ActionRead}, Resource("expense"): {ActionCreate}},
		RoleMember:   {ResourceInvitation: {ActionCreate}},
	})

	assert.True(t, table.Valid("accountant"))
	assert.True(t, table.Allows("accountant", "expense", ActionCreate))
	assert.True(t, table.Allows(RoleMember, ResourceInvitation, ActionCreate))
	assert.True(t, table.Allows(RoleMember, ResourceOrganization, ActionRead), "default kept")
	assert.True(t, table.Allows(RoleOwner, ResourceOrganization, ActionDelete))
	assert.Equal(t, []string{"accountant", RoleAdmin, RoleMember, RoleOwner}, table.Roles())
}

func TestValid(t *testing.T) {
	table := NewTable(nil)

	assert.True(t, table.Valid("owner"))
	assert.True(t, table.Valid("admin, member"))
	assert.False(t, table.Valid(""))
	assert.False(t, table.Valid("admin,superuser"))
}

func TestHasRole(t *testing.T) {
	assert.True(t, HasRole("admin,owner", RoleOwner))
	assert.True(t, HasRole(" owner ", RoleOwner))
	assert.False(t, HasRole("admin", RoleOwner))
	assert.False(t, HasRole("", RoleOwner))
}

func TestParseStatements(t *testing.T) {
	got, err := ParseStatements("accountant:organization=read;expense=create|update, viewer:organization=read")
	require.NoError(t, err)

	assert.Equal(t, Statements{
		ResourceOrganization: {ActionRead},
		Resource("expense"):  {ActionCreate, ActionUpdate},
	}, got["accountant"])
	assert.Equal(t, Statements{ResourceOrganization: {ActionRead}}, got["viewer"])

	empty, err := ParseStatements("  ")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseStatements("broken")
	assert.Error(t, err)
	_, err = ParseStatements("role:noequals")
	assert.Error(t, err)
}
