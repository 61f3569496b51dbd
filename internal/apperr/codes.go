package apperr

// Code is a stable machine-readable error code returned to API clients.
type Code string

const (
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeUnauthorized   Code = "UNAUTHORIZED"
	CodeInternal       Code = "INTERNAL_ERROR"

	// Not found
	CodeWorkspaceNotFound  Code = "WORKSPACE_NOT_FOUND"
	CodeMemberNotFound     Code = "MEMBER_NOT_FOUND"
	CodeRoleNotFound       Code = "ROLE_NOT_FOUND"
	CodeInvitationNotFound Code = "INVITATION_NOT_FOUND"
	CodeUserNotFound       Code = "USER_NOT_FOUND"

	// Active workspace
	CodeNoActiveWorkspace Code = "NO_ACTIVE_WORKSPACE"

	// Membership state
	CodeNotAMember        Code = "USER_IS_NOT_A_MEMBER_OF_THE_WORKSPACE"
	CodeAlreadyMember     Code = "USER_IS_ALREADY_A_MEMBER_OF_THIS_WORKSPACE"
	CodeAlreadyInvited    Code = "USER_IS_ALREADY_INVITED_TO_THIS_WORKSPACE"
	CodeOnlyOwner         Code = "YOU_CANNOT_LEAVE_THE_WORKSPACE_AS_THE_ONLY_OWNER"
	CodeNotRecipient      Code = "YOU_ARE_NOT_THE_RECIPIENT_OF_THE_INVITATION"
	CodeInviterGone       Code = "INVITER_IS_NO_LONGER_A_MEMBER_OF_THE_WORKSPACE"
	CodeWorkspaceExists   Code = "WORKSPACE_ALREADY_EXISTS"
	CodeAlreadyResolved   Code = "INVITATION_ALREADY_RESOLVED"
	CodeInvitationLimit   Code = "INVITATION_LIMIT_REACHED"
	CodeMembershipLimit   Code = "WORKSPACE_MEMBERSHIP_LIMIT_REACHED"
	CodeInvalidSlug       Code = "INVALID_SLUG"
	CodeInvalidPermission Code = "INVALID_PERMISSION"

	// Permission denials
	CodeNotAllowedCreateWorkspace Code = "YOU_ARE_NOT_ALLOWED_TO_CREATE_A_NEW_WORKSPACE"
	CodeNotAllowedUpdateWorkspace Code = "YOU_ARE_NOT_ALLOWED_TO_UPDATE_THIS_WORKSPACE"
	CodeNotAllowedDeleteWorkspace Code = "YOU_ARE_NOT_ALLOWED_TO_DELETE_THIS_WORKSPACE"
	CodeNotAllowedInvite          Code = "YOU_ARE_NOT_ALLOWED_TO_INVITE_USERS_TO_THIS_WORKSPACE"
	CodeNotAllowedInviteRole      Code = "YOU_ARE_NOT_ALLOWED_TO_INVITE_USER_WITH_THIS_ROLE"
	CodeNotAllowedCancel          Code = "YOU_ARE_NOT_ALLOWED_TO_CANCEL_THIS_INVITATION"
	CodeNotAllowedDeleteMember    Code = "YOU_ARE_NOT_ALLOWED_TO_DELETE_THIS_MEMBER"
	CodeNotAllowedUpdateMember    Code = "YOU_ARE_NOT_ALLOWED_TO_UPDATE_THIS_MEMBER"

	// Collaborators
	CodeEmailNotConfigured Code = "INVITATION_EMAIL_NOT_CONFIGURED"
	CodeEmailFailed        Code = "INVITATION_EMAIL_FAILED"
	CodeLogoNotConfigured  Code = "LOGO_STORAGE_NOT_CONFIGURED"

	// Backing store corruption
	CodeDataIntegrity Code = "WORKSPACE_DATA_INTEGRITY"
)
