// ABOUTME: Pure capability computation from org and workspace roles
// ABOUTME: Capabilities are strings baked into tokens; collaborators enforce them without a store read

package tenant

import "github.com/driftware/walletgate/internal/store"

// Capability keys embedded in token claims. Collaborating services compare
// these strings directly and never consult the membership tables themselves.
const (
	CapOrgBilling             = "org:billing"
	CapOrgManage              = "org:manage"
	CapOrgMembersInvite       = "org:members:invite"
	CapWorkspaceCreate        = "workspace:create"
	CapWorkspaceDelete        = "workspace:delete"
	CapWorkspaceMembersManage = "workspace:members:manage"
	CapWorkspaceContentWrite  = "workspace:content:write"
	CapWorkspaceContentRead   = "workspace:content:read"
)

// Compute derives the capability set for an org role paired with an explicit
// workspace role ("" when the user holds none). It is a pure function of its
// inputs: changing a membership row only takes effect when a new token is
// minted.
//
// Org owners and admins act as workspace admins everywhere in their
// organization; plain members get exactly their explicit workspace role.
// Ordering is deterministic: org capabilities first, then workspace ones.
func Compute(orgRole store.OrgRole, workspaceRole store.WorkspaceRole) []string {
	caps := make([]string, 0, 8)

	switch orgRole {
	case store.OrgRoleOwner:
		caps = append(caps, CapOrgBilling, CapOrgManage, CapOrgMembersInvite,
			CapWorkspaceCreate, CapWorkspaceDelete)
	case store.OrgRoleAdmin:
		caps = append(caps, CapOrgManage, CapOrgMembersInvite,
			CapWorkspaceCreate, CapWorkspaceDelete)
	case store.OrgRoleMember:
		// workspace role alone decides
	default:
		return caps
	}

	effective := workspaceRole
	if orgRole == store.OrgRoleOwner || orgRole == store.OrgRoleAdmin {
		effective = store.WorkspaceRoleAdmin
	}

	switch effective {
	case store.WorkspaceRoleAdmin:
		caps = append(caps, CapWorkspaceMembersManage, CapWorkspaceContentWrite, CapWorkspaceContentRead)
	case store.WorkspaceRoleEditor:
		caps = append(caps, CapWorkspaceContentWrite, CapWorkspaceContentRead)
	case store.WorkspaceRoleViewer:
		caps = append(caps, CapWorkspaceContentRead)
	}

	return caps
}
