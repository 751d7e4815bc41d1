// ABOUTME: Organization and workspace entities, role constants, and the tenant snapshot
// ABOUTME: Role hierarchies are strict: owner > admin > member and admin > editor > viewer

package store

import "time"

// OrgTier is an organization's billing tier.
type OrgTier string

const (
	TierFree       OrgTier = "free"
	TierStarter    OrgTier = "starter"
	TierPro        OrgTier = "pro"
	TierEnterprise OrgTier = "enterprise"
)

// OrgRole is a role within an organization. Exactly one owner exists per
// organization at all times; ownership is assigned at creation, never by
// invitation.
type OrgRole string

const (
	OrgRoleOwner  OrgRole = "owner"
	OrgRoleAdmin  OrgRole = "admin"
	OrgRoleMember OrgRole = "member"
)

// WorkspaceRole is a role within a workspace. Unlike organization owners,
// multiple workspace admins are permitted.
type WorkspaceRole string

const (
	WorkspaceRoleAdmin  WorkspaceRole = "admin"
	WorkspaceRoleEditor WorkspaceRole = "editor"
	WorkspaceRoleViewer WorkspaceRole = "viewer"
)

// Organization is a billing and membership boundary.
type Organization struct {
	ID           string
	Name         string
	BillingEmail string
	Tier         OrgTier
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OrgMembership binds a user to an organization with a role.
type OrgMembership struct {
	OrgID     string
	UserID    string
	Role      OrgRole
	CreatedAt time.Time
}

// Workspace is a content boundary inside an organization. Each organization
// has exactly one workspace with IsDefault set, created atomically with it.
type Workspace struct {
	ID        string
	OrgID     string
	Name      string
	IsDefault bool
	CreatedAt time.Time
}

// WorkspaceMembership binds a user to a workspace with a role.
type WorkspaceMembership struct {
	WorkspaceID string
	UserID      string
	Role        WorkspaceRole
	CreatedAt   time.Time
}

// TenantSnapshot is one consistent read of everything a context switch needs:
// the caller's organization role, the target workspace row, and their
// explicit workspace role ("" when they have none). Reading these separately
// would open a window where a concurrent revocation is honored for one read
// but not the other.
type TenantSnapshot struct {
	OrgRole       OrgRole
	Workspace     *Workspace
	WorkspaceRole WorkspaceRole
}
