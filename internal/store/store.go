// ABOUTME: Store interface and data types for walletgate persistence
// ABOUTME: Defines users, auth identities, challenges, and the Store interface both backends implement

package store

import (
	"context"
	"errors"
	"time"

	"github.com/driftware/walletgate/internal/chains"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrChallengeNotFound is returned when consuming a challenge that was never issued
var ErrChallengeNotFound = errors.New("challenge not found")

// ErrChallengeConsumed is returned when consuming a challenge that was already used
var ErrChallengeConsumed = errors.New("challenge already consumed")

// ErrChallengeExpired is returned when consuming a challenge past its expiry
var ErrChallengeExpired = errors.New("challenge expired")

// ErrAddressAlreadyLinked is returned when an address is already bound to a user
var ErrAddressAlreadyLinked = errors.New("address already linked")

// ErrLastIdentity is returned when unlinking would leave a user with no identities
var ErrLastIdentity = errors.New("cannot unlink last identity")

// ErrMembershipNotFound is returned when a user has no membership in the target
var ErrMembershipNotFound = errors.New("membership not found")

// ErrMembershipExists is returned when adding a membership that already exists
var ErrMembershipExists = errors.New("membership already exists")

// ErrOwnerExists is returned when adding a second owner to an organization
var ErrOwnerExists = errors.New("organization already has an owner")

// ErrDefaultWorkspaceExists is returned when creating a second default workspace
var ErrDefaultWorkspaceExists = errors.New("organization already has a default workspace")

// ErrDefaultWorkspaceProtected is returned when deleting the default workspace
var ErrDefaultWorkspaceProtected = errors.New("default workspace cannot be deleted")

// User is an application account. A user exists independently of any
// organization; profile access never requires tenant context.
type User struct {
	ID              string
	DisplayName     string
	LastActiveOrgID string // most recently active organization, empty when unset
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AuthIdentity binds a verified wallet address to a user. One address maps to
// exactly one user; one user may hold identities from multiple chain families.
type AuthIdentity struct {
	ChainFamily chains.Family
	Address     string
	UserID      string
	CreatedAt   time.Time
	LastLoginAt *time.Time
}

// Challenge is a one-time nonce a wallet must sign. The full message text is
// stored so verification checks the exact signed bytes.
type Challenge struct {
	ID          string // sortable id; newest challenge for a pair wins
	ChainFamily chains.Family
	Address     string
	Nonce       string
	Message     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Consumed    bool
}

// Store defines the persistence interface for walletgate. SQLite and
// Postgres implementations are provided.
type Store interface {
	// Users
	GetUser(ctx context.Context, id string) (*User, error)
	SetLastActiveOrg(ctx context.Context, userID, orgID string) error
	DeleteUserCascade(ctx context.Context, userID string) error

	// Auth identities
	CreateUserWithIdentity(ctx context.Context, user *User, identity *AuthIdentity) error
	GetIdentity(ctx context.Context, family chains.Family, address string) (*AuthIdentity, error)
	LinkIdentity(ctx context.Context, identity *AuthIdentity) error
	UnlinkIdentity(ctx context.Context, userID string, family chains.Family, address string) error
	ListIdentities(ctx context.Context, userID string) ([]*AuthIdentity, error)
	TouchIdentityLogin(ctx context.Context, family chains.Family, address string, at time.Time) error

	// Challenges
	CreateChallenge(ctx context.Context, c *Challenge) error
	LatestChallenge(ctx context.Context, family chains.Family, address string) (*Challenge, error)
	ConsumeChallenge(ctx context.Context, family chains.Family, address, nonce string, now time.Time) error
	DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error)

	// Organizations
	CreateOrganizationWithOwner(ctx context.Context, org *Organization, ownerID string, defaultWorkspace *Workspace) error
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	ListUserOrganizations(ctx context.Context, userID string) ([]*Organization, error)
	DeleteOrganization(ctx context.Context, id string) error

	// Organization memberships
	AddOrgMember(ctx context.Context, m *OrgMembership) error
	GetOrgMembership(ctx context.Context, orgID, userID string) (*OrgMembership, error)
	ListUserOrgMemberships(ctx context.Context, userID string) ([]*OrgMembership, error)

	// Workspaces
	CreateWorkspace(ctx context.Context, w *Workspace) error
	GetWorkspace(ctx context.Context, id string) (*Workspace, error)
	DefaultWorkspace(ctx context.Context, orgID string) (*Workspace, error)
	ListOrgWorkspaces(ctx context.Context, orgID string) ([]*Workspace, error)
	DeleteWorkspace(ctx context.Context, id string) error

	// Workspace memberships
	AddWorkspaceMember(ctx context.Context, m *WorkspaceMembership) error
	GetWorkspaceMembership(ctx context.Context, workspaceID, userID string) (*WorkspaceMembership, error)

	// GetTenantSnapshot reads the caller's org role, the target workspace,
	// and their workspace role in one consistent snapshot. Pass an empty
	// workspaceID to resolve the organization's default workspace.
	GetTenantSnapshot(ctx context.Context, userID, orgID, workspaceID string) (*TenantSnapshot, error)

	// Audit
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)

	// Close releases any resources held by the store
	Close() error
}
