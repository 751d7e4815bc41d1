// ABOUTME: Tenant context issuer - selects org/workspace scope and mints session tokens
// ABOUTME: Permissions are computed at issuance; switching context always means a new token

package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/driftware/walletgate/internal/store"
	"github.com/driftware/walletgate/internal/token"
)

// defaultWorkspaceName is the name given to the workspace created alongside a
// default organization.
const defaultWorkspaceName = "General"

// SessionContext is the result of issuing or switching tenant context: a
// signed token plus the scope that was baked into it. Empty OrgID marks a
// profile-only session.
type SessionContext struct {
	Token        string
	ExpiresAt    time.Time
	UserID       string
	OrgID        string
	WorkspaceID  string
	Capabilities []string
}

// Service issues tenant-scoped session tokens. Every operation re-reads
// memberships and re-computes capabilities; tokens are immutable once minted,
// so a revoked membership takes effect at the next issue or switch.
type Service struct {
	store  store.Store
	codec  *token.Codec
	logger *slog.Logger
}

// NewService creates a tenant context service.
func NewService(st store.Store, codec *token.Codec) (*Service, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if codec == nil {
		return nil, errors.New("token codec is required")
	}
	return &Service{
		store:  st,
		codec:  codec,
		logger: slog.Default().With("component", "tenant"),
	}, nil
}

// IssueInitialContext establishes tenant scope for a user who just
// authenticated or bootstrapped. A user with zero organizations gets a
// default organization (owner role, free tier, one default workspace)
// created on the spot. Otherwise the most-recently-active organization wins,
// falling back to the oldest one when the preference is unset or stale.
func (s *Service) IssueInitialContext(ctx context.Context, userID string) (*SessionContext, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}

	orgs, err := s.store.ListUserOrganizations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing organizations: %w", err)
	}

	var target *store.Organization
	if len(orgs) == 0 {
		target, err = s.createDefaultOrganization(ctx, user)
		if err != nil {
			return nil, err
		}
	} else {
		target = selectOrganization(user, orgs)
	}

	snap, err := s.snapshot(ctx, userID, target.ID, "")
	if err != nil {
		return nil, err
	}
	if err := s.store.SetLastActiveOrg(ctx, userID, target.ID); err != nil {
		return nil, fmt.Errorf("persisting active organization: %w", err)
	}
	return s.mintContext(userID, target.ID, snap)
}

// SwitchOrganization re-scopes the session to another organization the user
// belongs to. Omitting workspaceID lands on that organization's default
// workspace. The chosen organization becomes the user's most-recently-active
// preference.
func (s *Service) SwitchOrganization(ctx context.Context, userID, orgID, workspaceID string) (*SessionContext, error) {
	if _, err := s.store.GetOrganization(ctx, orgID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("loading organization: %w", err)
	}

	snap, err := s.snapshot(ctx, userID, orgID, workspaceID)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetLastActiveOrg(ctx, userID, orgID); err != nil {
		return nil, fmt.Errorf("persisting active organization: %w", err)
	}

	s.audit(ctx, &store.AuditEntry{
		ActorUserID: userID,
		Action:      store.AuditSwitchOrganization,
		TargetType:  "organization",
		TargetID:    orgID,
		Detail:      map[string]any{"workspace_id": snap.Workspace.ID},
	})
	return s.mintContext(userID, orgID, snap)
}

// SwitchWorkspace re-scopes the session to another workspace inside the
// current organization. Org owners and admins may enter any workspace; plain
// members need an explicit workspace membership.
func (s *Service) SwitchWorkspace(ctx context.Context, userID, currentOrgID, workspaceID string) (*SessionContext, error) {
	if currentOrgID == "" {
		return nil, ErrNoOrganization
	}
	if workspaceID == "" {
		return nil, ErrWorkspaceNotFound
	}

	snap, err := s.snapshot(ctx, userID, currentOrgID, workspaceID)
	if err != nil {
		return nil, err
	}
	if snap.OrgRole == store.OrgRoleMember && snap.WorkspaceRole == "" {
		return nil, ErrForbidden
	}

	s.audit(ctx, &store.AuditEntry{
		ActorUserID: userID,
		Action:      store.AuditSwitchWorkspace,
		TargetType:  "workspace",
		TargetID:    workspaceID,
	})
	return s.mintContext(userID, currentOrgID, snap)
}

// ListWorkspaces returns the workspaces of an organization the user belongs
// to, default first.
func (s *Service) ListWorkspaces(ctx context.Context, userID, orgID string) ([]*store.Workspace, error) {
	if orgID == "" {
		return nil, ErrNoOrganization
	}
	if _, err := s.store.GetOrgMembership(ctx, orgID, userID); err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("checking membership: %w", err)
	}
	return s.store.ListOrgWorkspaces(ctx, orgID)
}

// DeleteOrganization removes an organization the user owns, cascading
// workspaces and memberships. Deleting the last organization is permitted and
// yields a profile-only session; the next IssueInitialContext recreates a
// default organization.
func (s *Service) DeleteOrganization(ctx context.Context, userID, orgID string) (*SessionContext, error) {
	if _, err := s.store.GetOrganization(ctx, orgID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("loading organization: %w", err)
	}

	m, err := s.store.GetOrgMembership(ctx, orgID, userID)
	if errors.Is(err, store.ErrMembershipNotFound) {
		return nil, ErrForbidden
	}
	if err != nil {
		return nil, fmt.Errorf("checking membership: %w", err)
	}
	if m.Role != store.OrgRoleOwner {
		return nil, ErrForbidden
	}

	if err := s.store.DeleteOrganization(ctx, orgID); err != nil {
		return nil, fmt.Errorf("deleting organization: %w", err)
	}
	s.audit(ctx, &store.AuditEntry{
		ActorUserID: userID,
		Action:      store.AuditDeleteOrganization,
		TargetType:  "organization",
		TargetID:    orgID,
	})
	s.logger.Info("deleted organization", "org_id", orgID, "user_id", userID)

	// Re-issue against whatever remains. The last deletion leaves the user
	// authenticated but without tenant scope.
	orgs, err := s.store.ListUserOrganizations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing organizations: %w", err)
	}
	if len(orgs) == 0 {
		if err := s.store.SetLastActiveOrg(ctx, userID, ""); err != nil {
			return nil, fmt.Errorf("clearing active organization: %w", err)
		}
		return s.mintProfileOnly(userID)
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	target := selectOrganization(user, orgs)
	snap, err := s.snapshot(ctx, userID, target.ID, "")
	if err != nil {
		return nil, err
	}
	if err := s.store.SetLastActiveOrg(ctx, userID, target.ID); err != nil {
		return nil, fmt.Errorf("persisting active organization: %w", err)
	}
	return s.mintContext(userID, target.ID, snap)
}

// createDefaultOrganization provisions the organization and default workspace
// a fresh user lands in.
func (s *Service) createDefaultOrganization(ctx context.Context, user *store.User) (*store.Organization, error) {
	now := time.Now().UTC()
	org := &store.Organization{
		ID:        uuid.NewString(),
		Name:      fmt.Sprintf("%s's Organization", user.DisplayName),
		Tier:      store.TierFree,
		CreatedBy: user.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ws := &store.Workspace{
		ID:        uuid.NewString(),
		OrgID:     org.ID,
		Name:      defaultWorkspaceName,
		IsDefault: true,
		CreatedAt: now,
	}
	if err := s.store.CreateOrganizationWithOwner(ctx, org, user.ID, ws); err != nil {
		return nil, fmt.Errorf("creating default organization: %w", err)
	}

	s.audit(ctx, &store.AuditEntry{
		ActorUserID: user.ID,
		Action:      store.AuditCreateOrganization,
		TargetType:  "organization",
		TargetID:    org.ID,
		Detail:      map[string]any{"default": true},
	})
	s.logger.Info("created default organization", "user_id", user.ID, "org_id", org.ID)
	return org, nil
}

// snapshot reads the membership/workspace state for a switch and maps store
// sentinels onto tenant ones. The org mismatch check lives here so composite
// switches validate atomically against one consistent read.
func (s *Service) snapshot(ctx context.Context, userID, orgID, workspaceID string) (*store.TenantSnapshot, error) {
	snap, err := s.store.GetTenantSnapshot(ctx, userID, orgID, workspaceID)
	switch {
	case errors.Is(err, store.ErrMembershipNotFound):
		return nil, ErrForbidden
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrWorkspaceNotFound
	case err != nil:
		return nil, fmt.Errorf("reading tenant snapshot: %w", err)
	}
	if snap.Workspace.OrgID != orgID {
		return nil, ErrWorkspaceOrgMismatch
	}
	return snap, nil
}

func (s *Service) mintContext(userID, orgID string, snap *store.TenantSnapshot) (*SessionContext, error) {
	caps := Compute(snap.OrgRole, snap.WorkspaceRole)
	tok, expiresAt, err := s.codec.Mint(userID, orgID, snap.Workspace.ID, caps)
	if err != nil {
		return nil, fmt.Errorf("minting token: %w", err)
	}
	return &SessionContext{
		Token:        tok,
		ExpiresAt:    expiresAt,
		UserID:       userID,
		OrgID:        orgID,
		WorkspaceID:  snap.Workspace.ID,
		Capabilities: caps,
	}, nil
}

func (s *Service) mintProfileOnly(userID string) (*SessionContext, error) {
	tok, expiresAt, err := s.codec.Mint(userID, "", "", nil)
	if err != nil {
		return nil, fmt.Errorf("minting token: %w", err)
	}
	return &SessionContext{
		Token:        tok,
		ExpiresAt:    expiresAt,
		UserID:       userID,
		Capabilities: []string{},
	}, nil
}

// audit appends a best-effort audit entry.
func (s *Service) audit(ctx context.Context, e *store.AuditEntry) {
	if err := s.store.AppendAuditLog(ctx, e); err != nil {
		s.logger.Error("appending audit entry", "error", err, "action", e.Action)
	}
}

// selectOrganization returns the user's preferred organization when it is
// still in the list, otherwise the oldest one. The list is ordered oldest
// first, so a stale or unset preference degrades deterministically.
func selectOrganization(user *store.User, orgs []*store.Organization) *store.Organization {
	if user.LastActiveOrgID != "" {
		for _, o := range orgs {
			if o.ID == user.LastActiveOrgID {
				return o
			}
		}
	}
	return orgs[0]
}
