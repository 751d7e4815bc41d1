// ABOUTME: Integration tests for the Postgres store against a real database
// ABOUTME: Skipped unless WALLETGATE_TEST_POSTGRES_DSN points at a reachable instance

package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/driftware/walletgate/internal/chains"
	"github.com/driftware/walletgate/internal/ids"
)

func openIntegrationStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("WALLETGATE_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("integration test skipped: WALLETGATE_TEST_POSTGRES_DSN is not set")
	}

	store, err := NewPostgresStore(dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := store.db.PingContext(ctx); err != nil {
		t.Skipf("integration test skipped: Postgres unreachable: %v", err)
	}

	return store
}

func TestPostgresIntegration_SignupAndChallengeFlow(t *testing.T) {
	store := openIntegrationStore(t)
	ctx := context.Background()

	userID := ids.New()
	address := "0x" + strings.ToLower(userID)
	now := time.Now().UTC()

	user := &User{ID: userID, DisplayName: address, CreatedAt: now, UpdatedAt: now}
	identity := &AuthIdentity{ChainFamily: chains.FamilyEVM, Address: address, UserID: userID, CreatedAt: now}
	if err := store.CreateUserWithIdentity(ctx, user, identity); err != nil {
		t.Fatalf("CreateUserWithIdentity: %v", err)
	}
	defer func() {
		if err := store.DeleteUserCascade(ctx, userID); err != nil {
			t.Errorf("cleanup: %v", err)
		}
	}()

	// Linking the same address again must classify the pkey violation
	dup := &AuthIdentity{ChainFamily: chains.FamilyEVM, Address: address, UserID: userID, CreatedAt: now}
	if err := store.LinkIdentity(ctx, dup); err != ErrAddressAlreadyLinked {
		t.Fatalf("expected ErrAddressAlreadyLinked, got %v", err)
	}

	c := &Challenge{
		ID:          ids.New(),
		ChainFamily: chains.FamilyEVM,
		Address:     address,
		Nonce:       ids.New(),
		Message:     "sign in",
		IssuedAt:    now,
		ExpiresAt:   now.Add(5 * time.Minute),
	}
	if err := store.CreateChallenge(ctx, c); err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}

	latest, err := store.LatestChallenge(ctx, chains.FamilyEVM, address)
	if err != nil {
		t.Fatalf("LatestChallenge: %v", err)
	}
	if latest.Nonce != c.Nonce {
		t.Fatalf("Nonce mismatch: got %q, want %q", latest.Nonce, c.Nonce)
	}

	if err := store.ConsumeChallenge(ctx, chains.FamilyEVM, address, c.Nonce, time.Now().UTC()); err != nil {
		t.Fatalf("ConsumeChallenge: %v", err)
	}
	if err := store.ConsumeChallenge(ctx, chains.FamilyEVM, address, c.Nonce, time.Now().UTC()); err != ErrChallengeConsumed {
		t.Fatalf("expected ErrChallengeConsumed, got %v", err)
	}

	if _, err := store.DeleteExpiredChallenges(ctx, time.Now().UTC().Add(10*time.Minute)); err != nil {
		t.Fatalf("DeleteExpiredChallenges: %v", err)
	}
}

func TestPostgresIntegration_TenancyInvariants(t *testing.T) {
	store := openIntegrationStore(t)
	ctx := context.Background()

	ownerID := ids.New()
	memberID := ids.New()
	orgID := ids.New()
	now := time.Now().UTC()

	for _, id := range []string{ownerID, memberID} {
		user := &User{ID: id, DisplayName: id, CreatedAt: now, UpdatedAt: now}
		identity := &AuthIdentity{ChainFamily: chains.FamilyEVM, Address: "0x" + strings.ToLower(id), UserID: id, CreatedAt: now}
		if err := store.CreateUserWithIdentity(ctx, user, identity); err != nil {
			t.Fatalf("CreateUserWithIdentity: %v", err)
		}
	}
	defer func() {
		for _, id := range []string{ownerID, memberID} {
			if err := store.DeleteUserCascade(ctx, id); err != nil {
				t.Errorf("cleanup %s: %v", id, err)
			}
		}
	}()

	org := &Organization{
		ID:           orgID,
		Name:         "integration-" + orgID,
		BillingEmail: "it@example.com",
		Tier:         TierFree,
		CreatedBy:    ownerID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	ws := &Workspace{ID: ids.New(), OrgID: orgID, Name: "General", IsDefault: true, CreatedAt: now}
	if err := store.CreateOrganizationWithOwner(ctx, org, ownerID, ws); err != nil {
		t.Fatalf("CreateOrganizationWithOwner: %v", err)
	}

	secondOwner := &OrgMembership{OrgID: orgID, UserID: memberID, Role: OrgRoleOwner, CreatedAt: now}
	if err := store.AddOrgMember(ctx, secondOwner); err != ErrOwnerExists {
		t.Fatalf("expected ErrOwnerExists, got %v", err)
	}

	secondDefault := &Workspace{ID: ids.New(), OrgID: orgID, Name: "Another", IsDefault: true, CreatedAt: now}
	if err := store.CreateWorkspace(ctx, secondDefault); err != ErrDefaultWorkspaceExists {
		t.Fatalf("expected ErrDefaultWorkspaceExists, got %v", err)
	}

	if err := store.DeleteWorkspace(ctx, ws.ID); err != ErrDefaultWorkspaceProtected {
		t.Fatalf("expected ErrDefaultWorkspaceProtected, got %v", err)
	}

	snap, err := store.GetTenantSnapshot(ctx, ownerID, orgID, "")
	if err != nil {
		t.Fatalf("GetTenantSnapshot: %v", err)
	}
	if snap.OrgRole != OrgRoleOwner || snap.Workspace.ID != ws.ID {
		t.Fatalf("unexpected snapshot: role=%q workspace=%q", snap.OrgRole, snap.Workspace.ID)
	}
}
