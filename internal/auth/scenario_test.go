// ABOUTME: End-to-end scenario tests for session enforcement using real SQLite
// ABOUTME: Validates bootstrap -> mint -> middleware -> capability gate without mocking

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/driftware/walletgate/internal/chains"
	"github.com/driftware/walletgate/internal/store"
	"github.com/driftware/walletgate/internal/tenant"
	"github.com/driftware/walletgate/internal/token"
)

// scenarioTestSecret is a 32-byte secret for the end-to-end flow.
var scenarioTestSecret = []byte("scenario-test-secret-32-bytes!!!")

func TestScenario_BootstrapThroughEnforcement(t *testing.T) {
	ctx := context.Background()

	// 1. Real SQLite store in a temp dir
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	// 2. A user who signed in with a wallet
	now := time.Now().UTC().Truncate(time.Second)
	user := &store.User{ID: "scenario-user", DisplayName: "0xAb58…c9D2", CreatedAt: now, UpdatedAt: now}
	identity := &store.AuthIdentity{
		ChainFamily: chains.FamilyEVM,
		Address:     "0xab5800000000000000000000000000000000c9d2",
		UserID:      user.ID,
		CreatedAt:   now,
	}
	if err := st.CreateUserWithIdentity(ctx, user, identity); err != nil {
		t.Fatalf("CreateUserWithIdentity failed: %v", err)
	}

	// 3. Bootstrap tenant context: default org, owner capabilities
	codec, err := token.NewCodec("walletgate", scenarioTestSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	issuer, err := tenant.NewService(st, codec)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	sc, err := issuer.IssueInitialContext(ctx, user.ID)
	if err != nil {
		t.Fatalf("IssueInitialContext failed: %v", err)
	}

	// 4. The minted token passes the HTTP middleware and the owner-only gate
	var gotSession *Session
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSession = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/billing", nil)
	req.Header.Set("Authorization", "Bearer "+sc.Token)
	rec := httptest.NewRecorder()

	Middleware(codec)(RequireCapability(tenant.CapOrgBilling)(handler)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotSession == nil {
		t.Fatal("Session not set in context")
	}
	if gotSession.OrgID != sc.OrgID || gotSession.WorkspaceID != sc.WorkspaceID {
		t.Errorf("session scope = (%q, %q), want (%q, %q)",
			gotSession.OrgID, gotSession.WorkspaceID, sc.OrgID, sc.WorkspaceID)
	}

	// 5. The same token passes the gRPC chain
	unary := UnaryInterceptor(codec, nil)
	gate := RequireCapabilityUnary("/billing.BillingService/", tenant.CapOrgBilling)

	grpcHandler := func(ctx context.Context, req any) (any, error) {
		return gate(ctx, req, &grpc.UnaryServerInfo{FullMethod: "/billing.BillingService/GetInvoices"},
			func(ctx context.Context, req any) (any, error) { return "invoices", nil })
	}
	resp, err := unary(contextWithAuth(sc.Token), nil, &grpc.UnaryServerInfo{}, grpcHandler)
	if err != nil {
		t.Fatalf("gRPC chain error = %v", err)
	}
	if resp != "invoices" {
		t.Errorf("response = %v, want invoices", resp)
	}

	// 6. Deleting the last organization demotes the session to profile-only
	profile, err := issuer.DeleteOrganization(ctx, user.ID, sc.OrgID)
	if err != nil {
		t.Fatalf("DeleteOrganization failed: %v", err)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/billing", nil)
	req.Header.Set("Authorization", "Bearer "+profile.Token)

	Middleware(codec)(RequireTenant()(handler)).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rec.Code)
	}

	_, err = unary(contextWithAuth(profile.Token), nil, &grpc.UnaryServerInfo{},
		func(ctx context.Context, req any) (any, error) {
			return RequireTenantUnary()(ctx, req, &grpc.UnaryServerInfo{},
				func(ctx context.Context, req any) (any, error) { return nil, nil })
		})
	if status.Code(err) != codes.PermissionDenied {
		t.Errorf("status code = %v, want %v", status.Code(err), codes.PermissionDenied)
	}
}
