// ABOUTME: Tests for the wallet authentication endpoints
// ABOUTME: Signatures are produced in-process; failures must collapse to one generic 401

package api

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftware/walletgate/internal/chains"
	"github.com/driftware/walletgate/internal/ids"
	"github.com/driftware/walletgate/internal/store"
	"github.com/driftware/walletgate/internal/tenant"
)

func TestFamilies(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/auth/families", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp familiesResponse
	decodeResponse(t, rec, &resp)
	want := []chains.Family{chains.FamilyEVM, chains.FamilySolana, chains.FamilyCosmos}
	if !slices.Equal(resp.Families, want) {
		t.Errorf("families = %v, want %v", resp.Families, want)
	}
}

func TestChallenge(t *testing.T) {
	srv, _ := newTestServer(t)
	_, address := newSolanaWallet(t)

	resp := issueChallenge(t, srv, "solana", address)

	if !strings.Contains(resp.Challenge, address) {
		t.Errorf("challenge text should contain the address:\n%s", resp.Challenge)
	}
	if !strings.Contains(resp.Challenge, "Nonce:") {
		t.Errorf("challenge text should contain the nonce line:\n%s", resp.Challenge)
	}

	expires, err := time.Parse(time.RFC3339, resp.ExpiresAt)
	if err != nil {
		t.Fatalf("expires_at %q is not RFC3339: %v", resp.ExpiresAt, err)
	}
	if !expires.After(time.Now()) {
		t.Errorf("expires_at %v should be in the future", expires)
	}
}

func TestChallenge_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name     string
		path     string
		body     any
		wantCode int
	}{
		{"missing address", "/auth/solana/challenge", challengeRequest{}, http.StatusBadRequest},
		{"invalid JSON", "/auth/solana/challenge", "not json", http.StatusBadRequest},
		{"unknown family", "/auth/bitcoin/challenge", challengeRequest{Address: "addr"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, tt.path, "", tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}
}

func TestVerify_FullFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	priv, address := newSolanaWallet(t)

	sess := loginSolana(t, srv, priv, address)

	if sess.Token == "" {
		t.Fatal("expected a session token")
	}
	if sess.UserID == "" || sess.OrgID == "" || sess.WorkspaceID == "" {
		t.Fatalf("expected full tenant context, got %+v", sess)
	}
	if !slices.Contains(sess.Capabilities, tenant.CapOrgBilling) {
		t.Errorf("first login should own the default organization, capabilities = %v", sess.Capabilities)
	}
	if _, err := time.Parse(time.RFC3339, sess.ExpiresAt); err != nil {
		t.Errorf("expires_at %q is not RFC3339: %v", sess.ExpiresAt, err)
	}

	// The token works against authenticated endpoints.
	rec := do(t, srv, http.MethodGet, "/me", sess.Token, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /me with fresh token = %d, want 200", rec.Code)
	}
}

func TestVerify_SecondLoginSameUser(t *testing.T) {
	srv, _ := newTestServer(t)
	priv, address := newSolanaWallet(t)

	first := loginSolana(t, srv, priv, address)
	second := loginSolana(t, srv, priv, address)

	if first.UserID != second.UserID {
		t.Errorf("same wallet resolved to different users: %q vs %q", first.UserID, second.UserID)
	}
	if first.OrgID != second.OrgID {
		t.Errorf("second login should reuse the organization: %q vs %q", first.OrgID, second.OrgID)
	}
}

func TestVerify_WrongSignature(t *testing.T) {
	srv, _ := newTestServer(t)
	_, address := newSolanaWallet(t)
	otherPriv, _ := newSolanaWallet(t)

	c := issueChallenge(t, srv, "solana", address)
	rec := do(t, srv, http.MethodPost, "/auth/solana/verify", "", verifyRequest{
		Address:   address,
		Signature: signSolana(otherPriv, c.Challenge),
	})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if msg := errorMessage(t, rec); msg != "verification failed" {
		t.Errorf("error = %q, want the generic message", msg)
	}
}

func TestVerify_ConsumedChallenge(t *testing.T) {
	srv, _ := newTestServer(t)
	priv, address := newSolanaWallet(t)

	c := issueChallenge(t, srv, "solana", address)
	signature := signSolana(priv, c.Challenge)

	first := do(t, srv, http.MethodPost, "/auth/solana/verify", "", verifyRequest{Address: address, Signature: signature})
	require.Equal(t, http.StatusOK, first.Code)

	// Replaying the same signed challenge must fail with the generic 401.
	second := do(t, srv, http.MethodPost, "/auth/solana/verify", "", verifyRequest{Address: address, Signature: signature})
	if second.Code != http.StatusUnauthorized {
		t.Fatalf("replay status = %d, want 401", second.Code)
	}
	if msg := errorMessage(t, second); msg != "verification failed" {
		t.Errorf("error = %q, want the generic message", msg)
	}
}

func TestVerify_ExpiredChallenge(t *testing.T) {
	srv, st := newTestServer(t)
	priv, address := newSolanaWallet(t)

	// Plant an already-expired challenge; the signature over it is valid.
	now := time.Now().UTC().Truncate(time.Second)
	c := &store.Challenge{
		ID:          ids.New(),
		ChainFamily: chains.FamilySolana,
		Address:     address,
		Nonce:       "expired-nonce",
		Message:     "sign me before it is too late",
		IssuedAt:    now.Add(-10 * time.Minute),
		ExpiresAt:   now.Add(-5 * time.Minute),
	}
	require.NoError(t, st.CreateChallenge(context.Background(), c))

	rec := do(t, srv, http.MethodPost, "/auth/solana/verify", "", verifyRequest{
		Address:   address,
		Signature: signSolana(priv, c.Message),
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestVerify_NoChallenge(t *testing.T) {
	srv, _ := newTestServer(t)
	priv, address := newSolanaWallet(t)

	rec := do(t, srv, http.MethodPost, "/auth/solana/verify", "", verifyRequest{
		Address:   address,
		Signature: signSolana(priv, "anything"),
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if msg := errorMessage(t, rec); msg != "verification failed" {
		t.Errorf("error = %q, want the generic message", msg)
	}
}

func TestVerify_EVMNormalizesAddress(t *testing.T) {
	srv, _ := newTestServer(t)
	priv, address := newEVMWallet(t)

	// Submit the address uppercased; challenge and identity must both land
	// on the lowercase canonical form.
	shouting := "0x" + strings.ToUpper(strings.TrimPrefix(address, "0x"))
	c := issueChallenge(t, srv, "evm", shouting)

	rec := do(t, srv, http.MethodPost, "/auth/evm/verify", "", verifyRequest{
		Address:   shouting,
		Signature: signEVM(priv, c.Challenge),
	})
	require.Equal(t, http.StatusOK, rec.Code, "verify failed: %s", rec.Body.String())

	var sess sessionResponse
	decodeResponse(t, rec, &sess)

	me := do(t, srv, http.MethodGet, "/me", sess.Token, nil)
	require.Equal(t, http.StatusOK, me.Code)
	var profile meResponse
	decodeResponse(t, me, &profile)

	require.Len(t, profile.Identities, 1)
	if got := profile.Identities[0].Address; got != address {
		t.Errorf("stored address = %q, want normalized %q", got, address)
	}
}

func TestLink(t *testing.T) {
	srv, _ := newTestServer(t)
	_, _, sess := signupUser(t, srv)

	evmPriv, evmAddress := newEVMWallet(t)
	c := issueChallenge(t, srv, "evm", evmAddress)

	rec := do(t, srv, http.MethodPost, "/auth/evm/link", sess.Token, verifyRequest{
		Address:   evmAddress,
		Signature: signEVM(evmPriv, c.Challenge),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("link status = %d: %s", rec.Code, rec.Body.String())
	}

	me := do(t, srv, http.MethodGet, "/me", sess.Token, nil)
	var profile meResponse
	decodeResponse(t, me, &profile)
	if len(profile.Identities) != 2 {
		t.Errorf("identities = %d, want 2 after linking", len(profile.Identities))
	}

	// Logging in with the linked wallet resolves to the same user.
	c2 := issueChallenge(t, srv, "evm", evmAddress)
	verify := do(t, srv, http.MethodPost, "/auth/evm/verify", "", verifyRequest{
		Address:   evmAddress,
		Signature: signEVM(evmPriv, c2.Challenge),
	})
	require.Equal(t, http.StatusOK, verify.Code)
	var linked sessionResponse
	decodeResponse(t, verify, &linked)
	if linked.UserID != sess.UserID {
		t.Errorf("linked wallet login resolved to %q, want %q", linked.UserID, sess.UserID)
	}
}

func TestLink_AddressAlreadyLinked(t *testing.T) {
	srv, _ := newTestServer(t)
	_, _, alice := signupUser(t, srv)
	bobPriv, bobAddress, bob := signupUser(t, srv)

	// Alice presents a valid proof for Bob's address; the bind must fail
	// and leave both identity sets unchanged.
	c := issueChallenge(t, srv, "solana", bobAddress)
	rec := do(t, srv, http.MethodPost, "/auth/solana/link", alice.Token, verifyRequest{
		Address:   bobAddress,
		Signature: signSolana(bobPriv, c.Challenge),
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
	if msg := errorMessage(t, rec); msg != "address already linked" {
		t.Errorf("error = %q", msg)
	}

	for name, token := range map[string]string{"alice": alice.Token, "bob": bob.Token} {
		me := do(t, srv, http.MethodGet, "/me", token, nil)
		var profile meResponse
		decodeResponse(t, me, &profile)
		if len(profile.Identities) != 1 {
			t.Errorf("%s identities = %d, want 1", name, len(profile.Identities))
		}
	}
}

func TestLink_BadSignature(t *testing.T) {
	srv, _ := newTestServer(t)
	_, _, sess := signupUser(t, srv)

	_, evmAddress := newEVMWallet(t)
	otherPriv, _ := newEVMWallet(t)
	c := issueChallenge(t, srv, "evm", evmAddress)

	rec := do(t, srv, http.MethodPost, "/auth/evm/link", sess.Token, verifyRequest{
		Address:   evmAddress,
		Signature: signEVM(otherPriv, c.Challenge),
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestLink_RequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/auth/evm/link", "", verifyRequest{Address: "0xabc", Signature: "0xdef"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without a bearer token", rec.Code)
	}
}

func TestUnlink(t *testing.T) {
	srv, _ := newTestServer(t)
	_, solAddress, sess := signupUser(t, srv)

	evmPriv, evmAddress := newEVMWallet(t)
	c := issueChallenge(t, srv, "evm", evmAddress)
	link := do(t, srv, http.MethodPost, "/auth/evm/link", sess.Token, verifyRequest{
		Address:   evmAddress,
		Signature: signEVM(evmPriv, c.Challenge),
	})
	require.Equal(t, http.StatusOK, link.Code)

	rec := do(t, srv, http.MethodPost, "/auth/evm/unlink", sess.Token, unlinkRequest{Address: evmAddress})
	if rec.Code != http.StatusOK {
		t.Fatalf("unlink status = %d: %s", rec.Code, rec.Body.String())
	}

	// The remaining identity is the last one; unlinking it must refuse.
	rec = do(t, srv, http.MethodPost, "/auth/solana/unlink", sess.Token, unlinkRequest{Address: solAddress})
	if rec.Code != http.StatusConflict {
		t.Fatalf("last-identity unlink status = %d, want 409", rec.Code)
	}
	if msg := errorMessage(t, rec); msg != "cannot unlink last identity" {
		t.Errorf("error = %q", msg)
	}
}

func TestUnlink_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	_, _, sess := signupUser(t, srv)
	_, strangerAddress := newSolanaWallet(t)

	rec := do(t, srv, http.MethodPost, "/auth/solana/unlink", sess.Token, unlinkRequest{Address: strangerAddress})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
