// ABOUTME: HTTP handlers for wallet authentication: challenges, verify, link, unlink
// ABOUTME: All verification failures collapse to one generic 401 response

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/driftware/walletgate/internal/chains"
	"github.com/driftware/walletgate/internal/metrics"
	"github.com/driftware/walletgate/internal/store"
	"github.com/driftware/walletgate/internal/tenant"
)

// challengeRequest is the JSON request body for POST /auth/{family}/challenge.
type challengeRequest struct {
	Address string `json:"address"`
}

// challengeResponse is the JSON response for POST /auth/{family}/challenge.
// Challenge is the exact text the wallet must sign.
type challengeResponse struct {
	Challenge string `json:"challenge"`
	ExpiresAt string `json:"expires_at"`
}

// verifyRequest is the JSON request body for POST /auth/{family}/verify
// and POST /auth/{family}/link.
type verifyRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

// unlinkRequest is the JSON request body for POST /auth/{family}/unlink.
type unlinkRequest struct {
	Address string `json:"address"`
}

// familiesResponse is the JSON response for GET /auth/families.
type familiesResponse struct {
	Families []chains.Family `json:"families"`
}

// sessionResponse is the JSON shape of a freshly minted session context,
// shared by verify and every context-switch endpoint. OrgID and
// WorkspaceID are omitted in profile-only mode.
type sessionResponse struct {
	Token        string   `json:"token"`
	ExpiresAt    string   `json:"expires_at"`
	UserID       string   `json:"user_id"`
	OrgID        string   `json:"org_id,omitempty"`
	WorkspaceID  string   `json:"workspace_id,omitempty"`
	Capabilities []string `json:"capabilities"`
}

func newSessionResponse(sc *tenant.SessionContext) sessionResponse {
	return sessionResponse{
		Token:        sc.Token,
		ExpiresAt:    sc.ExpiresAt.Format(time.RFC3339),
		UserID:       sc.UserID,
		OrgID:        sc.OrgID,
		WorkspaceID:  sc.WorkspaceID,
		Capabilities: sc.Capabilities,
	}
}

// handleFamilies handles GET /auth/families.
func (s *Server) handleFamilies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, familiesResponse{Families: chains.Families()})
}

// handleChallenge handles POST /auth/{family}/challenge. It issues a fresh
// one-time challenge for the address; any earlier challenge for the pair
// loses to it.
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	family, ok := s.parseFamily(w, r)
	if !ok {
		return
	}

	var req challengeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	address := chains.NormalizeAddress(family, req.Address)
	c, err := s.challenges.Issue(r.Context(), family, address)
	if err != nil {
		s.internalError(w, "failed to issue challenge", err)
		return
	}
	metrics.ChallengeIssued(string(family))

	writeJSON(w, http.StatusOK, challengeResponse{
		Challenge: c.Message,
		ExpiresAt: c.ExpiresAt.Format(time.RFC3339),
	})
}

// handleVerify handles POST /auth/{family}/verify. On success the caller
// gets a session token with full tenant context; a default organization
// is created for first-time users.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	family, ok := s.parseFamily(w, r)
	if !ok {
		return
	}

	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Address == "" || req.Signature == "" {
		writeError(w, http.StatusBadRequest, "address and signature are required")
		return
	}

	ctx := r.Context()
	address := chains.NormalizeAddress(family, req.Address)

	if err := s.proveAddress(ctx, family, address, req.Signature); err != nil {
		metrics.Verification(string(family), false)
		if isVerificationFailure(err) {
			writeError(w, http.StatusUnauthorized, "verification failed")
			return
		}
		s.internalError(w, "verify failed", err)
		return
	}

	user, _, err := s.identity.ResolveOrCreate(ctx, family, address)
	if err != nil {
		metrics.Verification(string(family), false)
		s.internalError(w, "failed to resolve identity", err)
		return
	}

	sc, err := s.tenant.IssueInitialContext(ctx, user.ID)
	if err != nil {
		metrics.Verification(string(family), false)
		s.internalError(w, "failed to issue session context", err)
		return
	}
	metrics.Verification(string(family), true)

	writeJSON(w, http.StatusOK, newSessionResponse(sc))
}

// handleLink handles POST /auth/{family}/link. The caller proves control
// of the new address exactly the way login does, then the address is
// bound to their existing account.
func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	if session == nil {
		return
	}
	family, ok := s.parseFamily(w, r)
	if !ok {
		return
	}

	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Address == "" || req.Signature == "" {
		writeError(w, http.StatusBadRequest, "address and signature are required")
		return
	}

	ctx := r.Context()
	address := chains.NormalizeAddress(family, req.Address)

	if err := s.proveAddress(ctx, family, address, req.Signature); err != nil {
		metrics.Verification(string(family), false)
		if isVerificationFailure(err) {
			writeError(w, http.StatusUnauthorized, "verification failed")
			return
		}
		s.internalError(w, "link verification failed", err)
		return
	}
	metrics.Verification(string(family), true)

	if err := s.identity.Link(ctx, session.UserID, family, address); err != nil {
		if errors.Is(err, store.ErrAddressAlreadyLinked) {
			writeError(w, http.StatusConflict, "address already linked")
			return
		}
		s.internalError(w, "failed to link identity", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "linked"})
}

// handleUnlink handles POST /auth/{family}/unlink. A user can never
// unlink their last identity; that would orphan the account.
func (s *Server) handleUnlink(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	if session == nil {
		return
	}
	family, ok := s.parseFamily(w, r)
	if !ok {
		return
	}

	var req unlinkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	address := chains.NormalizeAddress(family, req.Address)
	err := s.identity.Unlink(r.Context(), session.UserID, family, address)
	switch {
	case errors.Is(err, store.ErrLastIdentity):
		writeError(w, http.StatusConflict, "cannot unlink last identity")
		return
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "identity not found")
		return
	case err != nil:
		s.internalError(w, "failed to unlink identity", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "unlinked"})
}

// proveAddress runs the challenge half of verification: load the latest
// challenge for the pair, check the signature over its exact message
// text, then consume the nonce. Consumption happens only after the
// signature checks out, so a failed attempt does not burn the challenge.
func (s *Server) proveAddress(ctx context.Context, family chains.Family, address, signature string) error {
	c, err := s.challenges.Latest(ctx, family, address)
	if err != nil {
		return err
	}
	if !chains.Verify(family, address, c.Message, signature) {
		return chains.ErrSignatureInvalid
	}
	return s.challenges.Consume(ctx, family, address, c.Nonce)
}

// isVerificationFailure reports whether err is one of the outcomes that
// must stay indistinguishable to the caller.
func isVerificationFailure(err error) bool {
	return errors.Is(err, store.ErrChallengeNotFound) ||
		errors.Is(err, store.ErrChallengeExpired) ||
		errors.Is(err, store.ErrChallengeConsumed) ||
		errors.Is(err, chains.ErrSignatureInvalid)
}

// parseFamily validates the {family} path segment. Unknown families are a
// 404: the route space only exists for supported chain families.
func (s *Server) parseFamily(w http.ResponseWriter, r *http.Request) (chains.Family, bool) {
	family, err := chains.ParseFamily(r.PathValue("family"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return family, true
}
