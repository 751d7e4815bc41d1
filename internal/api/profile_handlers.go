// ABOUTME: HTTP handlers for the profile surface: GET /me and DELETE /me
// ABOUTME: Both work in profile-only mode; no tenant context is required

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/driftware/walletgate/internal/store"
)

// userResponse is the JSON shape of the account in GET /me.
type userResponse struct {
	ID              string `json:"id"`
	DisplayName     string `json:"display_name"`
	LastActiveOrgID string `json:"last_active_org_id,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// identityResponse is the JSON shape of a linked wallet identity.
type identityResponse struct {
	ChainFamily string `json:"chain_family"`
	Address     string `json:"address"`
	CreatedAt   string `json:"created_at"`
	LastLoginAt string `json:"last_login_at,omitempty"`
}

// orgMembershipResponse is the JSON shape of an organization membership.
type orgMembershipResponse struct {
	OrgID string `json:"org_id"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	Tier  string `json:"tier"`
}

// meResponse is the JSON response for GET /me.
type meResponse struct {
	User          userResponse            `json:"user"`
	Identities    []identityResponse      `json:"identities"`
	Organizations []orgMembershipResponse `json:"organizations"`
}

// handleMe handles GET /me. It works for profile-only sessions; a user
// with no organizations still sees their account and identities.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	if session == nil {
		return
	}
	ctx := r.Context()

	user, err := s.store.GetUser(ctx, session.UserID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.internalError(w, "failed to load user", err)
		return
	}

	identities, err := s.identity.List(ctx, user.ID)
	if err != nil {
		s.internalError(w, "failed to list identities", err)
		return
	}

	memberships, err := s.store.ListUserOrgMemberships(ctx, user.ID)
	if err != nil {
		s.internalError(w, "failed to list memberships", err)
		return
	}

	resp := meResponse{
		User: userResponse{
			ID:              user.ID,
			DisplayName:     user.DisplayName,
			LastActiveOrgID: user.LastActiveOrgID,
			CreatedAt:       user.CreatedAt.Format(time.RFC3339),
		},
		Identities:    make([]identityResponse, len(identities)),
		Organizations: make([]orgMembershipResponse, len(memberships)),
	}

	for i, id := range identities {
		ir := identityResponse{
			ChainFamily: string(id.ChainFamily),
			Address:     id.Address,
			CreatedAt:   id.CreatedAt.Format(time.RFC3339),
		}
		if id.LastLoginAt != nil {
			ir.LastLoginAt = id.LastLoginAt.Format(time.RFC3339)
		}
		resp.Identities[i] = ir
	}

	for i, m := range memberships {
		mr := orgMembershipResponse{OrgID: m.OrgID, Role: string(m.Role)}
		org, err := s.store.GetOrganization(ctx, m.OrgID)
		if err != nil {
			s.internalError(w, "failed to load organization", err)
			return
		}
		mr.Name = org.Name
		mr.Tier = string(org.Tier)
		resp.Organizations[i] = mr
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleDeleteAccount handles DELETE /me. The cascade removes identities,
// memberships, and every organization the user owns.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	if session == nil {
		return
	}

	err := s.identity.DeleteAccount(r.Context(), session.UserID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.internalError(w, "failed to delete account", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
