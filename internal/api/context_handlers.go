// ABOUTME: HTTP handlers for session context: bootstrap, org/workspace switching, org deletion
// ABOUTME: Every success re-issues the session token; context is never mutated in place

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/driftware/walletgate/internal/auth"
	"github.com/driftware/walletgate/internal/metrics"
	"github.com/driftware/walletgate/internal/store"
	"github.com/driftware/walletgate/internal/tenant"
)

// switchOrganizationRequest is the JSON request body for
// POST /context/switch-organization. WorkspaceID is optional; empty means
// the organization's default workspace.
type switchOrganizationRequest struct {
	OrgID       string `json:"org_id"`
	WorkspaceID string `json:"workspace_id,omitempty"`
}

// switchWorkspaceRequest is the JSON request body for
// POST /context/switch-workspace.
type switchWorkspaceRequest struct {
	WorkspaceID string `json:"workspace_id"`
}

// workspaceResponse is the JSON shape of a workspace.
type workspaceResponse struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
	CreatedAt string `json:"created_at"`
}

// listWorkspacesResponse is the JSON response for GET /context/workspaces.
type listWorkspacesResponse struct {
	Workspaces []workspaceResponse `json:"workspaces"`
}

// handleBootstrap handles POST /context/bootstrap. It re-runs initial
// context selection; a user whose last organization was deleted gets a
// fresh default organization here.
func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	if session == nil {
		return
	}

	sc, err := s.tenant.IssueInitialContext(r.Context(), session.UserID)
	if err != nil {
		metrics.ContextSwitch("bootstrap", false)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		s.internalError(w, "failed to bootstrap context", err)
		return
	}
	metrics.ContextSwitch("bootstrap", true)

	writeJSON(w, http.StatusOK, newSessionResponse(sc))
}

// handleSwitchOrganization handles POST /context/switch-organization.
func (s *Server) handleSwitchOrganization(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	if session == nil {
		return
	}

	var req switchOrganizationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OrgID == "" {
		writeError(w, http.StatusBadRequest, "org_id is required")
		return
	}

	sc, err := s.tenant.SwitchOrganization(r.Context(), session.UserID, req.OrgID, req.WorkspaceID)
	if err != nil {
		metrics.ContextSwitch("organization", false)
		s.writeTenantError(w, err, "failed to switch organization")
		return
	}
	metrics.ContextSwitch("organization", true)

	writeJSON(w, http.StatusOK, newSessionResponse(sc))
}

// handleSwitchWorkspace handles POST /context/switch-workspace. The target
// must live in the session's current organization.
func (s *Server) handleSwitchWorkspace(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	if session == nil {
		return
	}

	var req switchWorkspaceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.WorkspaceID == "" {
		writeError(w, http.StatusBadRequest, "workspace_id is required")
		return
	}

	sc, err := s.tenant.SwitchWorkspace(r.Context(), session.UserID, session.OrgID, req.WorkspaceID)
	if err != nil {
		metrics.ContextSwitch("workspace", false)
		s.writeTenantError(w, err, "failed to switch workspace")
		return
	}
	metrics.ContextSwitch("workspace", true)

	writeJSON(w, http.StatusOK, newSessionResponse(sc))
}

// handleListWorkspaces handles GET /context/workspaces. The tenant
// middleware has already rejected profile-only sessions.
func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	if session == nil {
		return
	}

	workspaces, err := s.tenant.ListWorkspaces(r.Context(), session.UserID, session.OrgID)
	if err != nil {
		s.writeTenantError(w, err, "failed to list workspaces")
		return
	}

	resp := listWorkspacesResponse{Workspaces: make([]workspaceResponse, len(workspaces))}
	for i, ws := range workspaces {
		resp.Workspaces[i] = workspaceResponse{
			ID:        ws.ID,
			OrgID:     ws.OrgID,
			Name:      ws.Name,
			IsDefault: ws.IsDefault,
			CreatedAt: ws.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDeleteOrganization handles DELETE /organizations/{id}. Owner-only.
// The response carries the re-issued session: the remaining organization's
// context, or profile-only when the last one was deleted.
func (s *Server) handleDeleteOrganization(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	if session == nil {
		return
	}

	sc, err := s.tenant.DeleteOrganization(r.Context(), session.UserID, r.PathValue("id"))
	if err != nil {
		metrics.ContextSwitch("delete_organization", false)
		s.writeTenantError(w, err, "failed to delete organization")
		return
	}
	metrics.ContextSwitch("delete_organization", true)

	writeJSON(w, http.StatusOK, newSessionResponse(sc))
}

// writeTenantError maps tenant service sentinels to HTTP statuses.
// Context-switch failures deliberately carry enough detail for the caller
// to correct course, unlike verification failures.
func (s *Server) writeTenantError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, tenant.ErrOrganizationNotFound):
		writeError(w, http.StatusNotFound, "organization not found")
	case errors.Is(err, tenant.ErrWorkspaceNotFound):
		writeError(w, http.StatusNotFound, "workspace not found")
	case errors.Is(err, tenant.ErrWorkspaceOrgMismatch):
		writeError(w, http.StatusUnprocessableEntity, "workspace belongs to a different organization")
	case errors.Is(err, tenant.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, tenant.ErrNoOrganization):
		auth.WriteNoOrganization(w, auth.ActionCreateOrganization)
	default:
		s.internalError(w, msg, err)
	}
}
