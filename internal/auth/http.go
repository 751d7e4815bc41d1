// ABOUTME: HTTP middleware for session token authentication and tenant enforcement
// ABOUTME: Extracts the bearer token, attaches the Session, and rejects missing tenant scope

package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/driftware/walletgate/internal/token"
)

// NoOrganizationCode is the machine-readable error code collaborators
// dispatch on when a profile-only session hits a tenant-scoped surface.
const NoOrganizationCode = "NO_ORGANIZATION"

// Action hints telling the client how the user can regain tenant scope.
const (
	ActionCreateOrganization = "CREATE_ORGANIZATION"
	ActionAcceptInvitation   = "ACCEPT_INVITATION"
)

// TokenParser verifies a raw session token and returns its claims. Satisfied
// by *token.Codec.
type TokenParser interface {
	Parse(raw string) (*token.Claims, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	raw := strings.TrimPrefix(authHeader, "Bearer ")
	if raw == "" {
		return "", "empty token"
	}
	return raw, ""
}

// Middleware authenticates requests with a session token and attaches the
// Session to the request context using the same WithSession/FromContext
// pattern as the gRPC interceptors.
func Middleware(parser TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			claims, err := parser.Parse(raw)
			if err != nil {
				http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), NewSession(claims))))
		})
	}
}

// RequireTenant rejects profile-only sessions with a structured
// NO_ORGANIZATION error. Must be used after Middleware.
func RequireTenant() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := FromContext(r.Context())
			if s == nil {
				http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
				return
			}
			if s.ProfileOnly() {
				WriteNoOrganization(w, ActionCreateOrganization)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireCapability rejects sessions lacking the capability. Profile-only
// sessions get the structured NO_ORGANIZATION error instead of a bare 403,
// since their real problem is missing tenant scope. Must be used after
// Middleware.
func RequireCapability(capability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := FromContext(r.Context())
			if s == nil {
				http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
				return
			}
			if s.ProfileOnly() {
				WriteNoOrganization(w, ActionCreateOrganization)
				return
			}
			if !s.HasCapability(capability) {
				http.Error(w, `{"error":"capability `+capability+` required"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// noOrganizationBody is the wire shape of the structured NO_ORGANIZATION
// error.
type noOrganizationBody struct {
	Error          string `json:"error"`
	Code           string `json:"code"`
	ActionRequired string `json:"action_required"`
}

// WriteNoOrganization writes the structured 403 a tenant-scoped surface
// returns to a profile-only session. actionRequired tells the client which
// recovery flow to start; pass ActionAcceptInvitation when the caller knows
// an invitation is pending.
func WriteNoOrganization(w http.ResponseWriter, actionRequired string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(noOrganizationBody{
		Error:          "no organization context",
		Code:           NoOrganizationCode,
		ActionRequired: actionRequired,
	})
}
