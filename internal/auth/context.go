// ABOUTME: Session context for tracking identity and tenant scope through request handlers
// ABOUTME: Provides WithSession/FromContext for propagating the authenticated session

package auth

import (
	"context"
	"slices"

	"github.com/driftware/walletgate/internal/token"
)

// Session holds the authenticated identity and tenant scope extracted from a
// request. It is populated by the middleware/interceptors and retrieved from
// context in handlers.
type Session struct {
	UserID       string   // subject of the session token
	OrgID        string   // active organization, empty in profile-only mode
	WorkspaceID  string   // active workspace, empty in profile-only mode
	Capabilities []string // capability set computed at token issuance
}

// NewSession builds a Session from verified token claims.
func NewSession(claims *token.Claims) *Session {
	return &Session{
		UserID:       claims.Subject,
		OrgID:        claims.OrgID,
		WorkspaceID:  claims.WorkspaceID,
		Capabilities: claims.Capabilities,
	}
}

// ProfileOnly reports whether the session carries no tenant scope. Such
// sessions may use profile endpoints but must be rejected from tenant-scoped
// surfaces with a NO_ORGANIZATION error.
func (s *Session) ProfileOnly() bool {
	return s.OrgID == ""
}

// HasCapability reports whether the session grants the capability.
func (s *Session) HasCapability(capability string) bool {
	return slices.Contains(s.Capabilities, capability)
}

// sessionKey is the key type for storing a Session in context.Context.
type sessionKey struct{}

// WithSession returns a new context with the Session attached.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext retrieves the Session from the context, returning nil if not
// present.
func FromContext(ctx context.Context) *Session {
	val := ctx.Value(sessionKey{})
	if val == nil {
		return nil
	}
	s, ok := val.(*Session)
	if !ok {
		return nil
	}
	return s
}

// MustFromContext retrieves the Session from the context, panicking if not
// present. Only call behind the authentication middleware.
func MustFromContext(ctx context.Context) *Session {
	s := FromContext(ctx)
	if s == nil {
		panic("auth: Session not found in context")
	}
	return s
}
