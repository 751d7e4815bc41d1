// ABOUTME: Session token codec: HS256 JWTs carrying user id, tenant context, and capabilities
// ABOUTME: Empty org/workspace claims mean profile-only mode; consumers enforce that contract

package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL is the session token lifetime when none is configured.
const DefaultTTL = 24 * time.Hour

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the session token claims shared with every collaborator
// service. OrgID and WorkspaceID are empty in profile-only mode.
type Claims struct {
	OrgID        string   `json:"org_id,omitempty"`
	WorkspaceID  string   `json:"workspace_id,omitempty"`
	Capabilities []string `json:"capabilities"`
	jwt.RegisteredClaims
}

// ProfileOnly reports whether the token carries no tenant context.
// Tenant-scoped endpoints reject such tokens with a structured
// NO_ORGANIZATION error instead of a plain 403.
func (c *Claims) ProfileOnly() bool {
	return c.OrgID == ""
}

// HasCapability reports whether the token grants the named capability.
func (c *Claims) HasCapability(capability string) bool {
	for _, got := range c.Capabilities {
		if got == capability {
			return true
		}
	}
	return false
}

// Codec mints and validates session tokens with a shared HS256 secret.
type Codec struct {
	issuer string
	secret []byte
	ttl    time.Duration
}

// NewCodec creates a token codec. A non-positive ttl falls back to
// DefaultTTL.
func NewCodec(issuer string, secret []byte, ttl time.Duration) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if issuer == "" {
		return nil, errors.New("token issuer is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Codec{issuer: issuer, secret: secret, ttl: ttl}, nil
}

// Mint signs a session token for the user. Pass empty orgID/workspaceID and
// nil capabilities for a profile-only token.
func (c *Codec) Mint(userID, orgID, workspaceID string, capabilities []string) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, errors.New("user id is required")
	}
	if capabilities == nil {
		capabilities = []string{}
	}

	now := time.Now().UTC()
	expiresAt := now.Add(c.ttl)
	claims := Claims{
		OrgID:        orgID,
		WorkspaceID:  workspaceID,
		Capabilities: capabilities,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies the token signature and required claims. Any failure,
// including expiry and algorithm confusion, comes back as ErrInvalidToken.
func (c *Codec) Parse(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != c.issuer || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	if claims.Capabilities == nil {
		claims.Capabilities = []string{}
	}
	return claims, nil
}
