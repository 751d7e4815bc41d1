// ABOUTME: Unit tests for session context functions
// ABOUTME: Tests Session helpers and context propagation

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/driftware/walletgate/internal/token"
)

func TestSession_ProfileOnly(t *testing.T) {
	tests := []struct {
		name string
		s    *Session
		want bool
	}{
		{
			name: "tenant scoped",
			s:    &Session{UserID: "u1", OrgID: "org-1", WorkspaceID: "ws-1"},
			want: false,
		},
		{
			name: "profile only",
			s:    &Session{UserID: "u1"},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.ProfileOnly(); got != tt.want {
				t.Errorf("ProfileOnly() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSession_HasCapability(t *testing.T) {
	s := &Session{
		UserID:       "u1",
		OrgID:        "org-1",
		Capabilities: []string{"workspace:content:read", "workspace:content:write"},
	}

	if !s.HasCapability("workspace:content:write") {
		t.Error("HasCapability(workspace:content:write) = false, want true")
	}
	if s.HasCapability("org:billing") {
		t.Error("HasCapability(org:billing) = true, want false")
	}

	empty := &Session{UserID: "u1"}
	if empty.HasCapability("workspace:content:read") {
		t.Error("empty session granted a capability")
	}
}

func TestNewSession(t *testing.T) {
	claims := &token.Claims{
		OrgID:        "org-1",
		WorkspaceID:  "ws-1",
		Capabilities: []string{"org:manage"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "u1",
		},
	}

	s := NewSession(claims)
	if s.UserID != "u1" {
		t.Errorf("UserID = %q, want %q", s.UserID, "u1")
	}
	if s.OrgID != "org-1" || s.WorkspaceID != "ws-1" {
		t.Errorf("scope = (%q, %q), want (org-1, ws-1)", s.OrgID, s.WorkspaceID)
	}
	if len(s.Capabilities) != 1 || s.Capabilities[0] != "org:manage" {
		t.Errorf("Capabilities = %v, want [org:manage]", s.Capabilities)
	}
}

func TestWithSession_FromContext(t *testing.T) {
	s := &Session{UserID: "u1", OrgID: "org-1"}
	ctx := WithSession(context.Background(), s)

	got := FromContext(ctx)
	if got != s {
		t.Errorf("FromContext() = %v, want %v", got, s)
	}
}

func TestFromContext_Empty(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext() = %v, want nil", got)
	}
}

func TestMustFromContext_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustFromContext did not panic on empty context")
		}
	}()
	MustFromContext(context.Background())
}

func TestMustFromContext_Present(t *testing.T) {
	s := &Session{UserID: "u1"}
	ctx := WithSession(context.Background(), s)

	if got := MustFromContext(ctx); got != s {
		t.Errorf("MustFromContext() = %v, want %v", got, s)
	}
}

// sanity check that the real codec satisfies TokenParser
var _ TokenParser = mustCodec()

func mustCodec() *token.Codec {
	c, err := token.NewCodec("walletgate-test", []byte("context-test-secret-32-bytes!!!!"), time.Hour)
	if err != nil {
		panic(err)
	}
	return c
}
