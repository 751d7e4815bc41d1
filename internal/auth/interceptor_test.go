// ABOUTME: Unit tests for gRPC session interceptors
// ABOUTME: Tests authentication flow and tenant enforcement over metadata

package auth

import (
	"context"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// contextWithAuth creates a context with an authorization header.
func contextWithAuth(raw string) context.Context {
	md := metadata.New(map[string]string{
		"authorization": "Bearer " + raw,
	})
	return metadata.NewIncomingContext(context.Background(), md)
}

// mockServerStream wraps a context for stream interceptor tests.
type mockServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (m *mockServerStream) Context() context.Context {
	return m.ctx
}

func TestUnaryInterceptor_ValidToken(t *testing.T) {
	codec := newTestCodec(t)
	raw := mintTenantToken(t, codec, "org:manage")

	interceptor := UnaryInterceptor(codec, nil)

	handlerCalled := false
	var capturedCtx context.Context
	handler := func(ctx context.Context, req any) (any, error) {
		handlerCalled = true
		capturedCtx = ctx
		return "response", nil
	}

	resp, err := interceptor(contextWithAuth(raw), nil, &grpc.UnaryServerInfo{}, handler)
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if !handlerCalled {
		t.Error("handler was not called")
	}
	if resp != "response" {
		t.Errorf("response = %v, want %v", resp, "response")
	}

	s := FromContext(capturedCtx)
	if s == nil {
		t.Fatal("Session not set in context")
	}
	if s.UserID != "user-123" {
		t.Errorf("UserID = %q, want %q", s.UserID, "user-123")
	}
	if !s.HasCapability("org:manage") {
		t.Error("session missing minted capability")
	}
}

func TestUnaryInterceptor_Rejections(t *testing.T) {
	codec := newTestCodec(t)

	tests := []struct {
		name string
		ctx  context.Context
	}{
		{
			name: "missing metadata",
			ctx:  context.Background(),
		},
		{
			name: "missing authorization",
			ctx:  metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string{})),
		},
		{
			name: "malformed header",
			ctx: metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string{
				"authorization": "Token abc",
			})),
		},
		{
			name: "invalid token",
			ctx:  contextWithAuth("not-a-jwt"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interceptor := UnaryInterceptor(codec, nil)

			handler := func(ctx context.Context, req any) (any, error) {
				t.Error("handler should not be called")
				return nil, nil
			}

			_, err := interceptor(tt.ctx, nil, &grpc.UnaryServerInfo{}, handler)
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			st, ok := status.FromError(err)
			if !ok {
				t.Fatalf("expected gRPC status error, got %v", err)
			}
			if st.Code() != codes.Unauthenticated {
				t.Errorf("status code = %v, want %v", st.Code(), codes.Unauthenticated)
			}
		})
	}
}

func TestStreamInterceptor_ValidToken(t *testing.T) {
	codec := newTestCodec(t)
	raw := mintTenantToken(t, codec)

	interceptor := StreamInterceptor(codec, nil)

	var capturedCtx context.Context
	handler := func(srv any, ss grpc.ServerStream) error {
		capturedCtx = ss.Context()
		return nil
	}

	ss := &mockServerStream{ctx: contextWithAuth(raw)}
	if err := interceptor(nil, ss, &grpc.StreamServerInfo{}, handler); err != nil {
		t.Fatalf("interceptor error = %v", err)
	}

	s := FromContext(capturedCtx)
	if s == nil {
		t.Fatal("Session not set in stream context")
	}
	if s.OrgID != "org-1" {
		t.Errorf("OrgID = %q, want %q", s.OrgID, "org-1")
	}
}

func TestStreamInterceptor_InvalidToken(t *testing.T) {
	codec := newTestCodec(t)
	interceptor := StreamInterceptor(codec, nil)

	handler := func(srv any, ss grpc.ServerStream) error {
		t.Error("handler should not be called")
		return nil
	}

	ss := &mockServerStream{ctx: contextWithAuth("garbage")}
	err := interceptor(nil, ss, &grpc.StreamServerInfo{}, handler)
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("status code = %v, want %v", status.Code(err), codes.Unauthenticated)
	}
}

func TestRequireTenantUnary(t *testing.T) {
	handler := func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	}

	t.Run("tenant scoped passes", func(t *testing.T) {
		ctx := WithSession(context.Background(), &Session{UserID: "u1", OrgID: "org-1"})
		resp, err := RequireTenantUnary()(ctx, nil, &grpc.UnaryServerInfo{}, handler)
		if err != nil {
			t.Fatalf("interceptor error = %v", err)
		}
		if resp != "ok" {
			t.Errorf("response = %v, want ok", resp)
		}
	})

	t.Run("profile only rejected", func(t *testing.T) {
		ctx := WithSession(context.Background(), &Session{UserID: "u1"})
		_, err := RequireTenantUnary()(ctx, nil, &grpc.UnaryServerInfo{}, handler)

		st, ok := status.FromError(err)
		if !ok {
			t.Fatalf("expected gRPC status error, got %v", err)
		}
		if st.Code() != codes.PermissionDenied {
			t.Errorf("status code = %v, want %v", st.Code(), codes.PermissionDenied)
		}
		if !strings.Contains(st.Message(), NoOrganizationCode) {
			t.Errorf("message = %q, want %q prefix", st.Message(), NoOrganizationCode)
		}
	})

	t.Run("unauthenticated rejected", func(t *testing.T) {
		_, err := RequireTenantUnary()(context.Background(), nil, &grpc.UnaryServerInfo{}, handler)
		if status.Code(err) != codes.Unauthenticated {
			t.Errorf("status code = %v, want %v", status.Code(err), codes.Unauthenticated)
		}
	})
}

func TestRequireTenantStream_ProfileOnly(t *testing.T) {
	handler := func(srv any, ss grpc.ServerStream) error {
		t.Error("handler should not be called")
		return nil
	}

	ctx := WithSession(context.Background(), &Session{UserID: "u1"})
	ss := &mockServerStream{ctx: ctx}
	err := RequireTenantStream()(nil, ss, &grpc.StreamServerInfo{}, handler)
	if status.Code(err) != codes.PermissionDenied {
		t.Errorf("status code = %v, want %v", status.Code(err), codes.PermissionDenied)
	}
}
