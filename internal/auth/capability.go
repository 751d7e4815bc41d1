// ABOUTME: Capability gate interceptors restricting gRPC services to capable sessions
// ABOUTME: Used after authentication to enforce the token's capability set

package auth

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RequireCapabilityUnary returns a gRPC unary interceptor that enforces a
// capability for methods under the given prefix (e.g.
// "/content.ContentService/"). Other methods pass through unchanged.
func RequireCapabilityUnary(methodPrefix, capability string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, methodPrefix) {
			return handler(ctx, req)
		}
		if err := requireCapability(ctx, capability); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// RequireCapabilityStream returns a gRPC stream interceptor that enforces a
// capability for methods under the given prefix.
func RequireCapabilityStream(methodPrefix, capability string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !strings.HasPrefix(info.FullMethod, methodPrefix) {
			return handler(srv, ss)
		}
		if err := requireCapability(ss.Context(), capability); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func requireCapability(ctx context.Context, capability string) error {
	s := FromContext(ctx)
	if s == nil {
		return status.Error(codes.Unauthenticated, "authentication required")
	}
	if s.ProfileOnly() {
		return status.Errorf(codes.PermissionDenied, "%s: create an organization or accept an invitation", NoOrganizationCode)
	}
	if !s.HasCapability(capability) {
		return status.Errorf(codes.PermissionDenied, "capability %s required", capability)
	}
	return nil
}
