// Package auth enforces walletgate session tokens in HTTP handlers and gRPC
// services.
//
// # Session Tokens
//
// Sessions are HS256 JWTs minted by the tenant context issuer. Claims carry
// the user id (sub), the active organization and workspace, and the
// capability set computed at issuance. Tokens are immutable: switching
// context always means minting a new token.
//
// # Profile-Only Mode
//
// A token without org_id/workspace_id claims is profile-only: the user is
// authenticated but has no tenant scope (they deleted their last
// organization, or never bootstrapped one). Profile-only sessions may call
// profile endpoints; tenant-scoped surfaces must reject them with a
// structured NO_ORGANIZATION error carrying an action_required hint
// (CREATE_ORGANIZATION or ACCEPT_INVITATION) so clients can route the user
// to recovery instead of showing a dead end.
//
// # HTTP Middleware
//
//	mux.Handle("POST /things", auth.Middleware(codec)(
//	    auth.RequireCapability("workspace:content:write")(handler)))
//
// Middleware authenticates and attaches a Session to the request context.
// RequireTenant and RequireCapability layer tenant enforcement on top.
//
// # gRPC Interceptors
//
// Collaborator services embed the same contract:
//
//	grpc.NewServer(
//	    grpc.ChainUnaryInterceptor(
//	        auth.UnaryInterceptor(codec, logger),
//	        auth.RequireCapabilityUnary("/content.ContentService/", "workspace:content:write"),
//	    ),
//	)
//
// Handlers read the authenticated session with auth.FromContext.
package auth
