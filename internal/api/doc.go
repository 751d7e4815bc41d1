// Package api exposes walletgate over HTTP.
//
// The surface splits into three groups:
//
//   - /auth/{family}/... — challenge issuance, signature verification,
//     identity linking. Rate limited per client IP when enabled, since
//     these endpoints are the abuse surface.
//   - /context/... — session context switching (bootstrap, organization,
//     workspace). Authenticated via bearer session tokens.
//   - /me, /organizations/{id} — profile and organization management.
//
// All verification failures collapse to a single generic 401 so a caller
// cannot distinguish a bad signature from a stale or consumed challenge.
// Context-switch failures, by contrast, return specific statuses (403,
// 404, 422) because the caller needs enough detail to correct course.
//
// Handlers translate service sentinel errors to HTTP statuses with
// errors.Is; anything unmapped becomes a 500 with the detail kept out of
// the response body.
package api
