// ABOUTME: Sentinel errors for tenant context operations
// ABOUTME: The HTTP layer maps each to a distinct status; compare with errors.Is

package tenant

import "errors"

// ErrNoOrganization is returned when a tenant-scoped operation is attempted
// with a profile-only session. The caller must create an organization or
// accept an invitation first.
var ErrNoOrganization = errors.New("no organization context")

// ErrForbidden is returned when the user has no membership granting the
// requested switch or deletion.
var ErrForbidden = errors.New("forbidden")

// ErrWorkspaceOrgMismatch is returned when a requested workspace exists but
// belongs to a different organization than the one being switched into.
var ErrWorkspaceOrgMismatch = errors.New("workspace belongs to a different organization")

// ErrWorkspaceNotFound is returned when a switch names a workspace that does
// not exist.
var ErrWorkspaceNotFound = errors.New("workspace not found")

// ErrOrganizationNotFound is returned when a switch or deletion names an
// organization that does not exist.
var ErrOrganizationNotFound = errors.New("organization not found")
