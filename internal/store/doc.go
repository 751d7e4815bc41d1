// Package store provides persistent storage for wallet identities, login
// challenges, and tenant structure.
//
// # Architecture
//
// A single Store interface covers every entity; two implementations exist:
//
//   - SQLiteStore: single-node deployments, schema created on open
//   - PostgresStore: multi-node deployments via the pgx stdlib driver
//
// Both enforce the same invariants, pushed into the schema wherever the
// database can express them:
//
//   - one wallet address belongs to at most one user (primary key on
//     chain_family + address)
//   - one owner per organization (partial unique index on role = 'owner')
//   - one default workspace per organization (partial unique index on
//     is_default)
//   - a challenge is consumed at most once (conditional UPDATE, callers
//     racing on the same nonce see exactly one winner)
//
// # Data Models
//
// Core models:
//
//   - User: account keyed by opaque id, display name defaults to the first
//     linked address
//   - AuthIdentity: a (chain_family, address) pair linked to a user
//   - Challenge: one-time login nonce with expiry
//   - Organization / OrgMembership: billing boundary with owner/admin/member
//     roles
//   - Workspace / WorkspaceMembership: working context with
//     admin/editor/viewer roles
//   - AuditEntry: append-only record of auth and tenant events
//
// # SQLite Configuration
//
// The SQLite backend uses WAL mode and a single pooled connection:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
// Failures callers branch on are sentinel errors: ErrNotFound,
// ErrChallengeConsumed, ErrChallengeExpired, ErrAddressAlreadyLinked,
// ErrLastIdentity, ErrOwnerExists, and friends. Anything else is a wrapped
// driver error.
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewSQLiteStore with a t.TempDir path for behavior tests; the Postgres
// backend has sqlmock unit tests plus integration tests gated on
// WALLETGATE_TEST_POSTGRES_DSN.
package store
