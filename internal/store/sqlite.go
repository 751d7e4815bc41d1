// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides user/identity/challenge/tenancy persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/driftware/walletgate/internal/chains"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Pragmas are per-connection and SQLite serializes writes anyway, so
	// pin the pool to a single connection. Concurrent callers queue in
	// database/sql instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys so membership cascades actually fire
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id                 TEXT PRIMARY KEY,
			display_name       TEXT NOT NULL,
			last_active_org_id TEXT,
			created_at         TEXT NOT NULL,
			updated_at         TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS auth_identities (
			chain_family  TEXT NOT NULL,
			address       TEXT NOT NULL,
			user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at    TEXT NOT NULL,
			last_login_at TEXT,

			PRIMARY KEY (chain_family, address),
			CHECK (chain_family IN ('evm', 'solana', 'cosmos'))
		);

		CREATE INDEX IF NOT EXISTS idx_identities_user ON auth_identities(user_id);

		CREATE TABLE IF NOT EXISTS challenges (
			id           TEXT PRIMARY KEY,
			chain_family TEXT NOT NULL,
			address      TEXT NOT NULL,
			nonce        TEXT NOT NULL,
			message      TEXT NOT NULL,
			issued_at    TEXT NOT NULL,
			expires_at   TEXT NOT NULL,
			consumed     INTEGER NOT NULL DEFAULT 0,

			UNIQUE (chain_family, address, nonce),
			CHECK (chain_family IN ('evm', 'solana', 'cosmos'))
		);

		CREATE INDEX IF NOT EXISTS idx_challenges_pair ON challenges(chain_family, address);
		CREATE INDEX IF NOT EXISTS idx_challenges_expires ON challenges(expires_at);

		CREATE TABLE IF NOT EXISTS organizations (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			billing_email TEXT NOT NULL,
			tier          TEXT NOT NULL DEFAULT 'free',
			created_by    TEXT NOT NULL,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,

			CHECK (tier IN ('free', 'starter', 'pro', 'enterprise'))
		);

		CREATE TABLE IF NOT EXISTS org_memberships (
			org_id     TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			role       TEXT NOT NULL,
			created_at TEXT NOT NULL,

			PRIMARY KEY (org_id, user_id),
			CHECK (role IN ('owner', 'admin', 'member'))
		);

		-- Exactly one owner per organization, enforced by the database rather
		-- than application checks.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_org_single_owner
			ON org_memberships(org_id) WHERE role = 'owner';
		CREATE INDEX IF NOT EXISTS idx_org_memberships_user ON org_memberships(user_id);

		CREATE TABLE IF NOT EXISTS workspaces (
			id         TEXT PRIMARY KEY,
			org_id     TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			name       TEXT NOT NULL,
			is_default INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		-- Exactly one default workspace per organization.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_workspaces_default
			ON workspaces(org_id) WHERE is_default = 1;
		CREATE INDEX IF NOT EXISTS idx_workspaces_org ON workspaces(org_id);

		CREATE TABLE IF NOT EXISTS workspace_memberships (
			workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
			user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			role         TEXT NOT NULL,
			created_at   TEXT NOT NULL,

			PRIMARY KEY (workspace_id, user_id),
			CHECK (role IN ('admin', 'editor', 'viewer'))
		);

		CREATE INDEX IF NOT EXISTS idx_workspace_memberships_user ON workspace_memberships(user_id);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id      TEXT PRIMARY KEY,
			actor_user_id TEXT NOT NULL,
			action        TEXT NOT NULL,
			chain_family  TEXT,
			target_type   TEXT NOT NULL,
			target_id     TEXT NOT NULL,
			ts            TEXT NOT NULL,
			detail_json   TEXT,

			CHECK (action IN (
				'signup',
				'login',
				'link_identity',
				'unlink_identity',
				'create_organization',
				'delete_organization',
				'switch_organization',
				'switch_workspace',
				'delete_user'
			))
		);

		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor_user_id);
		CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_log(target_type, target_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string // Query to check if migration is needed
		apply  string // Query to apply the migration
		table  string
		column string // Column name for logging
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('auth_identities') WHERE name = 'last_login_at'`,
			apply:  `ALTER TABLE auth_identities ADD COLUMN last_login_at TEXT`,
			table:  "auth_identities",
			column: "last_login_at",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('users') WHERE name = 'last_active_org_id'`,
			apply:  `ALTER TABLE users ADD COLUMN last_active_org_id TEXT`,
			table:  "users",
			column: "last_active_org_id",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// --- Users ---

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, display_name, last_active_org_id, created_at, updated_at
		FROM users
		WHERE id = ?
	`

	var user User
	var lastActive sql.NullString
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.DisplayName,
		&lastActive,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.LastActiveOrgID = lastActive.String
	if user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if user.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &user, nil
}

// SetLastActiveOrg records the user's most recently active organization.
// An empty orgID clears the preference.
func (s *SQLiteStore) SetLastActiveOrg(ctx context.Context, userID, orgID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET last_active_org_id = ?, updated_at = ? WHERE id = ?
	`, nullString(orgID), time.Now().UTC().Format(time.RFC3339), userID)
	if err != nil {
		return fmt.Errorf("updating last active org: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUserCascade deletes a user, their identities and memberships, and
// every organization they own. Organizations the user merely belongs to are
// left intact.
func (s *SQLiteStore) DeleteUserCascade(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM organizations
		WHERE id IN (SELECT org_id FROM org_memberships WHERE user_id = ? AND role = 'owner')
	`, userID); err != nil {
		return fmt.Errorf("deleting owned organizations: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	s.logger.Info("deleted user", "user_id", userID)
	return nil
}

// --- Auth identities ---

// CreateUserWithIdentity creates a user and their first identity in one
// transaction (the signup path).
func (s *SQLiteStore) CreateUserWithIdentity(ctx context.Context, user *User, identity *AuthIdentity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning signup: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, display_name, last_active_org_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		user.ID,
		user.DisplayName,
		nullString(user.LastActiveOrgID),
		user.CreatedAt.UTC().Format(time.RFC3339),
		user.UpdatedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO auth_identities (chain_family, address, user_id, created_at)
		VALUES (?, ?, ?, ?)
	`,
		identity.ChainFamily,
		identity.Address,
		identity.UserID,
		identity.CreatedAt.UTC().Format(time.RFC3339),
	); err != nil {
		if isConstraintViolation(err) {
			return ErrAddressAlreadyLinked
		}
		return fmt.Errorf("inserting identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing signup: %w", err)
	}
	s.logger.Debug("created user with identity",
		"user_id", user.ID, "chain_family", identity.ChainFamily)
	return nil
}

// GetIdentity retrieves an identity by its chain family and address.
// Returns ErrNotFound if no user has linked the address.
func (s *SQLiteStore) GetIdentity(ctx context.Context, family chains.Family, address string) (*AuthIdentity, error) {
	query := `
		SELECT chain_family, address, user_id, created_at, last_login_at
		FROM auth_identities
		WHERE chain_family = ? AND address = ?
	`
	identity, err := scanIdentity(s.db.QueryRowContext(ctx, query, family, address))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying identity: %w", err)
	}
	return identity, nil
}

// LinkIdentity attaches an identity to an existing user.
// Returns ErrAddressAlreadyLinked if the address is already bound.
func (s *SQLiteStore) LinkIdentity(ctx context.Context, identity *AuthIdentity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_identities (chain_family, address, user_id, created_at)
		VALUES (?, ?, ?, ?)
	`,
		identity.ChainFamily,
		identity.Address,
		identity.UserID,
		identity.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrAddressAlreadyLinked
		}
		return fmt.Errorf("inserting identity: %w", err)
	}

	s.logger.Debug("linked identity",
		"user_id", identity.UserID, "chain_family", identity.ChainFamily)
	return nil
}

// UnlinkIdentity removes one of a user's identities. The guard against
// removing the last identity is part of the DELETE itself so concurrent
// unlinks cannot race past it.
func (s *SQLiteStore) UnlinkIdentity(ctx context.Context, userID string, family chains.Family, address string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM auth_identities
		WHERE chain_family = ? AND address = ? AND user_id = ?
		  AND (SELECT COUNT(*) FROM auth_identities WHERE user_id = ?) > 1
	`, family, address, userID, userID)
	if err != nil {
		return fmt.Errorf("deleting identity: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 1 {
		return nil
	}

	// Nothing deleted: either the identity doesn't belong to the user or it
	// is their last one.
	var exists int
	err = s.db.QueryRowContext(ctx, `
		SELECT 1 FROM auth_identities
		WHERE chain_family = ? AND address = ? AND user_id = ?
	`, family, address, userID).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("classifying unlink failure: %w", err)
	}
	return ErrLastIdentity
}

// ListIdentities returns all identities linked to a user, oldest first.
func (s *SQLiteStore) ListIdentities(ctx context.Context, userID string) ([]*AuthIdentity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chain_family, address, user_id, created_at, last_login_at
		FROM auth_identities
		WHERE user_id = ?
		ORDER BY created_at, chain_family, address
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying identities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	identities := []*AuthIdentity{}
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating identities: %w", err)
	}
	return identities, nil
}

// TouchIdentityLogin records a successful login on an identity.
func (s *SQLiteStore) TouchIdentityLogin(ctx context.Context, family chains.Family, address string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE auth_identities SET last_login_at = ? WHERE chain_family = ? AND address = ?
	`, at.UTC().Format(time.RFC3339), family, address)
	if err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	return nil
}

// scanIdentity scans a row into an AuthIdentity.
func scanIdentity(scanner interface{ Scan(dest ...any) error }) (*AuthIdentity, error) {
	var identity AuthIdentity
	var createdAtStr string
	var lastLoginStr sql.NullString

	if err := scanner.Scan(
		&identity.ChainFamily,
		&identity.Address,
		&identity.UserID,
		&createdAtStr,
		&lastLoginStr,
	); err != nil {
		return nil, err
	}

	var err error
	if identity.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if lastLoginStr.Valid {
		t, err := time.Parse(time.RFC3339, lastLoginStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_login_at: %w", err)
		}
		identity.LastLoginAt = &t
	}
	return &identity, nil
}

// --- Challenges ---

// CreateChallenge stores a newly issued challenge.
func (s *SQLiteStore) CreateChallenge(ctx context.Context, c *Challenge) error {
	consumed := 0
	if c.Consumed {
		consumed = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO challenges (id, chain_family, address, nonce, message, issued_at, expires_at, consumed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID,
		c.ChainFamily,
		c.Address,
		c.Nonce,
		c.Message,
		c.IssuedAt.UTC().Format(time.RFC3339),
		c.ExpiresAt.UTC().Format(time.RFC3339),
		consumed,
	)
	if err != nil {
		return fmt.Errorf("inserting challenge: %w", err)
	}

	s.logger.Debug("created challenge",
		"chain_family", c.ChainFamily, "address", c.Address, "expires_at", c.ExpiresAt)
	return nil
}

// LatestChallenge returns the most recently issued challenge for an address,
// consumed or not. Issuing a new challenge supersedes older ones.
func (s *SQLiteStore) LatestChallenge(ctx context.Context, family chains.Family, address string) (*Challenge, error) {
	query := `
		SELECT id, chain_family, address, nonce, message, issued_at, expires_at, consumed
		FROM challenges
		WHERE chain_family = ? AND address = ?
		ORDER BY id DESC
		LIMIT 1
	`
	c, err := scanChallenge(s.db.QueryRowContext(ctx, query, family, address))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying challenge: %w", err)
	}
	return c, nil
}

// ConsumeChallenge atomically marks a live challenge as used. The check and
// the flip happen in one conditional UPDATE so two concurrent verifications
// of the same nonce cannot both succeed.
func (s *SQLiteStore) ConsumeChallenge(ctx context.Context, family chains.Family, address, nonce string, now time.Time) error {
	nowStr := now.UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, `
		UPDATE challenges
		SET consumed = 1
		WHERE chain_family = ? AND address = ? AND nonce = ?
		  AND consumed = 0 AND expires_at > ?
	`, family, address, nonce, nowStr)
	if err != nil {
		return fmt.Errorf("consuming challenge: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 1 {
		s.logger.Debug("consumed challenge", "chain_family", family, "address", address)
		return nil
	}

	// Classify the failure for internal callers; externally these all
	// collapse to one generic verification error.
	var consumed int
	var expiresAtStr string
	err = s.db.QueryRowContext(ctx, `
		SELECT consumed, expires_at FROM challenges
		WHERE chain_family = ? AND address = ? AND nonce = ?
	`, family, address, nonce).Scan(&consumed, &expiresAtStr)
	if err == sql.ErrNoRows {
		return ErrChallengeNotFound
	}
	if err != nil {
		return fmt.Errorf("classifying consume failure: %w", err)
	}
	if consumed == 1 {
		return ErrChallengeConsumed
	}
	return ErrChallengeExpired
}

// DeleteExpiredChallenges removes challenges past their expiry and returns
// the number deleted.
func (s *SQLiteStore) DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM challenges WHERE expires_at <= ?
	`, now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("deleting expired challenges: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

// scanChallenge scans a row into a Challenge.
func scanChallenge(scanner interface{ Scan(dest ...any) error }) (*Challenge, error) {
	var c Challenge
	var issuedAtStr, expiresAtStr string
	var consumed int

	if err := scanner.Scan(
		&c.ID,
		&c.ChainFamily,
		&c.Address,
		&c.Nonce,
		&c.Message,
		&issuedAtStr,
		&expiresAtStr,
		&consumed,
	); err != nil {
		return nil, err
	}

	var err error
	if c.IssuedAt, err = time.Parse(time.RFC3339, issuedAtStr); err != nil {
		return nil, fmt.Errorf("parsing issued_at: %w", err)
	}
	if c.ExpiresAt, err = time.Parse(time.RFC3339, expiresAtStr); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	c.Consumed = consumed == 1
	return &c, nil
}

// --- Organizations ---

// CreateOrganizationWithOwner creates an organization, its owner membership,
// and its default workspace in one transaction. The three never exist
// partially.
func (s *SQLiteStore) CreateOrganizationWithOwner(ctx context.Context, org *Organization, ownerID string, defaultWorkspace *Workspace) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning org create: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO organizations (id, name, billing_email, tier, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		org.ID,
		org.Name,
		org.BillingEmail,
		org.Tier,
		org.CreatedBy,
		org.CreatedAt.UTC().Format(time.RFC3339),
		org.UpdatedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting organization: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO org_memberships (org_id, user_id, role, created_at)
		VALUES (?, ?, ?, ?)
	`, org.ID, ownerID, OrgRoleOwner, org.CreatedAt.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("inserting owner membership: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workspaces (id, org_id, name, is_default, created_at)
		VALUES (?, ?, ?, 1, ?)
	`,
		defaultWorkspace.ID,
		org.ID,
		defaultWorkspace.Name,
		defaultWorkspace.CreatedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting default workspace: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing org create: %w", err)
	}
	s.logger.Info("created organization",
		"org_id", org.ID, "owner", ownerID, "workspace_id", defaultWorkspace.ID)
	return nil
}

// GetOrganization retrieves an organization by ID.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	query := `
		SELECT id, name, billing_email, tier, created_by, created_at, updated_at
		FROM organizations
		WHERE id = ?
	`
	org, err := scanOrganization(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying organization: %w", err)
	}
	return org, nil
}

// ListUserOrganizations returns every organization the user belongs to in
// deterministic order: oldest first, id as tiebreak.
func (s *SQLiteStore) ListUserOrganizations(ctx context.Context, userID string) ([]*Organization, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.name, o.billing_email, o.tier, o.created_by, o.created_at, o.updated_at
		FROM organizations o
		JOIN org_memberships m ON m.org_id = o.id
		WHERE m.user_id = ?
		ORDER BY o.created_at, o.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying organizations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	orgs := []*Organization{}
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating organizations: %w", err)
	}
	return orgs, nil
}

// DeleteOrganization deletes an organization. Memberships and workspaces
// cascade through foreign keys.
func (s *SQLiteStore) DeleteOrganization(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM organizations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting organization: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	s.logger.Info("deleted organization", "org_id", id)
	return nil
}

// scanOrganization scans a row into an Organization.
func scanOrganization(scanner interface{ Scan(dest ...any) error }) (*Organization, error) {
	var org Organization
	var createdAtStr, updatedAtStr string

	if err := scanner.Scan(
		&org.ID,
		&org.Name,
		&org.BillingEmail,
		&org.Tier,
		&org.CreatedBy,
		&createdAtStr,
		&updatedAtStr,
	); err != nil {
		return nil, err
	}

	var err error
	if org.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if org.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &org, nil
}

// --- Organization memberships ---

// AddOrgMember adds a user to an organization. Returns ErrOwnerExists when
// adding a second owner and ErrMembershipExists when the user is already a
// member.
func (s *SQLiteStore) AddOrgMember(ctx context.Context, m *OrgMembership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO org_memberships (org_id, user_id, role, created_at)
		VALUES (?, ?, ?, ?)
	`, m.OrgID, m.UserID, m.Role, m.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isConstraintViolation(err) {
			if strings.Contains(err.Error(), "idx_org_single_owner") {
				return ErrOwnerExists
			}
			return ErrMembershipExists
		}
		return fmt.Errorf("inserting org membership: %w", err)
	}

	s.logger.Debug("added org member", "org_id", m.OrgID, "user_id", m.UserID, "role", m.Role)
	return nil
}

// GetOrgMembership retrieves a user's membership in an organization.
// Returns ErrMembershipNotFound if the user doesn't belong to it.
func (s *SQLiteStore) GetOrgMembership(ctx context.Context, orgID, userID string) (*OrgMembership, error) {
	var m OrgMembership
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT org_id, user_id, role, created_at
		FROM org_memberships
		WHERE org_id = ? AND user_id = ?
	`, orgID, userID).Scan(&m.OrgID, &m.UserID, &m.Role, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying org membership: %w", err)
	}

	if m.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &m, nil
}

// ListUserOrgMemberships returns all of a user's organization memberships,
// oldest first.
func (s *SQLiteStore) ListUserOrgMemberships(ctx context.Context, userID string) ([]*OrgMembership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT org_id, user_id, role, created_at
		FROM org_memberships
		WHERE user_id = ?
		ORDER BY created_at, org_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying org memberships: %w", err)
	}
	defer func() { _ = rows.Close() }()

	memberships := []*OrgMembership{}
	for rows.Next() {
		var m OrgMembership
		var createdAtStr string
		if err := rows.Scan(&m.OrgID, &m.UserID, &m.Role, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning org membership: %w", err)
		}
		if m.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		memberships = append(memberships, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating org memberships: %w", err)
	}
	return memberships, nil
}

// --- Workspaces ---

// CreateWorkspace creates a non-default workspace. Returns
// ErrDefaultWorkspaceExists when it would be a second default.
func (s *SQLiteStore) CreateWorkspace(ctx context.Context, w *Workspace) error {
	isDefault := 0
	if w.IsDefault {
		isDefault = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, org_id, name, is_default, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, w.ID, w.OrgID, w.Name, isDefault, w.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isConstraintViolation(err) && strings.Contains(err.Error(), "idx_workspaces_default") {
			return ErrDefaultWorkspaceExists
		}
		return fmt.Errorf("inserting workspace: %w", err)
	}

	s.logger.Debug("created workspace", "workspace_id", w.ID, "org_id", w.OrgID)
	return nil
}

// GetWorkspace retrieves a workspace by ID.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	query := `
		SELECT id, org_id, name, is_default, created_at
		FROM workspaces
		WHERE id = ?
	`
	w, err := scanWorkspace(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying workspace: %w", err)
	}
	return w, nil
}

// DefaultWorkspace retrieves an organization's default workspace.
func (s *SQLiteStore) DefaultWorkspace(ctx context.Context, orgID string) (*Workspace, error) {
	query := `
		SELECT id, org_id, name, is_default, created_at
		FROM workspaces
		WHERE org_id = ? AND is_default = 1
	`
	w, err := scanWorkspace(s.db.QueryRowContext(ctx, query, orgID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying default workspace: %w", err)
	}
	return w, nil
}

// ListOrgWorkspaces returns an organization's workspaces, default first,
// then oldest first.
func (s *SQLiteStore) ListOrgWorkspaces(ctx context.Context, orgID string) ([]*Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, name, is_default, created_at
		FROM workspaces
		WHERE org_id = ?
		ORDER BY is_default DESC, created_at, id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("querying workspaces: %w", err)
	}
	defer func() { _ = rows.Close() }()

	workspaces := []*Workspace{}
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		workspaces = append(workspaces, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating workspaces: %w", err)
	}
	return workspaces, nil
}

// DeleteWorkspace deletes a non-default workspace. The default workspace is
// never deletable; that keeps exactly one default per organization without a
// separate re-point operation.
func (s *SQLiteStore) DeleteWorkspace(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM workspaces WHERE id = ? AND is_default = 0
	`, id)
	if err != nil {
		return fmt.Errorf("deleting workspace: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 1 {
		s.logger.Info("deleted workspace", "workspace_id", id)
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM workspaces WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("classifying delete failure: %w", err)
	}
	return ErrDefaultWorkspaceProtected
}

// scanWorkspace scans a row into a Workspace.
func scanWorkspace(scanner interface{ Scan(dest ...any) error }) (*Workspace, error) {
	var w Workspace
	var isDefault int
	var createdAtStr string

	if err := scanner.Scan(&w.ID, &w.OrgID, &w.Name, &isDefault, &createdAtStr); err != nil {
		return nil, err
	}

	var err error
	if w.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	w.IsDefault = isDefault == 1
	return &w, nil
}

// --- Workspace memberships ---

// AddWorkspaceMember adds a user to a workspace.
// Returns ErrMembershipExists if they already belong to it.
func (s *SQLiteStore) AddWorkspaceMember(ctx context.Context, m *WorkspaceMembership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_memberships (workspace_id, user_id, role, created_at)
		VALUES (?, ?, ?, ?)
	`, m.WorkspaceID, m.UserID, m.Role, m.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrMembershipExists
		}
		return fmt.Errorf("inserting workspace membership: %w", err)
	}

	s.logger.Debug("added workspace member",
		"workspace_id", m.WorkspaceID, "user_id", m.UserID, "role", m.Role)
	return nil
}

// GetWorkspaceMembership retrieves a user's membership in a workspace.
// Returns ErrMembershipNotFound if they have no explicit role there.
func (s *SQLiteStore) GetWorkspaceMembership(ctx context.Context, workspaceID, userID string) (*WorkspaceMembership, error) {
	var m WorkspaceMembership
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT workspace_id, user_id, role, created_at
		FROM workspace_memberships
		WHERE workspace_id = ? AND user_id = ?
	`, workspaceID, userID).Scan(&m.WorkspaceID, &m.UserID, &m.Role, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying workspace membership: %w", err)
	}

	if m.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &m, nil
}

// --- Tenant snapshot ---

// GetTenantSnapshot reads org role, workspace, and workspace role inside one
// transaction. Returns ErrMembershipNotFound when the user doesn't belong to
// the organization, ErrNotFound when the workspace doesn't exist.
func (s *SQLiteStore) GetTenantSnapshot(ctx context.Context, userID, orgID, workspaceID string) (*TenantSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var snap TenantSnapshot
	err = tx.QueryRowContext(ctx, `
		SELECT role FROM org_memberships WHERE org_id = ? AND user_id = ?
	`, orgID, userID).Scan(&snap.OrgRole)
	if err == sql.ErrNoRows {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying org membership: %w", err)
	}

	query := `SELECT id, org_id, name, is_default, created_at FROM workspaces WHERE id = ?`
	args := []any{workspaceID}
	if workspaceID == "" {
		query = `SELECT id, org_id, name, is_default, created_at FROM workspaces WHERE org_id = ? AND is_default = 1`
		args = []any{orgID}
	}
	w, err := scanWorkspace(tx.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying workspace: %w", err)
	}
	snap.Workspace = w

	var wsRole string
	err = tx.QueryRowContext(ctx, `
		SELECT role FROM workspace_memberships WHERE workspace_id = ? AND user_id = ?
	`, w.ID, userID).Scan(&wsRole)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("querying workspace membership: %w", err)
	}
	snap.WorkspaceRole = WorkspaceRole(wsRole)

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing snapshot: %w", err)
	}
	return &snap, nil
}
