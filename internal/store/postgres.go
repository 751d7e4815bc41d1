// ABOUTME: Postgres implementation of the Store interface via the pgx stdlib adapter
// ABOUTME: Same semantics as the SQLite backend with native timestamps and named constraints

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/driftware/walletgate/internal/chains"
	"github.com/driftware/walletgate/internal/ids"
)

// PostgresStore implements the Store interface using Postgres.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

// NewPostgresStore opens a Postgres-backed store and creates the schema if
// it doesn't exist.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := NewPostgresStoreFromDB(db)
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("Postgres store initialized")
	return s, nil
}

// NewPostgresStoreFromDB wraps an existing connection without touching the
// schema. Used by tests that bring their own database handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: slog.Default().With("component", "store"),
	}
}

func (s *PostgresStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id                 TEXT PRIMARY KEY,
			display_name       TEXT NOT NULL,
			last_active_org_id TEXT,
			created_at         TIMESTAMPTZ NOT NULL,
			updated_at         TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS auth_identities (
			chain_family  TEXT NOT NULL,
			address       TEXT NOT NULL,
			user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at    TIMESTAMPTZ NOT NULL,
			last_login_at TIMESTAMPTZ,

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
			issued_at    TIMESTAMPTZ NOT NULL,
			expires_at   TIMESTAMPTZ NOT NULL,
			consumed     BOOLEAN NOT NULL DEFAULT FALSE,

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
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL,

			CHECK (tier IN ('free', 'starter', 'pro', 'enterprise'))
		);

		CREATE TABLE IF NOT EXISTS org_memberships (
			org_id     TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			role       TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,

			PRIMARY KEY (org_id, user_id),
			CHECK (role IN ('owner', 'admin', 'member'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_org_single_owner
			ON org_memberships(org_id) WHERE role = 'owner';
		CREATE INDEX IF NOT EXISTS idx_org_memberships_user ON org_memberships(user_id);

		CREATE TABLE IF NOT EXISTS workspaces (
			id         TEXT PRIMARY KEY,
			org_id     TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			name       TEXT NOT NULL,
			is_default BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_workspaces_default
			ON workspaces(org_id) WHERE is_default;
		CREATE INDEX IF NOT EXISTS idx_workspaces_org ON workspaces(org_id);

		CREATE TABLE IF NOT EXISTS workspace_memberships (
			workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
			user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			role         TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL,

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
			ts            TIMESTAMPTZ NOT NULL,
			detail_json   JSONB,

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

// Close closes the database connection
func (s *PostgresStore) Close() error {
	s.logger.Info("closing Postgres store")
	return s.db.Close()
}

// uniqueConstraint returns the violated constraint name for a Postgres
// unique violation, or "" for any other error.
func uniqueConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName
	}
	return ""
}

// --- Users ---

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	var lastActive sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, last_active_org_id, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id).Scan(&user.ID, &user.DisplayName, &lastActive, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.LastActiveOrgID = lastActive.String
	return &user, nil
}

func (s *PostgresStore) SetLastActiveOrg(ctx context.Context, userID, orgID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET last_active_org_id = $1, updated_at = $2 WHERE id = $3
	`, nullString(orgID), time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("updating last active org: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteUserCascade(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM organizations
		WHERE id IN (SELECT org_id FROM org_memberships WHERE user_id = $1 AND role = 'owner')
	`, userID); err != nil {
		return fmt.Errorf("deleting owned organizations: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
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

func (s *PostgresStore) CreateUserWithIdentity(ctx context.Context, user *User, identity *AuthIdentity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning signup: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, display_name, last_active_org_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.DisplayName, nullString(user.LastActiveOrgID),
		user.CreatedAt.UTC(), user.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO auth_identities (chain_family, address, user_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, identity.ChainFamily, identity.Address, identity.UserID, identity.CreatedAt.UTC()); err != nil {
		if uniqueConstraint(err) == "auth_identities_pkey" {
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

func (s *PostgresStore) GetIdentity(ctx context.Context, family chains.Family, address string) (*AuthIdentity, error) {
	identity, err := scanIdentityPG(s.db.QueryRowContext(ctx, `
		SELECT chain_family, address, user_id, created_at, last_login_at
		FROM auth_identities
		WHERE chain_family = $1 AND address = $2
	`, family, address))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying identity: %w", err)
	}
	return identity, nil
}

func (s *PostgresStore) LinkIdentity(ctx context.Context, identity *AuthIdentity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_identities (chain_family, address, user_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, identity.ChainFamily, identity.Address, identity.UserID, identity.CreatedAt.UTC())
	if err != nil {
		if uniqueConstraint(err) == "auth_identities_pkey" {
			return ErrAddressAlreadyLinked
		}
		return fmt.Errorf("inserting identity: %w", err)
	}

	s.logger.Debug("linked identity",
		"user_id", identity.UserID, "chain_family", identity.ChainFamily)
	return nil
}

func (s *PostgresStore) UnlinkIdentity(ctx context.Context, userID string, family chains.Family, address string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM auth_identities
		WHERE chain_family = $1 AND address = $2 AND user_id = $3
		  AND (SELECT COUNT(*) FROM auth_identities WHERE user_id = $3) > 1
	`, family, address, userID)
	if err != nil {
		return fmt.Errorf("deleting identity: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `
		SELECT 1 FROM auth_identities
		WHERE chain_family = $1 AND address = $2 AND user_id = $3
	`, family, address, userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("classifying unlink failure: %w", err)
	}
	return ErrLastIdentity
}

func (s *PostgresStore) ListIdentities(ctx context.Context, userID string) ([]*AuthIdentity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chain_family, address, user_id, created_at, last_login_at
		FROM auth_identities
		WHERE user_id = $1
		ORDER BY created_at, chain_family, address
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying identities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	identities := []*AuthIdentity{}
	for rows.Next() {
		identity, err := scanIdentityPG(rows)
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

func (s *PostgresStore) TouchIdentityLogin(ctx context.Context, family chains.Family, address string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE auth_identities SET last_login_at = $1 WHERE chain_family = $2 AND address = $3
	`, at.UTC(), family, address)
	if err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	return nil
}

func scanIdentityPG(scanner interface{ Scan(dest ...any) error }) (*AuthIdentity, error) {
	var identity AuthIdentity
	var lastLogin sql.NullTime

	if err := scanner.Scan(
		&identity.ChainFamily,
		&identity.Address,
		&identity.UserID,
		&identity.CreatedAt,
		&lastLogin,
	); err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		identity.LastLoginAt = &t
	}
	return &identity, nil
}

// --- Challenges ---

func (s *PostgresStore) CreateChallenge(ctx context.Context, c *Challenge) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO challenges (id, chain_family, address, nonce, message, issued_at, expires_at, consumed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.ChainFamily, c.Address, c.Nonce, c.Message,
		c.IssuedAt.UTC(), c.ExpiresAt.UTC(), c.Consumed)
	if err != nil {
		return fmt.Errorf("inserting challenge: %w", err)
	}

	s.logger.Debug("created challenge",
		"chain_family", c.ChainFamily, "address", c.Address, "expires_at", c.ExpiresAt)
	return nil
}

func (s *PostgresStore) LatestChallenge(ctx context.Context, family chains.Family, address string) (*Challenge, error) {
	c, err := scanChallengePG(s.db.QueryRowContext(ctx, `
		SELECT id, chain_family, address, nonce, message, issued_at, expires_at, consumed
		FROM challenges
		WHERE chain_family = $1 AND address = $2
		ORDER BY id DESC
		LIMIT 1
	`, family, address))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying challenge: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ConsumeChallenge(ctx context.Context, family chains.Family, address, nonce string, now time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE challenges
		SET consumed = TRUE
		WHERE chain_family = $1 AND address = $2 AND nonce = $3
		  AND NOT consumed AND expires_at > $4
	`, family, address, nonce, now.UTC())
	if err != nil {
		return fmt.Errorf("consuming challenge: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 1 {
		s.logger.Debug("consumed challenge", "chain_family", family, "address", address)
		return nil
	}

	var consumed bool
	var expiresAt time.Time
	err = s.db.QueryRowContext(ctx, `
		SELECT consumed, expires_at FROM challenges
		WHERE chain_family = $1 AND address = $2 AND nonce = $3
	`, family, address, nonce).Scan(&consumed, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrChallengeNotFound
	}
	if err != nil {
		return fmt.Errorf("classifying consume failure: %w", err)
	}
	if consumed {
		return ErrChallengeConsumed
	}
	return ErrChallengeExpired
}

func (s *PostgresStore) DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM challenges WHERE expires_at <= $1
	`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired challenges: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

func scanChallengePG(scanner interface{ Scan(dest ...any) error }) (*Challenge, error) {
	var c Challenge
	if err := scanner.Scan(
		&c.ID,
		&c.ChainFamily,
		&c.Address,
		&c.Nonce,
		&c.Message,
		&c.IssuedAt,
		&c.ExpiresAt,
		&c.Consumed,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

// --- Organizations ---

func (s *PostgresStore) CreateOrganizationWithOwner(ctx context.Context, org *Organization, ownerID string, defaultWorkspace *Workspace) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning org create: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO organizations (id, name, billing_email, tier, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, org.ID, org.Name, org.BillingEmail, org.Tier, org.CreatedBy,
		org.CreatedAt.UTC(), org.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("inserting organization: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO org_memberships (org_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4)
	`, org.ID, ownerID, OrgRoleOwner, org.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("inserting owner membership: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workspaces (id, org_id, name, is_default, created_at)
		VALUES ($1, $2, $3, TRUE, $4)
	`, defaultWorkspace.ID, org.ID, defaultWorkspace.Name, defaultWorkspace.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("inserting default workspace: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing org create: %w", err)
	}
	s.logger.Info("created organization",
		"org_id", org.ID, "owner", ownerID, "workspace_id", defaultWorkspace.ID)
	return nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	org, err := scanOrganizationPG(s.db.QueryRowContext(ctx, `
		SELECT id, name, billing_email, tier, created_by, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying organization: %w", err)
	}
	return org, nil
}

func (s *PostgresStore) ListUserOrganizations(ctx context.Context, userID string) ([]*Organization, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.name, o.billing_email, o.tier, o.created_by, o.created_at, o.updated_at
		FROM organizations o
		JOIN org_memberships m ON m.org_id = o.id
		WHERE m.user_id = $1
		ORDER BY o.created_at, o.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying organizations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	orgs := []*Organization{}
	for rows.Next() {
		org, err := scanOrganizationPG(rows)
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

func (s *PostgresStore) DeleteOrganization(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, id)
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

func scanOrganizationPG(scanner interface{ Scan(dest ...any) error }) (*Organization, error) {
	var org Organization
	if err := scanner.Scan(
		&org.ID,
		&org.Name,
		&org.BillingEmail,
		&org.Tier,
		&org.CreatedBy,
		&org.CreatedAt,
		&org.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &org, nil
}

// --- Organization memberships ---

func (s *PostgresStore) AddOrgMember(ctx context.Context, m *OrgMembership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO org_memberships (org_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4)
	`, m.OrgID, m.UserID, m.Role, m.CreatedAt.UTC())
	if err != nil {
		switch uniqueConstraint(err) {
		case "idx_org_single_owner":
			return ErrOwnerExists
		case "org_memberships_pkey":
			return ErrMembershipExists
		}
		return fmt.Errorf("inserting org membership: %w", err)
	}

	s.logger.Debug("added org member", "org_id", m.OrgID, "user_id", m.UserID, "role", m.Role)
	return nil
}

func (s *PostgresStore) GetOrgMembership(ctx context.Context, orgID, userID string) (*OrgMembership, error) {
	var m OrgMembership
	err := s.db.QueryRowContext(ctx, `
		SELECT org_id, user_id, role, created_at
		FROM org_memberships
		WHERE org_id = $1 AND user_id = $2
	`, orgID, userID).Scan(&m.OrgID, &m.UserID, &m.Role, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying org membership: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) ListUserOrgMemberships(ctx context.Context, userID string) ([]*OrgMembership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT org_id, user_id, role, created_at
		FROM org_memberships
		WHERE user_id = $1
		ORDER BY created_at, org_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying org memberships: %w", err)
	}
	defer func() { _ = rows.Close() }()

	memberships := []*OrgMembership{}
	for rows.Next() {
		var m OrgMembership
		if err := rows.Scan(&m.OrgID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning org membership: %w", err)
		}
		memberships = append(memberships, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating org memberships: %w", err)
	}
	return memberships, nil
}

// --- Workspaces ---

func (s *PostgresStore) CreateWorkspace(ctx context.Context, w *Workspace) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, org_id, name, is_default, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, w.ID, w.OrgID, w.Name, w.IsDefault, w.CreatedAt.UTC())
	if err != nil {
		if uniqueConstraint(err) == "idx_workspaces_default" {
			return ErrDefaultWorkspaceExists
		}
		return fmt.Errorf("inserting workspace: %w", err)
	}

	s.logger.Debug("created workspace", "workspace_id", w.ID, "org_id", w.OrgID)
	return nil
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	w, err := scanWorkspacePG(s.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, is_default, created_at
		FROM workspaces
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying workspace: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) DefaultWorkspace(ctx context.Context, orgID string) (*Workspace, error) {
	w, err := scanWorkspacePG(s.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, is_default, created_at
		FROM workspaces
		WHERE org_id = $1 AND is_default
	`, orgID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying default workspace: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) ListOrgWorkspaces(ctx context.Context, orgID string) ([]*Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, name, is_default, created_at
		FROM workspaces
		WHERE org_id = $1
		ORDER BY is_default DESC, created_at, id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("querying workspaces: %w", err)
	}
	defer func() { _ = rows.Close() }()

	workspaces := []*Workspace{}
	for rows.Next() {
		w, err := scanWorkspacePG(rows)
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

func (s *PostgresStore) DeleteWorkspace(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM workspaces WHERE id = $1 AND NOT is_default
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
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM workspaces WHERE id = $1`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("classifying delete failure: %w", err)
	}
	return ErrDefaultWorkspaceProtected
}

func scanWorkspacePG(scanner interface{ Scan(dest ...any) error }) (*Workspace, error) {
	var w Workspace
	if err := scanner.Scan(&w.ID, &w.OrgID, &w.Name, &w.IsDefault, &w.CreatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

// --- Workspace memberships ---

func (s *PostgresStore) AddWorkspaceMember(ctx context.Context, m *WorkspaceMembership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_memberships (workspace_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4)
	`, m.WorkspaceID, m.UserID, m.Role, m.CreatedAt.UTC())
	if err != nil {
		if uniqueConstraint(err) == "workspace_memberships_pkey" {
			return ErrMembershipExists
		}
		return fmt.Errorf("inserting workspace membership: %w", err)
	}

	s.logger.Debug("added workspace member",
		"workspace_id", m.WorkspaceID, "user_id", m.UserID, "role", m.Role)
	return nil
}

func (s *PostgresStore) GetWorkspaceMembership(ctx context.Context, workspaceID, userID string) (*WorkspaceMembership, error) {
	var m WorkspaceMembership
	err := s.db.QueryRowContext(ctx, `
		SELECT workspace_id, user_id, role, created_at
		FROM workspace_memberships
		WHERE workspace_id = $1 AND user_id = $2
	`, workspaceID, userID).Scan(&m.WorkspaceID, &m.UserID, &m.Role, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying workspace membership: %w", err)
	}
	return &m, nil
}

// --- Tenant snapshot ---

func (s *PostgresStore) GetTenantSnapshot(ctx context.Context, userID, orgID, workspaceID string) (*TenantSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("beginning snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var snap TenantSnapshot
	err = tx.QueryRowContext(ctx, `
		SELECT role FROM org_memberships WHERE org_id = $1 AND user_id = $2
	`, orgID, userID).Scan(&snap.OrgRole)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying org membership: %w", err)
	}

	query := `SELECT id, org_id, name, is_default, created_at FROM workspaces WHERE id = $1`
	arg := workspaceID
	if workspaceID == "" {
		query = `SELECT id, org_id, name, is_default, created_at FROM workspaces WHERE org_id = $1 AND is_default`
		arg = orgID
	}
	w, err := scanWorkspacePG(tx.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying workspace: %w", err)
	}
	snap.Workspace = w

	var wsRole string
	err = tx.QueryRowContext(ctx, `
		SELECT role FROM workspace_memberships WHERE workspace_id = $1 AND user_id = $2
	`, w.ID, userID).Scan(&wsRole)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("querying workspace membership: %w", err)
	}
	snap.WorkspaceRole = WorkspaceRole(wsRole)

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing snapshot: %w", err)
	}
	return &snap, nil
}

// --- Audit ---

func (s *PostgresStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var detailJSON any
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		detailJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (audit_id, actor_user_id, action, chain_family, target_type, target_id, ts, detail_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.ActorUserID, e.Action, nullString(string(e.ChainFamily)),
		e.TargetType, e.TargetID, e.Timestamp.UTC(), detailJSON)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"actor", e.ActorUserID,
		"action", e.Action,
		"target", e.TargetType+"/"+e.TargetID,
	)
	return nil
}

func (s *PostgresStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	limit := normalizeAuditLimit(f.Limit)

	var actionStr *string
	if f.Action != nil {
		a := string(*f.Action)
		actionStr = &a
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT audit_id, actor_user_id, action, chain_family, target_type, target_id, ts, detail_json
		FROM audit_log
		WHERE ($1::timestamptz IS NULL OR ts >= $1)
		  AND ($2::timestamptz IS NULL OR ts <= $2)
		  AND ($3::text IS NULL OR actor_user_id = $3)
		  AND ($4::text IS NULL OR action = $4)
		  AND ($5::text IS NULL OR target_type = $5)
		  AND ($6::text IS NULL OR target_id = $6)
		ORDER BY ts DESC, audit_id DESC
		LIMIT $7
	`, f.Since, f.Until, f.ActorUserID, actionStr, f.TargetType, f.TargetID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var actionStr string
		var familyStr, detailJSON *string

		if err := rows.Scan(
			&e.ID,
			&e.ActorUserID,
			&actionStr,
			&familyStr,
			&e.TargetType,
			&e.TargetID,
			&e.Timestamp,
			&detailJSON,
		); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}

		e.Action = AuditAction(actionStr)
		if familyStr != nil {
			e.ChainFamily = chains.Family(*familyStr)
		}
		if detailJSON != nil {
			if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshaling detail: %w", err)
			}
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	if entries == nil {
		entries = []AuditEntry{}
	}
	return entries, nil
}
