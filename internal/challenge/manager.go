// ABOUTME: Issues and consumes one-time login challenges for wallet authentication
// ABOUTME: Challenge text binds nonce, audience, and expiry; consumption is a single CAS

package challenge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftware/walletgate/internal/chains"
	"github.com/driftware/walletgate/internal/ids"
	"github.com/driftware/walletgate/internal/store"
)

const (
	// DefaultTTL is how long an issued challenge stays valid.
	DefaultTTL = 5 * time.Minute

	// DefaultSweepInterval is how often expired challenges are purged.
	DefaultSweepInterval = time.Minute

	// nonceBytes is the entropy of a challenge nonce, hex-encoded to twice
	// this many characters.
	nonceBytes = 32
)

// Manager issues one-time challenges and enforces single consumption.
type Manager struct {
	store    store.Store
	audience string
	ttl      time.Duration
	logger   *slog.Logger
}

// NewManager creates a challenge manager. The audience names this service in
// the challenge text so a signature cannot be replayed somewhere else.
// A non-positive ttl falls back to DefaultTTL.
func NewManager(st store.Store, audience string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store:    st,
		audience: audience,
		ttl:      ttl,
		logger:   slog.Default().With("component", "challenge"),
	}
}

// Issue generates a fresh challenge for the given family/address pair and
// persists it. Earlier unconsumed challenges for the pair stay in place but
// lose to the new one, since verification always reads the latest.
func (m *Manager) Issue(ctx context.Context, family chains.Family, address string) (*store.Challenge, error) {
	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	now := time.Now().UTC()
	c := &store.Challenge{
		ID:          ids.New(),
		ChainFamily: family,
		Address:     address,
		Nonce:       nonce,
		IssuedAt:    now,
		ExpiresAt:   now.Add(m.ttl),
	}
	c.Message = buildMessage(m.audience, family, address, nonce, now, c.ExpiresAt)

	if err := m.store.CreateChallenge(ctx, c); err != nil {
		return nil, fmt.Errorf("storing challenge: %w", err)
	}

	m.logger.Debug("issued challenge",
		"chain_family", family, "address", address, "expires_at", c.ExpiresAt)
	return c, nil
}

// Latest returns the most recently issued challenge for the pair, consumed
// or not. Verification reconstructs the signed message from it.
func (m *Manager) Latest(ctx context.Context, family chains.Family, address string) (*store.Challenge, error) {
	c, err := m.store.LatestChallenge(ctx, family, address)
	if err == store.ErrNotFound {
		return nil, store.ErrChallengeNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Consume marks the challenge used. Exactly one of any set of concurrent
// callers succeeds; the rest get ErrChallengeConsumed. Expired or unknown
// challenges fail with ErrChallengeExpired / ErrChallengeNotFound.
func (m *Manager) Consume(ctx context.Context, family chains.Family, address, nonce string) error {
	return m.store.ConsumeChallenge(ctx, family, address, nonce, time.Now().UTC())
}

// StartSweeper purges expired challenges on the given interval until the
// returned stop function is called. A non-positive interval falls back to
// DefaultSweepInterval.
func (m *Manager) StartSweeper(interval time.Duration) func() {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := m.store.DeleteExpiredChallenges(ctx, time.Now().UTC())
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					m.logger.Error("challenge sweep failed", "error", err)
					continue
				}
				if deleted > 0 {
					m.logger.Debug("swept expired challenges", "deleted", deleted)
				}
			}
		}
	}()
	return cancel
}

// buildMessage renders the human-readable text the wallet signs. The nonce,
// audience, and expiry are all part of the signed bytes.
func buildMessage(audience string, family chains.Family, address, nonce string, issuedAt, expiresAt time.Time) string {
	return fmt.Sprintf(
		"%s wants you to sign in with your %s account:\n%s\n\nNonce: %s\nIssued At: %s\nExpiration Time: %s",
		audience,
		family,
		address,
		nonce,
		issuedAt.Format(time.RFC3339),
		expiresAt.Format(time.RFC3339),
	)
}

// generateNonce returns a cryptographically secure random hex string.
func generateNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
