// ABOUTME: Resolves verified wallet addresses to application users
// ABOUTME: Handles first-login signup, multi-chain linking, unlinking, and account deletion

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/driftware/walletgate/internal/chains"
	"github.com/driftware/walletgate/internal/store"
)

// Service maps verified (chain_family, address) pairs to users. It never
// checks signatures itself; callers must only reach it after verification
// succeeds.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// NewService creates an identity service.
func NewService(st store.Store) (*Service, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	return &Service{
		store:  st,
		logger: slog.Default().With("component", "identity"),
	}, nil
}

// ResolveOrCreate returns the user owning the verified address, creating a
// fresh account on first login. The created flag distinguishes signup from
// login. The identity's last-login timestamp is updated either way.
func (s *Service) ResolveOrCreate(ctx context.Context, family chains.Family, address string) (*store.User, bool, error) {
	now := time.Now().UTC()

	identity, err := s.store.GetIdentity(ctx, family, address)
	switch {
	case err == nil:
		user, err := s.store.GetUser(ctx, identity.UserID)
		if err != nil {
			return nil, false, fmt.Errorf("loading user for identity: %w", err)
		}
		s.touchLogin(ctx, family, address, now)
		s.audit(ctx, &store.AuditEntry{
			ActorUserID: user.ID,
			Action:      store.AuditLogin,
			ChainFamily: family,
			TargetType:  "user",
			TargetID:    user.ID,
			Detail:      map[string]any{"address": address},
		})
		return user, false, nil

	case errors.Is(err, store.ErrNotFound):
		// First login for this address: create the account

	default:
		return nil, false, fmt.Errorf("resolving identity: %w", err)
	}

	user := &store.User{
		ID:          uuid.NewString(),
		DisplayName: shortenAddress(address),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	newIdentity := &store.AuthIdentity{
		ChainFamily: family,
		Address:     address,
		UserID:      user.ID,
		CreatedAt:   now,
	}
	err = s.store.CreateUserWithIdentity(ctx, user, newIdentity)
	if errors.Is(err, store.ErrAddressAlreadyLinked) {
		// Lost a signup race for the same address; whoever won owns it now
		existing, err := s.store.GetIdentity(ctx, family, address)
		if err != nil {
			return nil, false, fmt.Errorf("resolving identity after race: %w", err)
		}
		winner, err := s.store.GetUser(ctx, existing.UserID)
		if err != nil {
			return nil, false, fmt.Errorf("loading user after race: %w", err)
		}
		s.touchLogin(ctx, family, address, now)
		return winner, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("creating user: %w", err)
	}

	s.touchLogin(ctx, family, address, now)
	s.audit(ctx, &store.AuditEntry{
		ActorUserID: user.ID,
		Action:      store.AuditSignup,
		ChainFamily: family,
		TargetType:  "user",
		TargetID:    user.ID,
		Detail:      map[string]any{"address": address},
	})
	s.logger.Info("created user", "user_id", user.ID, "chain_family", family)
	return user, true, nil
}

// Link attaches a verified address to an existing user. Linking an address
// the user already owns is an idempotent success; an address owned by
// another user fails with ErrAddressAlreadyLinked.
func (s *Service) Link(ctx context.Context, userID string, family chains.Family, address string) error {
	existing, err := s.store.GetIdentity(ctx, family, address)
	if err == nil {
		if existing.UserID == userID {
			return nil
		}
		return store.ErrAddressAlreadyLinked
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("checking identity: %w", err)
	}

	identity := &store.AuthIdentity{
		ChainFamily: family,
		Address:     address,
		UserID:      userID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.LinkIdentity(ctx, identity); err != nil {
		// Racing against another link attempt maps to the same conflict
		return err
	}

	s.audit(ctx, &store.AuditEntry{
		ActorUserID: userID,
		Action:      store.AuditLinkIdentity,
		ChainFamily: family,
		TargetType:  "identity",
		TargetID:    address,
	})
	return nil
}

// Unlink detaches an address from the user. The last remaining identity
// cannot be removed; that would lock the account out permanently.
func (s *Service) Unlink(ctx context.Context, userID string, family chains.Family, address string) error {
	if err := s.store.UnlinkIdentity(ctx, userID, family, address); err != nil {
		return err
	}

	s.audit(ctx, &store.AuditEntry{
		ActorUserID: userID,
		Action:      store.AuditUnlinkIdentity,
		ChainFamily: family,
		TargetType:  "identity",
		TargetID:    address,
	})
	return nil
}

// List returns the user's linked identities, oldest first.
func (s *Service) List(ctx context.Context, userID string) ([]*store.AuthIdentity, error) {
	return s.store.ListIdentities(ctx, userID)
}

// DeleteAccount removes the user, their identities, their memberships, and
// every organization they own.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	if err := s.store.DeleteUserCascade(ctx, userID); err != nil {
		return err
	}

	s.audit(ctx, &store.AuditEntry{
		ActorUserID: userID,
		Action:      store.AuditDeleteUser,
		TargetType:  "user",
		TargetID:    userID,
	})
	s.logger.Info("deleted account", "user_id", userID)
	return nil
}

// touchLogin records the login time. Failures are logged, not surfaced; a
// stale timestamp must not block a valid login.
func (s *Service) touchLogin(ctx context.Context, family chains.Family, address string, at time.Time) {
	if err := s.store.TouchIdentityLogin(ctx, family, address, at); err != nil {
		s.logger.Error("recording login time", "error", err, "chain_family", family)
	}
}

// audit appends a best-effort audit entry.
func (s *Service) audit(ctx context.Context, e *store.AuditEntry) {
	if err := s.store.AppendAuditLog(ctx, e); err != nil {
		s.logger.Error("appending audit entry", "error", err, "action", e.Action)
	}
}

// shortenAddress derives a readable default display name from an address,
// e.g. "0xAb58…c9D2" or "9WzDXw…tAWWM".
func shortenAddress(address string) string {
	if len(address) <= 13 {
		return address
	}
	return address[:6] + "…" + address[len(address)-4:]
}
