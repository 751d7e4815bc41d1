// ABOUTME: Tests for challenge persistence and the consume-once guarantee
// ABOUTME: Covers latest-wins ordering, expiry classification, and concurrent consumption

package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/driftware/walletgate/internal/chains"
)

const testAddr = "0xaa00000000000000000000000000000000000001"

func TestCreateAndLatestChallenge(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	c := seedChallenge(t, store, chains.FamilyEVM, testAddr, "nonce-1", now, now.Add(5*time.Minute))

	got, err := store.LatestChallenge(ctx, chains.FamilyEVM, testAddr)
	if err != nil {
		t.Fatalf("LatestChallenge failed: %v", err)
	}
	if got.ID != c.ID {
		t.Errorf("ID mismatch: got %q, want %q", got.ID, c.ID)
	}
	if got.Nonce != "nonce-1" {
		t.Errorf("Nonce mismatch: got %q, want %q", got.Nonce, "nonce-1")
	}
	if got.Message != c.Message {
		t.Errorf("Message mismatch: got %q, want %q", got.Message, c.Message)
	}
	if got.Consumed {
		t.Error("fresh challenge should not be consumed")
	}
	if !got.ExpiresAt.Equal(c.ExpiresAt) {
		t.Errorf("ExpiresAt mismatch: got %v, want %v", got.ExpiresAt, c.ExpiresAt)
	}
}

func TestLatestChallenge_NewestWins(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	// Reissues within the same second still resolve to the newest row
	seedChallenge(t, store, chains.FamilyEVM, testAddr, "nonce-old", now, now.Add(5*time.Minute))
	seedChallenge(t, store, chains.FamilyEVM, testAddr, "nonce-new", now, now.Add(5*time.Minute))

	got, err := store.LatestChallenge(ctx, chains.FamilyEVM, testAddr)
	if err != nil {
		t.Fatalf("LatestChallenge failed: %v", err)
	}
	if got.Nonce != "nonce-new" {
		t.Errorf("expected newest challenge, got nonce %q", got.Nonce)
	}
}

func TestLatestChallenge_ScopedToPair(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	seedChallenge(t, store, chains.FamilyEVM, testAddr, "nonce-evm", now, now.Add(5*time.Minute))
	seedChallenge(t, store, chains.FamilySolana, "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM", "nonce-sol", now, now.Add(5*time.Minute))

	got, err := store.LatestChallenge(ctx, chains.FamilySolana, "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	if err != nil {
		t.Fatalf("LatestChallenge failed: %v", err)
	}
	if got.Nonce != "nonce-sol" {
		t.Errorf("expected solana challenge, got nonce %q", got.Nonce)
	}

	if _, err := store.LatestChallenge(ctx, chains.FamilyCosmos, testAddr); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for unseen pair, got %v", err)
	}
}

func TestConsumeChallenge(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	seedChallenge(t, store, chains.FamilyEVM, testAddr, "nonce-1", now, now.Add(5*time.Minute))

	if err := store.ConsumeChallenge(ctx, chains.FamilyEVM, testAddr, "nonce-1", now); err != nil {
		t.Fatalf("ConsumeChallenge failed: %v", err)
	}

	got, err := store.LatestChallenge(ctx, chains.FamilyEVM, testAddr)
	if err != nil {
		t.Fatalf("LatestChallenge failed: %v", err)
	}
	if !got.Consumed {
		t.Error("challenge should be marked consumed")
	}
}

func TestConsumeChallenge_Twice(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	seedChallenge(t, store, chains.FamilyEVM, testAddr, "nonce-1", now, now.Add(5*time.Minute))

	if err := store.ConsumeChallenge(ctx, chains.FamilyEVM, testAddr, "nonce-1", now); err != nil {
		t.Fatalf("first consume failed: %v", err)
	}
	if err := store.ConsumeChallenge(ctx, chains.FamilyEVM, testAddr, "nonce-1", now); err != ErrChallengeConsumed {
		t.Fatalf("expected ErrChallengeConsumed, got %v", err)
	}
}

func TestConsumeChallenge_Expired(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	// Issued in the past, already expired
	seedChallenge(t, store, chains.FamilyEVM, testAddr, "nonce-1",
		now.Add(-10*time.Minute), now.Add(-5*time.Minute))

	err := store.ConsumeChallenge(ctx, chains.FamilyEVM, testAddr, "nonce-1", now)
	if err != ErrChallengeExpired {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
}

func TestConsumeChallenge_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	err := store.ConsumeChallenge(context.Background(), chains.FamilyEVM, testAddr, "no-such-nonce", time.Now().UTC())
	if err != ErrChallengeNotFound {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestConsumeChallenge_ExactlyOnce(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	seedChallenge(t, store, chains.FamilyEVM, testAddr, "nonce-race", now, now.Add(5*time.Minute))

	const attempts = 10
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.ConsumeChallenge(ctx, chains.FamilyEVM, testAddr, "nonce-race", now)
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch err {
		case nil:
			won++
		case ErrChallengeConsumed:
			lost++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Errorf("expected exactly one winner, got %d", won)
	}
	if lost != attempts-1 {
		t.Errorf("expected %d losers, got %d", attempts-1, lost)
	}
}

func TestDeleteExpiredChallenges(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		seedChallenge(t, store, chains.FamilyEVM, testAddr, fmt.Sprintf("stale-%d", i),
			now.Add(-10*time.Minute), now.Add(-5*time.Minute))
	}
	live := seedChallenge(t, store, chains.FamilyEVM, testAddr, "live", now, now.Add(5*time.Minute))

	deleted, err := store.DeleteExpiredChallenges(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpiredChallenges failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("expected 3 deleted, got %d", deleted)
	}

	got, err := store.LatestChallenge(ctx, chains.FamilyEVM, testAddr)
	if err != nil {
		t.Fatalf("LatestChallenge failed: %v", err)
	}
	if got.ID != live.ID {
		t.Errorf("live challenge should survive the sweep")
	}
}
