package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/matchsim/tacticache/internal/game"
)

func newValkeyStore(t *testing.T) (*miniredis.Miniredis, Store) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skip("miniredis unavailable in sandbox")
		}
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(server.Close)

	store, err := NewValkey(context.Background(), ValkeyConfig{Address: server.Addr(), Namespace: "test:decision"})
	if err != nil {
		t.Fatalf("new valkey: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return server, store
}

func TestValkeyStoreLookup(t *testing.T) {
	server, store := newValkeyStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	key := phaseKey(PhaseAttacking, 1)
	entry := storedEntry(now, time.Second)
	if _, err := store.Put(ctx, key, entry); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := store.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok {
		t.Fatalf("expected hit")
	}
	if got.Decision.Kind != game.KindMoveToPosition || got.Decision.Reasoning != "hold the line" {
		t.Fatalf("unexpected entry: %#v", got)
	}
	if got.Decision.Target == nil || got.Decision.Target.X != 12 {
		t.Fatalf("target lost in transit: %#v", got.Decision.Target)
	}

	server.FastForward(2 * time.Second)
	if _, ok, err := store.Lookup(ctx, key); err != nil || ok {
		t.Fatalf("expected server-side expiry, ok=%v err=%v", ok, err)
	}
}

func TestValkeyPutRequiresPositiveTTL(t *testing.T) {
	_, store := newValkeyStore(t)
	if _, err := store.Put(context.Background(), "k", storedEntry(time.Now().UTC(), 0)); err == nil {
		t.Fatalf("expected error for zero TTL")
	}
}

func TestValkeyRecordHitPreservesTTL(t *testing.T) {
	server, store := newValkeyStore(t)
	ctx := context.Background()

	key := phaseKey(PhaseBallControl, 2)
	if _, err := store.Put(ctx, key, storedEntry(time.Now().UTC(), time.Second)); err != nil {
		t.Fatalf("put: %v", err)
	}

	if got, err := store.RecordHit(ctx, key); err != nil || got != 1 {
		t.Fatalf("first hit: got %d err %v", got, err)
	}
	if got, err := store.RecordHit(ctx, key); err != nil || got != 2 {
		t.Fatalf("second hit: got %d err %v", got, err)
	}

	// The rewrite keeps the remaining expiry instead of restarting it.
	server.FastForward(600 * time.Millisecond)
	if _, err := store.RecordHit(ctx, key); err != nil {
		t.Fatalf("hit inside ttl: %v", err)
	}
	server.FastForward(600 * time.Millisecond)
	if got, err := store.RecordHit(ctx, key); err != nil || got != 0 {
		t.Fatalf("expired entry should count zero hits, got %d err %v", got, err)
	}
}

func TestValkeyClearAndSize(t *testing.T) {
	server, store := newValkeyStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		if _, err := store.Put(ctx, phaseKey(PhaseSupporting, i), storedEntry(now, time.Minute)); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	// A neighboring namespace must stay untouched.
	server.Set("other:ns:key", "untouched")

	size, err := store.Size(ctx)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 3 {
		t.Fatalf("size = %d, want 3", size)
	}

	removed, err := store.Clear(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if removed != 3 {
		t.Fatalf("clear removed %d, want 3", removed)
	}
	if size, _ := store.Size(ctx); size != 0 {
		t.Fatalf("size after clear = %d", size)
	}
	if !server.Exists("other:ns:key") {
		t.Fatalf("clear crossed the namespace boundary")
	}
}

func TestValkeyDeleteMatching(t *testing.T) {
	server, store := newValkeyStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	control := phaseKey(PhaseBallControl, 0)
	attack := phaseKey(PhaseAttacking, 1)
	for _, raw := range []string{control, attack} {
		if _, err := store.Put(ctx, raw, storedEntry(now, time.Minute)); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	server.Set("test:decision:not-a-key", "junk")

	removed, err := store.DeleteMatching(ctx, func(key Key) bool {
		return key.Phase == PhaseBallControl
	})
	if err != nil {
		t.Fatalf("delete matching: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected match plus unreadable key removed, got %d", removed)
	}
	if _, ok, _ := store.Lookup(ctx, control); ok {
		t.Fatalf("matched key survived")
	}
	if _, ok, _ := store.Lookup(ctx, attack); !ok {
		t.Fatalf("unmatched key removed")
	}
	if server.Exists("test:decision:not-a-key") {
		t.Fatalf("unreadable key must be purged")
	}
}

func TestValkeyRequiresAddress(t *testing.T) {
	if _, err := NewValkey(context.Background(), ValkeyConfig{}); err == nil {
		t.Fatalf("expected error for missing address")
	}
}
