package cache

import (
	"context"
	"time"
)

// Store is the bounded key-to-entry mapping behind the decision cache. Keys
// are serialized fingerprints; entries are stored and returned by value so
// callers never hold references into a backend's internals.
type Store interface {
	// Lookup returns the entry for the key without judging its validity;
	// expiry and staleness are the validity evaluator's concern.
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	// Put inserts or overwrites an entry and reports how many entries were
	// evicted to make room.
	Put(ctx context.Context, key string, entry Entry) (int, error)
	Delete(ctx context.Context, key string) error
	// Clear drops every entry and reports how many were removed.
	Clear(ctx context.Context) (int, error)
	// DeleteMatching removes entries whose deserialized key satisfies the
	// predicate. Entries whose stored key no longer parses are removed
	// unconditionally; they can never match a lookup again.
	DeleteMatching(ctx context.Context, match func(Key) bool) (int, error)
	// RecordHit bumps the entry's hit counter and returns the new count, or
	// zero when the key is absent.
	RecordHit(ctx context.Context, key string) (int64, error)
	// SweepExpired removes entries whose TTL elapsed before now.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	// EvictOldest removes the given fraction of entries, oldest insertion
	// first.
	EvictOldest(ctx context.Context, fraction float64) (int, error)
	Size(ctx context.Context) (int64, error)
	// Footprint estimates the bytes held by stored entries. Backends that do
	// not track local memory report zero.
	Footprint(ctx context.Context) (int64, error)
	// OldestInsertedAt reports the insertion time of the oldest entry; ok is
	// false when the store is empty or the backend does not track ages.
	OldestInsertedAt(ctx context.Context) (time.Time, bool, error)
	Close(ctx context.Context) error
}

// Resizer is implemented by stores that enforce a local capacity bound and
// can adopt a new one after a configuration replacement.
type Resizer interface {
	Resize(ctx context.Context, maxEntries int) error
}
