package cache

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

const (
	DefaultMaxEntries    = 1000
	DefaultEvictFraction = 0.25

	// entryOverheadBytes approximates the fixed cost of one stored entry:
	// struct fields, map bucket share, and timestamps.
	entryOverheadBytes = 160
)

// MemoryConfig bounds the in-process store.
type MemoryConfig struct {
	MaxEntries    int
	EvictFraction float64
}

type memoryStore struct {
	mu            sync.RWMutex
	entries       map[string]Entry
	maxEntries    int
	evictFraction float64
	bytes         int64
}

// NewMemory builds the default in-process store: a mutex-guarded map with
// batch eviction of the oldest quartile once the capacity bound is hit.
func NewMemory(cfg MemoryConfig) Store {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.EvictFraction <= 0 || cfg.EvictFraction > 1 {
		cfg.EvictFraction = DefaultEvictFraction
	}
	return &memoryStore{
		entries:       make(map[string]Entry),
		maxEntries:    cfg.MaxEntries,
		evictFraction: cfg.EvictFraction,
	}
}

func (s *memoryStore) Lookup(_ context.Context, key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	return entry.Clone(), true, nil
}

func (s *memoryStore) Put(_ context.Context, key string, entry Entry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.maxEntries {
		evicted = s.evictOldestLocked(s.evictFraction)
	}
	s.removeLocked(key)
	s.entries[key] = entry.Clone()
	s.bytes += approxEntryBytes(key, entry)
	return evicted, nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(key)
	return nil
}

func (s *memoryStore) Clear(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := len(s.entries)
	s.entries = make(map[string]Entry)
	s.bytes = 0
	return removed, nil
}

func (s *memoryStore) DeleteMatching(_ context.Context, match func(Key) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for raw := range s.entries {
		key, err := ParseKey(raw)
		if err != nil {
			// Unreadable keys can never be matched again; drop them here.
			s.removeLocked(raw)
			removed++
			continue
		}
		if match != nil && match(key) {
			s.removeLocked(raw)
			removed++
		}
	}
	return removed, nil
}

func (s *memoryStore) RecordHit(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return 0, nil
	}
	entry.HitCount++
	s.entries[key] = entry
	return entry.HitCount, nil
}

func (s *memoryStore) SweepExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for raw, entry := range s.entries {
		if now.Sub(entry.InsertedAt) > entry.TTL {
			s.removeLocked(raw)
			removed++
		}
	}
	return removed, nil
}

func (s *memoryStore) EvictOldest(_ context.Context, fraction float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictOldestLocked(fraction), nil
}

func (s *memoryStore) Size(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

func (s *memoryStore) Footprint(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytes, nil
}

func (s *memoryStore) OldestInsertedAt(_ context.Context) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var oldest time.Time
	found := false
	for _, entry := range s.entries {
		if !found || entry.InsertedAt.Before(oldest) {
			oldest = entry.InsertedAt
			found = true
		}
	}
	return oldest, found, nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}

// Resize adopts a new capacity bound and evicts down to it immediately so a
// shrunk bound does not linger unenforced until the next insert.
func (s *memoryStore) Resize(_ context.Context, maxEntries int) error {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxEntries = maxEntries
	for len(s.entries) >= s.maxEntries {
		if s.evictOldestLocked(s.evictFraction) == 0 {
			break
		}
	}
	return nil
}

// evictOldestLocked removes the requested fraction of entries ordered by
// insertion time ascending, ties broken by key so eviction stays
// deterministic under equal timestamps. At least one entry goes whenever the
// store is non-empty.
func (s *memoryStore) evictOldestLocked(fraction float64) int {
	total := len(s.entries)
	if total == 0 {
		return 0
	}
	if fraction <= 0 || fraction > 1 {
		fraction = DefaultEvictFraction
	}
	count := int(math.Floor(float64(total) * fraction))
	if count < 1 {
		count = 1
	}

	type ageRecord struct {
		key        string
		insertedAt time.Time
	}
	records := make([]ageRecord, 0, total)
	for raw, entry := range s.entries {
		records = append(records, ageRecord{key: raw, insertedAt: entry.InsertedAt})
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].insertedAt.Equal(records[j].insertedAt) {
			return records[i].key < records[j].key
		}
		return records[i].insertedAt.Before(records[j].insertedAt)
	})
	for _, rec := range records[:count] {
		s.removeLocked(rec.key)
	}
	return count
}

func (s *memoryStore) removeLocked(key string) {
	entry, ok := s.entries[key]
	if !ok {
		return
	}
	s.bytes -= approxEntryBytes(key, entry)
	if s.bytes < 0 {
		s.bytes = 0
	}
	delete(s.entries, key)
}

func approxEntryBytes(key string, entry Entry) int64 {
	size := int64(entryOverheadBytes)
	size += int64(len(key))
	size += int64(len(entry.Decision.Reasoning))
	size += int64(len(entry.StateSignature))
	if entry.Decision.Target != nil {
		size += 24
	}
	return size
}
