package decision

import (
	"context"
	"log/slog"
	"time"
)

// Stats is the read-only statistics snapshot served over /stats and rendered
// into the operator report. Misses aggregates plain misses, expirations and
// staleness; Expired and Stale carry the breakdown.
type Stats struct {
	Requests          uint64        `json:"requests"`
	Hits              uint64        `json:"hits"`
	Misses            uint64        `json:"misses"`
	Expired           uint64        `json:"expired"`
	Stale             uint64        `json:"stale"`
	Stored            uint64        `json:"stored"`
	Skipped           uint64        `json:"skipped"`
	HitRatePercent    float64       `json:"hitRatePercent"`
	AvgProduceLatency time.Duration `json:"avgProduceLatency"`
	Entries           int64         `json:"entries"`
	FootprintBytes    int64         `json:"footprintBytes"`
	Evictions         uint64        `json:"evictions"`
	Invalidations     uint64        `json:"invalidations"`
	OldestEntryAge    time.Duration `json:"oldestEntryAge"`
	ObservedAt        time.Time     `json:"observedAt"`
}

// counters accumulates facade activity. Guarded by Cache.statsMu.
type counters struct {
	hits          uint64
	misses        uint64
	expired       uint64
	stale         uint64
	stored        uint64
	skipped       uint64
	evictions     uint64
	invalidations uint64
	produceCount  uint64
	produceTotal  time.Duration
}

// Stats assembles the current snapshot. Store queries that fail leave zeroes
// behind rather than failing the snapshot.
func (c *Cache) Stats(ctx context.Context) Stats {
	c.statsMu.Lock()
	snap := c.counters
	c.statsMu.Unlock()

	now := c.clock()
	out := Stats{
		Hits:          snap.hits,
		Expired:       snap.expired,
		Stale:         snap.stale,
		Stored:        snap.stored,
		Skipped:       snap.skipped,
		Evictions:     snap.evictions,
		Invalidations: snap.invalidations,
		ObservedAt:    now.UTC(),
	}
	out.Misses = snap.misses + snap.expired + snap.stale
	out.Requests = out.Hits + out.Misses
	if out.Requests > 0 {
		out.HitRatePercent = float64(out.Hits) / float64(out.Requests) * 100
	}
	if snap.produceCount > 0 {
		out.AvgProduceLatency = snap.produceTotal / time.Duration(snap.produceCount)
	}

	if entries, err := c.store.Size(ctx); err == nil {
		out.Entries = entries
	} else {
		c.logger.Debug("entry count query failed", slog.Any("error", err))
	}
	if footprint, err := c.store.Footprint(ctx); err == nil {
		out.FootprintBytes = footprint
	}
	if oldest, ok, err := c.store.OldestInsertedAt(ctx); err == nil && ok {
		out.OldestEntryAge = now.Sub(oldest)
	}
	return out
}

func (c *Cache) countHit() {
	c.statsMu.Lock()
	c.counters.hits++
	c.statsMu.Unlock()
}

func (c *Cache) countMiss() {
	c.statsMu.Lock()
	c.counters.misses++
	c.statsMu.Unlock()
}

func (c *Cache) countExpired() {
	c.statsMu.Lock()
	c.counters.expired++
	c.statsMu.Unlock()
}

func (c *Cache) countStale() {
	c.statsMu.Lock()
	c.counters.stale++
	c.statsMu.Unlock()
}

func (c *Cache) countStored() {
	c.statsMu.Lock()
	c.counters.stored++
	c.statsMu.Unlock()
}

func (c *Cache) countSkipped() {
	c.statsMu.Lock()
	c.counters.skipped++
	c.statsMu.Unlock()
}

func (c *Cache) countEvictions(n uint64) {
	c.statsMu.Lock()
	c.counters.evictions += n
	c.statsMu.Unlock()
}

func (c *Cache) countInvalidations(n uint64) {
	c.statsMu.Lock()
	c.counters.invalidations += n
	c.statsMu.Unlock()
}

func (c *Cache) countProduce(elapsed time.Duration) {
	c.statsMu.Lock()
	c.counters.produceCount++
	c.counters.produceTotal += elapsed
	c.statsMu.Unlock()
}
