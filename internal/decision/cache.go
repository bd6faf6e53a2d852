package decision

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/matchsim/tacticache/internal/config"
	"github.com/matchsim/tacticache/internal/decision/cache"
	"github.com/matchsim/tacticache/internal/expr"
	"github.com/matchsim/tacticache/internal/game"
	"github.com/matchsim/tacticache/internal/metrics"
	"github.com/matchsim/tacticache/internal/report"
)

// maxCacheablePriority is the cut-off above which a decision is considered
// situational and never cached.
const maxCacheablePriority = 0.9

// uncacheableReasons marks decisions whose reasoning tags them as
// non-deterministic or one-shot.
var uncacheableReasons = []string{"random", "emergency"}

// ProduceFunc computes a fresh decision for a context on a cache miss.
type ProduceFunc func(ctx context.Context, gctx game.Context) (game.Decision, error)

// Options wires the cache facade together. Every field except the store has a
// usable zero value.
type Options struct {
	Store        cache.Store
	Config       Config
	Events       map[string]config.EventRuleConfig
	EventSources []string
	Skipped      []config.DefinitionSkip
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
	Clock        func() time.Time
}

// Cache is the decision memoization facade the AI agents call once per think
// tick. Lookup and Store never surface errors: any internal failure degrades
// to a miss or a skipped store so the decision path cannot stall on the cache.
type Cache struct {
	logger   *slog.Logger
	recorder *metrics.Recorder
	store    cache.Store
	clock    func() time.Time
	env      *expr.Environment
	statsTpl *report.Template

	mu      sync.RWMutex
	cfg     Config
	ttls    cache.TTLPolicy
	events  map[string]eventRule
	sources []string
	skipped []config.DefinitionSkip

	statsMu  sync.Mutex
	counters counters

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
	closeOnce   sync.Once
	closeErr    error
}

// New builds the facade and starts its background expiry sweeper. The sweeper
// stops when Close is called.
func New(opts Options) (*Cache, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "decision_cache"))

	cfg := opts.Config.normalized(DefaultConfig())

	store := opts.Store
	if store == nil {
		store = cache.NewMemory(cache.MemoryConfig{
			MaxEntries:    cfg.MaxEntries,
			EvictFraction: cfg.EvictFraction,
		})
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	env, err := expr.NewEnvironment()
	if err != nil {
		return nil, err
	}
	statsTpl, err := report.NewStatsTemplate(report.NewRenderer())
	if err != nil {
		return nil, err
	}

	c := &Cache{
		logger:    logger,
		recorder:  opts.Metrics,
		store:     store,
		clock:     clock,
		env:       env,
		statsTpl:  statsTpl,
		cfg:       cfg,
		ttls:      cache.NewTTLPolicy(cfg.DefaultTTL),
		events:    compileEventRules(env, opts.Events, logger),
		sources:   cloneStrings(opts.EventSources),
		skipped:   cloneSkips(opts.Skipped),
		sweepDone: make(chan struct{}),
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	c.sweepCancel = cancel
	go c.runSweeper(sweepCtx)
	return c, nil
}

// Lookup returns a cached decision for the context when a valid entry exists.
// Expired and stale entries are deleted on read; every failure path degrades
// to a miss.
func (c *Cache) Lookup(ctx context.Context, gctx game.Context) (game.Decision, bool) {
	cfg, _ := c.snapshot()
	start := c.clock()
	role := string(gctx.Player.Role)
	rec := c.observing(cfg)

	key := cache.Fingerprint(gctx, cfg.keyOptions()).Serialize()
	entry, ok, err := c.store.Lookup(ctx, key)
	if err != nil {
		c.logger.Warn("cache lookup failed", slog.Any("error", err), slog.String("cache_key", key))
		c.countMiss()
		rec.ObserveLookup(role, metrics.LookupError, c.clock().Sub(start))
		return game.Decision{}, false
	}
	if !ok {
		c.countMiss()
		rec.ObserveLookup(role, metrics.LookupMiss, c.clock().Sub(start))
		return game.Decision{}, false
	}

	signature := cache.MatchSignature(gctx.Match)
	switch cache.Evaluate(entry, signature, c.clock(), cfg.MinRedecisionInterval) {
	case cache.VerdictExpired:
		c.dropEntry(ctx, key)
		c.countExpired()
		rec.ObserveLookup(role, metrics.LookupExpired, c.clock().Sub(start))
		c.publishEntries(ctx, rec)
		return game.Decision{}, false
	case cache.VerdictStale:
		c.dropEntry(ctx, key)
		c.countStale()
		rec.ObserveLookup(role, metrics.LookupStale, c.clock().Sub(start))
		c.publishEntries(ctx, rec)
		return game.Decision{}, false
	}

	if _, err := c.store.RecordHit(ctx, key); err != nil {
		c.logger.Debug("hit count update failed", slog.Any("error", err), slog.String("cache_key", key))
	}
	c.countHit()
	rec.ObserveLookup(role, metrics.LookupHit, c.clock().Sub(start))
	return entry.Decision, true
}

// Store caches a decision for the context unless the cacheability policy
// excludes it. Backend failures are logged and swallowed.
func (c *Cache) Store(ctx context.Context, gctx game.Context, decision game.Decision) {
	cfg, ttls := c.snapshot()
	start := c.clock()
	role := string(gctx.Player.Role)
	rec := c.observing(cfg)

	if !cacheable(decision) {
		c.countSkipped()
		rec.ObserveStore(role, metrics.StoreSkipped, c.clock().Sub(start))
		c.logger.Debug("decision not cacheable",
			slog.String("kind", string(decision.Kind)),
			slog.Float64("priority", decision.Priority))
		return
	}

	now := c.clock()
	stored := decision.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	entry := cache.Entry{
		Decision:       stored,
		InsertedAt:     now,
		StateSignature: cache.MatchSignature(gctx.Match),
		TTL:            ttls.For(decision.Kind),
	}
	key := cache.Fingerprint(gctx, cfg.keyOptions()).Serialize()

	evicted, err := c.store.Put(ctx, key, entry)
	if err != nil {
		c.logger.Warn("cache store failed", slog.Any("error", err), slog.String("cache_key", key))
		rec.ObserveStore(role, metrics.StoreError, c.clock().Sub(start))
		return
	}
	if evicted > 0 {
		c.countEvictions(uint64(evicted))
		rec.AddEvictions(metrics.EvictCapacity, evicted)
	}
	c.countStored()
	rec.ObserveStore(role, metrics.StoreStored, c.clock().Sub(start))
	c.publishEntries(ctx, rec)
}

// Resolve is the get-or-compute path: a valid cached decision is returned
// immediately, otherwise produce runs and its result is cached. The producer's
// error is the only error Resolve ever returns.
func (c *Cache) Resolve(ctx context.Context, gctx game.Context, produce ProduceFunc) (game.Decision, error) {
	if decision, ok := c.Lookup(ctx, gctx); ok {
		return decision, nil
	}

	start := c.clock()
	decision, err := produce(ctx, gctx)
	elapsed := c.clock().Sub(start)
	if err != nil {
		return game.Decision{}, err
	}

	cfg, _ := c.snapshot()
	c.countProduce(elapsed)
	c.observing(cfg).ObserveProduce(string(gctx.Player.Role), elapsed)
	c.Store(ctx, gctx, decision)
	return decision, nil
}

// Sweep removes expired entries immediately instead of waiting for the next
// sweeper cycle. It reports how many entries were removed.
func (c *Cache) Sweep(ctx context.Context) int {
	cfg, _ := c.snapshot()
	rec := c.observing(cfg)
	removed, err := c.store.SweepExpired(ctx, c.clock())
	if err != nil {
		c.logger.Warn("expiry sweep failed", slog.Any("error", err))
		return 0
	}
	if removed > 0 {
		c.countEvictions(uint64(removed))
		rec.AddEvictions(metrics.EvictSweep, removed)
		c.logger.Debug("expired entries swept", slog.Int("removed", removed))
	}
	c.publishEntries(ctx, rec)
	return removed
}

// Reset drops every cached entry and zeroes the statistics counters.
func (c *Cache) Reset(ctx context.Context) {
	if _, err := c.store.Clear(ctx); err != nil {
		c.logger.Warn("cache reset failed", slog.Any("error", err))
	}
	c.statsMu.Lock()
	c.counters = counters{}
	c.statsMu.Unlock()
	cfg, _ := c.snapshot()
	c.publishEntries(ctx, c.observing(cfg))
	c.logger.Info("cache reset")
}

// Config returns the active runtime tunables.
func (c *Cache) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// UpdateConfig replaces the runtime tunables wholesale. Out-of-range fields
// keep their previous values; the applied configuration is returned. A
// shrunken entry bound is enforced on stores that support resizing.
func (c *Cache) UpdateConfig(next Config) Config {
	c.mu.Lock()
	prev := c.cfg
	applied := next.normalized(prev)
	c.cfg = applied
	c.ttls = cache.NewTTLPolicy(applied.DefaultTTL)
	c.mu.Unlock()

	if applied.MaxEntries != prev.MaxEntries {
		c.applyResize(applied)
	}
	c.logger.Info("configuration replaced",
		slog.Int("max_entries", applied.MaxEntries),
		slog.Duration("default_ttl", applied.DefaultTTL),
		slog.Duration("sweep_interval", applied.SweepInterval))
	return applied
}

func (c *Cache) applyResize(applied Config) {
	resizer, ok := c.store.(cache.Resizer)
	if !ok {
		return
	}
	ctx := context.Background()
	before, err := c.store.Size(ctx)
	if err != nil {
		before = 0
	}
	if err := resizer.Resize(ctx, applied.MaxEntries); err != nil {
		c.logger.Warn("store resize failed", slog.Any("error", err), slog.Int("max_entries", applied.MaxEntries))
		return
	}
	after, err := c.store.Size(ctx)
	if err != nil {
		return
	}
	rec := c.observing(applied)
	if removed := before - after; removed > 0 {
		c.countEvictions(uint64(removed))
		rec.AddEvictions(metrics.EvictResize, int(removed))
	}
	c.publishEntries(ctx, rec)
}

// Close stops the sweeper and closes the store. It is safe to call more than
// once; later calls return the first close error.
func (c *Cache) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.sweepCancel()
		<-c.sweepDone
		c.closeErr = c.store.Close(ctx)
	})
	return c.closeErr
}

func (c *Cache) runSweeper(ctx context.Context) {
	defer close(c.sweepDone)
	for {
		cfg, _ := c.snapshot()
		timer := time.NewTimer(cfg.SweepInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			c.Sweep(ctx)
		}
	}
}

// snapshot reads the hot-reloadable pieces under one lock acquisition.
func (c *Cache) snapshot() (Config, cache.TTLPolicy) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg, c.ttls
}

// observing returns the recorder when instrumentation is enabled, nil
// otherwise. The recorder's methods accept a nil receiver.
func (c *Cache) observing(cfg Config) *metrics.Recorder {
	if !cfg.MetricsEnabled {
		return nil
	}
	return c.recorder
}

func (c *Cache) publishEntries(ctx context.Context, rec *metrics.Recorder) {
	if rec == nil {
		return
	}
	size, err := c.store.Size(ctx)
	if err != nil {
		return
	}
	rec.SetEntries(size)
}

func (c *Cache) dropEntry(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Debug("entry removal failed", slog.Any("error", err), slog.String("cache_key", key))
	}
}

// cacheable applies the caching policy: high-priority situational decisions
// and decisions tagged as random or emergency are computed fresh every tick.
func cacheable(d game.Decision) bool {
	if d.Priority > maxCacheablePriority {
		return false
	}
	for _, marker := range uncacheableReasons {
		if strings.Contains(d.Reasoning, marker) {
			return false
		}
	}
	return true
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneSkips(in []config.DefinitionSkip) []config.DefinitionSkip {
	if len(in) == 0 {
		return nil
	}
	out := make([]config.DefinitionSkip, len(in))
	copy(out, in)
	return out
}
