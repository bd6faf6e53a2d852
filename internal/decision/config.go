package decision

import (
	"math"
	"time"

	"github.com/matchsim/tacticache/internal/config"
	"github.com/matchsim/tacticache/internal/decision/cache"
)

// Config carries the runtime tunables of the decision cache. Unlike the
// startup configuration, which fails validation hard, a replacement Config is
// normalized field by field: anything out of range silently keeps its previous
// value so a bad live tweak can never stall the decision path.
type Config struct {
	MaxEntries            int
	EvictFraction         float64
	DefaultTTL            time.Duration
	GridSize              float64
	ProximityRange        float64
	DefensiveBelowX       float64
	AttackingAboveX       float64
	MinRedecisionInterval time.Duration
	SweepInterval         time.Duration
	MetricsEnabled        bool
}

// DefaultConfig mirrors the stock startup configuration.
func DefaultConfig() Config {
	return Config{
		MaxEntries:            cache.DefaultMaxEntries,
		EvictFraction:         cache.DefaultEvictFraction,
		DefaultTTL:            cache.DefaultTTL,
		GridSize:              cache.DefaultGridSize,
		ProximityRange:        cache.DefaultProximityRange,
		DefensiveBelowX:       cache.DefaultDefensiveX,
		AttackingAboveX:       cache.DefaultAttackingX,
		MinRedecisionInterval: 500 * time.Millisecond,
		SweepInterval:         10 * time.Second,
		MetricsEnabled:        true,
	}
}

// ConfigFrom projects the validated startup configuration into the facade's
// runtime tunables.
func ConfigFrom(cfg config.CacheConfig) Config {
	out := DefaultConfig()
	if cfg.MaxEntries > 0 {
		out.MaxEntries = cfg.MaxEntries
	}
	if cfg.EvictFraction > 0 && cfg.EvictFraction <= 1 {
		out.EvictFraction = cfg.EvictFraction
	}
	out.DefaultTTL = cfg.GetDefaultTTL()
	if cfg.GridSize > 0 {
		out.GridSize = cfg.GridSize
	}
	if cfg.ProximityRange > 0 {
		out.ProximityRange = cfg.ProximityRange
	}
	if cfg.Phases.AttackingAboveX > cfg.Phases.DefensiveBelowX {
		out.DefensiveBelowX = cfg.Phases.DefensiveBelowX
		out.AttackingAboveX = cfg.Phases.AttackingAboveX
	}
	out.MinRedecisionInterval = cfg.GetMinRedecisionInterval()
	out.SweepInterval = cfg.GetSweepInterval()
	out.MetricsEnabled = cfg.IsMetricsEnabled()
	return out
}

// normalized resolves a replacement config against the previous one: every
// out-of-range field falls back to its prior value.
func (c Config) normalized(prev Config) Config {
	out := c
	if out.MaxEntries <= 0 {
		out.MaxEntries = prev.MaxEntries
	}
	if out.EvictFraction <= 0 || out.EvictFraction > 1 {
		out.EvictFraction = prev.EvictFraction
	}
	if out.DefaultTTL <= 0 {
		out.DefaultTTL = prev.DefaultTTL
	}
	if out.GridSize <= 0 || !finite(out.GridSize) {
		out.GridSize = prev.GridSize
	}
	if out.ProximityRange <= 0 || !finite(out.ProximityRange) {
		out.ProximityRange = prev.ProximityRange
	}
	if !finite(out.DefensiveBelowX) || !finite(out.AttackingAboveX) || out.AttackingAboveX <= out.DefensiveBelowX {
		out.DefensiveBelowX = prev.DefensiveBelowX
		out.AttackingAboveX = prev.AttackingAboveX
	}
	if out.MinRedecisionInterval < 0 {
		out.MinRedecisionInterval = prev.MinRedecisionInterval
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = prev.SweepInterval
	}
	return out
}

func (c Config) keyOptions() cache.KeyOptions {
	return cache.KeyOptions{
		GridSize:        c.GridSize,
		ProximityRange:  c.ProximityRange,
		DefensiveBelowX: c.DefensiveBelowX,
		AttackingAboveX: c.AttackingAboveX,
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
