package cache

import (
	"time"

	"github.com/matchsim/tacticache/internal/game"
)

// DefaultTTL is the baseline entry lifetime when no configuration overrides
// it.
const DefaultTTL = 5 * time.Second

// ttlMultipliers scales the baseline TTL by decision volatility: stable
// intents stay cached long, ball-contact actions must stay fresh. Kinds not
// listed here take the 1.0 baseline.
var ttlMultipliers = map[game.Kind]float64{
	game.KindIdle:           3.0,
	game.KindMoveToPosition: 2.0,
	game.KindDefendGoal:     1.5,
	game.KindPassBall:       0.5,
	game.KindShootBall:      0.5,
	game.KindIntercept:      0.3,
}

// TTLPolicy assigns per-entry lifetimes by decision kind.
type TTLPolicy struct {
	baseline time.Duration
}

// NewTTLPolicy builds a policy around the given baseline, falling back to
// DefaultTTL when the baseline is unusable.
func NewTTLPolicy(baseline time.Duration) TTLPolicy {
	if baseline <= 0 {
		baseline = DefaultTTL
	}
	return TTLPolicy{baseline: baseline}
}

// Baseline reports the configured default lifetime.
func (p TTLPolicy) Baseline() time.Duration {
	if p.baseline <= 0 {
		return DefaultTTL
	}
	return p.baseline
}

// For returns the lifetime decisions of the given kind are cached for.
func (p TTLPolicy) For(kind game.Kind) time.Duration {
	mult, ok := ttlMultipliers[kind]
	if !ok {
		mult = 1.0
	}
	return time.Duration(float64(p.Baseline()) * mult)
}
