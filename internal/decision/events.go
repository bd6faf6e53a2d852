package decision

import (
	"context"
	"log/slog"

	"github.com/matchsim/tacticache/internal/config"
	"github.com/matchsim/tacticache/internal/decision/cache"
	"github.com/matchsim/tacticache/internal/expr"
)

// eventRule is a compiled invalidation rule: either a full wipe or a CEL
// predicate over deserialized keys.
type eventRule struct {
	description string
	clearAll    bool
	program     expr.Program
	hasProgram  bool
}

// compileEventRules turns the loaded rule configs into executable rules. The
// config loader already rejects rules that neither clear nor match, and
// quarantines those whose predicates do not compile; a rule that still fails
// here degrades to a full wipe so an event never goes unhandled.
func compileEventRules(env *expr.Environment, rules map[string]config.EventRuleConfig, logger *slog.Logger) map[string]eventRule {
	compiled := make(map[string]eventRule, len(rules))
	for name, rule := range rules {
		out := eventRule{description: rule.Description, clearAll: rule.ClearAll}
		if !rule.ClearAll {
			program, err := env.Compile(rule.Match)
			if err != nil {
				logger.Error("event rule predicate rejected, degrading to full wipe",
					slog.String("event", name), slog.Any("error", err))
				out.clearAll = true
			} else {
				out.program = program
				out.hasProgram = true
			}
		}
		compiled[name] = out
	}
	return compiled
}

// ReloadEvents swaps the active invalidation rules, typically from the
// configuration watcher after an event file changed on disk.
func (c *Cache) ReloadEvents(bundle config.EventBundle) {
	compiled := compileEventRules(c.env, bundle.Events, c.logger)
	c.mu.Lock()
	c.events = compiled
	c.sources = cloneStrings(bundle.Sources)
	c.skipped = cloneSkips(bundle.Skipped)
	c.mu.Unlock()
	c.logger.Info("event rules reloaded",
		slog.Int("rules", len(compiled)),
		slog.Int("skipped", len(bundle.Skipped)))
}

// InvalidateAll wipes every cached decision and reports how many entries were
// removed. The reason labels the invalidation in logs and metrics.
func (c *Cache) InvalidateAll(ctx context.Context, reason string) int {
	removed, err := c.store.Clear(ctx)
	if err != nil {
		c.logger.Warn("cache wipe failed", slog.Any("error", err), slog.String("event", reason))
		return 0
	}
	c.finishInvalidation(ctx, reason, removed)
	return removed
}

// InvalidateMatching removes the entries whose key satisfies the predicate.
// Stored keys that no longer deserialize can never match a lookup and are
// removed as part of the pass.
func (c *Cache) InvalidateMatching(ctx context.Context, reason string, pred func(cache.Key) bool) int {
	removed, err := c.store.DeleteMatching(ctx, pred)
	if err != nil {
		c.logger.Warn("selective invalidation failed", slog.Any("error", err), slog.String("event", reason))
		return 0
	}
	c.finishInvalidation(ctx, reason, removed)
	return removed
}

// InvalidateEvent applies the configured rule for a game event. Events without
// a rule wipe the cache: an unknown event is a reason with no predicate.
func (c *Cache) InvalidateEvent(ctx context.Context, event string) int {
	c.mu.RLock()
	rule, ok := c.events[event]
	c.mu.RUnlock()

	if !ok {
		c.logger.Info("no rule for event, clearing cache", slog.String("event", event))
		return c.InvalidateAll(ctx, event)
	}
	if rule.clearAll || !rule.hasProgram {
		return c.InvalidateAll(ctx, event)
	}
	return c.InvalidateMatching(ctx, event, func(key cache.Key) bool {
		matched, err := rule.program.EvalBool(keyActivation(key, event))
		if err != nil {
			c.logger.Warn("event predicate evaluation failed",
				slog.String("event", event), slog.Any("error", err))
			return false
		}
		return matched
	})
}

func (c *Cache) finishInvalidation(ctx context.Context, reason string, removed int) {
	if removed > 0 {
		c.countInvalidations(uint64(removed))
	}
	cfg, _ := c.snapshot()
	rec := c.observing(cfg)
	rec.AddInvalidations(reason, removed)
	c.publishEntries(ctx, rec)
	c.logger.Info("cache invalidated",
		slog.String("event", reason),
		slog.Int("removed", removed))
}

// keyActivation flattens a cache key into the variable set the CEL predicates
// see: key.role, key.phase, key.ballX/ballZ, key.playerX/playerZ,
// key.proximity, plus the event name.
func keyActivation(key cache.Key, event string) map[string]any {
	return map[string]any{
		"event": event,
		"key": map[string]any{
			"role":      string(key.Role),
			"phase":     string(key.Phase),
			"ballX":     key.BallBucket.X,
			"ballZ":     key.BallBucket.Z,
			"playerX":   key.PlayerBucket.X,
			"playerZ":   key.PlayerBucket.Z,
			"proximity": key.Proximity,
		},
	}
}
