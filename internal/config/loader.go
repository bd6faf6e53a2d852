package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file >
// default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract
// before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot using the documented precedence
// rules, then resolves the configured event rule sources.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"server.events.eventsfile":     "server.events.eventsFile",
			"server.events.eventsfolder":   "server.events.eventsFolder",
			"cache.maxentries":             "cache.maxEntries",
			"cache.evictfraction":          "cache.evictFraction",
			"cache.defaultttl":             "cache.defaultTTL",
			"cache.gridsize":               "cache.gridSize",
			"cache.proximityrange":         "cache.proximityRange",
			"cache.minredecisioninterval":  "cache.minRedecisionInterval",
			"cache.sweepinterval":          "cache.sweepInterval",
			"cache.metricsenabled":         "cache.metricsEnabled",
			"cache.phases.defensivebelowx": "cache.phases.defensiveBelowX",
			"cache.phases.attackingabovex": "cache.phases.attackingAboveX",
			"cache.valkey.tls.cafile":      "cache.valkey.tls.caFile",
			"sim.tickinterval":             "sim.tickInterval",
			"sim.playersperteam":           "sim.playersPerTeam",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path
			// (CACHE__MAX_ENTRIES -> cache.maxentries).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(strings.ReplaceAll(key, "_", ""))
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			return lower
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.InlineEvents = cloneEventMap(cfg.Events)

	bundle, err := buildEventBundle(ctx, cfg.InlineEvents, cfg.Server.Events)
	if err != nil {
		return Config{}, err
	}
	cfg.Events = bundle.Events
	cfg.EventSources = bundle.Sources
	cfg.SkippedDefinitions = bundle.Skipped
	return cfg, nil
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
			"events": map[string]any{
				"eventsFile":   cfg.Server.Events.EventsFile,
				"eventsFolder": cfg.Server.Events.EventsFolder,
			},
		},
		"cache": map[string]any{
			"backend":               cfg.Cache.Backend,
			"maxEntries":            cfg.Cache.MaxEntries,
			"evictFraction":         cfg.Cache.EvictFraction,
			"defaultTTL":            cfg.Cache.DefaultTTL,
			"gridSize":              cfg.Cache.GridSize,
			"proximityRange":        cfg.Cache.ProximityRange,
			"minRedecisionInterval": cfg.Cache.MinRedecisionInterval,
			"sweepInterval":         cfg.Cache.SweepInterval,
			"metricsEnabled":        cfg.Cache.IsMetricsEnabled(),
			"phases": map[string]any{
				"defensiveBelowX": cfg.Cache.Phases.DefensiveBelowX,
				"attackingAboveX": cfg.Cache.Phases.AttackingAboveX,
			},
			"valkey": map[string]any{
				"address":   cfg.Cache.Valkey.Address,
				"username":  cfg.Cache.Valkey.Username,
				"password":  cfg.Cache.Valkey.Password,
				"db":        cfg.Cache.Valkey.DB,
				"namespace": cfg.Cache.Valkey.Namespace,
				"tls": map[string]any{
					"enabled": cfg.Cache.Valkey.TLS.Enabled,
					"caFile":  cfg.Cache.Valkey.TLS.CAFile,
				},
			},
		},
		"sim": map[string]any{
			"enabled":        cfg.Sim.Enabled,
			"seed":           cfg.Sim.Seed,
			"tickInterval":   cfg.Sim.TickInterval,
			"playersPerTeam": cfg.Sim.PlayersPerTeam,
		},
	}
}
