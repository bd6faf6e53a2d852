package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every server-level option plus the event rules once every
// configured source has been loaded.
type Config struct {
	Server ServerConfig               `koanf:"server"`
	Cache  CacheConfig                `koanf:"cache"`
	Sim    SimConfig                  `koanf:"sim"`
	Events map[string]EventRuleConfig `koanf:"events"`

	// InlineEvents preserves the rules defined directly in the main config
	// document so reloads can merge them with file-sourced rules again.
	InlineEvents map[string]EventRuleConfig `koanf:"-"`

	// EventSources records which files contributed event rules once the
	// loader resolves the configured sources.
	EventSources []string `koanf:"-"`
	// SkippedDefinitions captures duplicate or otherwise invalid rules the
	// loader intentionally disabled so health output can surface them
	// without re-parsing raw files.
	SkippedDefinitions []DefinitionSkip `koanf:"-"`
}

// ServerConfig collects the bootstrap knobs for the ops endpoint.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
	Events  EventsConfig  `koanf:"events"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and output format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// EventsConfig announces how invalidation rule documents are sourced.
type EventsConfig struct {
	EventsFile   string `koanf:"eventsFile"`
	EventsFolder string `koanf:"eventsFolder"`
}

// EventRuleConfig maps a game event to an invalidation action: either wipe
// the whole cache or delete the keys matched by a CEL predicate.
type EventRuleConfig struct {
	Description string `koanf:"description"`
	ClearAll    bool   `koanf:"clearAll"`
	Match       string `koanf:"match"`
}

// CacheConfig carries the tunables of the decision cache itself.
type CacheConfig struct {
	Backend               string            `koanf:"backend"`
	MaxEntries            int               `koanf:"maxEntries"`
	EvictFraction         float64           `koanf:"evictFraction"`
	DefaultTTL            string            `koanf:"defaultTTL"`
	GridSize              float64           `koanf:"gridSize"`
	ProximityRange        float64           `koanf:"proximityRange"`
	MinRedecisionInterval string            `koanf:"minRedecisionInterval"`
	SweepInterval         string            `koanf:"sweepInterval"`
	MetricsEnabled        *bool             `koanf:"metricsEnabled"`
	Phases                PhasesConfig      `koanf:"phases"`
	Valkey                ValkeyCacheConfig `koanf:"valkey"`
}

// PhasesConfig positions the pitch thresholds that split defensive and
// attacking play.
type PhasesConfig struct {
	DefensiveBelowX float64 `koanf:"defensiveBelowX"`
	AttackingAboveX float64 `koanf:"attackingAboveX"`
}

type ValkeyCacheConfig struct {
	Address   string          `koanf:"address"`
	Username  string          `koanf:"username"`
	Password  string          `koanf:"password"`
	DB        int             `koanf:"db"`
	Namespace string          `koanf:"namespace"`
	TLS       ValkeyTLSConfig `koanf:"tls"`
}

type ValkeyTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// SimConfig drives the optional synthetic match loop used for soak runs.
type SimConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Seed           int64  `koanf:"seed"`
	TickInterval   string `koanf:"tickInterval"`
	PlayersPerTeam int    `koanf:"playersPerTeam"`
}

// DefinitionSkip describes an event rule the loader intentionally ignored
// because it violated invariants, for example duplicate names across files.
type DefinitionSkip struct {
	Kind    string   `json:"kind"`
	Name    string   `json:"name"`
	Reason  string   `json:"reason"`
	Sources []string `json:"sources"`
}

const (
	fallbackTTL            = 5 * time.Second
	fallbackRedecision     = 500 * time.Millisecond
	fallbackSweep          = 10 * time.Second
	fallbackTick           = 100 * time.Millisecond
	fallbackPlayersPerTeam = 6
)

// IsMetricsEnabled reports whether Prometheus instrumentation should be
// wired. Defaults to true when unset.
func (c CacheConfig) IsMetricsEnabled() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

// GetDefaultTTL returns the baseline entry lifetime.
func (c CacheConfig) GetDefaultTTL() time.Duration {
	return parseDurationOr(c.DefaultTTL, fallbackTTL)
}

// GetMinRedecisionInterval returns the anti-oscillation window.
func (c CacheConfig) GetMinRedecisionInterval() time.Duration {
	return parseDurationOr(c.MinRedecisionInterval, fallbackRedecision)
}

// GetSweepInterval returns the cadence of the background expiry sweep.
func (c CacheConfig) GetSweepInterval() time.Duration {
	return parseDurationOr(c.SweepInterval, fallbackSweep)
}

// GetTickInterval returns the cadence of the synthetic match loop.
func (c SimConfig) GetTickInterval() time.Duration {
	return parseDurationOr(c.TickInterval, fallbackTick)
}

// GetPlayersPerTeam returns the roster size for the synthetic match loop.
func (c SimConfig) GetPlayersPerTeam() int {
	if c.PlayersPerTeam <= 0 {
		return fallbackPlayersPerTeam
	}
	return c.PlayersPerTeam
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// Validate enforces invariants that keep the runtime predictable before it
// starts caching decisions.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Server.Events.EventsFile != "" && c.Server.Events.EventsFolder != "" {
		return errors.New("config: eventsFile and eventsFolder are mutually exclusive")
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("config: cache.maxEntries invalid: %d", c.Cache.MaxEntries)
	}
	if c.Cache.EvictFraction < 0 || c.Cache.EvictFraction > 1 {
		return fmt.Errorf("config: cache.evictFraction must be within [0, 1]: %g", c.Cache.EvictFraction)
	}
	if c.Cache.GridSize < 0 {
		return fmt.Errorf("config: cache.gridSize invalid: %g", c.Cache.GridSize)
	}
	if c.Cache.ProximityRange < 0 {
		return fmt.Errorf("config: cache.proximityRange invalid: %g", c.Cache.ProximityRange)
	}
	for name, raw := range map[string]string{
		"cache.defaultTTL":            c.Cache.DefaultTTL,
		"cache.minRedecisionInterval": c.Cache.MinRedecisionInterval,
		"cache.sweepInterval":         c.Cache.SweepInterval,
		"sim.tickInterval":            c.Sim.TickInterval,
	} {
		if err := validateDuration(name, raw); err != nil {
			return err
		}
	}
	if c.Cache.Phases.AttackingAboveX <= c.Cache.Phases.DefensiveBelowX {
		return fmt.Errorf("config: cache.phases attacking threshold %g must sit above defensive threshold %g",
			c.Cache.Phases.AttackingAboveX, c.Cache.Phases.DefensiveBelowX)
	}
	backend := strings.TrimSpace(strings.ToLower(c.Cache.Backend))
	switch backend {
	case "", "memory":
	case "valkey":
		if strings.TrimSpace(c.Cache.Valkey.Address) == "" {
			return errors.New("config: cache.valkey.address required for valkey backend")
		}
	default:
		return fmt.Errorf("config: cache.backend unsupported: %s", c.Cache.Backend)
	}
	if c.Sim.PlayersPerTeam < 0 {
		return fmt.Errorf("config: sim.playersPerTeam invalid: %d", c.Sim.PlayersPerTeam)
	}
	return nil
}

func validateDuration(name, raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	parsed, err := time.ParseDuration(trimmed)
	if err != nil {
		return fmt.Errorf("config: %s invalid: %w", name, err)
	}
	if parsed < 0 {
		return fmt.Errorf("config: %s must not be negative: %s", name, trimmed)
	}
	return nil
}

// DefaultConfig returns the baseline values the cache ships with.
func DefaultConfig() Config {
	metricsOn := true
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    9600,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
		},
		Cache: CacheConfig{
			Backend:               "memory",
			MaxEntries:            1000,
			EvictFraction:         0.25,
			DefaultTTL:            "5s",
			GridSize:              2.0,
			ProximityRange:        10.0,
			MinRedecisionInterval: "500ms",
			SweepInterval:         "10s",
			MetricsEnabled:        &metricsOn,
			Phases: PhasesConfig{
				DefensiveBelowX: -15,
				AttackingAboveX: 25,
			},
		},
		Sim: SimConfig{
			Enabled:        false,
			TickInterval:   "100ms",
			PlayersPerTeam: 6,
		},
	}
}
