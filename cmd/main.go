package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/matchsim/tacticache/internal/config"
	"github.com/matchsim/tacticache/internal/decision"
	"github.com/matchsim/tacticache/internal/decision/cache"
	"github.com/matchsim/tacticache/internal/logging"
	"github.com/matchsim/tacticache/internal/metrics"
	"github.com/matchsim/tacticache/internal/server"
	"github.com/matchsim/tacticache/internal/sim"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "TACTICACHE", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envPrefix, *configFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envPrefix, configFile string) error {
	loader := newConfigLoader(envPrefix, configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	storeLogger := logger.With(slog.String("component", "store_factory"))
	store := buildStore(ctx, storeLogger, cfg.Cache)

	var recorder *metrics.Recorder
	if cfg.Cache.IsMetricsEnabled() {
		recorder = metrics.NewRecorder(prometheus.NewRegistry())
	}

	decisionCache, err := decision.New(decision.Options{
		Store:        store,
		Config:       decision.ConfigFrom(cfg.Cache),
		Events:       cfg.Events,
		EventSources: cfg.EventSources,
		Skipped:      cfg.SkippedDefinitions,
		Logger:       logger,
		Metrics:      recorder,
	})
	if err != nil {
		return fmt.Errorf("construct decision cache: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := decisionCache.Close(shutdownCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	if cfg.Server.Events.EventsFile != "" || cfg.Server.Events.EventsFolder != "" {
		watcher, err := loader.WatchEvents(ctx, cfg, func(bundle config.EventBundle) {
			decisionCache.ReloadEvents(bundle)
		}, func(err error) {
			if err != nil {
				logger.Error("events watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("events watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	mux.Handle("/", server.NewCacheHandler(decisionCache))

	srv, err := newHTTPServer(cfg, logger, mux)
	if err != nil {
		return err
	}

	if cfg.Sim.Enabled {
		driver := sim.New(sim.Options{
			Cache:          decisionCache,
			Logger:         logger,
			Seed:           cfg.Sim.Seed,
			TickInterval:   cfg.Sim.GetTickInterval(),
			PlayersPerTeam: cfg.Sim.GetPlayersPerTeam(),
		})
		go driver.Run(ctx)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}

// buildStore resolves the configured backend. Valkey failures fall back to
// the in-process store so a missing shared cache degrades performance, never
// availability.
func buildStore(ctx context.Context, logger *slog.Logger, cfg config.CacheConfig) cache.Store {
	memCfg := cache.MemoryConfig{
		MaxEntries:    cfg.MaxEntries,
		EvictFraction: cfg.EvictFraction,
	}
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		if logger != nil {
			logger.Info("using in-process decision store", slog.Int("max_entries", memCfg.MaxEntries))
		}
		return cache.NewMemory(memCfg)
	case "valkey":
		store, err := cache.NewValkey(ctx, cache.ValkeyConfig{
			Address:   cfg.Valkey.Address,
			Username:  cfg.Valkey.Username,
			Password:  cfg.Valkey.Password,
			DB:        cfg.Valkey.DB,
			Namespace: cfg.Valkey.Namespace,
			TLS: cache.ValkeyTLS{
				Enabled: cfg.Valkey.TLS.Enabled,
				CAFile:  cfg.Valkey.TLS.CAFile,
			},
		})
		if err != nil {
			if logger != nil {
				logger.Error("valkey store initialization failed", slog.Any("error", err))
				logger.Info("falling back to in-process store")
			}
			return cache.NewMemory(memCfg)
		}
		if logger != nil {
			logger.Info("using valkey decision store", slog.String("address", cfg.Valkey.Address))
		}
		return store
	default:
		if logger != nil {
			logger.Warn("unsupported store backend, defaulting to memory", slog.String("backend", cfg.Backend))
		}
		return cache.NewMemory(memCfg)
	}
}
