package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/matchsim/tacticache/internal/config"
	"github.com/matchsim/tacticache/internal/server"
)

// configLoader represents the minimal loader contract run depends on, so
// tests can drive startup without touching the filesystem.
type configLoader interface {
	Load(ctx context.Context) (config.Config, error)
	WatchEvents(ctx context.Context, cfg config.Config, onChange func(config.EventBundle), onError func(error)) (eventsWatcher, error)
}

// eventsWatcher is the stoppable handle returned by WatchEvents.
type eventsWatcher interface {
	Stop()
}

// runnableServer is the blocking HTTP listener contract run drives.
type runnableServer interface {
	Run(ctx context.Context) error
}

var newConfigLoader = func(envPrefix, configFile string) configLoader {
	return fileLoader{Loader: config.NewLoader(envPrefix, configFile)}
}

var newHTTPServer = func(cfg config.Config, logger *slog.Logger, handler http.Handler) (runnableServer, error) {
	srv, err := server.New(cfg, logger, handler)
	if err != nil {
		return nil, err
	}
	return srv, nil
}

// fileLoader narrows config.Loader's concrete watcher type to the seam
// interface.
type fileLoader struct {
	*config.Loader
}

func (l fileLoader) WatchEvents(ctx context.Context, cfg config.Config, onChange func(config.EventBundle), onError func(error)) (eventsWatcher, error) {
	watcher, err := l.Loader.WatchEvents(ctx, cfg, onChange, onError)
	if err != nil {
		return nil, err
	}
	return watcher, nil
}
