package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dusk-indust/dotnav/internal/cache"
	"github.com/dusk-indust/dotnav/internal/callgraph"
	"github.com/dusk-indust/dotnav/internal/config"
	"github.com/dusk-indust/dotnav/internal/graph"
	"github.com/dusk-indust/dotnav/internal/mcptools"
	"github.com/dusk-indust/dotnav/internal/mediator"
	"github.com/dusk-indust/dotnav/internal/workspace"
)

// app is a loaded workspace with every engine wired to it.
type app struct {
	root     string
	cfg      *config.Config
	ws       *workspace.Workspace
	cache    *cache.Cache
	mappings *mediator.Index
	engine   *callgraph.Engine
	logger   *slog.Logger
}

// openApp loads config and the workspace under root, restores the durable
// cache and wires the mapping index and traversal engine.
func openApp(ctx context.Context, root string, logger *slog.Logger) (*app, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}
	ws := workspace.New(workspace.Options{
		Root:             root,
		Exclude:          cfg.Workspace.Exclude,
		RespectGitignore: cfg.Workspace.RespectGitignore,
		Workers:          cfg.Workspace.ParseWorkers,
		KnownNamespaces:  cfg.Conventions.KnownNamespaces,
		Store:            store,
		Logger:           logger,
	})
	if _, err := ws.Load(ctx); err != nil {
		ws.Close()
		return nil, fmt.Errorf("load workspace: %w", err)
	}

	c := cache.New(cache.Options{
		Path:       cfg.CachePath(ws.Root()),
		DefaultTTL: cfg.Cache.DefaultTTL,
		PromoteTTL: cfg.Cache.PromoteTTL,
		Staleness:  cfg.Cache.Staleness,
		Logger:     logger,
	})
	mappings := mediator.NewIndex(ws, c, mediator.Options{
		HandlerInterfaces: cfg.Conventions.HandlerInterfaces,
		HandlerMethod:     cfg.Conventions.HandlerMethod,
		TTL:               cfg.Mappings.TTL,
		Logger:            logger,
	})
	// Load after NewIndex so the mapping kind is registered.
	c.Load(ctx)

	opts := callgraph.OptionsFromConfig(cfg)
	opts.Logger = logger
	return &app{
		root:     ws.Root(),
		cfg:      cfg,
		ws:       ws,
		cache:    c,
		mappings: mappings,
		engine:   callgraph.New(ws, mappings, opts),
		logger:   logger,
	}, nil
}

// newStore returns the index backend selected by config.
func newStore(cfg *config.Config) (graph.Store, error) {
	switch cfg.Index.Backend {
	case "kuzu":
		store, err := graph.NewKuzuStore()
		if err != nil {
			return nil, fmt.Errorf("open kuzu index: %w", err)
		}
		return store, nil
	default:
		return graph.NewMemStore(), nil
	}
}

func (a *app) service() *mcptools.Service {
	return mcptools.NewService(a.ws, a.mappings, a.engine, a.cache, a.logger)
}

// close flushes the cache and releases the workspace.
func (a *app) close() {
	stats := a.cache.Flush(context.Background())
	a.logger.Debug("cache flushed", slog.Int("written", stats.Written), slog.Int("skipped", stats.Skipped))
	if err := a.ws.Close(); err != nil {
		a.logger.Warn("close workspace", slog.Any("error", err))
	}
}
