package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/dotnav/internal/mcptools"
	"github.com/dusk-indust/dotnav/internal/telemetry"
	"github.com/dusk-indust/dotnav/internal/workspace"
)

type serveFlags struct {
	Transport     string
	Addr          string
	MetricsAddr   string
	Watch         bool
	FlushInterval time.Duration
	PersistIndex  bool
}

func newServeCmd(g *globalFlags) *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dotnav MCP server",
		Long: `Load the workspace and serve the dotnav tools over MCP.

The stdio transport is what MCP clients launch ('dotnav init' writes the
entry). The http transport serves streamable HTTP at /mcp and, when
metrics are enabled, Prometheus metrics at /metrics.

Source changes are picked up by a file watcher: the workspace reloads,
the handler mappings are invalidated and the persisted index is rewritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), g, flags)
		},
	}
	cmd.Flags().StringVar(&flags.Transport, "transport", "stdio", "MCP transport: stdio or http")
	cmd.Flags().StringVar(&flags.Addr, "addr", "127.0.0.1:8765", "listen address for the http transport")
	cmd.Flags().StringVar(&flags.MetricsAddr, "metrics-addr", "", "serve /metrics on this address (http transport mounts it on --addr)")
	cmd.Flags().BoolVar(&flags.Watch, "watch", true, "reload the workspace when .cs files change")
	cmd.Flags().DurationVar(&flags.FlushInterval, "flush-interval", time.Minute, "how often the cache is written to disk")
	cmd.Flags().BoolVar(&flags.PersistIndex, "persist-index", true, "write the symbol index to disk for 'dotnav symbols'")
	return cmd
}

func runServe(ctx context.Context, g *globalFlags, flags serveFlags) error {
	if flags.Transport != "stdio" && flags.Transport != "http" {
		return fmt.Errorf("unknown transport %q (want stdio or http)", flags.Transport)
	}
	log := logger()

	tel, err := telemetry.Init(ctx, telemetry.DefaultConfig(version))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			log.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	a, err := openApp(ctx, g.Root, log)
	if err != nil {
		return err
	}
	defer a.close()

	indexPath := a.cfg.IndexPath(a.root)
	persist := func(ctx context.Context) {
		if !flags.PersistIndex {
			return
		}
		if err := persistIndex(ctx, a.ws.Store(), indexPath); err != nil {
			log.Warn("persist index", slog.String("path", indexPath), slog.Any("error", err))
		}
	}
	persist(ctx)

	if flags.Watch {
		watcher, err := a.ws.Watch(ctx, workspace.DefaultDebounce, func(ctx context.Context, changed []string, stats *workspace.LoadStats) {
			a.mappings.Invalidate()
			persist(ctx)
			log.Info("workspace reloaded",
				slog.Int("changed", len(changed)),
				slog.Int("files", stats.Files),
			)
		})
		if err != nil {
			return fmt.Errorf("watch workspace: %w", err)
		}
		defer watcher.Stop()
	}

	server := mcptools.NewServer(a.service(), version)

	// The serving goroutine cancels ctx on return so the others stop.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		a.cache.AutoFlush(ctx, flags.FlushInterval)
		return nil
	})
	metrics := tel.MetricsHandler()
	if flags.MetricsAddr != "" && metrics != nil && flags.Transport == "stdio" {
		eg.Go(func() error {
			return mcptools.ServeMetrics(ctx, flags.MetricsAddr, metrics)
		})
	}

	eg.Go(func() error {
		defer cancel()
		if flags.Transport == "http" {
			log.Info("serving MCP over http", slog.String("addr", flags.Addr))
			return mcptools.RunHTTP(ctx, server, flags.Addr, metrics)
		}
		log.Debug("serving MCP over stdio")
		return mcptools.RunStdio(ctx, server)
	})
	return eg.Wait()
}
