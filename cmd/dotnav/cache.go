package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/dotnav/internal/cache"
	"github.com/dusk-indust/dotnav/internal/config"
	"github.com/dusk-indust/dotnav/internal/mcptools"
	"github.com/dusk-indust/dotnav/internal/mediator"
)

// openCache opens the durable cache of the workspace at root without
// loading the workspace itself.
func openCache(cmd *cobra.Command, root string) (*cache.Cache, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	c := cache.New(cache.Options{
		Path:       cfg.CachePath(abs),
		DefaultTTL: cfg.Cache.DefaultTTL,
		PromoteTTL: cfg.Cache.PromoteTTL,
		Staleness:  cfg.Cache.Staleness,
		Logger:     logger(),
	})
	c.Register(mediator.MappingsKind)
	c.Load(cmd.Context())
	return c, nil
}

func newCacheCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the durable result cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print entry counts of the durable cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := openCache(cmd, g.Root)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), mcptools.CacheStatsOutput{Stats: c.Stats(), Path: c.Path()})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cached entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := openCache(cmd, g.Root)
			if err != nil {
				return err
			}
			cleared := c.Stats().PersistedEntries
			c.Clear()
			return printJSON(cmd.OutOrStdout(), mcptools.CacheClearOutput{Cleared: cleared})
		},
	})
	return cmd
}
