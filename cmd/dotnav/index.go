package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/dotnav/internal/config"
	"github.com/dusk-indust/dotnav/internal/export"
	"github.com/dusk-indust/dotnav/internal/graph"
	"github.com/dusk-indust/dotnav/internal/mcptools"
)

func logger() *slog.Logger {
	return slog.Default()
}

// persistIndex replaces the on-disk Kuzu index with a copy of src so that
// symbols and diagram can answer without reparsing the workspace.
func persistIndex(ctx context.Context, src graph.Store, path string) error {
	// Remove old index to avoid stale data.
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove old index: %w", err)
	}
	dst, err := graph.NewKuzuFileStore(path)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer dst.Close()
	return graph.Copy(ctx, dst, src)
}

// withIndex runs fn against the persisted index when one exists and fresh is
// unset, and against a freshly loaded workspace otherwise.
func withIndex(ctx context.Context, root string, fresh bool, fn func(graph.Store) error) error {
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	path := cfg.IndexPath(root)
	if !fresh {
		if _, err := os.Stat(path); err == nil {
			store, err := graph.NewKuzuFileStore(path)
			if err == nil {
				defer store.Close()
				logger().Debug("using persisted index", slog.String("path", path))
				return fn(store)
			}
			logger().Warn("persisted index unreadable, loading workspace", slog.Any("error", err))
		}
	}

	a, err := openApp(ctx, root, logger())
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a.ws.Store())
}

func newSymbolsCmd(g *globalFlags) *cobra.Command {
	var (
		kind  string
		limit int
		fresh bool
	)
	cmd := &cobra.Command{
		Use:   "symbols QUERY",
		Short: "Search declared types and methods by name",
		Long: `Search the symbol index by case-insensitive name substring.

The index persisted by 'dotnav serve' is used when present; pass --fresh
to parse the workspace instead.

Examples:
  dotnav symbols Order
  dotnav symbols Handler --kind class --limit 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				limit = 20
			}
			return withIndex(cmd.Context(), g.Root, fresh, func(store graph.Store) error {
				syms, err := store.QuerySymbols(cmd.Context(), args[0], graph.SymbolKind(kind), limit)
				if err != nil {
					return fmt.Errorf("query symbols: %w", err)
				}
				if syms == nil {
					syms = []graph.SymbolNode{}
				}
				return printJSON(cmd.OutOrStdout(), mcptools.FindSymbolOutput{Symbols: syms, Total: len(syms)})
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind: class, interface, record, struct, method, constructor, local_function, accessor")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of results")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "ignore the persisted index and parse the workspace")
	return cmd
}

func newDiagramCmd(g *globalFlags) *cobra.Command {
	var fresh bool
	cmd := &cobra.Command{
		Use:   "diagram",
		Short: "Print a Mermaid diagram of file-level references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withIndex(cmd.Context(), g.Root, fresh, func(store graph.Store) error {
				mermaid, err := export.GenerateMermaid(cmd.Context(), store)
				if err != nil {
					return err
				}
				_, err = io.WriteString(cmd.OutOrStdout(), mermaid)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "ignore the persisted index and parse the workspace")
	return cmd
}
