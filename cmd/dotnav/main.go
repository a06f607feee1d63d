package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is set by goreleaser at build time.
var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	Root    string
	Verbose bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "dotnav",
		Short: "Call-graph navigation for C# / .NET workspaces",
		Long: `dotnav indexes a C# workspace and answers call-graph questions about it:
who calls a method, what a method calls (classified as Method, Database,
Mediator or External), and which handler serves a mediator request.

It runs as an MCP server ('dotnav serve') or answers one query per
invocation from the command line.

Examples:
  dotnav serve --root ./src
  dotnav callers Application/Orders/OrderService.cs 27 9
  dotnav callees Api/Controllers/OrdersController.cs 30 9 --format mermaid
  dotnav handlers --request CreateOrderCommand`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelInfo
			if flags.Verbose {
				level = slog.LevelDebug
			}
			// stdout carries query output and the stdio MCP transport.
			slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&flags.Root, "root", ".", "path to the C# workspace")
	root.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(flags),
		newCallersCmd(flags),
		newCalleesCmd(flags),
		newHandlersCmd(flags),
		newSymbolsCmd(flags),
		newReferencesCmd(flags),
		newDiagnosticsCmd(flags),
		newDiagramCmd(flags),
		newCacheCmd(flags),
		newInitCmd(flags),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the dotnav version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
