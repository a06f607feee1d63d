package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/dotnav/internal/callgraph"
	"github.com/dusk-indust/dotnav/internal/export"
	"github.com/dusk-indust/dotnav/internal/mcptools"
)

// traversalFlags are shared by callers and callees.
type traversalFlags struct {
	Depth  int
	Limit  int
	Format string
	Follow bool
}

func (f *traversalFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.Depth, "depth", 0, "maximum traversal depth (0 uses the configured default)")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum number of records (0 uses the configured default)")
	cmd.Flags().StringVar(&f.Format, "format", "json", "output format: json or mermaid")
}

const positionArgs = "FILE LINE COLUMN"

// parsePosition reads FILE LINE COLUMN arguments into a query.
func parsePosition(args []string) (callgraph.Query, error) {
	line, err := strconv.Atoi(args[1])
	if err != nil || line < 1 {
		return callgraph.Query{}, fmt.Errorf("invalid line %q", args[1])
	}
	col, err := strconv.Atoi(args[2])
	if err != nil || col < 1 {
		return callgraph.Query{}, fmt.Errorf("invalid column %q", args[2])
	}
	return callgraph.Query{File: args[0], Line: line, Column: col}, nil
}

func checkFormat(format string) error {
	if format != "json" && format != "mermaid" {
		return fmt.Errorf("unknown format %q (want json or mermaid)", format)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newCallersCmd(g *globalFlags) *cobra.Command {
	var flags traversalFlags
	cmd := &cobra.Command{
		Use:   "callers " + positionArgs,
		Short: "Find every method that calls the method at a position",
		Long: `Walk outward from the method enclosing FILE:LINE:COLUMN through its callers.
Callers on controller actions or minimal API registrations carry the
endpoint route and HTTP method.

Examples:
  dotnav callers Application/Orders/OrderService.cs 27 9
  dotnav callers Application/Orders/OrderService.cs 27 9 --depth 2 --format mermaid`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(flags.Format); err != nil {
				return err
			}
			q, err := parsePosition(args)
			if err != nil {
				return err
			}
			q.MaxDepth, q.Limit = flags.Depth, flags.Limit

			a, err := openApp(cmd.Context(), g.Root, logger())
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.engine.FindCallers(cmd.Context(), q)
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("find callers: %s", res.Error)
			}
			if flags.Format == "mermaid" {
				_, err := io.WriteString(cmd.OutOrStdout(), export.CallersMermaid(res))
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	flags.register(cmd)
	return cmd
}

func newCalleesCmd(g *globalFlags) *cobra.Command {
	var flags traversalFlags
	cmd := &cobra.Command{
		Use:   "callees " + positionArgs,
		Short: "Find every call made from the method at a position",
		Long: `Walk from the method enclosing FILE:LINE:COLUMN into the methods it calls.
Every call is classified as Method, Database, Mediator or External.

Examples:
  dotnav callees Api/Controllers/OrdersController.cs 30 9
  dotnav callees Api/Controllers/OrdersController.cs 30 9 --follow-handlers --format mermaid`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(flags.Format); err != nil {
				return err
			}
			q, err := parsePosition(args)
			if err != nil {
				return err
			}
			q.MaxDepth, q.Limit, q.FollowHandlers = flags.Depth, flags.Limit, flags.Follow

			a, err := openApp(cmd.Context(), g.Root, logger())
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.engine.FindCallees(cmd.Context(), q)
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("find callees: %s", res.Error)
			}
			if flags.Format == "mermaid" {
				_, err := io.WriteString(cmd.OutOrStdout(), export.CalleesMermaid(res))
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&flags.Follow, "follow-handlers", false, "continue from mediator dispatches into the mapped handler")
	return cmd
}

func newHandlersCmd(g *globalFlags) *cobra.Command {
	var request, handler string
	cmd := &cobra.Command{
		Use:   "handlers",
		Short: "List mediator request/handler mappings",
		Long: `Without flags, list every request type and the handler that serves it.

Examples:
  dotnav handlers
  dotnav handlers --request CreateOrderCommand
  dotnav handlers --handler CreateOrderHandler`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if request != "" && handler != "" {
				return fmt.Errorf("--request and --handler are mutually exclusive")
			}
			a, err := openApp(cmd.Context(), g.Root, logger())
			if err != nil {
				return err
			}
			defer a.close()

			svc := a.service()
			var out any
			switch {
			case request != "":
				_, out, err = svc.FindHandlerForRequest(cmd.Context(), nil, mcptools.FindHandlerInput{RequestType: request})
			case handler != "":
				_, out, err = svc.FindRequestsForHandler(cmd.Context(), nil, mcptools.FindRequestsInput{HandlerType: handler})
			default:
				_, out, err = svc.GetHandlerMappings(cmd.Context(), nil, mcptools.GetHandlerMappingsInput{})
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&request, "request", "", "resolve one request type to its handler")
	cmd.Flags().StringVar(&handler, "handler", "", "list the request types a handler serves")
	return cmd
}

func newReferencesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "references " + positionArgs,
		Short: "List reference sites of the method at a position",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := parsePosition(args)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), g.Root, logger())
			if err != nil {
				return err
			}
			defer a.close()

			_, out, err := a.service().FindReferences(cmd.Context(), nil, mcptools.FindReferencesInput{
				File: q.File, Line: q.Line, Column: q.Column,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newDiagnosticsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnostics [FILE]",
		Short: "Report syntax errors in the workspace or one file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), g.Root, logger())
			if err != nil {
				return err
			}
			defer a.close()

			var in mcptools.GetDiagnosticsInput
			if len(args) == 1 {
				in.File = args[0]
			}
			_, out, err := a.service().GetDiagnostics(cmd.Context(), nil, in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}
