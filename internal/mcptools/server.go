package mcptools

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewServer creates an MCP server with every dotnav tool registered.
func NewServer(svc *Service, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "dotnav",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "find_callers",
		Description: "Find every method that calls the method at a source position, walking outward through callers up to maxDepth. Callers sitting on web endpoints carry the route and HTTP method.",
	}, svc.FindCallers)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "find_callees",
		Description: "Find every call made from the method at a source position, walking into source callees up to maxDepth. Each call is classified as Method, Database, Mediator or External; database operations and external services are summarized.",
	}, svc.FindCallees)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "build_mappings",
		Description: "Build the mediator request/handler mapping index for the workspace. Reuses cached mappings unless force is set.",
	}, svc.BuildMappings)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_handler_mappings",
		Description: "List every mediator request type with the handler type, response type and handler location.",
	}, svc.GetHandlerMappings)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "find_handler_for_request",
		Description: "Resolve a mediator request type to the handler that serves it.",
	}, svc.FindHandlerForRequest)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "find_requests_for_handler",
		Description: "List the mediator request types served by a handler type.",
	}, svc.FindRequestsForHandler)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "find_symbol",
		Description: "Search declared types and methods by name substring. Optionally filter by symbol kind and limit results.",
	}, svc.FindSymbol)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "find_references",
		Description: "List the reference sites of the method at a source position, including references through the interface members it implements.",
	}, svc.FindReferences)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_diagnostics",
		Description: "Report syntax errors for one file or the whole workspace.",
	}, svc.GetDiagnostics)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cache_stats",
		Description: "Report entry counts and hit, miss and promotion counters of the result cache.",
	}, svc.CacheStats)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cache_clear",
		Description: "Empty the result cache and drop the in-memory handler mappings.",
	}, svc.CacheClear)

	return server
}

// RunStdio serves the MCP server on stdin/stdout, blocking until stdin is
// closed or the context is cancelled.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the MCP server over streamable HTTP at /mcp. A non-nil
// metrics handler is mounted at /metrics.
func RunHTTP(ctx context.Context, server *mcp.Server, addr string, metrics http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	))
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	return serve(ctx, addr, mux)
}

// ServeMetrics serves only the metrics handler, for the stdio transport.
func ServeMetrics(ctx context.Context, addr string, metrics http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics)
	return serve(ctx, addr, mux)
}

func serve(ctx context.Context, addr string, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Shutdown gracefully when context is cancelled.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
