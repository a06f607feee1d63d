package mcptools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/dotnav/internal/cache"
	"github.com/dusk-indust/dotnav/internal/callgraph"
	"github.com/dusk-indust/dotnav/internal/export"
	"github.com/dusk-indust/dotnav/internal/graph"
	"github.com/dusk-indust/dotnav/internal/mediator"
	"github.com/dusk-indust/dotnav/internal/symbols"
	"github.com/dusk-indust/dotnav/internal/workspace"
)

// Service holds the loaded workspace and the engines behind the MCP tools.
type Service struct {
	ws       *workspace.Workspace
	mappings *mediator.Index
	engine   *callgraph.Engine
	cache    *cache.Cache
	logger   *slog.Logger
}

// NewService creates a Service. c may be nil, in which case the cache tools
// report an empty cache.
func NewService(ws *workspace.Workspace, mappings *mediator.Index, engine *callgraph.Engine, c *cache.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ws:       ws,
		mappings: mappings,
		engine:   engine,
		cache:    c,
		logger:   logger.With(slog.String("component", "mcptools")),
	}
}

func validPosition(file string, line, column int) error {
	if file == "" {
		return errors.New("file is required")
	}
	if line < 1 || column < 1 {
		return fmt.Errorf("line and column must be >= 1, got %d:%d", line, column)
	}
	return nil
}

func mermaidRequested(format string) (bool, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return false, nil
	case "mermaid":
		return true, nil
	}
	return false, fmt.Errorf("unknown format %q (want json or mermaid)", format)
}

// diagramResult carries a Mermaid diagram as text content next to the
// structured output.
func diagramResult(diagram string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: diagram}}}
}

// FindCallers walks the methods that call the method at a position.
func (s *Service) FindCallers(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input TraversalInput,
) (*mcp.CallToolResult, callgraph.CallersResult, error) {
	if err := validPosition(input.File, input.Line, input.Column); err != nil {
		return nil, callgraph.CallersResult{}, err
	}
	diagram, err := mermaidRequested(input.Format)
	if err != nil {
		return nil, callgraph.CallersResult{}, err
	}

	res, err := s.engine.FindCallers(ctx, input.query())
	if err != nil {
		return nil, callgraph.CallersResult{}, fmt.Errorf("find callers: %w", err)
	}
	s.logger.Debug("find_callers",
		slog.String("target", res.TargetMethod),
		slog.Int("total", res.TotalCount),
	)
	if diagram && res.Success {
		return diagramResult(export.CallersMermaid(res)), *res, nil
	}
	return nil, *res, nil
}

// FindCallees walks the invocations reachable from the method at a position
// and classifies each one.
func (s *Service) FindCallees(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input TraversalInput,
) (*mcp.CallToolResult, callgraph.CalleesResult, error) {
	if err := validPosition(input.File, input.Line, input.Column); err != nil {
		return nil, callgraph.CalleesResult{}, err
	}
	diagram, err := mermaidRequested(input.Format)
	if err != nil {
		return nil, callgraph.CalleesResult{}, err
	}

	res, err := s.engine.FindCallees(ctx, input.query())
	if err != nil {
		return nil, callgraph.CalleesResult{}, fmt.Errorf("find callees: %w", err)
	}
	s.logger.Debug("find_callees",
		slog.String("target", res.TargetMethod),
		slog.Int("total", res.TotalCount),
	)
	if diagram && res.Success {
		return diagramResult(export.CalleesMermaid(res)), *res, nil
	}
	return nil, *res, nil
}

// BuildMappings builds the request/handler mapping index, or reports the
// existing one. Force discards the current mappings first.
func (s *Service) BuildMappings(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input BuildMappingsInput,
) (*mcp.CallToolResult, mediator.BuildResult, error) {
	if input.Force {
		s.mappings.Invalidate()
	}
	res, err := s.mappings.Build(ctx)
	if err != nil {
		return nil, mediator.BuildResult{}, fmt.Errorf("build mappings: %w", err)
	}
	return nil, *res, nil
}

// GetHandlerMappings lists every request/handler mapping.
func (s *Service) GetHandlerMappings(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ GetHandlerMappingsInput,
) (*mcp.CallToolResult, GetHandlerMappingsOutput, error) {
	mappings, err := s.mappings.Mappings(ctx)
	if err != nil {
		return nil, GetHandlerMappingsOutput{}, fmt.Errorf("get handler mappings: %w", err)
	}
	if mappings == nil {
		mappings = []mediator.HandlerMapping{}
	}
	return nil, GetHandlerMappingsOutput{Mappings: mappings, Total: len(mappings)}, nil
}

// FindHandlerForRequest resolves a request type to its handler.
func (s *Service) FindHandlerForRequest(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input FindHandlerInput,
) (*mcp.CallToolResult, FindHandlerOutput, error) {
	if input.RequestType == "" {
		return nil, FindHandlerOutput{}, errors.New("requestType is required")
	}
	m, err := s.mappings.FindHandlerForRequest(ctx, input.RequestType)
	if err != nil {
		return nil, FindHandlerOutput{}, fmt.Errorf("find handler: %w", err)
	}
	return nil, FindHandlerOutput{Found: m != nil, Mapping: m}, nil
}

// FindRequestsForHandler lists the request types a handler serves.
func (s *Service) FindRequestsForHandler(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input FindRequestsInput,
) (*mcp.CallToolResult, FindRequestsOutput, error) {
	if input.HandlerType == "" {
		return nil, FindRequestsOutput{}, errors.New("handlerType is required")
	}
	reqs, err := s.mappings.FindRequestsForHandler(ctx, input.HandlerType)
	if err != nil {
		return nil, FindRequestsOutput{}, fmt.Errorf("find requests: %w", err)
	}
	if reqs == nil {
		reqs = []string{}
	}
	return nil, FindRequestsOutput{RequestTypes: reqs}, nil
}

// FindSymbol searches the index for symbols by name substring.
func (s *Service) FindSymbol(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input FindSymbolInput,
) (*mcp.CallToolResult, FindSymbolOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	kind := graph.SymbolKind(strings.ToLower(input.Kind))

	syms, err := s.ws.Store().QuerySymbols(ctx, input.Query, kind, limit)
	if err != nil {
		return nil, FindSymbolOutput{}, fmt.Errorf("query symbols: %w", err)
	}
	if syms == nil {
		syms = []graph.SymbolNode{}
	}
	return nil, FindSymbolOutput{Symbols: syms, Total: len(syms)}, nil
}

// FindReferences lists the reference sites of the method at a position.
func (s *Service) FindReferences(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input FindReferencesInput,
) (*mcp.CallToolResult, FindReferencesOutput, error) {
	if err := validPosition(input.File, input.Line, input.Column); err != nil {
		return nil, FindReferencesOutput{}, err
	}
	offset, err := s.ws.Offset(ctx, input.File, input.Line, input.Column)
	if err != nil {
		return nil, FindReferencesOutput{}, fmt.Errorf("resolve position: %w", err)
	}
	sym, err := s.ws.SymbolAtPosition(ctx, input.File, offset)
	if err != nil {
		return nil, FindReferencesOutput{}, fmt.Errorf("resolve position: %w", err)
	}
	if sym == nil {
		return nil, FindReferencesOutput{TargetMethod: callgraph.NoMethodFound, References: []symbols.Reference{}}, nil
	}

	refs, err := s.ws.FindReferences(ctx, sym)
	if err != nil {
		return nil, FindReferencesOutput{}, fmt.Errorf("find references: %w", err)
	}
	if refs == nil {
		refs = []symbols.Reference{}
	}
	return nil, FindReferencesOutput{
		TargetMethod: sym.QualifiedName(),
		Symbol:       sym,
		References:   refs,
		Total:        len(refs),
	}, nil
}

// GetDiagnostics reports syntax errors for one file or the whole workspace.
func (s *Service) GetDiagnostics(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetDiagnosticsInput,
) (*mcp.CallToolResult, GetDiagnosticsOutput, error) {
	diags, err := s.ws.Diagnostics(ctx, input.File)
	if err != nil {
		return nil, GetDiagnosticsOutput{}, fmt.Errorf("diagnostics: %w", err)
	}
	if diags == nil {
		diags = []workspace.Diagnostic{}
	}
	return nil, GetDiagnosticsOutput{Diagnostics: diags, Total: len(diags)}, nil
}

// CacheStats reports entry counts and hit counters of the result cache.
func (s *Service) CacheStats(
	_ context.Context,
	_ *mcp.CallToolRequest,
	_ CacheStatsInput,
) (*mcp.CallToolResult, CacheStatsOutput, error) {
	if s.cache == nil {
		return nil, CacheStatsOutput{}, nil
	}
	return nil, CacheStatsOutput{Stats: s.cache.Stats(), Path: s.cache.Path()}, nil
}

// CacheClear empties the result cache and drops the in-memory handler
// mappings so the next request rescans.
func (s *Service) CacheClear(
	_ context.Context,
	_ *mcp.CallToolRequest,
	_ CacheClearInput,
) (*mcp.CallToolResult, CacheClearOutput, error) {
	var cleared int
	if s.cache != nil {
		cleared = s.cache.Stats().PersistedEntries
		s.cache.Clear()
	}
	s.mappings.Invalidate()
	s.logger.Info("cache cleared", slog.Int("entries", cleared))
	return nil, CacheClearOutput{Cleared: cleared}, nil
}
