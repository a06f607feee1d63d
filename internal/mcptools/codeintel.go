package mcptools

import (
	"github.com/dusk-indust/dotnav/internal/cache"
	"github.com/dusk-indust/dotnav/internal/callgraph"
	"github.com/dusk-indust/dotnav/internal/graph"
	"github.com/dusk-indust/dotnav/internal/mediator"
	"github.com/dusk-indust/dotnav/internal/symbols"
	"github.com/dusk-indust/dotnav/internal/workspace"
)

// --- MCP Tool Input Types ---
// These structs define the JSON schema for each MCP tool's input.
// The MCP Go SDK auto-generates JSON schemas from struct tags.

// TraversalInput is the input for the find_callers and find_callees tools.
type TraversalInput struct {
	File           string `json:"file" jsonschema:"source file path, absolute or relative to the workspace root"`
	Line           int    `json:"line" jsonschema:"1-based line number inside the method"`
	Column         int    `json:"column" jsonschema:"1-based column number"`
	MaxDepth       int    `json:"maxDepth,omitempty" jsonschema:"maximum traversal depth (default: 5)"`
	Limit          int    `json:"limit,omitempty" jsonschema:"maximum number of records (default: 100 for callers, 200 for callees)"`
	Format         string `json:"format,omitempty" jsonschema:"json (default) or mermaid; mermaid also returns a diagram as text content"`
	FollowHandlers bool   `json:"followHandlers,omitempty" jsonschema:"find_callees only: continue from mediator dispatches into the mapped handler (default: server config)"`
}

func (in TraversalInput) query() callgraph.Query {
	return callgraph.Query{
		File:           in.File,
		Line:           in.Line,
		Column:         in.Column,
		MaxDepth:       in.MaxDepth,
		Limit:          in.Limit,
		FollowHandlers: in.FollowHandlers,
	}
}

// BuildMappingsInput is the input for the build_mappings tool.
type BuildMappingsInput struct {
	Force bool `json:"force,omitempty" jsonschema:"discard the current mappings and rescan"`
}

// GetHandlerMappingsInput is the input for the get_handler_mappings tool.
type GetHandlerMappingsInput struct{}

// GetHandlerMappingsOutput is the result of the get_handler_mappings tool.
type GetHandlerMappingsOutput struct {
	Mappings []mediator.HandlerMapping `json:"mappings"`
	Total    int                       `json:"total"`
}

// FindHandlerInput is the input for the find_handler_for_request tool.
type FindHandlerInput struct {
	RequestType string `json:"requestType" jsonschema:"request type name, short or namespace-qualified"`
}

// FindHandlerOutput is the result of the find_handler_for_request tool.
type FindHandlerOutput struct {
	Found   bool                     `json:"found"`
	Mapping *mediator.HandlerMapping `json:"mapping,omitempty"`
}

// FindRequestsInput is the input for the find_requests_for_handler tool.
type FindRequestsInput struct {
	HandlerType string `json:"handlerType" jsonschema:"handler type name, short or namespace-qualified"`
}

// FindRequestsOutput is the result of the find_requests_for_handler tool.
type FindRequestsOutput struct {
	RequestTypes []string `json:"requestTypes"`
}

// FindSymbolInput is the input for the find_symbol tool.
type FindSymbolInput struct {
	Query string `json:"query" jsonschema:"search query for symbol names (substring match)"`
	Kind  string `json:"kind,omitempty" jsonschema:"filter by symbol kind: class, interface, record, struct, method, constructor, local_function, accessor"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results (default: 20)"`
}

// FindSymbolOutput is the result of the find_symbol tool.
type FindSymbolOutput struct {
	Symbols []graph.SymbolNode `json:"symbols"`
	Total   int                `json:"total"`
}

// FindReferencesInput is the input for the find_references tool.
type FindReferencesInput struct {
	File   string `json:"file" jsonschema:"source file path, absolute or relative to the workspace root"`
	Line   int    `json:"line" jsonschema:"1-based line number inside the method"`
	Column int    `json:"column" jsonschema:"1-based column number"`
}

// FindReferencesOutput is the result of the find_references tool.
// TargetMethod is the qualified name of the resolved method, or
// callgraph.NoMethodFound when the position is outside any method.
type FindReferencesOutput struct {
	TargetMethod string              `json:"targetMethod"`
	Symbol       *symbols.Symbol     `json:"symbol,omitempty"`
	References   []symbols.Reference `json:"references"`
	Total        int                 `json:"total"`
}

// GetDiagnosticsInput is the input for the get_diagnostics tool.
type GetDiagnosticsInput struct {
	File string `json:"file,omitempty" jsonschema:"limit diagnostics to one file; omit for the whole workspace"`
}

// GetDiagnosticsOutput is the result of the get_diagnostics tool.
type GetDiagnosticsOutput struct {
	Diagnostics []workspace.Diagnostic `json:"diagnostics"`
	Total       int                    `json:"total"`
}

// CacheStatsInput is the input for the cache_stats tool.
type CacheStatsInput struct{}

// CacheStatsOutput is the result of the cache_stats tool.
type CacheStatsOutput struct {
	Stats cache.Stats `json:"stats"`
	Path  string      `json:"path,omitempty"`
}

// CacheClearInput is the input for the cache_clear tool.
type CacheClearInput struct{}

// CacheClearOutput is the result of the cache_clear tool.
type CacheClearOutput struct {
	Cleared int `json:"cleared"`
}
