package graph

import (
	"context"
	"fmt"
	"io"
)

// Store is the interface for the symbol and reference index backend.
// Implementations: MemStore (default), KuzuStore (persistent).
type Store interface {
	io.Closer

	// Schema setup — called once before any data is inserted.
	InitSchema(ctx context.Context) error
	// Reset removes all nodes and edges, keeping the schema.
	Reset(ctx context.Context) error

	// Write operations. Symbols must be added before edges that name them.
	AddFile(ctx context.Context, node FileNode) error
	AddSymbol(ctx context.Context, node SymbolNode) error
	AddEdge(ctx context.Context, edge Edge) error

	// Read operations.
	GetFile(ctx context.Context, path string) (*FileNode, error)
	GetSymbol(ctx context.Context, id string) (*SymbolNode, error)
	// QuerySymbols returns symbols whose name contains query
	// (case-insensitive), optionally filtered by kind, ordered by name.
	// A limit <= 0 returns all matches.
	QuerySymbols(ctx context.Context, query string, kind SymbolKind, limit int) ([]SymbolNode, error)
	ListFiles(ctx context.Context) ([]FileNode, error)

	// Edge lookups.
	Incoming(ctx context.Context, targetID string, kind EdgeKind) ([]Edge, error)
	Outgoing(ctx context.Context, sourceID string, kind EdgeKind) ([]Edge, error)
	GetAllEdges(ctx context.Context) ([]Edge, error)

	// Stats.
	Stats(ctx context.Context) (*GraphStats, error)
}

// Copy replays every file, symbol and edge of src into dst.
func Copy(ctx context.Context, dst, src Store) error {
	if err := dst.InitSchema(ctx); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	files, err := src.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}
	for _, f := range files {
		if err := dst.AddFile(ctx, f); err != nil {
			return fmt.Errorf("add file %s: %w", f.Path, err)
		}
	}
	symbols, err := src.QuerySymbols(ctx, "", "", 0)
	if err != nil {
		return fmt.Errorf("query symbols: %w", err)
	}
	for _, sym := range symbols {
		if err := dst.AddSymbol(ctx, sym); err != nil {
			return fmt.Errorf("add symbol %s: %w", sym.ID, err)
		}
	}
	edges, err := src.GetAllEdges(ctx)
	if err != nil {
		return fmt.Errorf("list edges: %w", err)
	}
	for _, e := range edges {
		if err := dst.AddEdge(ctx, e); err != nil {
			return fmt.Errorf("add edge %s->%s: %w", e.SourceID, e.TargetID, err)
		}
	}
	return nil
}
