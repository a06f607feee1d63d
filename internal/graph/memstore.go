package graph

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Compile-time assertion: *MemStore satisfies Store.
var _ Store = (*MemStore)(nil)

// MemStore implements Store using Go maps. Thread-safe via sync.RWMutex.
type MemStore struct {
	mu       sync.RWMutex
	files    map[string]FileNode
	symbols  map[string]SymbolNode
	edges    []Edge
	incoming map[string][]int // target ID -> indexes into edges
	outgoing map[string][]int // source ID -> indexes into edges
}

// NewMemStore returns an initialized MemStore ready for use.
func NewMemStore() *MemStore {
	m := &MemStore{}
	m.reset()
	return m
}

func (m *MemStore) reset() {
	m.files = make(map[string]FileNode)
	m.symbols = make(map[string]SymbolNode)
	m.edges = nil
	m.incoming = make(map[string][]int)
	m.outgoing = make(map[string][]int)
}

// InitSchema is a no-op for the in-memory store.
func (m *MemStore) InitSchema(_ context.Context) error {
	return nil
}

// Reset drops all data.
func (m *MemStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
	return nil
}

// AddFile stores a file node keyed by its path.
func (m *MemStore) AddFile(_ context.Context, node FileNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[node.Path] = node
	return nil
}

// AddSymbol stores a symbol node keyed by its ID.
func (m *MemStore) AddSymbol(_ context.Context, node SymbolNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symbols[node.ID] = node
	return nil
}

// AddEdge appends an edge and indexes it by both endpoints.
func (m *MemStore) AddEdge(_ context.Context, edge Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.edges)
	m.edges = append(m.edges, edge)
	m.incoming[edge.TargetID] = append(m.incoming[edge.TargetID], idx)
	m.outgoing[edge.SourceID] = append(m.outgoing[edge.SourceID], idx)
	return nil
}

// GetFile returns the file node for the given path, or nil if not found.
func (m *MemStore) GetFile(_ context.Context, path string) (*FileNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[path]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

// GetSymbol returns the symbol with the given ID, or nil if not found.
func (m *MemStore) GetSymbol(_ context.Context, id string) (*SymbolNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.symbols[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// QuerySymbols returns symbols whose name contains query (case-insensitive).
func (m *MemStore) QuerySymbols(_ context.Context, query string, kind SymbolKind, limit int) ([]SymbolNode, error) {
	m.mu.RLock()
	lowerQuery := strings.ToLower(query)
	var results []SymbolNode
	for _, sym := range m.symbols {
		if kind != "" && sym.Kind != kind {
			continue
		}
		if strings.Contains(strings.ToLower(sym.Name), lowerQuery) {
			results = append(results, sym)
		}
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Name != results[j].Name {
			return results[i].Name < results[j].Name
		}
		return results[i].ID < results[j].ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ListFiles returns all files ordered by path.
func (m *MemStore) ListFiles(_ context.Context) ([]FileNode, error) {
	m.mu.RLock()
	out := make([]FileNode, 0, len(m.files))
	for _, f := range m.files {
		out = append(out, f)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Incoming returns edges of the given kind that end at targetID, in insertion order.
func (m *MemStore) Incoming(_ context.Context, targetID string, kind EdgeKind) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(m.incoming[targetID], kind), nil
}

// Outgoing returns edges of the given kind that start at sourceID, in insertion order.
func (m *MemStore) Outgoing(_ context.Context, sourceID string, kind EdgeKind) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(m.outgoing[sourceID], kind), nil
}

func (m *MemStore) collect(idxs []int, kind EdgeKind) []Edge {
	var out []Edge
	for _, i := range idxs {
		if e := m.edges[i]; kind == "" || e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// GetAllEdges returns a copy of all edges in the store.
func (m *MemStore) GetAllEdges(_ context.Context) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Edge, len(m.edges))
	copy(out, m.edges)
	return out, nil
}

// Stats returns counts of all node and edge types in the index.
func (m *MemStore) Stats(_ context.Context) (*GraphStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	refs := 0
	for _, e := range m.edges {
		if e.Kind == EdgeKindReferences {
			refs++
		}
	}
	return &GraphStats{
		FileCount:      len(m.files),
		SymbolCount:    len(m.symbols),
		EdgeCount:      len(m.edges),
		ReferenceCount: refs,
	}, nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error {
	return nil
}
