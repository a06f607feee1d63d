package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Shared Store contract, run against every backend.
// ---------------------------------------------------------------------------

func seedStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.InitSchema(ctx))

	require.NoError(t, s.AddFile(ctx, FileNode{Path: "Orders/OrderService.cs", Hash: "aa", LOC: 40}))
	require.NoError(t, s.AddFile(ctx, FileNode{Path: "Orders/OrdersController.cs", Hash: "bb", LOC: 30, ParseErrors: 1}))

	symbols := []SymbolNode{
		{ID: "Orders/OrderService.cs#10", Name: "OrderService", Kind: SymbolKindClass, Namespace: "Shop.Orders", FilePath: "Orders/OrderService.cs", StartLine: 3, EndLine: 40, Column: 1},
		{ID: "Orders/OrderService.cs#90", Name: "CreateAsync", Kind: SymbolKindMethod, ContainingType: "OrderService", Namespace: "Shop.Orders", FilePath: "Orders/OrderService.cs", StartLine: 8, EndLine: 15, Column: 5},
		{ID: "Orders/OrdersController.cs#12", Name: "OrdersController", Kind: SymbolKindClass, Namespace: "Shop.Api", FilePath: "Orders/OrdersController.cs", StartLine: 2, EndLine: 30, Column: 1},
		{ID: "Orders/OrdersController.cs#80", Name: "Create", Kind: SymbolKindMethod, ContainingType: "OrdersController", Namespace: "Shop.Api", FilePath: "Orders/OrdersController.cs", StartLine: 9, EndLine: 14, Column: 5},
	}
	for _, sym := range symbols {
		require.NoError(t, s.AddSymbol(ctx, sym))
	}

	edges := []Edge{
		{SourceID: "Orders/OrderService.cs", TargetID: "Orders/OrderService.cs#10", Kind: EdgeKindDefines},
		{SourceID: "Orders/OrderService.cs#10", TargetID: "Orders/OrderService.cs#90", Kind: EdgeKindContains},
		{SourceID: "Orders/OrdersController.cs#80", TargetID: "Orders/OrderService.cs#90", Kind: EdgeKindReferences, File: "Orders/OrdersController.cs", Line: 12, Column: 30},
		{SourceID: "Orders/OrdersController.cs#80", TargetID: "Orders/OrderService.cs#90", Kind: EdgeKindReferences, File: "Orders/OrdersController.cs", Line: 13, Column: 30},
	}
	for _, e := range edges {
		require.NoError(t, s.AddEdge(ctx, e))
	}
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("FileRoundTrip", func(t *testing.T) {
		s := newStore(t)
		seedStore(t, s)
		ctx := context.Background()

		f, err := s.GetFile(ctx, "Orders/OrdersController.cs")
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, FileNode{Path: "Orders/OrdersController.cs", Hash: "bb", LOC: 30, ParseErrors: 1}, *f)

		missing, err := s.GetFile(ctx, "nope.cs")
		require.NoError(t, err)
		assert.Nil(t, missing)

		files, err := s.ListFiles(ctx)
		require.NoError(t, err)
		require.Len(t, files, 2)
		assert.Equal(t, "Orders/OrderService.cs", files[0].Path)
	})

	t.Run("SymbolLookup", func(t *testing.T) {
		s := newStore(t)
		seedStore(t, s)
		ctx := context.Background()

		sym, err := s.GetSymbol(ctx, "Orders/OrderService.cs#90")
		require.NoError(t, err)
		require.NotNil(t, sym)
		assert.Equal(t, "CreateAsync", sym.Name)
		assert.Equal(t, SymbolKindMethod, sym.Kind)
		assert.Equal(t, "OrderService", sym.ContainingType)
		assert.Equal(t, 8, sym.StartLine)
		assert.Equal(t, 5, sym.Column)
	})

	t.Run("QuerySymbols", func(t *testing.T) {
		s := newStore(t)
		seedStore(t, s)
		ctx := context.Background()

		all, err := s.QuerySymbols(ctx, "", "", 0)
		require.NoError(t, err)
		assert.Len(t, all, 4)

		byName, err := s.QuerySymbols(ctx, "create", "", 0)
		require.NoError(t, err)
		require.Len(t, byName, 2)
		assert.Equal(t, "Create", byName[0].Name)
		assert.Equal(t, "CreateAsync", byName[1].Name)

		classes, err := s.QuerySymbols(ctx, "order", SymbolKindClass, 0)
		require.NoError(t, err)
		assert.Len(t, classes, 2)

		limited, err := s.QuerySymbols(ctx, "", "", 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("EdgeLookups", func(t *testing.T) {
		s := newStore(t)
		seedStore(t, s)
		ctx := context.Background()

		refs, err := s.Incoming(ctx, "Orders/OrderService.cs#90", EdgeKindReferences)
		require.NoError(t, err)
		require.Len(t, refs, 2)
		assert.Equal(t, "Orders/OrdersController.cs#80", refs[0].SourceID)
		assert.Equal(t, 12, refs[0].Line)
		assert.Equal(t, 13, refs[1].Line)
		assert.Equal(t, 30, refs[1].Column)

		members, err := s.Outgoing(ctx, "Orders/OrderService.cs#10", EdgeKindContains)
		require.NoError(t, err)
		require.Len(t, members, 1)
		assert.Equal(t, "Orders/OrderService.cs#90", members[0].TargetID)

		defined, err := s.Outgoing(ctx, "Orders/OrderService.cs", EdgeKindDefines)
		require.NoError(t, err)
		assert.Len(t, defined, 1)

		all, err := s.GetAllEdges(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("StatsAndReset", func(t *testing.T) {
		s := newStore(t)
		seedStore(t, s)
		ctx := context.Background()

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, GraphStats{FileCount: 2, SymbolCount: 4, EdgeCount: 4, ReferenceCount: 2}, *stats)

		require.NoError(t, s.Reset(ctx))
		stats, err = s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, GraphStats{}, *stats)
	})

	t.Run("Copy", func(t *testing.T) {
		src := newStore(t)
		seedStore(t, src)
		dst := newStore(t)
		ctx := context.Background()

		require.NoError(t, Copy(ctx, dst, src))
		stats, err := dst.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, stats.SymbolCount)
		assert.Equal(t, 2, stats.ReferenceCount)
	})
}
