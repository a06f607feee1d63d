package mediator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/dotnav/internal/cache"
	"github.com/dusk-indust/dotnav/internal/symbols"
	"github.com/dusk-indust/dotnav/internal/symbols/symbolstest"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func ref(name string, args ...symbols.TypeRef) symbols.TypeRef {
	return symbols.TypeRef{Name: name, FullName: name, Args: args}
}

// addHandler declares a handler type implementing IRequestHandler with the
// given type arguments and a Handle method at line.
func addHandler(p *symbolstest.Provider, file, name string, line int, args ...symbols.TypeRef) {
	full := "Shop.Orders." + name
	p.AddType(file, symbols.TypeSymbol{Name: name, FullName: full, Kind: "class", Namespace: "Shop.Orders",
		Location: symbols.Location{Line: line - 2, Column: 14}},
		ref("IDisposable"), ref("IRequestHandler", args...))
	m := p.AddMethod(file, "Shop.Orders", name, "Handle", line)
	p.AddMember(full, "Handle", m.Symbol)
}

func newFixture() *symbolstest.Provider {
	p := symbolstest.New()
	addHandler(p, "Orders/CreateOrder.cs", "CreateOrderHandler", 10,
		symbols.TypeRef{Name: "CreateOrderCommand", FullName: "Shop.Orders.CreateOrderCommand"}, ref("int"))
	addHandler(p, "Orders/DeleteOrder.cs", "DeleteOrderHandler", 10,
		ref("DeleteOrderCommand"))
	addHandler(p, "Orders/GetOrder.cs", "GetOrderHandler", 10,
		ref("GetOrderQuery"), ref("Order"))
	p.AddType("Orders/IOrderService.cs", symbols.TypeSymbol{Name: "IOrderService", FullName: "Shop.Orders.IOrderService", Kind: "interface"},
		ref("IRequestHandler", ref("Ignored")))
	p.AddType("Orders/OrderService.cs", symbols.TypeSymbol{Name: "OrderService", FullName: "Shop.Orders.OrderService", Kind: "class"},
		ref("IOrderService"))
	return p
}

func newCache(t *testing.T) *cache.Cache {
	t.Helper()
	return cache.New(cache.Options{Path: filepath.Join(t.TempDir(), "cache.json")})
}

// ---------------------------------------------------------------------------
// Build
// ---------------------------------------------------------------------------

func TestIndex_BuildScansHandlers(t *testing.T) {
	p := newFixture()
	x := NewIndex(p, newCache(t), Options{})
	ctx := context.Background()

	res, err := x.Build(ctx)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "scan", res.Source)
	assert.Equal(t, 3, res.Mappings)
	assert.Empty(t, res.Conflicts)

	m, err := x.FindHandlerForRequest(ctx, "CreateOrderCommand")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, HandlerMapping{
		RequestType:     "CreateOrderCommand",
		RequestFullName: "Shop.Orders.CreateOrderCommand",
		HandlerType:     "CreateOrderHandler",
		HandlerFullName: "Shop.Orders.CreateOrderHandler",
		ResponseType:    "int",
		HandlerMethod:   "Handle",
		Location:        symbols.Location{File: "Orders/CreateOrder.cs", Line: 10, Column: 5},
		IsCommand:       false,
	}, *m)

	del, err := x.FindHandlerForRequest(ctx, "Shop.Orders.DeleteOrderCommand")
	require.NoError(t, err)
	require.NotNil(t, del)
	assert.True(t, del.IsCommand, "no response type")
	assert.Empty(t, del.ResponseType)

	missing, err := x.FindHandlerForRequest(ctx, "Ignored")
	require.NoError(t, err)
	assert.Nil(t, missing, "interfaces are not handlers")
}

func TestIndex_BuildIsIdempotent(t *testing.T) {
	p := newFixture()
	x := NewIndex(p, nil, Options{})
	ctx := context.Background()

	first, err := x.Mappings(ctx)
	require.NoError(t, err)
	declared := p.Calls("DeclaredTypes")

	res, err := x.Build(ctx)
	require.NoError(t, err)
	assert.Equal(t, "memory", res.Source)

	second, err := x.Mappings(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), x.Scans())
	assert.Equal(t, declared, p.Calls("DeclaredTypes"), "second build must not rescan")
}

func TestIndex_ConcurrentBuildsShareOneScan(t *testing.T) {
	p := newFixture()
	x := NewIndex(p, nil, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := x.Build(context.Background())
			assert.NoError(t, err)
			assert.True(t, res.Success)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), x.Scans())
}

func TestIndex_HydratesFromCache(t *testing.T) {
	p := newFixture()
	c := newCache(t)
	ctx := context.Background()

	_, err := NewIndex(p, c, Options{}).Build(ctx)
	require.NoError(t, err)
	assert.True(t, c.Exists(CacheKeyPrefix+"fp-1"))

	// A second process sharing the cache does not scan.
	x := NewIndex(p, c, Options{})
	res, err := x.Build(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cache", res.Source)
	assert.Equal(t, 3, res.Mappings)
	assert.Equal(t, int64(0), x.Scans())
}

func TestIndex_HydratesAfterRestart(t *testing.T) {
	p := newFixture()
	path := filepath.Join(t.TempDir(), "cache.json")
	ctx := context.Background()

	c1 := cache.New(cache.Options{Path: path})
	_, err := NewIndex(p, c1, Options{}).Build(ctx)
	require.NoError(t, err)
	c1.Flush(ctx)

	c2 := cache.New(cache.Options{Path: path})
	x := NewIndex(p, c2, Options{})
	stats := c2.Load(ctx)
	assert.Equal(t, 1, stats.Loaded)

	m, err := x.FindHandlerForRequest(ctx, "GetOrderQuery")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "GetOrderHandler", m.HandlerType)
	assert.Equal(t, "Order", m.ResponseType)
	assert.Equal(t, int64(0), x.Scans())
}

func TestIndex_RebuildsOnWorkspaceChange(t *testing.T) {
	p := newFixture()
	x := NewIndex(p, nil, Options{})
	ctx := context.Background()

	_, err := x.Build(ctx)
	require.NoError(t, err)
	assert.True(t, x.Built())

	p.SetFingerprint("fp-2")
	assert.False(t, x.Built())
	_, err = x.Build(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), x.Scans())
}

func TestIndex_Invalidate(t *testing.T) {
	p := newFixture()
	c := newCache(t)
	x := NewIndex(p, c, Options{})
	ctx := context.Background()

	_, err := x.Build(ctx)
	require.NoError(t, err)
	x.Invalidate()
	assert.False(t, x.Built())
	assert.False(t, c.Exists(CacheKeyPrefix+"fp-1"))

	_, ok := x.Lookup("CreateOrderCommand")
	assert.False(t, ok)

	res, err := x.Build(ctx)
	require.NoError(t, err)
	assert.Equal(t, "scan", res.Source)
	assert.Equal(t, int64(2), x.Scans())
}

func TestIndex_DuplicateRequestKeepsFirst(t *testing.T) {
	p := newFixture()
	addHandler(p, "Orders/ZCreateOrderAgain.cs", "CreateOrderAgainHandler", 30,
		ref("CreateOrderCommand"), ref("int"))
	x := NewIndex(p, nil, Options{})

	res, err := x.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Mappings)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, Conflict{
		RequestType: "CreateOrderCommand",
		Kept:        "Shop.Orders.CreateOrderHandler",
		Dropped:     "Shop.Orders.CreateOrderAgainHandler",
		Location:    symbols.Location{File: "Orders/ZCreateOrderAgain.cs", Line: 30, Column: 5},
	}, res.Conflicts[0])

	m, ok := x.Lookup("CreateOrderCommand")
	require.True(t, ok)
	assert.Equal(t, "CreateOrderHandler", m.HandlerType)
}

func TestIndex_ConflictsSurviveRestart(t *testing.T) {
	p := newFixture()
	addHandler(p, "Orders/ZCreateOrderAgain.cs", "CreateOrderAgainHandler", 30,
		ref("CreateOrderCommand"), ref("int"))
	path := filepath.Join(t.TempDir(), "cache.json")
	ctx := context.Background()

	c1 := cache.New(cache.Options{Path: path})
	scanned, err := NewIndex(p, c1, Options{}).Build(ctx)
	require.NoError(t, err)
	require.Len(t, scanned.Conflicts, 1)
	c1.Flush(ctx)

	c2 := cache.New(cache.Options{Path: path})
	x := NewIndex(p, c2, Options{})
	require.Equal(t, 1, c2.Load(ctx).Loaded)

	res, err := x.Build(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cache", res.Source)
	assert.Equal(t, scanned.Conflicts, res.Conflicts)
	assert.Equal(t, int64(0), x.Scans())

	again, err := x.Build(ctx)
	require.NoError(t, err)
	assert.Equal(t, "memory", again.Source)
	assert.Equal(t, scanned.Conflicts, again.Conflicts)
}

func TestIndex_SkipsHandlerWithoutTypeArguments(t *testing.T) {
	p := symbolstest.New()
	p.AddType("Odd.cs", symbols.TypeSymbol{Name: "OddHandler", FullName: "OddHandler", Kind: "class"}, ref("IRequestHandler"))
	x := NewIndex(p, nil, Options{})

	res, err := x.Build(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.Mappings)
}

func TestIndex_FirstInterfaceInstantiationWins(t *testing.T) {
	p := symbolstest.New()
	p.AddType("Multi.cs", symbols.TypeSymbol{Name: "MultiHandler", FullName: "MultiHandler", Kind: "class",
		Location: symbols.Location{Line: 3, Column: 14}},
		ref("IRequestHandler", ref("FirstRequest")), ref("IRequestHandler", ref("SecondRequest")))
	x := NewIndex(p, nil, Options{})
	ctx := context.Background()

	reqs, err := x.FindRequestsForHandler(ctx, "MultiHandler")
	require.NoError(t, err)
	assert.Equal(t, []string{"FirstRequest"}, reqs)

	m, err := x.FindHandlerForRequest(ctx, "FirstRequest")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, symbols.Location{File: "Multi.cs", Line: 3, Column: 14}, m.Location, "falls back to the type location")
}

func TestIndex_FindRequestsForHandler(t *testing.T) {
	x := NewIndex(newFixture(), nil, Options{})
	reqs, err := x.FindRequestsForHandler(context.Background(), "Shop.Orders.GetOrderHandler")
	require.NoError(t, err)
	assert.Equal(t, []string{"GetOrderQuery"}, reqs)

	none, err := x.FindRequestsForHandler(context.Background(), "Nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestIndex_CustomConventions(t *testing.T) {
	p := symbolstest.New()
	p.AddType("Ping.cs", symbols.TypeSymbol{Name: "PingHandler", FullName: "PingHandler", Kind: "class"},
		ref("ICommandHandler", ref("Ping")))
	x := NewIndex(p, nil, Options{HandlerInterfaces: []string{"ICommandHandler"}, HandlerMethod: "Execute"})

	m, err := x.FindHandlerForRequest(context.Background(), "Ping")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "Execute", m.HandlerMethod)
}

// ---------------------------------------------------------------------------
// Failures
// ---------------------------------------------------------------------------

type failingProvider struct {
	*symbolstest.Provider
}

func (failingProvider) Documents(context.Context) ([]string, error) {
	return nil, symbols.ErrNotLoaded
}

func TestIndex_ProviderFailureIsReported(t *testing.T) {
	x := NewIndex(failingProvider{symbolstest.New()}, nil, Options{})
	ctx := context.Background()

	res, err := x.Build(ctx)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "workspace not loaded")

	_, err = x.FindHandlerForRequest(ctx, "Anything")
	assert.Error(t, err)
}

func TestIndex_CanceledContext(t *testing.T) {
	x := NewIndex(newFixture(), nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := x.Build(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
