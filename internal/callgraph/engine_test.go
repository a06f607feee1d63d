package callgraph

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/dotnav/internal/mediator"
	"github.com/dusk-indust/dotnav/internal/symbols"
	"github.com/dusk-indust/dotnav/internal/symbols/symbolstest"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

const ef = "Microsoft.EntityFrameworkCore"

// at returns a query positioned inside m's body.
func at(m *symbolstest.Method) Query {
	loc := m.Symbol.Location
	return Query{File: loc.File, Line: loc.Line + 1, Column: 9}
}

// chain declares n methods where each calls the next: M0 -> M1 -> ... -> Mn-1.
func chain(p *symbolstest.Provider, n int) []*symbolstest.Method {
	ms := make([]*symbolstest.Method, n)
	for i := range ms {
		ms[i] = p.AddMethod("Chain.cs", "Shop", "Chain", fmt.Sprintf("M%d", i), 1+i*10)
	}
	for i := 0; i < n-1; i++ {
		p.Call(ms[i], ms[i+1].Symbol, nil)
	}
	return ms
}

func callerNames(res *CallersResult) []string {
	out := make([]string, len(res.Callers))
	for i, r := range res.Callers {
		out[i] = r.CallingMethod
	}
	return out
}

func calleeNames(res *CalleesResult) []string {
	out := make([]string, len(res.Callees))
	for i, r := range res.Callees {
		out[i] = r.Symbol.Name
	}
	return out
}

func depths[T any](records []T, depth func(T) int) []int {
	out := make([]int, len(records))
	for i, r := range records {
		out[i] = depth(r)
	}
	return out
}

// ---------------------------------------------------------------------------
// Target resolution
// ---------------------------------------------------------------------------

func TestFindCallers_NoMethodAtPosition(t *testing.T) {
	p := symbolstest.New()
	p.AddMethod("A.cs", "Shop", "A", "Run", 10)
	e := New(p, nil, Options{})

	res, err := e.FindCallers(context.Background(), Query{File: "A.cs", Line: 1, Column: 1})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, NoMethodFound, res.TargetMethod)
	assert.Empty(t, res.Callers)
	assert.NotNil(t, res.Callers)

	callees, err := e.FindCallees(context.Background(), Query{File: "A.cs", Line: 50, Column: 1})
	require.NoError(t, err)
	assert.Equal(t, NoMethodFound, callees.TargetMethod)
}

func TestFindCallers_UnknownDocument(t *testing.T) {
	e := New(symbolstest.New(), nil, Options{})

	res, err := e.FindCallers(context.Background(), Query{File: "Missing.cs", Line: 1, Column: 1})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "document not found")

	callees, err := e.FindCallees(context.Background(), Query{File: "Missing.cs", Line: 1, Column: 1})
	require.NoError(t, err)
	assert.False(t, callees.Success)
}

func TestFindCallers_CanceledContext(t *testing.T) {
	p := symbolstest.New()
	ms := chain(p, 3)
	e := New(p, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.FindCallers(ctx, at(ms[2]))
	assert.True(t, errors.Is(err, context.Canceled))
	_, err = e.FindCallees(ctx, at(ms[0]))
	assert.True(t, errors.Is(err, context.Canceled))
}

// ---------------------------------------------------------------------------
// Callers
// ---------------------------------------------------------------------------

func TestFindCallers_WalksChainDepthFirst(t *testing.T) {
	p := symbolstest.New()
	ms := chain(p, 4)
	e := New(p, nil, Options{})

	res, err := e.FindCallers(context.Background(), at(ms[3]))
	require.NoError(t, err)
	assert.Equal(t, "Shop.Chain.M3()", res.TargetMethod)
	assert.Equal(t, []string{"Shop.Chain.M2()", "Shop.Chain.M1()", "Shop.Chain.M0()"}, callerNames(res))
	assert.Equal(t, []int{1, 2, 3}, depths(res.Callers, func(r CallerRecord) int { return r.Depth }))
	assert.Equal(t, "Chain.M2 → Chain.M3", res.Callers[0].CallChain)
	assert.Equal(t, "Chain.M0 → Chain.M1", res.Callers[2].CallChain)
	assert.Equal(t, 3, res.TotalCount)
	assert.False(t, res.MaxDepthReached)

	// Reference site, not the caller's declaration.
	first := res.Callers[0]
	assert.Equal(t, "Chain.cs", first.File)
	assert.Equal(t, 22, first.Line)
	assert.Equal(t, 9, first.Column)
}

func TestFindCallers_MaxDepth(t *testing.T) {
	p := symbolstest.New()
	ms := chain(p, 4)
	e := New(p, nil, Options{})

	q := at(ms[3])
	q.MaxDepth = 1
	res, err := e.FindCallers(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []string{"Shop.Chain.M2()"}, callerNames(res))
	assert.True(t, res.MaxDepthReached)
}

func TestFindCallers_CycleEmitsEachCallerOnce(t *testing.T) {
	p := symbolstest.New()
	a := p.AddMethod("Cycle.cs", "Shop", "Cycle", "A", 1)
	b := p.AddMethod("Cycle.cs", "Shop", "Cycle", "B", 11)
	c := p.AddMethod("Cycle.cs", "Shop", "Cycle", "C", 21)
	p.Call(a, b.Symbol, nil)
	p.Call(b, a.Symbol, nil)
	p.Call(b, b.Symbol, nil)
	p.Call(c, a.Symbol, nil)
	p.Call(c, a.Symbol, nil)
	e := New(p, nil, Options{})

	res, err := e.FindCallers(context.Background(), at(a))
	require.NoError(t, err)
	assert.Equal(t, []string{"Shop.Cycle.B()", "Shop.Cycle.A()", "Shop.Cycle.C()"}, callerNames(res))
	assert.Equal(t, []int{1, 2, 1}, depths(res.Callers, func(r CallerRecord) int { return r.Depth }))
	assert.Equal(t, "Cycle.A → Cycle.B", res.Callers[1].CallChain)

	seen := make(map[string]bool)
	for _, r := range res.Callers {
		assert.False(t, seen[r.Symbol.ID], "duplicate caller %s", r.CallingMethod)
		seen[r.Symbol.ID] = true
	}
}

func TestFindCallers_DirectRecursion(t *testing.T) {
	p := symbolstest.New()
	walk := p.AddMethod("Tree.cs", "Shop", "Tree", "Walk", 1)
	visit := p.AddMethod("Tree.cs", "Shop", "Tree", "Visit", 11)
	p.Call(walk, walk.Symbol, nil)
	p.Call(visit, walk.Symbol, nil)
	e := New(p, nil, Options{})

	res, err := e.FindCallers(context.Background(), at(walk))
	require.NoError(t, err)
	assert.Equal(t, []string{"Shop.Tree.Walk()", "Shop.Tree.Visit()"}, callerNames(res))
	assert.Equal(t, "Tree.Walk → Tree.Walk", res.Callers[0].CallChain)
	assert.Equal(t, []int{1, 1}, depths(res.Callers, func(r CallerRecord) int { return r.Depth }))
	assert.Equal(t, 2, res.TotalCount)
}

func TestFindCallers_Limit(t *testing.T) {
	p := symbolstest.New()
	target := p.AddMethod("Target.cs", "Shop", "Target", "Run", 1)
	for i := 0; i < 6; i++ {
		m := p.AddMethod(fmt.Sprintf("Caller%d.cs", i), "Shop", fmt.Sprintf("Caller%d", i), "Go", 1)
		p.Call(m, target.Symbol, nil)
	}
	e := New(p, nil, Options{})

	res, err := e.FindCallers(context.Background(), Query{File: "Target.cs", Line: 2, Column: 1, Limit: 4})
	require.NoError(t, err)
	assert.Len(t, res.Callers, 4)
	assert.Equal(t, 6, res.TotalCount)
	for _, r := range res.Callers {
		assert.True(t, r.Depth < 5 || res.MaxDepthReached)
	}
}

func TestFindCallers_ReferenceErrorIsDeadEnd(t *testing.T) {
	p := symbolstest.New()
	target := p.AddMethod("T.cs", "Shop", "T", "Run", 1)
	left := p.AddMethod("L.cs", "Shop", "L", "Left", 1)
	right := p.AddMethod("R.cs", "Shop", "R", "Right", 1)
	top := p.AddMethod("Top.cs", "Shop", "Top", "Main", 1)
	p.Call(left, target.Symbol, nil)
	p.Call(right, target.Symbol, nil)
	p.Call(top, right.Symbol, nil)
	p.Call(top, left.Symbol, nil)
	p.FailReferences(left.Symbol, errors.New("semantic model unavailable"))
	e := New(p, nil, Options{})

	res, err := e.FindCallers(context.Background(), at(target))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"Shop.L.Left()", "Shop.R.Right()", "Shop.Top.Main()"}, callerNames(res))
}

func TestFindCallers_ControllerEndpoint(t *testing.T) {
	p := symbolstest.New()
	svc := p.AddMethod("App/OrderService.cs", "Shop.App", "OrderService", "FindAsync", 10)
	get := p.AddMethod("Api/OrdersController.cs", "Shop.Api", "OrdersController", "Get", 10, "Controller")
	get.Attributes = []string{"HttpGet"}
	create := p.AddMethod("Api/OrdersController.cs", "Shop.Api", "OrdersController", "Create", 30, "ControllerBase")
	create.Attributes = []string{"HttpPost", "Authorize"}
	helper := p.AddMethod("Api/OrdersHelper.cs", "Shop.Api", "OrdersHelper", "Load", 10, "Controller")
	p.Call(get, svc.Symbol, []string{"_orders"})
	p.Call(create, svc.Symbol, []string{"_orders"})
	p.Call(helper, svc.Symbol, nil)
	e := New(p, nil, Options{})

	res, err := e.FindCallers(context.Background(), at(svc))
	require.NoError(t, err)
	require.Len(t, res.Callers, 3)

	assert.Equal(t, &EndpointInfo{
		Route:          "/orders/get",
		HTTPMethod:     "GET",
		IsController:   true,
		ControllerName: "Orders",
		ActionName:     "Get",
	}, res.Callers[0].Endpoint)
	assert.Equal(t, "POST", res.Callers[1].Endpoint.HTTPMethod)
	assert.Equal(t, "/orders/create", res.Callers[1].Endpoint.Route)
	assert.Nil(t, res.Callers[2].Endpoint, "type name lacks the controller suffix")
}

func TestHTTPVerb(t *testing.T) {
	known := map[string]string{"HttpGet": "GET", "HttpPost": "POST", "HttpPut": "PUT"}
	assert.Equal(t, "GET", httpVerb(nil, known))
	assert.Equal(t, "PUT", httpVerb([]string{"Authorize", "HttpPut"}, known))
	assert.Equal(t, "POST", httpVerb([]string{"HttpPost", "HttpPost"}, known))
	assert.Equal(t, "GET", httpVerb([]string{"HttpPost", "HttpPut"}, known), "ambiguous")
}

func TestFindCallers_MinimalAPI(t *testing.T) {
	p := symbolstest.New()
	list := p.AddMethod("App/OrderService.cs", "Shop.App", "OrderService", "ListAsync", 10)
	site := symbols.Location{File: "Program.cs", Line: 7, Column: 52}
	p.Reference(list, site,
		symbols.CallContext{Name: "Ok"},
		symbols.CallContext{Name: "MapGet", FirstStringArg: "/orders/summary"},
	)
	p.Reference(list, symbols.Location{File: "Program.cs", Line: 9, Column: 5}, symbols.CallContext{Name: "Register"})
	e := New(p, nil, Options{})

	res, err := e.FindCallers(context.Background(), at(list))
	require.NoError(t, err)
	require.Len(t, res.Callers, 1)
	r := res.Callers[0]
	assert.Equal(t, `MapGet("/orders/summary")`, r.CallingMethod)
	assert.Equal(t, 1, r.Depth)
	assert.Equal(t, site.Line, r.Line)
	assert.Equal(t, &EndpointInfo{Route: "/orders/summary", HTTPMethod: "GET", IsMinimalAPI: true}, r.Endpoint)
	assert.Nil(t, r.Symbol)
}

// ---------------------------------------------------------------------------
// Callees
// ---------------------------------------------------------------------------

func TestFindCallees_WalksChain(t *testing.T) {
	p := symbolstest.New()
	ms := chain(p, 4)
	e := New(p, nil, Options{})

	res, err := e.FindCallees(context.Background(), at(ms[0]))
	require.NoError(t, err)
	assert.Equal(t, []string{"M1", "M2", "M3"}, calleeNames(res))
	assert.Equal(t, []int{1, 2, 3}, depths(res.Callees, func(r CalleeRecord) int { return r.Depth }))
	assert.Equal(t, "Shop.Chain.M1()", res.Callees[1].Caller)
	assert.False(t, res.MaxDepthReached)
}

func TestFindCallees_MaxDepthOne(t *testing.T) {
	p := symbolstest.New()
	ms := chain(p, 4)
	e := New(p, nil, Options{})

	q := at(ms[0])
	q.MaxDepth = 1
	res, err := e.FindCallees(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []string{"M1"}, calleeNames(res))
	assert.True(t, res.MaxDepthReached)
	assert.Equal(t, 1, p.Calls("InvocationsWithin"), "only the root body is read")
}

func TestFindCallees_DepthFirstWithVisitedTargets(t *testing.T) {
	p := symbolstest.New()
	a := p.AddMethod("D.cs", "Shop", "D", "A", 1)
	b := p.AddMethod("D.cs", "Shop", "D", "B", 11)
	c := p.AddMethod("D.cs", "Shop", "D", "C", 21)
	d := p.AddMethod("D.cs", "Shop", "D", "D", 31)
	p.Call(a, b.Symbol, nil)
	p.Call(a, c.Symbol, nil)
	p.Call(b, d.Symbol, nil)
	p.Call(c, d.Symbol, nil)
	p.Call(c, a.Symbol, nil)
	p.CallUnresolved(c, "dynamicThing")
	e := New(p, nil, Options{})

	res, err := e.FindCallees(context.Background(), at(a))
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "D", "C"}, calleeNames(res))
	assert.Equal(t, []int{1, 2, 1}, depths(res.Callees, func(r CalleeRecord) int { return r.Depth }))
}

func TestFindCallees_Limit(t *testing.T) {
	p := symbolstest.New()
	root := p.AddMethod("Root.cs", "Shop", "Root", "Run", 1)
	for i := 0; i < 5; i++ {
		p.Call(root, symbolstest.External("System", "Console", fmt.Sprintf("Write%d", i)), nil)
	}
	e := New(p, nil, Options{})

	q := at(root)
	q.Limit = 2
	res, err := e.FindCallees(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, res.Callees, 2)
	assert.Equal(t, 5, res.TotalCount)
}

func TestFindCallees_InvocationErrorIsDeadEnd(t *testing.T) {
	p := symbolstest.New()
	ms := chain(p, 3)
	extra := p.AddMethod("Chain.cs", "Shop", "Chain", "Extra", 100)
	p.Call(ms[0], extra.Symbol, nil)
	p.FailInvocations(ms[1].Symbol, errors.New("syntax tree unavailable"))
	e := New(p, nil, Options{})

	res, err := e.FindCallees(context.Background(), at(ms[0]))
	require.NoError(t, err)
	assert.Equal(t, []string{"M1", "Extra"}, calleeNames(res))
}

func TestFindCallees_Database(t *testing.T) {
	p := symbolstest.New()
	list := p.AddMethod("App/OrderService.cs", "Shop.App", "OrderService", "ListAsync", 10)
	create := p.AddMethod("App/OrderService.cs", "Shop.App", "OrderService", "CreateAsync", 30)
	p.Call(list, symbolstest.External(ef, "DbSet", "ToListAsync"), []string{"Orders", "context"})
	p.Call(create, symbolstest.External(ef, "DbSet", "Add"), []string{"Orders", "_context"})
	p.Call(create, symbolstest.External(ef, "DbContext", "SaveChangesAsync"), []string{"_context"})
	p.Call(create, list.Symbol, nil)
	e := New(p, nil, Options{})

	res, err := e.FindCallees(context.Background(), at(create))
	require.NoError(t, err)
	require.Equal(t, []string{"Add", "SaveChangesAsync", "ListAsync", "ToListAsync"}, calleeNames(res))

	toList := res.Callees[3]
	assert.Equal(t, KindDatabase, toList.Kind)
	assert.Equal(t, "SELECT", toList.Operation)
	assert.Equal(t, "Orders", toList.Entity)
	assert.Equal(t, KindMethod, res.Callees[2].Kind)

	assert.Equal(t, []DatabaseOperationRecord{
		{Operation: "INSERT", Entity: "Orders", IsWrite: true, Location: res.Callees[0].Location, Method: "Shop.App.OrderService.CreateAsync()"},
		{Operation: "QUERY", IsWrite: false, Location: res.Callees[1].Location, Method: "Shop.App.OrderService.CreateAsync()"},
		{Operation: "SELECT", Entity: "Orders", IsWrite: false, Location: toList.Location, Method: "Shop.App.OrderService.ListAsync()"},
	}, res.DatabaseOperations)
	assert.Empty(t, res.ExternalCalls)
}

func TestFindCallees_ExternalGroupedByService(t *testing.T) {
	p := symbolstest.New()
	quote := p.AddMethod("Infra/PricingClient.cs", "Shop.Infra", "PricingClient", "QuoteAsync", 10)
	sync := p.AddMethod("Infra/PricingClient.cs", "Shop.Infra", "PricingClient", "SyncAsync", 30)
	get := symbolstest.External("System.Net.Http", "HttpClient", "GetAsync")
	post := symbolstest.External("System.Net.Http", "HttpClient", "PostAsync")
	p.Call(quote, get, []string{"_http"})
	p.Call(quote, sync.Symbol, nil)
	p.Call(sync, post, []string{"_http"})
	p.Call(sync, get, []string{"_http"})
	e := New(p, nil, Options{})

	res, err := e.FindCallees(context.Background(), at(quote))
	require.NoError(t, err)
	assert.Equal(t, []string{"GetAsync", "SyncAsync", "PostAsync"}, calleeNames(res), "GetAsync is visited once")
	require.Len(t, res.ExternalCalls, 1)
	g := res.ExternalCalls[0]
	assert.Equal(t, "HttpClient", g.Service)
	assert.Equal(t, "External", g.CallType)
	assert.Equal(t, []string{"GetAsync", "PostAsync"}, g.Operations)
	assert.Len(t, g.Locations, 2)
}

// mediatorFixture declares a controller dispatching two requests, one of
// them handled in source.
func mediatorFixture(p *symbolstest.Provider) (create, handle *symbolstest.Method) {
	send := symbolstest.External("MediatR", "ISender", "Send")
	create = p.AddMethod("Api/OrdersController.cs", "Shop.Api", "OrdersController", "Create", 10, "ControllerBase")
	p.Call(create, send, []string{"_sender"}, symbols.Argument{Text: "new CreateOrderCommand(1)", CreatedType: "CreateOrderCommand"})
	p.Call(create, send, []string{"_sender"}, symbols.Argument{Text: "new AuditCommand()", CreatedType: "AuditCommand"})
	p.Call(create, send, []string{"_sender"}, symbols.Argument{Text: "new CreateOrderCommand(2)", CreatedType: "CreateOrderCommand"})

	handle = p.AddMethod("App/CreateOrder.cs", "Shop.App", "CreateOrderHandler", "Handle", 10)
	p.AddType("App/CreateOrder.cs", symbols.TypeSymbol{Name: "CreateOrderHandler", FullName: "Shop.App.CreateOrderHandler", Kind: "class"},
		symbols.TypeRef{Name: "IRequestHandler", Args: []symbols.TypeRef{{Name: "CreateOrderCommand"}, {Name: "int"}}})
	p.AddMember("Shop.App.CreateOrderHandler", "Handle", handle.Symbol)
	p.Call(handle, symbolstest.External(ef, "DbContext", "SaveChangesAsync"), []string{"_context"})
	return create, handle
}

func TestFindCallees_MediatorDispatch(t *testing.T) {
	p := symbolstest.New()
	create, _ := mediatorFixture(p)
	idx := mediator.NewIndex(p, nil, mediator.Options{})
	e := New(p, idx, Options{})

	res, err := e.FindCallees(context.Background(), at(create))
	require.NoError(t, err)
	assert.True(t, idx.Built(), "callee search builds the mapping index")

	require.Equal(t, []string{"Send", "Send", "Send"}, calleeNames(res), "dispatches are never deduplicated")
	for _, r := range res.Callees {
		assert.Equal(t, KindMediator, r.Kind)
	}
	assert.Equal(t, "CreateOrderHandler", res.Callees[0].TargetHandler)
	assert.Equal(t, "AuditCommand", res.Callees[1].TargetHandler)
	assert.Equal(t, "CreateOrderCommand", res.Callees[2].RequestType)

	require.Len(t, res.ExternalCalls, 1)
	g := res.ExternalCalls[0]
	assert.Equal(t, MediatorService, g.Service)
	assert.Equal(t, []string{"CreateOrderCommand", "AuditCommand"}, g.Operations)
	assert.Len(t, g.Locations, 3)
}

func TestFindCallees_FollowHandlers(t *testing.T) {
	p := symbolstest.New()
	create, _ := mediatorFixture(p)
	idx := mediator.NewIndex(p, nil, mediator.Options{})
	e := New(p, idx, Options{FollowHandlers: true})

	res, err := e.FindCallees(context.Background(), at(create))
	require.NoError(t, err)
	assert.Equal(t, []string{"Send", "SaveChangesAsync", "Send", "Send"}, calleeNames(res))
	assert.Equal(t, []int{1, 2, 1, 1}, depths(res.Callees, func(r CalleeRecord) int { return r.Depth }))
	assert.Equal(t, "Shop.App.CreateOrderHandler.Handle()", res.Callees[1].Caller)
	require.Len(t, res.DatabaseOperations, 1)
}

func TestFindCallees_FollowHandlersPerQuery(t *testing.T) {
	p := symbolstest.New()
	create, _ := mediatorFixture(p)
	idx := mediator.NewIndex(p, nil, mediator.Options{})
	e := New(p, idx, Options{})

	plain, err := e.FindCallees(context.Background(), at(create))
	require.NoError(t, err)
	assert.Equal(t, []string{"Send", "Send", "Send"}, calleeNames(plain))

	q := at(create)
	q.FollowHandlers = true
	followed, err := e.FindCallees(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []string{"Send", "SaveChangesAsync", "Send", "Send"}, calleeNames(followed))
	assert.Equal(t, "Shop.App.CreateOrderHandler.Handle()", followed.Callees[1].Caller)
}

func TestFindCallees_RecordBounds(t *testing.T) {
	p := symbolstest.New()
	ms := chain(p, 8)
	e := New(p, nil, Options{})

	for _, q := range []Query{
		{MaxDepth: 1, Limit: 10},
		{MaxDepth: 3, Limit: 2},
		{MaxDepth: 10, Limit: 100},
	} {
		base := at(ms[0])
		q.File, q.Line, q.Column = base.File, base.Line, base.Column
		res, err := e.FindCallees(context.Background(), q)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(res.Callees), q.Limit)
		for _, r := range res.Callees {
			assert.True(t, r.Depth < q.MaxDepth || res.MaxDepthReached, "depth %d with max %d", r.Depth, q.MaxDepth)
		}
	}
}
