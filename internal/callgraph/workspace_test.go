package callgraph

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/dotnav/internal/config"
	"github.com/dusk-indust/dotnav/internal/mediator"
	"github.com/dusk-indust/dotnav/internal/workspace"
)

const fixtureRoot = "../../testdata/fixtures/cs_project"

func loadShop(t *testing.T) (*workspace.Workspace, *Engine, *Engine) {
	t.Helper()
	cfg := config.Default()
	ws := workspace.New(workspace.Options{
		Root:             fixtureRoot,
		Exclude:          cfg.Workspace.Exclude,
		RespectGitignore: true,
		KnownNamespaces:  cfg.Conventions.KnownNamespaces,
	})
	t.Cleanup(func() { _ = ws.Close() })
	_, err := ws.Load(context.Background())
	require.NoError(t, err)

	idx := mediator.NewIndex(ws, nil, mediator.Options{})
	opts := OptionsFromConfig(cfg)
	plain := New(ws, idx, opts)
	opts.FollowHandlers = true
	follow := New(ws, idx, opts)
	return ws, plain, follow
}

// queryAt positions a query on the first occurrence of needle.
func queryAt(t *testing.T, rel, needle string) Query {
	t.Helper()
	src, err := os.ReadFile(filepath.Join(fixtureRoot, rel))
	require.NoError(t, err)
	off := bytes.Index(src, []byte(needle))
	require.GreaterOrEqual(t, off, 0, "%q not found in %s", needle, rel)
	return Query{
		File:   rel,
		Line:   bytes.Count(src[:off], []byte{'\n'}) + 1,
		Column: off - (bytes.LastIndexByte(src[:off], '\n') + 1) + 1,
	}
}

func TestWorkspace_CallersThroughInterfaceAndMinimalAPI(t *testing.T) {
	_, e, _ := loadShop(t)

	res, err := e.FindCallers(context.Background(), queryAt(t, "Application/Orders/OrderService.cs", "_context.Orders.ToListAsync()"))
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Shop.Application.Orders.OrderService.ListAsync()", res.TargetMethod)
	require.Len(t, res.Callers, 2)

	list := res.Callers[0]
	assert.Equal(t, "List", list.Symbol.Name)
	assert.Equal(t, "Api/Controllers/OrdersController.cs", list.File)
	assert.Equal(t, &EndpointInfo{
		Route:          "/orders/list",
		HTTPMethod:     "GET",
		IsController:   true,
		ControllerName: "Orders",
		ActionName:     "List",
	}, list.Endpoint)

	minimal := res.Callers[1]
	assert.Equal(t, "Program.cs", minimal.File)
	require.NotNil(t, minimal.Endpoint)
	assert.True(t, minimal.Endpoint.IsMinimalAPI)
	assert.Equal(t, "/orders/summary", minimal.Endpoint.Route)
}

func TestWorkspace_CallersChain(t *testing.T) {
	_, e, _ := loadShop(t)

	res, err := e.FindCallers(context.Background(), queryAt(t, "Application/Orders/OrderService.cs", "Trace(id, 0);"))
	require.NoError(t, err)
	require.Len(t, res.Callers, 2)
	assert.Equal(t, "CreateAsync", res.Callers[0].Symbol.Name)
	assert.Equal(t, 1, res.Callers[0].Depth)
	assert.Equal(t, "Handle", res.Callers[1].Symbol.Name)
	assert.Equal(t, "CreateOrderHandler", res.Callers[1].Symbol.ContainingType)
	assert.Equal(t, 2, res.Callers[1].Depth)
}

func TestWorkspace_CalleesClassified(t *testing.T) {
	_, e, _ := loadShop(t)

	res, err := e.FindCallees(context.Background(), queryAt(t, "Application/Orders/OrderService.cs", "_context.SaveChangesAsync()"))
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	byName := make(map[string]CalleeRecord)
	for _, r := range res.Callees {
		if _, ok := byName[r.Symbol.Name]; !ok {
			byName[r.Symbol.Name] = r
		}
	}
	assert.Equal(t, KindMethod, byName["QuoteAsync"].Kind)
	assert.Equal(t, KindExternal, byName["GetAsync"].Kind)
	assert.Equal(t, 2, byName["GetAsync"].Depth)
	assert.Equal(t, "INSERT", byName["Add"].Operation)
	assert.Equal(t, "Orders", byName["Add"].Entity)
	assert.Equal(t, KindDatabase, byName["SaveChangesAsync"].Kind)
	assert.Equal(t, KindMethod, byName["Trace"].Kind)

	require.NotEmpty(t, res.ExternalCalls)
	assert.Equal(t, "HttpClient", res.ExternalCalls[0].Service)
	assert.Len(t, res.DatabaseOperations, 2)
}

func TestWorkspace_CalleesMediator(t *testing.T) {
	_, plain, follow := loadShop(t)
	q := queryAt(t, "Api/Controllers/OrdersController.cs", "new CreateOrderCommand")

	res, err := plain.FindCallees(context.Background(), q)
	require.NoError(t, err)
	require.NotEmpty(t, res.Callees)
	send := res.Callees[0]
	assert.Equal(t, KindMediator, send.Kind)
	assert.Equal(t, "CreateOrderCommand", send.RequestType)
	assert.Equal(t, "CreateOrderHandler", send.TargetHandler)

	followed, err := follow.FindCallees(context.Background(), q)
	require.NoError(t, err)
	require.Greater(t, len(followed.Callees), 1)
	next := followed.Callees[1]
	assert.Equal(t, "CreateAsync", next.Symbol.Name)
	assert.Equal(t, 2, next.Depth)
}
