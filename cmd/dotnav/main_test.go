package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/dotnav/internal/callgraph"
	"github.com/dusk-indust/dotnav/internal/mcptools"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// copyFixture copies the sample project into a temp dir so that commands
// writing .dotnav/ state leave testdata untouched.
func copyFixture(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "shop")
	require.NoError(t, os.CopyFS(dir, os.DirFS("../../testdata/fixtures/cs_project")))
	return dir
}

// execute runs the CLI with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

// positionArgsOf returns FILE LINE COLUMN for the first occurrence of needle.
func positionArgsOf(t *testing.T, root, rel, needle string) []string {
	t.Helper()
	src, err := os.ReadFile(filepath.Join(root, rel))
	require.NoError(t, err)
	off := bytes.Index(src, []byte(needle))
	require.GreaterOrEqual(t, off, 0)
	line := bytes.Count(src[:off], []byte{'\n'}) + 1
	col := off - (bytes.LastIndexByte(src[:off], '\n') + 1) + 1
	return []string{rel, strconv.Itoa(line), strconv.Itoa(col)}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestParsePosition(t *testing.T) {
	q, err := parsePosition([]string{"A.cs", "3", "7"})
	require.NoError(t, err)
	assert.Equal(t, callgraph.Query{File: "A.cs", Line: 3, Column: 7}, q)

	_, err = parsePosition([]string{"A.cs", "x", "7"})
	assert.ErrorContains(t, err, "invalid line")

	_, err = parsePosition([]string{"A.cs", "3", "0"})
	assert.ErrorContains(t, err, "invalid column")
}

func TestCallers_JSON(t *testing.T) {
	root := copyFixture(t)
	args := append([]string{"callers", "--root", root},
		positionArgsOf(t, root, "Application/Orders/OrderService.cs", "Trace(id, 0);")...)

	out, err := execute(t, args...)
	require.NoError(t, err)

	var res callgraph.CallersResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.TotalCount)
	assert.FileExists(t, filepath.Join(root, ".dotnav", "cache.json"))
}

func TestCallees_Mermaid(t *testing.T) {
	root := copyFixture(t)
	args := append([]string{"callees", "--root", root, "--format", "mermaid", "--follow-handlers"},
		positionArgsOf(t, root, "Api/Controllers/OrdersController.cs", "new CreateOrderCommand")...)

	out, err := execute(t, args...)
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, "CreateOrderCommand → CreateOrderHandler")
}

func TestCallers_BadFormat(t *testing.T) {
	_, err := execute(t, "callers", "--format", "dot", "A.cs", "1", "1")
	assert.ErrorContains(t, err, "unknown format")
}

func TestHandlers(t *testing.T) {
	root := copyFixture(t)

	out, err := execute(t, "handlers", "--root", root, "--request", "GetOrderQuery")
	require.NoError(t, err)
	var found mcptools.FindHandlerOutput
	require.NoError(t, json.Unmarshal([]byte(out), &found))
	require.True(t, found.Found)
	assert.Equal(t, "GetOrderHandler", found.Mapping.HandlerType)

	_, err = execute(t, "handlers", "--root", root, "--request", "A", "--handler", "B")
	assert.ErrorContains(t, err, "mutually exclusive")
}

func TestCacheStatsAndClear(t *testing.T) {
	root := copyFixture(t)

	_, err := execute(t, "handlers", "--root", root)
	require.NoError(t, err)

	out, err := execute(t, "cache", "stats", "--root", root)
	require.NoError(t, err)
	var stats mcptools.CacheStatsOutput
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 1, stats.Stats.PersistedEntries, "handler mappings survive the process")

	out, err = execute(t, "cache", "clear", "--root", root)
	require.NoError(t, err)
	var cleared mcptools.CacheClearOutput
	require.NoError(t, json.Unmarshal([]byte(out), &cleared))
	assert.Equal(t, 1, cleared.Cleared)

	out, err = execute(t, "cache", "stats", "--root", root)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Zero(t, stats.Stats.PersistedEntries)
}

func TestInit_MergesMCPConfig(t *testing.T) {
	root := t.TempDir()
	mcpPath := filepath.Join(root, ".mcp.json")
	require.NoError(t, os.WriteFile(mcpPath, []byte(`{"mcpServers":{"other":{"command":"other"}}}`), 0o644))

	out, err := execute(t, "init", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "updated .mcp.json")

	var cfg mcpConfig
	data, err := os.ReadFile(mcpPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &cfg))
	assert.Contains(t, cfg.MCPServers, "other")
	assert.JSONEq(t, `{"type":"stdio","command":"dotnav","args":["serve"]}`, string(cfg.MCPServers["dotnav"]))

	out, err = execute(t, "init", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "skipped")
}

func TestServe_UnknownTransport(t *testing.T) {
	_, err := execute(t, "serve", "--transport", "grpc")
	assert.ErrorContains(t, err, "unknown transport")
}

func TestInit_WritesConfigTemplate(t *testing.T) {
	root := t.TempDir()

	out, err := execute(t, "init", "--root", root, "--config")
	require.NoError(t, err)
	assert.Contains(t, out, "created ./dotnav.yml")
	assert.Contains(t, out, "created .mcp.json")
	assert.FileExists(t, filepath.Join(root, "dotnav.yml"))

	out, err = execute(t, "init", "--root", root, "--config")
	require.NoError(t, err)
	assert.Contains(t, out, "skipped ./dotnav.yml")
}
