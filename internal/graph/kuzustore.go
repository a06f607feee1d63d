//go:build cgo

package graph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	kuzu "github.com/kuzudb/go-kuzu"
)

// KuzuStore implements the Store interface using KuzuDB as the graph backend.
// It requires CGO because the go-kuzu driver wraps KuzuDB's C library.
type KuzuStore struct {
	db   *kuzu.Database
	conn *kuzu.Connection
}

// Compile-time check that KuzuStore satisfies Store.
var _ Store = (*KuzuStore)(nil)

// NewKuzuStore creates a KuzuStore backed by an in-memory KuzuDB instance.
func NewKuzuStore() (*KuzuStore, error) {
	return openKuzu(":memory:")
}

// NewKuzuFileStore creates a KuzuStore backed by a file-based KuzuDB at the
// given path. The persisted index lets CLI queries run without reparsing
// the workspace.
func NewKuzuFileStore(dbPath string) (*KuzuStore, error) {
	// KuzuDB creates the leaf itself.
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("kuzu: create parent directory: %w", err)
	}
	return openKuzu(dbPath)
}

func openKuzu(dbPath string) (*KuzuStore, error) {
	cfg := kuzu.DefaultSystemConfig()
	db, err := kuzu.OpenDatabase(dbPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("kuzu: open database %s: %w", dbPath, err)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kuzu: open connection: %w", err)
	}
	return &KuzuStore{db: db, conn: conn}, nil
}

// Close releases the KuzuDB connection and database.
func (s *KuzuStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// ---------- Schema setup ----------

// ddlStatements defines the Cypher DDL executed by InitSchema.
// Node tables must precede relationship tables.
var ddlStatements = []string{
	`CREATE NODE TABLE IF NOT EXISTS File(
		path STRING,
		hash STRING,
		loc INT64,
		parse_errors INT64,
		PRIMARY KEY(path)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS Symbol(
		id STRING,
		name STRING,
		kind STRING,
		containing_type STRING,
		namespace STRING,
		file_path STRING,
		start_line INT64,
		end_line INT64,
		col INT64,
		PRIMARY KEY(id)
	)`,
	`CREATE REL TABLE IF NOT EXISTS DEFINES(FROM File TO Symbol)`,
	`CREATE REL TABLE IF NOT EXISTS HAS_MEMBER(FROM Symbol TO Symbol)`,
	`CREATE REL TABLE IF NOT EXISTS INHERITS_FROM(FROM Symbol TO Symbol)`,
	`CREATE REL TABLE IF NOT EXISTS REFERS_TO(FROM Symbol TO Symbol, file STRING, line INT64, col INT64)`,
}

// InitSchema creates all node and relationship tables if they do not exist.
func (s *KuzuStore) InitSchema(_ context.Context) error {
	for _, stmt := range ddlStatements {
		res, err := s.conn.Query(stmt)
		if err != nil {
			return fmt.Errorf("kuzu: init schema: %w", err)
		}
		res.Close()
	}
	return nil
}

// Reset deletes every node together with its relationships.
func (s *KuzuStore) Reset(_ context.Context) error {
	for _, stmt := range []string{
		"MATCH (s:Symbol) DETACH DELETE s",
		"MATCH (f:File) DETACH DELETE f",
	} {
		if err := s.exec(stmt, nil); err != nil {
			return err
		}
	}
	return nil
}

// ---------- Write operations ----------

// AddFile inserts a File node.
func (s *KuzuStore) AddFile(_ context.Context, node FileNode) error {
	return s.exec(
		"CREATE (f:File {path: $path, hash: $hash, loc: $loc, parse_errors: $errs})",
		map[string]any{
			"path": node.Path,
			"hash": node.Hash,
			"loc":  int64(node.LOC),
			"errs": int64(node.ParseErrors),
		},
	)
}

// AddSymbol inserts a Symbol node.
func (s *KuzuStore) AddSymbol(_ context.Context, node SymbolNode) error {
	return s.exec(
		`CREATE (s:Symbol {
			id: $id,
			name: $name,
			kind: $kind,
			containing_type: $ct,
			namespace: $ns,
			file_path: $fp,
			start_line: $sl,
			end_line: $el,
			col: $col
		})`,
		map[string]any{
			"id":   node.ID,
			"name": node.Name,
			"kind": string(node.Kind),
			"ct":   node.ContainingType,
			"ns":   node.Namespace,
			"fp":   node.FilePath,
			"sl":   int64(node.StartLine),
			"el":   int64(node.EndLine),
			"col":  int64(node.Column),
		},
	)
}

// AddEdge inserts a relationship edge between two nodes.
// The Cypher statement is chosen based on the EdgeKind.
func (s *KuzuStore) AddEdge(_ context.Context, edge Edge) error {
	cypher, err := edgeCypher(edge.Kind)
	if err != nil {
		return err
	}
	params := map[string]any{
		"src": edge.SourceID,
		"dst": edge.TargetID,
	}
	if edge.Kind == EdgeKindReferences {
		params["file"] = edge.File
		params["line"] = int64(edge.Line)
		params["col"] = int64(edge.Column)
	}
	return s.exec(cypher, params)
}

// edgeCypher returns the MATCH-CREATE Cypher for the given edge kind.
func edgeCypher(kind EdgeKind) (string, error) {
	switch kind {
	case EdgeKindDefines:
		return `MATCH (a:File {path: $src}), (b:Symbol {id: $dst})
				CREATE (a)-[:DEFINES]->(b)`, nil
	case EdgeKindContains:
		return `MATCH (a:Symbol {id: $src}), (b:Symbol {id: $dst})
				CREATE (a)-[:HAS_MEMBER]->(b)`, nil
	case EdgeKindInherits:
		return `MATCH (a:Symbol {id: $src}), (b:Symbol {id: $dst})
				CREATE (a)-[:INHERITS_FROM]->(b)`, nil
	case EdgeKindReferences:
		return `MATCH (a:Symbol {id: $src}), (b:Symbol {id: $dst})
				CREATE (a)-[:REFERS_TO {file: $file, line: $line, col: $col}]->(b)`, nil
	default:
		return "", fmt.Errorf("kuzu: unsupported edge kind: %s", kind)
	}
}

// ---------- Read operations ----------

const symbolColumns = "s.id, s.name, s.kind, s.containing_type, s.namespace, s.file_path, s.start_line, s.end_line, s.col"

// GetFile retrieves a single File node by path, or returns nil if not found.
func (s *KuzuStore) GetFile(_ context.Context, path string) (*FileNode, error) {
	rows, err := s.query(
		"MATCH (f:File {path: $path}) RETURN f.path, f.hash, f.loc, f.parse_errors",
		map[string]any{"path": path},
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rowToFile(rows[0]), nil
}

// ListFiles returns all File nodes ordered by path.
func (s *KuzuStore) ListFiles(_ context.Context) ([]FileNode, error) {
	rows, err := s.query(
		"MATCH (f:File) RETURN f.path, f.hash, f.loc, f.parse_errors ORDER BY f.path",
		nil,
	)
	if err != nil {
		return nil, err
	}
	out := make([]FileNode, 0, len(rows))
	for _, r := range rows {
		out = append(out, *rowToFile(r))
	}
	return out, nil
}

// GetSymbol retrieves a single Symbol node by ID, or nil if not found.
func (s *KuzuStore) GetSymbol(_ context.Context, id string) (*SymbolNode, error) {
	rows, err := s.query(
		"MATCH (s:Symbol {id: $id}) RETURN "+symbolColumns,
		map[string]any{"id": id},
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rowToSymbol(rows[0]), nil
}

// QuerySymbols returns symbols whose name contains the query string.
func (s *KuzuStore) QuerySymbols(_ context.Context, queryStr string, kind SymbolKind, limit int) ([]SymbolNode, error) {
	cypher := `MATCH (s:Symbol)
		 WHERE lower(s.name) CONTAINS lower($q) AND ($kind = '' OR s.kind = $kind)
		 RETURN ` + symbolColumns + `
		 ORDER BY s.name, s.id`
	params := map[string]any{
		"q":    queryStr,
		"kind": string(kind),
	}
	if limit > 0 {
		cypher += " LIMIT $lim"
		params["lim"] = int64(limit)
	}
	rows, err := s.query(cypher, params)
	if err != nil {
		return nil, err
	}
	out := make([]SymbolNode, 0, len(rows))
	for _, r := range rows {
		out = append(out, *rowToSymbol(r))
	}
	return out, nil
}

// ---------- Edge lookups ----------

// relTables maps each EdgeKind to its relationship table and source node.
var relTables = []struct {
	kind   EdgeKind
	table  string
	from   string
	srcKey string
}{
	{EdgeKindDefines, "DEFINES", "(a:File)", "a.path"},
	{EdgeKindContains, "HAS_MEMBER", "(a:Symbol)", "a.id"},
	{EdgeKindInherits, "INHERITS_FROM", "(a:Symbol)", "a.id"},
	{EdgeKindReferences, "REFERS_TO", "(a:Symbol)", "a.id"},
}

type edgeFilter int

const (
	filterNone edgeFilter = iota
	filterSource
	filterTarget
)

// Incoming returns edges of the given kind that end at targetID.
func (s *KuzuStore) Incoming(_ context.Context, targetID string, kind EdgeKind) ([]Edge, error) {
	return s.edges(kind, filterTarget, targetID)
}

// Outgoing returns edges of the given kind that start at sourceID.
func (s *KuzuStore) Outgoing(_ context.Context, sourceID string, kind EdgeKind) ([]Edge, error) {
	return s.edges(kind, filterSource, sourceID)
}

// GetAllEdges returns all edges across all relationship tables.
func (s *KuzuStore) GetAllEdges(_ context.Context) ([]Edge, error) {
	return s.edges("", filterNone, "")
}

// edges queries one or all relationship tables.
func (s *KuzuStore) edges(kind EdgeKind, filter edgeFilter, id string) ([]Edge, error) {
	var out []Edge
	for _, rt := range relTables {
		if kind != "" && rt.kind != kind {
			continue
		}
		props := "'', 0, 0"
		order := ""
		if rt.kind == EdgeKindReferences {
			props = "r.file, r.line, r.col"
			order = " ORDER BY r.file, r.line, r.col"
		}
		cypher := fmt.Sprintf("MATCH %s-[r:%s]->(b:Symbol)", rt.from, rt.table)
		var params map[string]any
		switch filter {
		case filterSource:
			cypher += " WHERE " + rt.srcKey + " = $id"
			params = map[string]any{"id": id}
		case filterTarget:
			cypher += " WHERE b.id = $id"
			params = map[string]any{"id": id}
		}
		cypher += fmt.Sprintf(" RETURN %s, b.id, %s%s", rt.srcKey, props, order)
		rows, err := s.query(cypher, params)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			out = append(out, Edge{
				SourceID: toString(r[0]),
				TargetID: toString(r[1]),
				Kind:     rt.kind,
				File:     toString(r[2]),
				Line:     toInt(r[3]),
				Column:   toInt(r[4]),
			})
		}
	}
	return out, nil
}

// ---------- Stats ----------

// Stats returns counts of all node and edge tables.
func (s *KuzuStore) Stats(_ context.Context) (*GraphStats, error) {
	files, err := s.count("MATCH (n:File) RETURN count(n)")
	if err != nil {
		return nil, err
	}
	symbols, err := s.count("MATCH (n:Symbol) RETURN count(n)")
	if err != nil {
		return nil, err
	}
	stats := &GraphStats{FileCount: files, SymbolCount: symbols}
	for _, rt := range relTables {
		n, err := s.count(fmt.Sprintf("MATCH ()-[r:%s]->() RETURN count(r)", rt.table))
		if err != nil {
			return nil, err
		}
		stats.EdgeCount += n
		if rt.kind == EdgeKindReferences {
			stats.ReferenceCount = n
		}
	}
	return stats, nil
}

// ---------- Internal helpers ----------

// exec runs a parameterized Cypher statement that produces no result rows.
func (s *KuzuStore) exec(cypher string, params map[string]any) error {
	if len(params) == 0 {
		res, err := s.conn.Query(cypher)
		if err != nil {
			return fmt.Errorf("kuzu: execute: %w", err)
		}
		res.Close()
		return nil
	}
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return fmt.Errorf("kuzu: prepare: %w", err)
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return fmt.Errorf("kuzu: execute: %w", err)
	}
	res.Close()
	return nil
}

// query runs a parameterized Cypher statement and collects all result rows.
// Each row is a []any slice with values in column order.
func (s *KuzuStore) query(cypher string, params map[string]any) ([][]any, error) {
	var res *kuzu.QueryResult
	var err error

	if len(params) == 0 {
		res, err = s.conn.Query(cypher)
	} else {
		var stmt *kuzu.PreparedStatement
		stmt, err = s.conn.Prepare(cypher)
		if err != nil {
			return nil, fmt.Errorf("kuzu: prepare: %w", err)
		}
		defer stmt.Close()
		res, err = s.conn.Execute(stmt, params)
	}
	if err != nil {
		return nil, fmt.Errorf("kuzu: query: %w", err)
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, fmt.Errorf("kuzu: next: %w", err)
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, fmt.Errorf("kuzu: row values: %w", err)
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

// count runs a single-value count query. The Cypher is an internal constant.
func (s *KuzuStore) count(cypher string) (int, error) {
	rows, err := s.query(cypher, nil)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	return toInt(rows[0][0]), nil
}

// rowToFile converts a 4-column result row into a FileNode.
func rowToFile(r []any) *FileNode {
	return &FileNode{
		Path:        toString(r[0]),
		Hash:        toString(r[1]),
		LOC:         toInt(r[2]),
		ParseErrors: toInt(r[3]),
	}
}

// rowToSymbol converts a result row in symbolColumns order into a SymbolNode.
func rowToSymbol(r []any) *SymbolNode {
	return &SymbolNode{
		ID:             toString(r[0]),
		Name:           toString(r[1]),
		Kind:           SymbolKind(toString(r[2])),
		ContainingType: toString(r[3]),
		Namespace:      toString(r[4]),
		FilePath:       toString(r[5]),
		StartLine:      toInt(r[6]),
		EndLine:        toInt(r[7]),
		Column:         toInt(r[8]),
	}
}

// ---------- Type coercion helpers ----------
// KuzuDB returns typed Go values (int64, string, ...).

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case int32:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
