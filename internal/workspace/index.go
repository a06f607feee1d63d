package workspace

import (
	"context"
	"fmt"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dusk-indust/dotnav/internal/graph"
)

// index is the graph form of a snapshot, written to the Store on load.
type index struct {
	files       []graph.FileNode
	symbols     []graph.SymbolNode
	structure   []graph.Edge
	references  []graph.Edge
	parseErrors int
}

// buildIndex resolves every reference site in the snapshot. Only targets
// declared in source are indexed.
func buildIndex(s *snapshot) *index {
	idx := &index{}
	for _, path := range s.paths {
		doc := s.docs[path]
		fd := s.files[path]
		diags := collectDiagnostics(doc)
		idx.parseErrors += len(diags)
		idx.files = append(idx.files, graph.FileNode{
			Path:        path,
			Hash:        doc.Hash,
			LOC:         doc.LOC(),
			ParseErrors: len(diags),
		})

		for _, td := range fd.types {
			idx.symbols = append(idx.symbols, graph.SymbolNode{
				ID:        td.id,
				Name:      td.name,
				Kind:      td.kind,
				Namespace: td.namespace,
				FilePath:  path,
				StartLine: int(td.node.StartPosition().Row) + 1,
				EndLine:   int(td.node.EndPosition().Row) + 1,
				Column:    position(path, nameNode(td.node)).Column,
			})
			idx.structure = append(idx.structure, graph.Edge{SourceID: path, TargetID: td.id, Kind: graph.EdgeKindDefines})
		}
		methods := fd.methods
		if fd.topLevel != nil {
			methods = append([]*methodDecl{fd.topLevel}, methods...)
		}
		for _, md := range methods {
			idx.symbols = append(idx.symbols, md.graphNode())
			idx.structure = append(idx.structure, graph.Edge{SourceID: path, TargetID: md.id, Kind: graph.EdgeKindDefines})
			if md.owner != nil && md.outer == nil {
				idx.structure = append(idx.structure, graph.Edge{SourceID: md.owner.id, TargetID: md.id, Kind: graph.EdgeKindContains})
			}
			idx.references = append(idx.references, s.referencesFrom(md)...)
		}
	}
	for _, td := range s.types {
		for _, b := range td.bases {
			if bt := s.typeFor(b); bt != nil && bt != td {
				idx.structure = append(idx.structure, graph.Edge{SourceID: td.id, TargetID: bt.id, Kind: graph.EdgeKindInherits})
			}
		}
	}
	return idx
}

// referencesFrom lists reference sites in the body of m: invocations,
// object creations bound to a declared constructor, and method groups
// passed as arguments.
func (s *snapshot) referencesFrom(m *methodDecl) []graph.Edge {
	var out []graph.Edge
	src := m.doc.Source
	emit := func(target *methodDecl, at *tree_sitter.Node) {
		if target == nil || at == nil {
			return
		}
		loc := position(m.doc.Path, at)
		out = append(out, graph.Edge{
			SourceID: m.id,
			TargetID: target.id,
			Kind:     graph.EdgeKindReferences,
			File:     loc.File,
			Line:     loc.Line,
			Column:   loc.Column,
		})
	}
	visit := func(n *tree_sitter.Node) bool {
		switch n.Kind() {
		case "local_function_statement":
			// Indexed as its own declaration.
			return s.methodByNode[n.Id()] == nil || s.methodByNode[n.Id()] == m
		case "invocation_expression":
			b := s.bind(m, n, 0)
			emit(b.decl, b.nameAt)
		case "object_creation_expression":
			tn := n.ChildByFieldName("type")
			if td := s.typeFor(parseTypeRef(tn, src)); td != nil {
				emit(constructorFor(td, argumentCount(n.ChildByFieldName("arguments"))), tn)
			}
		case "argument":
			if expr := argumentExpression(n); expr != nil {
				if d, at := s.methodGroup(m, expr); d != nil {
					emit(d, at)
				}
			}
		}
		return true
	}
	for _, body := range m.bodies() {
		walk(body, visit)
	}
	return out
}

// bodies returns the syntax regions holding the statements of m.
func (m *methodDecl) bodies() []*tree_sitter.Node {
	switch {
	case m.kind == graph.SymbolKindTopLevel:
		return childrenOfKind(m.node, "global_statement")
	case m.node.Kind() == "arrow_expression_clause":
		return []*tree_sitter.Node{m.node}
	}
	var out []*tree_sitter.Node
	if b := bodyNode(m.node); b != nil {
		out = append(out, b)
	}
	// Constructor initializers: base(...) and this(...).
	if init := childOfKind(m.node, "constructor_initializer"); init != nil {
		out = append(out, init)
	}
	return out
}

// methodGroup resolves an argument that names a method without invoking it,
// as in app.MapGet("/orders", GetOrders).
func (s *snapshot) methodGroup(m *methodDecl, expr *tree_sitter.Node) (*methodDecl, *tree_sitter.Node) {
	src := m.doc.Source
	switch expr.Kind() {
	case "identifier":
		name := expr.Utf8Text(src)
		if _, ok := s.lookupLocal(m, name, 0); ok {
			return nil, nil
		}
		if m.owner != nil {
			if _, ok := s.memberType(m.owner, name); ok {
				return nil, nil
			}
		}
		if d := s.localFunction(m, name); d != nil {
			return d, expr
		}
		if m.owner != nil {
			return s.findMethod(m.owner, name, -1), expr
		}
		return s.uniqueMethod(name, -1), expr
	case "member_access_expression":
		recv := s.typeOf(m, expr.ChildByFieldName("expression"), 0)
		if !recv.known() {
			return nil, nil
		}
		td := s.typeFor(recv.ref)
		if td == nil {
			return nil, nil
		}
		nn := expr.ChildByFieldName("name")
		name := identifierText(nn, src)
		if _, ok := s.memberType(td, name); ok {
			return nil, nil
		}
		return s.findMethod(td, name, -1), nn
	}
	return nil, nil
}

func constructorFor(td *typeDecl, arity int) *methodDecl {
	var first *methodDecl
	for _, md := range td.methods {
		if md.kind != graph.SymbolKindConstructor {
			continue
		}
		if len(md.params) == arity {
			return md
		}
		if first == nil {
			first = md
		}
	}
	return first
}

// writeIndex replaces the store contents. Callers must hold w.mu.
func (w *Workspace) writeIndex(ctx context.Context, idx *index) error {
	if err := w.store.InitSchema(ctx); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	if err := w.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	for _, f := range idx.files {
		if err := w.store.AddFile(ctx, f); err != nil {
			return fmt.Errorf("add file %s: %w", f.Path, err)
		}
	}
	for _, sym := range idx.symbols {
		if err := w.store.AddSymbol(ctx, sym); err != nil {
			return fmt.Errorf("add symbol %s: %w", sym.ID, err)
		}
	}
	for _, edges := range [][]graph.Edge{idx.structure, idx.references} {
		for _, e := range edges {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := w.store.AddEdge(ctx, e); err != nil {
				return fmt.Errorf("add edge %s->%s: %w", e.SourceID, e.TargetID, err)
			}
		}
	}
	return nil
}
