package workspace

import (
	"context"
	"fmt"
	"sort"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dusk-indust/dotnav/internal/graph"
	"github.com/dusk-indust/dotnav/internal/symbols"
)

// Offset converts a 1-based line and column into a byte offset.
func (w *Workspace) Offset(_ context.Context, path string, line, column int) (int, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, err := w.current()
	if err != nil {
		return 0, err
	}
	doc, err := s.document(w.relPath(path))
	if err != nil {
		return 0, err
	}
	return doc.Offset(line, column)
}

// SymbolAtPosition returns the innermost method-like declaration containing
// offset. Positions in top-level statements or outside any method yield nil.
func (w *Workspace) SymbolAtPosition(_ context.Context, path string, offset int) (*symbols.Symbol, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, err := w.current()
	if err != nil {
		return nil, err
	}
	doc, err := s.document(w.relPath(path))
	if err != nil {
		return nil, err
	}
	if md := s.methodAt(doc, offset); md != nil {
		return md.sym, nil
	}
	return nil, nil
}

// FindReferences returns the reference sites of sym, including calls made
// through the interface and base-class members that sym implements. Results
// are ordered by file, line and column.
func (w *Workspace) FindReferences(ctx context.Context, sym *symbols.Symbol) ([]symbols.Reference, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, err := w.current()
	if err != nil {
		return nil, err
	}
	md, ok := s.methodByID[sym.ID]
	if !ok {
		return nil, nil
	}

	targets := []string{md.id}
	targets = append(targets, s.implementedMembers(md)...)

	seen := make(map[symbols.Location]bool)
	var out []symbols.Reference
	for _, id := range targets {
		edges, err := w.store.Incoming(ctx, id, graph.EdgeKindReferences)
		if err != nil {
			return nil, fmt.Errorf("incoming references of %s: %w", id, err)
		}
		for _, e := range edges {
			loc := symbols.Location{File: e.File, Line: e.Line, Column: e.Column}
			if seen[loc] {
				continue
			}
			seen[loc] = true
			ref := symbols.Reference{Location: loc}
			if doc, ok := s.docs[e.File]; ok {
				if off, err := doc.Offset(e.Line, e.Column); err == nil {
					ref.Location.Offset = off
					ref.EnclosingCalls = enclosingCalls(doc, off)
				}
			}
			out = append(out, ref)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Location, out[j].Location
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
	return out, nil
}

// implementedMembers returns the IDs of interface and base-type methods with
// the same name and arity as md.
func (s *snapshot) implementedMembers(md *methodDecl) []string {
	if md.owner == nil || md.kind != graph.SymbolKindMethod {
		return nil
	}
	var ids []string
	for _, t := range s.baseChain(md.owner)[1:] {
		for _, other := range t.methods {
			if other.name == md.name && len(other.params) == len(md.params) && other.kind == md.kind {
				ids = append(ids, other.id)
			}
		}
	}
	return ids
}

// enclosingCalls lists the invocations whose argument lists contain offset,
// innermost first.
func enclosingCalls(doc *Document, offset int) []symbols.CallContext {
	var out []symbols.CallContext
	n := doc.Root().NamedDescendantForByteRange(uint(offset), uint(offset))
	for ; n != nil; n = n.Parent() {
		if n.Kind() != "argument_list" {
			continue
		}
		inv := n.Parent()
		if inv == nil || inv.Kind() != "invocation_expression" {
			continue
		}
		cc := symbols.CallContext{Name: invokedName(inv, doc.Source)}
		for _, a := range childrenOfKind(n, "argument") {
			expr := argumentExpression(a)
			if expr != nil && isStringLiteral(expr) {
				cc.FirstStringArg = stringLiteralValue(expr, doc.Source)
				break
			}
		}
		out = append(out, cc)
	}
	return out
}

func isStringLiteral(n *tree_sitter.Node) bool {
	switch n.Kind() {
	case "string_literal", "verbatim_string_literal", "raw_string_literal", "interpolated_string_expression":
		return true
	}
	return false
}

// invokedName returns the method name of an invocation expression.
func invokedName(inv *tree_sitter.Node, src []byte) string {
	fn := inv.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	switch fn.Kind() {
	case "member_access_expression", "member_binding_expression":
		return identifierText(fn.ChildByFieldName("name"), src)
	}
	return identifierText(fn, src)
}

// EnclosingMethod returns the method-like declaration containing loc, or nil
// when loc is in top-level statements or outside any member body.
func (w *Workspace) EnclosingMethod(_ context.Context, loc symbols.Location) (*symbols.Symbol, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, err := w.current()
	if err != nil {
		return nil, err
	}
	doc, err := s.document(w.relPath(loc.File))
	if err != nil {
		return nil, err
	}
	off := loc.Offset
	if off == 0 {
		if off, err = doc.Offset(loc.Line, loc.Column); err != nil {
			return nil, err
		}
	}
	if md := s.methodAt(doc, off); md != nil {
		return md.sym, nil
	}
	return nil, nil
}

// Declaration returns the source span of sym. External symbols and symbols
// from an earlier load have none.
func (w *Workspace) Declaration(_ context.Context, sym *symbols.Symbol) (*symbols.Declaration, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, err := w.current()
	if err != nil {
		return nil, err
	}
	md, ok := s.methodByID[sym.ID]
	if !ok {
		return nil, nil
	}
	return &symbols.Declaration{
		Symbol: md.sym,
		Start:  position(md.doc.Path, md.node),
		End:    endPosition(md.doc.Path, md.node),
	}, nil
}

// InvocationsWithin lists the call sites in the body of decl in pre-order.
// Calls inside nested local functions belong to those functions.
func (w *Workspace) InvocationsWithin(ctx context.Context, decl *symbols.Declaration) ([]symbols.Invocation, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, err := w.current()
	if err != nil {
		return nil, err
	}
	md, ok := s.methodByID[decl.Symbol.ID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", decl.Symbol.ID, symbols.ErrNoDeclaration)
	}
	src := md.doc.Source
	var out []symbols.Invocation
	visit := func(n *tree_sitter.Node) bool {
		switch n.Kind() {
		case "local_function_statement":
			return false
		case "invocation_expression":
			b := s.bind(md, n, 0)
			if b.name == "" {
				b.name = invokedName(n, src)
			}
			out = append(out, symbols.Invocation{
				Target:        b.symbol,
				MethodName:    b.name,
				Location:      position(md.doc.Path, n),
				ReceiverChain: receiverChain(n, src),
				Arguments:     invocationArguments(n, src),
			})
		}
		return true
	}
	for _, body := range md.bodies() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		walk(body, visit)
	}
	return out, nil
}

// AttributesOf returns the attribute names on sym's declaration.
func (w *Workspace) AttributesOf(_ context.Context, sym *symbols.Symbol) ([]string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, err := w.current()
	if err != nil {
		return nil, err
	}
	md, ok := s.methodByID[sym.ID]
	if !ok || md.kind == graph.SymbolKindTopLevel {
		return nil, nil
	}
	return attributeNames(md.node, md.doc.Source), nil
}

// Documents lists document paths in sorted order.
func (w *Workspace) Documents(_ context.Context) ([]string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, err := w.current()
	if err != nil {
		return nil, err
	}
	return append([]string(nil), s.paths...), nil
}

// DeclaredTypes lists the types declared in one document in source order.
func (w *Workspace) DeclaredTypes(_ context.Context, path string) ([]symbols.TypeSymbol, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, err := w.current()
	if err != nil {
		return nil, err
	}
	path = w.relPath(path)
	if _, err := s.document(path); err != nil {
		return nil, err
	}
	var out []symbols.TypeSymbol
	for _, td := range s.files[path].types {
		out = append(out, td.typeSymbol())
	}
	return out, nil
}

// AllInterfaces returns the interfaces typ implements directly or through
// source base types, in declaration order. Interfaces not declared in source
// are recognized by the I-prefix convention.
func (w *Workspace) AllInterfaces(_ context.Context, typ symbols.TypeSymbol) ([]symbols.TypeRef, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, err := w.current()
	if err != nil {
		return nil, err
	}
	td := s.typeNamed(typ.Name, typ.FullName)
	if td == nil {
		return nil, nil
	}
	seen := make(map[string]bool)
	var out []symbols.TypeRef
	for _, t := range s.baseChain(td) {
		for _, b := range t.bases {
			bt := s.typeFor(b)
			iface := (bt != nil && bt.kind == graph.SymbolKindInterface) || (bt == nil && isInterfaceName(b.Name))
			if !iface || seen[b.String()] {
				continue
			}
			seen[b.String()] = true
			out = append(out, b)
		}
	}
	return out, nil
}

// FindMember returns the first method named name declared on typ, falling
// back to its source base types.
func (w *Workspace) FindMember(_ context.Context, typ symbols.TypeSymbol, name string) (*symbols.Symbol, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, err := w.current()
	if err != nil {
		return nil, err
	}
	td := s.typeNamed(typ.Name, typ.FullName)
	if td == nil {
		return nil, nil
	}
	for _, t := range s.baseChain(td) {
		for _, md := range t.methods {
			if md.name == name && md.kind == graph.SymbolKindMethod {
				return md.sym, nil
			}
		}
	}
	return nil, nil
}

// Fingerprint identifies the loaded content; empty before the first load.
func (w *Workspace) Fingerprint() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.snap == nil {
		return ""
	}
	return w.snap.fingerprint
}
