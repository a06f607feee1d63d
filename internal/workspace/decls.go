package workspace

import (
	"fmt"
	"strings"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dusk-indust/dotnav/internal/graph"
	"github.com/dusk-indust/dotnav/internal/symbols"
)

// typeDecl is a class, interface, record, or struct declared in source.
type typeDecl struct {
	id        string
	name      string
	kind      graph.SymbolKind
	namespace string
	doc       *Document
	node      *tree_sitter.Node
	bases     []symbols.TypeRef
	methods   []*methodDecl
	// members maps field, property, and primary constructor parameter names
	// to their declared types.
	members map[string]symbols.TypeRef
}

func (t *typeDecl) fullName() string {
	if t.namespace == "" {
		return t.name
	}
	return t.namespace + "." + t.name
}

func (t *typeDecl) typeSymbol() symbols.TypeSymbol {
	return symbols.TypeSymbol{
		Name:      t.name,
		FullName:  t.fullName(),
		Kind:      string(t.kind),
		Namespace: t.namespace,
		Bases:     t.bases,
		Location:  position(t.doc.Path, nameNode(t.node)),
	}
}

type param struct {
	name string
	typ  symbols.TypeRef
}

// methodDecl is a method-like declaration: method, constructor, local
// function, property accessor, or the top-level statements of a file.
type methodDecl struct {
	id        string
	name      string
	kind      graph.SymbolKind
	owner     *typeDecl
	doc       *Document
	node      *tree_sitter.Node
	params    []param
	returns   symbols.TypeRef
	extension bool
	sym       *symbols.Symbol
	// outer is the enclosing method of a local function.
	outer *methodDecl

	localsOnce sync.Once
	locals     map[string]local
}

// symbolKind maps declaration kinds onto the provider's symbol kinds.
func symbolKind(k graph.SymbolKind) symbols.Kind {
	switch k {
	case graph.SymbolKindConstructor:
		return symbols.KindConstructor
	case graph.SymbolKindLocalFunction:
		return symbols.KindLocalFunction
	case graph.SymbolKindAccessor:
		return symbols.KindAccessor
	default:
		return symbols.KindMethod
	}
}

func (m *methodDecl) buildSymbol() {
	s := &symbols.Symbol{
		ID:       m.id,
		Name:     m.name,
		Kind:     symbolKind(m.kind),
		Location: position(m.doc.Path, m.anchor()),
	}
	if m.owner != nil {
		s.ContainingType = m.owner.name
		s.ContainingNamespace = m.owner.namespace
		for _, b := range m.owner.bases {
			s.ContainingTypeBases = append(s.ContainingTypeBases, b.Name)
		}
	}
	for _, p := range m.params {
		s.Parameters = append(s.Parameters, p.typ.String())
	}
	m.sym = s
}

// anchor is the node whose position identifies the declaration.
func (m *methodDecl) anchor() *tree_sitter.Node {
	if m.kind == graph.SymbolKindTopLevel {
		return m.node
	}
	if n := nameNode(m.node); n != nil {
		return n
	}
	return m.node
}

func (m *methodDecl) graphNode() graph.SymbolNode {
	n := graph.SymbolNode{
		ID:        m.id,
		Name:      m.name,
		Kind:      m.kind,
		FilePath:  m.doc.Path,
		StartLine: int(m.node.StartPosition().Row) + 1,
		EndLine:   int(m.node.EndPosition().Row) + 1,
		Column:    m.sym.Location.Column,
	}
	if m.owner != nil {
		n.ContainingType = m.owner.name
		n.Namespace = m.owner.namespace
	}
	return n
}

// declID identifies a declaration by file and start byte.
func declID(doc *Document, n *tree_sitter.Node) string {
	return fmt.Sprintf("%s#%d", doc.Path, n.StartByte())
}

// fileDecls holds what one document declares.
type fileDecls struct {
	usings   []string
	types    []*typeDecl
	methods  []*methodDecl
	topLevel *methodDecl
}

var typeDeclKinds = map[string]graph.SymbolKind{
	"class_declaration":     graph.SymbolKindClass,
	"interface_declaration": graph.SymbolKindInterface,
	"record_declaration":    graph.SymbolKindRecord,
	"struct_declaration":    graph.SymbolKindStruct,
}

// collectDecls extracts the declarations of one document.
func collectDecls(doc *Document) *fileDecls {
	fd := &fileDecls{}
	c := &declCollector{doc: doc, fd: fd}
	root := doc.Root()
	ns := ""
	for i := uint(0); i < root.ChildCount(); i++ {
		child := root.Child(i)
		if child == nil {
			continue
		}
		if child.Kind() == "file_scoped_namespace_declaration" {
			// Declarations after a file-scoped namespace belong to it,
			// whether the grammar nests them or leaves them as siblings.
			ns = namespaceName(child, doc.Source)
			for j := uint(0); j < child.ChildCount(); j++ {
				c.visit(child.Child(j), ns, nil, nil)
			}
			continue
		}
		c.visit(child, ns, nil, nil)
	}
	if c.hasGlobalStatements {
		fd.topLevel = &methodDecl{
			id:   doc.Path + "#<top-level>",
			name: "<top-level>",
			kind: graph.SymbolKindTopLevel,
			doc:  doc,
			node: doc.Root(),
		}
		fd.topLevel.buildSymbol()
	}
	return fd
}

type declCollector struct {
	doc                 *Document
	fd                  *fileDecls
	hasGlobalStatements bool
}

// visit walks declarations, tracking the current namespace, enclosing type,
// and enclosing method.
func (c *declCollector) visit(n *tree_sitter.Node, ns string, owner *typeDecl, method *methodDecl) {
	if n == nil {
		return
	}
	src := c.doc.Source
	kind := n.Kind()

	switch kind {
	case "using_directive":
		if name := childOfKind(n, "qualified_name", "identifier"); name != nil && childOfKind(n, "=") == nil {
			c.fd.usings = append(c.fd.usings, name.Utf8Text(src))
		}
		return

	case "namespace_declaration":
		inner := joinNamespace(ns, namespaceName(n, src))
		for i := uint(0); i < n.ChildCount(); i++ {
			c.visit(n.Child(i), inner, owner, method)
		}
		return

	case "global_statement":
		c.hasGlobalStatements = true
		c.visitBody(n, ns, nil, nil)
		return

	case "field_declaration":
		if owner != nil {
			if vd := childOfKind(n, "variable_declaration"); vd != nil {
				t := parseTypeRef(typeNodeOf(vd), src)
				for _, d := range childrenOfKind(vd, "variable_declarator") {
					if nn := nameNode(d); nn != nil {
						owner.members[nn.Utf8Text(src)] = t
					}
				}
			}
		}
		return

	case "property_declaration":
		if owner == nil {
			return
		}
		pname := nameNode(n)
		if pname == nil {
			return
		}
		owner.members[pname.Utf8Text(src)] = parseTypeRef(typeNodeOf(n), src)
		c.visitAccessors(n, pname.Utf8Text(src), owner)
		return
	}

	if tk, ok := typeDeclKinds[kind]; ok {
		td := c.typeDecl(n, tk, ns)
		if td == nil {
			return
		}
		c.fd.types = append(c.fd.types, td)
		if body := typeBodyNode(n); body != nil {
			for i := uint(0); i < body.ChildCount(); i++ {
				c.visit(body.Child(i), ns, td, nil)
			}
		}
		return
	}

	switch kind {
	case "method_declaration", "constructor_declaration", "local_function_statement":
		md := c.methodDecl(n, owner, method)
		if md == nil {
			return
		}
		if body := bodyNode(n); body != nil {
			c.visitBody(body, ns, owner, md)
		}
		return
	}

	for i := uint(0); i < n.ChildCount(); i++ {
		c.visit(n.Child(i), ns, owner, method)
	}
}

// visitBody finds local functions inside a method body.
func (c *declCollector) visitBody(body *tree_sitter.Node, ns string, owner *typeDecl, method *methodDecl) {
	walk(body, func(n *tree_sitter.Node) bool {
		if n.Kind() == "local_function_statement" {
			c.visit(n, ns, owner, method)
			return false
		}
		return true
	})
}

func (c *declCollector) visitAccessors(prop *tree_sitter.Node, propName string, owner *typeDecl) {
	list := prop.ChildByFieldName("accessors")
	if list == nil {
		list = childOfKind(prop, "accessor_list")
	}
	for _, acc := range childrenOfKind(list, "accessor_declaration") {
		body := bodyNode(acc)
		if body == nil {
			continue
		}
		keyword := "get"
		if kw := acc.ChildByFieldName("name"); kw != nil {
			keyword = kw.Utf8Text(c.doc.Source)
		} else {
			for _, k := range []string{"get", "set", "init"} {
				if childOfKind(acc, k) != nil {
					keyword = k
					break
				}
			}
		}
		md := &methodDecl{
			id:    declID(c.doc, acc),
			name:  keyword + "_" + propName,
			kind:  graph.SymbolKindAccessor,
			owner: owner,
			doc:   c.doc,
			node:  acc,
		}
		if keyword != "get" {
			md.params = []param{{name: "value", typ: owner.members[propName]}}
		} else {
			md.returns = owner.members[propName]
		}
		md.buildSymbol()
		owner.methods = append(owner.methods, md)
		c.fd.methods = append(c.fd.methods, md)
		c.visitBody(body, "", owner, md)
	}
	// Expression-bodied property: int Total => ...;
	if arrow := childOfKind(prop, "arrow_expression_clause"); arrow != nil {
		md := &methodDecl{
			id:      declID(c.doc, arrow),
			name:    "get_" + propName,
			kind:    graph.SymbolKindAccessor,
			owner:   owner,
			doc:     c.doc,
			node:    arrow,
			returns: owner.members[propName],
		}
		md.buildSymbol()
		md.sym.Location = position(c.doc.Path, nameNode(prop))
		owner.methods = append(owner.methods, md)
		c.fd.methods = append(c.fd.methods, md)
	}
}

func (c *declCollector) typeDecl(n *tree_sitter.Node, kind graph.SymbolKind, ns string) *typeDecl {
	src := c.doc.Source
	nn := nameNode(n)
	if nn == nil {
		return nil
	}
	td := &typeDecl{
		id:        declID(c.doc, n),
		name:      nn.Utf8Text(src),
		kind:      kind,
		namespace: ns,
		doc:       c.doc,
		node:      n,
		members:   make(map[string]symbols.TypeRef),
	}
	if bl := childOfKind(n, "base_list"); bl != nil {
		for i := uint(0); i < bl.NamedChildCount(); i++ {
			b := bl.NamedChild(i)
			if b == nil || b.Kind() == "argument_list" {
				continue
			}
			if ref := parseTypeRef(b, src); ref.Name != "" {
				td.bases = append(td.bases, ref)
			}
		}
	}
	// Primary constructor parameters are in scope for every member.
	if pl := childOfKind(n, "parameter_list"); pl != nil {
		for _, p := range parseParams(pl, src) {
			td.members[p.name] = p.typ
		}
	}
	return td
}

func (c *declCollector) methodDecl(n *tree_sitter.Node, owner *typeDecl, enclosing *methodDecl) *methodDecl {
	src := c.doc.Source
	nn := nameNode(n)
	if nn == nil {
		return nil
	}
	md := &methodDecl{
		id:    declID(c.doc, n),
		name:  nn.Utf8Text(src),
		owner: owner,
		doc:   c.doc,
		node:  n,
		outer: enclosing,
	}
	switch n.Kind() {
	case "constructor_declaration":
		md.kind = graph.SymbolKindConstructor
	case "local_function_statement":
		md.kind = graph.SymbolKindLocalFunction
	default:
		md.kind = graph.SymbolKindMethod
	}
	if rt := n.ChildByFieldName("returns"); rt != nil {
		md.returns = parseTypeRef(rt, src)
	} else if rt := n.ChildByFieldName("type"); rt != nil {
		md.returns = parseTypeRef(rt, src)
	}
	if pl := n.ChildByFieldName("parameters"); pl != nil {
		md.params = parseParams(pl, src)
		if first := pl.NamedChild(0); first != nil && first.Kind() == "parameter" {
			md.extension = strings.HasPrefix(first.Utf8Text(src), "this ")
		}
	} else if pl := childOfKind(n, "parameter_list"); pl != nil {
		md.params = parseParams(pl, src)
	}
	md.buildSymbol()
	if owner != nil && enclosing == nil {
		owner.methods = append(owner.methods, md)
	}
	c.fd.methods = append(c.fd.methods, md)
	return md
}

// parseParams reads a parameter_list. Parameters without a declared type
// get an empty TypeRef.
func parseParams(pl *tree_sitter.Node, src []byte) []param {
	var out []param
	for _, p := range childrenOfKind(pl, "parameter") {
		nn := p.ChildByFieldName("name")
		if nn == nil {
			continue
		}
		var t symbols.TypeRef
		if tn := p.ChildByFieldName("type"); tn != nil && tn.Id() != nn.Id() {
			t = parseTypeRef(tn, src)
		}
		out = append(out, param{name: nn.Utf8Text(src), typ: t})
	}
	return out
}

func namespaceName(n *tree_sitter.Node, src []byte) string {
	if nn := n.ChildByFieldName("name"); nn != nil {
		return nn.Utf8Text(src)
	}
	if nn := childOfKind(n, "qualified_name", "identifier"); nn != nil {
		return nn.Utf8Text(src)
	}
	return ""
}

func joinNamespace(outer, inner string) string {
	if outer == "" {
		return inner
	}
	if inner == "" {
		return outer
	}
	return outer + "." + inner
}
