package workspace

import (
	"fmt"
	"strings"
	"unicode"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dusk-indust/dotnav/internal/graph"
	"github.com/dusk-indust/dotnav/internal/symbols"
)

// Invocation binding is heuristic: receiver types are inferred from declared
// types of locals, parameters, fields and properties, walking base types
// declared in source. Calls that cannot bind to a source method become
// external symbols.

const maxInferDepth = 4

// typeInfo is the inferred static type of an expression. static marks a
// type name used as a receiver, as in Console.WriteLine.
type typeInfo struct {
	ref    symbols.TypeRef
	static bool
}

func (t typeInfo) known() bool {
	return t.ref.Name != "" && t.ref.Name != "var"
}

// local is a variable in scope of a method body. Variables declared with var
// keep their initializer so the type can be inferred on demand.
type local struct {
	typ       symbols.TypeRef
	init      *tree_sitter.Node
	foreachOf *tree_sitter.Node
}

func (l local) declared() bool {
	return l.typ.Name != "" && l.typ.Name != "var"
}

// localsOf collects parameters and locals of m once per snapshot.
func (m *methodDecl) localsOf() map[string]local {
	m.localsOnce.Do(func() {
		m.locals = make(map[string]local)
		for _, p := range m.params {
			m.locals[p.name] = local{typ: p.typ}
		}
		src := m.doc.Source
		add := func(name string, l local) {
			if _, ok := m.locals[name]; !ok && name != "" {
				m.locals[name] = l
			}
		}
		scan := func(n *tree_sitter.Node) bool {
			switch n.Kind() {
			case "variable_declaration":
				t := parseTypeRef(typeNodeOf(n), src)
				for _, d := range childrenOfKind(n, "variable_declarator") {
					if nn := nameNode(d); nn != nil {
						add(nn.Utf8Text(src), local{typ: t, init: declaratorInit(d)})
					}
				}
			case "foreach_statement":
				left := n.ChildByFieldName("left")
				if left != nil && left.Kind() == "identifier" {
					add(left.Utf8Text(src), local{
						typ:       parseTypeRef(n.ChildByFieldName("type"), src),
						foreachOf: n.ChildByFieldName("right"),
					})
				}
			case "parameter":
				if nn := n.ChildByFieldName("name"); nn != nil {
					var t symbols.TypeRef
					if tn := n.ChildByFieldName("type"); tn != nil {
						t = parseTypeRef(tn, src)
					}
					add(nn.Utf8Text(src), local{typ: t})
				}
			case "declaration_pattern", "catch_declaration":
				id := childOfKind(n, "identifier", "single_variable_designation")
				if id != nil && id.Kind() == "single_variable_designation" {
					id = childOfKind(id, "identifier")
				}
				if id != nil {
					add(id.Utf8Text(src), local{typ: parseTypeRef(n.ChildByFieldName("type"), src)})
				}
			}
			return true
		}
		if m.kind == graph.SymbolKindTopLevel {
			for _, g := range childrenOfKind(m.node, "global_statement") {
				walk(g, scan)
			}
			return
		}
		walk(bodyNode(m.node), scan)
		if m.kind == graph.SymbolKindAccessor && m.node.Kind() == "arrow_expression_clause" {
			walk(m.node, scan)
		}
	})
	return m.locals
}

// declaratorInit returns the initializer expression of a variable declarator.
func declaratorInit(d *tree_sitter.Node) *tree_sitter.Node {
	if ev := childOfKind(d, "equals_value_clause"); ev != nil {
		return ev.NamedChild(0)
	}
	name := nameNode(d)
	for i := d.NamedChildCount(); i > 0; i-- {
		c := d.NamedChild(i - 1)
		if c == nil || (name != nil && c.Id() == name.Id()) || c.Kind() == "bracketed_argument_list" {
			continue
		}
		return c
	}
	return nil
}

// binding is the result of resolving one invocation.
type binding struct {
	name   string
	decl   *methodDecl
	symbol *symbols.Symbol
	nameAt *tree_sitter.Node
}

// bind resolves the target of an invocation_expression inside m.
func (s *snapshot) bind(m *methodDecl, inv *tree_sitter.Node, depth int) binding {
	fn := inv.ChildByFieldName("function")
	if fn == nil {
		fn = inv.NamedChild(0)
	}
	if fn == nil {
		return binding{}
	}
	arity := argumentCount(inv.ChildByFieldName("arguments"))
	src := m.doc.Source

	switch fn.Kind() {
	case "identifier", "generic_name":
		b := binding{name: identifierText(fn, src), nameAt: fn}
		b.decl = s.bindUnqualified(m, b.name, arity)
		if b.decl == nil {
			var recv symbols.TypeRef
			if m.owner != nil {
				recv = s.firstExternalBase(m.owner)
			}
			b.symbol = s.external(recv, b.name, arity)
		}
		return b.finish()

	case "member_access_expression":
		nn := fn.ChildByFieldName("name")
		b := binding{name: identifierText(nn, src), nameAt: nn}
		recv := s.typeOf(m, fn.ChildByFieldName("expression"), depth)
		s.bindMember(&b, recv, arity)
		return b.finish()

	case "member_binding_expression":
		nn := fn.ChildByFieldName("name")
		if nn == nil {
			nn = childOfKind(fn, "identifier", "generic_name")
		}
		b := binding{name: identifierText(nn, src), nameAt: nn}
		var recv typeInfo
		if ca := conditionalReceiver(inv); ca != nil {
			recv = s.typeOf(m, ca, depth)
		}
		s.bindMember(&b, recv, arity)
		return b.finish()
	}
	return binding{}
}

func (b binding) finish() binding {
	if b.decl != nil {
		b.symbol = b.decl.sym
	}
	return b
}

// bindMember resolves name on the inferred receiver type.
func (s *snapshot) bindMember(b *binding, recv typeInfo, arity int) {
	if b.name == "" {
		return
	}
	if !recv.known() {
		if d := s.uniqueMethod(b.name, arity); d != nil {
			b.decl = d
			return
		}
		if d := s.findExtension(b.name, symbols.TypeRef{}, arity); d != nil {
			b.decl = d
			return
		}
		b.symbol = s.external(symbols.TypeRef{}, b.name, arity)
		return
	}
	if td := s.typeFor(recv.ref); td != nil {
		if d := s.findMethod(td, b.name, arity); d != nil {
			b.decl = d
			return
		}
		if d := s.findExtension(b.name, recv.ref, arity); d != nil {
			b.decl = d
			return
		}
		ext := s.firstExternalBase(td)
		if ext.Name == "" {
			ext = symbols.TypeRef{Name: td.name, FullName: td.fullName()}
		}
		b.symbol = s.external(ext, b.name, arity)
		return
	}
	if d := s.findExtension(b.name, recv.ref, arity); d != nil {
		b.decl = d
		return
	}
	b.symbol = s.external(recv.ref, b.name, arity)
}

// bindUnqualified resolves a call without a receiver: local functions in
// scope, then members of the enclosing type, then a unique workspace match.
func (s *snapshot) bindUnqualified(m *methodDecl, name string, arity int) *methodDecl {
	if d := s.localFunction(m, name); d != nil {
		return d
	}
	if m.owner != nil {
		if d := s.findMethod(m.owner, name, arity); d != nil {
			return d
		}
		return nil
	}
	return s.uniqueMethod(name, arity)
}

func (s *snapshot) localFunction(m *methodDecl, name string) *methodDecl {
	for _, d := range s.methodsByName[name] {
		if d.kind != graph.SymbolKindLocalFunction || d.doc != m.doc {
			continue
		}
		if d == m {
			return d
		}
		for cur := m; cur != nil; cur = cur.outer {
			if d.outer == cur {
				return d
			}
		}
		if d.outer == nil && d.owner == nil && m.owner == nil {
			return d
		}
	}
	return nil
}

// typeOf infers the static type of an expression inside m.
func (s *snapshot) typeOf(m *methodDecl, n *tree_sitter.Node, depth int) typeInfo {
	if n == nil || depth > maxInferDepth {
		return typeInfo{}
	}
	src := m.doc.Source
	switch n.Kind() {
	case "identifier":
		name := n.Utf8Text(src)
		if t, ok := s.lookupLocal(m, name, depth); ok {
			return t
		}
		if m.owner != nil {
			if t, ok := s.memberType(m.owner, name); ok {
				return typeInfo{ref: t}
			}
		}
		if td := s.typeNamed(name, ""); td != nil {
			return typeInfo{ref: symbols.TypeRef{Name: td.name, FullName: td.fullName()}, static: true}
		}
		if looksLikeType(name) {
			return typeInfo{ref: symbols.TypeRef{Name: name, FullName: name}, static: true}
		}

	case "this_expression", "this":
		if m.owner != nil {
			return typeInfo{ref: symbols.TypeRef{Name: m.owner.name, FullName: m.owner.fullName()}}
		}

	case "base_expression", "base":
		if m.owner != nil && len(m.owner.bases) > 0 {
			return typeInfo{ref: m.owner.bases[0]}
		}

	case "member_access_expression":
		recv := s.typeOf(m, n.ChildByFieldName("expression"), depth)
		if !recv.known() {
			return typeInfo{}
		}
		name := identifierText(n.ChildByFieldName("name"), src)
		if td := s.typeFor(recv.ref); td != nil {
			if t, ok := s.memberType(td, name); ok {
				return typeInfo{ref: t}
			}
			// Nested or namespace-qualified type names.
			if nested := s.typeNamed(name, ""); nested != nil && recv.static {
				return typeInfo{ref: symbols.TypeRef{Name: nested.name, FullName: nested.fullName()}, static: true}
			}
		}

	case "invocation_expression":
		if b := s.bind(m, n, depth+1); b.decl != nil {
			return typeInfo{ref: b.decl.returns}
		}

	case "await_expression":
		t := s.typeOf(m, n.NamedChild(0), depth)
		return typeInfo{ref: unwrapTask(t.ref)}

	case "object_creation_expression":
		return typeInfo{ref: parseTypeRef(n.ChildByFieldName("type"), src)}

	case "cast_expression":
		return typeInfo{ref: parseTypeRef(n.ChildByFieldName("type"), src)}

	case "as_expression":
		return typeInfo{ref: parseTypeRef(n.ChildByFieldName("right"), src)}

	case "parenthesized_expression", "postfix_unary_expression":
		return s.typeOf(m, n.NamedChild(0), depth)

	case "element_access_expression":
		t := s.typeOf(m, n.ChildByFieldName("expression"), depth)
		if k := len(t.ref.Args); k > 0 {
			return typeInfo{ref: t.ref.Args[k-1]}
		}

	case "predefined_type", "generic_name", "qualified_name":
		return typeInfo{ref: parseTypeRef(n, src), static: true}
	}
	return typeInfo{}
}

// lookupLocal finds name among the locals of m and its enclosing methods.
// A local that shadows a member but whose type is unknown still reports ok.
func (s *snapshot) lookupLocal(m *methodDecl, name string, depth int) (typeInfo, bool) {
	for cur := m; cur != nil; cur = cur.outer {
		l, ok := cur.localsOf()[name]
		if !ok {
			continue
		}
		switch {
		case l.declared():
			return typeInfo{ref: l.typ}, true
		case l.init != nil:
			t := s.typeOf(cur, l.init, depth+1)
			t.static = false
			return t, true
		case l.foreachOf != nil:
			t := s.typeOf(cur, l.foreachOf, depth+1)
			if len(t.ref.Args) > 0 {
				return typeInfo{ref: t.ref.Args[0]}, true
			}
		}
		return typeInfo{}, true
	}
	return typeInfo{}, false
}

// memberType looks up a field or property type on td and its source bases.
func (s *snapshot) memberType(td *typeDecl, name string) (symbols.TypeRef, bool) {
	for _, t := range s.baseChain(td) {
		if ref, ok := t.members[name]; ok {
			return ref, true
		}
	}
	return symbols.TypeRef{}, false
}

// typeFor finds the source declaration of a type reference.
func (s *snapshot) typeFor(ref symbols.TypeRef) *typeDecl {
	return s.typeNamed(simpleName(ref.Name), ref.FullName)
}

// typeNamed returns the declaration of a type by simple name, preferring a
// full-name match when fullName is qualified.
func (s *snapshot) typeNamed(name, fullName string) *typeDecl {
	cands := s.typesByName[name]
	if len(cands) == 0 {
		return nil
	}
	if strings.Contains(fullName, ".") {
		for _, td := range cands {
			if td.fullName() == fullName {
				return td
			}
		}
	}
	return cands[0]
}

// baseChain returns td followed by its source base types, breadth first.
func (s *snapshot) baseChain(td *typeDecl) []*typeDecl {
	chain := []*typeDecl{td}
	seen := map[*typeDecl]bool{td: true}
	for i := 0; i < len(chain); i++ {
		for _, b := range chain[i].bases {
			bt := s.typeFor(b)
			if bt == nil || seen[bt] {
				continue
			}
			seen[bt] = true
			chain = append(chain, bt)
		}
	}
	return chain
}

// firstExternalBase returns the first base type along td's chain that is not
// declared in source.
func (s *snapshot) firstExternalBase(td *typeDecl) symbols.TypeRef {
	for _, t := range s.baseChain(td) {
		for _, b := range t.bases {
			if s.typeFor(b) == nil && !isInterfaceName(b.Name) {
				return b
			}
		}
	}
	return symbols.TypeRef{}
}

// findMethod looks up a method on td and its source bases, nearest type
// first, preferring an exact arity match.
func (s *snapshot) findMethod(td *typeDecl, name string, arity int) *methodDecl {
	chain := s.baseChain(td)
	var fallback *methodDecl
	for _, t := range chain {
		for _, md := range t.methods {
			if md.name != name || md.kind == graph.SymbolKindConstructor || md.kind == graph.SymbolKindAccessor {
				continue
			}
			if len(md.params) == arity {
				return md
			}
			if fallback == nil {
				fallback = md
			}
		}
	}
	return fallback
}

// uniqueMethod returns the only source method named name, or the only one
// with matching arity.
func (s *snapshot) uniqueMethod(name string, arity int) *methodDecl {
	var named, exact []*methodDecl
	for _, md := range s.methodsByName[name] {
		if md.kind != graph.SymbolKindMethod || md.extension {
			continue
		}
		named = append(named, md)
		if len(md.params) == arity {
			exact = append(exact, md)
		}
	}
	switch {
	case len(named) == 1:
		return named[0]
	case len(exact) == 1:
		return exact[0]
	}
	return nil
}

// findExtension returns a source extension method named name whose receiver
// parameter matches recv. An unknown receiver matches a unique candidate.
func (s *snapshot) findExtension(name string, recv symbols.TypeRef, arity int) *methodDecl {
	var cands []*methodDecl
	for _, md := range s.extensions[name] {
		if len(md.params) != arity+1 {
			continue
		}
		if recv.Name == "" {
			cands = append(cands, md)
			continue
		}
		if simpleName(md.params[0].typ.Name) == simpleName(recv.Name) {
			return md
		}
	}
	if len(cands) == 1 {
		return cands[0]
	}
	return nil
}

// external returns the symbol for a method without a source declaration.
// Symbols are interned per snapshot so that identity comparisons hold.
func (s *snapshot) external(recv symbols.TypeRef, name string, arity int) *symbols.Symbol {
	typ := simpleName(recv.Name)
	ns := s.known[typ]
	if ns == "" && recv.FullName != "" {
		if i := strings.LastIndexByte(recv.FullName, '.'); i > 0 {
			ns = recv.FullName[:i]
		}
	}
	id := fmt.Sprintf("ext:%s/%d", strings.Trim(ns+"."+typ+"."+name, "."), arity)
	id = strings.ReplaceAll(id, "..", ".")

	s.extMu.Lock()
	defer s.extMu.Unlock()
	if sym, ok := s.externals[id]; ok {
		return sym
	}
	sym := &symbols.Symbol{
		ID:                  id,
		Name:                name,
		Kind:                symbols.KindExternal,
		ContainingType:      typ,
		ContainingNamespace: ns,
	}
	s.externals[id] = sym
	return sym
}

// receiverChain lists member-access segments left of the invoked name,
// nearest first. Invoked names are skipped except generic accessors such as
// Set<Order>, which are kept with their type arguments.
func receiverChain(inv *tree_sitter.Node, src []byte) []string {
	fn := inv.ChildByFieldName("function")
	var cur *tree_sitter.Node
	switch {
	case fn == nil:
		return nil
	case fn.Kind() == "member_access_expression":
		cur = fn.ChildByFieldName("expression")
	case fn.Kind() == "member_binding_expression":
		cur = conditionalReceiver(inv)
	default:
		return nil
	}
	var chain []string
	for cur != nil {
		switch cur.Kind() {
		case "identifier":
			return append(chain, cur.Utf8Text(src))
		case "this_expression", "this":
			return append(chain, "this")
		case "member_access_expression":
			chain = append(chain, cur.ChildByFieldName("name").Utf8Text(src))
			cur = cur.ChildByFieldName("expression")
		case "invocation_expression":
			f := cur.ChildByFieldName("function")
			switch {
			case f == nil:
				return chain
			case f.Kind() == "member_access_expression":
				if nm := f.ChildByFieldName("name"); nm != nil && nm.Kind() == "generic_name" {
					chain = append(chain, nm.Utf8Text(src))
				}
				cur = f.ChildByFieldName("expression")
			case f.Kind() == "generic_name":
				return append(chain, f.Utf8Text(src))
			default:
				return chain
			}
		case "parenthesized_expression", "await_expression":
			cur = cur.NamedChild(0)
		case "conditional_access_expression":
			cur = cur.ChildByFieldName("condition")
			if cur == nil {
				return chain
			}
		default:
			return chain
		}
	}
	return chain
}

// conditionalReceiver returns the receiver of a?.M() for the invocation
// nested in a conditional access expression.
func conditionalReceiver(inv *tree_sitter.Node) *tree_sitter.Node {
	for p := inv.Parent(); p != nil; p = p.Parent() {
		if p.Kind() != "conditional_access_expression" {
			continue
		}
		if c := p.ChildByFieldName("condition"); c != nil {
			return c
		}
		return p.NamedChild(0)
	}
	return nil
}

// invocationArguments describes the arguments at a call site.
func invocationArguments(inv *tree_sitter.Node, src []byte) []symbols.Argument {
	var out []symbols.Argument
	for _, a := range childrenOfKind(inv.ChildByFieldName("arguments"), "argument") {
		expr := argumentExpression(a)
		if expr == nil {
			continue
		}
		arg := symbols.Argument{Text: expr.Utf8Text(src)}
		if expr.Kind() == "object_creation_expression" {
			arg.CreatedType = simpleName(expr.ChildByFieldName("type").Utf8Text(src))
		}
		out = append(out, arg)
	}
	return out
}

// argumentExpression returns the value expression of an argument node,
// skipping a name colon and ref/out modifiers.
func argumentExpression(a *tree_sitter.Node) *tree_sitter.Node {
	if n := a.NamedChildCount(); n > 0 {
		return a.NamedChild(n - 1)
	}
	return nil
}

func argumentCount(args *tree_sitter.Node) int {
	return len(childrenOfKind(args, "argument"))
}

// identifierText returns the bare name of an identifier or generic name.
func identifierText(n *tree_sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	if n.Kind() == "generic_name" {
		if id := childOfKind(n, "identifier"); id != nil {
			return id.Utf8Text(src)
		}
	}
	return n.Utf8Text(src)
}

func looksLikeType(name string) bool {
	for _, r := range name {
		return unicode.IsUpper(r)
	}
	return false
}

// isInterfaceName applies the I-prefix naming convention to types that are
// not declared in source.
func isInterfaceName(name string) bool {
	name = simpleName(name)
	return len(name) > 1 && name[0] == 'I' && unicode.IsUpper(rune(name[1]))
}
