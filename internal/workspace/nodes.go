package workspace

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dusk-indust/dotnav/internal/symbols"
)

// Syntax helpers over the C# grammar. Field names are preferred where the
// grammar defines them, with a scan by node kind as fallback.

// childOfKind returns the first direct child whose kind is one of kinds.
func childOfKind(n *tree_sitter.Node, kinds ...string) *tree_sitter.Node {
	if n == nil {
		return nil
	}
	for i := uint(0); i < n.ChildCount(); i++ {
		c := n.Child(i)
		if c == nil {
			continue
		}
		for _, k := range kinds {
			if c.Kind() == k {
				return c
			}
		}
	}
	return nil
}

// childrenOfKind returns the direct children of the given kind.
func childrenOfKind(n *tree_sitter.Node, kind string) []*tree_sitter.Node {
	var out []*tree_sitter.Node
	if n == nil {
		return out
	}
	for i := uint(0); i < n.ChildCount(); i++ {
		if c := n.Child(i); c != nil && c.Kind() == kind {
			out = append(out, c)
		}
	}
	return out
}

// nameNode returns the declared name of a declaration node.
func nameNode(n *tree_sitter.Node) *tree_sitter.Node {
	if n == nil {
		return nil
	}
	if nn := n.ChildByFieldName("name"); nn != nil {
		return nn
	}
	return childOfKind(n, "identifier")
}

// bodyNode returns the block or expression body of a method-like declaration.
func bodyNode(n *tree_sitter.Node) *tree_sitter.Node {
	if b := n.ChildByFieldName("body"); b != nil {
		return b
	}
	return childOfKind(n, "block", "arrow_expression_clause")
}

// typeBodyNode returns the member list of a type declaration.
func typeBodyNode(n *tree_sitter.Node) *tree_sitter.Node {
	if b := n.ChildByFieldName("body"); b != nil && b.Kind() == "declaration_list" {
		return b
	}
	return childOfKind(n, "declaration_list")
}

// typeNodeOf returns the declared type child of a parameter, property, or
// variable declaration.
func typeNodeOf(n *tree_sitter.Node) *tree_sitter.Node {
	if n == nil {
		return nil
	}
	if t := n.ChildByFieldName("type"); t != nil {
		return t
	}
	return childOfKind(n, typeKinds...)
}

var typeKinds = []string{
	"predefined_type", "identifier", "generic_name", "qualified_name",
	"nullable_type", "array_type", "tuple_type", "alias_qualified_name",
	"implicit_type",
}

func isTypeKind(kind string) bool {
	for _, k := range typeKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// parseTypeRef converts a type syntax node into a TypeRef. Namespace
// qualifiers are kept in FullName; nullable and array wrappers are dropped.
func parseTypeRef(n *tree_sitter.Node, src []byte) symbols.TypeRef {
	if n == nil {
		return symbols.TypeRef{}
	}
	switch n.Kind() {
	case "identifier", "predefined_type":
		t := n.Utf8Text(src)
		return symbols.TypeRef{Name: t, FullName: t}
	case "implicit_type":
		return symbols.TypeRef{Name: "var"}
	case "generic_name":
		id := childOfKind(n, "identifier")
		ref := symbols.TypeRef{}
		if id != nil {
			ref.Name = id.Utf8Text(src)
			ref.FullName = ref.Name
		}
		if args := childOfKind(n, "type_argument_list"); args != nil {
			for i := uint(0); i < args.NamedChildCount(); i++ {
				if a := args.NamedChild(i); a != nil {
					ref.Args = append(ref.Args, parseTypeRef(a, src))
				}
			}
		}
		return ref
	case "qualified_name", "alias_qualified_name":
		right := n.ChildByFieldName("name")
		if right == nil && n.NamedChildCount() > 0 {
			right = n.NamedChild(n.NamedChildCount() - 1)
		}
		ref := parseTypeRef(right, src)
		left := n.ChildByFieldName("qualifier")
		if left == nil && n.NamedChildCount() > 1 {
			left = n.NamedChild(0)
		}
		if left != nil {
			ref.FullName = left.Utf8Text(src) + "." + ref.Name
		}
		return ref
	case "nullable_type", "array_type", "pointer_type", "ref_type", "scoped_type":
		for i := uint(0); i < n.NamedChildCount(); i++ {
			if c := n.NamedChild(i); c != nil && isTypeKind(c.Kind()) {
				return parseTypeRef(c, src)
			}
		}
	case "primary_constructor_base_type":
		if t := typeNodeOf(n); t != nil {
			return parseTypeRef(t, src)
		}
	}
	t := strings.TrimSpace(n.Utf8Text(src))
	return symbols.TypeRef{Name: t, FullName: t}
}

// simpleName strips generic arguments and namespace qualifiers from a type name.
func simpleName(s string) string {
	if i := strings.IndexByte(s, '<'); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "?")
}

// unwrapTask returns T for Task<T> and ValueTask<T>.
func unwrapTask(t symbols.TypeRef) symbols.TypeRef {
	if (t.Name == "Task" || t.Name == "ValueTask") && len(t.Args) == 1 {
		return t.Args[0]
	}
	return t
}

// attributeNames collects attribute names attached to a declaration, both as
// children and as the run of attribute lists directly preceding it, with the
// Attribute suffix removed.
func attributeNames(decl *tree_sitter.Node, src []byte) []string {
	lists := childrenOfKind(decl, "attribute_list")
	if parent := decl.Parent(); parent != nil {
		var pending []*tree_sitter.Node
		for i := uint(0); i < parent.ChildCount(); i++ {
			c := parent.Child(i)
			if c == nil {
				continue
			}
			if c.Id() == decl.Id() {
				lists = append(lists, pending...)
				break
			}
			switch {
			case c.Kind() == "attribute_list":
				pending = append(pending, c)
			case c.IsNamed():
				pending = pending[:0]
			}
		}
	}
	var names []string
	for _, l := range lists {
		for _, a := range childrenOfKind(l, "attribute") {
			n := a.ChildByFieldName("name")
			if n == nil {
				n = childOfKind(a, "identifier", "qualified_name")
			}
			if n == nil {
				continue
			}
			names = append(names, strings.TrimSuffix(simpleName(n.Utf8Text(src)), "Attribute"))
		}
	}
	return names
}

// position converts a node start into a 1-based Location.
func position(path string, n *tree_sitter.Node) symbols.Location {
	p := n.StartPosition()
	return symbols.Location{
		File:   path,
		Line:   int(p.Row) + 1,
		Column: int(p.Column) + 1,
		Offset: int(n.StartByte()),
	}
}

// endPosition converts a node end into a 1-based Location.
func endPosition(path string, n *tree_sitter.Node) symbols.Location {
	p := n.EndPosition()
	return symbols.Location{
		File:   path,
		Line:   int(p.Row) + 1,
		Column: int(p.Column) + 1,
		Offset: int(n.EndByte()),
	}
}

// walk visits n and its descendants in pre-order. Returning false from fn
// skips the children of the visited node.
func walk(n *tree_sitter.Node, fn func(*tree_sitter.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for i := uint(0); i < n.ChildCount(); i++ {
		walk(n.Child(i), fn)
	}
}

// stringLiteralValue returns the unquoted text of a string literal node.
func stringLiteralValue(n *tree_sitter.Node, src []byte) string {
	t := n.Utf8Text(src)
	t = strings.TrimPrefix(t, "@")
	t = strings.TrimPrefix(t, "$")
	return strings.Trim(t, `"`)
}
