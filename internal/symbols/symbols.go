// Package symbols defines the boundary between the analysis engines and the
// component that understands C# source: symbol handles, source locations,
// invocation sites, and the Provider interface the engines consume.
package symbols

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrDocumentNotFound is returned when a path is not part of the loaded workspace.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrNoDeclaration is returned when a symbol has no source declaration.
	ErrNoDeclaration = errors.New("symbol has no source declaration")
	// ErrNotLoaded is returned when the workspace has not been loaded yet.
	ErrNotLoaded = errors.New("workspace not loaded")
)

// Kind classifies method-like symbols.
type Kind string

const (
	KindMethod        Kind = "method"
	KindConstructor   Kind = "constructor"
	KindLocalFunction Kind = "local_function"
	KindAccessor      Kind = "accessor"
	KindExternal      Kind = "external"
)

// Location is a point in a source file. Line and Column are 1-based.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Offset int    `json:"-"`
}

// Equal compares file, line and column.
func (l Location) Equal(o Location) bool {
	return l.File == o.File && l.Line == o.Line && l.Column == o.Column
}

// Symbol is an opaque handle to a method-like symbol. Two handles denote the
// same symbol iff their IDs are equal. Handles are only valid for the
// workspace generation that produced them.
type Symbol struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Kind                Kind     `json:"kind"`
	ContainingType      string   `json:"containingType,omitempty"`
	ContainingNamespace string   `json:"containingNamespace,omitempty"`
	ContainingTypeBases []string `json:"containingTypeBases,omitempty"`
	Parameters          []string `json:"parameters,omitempty"`
	Location            Location `json:"location"`
}

// External reports whether the symbol has no source declaration in the workspace.
func (s *Symbol) External() bool {
	return s.Kind == KindExternal
}

// ContainingTypeFullName returns the namespace-qualified containing type name.
func (s *Symbol) ContainingTypeFullName() string {
	return joinQualified(s.ContainingNamespace, s.ContainingType)
}

// QualifiedName renders Namespace.Type.Method(ParamTypes).
func (s *Symbol) QualifiedName() string {
	return joinQualified(s.ContainingTypeFullName(), s.Name) + "(" + strings.Join(s.Parameters, ", ") + ")"
}

// ShortName renders Type.Method, or just Method for free-standing symbols.
func (s *Symbol) ShortName() string {
	return joinQualified(s.ContainingType, s.Name)
}

func joinQualified(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ".")
}

// TypeRef is a possibly generic type reference such as IRequestHandler<A, B>.
type TypeRef struct {
	Name     string    `json:"name"`
	FullName string    `json:"fullName,omitempty"`
	Args     []TypeRef `json:"args,omitempty"`
}

// String renders the reference in C# syntax using short names.
func (t TypeRef) String() string {
	if len(t.Args) == 0 {
		return t.Name
	}
	args := make([]string, len(t.Args))
	for i, a := range t.Args {
		args[i] = a.String()
	}
	return t.Name + "<" + strings.Join(args, ", ") + ">"
}

// TypeSymbol describes a type declared in source.
type TypeSymbol struct {
	Name      string    `json:"name"`
	FullName  string    `json:"fullName"`
	Kind      string    `json:"kind"`
	Namespace string    `json:"namespace,omitempty"`
	Bases     []TypeRef `json:"bases,omitempty"`
	Location  Location  `json:"location"`
}

// Argument is one argument expression at an invocation site.
type Argument struct {
	Text string `json:"text"`
	// CreatedType is the short type name when the argument is an object
	// creation expression.
	CreatedType string `json:"createdType,omitempty"`
}

// Invocation is a call site inside a declaration body.
type Invocation struct {
	// Target is the resolved invoked symbol; nil when the call cannot be bound.
	Target *Symbol `json:"target,omitempty"`
	// MethodName is the syntactic name at the call site.
	MethodName string   `json:"methodName"`
	Location   Location `json:"location"`
	// ReceiverChain lists the member-access segments left of the method
	// name, nearest first: for a.B.C() it is [B, a].
	ReceiverChain []string   `json:"receiverChain,omitempty"`
	Arguments     []Argument `json:"arguments,omitempty"`
}

// Declaration is the source declaration of a symbol.
type Declaration struct {
	Symbol *Symbol
	Start  Location
	End    Location
}

// Reference is a syntactic reference to a symbol.
type Reference struct {
	Location Location `json:"location"`
	// EnclosingCalls lists the invocations whose argument lists contain the
	// reference, innermost first. Minimal API registrations such as
	// app.MapGet("/orders", handler) are recognized from it.
	EnclosingCalls []CallContext `json:"enclosingCalls,omitempty"`
}

// CallContext is an invocation surrounding a reference.
type CallContext struct {
	Name string `json:"name"`
	// FirstStringArg is the value of the first string literal argument.
	FirstStringArg string `json:"firstStringArg,omitempty"`
}

// Provider resolves symbols over a loaded workspace.
type Provider interface {
	// Offset converts a 1-based line and column into a byte offset.
	Offset(ctx context.Context, path string, line, column int) (int, error)
	// SymbolAtPosition returns the method-like symbol enclosing offset, or nil.
	SymbolAtPosition(ctx context.Context, path string, offset int) (*Symbol, error)
	// FindReferences returns every syntactic reference to sym.
	FindReferences(ctx context.Context, sym *Symbol) ([]Reference, error)
	// EnclosingMethod returns the method-like declaration containing loc, or nil.
	EnclosingMethod(ctx context.Context, loc Location) (*Symbol, error)
	// Declaration returns the source declaration of sym, or nil when it has none.
	Declaration(ctx context.Context, sym *Symbol) (*Declaration, error)
	// InvocationsWithin lists call sites in the declaration body in source order.
	InvocationsWithin(ctx context.Context, decl *Declaration) ([]Invocation, error)
	// AttributesOf returns attribute names on sym's declaration, without the
	// Attribute suffix or namespace qualifier.
	AttributesOf(ctx context.Context, sym *Symbol) ([]string, error)
	// Documents lists workspace document paths in a stable order.
	Documents(ctx context.Context) ([]string, error)
	// DeclaredTypes lists the types declared in one document.
	DeclaredTypes(ctx context.Context, path string) ([]TypeSymbol, error)
	// AllInterfaces returns every interface reference a type implements,
	// directly or through source base types, in declaration order.
	AllInterfaces(ctx context.Context, typ TypeSymbol) ([]TypeRef, error)
	// FindMember returns the first method named name declared on typ.
	FindMember(ctx context.Context, typ TypeSymbol, name string) (*Symbol, error)
	// Fingerprint identifies the current content of the workspace.
	Fingerprint() string
}
