// Package symbolstest provides an in-memory symbols.Provider for tests of
// the analysis engines. Methods occupy ten-line spans in their file; call
// sites are placed on successive lines inside the caller's span.
package symbolstest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dusk-indust/dotnav/internal/symbols"
)

// Method is a declared method in the fake workspace.
type Method struct {
	Symbol      *symbols.Symbol
	Attributes  []string
	Invocations []symbols.Invocation
	References  []symbols.Reference

	nextLine int
}

func (m *Method) start() symbols.Location { return m.Symbol.Location }

func (m *Method) end() symbols.Location {
	return symbols.Location{File: m.Symbol.Location.File, Line: m.Symbol.Location.Line + 9, Column: 2}
}

// Provider is a fake symbols.Provider. It is safe for concurrent use.
type Provider struct {
	mu         sync.Mutex
	methods    map[string]*Method
	order      []*Method
	docs       map[string]bool
	types      map[string][]symbols.TypeSymbol
	interfaces map[string][]symbols.TypeRef
	members    map[string]map[string]*symbols.Symbol
	refErrs    map[string]error
	invErrs    map[string]error
	calls      map[string]int
	fp         string
}

var _ symbols.Provider = (*Provider)(nil)

// New returns an empty Provider.
func New() *Provider {
	return &Provider{
		methods:    make(map[string]*Method),
		docs:       make(map[string]bool),
		types:      make(map[string][]symbols.TypeSymbol),
		interfaces: make(map[string][]symbols.TypeRef),
		members:    make(map[string]map[string]*symbols.Symbol),
		refErrs:    make(map[string]error),
		invErrs:    make(map[string]error),
		calls:      make(map[string]int),
		fp:         "fp-1",
	}
}

// AddMethod declares typ.name in file starting at line. bases lists the
// containing type's base type names.
func (p *Provider) AddMethod(file, ns, typ, name string, line int, bases ...string) *Method {
	p.mu.Lock()
	defer p.mu.Unlock()
	sym := &symbols.Symbol{
		ID:                  fmt.Sprintf("%s#%s.%s", file, typ, name),
		Name:                name,
		Kind:                symbols.KindMethod,
		ContainingType:      typ,
		ContainingNamespace: ns,
		ContainingTypeBases: bases,
		Location:            symbols.Location{File: file, Line: line, Column: 5},
	}
	m := &Method{Symbol: sym, nextLine: line + 1}
	p.methods[sym.ID] = m
	p.order = append(p.order, m)
	p.docs[file] = true
	return m
}

// External returns a symbol without a source declaration.
func External(ns, typ, name string) *symbols.Symbol {
	return &symbols.Symbol{
		ID:                  fmt.Sprintf("ext:%s.%s.%s", ns, typ, name),
		Name:                name,
		Kind:                symbols.KindExternal,
		ContainingType:      typ,
		ContainingNamespace: ns,
	}
}

// Call records an invocation of target inside caller and, for source
// targets, the matching reference. It returns the call site location.
func (p *Provider) Call(caller *Method, target *symbols.Symbol, chain []string, args ...symbols.Argument) symbols.Location {
	p.mu.Lock()
	defer p.mu.Unlock()
	loc := symbols.Location{File: caller.Symbol.Location.File, Line: caller.nextLine, Column: 9}
	caller.nextLine++
	caller.Invocations = append(caller.Invocations, symbols.Invocation{
		Target:        target,
		MethodName:    target.Name,
		Location:      loc,
		ReceiverChain: chain,
		Arguments:     args,
	})
	if m, ok := p.methods[target.ID]; ok {
		m.References = append(m.References, symbols.Reference{Location: loc})
	}
	return loc
}

// CallUnresolved records an invocation whose target cannot be bound.
func (p *Provider) CallUnresolved(caller *Method, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	loc := symbols.Location{File: caller.Symbol.Location.File, Line: caller.nextLine, Column: 9}
	caller.nextLine++
	caller.Invocations = append(caller.Invocations, symbols.Invocation{MethodName: name, Location: loc})
}

// Reference records a reference to target outside any method, such as a
// handler registered in top-level statements.
func (p *Provider) Reference(target *Method, loc symbols.Location, calls ...symbols.CallContext) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.docs[loc.File] = true
	target.References = append(target.References, symbols.Reference{Location: loc, EnclosingCalls: calls})
}

// AddType declares a type in file with the given interfaces.
func (p *Provider) AddType(file string, typ symbols.TypeSymbol, interfaces ...symbols.TypeRef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	typ.Location.File = file
	p.docs[file] = true
	p.types[file] = append(p.types[file], typ)
	p.interfaces[typ.FullName] = interfaces
}

// AddMember makes FindMember(typ, name) return sym.
func (p *Provider) AddMember(typeFullName, name string, sym *symbols.Symbol) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.members[typeFullName] == nil {
		p.members[typeFullName] = make(map[string]*symbols.Symbol)
	}
	p.members[typeFullName][name] = sym
}

// FailReferences makes FindReferences fail for sym.
func (p *Provider) FailReferences(sym *symbols.Symbol, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refErrs[sym.ID] = err
}

// FailInvocations makes InvocationsWithin fail for sym.
func (p *Provider) FailInvocations(sym *symbols.Symbol, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invErrs[sym.ID] = err
}

// Calls returns how often the named Provider method was called.
func (p *Provider) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

func (p *Provider) count(method string) {
	p.calls[method]++
}

// Offset encodes line and column as line*10000 + column.
func (p *Provider) Offset(_ context.Context, path string, line, column int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count("Offset")
	if !p.docs[path] {
		return 0, fmt.Errorf("%s: %w", path, symbols.ErrDocumentNotFound)
	}
	return line*10000 + column, nil
}

func (p *Provider) SymbolAtPosition(ctx context.Context, path string, offset int) (*symbols.Symbol, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count("SymbolAtPosition")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.methodAt(path, offset/10000), nil
}

func (p *Provider) methodAt(path string, line int) *symbols.Symbol {
	for _, m := range p.order {
		if m.Symbol.Location.File == path && line >= m.start().Line && line <= m.end().Line {
			return m.Symbol
		}
	}
	return nil
}

func (p *Provider) FindReferences(ctx context.Context, sym *symbols.Symbol) ([]symbols.Reference, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count("FindReferences")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.refErrs[sym.ID]; err != nil {
		return nil, err
	}
	m, ok := p.methods[sym.ID]
	if !ok {
		return nil, nil
	}
	return append([]symbols.Reference(nil), m.References...), nil
}

func (p *Provider) EnclosingMethod(_ context.Context, loc symbols.Location) (*symbols.Symbol, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count("EnclosingMethod")
	return p.methodAt(loc.File, loc.Line), nil
}

func (p *Provider) Declaration(_ context.Context, sym *symbols.Symbol) (*symbols.Declaration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count("Declaration")
	m, ok := p.methods[sym.ID]
	if !ok {
		return nil, nil
	}
	return &symbols.Declaration{Symbol: m.Symbol, Start: m.start(), End: m.end()}, nil
}

func (p *Provider) InvocationsWithin(ctx context.Context, decl *symbols.Declaration) ([]symbols.Invocation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count("InvocationsWithin")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.invErrs[decl.Symbol.ID]; err != nil {
		return nil, err
	}
	m, ok := p.methods[decl.Symbol.ID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", decl.Symbol.ID, symbols.ErrNoDeclaration)
	}
	return append([]symbols.Invocation(nil), m.Invocations...), nil
}

func (p *Provider) AttributesOf(_ context.Context, sym *symbols.Symbol) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count("AttributesOf")
	if m, ok := p.methods[sym.ID]; ok {
		return m.Attributes, nil
	}
	return nil, nil
}

func (p *Provider) Documents(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count("Documents")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(p.docs))
	for d := range p.docs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

func (p *Provider) DeclaredTypes(_ context.Context, path string) ([]symbols.TypeSymbol, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count("DeclaredTypes")
	if !p.docs[path] {
		return nil, fmt.Errorf("%s: %w", path, symbols.ErrDocumentNotFound)
	}
	return append([]symbols.TypeSymbol(nil), p.types[path]...), nil
}

func (p *Provider) AllInterfaces(_ context.Context, typ symbols.TypeSymbol) ([]symbols.TypeRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count("AllInterfaces")
	return p.interfaces[typ.FullName], nil
}

func (p *Provider) FindMember(_ context.Context, typ symbols.TypeSymbol, name string) (*symbols.Symbol, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count("FindMember")
	return p.members[typ.FullName][name], nil
}

func (p *Provider) Fingerprint() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fp
}

// SetFingerprint simulates a workspace change.
func (p *Provider) SetFingerprint(fp string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fp = fp
}
