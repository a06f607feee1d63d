package callgraph

import (
	"slices"
	"strings"

	"github.com/dusk-indust/dotnav/internal/config"
	"github.com/dusk-indust/dotnav/internal/mediator"
	"github.com/dusk-indust/dotnav/internal/symbols"
)

// MediatorService is the service name of grouped mediator dispatches.
const MediatorService = "Mediator"

// HandlerLookup resolves a request type to its handler without building.
type HandlerLookup interface {
	Lookup(requestType string) (mediator.HandlerMapping, bool)
}

// Classification is the outcome of Classify. Fields other than Kind are set
// only for the kinds that use them.
type Classification struct {
	Kind CallKind

	// Mediator
	RequestType   string
	TargetHandler string
	Handler       *mediator.HandlerMapping

	// Database
	Operation string
	Entity    string
	Write     bool

	// External
	Service string
}

// Classifier tags invocations as Method, Database, Mediator or External
// according to naming conventions.
type Classifier struct {
	conv     config.ConventionsConfig
	handlers HandlerLookup
}

// NewClassifier returns a Classifier. handlers may be nil, in which case
// mediator dispatches are labelled with the request type.
func NewClassifier(conv config.ConventionsConfig, handlers HandlerLookup) *Classifier {
	return &Classifier{conv: conv, handlers: handlers}
}

// Classify tags one invocation of target.
func (c *Classifier) Classify(target *symbols.Symbol, inv symbols.Invocation) Classification {
	typ := baseName(target.ContainingType)

	if slices.Contains(c.conv.MediatorSenders, typ) && slices.Contains(c.conv.DispatchMethods, target.Name) {
		cl := Classification{Kind: KindMediator, RequestType: createdType(inv)}
		cl.TargetHandler = cl.RequestType
		if c.handlers != nil && cl.RequestType != "" {
			if m, ok := c.handlers.Lookup(cl.RequestType); ok {
				cl.TargetHandler = m.HandlerType
				cl.Handler = &m
			}
		}
		return cl
	}

	if slices.Contains(c.conv.ExternalClients, typ) {
		return Classification{Kind: KindExternal, Service: typ, Operation: target.Name}
	}

	if c.isDatabase(target) {
		op, write := c.verb(target.Name)
		return Classification{
			Kind:      KindDatabase,
			Operation: op,
			Entity:    entityOf(inv.ReceiverChain),
			Write:     write,
		}
	}

	return Classification{Kind: KindMethod}
}

func (c *Classifier) isDatabase(target *symbols.Symbol) bool {
	ns := target.ContainingNamespace
	if ns != "" && (ns == c.conv.ORMNamespace || strings.HasPrefix(ns, c.conv.ORMNamespace+".")) {
		return true
	}
	if ns == c.conv.SequenceNamespace && strings.HasSuffix(target.Name, "Async") {
		return true
	}
	if slices.Contains(c.conv.ReadVerbs, target.Name) {
		return true
	}
	_, ok := c.conv.WriteVerbs[target.Name]
	return ok
}

func (c *Classifier) verb(name string) (string, bool) {
	if slices.Contains(c.conv.ReadVerbs, name) {
		return "SELECT", false
	}
	if v, ok := c.conv.WriteVerbs[name]; ok {
		return v, true
	}
	return "QUERY", false
}

// entityOf returns the first receiver segment, nearest first, that names an
// entity set. Set<T> yields T.
func entityOf(chain []string) string {
	for _, seg := range chain {
		switch {
		case seg == "" || seg == "Set" || seg == "this" || seg == "base":
			continue
		case strings.HasPrefix(seg, "_"):
			continue
		case strings.HasPrefix(seg, "Set<") && strings.HasSuffix(seg, ">"):
			return baseName(seg[len("Set<") : len(seg)-1])
		}
		return seg
	}
	return ""
}

func createdType(inv symbols.Invocation) string {
	for _, a := range inv.Arguments {
		if a.CreatedType != "" {
			return baseName(a.CreatedType)
		}
	}
	return ""
}

// baseName strips namespace qualifiers and generic arguments.
func baseName(s string) string {
	if i := strings.IndexByte(s, '<'); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	return s
}
