// Package mediator maps mediator requests to the handler types that serve
// them. A handler is a type implementing a generic handler interface such as
// IRequestHandler<TRequest, TResponse>; the mapping is keyed by the request
// type's short name.
package mediator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/dusk-indust/dotnav/internal/cache"
	"github.com/dusk-indust/dotnav/internal/symbols"
)

var tracer = otel.Tracer("dotnav.mediator")

// CacheKeyPrefix prefixes the workspace fingerprint in the mapping cache key.
const CacheKeyPrefix = "mediator:handler_mappings:"

// DefaultTTL is the cache lifetime of a built mapping list.
const DefaultTTL = 6 * time.Hour

// MappingsKind is the cache discriminator of a persisted Snapshot.
var MappingsKind = cache.NewKind[Snapshot]("mediator.handler_mappings.v2")

// Snapshot is the cached form of a build: the mapping list in document
// order and the conflicts found while scanning.
type Snapshot struct {
	Mappings  []HandlerMapping `json:"mappings"`
	Conflicts []Conflict       `json:"conflicts,omitempty"`
}

// HandlerMapping resolves one request type to its handler.
type HandlerMapping struct {
	RequestType     string `json:"requestType"`
	RequestFullName string `json:"requestFullName"`
	HandlerType     string `json:"handlerType"`
	HandlerFullName string `json:"handlerFullName"`
	// ResponseType is empty for commands.
	ResponseType  string           `json:"responseType,omitempty"`
	HandlerMethod string           `json:"handlerMethod"`
	Location      symbols.Location `json:"location"`
	IsCommand     bool             `json:"isCommand"`
}

// Conflict records a handler dropped because its request type was already
// mapped. The first handler found in document order is kept.
type Conflict struct {
	RequestType string           `json:"requestType"`
	Kept        string           `json:"kept"`
	Dropped     string           `json:"dropped"`
	Location    symbols.Location `json:"location"`
}

// BuildResult reports the outcome of Build.
type BuildResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	// Mappings is the number of request types mapped.
	Mappings  int        `json:"mappings"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
	// Source is "memory" when already built, "cache" when hydrated from the
	// cache, and "scan" when source was scanned.
	Source   string        `json:"source"`
	Duration time.Duration `json:"duration"`
}

// Options configure an Index.
type Options struct {
	// HandlerInterfaces are the generic interface names that mark a handler.
	HandlerInterfaces []string
	// HandlerMethod names the handling method whose location is recorded.
	HandlerMethod string
	TTL           time.Duration
	Logger        *slog.Logger
}

// table is an immutable snapshot of the mappings.
type table struct {
	fingerprint string
	byRequest   map[string]HandlerMapping
	ordered     []HandlerMapping
	conflicts   []Conflict
}

// Index is the request/handler mapping index. Lookups are lock-free; a
// build replaces the whole table. Concurrent first callers share one build.
type Index struct {
	provider symbols.Provider
	cache    *cache.Cache
	opts     Options
	logger   *slog.Logger

	current atomic.Pointer[table]
	group   singleflight.Group
	scans   atomic.Int64
}

// NewIndex creates an Index. c may be nil to disable caching.
func NewIndex(provider symbols.Provider, c *cache.Cache, opts Options) *Index {
	if len(opts.HandlerInterfaces) == 0 {
		opts.HandlerInterfaces = []string{"IRequestHandler"}
	}
	if opts.HandlerMethod == "" {
		opts.HandlerMethod = "Handle"
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if c != nil {
		c.Register(MappingsKind)
	}
	return &Index{
		provider: provider,
		cache:    c,
		opts:     opts,
		logger:   logger.With(slog.String("component", "mediator")),
	}
}

// Scans returns how many times source has been scanned.
func (x *Index) Scans() int64 {
	return x.scans.Load()
}

// Built reports whether the index holds mappings for the current workspace.
func (x *Index) Built() bool {
	t := x.current.Load()
	return t != nil && t.fingerprint == x.provider.Fingerprint()
}

// Invalidate discards the in-process mappings and the cached list for the
// current workspace.
func (x *Index) Invalidate() {
	t := x.current.Swap(nil)
	if x.cache != nil && t != nil {
		x.cache.Remove(CacheKeyPrefix + t.fingerprint)
	}
}

// Build makes the mappings for the current workspace available. It returns
// immediately when already built, hydrates from the cache when possible, and
// otherwise scans every declared type. The returned error is non-nil only
// when ctx ends; other failures are reported in the result.
func (x *Index) Build(ctx context.Context) (*BuildResult, error) {
	start := time.Now()
	fp := x.provider.Fingerprint()
	if t := x.current.Load(); t != nil && t.fingerprint == fp {
		return &BuildResult{Success: true, Mappings: len(t.ordered), Conflicts: t.conflicts, Source: "memory"}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The shared build outlives any single caller so that one canceled
	// request does not fail the others waiting on it.
	ch := x.group.DoChan(fp, func() (any, error) {
		return x.build(context.WithoutCancel(ctx), fp)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return &BuildResult{Error: r.Err.Error(), Duration: time.Since(start)}, nil
		}
		res := *r.Val.(*BuildResult)
		res.Duration = time.Since(start)
		return &res, nil
	}
}

func (x *Index) build(ctx context.Context, fp string) (*BuildResult, error) {
	ctx, span := tracer.Start(ctx, "Mediator.Build", trace.WithAttributes(attribute.String("workspace.fingerprint", fp)))
	defer span.End()

	key := CacheKeyPrefix + fp
	if x.cache != nil {
		if snap, ok := cache.Get(ctx, x.cache, MappingsKind, key); ok {
			t := newTable(fp, snap.Mappings, snap.Conflicts)
			x.current.Store(t)
			span.SetAttributes(attribute.String("mediator.source", "cache"))
			x.logger.Debug("handler mappings loaded from cache",
				slog.Int("mappings", len(t.ordered)),
				slog.Int("conflicts", len(t.conflicts)),
			)
			return &BuildResult{Success: true, Mappings: len(t.ordered), Conflicts: t.conflicts, Source: "cache"}, nil
		}
	}

	list, conflicts, err := x.scan(ctx)
	if err != nil {
		span.RecordError(err)
		x.logger.Warn("handler mapping build failed", slog.Any("error", err))
		return nil, err
	}
	x.scans.Add(1)
	t := newTable(fp, list, conflicts)
	x.current.Store(t)
	if x.cache != nil {
		cache.Set(ctx, x.cache, MappingsKind, key, Snapshot{Mappings: t.ordered, Conflicts: conflicts}, x.opts.TTL)
	}

	span.SetAttributes(
		attribute.String("mediator.source", "scan"),
		attribute.Int("mediator.mappings", len(t.ordered)),
		attribute.Int("mediator.conflicts", len(conflicts)),
	)
	x.logger.Info("handler mappings built",
		slog.Int("mappings", len(t.ordered)),
		slog.Int("conflicts", len(conflicts)),
	)
	return &BuildResult{Success: true, Mappings: len(t.ordered), Conflicts: conflicts, Source: "scan"}, nil
}

// scan walks every declared type in document order. Provider failures on a
// single type are logged and the type is skipped.
func (x *Index) scan(ctx context.Context) ([]HandlerMapping, []Conflict, error) {
	docs, err := x.provider.Documents(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list documents: %w", err)
	}
	var (
		list      []HandlerMapping
		seen      = make(map[string]int)
		conflicts []Conflict
	)
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		types, err := x.provider.DeclaredTypes(ctx, doc)
		if err != nil {
			x.logger.Warn("skip document", slog.String("file", doc), slog.Any("error", err))
			continue
		}
		for _, typ := range types {
			m, ok, err := x.mappingFor(ctx, typ)
			if err != nil {
				x.logger.Warn("skip type", slog.String("type", typ.FullName), slog.Any("error", err))
				continue
			}
			if !ok {
				continue
			}
			if i, dup := seen[m.RequestType]; dup {
				c := Conflict{
					RequestType: m.RequestType,
					Kept:        list[i].HandlerFullName,
					Dropped:     m.HandlerFullName,
					Location:    m.Location,
				}
				conflicts = append(conflicts, c)
				x.logger.Warn("duplicate handler for request",
					slog.String("request", c.RequestType),
					slog.String("kept", c.Kept),
					slog.String("dropped", c.Dropped),
				)
				continue
			}
			seen[m.RequestType] = len(list)
			list = append(list, m)
		}
	}
	return list, conflicts, nil
}

// mappingFor tests typ against the handler contract. Only the first matching
// interface instantiation is used; one without type arguments is skipped.
func (x *Index) mappingFor(ctx context.Context, typ symbols.TypeSymbol) (HandlerMapping, bool, error) {
	if typ.Kind == "interface" {
		return HandlerMapping{}, false, nil
	}
	ifaces, err := x.provider.AllInterfaces(ctx, typ)
	if err != nil {
		return HandlerMapping{}, false, err
	}
	for _, iface := range ifaces {
		if !x.isHandlerInterface(iface) {
			continue
		}
		if len(iface.Args) == 0 {
			return HandlerMapping{}, false, nil
		}
		req := iface.Args[0]
		m := HandlerMapping{
			RequestType:     shortName(req.Name),
			RequestFullName: req.FullName,
			HandlerType:     typ.Name,
			HandlerFullName: typ.FullName,
			HandlerMethod:   x.opts.HandlerMethod,
			Location:        typ.Location,
			IsCommand:       len(iface.Args) < 2,
		}
		if m.RequestFullName == "" {
			m.RequestFullName = req.Name
		}
		if len(iface.Args) > 1 {
			m.ResponseType = iface.Args[1].String()
		}
		method, err := x.provider.FindMember(ctx, typ, x.opts.HandlerMethod)
		if err != nil {
			return HandlerMapping{}, false, err
		}
		if method != nil {
			m.Location = method.Location
		}
		return m, true, nil
	}
	return HandlerMapping{}, false, nil
}

func (x *Index) isHandlerInterface(ref symbols.TypeRef) bool {
	name := shortName(ref.Name)
	for _, h := range x.opts.HandlerInterfaces {
		if name == h {
			return true
		}
	}
	return false
}

func newTable(fp string, list []HandlerMapping, conflicts []Conflict) *table {
	t := &table{
		fingerprint: fp,
		byRequest:   make(map[string]HandlerMapping, len(list)),
		conflicts:   conflicts,
	}
	for _, m := range list {
		if _, dup := t.byRequest[m.RequestType]; dup {
			continue
		}
		t.byRequest[m.RequestType] = m
		t.ordered = append(t.ordered, m)
	}
	return t
}

// ensure builds when needed and returns the current table.
func (x *Index) ensure(ctx context.Context) (*table, error) {
	res, err := x.Build(ctx)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, errors.New(res.Error)
	}
	t := x.current.Load()
	if t == nil {
		return nil, errors.New("handler mappings invalidated during build")
	}
	return t, nil
}

// Mappings returns every mapping ordered by request type.
func (x *Index) Mappings(ctx context.Context) ([]HandlerMapping, error) {
	t, err := x.ensure(ctx)
	if err != nil {
		return nil, err
	}
	out := append([]HandlerMapping(nil), t.ordered...)
	sort.Slice(out, func(i, j int) bool { return out[i].RequestType < out[j].RequestType })
	return out, nil
}

// FindHandlerForRequest returns the mapping for a request type, accepting a
// short or namespace-qualified name. It returns nil when none is mapped.
func (x *Index) FindHandlerForRequest(ctx context.Context, requestType string) (*HandlerMapping, error) {
	t, err := x.ensure(ctx)
	if err != nil {
		return nil, err
	}
	m, ok := t.byRequest[shortName(requestType)]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// FindRequestsForHandler returns the request types served by a handler type,
// sorted.
func (x *Index) FindRequestsForHandler(ctx context.Context, handlerType string) ([]string, error) {
	t, err := x.ensure(ctx)
	if err != nil {
		return nil, err
	}
	name := shortName(handlerType)
	var out []string
	for _, m := range t.ordered {
		if m.HandlerType == name || m.HandlerFullName == handlerType {
			out = append(out, m.RequestType)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Lookup returns the mapping for a request type without building.
func (x *Index) Lookup(requestType string) (HandlerMapping, bool) {
	t := x.current.Load()
	if t == nil {
		return HandlerMapping{}, false
	}
	m, ok := t.byRequest[shortName(requestType)]
	return m, ok
}

// shortName strips namespace qualifiers and generic arguments.
func shortName(s string) string {
	if i := strings.IndexByte(s, '<'); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSuffix(s, "?")
}
