// Package callgraph walks callers and callees of a method outward to a
// bounded depth and classifies every outbound edge.
package callgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dusk-indust/dotnav/internal/config"
	"github.com/dusk-indust/dotnav/internal/mediator"
	"github.com/dusk-indust/dotnav/internal/symbols"
)

var tracer = otel.Tracer("dotnav.callgraph")

// Traversal defaults.
const (
	DefaultCallersMaxDepth = 5
	DefaultCallersLimit    = 100
	DefaultCalleesMaxDepth = 5
	DefaultCalleesLimit    = 200
)

// Options configure an Engine. Zero depth and limit values select the
// package defaults.
type Options struct {
	Conventions     config.ConventionsConfig
	CallersMaxDepth int
	CallersLimit    int
	CalleesMaxDepth int
	CalleesLimit    int
	// FollowHandlers continues callee traversal from a mediator dispatch into
	// the mapped handler's handling method.
	FollowHandlers bool
	Logger         *slog.Logger
}

// OptionsFromConfig maps the traversal and conventions sections of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Conventions:     cfg.Conventions,
		CallersMaxDepth: cfg.Traversal.CallersMaxDepth,
		CallersLimit:    cfg.Traversal.CallersLimit,
		CalleesMaxDepth: cfg.Traversal.CalleesMaxDepth,
		CalleesLimit:    cfg.Traversal.CalleesLimit,
		FollowHandlers:  cfg.Traversal.FollowHandlers,
	}
}

// Engine runs caller and callee traversals over a symbols.Provider. It holds
// no per-request state and is safe for concurrent use.
type Engine struct {
	provider   symbols.Provider
	mappings   *mediator.Index
	classifier *Classifier
	opts       Options
	logger     *slog.Logger
}

// New returns an Engine. mappings may be nil, which disables handler
// resolution for mediator dispatches.
func New(provider symbols.Provider, mappings *mediator.Index, opts Options) *Engine {
	if opts.CallersMaxDepth <= 0 {
		opts.CallersMaxDepth = DefaultCallersMaxDepth
	}
	if opts.CallersLimit <= 0 {
		opts.CallersLimit = DefaultCallersLimit
	}
	if opts.CalleesMaxDepth <= 0 {
		opts.CalleesMaxDepth = DefaultCalleesMaxDepth
	}
	if opts.CalleesLimit <= 0 {
		opts.CalleesLimit = DefaultCalleesLimit
	}
	if len(opts.Conventions.MediatorSenders) == 0 {
		opts.Conventions = config.Default().Conventions
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var lookup HandlerLookup
	if mappings != nil {
		lookup = mappings
	}
	return &Engine{
		provider:   provider,
		mappings:   mappings,
		classifier: NewClassifier(opts.Conventions, lookup),
		opts:       opts,
		logger:     logger.With(slog.String("component", "callgraph")),
	}
}

// resolveTarget returns the method enclosing q's position. A nil symbol with
// a nil error means there is no method there.
func (e *Engine) resolveTarget(ctx context.Context, q Query) (*symbols.Symbol, error) {
	offset, err := e.provider.Offset(ctx, q.File, q.Line, q.Column)
	if err != nil {
		return nil, err
	}
	return e.provider.SymbolAtPosition(ctx, q.File, offset)
}

// failure converts a resolution error into a result message. It returns
// false for cancellation, which is propagated instead.
func failure(ctx context.Context, err error) (string, bool) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", false
	}
	return err.Error(), true
}

func bounds(maxDepth, limit, defDepth, defLimit int) (int, int) {
	if maxDepth <= 0 {
		maxDepth = defDepth
	}
	if limit <= 0 {
		limit = defLimit
	}
	return maxDepth, limit
}

// ---------------------------------------------------------------------------
// Callers
// ---------------------------------------------------------------------------

type callerFrame struct {
	target *symbols.Symbol
	depth  int
	refs   []symbols.Reference
	next   int
}

// FindCallers lists the methods that reference the method at q, then their
// callers, depth-first in reference order. The returned error is non-nil
// only when ctx ends.
func (e *Engine) FindCallers(ctx context.Context, q Query) (*CallersResult, error) {
	start := time.Now()
	maxDepth, limit := bounds(q.MaxDepth, q.Limit, e.opts.CallersMaxDepth, e.opts.CallersLimit)

	ctx, span := tracer.Start(ctx, "CallGraph.FindCallers", trace.WithAttributes(
		attribute.String("file", q.File),
		attribute.Int("line", q.Line),
		attribute.Int("max_depth", maxDepth),
		attribute.Int("limit", limit),
	))
	defer span.End()

	res := &CallersResult{Callers: []CallerRecord{}}
	target, err := e.resolveTarget(ctx, q)
	if err != nil {
		msg, ok := failure(ctx, err)
		if !ok {
			return nil, ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve target")
		res.Error = fmt.Sprintf("resolve %s:%d:%d: %s", q.File, q.Line, q.Column, msg)
		return res, nil
	}
	res.Success = true
	if target == nil {
		res.TargetMethod = NoMethodFound
		return res, nil
	}
	res.TargetMethod = target.QualifiedName()

	// emitted holds every caller already recorded, with minimal API sites
	// keyed by location. expanded holds every symbol whose references have
	// been queued, starting with the root.
	emitted := make(map[string]bool)
	expanded := map[string]bool{target.ID: true}
	records := []CallerRecord{}

	stack := []*callerFrame{e.callerFrame(ctx, target, 0, maxDepth, 0, limit)}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := stack[len(stack)-1]
		if f.next >= len(f.refs) {
			stack = stack[:len(stack)-1]
			continue
		}
		ref := f.refs[f.next]
		f.next++

		caller, err := e.provider.EnclosingMethod(ctx, ref.Location)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Warn("resolve enclosing method",
				slog.String("file", ref.Location.File),
				slog.Int("line", ref.Location.Line),
				slog.Any("error", err),
			)
			continue
		}
		if caller == nil {
			if rec, ok := minimalAPICaller(f, ref); ok && !emitted[rec.key()] {
				emitted[rec.key()] = true
				records = append(records, rec)
			}
			continue
		}
		if emitted[caller.ID] {
			continue
		}
		emitted[caller.ID] = true

		rec := CallerRecord{
			CallingMethod: caller.QualifiedName(),
			Target:        f.target.QualifiedName(),
			File:          ref.Location.File,
			Line:          ref.Location.Line,
			Column:        ref.Location.Column,
			Depth:         f.depth + 1,
			CallChain:     caller.ShortName() + " → " + f.target.ShortName(),
			Endpoint:      e.controllerEndpoint(ctx, caller),
			Symbol:        caller,
			Location:      ref.Location,
		}
		records = append(records, rec)
		if expanded[caller.ID] {
			continue
		}
		expanded[caller.ID] = true
		stack = append(stack, e.callerFrame(ctx, caller, rec.Depth, maxDepth, len(records), limit))
	}

	res.TotalCount = len(records)
	if len(records) > limit {
		records = records[:limit]
	}
	res.Callers = records
	res.MaxDepthReached = depthReached(records, func(r CallerRecord) int { return r.Depth }, maxDepth)
	res.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("callers.total", res.TotalCount),
		attribute.Bool("callers.max_depth_reached", res.MaxDepthReached),
	)
	e.logger.Debug("callers found",
		slog.String("target", res.TargetMethod),
		slog.Int("total", res.TotalCount),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

// callerFrame fetches the references of target unless the node is at the
// depth bound or the limit has been reached. Reference errors end the branch.
func (e *Engine) callerFrame(ctx context.Context, target *symbols.Symbol, depth, maxDepth, count, limit int) *callerFrame {
	f := &callerFrame{target: target, depth: depth}
	if depth >= maxDepth || count >= limit {
		return f
	}
	refs, err := e.provider.FindReferences(ctx, target)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("find references", slog.String("symbol", target.QualifiedName()), slog.Any("error", err))
		}
		return f
	}
	f.refs = refs
	return f
}

// minimalAPICaller builds the record of a reference registered through
// app.MapGet and its siblings in top-level statements.
func minimalAPICaller(f *callerFrame, ref symbols.Reference) (CallerRecord, bool) {
	ep, call := minimalAPIEndpoint(ref.EnclosingCalls)
	if ep == nil {
		return CallerRecord{}, false
	}
	name := fmt.Sprintf("%s(%q)", call, ep.Route)
	return CallerRecord{
		CallingMethod: name,
		Target:        f.target.QualifiedName(),
		File:          ref.Location.File,
		Line:          ref.Location.Line,
		Column:        ref.Location.Column,
		Depth:         f.depth + 1,
		CallChain:     name + " → " + f.target.ShortName(),
		Endpoint:      ep,
		Location:      ref.Location,
	}, true
}

func (r CallerRecord) key() string {
	return fmt.Sprintf("%s:%d:%d", r.File, r.Line, r.Column)
}

// ---------------------------------------------------------------------------
// Callees
// ---------------------------------------------------------------------------

type calleeFrame struct {
	method *symbols.Symbol
	depth  int
	invs   []symbols.Invocation
	next   int
}

// FindCallees lists the invocations reachable from the method at q,
// depth-first in source order, and derives database operations and grouped
// external calls from them. The returned error is non-nil only when ctx
// ends.
func (e *Engine) FindCallees(ctx context.Context, q Query) (*CalleesResult, error) {
	start := time.Now()
	maxDepth, limit := bounds(q.MaxDepth, q.Limit, e.opts.CalleesMaxDepth, e.opts.CalleesLimit)

	ctx, span := tracer.Start(ctx, "CallGraph.FindCallees", trace.WithAttributes(
		attribute.String("file", q.File),
		attribute.Int("line", q.Line),
		attribute.Int("max_depth", maxDepth),
		attribute.Int("limit", limit),
	))
	defer span.End()

	res := &CalleesResult{
		Callees:            []CalleeRecord{},
		DatabaseOperations: []DatabaseOperationRecord{},
		ExternalCalls:      []ExternalCallRecord{},
	}

	if e.mappings != nil {
		built, err := e.mappings.Build(ctx)
		if err != nil {
			return nil, err
		}
		if !built.Success {
			e.logger.Warn("handler mappings unavailable", slog.String("error", built.Error))
		}
	}

	target, err := e.resolveTarget(ctx, q)
	if err != nil {
		msg, ok := failure(ctx, err)
		if !ok {
			return nil, ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve target")
		res.Error = fmt.Sprintf("resolve %s:%d:%d: %s", q.File, q.Line, q.Column, msg)
		return res, nil
	}
	res.Success = true
	if target == nil {
		res.TargetMethod = NoMethodFound
		return res, nil
	}
	res.TargetMethod = target.QualifiedName()

	follow := e.opts.FollowHandlers || q.FollowHandlers
	visited := map[string]bool{target.ID: true}
	records := []CalleeRecord{}

	stack := []*calleeFrame{e.calleeFrame(ctx, target, 0, maxDepth, 0, limit)}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := stack[len(stack)-1]
		if f.next >= len(f.invs) {
			stack = stack[:len(stack)-1]
			continue
		}
		inv := f.invs[f.next]
		f.next++

		callee := inv.Target
		if callee == nil {
			e.logger.Debug("skip unresolved invocation",
				slog.String("name", inv.MethodName),
				slog.String("file", inv.Location.File),
				slog.Int("line", inv.Location.Line),
			)
			continue
		}
		cl := e.classifier.Classify(callee, inv)
		if cl.Kind != KindMediator && visited[callee.ID] {
			continue
		}
		visited[callee.ID] = true

		rec := CalleeRecord{
			Method:        callee.QualifiedName(),
			Caller:        f.method.QualifiedName(),
			File:          inv.Location.File,
			Line:          inv.Location.Line,
			Column:        inv.Location.Column,
			Depth:         f.depth + 1,
			Kind:          cl.Kind,
			TargetHandler: cl.TargetHandler,
			RequestType:   cl.RequestType,
			Operation:     cl.Operation,
			Entity:        cl.Entity,
			Service:       cl.Service,
			Symbol:        callee,
			Location:      inv.Location,
		}
		records = append(records, rec)

		next := callee
		if cl.Kind == KindMediator {
			next = nil
			if follow && cl.Handler != nil {
				next = e.handlerMethod(ctx, *cl.Handler)
				if next != nil && visited[next.ID] {
					next = nil
				}
				if next != nil {
					visited[next.ID] = true
				}
			}
		}
		if next == nil || next.External() {
			continue
		}
		if fr := e.calleeFrame(ctx, next, rec.Depth, maxDepth, len(records), limit); fr != nil {
			stack = append(stack, fr)
		}
	}

	res.TotalCount = len(records)
	if len(records) > limit {
		records = records[:limit]
	}
	res.Callees = records
	res.DatabaseOperations = databaseOperations(records)
	res.ExternalCalls = externalCalls(records)
	res.MaxDepthReached = depthReached(records, func(r CalleeRecord) int { return r.Depth }, maxDepth)
	res.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("callees.total", res.TotalCount),
		attribute.Int("callees.database", len(res.DatabaseOperations)),
		attribute.Bool("callees.max_depth_reached", res.MaxDepthReached),
	)
	e.logger.Debug("callees found",
		slog.String("target", res.TargetMethod),
		slog.Int("total", res.TotalCount),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

// calleeFrame fetches the invocations inside method's declaration. It
// returns nil when the node is at a bound, has no source declaration, or
// fails to analyze.
func (e *Engine) calleeFrame(ctx context.Context, method *symbols.Symbol, depth, maxDepth, count, limit int) *calleeFrame {
	if depth >= maxDepth || count >= limit {
		return nil
	}
	decl, err := e.provider.Declaration(ctx, method)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("read declaration", slog.String("symbol", method.QualifiedName()), slog.Any("error", err))
		}
		return nil
	}
	if decl == nil {
		return nil
	}
	invs, err := e.provider.InvocationsWithin(ctx, decl)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("list invocations", slog.String("symbol", method.QualifiedName()), slog.Any("error", err))
		}
		return nil
	}
	return &calleeFrame{method: method, depth: depth, invs: invs}
}

// handlerMethod resolves the handling method declared at a mapping's
// location.
func (e *Engine) handlerMethod(ctx context.Context, m mediator.HandlerMapping) *symbols.Symbol {
	loc := m.Location
	offset, err := e.provider.Offset(ctx, loc.File, loc.Line, loc.Column)
	if err != nil {
		e.logger.Warn("locate handler", slog.String("handler", m.HandlerFullName), slog.Any("error", err))
		return nil
	}
	sym, err := e.provider.SymbolAtPosition(ctx, loc.File, offset)
	if err != nil {
		e.logger.Warn("locate handler", slog.String("handler", m.HandlerFullName), slog.Any("error", err))
		return nil
	}
	return sym
}

func databaseOperations(records []CalleeRecord) []DatabaseOperationRecord {
	out := []DatabaseOperationRecord{}
	for _, r := range records {
		if r.Kind != KindDatabase {
			continue
		}
		out = append(out, DatabaseOperationRecord{
			Operation: r.Operation,
			Entity:    r.Entity,
			IsWrite:   r.Operation == "INSERT" || r.Operation == "UPDATE" || r.Operation == "DELETE",
			Location:  r.Location,
			Method:    r.Caller,
		})
	}
	return out
}

// externalCalls groups mediator and external callees by service, merging
// operations and locations in first-seen order.
func externalCalls(records []CalleeRecord) []ExternalCallRecord {
	out := []ExternalCallRecord{}
	index := make(map[string]int)
	for _, r := range records {
		var service, op string
		switch r.Kind {
		case KindMediator:
			service, op = MediatorService, r.RequestType
			if op == "" {
				op = r.Symbol.Name
			}
		case KindExternal:
			service, op = r.Service, r.Operation
		default:
			continue
		}
		i, ok := index[service]
		if !ok {
			i = len(out)
			index[service] = i
			out = append(out, ExternalCallRecord{Service: service, CallType: string(r.Kind)})
		}
		g := &out[i]
		if !slices.Contains(g.Operations, op) {
			g.Operations = append(g.Operations, op)
		}
		if !slices.ContainsFunc(g.Locations, r.Location.Equal) {
			g.Locations = append(g.Locations, r.Location)
		}
	}
	return out
}

func depthReached[T any](records []T, depth func(T) int, maxDepth int) bool {
	for _, r := range records {
		if depth(r) >= maxDepth {
			return true
		}
	}
	return false
}
