// Package workspace loads a C# source tree with tree-sitter and implements
// symbols.Provider over it: declaration tables, heuristic invocation
// binding, a reference index kept in a graph.Store, and syntax diagnostics.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/dotnav/internal/graph"
	"github.com/dusk-indust/dotnav/internal/symbols"
)

var tracer = otel.Tracer("dotnav.workspace")

// Options configures a Workspace.
type Options struct {
	// Root is the directory scanned for .cs files.
	Root             string
	Exclude          []string
	RespectGitignore bool
	// Workers bounds concurrent parsing. Defaults to 8.
	Workers int
	// KnownNamespaces maps external type names to their namespaces.
	KnownNamespaces map[string]string
	// Store receives the symbol and reference index. Defaults to a MemStore.
	Store  graph.Store
	Logger *slog.Logger
}

// LoadStats summarizes one load.
type LoadStats struct {
	Files       int           `json:"files"`
	Types       int           `json:"types"`
	Methods     int           `json:"methods"`
	References  int           `json:"references"`
	ParseErrors int           `json:"parseErrors"`
	Duration    time.Duration `json:"duration"`
}

// Workspace is a loaded C# source tree. It is safe for concurrent use;
// Load swaps in a new snapshot atomically with respect to readers.
type Workspace struct {
	opts   Options
	store  graph.Store
	logger *slog.Logger

	mu   sync.RWMutex
	snap *snapshot
}

var _ symbols.Provider = (*Workspace)(nil)

// New creates an unloaded Workspace.
func New(opts Options) *Workspace {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Store == nil {
		opts.Store = graph.NewMemStore()
	}
	if abs, err := filepath.Abs(opts.Root); err == nil {
		opts.Root = abs
	}
	return &Workspace{opts: opts, store: opts.Store, logger: opts.Logger}
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string { return w.opts.Root }

// Store returns the index backing reference lookups.
func (w *Workspace) Store() graph.Store { return w.store }

// Loaded reports whether Load has completed at least once.
func (w *Workspace) Loaded() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snap != nil
}

// Load discovers, parses and indexes every source file under the root,
// replacing any previous snapshot.
func (w *Workspace) Load(ctx context.Context) (*LoadStats, error) {
	ctx, span := tracer.Start(ctx, "Workspace.Load",
		trace.WithAttributes(attribute.String("workspace.root", w.opts.Root)))
	defer span.End()

	start := time.Now()
	paths, err := discoverSources(w.opts.Root, w.opts.Exclude, w.opts.RespectGitignore)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "discover failed")
		return nil, fmt.Errorf("discover sources: %w", err)
	}

	docs, err := w.parseAll(ctx, paths)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return nil, err
	}

	snap := newSnapshot(docs, w.opts.KnownNamespaces)
	idx := buildIndex(snap)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writeIndex(ctx, idx); err != nil {
		for _, d := range docs {
			d.close()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "index failed")
		return nil, fmt.Errorf("write index: %w", err)
	}
	old := w.snap
	w.snap = snap
	if old != nil {
		old.close()
	}

	stats := &LoadStats{
		Files:       len(docs),
		Types:       len(snap.types),
		Methods:     len(snap.methodByID),
		References:  len(idx.references),
		ParseErrors: idx.parseErrors,
		Duration:    time.Since(start),
	}
	span.SetAttributes(
		attribute.Int("workspace.files", stats.Files),
		attribute.Int("workspace.references", stats.References),
	)
	w.logger.Info("workspace loaded",
		slog.String("root", w.opts.Root),
		slog.Int("files", stats.Files),
		slog.Int("types", stats.Types),
		slog.Int("methods", stats.Methods),
		slog.Int("references", stats.References),
		slog.Int("parse_errors", stats.ParseErrors),
		slog.Duration("duration", stats.Duration),
	)
	return stats, nil
}

// Reload re-reads the workspace. The watcher calls it after source changes.
func (w *Workspace) Reload(ctx context.Context) (*LoadStats, error) {
	return w.Load(ctx)
}

// Close releases parsed trees and the index store.
func (w *Workspace) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.snap != nil {
		w.snap.close()
		w.snap = nil
	}
	return w.store.Close()
}

// parseAll reads and parses paths with bounded parallelism. Unreadable files
// are logged and skipped.
func (w *Workspace) parseAll(ctx context.Context, paths []string) ([]*Document, error) {
	docs := make([]*Document, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Workers)
	for i, rel := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			src, err := os.ReadFile(filepath.Join(w.opts.Root, filepath.FromSlash(rel)))
			if err != nil {
				w.logger.Warn("skip unreadable source", slog.String("file", rel), slog.Any("error", err))
				return nil
			}
			doc, err := parseDocument(gctx, rel, src)
			if err != nil {
				w.logger.Warn("skip unparsable source", slog.String("file", rel), slog.Any("error", err))
				return nil
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, d := range docs {
			if d != nil {
				d.close()
			}
		}
		return nil, err
	}
	out := docs[:0]
	for _, d := range docs {
		if d != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

// snapshot is an immutable view of one load. Tree nodes never leave the
// workspace lock.
type snapshot struct {
	docs          map[string]*Document
	paths         []string
	files         map[string]*fileDecls
	types         []*typeDecl
	typesByName   map[string][]*typeDecl
	methodsByName map[string][]*methodDecl
	methodByID    map[string]*methodDecl
	methodByNode  map[uintptr]*methodDecl
	extensions    map[string][]*methodDecl
	known         map[string]string
	fingerprint   string

	extMu     sync.Mutex
	externals map[string]*symbols.Symbol
}

func newSnapshot(docs []*Document, known map[string]string) *snapshot {
	s := &snapshot{
		docs:          make(map[string]*Document, len(docs)),
		files:         make(map[string]*fileDecls, len(docs)),
		typesByName:   make(map[string][]*typeDecl),
		methodsByName: make(map[string][]*methodDecl),
		methodByID:    make(map[string]*methodDecl),
		methodByNode:  make(map[uintptr]*methodDecl),
		extensions:    make(map[string][]*methodDecl),
		known:         known,
		externals:     make(map[string]*symbols.Symbol),
	}
	if s.known == nil {
		s.known = map[string]string{}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })

	h := xxhash.New()
	for _, doc := range docs {
		s.docs[doc.Path] = doc
		s.paths = append(s.paths, doc.Path)
		_, _ = h.WriteString(doc.Path)
		_, _ = h.WriteString(doc.Hash)

		fd := collectDecls(doc)
		s.files[doc.Path] = fd
		for _, td := range fd.types {
			s.types = append(s.types, td)
			s.typesByName[td.name] = append(s.typesByName[td.name], td)
		}
		for _, md := range fd.methods {
			s.addMethod(md)
			s.methodByNode[md.node.Id()] = md
		}
		if fd.topLevel != nil {
			s.methodByID[fd.topLevel.id] = fd.topLevel
		}
	}
	s.fingerprint = strconv.FormatUint(h.Sum64(), 16)
	return s
}

func (s *snapshot) addMethod(md *methodDecl) {
	s.methodByID[md.id] = md
	s.methodsByName[md.name] = append(s.methodsByName[md.name], md)
	if md.extension {
		s.extensions[md.name] = append(s.extensions[md.name], md)
	}
}

func (s *snapshot) close() {
	for _, d := range s.docs {
		d.close()
	}
}

// methodAt returns the innermost method-like declaration containing offset.
func (s *snapshot) methodAt(doc *Document, offset int) *methodDecl {
	n := doc.Root().NamedDescendantForByteRange(uint(offset), uint(offset))
	for ; n != nil; n = n.Parent() {
		if md, ok := s.methodByNode[n.Id()]; ok {
			return md
		}
	}
	return nil
}

// current returns the loaded snapshot. Callers must hold w.mu.
func (w *Workspace) current() (*snapshot, error) {
	if w.snap == nil {
		return nil, symbols.ErrNotLoaded
	}
	return w.snap, nil
}

// relPath normalizes a caller-supplied path to the slash-separated,
// root-relative form used as document keys.
func (w *Workspace) relPath(p string) string {
	if filepath.IsAbs(p) {
		if rel, err := filepath.Rel(w.opts.Root, p); err == nil {
			p = rel
		}
	}
	return filepath.ToSlash(filepath.Clean(p))
}

func (s *snapshot) document(path string) (*Document, error) {
	doc, ok := s.docs[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, symbols.ErrDocumentNotFound)
	}
	return doc, nil
}
