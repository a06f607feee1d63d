package workspace

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_csharp "github.com/tree-sitter/tree-sitter-c-sharp/bindings/go"

	"github.com/dusk-indust/dotnav/internal/symbols"
)

var csharp = tree_sitter.NewLanguage(tree_sitter_csharp.Language())

// Document is one parsed C# source file.
type Document struct {
	Path   string
	Source []byte
	Tree   *tree_sitter.Tree
	// Hash is the xxhash of Source, hex encoded.
	Hash       string
	lineStarts []int
}

// Root returns the compilation unit node.
func (d *Document) Root() *tree_sitter.Node {
	return d.Tree.RootNode()
}

// LOC returns the number of lines in the document.
func (d *Document) LOC() int {
	if len(d.Source) == 0 {
		return 0
	}
	return len(d.lineStarts)
}

// Offset converts a 1-based line and column into a byte offset. Columns
// count bytes, matching the positions reported for symbols and references.
func (d *Document) Offset(line, column int) (int, error) {
	if line < 1 || line > len(d.lineStarts) {
		return 0, fmt.Errorf("%s: line %d out of range 1..%d", d.Path, line, len(d.lineStarts))
	}
	if column < 1 {
		return 0, fmt.Errorf("%s: column %d out of range", d.Path, column)
	}
	start := d.lineStarts[line-1]
	end := len(d.Source)
	if line < len(d.lineStarts) {
		end = d.lineStarts[line] - 1
	}
	off := start + column - 1
	if off > end {
		off = end
	}
	return off, nil
}

// Location converts a byte offset into a 1-based Location.
func (d *Document) Location(offset int) symbols.Location {
	line := sort.Search(len(d.lineStarts), func(i int) bool { return d.lineStarts[i] > offset })
	if line == 0 {
		line = 1
	}
	return symbols.Location{
		File:   d.Path,
		Line:   line,
		Column: offset - d.lineStarts[line-1] + 1,
		Offset: offset,
	}
}

func (d *Document) close() {
	if d.Tree != nil {
		d.Tree.Close()
	}
}

// parseDocument parses one source file. A new tree-sitter parser is created
// per call, so concurrent calls are safe.
func parseDocument(_ context.Context, path string, source []byte) (*Document, error) {
	parser := tree_sitter.NewParser()
	defer parser.Close()

	if err := parser.SetLanguage(csharp); err != nil {
		return nil, fmt.Errorf("set language c#: %w", err)
	}
	tree := parser.Parse(source, nil)
	if tree == nil {
		return nil, fmt.Errorf("tree-sitter returned nil tree for %s", path)
	}
	return &Document{
		Path:       path,
		Source:     source,
		Tree:       tree,
		Hash:       strconv.FormatUint(xxhash.Sum64(source), 16),
		lineStarts: lineStarts(source),
	}, nil
}

func lineStarts(source []byte) []int {
	starts := make([]int, 1, bytes.Count(source, []byte{'\n'})+1)
	for i, b := range source {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}
