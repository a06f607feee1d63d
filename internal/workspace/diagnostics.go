package workspace

import (
	"context"
	"fmt"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// Diagnostic is a syntax problem reported by the parser.
type Diagnostic struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	EndLine   int    `json:"endLine"`
	EndColumn int    `json:"endColumn"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
}

const maxSnippet = 40

// collectDiagnostics reports ERROR and MISSING nodes in source order.
func collectDiagnostics(doc *Document) []Diagnostic {
	var out []Diagnostic
	walk(doc.Root(), func(n *tree_sitter.Node) bool {
		switch {
		case n.IsMissing():
			out = append(out, diagnosticAt(doc, n, fmt.Sprintf("missing %s", n.Kind())))
			return false
		case n.IsError():
			snippet := strings.Join(strings.Fields(n.Utf8Text(doc.Source)), " ")
			if len(snippet) > maxSnippet {
				snippet = snippet[:maxSnippet] + "..."
			}
			out = append(out, diagnosticAt(doc, n, fmt.Sprintf("syntax error near %q", snippet)))
			return false
		}
		return n.HasError()
	})
	return out
}

func diagnosticAt(doc *Document, n *tree_sitter.Node, msg string) Diagnostic {
	start, end := position(doc.Path, n), endPosition(doc.Path, n)
	return Diagnostic{
		File:      doc.Path,
		Line:      start.Line,
		Column:    start.Column,
		EndLine:   end.Line,
		EndColumn: end.Column,
		Severity:  "error",
		Message:   msg,
	}
}

// Diagnostics returns syntax diagnostics for one document, or for every
// document when path is empty.
func (w *Workspace) Diagnostics(_ context.Context, path string) ([]Diagnostic, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, err := w.current()
	if err != nil {
		return nil, err
	}
	if path != "" {
		doc, err := s.document(w.relPath(path))
		if err != nil {
			return nil, err
		}
		return collectDiagnostics(doc), nil
	}
	var out []Diagnostic
	for _, p := range s.paths {
		out = append(out, collectDiagnostics(s.docs[p])...)
	}
	return out, nil
}
