package graph

// --- Enums ---

// SymbolKind classifies symbols within the index.
type SymbolKind string

const (
	SymbolKindClass         SymbolKind = "class"
	SymbolKindInterface     SymbolKind = "interface"
	SymbolKindRecord        SymbolKind = "record"
	SymbolKindStruct        SymbolKind = "struct"
	SymbolKindMethod        SymbolKind = "method"
	SymbolKindConstructor   SymbolKind = "constructor"
	SymbolKindLocalFunction SymbolKind = "local_function"
	SymbolKindAccessor      SymbolKind = "accessor"
	// SymbolKindTopLevel stands in for the top-level statements of a file.
	SymbolKindTopLevel SymbolKind = "toplevel"
)

// IsType reports whether k names a type declaration.
func (k SymbolKind) IsType() bool {
	switch k {
	case SymbolKindClass, SymbolKindInterface, SymbolKindRecord, SymbolKindStruct:
		return true
	}
	return false
}

// EdgeKind classifies relationships between nodes.
type EdgeKind string

const (
	// EdgeKindDefines links a file to a symbol declared in it.
	EdgeKindDefines EdgeKind = "DEFINES"
	// EdgeKindContains links a type to its members.
	EdgeKindContains EdgeKind = "CONTAINS"
	// EdgeKindReferences links the symbol containing a reference site to the
	// referenced symbol. The edge carries the site location.
	EdgeKindReferences EdgeKind = "REFERENCES"
	// EdgeKindInherits links a type to a base type declared in source.
	EdgeKindInherits EdgeKind = "INHERITS"
)

// --- Models ---

// FileNode represents a C# source file in the index.
type FileNode struct {
	Path        string `json:"path"`
	Hash        string `json:"hash"`
	LOC         int    `json:"loc"`
	ParseErrors int    `json:"parseErrors"`
}

// SymbolNode represents a declared type or method-like member.
type SymbolNode struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Kind           SymbolKind `json:"kind"`
	ContainingType string     `json:"containingType,omitempty"`
	Namespace      string     `json:"namespace,omitempty"`
	FilePath       string     `json:"filePath"`
	StartLine      int        `json:"startLine"`
	EndLine        int        `json:"endLine"`
	Column         int        `json:"column"`
}

// Edge represents a relationship between two nodes. File, Line and Column
// locate the reference site for REFERENCES edges and are zero otherwise.
type Edge struct {
	SourceID string   `json:"sourceId"`
	TargetID string   `json:"targetId"`
	Kind     EdgeKind `json:"kind"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
}

// GraphStats summarizes the index.
type GraphStats struct {
	FileCount      int `json:"fileCount"`
	SymbolCount    int `json:"symbolCount"`
	EdgeCount      int `json:"edgeCount"`
	ReferenceCount int `json:"referenceCount"`
}
