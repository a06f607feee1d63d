package export

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/dusk-indust/dotnav/internal/callgraph"
	"github.com/dusk-indust/dotnav/internal/graph"
)

// nodeIDs assigns Mermaid-safe identifiers (alphanumeric only) to labels.
type nodeIDs struct {
	ids  map[string]string
	next int
}

func newNodeIDs() *nodeIDs {
	return &nodeIDs{ids: make(map[string]string)}
}

func (n *nodeIDs) get(key string) (string, bool) {
	if id, ok := n.ids[key]; ok {
		return id, false
	}
	id := fmt.Sprintf("N%d", n.next)
	n.next++
	n.ids[key] = id
	return id, true
}

// CallersMermaid renders a caller traversal as a bottom-up graph: every
// caller points at the method it references.
func CallersMermaid(res *callgraph.CallersResult) string {
	ids := newNodeIDs()
	var sb strings.Builder
	sb.WriteString("graph BT\n")

	root, _ := ids.get(res.TargetMethod)
	fmt.Fprintf(&sb, "  %s[\"%s\"]:::target\n", root, label(res.TargetMethod))

	for _, r := range res.Callers {
		src, isNew := ids.get(r.CallingMethod)
		if isNew {
			shape := "[\"%s\"]"
			if r.Endpoint != nil {
				shape = "([\"%s\"])"
			}
			fmt.Fprintf(&sb, "  %s"+shape+"\n", src, nodeLabel(r.CallingMethod, r.Endpoint))
		}
		dst, _ := ids.get(r.Target)
		fmt.Fprintf(&sb, "  %s --> %s\n", src, dst)
	}
	sb.WriteString("  classDef target fill:#fde68a\n")
	return sb.String()
}

// CalleesMermaid renders a callee traversal top-down. Edges are labelled
// with their classification and nodes are styled per kind.
func CalleesMermaid(res *callgraph.CalleesResult) string {
	ids := newNodeIDs()
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	root, _ := ids.get(res.TargetMethod)
	fmt.Fprintf(&sb, "  %s[\"%s\"]:::target\n", root, label(res.TargetMethod))

	for _, r := range res.Callees {
		src, _ := ids.get(r.Caller)
		key := r.Method
		text := r.Method
		if r.Kind == callgraph.KindMediator {
			// One node per dispatch: distinct requests reach distinct handlers.
			key = r.Method + "|" + r.RequestType
			text = r.RequestType + " → " + r.TargetHandler
		}
		dst, isNew := ids.get(key)
		if isNew {
			fmt.Fprintf(&sb, "  %s[\"%s\"]:::%s\n", dst, label(text), strings.ToLower(string(r.Kind)))
		}
		fmt.Fprintf(&sb, "  %s -->|%s| %s\n", src, edgeLabel(r), dst)
	}

	sb.WriteString("  classDef target fill:#fde68a\n")
	sb.WriteString("  classDef database fill:#bfdbfe\n")
	sb.WriteString("  classDef mediator fill:#ddd6fe\n")
	sb.WriteString("  classDef external fill:#fecaca\n")
	return sb.String()
}

func edgeLabel(r callgraph.CalleeRecord) string {
	switch r.Kind {
	case callgraph.KindDatabase:
		if r.Entity != "" {
			return r.Operation + " " + r.Entity
		}
		return r.Operation
	case callgraph.KindExternal:
		return r.Service
	}
	return string(r.Kind)
}

func nodeLabel(name string, ep *callgraph.EndpointInfo) string {
	if ep == nil {
		return label(name)
	}
	return ep.HTTPMethod + " " + strings.ReplaceAll(ep.Route, `"`, "#quot;") + " · " + label(name)
}

// label shortens a qualified method name to Type.Method(...) and escapes
// quotes for Mermaid.
func label(s string) string {
	if i := strings.IndexByte(s, '('); i >= 0 {
		head := s[:i]
		parts := strings.Split(head, ".")
		if len(parts) > 2 {
			s = strings.Join(parts[len(parts)-2:], ".") + s[i:]
		}
	}
	return strings.ReplaceAll(s, `"`, "#quot;")
}

// GenerateMermaid produces a file-level reference diagram from the index.
// Files are grouped by directory; an arrow means the source file references a
// symbol declared in the target file.
func GenerateMermaid(ctx context.Context, store graph.Store) (string, error) {
	files, err := store.ListFiles(ctx)
	if err != nil {
		return "", fmt.Errorf("list files: %w", err)
	}
	edges, err := store.GetAllEdges(ctx)
	if err != nil {
		return "", fmt.Errorf("get edges: %w", err)
	}

	ids := newNodeIDs()
	dirs := make(map[string][]string)
	for _, f := range files {
		dir := path.Dir(f.Path)
		dirs[dir] = append(dirs[dir], f.Path)
	}
	dirNames := make([]string, 0, len(dirs))
	for d := range dirs {
		dirNames = append(dirNames, d)
	}
	sort.Strings(dirNames)

	var sb strings.Builder
	sb.WriteString("graph TD\n")
	for _, d := range dirNames {
		members := dirs[d]
		sort.Strings(members)
		id, _ := ids.get(d + "_dir")
		fmt.Fprintf(&sb, "  subgraph %s[\"%.40s\"]\n", id, d)
		for _, m := range members {
			fid, _ := ids.get(m)
			fmt.Fprintf(&sb, "    %s[\"%s\"]\n", fid, path.Base(m))
		}
		sb.WriteString("  end\n")
	}

	// Symbol ID -> declaring file, resolved lazily.
	declaredIn := make(map[string]string)
	fileOf := func(id string) (string, error) {
		if f, ok := declaredIn[id]; ok {
			return f, nil
		}
		sym, err := store.GetSymbol(ctx, id)
		if err != nil {
			return "", err
		}
		f := ""
		if sym != nil {
			f = sym.FilePath
		}
		declaredIn[id] = f
		return f, nil
	}

	seen := make(map[[2]string]bool)
	var arrows [][2]string
	for _, e := range edges {
		if e.Kind != graph.EdgeKindReferences {
			continue
		}
		target, err := fileOf(e.TargetID)
		if err != nil {
			return "", fmt.Errorf("get symbol %s: %w", e.TargetID, err)
		}
		if target == "" || target == e.File {
			continue
		}
		pair := [2]string{e.File, target}
		if seen[pair] {
			continue
		}
		seen[pair] = true
		arrows = append(arrows, pair)
	}
	sort.Slice(arrows, func(i, j int) bool {
		if arrows[i][0] != arrows[j][0] {
			return arrows[i][0] < arrows[j][0]
		}
		return arrows[i][1] < arrows[j][1]
	})
	for _, a := range arrows {
		src, _ := ids.get(a[0])
		dst, _ := ids.get(a[1])
		fmt.Fprintf(&sb, "  %s --> %s\n", src, dst)
	}

	return sb.String(), nil
}
