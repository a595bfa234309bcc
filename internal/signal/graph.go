package signal

import (
	"slices"
	"strings"

	"classmorph/internal/callgraph"
	"classmorph/internal/disasm"
)

// ClassifiedStringRef is a string reference with its signal categories.
type ClassifiedStringRef struct {
	Method     string   `json:"method"`
	Offset     int      `json:"offset"`
	PoolIdx    int      `json:"pool_idx"`
	Value      string   `json:"value"`
	Categories []string `json:"categories,omitempty"`
}

// SignalMethod is a method in the signal graph.
type SignalMethod struct {
	Name         string                `json:"name"` // owner.name+desc
	Class        string                `json:"class"`
	CodeSize     int                   `json:"code_size"`
	StringRefs   []ClassifiedStringRef `json:"string_refs,omitempty"`
	Calls        []string              `json:"calls,omitempty"`   // classified call targets
	Classes      []string              `json:"classes,omitempty"` // batch classes named by literals
	Categories   []string              `json:"categories"`
	Severity     string                `json:"severity"` // "high", "medium", "low"
	Role         string                `json:"role"`     // "signal", "context", ""
	IsEntryPoint bool                  `json:"is_entry_point,omitempty"`
}

// SignalEdge is an edge in the signal graph.
type SignalEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"` // invoke opcode
}

// SignalGraph is the complete signal graph.
type SignalGraph struct {
	Methods []SignalMethod `json:"methods"`
	Edges   []SignalEdge   `json:"edges"`
	Stats   SignalStats    `json:"stats"`
}

// SignalStats holds summary statistics.
type SignalStats struct {
	TotalMethods   int            `json:"total_methods"`
	SignalMethods  int            `json:"signal_methods"`
	ContextMethods int            `json:"context_methods"`
	TotalEdges     int            `json:"total_edges"`
	StringRefCount int            `json:"string_ref_count"`
	Categories     map[string]int `json:"categories"`
}

// splitTarget splits owner.name+desc into owner and name.
func splitTarget(target string) (owner, name string) {
	head := target
	if i := strings.IndexByte(head, '('); i >= 0 {
		head = head[:i]
	}
	if i := strings.LastIndexByte(head, '.'); i >= 0 {
		return head[:i], head[i+1:]
	}
	return "", head
}

// classLiteral returns the batch class a string names: a dotted or
// internal name, or a reference descriptor.
func classLiteral(s string, classes map[string]bool) (string, bool) {
	if len(s) > 2 && s[0] == 'L' && s[len(s)-1] == ';' {
		s = s[1 : len(s)-1]
	}
	s = strings.ReplaceAll(s, ".", "/")
	return s, classes[s]
}

// BuildSignalGraph constructs a signal graph from extracted records.
// classes holds the internal names of the batch. k = number of context
// hops from each signal method. entryPoints may be nil.
func BuildSignalGraph(rec *callgraph.Records, classes map[string]bool, k int, entryPoints map[string]bool) *SignalGraph {
	type methodSignal struct {
		refs       []ClassifiedStringRef
		calls      []string
		classes    []string
		categories map[string]bool
	}
	signals := make(map[string]*methodSignal)
	get := func(name string) *methodSignal {
		ms, ok := signals[name]
		if !ok {
			ms = &methodSignal{categories: make(map[string]bool)}
			signals[name] = ms
		}
		return ms
	}
	catCounts := make(map[string]int)
	mark := func(ms *methodSignal, cats []string) {
		for _, c := range cats {
			if !ms.categories[c] {
				ms.categories[c] = true
				catCounts[c]++
			}
		}
	}

	for _, sr := range rec.Strings {
		cats := ClassifyString(sr.Value)
		cls, named := classLiteral(sr.Value, classes)
		if named {
			cats = append(cats, CatClassName)
		}
		if len(cats) == 0 {
			continue
		}
		ms := get(sr.Method)
		ms.refs = append(ms.refs, ClassifiedStringRef{
			Method:     sr.Method,
			Offset:     sr.Offset,
			PoolIdx:    sr.PoolIdx,
			Value:      sr.Value,
			Categories: cats,
		})
		if named && !slices.Contains(ms.classes, cls) {
			ms.classes = append(ms.classes, cls)
		}
		mark(ms, cats)
	}

	for _, e := range rec.Edges {
		owner, name := splitTarget(e.Target)
		cats := ClassifyCall(owner, name)
		if len(cats) == 0 {
			continue
		}
		ms := get(e.FromMethod)
		if !slices.Contains(ms.calls, e.Target) {
			ms.calls = append(ms.calls, e.Target)
		}
		mark(ms, cats)
	}

	for _, m := range rec.Methods {
		if strings.Contains(" "+m.Access+" ", " native ") {
			mark(get(m.Class+"."+m.Name+m.Desc), []string{CatNative})
		}
	}

	// Bidirectional adjacency for BFS context expansion.
	fwd := make(map[string][]string) // caller → callees
	rev := make(map[string][]string) // callee → callers
	for _, e := range rec.Edges {
		fwd[e.FromMethod] = append(fwd[e.FromMethod], e.Target)
		rev[e.Target] = append(rev[e.Target], e.FromMethod)
	}

	contextSet := make(map[string]bool)
	visited := make(map[string]bool)
	type queueItem struct {
		name  string
		depth int
	}
	var queue []queueItem
	for _, name := range sortedKeys(signals) {
		visited[name] = true
		queue = append(queue, queueItem{name, 0})
	}
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		if item.depth >= k {
			continue
		}
		for _, next := range append(fwd[item.name], rev[item.name]...) {
			if !visited[next] {
				visited[next] = true
				contextSet[next] = true
				queue = append(queue, queueItem{next, item.depth + 1})
			}
		}
	}

	var all []SignalMethod
	for _, m := range rec.Methods {
		name := m.Class + "." + m.Name + m.Desc
		sm := SignalMethod{
			Name:         name,
			Class:        m.Class,
			CodeSize:     m.CodeSize,
			IsEntryPoint: entryPoints[name],
		}
		if ms, ok := signals[name]; ok {
			sm.Role = "signal"
			sm.StringRefs = ms.refs
			sm.Calls = ms.calls
			sm.Classes = ms.classes
			sm.Categories = sortedKeys(ms.categories)
			sm.Severity = MaxSeverity(sm.Categories)
		} else if contextSet[name] {
			sm.Role = "context"
		}
		all = append(all, sm)
	}

	// Sort: signal → context → other.
	// Within signal: entry points first, then severity, then category count.
	roleOrd := map[string]int{"signal": 0, "context": 1, "": 2}
	sevOrd := map[string]int{"high": 0, "medium": 1, "low": 2, "": 3}
	slices.SortStableFunc(all, func(a, b SignalMethod) int {
		if a.Role != b.Role {
			return roleOrd[a.Role] - roleOrd[b.Role]
		}
		if a.Role == "signal" && a.IsEntryPoint != b.IsEntryPoint {
			if a.IsEntryPoint {
				return -1
			}
			return 1
		}
		if a.Severity != b.Severity {
			return sevOrd[a.Severity] - sevOrd[b.Severity]
		}
		if len(a.Categories) != len(b.Categories) {
			return len(b.Categories) - len(a.Categories)
		}
		return strings.Compare(a.Name, b.Name)
	})

	var edges []SignalEdge
	seen := make(map[SignalEdge]bool)
	for _, e := range rec.Edges {
		se := SignalEdge{From: e.FromMethod, To: e.Target, Kind: e.Kind}
		if seen[se] {
			continue
		}
		seen[se] = true
		edges = append(edges, se)
	}

	return &SignalGraph{
		Methods: all,
		Edges:   edges,
		Stats: SignalStats{
			TotalMethods:   len(rec.Methods),
			SignalMethods:  len(signals),
			ContextMethods: len(contextSet),
			TotalEdges:     len(edges),
			StringRefCount: len(rec.Strings),
			Categories:     catCounts,
		},
	}
}

// SuggestExclusions lists, in dotted form, the batch classes that signal
// methods name through string literals. Renaming them is likely to break
// the lookup that uses the literal.
func SuggestExclusions(g *SignalGraph) []string {
	var out []string
	for _, m := range g.Methods {
		for _, c := range m.Classes {
			d := strings.ReplaceAll(c, "/", ".")
			if !slices.Contains(out, d) {
				out = append(out, d)
			}
		}
	}
	slices.Sort(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// EdgeRecords converts signal edges back to call edge records, for
// rendering the graph with the call graph views.
func EdgeRecords(g *SignalGraph) []disasm.CallEdgeRecord {
	out := make([]disasm.CallEdgeRecord, 0, len(g.Edges))
	for _, e := range g.Edges {
		out = append(out, disasm.CallEdgeRecord{FromMethod: e.From, Kind: e.Kind, Target: e.To})
	}
	return out
}
