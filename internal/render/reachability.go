package render

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"

	"classmorph/internal/disasm"
)

// FindEntryPoints returns methods no other batch method calls, plus every
// main method and static initializer.
func FindEntryPoints(methods []disasm.MethodRecord, edges []disasm.CallEdgeRecord) []string {
	called := make(map[string]bool)
	for _, e := range edges {
		if e.FromMethod != e.Target {
			called[e.Target] = true
		}
	}
	var entries []string
	for _, m := range methods {
		name := MethodName(m)
		switch {
		case m.Name == "<clinit>",
			m.Name == "main" && m.Desc == "([Ljava/lang/String;)V",
			!called[name]:
			entries = append(entries, name)
		}
	}
	slices.Sort(entries)
	return entries
}

// ReachableSet performs BFS from entry points following call edges
// and returns the set of all reachable method names.
func ReachableSet(entryPoints []string, edges []disasm.CallEdgeRecord) map[string]bool {
	adj := make(map[string][]string)
	for _, e := range edges {
		adj[e.FromMethod] = append(adj[e.FromMethod], e.Target)
	}

	reachable := make(map[string]bool)
	queue := make([]string, 0, len(entryPoints))
	for _, ep := range entryPoints {
		if !reachable[ep] {
			reachable[ep] = true
			queue = append(queue, ep)
		}
	}
	for len(queue) > 0 {
		fn := queue[0]
		queue = queue[1:]
		for _, target := range adj[fn] {
			if !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}
	}
	return reachable
}

// ReachabilityDOT renders the callgraph filtered to the reachable batch
// methods. Entry points are highlighted.
func ReachabilityDOT(methods []disasm.MethodRecord, edges []disasm.CallEdgeRecord, reachable map[string]bool, entryPoints []string, title string, t Theme) string {
	entrySet := make(map[string]bool, len(entryPoints))
	for _, ep := range entryPoints {
		entrySet[ep] = true
	}
	defined := make(map[string]string, len(methods))
	for _, m := range methods {
		defined[MethodName(m)] = m.Class
	}

	type edgeKey struct{ from, to string }
	counts := make(map[edgeKey]int)
	for _, e := range edges {
		if _, ok := defined[e.Target]; !ok {
			continue
		}
		if !reachable[e.FromMethod] || !reachable[e.Target] {
			continue
		}
		counts[edgeKey{e.FromMethod, e.Target}]++
	}

	refNodes := make(map[string]bool)
	for k := range counts {
		refNodes[k.from] = true
		refNodes[k.to] = true
	}
	for _, ep := range entryPoints {
		if _, ok := defined[ep]; ok {
			refNodes[ep] = true
		}
	}

	byClass := make(map[string][]string)
	for _, name := range slices.Sorted(maps.Keys(refNodes)) {
		cls := defined[name]
		byClass[cls] = append(byClass[cls], name)
	}

	var b strings.Builder
	header(&b, "reachable", "LR", title, 9, t)

	writeNode := func(indent, name, label string) {
		if entrySet[name] {
			fmt.Fprintf(&b, "%s%s [label=%q, penwidth=1.5, color=%q];\n", indent, dotID(name), label, t.EntryBorder)
		} else {
			fmt.Fprintf(&b, "%s%s [label=%q];\n", indent, dotID(name), label)
		}
	}

	var loose []string
	for _, cls := range slices.Sorted(maps.Keys(byClass)) {
		names := byClass[cls]
		if len(names) < 2 {
			loose = append(loose, names...)
			continue
		}
		fmt.Fprintf(&b, "  subgraph %s {\n", "cluster_"+dotID(cls))
		fmt.Fprintf(&b, "    label=<<font point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.ClusterLabel, dotEscape(cls))
		fmt.Fprintf(&b, "    style=dotted; color=%q; penwidth=0.3;\n", t.ClusterBorder)
		for _, name := range names {
			writeNode("    ", name, truncLabel(stripMethodName(name, cls), 50))
		}
		b.WriteString("  }\n")
	}
	slices.Sort(loose)
	for _, name := range loose {
		writeNode("  ", name, truncLabel(name, 50))
	}
	b.WriteByte('\n')

	keys := slices.SortedFunc(maps.Keys(counts), func(a, b edgeKey) int {
		return cmp.Or(cmp.Compare(a.from, b.from), cmp.Compare(a.to, b.to))
	})
	for _, k := range keys {
		attrs := fmt.Sprintf("color=%q", t.EdgeStatic)
		if n := counts[k]; n > 1 {
			attrs += fmt.Sprintf(", penwidth=%.1f", 0.5+float64(n)*0.1)
		}
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotID(k.from), dotID(k.to), attrs)
	}

	b.WriteString("}\n")
	return b.String()
}
