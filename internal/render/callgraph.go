package render

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"

	"classmorph/internal/disasm"
)

// MethodName returns the qualified owner.name+desc of m, the form call
// edge records use for callers and targets.
func MethodName(m disasm.MethodRecord) string {
	return m.Class + "." + m.Name + m.Desc
}

// edgeColor returns the DOT color for an invoke kind.
func edgeColor(kind string, t Theme) string {
	switch kind {
	case "invokestatic":
		return t.EdgeStatic
	case "invokevirtual":
		return t.EdgeVirtual
	case "invokeinterface":
		return t.EdgeInterface
	case "invokespecial":
		return t.EdgeSpecial
	case "invokedynamic":
		return t.EdgeDynamic
	default:
		return t.EdgeStatic
	}
}

// edgeStyle returns the dot style for an invoke kind.
func edgeStyle(kind string) string {
	switch kind {
	case "invokeinterface":
		return "dotted"
	case "invokedynamic":
		return "dashed"
	default:
		return "solid"
	}
}

// CallgraphDOT renders a callgraph from methods and call edges as DOT.
// Methods are clustered by class. Targets outside the batch are shown as
// plaintext nodes. maxNodes limits the number of method nodes rendered
// (0 = all).
func CallgraphDOT(methods []disasm.MethodRecord, edges []disasm.CallEdgeRecord, title string, t Theme, maxNodes int) string {
	type edgeKey struct {
		from, to, kind string
	}
	counts := make(map[edgeKey]int)
	for _, e := range edges {
		if e.Target == "" {
			continue
		}
		counts[edgeKey{e.FromMethod, e.Target, e.Kind}]++
	}

	// Filter to methods that participate in edges.
	refNodes := make(map[string]bool)
	for k := range counts {
		refNodes[k.from] = true
		refNodes[k.to] = true
	}
	var rendered []disasm.MethodRecord
	for _, m := range methods {
		if refNodes[MethodName(m)] {
			rendered = append(rendered, m)
		}
	}
	if maxNodes > 0 && len(rendered) > maxNodes {
		rendered = rendered[:maxNodes]
	}
	known := make(map[string]bool, len(rendered))
	for _, m := range rendered {
		known[MethodName(m)] = true
	}

	keys := slices.SortedFunc(maps.Keys(counts), func(a, b edgeKey) int {
		return cmp.Or(cmp.Compare(a.from, b.from), cmp.Compare(a.to, b.to), cmp.Compare(a.kind, b.kind))
	})

	external := make(map[string]bool)
	for _, k := range keys {
		if known[k.from] && !known[k.to] {
			external[k.to] = true
		}
	}

	byClass := make(map[string][]disasm.MethodRecord)
	for _, m := range rendered {
		byClass[m.Class] = append(byClass[m.Class], m)
	}

	var b strings.Builder
	header(&b, "callgraph", "LR", title, 9, t)

	var loose []disasm.MethodRecord
	for _, cls := range slices.Sorted(maps.Keys(byClass)) {
		ms := byClass[cls]
		if len(ms) < 2 {
			loose = append(loose, ms...)
			continue
		}
		fmt.Fprintf(&b, "  subgraph %s {\n", "cluster_"+dotID(cls))
		fmt.Fprintf(&b, "    label=<<font point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.ClusterLabel, dotEscape(cls))
		fmt.Fprintf(&b, "    style=dotted; color=%q; penwidth=0.3;\n", t.ClusterBorder)
		for _, m := range ms {
			name := MethodName(m)
			fmt.Fprintf(&b, "    %s [label=%q];\n", dotID(name), truncLabel(stripMethodName(name, cls), 50))
		}
		b.WriteString("  }\n")
	}
	for _, m := range loose {
		name := MethodName(m)
		fmt.Fprintf(&b, "  %s [label=%q];\n", dotID(name), truncLabel(name, 60))
	}
	b.WriteByte('\n')

	for _, name := range slices.Sorted(maps.Keys(external)) {
		fmt.Fprintf(&b, "  %s [label=%q, shape=plaintext, style=\"\", fillcolor=none, fontcolor=%q, fontsize=8];\n",
			dotID(name), truncLabel(name, 50), t.ExternalText)
	}
	b.WriteByte('\n')

	for _, k := range keys {
		if !known[k.from] {
			continue
		}
		n := counts[k]
		color := edgeColor(k.kind, t)
		attrs := fmt.Sprintf("color=%q, style=%q", color, edgeStyle(k.kind))
		if n > 1 {
			attrs += fmt.Sprintf(", penwidth=%.1f", 0.5+float64(n)*0.1)
			if n > 2 {
				attrs += fmt.Sprintf(", label=<<font point-size=\"7\" color=\"%s\">%dx</font>>", color, n)
			}
		}
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotID(k.from), dotID(k.to), attrs)
	}

	b.WriteString("}\n")
	return b.String()
}

// CallgraphStats computes summary statistics from edges.
type CallgraphStats struct {
	TotalMethods  int
	TotalEdges    int
	InternalEdges int // target defined in the batch
	ExternalEdges int
	UniqueClasses int
	KindCounts    map[string]int
	TopCallers    []NameCount // sorted desc
	TopCallees    []NameCount // sorted desc
	TopClasses    []NameCount // sorted desc by method count
}

// NameCount pairs a name with a count.
type NameCount struct {
	Name  string
	Count int
}

// ComputeStats computes callgraph statistics from JSONL data.
func ComputeStats(methods []disasm.MethodRecord, edges []disasm.CallEdgeRecord) CallgraphStats {
	stats := CallgraphStats{
		TotalMethods: len(methods),
		TotalEdges:   len(edges),
		KindCounts:   make(map[string]int),
	}

	defined := make(map[string]bool, len(methods))
	classCount := make(map[string]int)
	for _, m := range methods {
		defined[MethodName(m)] = true
		classCount[m.Class]++
	}
	stats.UniqueClasses = len(classCount)

	callerCount := make(map[string]int)
	calleeCount := make(map[string]int)
	for _, e := range edges {
		stats.KindCounts[e.Kind]++
		callerCount[e.FromMethod]++
		calleeCount[e.Target]++
		if defined[e.Target] {
			stats.InternalEdges++
		} else {
			stats.ExternalEdges++
		}
	}

	stats.TopCallers = topNMap(callerCount, 20)
	stats.TopCallees = topNMap(calleeCount, 20)
	stats.TopClasses = topNMap(classCount, 30)
	return stats
}

// topNMap returns the top N entries from a map, sorted descending.
// Ties break by name.
func topNMap(m map[string]int, n int) []NameCount {
	entries := make([]NameCount, 0, len(m))
	for name, count := range m {
		entries = append(entries, NameCount{name, count})
	}
	slices.SortFunc(entries, func(a, b NameCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Name, b.Name))
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
