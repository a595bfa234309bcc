package render

import (
	"cmp"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"

	"classmorph/internal/disasm"
)

// ClassgraphDOT renders a class-level callgraph where each class of the
// batch is one node and edges represent aggregated inter-class calls.
// Calls into classes outside the batch are left out. maxNodes limits
// rendered classes (0 = all).
func ClassgraphDOT(methods []disasm.MethodRecord, edges []disasm.CallEdgeRecord, title string, t Theme, maxNodes int) string {
	classMethods := make(map[string]int)
	for _, m := range methods {
		classMethods[m.Class]++
	}

	type classEdge struct {
		from, to string
	}
	classCounts := make(map[classEdge]int)
	for _, e := range edges {
		src, dst := ownerOf(e.FromMethod), ownerOf(e.Target)
		if src == dst || classMethods[src] == 0 || classMethods[dst] == 0 {
			continue
		}
		classCounts[classEdge{src, dst}]++
	}

	involvement := make(map[string]int)
	for ce, n := range classCounts {
		involvement[ce.from] += n
		involvement[ce.to] += n
	}
	ranked := topNMap(involvement, len(involvement))
	if maxNodes > 0 && len(ranked) > maxNodes {
		ranked = ranked[:maxNodes]
	}
	renderSet := make(map[string]bool, len(ranked))
	maxMethods := 1
	for _, rc := range ranked {
		renderSet[rc.Name] = true
		maxMethods = max(maxMethods, classMethods[rc.Name])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "digraph classgraph {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  splines=true;\n")
	b.WriteString("  nodesep=0.5;\n")
	b.WriteString("  ranksep=0.8;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=\"filled,rounded\", fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Helvetica Neue,Helvetica,Arial\", fontsize=10, fontcolor=%q, height=0.4, margin=\"0.15,0.08\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	fmt.Fprintf(&b, "  edge [penwidth=0.5, arrowsize=0.5, arrowhead=vee, color=%q];\n", t.EdgeStatic)
	if title != "" {
		b.WriteString("  labelloc=t;\n  labeljust=l;\n")
		fmt.Fprintf(&b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.TextColor, dotEscape(title))
	}
	b.WriteByte('\n')

	for _, rc := range ranked {
		n := classMethods[rc.Name]
		// Scale node height by method count (log scale).
		height := 0.4 + 0.3*math.Log2(float64(n)+1)/math.Log2(float64(maxMethods)+1)
		label := fmt.Sprintf("<<font point-size=\"10\">%s</font><br/><font point-size=\"7\" color=\"%s\">%d methods</font>>",
			dotEscape(rc.Name), t.ExternalText, n)
		fmt.Fprintf(&b, "  %s [label=%s, height=%.2f];\n", dotID(rc.Name), label, height)
	}
	b.WriteByte('\n')

	keys := slices.SortedFunc(maps.Keys(classCounts), func(a, b classEdge) int {
		return cmp.Or(cmp.Compare(a.from, b.from), cmp.Compare(a.to, b.to))
	})
	maxEdge := 1
	for _, ce := range keys {
		if renderSet[ce.from] && renderSet[ce.to] {
			maxEdge = max(maxEdge, classCounts[ce])
		}
	}
	for _, ce := range keys {
		if !renderSet[ce.from] || !renderSet[ce.to] {
			continue
		}
		n := classCounts[ce]
		pw := 0.5 + 2.0*math.Log2(float64(n)+1)/math.Log2(float64(maxEdge)+1)
		attrs := fmt.Sprintf("penwidth=%.1f", pw)
		if n > 1 {
			attrs += fmt.Sprintf(", label=<<font point-size=\"7\" color=\"%s\">%d</font>>", t.ExternalText, n)
		}
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotID(ce.from), dotID(ce.to), attrs)
	}

	b.WriteString("}\n")
	return b.String()
}
