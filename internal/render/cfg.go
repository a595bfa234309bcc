package render

import (
	"fmt"
	"strings"

	"classmorph/internal/disasm"
)

// CFGDOT renders a method's basic-block CFG as DOT.
// Each basic block is a node; edges represent control flow.
// Entry block is highlighted, handler entries are dashed and exception
// edges are drawn in the exception color.
func CFGDOT(cfg *disasm.FuncCFG, pool disasm.PoolLookup, t Theme) string {
	if cfg == nil || len(cfg.Blocks) == 0 {
		return ""
	}
	ref := func(idx int) string {
		if pool != nil {
			if s, ok := pool(idx); ok {
				return s
			}
		}
		return fmt.Sprintf("#%d", idx)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "digraph cfg {\n")
	b.WriteString("  rankdir=TB;\n")
	b.WriteString("  nodesep=0.3;\n")
	b.WriteString("  ranksep=0.4;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Courier,monospace\", fontsize=8, fontcolor=%q, margin=\"0.08,0.04\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	b.WriteString("  edge [penwidth=0.7, arrowsize=0.5, arrowhead=vee];\n")
	b.WriteString("  labelloc=t;\n  labeljust=l;\n")
	fmt.Fprintf(&b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"9\" color=\"%s\">%s</font>>;\n",
		t.TextColor, dotEscape(cfg.Name))
	b.WriteByte('\n')

	for _, blk := range cfg.Blocks {
		var lines []string
		for _, in := range blk.Insts {
			if in.IsLabel() {
				continue
			}
			pc := "+"
			if in.Offset >= 0 {
				pc = fmt.Sprintf("%d", in.Offset)
			}
			lines = append(lines, dotEscape(pc+": "+truncLabel(disasm.Text(in, ref), 60)))
		}
		if len(lines) > 12 {
			kept := append(lines[:5:5], fmt.Sprintf("... (%d more)", len(lines)-10))
			lines = append(kept, lines[len(lines)-5:]...)
		}
		label := fmt.Sprintf("<b>B%d</b><br align=\"left\"/>", blk.ID)
		if len(lines) > 0 {
			label += strings.Join(lines, "<br align=\"left\"/>") + "<br align=\"left\"/>"
		}

		attrs := ""
		if blk.IsEntry {
			attrs = fmt.Sprintf(", penwidth=1.5, color=%q", t.EntryBorder)
		}
		if blk.Handler {
			attrs += ", style=\"filled,dashed\""
		}
		if blk.IsTerm {
			attrs += fmt.Sprintf(", fillcolor=%q", t.TermFill)
		}
		fmt.Fprintf(&b, "  bb%d [label=<%s>%s];\n", blk.ID, label, attrs)
	}
	b.WriteByte('\n')

	for _, blk := range cfg.Blocks {
		for _, s := range blk.Succs {
			edge := fmt.Sprintf("  bb%d -> bb%d", blk.ID, s.BlockID)
			switch {
			case s.Cond == "T":
				fmt.Fprintf(&b, "%s [color=%q, label=<<font point-size=\"7\" color=\"%s\">T</font>>];\n",
					edge, t.EdgeVirtual, t.EdgeVirtual)
			case s.Cond == "F":
				fmt.Fprintf(&b, "%s [color=%q, label=<<font point-size=\"7\" color=\"%s\">F</font>>];\n",
					edge, t.EdgeSpecial, t.EdgeSpecial)
			case s.Cond == "exc":
				fmt.Fprintf(&b, "%s [color=%q, style=dashed];\n", edge, t.EdgeException)
			case s.Cond == "default" || strings.HasPrefix(s.Cond, "case "):
				fmt.Fprintf(&b, "%s [color=%q, label=<<font point-size=\"7\" color=\"%s\">%s</font>>];\n",
					edge, t.EdgeInterface, t.EdgeInterface, dotEscape(s.Cond))
			default:
				fmt.Fprintf(&b, "%s [color=%q];\n", edge, t.EdgeStatic)
			}
		}
	}

	b.WriteString("}\n")
	return b.String()
}
