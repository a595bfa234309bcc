// Package disasm provides the JVM instruction model: opcode table, decoding
// into label-addressed instructions, encoding, listings and basic-block CFGs.
package disasm

import (
	"fmt"
	"strings"
)

// PoolLookup renders a constant pool index as text. Returns ("", false) if unknown.
type PoolLookup func(idx int) (text string, ok bool)

// Format renders a slice of instructions as stable text output.
// Each line: <offset>  <disasm>  ; <comment>
// Labels get their own line. Annotators are checked in order; first
// non-empty result is used.
func Format(insts []Inst, lookup PoolLookup, annotators ...Annotator) string {
	pool := func(idx int) string {
		if lookup != nil {
			if s, ok := lookup(idx); ok {
				return s
			}
		}
		return fmt.Sprintf("#%d", idx)
	}
	var b strings.Builder
	for _, inst := range insts {
		if inst.IsLabel() {
			fmt.Fprintf(&b, "L%d:\n", inst.Label)
			continue
		}
		if inst.Offset >= 0 {
			fmt.Fprintf(&b, "%6d  ", inst.Offset)
		} else {
			b.WriteString("     +  ")
		}
		b.WriteString(Text(inst, pool))
		for _, ann := range annotators {
			if s := ann(inst); s != "" {
				fmt.Fprintf(&b, "  ; %s", s)
				break
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
