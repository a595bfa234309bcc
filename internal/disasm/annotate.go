package disasm

import "fmt"

// Annotator returns an optional inline comment for an instruction.
// Empty string means no annotation.
type Annotator func(inst Inst) string

// StringAnnotator comments ldc of string constants with the quoted value.
func StringAnnotator(strs map[int]string) Annotator {
	return func(inst Inst) string {
		if inst.Kind != KindLdc {
			return ""
		}
		if s, ok := strs[inst.Index]; ok {
			if len(s) > 50 {
				s = s[:47] + "..."
			}
			return fmt.Sprintf("%q", s)
		}
		return ""
	}
}

// LineAnnotator comments the first instruction of each source line.
func LineAnnotator(insts []Inst, lines map[Label]int) Annotator {
	starts := make(map[int]int)
	pending := -1
	for i, in := range insts {
		if in.IsLabel() {
			if n, ok := lines[in.Label]; ok {
				pending = n
			}
			continue
		}
		if pending >= 0 {
			starts[i] = pending
			pending = -1
		}
	}
	// Annotators see instructions by value; match on a stable key.
	byKey := make(map[instKey]int, len(starts))
	for i, n := range starts {
		byKey[keyOf(insts[i])] = n
	}
	return func(inst Inst) string {
		if n, ok := byKey[keyOf(inst)]; ok && inst.Offset >= 0 {
			return fmt.Sprintf("line %d", n)
		}
		return ""
	}
}

type instKey struct {
	off int
	op  Opcode
}

func keyOf(in Inst) instKey { return instKey{in.Offset, in.Op} }
