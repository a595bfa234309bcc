package disasm

import (
	"fmt"
	"strings"
)

// Label names a position in an instruction list. Labels are resolved to byte
// offsets only at layout time; between decoding and layout every branch
// operand is a Label.
type Label int

// NoLabel marks an unset label operand.
const NoLabel Label = -1

// Switch holds the operands of tableswitch and lookupswitch. For tableswitch
// Keys are Low, Low+1, ... and are kept explicit so passes can treat both
// forms alike.
type Switch struct {
	Default Label
	Keys    []int32
	Targets []Label
}

// Inst is one bytecode instruction or a label pseudo-instruction.
type Inst struct {
	Op   Opcode
	Kind Kind
	// Label is the branch/jsr target, or the label defined by a KindLabel inst.
	Label Label
	// Index is the constant pool index or the local variable slot.
	Index int
	// Value is the immediate operand: pushed constant, iinc delta,
	// newarray element type, multianewarray dimensions.
	Value  int32
	Switch *Switch
	// Wide records a wide-prefixed local access in the original encoding.
	Wide bool
	// Offset is the byte offset in the decoded code, -1 for synthesized insts.
	Offset int
}

// IsLabel reports whether in is a label pseudo-instruction.
func (in Inst) IsLabel() bool { return in.Kind == KindLabel }

// EndsBlock reports whether control never falls through to the next instruction.
func (in Inst) EndsBlock() bool {
	switch in.Kind {
	case KindReturn, KindThrow, KindSwitch:
		return true
	case KindBranch:
		return in.Op.IsGoto()
	case KindJsr:
		return in.Op == Ret
	}
	return false
}

// IsJump reports whether in transfers control (branch, switch, return, throw, jsr/ret).
func (in Inst) IsJump() bool {
	switch in.Kind {
	case KindBranch, KindSwitch, KindReturn, KindThrow, KindJsr:
		return true
	}
	return false
}

// Targets returns every label in can jump to, excluding fall-through.
func (in Inst) Targets() []Label {
	switch in.Kind {
	case KindBranch:
		return []Label{in.Label}
	case KindJsr:
		if in.Op != Ret {
			return []Label{in.Label}
		}
	case KindSwitch:
		out := make([]Label, 0, len(in.Switch.Targets)+1)
		out = append(out, in.Switch.Default)
		out = append(out, in.Switch.Targets...)
		return out
	}
	return nil
}

// UsesPool reports whether Index is a constant pool index.
func (in Inst) UsesPool() bool {
	switch in.Kind {
	case KindLdc, KindField, KindInvoke, KindInvokeDynamic, KindNew, KindType:
		return true
	case KindNewArray:
		return in.Op != Newarray
	}
	return false
}

// Mark returns a label pseudo-instruction.
func Mark(l Label) Inst {
	return Inst{Kind: KindLabel, Label: l, Offset: -1}
}

// Op0 returns an operand-free instruction.
func Op0(op Opcode) Inst {
	return Inst{Op: op, Kind: op.Kind(), Label: NoLabel, Offset: -1}
}

// PoolOp returns an instruction whose operand is the pool index idx.
func PoolOp(op Opcode, idx int) Inst {
	in := Op0(op)
	in.Index = idx
	if op == Ldc && idx > 0xff {
		in.Op = LdcW
	}
	return in
}

// Jump returns a branch instruction to l.
func Jump(op Opcode, l Label) Inst {
	in := Op0(op)
	in.Label = l
	return in
}

// IntConst returns the shortest constant-push instruction for v, or ok=false
// when v needs a constant pool entry.
func IntConst(v int32) (Inst, bool) {
	switch {
	case v >= -1 && v <= 5:
		return Op0(Iconst0 + Opcode(v)), true
	case v >= -128 && v <= 127:
		in := Op0(Bipush)
		in.Value = v
		return in, true
	case v >= -32768 && v <= 32767:
		in := Op0(Sipush)
		in.Value = v
		return in, true
	}
	return Inst{}, false
}

// Load returns the load of slot with value type t.
func Load(t ValueType, slot int) Inst {
	return localOp(Iload, Iload0, t, slot)
}

// Store returns the store to slot with value type t.
func Store(t ValueType, slot int) Inst {
	return localOp(Istore, Istore0, t, slot)
}

func localOp(long, short Opcode, t ValueType, slot int) Inst {
	base := Opcode(t - TypeInt)
	op := long + base
	if slot <= 3 {
		op = short + base*4 + Opcode(slot)
	}
	in := Op0(op)
	in.Index = slot
	return in
}

// WithSlot returns in rewritten to access slot, choosing the short form when
// the original used one.
func WithSlot(in Inst, slot int) Inst {
	out := in
	out.Index = slot
	switch in.Kind {
	case KindLoad:
		if implicitSlot(in.Op) >= 0 || in.Wide {
			out = Load(LocalType(in.Op), slot)
		} else if slot > 0xff {
			out.Wide = true
		}
	case KindStore:
		if implicitSlot(in.Op) >= 0 || in.Wide {
			out = Store(LocalType(in.Op), slot)
		} else if slot > 0xff {
			out.Wide = true
		}
	case KindIinc:
		out.Wide = in.Wide || slot > 0xff || in.Value < -128 || in.Value > 127
	}
	out.Offset = in.Offset
	return out
}

// Inc returns iinc slot, delta.
func Inc(slot int, delta int32) Inst {
	in := Op0(Iinc)
	in.Index = slot
	in.Value = delta
	in.Wide = slot > 0xff || delta < -128 || delta > 127
	return in
}

// ReturnOp returns the return opcode for a value of type t.
func ReturnOp(t ValueType) Opcode {
	if t == TypeVoid {
		return Return
	}
	return Ireturn + Opcode(t-TypeInt)
}

// Text renders in as a one-line listing. pool resolves pool indices to
// text and may be nil.
func Text(in Inst, pool func(int) string) string {
	if in.Kind == KindLabel {
		return fmt.Sprintf("L%d:", in.Label)
	}
	var sb strings.Builder
	sb.WriteString(in.Op.Name())
	ref := func() string {
		if pool != nil {
			return pool(in.Index)
		}
		return fmt.Sprintf("#%d", in.Index)
	}
	switch in.Kind {
	case KindConst:
		if in.Op == Bipush || in.Op == Sipush {
			fmt.Fprintf(&sb, " %d", in.Value)
		}
	case KindLoad, KindStore:
		if implicitSlot(in.Op) < 0 {
			fmt.Fprintf(&sb, " %d", in.Index)
		}
	case KindIinc:
		fmt.Fprintf(&sb, " %d, %d", in.Index, in.Value)
	case KindBranch:
		fmt.Fprintf(&sb, " L%d", in.Label)
	case KindJsr:
		if in.Op == Ret {
			fmt.Fprintf(&sb, " %d", in.Index)
		} else {
			fmt.Fprintf(&sb, " L%d", in.Label)
		}
	case KindSwitch:
		sb.WriteString(" {")
		for i, k := range in.Switch.Keys {
			fmt.Fprintf(&sb, " %d: L%d;", k, in.Switch.Targets[i])
		}
		fmt.Fprintf(&sb, " default: L%d }", in.Switch.Default)
	case KindLdc, KindField, KindInvoke, KindInvokeDynamic, KindNew, KindType:
		sb.WriteString(" " + ref())
	case KindNewArray:
		switch in.Op {
		case Newarray:
			fmt.Fprintf(&sb, " %s", arrayTypeName(in.Value))
		case Multianewarray:
			fmt.Fprintf(&sb, " %s, %d", ref(), in.Value)
		default:
			sb.WriteString(" " + ref())
		}
	}
	if in.Wide && in.Kind != KindIinc {
		return "wide " + sb.String()
	}
	return sb.String()
}

// Array element type codes of newarray.
const (
	TBoolean = 4
	TChar    = 5
	TFloat   = 6
	TDouble  = 7
	TByte    = 8
	TShort   = 9
	TInt     = 10
	TLong    = 11
)

func arrayTypeName(t int32) string {
	switch t {
	case TBoolean:
		return "boolean"
	case TChar:
		return "char"
	case TFloat:
		return "float"
	case TDouble:
		return "double"
	case TByte:
		return "byte"
	case TShort:
		return "short"
	case TInt:
		return "int"
	case TLong:
		return "long"
	}
	return fmt.Sprintf("type%d", t)
}

// ArrayDescriptor returns the array descriptor created by newarray of type t.
func ArrayDescriptor(t int32) string {
	switch t {
	case TBoolean:
		return "[Z"
	case TChar:
		return "[C"
	case TFloat:
		return "[F"
	case TDouble:
		return "[D"
	case TByte:
		return "[B"
	case TShort:
		return "[S"
	case TInt:
		return "[I"
	case TLong:
		return "[J"
	}
	return ""
}
