package disasm

import (
	"encoding/binary"
	"fmt"
)

// Size returns the encoded size in bytes of in placed at byte offset pc.
// far selects the long form of a branch: goto_w for goto, and an inverted
// condition over a goto_w for conditional branches.
func Size(in Inst, pc int, far bool) int {
	switch in.Kind {
	case KindLabel:
		return 0
	case KindSwitch:
		pad := (4 - (pc+1)%4) % 4
		if isTable(in) {
			return 1 + pad + 12 + 4*len(in.Switch.Keys)
		}
		return 1 + pad + 8 + 8*len(in.Switch.Keys)
	case KindBranch:
		switch {
		case in.Op == GotoW:
			return 5
		case !far:
			return 3
		case in.Op == Goto:
			return 5
		}
		return 8
	case KindJsr:
		switch {
		case in.Op == Ret:
			if in.Wide || in.Index > 0xff {
				return 4
			}
			return 2
		case in.Op == JsrW || far:
			return 5
		}
		return 3
	case KindLoad, KindStore:
		switch {
		case implicitSlot(in.Op) >= 0:
			return 1
		case in.Wide || in.Index > 0xff:
			return 4
		}
		return 2
	case KindIinc:
		if in.Wide || in.Index > 0xff || in.Value < -128 || in.Value > 127 {
			return 6
		}
		return 3
	case KindLdc:
		if in.Op == Ldc && in.Index <= 0xff {
			return 2
		}
		return 3
	}
	return opTable[in.Op].size
}

// NeedsFar reports whether a short branch at pc cannot reach target.
func NeedsFar(pc, target int) bool {
	d := target - pc
	return d < -32768 || d > 32767
}

func isTable(in Inst) bool {
	if in.Op != Tableswitch || len(in.Switch.Keys) == 0 {
		return false
	}
	for i := 1; i < len(in.Switch.Keys); i++ {
		if in.Switch.Keys[i] != in.Switch.Keys[i-1]+1 {
			return false
		}
	}
	return true
}

// Append encodes in at byte offset pc and appends it to buf. target resolves
// labels to byte offsets.
func Append(buf []byte, in Inst, pc int, far bool, target func(Label) int) ([]byte, error) {
	be := binary.BigEndian
	u2 := func(v int) { buf = be.AppendUint16(buf, uint16(v)) }
	u4 := func(v int) { buf = be.AppendUint32(buf, uint32(int32(v))) }

	switch in.Kind {
	case KindLabel:
		return buf, nil

	case KindSwitch:
		buf = append(buf, byte(Lookupswitch))
		table := isTable(in)
		if table {
			buf[len(buf)-1] = byte(Tableswitch)
		}
		for i := (4 - (pc+1)%4) % 4; i > 0; i-- {
			buf = append(buf, 0)
		}
		u4(target(in.Switch.Default) - pc)
		if table {
			u4(int(in.Switch.Keys[0]))
			u4(int(in.Switch.Keys[len(in.Switch.Keys)-1]))
			for _, t := range in.Switch.Targets {
				u4(target(t) - pc)
			}
		} else {
			u4(len(in.Switch.Keys))
			for i, k := range in.Switch.Keys {
				u4(int(k))
				u4(target(in.Switch.Targets[i]) - pc)
			}
		}
		return buf, nil

	case KindBranch:
		t := target(in.Label)
		switch {
		case in.Op == GotoW || (far && in.Op == Goto):
			buf = append(buf, byte(GotoW))
			u4(t - pc)
		case far:
			buf = append(buf, byte(Invert(in.Op)))
			u2(8)
			buf = append(buf, byte(GotoW))
			u4(t - (pc + 3))
		default:
			if NeedsFar(pc, t) {
				return nil, fmt.Errorf("encode: %s at %d cannot reach %d", in.Op.Name(), pc, t)
			}
			buf = append(buf, byte(in.Op))
			u2(t - pc)
		}
		return buf, nil

	case KindJsr:
		if in.Op == Ret {
			if in.Wide || in.Index > 0xff {
				buf = append(buf, byte(Wide), byte(Ret))
				u2(in.Index)
			} else {
				buf = append(buf, byte(Ret), byte(in.Index))
			}
			return buf, nil
		}
		t := target(in.Label)
		if in.Op == JsrW || far {
			buf = append(buf, byte(JsrW))
			u4(t - pc)
		} else {
			buf = append(buf, byte(Jsr))
			u2(t - pc)
		}
		return buf, nil

	case KindLoad, KindStore:
		switch {
		case implicitSlot(in.Op) >= 0:
			buf = append(buf, byte(in.Op))
		case in.Wide || in.Index > 0xff:
			buf = append(buf, byte(Wide), byte(in.Op))
			u2(in.Index)
		default:
			buf = append(buf, byte(in.Op), byte(in.Index))
		}
		return buf, nil

	case KindIinc:
		if Size(in, pc, false) == 6 {
			buf = append(buf, byte(Wide), byte(Iinc))
			u2(in.Index)
			u2(int(in.Value))
		} else {
			buf = append(buf, byte(Iinc), byte(in.Index), byte(int8(in.Value)))
		}
		return buf, nil

	case KindLdc:
		switch {
		case in.Op == Ldc && in.Index <= 0xff:
			buf = append(buf, byte(Ldc), byte(in.Index))
		case in.Op == Ldc2W:
			buf = append(buf, byte(Ldc2W))
			u2(in.Index)
		default:
			buf = append(buf, byte(LdcW))
			u2(in.Index)
		}
		return buf, nil

	case KindConst:
		buf = append(buf, byte(in.Op))
		switch in.Op {
		case Bipush:
			buf = append(buf, byte(int8(in.Value)))
		case Sipush:
			u2(int(in.Value))
		}
		return buf, nil

	case KindField, KindInvoke, KindInvokeDynamic, KindNew, KindType:
		buf = append(buf, byte(in.Op))
		u2(in.Index)
		switch in.Op {
		case Invokeinterface:
			if in.Value <= 0 {
				return nil, fmt.Errorf("encode: invokeinterface at %d without argument count", pc)
			}
			buf = append(buf, byte(in.Value), 0)
		case Invokedynamic:
			buf = append(buf, 0, 0)
		}
		return buf, nil

	case KindNewArray:
		buf = append(buf, byte(in.Op))
		switch in.Op {
		case Newarray:
			buf = append(buf, byte(in.Value))
		case Anewarray:
			u2(in.Index)
		case Multianewarray:
			u2(in.Index)
			buf = append(buf, byte(in.Value))
		}
		return buf, nil

	case KindInvalid:
		return nil, fmt.Errorf("encode: invalid instruction at %d", pc)
	}
	return append(buf, byte(in.Op)), nil
}
