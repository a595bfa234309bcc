package layout

import (
	"fmt"
	"slices"

	"classmorph/internal/classfile"
	"classmorph/internal/disasm"
	"classmorph/internal/verify"
)

// frames builds the StackMapTable of a laid out method from the analysed
// states, or returns nil when the method needs no frames. newIndex maps
// instruction indices of the analysed code to insts.
func frames(c *classfile.Class, m *classfile.Method, insts []disasm.Inst, states []*verify.State, newIndex []int, l *layout) ([]byte, error) {
	starts := verify.FrameStarts(&classfile.Code{Insts: insts, Handlers: m.Code.Handlers})

	// A far conditional branch is encoded as an inverted branch over a
	// goto_w; its fall-through successor becomes a branch target.
	for i, in := range insts {
		if !l.far[i] || in.Kind != disasm.KindBranch || in.Op.IsGoto() {
			continue
		}
		j := i + 1
		for j < len(insts) && insts[j].IsLabel() {
			j++
		}
		if j < len(insts) && !slices.Contains(starts, j) {
			starts = append(starts, j)
		}
	}
	slices.Sort(starts)

	entry, err := verify.Entry(c, m, 0)
	if err != nil {
		return nil, err
	}
	conv := converter{pool: c.Pool, pc: l.pc, newIndex: newIndex}
	initial, err := conv.locals(entry.Locals)
	if err != nil {
		return nil, err
	}

	var out []classfile.Frame
	for _, i := range starts {
		s := states[i]
		if s == nil {
			continue
		}
		ls, err := conv.locals(s.Locals)
		if err != nil {
			return nil, err
		}
		stack := make([]classfile.VType, len(s.Stack))
		for k, t := range s.Stack {
			if stack[k], err = conv.vtype(t); err != nil {
				return nil, err
			}
		}
		out = append(out, classfile.Frame{Offset: l.pc[i], Locals: ls, Stack: stack})
	}
	if len(out) == 0 {
		return nil, nil
	}
	return classfile.EncodeStackMap(out, initial), nil
}

type converter struct {
	pool     *classfile.Pool
	pc       []int
	newIndex []int
}

func (cv converter) locals(ts []verify.Type) ([]classfile.VType, error) {
	slots := make([]classfile.VType, len(ts))
	for i, t := range ts {
		v, err := cv.vtype(t)
		if err != nil {
			return nil, err
		}
		slots[i] = v
	}
	return classfile.CompressLocals(slots), nil
}

func (cv converter) vtype(t verify.Type) (classfile.VType, error) {
	switch t.Tag {
	case verify.Top:
		return classfile.VType{Tag: classfile.VTop}, nil
	case verify.Integer:
		return classfile.VType{Tag: classfile.VInteger}, nil
	case verify.Float:
		return classfile.VType{Tag: classfile.VFloat}, nil
	case verify.Long:
		return classfile.VType{Tag: classfile.VLong}, nil
	case verify.Double:
		return classfile.VType{Tag: classfile.VDouble}, nil
	case verify.Null:
		return classfile.VType{Tag: classfile.VNull}, nil
	case verify.UninitializedThis:
		return classfile.VType{Tag: classfile.VUninitializedThis}, nil
	case verify.Uninitialized:
		if t.New < 0 || t.New >= len(cv.newIndex) {
			return classfile.VType{}, fmt.Errorf("uninitialized value from unknown inst %d", t.New)
		}
		return classfile.VType{Tag: classfile.VUninitialized, Offset: uint16(cv.pc[cv.newIndex[t.New]])}, nil
	case verify.Object:
		return classfile.VType{Tag: classfile.VObject, Index: uint16(cv.pool.AddClass(t.Name))}, nil
	}
	return classfile.VType{}, fmt.Errorf("no frame encoding for %s", t)
}
