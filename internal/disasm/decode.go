package disasm

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// DecodeError reports undecodable bytecode at a byte offset.
type DecodeError struct {
	Offset int
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bytecode 0x%x: %s", e.Offset, e.Msg)
}

type rawInst struct {
	Inst
	branch  bool
	target  int
	targets []int
	dflt    int
}

// Decode parses method bytecode into instructions with label pseudo-instructions.
//
// Labels are created for every branch and switch target and for every offset
// in marks (exception ranges, debug tables); marks may include len(code).
// Labels are numbered in increasing offset order, and offsets[l] is the byte
// offset of label l.
//
// Each decoded instruction keeps its original opcode and Offset, so that an
// unmodified list re-encodes to the same bytes.
func Decode(code []byte, marks []int) (insts []Inst, offsets []int, err error) {
	raws, err := decodeRaw(code)
	if err != nil {
		return nil, nil, err
	}

	starts := make(map[int]bool, len(raws)+1)
	for _, r := range raws {
		starts[r.Offset] = true
	}
	starts[len(code)] = true

	want := make(map[int]bool)
	for _, r := range raws {
		switch {
		case r.Switch != nil:
			want[r.dflt] = true
			for _, t := range r.targets {
				want[t] = true
			}
		case r.branch:
			want[r.target] = true
		}
	}
	for _, m := range marks {
		want[m] = true
	}
	for off := range want {
		if !starts[off] {
			return nil, nil, &DecodeError{Offset: off, Msg: "reference to the middle of an instruction"}
		}
	}
	for _, r := range raws {
		if (r.branch && r.target == len(code)) || r.dflt == len(code) {
			return nil, nil, &DecodeError{Offset: r.Offset, Msg: "branch past end of code"}
		}
		for _, t := range r.targets {
			if t == len(code) {
				return nil, nil, &DecodeError{Offset: r.Offset, Msg: "switch target past end of code"}
			}
		}
	}

	offsets = make([]int, 0, len(want))
	for off := range want {
		offsets = append(offsets, off)
	}
	sort.Ints(offsets)
	labelAt := make(map[int]Label, len(offsets))
	for i, off := range offsets {
		labelAt[off] = Label(i)
	}

	insts = make([]Inst, 0, len(raws)+len(offsets))
	for _, r := range raws {
		if l, ok := labelAt[r.Offset]; ok {
			insts = append(insts, Inst{Kind: KindLabel, Label: l, Offset: r.Offset})
		}
		in := r.Inst
		switch {
		case in.Switch != nil:
			in.Switch.Default = labelAt[r.dflt]
			in.Switch.Targets = make([]Label, len(r.targets))
			for i, t := range r.targets {
				in.Switch.Targets[i] = labelAt[t]
			}
		case r.branch:
			in.Label = labelAt[r.target]
		}
		insts = append(insts, in)
	}
	if l, ok := labelAt[len(code)]; ok {
		insts = append(insts, Inst{Kind: KindLabel, Label: l, Offset: len(code)})
	}
	return insts, offsets, nil
}

func decodeRaw(code []byte) ([]rawInst, error) {
	var out []rawInst
	be := binary.BigEndian
	for pc := 0; pc < len(code); {
		need := func(n int) error {
			if pc+n > len(code) {
				return &DecodeError{Offset: pc, Msg: "truncated instruction"}
			}
			return nil
		}
		op := Opcode(code[pc])
		r := rawInst{Inst: Inst{Op: op, Kind: op.Kind(), Label: NoLabel, Offset: pc}, target: -1, dflt: -1}
		size := opTable[op].size

		switch {
		case op == Wide:
			if err := need(2); err != nil {
				return nil, err
			}
			op = Opcode(code[pc+1])
			r.Op, r.Kind, r.Wide = op, op.Kind(), true
			switch {
			case op == Iinc:
				if err := need(6); err != nil {
					return nil, err
				}
				r.Index = int(be.Uint16(code[pc+2:]))
				r.Value = int32(int16(be.Uint16(code[pc+4:])))
				size = 6
			case (op >= Iload && op <= Aload) || (op >= Istore && op <= Astore) || op == Ret:
				if err := need(4); err != nil {
					return nil, err
				}
				r.Index = int(be.Uint16(code[pc+2:]))
				size = 4
			default:
				return nil, &DecodeError{Offset: pc, Msg: fmt.Sprintf("wide %s", op.Name())}
			}

		case r.Kind == KindInvalid:
			return nil, &DecodeError{Offset: pc, Msg: fmt.Sprintf("unknown opcode 0x%02x", byte(op))}

		case r.Kind == KindSwitch:
			base := pc + 1
			pad := (4 - base%4) % 4
			p := base + pad
			if err := need(p - pc + 8); err != nil {
				return nil, err
			}
			r.Switch = &Switch{}
			r.dflt = pc + int(int32(be.Uint32(code[p:])))
			if op == Tableswitch {
				if err := need(p - pc + 12); err != nil {
					return nil, err
				}
				low := int32(be.Uint32(code[p+4:]))
				high := int32(be.Uint32(code[p+8:]))
				if high < low {
					return nil, &DecodeError{Offset: pc, Msg: "tableswitch high < low"}
				}
				n := int(int64(high) - int64(low) + 1)
				p += 12
				if n > len(code) {
					return nil, &DecodeError{Offset: pc, Msg: "tableswitch too large"}
				}
				if err := need(p - pc + 4*n); err != nil {
					return nil, err
				}
				for i := 0; i < n; i++ {
					r.Switch.Keys = append(r.Switch.Keys, low+int32(i))
					r.targets = append(r.targets, pc+int(int32(be.Uint32(code[p+4*i:]))))
				}
				size = p - pc + 4*n
			} else {
				n := int(int32(be.Uint32(code[p+4:])))
				p += 8
				if n < 0 || n > len(code) {
					return nil, &DecodeError{Offset: pc, Msg: "lookupswitch pair count"}
				}
				if err := need(p - pc + 8*n); err != nil {
					return nil, err
				}
				for i := 0; i < n; i++ {
					key := int32(be.Uint32(code[p+8*i:]))
					if i > 0 && key <= r.Switch.Keys[i-1] {
						return nil, &DecodeError{Offset: pc, Msg: "lookupswitch keys not sorted"}
					}
					r.Switch.Keys = append(r.Switch.Keys, key)
					r.targets = append(r.targets, pc+int(int32(be.Uint32(code[p+8*i+4:]))))
				}
				size = p - pc + 8*n
			}

		default:
			if err := need(size); err != nil {
				return nil, err
			}
			decodeOperands(&r, code[pc:pc+size])
		}

		if r.branch && (r.target < 0 || r.target > len(code)) {
			return nil, &DecodeError{Offset: pc, Msg: "branch target out of range"}
		}
		if r.Switch != nil {
			if r.dflt < 0 || r.dflt > len(code) {
				return nil, &DecodeError{Offset: pc, Msg: "switch default out of range"}
			}
			for _, t := range r.targets {
				if t < 0 || t > len(code) {
					return nil, &DecodeError{Offset: pc, Msg: "switch target out of range"}
				}
			}
		}
		out = append(out, r)
		pc += size
	}
	return out, nil
}

func decodeOperands(r *rawInst, b []byte) {
	be := binary.BigEndian
	op := r.Op
	switch r.Kind {
	case KindConst:
		switch op {
		case Bipush:
			r.Value = int32(int8(b[1]))
		case Sipush:
			r.Value = int32(int16(be.Uint16(b[1:])))
		}
	case KindLdc:
		if op == Ldc {
			r.Index = int(b[1])
		} else {
			r.Index = int(be.Uint16(b[1:]))
		}
	case KindLoad, KindStore:
		if s := implicitSlot(op); s >= 0 {
			r.Index = s
		} else {
			r.Index = int(b[1])
		}
	case KindIinc:
		r.Index = int(b[1])
		r.Value = int32(int8(b[2]))
	case KindBranch:
		r.branch = true
		if op == GotoW {
			r.target = r.Offset + int(int32(be.Uint32(b[1:])))
		} else {
			r.target = r.Offset + int(int16(be.Uint16(b[1:])))
		}
	case KindJsr:
		switch op {
		case Ret:
			r.Index = int(b[1])
		case JsrW:
			r.branch = true
			r.target = r.Offset + int(int32(be.Uint32(b[1:])))
		default:
			r.branch = true
			r.target = r.Offset + int(int16(be.Uint16(b[1:])))
		}
	case KindField, KindInvoke, KindInvokeDynamic, KindNew, KindType:
		r.Index = int(be.Uint16(b[1:]))
		if op == Invokeinterface {
			r.Value = int32(b[3])
		}
	case KindNewArray:
		switch op {
		case Newarray:
			r.Value = int32(b[1])
		case Anewarray:
			r.Index = int(be.Uint16(b[1:]))
		case Multianewarray:
			r.Index = int(be.Uint16(b[1:]))
			r.Value = int32(b[3])
		}
	}
}
