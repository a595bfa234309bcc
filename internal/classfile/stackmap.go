package classfile

import (
	"fmt"
	"slices"
)

// Verification type tags of StackMapTable entries.
const (
	VTop               = 0
	VInteger           = 1
	VFloat             = 2
	VDouble            = 3
	VLong              = 4
	VNull              = 5
	VUninitializedThis = 6
	VObject            = 7
	VUninitialized     = 8
)

// VType is one verification_type_info.
type VType struct {
	Tag    uint8
	Index  uint16 // Class entry for VObject
	Offset uint16 // offset of the creating new for VUninitialized
}

// Wide reports whether the type takes two local slots.
func (v VType) Wide() bool { return v.Tag == VLong || v.Tag == VDouble }

// Frame is a full stack map frame. Locals lists entries, not slots: long and
// double cover two slots with one entry.
type Frame struct {
	Offset int
	Locals []VType
	Stack  []VType
}

// CompressLocals turns a slot-indexed local array into frame entries: the
// slot after each long or double is dropped and trailing tops are trimmed.
func CompressLocals(slots []VType) []VType {
	var out []VType
	for i := 0; i < len(slots); i++ {
		out = append(out, slots[i])
		if slots[i].Wide() {
			i++
		}
	}
	for len(out) > 0 && out[len(out)-1].Tag == VTop {
		out = out[:len(out)-1]
	}
	return out
}

// EncodeStackMap encodes frames (sorted by offset) into StackMapTable data
// using the compact frame forms where possible. initial holds the implicit
// frame of the method entry.
func EncodeStackMap(frames []Frame, initial []VType) []byte {
	var w Writer
	w.Count(len(frames))
	prev := initial
	last := -1
	for _, f := range frames {
		delta := f.Offset - last - 1
		last = f.Offset
		k := len(f.Locals) - len(prev)
		switch {
		case len(f.Stack) == 0 && slices.Equal(f.Locals, prev):
			if delta < 64 {
				w.U1(uint8(delta))
			} else {
				w.U1(251)
				w.Int(delta)
			}
		case len(f.Stack) == 1 && slices.Equal(f.Locals, prev):
			if delta < 64 {
				w.U1(uint8(64 + delta))
			} else {
				w.U1(247)
				w.Int(delta)
			}
			writeVType(&w, f.Stack[0])
		case len(f.Stack) == 0 && k < 0 && k >= -3 && slices.Equal(f.Locals, prev[:len(f.Locals)]):
			w.U1(uint8(251 + k))
			w.Int(delta)
		case len(f.Stack) == 0 && k > 0 && k <= 3 && slices.Equal(f.Locals[:len(prev)], prev):
			w.U1(uint8(251 + k))
			w.Int(delta)
			for _, v := range f.Locals[len(prev):] {
				writeVType(&w, v)
			}
		default:
			w.U1(255)
			w.Int(delta)
			w.Count(len(f.Locals))
			for _, v := range f.Locals {
				writeVType(&w, v)
			}
			w.Count(len(f.Stack))
			for _, v := range f.Stack {
				writeVType(&w, v)
			}
		}
		prev = f.Locals
	}
	return w.Bytes()
}

func writeVType(w *Writer, v VType) {
	w.U1(v.Tag)
	switch v.Tag {
	case VObject:
		w.U2(v.Index)
	case VUninitialized:
		w.U2(v.Offset)
	}
}

// DecodeStackMap expands StackMapTable data into full frames.
func DecodeStackMap(data []byte, initial []VType) ([]Frame, error) {
	s := NewStream(data)
	n, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	vtype := func() (VType, error) {
		tag, err := s.ReadUint8()
		if err != nil {
			return VType{}, err
		}
		v := VType{Tag: tag}
		switch tag {
		case VObject:
			v.Index, err = s.ReadUint16()
		case VUninitialized:
			v.Offset, err = s.ReadUint16()
		default:
			if tag > VUninitialized {
				err = fmt.Errorf("stack map: bad verification type %d", tag)
			}
		}
		return v, err
	}
	vtypes := func(n int) ([]VType, error) {
		out := make([]VType, n)
		for i := range out {
			v, err := vtype()
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	frames := make([]Frame, 0, n)
	locals := initial
	last := -1
	for range n {
		ft, err := s.ReadUint8()
		if err != nil {
			return nil, err
		}
		f := Frame{}
		var delta uint16
		switch {
		case ft < 64:
			delta = uint16(ft)
		case ft < 128:
			delta = uint16(ft - 64)
			if f.Stack, err = vtypes(1); err != nil {
				return nil, err
			}
		case ft < 247:
			return nil, fmt.Errorf("stack map: reserved frame type %d", ft)
		case ft == 247:
			if delta, err = s.ReadUint16(); err != nil {
				return nil, err
			}
			if f.Stack, err = vtypes(1); err != nil {
				return nil, err
			}
		case ft < 251:
			if delta, err = s.ReadUint16(); err != nil {
				return nil, err
			}
			k := int(251 - ft)
			if k > len(locals) {
				return nil, fmt.Errorf("stack map: chop %d of %d locals", k, len(locals))
			}
			locals = locals[:len(locals)-k]
		case ft == 251:
			if delta, err = s.ReadUint16(); err != nil {
				return nil, err
			}
		case ft < 255:
			if delta, err = s.ReadUint16(); err != nil {
				return nil, err
			}
			extra, err := vtypes(int(ft - 251))
			if err != nil {
				return nil, err
			}
			locals = append(slices.Clip(locals), extra...)
		default:
			if delta, err = s.ReadUint16(); err != nil {
				return nil, err
			}
			nl, err := s.ReadUint16()
			if err != nil {
				return nil, err
			}
			if locals, err = vtypes(int(nl)); err != nil {
				return nil, err
			}
			ns, err := s.ReadUint16()
			if err != nil {
				return nil, err
			}
			if f.Stack, err = vtypes(int(ns)); err != nil {
				return nil, err
			}
		}
		f.Offset = last + 1 + int(delta)
		last = f.Offset
		f.Locals = locals
		frames = append(frames, f)
	}
	return frames, s.Done()
}

// StackMapClasses returns every Class index a StackMapTable mentions.
func StackMapClasses(data []byte) ([]uint16, error) {
	// Chop frames may drop implicit entries of the method's initial frame,
	// whose contents do not matter here.
	frames, err := DecodeStackMap(data, make([]VType, 255))
	if err != nil {
		return nil, err
	}
	var out []uint16
	for _, f := range frames {
		for _, vs := range [][]VType{f.Locals, f.Stack} {
			for _, v := range vs {
				if v.Tag == VObject {
					out = append(out, v.Index)
				}
			}
		}
	}
	return out, nil
}
