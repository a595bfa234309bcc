package classfile

import (
	"errors"
	"fmt"
	"slices"

	"classmorph/internal/disasm"
)

// LineEntry maps the instruction at Start to a source line. Table is the
// index of the LineNumberTable attribute the entry came from.
type LineEntry struct {
	Start disasm.Label
	Line  uint16
	Table int
}

// LocalVar is one LocalVariableTable or LocalVariableTypeTable entry. For
// the type table Desc is a generic signature.
type LocalVar struct {
	Start, End disasm.Label
	Name, Desc uint16
	Slot       uint16
	Table      int
}

// Code is a decoded Code attribute.
//
// A clean method (Dirty false) carries its encoded bytes and the byte offset
// of every label; the emitter writes them unchanged. Passes that edit Insts or
// Handlers set Dirty, and the layout finalizer re-encodes the method and
// clears the flag. The emitter refuses dirty code.
type Code struct {
	MaxStack   uint16
	MaxLocals  uint16
	Insts      []disasm.Inst
	Handlers   []disasm.Handler
	Lines      []LineEntry
	Locals     []LocalVar
	LocalTypes []LocalVar
	// Attrs keeps sub-attributes in order. LineNumberTable,
	// LocalVariableTable and LocalVariableTypeTable are placeholders for the
	// typed tables; StackMapTable and the rest are raw.
	Attrs []Attribute

	Bytes        []byte
	LabelOffsets []int // offset of label l, -1 if l is not placed
	Dirty        bool

	next disasm.Label
}

// NewLabel allocates a label not used anywhere in the method.
func (c *Code) NewLabel() disasm.Label {
	l := c.next
	c.next++
	return l
}

// Labels returns the number of labels allocated so far.
func (c *Code) Labels() int { return int(c.next) }

// SetLayout installs a finalized encoding and marks the code clean.
func (c *Code) SetLayout(code []byte, offsets []int) {
	c.Bytes = code
	c.LabelOffsets = offsets
	c.Dirty = false
}

// Offset returns the byte offset of l in the current encoding.
func (c *Code) Offset(l disasm.Label) (int, bool) {
	if l < 0 || int(l) >= len(c.LabelOffsets) || c.LabelOffsets[l] < 0 {
		return 0, false
	}
	return c.LabelOffsets[l], true
}

// Clone returns a copy of c that shares no slices with it.
func (c *Code) Clone() *Code {
	out := *c
	out.Insts = slices.Clone(c.Insts)
	for i, in := range out.Insts {
		if in.Switch != nil {
			sw := *in.Switch
			sw.Keys = slices.Clone(sw.Keys)
			sw.Targets = slices.Clone(sw.Targets)
			out.Insts[i].Switch = &sw
		}
	}
	out.Handlers = slices.Clone(c.Handlers)
	out.Lines = slices.Clone(c.Lines)
	out.Locals = slices.Clone(c.Locals)
	out.LocalTypes = slices.Clone(c.LocalTypes)
	out.Attrs = slices.Clone(c.Attrs)
	out.LabelOffsets = slices.Clone(c.LabelOffsets)
	return &out
}

// StackMap returns the raw StackMapTable, or nil.
func (c *Code) StackMap() []byte {
	if a := Attr(c.Attrs, AttrStackMapTable); a != nil {
		return a.Data
	}
	return nil
}

// HasJsr reports whether the method uses subroutines.
func (c *Code) HasJsr() bool {
	for _, in := range c.Insts {
		if in.Kind == disasm.KindJsr {
			return true
		}
	}
	return false
}

type rawLine struct{ pc, line uint16 }

type rawLocal struct{ pc, length, name, desc, slot uint16 }

func parseCode(data []byte, pool *Pool) (*Code, error) {
	s := NewStream(data)
	c := &Code{}
	var err error
	if c.MaxStack, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	if c.MaxLocals, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	n, err := s.ReadUint32()
	if err != nil {
		return nil, err
	}
	if n == 0 || n > 0xffff {
		return nil, fmt.Errorf("code length %d", n)
	}
	if c.Bytes, err = s.ReadBytes(int(n)); err != nil {
		return nil, err
	}

	var marks []int
	type rawHandler struct{ start, end, target, catch uint16 }
	hn, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	raws := make([]rawHandler, hn)
	for i := range raws {
		var v [4]uint16
		for j := range v {
			if v[j], err = s.ReadUint16(); err != nil {
				return nil, err
			}
		}
		raws[i] = rawHandler{v[0], v[1], v[2], v[3]}
		if v[0] >= v[1] {
			return nil, fmt.Errorf("exception range [%d,%d) is empty", v[0], v[1])
		}
		marks = append(marks, int(v[0]), int(v[1]), int(v[2]))
	}

	if c.Attrs, err = readRawAttrs(s, pool); err != nil {
		return nil, err
	}
	if err := s.Done(); err != nil {
		return nil, err
	}

	lines := make([][]rawLine, 0)
	locals := make([][]rawLocal, 0)
	localTypes := make([][]rawLocal, 0)
	for i := range c.Attrs {
		a := &c.Attrs[i]
		switch a.Name {
		case AttrLineNumberTable:
			t, err := readLines(a.Data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", a.Name, err)
			}
			for _, e := range t {
				marks = append(marks, int(e.pc))
			}
			lines = append(lines, t)
			a.Data = nil
		case AttrLocalVariableTable, AttrLocalVariableTypeTable:
			t, err := readLocals(a.Data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", a.Name, err)
			}
			for _, e := range t {
				marks = append(marks, int(e.pc), int(e.pc)+int(e.length))
			}
			if a.Name == AttrLocalVariableTable {
				locals = append(locals, t)
			} else {
				localTypes = append(localTypes, t)
			}
			a.Data = nil
		}
	}

	insts, offsets, err := disasm.Decode(c.Bytes, marks)
	if err != nil {
		return nil, err
	}
	c.Insts = insts
	c.LabelOffsets = offsets
	c.next = disasm.Label(len(offsets))
	labelAt := make(map[int]disasm.Label, len(offsets))
	for l, off := range offsets {
		labelAt[off] = disasm.Label(l)
	}

	for _, h := range raws {
		c.Handlers = append(c.Handlers, disasm.Handler{
			Start:     labelAt[int(h.start)],
			End:       labelAt[int(h.end)],
			Target:    labelAt[int(h.target)],
			CatchType: int(h.catch),
		})
	}
	for t, tab := range lines {
		for _, e := range tab {
			c.Lines = append(c.Lines, LineEntry{Start: labelAt[int(e.pc)], Line: e.line, Table: t})
		}
	}
	convert := func(tabs [][]rawLocal) []LocalVar {
		var out []LocalVar
		for t, tab := range tabs {
			for _, e := range tab {
				out = append(out, LocalVar{
					Start: labelAt[int(e.pc)],
					End:   labelAt[int(e.pc)+int(e.length)],
					Name:  e.name,
					Desc:  e.desc,
					Slot:  e.slot,
					Table: t,
				})
			}
		}
		return out
	}
	c.Locals = convert(locals)
	c.LocalTypes = convert(localTypes)
	return c, nil
}

func readLines(data []byte) ([]rawLine, error) {
	s := NewStream(data)
	n, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	out := make([]rawLine, n)
	for i := range out {
		if out[i].pc, err = s.ReadUint16(); err != nil {
			return nil, err
		}
		if out[i].line, err = s.ReadUint16(); err != nil {
			return nil, err
		}
	}
	return out, s.Done()
}

func readLocals(data []byte) ([]rawLocal, error) {
	s := NewStream(data)
	n, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	out := make([]rawLocal, n)
	for i := range out {
		var v [5]uint16
		for j := range v {
			if v[j], err = s.ReadUint16(); err != nil {
				return nil, err
			}
		}
		out[i] = rawLocal{v[0], v[1], v[2], v[3], v[4]}
	}
	return out, s.Done()
}

// ErrDirtyCode is returned when emitting a method that was edited but not
// finalized.
var ErrDirtyCode = errors.New("classfile: code not finalized")

func writeCode(w *Writer, c *Code) error {
	if c.Dirty {
		return ErrDirtyCode
	}
	off := func(l disasm.Label) (uint16, error) {
		o, ok := c.Offset(l)
		if !ok {
			return 0, fmt.Errorf("classfile: label L%d has no offset", l)
		}
		return uint16(o), nil
	}
	w.U2(c.MaxStack)
	w.U2(c.MaxLocals)
	w.Length(len(c.Bytes))
	w.Raw(c.Bytes)
	w.Count(len(c.Handlers))
	for _, h := range c.Handlers {
		for _, l := range []disasm.Label{h.Start, h.End, h.Target} {
			o, err := off(l)
			if err != nil {
				return err
			}
			w.U2(o)
		}
		w.Int(h.CatchType)
	}

	seen := make(map[string]int)
	w.Count(len(c.Attrs))
	for _, a := range c.Attrs {
		if !a.Typed() {
			writeAttr(w, a.NameIndex, a.Data)
			continue
		}
		table := seen[a.Name]
		seen[a.Name]++
		var body Writer
		switch a.Name {
		case AttrLineNumberTable:
			var rows []LineEntry
			for _, e := range c.Lines {
				if e.Table == table {
					rows = append(rows, e)
				}
			}
			body.Count(len(rows))
			for _, e := range rows {
				o, err := off(e.Start)
				if err != nil {
					return err
				}
				body.U2(o)
				body.U2(e.Line)
			}
		case AttrLocalVariableTable, AttrLocalVariableTypeTable:
			src := c.Locals
			if a.Name == AttrLocalVariableTypeTable {
				src = c.LocalTypes
			}
			var rows []LocalVar
			for _, e := range src {
				if e.Table == table {
					rows = append(rows, e)
				}
			}
			body.Count(len(rows))
			for _, e := range rows {
				start, err := off(e.Start)
				if err != nil {
					return err
				}
				end, err := off(e.End)
				if err != nil {
					return err
				}
				body.U2(start)
				body.U2(end - start)
				body.U2(e.Name)
				body.U2(e.Desc)
				body.U2(e.Slot)
			}
		default:
			return fmt.Errorf("classfile: typed code attribute %s", a.Name)
		}
		writeAttr(w, a.NameIndex, body.Bytes())
	}
	return nil
}
