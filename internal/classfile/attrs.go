package classfile

import "fmt"

// InnerClass is one InnerClasses entry. Zero indices mean "absent".
type InnerClass struct {
	Inner  uint16 // Class
	Outer  uint16 // Class
	Name   uint16 // Utf8 simple name
	Access uint16
}

// EnclosingMethod names the class and, optionally, the method enclosing a
// local or anonymous class.
type EnclosingMethod struct {
	Class  uint16 // Class
	Method uint16 // NameAndType, 0 if not enclosed by a method
}

// BootstrapMethod is one BootstrapMethods entry.
type BootstrapMethod struct {
	Ref  uint16 // MethodHandle
	Args []uint16
}

// RecordComponent is one Record attribute component.
type RecordComponent struct {
	Name  uint16
	Desc  uint16
	Attrs []Attribute
}

func readInnerClasses(s *Stream) ([]InnerClass, error) {
	n, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	out := make([]InnerClass, n)
	for i := range out {
		var v [4]uint16
		for j := range v {
			if v[j], err = s.ReadUint16(); err != nil {
				return nil, err
			}
		}
		out[i] = InnerClass{Inner: v[0], Outer: v[1], Name: v[2], Access: v[3]}
	}
	return out, nil
}

func writeInnerClasses(w *Writer, ics []InnerClass) {
	w.Count(len(ics))
	for _, ic := range ics {
		w.U2(ic.Inner)
		w.U2(ic.Outer)
		w.U2(ic.Name)
		w.U2(ic.Access)
	}
}

func readEnclosingMethod(s *Stream) (*EnclosingMethod, error) {
	cls, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	m, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	return &EnclosingMethod{Class: cls, Method: m}, nil
}

func readBootstrapMethods(s *Stream) ([]BootstrapMethod, error) {
	n, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	out := make([]BootstrapMethod, n)
	for i := range out {
		if out[i].Ref, err = s.ReadUint16(); err != nil {
			return nil, err
		}
		if out[i].Args, err = s.u16s(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func writeBootstrapMethods(w *Writer, bms []BootstrapMethod) {
	w.Count(len(bms))
	for _, bm := range bms {
		w.U2(bm.Ref)
		w.u16s(bm.Args)
	}
}

func readRecord(s *Stream, pool *Pool) ([]RecordComponent, error) {
	n, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	out := make([]RecordComponent, n)
	for i := range out {
		if out[i].Name, err = s.ReadUint16(); err != nil {
			return nil, err
		}
		if out[i].Desc, err = s.ReadUint16(); err != nil {
			return nil, err
		}
		if out[i].Attrs, err = readRawAttrs(s, pool); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func writeRecord(w *Writer, rcs []RecordComponent) {
	w.Count(len(rcs))
	for _, rc := range rcs {
		w.U2(rc.Name)
		w.U2(rc.Desc)
		writeRawAttrs(w, rc.Attrs)
	}
}

// readRawAttrs reads an attribute table without decoding any attribute.
func readRawAttrs(s *Stream, pool *Pool) ([]Attribute, error) {
	n, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	out := make([]Attribute, n)
	for i := range out {
		if out[i], err = readAttr(s, pool); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readAttr(s *Stream, pool *Pool) (Attribute, error) {
	ni, err := s.ReadUint16()
	if err != nil {
		return Attribute{}, err
	}
	name, err := pool.Utf8(int(ni))
	if err != nil {
		return Attribute{}, fmt.Errorf("attribute name: %w", err)
	}
	n, err := s.ReadUint32()
	if err != nil {
		return Attribute{}, err
	}
	data, err := s.ReadBytes(int(n))
	if err != nil {
		return Attribute{}, fmt.Errorf("attribute %s: length %d: %w", name, n, err)
	}
	return Attribute{NameIndex: ni, Name: name, Data: data}, nil
}

func writeRawAttrs(w *Writer, attrs []Attribute) {
	w.Count(len(attrs))
	for _, a := range attrs {
		writeAttr(w, a.NameIndex, a.Data)
	}
}

func writeAttr(w *Writer, nameIndex uint16, data []byte) {
	w.U2(nameIndex)
	w.Length(len(data))
	w.Raw(data)
}

// U16Attr decodes an attribute holding a single pool index (SourceFile,
// Signature, NestHost, ConstantValue).
func U16Attr(a *Attribute) (uint16, bool) {
	if a == nil || len(a.Data) != 2 {
		return 0, false
	}
	return uint16(a.Data[0])<<8 | uint16(a.Data[1]), true
}

// PutU16Attr sets the single pool index of a.
func PutU16Attr(a *Attribute, v uint16) {
	a.Data = []byte{byte(v >> 8), byte(v)}
}

// U16ListAttr decodes a count-prefixed index list (Exceptions, NestMembers,
// PermittedSubclasses).
func U16ListAttr(a *Attribute) ([]uint16, error) {
	s := NewStream(a.Data)
	v, err := s.u16s()
	if err != nil {
		return nil, err
	}
	return v, s.Done()
}

// MethodParameter is one MethodParameters entry.
type MethodParameter struct {
	Name   uint16
	Access uint16
}

// MethodParameters decodes a MethodParameters attribute.
func MethodParameters(a *Attribute) ([]MethodParameter, error) {
	s := NewStream(a.Data)
	n, err := s.ReadUint8()
	if err != nil {
		return nil, err
	}
	out := make([]MethodParameter, n)
	for i := range out {
		if out[i].Name, err = s.ReadUint16(); err != nil {
			return nil, err
		}
		if out[i].Access, err = s.ReadUint16(); err != nil {
			return nil, err
		}
	}
	return out, s.Done()
}
