package classfile

import "fmt"

// Emit serializes c. The output depends only on the state of c: the pool is
// written in index order and every table in its current order.
func Emit(c *Class) ([]byte, error) {
	if err := c.Pool.check(); err != nil {
		return nil, fmt.Errorf("classfile: %s: %w", c.Name(), err)
	}
	var w Writer
	w.U4(Magic)
	w.U2(c.Minor)
	w.U2(c.Major)
	writePool(&w, c.Pool)
	w.U2(c.Access)
	w.U2(c.ThisClass)
	w.U2(c.SuperClass)
	w.u16s(c.Interfaces)

	w.Count(len(c.Fields))
	for _, f := range c.Fields {
		writeMember(&w, &f.Member)
		writeRawAttrs(&w, f.Attrs)
	}
	w.Count(len(c.Methods))
	for _, m := range c.Methods {
		writeMember(&w, &m.Member)
		w.Count(len(m.Attrs))
		for _, a := range m.Attrs {
			if !a.Typed() {
				writeAttr(&w, a.NameIndex, a.Data)
				continue
			}
			if a.Name != AttrCode || m.Code == nil {
				return nil, fmt.Errorf("classfile: %s.%s: typed attribute %s without data", c.Name(), c.NameOf(&m.Member), a.Name)
			}
			var body Writer
			if err := writeCode(&body, m.Code); err != nil {
				return nil, fmt.Errorf("classfile: %s.%s%s: %w", c.Name(), c.NameOf(&m.Member), c.DescOf(&m.Member), err)
			}
			writeAttr(&w, a.NameIndex, body.Bytes())
		}
	}

	w.Count(len(c.Attrs))
	for _, a := range c.Attrs {
		if !a.Typed() {
			writeAttr(&w, a.NameIndex, a.Data)
			continue
		}
		var body Writer
		switch a.Name {
		case AttrInnerClasses:
			writeInnerClasses(&body, c.InnerClasses)
		case AttrEnclosingMethod:
			if c.EnclosingMethod == nil {
				return nil, fmt.Errorf("classfile: %s: EnclosingMethod placeholder without data", c.Name())
			}
			body.U2(c.EnclosingMethod.Class)
			body.U2(c.EnclosingMethod.Method)
		case AttrBootstrapMethods:
			writeBootstrapMethods(&body, c.BootstrapMethods)
		case AttrRecord:
			writeRecord(&body, c.Record)
		default:
			return nil, fmt.Errorf("classfile: %s: typed attribute %s without data", c.Name(), a.Name)
		}
		writeAttr(&w, a.NameIndex, body.Bytes())
	}
	return w.Bytes(), nil
}

func writeMember(w *Writer, m *Member) {
	w.U2(m.Access)
	w.U2(m.NameIndex)
	w.U2(m.DescIndex)
}

func writePool(w *Writer, p *Pool) {
	w.Count(p.Len())
	p.Entries(func(_ int, c Constant) {
		w.U1(uint8(c.Tag))
		switch c.Tag {
		case TagUtf8:
			w.Count(len(c.Bytes))
			w.Raw(c.Bytes)
		case TagInteger, TagFloat:
			w.U4(uint32(c.Bits))
		case TagLong, TagDouble:
			w.U8(c.Bits)
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			w.U2(c.A)
		case TagMethodHandle:
			w.U1(c.Kind)
			w.U2(c.A)
		default:
			w.U2(c.A)
			w.U2(c.B)
		}
	})
}

// EnsureAttr makes sure a typed class attribute placeholder exists for
// name, appending one when missing.
func (c *Class) EnsureAttr(name string) {
	if Attr(c.Attrs, name) != nil {
		return
	}
	c.Attrs = append(c.Attrs, Attribute{NameIndex: uint16(c.Pool.AddUtf8(name)), Name: name})
}
