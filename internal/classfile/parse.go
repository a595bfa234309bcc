package classfile

import (
	"fmt"

	"classmorph/internal/diag"
	"classmorph/internal/disasm"
)

// Parse decodes one class file. Any inconsistency yields a
// diag.MalformedUnit error and no Class.
func Parse(name string, data []byte) (*Class, error) {
	c, err := parse(data)
	if err != nil {
		return nil, diag.Wrap(diag.MalformedUnit, err, "parse").In(name)
	}
	return c, nil
}

func parse(data []byte) (*Class, error) {
	s := NewStream(data)
	magic, err := s.ReadUint32()
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, fmt.Errorf("bad magic 0x%08x", magic)
	}
	c := &Class{}
	if c.Minor, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	if c.Major, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	if c.Major < MinMajor || c.Major > MaxMajor {
		return nil, fmt.Errorf("unsupported class version %d.%d", c.Major, c.Minor)
	}
	if c.Pool, err = readPool(s); err != nil {
		return nil, fmt.Errorf("constant pool: %w", err)
	}

	if c.Access, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	if c.ThisClass, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	if _, err := c.Pool.ClassName(int(c.ThisClass)); err != nil {
		return nil, fmt.Errorf("this_class: %w", err)
	}
	if c.SuperClass, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	if c.SuperClass != 0 {
		if _, err := c.Pool.ClassName(int(c.SuperClass)); err != nil {
			return nil, fmt.Errorf("super_class: %w", err)
		}
	}
	if c.Interfaces, err = s.u16s(); err != nil {
		return nil, err
	}
	for _, i := range c.Interfaces {
		if _, err := c.Pool.ClassName(int(i)); err != nil {
			return nil, fmt.Errorf("interfaces: %w", err)
		}
	}

	nf, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	for range nf {
		m, err := readMember(s, c.Pool)
		if err != nil {
			return nil, fmt.Errorf("field: %w", err)
		}
		c.Fields = append(c.Fields, &Field{Member: m})
	}

	nm, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	for range nm {
		m, err := readMember(s, c.Pool)
		if err != nil {
			return nil, fmt.Errorf("method: %w", err)
		}
		meth := &Method{Member: m}
		if a := Attr(meth.Attrs, AttrCode); a != nil {
			if meth.Code, err = parseCode(a.Data, c.Pool); err != nil {
				return nil, fmt.Errorf("method %s%s: code: %w", c.Utf8(m.NameIndex), c.Utf8(m.DescIndex), err)
			}
			a.Data = nil
		}
		c.Methods = append(c.Methods, meth)
	}

	if c.Attrs, err = readRawAttrs(s, c.Pool); err != nil {
		return nil, err
	}
	for i := range c.Attrs {
		a := &c.Attrs[i]
		as := NewStream(a.Data)
		switch a.Name {
		case AttrInnerClasses:
			c.InnerClasses, err = readInnerClasses(as)
		case AttrEnclosingMethod:
			c.EnclosingMethod, err = readEnclosingMethod(as)
		case AttrBootstrapMethods:
			c.BootstrapMethods, err = readBootstrapMethods(as)
		case AttrRecord:
			c.Record, err = readRecord(as, c.Pool)
		default:
			continue
		}
		if err == nil {
			err = as.Done()
		}
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", a.Name, err)
		}
		a.Data = nil
	}
	if err := s.Done(); err != nil {
		return nil, err
	}
	if err := c.checkRefs(); err != nil {
		return nil, err
	}
	return c, nil
}

func readMember(s *Stream, pool *Pool) (Member, error) {
	var m Member
	var err error
	if m.Access, err = s.ReadUint16(); err != nil {
		return m, err
	}
	if m.NameIndex, err = s.ReadUint16(); err != nil {
		return m, err
	}
	if m.DescIndex, err = s.ReadUint16(); err != nil {
		return m, err
	}
	if _, err := pool.Utf8(int(m.NameIndex)); err != nil {
		return m, fmt.Errorf("name: %w", err)
	}
	if _, err := pool.Utf8(int(m.DescIndex)); err != nil {
		return m, fmt.Errorf("descriptor: %w", err)
	}
	m.Attrs, err = readRawAttrs(s, pool)
	return m, err
}

func readPool(s *Stream) (*Pool, error) {
	n, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("empty pool")
	}
	p := NewPool()
	for i := 1; i < int(n); i++ {
		t, err := s.ReadUint8()
		if err != nil {
			return nil, err
		}
		c := Constant{Tag: Tag(t)}
		switch c.Tag {
		case TagUtf8:
			ln, err := s.ReadUint16()
			if err != nil {
				return nil, err
			}
			if c.Bytes, err = s.ReadBytes(int(ln)); err != nil {
				return nil, err
			}
			if _, err := DecodeChars(c.Bytes); err != nil {
				return nil, fmt.Errorf("#%d: %w", i, err)
			}
		case TagInteger, TagFloat:
			v, err := s.ReadUint32()
			if err != nil {
				return nil, err
			}
			c.Bits = uint64(v)
		case TagLong, TagDouble:
			if i+1 >= int(n) {
				return nil, fmt.Errorf("#%d: %s in last slot", i, c.Tag)
			}
			if c.Bits, err = s.ReadUint64(); err != nil {
				return nil, err
			}
			i++
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			if c.A, err = s.ReadUint16(); err != nil {
				return nil, err
			}
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			if c.A, err = s.ReadUint16(); err != nil {
				return nil, err
			}
			if c.B, err = s.ReadUint16(); err != nil {
				return nil, err
			}
		case TagMethodHandle:
			if c.Kind, err = s.ReadUint8(); err != nil {
				return nil, err
			}
			if c.A, err = s.ReadUint16(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("#%d: unknown tag %d", i, t)
		}
		p.append(c)
	}
	return p, p.validate()
}

// validate checks that every entry's operands point at entries of the
// right tag.
func (p *Pool) validate() error {
	for i := 1; i < len(p.entries); i++ {
		c := p.entries[i]
		var err error
		switch c.Tag {
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			_, err = p.expect(int(c.A), TagUtf8)
		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			if _, err = p.expect(int(c.A), TagClass); err == nil {
				_, err = p.expect(int(c.B), TagNameAndType)
			}
		case TagNameAndType:
			if _, err = p.expect(int(c.A), TagUtf8); err == nil {
				_, err = p.expect(int(c.B), TagUtf8)
			}
		case TagDynamic, TagInvokeDynamic:
			_, err = p.expect(int(c.B), TagNameAndType)
		case TagMethodHandle:
			switch c.Kind {
			case RefGetField, RefGetStatic, RefPutField, RefPutStatic:
				_, err = p.expect(int(c.A), TagFieldref)
			case RefInvokeVirtual, RefNewInvokeSpecial:
				_, err = p.expect(int(c.A), TagMethodref)
			case RefInvokeStatic, RefInvokeSpecial:
				_, err = p.expect(int(c.A), TagMethodref, TagInterfaceMethodref)
			case RefInvokeInterface:
				_, err = p.expect(int(c.A), TagInterfaceMethodref)
			default:
				err = fmt.Errorf("bad reference kind %d", c.Kind)
			}
		}
		if err != nil {
			return fmt.Errorf("#%d %s: %w", i, c.Tag, err)
		}
	}
	return nil
}

// checkRefs validates pool indices held by decoded code and attributes.
func (c *Class) checkRefs() error {
	p := c.Pool
	for _, m := range c.Methods {
		if m.Code == nil {
			continue
		}
		for _, in := range m.Code.Insts {
			if !in.UsesPool() {
				continue
			}
			if err := checkInstRef(p, in); err != nil {
				return fmt.Errorf("method %s%s: %w", c.NameOf(&m.Member), c.DescOf(&m.Member), err)
			}
		}
		for _, h := range m.Code.Handlers {
			if h.CatchType != 0 {
				if _, err := p.ClassName(h.CatchType); err != nil {
					return fmt.Errorf("catch type: %w", err)
				}
			}
		}
		for _, lv := range append(append([]LocalVar(nil), m.Code.Locals...), m.Code.LocalTypes...) {
			if _, err := p.Utf8(int(lv.Name)); err != nil {
				return fmt.Errorf("local variable: %w", err)
			}
			if _, err := p.Utf8(int(lv.Desc)); err != nil {
				return fmt.Errorf("local variable: %w", err)
			}
		}
	}
	for _, ic := range c.InnerClasses {
		for _, i := range []uint16{ic.Inner, ic.Outer} {
			if i != 0 {
				if _, err := p.ClassName(int(i)); err != nil {
					return fmt.Errorf("inner class: %w", err)
				}
			}
		}
		if ic.Name != 0 {
			if _, err := p.Utf8(int(ic.Name)); err != nil {
				return fmt.Errorf("inner class: %w", err)
			}
		}
	}
	if em := c.EnclosingMethod; em != nil {
		if _, err := p.ClassName(int(em.Class)); err != nil {
			return fmt.Errorf("enclosing method: %w", err)
		}
		if em.Method != 0 {
			if _, _, err := p.NameAndType(int(em.Method)); err != nil {
				return fmt.Errorf("enclosing method: %w", err)
			}
		}
	}
	for _, bm := range c.BootstrapMethods {
		if _, err := p.expect(int(bm.Ref), TagMethodHandle); err != nil {
			return fmt.Errorf("bootstrap method: %w", err)
		}
		for _, a := range bm.Args {
			if _, err := p.At(int(a)); err != nil {
				return fmt.Errorf("bootstrap argument: %w", err)
			}
		}
	}
	for _, rc := range c.Record {
		if _, err := p.Utf8(int(rc.Name)); err != nil {
			return fmt.Errorf("record component: %w", err)
		}
		if _, err := p.Utf8(int(rc.Desc)); err != nil {
			return fmt.Errorf("record component: %w", err)
		}
	}
	for i := 1; i < len(p.entries); i++ {
		e := p.entries[i]
		if (e.Tag == TagDynamic || e.Tag == TagInvokeDynamic) && int(e.A) >= len(c.BootstrapMethods) {
			return fmt.Errorf("#%d %s: bootstrap method %d out of range", i, e.Tag, e.A)
		}
	}
	return nil
}

func checkInstRef(p *Pool, in disasm.Inst) error {
	var tags []Tag
	switch in.Kind {
	case disasm.KindLdc:
		if in.Op == disasm.Ldc2W {
			tags = []Tag{TagLong, TagDouble, TagDynamic}
		} else {
			tags = []Tag{TagInteger, TagFloat, TagString, TagClass, TagMethodType, TagMethodHandle, TagDynamic}
		}
	case disasm.KindField:
		tags = []Tag{TagFieldref}
	case disasm.KindInvoke:
		tags = []Tag{TagMethodref, TagInterfaceMethodref}
	case disasm.KindInvokeDynamic:
		tags = []Tag{TagInvokeDynamic}
	default:
		tags = []Tag{TagClass}
	}
	if _, err := p.expect(in.Index, tags...); err != nil {
		return fmt.Errorf("%s at %d: %w", in.Op, in.Offset, err)
	}
	return nil
}
