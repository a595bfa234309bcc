package classfile

import (
	"encoding/binary"
	"fmt"
)

// Refs returns every pool index reachable from the class structure, closed
// over entry operands. It fails if an attribute it must look into does not
// decode, or if the class carries an attribute it does not understand.
func (c *Class) Refs() (map[int]bool, error) {
	if c.Opaque() {
		return nil, fmt.Errorf("classfile: %s carries opaque attributes", c.Name())
	}
	refs := make(map[int]bool)
	add := func(idx ...uint16) {
		for _, i := range idx {
			if i != 0 {
				refs[int(i)] = true
			}
		}
	}
	add(c.ThisClass, c.SuperClass)
	add(c.Interfaces...)
	for _, f := range c.Fields {
		add(f.NameIndex, f.DescIndex)
		if err := attrRefs(f.Attrs, add); err != nil {
			return nil, err
		}
	}
	for _, m := range c.Methods {
		add(m.NameIndex, m.DescIndex)
		if err := attrRefs(m.Attrs, add); err != nil {
			return nil, err
		}
		if m.Code == nil {
			continue
		}
		for _, in := range m.Code.Insts {
			if in.UsesPool() {
				add(uint16(in.Index))
			}
		}
		for _, h := range m.Code.Handlers {
			add(uint16(h.CatchType))
		}
		for _, lv := range m.Code.Locals {
			add(lv.Name, lv.Desc)
		}
		for _, lv := range m.Code.LocalTypes {
			add(lv.Name, lv.Desc)
		}
		if err := attrRefs(m.Code.Attrs, add); err != nil {
			return nil, err
		}
	}
	if err := attrRefs(c.Attrs, add); err != nil {
		return nil, err
	}
	for _, ic := range c.InnerClasses {
		add(ic.Inner, ic.Outer, ic.Name)
	}
	if em := c.EnclosingMethod; em != nil {
		add(em.Class, em.Method)
	}
	for _, bm := range c.BootstrapMethods {
		add(bm.Ref)
		add(bm.Args...)
	}
	for _, rc := range c.Record {
		add(rc.Name, rc.Desc)
		if err := attrRefs(rc.Attrs, add); err != nil {
			return nil, err
		}
	}

	work := make([]int, 0, len(refs))
	for i := range refs {
		work = append(work, i)
	}
	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		e, err := c.Pool.At(i)
		if err != nil {
			return nil, err
		}
		for _, r := range e.Refs() {
			if !refs[r] {
				refs[r] = true
				work = append(work, r)
			}
		}
	}
	return refs, nil
}

func attrRefs(attrs []Attribute, add func(...uint16)) error {
	for _, a := range attrs {
		add(a.NameIndex)
		if a.Typed() {
			continue
		}
		var err error
		switch a.Name {
		case AttrConstantValue, AttrSourceFile, AttrSignature, AttrNestHost:
			v, ok := U16Attr(&a)
			if !ok {
				return fmt.Errorf("classfile: bad %s attribute", a.Name)
			}
			add(v)
		case AttrExceptions, AttrNestMembers, AttrPermittedSubclasses:
			var v []uint16
			if v, err = U16ListAttr(&a); err == nil {
				add(v...)
			}
		case AttrMethodParameters:
			var ps []MethodParameter
			if ps, err = MethodParameters(&a); err == nil {
				for _, p := range ps {
					add(p.Name)
				}
			}
		case AttrStackMapTable:
			var v []uint16
			if v, err = StackMapClasses(a.Data); err == nil {
				add(v...)
			}
		default:
			if IsAnnotationAttr(a.Name) {
				err = WalkAnnotations(a.Name, a.Data, func(_ AnnRef, pos int) {
					add(binary.BigEndian.Uint16(a.Data[pos:]))
				})
			}
		}
		if err != nil {
			return fmt.Errorf("classfile: %s: %w", a.Name, err)
		}
	}
	return nil
}

// Sweep blanks every pool entry nothing refers to any more, so that values
// replaced by passes do not linger in the output. Indices stay stable:
// narrow entries become empty Utf8 entries and wide ones zero longs. Classes
// with opaque attributes are left alone. It returns the number of entries
// blanked.
func Sweep(c *Class) (int, error) {
	refs, err := c.Refs()
	if err != nil {
		if c.Opaque() {
			return 0, nil
		}
		return 0, err
	}
	blank := Constant{Tag: TagUtf8, Bytes: []byte{}}
	n := 0
	var todo []int
	c.Pool.Entries(func(i int, e Constant) {
		if refs[i] {
			return
		}
		if e.Tag == TagUtf8 && len(e.Bytes) == 0 {
			return
		}
		if e.Tag == TagLong && e.Bits == 0 {
			return
		}
		todo = append(todo, i)
	})
	for _, i := range todo {
		e, _ := c.Pool.At(i)
		b := blank
		if e.Tag.Wide() {
			b = Constant{Tag: TagLong}
		}
		if err := c.Pool.Set(i, b); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
