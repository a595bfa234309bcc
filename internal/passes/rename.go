package passes

import (
	"slices"

	"classmorph/internal/classfile"
	"classmorph/internal/diag"
	"classmorph/internal/program"
)

// Rename applies the rename plan. Pool entries naming a class or member
// are repointed at fresh entries; shared Utf8 entries are never edited in
// place, since one string may serve as a name, a descriptor and a literal
// at once. Clean code keeps its bytes: instructions refer to entries whose
// index does not change.
type Rename struct{}

func (Rename) String() string          { return "rename" }
func (Rename) Skip(ctx *Context) bool { return ctx.Plan.Empty() }

func (Rename) Run(ctx *Context) error {
	return ctx.eachUnit("rename", func(u unit) error {
		r := &renamer{ix: ctx.Index, p: ctx.Plan, c: u.Class, unit: u.name}
		if err := r.run(); err != nil {
			return err
		}
		if r.changed {
			ctx.touch(u.name)
		}
		return nil
	})
}

type renamer struct {
	ix      *program.Index
	p       *program.Plan
	c       *classfile.Class
	unit    string
	changed bool
}

func (r *renamer) desc(d string) string { return classfile.RemapDesc(d, r.p.Class) }

func (r *renamer) utf8(s string) uint16 { return uint16(r.c.Pool.AddUtf8(s)) }

// set points index *i at a Utf8 entry holding s when it differs from old.
func (r *renamer) set(i *uint16, old, s string) {
	if s != old {
		*i = r.utf8(s)
		r.changed = true
	}
}

func (r *renamer) run() error {
	c := r.c
	// Inner class names must be read before Class entries move.
	inner := make([]string, len(c.InnerClasses))
	for k, ic := range c.InnerClasses {
		inner[k] = c.ClassAt(ic.Inner)
	}
	var enclosing string
	if em := c.EnclosingMethod; em != nil {
		enclosing = c.ClassAt(em.Class)
	}

	if err := r.pool(); err != nil {
		return err
	}
	r.members()
	for k := range c.InnerClasses {
		ic := &c.InnerClasses[k]
		if ic.Name == 0 || inner[k] == "" {
			continue
		}
		simple := c.Utf8(ic.Name)
		r.set(&ic.Name, simple, r.p.InnerSimpleName(inner[k], simple))
	}
	if em := c.EnclosingMethod; em != nil && em.Method != 0 {
		name, desc, err := c.Pool.NameAndType(int(em.Method))
		if err != nil {
			return diag.Wrap(diag.MalformedUnit, err, "EnclosingMethod of %s", enclosing)
		}
		nn := name
		if id, ok := r.ix.Ref(r.unit, int(em.Method)); ok {
			nn = r.p.Member(id)
		}
		if nd := r.desc(desc); nn != name || nd != desc {
			em.Method = uint16(c.Pool.AddNameAndType(nn, nd))
			r.changed = true
		}
	}
	for k := range c.Record {
		rc := &c.Record[k]
		r.set(&rc.Desc, c.Utf8(rc.Desc), r.desc(c.Utf8(rc.Desc)))
		r.attrs(rc.Attrs)
	}
	r.attrs(c.Attrs)
	return nil
}

// pool repoints Class, member reference, dynamic call site and MethodType
// entries.
func (r *renamer) pool() error {
	c := r.c
	type entry struct {
		i int
		e classfile.Constant
	}
	var entries []entry
	c.Pool.Entries(func(i int, e classfile.Constant) { entries = append(entries, entry{i, e}) })

	for _, x := range entries {
		i, e := x.i, x.e
		var repl classfile.Constant
		switch {
		case e.Tag == classfile.TagClass:
			name := c.Utf8(e.A)
			nn := classfile.RemapClassName(name, r.p.Class)
			if nn == name {
				continue
			}
			repl = classfile.Constant{Tag: classfile.TagClass, A: r.utf8(nn)}
		case e.Tag.IsMemberRef():
			name, desc, err := c.Pool.NameAndType(int(e.B))
			if err != nil {
				return diag.Wrap(diag.MalformedUnit, err, "member reference #%d", i)
			}
			nn, nd := name, r.desc(desc)
			if id, ok := r.ix.Ref(r.unit, i); ok {
				nn = r.p.Member(id)
			}
			if nn == name && nd == desc {
				continue
			}
			repl = classfile.Constant{Tag: e.Tag, A: e.A, B: uint16(c.Pool.AddNameAndType(nn, nd))}
		case e.Tag == classfile.TagInvokeDynamic || e.Tag == classfile.TagDynamic:
			name, desc, err := c.Pool.NameAndType(int(e.B))
			if err != nil {
				return diag.Wrap(diag.MalformedUnit, err, "dynamic call site #%d", i)
			}
			nd := r.desc(desc)
			if nd == desc {
				continue
			}
			repl = classfile.Constant{Tag: e.Tag, A: e.A, B: uint16(c.Pool.AddNameAndType(name, nd))}
		case e.Tag == classfile.TagMethodType:
			desc := c.Utf8(e.A)
			nd := r.desc(desc)
			if nd == desc {
				continue
			}
			repl = classfile.Constant{Tag: classfile.TagMethodType, A: r.utf8(nd)}
		default:
			continue
		}
		if err := c.Pool.Set(i, repl); err != nil {
			return diag.Wrap(diag.MalformedUnit, err, "repoint #%d", i)
		}
		r.changed = true
	}
	return nil
}

// members renames declarations and everything hanging off them.
func (r *renamer) members() {
	c := r.c
	for _, f := range c.Fields {
		name, desc := c.NameOf(&f.Member), c.DescOf(&f.Member)
		if id, ok := r.ix.Field(r.unit, name, desc); ok {
			r.set(&f.NameIndex, name, r.p.Member(id))
		}
		r.set(&f.DescIndex, desc, r.desc(desc))
		r.attrs(f.Attrs)
	}
	for _, m := range c.Methods {
		name, desc := c.NameOf(&m.Member), c.DescOf(&m.Member)
		if id, ok := r.ix.Method(r.unit, name, desc); ok {
			r.set(&m.NameIndex, name, r.p.Member(id))
		}
		r.set(&m.DescIndex, desc, r.desc(desc))
		r.attrs(m.Attrs)
		if m.Code == nil {
			continue
		}
		for k := range m.Code.Locals {
			v := &m.Code.Locals[k]
			d := c.Utf8(v.Desc)
			r.set(&v.Desc, d, r.desc(d))
		}
		for k := range m.Code.LocalTypes {
			v := &m.Code.LocalTypes[k]
			sig := c.Utf8(v.Desc)
			if ns, err := classfile.RemapSignature(sig, r.p.Class); err == nil {
				r.set(&v.Desc, sig, ns)
			}
		}
		r.attrs(m.Code.Attrs)
	}
}

// attrs rewrites Signature and annotation attributes. A signature that does
// not parse is left alone; the runtime only reads it on demand.
func (r *renamer) attrs(attrs []classfile.Attribute) {
	c := r.c
	for k := range attrs {
		a := &attrs[k]
		switch {
		case a.Typed():
		case a.Name == classfile.AttrSignature:
			idx, ok := classfile.U16Attr(a)
			if !ok {
				continue
			}
			sig := c.Utf8(idx)
			ns, err := classfile.RemapSignature(sig, r.p.Class)
			if err != nil || ns == sig {
				continue
			}
			classfile.PutU16Attr(a, r.utf8(ns))
			r.changed = true
		case classfile.IsAnnotationAttr(a.Name):
			data := slices.Clone(a.Data)
			edited := false
			err := classfile.WalkAnnotations(a.Name, data, func(ref classfile.AnnRef, pos int) {
				if ref != classfile.AnnType && ref != classfile.AnnEnumType && ref != classfile.AnnClass {
					return
				}
				idx := uint16(data[pos])<<8 | uint16(data[pos+1])
				d := c.Utf8(idx)
				if nd := r.desc(d); nd != d {
					n := r.utf8(nd)
					data[pos], data[pos+1] = byte(n>>8), byte(n)
					edited = true
				}
			})
			if err == nil && edited {
				a.Data = data
				r.changed = true
			}
		}
	}
}
