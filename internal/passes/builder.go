package passes

import (
	"classmorph/internal/classfile"
	"classmorph/internal/disasm"
)

// builder appends synthesized instructions for one method.
type builder struct {
	pool  *classfile.Pool
	code  *classfile.Code
	insts []disasm.Inst
}

func newBuilder(c *classfile.Class, code *classfile.Code) *builder {
	return &builder{pool: c.Pool, code: code}
}

func (b *builder) label() disasm.Label { return b.code.NewLabel() }

func (b *builder) mark(l disasm.Label) { b.insts = append(b.insts, disasm.Mark(l)) }

func (b *builder) add(ins ...disasm.Inst) { b.insts = append(b.insts, ins...) }

func (b *builder) op(ops ...disasm.Opcode) {
	for _, op := range ops {
		b.insts = append(b.insts, disasm.Op0(op))
	}
}

func (b *builder) jump(op disasm.Opcode, l disasm.Label) { b.add(disasm.Jump(op, l)) }

func (b *builder) load(t disasm.ValueType, slot int) { b.add(disasm.Load(t, slot)) }

func (b *builder) store(t disasm.ValueType, slot int) { b.add(disasm.Store(t, slot)) }

func (b *builder) int(v int32) { b.add(pushInt(b.pool, v)) }

func (b *builder) long(v int64) {
	switch v {
	case 0, 1:
		b.op(disasm.Lconst0 + disasm.Opcode(v))
	default:
		b.add(disasm.PoolOp(disasm.Ldc2W, b.pool.AddLong(v)))
	}
}

func (b *builder) ldc(idx int) { b.add(disasm.PoolOp(disasm.Ldc, idx)) }

func (b *builder) typ(op disasm.Opcode, class string) {
	b.add(disasm.PoolOp(op, b.pool.AddClass(class)))
}

func (b *builder) field(op disasm.Opcode, owner, name, desc string) {
	b.add(disasm.PoolOp(op, b.pool.AddMember(classfile.TagFieldref, owner, name, desc)))
}

func (b *builder) invoke(op disasm.Opcode, owner, name, desc string) {
	b.add(invoke(b.pool, op, owner, name, desc))
}

// pushInt returns the shortest instruction pushing v.
func pushInt(pool *classfile.Pool, v int32) disasm.Inst {
	if in, ok := disasm.IntConst(v); ok {
		return in
	}
	return disasm.PoolOp(disasm.Ldc, pool.AddInteger(v))
}

func invoke(pool *classfile.Pool, op disasm.Opcode, owner, name, desc string) disasm.Inst {
	tag := classfile.TagMethodref
	if op == disasm.Invokeinterface {
		tag = classfile.TagInterfaceMethodref
	}
	in := disasm.PoolOp(op, pool.AddMember(tag, owner, name, desc))
	if op == disasm.Invokeinterface {
		if d, err := classfile.ParseMethodDesc(desc); err == nil {
			in.Value = int32(d.ArgSlots() + 1)
		}
	}
	return in
}

// addMethod declares a method whose body is insts and marks it for layout.
func addMethod(c *classfile.Class, access uint16, name, desc string, code *classfile.Code) *classfile.Method {
	m := &classfile.Method{
		Member: classfile.Member{
			Access:    access,
			NameIndex: uint16(c.Pool.AddUtf8(name)),
			DescIndex: uint16(c.Pool.AddUtf8(desc)),
			Attrs: []classfile.Attribute{{
				NameIndex: uint16(c.Pool.AddUtf8(classfile.AttrCode)),
				Name:      classfile.AttrCode,
			}},
		},
		Code: code,
	}
	code.Dirty = true
	c.Methods = append(c.Methods, m)
	return m
}

// addField declares a field without attributes.
func addField(c *classfile.Class, access uint16, name, desc string) {
	c.Fields = append(c.Fields, &classfile.Field{Member: classfile.Member{
		Access:    access,
		NameIndex: uint16(c.Pool.AddUtf8(name)),
		DescIndex: uint16(c.Pool.AddUtf8(desc)),
	}})
}

// methodKey names a method for error reports.
func methodKey(c *classfile.Class, m *classfile.Method) string {
	return c.NameOf(&m.Member) + c.DescOf(&m.Member)
}
