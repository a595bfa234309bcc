// Package cftest assembles class files for tests.
package cftest

import (
	"strings"
	"testing"

	"classmorph/internal/classfile"
	"classmorph/internal/disasm"
)

// Builder assembles one class.
type Builder struct {
	t testing.TB
	c *classfile.Class
}

// New starts a public class extending super ("" for java/lang/Object)
// with major version 52.
func New(t testing.TB, name, super string, ifaces ...string) *Builder {
	t.Helper()
	if super == "" {
		super = "java/lang/Object"
	}
	p := classfile.NewPool()
	c := &classfile.Class{
		Major:      52,
		Pool:       p,
		Access:     classfile.AccPublic | classfile.AccSuper,
		ThisClass:  uint16(p.AddClass(name)),
		SuperClass: uint16(p.AddClass(super)),
	}
	for _, i := range ifaces {
		c.Interfaces = append(c.Interfaces, uint16(p.AddClass(i)))
	}
	return &Builder{t: t, c: c}
}

// Version sets the class file major version.
func (b *Builder) Version(major uint16) *Builder {
	b.c.Major = major
	return b
}

// Access replaces the class access flags.
func (b *Builder) Access(flags uint16) *Builder {
	b.c.Access = flags
	return b
}

// Field declares a field.
func (b *Builder) Field(access uint16, name, desc string) *Builder {
	p := b.c.Pool
	b.c.Fields = append(b.c.Fields, &classfile.Field{Member: classfile.Member{
		Access:    access,
		NameIndex: uint16(p.AddUtf8(name)),
		DescIndex: uint16(p.AddUtf8(desc)),
	}})
	return b
}

// ConstField declares a static final field with a ConstantValue string.
func (b *Builder) ConstField(name, value string) *Builder {
	b.Field(classfile.AccPublic|classfile.AccStatic|classfile.AccFinal, name, "Ljava/lang/String;")
	f := b.c.Fields[len(b.c.Fields)-1]
	a := classfile.Attribute{NameIndex: uint16(b.c.Pool.AddUtf8(classfile.AttrConstantValue)), Name: classfile.AttrConstantValue}
	classfile.PutU16Attr(&a, uint16(b.c.Pool.AddString(value)))
	f.Attrs = append(f.Attrs, a)
	return b
}

// Abstract declares a method without code.
func (b *Builder) Abstract(access uint16, name, desc string) *Builder {
	p := b.c.Pool
	b.c.Methods = append(b.c.Methods, &classfile.Method{Member: classfile.Member{
		Access:    access,
		NameIndex: uint16(p.AddUtf8(name)),
		DescIndex: uint16(p.AddUtf8(desc)),
	}})
	return b
}

// Method declares a method whose body is written by body.
func (b *Builder) Method(access uint16, name, desc string, maxStack, maxLocals int, body func(a *Asm)) *Builder {
	b.t.Helper()
	p := b.c.Pool
	code := &classfile.Code{MaxStack: uint16(maxStack), MaxLocals: uint16(maxLocals)}
	a := &Asm{b: b, code: code}
	body(a)
	code.Insts = a.insts
	code.Handlers = a.handlers
	if err := assemble(code); err != nil {
		b.t.Fatalf("cftest: %s%s: %v", name, desc, err)
	}
	b.c.Methods = append(b.c.Methods, &classfile.Method{
		Member: classfile.Member{
			Access:    access,
			NameIndex: uint16(p.AddUtf8(name)),
			DescIndex: uint16(p.AddUtf8(desc)),
			Attrs:     []classfile.Attribute{{NameIndex: uint16(p.AddUtf8(classfile.AttrCode)), Name: classfile.AttrCode}},
		},
		Code: code,
	})
	return b
}

// Attr appends a raw class attribute.
func (b *Builder) Attr(name string, data []byte) *Builder {
	b.c.Attrs = append(b.c.Attrs, classfile.Attribute{NameIndex: uint16(b.c.Pool.AddUtf8(name)), Name: name, Data: data})
	return b
}

// SourceFile adds a SourceFile attribute.
func (b *Builder) SourceFile(name string) *Builder {
	a := classfile.Attribute{NameIndex: uint16(b.c.Pool.AddUtf8(classfile.AttrSourceFile)), Name: classfile.AttrSourceFile}
	classfile.PutU16Attr(&a, uint16(b.c.Pool.AddUtf8(name)))
	b.c.Attrs = append(b.c.Attrs, a)
	return b
}

// Inner records an InnerClasses entry.
func (b *Builder) Inner(inner, outer, simple string, access uint16) *Builder {
	p := b.c.Pool
	ic := classfile.InnerClass{Inner: uint16(p.AddClass(inner)), Access: access}
	if outer != "" {
		ic.Outer = uint16(p.AddClass(outer))
	}
	if simple != "" {
		ic.Name = uint16(p.AddUtf8(simple))
	}
	b.c.EnsureAttr(classfile.AttrInnerClasses)
	b.c.InnerClasses = append(b.c.InnerClasses, ic)
	return b
}

// Annotate adds a RuntimeVisibleAnnotations attribute holding one marker
// annotation of type desc.
func (b *Builder) Annotate(desc string) *Builder {
	idx := b.c.Pool.AddUtf8(desc)
	return b.Attr(classfile.AttrRuntimeVisibleAnn, []byte{0, 1, byte(idx >> 8), byte(idx), 0, 0})
}

// Bytes emits the class.
func (b *Builder) Bytes() []byte {
	b.t.Helper()
	data, err := classfile.Emit(b.c)
	if err != nil {
		b.t.Fatalf("cftest: emit: %v", err)
	}
	return data
}

// Class emits the class and parses it back, so the result looks exactly
// like a class read from disk.
func (b *Builder) Class() *classfile.Class {
	b.t.Helper()
	c, err := classfile.Parse(b.c.Name(), b.Bytes())
	if err != nil {
		b.t.Fatalf("cftest: parse: %v", err)
	}
	return c
}

// assemble encodes code with short branches only.
func assemble(code *classfile.Code) error {
	offsets := make([]int, code.Labels())
	for i := range offsets {
		offsets[i] = -1
	}
	pc := 0
	for _, in := range code.Insts {
		if in.IsLabel() {
			offsets[in.Label] = pc
		}
		pc += disasm.Size(in, pc, false)
	}
	var buf []byte
	for _, in := range code.Insts {
		var err error
		buf, err = disasm.Append(buf, in, len(buf), false, func(l disasm.Label) int { return offsets[l] })
		if err != nil {
			return err
		}
	}
	code.SetLayout(buf, offsets)
	return nil
}

// Asm collects the instructions of one method.
type Asm struct {
	b        *Builder
	code     *classfile.Code
	insts    []disasm.Inst
	handlers []disasm.Handler
}

// Pool returns the class constant pool.
func (a *Asm) Pool() *classfile.Pool { return a.b.c.Pool }

// Label allocates a label.
func (a *Asm) Label() disasm.Label { return a.code.NewLabel() }

// Mark places l at the current position.
func (a *Asm) Mark(l disasm.Label) { a.insts = append(a.insts, disasm.Mark(l)) }

// Here allocates a label and places it at the current position.
func (a *Asm) Here() disasm.Label {
	l := a.Label()
	a.Mark(l)
	return l
}

// Op appends an operand-free instruction.
func (a *Asm) Op(ops ...disasm.Opcode) {
	for _, op := range ops {
		a.insts = append(a.insts, disasm.Op0(op))
	}
}

// Int pushes an int constant.
func (a *Asm) Int(v int32) {
	if in, ok := disasm.IntConst(v); ok {
		a.insts = append(a.insts, in)
		return
	}
	a.insts = append(a.insts, disasm.PoolOp(disasm.Ldc, a.Pool().AddInteger(v)))
}

// Long pushes a long constant from the pool.
func (a *Asm) Long(v int64) {
	a.insts = append(a.insts, disasm.PoolOp(disasm.Ldc2W, a.Pool().AddLong(v)))
}

// Str pushes a string constant.
func (a *Asm) Str(s string) {
	a.insts = append(a.insts, disasm.PoolOp(disasm.Ldc, a.Pool().AddString(s)))
}

// ClassConst pushes a class literal.
func (a *Asm) ClassConst(name string) {
	a.insts = append(a.insts, disasm.PoolOp(disasm.Ldc, a.Pool().AddClass(name)))
}

func (a *Asm) Load(t disasm.ValueType, slot int) { a.insts = append(a.insts, disasm.Load(t, slot)) }
func (a *Asm) Store(t disasm.ValueType, slot int) { a.insts = append(a.insts, disasm.Store(t, slot)) }
func (a *Asm) Inc(slot int, delta int32) { a.insts = append(a.insts, disasm.Inc(slot, delta)) }
func (a *Asm) Jump(op disasm.Opcode, l disasm.Label) {
	a.insts = append(a.insts, disasm.Jump(op, l))
}

// Invoke appends a method call.
func (a *Asm) Invoke(op disasm.Opcode, owner, name, desc string) {
	tag := classfile.TagMethodref
	if op == disasm.Invokeinterface {
		tag = classfile.TagInterfaceMethodref
	}
	in := disasm.PoolOp(op, a.Pool().AddMember(tag, owner, name, desc))
	if op == disasm.Invokeinterface {
		d, err := classfile.ParseMethodDesc(desc)
		if err != nil {
			a.b.t.Fatalf("cftest: %v", err)
		}
		in.Value = int32(d.ArgSlots() + 1)
	}
	a.insts = append(a.insts, in)
}

// Field appends a field access.
func (a *Asm) Field(op disasm.Opcode, owner, name, desc string) {
	a.insts = append(a.insts, disasm.PoolOp(op, a.Pool().AddMember(classfile.TagFieldref, owner, name, desc)))
}

// Type appends new, checkcast, instanceof or anewarray.
func (a *Asm) Type(op disasm.Opcode, class string) {
	a.insts = append(a.insts, disasm.PoolOp(op, a.Pool().AddClass(class)))
}

// NewArray appends newarray of a primitive element type (disasm.TInt etc).
func (a *Asm) NewArray(elem int32) {
	in := disasm.Op0(disasm.Newarray)
	in.Value = elem
	a.insts = append(a.insts, in)
}

// Switch appends a lookupswitch, or a tableswitch when keys are consecutive.
func (a *Asm) Switch(dflt disasm.Label, keys []int32, targets []disasm.Label) {
	op := disasm.Lookupswitch
	if len(keys) > 0 && int(keys[len(keys)-1]-keys[0]) == len(keys)-1 {
		op = disasm.Tableswitch
	}
	in := disasm.Op0(op)
	in.Switch = &disasm.Switch{Default: dflt, Keys: keys, Targets: targets}
	a.insts = append(a.insts, in)
}

// Try protects [start, end) with a handler at target catching class
// ("" catches everything).
func (a *Asm) Try(start, end, target disasm.Label, class string) {
	h := disasm.Handler{Start: start, End: end, Target: target}
	if class != "" {
		h.CatchType = a.Pool().AddClass(class)
	}
	a.handlers = append(a.handlers, h)
}

// Line maps l to a source line.
func (a *Asm) Line(l disasm.Label, line uint16) {
	if classfile.Attr(a.code.Attrs, classfile.AttrLineNumberTable) == nil {
		a.code.Attrs = append(a.code.Attrs, classfile.Attribute{
			NameIndex: uint16(a.Pool().AddUtf8(classfile.AttrLineNumberTable)),
			Name:      classfile.AttrLineNumberTable,
		})
	}
	a.code.Lines = append(a.code.Lines, classfile.LineEntry{Start: l, Line: line})
}

// Local describes a LocalVariableTable entry.
func (a *Asm) Local(start, end disasm.Label, slot int, name, desc string) {
	if classfile.Attr(a.code.Attrs, classfile.AttrLocalVariableTable) == nil {
		a.code.Attrs = append(a.code.Attrs, classfile.Attribute{
			NameIndex: uint16(a.Pool().AddUtf8(classfile.AttrLocalVariableTable)),
			Name:      classfile.AttrLocalVariableTable,
		})
	}
	a.code.Locals = append(a.code.Locals, classfile.LocalVar{
		Start: start,
		End:   end,
		Name:  uint16(a.Pool().AddUtf8(name)),
		Desc:  uint16(a.Pool().AddUtf8(desc)),
		Slot:  uint16(slot),
	})
}

// Lambda appends an invokedynamic bootstrapped by LambdaMetafactory that
// creates an instance of iface whose method sam (with descriptor samDesc) is
// implemented by the static method owner.impl.
func (a *Asm) Lambda(iface, sam, samDesc, owner, impl, implDesc string) {
	p := a.Pool()
	c := a.b.c
	meta := p.AddMethodHandle(classfile.RefInvokeStatic, p.AddMember(classfile.TagMethodref,
		"java/lang/invoke/LambdaMetafactory", "metafactory",
		"(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/invoke/MethodType;"+
			"Ljava/lang/invoke/MethodType;Ljava/lang/invoke/MethodHandle;Ljava/lang/invoke/MethodType;)"+
			"Ljava/lang/invoke/CallSite;"))
	implHandle := p.AddMethodHandle(classfile.RefInvokeStatic, p.AddMember(classfile.TagMethodref, owner, impl, implDesc))
	c.EnsureAttr(classfile.AttrBootstrapMethods)
	c.BootstrapMethods = append(c.BootstrapMethods, classfile.BootstrapMethod{
		Ref:  uint16(meta),
		Args: []uint16{uint16(p.AddMethodType(samDesc)), uint16(implHandle), uint16(p.AddMethodType(samDesc))},
	})
	indy := p.AddInvokeDynamic(len(c.BootstrapMethods)-1, sam, "()L"+iface+";")
	a.insts = append(a.insts, disasm.PoolOp(disasm.Invokedynamic, indy))
}

// Desc builds a method descriptor from field descriptors, e.g.
// Desc("V", "I", "Ljava/lang/String;").
func Desc(ret string, args ...string) string {
	return "(" + strings.Join(args, "") + ")" + ret
}
