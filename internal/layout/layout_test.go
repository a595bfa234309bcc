package layout_test

import (
	"bytes"
	"slices"
	"testing"

	"classmorph/internal/classfile"
	"classmorph/internal/classfile/cftest"
	"classmorph/internal/diag"
	"classmorph/internal/disasm"
	"classmorph/internal/layout"
	"classmorph/internal/verify"
)

// branchy returns a class whose static method max(II)I branches once.
func branchy(t *testing.T) *classfile.Class {
	return cftest.New(t, "a/M", "").
		Method(classfile.AccPublic|classfile.AccStatic, "max", "(II)I", 2, 2, func(a *cftest.Asm) {
			second := a.Label()
			a.Load(disasm.TypeInt, 0)
			a.Load(disasm.TypeInt, 1)
			a.Jump(disasm.IfIcmplt, second)
			a.Load(disasm.TypeInt, 0)
			a.Op(disasm.Ireturn)
			a.Mark(second)
			a.Load(disasm.TypeInt, 1)
			a.Op(disasm.Ireturn)
		}).Class()
}

func reparse(t *testing.T, c *classfile.Class) *classfile.Class {
	t.Helper()
	data, err := classfile.Emit(c)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	out, err := classfile.Parse(c.Name(), data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return out
}

func ints(n int) []classfile.VType {
	out := make([]classfile.VType, n)
	for i := range out {
		out[i] = classfile.VType{Tag: classfile.VInteger}
	}
	return out
}

// stackMap decodes the frames of m, whose arguments are n ints.
func stackMap(t *testing.T, m *classfile.Method, n int) []classfile.Frame {
	t.Helper()
	data := m.Code.StackMap()
	if data == nil {
		t.Fatalf("no StackMapTable")
	}
	frames, err := classfile.DecodeStackMap(data, ints(n))
	if err != nil {
		t.Fatalf("DecodeStackMap: %v", err)
	}
	return frames
}

func TestMethod_ReencodesAndAddsFrames(t *testing.T) {
	c := branchy(t)
	m := c.Method("max", "(II)I")
	orig := slices.Clone(m.Code.Bytes)
	m.Code.Dirty = true

	st, err := layout.Finalize(c, false, layout.Options{})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if st.Methods != 1 || st.Widened != 0 || st.Unreachable != 0 {
		t.Errorf("stats = %+v", st)
	}
	if !bytes.Equal(m.Code.Bytes, orig) {
		t.Errorf("code = % x, want % x", m.Code.Bytes, orig)
	}
	if m.Code.MaxStack != 2 || m.Code.MaxLocals != 2 {
		t.Errorf("max stack/locals = %d/%d, want 2/2", m.Code.MaxStack, m.Code.MaxLocals)
	}

	c = reparse(t, c)
	m = c.Method("max", "(II)I")
	frames := stackMap(t, m, 2)
	// iload_0 iload_1 if_icmplt(3) iload_0 ireturn -> target at 7.
	if len(frames) != 1 || frames[0].Offset != 7 {
		t.Fatalf("frames = %+v, want one frame at 7", frames)
	}
	if !slices.Equal(frames[0].Locals, ints(2)) || len(frames[0].Stack) != 0 {
		t.Errorf("frame = %+v, want locals [int int] and an empty stack", frames[0])
	}
}

func TestMethod_RemovesUnreachable(t *testing.T) {
	c := cftest.New(t, "a/Dead", "").
		Method(classfile.AccStatic, "one", "()I", 1, 0, func(a *cftest.Asm) {
			a.Op(disasm.Iconst1, disasm.Ireturn)
			start, end, handler := a.Label(), a.Label(), a.Label()
			a.Mark(start)
			a.Str("dead")
			a.Op(disasm.Pop)
			a.Mark(end)
			a.Op(disasm.Iconst2, disasm.Ireturn)
			a.Mark(handler)
			a.Op(disasm.Athrow)
			a.Try(start, end, handler, "")
		}).Class()
	m := c.Method("one", "()I")
	m.Code.Dirty = true

	st, err := layout.Finalize(c, false, layout.Options{})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if st.Unreachable != 5 {
		t.Errorf("Unreachable = %d, want 5", st.Unreachable)
	}
	if want := []byte{byte(disasm.Iconst1), byte(disasm.Ireturn)}; !bytes.Equal(m.Code.Bytes, want) {
		t.Errorf("code = % x, want % x", m.Code.Bytes, want)
	}
	if len(m.Code.Handlers) != 0 {
		t.Errorf("handlers = %v, want none", m.Code.Handlers)
	}
	if st.Swept == 0 {
		t.Errorf("nothing swept")
	}
	c.Pool.Entries(func(i int, e classfile.Constant) {
		if e.Tag == classfile.TagString {
			if s, _ := c.Pool.String(i); s == "dead" {
				t.Errorf("pool still holds the removed literal at #%d", i)
			}
		}
	})
	if m.Code.StackMap() != nil {
		t.Errorf("straight-line method got a StackMapTable")
	}
	reparse(t, c)
}

// stretch inserts n nops right after the first instruction with opcode op
// and marks the code dirty.
func stretch(t *testing.T, m *classfile.Method, op disasm.Opcode, n int) {
	t.Helper()
	i := slices.IndexFunc(m.Code.Insts, func(in disasm.Inst) bool { return !in.IsLabel() && in.Op == op })
	if i < 0 {
		t.Fatalf("no %s", op)
	}
	nops := make([]disasm.Inst, n)
	for k := range nops {
		nops[k] = disasm.Op0(disasm.Nop)
	}
	m.Code.Insts = slices.Insert(m.Code.Insts, i+1, nops...)
	m.Code.Dirty = true
}

func TestMethod_WidensFarBranch(t *testing.T) {
	c := branchy(t)
	m := c.Method("max", "(II)I")
	stretch(t, m, disasm.IfIcmplt, 40000)

	st, err := layout.Finalize(c, false, layout.Options{})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if st.Widened != 1 || st.Iterations != 2 {
		t.Errorf("Widened = %d, Iterations = %d, want 1, 2", st.Widened, st.Iterations)
	}
	code := m.Code.Bytes
	// iload_0 iload_1, then if_icmpge +8 over goto_w.
	if code[2] != byte(disasm.IfIcmpge) || code[3] != 0 || code[4] != 8 || code[5] != byte(disasm.GotoW) {
		t.Fatalf("code[2:6] = % x, want an inverted branch over goto_w", code[2:6])
	}

	c = reparse(t, c)
	m = c.Method("max", "(II)I")
	var offsets []int
	for _, f := range stackMap(t, m, 2) {
		offsets = append(offsets, f.Offset)
	}
	// The inverted branch lands at 10; the old target follows the nops.
	target := 2 + 8 + 40000 + 2
	if !slices.Equal(offsets, []int{10, target}) {
		t.Errorf("frame offsets = %v, want [10 %d]", offsets, target)
	}
	if _, err := verify.Analyze(c, m, verify.NewTable()); err != nil {
		t.Errorf("Analyze after widening: %v", err)
	}
}

func TestMethod_Divergence(t *testing.T) {
	c := branchy(t)
	stretch(t, c.Method("max", "(II)I"), disasm.IfIcmplt, 40000)
	_, err := layout.Finalize(c, false, layout.Options{MaxIterations: 1})
	if !diag.IsKind(err, diag.LayoutDivergence) {
		t.Fatalf("err = %v, want %s", err, diag.LayoutDivergence)
	}
	if de, _ := diag.As(err); de.Unit != "a/M" || de.Method != "max(II)I" {
		t.Errorf("error location = %s.%s", de.Unit, de.Method)
	}
}

func TestMethod_CodeTooLarge(t *testing.T) {
	c := branchy(t)
	stretch(t, c.Method("max", "(II)I"), disasm.IfIcmplt, 70000)
	_, err := layout.Finalize(c, false, layout.Options{})
	if !diag.IsKind(err, diag.LayoutDivergence) {
		t.Fatalf("err = %v, want %s", err, diag.LayoutDivergence)
	}
}

func TestMethod_UninitializedFrame(t *testing.T) {
	// new StringBuilder; dup; iload_0; ifeq L; ... both paths reach
	// <init> with the uninitialized value on the stack.
	c := cftest.New(t, "a/U", "").
		Method(classfile.AccStatic, "make", "(I)Ljava/lang/Object;", 3, 1, func(a *cftest.Asm) {
			join := a.Label()
			a.Type(disasm.New, "java/lang/StringBuilder")
			a.Op(disasm.Dup)
			a.Load(disasm.TypeInt, 0)
			a.Jump(disasm.Ifeq, join)
			a.Op(disasm.Nop)
			a.Mark(join)
			a.Invoke(disasm.Invokespecial, "java/lang/StringBuilder", "<init>", "()V")
			a.Op(disasm.Areturn)
		}).Class()
	m := c.Method("make", "(I)Ljava/lang/Object;")
	m.Code.Dirty = true
	if _, err := layout.Finalize(c, false, layout.Options{}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	frames := stackMap(t, m, 1)
	if len(frames) != 1 {
		t.Fatalf("frames = %+v, want 1", frames)
	}
	want := classfile.VType{Tag: classfile.VUninitialized, Offset: 0}
	if s := frames[0].Stack; len(s) != 2 || s[0] != want || s[1] != want {
		t.Errorf("stack = %+v, want two uninitialized values from offset 0", s)
	}
}

func TestFinalize_CleanUnitUntouched(t *testing.T) {
	c := branchy(t)
	before, err := classfile.Emit(c)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	st, err := layout.Finalize(c, false, layout.Options{})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if st.Methods != 0 {
		t.Errorf("laid out %d methods of a clean unit", st.Methods)
	}
	after, err := classfile.Emit(c)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Errorf("clean unit changed")
	}
}
