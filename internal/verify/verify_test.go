package verify_test

import (
	"errors"
	"testing"

	"classmorph/internal/classfile"
	"classmorph/internal/classfile/cftest"
	"classmorph/internal/disasm"
	"classmorph/internal/verify"
)

// find returns the index of the last instruction with opcode op.
func find(t *testing.T, code *classfile.Code, op disasm.Opcode) int {
	t.Helper()
	for i := len(code.Insts) - 1; i >= 0; i-- {
		if !code.Insts[i].IsLabel() && code.Insts[i].Op == op {
			return i
		}
	}
	t.Fatalf("no %s in code", op)
	return -1
}

func analyze(t *testing.T, c *classfile.Class, name, desc string, h verify.Hierarchy) (*classfile.Method, *verify.Result) {
	t.Helper()
	m := c.Method(name, desc)
	if m == nil {
		t.Fatalf("%s%s not found", name, desc)
	}
	r, err := verify.Analyze(c, m, h)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	return m, r
}

func TestAnalyze_MergesToCommonSuperclass(t *testing.T) {
	c := cftest.New(t, "a/Pick", "").
		Method(classfile.AccStatic, "pick", "(I)Ljava/lang/Object;", 2, 1, func(a *cftest.Asm) {
			other, join := a.Label(), a.Label()
			a.Load(disasm.TypeInt, 0)
			a.Jump(disasm.Ifeq, other)
			a.Type(disasm.New, "java/lang/IllegalArgumentException")
			a.Op(disasm.Dup)
			a.Invoke(disasm.Invokespecial, "java/lang/IllegalArgumentException", "<init>", "()V")
			a.Jump(disasm.Goto, join)
			a.Mark(other)
			a.Type(disasm.New, "java/lang/IllegalStateException")
			a.Op(disasm.Dup)
			a.Invoke(disasm.Invokespecial, "java/lang/IllegalStateException", "<init>", "()V")
			a.Mark(join)
			a.Op(disasm.Areturn)
		}).Class()

	m, r := analyze(t, c, "pick", "(I)Ljava/lang/Object;", verify.NewTable())
	ret := find(t, m.Code, disasm.Areturn)
	st := r.In[ret]
	if len(st.Stack) != 1 || st.Stack[0] != verify.Ref("java/lang/RuntimeException") {
		t.Errorf("stack at areturn = %v, want [java/lang/RuntimeException]", st.Stack)
	}
	if r.MaxStack != 2 || r.MaxLocals != 1 {
		t.Errorf("max stack/locals = %d/%d, want 2/1", r.MaxStack, r.MaxLocals)
	}
	if r.Fallback {
		t.Error("Fallback set for a known hierarchy")
	}
}

func TestAnalyze_WideLocals(t *testing.T) {
	c := cftest.New(t, "a/Wide", "").
		Method(classfile.AccStatic, "f", "(JI)J", 4, 3, func(a *cftest.Asm) {
			a.Load(disasm.TypeLong, 0)
			a.Load(disasm.TypeInt, 2)
			a.Op(disasm.I2l, disasm.Ladd, disasm.Lreturn)
		}).Class()

	_, r := analyze(t, c, "f", "(JI)J", verify.NewTable())
	want := []verify.Type{verify.LongType, verify.TopType, verify.IntType}
	got := r.In[0].Locals
	if len(got) != len(want) {
		t.Fatalf("entry locals = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("local %d = %s, want %s", i, got[i], want[i])
		}
	}
	if r.MaxStack != 4 || r.MaxLocals != 3 {
		t.Errorf("max stack/locals = %d/%d, want 4/3", r.MaxStack, r.MaxLocals)
	}
}

func TestAnalyze_RejectsBadOperand(t *testing.T) {
	c := cftest.New(t, "a/Bad", "").
		Method(classfile.AccStatic, "f", "(Ljava/lang/String;)I", 1, 1, func(a *cftest.Asm) {
			a.Load(disasm.TypeInt, 0)
			a.Op(disasm.Ireturn)
		}).Class()

	_, err := verify.Analyze(c, c.Method("f", "(Ljava/lang/String;)I"), verify.NewTable())
	var ve *verify.Error
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *verify.Error", err)
	}
}

func TestAnalyze_UnknownClassesFallBack(t *testing.T) {
	c := cftest.New(t, "a/Mix", "").
		Method(classfile.AccStatic, "f", "(ILa/X;La/Y;)Ljava/lang/Object;", 1, 3, func(a *cftest.Asm) {
			other, join := a.Label(), a.Label()
			a.Load(disasm.TypeInt, 0)
			a.Jump(disasm.Ifeq, other)
			a.Load(disasm.TypeRef, 1)
			a.Jump(disasm.Goto, join)
			a.Mark(other)
			a.Load(disasm.TypeRef, 2)
			a.Mark(join)
			a.Op(disasm.Areturn)
		}).Class()

	m, r := analyze(t, c, "f", "(ILa/X;La/Y;)Ljava/lang/Object;", verify.NewTable())
	if got := r.In[find(t, m.Code, disasm.Areturn)].Stack[0]; got != verify.ObjectType {
		t.Errorf("merged type = %s, want java/lang/Object", got)
	}
	if !r.Fallback {
		t.Error("Fallback not set")
	}

	h := verify.NewTable()
	h.Add("a/Base", "java/lang/Object", false)
	h.Add("a/X", "a/Base", false)
	h.Add("a/Y", "a/Base", false)
	_, r = analyze(t, c, "f", "(ILa/X;La/Y;)Ljava/lang/Object;", h)
	if got := r.In[find(t, m.Code, disasm.Areturn)].Stack[0]; got != verify.Ref("a/Base") {
		t.Errorf("merged type = %s, want a/Base", got)
	}
}

func TestAnalyze_HandlerAndDeadCode(t *testing.T) {
	c := cftest.New(t, "a/Try", "").
		Method(classfile.AccStatic, "f", "()I", 1, 1, func(a *cftest.Asm) {
			start, end, handler := a.Label(), a.Label(), a.Label()
			a.Mark(start)
			a.Invoke(disasm.Invokestatic, "a/Try", "g", "()V")
			a.Mark(end)
			a.Int(1)
			a.Op(disasm.Ireturn)
			a.Op(disasm.Iconst2, disasm.Ireturn)
			a.Mark(handler)
			a.Store(disasm.TypeRef, 0)
			a.Int(0)
			a.Op(disasm.Ireturn)
			a.Try(start, end, handler, "java/lang/RuntimeException")
		}).Class()

	m, r := analyze(t, c, "f", "()I", verify.NewTable())
	store := find(t, m.Code, disasm.Astore0)
	if st := r.In[store]; st == nil || len(st.Stack) != 1 || st.Stack[0] != verify.Ref("java/lang/RuntimeException") {
		t.Errorf("handler entry state = %+v", st)
	}
	dead := find(t, m.Code, disasm.Iconst2)
	if r.Reachable(dead) {
		t.Error("code after ireturn reported reachable")
	}
	if r.MaxStack != 1 {
		t.Errorf("MaxStack = %d, want 1", r.MaxStack)
	}

	starts := verify.FrameStarts(m.Code)
	want := map[int]bool{dead: true, store: true}
	if len(starts) != len(want) {
		t.Fatalf("FrameStarts = %v, want %d entries", starts, len(want))
	}
	for _, i := range starts {
		if !want[i] {
			t.Errorf("unexpected frame at %d", i)
		}
	}
}

func TestAnalyze_ConstructorInitializesThis(t *testing.T) {
	c := cftest.New(t, "a/Init", "").
		Method(classfile.AccPublic, "<init>", "()V", 1, 1, func(a *cftest.Asm) {
			a.Load(disasm.TypeRef, 0)
			a.Invoke(disasm.Invokespecial, "java/lang/Object", "<init>", "()V")
			a.Op(disasm.Return)
		}).Class()

	m, r := analyze(t, c, "<init>", "()V", verify.NewTable())
	if got := r.In[0].Locals[0]; got.Tag != verify.UninitializedThis {
		t.Errorf("entry this = %s, want uninit_this", got)
	}
	if got := r.In[find(t, m.Code, disasm.Return)].Locals[0]; got != verify.Ref("a/Init") {
		t.Errorf("this after super() = %s, want a/Init", got)
	}
}

func TestAnalyze_RefusesSubroutines(t *testing.T) {
	c := cftest.New(t, "a/Jsr", "").Version(49).
		Method(classfile.AccStatic, "f", "()V", 1, 1, func(a *cftest.Asm) {
			sub := a.Label()
			a.Jump(disasm.Jsr, sub)
			a.Op(disasm.Return)
			a.Mark(sub)
			a.Store(disasm.TypeRef, 0)
			a.Op(disasm.Return)
		}).Class()

	_, err := verify.Analyze(c, c.Method("f", "()V"), verify.NewTable())
	if !errors.Is(err, verify.ErrSubroutine) {
		t.Fatalf("err = %v, want ErrSubroutine", err)
	}
}

func TestCommonSuperclass_Interfaces(t *testing.T) {
	h := verify.NewTable()
	got, ok := verify.CommonSuperclass(h, "java/lang/Runnable", "java/lang/String")
	if got != "java/lang/Object" || !ok {
		t.Errorf("CommonSuperclass = %q, %v; want java/lang/Object, true", got, ok)
	}
	got, ok = verify.CommonSuperclass(h, "java/io/IOException", "java/lang/RuntimeException")
	if got != "java/lang/Exception" || !ok {
		t.Errorf("CommonSuperclass = %q, %v; want java/lang/Exception, true", got, ok)
	}
}
