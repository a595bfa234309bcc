package jvmsim_test

import (
	"errors"
	"testing"

	"classmorph/internal/classfile"
	"classmorph/internal/classfile/cftest"
	"classmorph/internal/disasm"
	"classmorph/internal/jvmsim"
)

func TestInvoke_Loop(t *testing.T) {
	c := cftest.New(t, "a/M", "").
		Method(classfile.AccPublic|classfile.AccStatic, "sum", "(I)I", 2, 3, func(a *cftest.Asm) {
			loop, done := a.Label(), a.Label()
			a.Int(0)
			a.Store(disasm.TypeInt, 1)
			a.Int(1)
			a.Store(disasm.TypeInt, 2)
			a.Mark(loop)
			a.Load(disasm.TypeInt, 2)
			a.Load(disasm.TypeInt, 0)
			a.Jump(disasm.IfIcmpgt, done)
			a.Load(disasm.TypeInt, 1)
			a.Load(disasm.TypeInt, 2)
			a.Op(disasm.Iadd)
			a.Store(disasm.TypeInt, 1)
			a.Inc(2, 1)
			a.Jump(disasm.Goto, loop)
			a.Mark(done)
			a.Load(disasm.TypeInt, 1)
			a.Op(disasm.Ireturn)
		}).Class()

	got, err := jvmsim.New(c).Invoke("a/M", "sum", "(I)I", int32(10))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != int32(55) {
		t.Fatalf("sum(10) = %v, want 55", got)
	}
}

func TestInvoke_CatchesDivideByZero(t *testing.T) {
	c := cftest.New(t, "a/M", "").
		Method(classfile.AccPublic|classfile.AccStatic, "div", "(II)I", 2, 2, func(a *cftest.Asm) {
			start, end, handler := a.Label(), a.Label(), a.Label()
			a.Mark(start)
			a.Load(disasm.TypeInt, 0)
			a.Load(disasm.TypeInt, 1)
			a.Op(disasm.Idiv)
			a.Mark(end)
			a.Op(disasm.Ireturn)
			a.Mark(handler)
			a.Op(disasm.Pop)
			a.Int(-1)
			a.Op(disasm.Ireturn)
			a.Try(start, end, handler, "java/lang/ArithmeticException")
		}).Class()

	vm := jvmsim.New(c)
	if got, err := vm.Invoke("a/M", "div", "(II)I", int32(7), int32(2)); err != nil || got != int32(3) {
		t.Errorf("div(7, 2) = %v, %v, want 3", got, err)
	}
	if got, err := vm.Invoke("a/M", "div", "(II)I", int32(7), int32(0)); err != nil || got != int32(-1) {
		t.Errorf("div(7, 0) = %v, %v, want -1", got, err)
	}
}

func TestInvoke_Uncaught(t *testing.T) {
	c := cftest.New(t, "a/M", "").
		Method(classfile.AccPublic|classfile.AccStatic, "fail", "()V", 3, 0, func(a *cftest.Asm) {
			a.Type(disasm.New, "java/lang/IllegalStateException")
			a.Op(disasm.Dup)
			a.Str("boom")
			a.Invoke(disasm.Invokespecial, "java/lang/IllegalStateException", "<init>", "(Ljava/lang/String;)V")
			a.Op(disasm.Athrow)
		}).Class()

	_, err := jvmsim.New(c).Invoke("a/M", "fail", "()V")
	var thrown *jvmsim.Thrown
	if !errors.As(err, &thrown) {
		t.Fatalf("err = %v, want a thrown exception", err)
	}
	if thrown.Obj.Class != "java/lang/IllegalStateException" {
		t.Errorf("thrown %s", thrown.Obj.Class)
	}
	if err.Error() != "java/lang/IllegalStateException: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestInvoke_StringRoundTrip(t *testing.T) {
	// new String(s.toCharArray()).intern() is the literal itself.
	c := cftest.New(t, "a/M", "").
		Method(classfile.AccPublic|classfile.AccStatic, "same", "()Z", 3, 0, func(a *cftest.Asm) {
			no := a.Label()
			a.Type(disasm.New, "java/lang/String")
			a.Op(disasm.Dup)
			a.Str("héllo")
			a.Invoke(disasm.Invokevirtual, "java/lang/String", "toCharArray", "()[C")
			a.Invoke(disasm.Invokespecial, "java/lang/String", "<init>", "([C)V")
			a.Invoke(disasm.Invokevirtual, "java/lang/String", "intern", "()Ljava/lang/String;")
			a.Str("héllo")
			a.Jump(disasm.IfAcmpne, no)
			a.Int(1)
			a.Op(disasm.Ireturn)
			a.Mark(no)
			a.Int(0)
			a.Op(disasm.Ireturn)
		}).Class()

	got, err := jvmsim.New(c).Invoke("a/M", "same", "()Z")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != int32(1) {
		t.Fatalf("same() = %v, want 1", got)
	}
}

func TestInvoke_StaticInit(t *testing.T) {
	c := cftest.New(t, "a/M", "").
		Field(classfile.AccStatic, "n", "J").
		Method(classfile.AccStatic, "<clinit>", "()V", 2, 0, func(a *cftest.Asm) {
			a.Long(1 << 40)
			a.Field(disasm.Putstatic, "a/M", "n", "J")
			a.Op(disasm.Return)
		}).
		Method(classfile.AccPublic|classfile.AccStatic, "get", "()J", 4, 0, func(a *cftest.Asm) {
			a.Field(disasm.Getstatic, "a/M", "n", "J")
			a.Op(disasm.Dup2, disasm.Ladd, disasm.Lreturn)
		}).Class()

	vm := jvmsim.New(c)
	got, err := vm.Invoke("a/M", "get", "()J")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != int64(1<<41) {
		t.Fatalf("get() = %v, want %d", got, int64(1<<41))
	}
	if v, ok := vm.Static("a/M", "n"); !ok || v != int64(1<<40) {
		t.Errorf("Static(n) = %v, %v", v, ok)
	}
}
