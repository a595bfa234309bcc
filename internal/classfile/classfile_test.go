package classfile_test

import (
	"bytes"
	"errors"
	"testing"

	"classmorph/internal/classfile"
	"classmorph/internal/classfile/cftest"
	"classmorph/internal/diag"
	"classmorph/internal/disasm"
)

// sample builds a class touching most of the attributes the parser decodes.
func sample(t *testing.T) []byte {
	t.Helper()
	return cftest.New(t, "com/example/Sample", "", "java/lang/Runnable").
		SourceFile("Sample.java").
		ConstField("GREETING", "hi").
		Field(classfile.AccPrivate, "count", "I").
		Inner("com/example/Sample$Node", "com/example/Sample", "Node", classfile.AccStatic).
		Annotate("Ljava/lang/Deprecated;").
		Method(classfile.AccPublic, "<init>", "()V", 1, 1, func(a *cftest.Asm) {
			a.Load(disasm.TypeRef, 0)
			a.Invoke(disasm.Invokespecial, "java/lang/Object", "<init>", "()V")
			a.Op(disasm.Return)
		}).
		Method(classfile.AccPublic, "run", "()V", 0, 1, func(a *cftest.Asm) {
			a.Op(disasm.Return)
		}).
		Method(classfile.AccPublic|classfile.AccStatic, "pick", "(I)I", 2, 2, func(a *cftest.Asm) {
			start := a.Here()
			a.Line(start, 10)
			one, two, dflt, end, handler := a.Label(), a.Label(), a.Label(), a.Label(), a.Label()
			a.Load(disasm.TypeInt, 0)
			a.Switch(dflt, []int32{1, 2}, []disasm.Label{one, two})
			a.Mark(one)
			a.Int(100000)
			a.Op(disasm.Ireturn)
			a.Mark(two)
			a.Str("x")
			a.Invoke(disasm.Invokevirtual, "java/lang/String", "length", "()I")
			a.Op(disasm.Ireturn)
			a.Mark(dflt)
			a.Inc(0, 1)
			a.Load(disasm.TypeInt, 0)
			a.Op(disasm.Ireturn)
			a.Mark(end)
			a.Mark(handler)
			a.Store(disasm.TypeRef, 1)
			a.Int(-1)
			a.Op(disasm.Ireturn)
			a.Try(start, end, handler, "java/lang/RuntimeException")
			a.Local(start, end, 0, "n", "I")
		}).
		Method(classfile.AccPublic|classfile.AccStatic, "task", "()Ljava/lang/Runnable;", 1, 0, func(a *cftest.Asm) {
			a.Lambda("java/lang/Runnable", "run", "()V", "com/example/Sample", "lambda$task$0", "()V")
			a.Op(disasm.Areturn)
		}).
		Method(classfile.AccPrivate|classfile.AccStatic|classfile.AccSynthetic, "lambda$task$0", "()V", 0, 0, func(a *cftest.Asm) {
			a.Op(disasm.Return)
		}).
		Bytes()
}

func TestRoundTrip(t *testing.T) {
	data := sample(t)
	c, err := classfile.Parse("Sample", data)
	if err != nil {
		t.Fatal(err)
	}
	out, err := classfile.Emit(c)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("round trip changed %d bytes into %d bytes", len(data), len(out))
	}
}

func TestParse_Model(t *testing.T) {
	c, err := classfile.Parse("Sample", sample(t))
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Name(); got != "com/example/Sample" {
		t.Errorf("Name() = %q", got)
	}
	if got := c.SuperName(); got != "java/lang/Object" {
		t.Errorf("SuperName() = %q", got)
	}
	if got := c.InterfaceNames(); len(got) != 1 || got[0] != "java/lang/Runnable" {
		t.Errorf("InterfaceNames() = %v", got)
	}
	if len(c.InnerClasses) != 1 || c.Utf8(c.InnerClasses[0].Name) != "Node" {
		t.Errorf("InnerClasses = %+v", c.InnerClasses)
	}
	if len(c.BootstrapMethods) != 1 || len(c.BootstrapMethods[0].Args) != 3 {
		t.Errorf("BootstrapMethods = %+v", c.BootstrapMethods)
	}
	m := c.Method("pick", "(I)I")
	if m == nil || m.Code == nil {
		t.Fatal("pick(I)I not found")
	}
	if len(m.Code.Handlers) != 1 || len(m.Code.Lines) != 1 || len(m.Code.Locals) != 1 {
		t.Errorf("handlers/lines/locals = %d/%d/%d, want 1/1/1",
			len(m.Code.Handlers), len(m.Code.Lines), len(m.Code.Locals))
	}
	if m.Code.Dirty {
		t.Error("parsed code should be clean")
	}
	var sw *disasm.Inst
	for i := range m.Code.Insts {
		if m.Code.Insts[i].Kind == disasm.KindSwitch {
			sw = &m.Code.Insts[i]
		}
	}
	if sw == nil || sw.Op != disasm.Tableswitch || len(sw.Switch.Targets) != 2 {
		t.Errorf("switch = %+v", sw)
	}
}

func TestParse_Malformed(t *testing.T) {
	data := sample(t)
	badMagic := bytes.Clone(data)
	badMagic[0] = 0
	badVersion := bytes.Clone(data)
	badVersion[7] = 99
	trailing := append(bytes.Clone(data), 0)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", badMagic},
		{"bad version", badVersion},
		{"trailing bytes", trailing},
		{"truncated", data[:len(data)/2]},
	}
	for _, tt := range tests {
		c, err := classfile.Parse(tt.name, tt.data)
		if c != nil {
			t.Errorf("%s: got a class, want none", tt.name)
		}
		if !diag.IsKind(err, diag.MalformedUnit) {
			t.Errorf("%s: err = %v, want MalformedUnit", tt.name, err)
		}
	}
}

func TestParse_EveryTruncationFails(t *testing.T) {
	data := sample(t)
	for n := 0; n < len(data); n++ {
		if _, err := classfile.Parse("cut", data[:n]); err == nil {
			t.Fatalf("Parse of %d/%d bytes succeeded", n, len(data))
		}
	}
}

func TestParse_BadPoolIndex(t *testing.T) {
	data := sample(t)
	c, err := classfile.Parse("Sample", data)
	if err != nil {
		t.Fatal(err)
	}
	// this_class sits right after the pool, two bytes past access_flags.
	bad := bytes.Clone(data)
	pos := len(poolPrefix(t, c))
	bad[pos+2], bad[pos+3] = 0xff, 0xf0
	if _, err := classfile.Parse("Sample", bad); !diag.IsKind(err, diag.MalformedUnit) {
		t.Fatalf("err = %v, want MalformedUnit", err)
	}
}

// poolPrefix returns magic, version and constant pool bytes of c.
func poolPrefix(t *testing.T, c *classfile.Class) []byte {
	t.Helper()
	empty := &classfile.Class{Major: c.Major, Minor: c.Minor, Pool: c.Pool, ThisClass: c.ThisClass}
	out, err := classfile.Emit(empty)
	if err != nil {
		t.Fatal(err)
	}
	// Trailing: access, this, super, interfaces, fields, methods, attributes.
	return out[:len(out)-14]
}

func TestEmit_RefusesDirtyCode(t *testing.T) {
	c, err := classfile.Parse("Sample", sample(t))
	if err != nil {
		t.Fatal(err)
	}
	c.Method("run", "()V").Code.Dirty = true
	if _, err := classfile.Emit(c); !errors.Is(err, classfile.ErrDirtyCode) {
		t.Fatalf("err = %v, want ErrDirtyCode", err)
	}
}

func TestPool_AddDeduplicates(t *testing.T) {
	p := classfile.NewPool()
	a := p.AddMember(classfile.TagMethodref, "a/B", "m", "()V")
	b := p.AddMember(classfile.TagMethodref, "a/B", "m", "()V")
	if a != b {
		t.Errorf("AddMember = %d then %d, want equal", a, b)
	}
	l := p.AddLong(7)
	if next := p.AddInteger(1); next != l+2 {
		t.Errorf("entry after long = %d, want %d", next, l+2)
	}
	owner, name, desc, err := p.Member(a)
	if err != nil || owner != "a/B" || name != "m" || desc != "()V" {
		t.Errorf("Member = %q %q %q %v", owner, name, desc, err)
	}
}

func TestSweep(t *testing.T) {
	c := cftest.New(t, "a/B", "").
		Method(classfile.AccStatic, "s", "()Ljava/lang/String;", 1, 0, func(a *cftest.Asm) {
			a.Str("hello")
			a.Op(disasm.Areturn)
		}).Class()
	m := c.Method("s", "()Ljava/lang/String;")
	m.Code.Insts[0].Index = c.Pool.AddString("other")

	n, err := classfile.Sweep(c)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Sweep blanked %d entries, want 2 (String and Utf8)", n)
	}
	c.Pool.Entries(func(i int, e classfile.Constant) {
		if e.Tag == classfile.TagUtf8 && string(e.Bytes) == "hello" {
			t.Errorf("#%d still holds the old literal", i)
		}
	})
	if s, err := c.Pool.String(m.Code.Insts[0].Index); err != nil || s != "other" {
		t.Errorf("replacement literal = %q, %v", s, err)
	}
}

func TestPool_Text(t *testing.T) {
	p := classfile.NewPool()
	cases := []struct {
		idx  int
		want string
	}{
		{p.AddClass("a/B"), "a/B"},
		{p.AddString("hi\n"), `"hi\n"`},
		{p.AddInteger(-3), "-3"},
		{p.AddLong(1 << 40), "1099511627776L"},
		{p.AddMember(classfile.TagMethodref, "a/B", "run", "()V"), "a/B.run()V"},
		{p.AddMember(classfile.TagFieldref, "a/B", "n", "I"), "a/B.n:I"},
	}
	for _, c := range cases {
		if got, ok := p.Text(c.idx); !ok || got != c.want {
			t.Errorf("Text(%d) = %q, %v, want %q", c.idx, got, ok, c.want)
		}
	}
	if _, ok := p.Text(999); ok {
		t.Errorf("Text accepted an out-of-range index")
	}
}

func TestMethodAccess(t *testing.T) {
	if got := classfile.MethodAccess(classfile.AccPublic | classfile.AccStatic | classfile.AccFinal); got != "public static final" {
		t.Fatalf("MethodAccess = %q", got)
	}
	if got := classfile.MethodAccess(0); got != "" {
		t.Fatalf("MethodAccess(0) = %q, want empty", got)
	}
}
