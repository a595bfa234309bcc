package passes_test

import (
	"context"
	"slices"
	"strings"
	"testing"

	"classmorph/internal/classfile"
	"classmorph/internal/classfile/cftest"
	"classmorph/internal/config"
	"classmorph/internal/diag"
	"classmorph/internal/disasm"
	"classmorph/internal/jvmsim"
	"classmorph/internal/layout"
	"classmorph/internal/logging"
	"classmorph/internal/passes"
	"classmorph/internal/program"
)

// bare returns a configuration with every pass disabled.
func bare() *config.Config {
	return &config.Config{MaxLayoutIterations: layout.DefaultMaxIterations, RandomSeed: 7}
}

// apply runs ps over classes, finalizes and re-parses the result.
func apply(t *testing.T, cfg *config.Config, ps []passes.Pass, classes ...*classfile.Class) ([]*classfile.Class, *passes.Context) {
	t.Helper()
	rules, err := cfg.Rules()
	if err != nil {
		t.Fatalf("Rules: %v", err)
	}
	orig := make([]string, len(classes))
	for i, c := range classes {
		orig[i] = c.Name()
	}
	ix, err := program.Build(classes, nil, rules, cfg.RandomSeed)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ctx := passes.NewContext(context.Background(), ix, cfg, logging.Discard())
	if err := passes.Run(ctx, ps...); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := make([]*classfile.Class, len(classes))
	for i, c := range classes {
		if err := ctx.Failed(orig[i]); err != nil {
			t.Fatalf("%s failed: %v", orig[i], err)
		}
		opts := layout.Options{MaxIterations: cfg.MaxLayoutIterations, Hierarchy: ctx.Hierarchy}
		if _, err := layout.Finalize(c, ctx.Modified(orig[i]), opts); err != nil {
			t.Fatalf("Finalize(%s): %v", orig[i], err)
		}
		data, err := classfile.Emit(c)
		if err != nil {
			t.Fatalf("Emit(%s): %v", orig[i], err)
		}
		if out[i], err = classfile.Parse(orig[i], data); err != nil {
			t.Fatalf("Parse(%s): %v", orig[i], err)
		}
	}
	return out, ctx
}

func method(t *testing.T, c *classfile.Class, name, desc string) *classfile.Method {
	t.Helper()
	m := c.Method(name, desc)
	if m == nil {
		t.Fatalf("%s has no method %s%s", c.Name(), name, desc)
	}
	return m
}

func hasOp(m *classfile.Method, op disasm.Opcode) bool {
	for _, in := range m.Code.Insts {
		if in.Op == op {
			return true
		}
	}
	return false
}

func hasSwitch(m *classfile.Method) bool {
	for _, in := range m.Code.Insts {
		if in.Kind == disasm.KindSwitch {
			return true
		}
	}
	return false
}

// branchy builds a/B.pick(I)I: 10 for negatives, 20 for zero, 30 otherwise,
// plus a constructor.
func branchy(t *testing.T) *classfile.Class {
	return cftest.New(t, "a/B", "").
		Method(classfile.AccPublic, "<init>", "()V", 1, 1, func(a *cftest.Asm) {
			a.Load(disasm.TypeRef, 0)
			a.Invoke(disasm.Invokespecial, "java/lang/Object", "<init>", "()V")
			a.Op(disasm.Return)
		}).
		Method(classfile.AccPublic|classfile.AccStatic, "pick", "(I)I", 1, 2, func(a *cftest.Asm) {
			neg, zero, out := a.Label(), a.Label(), a.Label()
			a.Load(disasm.TypeInt, 0)
			a.Jump(disasm.Iflt, neg)
			a.Load(disasm.TypeInt, 0)
			a.Jump(disasm.Ifeq, zero)
			a.Int(30)
			a.Store(disasm.TypeInt, 1)
			a.Jump(disasm.Goto, out)
			a.Mark(neg)
			a.Int(10)
			a.Store(disasm.TypeInt, 1)
			a.Jump(disasm.Goto, out)
			a.Mark(zero)
			a.Int(20)
			a.Store(disasm.TypeInt, 1)
			a.Mark(out)
			a.Load(disasm.TypeInt, 1)
			a.Op(disasm.Ireturn)
		}).Class()
}

func checkPick(t *testing.T, c *classfile.Class) {
	t.Helper()
	vm := jvmsim.New(c)
	for in, want := range map[int32]int32{-4: 10, 0: 20, 9: 30} {
		got, err := vm.Invoke("a/B", "pick", "(I)I", in)
		if err != nil {
			t.Fatalf("pick(%d): %v", in, err)
		}
		if got != want {
			t.Errorf("pick(%d) = %v, want %d", in, got, want)
		}
	}
}

func TestFlatten_RoutesThroughDispatcher(t *testing.T) {
	cfg := bare()
	cfg.FlattenControlFlow = true
	out, ctx := apply(t, cfg, []passes.Pass{passes.Flatten{}}, branchy(t))

	pick := method(t, out[0], "pick", "(I)I")
	if !hasSwitch(pick) {
		t.Fatalf("pick has no dispatcher switch")
	}
	checkPick(t, out[0])

	items := ctx.Skipped.Items()
	if len(items) != 1 || items[0].Method != "<init>()V" || items[0].Kind != diag.UnsupportedConstruct {
		t.Fatalf("skipped = %v, want the constructor only", items)
	}
	if hasSwitch(method(t, out[0], "<init>", "()V")) {
		t.Errorf("constructor was flattened")
	}
}

func TestFlatten_Deterministic(t *testing.T) {
	cfg := bare()
	cfg.FlattenControlFlow = true
	a, _ := apply(t, cfg, []passes.Pass{passes.Flatten{}}, branchy(t))
	b, _ := apply(t, cfg, []passes.Pass{passes.Flatten{}}, branchy(t))
	ab, _ := classfile.Emit(a[0])
	bb, _ := classfile.Emit(b[0])
	if !slices.Equal(ab, bb) {
		t.Fatalf("two runs with one seed differ")
	}
}

func TestOpaque_InsertsDeadThrow(t *testing.T) {
	cfg := bare()
	cfg.OpaquePredicates = true
	out, _ := apply(t, cfg, []passes.Pass{passes.Opaque{}}, branchy(t))

	pick := method(t, out[0], "pick", "(I)I")
	if !hasOp(pick, disasm.Athrow) {
		t.Fatalf("pick has no guarded throw")
	}
	checkPick(t, out[0])
}

func TestFlattenAndOpaque_Compose(t *testing.T) {
	cfg := bare()
	cfg.FlattenControlFlow = true
	cfg.OpaquePredicates = true
	out, _ := apply(t, cfg, []passes.Pass{passes.Opaque{}, passes.Flatten{}}, branchy(t))
	checkPick(t, out[0])
}

func TestLiterals_ConstantValueMovesToInit(t *testing.T) {
	c := cftest.New(t, "a/K", "").
		ConstField("GREETING", "hi there").
		Method(classfile.AccPublic|classfile.AccStatic, "get", "()Ljava/lang/String;", 1, 0, func(a *cftest.Asm) {
			a.Field(disasm.Getstatic, "a/K", "GREETING", "Ljava/lang/String;")
			a.Op(disasm.Areturn)
		}).Class()
	cfg := bare()
	cfg.EncryptStrings = true
	out, _ := apply(t, cfg, []passes.Pass{passes.Literals{}}, c)

	k := out[0]
	f := k.Field("GREETING", "Ljava/lang/String;")
	if f == nil {
		t.Fatalf("GREETING is gone")
	}
	if classfile.Attr(f.Attrs, classfile.AttrConstantValue) != nil {
		t.Errorf("GREETING still carries a ConstantValue")
	}
	k.Pool.Entries(func(i int, e classfile.Constant) {
		if s, _ := k.Pool.Utf8(i); e.Tag == classfile.TagUtf8 && s == "hi there" {
			t.Errorf("pool entry %d holds the plain literal", i)
		}
	})

	got, err := jvmsim.New(k).Invoke("a/K", "get", "()Ljava/lang/String;")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s, _ := jvmsim.GoString(got); s != "hi there" {
		t.Fatalf("get() = %q, want %q", s, "hi there")
	}
}

func TestLiterals_Numbers(t *testing.T) {
	c := cftest.New(t, "a/N", "").
		Method(classfile.AccPublic|classfile.AccStatic, "get", "()J", 4, 0, func(a *cftest.Asm) {
			a.Int(123456)
			a.Op(disasm.I2l)
			a.Long(-1 << 50)
			a.Op(disasm.Ladd)
			a.Op(disasm.Lreturn)
		}).Class()
	cfg := bare()
	cfg.EncryptNumbers = true
	out, _ := apply(t, cfg, []passes.Pass{passes.Literals{}}, c)

	n := out[0]
	n.Pool.Entries(func(i int, e classfile.Constant) {
		switch {
		case e.Tag == classfile.TagInteger && e.Int() == 123456,
			e.Tag == classfile.TagLong && e.Long() == -1<<50:
			t.Errorf("pool entry %d holds the plain literal", i)
		}
	})
	got, err := jvmsim.New(n).Invoke("a/N", "get", "()J")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if want := int64(123456) + -1<<50; got != want {
		t.Fatalf("get() = %v, want %d", got, want)
	}
}

func TestLiterals_OversizedLiteralStaysPlain(t *testing.T) {
	long := strings.Repeat("a", 30000)
	c := cftest.New(t, "a/L", "").
		Method(classfile.AccPublic|classfile.AccStatic, "long", "()Ljava/lang/String;", 1, 0, func(a *cftest.Asm) {
			a.Str(long)
			a.Op(disasm.Areturn)
		}).
		Method(classfile.AccPublic|classfile.AccStatic, "brief", "()Ljava/lang/String;", 1, 0, func(a *cftest.Asm) {
			a.Str("brief text")
			a.Op(disasm.Areturn)
		}).Class()
	cfg := bare()
	cfg.EncryptStrings = true
	out, _ := apply(t, cfg, []passes.Pass{passes.Literals{}}, c)

	l := out[0]
	var plainLong, plainShort bool
	l.Pool.Entries(func(i int, e classfile.Constant) {
		if e.Tag != classfile.TagUtf8 {
			return
		}
		switch s, _ := l.Pool.Utf8(i); s {
		case long:
			plainLong = true
		case "brief text":
			plainShort = true
		}
	})
	if !plainLong {
		t.Errorf("oversized literal was removed from the pool")
	}
	if plainShort {
		t.Errorf("short literal is still in the pool")
	}

	vm := jvmsim.New(l)
	for name, want := range map[string]string{"long": long, "brief": "brief text"} {
		got, err := vm.Invoke("a/L", name, "()Ljava/lang/String;")
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if s, ok := jvmsim.GoString(got); !ok || s != want {
			t.Fatalf("%s() returned %d chars, want %d", name, len(s), len(want))
		}
	}
}

func TestLiterals_DeclinesInterfaces(t *testing.T) {
	c := cftest.New(t, "a/I", "").
		Access(classfile.AccPublic|classfile.AccInterface|classfile.AccAbstract).
		Method(classfile.AccPublic|classfile.AccStatic, "name", "()Ljava/lang/String;", 1, 0, func(a *cftest.Asm) {
			a.Str("iface")
			a.Op(disasm.Areturn)
		}).Class()
	cfg := bare()
	cfg.EncryptStrings = true
	_, ctx := apply(t, cfg, []passes.Pass{passes.Literals{}}, c)
	items := ctx.Skipped.Items()
	if len(items) != 1 || items[0].Unit != "a/I" || items[0].Pass != "literals" {
		t.Fatalf("skipped = %v, want the interface", items)
	}
}

func TestStrip_RemovesDebugInfo(t *testing.T) {
	c := cftest.New(t, "a/S", "").
		SourceFile("S.java").
		Method(classfile.AccPublic|classfile.AccStatic, "id", "(I)I", 1, 1, func(a *cftest.Asm) {
			start, end := a.Here(), a.Label()
			a.Line(start, 3)
			a.Load(disasm.TypeInt, 0)
			a.Mark(end)
			a.Op(disasm.Ireturn)
			a.Local(start, end, 0, "x", "I")
		}).Class()
	cfg := bare()
	cfg.StripDebugInfo = true
	out, _ := apply(t, cfg, []passes.Pass{passes.Strip{}}, c)

	s := out[0]
	if classfile.Attr(s.Attrs, classfile.AttrSourceFile) != nil {
		t.Errorf("SourceFile survived")
	}
	id := method(t, s, "id", "(I)I")
	if len(id.Code.Lines) != 0 || len(id.Code.Locals) != 0 {
		t.Errorf("lines = %v, locals = %v, want none", id.Code.Lines, id.Code.Locals)
	}
	for _, name := range []string{classfile.AttrLineNumberTable, classfile.AttrLocalVariableTable} {
		if classfile.Attr(id.Code.Attrs, name) != nil {
			t.Errorf("%s survived", name)
		}
	}
	s.Pool.Entries(func(i int, e classfile.Constant) {
		if v, _ := s.Pool.Utf8(i); e.Tag == classfile.TagUtf8 && v == "S.java" {
			t.Errorf("pool still holds the source file name")
		}
	})
}

func shuffled(t *testing.T, seed int64) []string {
	b := cftest.New(t, "a/M", "")
	for _, n := range []string{"m0", "m1", "m2", "m3", "m4", "m5", "m6", "m7"} {
		b.Method(classfile.AccStatic, n, "()V", 0, 0, func(a *cftest.Asm) { a.Op(disasm.Return) })
	}
	cfg := bare()
	cfg.RandomSeed = seed
	cfg.ShuffleMembers = true
	out, _ := apply(t, cfg, []passes.Pass{passes.Shuffle{}}, b.Class())
	var names []string
	for _, m := range out[0].Methods {
		names = append(names, out[0].NameOf(&m.Member))
	}
	return names
}

func TestShuffle_DeterministicPerSeed(t *testing.T) {
	first := shuffled(t, 1)
	if !slices.Equal(first, shuffled(t, 1)) {
		t.Fatalf("one seed gave two orders")
	}
	decl := []string{"m0", "m1", "m2", "m3", "m4", "m5", "m6", "m7"}
	moved := false
	for seed := int64(1); seed <= 4 && !moved; seed++ {
		moved = !slices.Equal(shuffled(t, seed), decl)
	}
	if !moved {
		t.Errorf("no seed changed the declaration order")
	}
	sorted := slices.Clone(first)
	slices.Sort(sorted)
	if !slices.Equal(sorted, decl) {
		t.Errorf("shuffle lost or duplicated methods: %v", first)
	}
}

func TestRename_UnitsKeepTheirParsedNames(t *testing.T) {
	c := branchy(t)
	cfg := bare()
	cfg.RenameClasses = true
	cfg.StripDebugInfo = true
	_, ctx := apply(t, cfg, []passes.Pass{passes.Rename{}, passes.Strip{}}, c)

	if c.Name() == "a/B" {
		t.Fatalf("a/B was not renamed")
	}
	if got := ctx.Index.UnitName(c); got != "a/B" {
		t.Errorf("UnitName = %q, want a/B", got)
	}
	if !ctx.Modified("a/B") {
		t.Errorf("a/B is not marked modified")
	}
	if ctx.Modified(c.Name()) {
		t.Errorf("modification recorded under the new name %s", c.Name())
	}
}

func TestRename_AppliesPlan(t *testing.T) {
	caller := cftest.New(t, "a/Main", "").
		Method(classfile.AccPublic|classfile.AccStatic, "run", "(I)I", 1, 1, func(a *cftest.Asm) {
			a.Load(disasm.TypeInt, 0)
			a.Invoke(disasm.Invokestatic, "a/B", "pick", "(I)I")
			a.Op(disasm.Ireturn)
		}).Class()
	cfg := bare()
	cfg.RenameClasses = true
	cfg.RenameMembers = true
	out, ctx := apply(t, cfg, []passes.Pass{passes.Rename{}}, branchy(t), caller)

	b, main := out[0], out[1]
	if b.Name() == "a/B" || main.Name() == "a/Main" {
		t.Fatalf("classes kept their names: %s, %s", b.Name(), main.Name())
	}
	pick := ctx.Plan.Mappings().Methods["a.B.pick(I)I"]
	if pick == "" || b.Method(pick, "(I)I") == nil {
		t.Fatalf("pick was not renamed to %q", pick)
	}
	if b.Method("<init>", "()V") == nil {
		t.Errorf("constructor was renamed")
	}
	run := ctx.Plan.Mappings().Methods["a.Main.run(I)I"]
	got, err := jvmsim.New(b, main).Invoke(main.Name(), run, "(I)I", int32(-1))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got != int32(10) {
		t.Fatalf("run(-1) = %v, want 10", got)
	}
}
