package program_test

import (
	"strings"
	"testing"

	"classmorph/internal/classfile"
	"classmorph/internal/classfile/cftest"
	"classmorph/internal/diag"
	"classmorph/internal/disasm"
	"classmorph/internal/program"
)

const greetDesc = "()Ljava/lang/String;"

// ctor adds a no-argument constructor calling super's.
func ctor(b *cftest.Builder, super string) *cftest.Builder {
	if super == "" {
		super = "java/lang/Object"
	}
	return b.Method(classfile.AccPublic, "<init>", "()V", 1, 1, func(a *cftest.Asm) {
		a.Load(disasm.TypeRef, 0)
		a.Invoke(disasm.Invokespecial, super, "<init>", "()V")
		a.Op(disasm.Return)
	})
}

func greeter(t *testing.T, name, super, text string) *classfile.Class {
	b := ctor(cftest.New(t, name, super), super)
	return b.Method(classfile.AccPublic, "greet", greetDesc, 1, 1, func(a *cftest.Asm) {
		a.Str(text)
		a.Op(disasm.Areturn)
	}).Class()
}

func mainClass(t *testing.T, name string, body func(a *cftest.Asm)) *classfile.Class {
	return cftest.New(t, name, "").
		Method(classfile.AccPublic|classfile.AccStatic, "main", "([Ljava/lang/String;)V", 4, 1, body).
		Class()
}

// hierarchy returns a/Base, a/Child extends a/Base (both declaring greet)
// and a/Main calling greet through a/Base.
func hierarchy(t *testing.T) []*classfile.Class {
	main := mainClass(t, "a/Main", func(a *cftest.Asm) {
		a.Type(disasm.New, "a/Child")
		a.Op(disasm.Dup)
		a.Invoke(disasm.Invokespecial, "a/Child", "<init>", "()V")
		a.Invoke(disasm.Invokevirtual, "a/Base", "greet", greetDesc)
		a.Op(disasm.Pop, disasm.Return)
	})
	return []*classfile.Class{greeter(t, "a/Child", "a/Base", "child"), main, greeter(t, "a/Base", "", "base")}
}

func build(t *testing.T, units []*classfile.Class, patterns ...string) *program.Index {
	t.Helper()
	rules, err := program.CompileRules(patterns)
	if err != nil {
		t.Fatalf("CompileRules: %v", err)
	}
	ix, err := program.Build(units, nil, rules, 42)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return ix
}

func method(t *testing.T, ix *program.Index, class, name, desc string) program.SymbolID {
	t.Helper()
	id, ok := ix.Method(class, name, desc)
	if !ok {
		t.Fatalf("%s.%s%s not indexed", class, name, desc)
	}
	return id
}

// memberRef returns the pool index of the member reference owner.name in c.
func memberRef(t *testing.T, c *classfile.Class, owner, name string) int {
	t.Helper()
	idx := 0
	c.Pool.Entries(func(i int, e classfile.Constant) {
		if !e.Tag.IsMemberRef() {
			return
		}
		if o, n, _, err := c.Pool.Member(i); err == nil && o == owner && n == name {
			idx = i
		}
	})
	if idx == 0 {
		t.Fatalf("no reference to %s.%s in %s", owner, name, c.Name())
	}
	return idx
}

func TestBuild_OverridesShareName(t *testing.T) {
	units := hierarchy(t)
	ix := build(t, units)

	base := method(t, ix, "a/Base", "greet", greetDesc)
	child := method(t, ix, "a/Child", "greet", greetDesc)
	if ix.OverrideSet(base) != ix.OverrideSet(child) {
		t.Fatalf("Base.greet and Child.greet are in different override sets")
	}
	if got := ix.SetMembers(base); len(got) != 2 {
		t.Errorf("SetMembers = %v, want 2 members", got)
	}

	ref := memberRef(t, ix.Unit("a/Main"), "a/Base", "greet")
	if id, ok := ix.Ref("a/Main", ref); !ok || id != base {
		t.Errorf("Ref(a/Main, %d) = %d, %v, want %d", ref, id, ok, base)
	}

	p := ix.Plan(program.PlanOptions{Classes: true, Members: true})
	if p.Member(base) != p.Member(child) {
		t.Errorf("new names differ: %q vs %q", p.Member(base), p.Member(child))
	}
	if p.Member(base) == "greet" || !p.Renamed(base) {
		t.Errorf("greet was not renamed")
	}
	if n := p.Class("a/Base"); n == "a/Base" || !strings.HasPrefix(n, "a/") {
		t.Errorf("Class(a/Base) = %q, want a new name in package a", n)
	}
	if n := p.Class("a/Main"); n != "a/Main" {
		t.Errorf("Class(a/Main) = %q, want it kept for its entry point", n)
	}
	if !p.Touches("a/Base") || p.Touches("a/Main") {
		t.Errorf("Touches(a/Base) = %v, Touches(a/Main) = %v, want true, false", p.Touches("a/Base"), p.Touches("a/Main"))
	}
}

func TestBuild_InheritedImplementation(t *testing.T) {
	iface := cftest.New(t, "a/Speaker", "").
		Access(classfile.AccPublic|classfile.AccInterface|classfile.AccAbstract).
		Abstract(classfile.AccPublic|classfile.AccAbstract, "greet", greetDesc).
		Class()
	impl := ctor(cftest.New(t, "a/Loud", "a/Base", "a/Speaker"), "a/Base").Class()
	ix := build(t, []*classfile.Class{iface, impl, greeter(t, "a/Base", "", "base")})

	base := method(t, ix, "a/Base", "greet", greetDesc)
	speak := method(t, ix, "a/Speaker", "greet", greetDesc)
	if ix.OverrideSet(base) != ix.OverrideSet(speak) {
		t.Fatalf("inherited Base.greet does not share a set with Speaker.greet")
	}
}

func TestBuild_UnknownSupertypeFixesVirtuals(t *testing.T) {
	c := greeter(t, "a/Widget", "javax/swing/JPanel", "w")
	ix := build(t, []*classfile.Class{c})
	id := method(t, ix, "a/Widget", "greet", greetDesc)
	if !ix.Fixed(id) {
		t.Errorf("greet of a class with an unknown superclass is renamable")
	}
	if s := ix.Symbol(id); !strings.Contains(s.Reason, "unknown supertype") {
		t.Errorf("Reason = %q", s.Reason)
	}
}

func TestBuild_LibraryOverrideFixesSet(t *testing.T) {
	lib := greeter(t, "lib/Base", "", "lib")
	c := greeter(t, "a/Impl", "lib/Base", "impl")
	ix, err := program.Build([]*classfile.Class{c}, []*classfile.Class{lib}, nil, 1)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	id := method(t, ix, "a/Impl", "greet", greetDesc)
	if !ix.Fixed(id) {
		t.Fatalf("override of a library method is renamable")
	}
	if r := ix.Symbol(id).Reason; r != "overrides lib/Base.greet:"+greetDesc {
		t.Errorf("Reason = %q", r)
	}
}

func TestBuild_UnresolvedMember(t *testing.T) {
	caller := mainClass(t, "a/Main", func(a *cftest.Asm) {
		a.Invoke(disasm.Invokestatic, "a/Base", "missing", "()V")
		a.Op(disasm.Return)
	})
	_, err := program.Build([]*classfile.Class{caller, greeter(t, "a/Base", "", "b")}, nil, nil, 0)
	if !diag.IsKind(err, diag.UnresolvedSymbol) {
		t.Fatalf("err = %v, want %s", err, diag.UnresolvedSymbol)
	}
	if de, _ := diag.As(err); de.Unit != "a/Main" {
		t.Errorf("Unit = %q, want a/Main", de.Unit)
	}
}

func TestBuild_UnknownOwnerIsExternal(t *testing.T) {
	caller := mainClass(t, "a/Main", func(a *cftest.Asm) {
		a.Invoke(disasm.Invokestatic, "org/lib/Util", "helper", "()V")
		a.Op(disasm.Return)
	})
	ix := build(t, []*classfile.Class{caller})
	id, ok := ix.Ref("a/Main", memberRef(t, caller, "org/lib/Util", "helper"))
	if !ok {
		t.Fatalf("reference to an unknown class was not recorded")
	}
	if s := ix.Symbol(id); s.Origin != program.External || !s.Fixed {
		t.Errorf("symbol = %+v, want a fixed external placeholder", s)
	}
}

func TestBuild_CyclicInheritance(t *testing.T) {
	a := cftest.New(t, "a/A", "a/B").Class()
	b := cftest.New(t, "a/B", "a/A").Class()
	_, err := program.Build([]*classfile.Class{a, b}, nil, nil, 0)
	if !diag.IsKind(err, diag.UnresolvedSymbol) {
		t.Fatalf("err = %v, want %s", err, diag.UnresolvedSymbol)
	}
}

func TestBuild_DuplicateClass(t *testing.T) {
	_, err := program.Build([]*classfile.Class{greeter(t, "a/X", "", "1"), greeter(t, "a/X", "", "2")}, nil, nil, 0)
	if !diag.IsKind(err, diag.UnresolvedSymbol) {
		t.Fatalf("err = %v, want %s", err, diag.UnresolvedSymbol)
	}
}

func TestBuild_Exclusions(t *testing.T) {
	units := hierarchy(t)
	ix := build(t, units, "a.Child")

	if p, ok := ix.Excluded("a/Child"); !ok || p != "a.Child" {
		t.Fatalf("Excluded(a/Child) = %q, %v", p, ok)
	}
	if _, ok := ix.Excluded("a/Base"); ok {
		t.Errorf("a/Base is excluded")
	}
	// Excluding the override fixes the whole set.
	base := method(t, ix, "a/Base", "greet", greetDesc)
	if !ix.Fixed(base) {
		t.Errorf("Base.greet is renamable although its override is excluded")
	}
	p := ix.Plan(program.PlanOptions{Classes: true, Members: true})
	if p.Class("a/Child") != "a/Child" || p.Touches("a/Child") {
		t.Errorf("plan renames the excluded class")
	}
}

func TestBuild_MemberExclusion(t *testing.T) {
	ix := build(t, hierarchy(t), "a.Base#gr*")
	if _, ok := ix.Excluded("a/Base"); ok {
		t.Errorf("member pattern excluded the whole class")
	}
	if !ix.Fixed(method(t, ix, "a/Child", "greet", greetDesc)) {
		t.Errorf("Child.greet renamable after excluding Base.greet")
	}
	cls, _ := ix.Class("a/Base")
	if ix.Fixed(cls) {
		t.Errorf("a/Base fixed by a member pattern")
	}
}

func TestBuild_FixedRules(t *testing.T) {
	enum := cftest.New(t, "a/Color", "java/lang/Enum").
		Access(classfile.AccPublic|classfile.AccFinal|classfile.AccSuper|classfile.AccEnum).
		Field(classfile.AccPublic|classfile.AccStatic|classfile.AccFinal|classfile.AccEnum, "RED", "La/Color;").
		Field(classfile.AccPrivate, "shade", "I").
		Method(classfile.AccPublic|classfile.AccStatic, "values", "()[La/Color;", 1, 0, func(a *cftest.Asm) {
			a.Op(disasm.AconstNull, disasm.Areturn)
		}).
		Class()
	native := cftest.New(t, "a/Native", "").
		Abstract(classfile.AccPublic|classfile.AccNative, "poke", "()V").
		Class()
	reflect := mainClass(t, "a/Reflect", func(a *cftest.Asm) {
		a.Str("a.Native")
		a.Invoke(disasm.Invokestatic, "java/lang/Class", "forName", "(Ljava/lang/String;)Ljava/lang/Class;")
		a.Str("shade")
		a.Invoke(disasm.Invokevirtual, "java/lang/Class", "getDeclaredField", "(Ljava/lang/String;)Ljava/lang/reflect/Field;")
		a.Op(disasm.Pop, disasm.Return)
	})
	ix := build(t, []*classfile.Class{enum, native, reflect})

	tests := []struct {
		class, name, desc string
		field             bool
		reason            string
	}{
		{"a/Color", "RED", "La/Color;", true, "enum constant"},
		{"a/Color", "values", "()[La/Color;", false, "enum method"},
		{"a/Color", "shade", "I", true, "named by a reflective string in a/Reflect"},
		{"a/Native", "poke", "()V", false, "native method"},
		{"a/Reflect", "main", "([Ljava/lang/String;)V", false, "entry point"},
	}
	for _, tt := range tests {
		var (
			id program.SymbolID
			ok bool
		)
		if tt.field {
			id, ok = ix.Field(tt.class, tt.name, tt.desc)
		} else {
			id, ok = ix.Method(tt.class, tt.name, tt.desc)
		}
		if !ok {
			t.Fatalf("%s.%s not indexed", tt.class, tt.name)
		}
		if s := ix.Symbol(id); !s.Fixed || s.Reason != tt.reason {
			t.Errorf("%s.%s: Fixed = %v, Reason = %q, want %q", tt.class, tt.name, s.Fixed, s.Reason, tt.reason)
		}
	}
	cls, _ := ix.Class("a/Native")
	if !ix.Fixed(cls) {
		t.Errorf("a/Native is renamable")
	}
}

func TestBuild_LambdaTargetFixed(t *testing.T) {
	iface := cftest.New(t, "a/Action", "").
		Access(classfile.AccPublic|classfile.AccInterface|classfile.AccAbstract).
		Abstract(classfile.AccPublic|classfile.AccAbstract, "act", "()V").
		Class()
	user := cftest.New(t, "a/User", "").
		Method(classfile.AccPrivate|classfile.AccStatic, "body", "()V", 0, 0, func(a *cftest.Asm) {
			a.Op(disasm.Return)
		}).
		Method(classfile.AccStatic, "make", "()La/Action;", 1, 0, func(a *cftest.Asm) {
			a.Lambda("a/Action", "act", "()V", "a/User", "body", "()V")
			a.Op(disasm.Areturn)
		}).
		Class()
	ix := build(t, []*classfile.Class{iface, user})
	if s := ix.Symbol(method(t, ix, "a/Action", "act", "()V")); !s.Fixed || s.Reason != "implemented by a lambda" {
		t.Errorf("act: Fixed = %v, Reason = %q", s.Fixed, s.Reason)
	}
	if ix.Fixed(method(t, ix, "a/User", "body", "()V")) {
		t.Errorf("lambda body is fixed")
	}
}

func TestPlan_DeterministicAndUnique(t *testing.T) {
	plan := func(seed int64) *program.Mappings {
		ix, err := program.Build(hierarchy(t), nil, nil, seed)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		return ix.Plan(program.PlanOptions{Classes: true, Members: true}).Mappings()
	}
	m1, m2 := plan(7), plan(7)
	for k, v := range m1.Classes {
		if m2.Classes[k] != v {
			t.Errorf("class %s: %q then %q with the same seed", k, v, m2.Classes[k])
		}
	}
	for k, v := range m1.Methods {
		if m2.Methods[k] != v {
			t.Errorf("method %s: %q then %q with the same seed", k, v, m2.Methods[k])
		}
	}

	seen := make(map[string]string)
	for old, n := range m1.Classes {
		if prev, ok := seen[n]; ok {
			t.Errorf("%s and %s both renamed to %s", prev, old, n)
		}
		seen[n] = old
	}
	if len(m1.Classes) != 2 {
		t.Errorf("renamed %d classes, want 2: %v", len(m1.Classes), m1.Classes)
	}
}

func TestPlan_PackagesMoveOnlyWhollyRenamable(t *testing.T) {
	units := append(hierarchy(t), greeter(t, "b/Solo", "", "solo"))
	ix := build(t, units)
	p := ix.Plan(program.PlanOptions{Classes: true, Members: true, Packages: true})
	m := p.Mappings()
	if _, ok := m.Packages["a"]; ok {
		t.Errorf("package a moved although a/Main is fixed")
	}
	nb, ok := m.Packages["b"]
	if !ok {
		t.Fatalf("package b not moved: %v", m.Packages)
	}
	if n := p.Class("b/Solo"); !strings.HasPrefix(n, strings.ReplaceAll(nb, ".", "/")+"/") {
		t.Errorf("Class(b/Solo) = %q, want it inside %q", n, nb)
	}
}

func TestIndex_Synthetic(t *testing.T) {
	ix := build(t, hierarchy(t))
	p := ix.Plan(program.PlanOptions{Members: true})
	a := ix.Synthetic("a/Base", "decrypt")
	if b := ix.Synthetic("a/Base", "decrypt"); a != b {
		t.Errorf("Synthetic is not stable: %q, %q", a, b)
	}
	if b := ix.Synthetic("a/Base", "key"); a == b {
		t.Errorf("two purposes share %q", a)
	}
	if !strings.HasPrefix(a, "$") {
		t.Errorf("Synthetic = %q, want a $ prefix", a)
	}
	base := method(t, ix, "a/Base", "greet", greetDesc)
	if a == p.Member(base) {
		t.Errorf("Synthetic reused a planned name")
	}

	again := build(t, hierarchy(t))
	again.Plan(program.PlanOptions{Members: true})
	if b := again.Synthetic("a/Base", "decrypt"); a != b {
		t.Errorf("Synthetic differs across builds: %q, %q", a, b)
	}
}

func TestIndex_HierarchyUsesPlannedNames(t *testing.T) {
	ix := build(t, hierarchy(t))
	p := ix.Plan(program.PlanOptions{Classes: true})
	h := ix.Hierarchy(p)
	super, iface, ok := h.Super(p.Class("a/Child"))
	if !ok || iface || super != p.Class("a/Base") {
		t.Errorf("Super(%s) = %q, %v, %v, want %q", p.Class("a/Child"), super, iface, ok, p.Class("a/Base"))
	}
}

func TestRules_MatchClass(t *testing.T) {
	tests := []struct {
		pattern, class string
		want           bool
	}{
		{"com.example.*", "com/example/Foo", true},
		{"com.example.*", "com/example/sub/Foo", true},
		{"com.example.*", "com/examples/Foo", false},
		{"com.example", "com/example/Foo", true},
		{"com.example", "com/example/sub/Foo", false},
		{"com.example.Foo", "com/example/Foo", true},
		{"com/example/Foo", "com/example/Foo", true},
		{"com.example.Foo", "com/example/FooBar", false},
		{"Foo", "org/x/Foo", true},
		{"Foo", "org/x/Foo$Inner", false},
		{"com.*.internal.*", "com/acme/internal/Impl", true},
		{"com.*.internal.*", "com/acme/deep/internal/Impl", false},
		{"com.**.Impl", "com/acme/deep/internal/Impl", true},
		{"*", "Anything", true},
	}
	for _, tt := range tests {
		rules, err := program.CompileRules([]string{tt.pattern})
		if err != nil {
			t.Fatalf("CompileRules(%q): %v", tt.pattern, err)
		}
		if _, got := rules.MatchClass(tt.class); got != tt.want {
			t.Errorf("%q matches %s = %v, want %v", tt.pattern, tt.class, got, tt.want)
		}
	}
}

func TestRules_MatchMember(t *testing.T) {
	rules, err := program.CompileRules([]string{"  ", "com.example.Foo#get*"})
	if err != nil {
		t.Fatalf("CompileRules: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("len(rules) = %d, want 1", len(rules))
	}
	if _, ok := rules.MatchClass("com/example/Foo"); ok {
		t.Errorf("member rule matched the class")
	}
	if p, ok := rules.MatchMember("com/example/Foo", "getName"); !ok || p != "com.example.Foo#get*" {
		t.Errorf("MatchMember(getName) = %q, %v", p, ok)
	}
	if _, ok := rules.MatchMember("com/example/Foo", "setName"); ok {
		t.Errorf("MatchMember(setName) matched")
	}
}

func TestRules_BadGlob(t *testing.T) {
	if _, err := program.CompileRules([]string{"com.[example"}); err == nil {
		t.Errorf("CompileRules accepted an unterminated class")
	}
}
