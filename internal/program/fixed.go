package program

import (
	"slices"
	"strings"

	"classmorph/internal/classfile"
)

func (ix *Index) fix(id SymbolID, reason string) {
	s := ix.syms[id]
	if !s.Fixed {
		s.Fixed, s.Reason = true, reason
	}
}

// Fixed reports whether a symbol keeps its name.
func (ix *Index) Fixed(id SymbolID) bool { return ix.Symbol(id).Fixed }

// Excluded reports whether unit is excluded from every pass, and by which
// pattern.
func (ix *Index) Excluded(unit string) (string, bool) {
	p, ok := ix.excluded[unit]
	return p, ok
}

// applyRules marks fixed symbols: configured exclusions first, then the
// built-in rules for names the runtime or reflection looks up.
func (ix *Index) applyRules() {
	for _, u := range ix.units {
		ix.fixUnit(u)
	}
	for _, u := range ix.units {
		if _, ok := ix.excluded[u.Name()]; ok {
			ix.fixReferenced(u)
		}
	}
	ix.fixByStrings()
	ix.fixLambdaTargets()
}

func (ix *Index) fixUnit(u *classfile.Class) {
	name := u.Name()
	id := ix.classes[name]
	in := ix.info[id]

	if p, ok := ix.rules.MatchClass(name); ok {
		ix.excluded[name] = p
		ix.fix(id, "excluded by "+p)
		for _, m := range ix.Members(id) {
			ix.fix(m, "excluded by "+p)
		}
		return
	}

	enum := u.Access&classfile.AccEnum != 0
	annotation := u.Access&classfile.AccAnnotation != 0
	record := u.SuperName() == "java/lang/Record"
	components := make(map[string]bool)
	for _, rc := range u.Record {
		components[u.Utf8(rc.Name)+":"+u.Utf8(rc.Desc)] = true
	}

	for _, f := range in.fields {
		s := ix.syms[f]
		switch {
		case enum && s.Access&classfile.AccEnum != 0:
			ix.fix(f, "enum constant")
		case serialization[s.Name+":"+s.Desc]:
			ix.fix(f, "serialization member")
		case record && components[s.Name+":"+s.Desc]:
			ix.fix(f, "record component")
		}
		if p, ok := ix.rules.MatchMember(name, s.Name); ok {
			ix.fix(f, "excluded by "+p)
		}
	}
	for _, m := range in.methods {
		s := ix.syms[m]
		switch {
		case s.Name == "<init>" || s.Name == "<clinit>":
			ix.fix(m, "special method")
		case s.Name == "main" && s.Desc == "([Ljava/lang/String;)V" && s.Access&classfile.AccStatic != 0:
			ix.fix(m, "entry point")
			ix.fix(id, "declares an entry point")
		case s.Access&classfile.AccNative != 0:
			ix.fix(m, "native method")
			ix.fix(id, "declares a native method")
		case enum && (s.Name == "values" && s.Desc == "()[L"+name+";" ||
			s.Name == "valueOf" && s.Desc == "(Ljava/lang/String;)L"+name+";"):
			ix.fix(m, "enum method")
		case serialization[s.Name+s.Desc]:
			ix.fix(m, "serialization member")
		case annotation:
			ix.fix(m, "annotation element")
		case record && strings.HasPrefix(s.Desc, "()") && components[s.Name+":"+s.Desc[2:]]:
			ix.fix(m, "record accessor")
		}
		if p, ok := ix.rules.MatchMember(name, s.Name); ok {
			ix.fix(m, "excluded by "+p)
		}
	}
}

// fixReferenced fixes every batch class and member an excluded unit refers
// to, so that the unit can be emitted unchanged.
func (ix *Index) fixReferenced(u *classfile.Class) {
	unit := u.Name()
	reason := "referenced by excluded " + unit
	fixClass := func(name string) {
		if id, ok := ix.classes[name]; ok && ix.syms[id].Origin == Batch {
			ix.fix(id, reason)
		}
	}
	u.Pool.Entries(func(i int, e classfile.Constant) {
		switch {
		case e.Tag == classfile.TagUtf8:
			s, err := u.Pool.Utf8(i)
			if err != nil {
				return
			}
			fixClass(s)
			// Class names inside descriptors and signatures.
			for rest := s; ; {
				j := strings.IndexByte(rest, 'L')
				if j < 0 {
					break
				}
				rest = rest[j+1:]
				k := strings.IndexAny(rest, ";<")
				if k < 0 {
					break
				}
				fixClass(rest[:k])
			}
		case e.Tag.IsMemberRef():
			if id, ok := ix.refs[refKey{unit, i}]; ok && ix.syms[id].Origin == Batch {
				ix.fix(id, reason)
			}
		}
	})
}

// fixByStrings fixes classes named by any string literal, and members named
// by string literals in units that call reflection.
func (ix *Index) fixByStrings() {
	names := make(map[string][]SymbolID)
	for _, u := range ix.units {
		id := ix.classes[u.Name()]
		for _, m := range ix.Members(id) {
			s := ix.syms[m]
			names[s.Name] = append(names[s.Name], m)
		}
	}
	for _, u := range ix.units {
		unit := u.Name()
		var lits []string
		reflects := false
		u.Pool.Entries(func(i int, e classfile.Constant) {
			switch {
			case e.Tag == classfile.TagString:
				if s, err := u.Pool.String(i); err == nil {
					lits = append(lits, s)
				}
			case e.Tag.IsMemberRef():
				owner, name, _, err := u.Pool.Member(i)
				if err == nil && reflective[owner+"."+name] {
					reflects = true
				}
			}
		})
		for _, s := range lits {
			for _, cand := range []string{s, strings.ReplaceAll(s, ".", "/")} {
				if id, ok := ix.classes[cand]; ok && ix.syms[id].Origin == Batch {
					ix.fix(id, "named by a string literal in "+unit)
				}
			}
			if reflects {
				for _, m := range names[s] {
					ix.fix(m, "named by a reflective string in "+unit)
				}
			}
		}
	}
}

// fixLambdaTargets fixes the interface methods lambda metafactory call sites
// implement: the runtime binds them by the name in the call site.
func (ix *Index) fixLambdaTargets() {
	for _, u := range ix.units {
		factories := make(map[int]bool)
		for i, bm := range u.BootstrapMethods {
			e, err := u.Pool.At(int(bm.Ref))
			if err != nil {
				continue
			}
			owner, _, _, err := u.Pool.Member(int(e.A))
			if err == nil && owner == "java/lang/invoke/LambdaMetafactory" && len(bm.Args) > 0 {
				factories[i] = true
			}
		}
		if len(factories) == 0 {
			continue
		}
		u.Pool.Entries(func(i int, e classfile.Constant) {
			if e.Tag != classfile.TagInvokeDynamic || !factories[int(e.A)] {
				return
			}
			name, desc, err := u.Pool.NameAndType(int(e.B))
			if err != nil {
				return
			}
			md, err := classfile.ParseMethodDesc(desc)
			if err != nil || !strings.HasPrefix(md.Ret, "L") {
				return
			}
			iface, ok := ix.classes[md.Ret[1:len(md.Ret)-1]]
			if !ok {
				return
			}
			samType, err := u.Pool.At(int(u.BootstrapMethods[e.A].Args[0]))
			if err != nil {
				return
			}
			samDesc, err := u.Pool.Utf8(int(samType.A))
			if err != nil {
				return
			}
			for _, c := range slices.Concat([]SymbolID{iface}, ix.supertypes(iface)) {
				if m, ok := ix.methods[memberKey{c, name, samDesc}]; ok {
					ix.fix(m, "implemented by a lambda")
				}
			}
		})
	}
}
