package program

import (
	"errors"
	"slices"
	"strings"

	"classmorph/internal/classfile"
	"classmorph/internal/diag"

	"github.com/dominikbraun/graph"
)

// Build indexes a batch. Every declaration of units and libs is registered
// before any reference is resolved. Units are transformed later; libs only
// contribute hierarchy and members and are never renamed.
func Build(units, libs []*classfile.Class, rules Rules, seed int64) (*Index, error) {
	ix := &Index{
		syms:      []*Symbol{nil},
		classes:   make(map[string]SymbolID),
		fields:    make(map[memberKey]SymbolID),
		methods:   make(map[memberKey]SymbolID),
		info:      make(map[SymbolID]*classInfo),
		names:     make(map[*classfile.Class]string, len(units)),
		refs:      make(map[refKey]SymbolID),
		externs:   make(map[memberKey]SymbolID),
		excluded:  make(map[string]string),
		inherit:   graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles()),
		rules:     rules,
		seed:      seed,
		used:      make(map[string]bool),
		synthetic: make(map[string]string),
	}

	sorted := func(cs []*classfile.Class) []*classfile.Class {
		out := slices.Clone(cs)
		slices.SortFunc(out, func(a, b *classfile.Class) int { return strings.Compare(a.Name(), b.Name()) })
		return out
	}
	ix.units = sorted(units)
	for i := 1; i < len(ix.units); i++ {
		if n := ix.units[i].Name(); n == ix.units[i-1].Name() {
			return nil, diag.New(diag.UnresolvedSymbol, "class %s is declared twice", n).In(n)
		}
	}
	for _, u := range ix.units {
		ix.names[u] = u.Name()
		ix.register(u, Batch)
	}
	for _, l := range sorted(libs) {
		if _, dup := ix.classes[l.Name()]; dup {
			continue
		}
		ix.register(l, Library)
	}

	// Registration is complete; everything below resolves against it.
	declared := make([]SymbolID, 0, len(ix.classes))
	for _, id := range ix.classes {
		declared = append(declared, id)
	}
	slices.Sort(declared)
	for _, id := range declared {
		if err := ix.linkSupertypes(id); err != nil {
			return nil, err
		}
	}
	for _, u := range ix.units {
		if err := ix.resolveRefs(u); err != nil {
			return nil, err
		}
	}

	ix.applyRules()
	ix.computeOverrides()
	for _, s := range ix.syms[1:] {
		if s.Kind != ClassSymbol {
			ix.used[s.Name] = true
		}
	}
	return ix, nil
}

func (ix *Index) add(s *Symbol) SymbolID {
	s.ID = SymbolID(len(ix.syms))
	if s.Kind == ClassSymbol {
		s.Owner = s.ID
	}
	ix.syms = append(ix.syms, s)
	return s.ID
}

func (ix *Index) register(c *classfile.Class, origin Origin) {
	name := c.Name()
	id := ix.add(&Symbol{Kind: ClassSymbol, Name: name, Access: c.Access, Origin: origin})
	ix.classes[name] = id
	in := &classInfo{unit: c, iface: c.IsInterface(), known: true}
	ix.info[id] = in
	for _, f := range c.Fields {
		k := memberKey{id, c.NameOf(&f.Member), c.DescOf(&f.Member)}
		m := ix.add(&Symbol{Kind: FieldSymbol, Owner: id, Name: k.name, Desc: k.desc, Access: f.Access, Origin: origin})
		ix.fields[k] = m
		in.fields = append(in.fields, m)
	}
	for _, mt := range c.Methods {
		k := memberKey{id, c.NameOf(&mt.Member), c.DescOf(&mt.Member)}
		m := ix.add(&Symbol{Kind: MethodSymbol, Owner: id, Name: k.name, Desc: k.desc, Access: mt.Access, Origin: origin})
		ix.methods[k] = m
		in.methods = append(in.methods, m)
	}
	if origin != Batch {
		for _, m := range slices.Concat([]SymbolID{id}, in.fields, in.methods) {
			ix.fix(m, "library")
		}
	}
	ix.addVertex(name)
}

// addVertex adds a class to the inheritance graph; it may already be there.
func (ix *Index) addVertex(name string) { _ = ix.inherit.AddVertex(name) }

// classRef returns the symbol of a referenced class, registering platform
// or unknown classes as external on first use.
func (ix *Index) classRef(name string) SymbolID {
	if id, ok := ix.classes[name]; ok {
		return id
	}
	id := ix.add(&Symbol{Kind: ClassSymbol, Name: name, Origin: External, Fixed: true, Reason: "external"})
	ix.classes[name] = id
	in := &classInfo{}
	ix.info[id] = in
	ix.addVertex(name)

	jt, ok := jdkTypes[name]
	if !ok {
		return id
	}
	in.known, in.iface = true, jt.iface
	for _, nd := range jt.methods {
		i := strings.IndexByte(nd, '(')
		k := memberKey{id, nd[:i], nd[i:]}
		m := ix.add(&Symbol{Kind: MethodSymbol, Owner: id, Name: k.name, Desc: k.desc,
			Access: classfile.AccPublic, Origin: External, Fixed: true, Reason: "external"})
		if jt.iface && k.name != "<init>" {
			ix.syms[m].Access |= classfile.AccAbstract
		}
		ix.methods[k] = m
		in.methods = append(in.methods, m)
	}
	if jt.super != "" {
		in.super = ix.classRef(jt.super)
		_ = ix.addEdge(name, jt.super)
	}
	for _, i := range jt.ifaces {
		in.ifaces = append(in.ifaces, ix.classRef(i))
		_ = ix.addEdge(name, i)
	}
	return id
}

func (ix *Index) addEdge(from, to string) error {
	err := ix.inherit.AddEdge(from, to)
	if errors.Is(err, graph.ErrEdgeAlreadyExists) {
		return nil
	}
	return err
}

func (ix *Index) linkSupertypes(id SymbolID) error {
	in := ix.info[id]
	c := in.unit
	name := c.Name()
	link := func(to string) (SymbolID, error) {
		sup := ix.classRef(to)
		if err := ix.addEdge(name, to); err != nil {
			if errors.Is(err, graph.ErrEdgeCreatesCycle) {
				return NoSymbol, diag.New(diag.UnresolvedSymbol, "cyclic inheritance between %s and %s", name, to).In(name)
			}
			return NoSymbol, err
		}
		return sup, nil
	}
	if s := c.SuperName(); s != "" {
		sup, err := link(s)
		if err != nil {
			return err
		}
		in.super = sup
	} else if name != object {
		return diag.New(diag.UnresolvedSymbol, "class %s has no superclass", name).In(name)
	}
	for _, i := range c.InterfaceNames() {
		sup, err := link(i)
		if err != nil {
			return err
		}
		in.ifaces = append(in.ifaces, sup)
	}
	return nil
}

// lookup result: found, absent (the hierarchy is fully known and has no
// such member) or unknown.
type lookup int

const (
	found lookup = iota
	absent
	unknown
)

func (ix *Index) findField(class SymbolID, name, desc string, seen map[SymbolID]bool) (SymbolID, lookup) {
	if seen[class] {
		return NoSymbol, absent
	}
	seen[class] = true
	in := ix.info[class]
	if !in.known {
		return NoSymbol, unknown
	}
	if id, ok := ix.fields[memberKey{class, name, desc}]; ok {
		return id, found
	}
	res := absent
	next := slices.Clone(in.ifaces)
	if in.super != NoSymbol {
		next = append(next, in.super)
	}
	for _, s := range next {
		id, r := ix.findField(s, name, desc, seen)
		if r == found {
			return id, found
		}
		if r == unknown {
			res = unknown
		}
	}
	return NoSymbol, res
}

func (ix *Index) findMethod(class SymbolID, name, desc string) (SymbolID, lookup) {
	if name == "<init>" || name == "<clinit>" {
		if !ix.info[class].known {
			return NoSymbol, unknown
		}
		if id, ok := ix.methods[memberKey{class, name, desc}]; ok {
			return id, found
		}
		return NoSymbol, absent
	}
	res := absent
	for c := class; c != NoSymbol; c = ix.info[c].super {
		in := ix.info[c]
		if !in.known {
			res = unknown
			break
		}
		if id, ok := ix.methods[memberKey{c, name, desc}]; ok {
			return id, found
		}
	}
	for _, s := range ix.supertypes(class) {
		in := ix.info[s]
		if !in.known {
			res = unknown
			continue
		}
		if !in.iface {
			continue
		}
		if id, ok := ix.methods[memberKey{s, name, desc}]; ok {
			return id, found
		}
	}
	return NoSymbol, res
}

// external returns the placeholder symbol for a member reference that
// cannot be resolved because part of the owner's hierarchy is unknown.
func (ix *Index) external(owner SymbolID, kind SymbolKind, name, desc string) SymbolID {
	k := memberKey{owner, kind.String() + ":" + name, desc}
	if id, ok := ix.externs[k]; ok {
		return id
	}
	id := ix.add(&Symbol{Kind: kind, Owner: owner, Name: name, Desc: desc, Origin: External, Fixed: true, Reason: "external"})
	ix.externs[k] = id
	return id
}

func (ix *Index) resolveMember(unit string, tag classfile.Tag, owner, name, desc string) (SymbolID, error) {
	if strings.HasPrefix(owner, "[") {
		// Array types only inherit Object's members.
		owner = object
	}
	cls := ix.classRef(owner)
	var (
		id   SymbolID
		res  lookup
		kind = MethodSymbol
	)
	if tag == classfile.TagFieldref {
		kind = FieldSymbol
		id, res = ix.findField(cls, name, desc, make(map[SymbolID]bool))
	} else {
		id, res = ix.findMethod(cls, name, desc)
	}
	switch res {
	case found:
		return id, nil
	case unknown:
		return ix.external(cls, kind, name, desc), nil
	}
	return NoSymbol, diag.New(diag.UnresolvedSymbol, "%s %s.%s:%s does not resolve", kind, owner, name, desc).In(unit)
}

func (ix *Index) resolveRefs(c *classfile.Class) error {
	unit := c.Name()
	var err error
	c.Pool.Entries(func(i int, e classfile.Constant) {
		if err != nil || !e.Tag.IsMemberRef() {
			return
		}
		owner, name, desc, merr := c.Pool.Member(i)
		if merr != nil {
			err = diag.Wrap(diag.MalformedUnit, merr, "member reference #%d", i).In(unit)
			return
		}
		var id SymbolID
		if id, err = ix.resolveMember(unit, e.Tag, owner, name, desc); err == nil {
			ix.refs[refKey{unit, i}] = id
		}
	})
	if err != nil {
		return err
	}
	if em := c.EnclosingMethod; em != nil && em.Method != 0 {
		owner := c.ClassAt(em.Class)
		name, desc, err := c.Pool.NameAndType(int(em.Method))
		if err != nil {
			return diag.Wrap(diag.MalformedUnit, err, "EnclosingMethod").In(unit)
		}
		id, err := ix.resolveMember(unit, classfile.TagMethodref, owner, name, desc)
		if err != nil {
			return err
		}
		ix.refs[refKey{unit, int(em.Method)}] = id
	}
	return nil
}
