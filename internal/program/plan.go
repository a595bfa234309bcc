package program

import (
	"cmp"
	"slices"
	"strings"

	"classmorph/internal/classfile"
)

// PlanOptions selects what a rename plan covers.
type PlanOptions struct {
	Classes  bool
	Members  bool
	Packages bool
	// Prefix is prepended to every generated class and member name.
	Prefix string
}

// Plan is the complete rename decision for a batch: new names for
// renamable packages, classes, fields and override sets. It is computed
// single-threaded in symbol order, so it depends only on the batch, the
// rules and the seed.
type Plan struct {
	ix       *Index
	packages map[string]string
	classes  map[string]string
	members  map[SymbolID]string
}

// Plan computes the rename plan and reserves its names.
func (ix *Index) Plan(opts PlanOptions) *Plan {
	p := &Plan{
		ix:       ix,
		packages: make(map[string]string),
		classes:  make(map[string]string),
		members:  make(map[SymbolID]string),
	}
	if opts.Packages {
		p.planPackages()
	}
	p.planClasses(opts)
	if opts.Members {
		p.planMembers(opts.Prefix)
	}

	ix.mu.Lock()
	for _, n := range p.members {
		ix.used[n] = true
	}
	ix.mu.Unlock()
	return p
}

func (p *Plan) planPackages() {
	ix := p.ix
	blocked := map[string]bool{"": true}
	existing := make(map[string]bool)
	var cands []string
	for name, id := range ix.classes {
		pkg := classfile.Package(name)
		existing[pkg] = true
		if s := ix.syms[id]; s.Origin != Batch || s.Fixed {
			blocked[pkg] = true
		}
	}
	for pkg := range existing {
		if !blocked[pkg] {
			cands = append(cands, pkg)
		}
	}
	slices.Sort(cands)
	gen := newGenerator(ix.seed, "package", "", func(s string) bool { return existing[s] })
	for _, pkg := range cands {
		p.packages[pkg] = gen.next()
	}
}

// outer returns the batch class a class is nested in, or "".
func (ix *Index) outer(u *classfile.Class) string {
	name := u.Name()
	for _, ic := range u.InnerClasses {
		if u.ClassAt(ic.Inner) != name {
			continue
		}
		if ic.Outer != 0 {
			if o := u.ClassAt(ic.Outer); ix.Unit(o) != nil {
				return o
			}
		}
		break
	}
	if em := u.EnclosingMethod; em != nil {
		if o := u.ClassAt(em.Class); ix.Unit(o) != nil {
			return o
		}
	}
	return ""
}

func (p *Plan) planClasses(opts PlanOptions) {
	ix := p.ix
	depth := make(map[string]int)
	var depthOf func(string, int) int
	depthOf = func(name string, guard int) int {
		if d, ok := depth[name]; ok {
			return d
		}
		d := 0
		if o := ix.outer(ix.Unit(name)); o != "" && guard < 64 {
			d = depthOf(o, guard+1) + 1
		}
		depth[name] = d
		return d
	}
	units := slices.Clone(ix.units)
	slices.SortStableFunc(units, func(a, b *classfile.Class) int {
		return cmp.Compare(depthOf(a.Name(), 0), depthOf(b.Name(), 0))
	})

	assigned := make(map[string]bool)
	for _, n := range p.classes {
		assigned[n] = true
	}
	taken := func(full string) bool {
		_, ok := ix.classes[full]
		return ok || assigned[full]
	}
	gen := newGenerator(ix.seed, "class", opts.Prefix, nil)
	for _, u := range units {
		old := u.Name()
		s := ix.syms[ix.classes[old]]
		pkg, moved := p.packages[classfile.Package(old)]
		if s.Fixed || !opts.Classes {
			if moved {
				p.classes[old] = pkg + "/" + classfile.SimpleName(old)
				assigned[p.classes[old]] = true
			}
			continue
		}
		base := ""
		if o := ix.outer(u); o != "" {
			base = p.Class(o) + "$"
		} else if moved {
			base = pkg + "/"
		} else if q := classfile.Package(old); q != "" {
			base = q + "/"
		}
		for {
			if full := base + gen.next(); !taken(full) {
				p.classes[old] = full
				assigned[full] = true
				break
			}
		}
	}
}

func (p *Plan) planMembers(prefix string) {
	ix := p.ix
	fixed := make(map[string]bool)
	for _, s := range ix.syms[1:] {
		if s.Kind != ClassSymbol && s.Fixed {
			fixed[s.Name] = true
		}
	}
	gen := newGenerator(ix.seed, "member", prefix, func(s string) bool { return fixed[s] })
	bySet := make(map[int]string)
	for _, s := range ix.syms[1:] {
		if s.Kind == ClassSymbol || s.Origin != Batch || s.Fixed {
			continue
		}
		if s.Kind == MethodSymbol {
			root := ix.OverrideSet(s.ID)
			n, ok := bySet[root]
			if !ok {
				n = gen.next()
				bySet[root] = n
			}
			p.members[s.ID] = n
			continue
		}
		p.members[s.ID] = gen.next()
	}
}

// Class returns the new internal name of a class, or name itself.
func (p *Plan) Class(name string) string {
	if n, ok := p.classes[name]; ok {
		return n
	}
	return name
}

// Member returns the new name of a member symbol, or its current name.
func (p *Plan) Member(id SymbolID) string {
	if n, ok := p.members[id]; ok {
		return n
	}
	return p.ix.Symbol(id).Name
}

// Renamed reports whether the plan renames a member symbol.
func (p *Plan) Renamed(id SymbolID) bool {
	_, ok := p.members[id]
	return ok
}

// Empty reports whether the plan renames nothing.
func (p *Plan) Empty() bool { return len(p.classes) == 0 && len(p.members) == 0 }

// Touches reports whether the plan renames unit or anything it declares.
func (p *Plan) Touches(unit string) bool {
	if _, ok := p.classes[unit]; ok {
		return true
	}
	id, ok := p.ix.classes[unit]
	if !ok {
		return false
	}
	for _, m := range p.ix.Members(id) {
		if p.Renamed(m) {
			return true
		}
	}
	return false
}

// Mappings lists the renames for the mappings file.
type Mappings struct {
	Packages map[string]string `json:"packages,omitempty" yaml:"packages,omitempty"`
	Classes  map[string]string `json:"classes" yaml:"classes"`
	Fields   map[string]string `json:"fields" yaml:"fields"`
	Methods  map[string]string `json:"methods" yaml:"methods"`
}

// Mappings returns the plan as old → new tables with dotted class names.
func (p *Plan) Mappings() *Mappings {
	m := &Mappings{
		Packages: make(map[string]string),
		Classes:  make(map[string]string),
		Fields:   make(map[string]string),
		Methods:  make(map[string]string),
	}
	for o, n := range p.packages {
		m.Packages[dotted(o)] = dotted(n)
	}
	for o, n := range p.classes {
		m.Classes[dotted(o)] = dotted(n)
	}
	for id, n := range p.members {
		s := p.ix.Symbol(id)
		owner := dotted(p.ix.Symbol(s.Owner).Name)
		if s.Kind == FieldSymbol {
			m.Fields[owner+"."+s.Name] = n
		} else {
			m.Methods[owner+"."+s.Name+s.Desc] = n
		}
	}
	return m
}

// Count returns the number of renamed classes, fields and methods.
func (p *Plan) Count() (classes, fields, methods int) {
	for id := range p.members {
		if p.ix.Symbol(id).Kind == FieldSymbol {
			fields++
		} else {
			methods++
		}
	}
	return len(p.classes), fields, methods
}

// InnerSimpleName returns the simple name recorded for a nested class in
// InnerClasses after renaming.
func (p *Plan) InnerSimpleName(inner, simple string) string {
	n, ok := p.classes[inner]
	if !ok {
		return simple
	}
	if i := strings.LastIndexByte(n, '$'); i >= 0 {
		return n[i+1:]
	}
	return classfile.SimpleName(n)
}
