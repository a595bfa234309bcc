package program

import (
	"slices"

	"classmorph/internal/classfile"
)

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	u := &unionFind{parent: make([]int, n)}
	for i := range u.parent {
		u.parent[i] = i
	}
	return u
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

// union joins the sets of a and b. The smaller root wins so that set ids do
// not depend on union order.
func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	switch {
	case ra < rb:
		u.parent[rb] = ra
	case rb < ra:
		u.parent[ra] = rb
	}
}

// virtual reports whether a method takes part in dynamic dispatch.
func virtual(s *Symbol) bool {
	if s.Kind != MethodSymbol || s.Access&(classfile.AccStatic|classfile.AccPrivate) != 0 {
		return false
	}
	return s.Name != "<init>" && s.Name != "<clinit>"
}

// supertypes returns the proper supertype closure of class, superclasses
// first, then interfaces breadth first.
func (ix *Index) supertypes(class SymbolID) []SymbolID {
	var out []SymbolID
	seen := map[SymbolID]bool{class: true}
	queue := []SymbolID{class}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		in := ix.info[c]
		if in == nil {
			continue
		}
		next := in.ifaces
		if in.super != NoSymbol {
			next = append([]SymbolID{in.super}, next...)
		}
		for _, s := range next {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
				queue = append(queue, s)
			}
		}
	}
	return out
}

// computeOverrides links every virtual method to the methods it overrides
// or implements: within the supertype closure of each class, all virtual
// methods sharing a name and descriptor dispatch together, which also covers
// an interface method implemented by an inherited superclass method.
// Classes with a supertype whose members are not all visible fix every
// virtual method they declare, since any of them might override something
// unseen.
func (ix *Index) computeOverrides() {
	ix.sets = newUnionFind(len(ix.syms))
	for id := SymbolID(1); int(id) < len(ix.syms); id++ {
		s := ix.syms[id]
		if s.Kind != ClassSymbol || s.Origin == External {
			continue
		}
		closure := append([]SymbolID{id}, ix.supertypes(id)...)
		opaque := false
		for _, c := range closure[1:] {
			if !ix.info[c].known {
				opaque = true
			}
		}
		groups := make(map[string]SymbolID)
		for _, c := range closure {
			for _, m := range ix.info[c].methods {
				ms := ix.syms[m]
				if !virtual(ms) {
					continue
				}
				if c == id && opaque {
					ix.fix(m, "may override a method of an unknown supertype")
				}
				k := ms.Name + ms.Desc
				if first, ok := groups[k]; ok {
					ix.sets.union(int(first), int(m))
				} else {
					groups[k] = m
				}
			}
		}
	}

	ix.members = make(map[int][]SymbolID)
	for id := SymbolID(1); int(id) < len(ix.syms); id++ {
		if ix.syms[id].Kind == ClassSymbol {
			continue
		}
		r := ix.sets.find(int(id))
		ix.members[r] = append(ix.members[r], id)
	}
	// A set is fixed as a whole when any member is.
	for _, ms := range ix.members {
		reason := ""
		for _, m := range ms {
			if s := ix.syms[m]; s.Fixed {
				reason = s.Reason
				if s.Origin != Batch {
					reason = "overrides " + ix.Key(m)
				}
				break
			}
		}
		if reason == "" {
			continue
		}
		for _, m := range ms {
			ix.fix(m, reason)
		}
	}
	for _, ms := range ix.members {
		slices.Sort(ms)
	}
}
