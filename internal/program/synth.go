package program

import (
	"classmorph/internal/verify"

	"github.com/twmb/murmur3"
)

// MethodSeed returns the deterministic random seed of one method.
func (ix *Index) MethodSeed(unit, name, desc string) uint64 {
	return murmur3.SeedSum64(uint64(ix.seed), []byte(unit+"."+name+desc))
}

// Seed returns the batch seed.
func (ix *Index) Seed() int64 { return ix.seed }

// Synthetic reserves a member name for a declaration a pass injects into
// unit. The name depends only on the seed, unit and purpose, and differs
// from every member name in the program, including planned ones.
func (ix *Index) Synthetic(unit, purpose string) string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	key := unit + "\x00" + purpose
	if n, ok := ix.synthetic[key]; ok {
		return n
	}
	taken := make(map[string]bool)
	for k, n := range ix.synthetic {
		if len(k) > len(unit) && k[:len(unit)+1] == unit+"\x00" {
			taken[n] = true
		}
	}
	g := &generator{alphabet: []byte(letters)}
	h := murmur3.SeedSum64(uint64(ix.seed), []byte(key))
	for {
		// Three to five letters.
		n := "$" + g.encode(h%(26*26*26*26*26-702)+703)
		if !ix.used[n] && !taken[n] {
			ix.synthetic[key] = n
			return n
		}
		h++
	}
}

// Hierarchy returns the class hierarchy under the names p assigns, for
// type merges after renaming. p may be nil.
func (ix *Index) Hierarchy(p *Plan) *verify.Table {
	name := func(n string) string {
		if p == nil {
			return n
		}
		return p.Class(n)
	}
	t := verify.NewTable()
	for n, id := range ix.classes {
		in := ix.info[id]
		if !in.known {
			continue
		}
		super := ""
		if in.super != NoSymbol {
			super = name(ix.syms[in.super].Name)
		}
		t.Add(name(n), super, in.iface)
	}
	return t
}
