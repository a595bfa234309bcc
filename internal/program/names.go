package program

import (
	"math/rand/v2"

	"github.com/twmb/murmur3"
)

const letters = "abcdefghijklmnopqrstuvwxyz"

// generator hands out short identifiers: a bijective base-26 count over an
// alphabet permuted by the seed, behind an optional prefix.
type generator struct {
	alphabet []byte
	prefix   string
	n        uint64
	skip     func(string) bool
}

func newGenerator(seed int64, stream, prefix string, skip func(string) bool) *generator {
	a := []byte(letters)
	r := rand.New(rand.NewPCG(uint64(seed), murmur3.Sum64([]byte(stream))))
	r.Shuffle(len(a), func(i, j int) { a[i], a[j] = a[j], a[i] })
	return &generator{alphabet: a, prefix: prefix, skip: skip}
}

func (g *generator) encode(n uint64) string {
	var buf [16]byte
	i := len(buf)
	for n > 0 {
		n--
		i--
		buf[i] = g.alphabet[n%26]
		n /= 26
	}
	return string(buf[i:])
}

// next returns the next name that is neither a keyword nor skipped.
func (g *generator) next() string {
	for {
		g.n++
		s := g.prefix + g.encode(g.n)
		if javaKeywords[s] || (g.skip != nil && g.skip(s)) {
			continue
		}
		return s
	}
}
