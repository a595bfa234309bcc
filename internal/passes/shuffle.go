package passes

import (
	"math/rand/v2"
)

// Shuffle permutes the declaration order of fields and methods. The order
// depends only on the seed and the unit's original name.
type Shuffle struct{}

func (Shuffle) String() string         { return "shuffle" }
func (Shuffle) Skip(ctx *Context) bool { return !ctx.Config.ShuffleMembers }

func (Shuffle) Run(ctx *Context) error {
	return ctx.eachUnit("shuffle", func(u unit) error {
		rng := rand.New(rand.NewPCG(ctx.Index.MethodSeed(u.name, "<shuffle>", ""), 0x73687566666c65))
		rng.Shuffle(len(u.Fields), func(i, j int) { u.Fields[i], u.Fields[j] = u.Fields[j], u.Fields[i] })
		rng.Shuffle(len(u.Methods), func(i, j int) { u.Methods[i], u.Methods[j] = u.Methods[j], u.Methods[i] })
		return nil
	})
}
