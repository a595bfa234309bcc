package passes

import (
	"math/rand/v2"

	"classmorph/internal/classfile"
	"classmorph/internal/disasm"
	"classmorph/internal/verify"
)

// Opaque inserts branches on predicates that always hold. The branch that
// is never taken leads to a block that throws.
type Opaque struct{}

func (Opaque) String() string         { return "opaque" }
func (Opaque) Skip(ctx *Context) bool { return !ctx.Config.OpaquePredicates }

func (Opaque) Run(ctx *Context) error {
	return ctx.eachUnit("opaque", func(u unit) error {
		changed := false
		err := ctx.eachMethod("opaque", u, func(m *classfile.Method) error {
			ok, err := opaqueMethod(ctx, u, m)
			changed = changed || ok
			return err
		})
		if changed {
			ctx.touch(u.name)
		}
		return err
	})
}

const maxPredicates = 8

const (
	predConsecutive = iota // x*(x+1) is even
	predSquare             // x*x mod 4 is 0 or 1
	predOr                 // x|1 is not zero
	predKinds
)

func opaqueMethod(ctx *Context, u unit, m *classfile.Method) (bool, error) {
	code := m.Code
	if code.HasJsr() {
		return false, decline("subroutines")
	}
	res, err := verify.Analyze(u.Class, m, ctx.Hierarchy)
	if err != nil {
		return false, decline("analysis: %v", err)
	}

	// Sites are instructions entered with an empty stack and no
	// uninitialized object in a local.
	var sites []int
	for i, in := range code.Insts {
		st := res.In[i]
		if in.IsLabel() || st == nil || len(st.Stack) > 0 || hasUninit(st.Locals) {
			continue
		}
		sites = append(sites, i)
	}
	if len(sites) == 0 {
		return false, nil
	}

	seed := ctx.Index.MethodSeed(u.name, u.NameOf(&m.Member), u.DescOf(&m.Member))
	rng := rand.New(rand.NewPCG(seed, 0x6f7061717565))
	chosen := make(map[int]bool)
	for _, i := range sites {
		if len(chosen) < maxPredicates && rng.IntN(3) == 0 {
			chosen[i] = true
		}
	}
	if len(chosen) == 0 {
		chosen[sites[rng.IntN(len(sites))]] = true
	}

	b := newBuilder(u.Class, code)
	dead := b.label()
	fresh := -1
	var out []disasm.Inst
	for i, in := range code.Insts {
		if chosen[i] {
			x := intLocal(res.In[i].Locals, rng)
			if x < 0 {
				if fresh < 0 {
					fresh = res.MaxLocals
				}
				x = fresh
			}
			b.insts = b.insts[:0]
			b.predicate(rng.IntN(predKinds), x, dead)
			out = append(out, b.insts...)
		}
		out = append(out, in)
	}
	if fresh >= 0 {
		b.insts = b.insts[:0]
		b.int(rng.Int32())
		b.store(disasm.TypeInt, fresh)
		out = append(append([]disasm.Inst(nil), b.insts...), out...)
	}
	b.insts = b.insts[:0]
	b.mark(dead)
	b.typ(disasm.New, "java/lang/IllegalStateException")
	b.op(disasm.Dup)
	b.invoke(disasm.Invokespecial, "java/lang/IllegalStateException", "<init>", "()V")
	b.op(disasm.Athrow)
	out = append(out, b.insts...)

	code.Insts = out
	code.Dirty = true
	if _, err := verify.Analyze(u.Class, m, ctx.Hierarchy); err != nil {
		return false, decline("result does not verify: %v", err)
	}
	return true, nil
}

// predicate appends a test on int local x that branches to dead exactly
// when the invariant fails, which it never does.
func (b *builder) predicate(kind, x int, dead disasm.Label) {
	switch kind {
	case predConsecutive:
		b.load(disasm.TypeInt, x)
		b.load(disasm.TypeInt, x)
		b.op(disasm.Iconst1, disasm.Iadd, disasm.Imul, disasm.Iconst1, disasm.Iand)
		b.jump(disasm.Ifne, dead)
	case predSquare:
		b.load(disasm.TypeInt, x)
		b.load(disasm.TypeInt, x)
		b.op(disasm.Imul, disasm.Iconst3, disasm.Iand, disasm.Iconst2)
		b.jump(disasm.IfIcmpge, dead)
	default:
		b.load(disasm.TypeInt, x)
		b.op(disasm.Iconst1, disasm.Ior)
		b.jump(disasm.Ifeq, dead)
	}
}

// intLocal picks a slot holding an int, or -1.
func intLocal(locals []verify.Type, rng *rand.Rand) int {
	var slots []int
	for i, t := range locals {
		if t.Tag == verify.Integer {
			slots = append(slots, i)
		}
	}
	if len(slots) == 0 {
		return -1
	}
	return slots[rng.IntN(len(slots))]
}

func hasUninit(ts []verify.Type) bool {
	for _, t := range ts {
		if t.Tag == verify.Uninitialized || t.Tag == verify.UninitializedThis {
			return true
		}
	}
	return false
}
