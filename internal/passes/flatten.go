package passes

import (
	"math/rand/v2"
	"slices"
	"sort"

	"classmorph/internal/classfile"
	"classmorph/internal/disasm"
	"classmorph/internal/verify"
)

// Flatten routes control flow through a dispatcher. Every normal edge into
// a block entered with an empty operand stack becomes a store of the
// target's masked key to a state local followed by a jump to a lookupswitch
// over the unmasked state. Exception edges and edges into blocks that carry
// operands stay direct.
//
// Merging every path at the dispatcher would lose local types, so the
// method is first normalized: a slot used with more than one value type is
// split, every local is zeroed on entry, and each reference load is cast
// back to the type it had before flattening.
type Flatten struct{}

func (Flatten) String() string         { return "flatten" }
func (Flatten) Skip(ctx *Context) bool { return !ctx.Config.FlattenControlFlow }

func (Flatten) Run(ctx *Context) error {
	return ctx.eachUnit("flatten", func(u unit) error {
		changed := false
		err := ctx.eachMethod("flatten", u, func(m *classfile.Method) error {
			ok, err := flattenMethod(ctx, u, m)
			changed = changed || ok
			return err
		})
		if changed {
			ctx.touch(u.name)
		}
		return err
	})
}

type slotKey struct {
	slot int
	t    disasm.ValueType
}

type flattener struct {
	c     *classfile.Class
	m     *classfile.Method
	code  *classfile.Code
	res   *verify.Result
	cfg   *disasm.FuncCFG
	slots map[slotKey]int
	// params is the number of slots holding the receiver and arguments.
	params int
	next   int
}

func flattenMethod(ctx *Context, u unit, m *classfile.Method) (bool, error) {
	code := m.Code
	if u.NameOf(&m.Member) == "<init>" {
		return false, decline("constructor")
	}
	if code.HasJsr() {
		return false, decline("subroutines")
	}
	res, err := verify.Analyze(u.Class, m, ctx.Hierarchy)
	if err != nil {
		return false, decline("analysis: %v", err)
	}
	cfg, err := disasm.BuildCFG(methodKey(u.Class, m), code.Insts, code.Handlers)
	if err != nil {
		return false, decline("control flow: %v", err)
	}
	f := &flattener{c: u.Class, m: m, code: code, res: res, cfg: cfg}

	routed := make(map[int]bool)
	for _, b := range cfg.Blocks {
		if b.Handler {
			continue
		}
		st := f.entryState(b)
		if st == nil || len(st.Stack) > 0 {
			continue
		}
		if hasUninit(st.Locals) {
			return false, decline("uninitialized value live at block %d", b.ID)
		}
		routed[b.ID] = true
	}
	if len(routed) < 2 || !routed[0] {
		return false, nil
	}
	if err := f.splitSlots(); err != nil {
		return false, err
	}

	seed := ctx.Index.MethodSeed(u.name, u.NameOf(&m.Member), u.DescOf(&m.Member))
	rng := rand.New(rand.NewPCG(seed, 0x666c617474656e))
	mask := int32(rng.Uint32())
	keys := make(map[int]int32, len(routed))
	used := make(map[int32]bool, len(routed))
	for _, b := range cfg.Blocks {
		if !routed[b.ID] {
			continue
		}
		k := int32(rng.Uint32())
		for used[k] {
			k = int32(rng.Uint32())
		}
		used[k] = true
		keys[b.ID] = k
	}

	for _, b := range cfg.Blocks {
		b.Insts = f.rewrite(b)
	}
	cfg.EnsureLabels(code)

	state := f.next
	pool := u.Pool
	dispatch := code.NewLabel()
	set := func(id int) []disasm.Inst {
		return []disasm.Inst{pushInt(pool, keys[id]^mask), disasm.Store(disasm.TypeInt, state)}
	}
	jump := func(id int) []disasm.Inst { return append(set(id), disasm.Jump(disasm.Goto, dispatch)) }

	labelBlock := make(map[disasm.Label]int)
	for _, b := range cfg.Blocks {
		for _, in := range b.Insts {
			if in.IsLabel() {
				labelBlock[in.Label] = b.ID
			}
		}
	}
	tramps := make(map[int]disasm.Label)
	var trampOrder []int
	retarget := func(l disasm.Label) disasm.Label {
		id, ok := labelBlock[l]
		if !ok || !routed[id] {
			return l
		}
		t, ok := tramps[id]
		if !ok {
			t = code.NewLabel()
			tramps[id] = t
			trampOrder = append(trampOrder, id)
		}
		return t
	}

	original := len(cfg.Blocks)
	for id := 0; id < original; id++ {
		b := cfg.Blocks[id]
		n := len(b.Insts) - 1
		last := b.Insts[n]
		switch {
		case last.Kind == disasm.KindBranch && last.Op.IsGoto():
			if target, ok := labelBlock[last.Label]; ok && routed[target] {
				b.Insts = append(b.Insts[:n], jump(target)...)
			}
		case last.Kind == disasm.KindBranch:
			b.Insts[n].Label = retarget(last.Label)
		case last.Kind == disasm.KindSwitch:
			sw := *last.Switch
			sw.Default = retarget(sw.Default)
			sw.Targets = slices.Clone(sw.Targets)
			for i, t := range sw.Targets {
				sw.Targets[i] = retarget(t)
			}
			b.Insts[n].Switch = &sw
		}
		if b.Fall >= 0 && routed[b.Fall] {
			b.Insts = append(b.Insts, jump(b.Fall)...)
			b.Fall = -1
		}
	}

	// The prologue zeroes locals and selects the entry block, then falls
	// into the dispatcher.
	pro := f.zeroes(pool)
	pro = append(pro, set(0)...)

	ids := make([]int, 0, len(keys))
	for id := range keys {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return keys[ids[i]] < keys[ids[j]] })
	sw := &disasm.Switch{Default: cfg.HeadLabel(0)}
	for _, id := range ids {
		sw.Keys = append(sw.Keys, keys[id])
		sw.Targets = append(sw.Targets, cfg.HeadLabel(id))
	}
	disp := []disasm.Inst{
		disasm.Mark(dispatch),
		disasm.Load(disasm.TypeInt, state),
		pushInt(pool, mask),
		disasm.Op0(disasm.Ixor),
		{Op: disasm.Lookupswitch, Kind: disasm.KindSwitch, Label: disasm.NoLabel, Switch: sw, Offset: -1},
	}
	dispBlock := cfg.AddBlock(disp, -1)
	proBlock := cfg.AddBlock(pro, dispBlock.ID)

	order := []int{proBlock.ID, dispBlock.ID}
	for id := 0; id < original; id++ {
		order = append(order, id)
	}
	for _, id := range trampOrder {
		t := cfg.AddBlock(append([]disasm.Inst{disasm.Mark(tramps[id])}, jump(id)...), -1)
		order = append(order, t.ID)
	}

	code.Insts, code.Handlers = disasm.Linearize(cfg, order, code)
	f.remapLocals()
	code.Dirty = true
	if _, err := verify.Analyze(u.Class, m, ctx.Hierarchy); err != nil {
		return false, decline("result does not verify: %v", err)
	}
	return true, nil
}

// entryState returns the analysed state at the first instruction of b, or
// nil when b is unreachable.
func (f *flattener) entryState(b *disasm.BasicBlock) *verify.State {
	for i := b.Start; i < b.End; i++ {
		if !f.cfg.Insts[i].IsLabel() {
			return f.res.In[i]
		}
	}
	return nil
}

// splitSlots gives every (slot, value type) pair its own slot. The receiver
// and arguments keep theirs.
func (f *flattener) splitSlots() error {
	entry, err := verify.Entry(f.c, f.m, 0)
	if err != nil {
		return decline("descriptor: %v", err)
	}
	f.slots = make(map[slotKey]int)
	for i, t := range entry.Locals {
		if vt, ok := valueType(t); ok {
			f.slots[slotKey{i, vt}] = i
		}
	}
	f.params = len(entry.Locals)
	f.next = f.params
	for _, in := range f.code.Insts {
		switch in.Kind {
		case disasm.KindLoad, disasm.KindStore, disasm.KindIinc:
			f.slot(slotKey{in.Index, disasm.LocalType(in.Op)})
		}
	}
	if f.next+1 > 0xffff {
		return decline("too many locals")
	}
	return nil
}

func (f *flattener) slot(k slotKey) int {
	if s, ok := f.slots[k]; ok {
		return s
	}
	s := f.next
	f.slots[k] = s
	f.next++
	if k.t == disasm.TypeLong || k.t == disasm.TypeDouble {
		f.next++
	}
	return s
}

// rewrite renumbers the locals of b and casts reference loads.
func (f *flattener) rewrite(b *disasm.BasicBlock) []disasm.Inst {
	if b.Start < 0 {
		return b.Insts
	}
	out := make([]disasm.Inst, 0, len(b.Insts))
	for k, in := range b.Insts {
		i := b.Start + k
		switch in.Kind {
		case disasm.KindLoad, disasm.KindStore, disasm.KindIinc:
		default:
			out = append(out, in)
			continue
		}
		vt := disasm.LocalType(in.Op)
		nin := disasm.WithSlot(in, f.slots[slotKey{in.Index, vt}])
		st := f.res.In[i]
		if in.Kind != disasm.KindLoad || vt != disasm.TypeRef || st == nil || in.Index >= len(st.Locals) {
			out = append(out, nin)
			continue
		}
		switch t := st.Locals[in.Index]; {
		case t.Tag == verify.Null:
			out = append(out, disasm.Op0(disasm.AconstNull))
		case t.Tag == verify.Object && t.Name != "java/lang/Object":
			out = append(out, nin, disasm.PoolOp(disasm.Checkcast, f.c.Pool.AddClass(t.Name)))
		default:
			out = append(out, nin)
		}
	}
	return out
}

// zeroes returns the stores zeroing every split slot, by slot.
func (f *flattener) zeroes(pool *classfile.Pool) []disasm.Inst {
	keys := make([]slotKey, 0, len(f.slots))
	for k, s := range f.slots {
		if s >= f.params {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return f.slots[keys[i]] < f.slots[keys[j]] })
	var out []disasm.Inst
	for _, k := range keys {
		out = append(out, zero(pool, k.t), disasm.Store(k.t, f.slots[k]))
	}
	return out
}

// remapLocals renumbers debug variable entries. Entries whose slot and
// type no instruction uses are dropped.
func (f *flattener) remapLocals() {
	remap := func(vs []classfile.LocalVar) []classfile.LocalVar {
		out := vs[:0]
		for _, v := range vs {
			s, ok := f.slots[slotKey{int(v.Slot), descValueType(f.c.Utf8(v.Desc))}]
			if !ok {
				continue
			}
			v.Slot = uint16(s)
			out = append(out, v)
		}
		return out
	}
	f.code.Locals = remap(f.code.Locals)
	f.code.LocalTypes = remap(f.code.LocalTypes)
}

func valueType(t verify.Type) (disasm.ValueType, bool) {
	switch t.Tag {
	case verify.Integer:
		return disasm.TypeInt, true
	case verify.Float:
		return disasm.TypeFloat, true
	case verify.Long:
		return disasm.TypeLong, true
	case verify.Double:
		return disasm.TypeDouble, true
	case verify.Object, verify.Null, verify.UninitializedThis:
		return disasm.TypeRef, true
	}
	return disasm.TypeVoid, false
}

// descValueType returns the local value type of a field descriptor or
// generic signature.
func descValueType(d string) disasm.ValueType {
	if d == "" {
		return disasm.TypeRef
	}
	switch d[0] {
	case 'B', 'C', 'I', 'S', 'Z':
		return disasm.TypeInt
	case 'J':
		return disasm.TypeLong
	case 'F':
		return disasm.TypeFloat
	case 'D':
		return disasm.TypeDouble
	}
	return disasm.TypeRef
}

func zero(pool *classfile.Pool, t disasm.ValueType) disasm.Inst {
	switch t {
	case disasm.TypeLong:
		return disasm.Op0(disasm.Lconst0)
	case disasm.TypeFloat:
		return disasm.Op0(disasm.Fconst0)
	case disasm.TypeDouble:
		return disasm.Op0(disasm.Dconst0)
	case disasm.TypeRef:
		return disasm.Op0(disasm.AconstNull)
	}
	return pushInt(pool, 0)
}
