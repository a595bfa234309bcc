package verify

import (
	"errors"
	"fmt"
	"slices"

	"classmorph/internal/classfile"
	"classmorph/internal/disasm"
)

// ErrSubroutine is returned for methods using jsr/ret.
var ErrSubroutine = errors.New("verify: jsr/ret subroutines are not supported")

// Error reports an instruction whose operands do not type-check.
type Error struct {
	Index int
	Inst  string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("verify: inst %d (%s): %s", e.Index, e.Inst, e.Msg)
}

// Result is the outcome of Analyze. In[i] is the state before instruction
// i, nil when i is unreachable.
type Result struct {
	In        []*State
	MaxStack  int
	MaxLocals int
	// Fallback is set when a merge had to assume java/lang/Object because
	// the hierarchy was incomplete.
	Fallback bool
}

// Reachable reports whether instruction i is reachable.
func (r *Result) Reachable(i int) bool { return r.In[i] != nil }

type handler struct {
	start, end, target int
	catch              Type
}

type analyzer struct {
	c      *classfile.Class
	insts  []disasm.Inst
	h      Hierarchy
	owner  string
	labels map[disasm.Label]int

	handlers []handler
	res      *Result
	queued   []bool
	work     []int
}

// Entry returns the state on method entry: the receiver followed by the
// arguments, padded with Top to locals slots.
func Entry(c *classfile.Class, m *classfile.Method, locals int) (*State, error) {
	desc, err := classfile.ParseMethodDesc(c.DescOf(&m.Member))
	if err != nil {
		return nil, err
	}
	var ls []Type
	if m.Access&classfile.AccStatic == 0 {
		if c.NameOf(&m.Member) == "<init>" && c.Name() != "java/lang/Object" {
			ls = append(ls, Type{Tag: UninitializedThis})
		} else {
			ls = append(ls, Ref(c.Name()))
		}
	}
	for _, a := range desc.Args {
		t := FromDesc(a)
		ls = append(ls, t)
		if t.Size() == 2 {
			ls = append(ls, TopType)
		}
	}
	for len(ls) < locals {
		ls = append(ls, TopType)
	}
	return &State{Locals: ls}, nil
}

// Analyze computes the type state before every instruction of m's code.
func Analyze(c *classfile.Class, m *classfile.Method, h Hierarchy) (*Result, error) {
	code := m.Code
	if code == nil {
		return nil, errors.New("verify: method has no code")
	}
	if code.HasJsr() {
		return nil, ErrSubroutine
	}
	a := &analyzer{
		c:      c,
		insts:  code.Insts,
		h:      h,
		owner:  c.Name(),
		labels: make(map[disasm.Label]int),
		res:    &Result{In: make([]*State, len(code.Insts))},
		queued: make([]bool, len(code.Insts)),
	}
	for i, in := range a.insts {
		if in.IsLabel() {
			a.labels[in.Label] = i
		}
	}
	for _, hd := range code.Handlers {
		s, ok1 := a.labels[hd.Start]
		e, ok2 := a.labels[hd.End]
		t, ok3 := a.labels[hd.Target]
		if !ok1 || !ok2 || !ok3 {
			return nil, errors.New("verify: handler refers to an unknown label")
		}
		catch := ThrowableTy
		if hd.CatchType != 0 {
			name, err := c.Pool.ClassName(hd.CatchType)
			if err != nil {
				return nil, err
			}
			catch = Ref(name)
		}
		a.handlers = append(a.handlers, handler{start: s, end: e, target: t, catch: catch})
	}

	locals := MaxLocals(c, m)
	a.res.MaxLocals = locals
	entry, err := Entry(c, m, locals)
	if err != nil {
		return nil, err
	}
	if len(a.insts) == 0 {
		return nil, errors.New("verify: empty code")
	}
	a.res.In[0] = entry
	a.push(0)
	for len(a.work) > 0 {
		i := a.work[0]
		a.work = a.work[1:]
		a.queued[i] = false
		if err := a.step(i); err != nil {
			return nil, err
		}
	}
	return a.res, nil
}

// MaxLocals returns the locals size m needs: argument slots or the highest
// slot an instruction touches, whichever is larger.
func MaxLocals(c *classfile.Class, m *classfile.Method) int {
	n := 0
	if desc, err := classfile.ParseMethodDesc(c.DescOf(&m.Member)); err == nil {
		n = desc.ArgSlots()
	}
	if m.Access&classfile.AccStatic == 0 {
		n++
	}
	if m.Code == nil {
		return n
	}
	for _, in := range m.Code.Insts {
		var top int
		switch in.Kind {
		case disasm.KindLoad, disasm.KindStore:
			top = in.Index + disasm.LocalType(in.Op).Size()
		case disasm.KindIinc:
			top = in.Index + 1
		default:
			continue
		}
		n = max(n, top)
	}
	return n
}

func (a *analyzer) push(i int) {
	if !a.queued[i] {
		a.queued[i] = true
		a.work = append(a.work, i)
	}
}

func (a *analyzer) fail(i int, format string, args ...any) error {
	return &Error{Index: i, Inst: disasm.Text(a.insts[i], nil), Msg: fmt.Sprintf(format, args...)}
}

// flow merges s into the state before instruction j.
func (a *analyzer) flow(from, j int, s *State) error {
	if j >= len(a.insts) {
		return a.fail(from, "control falls off the end of the code")
	}
	cur := a.res.In[j]
	if cur == nil {
		a.res.In[j] = s.clone()
		a.push(j)
		return nil
	}
	if len(cur.Stack) != len(s.Stack) {
		return a.fail(from, "stack height %d meets %d at inst %d", len(s.Stack), len(cur.Stack), j)
	}
	merged := &State{Locals: make([]Type, len(cur.Locals)), Stack: make([]Type, len(cur.Stack))}
	for k := range cur.Locals {
		merged.Locals[k] = a.merge(cur.Locals[k], s.Locals[k])
	}
	for k := range cur.Stack {
		t := a.merge(cur.Stack[k], s.Stack[k])
		if t.Tag == Top {
			return a.fail(from, "stack slot %d holds %s and %s at inst %d", k, cur.Stack[k], s.Stack[k], j)
		}
		merged.Stack[k] = t
	}
	if !merged.equal(cur) {
		a.res.In[j] = merged
		a.push(j)
	}
	return nil
}

func (a *analyzer) merge(x, y Type) Type {
	if x == y {
		return x
	}
	if x.Tag == Null && y.Tag == Object {
		return y
	}
	if y.Tag == Null && x.Tag == Object {
		return x
	}
	if x.Tag == Object && y.Tag == Object {
		return Ref(a.common(x.Name, y.Name))
	}
	return TopType
}

func isRefDesc(d string) bool { return d[0] == 'L' || d[0] == '[' }

func refName(d string) string {
	if d[0] == 'L' {
		return d[1 : len(d)-1]
	}
	return d
}

func (a *analyzer) common(x, y string) string {
	if x == y {
		return x
	}
	xa, ya := x[0] == '[', y[0] == '['
	switch {
	case xa && ya:
		ex, ey := x[1:], y[1:]
		if isRefDesc(ex) && isRefDesc(ey) {
			return "[" + Desc(a.common(refName(ex), refName(ey)))
		}
		return "java/lang/Object"
	case xa || ya:
		return "java/lang/Object"
	}
	name, ok := CommonSuperclass(a.h, x, y)
	if !ok {
		a.res.Fallback = true
	}
	return name
}

func (a *analyzer) step(i int) error {
	in := a.insts[i]
	s := a.res.In[i].clone()

	if !in.IsLabel() {
		for _, hd := range a.handlers {
			if i >= hd.start && i < hd.end {
				if err := a.flow(i, hd.target, &State{Locals: s.Locals, Stack: []Type{hd.catch}}); err != nil {
					return err
				}
			}
		}
	}

	fr := frame{a: a, i: i, s: s, peak: s.Depth()}
	succ, err := fr.exec(in)
	if err != nil {
		return err
	}
	a.res.MaxStack = max(a.res.MaxStack, fr.peak)
	for _, j := range succ {
		if err := a.flow(i, j, s); err != nil {
			return err
		}
	}
	return nil
}

// frame executes one instruction against a state.
type frame struct {
	a    *analyzer
	i    int
	s    *State
	peak int
	err  error
}

func (f *frame) failf(format string, args ...any) {
	if f.err == nil {
		f.err = f.a.fail(f.i, format, args...)
	}
}

func (f *frame) push(ts ...Type) {
	f.s.Stack = append(f.s.Stack, ts...)
	if d := f.s.Depth(); d > f.peak {
		f.peak = d
	}
}

func (f *frame) pop() Type {
	n := len(f.s.Stack)
	if n == 0 {
		f.failf("stack underflow")
		return TopType
	}
	t := f.s.Stack[n-1]
	f.s.Stack = f.s.Stack[:n-1]
	return t
}

// popWords pops values covering exactly n slots, top last in the result.
func (f *frame) popWords(n int) []Type {
	var out []Type
	for n > 0 {
		t := f.pop()
		if f.err != nil {
			return nil
		}
		if t.Size() > n {
			f.failf("operation splits a %s", t)
			return nil
		}
		n -= t.Size()
		out = append(out, t)
	}
	slices.Reverse(out)
	return out
}

func (f *frame) popExpect(tag Tag) Type {
	t := f.pop()
	if f.err == nil && t.Tag != tag {
		f.failf("expected %s, found %s", Type{Tag: tag}, t)
	}
	return t
}

func (f *frame) popRef() Type {
	t := f.pop()
	if f.err == nil && !t.IsRef() {
		f.failf("expected a reference, found %s", t)
	}
	return t
}

func (f *frame) popValue(desc string) {
	t := FromDesc(desc)
	if t.Tag == Object {
		f.popRef()
		return
	}
	f.popExpect(t.Tag)
}

func (f *frame) pushDesc(desc string) {
	if desc != "V" {
		f.push(FromDesc(desc))
	}
}

func primitive(t disasm.ValueType) Type {
	switch t {
	case disasm.TypeInt:
		return IntType
	case disasm.TypeLong:
		return LongType
	case disasm.TypeFloat:
		return FloatType
	case disasm.TypeDouble:
		return DoubleType
	}
	return TopType
}

func (f *frame) local(slot int) Type {
	if slot >= len(f.s.Locals) {
		f.failf("local %d out of range", slot)
		return TopType
	}
	return f.s.Locals[slot]
}

func (f *frame) setLocal(slot int, t Type) {
	ls := f.s.Locals
	if slot+t.Size() > len(ls) {
		f.failf("local %d out of range", slot)
		return
	}
	if slot > 0 && ls[slot-1].Size() == 2 {
		ls[slot-1] = TopType
	}
	ls[slot] = t
	if t.Size() == 2 {
		ls[slot+1] = TopType
	}
}

func (f *frame) replace(from, to Type) {
	for k, t := range f.s.Locals {
		if t == from {
			f.s.Locals[k] = to
		}
	}
	for k, t := range f.s.Stack {
		if t == from {
			f.s.Stack[k] = to
		}
	}
}

// exec applies in to the state and returns the successor indices.
func (f *frame) exec(in disasm.Inst) ([]int, error) {
	next := []int{f.i + 1}
	p := f.a.c.Pool
	op := in.Op

	switch in.Kind {
	case disasm.KindLabel, disasm.KindNop:
	case disasm.KindConst:
		switch {
		case op == disasm.AconstNull:
			f.push(NullType)
		case op >= disasm.Lconst0 && op <= disasm.Lconst1:
			f.push(LongType)
		case op >= disasm.Fconst0 && op <= disasm.Fconst2:
			f.push(FloatType)
		case op >= disasm.Dconst0 && op <= disasm.Dconst1:
			f.push(DoubleType)
		default:
			f.push(IntType)
		}
	case disasm.KindLdc:
		e, err := p.At(in.Index)
		if err != nil {
			return nil, f.a.fail(f.i, "%v", err)
		}
		switch e.Tag {
		case classfile.TagInteger:
			f.push(IntType)
		case classfile.TagFloat:
			f.push(FloatType)
		case classfile.TagLong:
			f.push(LongType)
		case classfile.TagDouble:
			f.push(DoubleType)
		case classfile.TagString:
			f.push(StringType)
		case classfile.TagClass:
			f.push(Ref("java/lang/Class"))
		case classfile.TagMethodType:
			f.push(Ref("java/lang/invoke/MethodType"))
		case classfile.TagMethodHandle:
			f.push(Ref("java/lang/invoke/MethodHandle"))
		case classfile.TagDynamic:
			_, desc, err := p.NameAndType(int(e.B))
			if err != nil {
				return nil, f.a.fail(f.i, "%v", err)
			}
			f.pushDesc(desc)
		default:
			f.failf("ldc of %s", e.Tag)
		}
	case disasm.KindLoad:
		vt := disasm.LocalType(op)
		t := f.local(in.Index)
		if vt == disasm.TypeRef {
			if f.err == nil && !t.IsRef() {
				f.failf("local %d holds %s, not a reference", in.Index, t)
			}
		} else if f.err == nil && t != primitive(vt) {
			f.failf("local %d holds %s, not %s", in.Index, t, vt)
		}
		f.push(t)
	case disasm.KindStore:
		vt := disasm.LocalType(op)
		var t Type
		if vt == disasm.TypeRef {
			t = f.popRef()
		} else {
			t = f.popExpect(primitive(vt).Tag)
		}
		f.setLocal(in.Index, t)
	case disasm.KindArrayLoad:
		f.popExpect(Integer)
		arr := f.popRef()
		switch op {
		case disasm.Laload:
			f.push(LongType)
		case disasm.Faload:
			f.push(FloatType)
		case disasm.Daload:
			f.push(DoubleType)
		case disasm.Aaload:
			switch {
			case arr.IsArray():
				f.push(FromDesc(arr.Name[1:]))
			case arr.Tag == Null:
				f.push(NullType)
			default:
				f.push(ObjectType)
			}
		default:
			f.push(IntType)
		}
	case disasm.KindArrayStore:
		switch op {
		case disasm.Lastore:
			f.popExpect(Long)
		case disasm.Fastore:
			f.popExpect(Float)
		case disasm.Dastore:
			f.popExpect(Double)
		case disasm.Aastore:
			f.popRef()
		default:
			f.popExpect(Integer)
		}
		f.popExpect(Integer)
		f.popRef()
	case disasm.KindStack:
		f.stack(op)
	case disasm.KindArith:
		f.arith(op)
	case disasm.KindIinc:
		if t := f.local(in.Index); f.err == nil && t.Tag != Integer {
			f.failf("iinc on %s", t)
		}
	case disasm.KindConvert:
		f.convert(op)
	case disasm.KindCompare:
		switch op {
		case disasm.Lcmp:
			f.popExpect(Long)
			f.popExpect(Long)
		case disasm.Fcmpl, disasm.Fcmpg:
			f.popExpect(Float)
			f.popExpect(Float)
		default:
			f.popExpect(Double)
			f.popExpect(Double)
		}
		f.push(IntType)
	case disasm.KindBranch:
		switch {
		case op >= disasm.Ifeq && op <= disasm.Ifle:
			f.popExpect(Integer)
		case op >= disasm.IfIcmpeq && op <= disasm.IfIcmple:
			f.popExpect(Integer)
			f.popExpect(Integer)
		case op == disasm.IfAcmpeq || op == disasm.IfAcmpne:
			f.popRef()
			f.popRef()
		case op == disasm.Ifnull || op == disasm.Ifnonnull:
			f.popRef()
		}
		t, err := f.target(in.Label)
		if err != nil {
			return nil, err
		}
		if op.IsGoto() {
			next = []int{t}
		} else {
			next = append(next, t)
		}
	case disasm.KindJsr:
		return nil, ErrSubroutine
	case disasm.KindSwitch:
		f.popExpect(Integer)
		next = next[:0]
		for _, l := range append([]disasm.Label{in.Switch.Default}, in.Switch.Targets...) {
			t, err := f.target(l)
			if err != nil {
				return nil, err
			}
			if !slices.Contains(next, t) {
				next = append(next, t)
			}
		}
	case disasm.KindReturn:
		switch op {
		case disasm.Return:
		case disasm.Areturn:
			f.popRef()
		default:
			f.popExpect(arithTypes[op-disasm.Ireturn].Tag)
		}
		next = nil
	case disasm.KindField:
		_, _, desc, err := p.Member(in.Index)
		if err != nil {
			return nil, f.a.fail(f.i, "%v", err)
		}
		switch op {
		case disasm.Getstatic:
			f.pushDesc(desc)
		case disasm.Putstatic:
			f.popValue(desc)
		case disasm.Getfield:
			f.popRef()
			f.pushDesc(desc)
		case disasm.Putfield:
			f.popValue(desc)
			f.popRef()
		}
	case disasm.KindInvoke:
		_, name, desc, err := p.Member(in.Index)
		if err != nil {
			return nil, f.a.fail(f.i, "%v", err)
		}
		md, err := classfile.ParseMethodDesc(desc)
		if err != nil {
			return nil, f.a.fail(f.i, "%v", err)
		}
		for k := len(md.Args) - 1; k >= 0; k-- {
			f.popValue(md.Args[k])
		}
		if op != disasm.Invokestatic {
			recv := f.popRef()
			if op == disasm.Invokespecial && name == "<init>" {
				switch recv.Tag {
				case UninitializedThis:
					f.replace(recv, Ref(f.a.owner))
				case Uninitialized:
					cls, err := p.ClassName(f.a.insts[recv.New].Index)
					if err != nil {
						return nil, f.a.fail(f.i, "%v", err)
					}
					f.replace(recv, Ref(cls))
				default:
					f.failf("<init> on initialized %s", recv)
				}
			}
		}
		f.pushDesc(md.Ret)
	case disasm.KindInvokeDynamic:
		e, err := p.At(in.Index)
		if err != nil {
			return nil, f.a.fail(f.i, "%v", err)
		}
		_, desc, err := p.NameAndType(int(e.B))
		if err != nil {
			return nil, f.a.fail(f.i, "%v", err)
		}
		md, err := classfile.ParseMethodDesc(desc)
		if err != nil {
			return nil, f.a.fail(f.i, "%v", err)
		}
		for k := len(md.Args) - 1; k >= 0; k-- {
			f.popValue(md.Args[k])
		}
		f.pushDesc(md.Ret)
	case disasm.KindNew:
		f.push(Type{Tag: Uninitialized, New: f.i})
	case disasm.KindNewArray:
		switch op {
		case disasm.Newarray:
			f.popExpect(Integer)
			f.push(Ref(disasm.ArrayDescriptor(in.Value)))
		case disasm.Anewarray:
			f.popExpect(Integer)
			cls, err := p.ClassName(in.Index)
			if err != nil {
				return nil, f.a.fail(f.i, "%v", err)
			}
			f.push(Ref("[" + Desc(cls)))
		default:
			for k := int32(0); k < in.Value; k++ {
				f.popExpect(Integer)
			}
			cls, err := p.ClassName(in.Index)
			if err != nil {
				return nil, f.a.fail(f.i, "%v", err)
			}
			f.push(Ref(cls))
		}
	case disasm.KindArrayLength:
		f.popRef()
		f.push(IntType)
	case disasm.KindThrow:
		f.popRef()
		next = nil
	case disasm.KindType:
		f.popRef()
		if op == disasm.Instanceof {
			f.push(IntType)
			break
		}
		cls, err := p.ClassName(in.Index)
		if err != nil {
			return nil, f.a.fail(f.i, "%v", err)
		}
		f.push(Ref(cls))
	case disasm.KindMonitor:
		f.popRef()
	default:
		f.failf("unsupported instruction")
	}
	if f.err != nil {
		return nil, f.err
	}
	return next, nil
}

func (f *frame) target(l disasm.Label) (int, error) {
	j, ok := f.a.labels[l]
	if !ok {
		return 0, f.a.fail(f.i, "unknown label L%d", l)
	}
	return j, nil
}

func (f *frame) stack(op disasm.Opcode) {
	switch op {
	case disasm.Pop:
		f.popWords(1)
	case disasm.Pop2:
		f.popWords(2)
	case disasm.Dup:
		v := f.popWords(1)
		f.push(v...)
		f.push(v...)
	case disasm.DupX1:
		f.dupUnder(1, 1)
	case disasm.DupX2:
		f.dupUnder(1, 2)
	case disasm.Dup2:
		v := f.popWords(2)
		f.push(v...)
		f.push(v...)
	case disasm.Dup2X1:
		f.dupUnder(2, 1)
	case disasm.Dup2X2:
		f.dupUnder(2, 2)
	case disasm.Swap:
		v := f.popWords(1)
		w := f.popWords(1)
		f.push(v...)
		f.push(w...)
	}
}

// dupUnder copies the top n words below the m words beneath them.
func (f *frame) dupUnder(n, m int) {
	v := f.popWords(n)
	w := f.popWords(m)
	f.push(v...)
	f.push(w...)
	f.push(v...)
}

var arithTypes = [4]Type{IntType, LongType, FloatType, DoubleType}

func (f *frame) arith(op disasm.Opcode) {
	switch {
	case op >= disasm.Ineg && op <= disasm.Dneg:
		t := arithTypes[op-disasm.Ineg]
		f.popExpect(t.Tag)
		f.push(t)
	case op >= disasm.Iadd && op < disasm.Ineg:
		t := arithTypes[(op-disasm.Iadd)%4]
		f.popExpect(t.Tag)
		f.popExpect(t.Tag)
		f.push(t)
	case op >= disasm.Ishl && op <= disasm.Lushr:
		t := arithTypes[(op-disasm.Ishl)%2]
		f.popExpect(Integer)
		f.popExpect(t.Tag)
		f.push(t)
	default:
		t := arithTypes[(op-disasm.Iand)%2]
		f.popExpect(t.Tag)
		f.popExpect(t.Tag)
		f.push(t)
	}
}

func (f *frame) convert(op disasm.Opcode) {
	var from, to Type
	switch op {
	case disasm.I2l:
		from, to = IntType, LongType
	case disasm.I2f:
		from, to = IntType, FloatType
	case disasm.I2d:
		from, to = IntType, DoubleType
	case disasm.L2i:
		from, to = LongType, IntType
	case disasm.L2f:
		from, to = LongType, FloatType
	case disasm.L2d:
		from, to = LongType, DoubleType
	case disasm.F2i:
		from, to = FloatType, IntType
	case disasm.F2l:
		from, to = FloatType, LongType
	case disasm.F2d:
		from, to = FloatType, DoubleType
	case disasm.D2i:
		from, to = DoubleType, IntType
	case disasm.D2l:
		from, to = DoubleType, LongType
	case disasm.D2f:
		from, to = DoubleType, FloatType
	default:
		from, to = IntType, IntType
	}
	f.popExpect(from.Tag)
	f.push(to)
}

// FrameStarts returns the instructions a stack map frame must describe:
// branch and handler targets and whatever follows an unconditional
// transfer. Label pseudo-instructions resolve to the next real one.
func FrameStarts(code *classfile.Code) []int {
	idx := make(map[disasm.Label]int)
	for i, in := range code.Insts {
		if in.IsLabel() {
			idx[in.Label] = i
		}
	}
	real := func(i int) int {
		for i < len(code.Insts) && code.Insts[i].IsLabel() {
			i++
		}
		return i
	}
	seen := make(map[int]bool)
	var out []int
	add := func(i int) {
		if i = real(i); i < len(code.Insts) && !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	for i, in := range code.Insts {
		for _, l := range in.Targets() {
			if j, ok := idx[l]; ok {
				add(j)
			}
		}
		if in.EndsBlock() {
			add(i + 1)
		}
	}
	for _, h := range code.Handlers {
		if j, ok := idx[h.Target]; ok {
			add(j)
		}
	}
	slices.Sort(out)
	return out
}
