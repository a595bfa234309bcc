package jvmsim

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"classmorph/internal/classfile"
	"classmorph/internal/disasm"
)

type frame struct {
	vm     *VM
	c      *classfile.Class
	code   *classfile.Code
	labels map[disasm.Label]int
	locals []Value
	stack  []Value
}

func wide(v Value) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}

func (vm *VM) call(c *classfile.Class, m *classfile.Method, args []Value) (Value, error) {
	if m.Code == nil {
		return nil, fmt.Errorf("jvmsim: %s.%s has no code", c.Name(), c.NameOf(&m.Member))
	}
	code := m.Code
	n := int(code.MaxLocals)
	for _, in := range code.Insts {
		switch in.Kind {
		case disasm.KindLoad, disasm.KindStore, disasm.KindIinc:
			n = max(n, in.Index+2)
		}
	}
	f := &frame{vm: vm, c: c, code: code, labels: make(map[disasm.Label]int)}
	slots := 0
	for _, a := range args {
		slots++
		if wide(a) {
			slots++
		}
	}
	f.locals = make([]Value, max(n, slots))
	slot := 0
	for _, a := range args {
		f.locals[slot] = a
		slot++
		if wide(a) {
			slot++
		}
	}
	for i, in := range code.Insts {
		if in.IsLabel() {
			f.labels[in.Label] = i
		}
	}
	return f.run()
}

func (f *frame) push(v Value) { f.stack = append(f.stack, v) }

func (f *frame) pop() Value {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *frame) popInt() int32     { return f.pop().(int32) }
func (f *frame) popLong() int64    { return f.pop().(int64) }
func (f *frame) popFloat() float32 { return f.pop().(float32) }
func (f *frame) popDouble() float64 {
	return f.pop().(float64)
}

// entries returns how many stack entries hold the top words slots.
func (f *frame) entries(words int) int {
	n, sum := 0, 0
	for i := len(f.stack) - 1; i >= 0 && sum < words; i-- {
		sum++
		if wide(f.stack[i]) {
			sum++
		}
		n++
	}
	return n
}

// dup copies the entries holding the top n words below the entries
// holding the top n+m words.
func (f *frame) dup(n, m int) {
	top := f.entries(n)
	depth := f.entries(n + m)
	copied := append([]Value(nil), f.stack[len(f.stack)-top:]...)
	at := len(f.stack) - depth
	rest := append([]Value(nil), f.stack[at:]...)
	f.stack = append(append(f.stack[:at], copied...), rest...)
}

func (f *frame) run() (Value, error) {
	insts := f.code.Insts
	pc := 0
	for pc < len(insts) {
		f.vm.steps++
		if f.vm.steps > f.vm.MaxSteps {
			return nil, ErrStepLimit
		}
		next, ret, done, err := f.step(insts[pc], pc)
		if err != nil {
			var t *Thrown
			if !errors.As(err, &t) {
				return nil, err
			}
			h, herr := f.handler(pc, t.Obj)
			if herr != nil {
				return nil, herr
			}
			if h < 0 {
				return nil, err
			}
			f.stack = append(f.stack[:0], t.Obj)
			pc = h
			continue
		}
		if done {
			return ret, nil
		}
		pc = next
	}
	return nil, errors.New("jvmsim: fell off the end of code")
}

func (f *frame) handler(pc int, exc *Object) (int, error) {
	for _, h := range f.code.Handlers {
		if pc < f.labels[h.Start] || pc >= f.labels[h.End] {
			continue
		}
		if h.CatchType != 0 {
			name, err := f.c.Pool.ClassName(h.CatchType)
			if err != nil {
				return -1, err
			}
			if !f.vm.assignable(exc.Class, name) {
				continue
			}
		}
		return f.labels[h.Target], nil
	}
	return -1, nil
}

func (f *frame) jump(l disasm.Label) (int, Value, bool, error) {
	i, ok := f.labels[l]
	if !ok {
		return 0, nil, false, fmt.Errorf("jvmsim: unknown label L%d", l)
	}
	return i, nil, false, nil
}

func (f *frame) branch(cond bool, in disasm.Inst, pc int) (int, Value, bool, error) {
	if cond {
		return f.jump(in.Label)
	}
	return pc + 1, nil, false, nil
}

func (f *frame) step(in disasm.Inst, pc int) (int, Value, bool, error) {
	vm := f.vm
	next := pc + 1
	switch in.Kind {
	case disasm.KindLabel, disasm.KindNop:
	case disasm.KindConst:
		switch op := in.Op; {
		case op == disasm.AconstNull:
			f.push(nil)
		case op >= disasm.IconstM1 && op <= disasm.Iconst5:
			f.push(int32(op) - int32(disasm.Iconst0))
		case op == disasm.Lconst0 || op == disasm.Lconst1:
			f.push(int64(op - disasm.Lconst0))
		case op >= disasm.Fconst0 && op <= disasm.Fconst2:
			f.push(float32(op - disasm.Fconst0))
		case op == disasm.Dconst0 || op == disasm.Dconst1:
			f.push(float64(op - disasm.Dconst0))
		default:
			f.push(in.Value)
		}
	case disasm.KindLdc:
		v, err := vm.constant(f.c, in.Index)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)
	case disasm.KindLoad:
		f.push(f.locals[in.Index])
	case disasm.KindStore:
		f.locals[in.Index] = f.pop()
	case disasm.KindIinc:
		f.locals[in.Index] = f.locals[in.Index].(int32) + in.Value
	case disasm.KindArrayLoad:
		i := f.popInt()
		a, err := f.array(f.pop(), i)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(a.Elems[i])
	case disasm.KindArrayStore:
		v := f.pop()
		i := f.popInt()
		a, err := f.array(f.pop(), i)
		if err != nil {
			return 0, nil, false, err
		}
		switch in.Op {
		case disasm.Bastore:
			if a.Desc == "[Z" {
				v = v.(int32) & 1
			} else {
				v = int32(int8(v.(int32)))
			}
		case disasm.Castore:
			v = int32(uint16(v.(int32)))
		case disasm.Sastore:
			v = int32(int16(v.(int32)))
		case disasm.Aastore:
			if v != nil && !vm.assignable(classOf(v), elemClass(a.Desc)) {
				return 0, nil, false, vm.throw("java/lang/ArrayStoreException", "")
			}
		}
		a.Elems[i] = v
	case disasm.KindStack:
		f.stackOp(in.Op)
	case disasm.KindArith:
		if err := f.arith(in.Op); err != nil {
			return 0, nil, false, err
		}
	case disasm.KindConvert:
		f.convert(in.Op)
	case disasm.KindCompare:
		f.compare(in.Op)
	case disasm.KindBranch:
		return f.cond(in, pc)
	case disasm.KindSwitch:
		k := f.popInt()
		for i, key := range in.Switch.Keys {
			if key == k {
				return f.jump(in.Switch.Targets[i])
			}
		}
		return f.jump(in.Switch.Default)
	case disasm.KindReturn:
		if in.Op == disasm.Return {
			return 0, nil, true, nil
		}
		return 0, f.pop(), true, nil
	case disasm.KindField:
		if err := f.field(in); err != nil {
			return 0, nil, false, err
		}
	case disasm.KindInvoke:
		if err := f.invoke(in); err != nil {
			return 0, nil, false, err
		}
	case disasm.KindNew:
		name, err := f.c.Pool.ClassName(in.Index)
		if err != nil {
			return 0, nil, false, err
		}
		if err := vm.initClass(name); err != nil {
			return 0, nil, false, err
		}
		f.push(vm.newObject(name))
	case disasm.KindNewArray:
		if err := f.newArray(in); err != nil {
			return 0, nil, false, err
		}
	case disasm.KindArrayLength:
		a, ok := f.pop().(*Array)
		if !ok {
			return 0, nil, false, vm.throw("java/lang/NullPointerException", "")
		}
		f.push(int32(len(a.Elems)))
	case disasm.KindThrow:
		o, ok := f.pop().(*Object)
		if !ok {
			return 0, nil, false, vm.throw("java/lang/NullPointerException", "")
		}
		return 0, nil, false, &Thrown{Obj: o}
	case disasm.KindType:
		name, err := f.c.Pool.ClassName(in.Index)
		if err != nil {
			return 0, nil, false, err
		}
		if in.Op == disasm.Checkcast {
			v := f.stack[len(f.stack)-1]
			if v != nil && !vm.assignable(classOf(v), name) {
				return 0, nil, false, vm.throw("java/lang/ClassCastException", classOf(v))
			}
			break
		}
		v := f.pop()
		f.push(bool32(v != nil && vm.assignable(classOf(v), name)))
	case disasm.KindMonitor:
		if f.pop() == nil {
			return 0, nil, false, vm.throw("java/lang/NullPointerException", "")
		}
	default:
		return 0, nil, false, fmt.Errorf("jvmsim: unsupported instruction %s", in.Op)
	}
	return next, nil, false, nil
}

func (f *frame) array(v Value, i int32) (*Array, error) {
	a, ok := v.(*Array)
	if !ok {
		return nil, f.vm.throw("java/lang/NullPointerException", "")
	}
	if i < 0 || int(i) >= len(a.Elems) {
		return nil, f.vm.throw("java/lang/ArrayIndexOutOfBoundsException", fmt.Sprint(i))
	}
	return a, nil
}

func classOf(v Value) string {
	switch x := v.(type) {
	case *Object:
		return x.Class
	case *Array:
		return x.Desc
	}
	return ""
}

// elemClass returns the class name or descriptor of reference array
// elements.
func elemClass(desc string) string {
	e := desc[1:]
	if strings.HasPrefix(e, "L") {
		return e[1 : len(e)-1]
	}
	return e
}

func bool32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func (f *frame) stackOp(op disasm.Opcode) {
	switch op {
	case disasm.Pop:
		f.pop()
	case disasm.Pop2:
		if !wide(f.pop()) {
			f.pop()
		}
	case disasm.Dup:
		f.dup(1, 0)
	case disasm.DupX1:
		f.dup(1, 1)
	case disasm.DupX2:
		f.dup(1, 2)
	case disasm.Dup2:
		f.dup(2, 0)
	case disasm.Dup2X1:
		f.dup(2, 1)
	case disasm.Dup2X2:
		f.dup(2, 2)
	case disasm.Swap:
		n := len(f.stack)
		f.stack[n-1], f.stack[n-2] = f.stack[n-2], f.stack[n-1]
	}
}

func (f *frame) arith(op disasm.Opcode) error {
	vm := f.vm
	switch op {
	case disasm.Ineg:
		f.push(-f.popInt())
		return nil
	case disasm.Lneg:
		f.push(-f.popLong())
		return nil
	case disasm.Fneg:
		f.push(-f.popFloat())
		return nil
	case disasm.Dneg:
		f.push(-f.popDouble())
		return nil
	case disasm.Lshl, disasm.Lshr, disasm.Lushr:
		s := uint(f.popInt() & 63)
		a := f.popLong()
		switch op {
		case disasm.Lshl:
			f.push(a << s)
		case disasm.Lshr:
			f.push(a >> s)
		default:
			f.push(int64(uint64(a) >> s))
		}
		return nil
	}

	switch b := f.pop().(type) {
	case int32:
		a := f.popInt()
		var r int32
		switch op {
		case disasm.Iadd:
			r = a + b
		case disasm.Isub:
			r = a - b
		case disasm.Imul:
			r = a * b
		case disasm.Idiv, disasm.Irem:
			if b == 0 {
				return vm.throw("java/lang/ArithmeticException", "/ by zero")
			}
			if op == disasm.Idiv {
				r = a / b
			} else {
				r = a % b
			}
		case disasm.Ishl:
			r = a << uint(b&31)
		case disasm.Ishr:
			r = a >> uint(b&31)
		case disasm.Iushr:
			r = int32(uint32(a) >> uint(b&31))
		case disasm.Iand:
			r = a & b
		case disasm.Ior:
			r = a | b
		case disasm.Ixor:
			r = a ^ b
		default:
			return fmt.Errorf("jvmsim: %s on int", op)
		}
		f.push(r)
	case int64:
		a := f.popLong()
		var r int64
		switch op {
		case disasm.Ladd:
			r = a + b
		case disasm.Lsub:
			r = a - b
		case disasm.Lmul:
			r = a * b
		case disasm.Ldiv, disasm.Lrem:
			if b == 0 {
				return vm.throw("java/lang/ArithmeticException", "/ by zero")
			}
			if op == disasm.Ldiv {
				r = a / b
			} else {
				r = a % b
			}
		case disasm.Land:
			r = a & b
		case disasm.Lor:
			r = a | b
		case disasm.Lxor:
			r = a ^ b
		default:
			return fmt.Errorf("jvmsim: %s on long", op)
		}
		f.push(r)
	case float32:
		a := f.popFloat()
		switch op {
		case disasm.Fadd:
			f.push(a + b)
		case disasm.Fsub:
			f.push(a - b)
		case disasm.Fmul:
			f.push(a * b)
		case disasm.Fdiv:
			f.push(a / b)
		case disasm.Frem:
			f.push(float32(math.Mod(float64(a), float64(b))))
		default:
			return fmt.Errorf("jvmsim: %s on float", op)
		}
	case float64:
		a := f.popDouble()
		switch op {
		case disasm.Dadd:
			f.push(a + b)
		case disasm.Dsub:
			f.push(a - b)
		case disasm.Dmul:
			f.push(a * b)
		case disasm.Ddiv:
			f.push(a / b)
		case disasm.Drem:
			f.push(math.Mod(a, b))
		default:
			return fmt.Errorf("jvmsim: %s on double", op)
		}
	default:
		return fmt.Errorf("jvmsim: %s on %T", op, b)
	}
	return nil
}

func (f *frame) convert(op disasm.Opcode) {
	switch op {
	case disasm.I2l:
		f.push(int64(f.popInt()))
	case disasm.I2f:
		f.push(float32(f.popInt()))
	case disasm.I2d:
		f.push(float64(f.popInt()))
	case disasm.L2i:
		f.push(int32(f.popLong()))
	case disasm.L2f:
		f.push(float32(f.popLong()))
	case disasm.L2d:
		f.push(float64(f.popLong()))
	case disasm.F2i:
		f.push(int32(toInt(float64(f.popFloat()), math.MinInt32, math.MaxInt32)))
	case disasm.F2l:
		f.push(toInt(float64(f.popFloat()), math.MinInt64, math.MaxInt64))
	case disasm.F2d:
		f.push(float64(f.popFloat()))
	case disasm.D2i:
		f.push(int32(toInt(f.popDouble(), math.MinInt32, math.MaxInt32)))
	case disasm.D2l:
		f.push(toInt(f.popDouble(), math.MinInt64, math.MaxInt64))
	case disasm.D2f:
		f.push(float32(f.popDouble()))
	case disasm.I2b:
		f.push(int32(int8(f.popInt())))
	case disasm.I2c:
		f.push(int32(uint16(f.popInt())))
	case disasm.I2s:
		f.push(int32(int16(f.popInt())))
	}
}

// toInt converts with Java's saturating semantics.
func toInt(v float64, lo, hi int64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v <= float64(lo):
		return lo
	case v >= float64(hi):
		return hi
	}
	return int64(v)
}

func (f *frame) compare(op disasm.Opcode) {
	cmp := func(a, b float64, nan int32) int32 {
		switch {
		case math.IsNaN(a) || math.IsNaN(b):
			return nan
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}
	switch op {
	case disasm.Lcmp:
		b, a := f.popLong(), f.popLong()
		switch {
		case a < b:
			f.push(int32(-1))
		case a > b:
			f.push(int32(1))
		default:
			f.push(int32(0))
		}
	case disasm.Fcmpl, disasm.Fcmpg:
		b, a := f.popFloat(), f.popFloat()
		f.push(cmp(float64(a), float64(b), nanResult(op == disasm.Fcmpl)))
	case disasm.Dcmpl, disasm.Dcmpg:
		b, a := f.popDouble(), f.popDouble()
		f.push(cmp(a, b, nanResult(op == disasm.Dcmpl)))
	}
}

// nanResult is what fcmpl/dcmpl (l) or fcmpg/dcmpg push for NaN.
func nanResult(l bool) int32 {
	if l {
		return -1
	}
	return 1
}

func (f *frame) cond(in disasm.Inst, pc int) (int, Value, bool, error) {
	op := in.Op
	switch {
	case op.IsGoto():
		return f.jump(in.Label)
	case op >= disasm.Ifeq && op <= disasm.Ifle:
		v := f.popInt()
		return f.branch(compareInt(op-disasm.Ifeq, v, 0), in, pc)
	case op >= disasm.IfIcmpeq && op <= disasm.IfIcmple:
		b, a := f.popInt(), f.popInt()
		return f.branch(compareInt(op-disasm.IfIcmpeq, a, b), in, pc)
	case op == disasm.IfAcmpeq || op == disasm.IfAcmpne:
		b, a := f.pop(), f.pop()
		return f.branch((a == b) == (op == disasm.IfAcmpeq), in, pc)
	case op == disasm.Ifnull:
		return f.branch(f.pop() == nil, in, pc)
	case op == disasm.Ifnonnull:
		return f.branch(f.pop() != nil, in, pc)
	}
	return 0, nil, false, fmt.Errorf("jvmsim: unsupported branch %s", op)
}

// compareInt evaluates condition k of the eq, ne, lt, ge, gt, le family.
func compareInt(k disasm.Opcode, a, b int32) bool {
	switch k {
	case 0:
		return a == b
	case 1:
		return a != b
	case 2:
		return a < b
	case 3:
		return a >= b
	case 4:
		return a > b
	}
	return a <= b
}

func (f *frame) field(in disasm.Inst) error {
	vm := f.vm
	owner, name, desc, err := f.c.Pool.Member(in.Index)
	if err != nil {
		return err
	}
	switch in.Op {
	case disasm.Getstatic, disasm.Putstatic:
		if err := vm.initClass(owner); err != nil {
			return err
		}
		decl := vm.fieldOwner(owner, name, true)
		if vm.classes[decl] == nil {
			return fmt.Errorf("jvmsim: unsupported static field %s.%s", owner, name)
		}
		key := decl + "." + name
		if in.Op == disasm.Getstatic {
			f.push(vm.statics[key])
		} else {
			vm.statics[key] = f.pop()
		}
	case disasm.Getfield:
		o, ok := f.pop().(*Object)
		if !ok {
			return vm.throw("java/lang/NullPointerException", "")
		}
		v, ok := o.Fields[name]
		if !ok {
			v = zero(desc)
		}
		f.push(v)
	case disasm.Putfield:
		v := f.pop()
		o, ok := f.pop().(*Object)
		if !ok {
			return vm.throw("java/lang/NullPointerException", "")
		}
		o.Fields[name] = v
	}
	return nil
}

func (f *frame) invoke(in disasm.Inst) error {
	vm := f.vm
	owner, name, desc, err := f.c.Pool.Member(in.Index)
	if err != nil {
		return err
	}
	md, err := classfile.ParseMethodDesc(desc)
	if err != nil {
		return err
	}
	n := len(md.Args)
	if in.Op != disasm.Invokestatic {
		n++
	}
	args := append([]Value(nil), f.stack[len(f.stack)-n:]...)
	f.stack = f.stack[:len(f.stack)-n]

	var (
		c *classfile.Class
		m *classfile.Method
	)
	switch in.Op {
	case disasm.Invokestatic:
		if err := vm.initClass(owner); err != nil {
			return err
		}
		c, m = vm.findMethod(owner, name, desc)
	case disasm.Invokespecial:
		if args[0] == nil {
			return vm.throw("java/lang/NullPointerException", "")
		}
		c, m = vm.findMethod(owner, name, desc)
	default:
		if args[0] == nil {
			return vm.throw("java/lang/NullPointerException", "")
		}
		if o, ok := args[0].(*Object); ok {
			c, m = vm.findMethod(o.Class, name, desc)
		}
	}

	var ret Value
	if m != nil && m.Code != nil {
		ret, err = vm.call(c, m, args)
	} else {
		ret, err = vm.native(owner, name, desc, args)
	}
	if err != nil {
		return err
	}
	if md.Ret != "V" {
		f.push(ret)
	}
	return nil
}

func (f *frame) newArray(in disasm.Inst) error {
	vm := f.vm
	var desc string
	dims := 1
	switch in.Op {
	case disasm.Newarray:
		desc = disasm.ArrayDescriptor(in.Value)
	default:
		name, err := f.c.Pool.ClassName(in.Index)
		if err != nil {
			return err
		}
		if in.Op == disasm.Multianewarray {
			desc = name
			dims = int(in.Value)
		} else if strings.HasPrefix(name, "[") {
			desc = "[" + name
		} else {
			desc = "[L" + name + ";"
		}
	}
	counts := make([]int32, dims)
	for i := dims - 1; i >= 0; i-- {
		counts[i] = f.popInt()
		if counts[i] < 0 {
			return vm.throw("java/lang/NegativeArraySizeException", fmt.Sprint(counts[i]))
		}
	}
	f.push(makeArray(desc, counts))
	return nil
}

func makeArray(desc string, counts []int32) *Array {
	a := &Array{Desc: desc, Elems: make([]Value, counts[0])}
	for i := range a.Elems {
		if len(counts) > 1 {
			a.Elems[i] = makeArray(desc[1:], counts[1:])
		} else {
			a.Elems[i] = zero(desc[1:])
		}
	}
	return a
}
