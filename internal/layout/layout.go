// Package layout finalizes edited methods: it drops unreachable code,
// assigns byte offsets, encodes the instruction stream and recomputes the
// verification metadata the class file format requires.
package layout

import (
	"errors"
	"fmt"

	"classmorph/internal/classfile"
	"classmorph/internal/diag"
	"classmorph/internal/disasm"
	"classmorph/internal/verify"
)

// DefaultMaxIterations bounds the offset fixed point.
const DefaultMaxIterations = 16

// maxCode is the largest code array a method may have.
const maxCode = 65535

// Options configures finalization.
type Options struct {
	// MaxIterations bounds the offset fixed point; 0 means DefaultMaxIterations.
	MaxIterations int
	// Hierarchy answers common-superclass queries for frame merges. nil
	// means the built-in platform table only.
	Hierarchy verify.Hierarchy
}

// Stats summarizes the work done on one unit.
type Stats struct {
	Methods     int // methods laid out
	Unreachable int // instructions removed as unreachable
	Widened     int // branches encoded in their long form
	Iterations  int // most fixed point rounds any method needed
	Swept       int // constant pool entries tombstoned

	// Fallback is set when a frame merge assumed java/lang/Object because
	// part of the hierarchy was unknown.
	Fallback bool
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Methods += o.Methods
	s.Unreachable += o.Unreachable
	s.Widened += o.Widened
	s.Iterations = max(s.Iterations, o.Iterations)
	s.Swept += o.Swept
	s.Fallback = s.Fallback || o.Fallback
}

// Finalize lays out every dirty method of c and then sweeps the constant
// pool. Clean methods keep their encoding. A unit without dirty methods is
// left untouched unless sweep is set.
func Finalize(c *classfile.Class, sweep bool, opts Options) (Stats, error) {
	var st Stats
	for _, m := range c.Methods {
		if m.Code == nil || !m.Code.Dirty {
			continue
		}
		ms, err := Method(c, m, opts)
		if err != nil {
			return st, err
		}
		st.Add(ms)
	}
	if st.Methods == 0 && !sweep {
		return st, nil
	}
	if c.Opaque() {
		return st, nil
	}
	n, err := classfile.Sweep(c)
	if err != nil {
		return st, diag.Wrap(diag.MalformedUnit, err, "constant pool sweep").In(c.Name())
	}
	st.Swept = n
	return st, nil
}

// Method finalizes one method.
func Method(c *classfile.Class, m *classfile.Method, opts Options) (Stats, error) {
	name := c.NameOf(&m.Member) + c.DescOf(&m.Member)
	fail := func(format string, args ...any) error {
		return diag.New(diag.LayoutDivergence, format, args...).In(c.Name()).At(name, -1)
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Hierarchy == nil {
		opts.Hierarchy = verify.NewTable()
	}
	code := m.Code

	res, err := verify.Analyze(c, m, opts.Hierarchy)
	if err != nil {
		return Stats{}, diag.Wrap(diag.LayoutDivergence, err, "type analysis").In(c.Name()).At(name, -1)
	}
	st := Stats{Methods: 1, Fallback: res.Fallback}

	// Unreachable instructions go; labels stay so that every table entry
	// still has a position.
	insts := make([]disasm.Inst, 0, len(code.Insts))
	states := make([]*verify.State, 0, len(code.Insts))
	newIndex := make([]int, len(code.Insts))
	for i, in := range code.Insts {
		newIndex[i] = len(insts)
		if !in.IsLabel() && !res.Reachable(i) {
			st.Unreachable++
			continue
		}
		insts = append(insts, in)
		states = append(states, res.In[i])
	}

	lay, err := assign(insts, code.Labels(), opts.MaxIterations)
	if err != nil {
		return st, fail("%v", err)
	}
	st.Iterations = lay.rounds
	for _, f := range lay.far {
		if f {
			st.Widened++
		}
	}

	buf, err := encode(insts, lay)
	if err != nil {
		return st, fail("%v", err)
	}

	handlers := code.Handlers[:0:0]
	for _, h := range code.Handlers {
		s, e := lay.label(h.Start), lay.label(h.End)
		if s < 0 || e < 0 || lay.label(h.Target) < 0 {
			return st, fail("handler refers to a removed label")
		}
		if s < e {
			handlers = append(handlers, h)
		}
	}
	lines := code.Lines[:0:0]
	for _, l := range code.Lines {
		if o := lay.label(l.Start); o >= 0 && o < len(buf) {
			lines = append(lines, l)
		}
	}
	locals := func(vs []classfile.LocalVar) []classfile.LocalVar {
		out := vs[:0:0]
		for _, v := range vs {
			s, e := lay.label(v.Start), lay.label(v.End)
			if s >= 0 && e >= s && s < len(buf) {
				out = append(out, v)
			}
		}
		return out
	}

	code.Insts = insts
	code.Handlers = handlers
	code.Lines = lines
	code.Locals = locals(code.Locals)
	code.LocalTypes = locals(code.LocalTypes)
	code.MaxStack = uint16(res.MaxStack)
	code.MaxLocals = uint16(res.MaxLocals)
	if res.MaxStack > 0xffff || res.MaxLocals > 0xffff {
		return st, fail("max_stack %d / max_locals %d out of range", res.MaxStack, res.MaxLocals)
	}

	classfile.RemoveAttrs(&code.Attrs, classfile.AttrStackMapTable)
	if c.Major >= 50 {
		smt, err := frames(c, m, insts, states, newIndex, lay)
		if err != nil {
			return st, fail("%v", err)
		}
		if smt != nil {
			c.SetAttr(&code.Attrs, classfile.AttrStackMapTable, smt)
		}
	}
	code.SetLayout(buf, lay.labels)
	return st, nil
}

// layout is the byte position of every instruction and label.
type layout struct {
	pc     []int
	labels []int
	far    []bool
	size   int
	rounds int
}

func (l *layout) label(x disasm.Label) int {
	if x < 0 || int(x) >= len(l.labels) {
		return -1
	}
	return l.labels[x]
}

var errTooLarge = errors.New("code exceeds 65535 bytes")

// assign computes offsets to a fixed point. Branches start short and are
// widened when their target is out of reach; widening only grows the code,
// so the rounds converge unless the method keeps oscillating past limit.
func assign(insts []disasm.Inst, nlabels, limit int) (*layout, error) {
	l := &layout{
		pc:     make([]int, len(insts)),
		labels: make([]int, nlabels),
		far:    make([]bool, len(insts)),
	}
	for round := 1; ; round++ {
		if round > limit {
			return nil, fmt.Errorf("offsets did not settle after %d rounds", limit)
		}
		l.rounds = round
		for i := range l.labels {
			l.labels[i] = -1
		}
		pc := 0
		for i, in := range insts {
			l.pc[i] = pc
			if in.IsLabel() {
				if l.label(in.Label) >= 0 || int(in.Label) >= nlabels || in.Label < 0 {
					return nil, fmt.Errorf("label L%d placed twice or out of range", in.Label)
				}
				l.labels[in.Label] = pc
			}
			pc += disasm.Size(in, pc, l.far[i])
		}
		l.size = pc
		if pc > maxCode {
			return nil, errTooLarge
		}

		changed := false
		for i, in := range insts {
			if l.far[i] || !(in.Kind == disasm.KindBranch || in.Kind == disasm.KindJsr && in.Op != disasm.Ret) {
				continue
			}
			t := l.label(in.Label)
			if t < 0 {
				return nil, fmt.Errorf("branch at inst %d targets unplaced label L%d", i, in.Label)
			}
			if disasm.NeedsFar(l.pc[i], t) {
				l.far[i] = true
				changed = true
			}
		}
		if !changed {
			return l, nil
		}
	}
}

func encode(insts []disasm.Inst, l *layout) ([]byte, error) {
	buf := make([]byte, 0, l.size)
	target := func(x disasm.Label) int { return l.label(x) }
	for i, in := range insts {
		if len(buf) != l.pc[i] {
			return nil, fmt.Errorf("inst %d encoded at %d, laid out at %d", i, len(buf), l.pc[i])
		}
		var err error
		if buf, err = disasm.Append(buf, in, l.pc[i], l.far[i], target); err != nil {
			return nil, err
		}
	}
	if len(buf) != l.size {
		return nil, fmt.Errorf("encoded %d bytes, laid out %d", len(buf), l.size)
	}
	return buf, nil
}
