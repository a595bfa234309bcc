package disasm

import (
	"fmt"
	"sort"
)

// Handler is one exception table entry: [Start, End) is protected, Target is
// the handler entry and CatchType the pool index of the caught class (0 = any).
type Handler struct {
	Start     Label
	End       Label
	Target    Label
	CatchType int
}

// BasicBlock represents a sequence of instructions with a single entry point.
type BasicBlock struct {
	ID      int
	Start   int    // index into FuncCFG.Insts (inclusive), -1 for synthesized blocks
	End     int    // index into FuncCFG.Insts (exclusive)
	Insts   []Inst // block body, leading labels included
	Succs   []Succ // successor edges
	Fall    int    // block reached by falling off the end, -1 if none
	IsEntry bool
	IsTerm  bool // ends with return, throw or ret
	Handler bool // entry of an exception handler
}

// Succ describes a control-flow successor edge.
type Succ struct {
	BlockID int
	Cond    string // "" = unconditional, "T" = taken, "F" = fallthrough, "case N", "default", "exc"
}

// HandlerRange is an exception table entry lifted onto blocks.
type HandlerRange struct {
	Handler
	Blocks []int // covered block IDs
	Entry  int   // handler entry block ID
}

// FuncCFG is a per-method control flow graph.
type FuncCFG struct {
	Name     string
	Blocks   []*BasicBlock
	Insts    []Inst
	Handlers []HandlerRange
	Tail     []Inst // labels after the last instruction
}

// LabelAllocator hands out fresh labels for a method.
type LabelAllocator interface {
	NewLabel() Label
}

// BuildCFG constructs a control flow graph from a method's instruction list.
// The algorithm:
//  1. Find block leaders: index 0, branch and switch targets, handler entries,
//     protected range boundaries, instructions after any control transfer.
//     A leader inside a run of labels moves to the start of the run.
//  2. Partition instructions into blocks by leaders; a trailing run of
//     labels becomes the Tail.
//  3. Compute successor edges from each block's last instruction.
//  4. Add an exception edge from every block inside a protected range to the
//     handler entry.
func BuildCFG(name string, insts []Inst, handlers []Handler) (*FuncCFG, error) {
	cfg := &FuncCFG{Name: name, Insts: insts}
	if len(insts) == 0 {
		return cfg, nil
	}

	labelPos := make(map[Label]int)
	for i, in := range insts {
		if in.IsLabel() {
			labelPos[in.Label] = i
		}
	}
	pos := func(l Label) (int, error) {
		i, ok := labelPos[l]
		if !ok {
			return 0, fmt.Errorf("cfg %s: undefined label L%d", name, l)
		}
		return i, nil
	}
	runStart := func(i int) int {
		for i > 0 && insts[i-1].IsLabel() {
			i--
		}
		return i
	}

	// Pass 1: Identify block leaders.
	leaders := map[int]bool{0: true}
	mark := func(l Label) error {
		i, err := pos(l)
		if err != nil {
			return err
		}
		leaders[runStart(i)] = true
		return nil
	}
	for i, in := range insts {
		if in.IsLabel() {
			continue
		}
		for _, t := range in.Targets() {
			if err := mark(t); err != nil {
				return nil, err
			}
		}
		if in.IsJump() && i+1 < len(insts) {
			leaders[i+1] = true
		}
	}
	for _, h := range handlers {
		for _, l := range []Label{h.Start, h.End, h.Target} {
			if err := mark(l); err != nil {
				return nil, err
			}
		}
	}

	sorted := make([]int, 0, len(leaders))
	for idx := range leaders {
		sorted = append(sorted, idx)
	}
	sort.Ints(sorted)

	// Pass 2: Partition into blocks.
	leaderToBlock := make(map[int]int, len(sorted))
	for i, start := range sorted {
		end := len(insts)
		if i+1 < len(sorted) {
			end = sorted[i+1]
		}
		hasInst := false
		for _, in := range insts[start:end] {
			if !in.IsLabel() {
				hasInst = true
				break
			}
		}
		if !hasInst {
			// Only a trailing label run can hold no instruction.
			cfg.Tail = append([]Inst(nil), insts[start:end]...)
			break
		}
		b := &BasicBlock{
			ID:      len(cfg.Blocks),
			Start:   start,
			End:     end,
			Insts:   append([]Inst(nil), insts[start:end]...),
			Fall:    -1,
			IsEntry: start == 0,
		}
		leaderToBlock[start] = b.ID
		cfg.Blocks = append(cfg.Blocks, b)
	}
	blockOf := func(l Label) int {
		return leaderToBlock[runStart(labelPos[l])]
	}

	// Pass 3: Compute successors.
	for _, b := range cfg.Blocks {
		next := -1
		if b.ID+1 < len(cfg.Blocks) {
			next = b.ID + 1
		}
		last := b.Insts[len(b.Insts)-1]
		switch {
		case last.Kind == KindSwitch:
			b.Succs = append(b.Succs, Succ{BlockID: blockOf(last.Switch.Default), Cond: "default"})
			for i, t := range last.Switch.Targets {
				b.Succs = append(b.Succs, Succ{BlockID: blockOf(t), Cond: fmt.Sprintf("case %d", last.Switch.Keys[i])})
			}
		case last.Kind == KindBranch && last.Op.IsGoto():
			b.Succs = append(b.Succs, Succ{BlockID: blockOf(last.Label)})
		case last.Kind == KindBranch, last.Kind == KindJsr && last.Op != Ret:
			b.Succs = append(b.Succs, Succ{BlockID: blockOf(last.Label), Cond: "T"})
			if next >= 0 {
				b.Succs = append(b.Succs, Succ{BlockID: next, Cond: "F"})
				b.Fall = next
			}
		case last.EndsBlock():
			b.IsTerm = true
		default:
			if next >= 0 {
				b.Succs = append(b.Succs, Succ{BlockID: next})
				b.Fall = next
			}
		}
	}

	// Pass 4: Exception edges.
	for _, h := range handlers {
		lo, _ := pos(h.Start)
		hi, _ := pos(h.End)
		if hi < lo {
			return nil, fmt.Errorf("cfg %s: handler range L%d..L%d inverted", name, h.Start, h.End)
		}
		hr := HandlerRange{Handler: h, Entry: blockOf(h.Target)}
		cfg.Blocks[hr.Entry].Handler = true
		for _, b := range cfg.Blocks {
			if b.Start >= runStart(lo) && b.Start < runStart(hi) {
				hr.Blocks = append(hr.Blocks, b.ID)
				if !b.hasSucc(hr.Entry, "exc") {
					b.Succs = append(b.Succs, Succ{BlockID: hr.Entry, Cond: "exc"})
				}
			}
		}
		cfg.Handlers = append(cfg.Handlers, hr)
	}
	return cfg, nil
}

func (b *BasicBlock) hasSucc(id int, cond string) bool {
	for _, s := range b.Succs {
		if s.BlockID == id && s.Cond == cond {
			return true
		}
	}
	return false
}

// AddBlock appends a synthesized block and returns it.
func (cfg *FuncCFG) AddBlock(insts []Inst, fall int) *BasicBlock {
	b := &BasicBlock{ID: len(cfg.Blocks), Start: -1, End: -1, Insts: insts, Fall: fall}
	cfg.Blocks = append(cfg.Blocks, b)
	return b
}

// HeadLabel returns the first label of block id, or NoLabel if the block
// does not start with one.
func (cfg *FuncCFG) HeadLabel(id int) Label {
	b := cfg.Blocks[id]
	if len(b.Insts) > 0 && b.Insts[0].IsLabel() {
		return b.Insts[0].Label
	}
	return NoLabel
}

// EnsureLabels gives every block a leading label.
func (cfg *FuncCFG) EnsureLabels(alloc LabelAllocator) {
	for _, b := range cfg.Blocks {
		if len(b.Insts) == 0 || !b.Insts[0].IsLabel() {
			b.Insts = append([]Inst{Mark(alloc.NewLabel())}, b.Insts...)
		}
	}
}

// Order returns block IDs in their original order.
func (cfg *FuncCFG) Order() []int {
	out := make([]int, len(cfg.Blocks))
	for i := range out {
		out[i] = i
	}
	return out
}

// Linearize re-emits the blocks listed in order as one instruction list and
// rebuilds the exception table.
//
// A goto is appended wherever a block's fall-through successor is not the
// next block in order. Each handler entry is split into one entry per run of
// consecutive covered blocks; entries keep the relative priority of the
// original table.
func Linearize(cfg *FuncCFG, order []int, alloc LabelAllocator) ([]Inst, []Handler) {
	cfg.EnsureLabels(alloc)

	var out []Inst
	for i, id := range order {
		b := cfg.Blocks[id]
		out = append(out, b.Insts...)
		if b.Fall >= 0 && (i+1 == len(order) || order[i+1] != b.Fall) {
			out = append(out, Jump(Goto, cfg.HeadLabel(b.Fall)))
		}
	}
	out = append(out, cfg.Tail...)
	end := alloc.NewLabel()
	out = append(out, Mark(end))

	var handlers []Handler
	for _, hr := range cfg.Handlers {
		covered := make(map[int]bool, len(hr.Blocks))
		for _, id := range hr.Blocks {
			covered[id] = true
		}
		for i := 0; i < len(order); {
			if !covered[order[i]] {
				i++
				continue
			}
			j := i
			for j < len(order) && covered[order[j]] {
				j++
			}
			h := Handler{
				Start:     cfg.HeadLabel(order[i]),
				End:       end,
				Target:    cfg.HeadLabel(hr.Entry),
				CatchType: hr.CatchType,
			}
			if j < len(order) {
				h.End = cfg.HeadLabel(order[j])
			}
			handlers = append(handlers, h)
			i = j
		}
	}
	return out, handlers
}
