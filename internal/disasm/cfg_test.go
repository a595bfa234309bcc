package disasm

import "testing"

// counter allocates labels above the ones used by a test.
type counter struct{ next Label }

func (c *counter) NewLabel() Label {
	l := c.next
	c.next++
	return l
}

// condCode is: iload_1; ifeq L0; iconst_1; goto L1; L0: iconst_0; L1: ireturn
var condCode = []byte{0x1b, 0x99, 0x00, 0x07, 0x04, 0xa7, 0x00, 0x04, 0x03, 0xac}

func TestBuildCFG_Linear(t *testing.T) {
	insts := []Inst{Op0(Iconst1), Op0(Pop), Op0(Return)}
	cfg, err := BuildCFG("linear", insts, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(cfg.Blocks))
	}
	blk := cfg.Blocks[0]
	if blk.Start != 0 || blk.End != 3 {
		t.Errorf("block range = [%d,%d), want [0,3)", blk.Start, blk.End)
	}
	if !blk.IsTerm {
		t.Error("block should be terminal (return)")
	}
	if len(blk.Succs) != 0 {
		t.Errorf("succs = %d, want 0", len(blk.Succs))
	}
}

func TestBuildCFG_ConditionalBranch(t *testing.T) {
	insts, _, err := Decode(condCode, nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := BuildCFG("cond", insts, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Block 0: iload_1 ifeq
	// Block 1: iconst_1 goto
	// Block 2: L0 iconst_0
	// Block 3: L1 ireturn
	if len(cfg.Blocks) != 4 {
		t.Fatalf("blocks = %d, want 4", len(cfg.Blocks))
	}

	b0 := cfg.Blocks[0]
	if len(b0.Succs) != 2 {
		t.Fatalf("block 0 succs = %d, want 2", len(b0.Succs))
	}
	if b0.Succs[0].BlockID != 2 || b0.Succs[0].Cond != "T" {
		t.Errorf("block 0 succ[0] = %+v, want {2 T}", b0.Succs[0])
	}
	if b0.Succs[1].BlockID != 1 || b0.Succs[1].Cond != "F" {
		t.Errorf("block 0 succ[1] = %+v, want {1 F}", b0.Succs[1])
	}
	if b0.Fall != 1 {
		t.Errorf("block 0 fall = %d, want 1", b0.Fall)
	}
	if b1 := cfg.Blocks[1]; b1.Fall != -1 || len(b1.Succs) != 1 || b1.Succs[0].BlockID != 3 {
		t.Errorf("block 1 = %+v, want goto block 3", b1)
	}
	if b2 := cfg.Blocks[2]; b2.Fall != 3 {
		t.Errorf("block 2 fall = %d, want 3", b2.Fall)
	}
	if !cfg.Blocks[3].IsTerm {
		t.Error("block 3 should be terminal")
	}
}

func TestBuildCFG_ExceptionEdges(t *testing.T) {
	insts := []Inst{
		Mark(0), Load(TypeRef, 0), PoolOp(Invokevirtual, 2),
		Mark(1), Op0(Return),
		Mark(2), Store(TypeRef, 1), Op0(Return),
	}
	handlers := []Handler{{Start: 0, End: 1, Target: 2}}
	cfg, err := BuildCFG("try", insts, handlers)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Blocks) != 3 {
		t.Fatalf("blocks = %d, want 3", len(cfg.Blocks))
	}
	if !cfg.Blocks[2].Handler {
		t.Error("block 2 should be a handler entry")
	}
	hr := cfg.Handlers[0]
	if len(hr.Blocks) != 1 || hr.Blocks[0] != 0 || hr.Entry != 2 {
		t.Errorf("handler range = %+v, want blocks [0] entry 2", hr)
	}
	found := false
	for _, s := range cfg.Blocks[0].Succs {
		if s.BlockID == 2 && s.Cond == "exc" {
			found = true
		}
	}
	if !found {
		t.Error("block 0 missing exception edge to block 2")
	}
}

func TestBuildCFG_UndefinedLabel(t *testing.T) {
	insts := []Inst{Jump(Goto, 7)}
	if _, err := BuildCFG("bad", insts, nil); err == nil {
		t.Fatal("expected error for undefined label")
	}
}

func TestLinearize_OriginalOrder(t *testing.T) {
	insts, _, err := Decode(condCode, nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := BuildCFG("cond", insts, nil)
	if err != nil {
		t.Fatal(err)
	}
	out, _ := Linearize(cfg, cfg.Order(), &counter{next: 100})
	gotos := 0
	for _, in := range out {
		if in.Kind == KindBranch && in.Op == Goto {
			gotos++
		}
	}
	if gotos != 1 {
		t.Errorf("gotos = %d, want 1 (no fall-through repair needed)", gotos)
	}
}

func TestLinearize_ReorderInsertsGotos(t *testing.T) {
	insts, _, err := Decode(condCode, nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := BuildCFG("cond", insts, nil)
	if err != nil {
		t.Fatal(err)
	}
	out, _ := Linearize(cfg, []int{0, 2, 1, 3}, &counter{next: 100})
	gotos := 0
	for _, in := range out {
		if in.Kind == KindBranch && in.Op == Goto {
			gotos++
		}
	}
	// Original goto, plus repairs after block 0 (falls to 1) and block 2 (falls to 3).
	if gotos != 3 {
		t.Errorf("gotos = %d, want 3", gotos)
	}
}

func TestLinearize_SplitsHandlerRanges(t *testing.T) {
	insts := []Inst{
		Mark(0), Op0(Iconst1), Jump(Ifeq, 3),
		Op0(Nop),
		Mark(3), Op0(Nop),
		Mark(1), Op0(Return),
		Mark(2), Op0(Pop), Op0(Return),
	}
	handlers := []Handler{{Start: 0, End: 1, Target: 2, CatchType: 9}}
	cfg, err := BuildCFG("split", insts, handlers)
	if err != nil {
		t.Fatal(err)
	}
	// Blocks: 0 [iconst_1 ifeq] 1 [nop] 2 [L3 nop] 3 [L1 return] 4 [L2 pop return]
	if len(cfg.Blocks) != 5 {
		t.Fatalf("blocks = %d, want 5", len(cfg.Blocks))
	}
	_, hs := Linearize(cfg, []int{0, 3, 1, 2, 4}, &counter{next: 100})
	if len(hs) != 2 {
		t.Fatalf("handlers = %d, want 2", len(hs))
	}
	for _, h := range hs {
		if h.CatchType != 9 || h.Target != 2 {
			t.Errorf("handler = %+v, want catch 9 target L2", h)
		}
	}
}
