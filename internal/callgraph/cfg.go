package callgraph

import (
	"fmt"
	"sort"

	"classmorph/internal/disasm"

	"github.com/zboralski/lattice"
)

// BuildCFG constructs a lattice.CFGGraph from extracted methods. Methods
// whose control flow cannot be partitioned are left out.
func BuildCFG(funcs []FuncInfo) *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	for _, f := range funcs {
		lcfg, _, err := BuildFuncCFG(f, nil)
		if err != nil {
			continue
		}
		cg.Funcs = append(cg.Funcs, lcfg)
	}
	return cg
}

// BuildFuncCFG builds a single-method lattice.FuncCFG and returns its
// number of basic blocks, for filtering trivial methods. strs maps
// instruction indices to string literals shown beside the calls.
func BuildFuncCFG(f FuncInfo, strs map[int]string) (*lattice.FuncCFG, int, error) {
	dcfg, err := disasm.BuildCFG(f.Name, f.Code.Insts, f.Code.Handlers)
	if err != nil {
		return nil, 0, err
	}
	lcfg := convertFuncCFG(dcfg, f.CallEdges)
	injectStringRefs(lcfg, dcfg, strs)
	return lcfg, len(dcfg.Blocks), nil
}

// StringRefs maps the instruction index of every string ldc in f to its
// value.
func StringRefs(f FuncInfo, value func(idx int) (string, bool)) map[int]string {
	out := make(map[int]string)
	for i, in := range f.Code.Insts {
		if in.Kind != disasm.KindLdc {
			continue
		}
		if s, ok := value(in.Index); ok {
			out[i] = s
		}
	}
	return out
}

// injectStringRefs adds string reference CallSite entries into the blocks
// holding them.
func injectStringRefs(lcfg *lattice.FuncCFG, dcfg *disasm.FuncCFG, strs map[int]string) {
	if len(strs) == 0 {
		return
	}
	for bi, db := range dcfg.Blocks {
		added := false
		for idx := db.Start; idx < db.End && idx < len(dcfg.Insts); idx++ {
			val, ok := strs[idx]
			if !ok {
				continue
			}
			if len(val) > 50 {
				val = val[:47] + "..."
			}
			lcfg.Blocks[bi].Calls = append(lcfg.Blocks[bi].Calls, lattice.CallSite{
				Offset: idx,
				Callee: fmt.Sprintf("%q", val),
			})
			added = true
		}
		if added {
			sort.Slice(lcfg.Blocks[bi].Calls, func(i, j int) bool {
				return lcfg.Blocks[bi].Calls[i].Offset < lcfg.Blocks[bi].Calls[j].Offset
			})
		}
	}
}

// convertFuncCFG maps a disasm.FuncCFG to a lattice.FuncCFG. Call edges are
// placed in the block whose instruction range holds them.
func convertFuncCFG(dcfg *disasm.FuncCFG, edges []disasm.CallEdge) *lattice.FuncCFG {
	edgeAt := make(map[int]disasm.CallEdge, len(edges))
	for _, e := range edges {
		edgeAt[e.From] = e
	}

	lcfg := &lattice.FuncCFG{Name: dcfg.Name}
	for _, db := range dcfg.Blocks {
		lb := &lattice.BasicBlock{
			ID:    db.ID,
			Start: db.Start,
			End:   db.End,
			Term:  db.IsTerm,
		}
		for _, ds := range db.Succs {
			lb.Succs = append(lb.Succs, lattice.Successor{
				BlockID: ds.BlockID,
				Cond:    ds.Cond,
			})
		}
		for idx := db.Start; idx < db.End && idx < len(dcfg.Insts); idx++ {
			if e, ok := edgeAt[idx]; ok {
				lb.Calls = append(lb.Calls, lattice.CallSite{
					Offset: idx,
					Callee: e.Target(),
				})
			}
		}
		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg
}
