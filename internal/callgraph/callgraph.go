// Package callgraph extracts method, call and string records from classes
// and maps them onto lattice call graphs and control-flow graphs.
package callgraph

import (
	"classmorph/internal/classfile"
	"classmorph/internal/disasm"

	"github.com/zboralski/lattice"
)

// FuncInfo holds the data needed to build the call graph and CFG of one
// method.
type FuncInfo struct {
	Name      string // owner.name+desc
	Class     string
	Code      *classfile.Code
	CallEdges []disasm.CallEdge
}

// Records are the JSONL rows describing a batch.
type Records struct {
	Methods []disasm.MethodRecord
	Edges   []disasm.CallEdgeRecord
	Strings []disasm.StringRefRecord
}

// Members resolves member references and invokedynamic call sites of c's
// pool. Call sites resolve with an empty owner.
func Members(c *classfile.Class) disasm.MemberLookup {
	return func(idx int) (string, string, string, bool) {
		if c.Pool.Tag(idx) == classfile.TagInvokeDynamic {
			e, err := c.Pool.At(idx)
			if err != nil {
				return "", "", "", false
			}
			name, desc, err := c.Pool.NameAndType(int(e.B))
			return "", name, desc, err == nil
		}
		owner, name, desc, err := c.Pool.Member(idx)
		return owner, name, desc, err == nil
	}
}

// Extract walks every method with code, in class then declaration order.
func Extract(classes []*classfile.Class) (*Records, []FuncInfo) {
	rec := &Records{}
	var funcs []FuncInfo
	for _, c := range classes {
		cls := c.Name()
		members := Members(c)
		for _, m := range c.Methods {
			if m.Code == nil {
				continue
			}
			name := cls + "." + c.NameOf(&m.Member) + c.DescOf(&m.Member)
			code := m.Code
			edges := disasm.ExtractCallEdges(code.Insts, members)
			funcs = append(funcs, FuncInfo{Name: name, Class: cls, Code: code, CallEdges: edges})

			blocks := 0
			if cfg, err := disasm.BuildCFG(name, code.Insts, code.Handlers); err == nil {
				blocks = len(cfg.Blocks)
			}
			rec.Methods = append(rec.Methods, disasm.MethodRecord{
				Class:     cls,
				Name:      c.NameOf(&m.Member),
				Desc:      c.DescOf(&m.Member),
				Access:    classfile.MethodAccess(m.Access),
				CodeSize:  len(code.Bytes),
				Blocks:    blocks,
				Handlers:  len(code.Handlers),
				MaxStack:  int(code.MaxStack),
				MaxLocals: int(code.MaxLocals),
			})
			for _, e := range edges {
				rec.Edges = append(rec.Edges, disasm.CallEdgeRecord{
					FromMethod: name,
					Offset:     e.Offset,
					Kind:       e.Kind,
					Target:     e.Target(),
				})
			}
			for _, in := range code.Insts {
				if in.Kind != disasm.KindLdc || c.Pool.Tag(in.Index) != classfile.TagString {
					continue
				}
				if s, err := c.Pool.String(in.Index); err == nil {
					rec.Strings = append(rec.Strings, disasm.StringRefRecord{
						Method:  name,
						Offset:  in.Offset,
						PoolIdx: in.Index,
						Value:   s,
					})
				}
			}
		}
	}
	return rec, funcs
}

// BuildCallGraph constructs a lattice.Graph from extracted methods.
// Each method becomes a node and each call site an edge; callees outside
// the batch appear only as edge endpoints.
func BuildCallGraph(funcs []FuncInfo) *lattice.Graph {
	g := &lattice.Graph{}
	for _, f := range funcs {
		g.Nodes = append(g.Nodes, f.Name)
		for _, e := range f.CallEdges {
			g.Edges = append(g.Edges, lattice.Edge{
				Caller: f.Name,
				Callee: e.Target(),
			})
		}
	}
	g.Dedup()
	return g
}
