package disasm

// CallEdge represents a call site extracted from a method body.
type CallEdge struct {
	From   int    `json:"from"`   // instruction index
	Offset int    `json:"offset"` // original byte offset, -1 if synthesized
	Kind   string `json:"kind"`   // invoke opcode mnemonic
	Owner  string `json:"owner,omitempty"`
	Name   string `json:"name"`
	Desc   string `json:"desc"`
}

// Target returns owner.name+desc, or name+desc for invokedynamic.
func (e CallEdge) Target() string {
	if e.Owner == "" {
		return e.Name + e.Desc
	}
	return e.Owner + "." + e.Name + e.Desc
}

// MemberLookup resolves a member reference pool index. invokedynamic entries
// resolve with an empty owner.
type MemberLookup func(idx int) (owner, name, desc string, ok bool)

// ExtractCallEdges lists every invoke instruction whose target resolves.
func ExtractCallEdges(insts []Inst, members MemberLookup) []CallEdge {
	var edges []CallEdge
	for i, inst := range insts {
		if inst.Kind != KindInvoke && inst.Kind != KindInvokeDynamic {
			continue
		}
		owner, name, desc, ok := members(inst.Index)
		if !ok {
			continue
		}
		edges = append(edges, CallEdge{
			From:   i,
			Offset: inst.Offset,
			Kind:   inst.Op.Name(),
			Owner:  owner,
			Name:   name,
			Desc:   desc,
		})
	}
	return edges
}
