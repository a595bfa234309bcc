package disasm

// MethodRecord is one line in methods.jsonl.
type MethodRecord struct {
	Class     string `json:"class"`
	Name      string `json:"name"`
	Desc      string `json:"desc"`
	Access    string `json:"access"`
	CodeSize  int    `json:"code_size"`
	Blocks    int    `json:"blocks"`
	Handlers  int    `json:"handlers,omitempty"`
	MaxStack  int    `json:"max_stack"`
	MaxLocals int    `json:"max_locals"`
}

// CallEdgeRecord is one line in call_edges.jsonl.
type CallEdgeRecord struct {
	FromMethod string `json:"from_method"`
	Offset     int    `json:"offset"`
	Kind       string `json:"kind"` // invoke opcode
	Target     string `json:"target"`
}

// StringRefRecord is one line in string_refs.jsonl.
type StringRefRecord struct {
	Method  string `json:"method"`
	Offset  int    `json:"offset"`
	PoolIdx int    `json:"pool_idx"`
	Value   string `json:"value"`
}
