package passes

import (
	"classmorph/internal/classfile"
)

// Strip removes source-level debug information: line numbers, local
// variable names and types, and the source file attributes. Code bytes
// and stack maps are untouched.
type Strip struct{}

func (Strip) String() string         { return "strip" }
func (Strip) Skip(ctx *Context) bool { return !ctx.Config.StripDebugInfo }

func (Strip) Run(ctx *Context) error {
	return ctx.eachUnit("strip", func(u unit) error {
		if stripDebug(u.Class) > 0 {
			ctx.touch(u.name)
		}
		return nil
	})
}

func stripDebug(c *classfile.Class) int {
	n := classfile.RemoveAttrs(&c.Attrs, classfile.AttrSourceFile, classfile.AttrSourceDebugExtension)
	for _, m := range c.Methods {
		if m.Code == nil {
			continue
		}
		n += classfile.RemoveAttrs(&m.Code.Attrs,
			classfile.AttrLineNumberTable,
			classfile.AttrLocalVariableTable,
			classfile.AttrLocalVariableTypeTable)
		m.Code.Lines = nil
		m.Code.Locals = nil
		m.Code.LocalTypes = nil
	}
	return n
}
