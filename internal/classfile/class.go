// Package classfile reads, models and writes JVM class files.
//
// A parsed Class keeps its constant pool index-stable and every attribute in
// original order. Attributes the package understands are decoded into typed
// fields; everything else is kept as raw bytes and written back unchanged.
// Parsing and emitting an unmodified class reproduces the input exactly.
package classfile

import "strings"

// Magic is the class file signature.
const Magic = 0xCAFEBABE

// Supported class file major versions.
const (
	MinMajor = 45
	MaxMajor = 69
)

// Access flags.
const (
	AccPublic       = 0x0001
	AccPrivate      = 0x0002
	AccProtected    = 0x0004
	AccStatic       = 0x0008
	AccFinal        = 0x0010
	AccSuper        = 0x0020
	AccSynchronized = 0x0020
	AccVolatile     = 0x0040
	AccBridge       = 0x0040
	AccTransient    = 0x0080
	AccVarargs      = 0x0080
	AccNative       = 0x0100
	AccInterface    = 0x0200
	AccAbstract     = 0x0400
	AccStrict       = 0x0800
	AccSynthetic    = 0x1000
	AccAnnotation   = 0x2000
	AccEnum         = 0x4000
	AccModule       = 0x8000
)

// Attribute is an attribute kept as raw bytes. Attributes decoded into typed
// fields keep a placeholder entry (Data nil) so that their position in the
// attribute list survives a round trip.
type Attribute struct {
	NameIndex uint16
	Name      string
	Data      []byte
}

// Typed reports whether a is a placeholder for a decoded attribute.
func (a Attribute) Typed() bool { return a.Data == nil }

// Attribute names.
const (
	AttrCode                    = "Code"
	AttrConstantValue           = "ConstantValue"
	AttrExceptions              = "Exceptions"
	AttrSourceFile              = "SourceFile"
	AttrSourceDebugExtension    = "SourceDebugExtension"
	AttrSignature               = "Signature"
	AttrInnerClasses            = "InnerClasses"
	AttrEnclosingMethod         = "EnclosingMethod"
	AttrBootstrapMethods        = "BootstrapMethods"
	AttrNestHost                = "NestHost"
	AttrNestMembers             = "NestMembers"
	AttrPermittedSubclasses     = "PermittedSubclasses"
	AttrRecord                  = "Record"
	AttrMethodParameters        = "MethodParameters"
	AttrLineNumberTable         = "LineNumberTable"
	AttrLocalVariableTable      = "LocalVariableTable"
	AttrLocalVariableTypeTable  = "LocalVariableTypeTable"
	AttrStackMapTable           = "StackMapTable"
	AttrDeprecated              = "Deprecated"
	AttrSynthetic               = "Synthetic"
	AttrAnnotationDefault       = "AnnotationDefault"
	AttrRuntimeVisibleAnn       = "RuntimeVisibleAnnotations"
	AttrRuntimeInvisibleAnn     = "RuntimeInvisibleAnnotations"
	AttrRuntimeVisibleParamAnn  = "RuntimeVisibleParameterAnnotations"
	AttrRuntimeInvisibleParam   = "RuntimeInvisibleParameterAnnotations"
	AttrRuntimeVisibleTypeAnn   = "RuntimeVisibleTypeAnnotations"
	AttrRuntimeInvisibleTypeAnn = "RuntimeInvisibleTypeAnnotations"
)

// known lists attributes whose pool references the package can enumerate.
// Any other attribute makes the pool sweep conservative.
var known = map[string]bool{
	AttrCode: true, AttrConstantValue: true, AttrExceptions: true, AttrSourceFile: true,
	AttrSourceDebugExtension: true, AttrSignature: true, AttrInnerClasses: true,
	AttrEnclosingMethod: true, AttrBootstrapMethods: true, AttrNestHost: true,
	AttrNestMembers: true, AttrPermittedSubclasses: true, AttrRecord: true,
	AttrMethodParameters: true, AttrLineNumberTable: true, AttrLocalVariableTable: true,
	AttrLocalVariableTypeTable: true, AttrStackMapTable: true, AttrDeprecated: true,
	AttrSynthetic: true, AttrAnnotationDefault: true, AttrRuntimeVisibleAnn: true,
	AttrRuntimeInvisibleAnn: true, AttrRuntimeVisibleParamAnn: true,
	AttrRuntimeInvisibleParam: true, AttrRuntimeVisibleTypeAnn: true,
	AttrRuntimeInvisibleTypeAnn: true,
}

// Known reports whether an attribute name is understood by this package.
func Known(name string) bool { return known[name] }

// Member holds what fields and methods share.
type Member struct {
	Access    uint16
	NameIndex uint16
	DescIndex uint16
	Attrs     []Attribute
}

// Field is a field declaration.
type Field struct {
	Member
}

// Method is a method declaration. Code is nil for abstract and native methods.
type Method struct {
	Member
	Code *Code
}

// Class is one parsed class file.
type Class struct {
	Minor, Major uint16
	Pool         *Pool
	Access       uint16
	ThisClass    uint16
	SuperClass   uint16 // 0 for java/lang/Object and module-info
	Interfaces   []uint16
	Fields       []*Field
	Methods      []*Method
	Attrs        []Attribute

	InnerClasses     []InnerClass
	EnclosingMethod  *EnclosingMethod
	BootstrapMethods []BootstrapMethod
	Record           []RecordComponent
}

// Utf8 returns the Utf8 entry at i, or "" if i is not a Utf8 entry.
func (c *Class) Utf8(i uint16) string {
	s, _ := c.Pool.Utf8(int(i))
	return s
}

// ClassAt returns the internal name of the Class entry at i, or "".
func (c *Class) ClassAt(i uint16) string {
	s, _ := c.Pool.ClassName(int(i))
	return s
}

// Name returns the internal name of the class, e.g. "com/example/Foo".
func (c *Class) Name() string { return c.ClassAt(c.ThisClass) }

// SuperName returns the internal name of the superclass, or "".
func (c *Class) SuperName() string {
	if c.SuperClass == 0 {
		return ""
	}
	return c.ClassAt(c.SuperClass)
}

// InterfaceNames returns the internal names of the direct superinterfaces.
func (c *Class) InterfaceNames() []string {
	out := make([]string, len(c.Interfaces))
	for i, idx := range c.Interfaces {
		out[i] = c.ClassAt(idx)
	}
	return out
}

// IsInterface reports whether the class is an interface or annotation type.
func (c *Class) IsInterface() bool { return c.Access&AccInterface != 0 }

// NameOf returns the name of m.
func (c *Class) NameOf(m *Member) string { return c.Utf8(m.NameIndex) }

// DescOf returns the descriptor of m.
func (c *Class) DescOf(m *Member) string { return c.Utf8(m.DescIndex) }

// Method returns the method with the given name and descriptor, or nil.
func (c *Class) Method(name, desc string) *Method {
	for _, m := range c.Methods {
		if c.NameOf(&m.Member) == name && c.DescOf(&m.Member) == desc {
			return m
		}
	}
	return nil
}

// Field returns the field with the given name and descriptor, or nil.
func (c *Class) Field(name, desc string) *Field {
	for _, f := range c.Fields {
		if c.NameOf(&f.Member) == name && c.DescOf(&f.Member) == desc {
			return f
		}
	}
	return nil
}

// Package returns the package part of an internal class name ("" for the
// default package).
func Package(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[:i]
	}
	return ""
}

// SimpleName returns the part of an internal class name after the package.
func SimpleName(name string) string {
	return name[strings.LastIndexByte(name, '/')+1:]
}

// Attr returns the first attribute named name, or nil.
func Attr(attrs []Attribute, name string) *Attribute {
	for i := range attrs {
		if attrs[i].Name == name {
			return &attrs[i]
		}
	}
	return nil
}

// RemoveAttrs drops every attribute whose name is in names and returns the
// number removed.
func RemoveAttrs(attrs *[]Attribute, names ...string) int {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	kept := (*attrs)[:0]
	removed := 0
	for _, a := range *attrs {
		if drop[a.Name] {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	*attrs = kept
	return removed
}

// SetAttr replaces the data of the first attribute named name, or appends a
// new attribute.
func (c *Class) SetAttr(attrs *[]Attribute, name string, data []byte) {
	if a := Attr(*attrs, name); a != nil {
		a.Data = data
		return
	}
	*attrs = append(*attrs, Attribute{NameIndex: uint16(c.Pool.AddUtf8(name)), Name: name, Data: data})
}

// Opaque reports whether the class, its members or their code carry an
// attribute this package does not understand.
func (c *Class) Opaque() bool {
	check := func(attrs []Attribute) bool {
		for _, a := range attrs {
			if !known[a.Name] {
				return true
			}
		}
		return false
	}
	if check(c.Attrs) {
		return true
	}
	for _, f := range c.Fields {
		if check(f.Attrs) {
			return true
		}
	}
	for _, m := range c.Methods {
		if check(m.Attrs) || (m.Code != nil && check(m.Code.Attrs)) {
			return true
		}
	}
	return false
}
