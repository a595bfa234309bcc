// Package verify infers the verification type state of every instruction in
// a method: the information behind max_stack, max_locals and StackMapTable
// frames.
package verify

import (
	"fmt"
	"strings"

	"classmorph/internal/classfile"
)

// Tag is a verification type tag.
type Tag uint8

const (
	Top Tag = iota
	Integer
	Float
	Long
	Double
	Null
	UninitializedThis
	Uninitialized
	Object
)

// Type is a verification type. Name is an internal class name or, for
// arrays, a field descriptor. New is the instruction index of the new that
// created an Uninitialized value.
type Type struct {
	Tag  Tag
	Name string
	New  int
}

var (
	TopType     = Type{Tag: Top}
	IntType     = Type{Tag: Integer}
	FloatType   = Type{Tag: Float}
	LongType    = Type{Tag: Long}
	DoubleType  = Type{Tag: Double}
	NullType    = Type{Tag: Null}
	ObjectType  = Ref("java/lang/Object")
	StringType  = Ref("java/lang/String")
	ThrowableTy = Ref("java/lang/Throwable")
)

// Ref returns the reference type of an internal name or array descriptor.
func Ref(name string) Type { return Type{Tag: Object, Name: name} }

// Size returns the slots the type occupies.
func (t Type) Size() int {
	if t.Tag == Long || t.Tag == Double {
		return 2
	}
	return 1
}

// IsRef reports whether t is a reference (initialized or not) or null.
func (t Type) IsRef() bool {
	switch t.Tag {
	case Object, Null, Uninitialized, UninitializedThis:
		return true
	}
	return false
}

// IsArray reports whether t is an array type.
func (t Type) IsArray() bool { return t.Tag == Object && strings.HasPrefix(t.Name, "[") }

func (t Type) String() string {
	switch t.Tag {
	case Top:
		return "top"
	case Integer:
		return "int"
	case Float:
		return "float"
	case Long:
		return "long"
	case Double:
		return "double"
	case Null:
		return "null"
	case UninitializedThis:
		return "uninit_this"
	case Uninitialized:
		return fmt.Sprintf("uninit@%d", t.New)
	}
	return t.Name
}

// FromDesc returns the type of a value of field descriptor desc.
func FromDesc(desc string) Type {
	switch desc[0] {
	case 'B', 'C', 'I', 'S', 'Z':
		return IntType
	case 'J':
		return LongType
	case 'F':
		return FloatType
	case 'D':
		return DoubleType
	case 'L':
		return Ref(desc[1 : len(desc)-1])
	}
	return Ref(desc)
}

// Desc returns the field descriptor of a reference type name.
func Desc(name string) string {
	if strings.HasPrefix(name, "[") {
		return name
	}
	return "L" + name + ";"
}

// State is the type state before an instruction. Locals are slot-indexed:
// a long or double at slot i leaves Top at slot i+1. Stack holds one entry
// per value, bottom first.
type State struct {
	Locals []Type
	Stack  []Type
}

func (s *State) clone() *State {
	return &State{
		Locals: append([]Type(nil), s.Locals...),
		Stack:  append([]Type(nil), s.Stack...),
	}
}

// Depth returns the stack depth in slots.
func (s *State) Depth() int {
	n := 0
	for _, t := range s.Stack {
		n += t.Size()
	}
	return n
}

func (s *State) equal(o *State) bool {
	if len(s.Locals) != len(o.Locals) || len(s.Stack) != len(o.Stack) {
		return false
	}
	for i := range s.Locals {
		if s.Locals[i] != o.Locals[i] {
			return false
		}
	}
	for i := range s.Stack {
		if s.Stack[i] != o.Stack[i] {
			return false
		}
	}
	return true
}

// Hierarchy answers superclass queries for common-superclass computation.
type Hierarchy interface {
	// Super returns the superclass of name ("" for java/lang/Object) and
	// whether name is an interface. ok is false for unknown classes.
	Super(name string) (super string, iface, ok bool)
}

// CommonSuperclass returns the closest common superclass of a and b. It
// falls back to java/lang/Object with ok=false when part of either chain is
// unknown.
func CommonSuperclass(h Hierarchy, a, b string) (name string, ok bool) {
	if a == b {
		return a, true
	}
	const object = "java/lang/Object"
	chain := func(n string) ([]string, bool) {
		var out []string
		seen := make(map[string]bool)
		for n != "" && !seen[n] {
			seen[n] = true
			out = append(out, n)
			super, iface, ok := h.Super(n)
			if !ok {
				return out, false
			}
			if iface {
				return []string{object}, true
			}
			n = super
		}
		return out, true
	}
	ca, oka := chain(a)
	cb, okb := chain(b)
	if !oka || !okb {
		return object, false
	}
	in := make(map[string]bool, len(ca))
	for _, n := range ca {
		in[n] = true
	}
	for _, n := range cb {
		if in[n] {
			return n, true
		}
	}
	return object, true
}

// Table is a Hierarchy backed by a map. It starts with the JDK classes most
// often met in exception handlers and merges.
type Table struct {
	classes map[string]tableEntry
}

type tableEntry struct {
	super string
	iface bool
}

var jdkClasses = map[string]string{
	"java/lang/Object":                       "",
	"java/lang/String":                       "java/lang/Object",
	"java/lang/Number":                       "java/lang/Object",
	"java/lang/Integer":                      "java/lang/Number",
	"java/lang/Long":                         "java/lang/Number",
	"java/lang/Class":                        "java/lang/Object",
	"java/lang/Enum":                         "java/lang/Object",
	"java/lang/Record":                       "java/lang/Object",
	"java/lang/Throwable":                    "java/lang/Object",
	"java/lang/Exception":                    "java/lang/Throwable",
	"java/lang/Error":                        "java/lang/Throwable",
	"java/lang/RuntimeException":             "java/lang/Exception",
	"java/lang/IllegalArgumentException":     "java/lang/RuntimeException",
	"java/lang/IllegalStateException":        "java/lang/RuntimeException",
	"java/lang/NullPointerException":         "java/lang/RuntimeException",
	"java/lang/ArithmeticException":          "java/lang/RuntimeException",
	"java/lang/ClassCastException":           "java/lang/RuntimeException",
	"java/lang/IndexOutOfBoundsException":    "java/lang/RuntimeException",
	"java/io/IOException":                    "java/lang/Exception",
	"java/lang/ReflectiveOperationException": "java/lang/Exception",
	"java/lang/ClassNotFoundException":       "java/lang/ReflectiveOperationException",
	"java/lang/InterruptedException":         "java/lang/Exception",
	"java/lang/StringBuilder":                "java/lang/Object",
}

var jdkInterfaces = []string{
	"java/lang/Runnable", "java/lang/Comparable", "java/lang/Iterable",
	"java/lang/AutoCloseable", "java/io/Closeable", "java/io/Serializable",
	"java/lang/Cloneable", "java/lang/CharSequence", "java/util/List",
	"java/util/Map", "java/util/Collection",
}

// NewTable returns a table preloaded with common JDK classes.
func NewTable() *Table {
	t := &Table{classes: make(map[string]tableEntry, len(jdkClasses)+len(jdkInterfaces))}
	for n, s := range jdkClasses {
		t.classes[n] = tableEntry{super: s}
	}
	for _, n := range jdkInterfaces {
		t.classes[n] = tableEntry{super: "java/lang/Object", iface: true}
	}
	return t
}

// Add records a class.
func (t *Table) Add(name, super string, iface bool) {
	t.classes[name] = tableEntry{super: super, iface: iface}
}

// AddClass records a parsed class under its current name.
func (t *Table) AddClass(c *classfile.Class) {
	t.Add(c.Name(), c.SuperName(), c.IsInterface())
}

func (t *Table) Super(name string) (string, bool, bool) {
	e, ok := t.classes[name]
	return e.super, e.iface, ok
}
