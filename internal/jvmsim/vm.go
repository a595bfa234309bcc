// Package jvmsim interprets parsed class files. It covers the instruction
// set and the handful of platform classes the transformation tests need to
// compare a method's behaviour before and after obfuscation; it is not a
// general purpose virtual machine.
package jvmsim

import (
	"errors"
	"fmt"
	"strings"

	"classmorph/internal/classfile"
)

// Value is a JVM value: int32 (also boolean, byte, char and short),
// int64, float32, float64, *Object, *Array or nil for null.
type Value any

// Object is a class instance. Strings keep their UTF-16 content in Chars
// and string builders accumulate in Chars as well.
type Object struct {
	Class  string
	Fields map[string]Value
	Chars  []uint16
}

// Array is an array instance; Desc is its descriptor, e.g. "[I".
type Array struct {
	Desc  string
	Elems []Value
}

// Thrown is a Java exception that escaped the invoked method.
type Thrown struct{ Obj *Object }

func (t *Thrown) Error() string {
	if msg, ok := t.Obj.Fields["message"].(*Object); ok && msg != nil {
		return t.Obj.Class + ": " + string(decodeUTF16(msg.Chars))
	}
	return t.Obj.Class
}

// ErrStepLimit is returned when execution exceeds VM.MaxSteps.
var ErrStepLimit = errors.New("jvmsim: step limit exceeded")

// VM holds loaded classes and their static state.
type VM struct {
	// MaxSteps bounds the instructions one Invoke may execute.
	MaxSteps int

	classes map[string]*classfile.Class
	statics map[string]Value
	inited  map[string]bool
	interns map[string]*Object
	steps   int
}

// New loads classes.
func New(classes ...*classfile.Class) *VM {
	vm := &VM{
		MaxSteps: 1 << 22,
		classes:  make(map[string]*classfile.Class),
		statics:  make(map[string]Value),
		inited:   make(map[string]bool),
		interns:  make(map[string]*Object),
	}
	for _, c := range classes {
		vm.classes[c.Name()] = c
	}
	return vm
}

// Class returns the loaded class name, or nil.
func (vm *VM) Class(name string) *classfile.Class { return vm.classes[name] }

// Invoke runs the static method owner.name desc.
func (vm *VM) Invoke(owner, name, desc string, args ...Value) (Value, error) {
	vm.steps = 0
	if err := vm.initClass(owner); err != nil {
		return nil, err
	}
	c, m := vm.findMethod(owner, name, desc)
	if m == nil {
		return nil, fmt.Errorf("jvmsim: no method %s.%s%s", owner, name, desc)
	}
	return vm.call(c, m, args)
}

// Static returns the value of static field owner.name.
func (vm *VM) Static(owner, name string) (Value, bool) {
	decl := vm.fieldOwner(owner, name, true)
	v, ok := vm.statics[decl+"."+name]
	return v, ok
}

// String returns the interned string s.
func (vm *VM) String(s string) *Object { return vm.intern(encodeUTF16(s)) }

func (vm *VM) intern(cs []uint16) *Object {
	var b strings.Builder
	for _, c := range cs {
		b.WriteByte(byte(c >> 8))
		b.WriteByte(byte(c))
	}
	key := b.String()
	if o, ok := vm.interns[key]; ok {
		return o
	}
	o := newString(cs)
	vm.interns[key] = o
	return o
}

// GoString converts a Java string to Go.
func GoString(v Value) (string, bool) {
	o, ok := v.(*Object)
	if !ok || o == nil || o.Class != "java/lang/String" {
		return "", false
	}
	return string(decodeUTF16(o.Chars)), true
}

func newString(cs []uint16) *Object {
	return &Object{Class: "java/lang/String", Chars: cs}
}

func (vm *VM) initClass(name string) error {
	c := vm.classes[name]
	if c == nil || vm.inited[name] {
		return nil
	}
	vm.inited[name] = true
	if s := c.SuperName(); s != "" {
		if err := vm.initClass(s); err != nil {
			return err
		}
	}
	for _, f := range c.Fields {
		if f.Access&classfile.AccStatic == 0 {
			continue
		}
		key := name + "." + c.NameOf(&f.Member)
		vm.statics[key] = zero(c.DescOf(&f.Member))
		a := classfile.Attr(f.Attrs, classfile.AttrConstantValue)
		if a == nil {
			continue
		}
		idx, ok := classfile.U16Attr(a)
		if !ok {
			continue
		}
		v, err := vm.constant(c, int(idx))
		if err != nil {
			return err
		}
		vm.statics[key] = v
	}
	if m := c.Method("<clinit>", "()V"); m != nil {
		if _, err := vm.call(c, m, nil); err != nil {
			return err
		}
	}
	return nil
}

// findMethod looks name desc up in class and its loaded supertypes.
func (vm *VM) findMethod(class, name, desc string) (*classfile.Class, *classfile.Method) {
	for cur := class; cur != ""; {
		c := vm.classes[cur]
		if c == nil {
			return nil, nil
		}
		if m := c.Method(name, desc); m != nil {
			return c, m
		}
		for _, i := range c.InterfaceNames() {
			if ic, m := vm.findMethod(i, name, desc); m != nil && m.Code != nil {
				return ic, m
			}
		}
		cur = c.SuperName()
	}
	return nil, nil
}

// fieldOwner returns the class declaring field name, starting at class.
func (vm *VM) fieldOwner(class, name string, static bool) string {
	for cur := class; cur != ""; {
		c := vm.classes[cur]
		if c == nil {
			break
		}
		for _, f := range c.Fields {
			if c.NameOf(&f.Member) == name && (f.Access&classfile.AccStatic != 0) == static {
				return cur
			}
		}
		cur = c.SuperName()
	}
	return class
}

func (vm *VM) newObject(class string) *Object {
	o := &Object{Class: class, Fields: make(map[string]Value)}
	for cur := class; cur != ""; {
		c := vm.classes[cur]
		if c == nil {
			break
		}
		for _, f := range c.Fields {
			if f.Access&classfile.AccStatic == 0 {
				o.Fields[c.NameOf(&f.Member)] = zero(c.DescOf(&f.Member))
			}
		}
		cur = c.SuperName()
	}
	return o
}

// platform supertypes of the library classes the natives model.
var platform = map[string]string{
	"java/lang/String":                          "java/lang/Object",
	"java/lang/StringBuilder":                   "java/lang/Object",
	"java/lang/Integer":                         "java/lang/Number",
	"java/lang/Number":                          "java/lang/Object",
	"java/lang/Class":                           "java/lang/Object",
	"java/lang/Throwable":                       "java/lang/Object",
	"java/lang/Exception":                       "java/lang/Throwable",
	"java/lang/Error":                           "java/lang/Throwable",
	"java/lang/RuntimeException":                "java/lang/Exception",
	"java/lang/IllegalStateException":           "java/lang/RuntimeException",
	"java/lang/IllegalArgumentException":        "java/lang/RuntimeException",
	"java/lang/ArithmeticException":             "java/lang/RuntimeException",
	"java/lang/NullPointerException":            "java/lang/RuntimeException",
	"java/lang/ClassCastException":              "java/lang/RuntimeException",
	"java/lang/NegativeArraySizeException":      "java/lang/RuntimeException",
	"java/lang/IndexOutOfBoundsException":       "java/lang/RuntimeException",
	"java/lang/ArrayIndexOutOfBoundsException":  "java/lang/IndexOutOfBoundsException",
	"java/lang/UnsupportedOperationException":   "java/lang/RuntimeException",
	"java/lang/ArrayStoreException":             "java/lang/RuntimeException",
	"java/lang/StringIndexOutOfBoundsException": "java/lang/IndexOutOfBoundsException",
}

var platformIfaces = map[string][]string{
	"java/lang/String": {"java/lang/CharSequence", "java/lang/Comparable", "java/io/Serializable"},
}

// assignable reports whether a value of runtime class from is an instance
// of to.
func (vm *VM) assignable(from, to string) bool {
	if from == to || to == "java/lang/Object" {
		return true
	}
	if strings.HasPrefix(from, "[") {
		if !strings.HasPrefix(to, "[") {
			return to == "java/lang/Cloneable" || to == "java/io/Serializable"
		}
		fe, te := from[1:], to[1:]
		if strings.HasPrefix(fe, "L") && strings.HasPrefix(te, "L") {
			return vm.assignable(fe[1:len(fe)-1], te[1:len(te)-1])
		}
		return fe == te || strings.HasPrefix(fe, "[") && vm.assignable(fe, te)
	}
	for _, i := range vm.interfaces(from) {
		if vm.assignable(i, to) {
			return true
		}
	}
	if s := vm.super(from); s != "" {
		return vm.assignable(s, to)
	}
	return false
}

func (vm *VM) super(name string) string {
	if c := vm.classes[name]; c != nil {
		return c.SuperName()
	}
	return platform[name]
}

func (vm *VM) interfaces(name string) []string {
	if c := vm.classes[name]; c != nil {
		return c.InterfaceNames()
	}
	return platformIfaces[name]
}

// throw builds a platform exception.
func (vm *VM) throw(class, msg string) error {
	o := vm.newObject(class)
	if msg != "" {
		o.Fields["message"] = vm.String(msg)
	}
	return &Thrown{Obj: o}
}

func (vm *VM) constant(c *classfile.Class, idx int) (Value, error) {
	e, err := c.Pool.At(idx)
	if err != nil {
		return nil, err
	}
	switch e.Tag {
	case classfile.TagInteger:
		return e.Int(), nil
	case classfile.TagFloat:
		return e.Float(), nil
	case classfile.TagLong:
		return e.Long(), nil
	case classfile.TagDouble:
		return e.Double(), nil
	case classfile.TagString:
		cs, err := c.Pool.StringChars(idx)
		if err != nil {
			return nil, err
		}
		return vm.intern(cs), nil
	case classfile.TagClass:
		name, err := c.Pool.ClassName(idx)
		if err != nil {
			return nil, err
		}
		o := vm.newObject("java/lang/Class")
		o.Fields["name"] = vm.String(name)
		return o, nil
	}
	return nil, fmt.Errorf("jvmsim: unsupported constant %s", e.Tag)
}

func zero(desc string) Value {
	switch desc[0] {
	case 'B', 'C', 'I', 'S', 'Z':
		return int32(0)
	case 'J':
		return int64(0)
	case 'F':
		return float32(0)
	case 'D':
		return float64(0)
	}
	return nil
}
