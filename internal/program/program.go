// Package program builds the whole-program index of a batch of classes:
// the symbol registry, the inheritance graph, member reference resolution,
// override sets and the renamable/fixed status of every declaration.
package program

import (
	"fmt"
	"slices"
	"sync"

	"classmorph/internal/classfile"

	"github.com/dominikbraun/graph"
)

// SymbolID is the stable identity of a declaration.
type SymbolID int32

// NoSymbol is the zero, invalid SymbolID.
const NoSymbol SymbolID = 0

// SymbolKind distinguishes classes, fields and methods.
type SymbolKind uint8

const (
	ClassSymbol SymbolKind = iota + 1
	FieldSymbol
	MethodSymbol
)

func (k SymbolKind) String() string {
	switch k {
	case ClassSymbol:
		return "class"
	case FieldSymbol:
		return "field"
	case MethodSymbol:
		return "method"
	}
	return "unknown"
}

// Origin says where a declaration comes from.
type Origin uint8

const (
	// Batch symbols are declared by units being transformed.
	Batch Origin = iota
	// Library symbols are declared by classpath units, indexed but never emitted.
	Library
	// External symbols are referenced but declared nowhere the index can see.
	External
)

func (o Origin) String() string {
	return [...]string{"batch", "library", "external"}[o]
}

// Symbol is a resolved declaration. Class symbols have Owner == ID.
type Symbol struct {
	ID     SymbolID
	Kind   SymbolKind
	Owner  SymbolID
	Name   string
	Desc   string
	Access uint16
	Origin Origin
	// Fixed symbols keep their names. Reason says which rule fixed them.
	Fixed  bool
	Reason string
}

// Key returns a readable unique key: the class name, or owner.name:desc.
func (ix *Index) Key(id SymbolID) string {
	s := ix.Symbol(id)
	if s.Kind == ClassSymbol {
		return s.Name
	}
	return ix.Symbol(s.Owner).Name + "." + s.Name + ":" + s.Desc
}

type memberKey struct {
	owner      SymbolID
	name, desc string
}

type refKey struct {
	unit string
	idx  int
}

// classInfo is the resolved shape of a class symbol.
type classInfo struct {
	unit    *classfile.Class // nil for external classes
	super   SymbolID
	ifaces  []SymbolID
	fields  []SymbolID
	methods []SymbolID
	iface   bool
	// known is set when every declared member of the class is visible.
	known   bool
}

// Index is the whole-program symbol table. It is built once by Build and
// then only read, except for synthetic name reservation.
type Index struct {
	syms    []*Symbol // syms[0] is unused
	classes map[string]SymbolID
	fields  map[memberKey]SymbolID
	methods map[memberKey]SymbolID
	info    map[SymbolID]*classInfo
	units   []*classfile.Class
	// names holds each unit's class name as parsed. Passes rename units in
	// place, so every per-unit key uses this name.
	names   map[*classfile.Class]string
	refs    map[refKey]SymbolID
	externs map[memberKey]SymbolID

	// excluded maps class names removed from every pass to the pattern
	// that excluded them.
	excluded map[string]string

	inherit graph.Graph[string, string]

	sets    *unionFind
	members map[int][]SymbolID

	rules Rules
	seed  int64

	mu        sync.Mutex
	used      map[string]bool
	synthetic map[string]string
}

// Symbol returns the symbol with the given id.
func (ix *Index) Symbol(id SymbolID) *Symbol {
	if id <= 0 || int(id) >= len(ix.syms) {
		panic(fmt.Sprintf("program: bad symbol id %d", id))
	}
	return ix.syms[id]
}

// Len returns the number of registered symbols.
func (ix *Index) Len() int { return len(ix.syms) - 1 }

// Units returns the batch units in name order.
func (ix *Index) Units() []*classfile.Class { return ix.units }

// UnitName returns the name unit c had when the index was built, whatever
// it has been renamed to since. It is empty for classes outside the batch.
func (ix *Index) UnitName(c *classfile.Class) string { return ix.names[c] }

// Unit returns the batch unit declaring class name, or nil.
func (ix *Index) Unit(name string) *classfile.Class {
	id, ok := ix.classes[name]
	if !ok {
		return nil
	}
	return ix.info[id].unit
}

// Class returns the symbol of class name.
func (ix *Index) Class(name string) (SymbolID, bool) {
	id, ok := ix.classes[name]
	return id, ok
}

// Method returns the symbol of a method declared by class.
func (ix *Index) Method(class, name, desc string) (SymbolID, bool) {
	c, ok := ix.classes[class]
	if !ok {
		return NoSymbol, false
	}
	id, ok := ix.methods[memberKey{c, name, desc}]
	return id, ok
}

// Field returns the symbol of a field declared by class.
func (ix *Index) Field(class, name, desc string) (SymbolID, bool) {
	c, ok := ix.classes[class]
	if !ok {
		return NoSymbol, false
	}
	id, ok := ix.fields[memberKey{c, name, desc}]
	return id, ok
}

// Members returns the declared fields and methods of a class symbol.
func (ix *Index) Members(class SymbolID) []SymbolID {
	in := ix.info[class]
	if in == nil {
		return nil
	}
	return slices.Concat(in.fields, in.methods)
}

// Super returns the superclass symbol of class, or NoSymbol.
func (ix *Index) Super(class SymbolID) SymbolID {
	if in := ix.info[class]; in != nil {
		return in.super
	}
	return NoSymbol
}

// Interfaces returns the direct superinterfaces of class.
func (ix *Index) Interfaces(class SymbolID) []SymbolID {
	if in := ix.info[class]; in != nil {
		return in.ifaces
	}
	return nil
}

// IsInterface reports whether class is a known interface.
func (ix *Index) IsInterface(class SymbolID) bool {
	in := ix.info[class]
	return in != nil && in.iface
}

// Ref returns the symbol a member reference entry of unit resolved to.
func (ix *Index) Ref(unit string, poolIdx int) (SymbolID, bool) {
	id, ok := ix.refs[refKey{unit, poolIdx}]
	return id, ok
}

// Graph returns the inheritance graph: an edge runs from every class to
// each of its direct supertypes.
func (ix *Index) Graph() graph.Graph[string, string] { return ix.inherit }

// OverrideSet returns the override set of a method symbol. Fields and
// non-virtual methods are singleton sets.
func (ix *Index) OverrideSet(id SymbolID) int { return ix.sets.find(int(id)) }

// SetMembers returns the symbols sharing id's override set, in id order.
func (ix *Index) SetMembers(id SymbolID) []SymbolID {
	return ix.members[ix.OverrideSet(id)]
}
