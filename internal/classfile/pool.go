package classfile

import (
	"fmt"
	"math"
	"strconv"
	"sync"
)

// Tag is a constant pool entry tag.
type Tag uint8

const (
	TagUtf8               Tag = 1
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldref           Tag = 9
	TagMethodref          Tag = 10
	TagInterfaceMethodref Tag = 11
	TagNameAndType        Tag = 12
	TagMethodHandle       Tag = 15
	TagMethodType         Tag = 16
	TagDynamic            Tag = 17
	TagInvokeDynamic      Tag = 18
	TagModule             Tag = 19
	TagPackage            Tag = 20
)

var tagNames = map[Tag]string{
	TagUtf8: "Utf8", TagInteger: "Integer", TagFloat: "Float", TagLong: "Long",
	TagDouble: "Double", TagClass: "Class", TagString: "String", TagFieldref: "Fieldref",
	TagMethodref: "Methodref", TagInterfaceMethodref: "InterfaceMethodref",
	TagNameAndType: "NameAndType", TagMethodHandle: "MethodHandle", TagMethodType: "MethodType",
	TagDynamic: "Dynamic", TagInvokeDynamic: "InvokeDynamic", TagModule: "Module", TagPackage: "Package",
}

func (t Tag) String() string {
	if n, ok := tagNames[t]; ok {
		return n
	}
	return "tag" + strconv.Itoa(int(t))
}

// Wide reports whether entries of this tag take two pool slots.
func (t Tag) Wide() bool { return t == TagLong || t == TagDouble }

// IsMemberRef reports whether t is a field, method or interface method reference.
func (t Tag) IsMemberRef() bool {
	return t == TagFieldref || t == TagMethodref || t == TagInterfaceMethodref
}

// Method handle reference kinds.
const (
	RefGetField         = 1
	RefGetStatic        = 2
	RefPutField         = 3
	RefPutStatic        = 4
	RefInvokeVirtual    = 5
	RefInvokeStatic     = 6
	RefInvokeSpecial    = 7
	RefNewInvokeSpecial = 8
	RefInvokeInterface  = 9
)

// Constant is one constant pool entry. Operand meaning depends on Tag:
//
//	Class, String, MethodType, Module, Package: A = Utf8 index
//	Fieldref, Methodref, InterfaceMethodref:     A = Class, B = NameAndType
//	NameAndType:                                 A = name, B = descriptor
//	MethodHandle:                                Kind, A = member reference
//	Dynamic, InvokeDynamic:                      A = bootstrap method slot, B = NameAndType
type Constant struct {
	Tag   Tag
	Bytes []byte // Utf8 payload, modified UTF-8
	Bits  uint64 // Integer and Float use the low 32 bits
	A, B  uint16
	Kind  uint8
}

// Refs returns the pool indices c refers to.
func (c Constant) Refs() []int {
	switch c.Tag {
	case TagClass, TagString, TagMethodType, TagModule, TagPackage, TagMethodHandle:
		return []int{int(c.A)}
	case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType:
		return []int{int(c.A), int(c.B)}
	case TagDynamic, TagInvokeDynamic:
		return []int{int(c.B)}
	}
	return nil
}

// Int returns the value of an Integer entry.
func (c Constant) Int() int32 { return int32(uint32(c.Bits)) }

// Long returns the value of a Long entry.
func (c Constant) Long() int64 { return int64(c.Bits) }

// Float returns the value of a Float entry.
func (c Constant) Float() float32 { return math.Float32frombits(uint32(c.Bits)) }

// Double returns the value of a Double entry.
func (c Constant) Double() float64 { return math.Float64frombits(c.Bits) }

func (c Constant) key() string {
	switch c.Tag {
	case TagUtf8:
		return "1:" + string(c.Bytes)
	case TagInteger, TagFloat, TagLong, TagDouble:
		return fmt.Sprintf("%d:%x", c.Tag, c.Bits)
	}
	return fmt.Sprintf("%d:%d:%d:%d", c.Tag, c.Kind, c.A, c.B)
}

// MaxPoolSize is the largest constant_pool_count a class file can carry.
const MaxPoolSize = 0xffff

// MaxUtf8Len is the largest encoded length of a Utf8 entry.
const MaxUtf8Len = 0xffff

// Pool is the constant pool of one class. Indices are stable: entries are
// only ever appended or replaced in place, never removed. All methods are
// safe for concurrent use.
type Pool struct {
	mu      sync.RWMutex
	entries []Constant // entries[0] unused; second slot of a wide entry has Tag 0
	index   map[string]int
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{entries: make([]Constant, 1)}
}

// Len returns constant_pool_count: one more than the highest index.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// At returns the entry at index i.
func (p *Pool) At(i int) (Constant, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.at(i)
}

func (p *Pool) at(i int) (Constant, error) {
	if i <= 0 || i >= len(p.entries) || p.entries[i].Tag == 0 {
		return Constant{}, fmt.Errorf("constant pool: bad index %d", i)
	}
	return p.entries[i], nil
}

func (p *Pool) expect(i int, tags ...Tag) (Constant, error) {
	c, err := p.at(i)
	if err != nil {
		return c, err
	}
	for _, t := range tags {
		if c.Tag == t {
			return c, nil
		}
	}
	return c, fmt.Errorf("constant pool: #%d is %s, want %v", i, c.Tag, tags)
}

// Tag returns the tag at index i, or 0 if i is not a valid entry.
func (p *Pool) Tag(i int) Tag {
	c, err := p.At(i)
	if err != nil {
		return 0
	}
	return c.Tag
}

// Utf8 returns the string at a Utf8 entry.
func (p *Pool) Utf8(i int) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.utf8(i)
}

func (p *Pool) utf8(i int) (string, error) {
	c, err := p.expect(i, TagUtf8)
	if err != nil {
		return "", err
	}
	return DecodeString(c.Bytes)
}

// ClassName returns the internal name of a Class entry.
func (p *Pool) ClassName(i int) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, err := p.expect(i, TagClass)
	if err != nil {
		return "", err
	}
	return p.utf8(int(c.A))
}

// NameAndType returns the name and descriptor of a NameAndType entry.
func (p *Pool) NameAndType(i int) (name, desc string, err error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nameAndType(i)
}

func (p *Pool) nameAndType(i int) (name, desc string, err error) {
	c, err := p.expect(i, TagNameAndType)
	if err != nil {
		return "", "", err
	}
	if name, err = p.utf8(int(c.A)); err != nil {
		return "", "", err
	}
	desc, err = p.utf8(int(c.B))
	return name, desc, err
}

// Member returns the owner, name and descriptor of a member reference.
func (p *Pool) Member(i int) (owner, name, desc string, err error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, err := p.expect(i, TagFieldref, TagMethodref, TagInterfaceMethodref)
	if err != nil {
		return "", "", "", err
	}
	cls, err := p.expect(int(c.A), TagClass)
	if err != nil {
		return "", "", "", err
	}
	if owner, err = p.utf8(int(cls.A)); err != nil {
		return "", "", "", err
	}
	name, desc, err = p.nameAndType(int(c.B))
	return owner, name, desc, err
}

// StringChars returns the UTF-16 code units of a String entry.
func (p *Pool) StringChars(i int) ([]uint16, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, err := p.expect(i, TagString)
	if err != nil {
		return nil, err
	}
	u, err := p.expect(int(c.A), TagUtf8)
	if err != nil {
		return nil, err
	}
	return DecodeChars(u.Bytes)
}

// String returns the value of a String entry.
func (p *Pool) String(i int) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, err := p.expect(i, TagString)
	if err != nil {
		return "", err
	}
	return p.utf8(int(c.A))
}

// Set replaces the entry at index i. Wide entries may only replace wide entries.
func (p *Pool) Set(i int, c Constant) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	old, err := p.at(i)
	if err != nil {
		return err
	}
	if old.Tag.Wide() != c.Tag.Wide() {
		return fmt.Errorf("constant pool: cannot replace %s #%d with %s", old.Tag, i, c.Tag)
	}
	p.entries[i] = c
	p.index = nil
	return nil
}

// Entries calls fn for every entry in index order.
func (p *Pool) Entries(fn func(i int, c Constant)) {
	p.mu.RLock()
	entries := p.entries
	p.mu.RUnlock()
	for i := 1; i < len(entries); i++ {
		if entries[i].Tag != 0 {
			fn(i, entries[i])
		}
	}
}

// add appends c unless an equal entry exists and returns its index.
func (p *Pool) add(c Constant) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.index == nil {
		p.index = make(map[string]int, len(p.entries))
		for i := len(p.entries) - 1; i > 0; i-- {
			if p.entries[i].Tag != 0 {
				p.index[p.entries[i].key()] = i
			}
		}
	}
	k := c.key()
	if i, ok := p.index[k]; ok {
		return i
	}
	i := len(p.entries)
	p.entries = append(p.entries, c)
	if c.Tag.Wide() {
		p.entries = append(p.entries, Constant{})
	}
	p.index[k] = i
	return i
}

// append adds c without deduplication; used by the parser.
func (p *Pool) append(c Constant) {
	p.entries = append(p.entries, c)
	if c.Tag.Wide() {
		p.entries = append(p.entries, Constant{})
	}
}

func (p *Pool) AddUtf8(s string) int {
	return p.add(Constant{Tag: TagUtf8, Bytes: EncodeString(s)})
}

func (p *Pool) AddClass(name string) int {
	return p.add(Constant{Tag: TagClass, A: uint16(p.AddUtf8(name))})
}

func (p *Pool) AddString(s string) int {
	return p.add(Constant{Tag: TagString, A: uint16(p.AddUtf8(s))})
}

// AddStringChars adds a String entry holding arbitrary UTF-16 code units.
func (p *Pool) AddStringChars(cs []uint16) int {
	u := p.add(Constant{Tag: TagUtf8, Bytes: EncodeChars(cs)})
	return p.add(Constant{Tag: TagString, A: uint16(u)})
}

func (p *Pool) AddInteger(v int32) int {
	return p.add(Constant{Tag: TagInteger, Bits: uint64(uint32(v))})
}

func (p *Pool) AddFloat(v float32) int {
	return p.add(Constant{Tag: TagFloat, Bits: uint64(math.Float32bits(v))})
}

func (p *Pool) AddLong(v int64) int {
	return p.add(Constant{Tag: TagLong, Bits: uint64(v)})
}

func (p *Pool) AddDouble(v float64) int {
	return p.add(Constant{Tag: TagDouble, Bits: math.Float64bits(v)})
}

func (p *Pool) AddNameAndType(name, desc string) int {
	return p.add(Constant{Tag: TagNameAndType, A: uint16(p.AddUtf8(name)), B: uint16(p.AddUtf8(desc))})
}

// AddMember adds a Fieldref, Methodref or InterfaceMethodref.
func (p *Pool) AddMember(tag Tag, owner, name, desc string) int {
	return p.add(Constant{Tag: tag, A: uint16(p.AddClass(owner)), B: uint16(p.AddNameAndType(name, desc))})
}

func (p *Pool) AddMethodType(desc string) int {
	return p.add(Constant{Tag: TagMethodType, A: uint16(p.AddUtf8(desc))})
}

// check reports entries the class file format cannot represent.
func (p *Pool) check() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.entries) > MaxPoolSize {
		return fmt.Errorf("constant pool has %d entries", len(p.entries))
	}
	for i, c := range p.entries {
		if c.Tag == TagUtf8 && len(c.Bytes) > MaxUtf8Len {
			return fmt.Errorf("constant pool: #%d is %d bytes long", i, len(c.Bytes))
		}
	}
	return nil
}

func (p *Pool) AddMethodHandle(kind uint8, ref int) int {
	return p.add(Constant{Tag: TagMethodHandle, Kind: kind, A: uint16(ref)})
}

// AddInvokeDynamic adds an InvokeDynamic entry for bootstrap method slot bsm.
func (p *Pool) AddInvokeDynamic(bsm int, name, desc string) int {
	return p.add(Constant{Tag: TagInvokeDynamic, A: uint16(bsm), B: uint16(p.AddNameAndType(name, desc))})
}
