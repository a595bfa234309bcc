package classfile

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"classmorph/internal/disasm"
)

// MethodDesc is a parsed method descriptor. Values returned by
// ParseMethodDesc are shared and must not be modified.
type MethodDesc struct {
	Args []string // field descriptors
	Ret  string   // field descriptor or "V"
}

// ArgSlots returns the number of local slots the arguments occupy.
func (d *MethodDesc) ArgSlots() int {
	n := 0
	for _, a := range d.Args {
		n += SlotSize(a)
	}
	return n
}

var descCache, _ = lru.New[string, *MethodDesc](4096)

// ParseMethodDesc parses a descriptor such as "(I[Ljava/lang/String;)V".
func ParseMethodDesc(desc string) (*MethodDesc, error) {
	if d, ok := descCache.Get(desc); ok {
		return d, nil
	}
	if len(desc) < 3 || desc[0] != '(' {
		return nil, fmt.Errorf("bad method descriptor %q", desc)
	}
	d := &MethodDesc{}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		end, err := fieldEnd(desc, i)
		if err != nil {
			return nil, fmt.Errorf("method descriptor %q: %w", desc, err)
		}
		d.Args = append(d.Args, desc[i:end])
		i = end
	}
	if i >= len(desc) {
		return nil, fmt.Errorf("bad method descriptor %q", desc)
	}
	ret := desc[i+1:]
	if ret != "V" {
		end, err := fieldEnd(ret, 0)
		if err != nil || end != len(ret) {
			return nil, fmt.Errorf("bad return type in %q", desc)
		}
	}
	d.Ret = ret
	descCache.Add(desc, d)
	return d, nil
}

// fieldEnd returns the index just past the field descriptor starting at i.
func fieldEnd(s string, i int) (int, error) {
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i >= len(s) {
		return 0, fmt.Errorf("truncated type")
	}
	switch s[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return i + 1, nil
	case 'L':
		j := strings.IndexByte(s[i:], ';')
		if j < 2 {
			return 0, fmt.Errorf("unterminated class type")
		}
		return i + j + 1, nil
	}
	return 0, fmt.Errorf("bad type character %q", s[i])
}

// ValidFieldDesc reports whether s is exactly one field descriptor.
func ValidFieldDesc(s string) bool {
	end, err := fieldEnd(s, 0)
	return err == nil && end == len(s)
}

// SlotSize returns the local or stack slots taken by a value of field type desc.
func SlotSize(desc string) int {
	switch desc {
	case "V":
		return 0
	case "J", "D":
		return 2
	}
	return 1
}

// ValueType returns the computational type of a field descriptor.
func ValueType(desc string) disasm.ValueType {
	switch desc[0] {
	case 'V':
		return disasm.TypeVoid
	case 'J':
		return disasm.TypeLong
	case 'F':
		return disasm.TypeFloat
	case 'D':
		return disasm.TypeDouble
	case 'L', '[':
		return disasm.TypeRef
	}
	return disasm.TypeInt
}

// ClassOfDesc returns the internal name a field descriptor refers to:
// "Lx/Y;" gives "x/Y", an array descriptor is its own name, primitives give "".
func ClassOfDesc(desc string) string {
	switch {
	case strings.HasPrefix(desc, "L") && strings.HasSuffix(desc, ";"):
		return desc[1 : len(desc)-1]
	case strings.HasPrefix(desc, "["):
		return desc
	}
	return ""
}

// ElementClass returns the class at the bottom of an array name such as
// "[[Lx/Y;", or name itself when it is not an array.
func ElementClass(name string) string {
	if !strings.HasPrefix(name, "[") {
		return name
	}
	return ClassOfDesc(strings.TrimLeft(name, "["))
}

// RemapDesc rewrites every class name in a field or method descriptor.
func RemapDesc(desc string, fn func(string) string) string {
	if strings.IndexByte(desc, 'L') < 0 {
		return desc
	}
	var sb strings.Builder
	for i := 0; i < len(desc); i++ {
		c := desc[i]
		sb.WriteByte(c)
		if c != 'L' {
			continue
		}
		j := strings.IndexByte(desc[i:], ';')
		if j < 0 {
			sb.WriteString(desc[i+1:])
			break
		}
		sb.WriteString(fn(desc[i+1 : i+j]))
		sb.WriteByte(';')
		i += j
	}
	return sb.String()
}

// RemapClassName rewrites a Class entry name, which for arrays is a
// descriptor.
func RemapClassName(name string, fn func(string) string) string {
	if strings.HasPrefix(name, "[") {
		return RemapDesc(name, fn)
	}
	return fn(name)
}

// RemapSignature rewrites every class name in a generic signature (class,
// method or field). Inner class suffixes ("Outer<T>.Inner") are mapped
// through their binary name Outer$Inner.
func RemapSignature(sig string, fn func(string) string) (string, error) {
	r := &sigRemapper{s: sig, fn: fn}
	if err := r.signature(); err != nil {
		return sig, fmt.Errorf("signature %q: %w", sig, err)
	}
	return r.out.String(), nil
}

type sigRemapper struct {
	s   string
	i   int
	fn  func(string) string
	out strings.Builder
}

func (r *sigRemapper) peek() byte {
	if r.i < len(r.s) {
		return r.s[r.i]
	}
	return 0
}

func (r *sigRemapper) copy(n int) {
	r.out.WriteString(r.s[r.i : r.i+n])
	r.i += n
}

func (r *sigRemapper) expect(c byte) error {
	if r.peek() != c {
		return fmt.Errorf("want %q at %d", c, r.i)
	}
	r.copy(1)
	return nil
}

func (r *sigRemapper) signature() error {
	if r.peek() == '<' {
		if err := r.formals(); err != nil {
			return err
		}
	}
	if r.peek() == '(' {
		r.copy(1)
		for r.peek() != ')' {
			if r.i >= len(r.s) {
				return fmt.Errorf("unterminated parameters")
			}
			if err := r.typ(); err != nil {
				return err
			}
		}
		r.copy(1)
		if r.peek() == 'V' {
			r.copy(1)
		} else if err := r.typ(); err != nil {
			return err
		}
		for r.peek() == '^' {
			r.copy(1)
			if err := r.typ(); err != nil {
				return err
			}
		}
	} else {
		for r.i < len(r.s) {
			if err := r.typ(); err != nil {
				return err
			}
		}
	}
	if r.i != len(r.s) {
		return fmt.Errorf("trailing data at %d", r.i)
	}
	return nil
}

func (r *sigRemapper) formals() error {
	r.copy(1)
	for r.peek() != '>' {
		j := strings.IndexByte(r.s[r.i:], ':')
		if j <= 0 {
			return fmt.Errorf("bad type parameter at %d", r.i)
		}
		r.copy(j)
		for r.peek() == ':' {
			r.copy(1)
			if c := r.peek(); c == 'L' || c == 'T' || c == '[' {
				if err := r.typ(); err != nil {
					return err
				}
			}
		}
	}
	r.copy(1)
	return nil
}

func (r *sigRemapper) typ() error {
	switch c := r.peek(); c {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		r.copy(1)
		return nil
	case '[':
		r.copy(1)
		return r.typ()
	case 'T':
		j := strings.IndexByte(r.s[r.i:], ';')
		if j < 0 {
			return fmt.Errorf("unterminated type variable")
		}
		r.copy(j + 1)
		return nil
	case 'L':
		return r.classType()
	default:
		return fmt.Errorf("unexpected %q at %d", c, r.i)
	}
}

func (r *sigRemapper) ident() string {
	start := r.i
	for r.i < len(r.s) {
		switch r.s[r.i] {
		case '<', '.', ';':
			return r.s[start:r.i]
		}
		r.i++
	}
	return r.s[start:r.i]
}

func (r *sigRemapper) classType() error {
	r.copy(1)
	name := r.ident()
	mapped := r.fn(name)
	r.out.WriteString(mapped)
	for {
		if r.peek() == '<' {
			if err := r.typeArgs(); err != nil {
				return err
			}
		}
		if r.peek() != '.' {
			break
		}
		r.copy(1)
		inner := r.ident()
		name += "$" + inner
		full := r.fn(name)
		switch {
		case strings.HasPrefix(full, mapped+"$"):
			r.out.WriteString(full[len(mapped)+1:])
		default:
			r.out.WriteString(full[strings.LastIndexAny(full, "$/")+1:])
		}
		mapped = full
	}
	return r.expect(';')
}

func (r *sigRemapper) typeArgs() error {
	r.copy(1)
	for r.peek() != '>' {
		switch r.peek() {
		case 0:
			return fmt.Errorf("unterminated type arguments")
		case '*':
			r.copy(1)
			continue
		case '+', '-':
			r.copy(1)
		}
		if err := r.typ(); err != nil {
			return err
		}
	}
	r.copy(1)
	return nil
}
