package classfile

import (
	"fmt"
	"strconv"
	"strings"
)

// Text renders pool entry i the way listings show operands: class names,
// owner.name:desc for member references, quoted strings and literal
// numbers. ok is false for an invalid index.
func (p *Pool) Text(i int) (string, bool) {
	e, err := p.At(i)
	if err != nil {
		return "", false
	}
	switch e.Tag {
	case TagUtf8:
		s, err := p.Utf8(i)
		return s, err == nil
	case TagInteger:
		return strconv.Itoa(int(e.Int())), true
	case TagFloat:
		return strconv.FormatFloat(float64(e.Float()), 'g', -1, 32) + "f", true
	case TagLong:
		return strconv.FormatInt(e.Long(), 10) + "L", true
	case TagDouble:
		return strconv.FormatFloat(e.Double(), 'g', -1, 64), true
	case TagClass, TagModule, TagPackage:
		s, err := p.Utf8(int(e.A))
		return s, err == nil
	case TagString:
		s, err := p.String(i)
		return strconv.Quote(s), err == nil
	case TagMethodType:
		s, err := p.Utf8(int(e.A))
		return "(MethodType) " + s, err == nil
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
		owner, name, desc, err := p.Member(i)
		if err != nil {
			return "", false
		}
		if e.Tag == TagFieldref {
			return owner + "." + name + ":" + desc, true
		}
		return owner + "." + name + desc, true
	case TagNameAndType:
		name, desc, err := p.NameAndType(i)
		return name + ":" + desc, err == nil
	case TagMethodHandle:
		ref, ok := p.Text(int(e.A))
		return fmt.Sprintf("(MethodHandle %d) %s", e.Kind, ref), ok
	case TagDynamic, TagInvokeDynamic:
		name, desc, err := p.NameAndType(int(e.B))
		return fmt.Sprintf("#%d:%s%s", e.A, name, desc), err == nil
	}
	return "", false
}

var accessNames = []struct {
	flag uint16
	name string
}{
	{AccPublic, "public"},
	{AccPrivate, "private"},
	{AccProtected, "protected"},
	{AccStatic, "static"},
	{AccFinal, "final"},
	{AccSynchronized, "synchronized"},
	{AccBridge, "bridge"},
	{AccVarargs, "varargs"},
	{AccNative, "native"},
	{AccAbstract, "abstract"},
	{AccStrict, "strictfp"},
	{AccSynthetic, "synthetic"},
}

// MethodAccess renders method access flags as space-separated keywords.
func MethodAccess(flags uint16) string {
	var parts []string
	for _, a := range accessNames {
		if flags&a.flag != 0 {
			parts = append(parts, a.name)
		}
	}
	return strings.Join(parts, " ")
}
