package classfile

import (
	"encoding/binary"
	"fmt"
)

// AnnRef classifies a pool index found inside annotation data.
type AnnRef uint8

const (
	AnnType      AnnRef = iota // Utf8 field descriptor of an annotation type
	AnnElement                 // Utf8 element name
	AnnConst                   // constant value (Utf8 for strings)
	AnnEnumType                // Utf8 field descriptor of an enum type
	AnnEnumConst               // Utf8 enum constant name
	AnnClass                   // Utf8 return descriptor of a class literal
)

// IsAnnotationAttr reports whether name is an attribute WalkAnnotations
// understands.
func IsAnnotationAttr(name string) bool {
	switch name {
	case AttrRuntimeVisibleAnn, AttrRuntimeInvisibleAnn,
		AttrRuntimeVisibleParamAnn, AttrRuntimeInvisibleParam,
		AttrRuntimeVisibleTypeAnn, AttrRuntimeInvisibleTypeAnn,
		AttrAnnotationDefault:
		return true
	}
	return false
}

// WalkAnnotations calls visit with the byte position of every pool index in
// the annotation attribute data. Callers may rewrite the two bytes at pos.
func WalkAnnotations(name string, data []byte, visit func(ref AnnRef, pos int)) error {
	w := &annWalker{data: data, visit: visit}
	var err error
	switch name {
	case AttrRuntimeVisibleAnn, AttrRuntimeInvisibleAnn:
		err = w.annotations(false)
	case AttrRuntimeVisibleTypeAnn, AttrRuntimeInvisibleTypeAnn:
		err = w.annotations(true)
	case AttrRuntimeVisibleParamAnn, AttrRuntimeInvisibleParam:
		var n int
		if n, err = w.u1(); err == nil {
			for i := 0; i < n && err == nil; i++ {
				err = w.annotations(false)
			}
		}
	case AttrAnnotationDefault:
		err = w.element()
	default:
		return fmt.Errorf("%s is not an annotation attribute", name)
	}
	if err == nil && w.pos != len(data) {
		err = ErrStreamTrailer
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

type annWalker struct {
	data  []byte
	pos   int
	visit func(AnnRef, int)
}

func (w *annWalker) u1() (int, error) {
	if w.pos+1 > len(w.data) {
		return 0, ErrStreamEOF
	}
	w.pos++
	return int(w.data[w.pos-1]), nil
}

func (w *annWalker) u2() (int, error) {
	if w.pos+2 > len(w.data) {
		return 0, ErrStreamEOF
	}
	w.pos += 2
	return int(binary.BigEndian.Uint16(w.data[w.pos-2:])), nil
}

func (w *annWalker) ref(r AnnRef) error {
	if w.pos+2 > len(w.data) {
		return ErrStreamEOF
	}
	w.visit(r, w.pos)
	w.pos += 2
	return nil
}

func (w *annWalker) skip(n int) error {
	if w.pos+n > len(w.data) {
		return ErrStreamEOF
	}
	w.pos += n
	return nil
}

func (w *annWalker) annotations(typed bool) error {
	n, err := w.u2()
	if err != nil {
		return err
	}
	for range n {
		if typed {
			if err := w.typeTarget(); err != nil {
				return err
			}
		}
		if err := w.annotation(); err != nil {
			return err
		}
	}
	return nil
}

func (w *annWalker) typeTarget() error {
	t, err := w.u1()
	if err != nil {
		return err
	}
	switch {
	case t == 0x00 || t == 0x01 || t == 0x16:
		err = w.skip(1)
	case t == 0x10 || t == 0x17 || t == 0x42 || (t >= 0x43 && t <= 0x46):
		err = w.skip(2)
	case t == 0x11 || t == 0x12:
		err = w.skip(2)
	case t >= 0x13 && t <= 0x15:
	case t == 0x40 || t == 0x41:
		var n int
		if n, err = w.u2(); err == nil {
			err = w.skip(6 * n)
		}
	case t >= 0x47 && t <= 0x4b:
		err = w.skip(3)
	default:
		return fmt.Errorf("bad type annotation target 0x%02x", t)
	}
	if err != nil {
		return err
	}
	n, err := w.u1()
	if err != nil {
		return err
	}
	return w.skip(2 * n)
}

func (w *annWalker) annotation() error {
	if err := w.ref(AnnType); err != nil {
		return err
	}
	n, err := w.u2()
	if err != nil {
		return err
	}
	for range n {
		if err := w.ref(AnnElement); err != nil {
			return err
		}
		if err := w.element(); err != nil {
			return err
		}
	}
	return nil
}

func (w *annWalker) element() error {
	tag, err := w.u1()
	if err != nil {
		return err
	}
	switch tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's':
		return w.ref(AnnConst)
	case 'e':
		if err := w.ref(AnnEnumType); err != nil {
			return err
		}
		return w.ref(AnnEnumConst)
	case 'c':
		return w.ref(AnnClass)
	case '@':
		return w.annotation()
	case '[':
		n, err := w.u2()
		if err != nil {
			return err
		}
		for range n {
			if err := w.element(); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("bad element tag %q", tag)
}
