// Package diag provides the error kinds reported by the transformation pipeline.
package diag

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	MalformedUnit        Kind = "malformed_unit"
	UnresolvedSymbol     Kind = "unresolved_symbol"
	UnsupportedConstruct Kind = "unsupported_construct"
	LayoutDivergence     Kind = "layout_divergence"
)

// Fatal reports whether the kind aborts the whole batch.
func (k Kind) Fatal() bool { return k == UnresolvedSymbol }

// Error is a failure with enough context to locate it: the unit, the method
// (name+descriptor) and the bytecode offset when known (-1 otherwise).
type Error struct {
	Kind   Kind   `json:"kind"`
	Unit   string `json:"unit,omitempty"`
	Method string `json:"method,omitempty"`
	Pass   string `json:"pass,omitempty"`
	Offset int    `json:"offset"`
	Msg    string `json:"msg"`
	Err    error  `json:"-"`
}

func (e *Error) Error() string {
	where := e.Unit
	if e.Method != "" {
		where += "." + e.Method
	}
	if e.Offset >= 0 {
		where += fmt.Sprintf("@%d", e.Offset)
	}
	msg := e.Msg
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	if e.Pass != "" {
		return fmt.Sprintf("[%s] %s (%s): %s", e.Kind, where, e.Pass, msg)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, where, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error of the given kind with no location.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Offset: -1, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error of the given kind wrapping err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Offset: -1, Msg: fmt.Sprintf(format, args...), Err: err}
}

// In sets the unit name and returns e.
func (e *Error) In(unit string) *Error {
	e.Unit = unit
	return e
}

// At sets the method and offset and returns e.
func (e *Error) At(method string, offset int) *Error {
	e.Method = method
	e.Offset = offset
	return e
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsKind reports whether err carries an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	de, ok := As(err)
	return ok && de.Kind == kind
}

// Errors accumulates non-fatal errors, usually skipped method/pass pairs.
// It is safe for concurrent use.
type Errors struct {
	mu    sync.Mutex
	items []*Error
}

func (d *Errors) Add(e *Error) {
	d.mu.Lock()
	d.items = append(d.items, e)
	d.mu.Unlock()
}

// Items returns the errors ordered by unit, method, pass and offset, so that
// reports do not depend on scheduling.
func (d *Errors) Items() []*Error {
	d.mu.Lock()
	out := slices.Clone(d.items)
	d.mu.Unlock()
	slices.SortStableFunc(out, func(a, b *Error) int {
		return cmp.Or(
			cmp.Compare(a.Unit, b.Unit),
			cmp.Compare(a.Method, b.Method),
			cmp.Compare(a.Pass, b.Pass),
			cmp.Compare(a.Offset, b.Offset),
		)
	})
	return out
}

func (d *Errors) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}
