// Package passes holds the transformations applied to an indexed batch:
// identifier renaming, literal encryption, opaque predicates, control flow
// flattening, debug info stripping and member shuffling.
//
// Passes run in a fixed order. Each pass walks the batch units concurrently
// and the methods of one unit in declaration order, so that constant pool
// growth, and with it the emitted bytes, does not depend on scheduling.
package passes

import (
	stdctx "context"
	"fmt"
	"runtime"
	"sync"

	"classmorph/internal/classfile"
	"classmorph/internal/config"
	"classmorph/internal/diag"
	"classmorph/internal/program"
	"classmorph/internal/verify"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// Pass is one transformation.
type Pass interface {
	fmt.Stringer
	// Skip reports whether the pass has nothing to do for this run.
	Skip(ctx *Context) bool
	Run(ctx *Context) error
}

// All returns every pass in execution order. Renaming comes first so that
// the members injected by later passes are never renamed; literal
// encryption precedes flattening so its decode sequences are flattened too.
func All() []Pass {
	return []Pass{Rename{}, Literals{}, Opaque{}, Flatten{}, Strip{}, Shuffle{}}
}

// Context carries the batch through the passes.
type Context struct {
	stdctx.Context
	Index  *program.Index
	Plan   *program.Plan
	Config *config.Config
	Log    *log.Logger
	// Hierarchy answers type merges under the planned class names.
	Hierarchy *verify.Table
	// Skipped records method/pass pairs declined with UnsupportedConstruct.
	Skipped *diag.Errors

	mu       sync.Mutex
	modified map[string]bool
	failed   map[string]error
}

// NewContext prepares a run over ix: it computes the rename plan the
// configuration asks for.
func NewContext(ctx stdctx.Context, ix *program.Index, cfg *config.Config, lg *log.Logger) *Context {
	plan := ix.Plan(program.PlanOptions{
		Classes:  cfg.RenameClasses,
		Members:  cfg.RenameMembers,
		Packages: cfg.RenamePackages,
		Prefix:   cfg.NamePrefix,
	})
	return &Context{
		Context:   ctx,
		Index:     ix,
		Plan:      plan,
		Config:    cfg,
		Log:       lg,
		Hierarchy: ix.Hierarchy(plan),
		Skipped:   &diag.Errors{},
		modified:  make(map[string]bool),
		failed:    make(map[string]error),
	}
}

// Run applies passes in order. A pass error aborts the run; per-unit and
// per-method failures are recorded instead.
func Run(ctx *Context, passes ...Pass) error {
	for _, p := range passes {
		if p.Skip(ctx) {
			ctx.Log.Debug("pass skipped", "pass", p.String())
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		before := ctx.Skipped.Len()
		if err := p.Run(ctx); err != nil {
			return fmt.Errorf("passes: %s: %w", p, err)
		}
		ctx.Log.Debug("pass done", "pass", p.String(), "declined", ctx.Skipped.Len()-before)
	}
	return nil
}

// Modified reports whether a pass changed unit, so that its constant pool
// needs a sweep. unit is the original class name.
func (ctx *Context) Modified(unit string) bool {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.modified[unit]
}

func (ctx *Context) touch(unit string) {
	ctx.mu.Lock()
	ctx.modified[unit] = true
	ctx.mu.Unlock()
}

// Failed returns the error that removed unit from the run, if any.
func (ctx *Context) Failed(unit string) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.failed[unit]
}

func (ctx *Context) fail(unit string, err error) {
	ctx.mu.Lock()
	if ctx.failed[unit] == nil {
		ctx.failed[unit] = err
	}
	ctx.mu.Unlock()
}

func (ctx *Context) parallelism() int {
	if n := ctx.Config.Parallelism; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// unit is a batch class paired with its original name.
type unit struct {
	*classfile.Class
	name string
}

// eachUnit runs fn for every batch unit that is neither excluded nor
// failed. A per-unit diag error removes that unit from the rest of the run;
// any other error aborts it.
func (ctx *Context) eachUnit(pass string, fn func(u unit) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ctx.parallelism())
	for _, c := range ctx.Index.Units() {
		name := ctx.Index.UnitName(c)
		if _, ok := ctx.Index.Excluded(name); ok || ctx.Failed(name) != nil {
			continue
		}
		u := unit{Class: c, name: name}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := fn(u)
			if de, ok := diag.As(err); ok && !de.Kind.Fatal() {
				if de.Unit == "" {
					de.In(name)
				}
				de.Pass = pass
				ctx.fail(name, de)
				ctx.Log.Warn("unit dropped", "unit", name, "pass", pass, "err", de)
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// eachMethod runs fn on every method of u with code, in declaration order.
// When fn declines a method with UnsupportedConstruct the method is
// restored and the decline recorded.
func (ctx *Context) eachMethod(pass string, u unit, fn func(m *classfile.Method) error) error {
	for _, m := range u.Methods {
		if m.Code == nil {
			continue
		}
		snap := m.Code.Clone()
		err := fn(m)
		if err == nil {
			continue
		}
		if !diag.IsKind(err, diag.UnsupportedConstruct) {
			return err
		}
		m.Code = snap
		de, _ := diag.As(err)
		de.Unit = u.name
		de.Pass = pass
		if de.Method == "" {
			de.Method = u.NameOf(&m.Member) + u.DescOf(&m.Member)
		}
		ctx.Skipped.Add(de)
		ctx.Log.Debug("method declined", "unit", u.name, "method", de.Method, "pass", pass, "reason", de.Msg)
	}
	return nil
}

// decline returns the UnsupportedConstruct error of a method a pass cannot
// safely transform.
func decline(format string, args ...any) error {
	return diag.New(diag.UnsupportedConstruct, format, args...)
}
