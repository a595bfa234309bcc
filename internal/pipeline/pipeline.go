// Package pipeline runs a batch through every stage: parse, index, the
// transformation passes, layout finalization and emission.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"classmorph/internal/classfile"
	"classmorph/internal/config"
	"classmorph/internal/diag"
	"classmorph/internal/layout"
	"classmorph/internal/logging"
	"classmorph/internal/passes"
	"classmorph/internal/program"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// Input is one batch file. Files whose name does not end in .class, and
// module descriptors, are resources: they are copied to the output as is.
type Input struct {
	Name string
	Data []byte
}

func (in Input) isClass() bool {
	return strings.HasSuffix(in.Name, ".class") && !strings.HasSuffix(in.Name, "module-info.class")
}

// UnitResult is the outcome for one input. Data is nil when Err is set.
type UnitResult struct {
	Name       string
	OutputName string
	Data       []byte
	Err        error
	Layout     layout.Stats
}

// Stats summarizes a run.
type Stats struct {
	Units     int // class inputs
	Resources int // inputs copied unchanged
	Emitted   int
	Failed    int
	Excluded  int
	Declined  int // method/pass pairs declined
	Classes   int // classes renamed
	Fields    int // fields renamed
	Methods   int // methods renamed
	InBytes   int64
	OutBytes  int64
	Layout    layout.Stats
	Elapsed   time.Duration
}

// Result is the outcome of a run, in input order.
type Result struct {
	Units    []UnitResult
	Skipped  []*diag.Error
	Mappings *program.Mappings
	Stats    Stats
}

type options struct {
	log    *log.Logger
	passes []passes.Pass
	libs   []Input
}

// Option configures Run.
type Option func(*options)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *log.Logger) Option { return func(o *options) { o.log = l } }

// WithPasses replaces the pass list. The configuration still decides which
// of them run.
func WithPasses(ps ...passes.Pass) Option { return func(o *options) { o.passes = ps } }

// WithLibraries adds library classes resolved against but never emitted,
// on top of those loaded from the configured classpath.
func WithLibraries(libs ...Input) Option {
	return func(o *options) { o.libs = append(o.libs, libs...) }
}

// ErrNoUnits is returned when the batch holds no class file.
var ErrNoUnits = errors.New("pipeline: no class files in input")

type parsed struct {
	class *classfile.Class
	err   error
}

// Run transforms inputs. Per-unit failures are reported in the result; an
// UnresolvedSymbol error, a pass failure or cancellation aborts the run and
// returns no output at all.
func Run(ctx context.Context, inputs []Input, cfg *config.Config, opts ...Option) (*Result, error) {
	start := time.Now()
	o := &options{log: logging.Discard(), passes: passes.All()}
	for _, opt := range opts {
		opt(o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rules, err := cfg.Rules()
	if err != nil {
		return nil, err
	}
	limit := cfg.Parallelism
	if limit <= 0 {
		limit = -1
	}

	// Parse every unit, then wait: the index needs the whole batch.
	units, err := parseAll(ctx, inputs, limit)
	if err != nil {
		return nil, err
	}
	libInputs := o.libs
	for _, p := range cfg.Classpath {
		in, err := Load(p)
		if err != nil {
			return nil, fmt.Errorf("pipeline: classpath %s: %w", p, err)
		}
		libInputs = append(libInputs, in...)
	}
	libParsed, err := parseAll(ctx, libInputs, limit)
	if err != nil {
		return nil, err
	}
	var libs []*classfile.Class
	for i, p := range libParsed {
		if p.err != nil {
			o.log.Warn("library skipped", "name", libInputs[i].Name, "err", p.err)
			continue
		}
		if p.class != nil {
			libs = append(libs, p.class)
		}
	}

	res := &Result{Units: make([]UnitResult, len(inputs))}
	var batch []*classfile.Class
	index := make(map[string]int) // original class name -> input position
	for i, in := range inputs {
		res.Units[i] = UnitResult{Name: in.Name, OutputName: in.Name}
		res.Stats.InBytes += int64(len(in.Data))
		p := units[i]
		switch {
		case !in.isClass():
			res.Units[i].Data = in.Data
			res.Stats.Resources++
			continue
		case p.err != nil:
			res.Units[i].Err = p.err
			continue
		}
		res.Stats.Units++
		name := p.class.Name()
		if j, dup := index[name]; dup {
			res.Units[i].Err = diag.New(diag.MalformedUnit, "duplicate class, first defined by %s", inputs[j].Name).In(name)
			continue
		}
		index[name] = i
		batch = append(batch, p.class)
	}
	if len(batch) == 0 {
		return nil, ErrNoUnits
	}
	o.log.Info("parsed", "units", len(batch), "libraries", len(libs), "resources", res.Stats.Resources)

	ix, err := program.Build(batch, libs, rules, cfg.RandomSeed)
	if err != nil {
		return nil, err
	}
	o.log.Debug("indexed", "symbols", ix.Len())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pctx := passes.NewContext(ctx, ix, cfg, o.log)
	if err := passes.Run(pctx, o.passes...); err != nil {
		return nil, err
	}

	lopts := layout.Options{MaxIterations: cfg.MaxLayoutIterations, Hierarchy: pctx.Hierarchy}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, c := range batch {
		orig := ix.UnitName(c)
		i := index[orig]
		ur := &res.Units[i]
		if _, ok := ix.Excluded(orig); ok {
			ur.Data = inputs[i].Data
			continue
		}
		if err := pctx.Failed(orig); err != nil {
			ur.Err = err
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			st, err := layout.Finalize(c, pctx.Modified(orig), lopts)
			ur.Layout = st
			if err != nil {
				if de, ok := diag.As(err); ok {
					err = de.In(orig)
				}
				ur.Err = unitErr(err, orig)
				return nil
			}
			data, err := classfile.Emit(c)
			if err != nil {
				ur.Err = diag.Wrap(diag.MalformedUnit, err, "emit").In(orig)
				return nil
			}
			ur.Data = data
			ur.OutputName = outputName(inputs[i].Name, orig, c.Name())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res.Skipped = pctx.Skipped.Items()
	res.Mappings = pctx.Plan.Mappings()
	st := &res.Stats
	st.Declined = len(res.Skipped)
	st.Classes, st.Fields, st.Methods = pctx.Plan.Count()
	for i, ur := range res.Units {
		if !inputs[i].isClass() {
			st.OutBytes += int64(len(ur.Data))
			continue
		}
		switch {
		case ur.Err != nil:
			st.Failed++
			o.log.Warn("unit failed", "unit", ur.Name, "err", ur.Err)
		case units[i].class != nil && isExcluded(ix, units[i].class):
			st.Excluded++
			st.OutBytes += int64(len(ur.Data))
		default:
			st.Emitted++
			st.OutBytes += int64(len(ur.Data))
		}
		st.Layout.Add(ur.Layout)
	}
	st.Elapsed = time.Since(start)
	o.log.Info("done",
		"emitted", st.Emitted, "failed", st.Failed, "excluded", st.Excluded,
		"declined", st.Declined, "elapsed", st.Elapsed.Round(time.Millisecond))
	return res, nil
}

func isExcluded(ix *program.Index, c *classfile.Class) bool {
	_, ok := ix.Excluded(ix.UnitName(c))
	return ok
}

// parseAll parses the class inputs concurrently. Resources yield an empty
// entry.
func parseAll(ctx context.Context, inputs []Input, limit int) ([]parsed, error) {
	out := make([]parsed, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, in := range inputs {
		if !in.isClass() {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := classfile.Parse(in.Name, in.Data)
			if err != nil {
				out[i].err = unitErr(err, in.Name)
				return nil
			}
			out[i].class = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// unitErr attaches unit to err, classifying bare errors as MalformedUnit.
func unitErr(err error, unit string) error {
	if de, ok := diag.As(err); ok {
		if de.Unit == "" {
			de.In(unit)
		}
		return de
	}
	return diag.Wrap(diag.MalformedUnit, err, "").In(unit)
}

// outputName places a renamed class where its new name belongs, keeping
// whatever directory prefix the input had above its package.
func outputName(input, orig, renamed string) string {
	if orig == renamed {
		return input
	}
	prefix := strings.TrimSuffix(input, orig+".class")
	if prefix == input {
		prefix = ""
	}
	return prefix + renamed + ".class"
}
