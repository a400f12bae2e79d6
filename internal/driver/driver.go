// Package driver runs the lowering pipeline for translation units:
// validation, classification, per-record lowering and emission.
//
// Every record error of a unit is collected into one *diag.UnitError and
// nothing is emitted for that unit. Units share nothing, and the records of
// one unit may be lowered by several goroutines. Fragments are reassembled
// in program order, so the output does not depend on the worker count.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/pmc/internal/compiler"
	"github.com/roach88/pmc/internal/diag"
	"github.com/roach88/pmc/internal/emitter"
	"github.com/roach88/pmc/internal/ir"
	"github.com/roach88/pmc/internal/lower"
	"github.com/roach88/pmc/internal/naming"
	"github.com/roach88/pmc/internal/pmbe"
	"github.com/roach88/pmc/internal/registry"
	"github.com/roach88/pmc/internal/rsbe"
)

// Driver lowers units for a fixed set of backends.
//
// Thread-safety: Compile may be called from several goroutines; the
// registry is immutable and all other state is per call.
type Driver struct {
	registry *registry.Registry
	backends map[registry.Backend]lower.Backend
	workers  int
	options  lower.Options
}

// Option configures a Driver.
type Option func(*Driver)

// WithWorkers sets how many records of one unit are lowered concurrently.
// Values below 1 mean 1.
func WithWorkers(n int) Option {
	return func(d *Driver) {
		if n < 1 {
			n = 1
		}
		d.workers = n
	}
}

// WithTileSize fixes the reduction tile size for 1-D collections.
func WithTileSize(n int) Option {
	return func(d *Driver) {
		d.options.TileSize = n
	}
}

// WithLowerOptions replaces the code generation options.
func WithLowerOptions(opts lower.Options) Option {
	return func(d *Driver) {
		d.options = opts
	}
}

// WithBackend registers or replaces a backend.
func WithBackend(b lower.Backend) Option {
	return func(d *Driver) {
		d.backends[b.Name()] = b
	}
}

// New creates a Driver with both built-in backends.
func New(opts ...Option) *Driver {
	d := &Driver{
		registry: registry.New(),
		backends: map[registry.Backend]lower.Backend{
			registry.RenderScript: rsbe.New(),
			registry.PMRuntime:    pmbe.New(),
		},
		workers: 1,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Options returns the code generation options every build uses.
func (d *Driver) Options() lower.Options {
	return d.options
}

// Registry returns the type registry shared by every build.
func (d *Driver) Registry() *registry.Registry {
	return d.registry
}

// Step is the classification of one record.
type Step struct {
	Owner      ir.Owner `json:"owner"`
	Record     string   `json:"record"`
	Collection string   `json:"collection"`
	Execution  string   `json:"execution,omitempty"`
}

// CallSite holds the host statements replacing one record.
type CallSite struct {
	Owner ir.Owner `json:"owner"`
	Lines []string `json:"lines"`
}

// Name is one generated identifier.
type Name struct {
	Ident string   `json:"ident"`
	Role  string   `json:"role"`
	Base  string   `json:"base"`
	Owner ir.Owner `json:"owner"`
}

// Output is the result of lowering one unit for one backend.
type Output struct {
	Unit      string             `json:"unit"`
	Backend   registry.Backend   `json:"backend"`
	Hash      string             `json:"hash"`
	Plan      []Step             `json:"plan"`
	Names     []Name             `json:"names"`
	CallSites []CallSite         `json:"call_sites"`
	Artifacts []emitter.Artifact `json:"-"`
}

// Validate runs the backend-independent checks on a unit. The result is nil
// or a *diag.UnitError.
func (d *Driver) Validate(u *ir.TranslationUnit) error {
	c := diag.NewCollector(u.Name(), "")
	c.Add(compiler.Validate(u)...)
	for _, op := range u.Operations {
		c.Add(compiler.CheckCaptures(op))
	}
	return c.Err()
}

// BuildKey returns the cache key of a backend build of u: the unit hash,
// the backend, the compiler version and every option that changes output.
func (d *Driver) BuildKey(u *ir.TranslationUnit, backend registry.Backend) (string, error) {
	unitHash, err := ir.UnitHash(*u)
	if err != nil {
		return "", err
	}
	return ir.BuildHash(unitHash, string(backend), d.Settings())
}

// Settings returns the options that change generated output, as hashed
// into build keys.
func (d *Driver) Settings() ir.Object {
	opts := d.options
	return ir.Object{
		"tile_size":    ir.Int(opts.TileSize),
		"instance":     ir.Str(opts.Instance),
		"library":      ir.Str(opts.Library),
		"user_library": ir.Str(opts.UserLibrary),
	}
}

// Compile lowers u for one backend. On failure the error is a
// *diag.UnitError listing every problem and no output is returned.
func (d *Driver) Compile(ctx context.Context, u *ir.TranslationUnit, backend registry.Backend) (*Output, error) {
	b, ok := d.backends[backend]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
	if err := d.Validate(u); err != nil {
		return nil, err
	}

	collector := diag.NewCollector(u.Name(), string(backend))
	ops, errs := compiler.ClassifyUnit(u, b.Capabilities())
	collector.Add(errs...)
	if err := collector.Err(); err != nil {
		return nil, err
	}

	lctx := lower.NewContext(u, d.registry, backend, d.options)
	recs := lower.Records(u, ops)
	frags, err := d.lowerRecords(ctx, b, lctx, recs, collector)
	if err != nil {
		return nil, err
	}
	if err := collector.Err(); err != nil {
		return nil, err
	}

	hash, err := ir.UnitHash(*u)
	if err != nil {
		return nil, fmt.Errorf("hash unit %s: %w", u.Name(), err)
	}

	out := &Output{
		Unit:      u.Name(),
		Backend:   backend,
		Hash:      hash,
		Plan:      plan(recs),
		Names:     names(lctx.Names),
		Artifacts: emitter.Emit(lctx, b, frags),
	}
	for _, f := range frags {
		out.CallSites = append(out.CallSites, CallSite{Owner: f.Owner, Lines: f.CallSite})
	}

	slog.Info("unit emitted",
		"unit", out.Unit,
		"backend", backend,
		"artifacts", len(out.Artifacts),
	)
	return out, nil
}

// CompileAll lowers u for every given backend. Backends fail
// independently; the returned map holds the successful outputs and the
// error joins every unit error.
func (d *Driver) CompileAll(ctx context.Context, u *ir.TranslationUnit, backends []registry.Backend) (map[registry.Backend]*Output, error) {
	outs := make(map[registry.Backend]*Output, len(backends))
	collector := diag.NewCollector(u.Name(), "")
	for _, backend := range backends {
		out, err := d.Compile(ctx, u, backend)
		if err != nil {
			collector.Add(err)
			continue
		}
		outs[backend] = out
	}
	return outs, collector.Err()
}

// lowerRecords lowers recs with up to d.workers goroutines. Record errors
// go to the collector; the returned error is only set when ctx is done.
func (d *Driver) lowerRecords(ctx context.Context, b lower.Backend, lctx *lower.Context, recs []lower.Record, collector *diag.Collector) ([]*lower.Fragment, error) {
	frags := make([]*lower.Fragment, len(recs))
	recErrs := make([]error, len(recs))

	sem := make(chan struct{}, d.workers)
	wg := &sync.WaitGroup{}
	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, err
		}
		sem <- struct{}{}
		wg.Add(1)

		go func(i int, rec lower.Record) {
			defer wg.Done()
			defer func() { <-sem }()

			slog.Debug("lowering record",
				"unit", lctx.Unit.Name(),
				"backend", b.Name(),
				"record", rec.Owner.String(),
			)
			frags[i], recErrs[i] = lower.Lower(b, lctx, rec)
		}(i, rec)
	}
	wg.Wait()

	// Errors are reported in program order regardless of scheduling.
	collector.Add(recErrs...)
	return frags, nil
}

func plan(recs []lower.Record) []Step {
	steps := make([]Step, 0, len(recs))
	for _, rec := range recs {
		s := Step{Owner: rec.Owner}
		switch {
		case rec.InputBind != nil:
			s.Record = "input-bind"
			s.Collection = rec.InputBind.Collection.FullType()
		case rec.Operation != nil:
			s.Record = rec.Operation.Type.String()
			s.Collection = rec.Operation.Collection.FullType()
			s.Execution = rec.Operation.Execution.String()
		case rec.OutputBind != nil:
			s.Record = "output-bind"
			s.Collection = rec.OutputBind.Collection.FullType()
		case rec.Call != nil:
			s.Record = rec.Call.Method
			s.Collection = rec.Call.Collection.FullType()
		}
		steps = append(steps, s)
	}
	return steps
}

func names(a *naming.Authority) []Name {
	issued := a.Issued()
	out := make([]Name, 0, len(issued))
	for _, is := range issued {
		out = append(out, Name{
			Ident: is.Ident,
			Role:  is.Key.Role.String(),
			Base:  is.Key.Base,
			Owner: is.Key.Owner,
		})
	}
	return out
}
