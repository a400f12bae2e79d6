// Package lower defines the contract between the pipeline and the code
// generation backends, plus the pieces every backend shares: the host-side
// method surface, lambda body rewriting and the per-operation helper
// function.
//
// A backend lowers one IR record at a time into a Fragment. Fragments of a
// unit are merged in program order by the emitter, which asks the backend
// to lay the merged parts out as files.
package lower

import (
	"sort"
	"strings"

	"github.com/roach88/pmc/internal/codegen"
	"github.com/roach88/pmc/internal/diag"
	"github.com/roach88/pmc/internal/ir"
	"github.com/roach88/pmc/internal/naming"
	"github.com/roach88/pmc/internal/registry"
)

// Backend lowers IR records for one target.
type Backend interface {
	Name() registry.Backend
	Capabilities() ir.Capabilities

	LowerInputBind(ctx *Context, in ir.InputBind) (*Fragment, error)
	// LowerOperation dispatches on op.Execution, which must be set.
	LowerOperation(ctx *Context, op ir.Operation) (*Fragment, error)
	LowerOutputBind(ctx *Context, out ir.OutputBind) (*Fragment, error)
	LowerPlainCall(ctx *Context, call ir.MethodCall) (*Fragment, error)

	// Files lays out the merged fragments of a unit as backend files.
	Files(ctx *Context, parts Parts) []File
}

// Phase orders kernel declarations in the kernel file.
type Phase int

const (
	PhaseInput Phase = iota
	PhaseOperation
	PhaseOutput
)

// KernelDecl is one top-level declaration of a kernel file. Declarations
// with the same Key are emitted once.
type KernelDecl struct {
	Key   string
	Phase Phase
	Nodes []codegen.Node
}

// Fragment is the lowered form of one IR record.
type Fragment struct {
	Owner ir.Owner

	// Kernel holds kernel-file declarations.
	Kernel []KernelDecl

	// Fields, Methods and Natives belong to the backend's managed wrapper
	// class. Natives are native method declarations.
	Fields  []codegen.Node
	Methods []codegen.Node
	Natives []codegen.Node

	// GlueDecls and GlueDefs are native glue prototypes and definitions.
	GlueDecls []codegen.Node
	GlueDefs  []codegen.Node

	// Interface is the method signature the shared wrapper interface
	// declares for this record, without a trailing semicolon.
	Interface string

	// CallSite holds the host statements that replace the record in the
	// user's source. For plain calls it is a single expression.
	CallSite []string
}

// Parts is the merged content of every fragment of a unit.
type Parts struct {
	Kernel    []KernelDecl
	Fields    []codegen.Node
	Methods   []codegen.Node
	Natives   []codegen.Node
	GlueDecls []codegen.Node
	GlueDefs  []codegen.Node
}

// FileKind classifies a generated file.
type FileKind string

const (
	KindKernel       FileKind = "kernel"
	KindNativeHeader FileKind = "native-header"
	KindNativeSource FileKind = "native-source"
	KindWrapper      FileKind = "wrapper"
	KindInterface    FileKind = "interface"
)

// File is one generated file before rendering.
type File struct {
	Path  string
	Kind  FileKind
	Nodes []codegen.Node
}

// Options tune code generation.
type Options struct {
	// TileSize fixes the number of elements per reduction tile for 1-D
	// collections. Zero selects ceil(sqrt(N)) tiles.
	TileSize int

	// Instance is the host variable holding the wrapper object.
	Instance string

	// Library is the native library loaded by the pmruntime wrapper.
	Library string

	// UserLibrary is the package holding the domain classes (Int32,
	// RGBA, Pixel, ...) imported by generated Java.
	UserLibrary string
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Instance:    "PM_wrapper",
		UserLibrary: "com.pmc.userlibrary",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Instance == "" {
		o.Instance = d.Instance
	}
	if o.UserLibrary == "" {
		o.UserLibrary = d.UserLibrary
	}
	return o
}

// Context is the per-unit, per-backend lowering state. The naming
// authority is the only mutable part and is safe for concurrent use, so
// records of one unit may be lowered in parallel.
type Context struct {
	Unit     *ir.TranslationUnit
	Registry *registry.Registry
	Names    *naming.Authority
	Backend  registry.Backend
	Options  Options

	producers   map[string]ir.Owner
	collections map[string]ir.Variable
}

// NewContext prepares lowering of u for backend b.
func NewContext(u *ir.TranslationUnit, reg *registry.Registry, b registry.Backend, opts Options) *Context {
	return &Context{
		Unit:        u,
		Registry:    reg,
		Names:       naming.New(),
		Backend:     b,
		Options:     opts.withDefaults(),
		producers:   u.Producers(),
		collections: u.Collections(),
	}
}

// Library returns the native library name, derived from the class name
// unless configured.
func (c *Context) Library() string {
	if c.Options.Library != "" {
		return c.Options.Library
	}
	return "pmc_" + strings.ToLower(c.Unit.Class)
}

// PackagePath returns the unit package as a path, e.g. "com/example/app".
func (c *Context) PackagePath() string {
	return strings.ReplaceAll(c.Unit.Package, ".", "/")
}

// JavaPath returns the path of a Java class in the unit package.
func (c *Context) JavaPath(class string) string {
	if c.Unit.Package == "" {
		return class + ".java"
	}
	return c.PackagePath() + "/" + class + ".java"
}

// Producer returns the record that creates the collection v.
func (c *Context) Producer(v ir.Variable, rec diag.Record) (ir.Owner, error) {
	owner, ok := c.producers[v.Name]
	if !ok {
		return ir.Owner{}, diag.Errorf(diag.MalformedOperation, rec, "collection %q is never created", v.Name)
	}
	return owner, nil
}

// Collection holds the wrapper-side names of one collection.
type Collection struct {
	Var    ir.Variable
	Owner  ir.Owner
	Buffer string
	Length string
	Width  string
	Height string

	// Element is the registry entry of one element.
	Element registry.Entry
}

// Collection resolves the wrapper fields of the collection named by v.
func (c *Context) Collection(v ir.Variable, rec diag.Record) (Collection, error) {
	owner, err := c.Producer(v, rec)
	if err != nil {
		return Collection{}, err
	}
	decl := c.collections[v.Name]
	col := Collection{Var: decl, Owner: owner}

	var entry registry.Entry
	if decl.Domain() == ir.TypeArray {
		entry, err = c.Registry.ElementEntry(decl.TypeParameter, c.Backend)
	} else {
		entry, err = c.Registry.LookupDomain(decl.Element(), c.Backend)
	}
	if err != nil {
		return Collection{}, diag.Wrap(diag.UnsupportedBackendType, rec, err)
	}
	col.Element = entry

	if col.Buffer, err = c.Names.Fresh(naming.Buffer, v.Name, owner); err != nil {
		return Collection{}, diag.Wrap(diag.NamingCollision, rec, err)
	}
	if decl.Domain().IsImage() {
		if col.Width, err = c.Names.Fresh(naming.Scalar, "width", owner); err != nil {
			return Collection{}, diag.Wrap(diag.NamingCollision, rec, err)
		}
		if col.Height, err = c.Names.Fresh(naming.Scalar, "height", owner); err != nil {
			return Collection{}, diag.Wrap(diag.NamingCollision, rec, err)
		}
	} else if col.Length, err = c.Names.Fresh(naming.Scalar, "length", owner); err != nil {
		return Collection{}, diag.Wrap(diag.NamingCollision, rec, err)
	}
	return col, nil
}

// IsImage reports whether the collection is two-dimensional.
func (col Collection) IsImage() bool {
	return col.Var.Domain().IsImage()
}

// Size returns the host expression for the element count.
func (col Collection) Size() string {
	if col.IsImage() {
		return col.Width + " * " + col.Height
	}
	return col.Length
}

// Record is one IR record in program order.
type Record struct {
	Owner      ir.Owner
	InputBind  *ir.InputBind
	Operation  *ir.Operation
	OutputBind *ir.OutputBind
	Call       *ir.MethodCall
}

// Records lists the unit's records sorted by seq. ops replaces the unit's
// operations, e.g. with classified copies.
func Records(u *ir.TranslationUnit, ops []ir.Operation) []Record {
	var recs []Record
	for i := range u.InputBinds {
		recs = append(recs, Record{Owner: u.InputBinds[i].Owner(), InputBind: &u.InputBinds[i]})
	}
	for i := range ops {
		recs = append(recs, Record{Owner: ops[i].Owner(), Operation: &ops[i]})
	}
	for i := range u.OutputBinds {
		recs = append(recs, Record{Owner: u.OutputBinds[i].Owner(), OutputBind: &u.OutputBinds[i]})
	}
	for i := range u.MethodCalls {
		recs = append(recs, Record{Owner: u.MethodCalls[i].Owner(), Call: &u.MethodCalls[i]})
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Owner.Seq < recs[j].Owner.Seq })
	return recs
}

// Lower dispatches one record to the backend.
func Lower(b Backend, ctx *Context, rec Record) (*Fragment, error) {
	var (
		frag *Fragment
		err  error
	)
	switch {
	case rec.InputBind != nil:
		frag, err = b.LowerInputBind(ctx, *rec.InputBind)
	case rec.Operation != nil:
		frag, err = b.LowerOperation(ctx, *rec.Operation)
	case rec.OutputBind != nil:
		frag, err = b.LowerOutputBind(ctx, *rec.OutputBind)
	case rec.Call != nil:
		frag, err = b.LowerPlainCall(ctx, *rec.Call)
	default:
		return nil, diag.Errorf(diag.MalformedOperation, diag.Record{Owner: rec.Owner}, "empty record")
	}
	if err != nil {
		return nil, err
	}
	frag.Owner = rec.Owner
	return frag, nil
}

// Merge concatenates fragments in the given order. Kernel declarations
// are grouped by phase, keeping fragment order within a phase, and
// deduplicated by key.
func Merge(frags []*Fragment) Parts {
	var parts Parts
	seen := make(map[string]bool)
	for _, phase := range []Phase{PhaseInput, PhaseOperation, PhaseOutput} {
		for _, f := range frags {
			for _, d := range f.Kernel {
				if d.Phase != phase || seen[d.Key] {
					continue
				}
				seen[d.Key] = true
				parts.Kernel = append(parts.Kernel, d)
			}
		}
	}
	for _, f := range frags {
		parts.Fields = append(parts.Fields, f.Fields...)
		parts.Methods = append(parts.Methods, f.Methods...)
		parts.Natives = append(parts.Natives, f.Natives...)
		parts.GlueDecls = append(parts.GlueDecls, f.GlueDecls...)
		parts.GlueDefs = append(parts.GlueDefs, f.GlueDefs...)
	}
	return parts
}
