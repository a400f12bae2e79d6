package lower

import (
	"fmt"
	"strings"

	"github.com/roach88/pmc/internal/codegen"
	"github.com/roach88/pmc/internal/diag"
	"github.com/roach88/pmc/internal/ir"
	"github.com/roach88/pmc/internal/naming"
	"github.com/roach88/pmc/internal/registry"
)

// External is a captured variable of an operation.
type External struct {
	Var   ir.Variable
	Entry registry.Entry

	// Ident is the kernel-side name, e.g. gMaxOperation2.
	Ident string

	// Out is the host one-element array carrying a non-final value in
	// and out; Buffer is the backend buffer it is copied from. Both are
	// empty for final externals.
	Out    string
	Buffer string
}

// Mutable reports whether the external may be assigned by the body.
func (e External) Mutable() bool {
	return !e.Var.IsFinal()
}

// Externals resolves the captured variables of op for the backend.
// Non-final externals must be scalars.
func Externals(ctx *Context, op ir.Operation) ([]External, error) {
	rec := diag.ForOperation(op)
	out := make([]External, 0, len(op.Externals))
	for _, v := range op.Externals {
		e, err := ctx.Registry.CaptureEntry(v.TypeName, ctx.Backend)
		if err != nil {
			return nil, diag.Wrap(diag.UnsupportedBackendType, rec, err)
		}
		ext := External{Var: v, Entry: e}
		if ext.Ident, err = ctx.Names.Fresh(naming.External, v.Name, op.Owner()); err != nil {
			return nil, diag.Wrap(diag.NamingCollision, rec, err)
		}
		if ext.Mutable() {
			if e.Domain.Kind() != ir.KindScalar {
				return nil, diag.Errorf(diag.UnsupportedBackendType, rec,
					"captured %s %q must be final", v.TypeName, v.Name)
			}
			if ext.Out, err = ctx.Names.Fresh(naming.ExternalOut, v.Name, op.Owner()); err != nil {
				return nil, diag.Wrap(diag.NamingCollision, rec, err)
			}
			if ext.Buffer, err = ctx.Names.Fresh(naming.OutBuffer, v.Name, op.Owner()); err != nil {
				return nil, diag.Wrap(diag.NamingCollision, rec, err)
			}
		}
		out = append(out, ext)
	}
	return out, nil
}

// Helper is the device function holding the rewritten lambda body. Every
// kernel of an operation calls it, so both execution paths and both
// backends share one body rewrite.
//
// Signatures by operation type, with the captured variables appended:
//
//	foreach: void f(T *elem[, int PM_x, int PM_y])
//	map:     R f(T elem)
//	filter:  bool f(T elem)
//	reduce:  T f(T acc, T next)
//
// On the sequential path non-final externals are passed by pointer so the
// body's assignments reach the caller.
type Helper struct {
	Name       string
	Kernel     string
	Op         ir.Operation
	Source     Collection
	ResultType string
	Externals  []External
	Sequential bool
	Nodes      []codegen.Node
}

// HelperOptions carries backend-specific spelling.
type HelperOptions struct {
	// Qualifier prefixes the helper definition, e.g. "static ".
	Qualifier string
}

// BuildHelper rewrites the body of op and wraps it in the helper function.
func BuildHelper(ctx *Context, op ir.Operation, src Collection, exts []External, opts HelperOptions) (*Helper, error) {
	rec := diag.ForOperation(op)
	if len(op.Function.Arguments) != op.Type.Arity() {
		return nil, diag.Errorf(diag.MalformedOperation, rec, "%s takes %d argument(s), got %d",
			op.Type, op.Type.Arity(), len(op.Function.Arguments))
	}
	if op.Type.HasDestination() && op.Destination == nil {
		return nil, diag.Errorf(diag.MalformedOperation, rec, "%s requires a destination", op.Type)
	}
	elem := op.Collection.Element().String()

	h := &Helper{
		Op:         op,
		Source:     src,
		Externals:  exts,
		Sequential: op.Execution == ir.Sequential,
	}
	var err error
	if h.Name, err = ctx.Names.Fresh(naming.Function, elem, op.Owner()); err != nil {
		return nil, diag.Wrap(diag.NamingCollision, rec, err)
	}
	if h.Kernel, err = ctx.Names.Fresh(naming.Kernel, elem, op.Owner()); err != nil {
		return nil, diag.Wrap(diag.NamingCollision, rec, err)
	}

	elemType := src.Element.KernelType
	bindings := make(map[string]Binding)
	var params []string
	var coords *registry.Coords

	switch op.Type {
	case ir.Foreach:
		h.ResultType = "void"
		arg := op.Function.Arguments[0]
		params = append(params, fmt.Sprintf("%s *%s", elemType, arg.Name))
		bindings[arg.Name] = Binding{Domain: src.Element.Domain, Expr: "(*" + arg.Name + ")"}
		if src.IsImage() {
			params = append(params, "int PM_x", "int PM_y")
			coords = &registry.Coords{X: "PM_x", Y: "PM_y"}
		}
	case ir.Map:
		dest, err := ctx.Registry.ElementEntry(op.Destination.TypeParameter, ctx.Backend)
		if err != nil {
			return nil, diag.Wrap(diag.UnsupportedBackendType, rec, err)
		}
		h.ResultType = dest.KernelType
		arg := op.Function.Arguments[0]
		params = append(params, elemType+" "+arg.Name)
		bindings[arg.Name] = Binding{Domain: src.Element.Domain, Expr: arg.Name}
	case ir.Filter:
		boolType, err := ctx.Registry.NativeType("Bool", ctx.Backend)
		if err != nil {
			return nil, diag.Wrap(diag.UnsupportedBackendType, rec, err)
		}
		h.ResultType = boolType
		arg := op.Function.Arguments[0]
		params = append(params, elemType+" "+arg.Name)
		bindings[arg.Name] = Binding{Domain: src.Element.Domain, Expr: arg.Name}
	case ir.Reduce:
		h.ResultType = elemType
		for _, arg := range op.Function.Arguments {
			params = append(params, elemType+" "+arg.Name)
			bindings[arg.Name] = Binding{Domain: src.Element.Domain, Expr: arg.Name}
		}
	}

	for _, ext := range exts {
		if h.Sequential && ext.Mutable() {
			params = append(params, fmt.Sprintf("%s *%s", ext.Entry.KernelType, ext.Ident))
			bindings[ext.Var.Name] = Binding{Domain: ext.Entry.Domain, Expr: "(*" + ext.Ident + ")"}
			continue
		}
		params = append(params, ext.Entry.KernelType+" "+ext.Ident)
		bindings[ext.Var.Name] = Binding{Domain: ext.Entry.Domain, Expr: ext.Ident}
	}

	body, err := LowerBody(ctx, op, bindings, coords)
	if err != nil {
		return nil, err
	}

	head := fmt.Sprintf("%s%s %s(%s)", opts.Qualifier, h.ResultType, h.Name, strings.Join(params, ", "))
	h.Nodes = []codegen.Node{codegen.Block{Head: head, Body: []codegen.Node{codegen.Raw(body)}}}
	return h, nil
}

// Call renders a call of the helper. args are the element arguments
// (and coordinates for image foreach); captured variables are appended,
// by address for non-final ones on the sequential path.
func (h *Helper) Call(args ...string) string {
	all := append([]string(nil), args...)
	for _, ext := range h.Externals {
		if h.Sequential && ext.Mutable() {
			all = append(all, "&"+ext.Ident)
			continue
		}
		all = append(all, ext.Ident)
	}
	return fmt.Sprintf("%s(%s)", h.Name, strings.Join(all, ", "))
}

// Temp issues an operation-owned temporary name.
func (h *Helper) Temp(ctx *Context, base string) (string, error) {
	name, err := ctx.Names.Fresh(naming.Temp, base, h.Op.Owner())
	if err != nil {
		return "", diag.Wrap(diag.NamingCollision, diag.ForOperation(h.Op), err)
	}
	return name, nil
}

// Named issues an operation-owned name for an arbitrary role.
func (h *Helper) Named(ctx *Context, role naming.Role, base string) (string, error) {
	name, err := ctx.Names.Fresh(role, base, h.Op.Owner())
	if err != nil {
		return "", diag.Wrap(diag.NamingCollision, diag.ForOperation(h.Op), err)
	}
	return name, nil
}

// Tiling describes how a parallel reduction splits its input.
type Tiling struct {
	// Rows is set for 2-D collections: one partial per row.
	Rows bool

	// Fixed is the configured tile size, zero for the sqrt heuristic.
	Fixed int
}

// TilingFor returns the reduction tiling of a collection.
func TilingFor(ctx *Context, src Collection) Tiling {
	if src.IsImage() {
		return Tiling{Rows: true}
	}
	return Tiling{Fixed: ctx.Options.TileSize}
}

// TileStatements computes PM_tiles and PM_tileSize from a length
// expression. ceil and sqrt spell the math functions of the host
// language, e.g. "Math.ceil" and "Math.sqrt".
func (t Tiling) TileStatements(length, width, height, ceil, sqrt string) []string {
	if t.Rows {
		return []string{
			"int PM_tileSize = " + width + ";",
			"int PM_tiles = " + height + ";",
		}
	}
	if t.Fixed > 0 {
		return []string{
			fmt.Sprintf("int PM_tileSize = %d;", t.Fixed),
			fmt.Sprintf("int PM_tiles = (%s + PM_tileSize - 1) / PM_tileSize;", length),
		}
	}
	return []string{
		fmt.Sprintf("int PM_tiles = (int) %s(%s((double) %s));", ceil, sqrt, length),
		fmt.Sprintf("int PM_tileSize = (%s + PM_tiles - 1) / PM_tiles;", length),
		fmt.Sprintf("PM_tiles = (%s + PM_tileSize - 1) / PM_tileSize;", length),
	}
}
