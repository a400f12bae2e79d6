package lower

import (
	"fmt"
	"strings"

	"github.com/roach88/pmc/internal/codegen"
	"github.com/roach88/pmc/internal/diag"
	"github.com/roach88/pmc/internal/ir"
	"github.com/roach88/pmc/internal/naming"
)

// Param is one Java method parameter.
type Param struct {
	Type string
	Name string
}

// HostMethod is a method of the shared wrapper interface. Both backends
// implement the same methods, so the host call sites do not depend on the
// backend selected at run time.
type HostMethod struct {
	Name   string
	Return string
	Params []Param
}

// Signature renders "ret name(T a, U b)".
func (m HostMethod) Signature() string {
	params := make([]string, len(m.Params))
	for i, p := range m.Params {
		params[i] = p.Type + " " + p.Name
	}
	return fmt.Sprintf("%s %s(%s)", m.Return, m.Name, strings.Join(params, ", "))
}

// Override renders the implementing method with the given body.
func (m HostMethod) Override(body []codegen.Node) []codegen.Node {
	return []codegen.Node{
		codegen.Line("@Override"),
		codegen.Block{Head: "public " + m.Signature(), Body: body},
	}
}

func (c *Context) call(method string, args []string) string {
	return fmt.Sprintf("%s.%s(%s)", c.Options.Instance, method, strings.Join(args, ", "))
}

func (c *Context) method(base string, owner ir.Owner, rec diag.Record) (string, error) {
	name, err := c.Names.Fresh(naming.Method, base, owner)
	if err != nil {
		return "", diag.Wrap(diag.NamingCollision, rec, err)
	}
	return name, nil
}

// InputBindSurface returns the interface method and call site of an
// input bind. Class literal parameters are compile-time only and dropped.
func InputBindSurface(ctx *Context, in ir.InputBind) (HostMethod, []string, error) {
	rec := diag.ForInputBind(in)
	name, err := ctx.method("inputBind", in.Owner(), rec)
	if err != nil {
		return HostMethod{}, nil, err
	}
	m := HostMethod{Name: name, Return: "void"}
	switch in.Collection.Domain() {
	case ir.TypeArray:
		e, err := ctx.Registry.ElementEntry(in.Collection.TypeParameter, ctx.Backend)
		if err != nil {
			return HostMethod{}, nil, diag.Wrap(diag.UnsupportedBackendType, rec, err)
		}
		m.Params = []Param{{Type: e.HostArray, Name: "PM_array"}}
	case ir.TypeBitmapImage:
		m.Params = []Param{{Type: "Bitmap", Name: "PM_bitmap"}}
	case ir.TypeHDRImage:
		m.Params = []Param{{Type: "byte[]", Name: "PM_data"}, {Type: "int", Name: "PM_width"}, {Type: "int", Name: "PM_height"}}
	default:
		return HostMethod{}, nil, diag.Errorf(diag.UnsupportedBackendType, rec, "%s is not a collection", in.Collection.FullType())
	}

	var args []string
	for _, p := range in.Parameters {
		if !p.IsClassLiteral() {
			args = append(args, strings.TrimSpace(p.Text))
		}
	}
	if len(args) != len(m.Params) {
		return HostMethod{}, nil, diag.Errorf(diag.MalformedOperation, rec,
			"%s takes %d constructor argument(s), got %d", in.Collection.Domain(), len(m.Params), len(args))
	}
	return m, []string{ctx.call(name, args) + ";"}, nil
}

// OperationSurface returns the interface method and call site of an
// operation. Every non-final external gets a one-element host array that
// carries its value in and out; the call site copies it back.
func OperationSurface(ctx *Context, op ir.Operation, exts []External) (HostMethod, []string, error) {
	rec := diag.ForOperation(op)
	name, err := ctx.method(op.Type.String(), op.Owner(), rec)
	if err != nil {
		return HostMethod{}, nil, err
	}
	m := HostMethod{Name: name, Return: "void"}
	if op.Type == ir.Reduce {
		m.Return = op.Destination.TypeName
	}

	var pre, args, post []string
	for _, ext := range exts {
		m.Params = append(m.Params, Param{Type: ext.Var.TypeName, Name: ext.Var.Name})
		args = append(args, ext.Var.Name)
	}
	for _, ext := range exts {
		if !ext.Mutable() {
			continue
		}
		value, err := ctx.Registry.HostValue(ext.Var, ctx.Backend)
		if err != nil {
			return HostMethod{}, nil, diag.Wrap(diag.UnsupportedBackendType, rec, err)
		}
		m.Params = append(m.Params, Param{Type: ext.Entry.HostArray, Name: ext.Out})
		args = append(args, ext.Out)
		pre = append(pre, fmt.Sprintf("%s %s = new %s { %s };", ext.Entry.HostArray, ext.Out, ext.Entry.HostArray, value))
		post = append(post, ctx.Registry.HostAssign(ext.Var, ext.Out+"[0]"))
	}

	call := ctx.call(name, args)
	if op.Type == ir.Reduce {
		switch op.DestinationBind {
		case ir.DeclarativeAssignment:
			call = fmt.Sprintf("%s %s = %s", op.Destination.TypeName, op.Destination.Name, call)
		case ir.Assignment:
			call = fmt.Sprintf("%s = %s", op.Destination.Name, call)
		}
	}

	site := append(pre, call+";")
	site = append(site, post...)
	return m, site, nil
}

// OutputBindSurface returns the interface method and call site of an
// output bind. A bind of kind None copies into an existing host value.
func OutputBindSurface(ctx *Context, out ir.OutputBind) (HostMethod, []string, error) {
	rec := diag.ForOutputBind(out)
	name, err := ctx.method("outputBind", out.Owner(), rec)
	if err != nil {
		return HostMethod{}, nil, err
	}

	hostType := "Bitmap"
	if out.Collection.Domain() == ir.TypeArray {
		e, err := ctx.Registry.ElementEntry(out.Collection.TypeParameter, ctx.Backend)
		if err != nil {
			return HostMethod{}, nil, diag.Wrap(diag.UnsupportedBackendType, rec, err)
		}
		hostType = e.HostArray
	}

	m := HostMethod{Name: name, Return: hostType}
	dest := out.Destination.Name
	var site string
	switch out.Kind {
	case ir.DeclarativeAssignment:
		site = fmt.Sprintf("%s %s = %s;", out.Destination.TypeName, dest, ctx.call(name, nil))
	case ir.Assignment:
		site = fmt.Sprintf("%s = %s;", dest, ctx.call(name, nil))
	default:
		m.Return = "void"
		m.Params = []Param{{Type: hostType, Name: "PM_target"}}
		site = ctx.call(name, []string{dest}) + ";"
	}
	return m, []string{site}, nil
}

// PlainCallSurface returns the accessor of a plain call and the host
// expression that replaces it.
func PlainCallSurface(ctx *Context, call ir.MethodCall) (HostMethod, []string, error) {
	rec := diag.ForMethodCall(call)
	switch {
	case call.Collection.Domain().IsImage() && (call.Method == "getWidth" || call.Method == "getHeight"):
	case call.Collection.Domain() == ir.TypeArray && call.Method == "getLength":
	default:
		return HostMethod{}, nil, diag.Errorf(diag.MalformedOperation, rec,
			"%s has no method %q", call.Collection.Domain(), call.Method)
	}
	name, err := ctx.method(call.Method, call.Owner(), rec)
	if err != nil {
		return HostMethod{}, nil, err
	}
	m := HostMethod{Name: name, Return: "int"}
	return m, []string{ctx.call(name, nil)}, nil
}

// PlainCallField returns the wrapper field a plain call reads.
func PlainCallField(col Collection, method string) string {
	switch method {
	case "getWidth":
		return col.Width
	case "getHeight":
		return col.Height
	default:
		return col.Length
	}
}
