package rsbe

import (
	"fmt"

	"github.com/roach88/pmc/internal/codegen"
	"github.com/roach88/pmc/internal/diag"
	"github.com/roach88/pmc/internal/ir"
	"github.com/roach88/pmc/internal/lower"
	"github.com/roach88/pmc/internal/naming"
)

// opLowering carries the shared state of one operation while its kernels
// and wrapper method are built.
type opLowering struct {
	ctx  *lower.Context
	op   ir.Operation
	src  lower.Collection
	exts []lower.External
	h    *lower.Helper
	m    lower.HostMethod
	frag *lower.Fragment

	// globals are script globals of the operation beyond its externals.
	globals []codegen.Node
}

// LowerOperation implements lower.Backend.
func (b *Backend) LowerOperation(ctx *lower.Context, op ir.Operation) (*lower.Fragment, error) {
	rec := diag.ForOperation(op)
	if op.Execution != ir.Parallel && op.Execution != ir.Sequential {
		return nil, diag.Errorf(diag.MalformedOperation, rec, "operation has no execution mode")
	}
	src, err := ctx.Collection(op.Collection, rec)
	if err != nil {
		return nil, err
	}
	exts, err := lower.Externals(ctx, op)
	if err != nil {
		return nil, err
	}
	m, site, err := lower.OperationSurface(ctx, op, exts)
	if err != nil {
		return nil, err
	}
	h, err := lower.BuildHelper(ctx, op, src, exts, lower.HelperOptions{Qualifier: "static "})
	if err != nil {
		return nil, err
	}
	l := &opLowering{
		ctx:  ctx,
		op:   op,
		src:  src,
		exts: exts,
		h:    h,
		m:    m,
		frag: &lower.Fragment{Interface: m.Signature(), CallSite: site},
	}

	var kernels, body []codegen.Node
	switch op.Type {
	case ir.Foreach:
		kernels, body, err = l.foreach()
	case ir.Map:
		kernels, body, err = l.mapOp()
	case ir.Filter:
		kernels, body, err = l.filter()
	case ir.Reduce:
		kernels, body, err = l.reduce()
	default:
		return nil, diag.Errorf(diag.MalformedOperation, rec, "unknown operation type %q", op.Type)
	}
	if err != nil {
		return nil, err
	}

	l.frag.Kernel = []lower.KernelDecl{{
		Key:   h.Kernel,
		Phase: lower.PhaseOperation,
		Nodes: codegen.Separate(l.externalGlobals(), l.globals, h.Nodes, kernels),
	}}
	l.frag.Methods = method(m, body)
	return l.frag, nil
}

func (l *opLowering) sequential() bool {
	return l.op.Execution == ir.Sequential
}

func (l *opLowering) named(role naming.Role, base string) (string, error) {
	return l.h.Named(l.ctx, role, base)
}

func (l *opLowering) global(format string, args ...any) {
	l.globals = append(l.globals, codegen.Linef(format, args...))
}

// externalGlobals declares a script global per external, plus the
// write-back allocation of every non-final one on the sequential path.
func (l *opLowering) externalGlobals() []codegen.Node {
	var nodes []codegen.Node
	for _, ext := range l.exts {
		nodes = append(nodes, codegen.Linef("%s %s;", ext.Entry.KernelType, ext.Ident))
	}
	if l.sequential() {
		for _, ext := range l.exts {
			if ext.Mutable() {
				nodes = append(nodes, codegen.Linef("rs_allocation %s;", ext.Buffer))
			}
		}
	}
	return nodes
}

// setExternals copies captured values into the script before a launch.
func (l *opLowering) setExternals() ([]codegen.Node, error) {
	var nodes []codegen.Node
	for _, ext := range l.exts {
		value, err := l.ctx.Registry.HostValue(ext.Var, l.ctx.Backend)
		if err != nil {
			return nil, diag.Wrap(diag.UnsupportedBackendType, diag.ForOperation(l.op), err)
		}
		nodes = append(nodes, codegen.Linef("PM_kernel.set_%s(%s);", ext.Ident, value))
	}
	if l.sequential() {
		for _, ext := range l.exts {
			if !ext.Mutable() {
				continue
			}
			nodes = append(nodes,
				codegen.Linef("Allocation %s = %s;", ext.Buffer, createSized(ext.Entry, "1")),
				codegen.Linef("PM_kernel.set_%s(%s);", ext.Buffer, ext.Buffer))
		}
	}
	return nodes, nil
}

// writeBack stores non-final externals at the end of a sequential
// invokable.
func (l *opLowering) writeBack() []codegen.Node {
	var nodes []codegen.Node
	if !l.sequential() {
		return nil
	}
	for _, ext := range l.exts {
		if ext.Mutable() {
			nodes = append(nodes, codegen.Line(setElement(ext.Entry, ext.Buffer, ext.Ident, "0")))
		}
	}
	return nodes
}

// copyBack copies written externals into the host out arrays.
func (l *opLowering) copyBack() []codegen.Node {
	var nodes []codegen.Node
	if !l.sequential() {
		return nil
	}
	for _, ext := range l.exts {
		if ext.Mutable() {
			nodes = append(nodes, codegen.Linef("%s.copyTo(%s);", ext.Buffer, ext.Out))
		}
	}
	return nodes
}

// guard skips the launch for an empty source collection.
func (l *opLowering) guard(body []codegen.Node) codegen.Node {
	return codegen.Block{Head: fmt.Sprintf("if (%s > 0)", l.src.Size()), Body: body}
}

// loop builds a sequential invokable visiting every source element in
// row-major order. inner receives the element index expressions.
func (l *opLowering) loop(name string, inner func(index []string) []codegen.Node) []codegen.Node {
	var head string
	var body []codegen.Node
	if l.src.IsImage() {
		head = fmt.Sprintf("void %s(int PM_width, int PM_height)", name)
		body = []codegen.Node{codegen.Block{
			Head: "for (int PM_y = 0; PM_y < PM_height; PM_y++)",
			Body: []codegen.Node{codegen.Block{
				Head: "for (int PM_x = 0; PM_x < PM_width; PM_x++)",
				Body: inner([]string{"PM_x", "PM_y"}),
			}},
		}}
	} else {
		head = fmt.Sprintf("void %s(int PM_length)", name)
		body = []codegen.Node{codegen.Block{
			Head: "for (int PM_x = 0; PM_x < PM_length; PM_x++)",
			Body: inner([]string{"PM_x"}),
		}}
	}
	body = append(body, l.writeBack()...)
	return []codegen.Node{codegen.Block{Head: head, Body: body}}
}

// invoke launches an invokable built by loop.
func (l *opLowering) invoke(name string) codegen.Node {
	if l.src.IsImage() {
		return codegen.Linef("PM_kernel.invoke_%s(%s, %s);", name, l.src.Width, l.src.Height)
	}
	return codegen.Linef("PM_kernel.invoke_%s(%s);", name, l.src.Length)
}

// kernelHead returns the head of a parallel kernel over the source.
func (l *opLowering) kernelHead(result string) string {
	if l.src.IsImage() {
		return fmt.Sprintf("%s __attribute__((kernel)) %s(%s PM_in, uint32_t x, uint32_t y)",
			result, l.h.Kernel, l.src.Element.KernelType)
	}
	return fmt.Sprintf("%s __attribute__((kernel)) %s(%s PM_in, uint32_t x)",
		result, l.h.Kernel, l.src.Element.KernelType)
}

func (l *opLowering) foreach() ([]codegen.Node, []codegen.Node, error) {
	launch, err := l.setExternals()
	if err != nil {
		return nil, nil, err
	}
	var kernels []codegen.Node
	if l.sequential() {
		data, err := l.named(naming.Binding, "data")
		if err != nil {
			return nil, nil, err
		}
		l.global("rs_allocation %s;", data)
		elem := l.src.Element
		kernels = l.loop(l.h.Kernel, func(index []string) []codegen.Node {
			args := []string{"&PM_element"}
			if l.src.IsImage() {
				args = append(args, index...)
			}
			return []codegen.Node{
				codegen.Linef("%s PM_element = %s;", elem.KernelType, getElement(elem, data, index...)),
				codegen.Linef("%s;", l.h.Call(args...)),
				codegen.Line(setElement(elem, data, "PM_element", index...)),
			}
		})
		launch = append(launch,
			codegen.Linef("PM_kernel.set_%s(%s);", data, l.src.Buffer),
			l.invoke(l.h.Kernel))
		launch = append(launch, l.copyBack()...)
	} else {
		args := []string{"&PM_in"}
		if l.src.IsImage() {
			args = append(args, "x", "y")
		}
		kernels = []codegen.Node{codegen.Block{
			Head: l.kernelHead(l.src.Element.KernelType),
			Body: codegen.Lines(l.h.Call(args...)+";", "return PM_in;"),
		}}
		launch = append(launch, codegen.Linef("PM_kernel.forEach_%s(%s, %s);", l.h.Kernel, l.src.Buffer, l.src.Buffer))
	}
	return kernels, []codegen.Node{l.guard(launch)}, nil
}

// destination resolves the collection an operation creates and declares
// its wrapper fields.
func (l *opLowering) destination() (lower.Collection, error) {
	dest, err := l.ctx.Collection(*l.op.Destination, diag.ForOperation(l.op))
	if err != nil {
		return lower.Collection{}, err
	}
	l.frag.Fields = append(l.frag.Fields, collectionFields(dest)...)
	return dest, nil
}

func (l *opLowering) mapOp() ([]codegen.Node, []codegen.Node, error) {
	dest, err := l.destination()
	if err != nil {
		return nil, nil, err
	}
	launch, err := l.setExternals()
	if err != nil {
		return nil, nil, err
	}
	body := []codegen.Node{
		codegen.Linef("%s = %s;", dest.Length, l.src.Length),
		codegen.Linef("%s = %s;", dest.Buffer, createSized(dest.Element, "Math.max("+dest.Length+", 1)")),
	}

	var kernels []codegen.Node
	if l.sequential() {
		data, err := l.named(naming.Binding, "data")
		if err != nil {
			return nil, nil, err
		}
		out, err := l.named(naming.Binding, "dest")
		if err != nil {
			return nil, nil, err
		}
		l.global("rs_allocation %s;", data)
		l.global("rs_allocation %s;", out)
		kernels = l.loop(l.h.Kernel, func(index []string) []codegen.Node {
			value := l.h.Call(getElement(l.src.Element, data, index...))
			return []codegen.Node{codegen.Line(setElement(dest.Element, out, value, index...))}
		})
		launch = append(launch,
			codegen.Linef("PM_kernel.set_%s(%s);", data, l.src.Buffer),
			codegen.Linef("PM_kernel.set_%s(%s);", out, dest.Buffer),
			l.invoke(l.h.Kernel))
		launch = append(launch, l.copyBack()...)
	} else {
		kernels = []codegen.Node{codegen.Block{
			Head: l.kernelHead(dest.Element.KernelType),
			Body: codegen.Lines(fmt.Sprintf("return %s;", l.h.Call("PM_in"))),
		}}
		launch = append(launch, codegen.Linef("PM_kernel.forEach_%s(%s, %s);", l.h.Kernel, l.src.Buffer, dest.Buffer))
	}
	return kernels, append(body, l.guard(launch)), nil
}

// filter runs in three steps: a flag per element, a count of the flags,
// and a pack of the flagged elements into a destination of that size.
func (l *opLowering) filter() ([]codegen.Node, []codegen.Node, error) {
	dest, err := l.destination()
	if err != nil {
		return nil, nil, err
	}
	var data, out, flags, count, countKernel, packKernel string
	for _, n := range []struct {
		dst  *string
		role naming.Role
		base string
	}{
		{&data, naming.Binding, "data"},
		{&out, naming.Binding, "dest"},
		{&flags, naming.Temp, "flags"},
		{&count, naming.Temp, "count"},
		{&countKernel, naming.Kernel, "count"},
		{&packKernel, naming.Kernel, "pack"},
	} {
		if *n.dst, err = l.named(n.role, n.base); err != nil {
			return nil, nil, err
		}
	}
	for _, g := range []string{data, out, flags, count} {
		l.global("rs_allocation %s;", g)
	}
	elem := l.src.Element

	var kernels []codegen.Node
	if l.sequential() {
		kernels = l.loop(l.h.Kernel, func(index []string) []codegen.Node {
			flag := fmt.Sprintf("%s ? 1 : 0", l.h.Call(getElement(elem, data, index...)))
			return []codegen.Node{codegen.Linef("rsSetElementAt_uchar(%s, %s, PM_x);", flags, flag)}
		})
	} else {
		kernels = []codegen.Node{codegen.Block{
			Head: l.kernelHead("uchar"),
			Body: codegen.Lines(fmt.Sprintf("return %s ? 1 : 0;", l.h.Call("PM_in"))),
		}}
	}
	kernels = append(kernels,
		codegen.Blank{},
		codegen.Block{
			Head: fmt.Sprintf("void %s(int PM_length)", countKernel),
			Body: []codegen.Node{
				codegen.Line("int PM_count = 0;"),
				codegen.Block{
					Head: "for (int PM_x = 0; PM_x < PM_length; PM_x++)",
					Body: codegen.Lines(fmt.Sprintf("PM_count += rsGetElementAt_uchar(%s, PM_x);", flags)),
				},
				codegen.Linef("rsSetElementAt_int(%s, PM_count, 0);", count),
			},
		},
		codegen.Blank{},
		codegen.Block{
			Head: fmt.Sprintf("void %s(int PM_length)", packKernel),
			Body: []codegen.Node{
				codegen.Line("int PM_i = 0;"),
				codegen.Block{
					Head: "for (int PM_x = 0; PM_x < PM_length; PM_x++)",
					Body: []codegen.Node{codegen.Block{
						Head: fmt.Sprintf("if (rsGetElementAt_uchar(%s, PM_x))", flags),
						Body: codegen.Lines(
							setElement(elem, out, getElement(elem, data, "PM_x"), "PM_i"),
							"PM_i++;",
						),
					}},
				},
			},
		},
	)

	launch, err := l.setExternals()
	if err != nil {
		return nil, nil, err
	}
	launch = append(launch,
		codegen.Linef("PM_kernel.set_%s(%s);", data, l.src.Buffer),
		codegen.Linef("PM_kernel.set_%s(%s);", flags, flags),
		codegen.Linef("PM_kernel.set_%s(%s);", count, count))
	if l.sequential() {
		launch = append(launch, l.invoke(l.h.Kernel))
	} else {
		launch = append(launch, codegen.Linef("PM_kernel.forEach_%s(%s, %s);", l.h.Kernel, l.src.Buffer, flags))
	}
	launch = append(launch, l.copyBack()...)
	launch = append(launch,
		codegen.Linef("PM_kernel.invoke_%s(%s);", countKernel, l.src.Length),
		codegen.Linef("%s.copyTo(PM_count);", count))

	body := []codegen.Node{
		codegen.Linef("Allocation %s = Allocation.createSized(PM_mRS, Element.U8(PM_mRS), Math.max(%s, 1));", flags, l.src.Length),
		codegen.Linef("Allocation %s = Allocation.createSized(PM_mRS, Element.I32(PM_mRS), 1);", count),
		codegen.Line("int[] PM_count = new int[1];"),
		l.guard(launch),
		codegen.Linef("%s = PM_count[0];", dest.Length),
		codegen.Linef("%s = %s;", dest.Buffer, createSized(dest.Element, "Math.max("+dest.Length+", 1)")),
		codegen.Block{
			Head: fmt.Sprintf("if (%s > 0)", dest.Length),
			Body: codegen.Lines(
				fmt.Sprintf("PM_kernel.set_%s(%s);", out, dest.Buffer),
				fmt.Sprintf("PM_kernel.invoke_%s(%s);", packKernel, l.src.Length),
			),
		},
	}
	return kernels, body, nil
}

func (l *opLowering) reduce() ([]codegen.Node, []codegen.Node, error) {
	data, err := l.named(naming.Binding, "data")
	if err != nil {
		return nil, nil, err
	}
	result, err := l.named(naming.Temp, "result")
	if err != nil {
		return nil, nil, err
	}
	l.global("rs_allocation %s;", data)
	l.global("rs_allocation %s;", result)
	elem := l.src.Element
	t := elem.KernelType

	launch, err := l.setExternals()
	if err != nil {
		return nil, nil, err
	}
	launch = append(launch,
		codegen.Linef("PM_kernel.set_%s(%s);", data, l.src.Buffer),
		codegen.Linef("Allocation %s = %s;", result, createSized(elem, "1")),
		codegen.Linef("PM_kernel.set_%s(%s);", result, result))

	var kernels []codegen.Node
	if l.sequential() {
		var head, fold string
		if l.src.IsImage() {
			head = fmt.Sprintf("void %s(int PM_width, int PM_height)", l.h.Kernel)
			fold = getElement(elem, data, "PM_i % PM_width", "PM_i / PM_width")
		} else {
			head = fmt.Sprintf("void %s(int PM_length)", l.h.Kernel)
			fold = getElement(elem, data, "PM_i")
		}
		first := getElement(elem, data, "0")
		bound := "PM_length"
		if l.src.IsImage() {
			first = getElement(elem, data, "0", "0")
			bound = "PM_width * PM_height"
		}
		body := []codegen.Node{
			codegen.Linef("%s PM_acc = %s;", t, first),
			codegen.Block{
				Head: fmt.Sprintf("for (int PM_i = 1; PM_i < %s; PM_i++)", bound),
				Body: codegen.Lines(fmt.Sprintf("PM_acc = %s;", l.h.Call("PM_acc", fold))),
			},
			codegen.Line(setElement(elem, result, "PM_acc", "0")),
		}
		body = append(body, l.writeBack()...)
		kernels = []codegen.Node{codegen.Block{Head: head, Body: body}}
		launch = append(launch, l.invoke(l.h.Kernel))
		launch = append(launch, l.copyBack()...)
	} else {
		k, statements, err := l.tiledReduce(data, result)
		if err != nil {
			return nil, nil, err
		}
		kernels = k
		launch = append(launch, statements...)
	}
	launch = append(launch, codegen.Linef("%s.copyTo(PM_result);", result))

	boxed, err := l.ctx.Registry.HostBox(l.op.Destination.TypeName, "PM_result", l.ctx.Backend)
	if err != nil {
		return nil, nil, diag.Wrap(diag.UnsupportedBackendType, diag.ForOperation(l.op), err)
	}
	// An empty collection reduces to the zero value.
	body := []codegen.Node{
		codegen.Linef("%s PM_result = new %s[%d];", elem.HostArray, elem.HostType, elem.Lanes),
		l.guard(launch),
		codegen.Linef("return %s;", boxed),
	}
	return kernels, body, nil
}

// tiledReduce builds the parallel reduction: a kernel folding one tile
// per cell into a partials allocation, then an invokable merging the
// partials into the result.
func (l *opLowering) tiledReduce(data, result string) ([]codegen.Node, []codegen.Node, error) {
	partials, err := l.named(naming.Temp, "partials")
	if err != nil {
		return nil, nil, err
	}
	tileSize, err := l.named(naming.Scalar, "tileSize")
	if err != nil {
		return nil, nil, err
	}
	length, err := l.named(naming.Scalar, "length")
	if err != nil {
		return nil, nil, err
	}
	merge, err := l.named(naming.Kernel, "reduceMerge")
	if err != nil {
		return nil, nil, err
	}
	l.global("rs_allocation %s;", partials)
	l.global("int %s;", tileSize)
	l.global("int %s;", length)

	elem := l.src.Element
	t := elem.KernelType
	var tile codegen.Node
	if l.src.IsImage() {
		tile = codegen.Block{
			Head: fmt.Sprintf("%s __attribute__((kernel)) %s(uint32_t x)", t, l.h.Kernel),
			Body: []codegen.Node{
				codegen.Linef("%s PM_acc = %s;", t, getElement(elem, data, "0", "x")),
				codegen.Block{
					Head: fmt.Sprintf("for (int PM_i = 1; PM_i < %s; PM_i++)", tileSize),
					Body: codegen.Lines(fmt.Sprintf("PM_acc = %s;", l.h.Call("PM_acc", getElement(elem, data, "PM_i", "x")))),
				},
				codegen.Line("return PM_acc;"),
			},
		}
	} else {
		tile = codegen.Block{
			Head: fmt.Sprintf("%s __attribute__((kernel)) %s(uint32_t x)", t, l.h.Kernel),
			Body: []codegen.Node{
				codegen.Linef("int PM_begin = x * %s;", tileSize),
				codegen.Linef("int PM_end = min(PM_begin + %s, %s);", tileSize, length),
				codegen.Linef("%s PM_acc = %s;", t, getElement(elem, data, "PM_begin")),
				codegen.Block{
					Head: "for (int PM_i = PM_begin + 1; PM_i < PM_end; PM_i++)",
					Body: codegen.Lines(fmt.Sprintf("PM_acc = %s;", l.h.Call("PM_acc", getElement(elem, data, "PM_i")))),
				},
				codegen.Line("return PM_acc;"),
			},
		}
	}
	mergeFn := codegen.Block{
		Head: fmt.Sprintf("void %s(int PM_tiles)", merge),
		Body: []codegen.Node{
			codegen.Linef("%s PM_acc = %s;", t, getElement(elem, partials, "0")),
			codegen.Block{
				Head: "for (int PM_i = 1; PM_i < PM_tiles; PM_i++)",
				Body: codegen.Lines(fmt.Sprintf("PM_acc = %s;", l.h.Call("PM_acc", getElement(elem, partials, "PM_i")))),
			},
			codegen.Line(setElement(elem, result, "PM_acc", "0")),
		},
	}

	tiling := lower.TilingFor(l.ctx, l.src)
	var launch []codegen.Node
	for _, s := range tiling.TileStatements(l.src.Length, l.src.Width, l.src.Height, "Math.ceil", "Math.sqrt") {
		launch = append(launch, codegen.Line(s))
	}
	launch = append(launch,
		codegen.Linef("Allocation %s = %s;", partials, createSized(elem, "PM_tiles")),
		codegen.Linef("PM_kernel.set_%s(%s);", partials, partials),
		codegen.Linef("PM_kernel.set_%s(PM_tileSize);", tileSize),
		codegen.Linef("PM_kernel.set_%s(%s);", length, l.src.Size()),
		codegen.Linef("PM_kernel.forEach_%s(%s);", l.h.Kernel, partials),
		codegen.Linef("PM_kernel.invoke_%s(PM_tiles);", merge),
	)
	return []codegen.Node{tile, codegen.Blank{}, mergeFn}, launch, nil
}
