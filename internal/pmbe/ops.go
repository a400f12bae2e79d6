package pmbe

import (
	"fmt"
	"strings"

	"github.com/roach88/pmc/internal/codegen"
	"github.com/roach88/pmc/internal/diag"
	"github.com/roach88/pmc/internal/ir"
	"github.com/roach88/pmc/internal/lower"
	"github.com/roach88/pmc/internal/naming"
)

// signature pairs kernel parameters with the host setArg operands that
// feed them, so the two lists cannot drift apart.
type signature struct {
	params []string
	args   []string
}

func (s *signature) add(param, arg string) {
	s.params = append(s.params, param)
	s.args = append(s.args, arg)
}

func (s signature) head(name string) string {
	return fmt.Sprintf("__kernel void %s(%s)", name, strings.Join(s.params, ", "))
}

// opLowering carries the shared state of one operation while its kernels,
// glue and wrapper method are built.
type opLowering struct {
	ctx  *lower.Context
	op   ir.Operation
	rec  diag.Record
	src  lower.Collection
	exts []lower.External
	h    *lower.Helper
	frag *lower.Fragment
	n    native

	// javaArgs are the arguments of the native call after PM_runtime.
	javaArgs []string
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
	h, err := lower.BuildHelper(ctx, op, src, exts, lower.HelperOptions{})
	if err != nil {
		return nil, err
	}
	name, err := nativeName(ctx, op.Type.String(), op.Owner(), rec)
	if err != nil {
		return nil, err
	}
	l := &opLowering{
		ctx:  ctx,
		op:   op,
		rec:  rec,
		src:  src,
		exts: exts,
		h:    h,
		frag: &lower.Fragment{Interface: m.Signature(), CallSite: site},
		n:    native{Name: name, Return: "void", Params: []nativeParam{handle(src.Buffer)}},
	}
	l.javaArgs = []string{src.Buffer}
	if err := l.externalParams(); err != nil {
		return nil, err
	}

	var kernels, javaBody, glue []codegen.Node
	switch op.Type {
	case ir.Foreach:
		kernels, javaBody, glue = l.foreach()
	case ir.Map:
		kernels, javaBody, glue, err = l.mapOp()
	case ir.Filter:
		kernels, javaBody, glue, err = l.filter()
	case ir.Reduce:
		kernels, javaBody, glue, err = l.reduce()
	default:
		return nil, diag.Errorf(diag.MalformedOperation, rec, "unknown operation type %q", op.Type)
	}
	if err != nil {
		return nil, err
	}

	l.frag.Kernel = []lower.KernelDecl{{
		Key:   h.Kernel,
		Phase: lower.PhaseOperation,
		Nodes: codegen.Separate(h.Nodes, kernels),
	}}
	l.n.attach(ctx, l.frag, append([]codegen.Node{bufferOf("PM_source", src.Buffer)}, glue...))
	l.frag.Methods = method(m, javaBody)
	return l.frag, nil
}

func (l *opLowering) sequential() bool {
	return l.op.Execution == ir.Sequential
}

func (l *opLowering) named(role naming.Role, base string) (string, error) {
	return l.h.Named(l.ctx, role, base)
}

// externalParams adds the captured values, and the out arrays of written
// ones on the sequential path, to the native method.
func (l *opLowering) externalParams() error {
	for _, ext := range l.exts {
		value, err := l.ctx.Registry.HostValue(ext.Var, l.ctx.Backend)
		if err != nil {
			return diag.Wrap(diag.UnsupportedBackendType, l.rec, err)
		}
		l.n.Params = append(l.n.Params, nativeParam{Java: ext.Entry.HostType, JNI: ext.Entry.JNIType, Name: ext.Ident})
		l.javaArgs = append(l.javaArgs, value)
	}
	for _, ext := range l.writes() {
		l.n.Params = append(l.n.Params, nativeParam{Java: ext.Entry.HostArray, JNI: ext.Entry.JNIArray, Name: ext.Out})
		l.javaArgs = append(l.javaArgs, ext.Out)
	}
	return nil
}

// writes lists the externals copied back to the host.
func (l *opLowering) writes() []lower.External {
	if !l.sequential() {
		return nil
	}
	var out []lower.External
	for _, ext := range l.exts {
		if ext.Mutable() {
			out = append(out, ext)
		}
	}
	return out
}

// addExternals appends the captured values, and on the sequential path
// the write-back buffers, to a kernel signature.
func (l *opLowering) addExternals(s *signature) {
	for _, ext := range l.exts {
		s.add(ext.Entry.KernelType+" "+ext.Ident, scalarArg(ext.Entry.JNIType, ext.Ident))
	}
	for _, ext := range l.writes() {
		s.add(fmt.Sprintf("__global %s *%s", ext.Entry.KernelType, ext.Buffer), ext.Buffer)
	}
}

func (l *opLowering) writeBack() []codegen.Node {
	var nodes []codegen.Node
	for _, ext := range l.writes() {
		nodes = append(nodes, codegen.Linef("%s[0] = %s;", ext.Buffer, ext.Ident))
	}
	return nodes
}

// allocWrites creates the host side of the write-back buffers.
func (l *opLowering) allocWrites() []codegen.Node {
	var nodes []codegen.Node
	for _, ext := range l.writes() {
		nodes = append(nodes, codegen.Linef("pm::BufferPtr %s = PM_rt->runtime->createBuffer(%s);", ext.Buffer, elemSize(ext.Entry)))
	}
	return nodes
}

// readBack copies written externals into their out arrays.
func (l *opLowering) readBack() []codegen.Node {
	var nodes []codegen.Node
	for _, ext := range l.writes() {
		nodes = append(nodes, codegen.Block{Body: codegen.Lines(
			fmt.Sprintf("%s PM_out;", ext.Entry.JNIType),
			fmt.Sprintf("%s->copyTo(&PM_out);", ext.Buffer),
			fmt.Sprintf("env->Set%sArrayRegion(%s, 0, 1, &PM_out);", ext.Entry.Marshal, ext.Out),
		)})
	}
	return nodes
}

// work is the work size of a kernel with one item per source element.
func (l *opLowering) work() string {
	switch {
	case l.sequential():
		return "1"
	case l.src.IsImage():
		return "PM_source->width, PM_source->height"
	default:
		return "PM_source->length"
	}
}

// addShape appends the dimensions a kernel over the source needs: the
// width for parallel 2-D kernels, every dimension for sequential loops.
func (l *opLowering) addShape(s *signature) {
	switch {
	case l.sequential() && l.src.IsImage():
		s.add("int PM_width", "sizeof(int), &PM_source->width")
		s.add("int PM_height", "sizeof(int), &PM_source->height")
	case l.sequential():
		s.add("int PM_length", "sizeof(int), &PM_source->length")
	case l.src.IsImage():
		s.add("int PM_width", "sizeof(int), &PM_source->width")
	}
}

// visit wraps inner in the element traversal of a kernel: a work item
// lookup on the parallel path, a row-major loop on the sequential one.
// inner receives the flat index expression.
func (l *opLowering) visit(inner []codegen.Node) []codegen.Node {
	switch {
	case l.sequential() && l.src.IsImage():
		body := append([]codegen.Node{codegen.Line("int PM_index = PM_y * PM_width + PM_x;")}, inner...)
		return []codegen.Node{codegen.Block{
			Head: "for (int PM_y = 0; PM_y < PM_height; PM_y++)",
			Body: []codegen.Node{codegen.Block{
				Head: "for (int PM_x = 0; PM_x < PM_width; PM_x++)",
				Body: body,
			}},
		}}
	case l.sequential():
		body := append([]codegen.Node{codegen.Line("int PM_index = PM_x;")}, inner...)
		return []codegen.Node{codegen.Block{
			Head: "for (int PM_x = 0; PM_x < PM_length; PM_x++)",
			Body: body,
		}}
	case l.src.IsImage():
		return append(codegen.Lines(
			"int PM_x = get_global_id(0);",
			"int PM_y = get_global_id(1);",
			"int PM_index = PM_y * PM_width + PM_x;",
		), inner...)
	default:
		return append(codegen.Lines(
			"int PM_x = get_global_id(0);",
			"int PM_index = PM_x;",
		), inner...)
	}
}

// kernel assembles an element-wise kernel over the source.
func (l *opLowering) kernel(name string, s signature, inner []codegen.Node) codegen.Node {
	body := l.visit(inner)
	body = append(body, l.writeBack()...)
	return codegen.Block{Head: s.head(name), Body: body}
}

func (l *opLowering) guardJava(body []codegen.Node) []codegen.Node {
	return []codegen.Node{codegen.Block{Head: fmt.Sprintf("if (%s > 0)", l.src.Size()), Body: body}}
}

func (l *opLowering) guardGlue(body []codegen.Node) codegen.Node {
	return codegen.Block{Head: "if (PM_source->length > 0)", Body: body}
}

func (l *opLowering) foreach() ([]codegen.Node, []codegen.Node, []codegen.Node) {
	elem := l.src.Element
	var s signature
	s.add(fmt.Sprintf("__global %s *%s", elem.KernelType, l.src.Buffer), "PM_source->buffer")
	l.addShape(&s)
	l.addExternals(&s)

	args := []string{"&PM_element"}
	if l.src.IsImage() {
		args = append(args, "PM_x", "PM_y")
	}
	k := l.kernel(l.h.Kernel, s, codegen.Lines(
		fmt.Sprintf("%s PM_element = %s[PM_index];", elem.KernelType, l.src.Buffer),
		l.h.Call(args...)+";",
		fmt.Sprintf("%s[PM_index] = PM_element;", l.src.Buffer),
	))

	glue := l.allocWrites()
	glue = append(glue, launch{kernel: l.h.Kernel, args: s.args, work: l.work()}.nodes()...)
	glue = append(glue, l.readBack()...)
	java := l.guardJava(codegen.Lines(l.n.call(l.javaArgs...) + ";"))
	return []codegen.Node{k}, java, glue
}

// destination resolves the collection an operation creates and declares
// its wrapper fields.
func (l *opLowering) destination() (lower.Collection, error) {
	dest, err := l.ctx.Collection(*l.op.Destination, l.rec)
	if err != nil {
		return lower.Collection{}, err
	}
	l.frag.Fields = append(l.frag.Fields, collectionFields(dest)...)
	return dest, nil
}

func (l *opLowering) mapOp() ([]codegen.Node, []codegen.Node, []codegen.Node, error) {
	dest, err := l.destination()
	if err != nil {
		return nil, nil, nil, err
	}
	l.n.Return = "long"

	var s signature
	s.add(fmt.Sprintf("__global const %s *%s", l.src.Element.KernelType, l.src.Buffer), "PM_source->buffer")
	s.add(fmt.Sprintf("__global %s *%s", dest.Element.KernelType, dest.Buffer), "PM_buffer->buffer")
	l.addShape(&s)
	l.addExternals(&s)
	k := l.kernel(l.h.Kernel, s, codegen.Lines(
		fmt.Sprintf("%s[PM_index] = %s;", dest.Buffer, l.h.Call(l.src.Buffer+"[PM_index]")),
	))

	glue := newBuffer(dest.Element, "PM_source->length")
	glue = append(glue, l.allocWrites()...)
	run := launch{kernel: l.h.Kernel, args: s.args, work: l.work()}.nodes()
	run = append(run, l.readBack()...)
	glue = append(glue, l.guardGlue(run), codegen.Line("return reinterpret_cast<jlong>(PM_buffer);"))

	java := codegen.Lines(
		fmt.Sprintf("%s = %s;", dest.Length, l.src.Length),
		fmt.Sprintf("%s = %s;", dest.Buffer, l.n.call(l.javaArgs...)),
	)
	return []codegen.Node{k}, java, glue, nil
}

// filter runs in three kernels: a flag per element, a count of the flags,
// and a pack of the flagged elements into a destination of that size.
func (l *opLowering) filter() ([]codegen.Node, []codegen.Node, []codegen.Node, error) {
	dest, err := l.destination()
	if err != nil {
		return nil, nil, nil, err
	}
	var flags, count, countKernel, packKernel string
	for _, n := range []struct {
		dst  *string
		role naming.Role
		base string
	}{
		{&flags, naming.Temp, "flags"},
		{&count, naming.Temp, "count"},
		{&countKernel, naming.Kernel, "count"},
		{&packKernel, naming.Kernel, "pack"},
	} {
		if *n.dst, err = l.named(n.role, n.base); err != nil {
			return nil, nil, nil, err
		}
	}
	l.n.Return = "long"
	l.n.Params = append(l.n.Params, nativeParam{Java: "int[]", JNI: "jintArray", Name: "PM_count"})
	l.javaArgs = append(l.javaArgs, "PM_count")

	elem := l.src.Element
	var fs signature
	fs.add(fmt.Sprintf("__global const %s *%s", elem.KernelType, l.src.Buffer), "PM_source->buffer")
	fs.add("__global uchar *"+flags, flags)
	l.addShape(&fs)
	l.addExternals(&fs)
	flagKernel := l.kernel(l.h.Kernel, fs, codegen.Lines(
		fmt.Sprintf("%s[PM_index] = %s ? 1 : 0;", flags, l.h.Call(l.src.Buffer+"[PM_index]")),
	))

	var cs signature
	cs.add("__global const uchar *"+flags, flags)
	cs.add("__global int *"+count, count)
	cs.add("int PM_length", "sizeof(int), &PM_source->length")
	countFn := codegen.Block{
		Head: cs.head(countKernel),
		Body: []codegen.Node{
			codegen.Line("int PM_count = 0;"),
			codegen.Block{
				Head: "for (int PM_x = 0; PM_x < PM_length; PM_x++)",
				Body: codegen.Lines(fmt.Sprintf("PM_count += %s[PM_x];", flags)),
			},
			codegen.Linef("%s[0] = PM_count;", count),
		},
	}

	var ps signature
	ps.add(fmt.Sprintf("__global const %s *%s", elem.KernelType, l.src.Buffer), "PM_source->buffer")
	ps.add("__global const uchar *"+flags, flags)
	ps.add(fmt.Sprintf("__global %s *%s", dest.Element.KernelType, dest.Buffer), "PM_buffer->buffer")
	ps.add("int PM_length", "sizeof(int), &PM_source->length")
	packFn := codegen.Block{
		Head: ps.head(packKernel),
		Body: []codegen.Node{
			codegen.Line("int PM_i = 0;"),
			codegen.Block{
				Head: "for (int PM_x = 0; PM_x < PM_length; PM_x++)",
				Body: []codegen.Node{codegen.Block{
					Head: fmt.Sprintf("if (%s[PM_x])", flags),
					Body: codegen.Lines(
						fmt.Sprintf("%s[PM_i] = %s[PM_x];", dest.Buffer, l.src.Buffer),
						"PM_i++;",
					),
				}},
			},
		},
	}

	glue := []codegen.Node{
		codegen.Linef("pm::BufferPtr %s = PM_rt->runtime->createBuffer(std::max(PM_source->length, 1));", flags),
		codegen.Linef("pm::BufferPtr %s = PM_rt->runtime->createBuffer(sizeof(jint));", count),
	}
	glue = append(glue, l.allocWrites()...)
	glue = append(glue, codegen.Line("jint PM_value = 0;"))
	run := launch{kernel: l.h.Kernel, args: fs.args, work: l.work()}.nodes()
	run = append(run, launch{kernel: countKernel, args: cs.args, work: "1"}.nodes()...)
	run = append(run, codegen.Linef("%s->copyTo(&PM_value);", count))
	run = append(run, l.readBack()...)
	glue = append(glue, l.guardGlue(run), codegen.Line("env->SetIntArrayRegion(PM_count, 0, 1, &PM_value);"))
	glue = append(glue, newBuffer(dest.Element, "PM_value")...)
	glue = append(glue,
		codegen.Block{
			Head: "if (PM_buffer->length > 0)",
			Body: launch{kernel: packKernel, args: ps.args, work: "1"}.nodes(),
		},
		codegen.Line("return reinterpret_cast<jlong>(PM_buffer);"))

	java := codegen.Lines(
		"int[] PM_count = new int[1];",
		fmt.Sprintf("%s = %s;", dest.Buffer, l.n.call(l.javaArgs...)),
		fmt.Sprintf("%s = PM_count[0];", dest.Length),
	)
	kernels := []codegen.Node{flagKernel, codegen.Blank{}, countFn, codegen.Blank{}, packFn}
	return kernels, java, glue, nil
}

func (l *opLowering) reduce() ([]codegen.Node, []codegen.Node, []codegen.Node, error) {
	result, err := l.named(naming.Temp, "result")
	if err != nil {
		return nil, nil, nil, err
	}
	elem := l.src.Element
	t := elem.KernelType
	l.n.Params = append(l.n.Params, nativeParam{Java: elem.HostArray, JNI: elem.JNIArray, Name: "PM_result"})
	l.javaArgs = append(l.javaArgs, "PM_result")

	glue := []codegen.Node{
		codegen.Line("int PM_length = PM_source->length;"),
		codegen.Linef("pm::BufferPtr %s = PM_rt->runtime->createBuffer(%s);", result, elemSize(elem)),
	}
	glue = append(glue, l.allocWrites()...)

	var kernels []codegen.Node
	if l.sequential() {
		var s signature
		s.add(fmt.Sprintf("__global const %s *%s", t, l.src.Buffer), "PM_source->buffer")
		s.add(fmt.Sprintf("__global %s *%s", t, result), result)
		s.add("int PM_length", "sizeof(int), &PM_length")
		l.addExternals(&s)
		body := []codegen.Node{
			codegen.Linef("%s PM_acc = %s[0];", t, l.src.Buffer),
			codegen.Block{
				Head: "for (int PM_i = 1; PM_i < PM_length; PM_i++)",
				Body: codegen.Lines(fmt.Sprintf("PM_acc = %s;", l.h.Call("PM_acc", l.src.Buffer+"[PM_i]"))),
			},
			codegen.Linef("%s[0] = PM_acc;", result),
		}
		body = append(body, l.writeBack()...)
		kernels = []codegen.Node{codegen.Block{Head: s.head(l.h.Kernel), Body: body}}
		glue = append(glue, launch{kernel: l.h.Kernel, args: s.args, work: "1"}.nodes()...)
	} else {
		partials, err := l.named(naming.Temp, "partials")
		if err != nil {
			return nil, nil, nil, err
		}
		merge, err := l.named(naming.Kernel, "reduceMerge")
		if err != nil {
			return nil, nil, nil, err
		}
		var ts signature
		ts.add(fmt.Sprintf("__global const %s *%s", t, l.src.Buffer), "PM_source->buffer")
		ts.add(fmt.Sprintf("__global %s *%s", t, partials), partials)
		ts.add("int PM_tileSize", "sizeof(int), &PM_tileSize")
		ts.add("int PM_length", "sizeof(int), &PM_length")
		l.addExternals(&ts)
		tile := codegen.Block{
			Head: ts.head(l.h.Kernel),
			Body: []codegen.Node{
				codegen.Line("int PM_x = get_global_id(0);"),
				codegen.Line("int PM_begin = PM_x * PM_tileSize;"),
				codegen.Line("int PM_end = min(PM_begin + PM_tileSize, PM_length);"),
				codegen.Linef("%s PM_acc = %s[PM_begin];", t, l.src.Buffer),
				codegen.Block{
					Head: "for (int PM_i = PM_begin + 1; PM_i < PM_end; PM_i++)",
					Body: codegen.Lines(fmt.Sprintf("PM_acc = %s;", l.h.Call("PM_acc", l.src.Buffer+"[PM_i]"))),
				},
				codegen.Linef("%s[PM_x] = PM_acc;", partials),
			},
		}

		var ms signature
		ms.add(fmt.Sprintf("__global const %s *%s", t, partials), partials)
		ms.add(fmt.Sprintf("__global %s *%s", t, result), result)
		ms.add("int PM_tiles", "sizeof(int), &PM_tiles")
		l.addExternals(&ms)
		mergeFn := codegen.Block{
			Head: ms.head(merge),
			Body: []codegen.Node{
				codegen.Linef("%s PM_acc = %s[0];", t, partials),
				codegen.Block{
					Head: "for (int PM_i = 1; PM_i < PM_tiles; PM_i++)",
					Body: codegen.Lines(fmt.Sprintf("PM_acc = %s;", l.h.Call("PM_acc", partials+"[PM_i]"))),
				},
				codegen.Linef("%s[0] = PM_acc;", result),
			},
		}
		kernels = []codegen.Node{tile, codegen.Blank{}, mergeFn}

		tiling := lower.TilingFor(l.ctx, l.src)
		for _, st := range tiling.TileStatements("PM_length", "PM_source->width", "PM_source->height", "std::ceil", "std::sqrt") {
			glue = append(glue, codegen.Line(st))
		}
		glue = append(glue, codegen.Linef("pm::BufferPtr %s = PM_rt->runtime->createBuffer(PM_tiles * %s);", partials, elemSize(elem)))
		glue = append(glue, launch{kernel: l.h.Kernel, args: ts.args, work: "PM_tiles"}.nodes()...)
		glue = append(glue, launch{kernel: merge, args: ms.args, work: "1"}.nodes()...)
	}
	glue = append(glue,
		codegen.Linef("%s PM_value[%d];", elem.JNIType, elem.Lanes),
		codegen.Linef("%s->copyTo(PM_value);", result),
		codegen.Linef("env->Set%sArrayRegion(PM_result, 0, %d, PM_value);", elem.Marshal, elem.Lanes))
	glue = append(glue, l.readBack()...)

	boxed, err := l.ctx.Registry.HostBox(l.op.Destination.TypeName, "PM_result", l.ctx.Backend)
	if err != nil {
		return nil, nil, nil, diag.Wrap(diag.UnsupportedBackendType, l.rec, err)
	}
	// An empty collection reduces to the zero value.
	java := []codegen.Node{codegen.Linef("%s PM_result = new %s[%d];", elem.HostArray, elem.HostType, elem.Lanes)}
	java = append(java, l.guardJava(codegen.Lines(l.n.call(l.javaArgs...)+";"))...)
	java = append(java, codegen.Linef("return %s;", boxed))
	return kernels, java, glue, nil
}
