// Package pmbe lowers translation units to the pmruntime target: OpenCL C
// kernels embedded in a C++ header, JNI glue that drives them through the
// native runtime, and a Java wrapper declaring the native methods.
//
// Collections live in runtime buffers owned by a PMRuntimeData record the
// wrapper holds as an opaque handle. Images are flattened row-major into
// float4 buffers; 2-D kernels index them as y * width + x.
package pmbe

import (
	"fmt"
	"strings"

	"github.com/roach88/pmc/internal/codegen"
	"github.com/roach88/pmc/internal/diag"
	"github.com/roach88/pmc/internal/ir"
	"github.com/roach88/pmc/internal/lower"
	"github.com/roach88/pmc/internal/naming"
	"github.com/roach88/pmc/internal/registry"
)

// Backend is the pmruntime backend. It is stateless.
type Backend struct{}

// New returns the pmruntime backend.
func New() *Backend {
	return &Backend{}
}

// Name implements lower.Backend.
func (*Backend) Name() registry.Backend {
	return registry.PMRuntime
}

// Capabilities implements lower.Backend.
func (*Backend) Capabilities() ir.Capabilities {
	return ir.Capabilities{Parallel: true, Sequential: true}
}

// WrapperClass returns the wrapper class name of a unit.
func WrapperClass(u *ir.TranslationUnit) string {
	return u.Class + "WrapperImplPM"
}

// nativePrefix returns the flattened package and class used for native
// file names, e.g. com_example_app_Increment.
func nativePrefix(u *ir.TranslationUnit) string {
	if u.Package == "" {
		return u.Class
	}
	return strings.ReplaceAll(u.Package, ".", "_") + "_" + u.Class
}

// mangle escapes a Java name for a JNI symbol.
func mangle(s string) string {
	s = strings.ReplaceAll(s, "_", "_1")
	return strings.ReplaceAll(s, ".", "_")
}

// jniSymbol returns the exported symbol of a native method.
func jniSymbol(u *ir.TranslationUnit, method string) string {
	class := WrapperClass(u)
	if u.Package != "" {
		class = u.Package + "." + class
	}
	return "Java_" + mangle(class) + "_" + mangle(method)
}

// nativeParam is one parameter of a native method, spelled for both sides
// of the JNI boundary.
type nativeParam struct {
	Java string
	JNI  string
	Name string
}

func handle(name string) nativeParam {
	return nativeParam{Java: "long", JNI: "jlong", Name: name}
}

// native is a Java native method and its C++ implementation.
type native struct {
	Name   string
	Return string // Java return type
	Params []nativeParam
}

var jniReturns = map[string]string{"void": "void", "long": "jlong", "int": "jint"}

func (n native) javaDecl() codegen.Node {
	params := []string{"long PM_runtime"}
	for _, p := range n.Params {
		params = append(params, p.Java+" "+p.Name)
	}
	return codegen.Linef("private native %s %s(%s);", n.Return, n.Name, strings.Join(params, ", "))
}

func (n native) glueHead(u *ir.TranslationUnit, names bool) string {
	params := []string{"JNIEnv *", "jobject", "jlong"}
	if names {
		params = []string{"JNIEnv *env", "jobject thiz", "jlong PM_runtime"}
	}
	for _, p := range n.Params {
		if names {
			params = append(params, p.JNI+" "+p.Name)
		} else {
			params = append(params, p.JNI)
		}
	}
	return fmt.Sprintf("JNIEXPORT %s JNICALL %s(%s)", jniReturns[n.Return], jniSymbol(u, n.Name), strings.Join(params, ", "))
}

// call renders the Java invocation of the native method.
func (n native) call(args ...string) string {
	return fmt.Sprintf("%s(%s)", n.Name, strings.Join(append([]string{"PM_runtime"}, args...), ", "))
}

// attach adds the Java declaration and the glue of n to frag. body is the
// C++ function body after the runtime lookup.
func (n native) attach(ctx *lower.Context, frag *lower.Fragment, body []codegen.Node) {
	frag.Natives = append(frag.Natives, n.javaDecl())
	frag.GlueDecls = append(frag.GlueDecls, codegen.Line(n.glueHead(ctx.Unit, false)+";"))
	full := append([]codegen.Node{codegen.Line("PMRuntimeData *PM_rt = reinterpret_cast<PMRuntimeData *>(PM_runtime);")}, body...)
	frag.GlueDefs = append(frag.GlueDefs, codegen.Blank{}, codegen.Block{Head: n.glueHead(ctx.Unit, true), Body: full})
}

func nativeName(ctx *lower.Context, base string, owner ir.Owner, rec diag.Record) (string, error) {
	name, err := ctx.Names.Fresh(naming.Native, base, owner)
	if err != nil {
		return "", diag.Wrap(diag.NamingCollision, rec, err)
	}
	return name, nil
}

// launch is one runtime task running a single kernel.
type launch struct {
	kernel string
	// args are the setArg operands after the index.
	args []string
	work string
}

func (l launch) nodes() []codegen.Node {
	var cfg []codegen.Node
	for i, a := range l.args {
		cfg = append(cfg, codegen.Linef("kernelHash[%q]->setArg(%d, %s);", l.kernel, i, a))
	}
	cfg = append(cfg, codegen.Linef("kernelHash[%q]->setWorkSize(%s);", l.kernel, l.work))
	return []codegen.Node{codegen.Block{Body: []codegen.Node{
		codegen.Line("pm::TaskPtr PM_task = PM_rt->runtime->createTask();"),
		codegen.Linef("PM_task->addKernel(PM_rt->program, %q);", l.kernel),
		codegen.Block{
			Head: "PM_task->setConfigFunction([=] (pm::DevicePtr &device, pm::KernelHash &kernelHash)",
			Body: cfg,
			Tail: ");",
		},
		codegen.Line("PM_rt->runtime->submitTask(PM_task);"),
		codegen.Line("PM_task->finish();"),
	}}}
}

func scalarArg(jniType, name string) string {
	return fmt.Sprintf("sizeof(%s), &%s", jniType, name)
}

// elemSize is the byte size of one element on the host.
func elemSize(e registry.Entry) string {
	if e.Lanes == 1 {
		return fmt.Sprintf("sizeof(%s)", e.JNIType)
	}
	return fmt.Sprintf("%d * sizeof(%s)", e.Lanes, e.JNIType)
}

// newBuffer allocates a PMBufferData named PM_buffer holding count
// elements of e and registers it with the runtime record.
func newBuffer(e registry.Entry, count string) []codegen.Node {
	return []codegen.Node{
		codegen.Line("PMBufferData *PM_buffer = new PMBufferData();"),
		codegen.Linef("PM_buffer->length = %s;", count),
		codegen.Linef("PM_buffer->buffer = PM_rt->runtime->createBuffer(std::max(PM_buffer->length, 1) * %s);", elemSize(e)),
		codegen.Line("PM_rt->buffers.push_back(PM_buffer);"),
	}
}

func bufferOf(local, param string) codegen.Node {
	return codegen.Linef("PMBufferData *%s = reinterpret_cast<PMBufferData *>(%s);", local, param)
}

// collectionFields declares the wrapper fields of a collection. The
// buffer field holds a native PMBufferData handle.
func collectionFields(col lower.Collection) []codegen.Node {
	nodes := []codegen.Node{codegen.Linef("private long %s;", col.Buffer)}
	if col.IsImage() {
		return append(nodes,
			codegen.Linef("private int %s;", col.Width),
			codegen.Linef("private int %s;", col.Height))
	}
	return append(nodes, codegen.Linef("private int %s;", col.Length))
}

func method(m lower.HostMethod, body []codegen.Node) []codegen.Node {
	return append([]codegen.Node{codegen.Blank{}}, m.Override(body)...)
}

// LowerInputBind implements lower.Backend.
func (b *Backend) LowerInputBind(ctx *lower.Context, in ir.InputBind) (*lower.Fragment, error) {
	rec := diag.ForInputBind(in)
	m, site, err := lower.InputBindSurface(ctx, in)
	if err != nil {
		return nil, err
	}
	col, err := ctx.Collection(in.Collection, rec)
	if err != nil {
		return nil, err
	}
	name, err := nativeName(ctx, "inputBind", in.Owner(), rec)
	if err != nil {
		return nil, err
	}
	frag := &lower.Fragment{
		Fields:    collectionFields(col),
		Interface: m.Signature(),
		CallSite:  site,
	}

	n := native{Name: name, Return: "long"}
	var javaBody, glue []codegen.Node
	switch in.Collection.Domain() {
	case ir.TypeArray:
		e := col.Element
		n.Params = []nativeParam{{Java: e.HostArray, JNI: e.JNIArray, Name: "PM_array"}}
		javaBody = []codegen.Node{
			codegen.Linef("%s = PM_array.length;", col.Length),
			codegen.Linef("%s = %s;", col.Buffer, n.call("PM_array")),
		}
		glue = newBuffer(e, "env->GetArrayLength(PM_array)")
		glue = append(glue, codegen.Block{
			Head: "if (PM_buffer->length > 0)",
			Body: codegen.Lines("PM_buffer->buffer->setJArraySource(env, PM_array);"),
		})
	case ir.TypeBitmapImage:
		n.Params = []nativeParam{{Java: "Bitmap", JNI: "jobject", Name: "PM_bitmap"}}
		javaBody = []codegen.Node{
			codegen.Linef("%s = PM_bitmap.getWidth();", col.Width),
			codegen.Linef("%s = PM_bitmap.getHeight();", col.Height),
			codegen.Linef("%s = %s;", col.Buffer, n.call("PM_bitmap")),
		}
		glue = []codegen.Node{
			codegen.Line("AndroidBitmapInfo PM_info;"),
			codegen.Line("AndroidBitmap_getInfo(env, PM_bitmap, &PM_info);"),
		}
		glue = append(glue, newBuffer(col.Element, "PM_info.width * PM_info.height")...)
		glue = append(glue,
			codegen.Line("PM_buffer->width = PM_info.width;"),
			codegen.Line("PM_buffer->height = PM_info.height;"),
			codegen.Line("pm::BufferPtr PM_source = PM_rt->runtime->createBuffer(std::max(PM_buffer->length, 1) * 4);"),
			codegen.Line("PM_source->setAndroidBitmapSource(env, PM_bitmap);"))
		glue = append(glue, convertIn(ir.TypeBitmapImage)...)
		frag.Kernel = append(frag.Kernel, conversionDecl(ir.TypeBitmapImage, true))
	case ir.TypeHDRImage:
		n.Params = []nativeParam{
			{Java: "byte[]", JNI: "jbyteArray", Name: "PM_data"},
			{Java: "int", JNI: "jint", Name: "PM_width"},
			{Java: "int", JNI: "jint", Name: "PM_height"},
		}
		javaBody = []codegen.Node{
			codegen.Linef("%s = PM_width;", col.Width),
			codegen.Linef("%s = PM_height;", col.Height),
			codegen.Linef("%s = %s;", col.Buffer, n.call("PM_data", "PM_width", "PM_height")),
		}
		glue = newBuffer(col.Element, "PM_width * PM_height")
		glue = append(glue,
			codegen.Line("PM_buffer->width = PM_width;"),
			codegen.Line("PM_buffer->height = PM_height;"),
			codegen.Line("pm::BufferPtr PM_source = PM_rt->runtime->createBuffer(std::max(PM_buffer->length, 1) * 4);"),
			codegen.Line("PM_source->setJArraySource(env, PM_data);"))
		glue = append(glue, convertIn(ir.TypeHDRImage)...)
		frag.Kernel = append(frag.Kernel, conversionDecl(ir.TypeHDRImage, true))
	}
	glue = append(glue, codegen.Line("return reinterpret_cast<jlong>(PM_buffer);"))
	n.attach(ctx, frag, glue)
	frag.Methods = method(m, javaBody)
	return frag, nil
}

// convertIn runs the input conversion kernel from PM_source into
// PM_buffer.
func convertIn(d ir.DomainType) []codegen.Node {
	l := launch{
		kernel: naming.ConversionKernel(d, true),
		args:   []string{"PM_source", "PM_buffer->buffer"},
		work:   "PM_buffer->length",
	}
	return []codegen.Node{codegen.Block{Head: "if (PM_buffer->length > 0)", Body: l.nodes()}}
}

// LowerOutputBind implements lower.Backend.
func (b *Backend) LowerOutputBind(ctx *lower.Context, out ir.OutputBind) (*lower.Fragment, error) {
	rec := diag.ForOutputBind(out)
	m, site, err := lower.OutputBindSurface(ctx, out)
	if err != nil {
		return nil, err
	}
	col, err := ctx.Collection(out.Collection, rec)
	if err != nil {
		return nil, err
	}
	name, err := nativeName(ctx, "outputBind", out.Owner(), rec)
	if err != nil {
		return nil, err
	}
	frag := &lower.Fragment{Interface: m.Signature(), CallSite: site}
	declare := out.Kind != ir.BindNone

	n := native{Name: name, Return: "void", Params: []nativeParam{handle(col.Buffer)}}
	glue := []codegen.Node{bufferOf("PM_source", col.Buffer)}
	var javaBody []codegen.Node
	if col.IsImage() {
		n.Params = append(n.Params, nativeParam{Java: "Bitmap", JNI: "jobject", Name: "PM_target"})
		if declare {
			javaBody = append(javaBody, codegen.Linef("Bitmap PM_target = Bitmap.createBitmap(Math.max(%s, 1), Math.max(%s, 1), Bitmap.Config.ARGB_8888);", col.Width, col.Height))
		}
		javaBody = append(javaBody, codegen.Block{
			Head: fmt.Sprintf("if (%s > 0)", col.Size()),
			Body: codegen.Lines(n.call(col.Buffer, "PM_target") + ";"),
		})

		l := launch{
			kernel: naming.ConversionKernel(col.Var.Domain(), false),
			args:   []string{"PM_source->buffer", "PM_staging"},
			work:   "PM_source->length",
		}
		glue = append(glue,
			codegen.Line("pm::BufferPtr PM_staging = PM_rt->runtime->createBuffer(std::max(PM_source->length, 1) * 4);"))
		glue = append(glue, l.nodes()...)
		glue = append(glue, codegen.Line("PM_staging->copyToAndroidBitmap(env, PM_target);"))
		frag.Kernel = append(frag.Kernel, conversionDecl(col.Var.Domain(), false))
	} else {
		e := col.Element
		n.Params = append(n.Params, nativeParam{Java: e.HostArray, JNI: e.JNIArray, Name: "PM_target"})
		if declare {
			javaBody = append(javaBody, codegen.Linef("%s PM_target = new %s[%s];", e.HostArray, e.HostType, col.Length))
		}
		javaBody = append(javaBody, codegen.Block{
			Head: fmt.Sprintf("if (%s > 0)", col.Length),
			Body: codegen.Lines(n.call(col.Buffer, "PM_target") + ";"),
		})
		glue = append(glue, codegen.Line("PM_source->buffer->copyToJArray(env, PM_target);"))
	}
	if declare {
		javaBody = append(javaBody, codegen.Line("return PM_target;"))
	}
	n.attach(ctx, frag, glue)
	frag.Methods = method(m, javaBody)
	return frag, nil
}

// LowerPlainCall implements lower.Backend.
func (b *Backend) LowerPlainCall(ctx *lower.Context, call ir.MethodCall) (*lower.Fragment, error) {
	return lower.PlainCall(ctx, call)
}

// conversionDecl returns the OpenCL image conversion kernel for d.
func conversionDecl(d ir.DomainType, toFloat bool) lower.KernelDecl {
	name := naming.ConversionKernel(d, toFloat)
	var nodes []codegen.Node
	switch {
	case toFloat && d == ir.TypeBitmapImage:
		nodes = []codegen.Node{codegen.Block{
			Head: "__kernel void " + name + "(__global const uchar4 *PM_source, __global float4 *PM_target)",
			Body: codegen.Lines(
				"int PM_x = get_global_id(0);",
				"PM_target[PM_x] = convert_float4(PM_source[PM_x]) / 255.0f;",
			),
		}}
	case toFloat && d == ir.TypeHDRImage:
		// RGBE: three mantissas sharing the exponent in s3.
		nodes = []codegen.Node{codegen.Block{
			Head: "__kernel void " + name + "(__global const uchar4 *PM_source, __global float4 *PM_target)",
			Body: []codegen.Node{
				codegen.Line("int PM_x = get_global_id(0);"),
				codegen.Line("uchar4 PM_in = PM_source[PM_x];"),
				codegen.Block{
					Head: "if (PM_in.s3 == 0)",
					Body: codegen.Lines(
						"PM_target[PM_x] = (float4) (0.0f, 0.0f, 0.0f, 1.0f);",
						"return;",
					),
				},
				codegen.Line("float PM_scale = ldexp(1.0f, (int) PM_in.s3 - (128 + 8));"),
				codegen.Line("PM_target[PM_x] = (float4) ((PM_in.s0 + 0.5f) * PM_scale, (PM_in.s1 + 0.5f) * PM_scale, (PM_in.s2 + 0.5f) * PM_scale, 1.0f);"),
			},
		}}
	default:
		nodes = []codegen.Node{codegen.Block{
			Head: "__kernel void " + name + "(__global const float4 *PM_source, __global uchar4 *PM_target)",
			Body: codegen.Lines(
				"int PM_x = get_global_id(0);",
				"PM_target[PM_x] = convert_uchar4_sat_rte(clamp(PM_source[PM_x], 0.0f, 1.0f) * 255.0f);",
			),
		}}
	}
	phase := lower.PhaseOutput
	if toFloat {
		phase = lower.PhaseInput
	}
	return lower.KernelDecl{Key: name, Phase: phase, Nodes: nodes}
}
