// Package rsbe lowers translation units to RenderScript: one .rs kernel
// file with the helper functions, kernels and invokables of every record,
// and a Java wrapper that allocates buffers and launches them.
//
// Collections live in Allocations. Arrays are 1-D, images are 2-D
// float4 Allocations addressed by (x, y); a BitmapImage or HDRImage is
// converted into that layout once, when it is bound.
package rsbe

import (
	"fmt"

	"github.com/roach88/pmc/internal/codegen"
	"github.com/roach88/pmc/internal/diag"
	"github.com/roach88/pmc/internal/ir"
	"github.com/roach88/pmc/internal/lower"
	"github.com/roach88/pmc/internal/naming"
	"github.com/roach88/pmc/internal/registry"
)

// Backend is the renderscript backend. It is stateless.
type Backend struct{}

// New returns the renderscript backend.
func New() *Backend {
	return &Backend{}
}

// Name implements lower.Backend.
func (*Backend) Name() registry.Backend {
	return registry.RenderScript
}

// Capabilities implements lower.Backend.
func (*Backend) Capabilities() ir.Capabilities {
	return ir.Capabilities{Parallel: true, Sequential: true}
}

// WrapperClass returns the wrapper class name of a unit.
func WrapperClass(u *ir.TranslationUnit) string {
	return u.Class + "WrapperImplRS"
}

// ScriptClass returns the class the RenderScript compiler generates for
// the unit's kernel file.
func ScriptClass(u *ir.TranslationUnit) string {
	return "ScriptC_" + u.Class
}

func element(e registry.Entry) string {
	return fmt.Sprintf("Element.%s(PM_mRS)", e.Marshal)
}

func createSized(e registry.Entry, count string) string {
	return fmt.Sprintf("Allocation.createSized(PM_mRS, %s, %s)", element(e), count)
}

func create2D(marshal, width, height string) string {
	return fmt.Sprintf("Allocation.createTyped(PM_mRS, new Type.Builder(PM_mRS, Element.%s(PM_mRS)).setX(%s).setY(%s).create())",
		marshal, width, height)
}

func getElement(e registry.Entry, alloc string, index ...string) string {
	args := alloc
	for _, i := range index {
		args += ", " + i
	}
	return fmt.Sprintf("rsGetElementAt_%s(%s)", e.KernelType, args)
}

func setElement(e registry.Entry, alloc, value string, index ...string) string {
	args := alloc + ", " + value
	for _, i := range index {
		args += ", " + i
	}
	return fmt.Sprintf("rsSetElementAt_%s(%s);", e.KernelType, args)
}

// collectionFields declares the wrapper fields of a collection.
func collectionFields(col lower.Collection) []codegen.Node {
	nodes := []codegen.Node{codegen.Linef("private Allocation %s;", col.Buffer)}
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

	frag := &lower.Fragment{
		Fields:    collectionFields(col),
		Interface: m.Signature(),
		CallSite:  site,
	}

	var body []codegen.Node
	switch in.Collection.Domain() {
	case ir.TypeArray:
		body = []codegen.Node{
			codegen.Linef("%s = PM_array.length;", col.Length),
			codegen.Linef("%s = %s;", col.Buffer, createSized(col.Element, "Math.max("+col.Length+", 1)")),
			codegen.Block{
				Head: fmt.Sprintf("if (%s > 0)", col.Length),
				Body: codegen.Lines(col.Buffer + ".copyFrom(PM_array);"),
			},
		}
	case ir.TypeBitmapImage:
		kernel := naming.ConversionKernel(ir.TypeBitmapImage, true)
		body = []codegen.Node{
			codegen.Linef("%s = PM_bitmap.getWidth();", col.Width),
			codegen.Linef("%s = PM_bitmap.getHeight();", col.Height),
			codegen.Line("Allocation PM_source = Allocation.createFromBitmap(PM_mRS, PM_bitmap);"),
			codegen.Linef("%s = %s;", col.Buffer, create2D("F32_4", col.Width, col.Height)),
			codegen.Linef("PM_kernel.forEach_%s(PM_source, %s);", kernel, col.Buffer),
		}
		frag.Kernel = append(frag.Kernel, conversionDecl(ir.TypeBitmapImage, true))
	case ir.TypeHDRImage:
		kernel := naming.ConversionKernel(ir.TypeHDRImage, true)
		body = []codegen.Node{
			codegen.Linef("%s = PM_width;", col.Width),
			codegen.Linef("%s = PM_height;", col.Height),
			codegen.Linef("Allocation PM_source = %s;", create2D("U8_4", col.Width, col.Height)),
			codegen.Line("PM_source.copyFrom(PM_data);"),
			codegen.Linef("%s = %s;", col.Buffer, create2D("F32_4", col.Width, col.Height)),
			codegen.Linef("PM_kernel.forEach_%s(PM_source, %s);", kernel, col.Buffer),
		}
		frag.Kernel = append(frag.Kernel, conversionDecl(ir.TypeHDRImage, true))
	}
	frag.Methods = method(m, body)
	return frag, nil
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
	frag := &lower.Fragment{Interface: m.Signature(), CallSite: site}
	declare := out.Kind != ir.BindNone

	var body []codegen.Node
	if col.IsImage() {
		kernel := naming.ConversionKernel(col.Var.Domain(), false)
		if declare {
			body = append(body, codegen.Linef("Bitmap PM_target = Bitmap.createBitmap(Math.max(%s, 1), Math.max(%s, 1), Bitmap.Config.ARGB_8888);", col.Width, col.Height))
		}
		body = append(body, codegen.Block{
			Head: fmt.Sprintf("if (%s > 0)", col.Size()),
			Body: codegen.Lines(
				"Allocation PM_staging = Allocation.createFromBitmap(PM_mRS, PM_target);",
				fmt.Sprintf("PM_kernel.forEach_%s(%s, PM_staging);", kernel, col.Buffer),
				"PM_staging.copyTo(PM_target);",
			),
		})
		frag.Kernel = append(frag.Kernel, conversionDecl(col.Var.Domain(), false))
	} else {
		if declare {
			body = append(body, codegen.Linef("%s PM_target = new %s[%s];", col.Element.HostArray, col.Element.HostType, col.Length))
		}
		body = append(body, codegen.Block{
			Head: fmt.Sprintf("if (%s > 0)", col.Length),
			Body: codegen.Lines(col.Buffer + ".copyTo(PM_target);"),
		})
	}
	if declare {
		body = append(body, codegen.Line("return PM_target;"))
	}
	frag.Methods = method(m, body)
	return frag, nil
}

// LowerPlainCall implements lower.Backend.
func (b *Backend) LowerPlainCall(ctx *lower.Context, call ir.MethodCall) (*lower.Fragment, error) {
	return lower.PlainCall(ctx, call)
}

// conversionDecl returns the image conversion kernel for d. toFloat
// selects the input direction.
func conversionDecl(d ir.DomainType, toFloat bool) lower.KernelDecl {
	name := naming.ConversionKernel(d, toFloat)
	var nodes []codegen.Node
	switch {
	case toFloat && d == ir.TypeBitmapImage:
		nodes = []codegen.Node{codegen.Block{
			Head: "float4 __attribute__((kernel)) " + name + "(uchar4 PM_in)",
			Body: codegen.Lines("return rsUnpackColor8888(PM_in);"),
		}}
	case toFloat && d == ir.TypeHDRImage:
		// RGBE: three mantissas sharing the exponent in w.
		nodes = []codegen.Node{codegen.Block{
			Head: "float4 __attribute__((kernel)) " + name + "(uchar4 PM_in)",
			Body: []codegen.Node{
				codegen.Block{
					Head: "if (PM_in.w == 0)",
					Body: codegen.Lines("return (float4){0.0f, 0.0f, 0.0f, 1.0f};"),
				},
				codegen.Line("float PM_scale = ldexp(1.0f, (int) PM_in.w - (128 + 8));"),
				codegen.Line("return (float4){(PM_in.x + 0.5f) * PM_scale, (PM_in.y + 0.5f) * PM_scale, (PM_in.z + 0.5f) * PM_scale, 1.0f};"),
			},
		}}
	default:
		nodes = []codegen.Node{codegen.Block{
			Head: "uchar4 __attribute__((kernel)) " + name + "(float4 PM_in)",
			Body: codegen.Lines("return rsPackColorTo8888(clamp(PM_in, 0.0f, 1.0f));"),
		}}
	}
	phase := lower.PhaseOutput
	if toFloat {
		phase = lower.PhaseInput
	}
	return lower.KernelDecl{Key: name, Phase: phase, Nodes: nodes}
}

// Files implements lower.Backend.
func (b *Backend) Files(ctx *lower.Context, parts lower.Parts) []lower.File {
	u := ctx.Unit

	header := []codegen.Node{codegen.Line("#pragma version(1)")}
	if u.Package != "" {
		header = append(header, codegen.Linef("#pragma rs java_package_name(%s)", u.Package))
	}
	header = append(header, codegen.Line("#pragma rs_fp_relaxed"))
	groups := [][]codegen.Node{header}
	for _, d := range parts.Kernel {
		groups = append(groups, d.Nodes)
	}
	kernelPath := u.Class + ".rs"
	if u.Package != "" {
		kernelPath = ctx.PackagePath() + "/" + kernelPath
	}

	wrapper := WrapperClass(u)
	script := ScriptClass(u)
	var file []codegen.Node
	if u.Package != "" {
		file = append(file, codegen.Linef("package %s;", u.Package), codegen.Blank{})
	}
	file = append(file, codegen.Lines(
		"import android.content.Context;",
		"import android.graphics.Bitmap;",
		"import android.renderscript.Allocation;",
		"import android.renderscript.Element;",
		"import android.renderscript.Float3;",
		"import android.renderscript.Float4;",
		"import android.renderscript.RenderScript;",
		"import android.renderscript.Type;",
		"import "+ctx.Options.UserLibrary+".datatypes.*;",
	)...)
	file = append(file, codegen.Blank{})

	members := []codegen.Node{
		codegen.Line("private RenderScript PM_mRS;"),
		codegen.Linef("private %s PM_kernel;", script),
	}
	members = append(members, parts.Fields...)
	members = append(members,
		codegen.Blank{},
		codegen.Block{
			Head: fmt.Sprintf("public %s(Context PM_context)", wrapper),
			Body: codegen.Lines(
				"PM_mRS = RenderScript.create(PM_context);",
				fmt.Sprintf("PM_kernel = new %s(PM_mRS);", script),
			),
		},
		codegen.Blank{},
		codegen.Line("@Override"),
		codegen.Block{Head: "public boolean isValid()", Body: codegen.Lines("return PM_kernel != null;")},
	)
	members = append(members, parts.Methods...)
	file = append(file, codegen.Block{
		Head: fmt.Sprintf("public class %s implements %sWrapper", wrapper, u.Class),
		Body: members,
	})

	return []lower.File{
		{Path: kernelPath, Kind: lower.KindKernel, Nodes: codegen.Separate(groups...)},
		{Path: ctx.JavaPath(wrapper), Kind: lower.KindWrapper, Nodes: file},
	}
}
