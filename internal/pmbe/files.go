package pmbe

import (
	"fmt"
	"strings"

	"github.com/roach88/pmc/internal/codegen"
	"github.com/roach88/pmc/internal/lower"
)

func guardName(file string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "/", "_").Replace(file))
}

// Files implements lower.Backend.
func (b *Backend) Files(ctx *lower.Context, parts lower.Parts) []lower.File {
	u := ctx.Unit
	prefix := nativePrefix(u)
	kernelsFile := prefix + "Kernels.hpp"
	headerFile := prefix + "WrapperImplPM.h"
	sourceFile := prefix + "WrapperImplPM.cpp"

	var kernels [][]codegen.Node
	for _, d := range parts.Kernel {
		kernels = append(kernels, d.Nodes)
	}
	kernelNodes := []codegen.Node{
		codegen.Linef("#ifndef %s", guardName(kernelsFile)),
		codegen.Linef("#define %s", guardName(kernelsFile)),
		codegen.Blank{},
		codegen.Line(`static const char PM_kernels[] = R"PM_KERNELS(`),
	}
	kernelNodes = append(kernelNodes, codegen.Separate(kernels...)...)
	kernelNodes = append(kernelNodes,
		codegen.Line(`)PM_KERNELS";`),
		codegen.Blank{},
		codegen.Line("#endif"),
	)

	base := native{Name: "nativeInit", Return: "long"}
	cleanUp := native{Name: "nativeCleanUp", Return: "void"}

	headerNodes := []codegen.Node{
		codegen.Linef("#ifndef %s", guardName(headerFile)),
		codegen.Linef("#define %s", guardName(headerFile)),
		codegen.Blank{},
		codegen.Line("#include <jni.h>"),
		codegen.Blank{},
		codegen.Line("#ifdef __cplusplus"),
		codegen.Line(`extern "C" {`),
		codegen.Line("#endif"),
		codegen.Blank{},
		codegen.Linef("JNIEXPORT jlong JNICALL %s(JNIEnv *, jobject);", jniSymbol(u, base.Name)),
		codegen.Line(cleanUp.glueHead(u, false) + ";"),
	}
	headerNodes = append(headerNodes, parts.GlueDecls...)
	headerNodes = append(headerNodes,
		codegen.Blank{},
		codegen.Line("#ifdef __cplusplus"),
		codegen.Line("}"),
		codegen.Line("#endif"),
		codegen.Blank{},
		codegen.Line("#endif"),
	)

	sourceNodes := []codegen.Node{
		codegen.Linef("#include %q", headerFile),
		codegen.Linef("#include %q", kernelsFile),
		codegen.Blank{},
		codegen.Line("#include <algorithm>"),
		codegen.Line("#include <cmath>"),
		codegen.Line("#include <vector>"),
		codegen.Blank{},
		codegen.Line("#include <android/bitmap.h>"),
		codegen.Line("#include <pm/runtime.hpp>"),
		codegen.Blank{},
		codegen.Block{
			Head: "struct PMBufferData",
			Body: codegen.Lines("pm::BufferPtr buffer;", "int length = 0;", "int width = 0;", "int height = 0;"),
			Tail: ";",
		},
		codegen.Blank{},
		codegen.Block{
			Head: "struct PMRuntimeData",
			Body: codegen.Lines("pm::RuntimePtr runtime;", "pm::ProgramPtr program;", "std::vector<PMBufferData *> buffers;"),
			Tail: ";",
		},
		codegen.Blank{},
		codegen.Block{
			Head: fmt.Sprintf("JNIEXPORT jlong JNICALL %s(JNIEnv *env, jobject thiz)", jniSymbol(u, base.Name)),
			Body: []codegen.Node{
				codegen.Line("PMRuntimeData *PM_rt = new PMRuntimeData();"),
				codegen.Line("PM_rt->runtime = pm::Runtime::create();"),
				codegen.Block{
					Head: "if (!PM_rt->runtime)",
					Body: codegen.Lines("delete PM_rt;", "return 0;"),
				},
				codegen.Line("PM_rt->program = PM_rt->runtime->createProgram(PM_kernels);"),
				codegen.Line("return reinterpret_cast<jlong>(PM_rt);"),
			},
		},
		codegen.Blank{},
		codegen.Block{
			Head: cleanUp.glueHead(u, true),
			Body: []codegen.Node{
				codegen.Line("PMRuntimeData *PM_rt = reinterpret_cast<PMRuntimeData *>(PM_runtime);"),
				codegen.Block{
					Head: "for (PMBufferData *PM_buffer : PM_rt->buffers)",
					Body: codegen.Lines("delete PM_buffer;"),
				},
				codegen.Line("delete PM_rt;"),
			},
		},
	}
	sourceNodes = append(sourceNodes, parts.GlueDefs...)

	wrapper := WrapperClass(u)
	var file []codegen.Node
	if u.Package != "" {
		file = append(file, codegen.Linef("package %s;", u.Package), codegen.Blank{})
	}
	file = append(file, codegen.Lines(
		"import android.graphics.Bitmap;",
		"import "+ctx.Options.UserLibrary+".datatypes.*;",
	)...)
	file = append(file, codegen.Blank{})

	members := []codegen.Node{
		codegen.Block{Head: "static", Body: codegen.Lines(fmt.Sprintf("System.loadLibrary(%q);", ctx.Library()))},
		codegen.Blank{},
		codegen.Line("private long PM_runtime;"),
	}
	members = append(members, parts.Fields...)
	members = append(members,
		codegen.Blank{},
		codegen.Block{
			Head: fmt.Sprintf("public %s()", wrapper),
			Body: codegen.Lines("PM_runtime = nativeInit();"),
		},
		codegen.Blank{},
		codegen.Line("@Override"),
		codegen.Block{
			Head: "protected void finalize() throws Throwable",
			Body: []codegen.Node{codegen.Block{
				Head: "try",
				Body: []codegen.Node{
					codegen.Block{
						Head: "if (PM_runtime != 0)",
						Body: codegen.Lines("nativeCleanUp(PM_runtime);", "PM_runtime = 0;"),
					},
				},
				Tail: " finally {",
			}, codegen.Indent{Body: codegen.Lines("super.finalize();")}, codegen.Line("}")},
		},
		codegen.Blank{},
		codegen.Line("@Override"),
		codegen.Block{Head: "public boolean isValid()", Body: codegen.Lines("return PM_runtime != 0;")},
	)
	members = append(members, parts.Methods...)
	members = append(members,
		codegen.Blank{},
		codegen.Line("private native long nativeInit();"),
		cleanUp.javaDecl(),
	)
	members = append(members, parts.Natives...)
	file = append(file, codegen.Block{
		Head: fmt.Sprintf("public class %s implements %sWrapper", wrapper, u.Class),
		Body: members,
	})

	return []lower.File{
		{Path: "jni/" + kernelsFile, Kind: lower.KindKernel, Nodes: kernelNodes},
		{Path: "jni/" + headerFile, Kind: lower.KindNativeHeader, Nodes: headerNodes},
		{Path: "jni/" + sourceFile, Kind: lower.KindNativeSource, Nodes: sourceNodes},
		{Path: ctx.JavaPath(wrapper), Kind: lower.KindWrapper, Nodes: file},
	}
}
