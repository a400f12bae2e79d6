package rsbe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pmc/internal/codegen"
	"github.com/roach88/pmc/internal/compiler"
	"github.com/roach88/pmc/internal/diag"
	"github.com/roach88/pmc/internal/ir"
	"github.com/roach88/pmc/internal/lower"
	"github.com/roach88/pmc/internal/registry"
	"github.com/roach88/pmc/internal/testutil"
)

type lowered struct {
	ctx   *lower.Context
	frags []*lower.Fragment
	files map[string]string
}

func lowerUnit(t *testing.T, u *ir.TranslationUnit, opts lower.Options) lowered {
	t.Helper()
	b := New()
	ops, errs := compiler.ClassifyUnit(u, b.Capabilities())
	require.Empty(t, errs)

	ctx := lower.NewContext(u, registry.New(), registry.RenderScript, opts)
	var frags []*lower.Fragment
	for _, rec := range lower.Records(u, ops) {
		frag, err := lower.Lower(b, ctx, rec)
		require.NoError(t, err)
		frags = append(frags, frag)
	}

	files := make(map[string]string)
	for _, f := range b.Files(ctx, lower.Merge(frags)) {
		files[f.Path] = codegen.Render(f.Nodes, "    ")
	}
	return lowered{ctx: ctx, frags: frags, files: files}
}

func (l lowered) kernel(t *testing.T) string {
	t.Helper()
	for path, content := range l.files {
		if strings.HasSuffix(path, ".rs") {
			return content
		}
	}
	t.Fatal("no kernel file")
	return ""
}

func (l lowered) wrapper(t *testing.T) string {
	t.Helper()
	for path, content := range l.files {
		if strings.HasSuffix(path, "WrapperImplRS.java") {
			return content
		}
	}
	t.Fatal("no wrapper file")
	return ""
}

func TestFiles_Layout(t *testing.T) {
	l := lowerUnit(t, testutil.IncrementUnit(), lower.Options{})

	require.Len(t, l.files, 2)
	assert.Contains(t, l.files, "com/example/app/Increment.rs")
	assert.Contains(t, l.files, "com/example/app/IncrementWrapperImplRS.java")

	kernel := l.kernel(t)
	assert.True(t, strings.HasPrefix(kernel, "#pragma version(1)\n#pragma rs java_package_name(com.example.app)\n#pragma rs_fp_relaxed\n"))

	wrapper := l.wrapper(t)
	assert.True(t, strings.HasPrefix(wrapper, "package com.example.app;\n"))
	assert.Contains(t, wrapper, "import com.pmc.userlibrary.datatypes.*;")
	assert.Contains(t, wrapper, "public class IncrementWrapperImplRS implements IncrementWrapper {")
	assert.Contains(t, wrapper, "    private ScriptC_Increment PM_kernel;")
	assert.Contains(t, wrapper, "        PM_kernel = new ScriptC_Increment(PM_mRS);")
	assert.Contains(t, wrapper, "    public boolean isValid() {\n        return PM_kernel != null;\n    }")
}

func TestForeach_Parallel(t *testing.T) {
	l := lowerUnit(t, testutil.IncrementUnit(), lower.Options{})
	kernel := l.kernel(t)

	assert.Contains(t, kernel, "static void fInt32Operation2(int *e) {\n    (*e) = (*e) + 1;\n}")
	assert.Contains(t, kernel, "int __attribute__((kernel)) kInt32Operation2(int PM_in, uint32_t x) {\n    fInt32Operation2(&PM_in);\n    return PM_in;\n}")

	wrapper := l.wrapper(t)
	assert.Contains(t, wrapper, "    private Allocation mInputInputBind1;\n    private int sLengthInputBind1;")
	assert.Contains(t, wrapper, "public void inputBind1(int[] PM_array) {")
	assert.Contains(t, wrapper, "mInputInputBind1 = Allocation.createSized(PM_mRS, Element.I32(PM_mRS), Math.max(sLengthInputBind1, 1));")
	assert.Contains(t, wrapper, "if (sLengthInputBind1 > 0) {\n            PM_kernel.forEach_kInt32Operation2(mInputInputBind1, mInputInputBind1);\n        }")
	assert.Contains(t, wrapper, "public int[] outputBind3() {\n        int[] PM_target = new int[sLengthInputBind1];")

	var sites []string
	for _, f := range l.frags {
		sites = append(sites, f.CallSite...)
	}
	assert.Equal(t, []string{
		"PM_wrapper.inputBind1(data);",
		"PM_wrapper.foreach2();",
		"data = PM_wrapper.outputBind3();",
	}, sites)
}

func TestForeach_SequentialWritesBackCaptures(t *testing.T) {
	l := lowerUnit(t, testutil.CountUnit(), lower.Options{})
	kernel := l.kernel(t)

	assert.Contains(t, kernel, "int gMaxOperation2;\nint gCountOperation2;\nrs_allocation bCountOperation2;")
	assert.Contains(t, kernel, "rs_allocation aDataOperation2;")
	assert.Contains(t, kernel, "static void fInt32Operation2(int *e, int gMaxOperation2, int *gCountOperation2) {\n    if ((*e) > gMaxOperation2) { (*gCountOperation2) += 1; }\n}")
	assert.Contains(t, kernel, "void kInt32Operation2(int PM_length) {")
	assert.Contains(t, kernel, "        int PM_element = rsGetElementAt_int(aDataOperation2, PM_x);\n        fInt32Operation2(&PM_element, gMaxOperation2, &gCountOperation2);\n        rsSetElementAt_int(aDataOperation2, PM_element, PM_x);")
	assert.Contains(t, kernel, "    rsSetElementAt_int(bCountOperation2, gCountOperation2, 0);\n}")
	assert.NotContains(t, kernel, "__attribute__((kernel)) kInt32Operation2")

	wrapper := l.wrapper(t)
	assert.Contains(t, wrapper, "public void foreach2(Int32 max, Int32 count, int[] oCountOperation2) {")
	assert.Contains(t, wrapper, "PM_kernel.set_gMaxOperation2(max.value);")
	assert.Contains(t, wrapper, "Allocation bCountOperation2 = Allocation.createSized(PM_mRS, Element.I32(PM_mRS), 1);")
	assert.Contains(t, wrapper, "PM_kernel.invoke_kInt32Operation2(sLengthInputBind1);")
	assert.Contains(t, wrapper, "bCountOperation2.copyTo(oCountOperation2);")

	op := l.frags[1]
	assert.Equal(t, "void foreach2(Int32 max, Int32 count, int[] oCountOperation2)", op.Interface)
	assert.Equal(t, []string{
		"int[] oCountOperation2 = new int[] { count.value };",
		"PM_wrapper.foreach2(max, count, oCountOperation2);",
		"count.value = oCountOperation2[0];",
	}, op.CallSite)
}

func TestPipeline_MapFilterReduce(t *testing.T) {
	l := lowerUnit(t, testutil.PipelineUnit(), lower.Options{})
	kernel := l.kernel(t)

	// map
	assert.Contains(t, kernel, "static float fInt32Operation2(int e, float gFactorOperation2) {\n    return ((float) (e * gFactorOperation2));\n}")
	assert.Contains(t, kernel, "float __attribute__((kernel)) kInt32Operation2(int PM_in, uint32_t x) {\n    return fInt32Operation2(PM_in, gFactorOperation2);\n}")

	// filter
	assert.Contains(t, kernel, "static bool fFloat32Operation3(float e) {\n    return e > 0.5f;\n}")
	assert.Contains(t, kernel, "uchar __attribute__((kernel)) kFloat32Operation3(float PM_in, uint32_t x) {\n    return fFloat32Operation3(PM_in) ? 1 : 0;\n}")
	assert.Contains(t, kernel, "void kCountOperation3(int PM_length) {")
	assert.Contains(t, kernel, "void kPackOperation3(int PM_length) {")
	assert.Contains(t, kernel, "rsSetElementAt_float(aDestOperation3, rsGetElementAt_float(aDataOperation3, PM_x), PM_i);")

	// reduce
	assert.Contains(t, kernel, "static float fFloat32Operation4(float a, float c) {\n    return ((float) (a + c));\n}")
	assert.Contains(t, kernel, "float __attribute__((kernel)) kFloat32Operation4(uint32_t x) {")
	assert.Contains(t, kernel, "int PM_end = min(PM_begin + sTileSizeOperation4, sLengthOperation4);")
	assert.Contains(t, kernel, "void kReduceMergeOperation4(int PM_tiles) {")

	wrapper := l.wrapper(t)
	assert.Contains(t, wrapper, "sLengthOperation2 = sLengthInputBind1;")
	assert.Contains(t, wrapper, "PM_kernel.forEach_kInt32Operation2(mInputInputBind1, mScaledOperation2);")
	assert.Contains(t, wrapper, "sLengthOperation3 = PM_count[0];")
	assert.Contains(t, wrapper, "PM_kernel.invoke_kPackOperation3(sLengthOperation2);")
	assert.Contains(t, wrapper, "public Float32 reduce4() {")
	assert.Contains(t, wrapper, "int PM_tiles = (int) Math.ceil(Math.sqrt((double) sLengthOperation3));")
	assert.Contains(t, wrapper, "return new Float32(PM_result[0]);")
	assert.Contains(t, wrapper, "public float[] outputBind5() {")

	// filter output sits behind its own count
	assert.Contains(t, wrapper, "mKeptOperation3 = Allocation.createSized(PM_mRS, Element.F32(PM_mRS), Math.max(sLengthOperation3, 1));")

	assert.Equal(t, []string{"Float32 sum = PM_wrapper.reduce4();"}, l.frags[3].CallSite)
	assert.Equal(t, []string{"float[] result = PM_wrapper.outputBind5();"}, l.frags[4].CallSite)
}

func TestReduce_FixedTileSize(t *testing.T) {
	l := lowerUnit(t, testutil.PipelineUnit(), lower.Options{TileSize: 64})
	wrapper := l.wrapper(t)

	assert.Contains(t, wrapper, "int PM_tileSize = 64;")
	assert.NotContains(t, wrapper, "Math.sqrt")
}

func TestImage_ForeachAndConversions(t *testing.T) {
	l := lowerUnit(t, testutil.ImageUnit(), lower.Options{})
	kernel := l.kernel(t)

	assert.Contains(t, kernel, "float4 __attribute__((kernel)) kToFloatBitmapImage(uchar4 PM_in) {\n    return rsUnpackColor8888(PM_in);\n}")
	assert.Contains(t, kernel, "uchar4 __attribute__((kernel)) kToBitmapBitmapImage(float4 PM_in) {")
	assert.Contains(t, kernel, "static void fPixelOperation2(float4 *p, int PM_x, int PM_y, float gGainOperation2) {\n    (*p).x = min((*p).x * gGainOperation2, 1.0f);\n}")
	assert.Contains(t, kernel, "float4 __attribute__((kernel)) kPixelOperation2(float4 PM_in, uint32_t x, uint32_t y) {\n    fPixelOperation2(&PM_in, x, y, gGainOperation2);\n    return PM_in;\n}")

	// input conversion first, output conversion last
	assert.Less(t, strings.Index(kernel, "kToFloatBitmapImage"), strings.Index(kernel, "fPixelOperation2"))
	assert.Less(t, strings.Index(kernel, "fPixelOperation2"), strings.Index(kernel, "kToBitmapBitmapImage"))

	wrapper := l.wrapper(t)
	assert.Contains(t, wrapper, "sWidthInputBind1 = PM_bitmap.getWidth();")
	assert.Contains(t, wrapper, "PM_kernel.forEach_kToFloatBitmapImage(PM_source, mImageInputBind1);")
	assert.Contains(t, wrapper, "if (sWidthInputBind1 * sHeightInputBind1 > 0) {")
	assert.Contains(t, wrapper, "public int getWidth3() {\n        return sWidthInputBind1;\n    }")
	assert.Contains(t, wrapper, "public void outputBind4(Bitmap PM_target) {")
	assert.Contains(t, wrapper, "PM_kernel.forEach_kToBitmapBitmapImage(mImageInputBind1, PM_staging);")
	assert.Contains(t, wrapper, "public void outputBind4(Bitmap PM_target) {\n        if (sWidthInputBind1 * sHeightInputBind1 > 0) {\n            Allocation PM_staging")
	assert.NotContains(t, wrapper, "Bitmap PM_target = Bitmap.createBitmap")

	assert.Equal(t, []string{"PM_wrapper.getWidth3()"}, l.frags[2].CallSite)
	assert.Equal(t, []string{"PM_wrapper.outputBind4(bitmap);"}, l.frags[3].CallSite)
}

func TestImage_DeclaredOutputBindOnEmptyImage(t *testing.T) {
	b := testutil.NewUnit("com.example.app", "Copy")
	img := b.Bitmap("image", "bitmap")
	b.Output(img, "copy", "Bitmap", ir.DeclarativeAssignment)
	l := lowerUnit(t, b.Build(), lower.Options{})

	wrapper := l.wrapper(t)
	assert.Contains(t, wrapper, "Bitmap PM_target = Bitmap.createBitmap(Math.max(sWidthInputBind1, 1), Math.max(sHeightInputBind1, 1), Bitmap.Config.ARGB_8888);")
	assert.Contains(t, wrapper, "        if (sWidthInputBind1 * sHeightInputBind1 > 0) {\n            Allocation PM_staging = Allocation.createFromBitmap(PM_mRS, PM_target);\n            PM_kernel.forEach_kToBitmapBitmapImage(mImageInputBind1, PM_staging);\n            PM_staging.copyTo(PM_target);\n        }\n        return PM_target;")
}

func TestImage_HDRInput(t *testing.T) {
	b := testutil.NewUnit("com.example.app", "Tone")
	img := b.HDR("image", "data", "w", "h")
	b.Reduce(img, "total", "a", "c", "return new RGBA(a.rgba.red + c.rgba.red, a.rgba.green + c.rgba.green, a.rgba.blue + c.rgba.blue, 1.0f);")
	u := b.Build()
	u.Operations[0].Destination.TypeName = "RGBA"

	l := lowerUnit(t, u, lower.Options{})
	kernel := l.kernel(t)
	assert.Contains(t, kernel, "float4 __attribute__((kernel)) kToFloatHDRImage(uchar4 PM_in) {")
	assert.Contains(t, kernel, "ldexp(1.0f, (int) PM_in.w - (128 + 8))")
	assert.Contains(t, kernel, "return ((float4){a.x + c.x, a.y + c.y, a.z + c.z, 1.0f});")
	assert.Contains(t, kernel, "float4 PM_acc = rsGetElementAt_float4(aDataOperation2, 0, x);")

	wrapper := l.wrapper(t)
	assert.Contains(t, wrapper, "public void inputBind1(byte[] PM_data, int PM_width, int PM_height) {")
	assert.Contains(t, wrapper, "PM_source.copyFrom(PM_data);")
	assert.Contains(t, wrapper, "int PM_tileSize = sWidthInputBind1;\n")
	assert.Contains(t, wrapper, "float[] PM_result = new float[4];")
	assert.Contains(t, wrapper, "return new RGBA(PM_result[0], PM_result[1], PM_result[2], PM_result[3]);")
	assert.Equal(t, []string{"PM_wrapper.inputBind1(data, w, h);"}, l.frags[0].CallSite)
}

func TestReduce_SequentialImageIsRowMajor(t *testing.T) {
	b := testutil.NewUnit("com.example.app", "Tone").Sequential()
	img := b.Bitmap("image", "bitmap")
	b.Reduce(img, "total", "a", "c", "return new RGBA(a.rgba.red + c.rgba.red, a.rgba.green + c.rgba.green, a.rgba.blue + c.rgba.blue, 1.0f);")
	u := b.Build()
	u.Operations[0].Destination.TypeName = "RGBA"

	kernel := lowerUnit(t, u, lower.Options{}).kernel(t)
	assert.Contains(t, kernel, "float4 PM_acc = rsGetElementAt_float4(aDataOperation2, 0, 0);")
	assert.Contains(t, kernel, "for (int PM_i = 1; PM_i < PM_width * PM_height; PM_i++) {")
	assert.Contains(t, kernel, "rsGetElementAt_float4(aDataOperation2, PM_i % PM_width, PM_i / PM_width)")
}

func TestReduce_Sequential(t *testing.T) {
	b := testutil.NewUnit("com.example.app", "Sum").Sequential()
	input := b.Array("input", "Int32", "data")
	b.Reduce(input, "sum", "a", "c", "return new Int32(a.value + c.value);")
	l := lowerUnit(t, b.Build(), lower.Options{})

	kernel := l.kernel(t)
	assert.Contains(t, kernel, "void kInt32Operation2(int PM_length) {\n    int PM_acc = rsGetElementAt_int(aDataOperation2, 0);")
	assert.Contains(t, kernel, "rsSetElementAt_int(tResultOperation2, PM_acc, 0);")
	assert.NotContains(t, kernel, "kReduceMerge")

	wrapper := l.wrapper(t)
	assert.Contains(t, wrapper, "PM_kernel.invoke_kInt32Operation2(sLengthInputBind1);")
	assert.Contains(t, wrapper, "int[] PM_result = new int[1];")
}

func TestLowerOperation_Errors(t *testing.T) {
	t.Run("missing execution", func(t *testing.T) {
		u := testutil.IncrementUnit()
		ctx := lower.NewContext(u, registry.New(), registry.RenderScript, lower.Options{})
		_, err := New().LowerOperation(ctx, u.Operations[0])
		assert.True(t, diag.Is(err, diag.MalformedOperation))
	})

	t.Run("reserved identifier", func(t *testing.T) {
		b := testutil.NewUnit("com.example.app", "Bad")
		input := b.Array("input", "Int32", "data")
		b.Foreach(input, "e", "int PM_x = 1; e.value = PM_x;")
		u := b.Build()
		u.Operations[0].Execution = ir.Parallel

		ctx := lower.NewContext(u, registry.New(), registry.RenderScript, lower.Options{})
		_, err := New().LowerOperation(ctx, u.Operations[0])
		assert.True(t, diag.Is(err, diag.NamingCollision))
	})
}
