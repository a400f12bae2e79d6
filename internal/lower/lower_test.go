package lower

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pmc/internal/codegen"
	"github.com/roach88/pmc/internal/diag"
	"github.com/roach88/pmc/internal/ir"
	"github.com/roach88/pmc/internal/registry"
	"github.com/roach88/pmc/internal/testutil"
)

func newContext(u *ir.TranslationUnit, b registry.Backend) *Context {
	return NewContext(u, registry.New(), b, Options{})
}

func TestRecords_SortedBySeq(t *testing.T) {
	u := testutil.ImageUnit()
	recs := Records(u, u.Operations)

	require.Len(t, recs, 4)
	var owners []string
	for _, r := range recs {
		owners = append(owners, r.Owner.String())
	}
	assert.Equal(t, []string{"InputBind1", "Operation2", "MethodCall3", "OutputBind4"}, owners)
	assert.NotNil(t, recs[0].InputBind)
	assert.NotNil(t, recs[1].Operation)
	assert.NotNil(t, recs[2].Call)
	assert.NotNil(t, recs[3].OutputBind)
}

func TestMerge_GroupsKernelsByPhaseAndDedupes(t *testing.T) {
	decl := func(key string, phase Phase) KernelDecl {
		return KernelDecl{Key: key, Phase: phase, Nodes: codegen.Lines(key)}
	}
	frags := []*Fragment{
		{Kernel: []KernelDecl{decl("in", PhaseInput)}, Fields: codegen.Lines("a")},
		{Kernel: []KernelDecl{decl("op", PhaseOperation)}, Fields: codegen.Lines("b")},
		{Kernel: []KernelDecl{decl("out", PhaseOutput)}},
		{Kernel: []KernelDecl{decl("in", PhaseInput), decl("op2", PhaseOperation)}},
	}
	parts := Merge(frags)

	var keys []string
	for _, d := range parts.Kernel {
		keys = append(keys, d.Key)
	}
	assert.Equal(t, []string{"in", "op", "op2", "out"}, keys)
	assert.Equal(t, "a\nb\n", codegen.Render(parts.Fields, "    "))
}

func TestDefaultOptions(t *testing.T) {
	ctx := newContext(testutil.IncrementUnit(), registry.RenderScript)

	assert.Equal(t, "PM_wrapper", ctx.Options.Instance)
	assert.Equal(t, "com.pmc.userlibrary", ctx.Options.UserLibrary)
	assert.Equal(t, "pmc_increment", ctx.Library())
	assert.Equal(t, "com/example/app", ctx.PackagePath())
	assert.Equal(t, "com/example/app/IncrementWrapper.java", ctx.JavaPath("IncrementWrapper"))

	custom := NewContext(testutil.IncrementUnit(), registry.New(), registry.PMRuntime, Options{Library: "native", Instance: "w"})
	assert.Equal(t, "native", custom.Library())
	assert.Equal(t, "w", custom.Options.Instance)
}

func TestCollection_Names(t *testing.T) {
	u := testutil.PipelineUnit()
	ctx := newContext(u, registry.RenderScript)

	input, err := ctx.Collection(u.InputBinds[0].Collection, diag.UnitRecord)
	require.NoError(t, err)
	assert.Equal(t, "mInputInputBind1", input.Buffer)
	assert.Equal(t, "sLengthInputBind1", input.Length)
	assert.Equal(t, "sLengthInputBind1", input.Size())
	assert.Equal(t, "int", input.Element.KernelType)

	kept, err := ctx.Collection(*u.Operations[1].Destination, diag.UnitRecord)
	require.NoError(t, err)
	assert.Equal(t, "mKeptOperation3", kept.Buffer)
	assert.Equal(t, ir.Owner{Kind: ir.OwnerOperation, Seq: 3}, kept.Owner)

	// resolving twice returns the same names
	again, err := ctx.Collection(u.InputBinds[0].Collection, diag.UnitRecord)
	require.NoError(t, err)
	assert.Equal(t, input, again)

	_, err = ctx.Collection(testutil.ArrayOf("missing", "Int32"), diag.UnitRecord)
	assert.True(t, diag.Is(err, diag.MalformedOperation))

	img := testutil.ImageUnit()
	ictx := newContext(img, registry.PMRuntime)
	col, err := ictx.Collection(img.InputBinds[0].Collection, diag.UnitRecord)
	require.NoError(t, err)
	assert.Equal(t, "sWidthInputBind1 * sHeightInputBind1", col.Size())
	assert.Equal(t, "sHeightInputBind1", PlainCallField(col, "getHeight"))
}

func TestOperationSurface(t *testing.T) {
	u := testutil.CountUnit()
	ctx := newContext(u, registry.PMRuntime)
	op := u.Operations[0]

	exts, err := Externals(ctx, op)
	require.NoError(t, err)
	require.Len(t, exts, 2)
	assert.Equal(t, "gMaxOperation2", exts[0].Ident)
	assert.False(t, exts[0].Mutable())
	assert.Empty(t, exts[0].Out)
	assert.Equal(t, "oCountOperation2", exts[1].Out)
	assert.Equal(t, "bCountOperation2", exts[1].Buffer)

	m, site, err := OperationSurface(ctx, op, exts)
	require.NoError(t, err)
	assert.Equal(t, "void foreach2(Int32 max, Int32 count, int[] oCountOperation2)", m.Signature())
	assert.Equal(t, []string{
		"int[] oCountOperation2 = new int[] { count.value };",
		"PM_wrapper.foreach2(max, count, oCountOperation2);",
		"count.value = oCountOperation2[0];",
	}, site)
}

func TestOperationSurface_ReduceBinds(t *testing.T) {
	tests := []struct {
		kind ir.BindKind
		want string
	}{
		{ir.DeclarativeAssignment, "Float32 sum = PM_wrapper.reduce4();"},
		{ir.Assignment, "sum = PM_wrapper.reduce4();"},
		{ir.BindNone, "PM_wrapper.reduce4();"},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			u := testutil.PipelineUnit()
			op := u.Operations[2]
			op.DestinationBind = tt.kind
			ctx := newContext(u, registry.RenderScript)

			m, site, err := OperationSurface(ctx, op, nil)
			require.NoError(t, err)
			assert.Equal(t, "Float32 reduce4()", m.Signature())
			assert.Equal(t, []string{tt.want}, site)
		})
	}
}

func TestInputAndOutputSurfaces(t *testing.T) {
	u := testutil.ImageUnit()
	ctx := newContext(u, registry.RenderScript)

	m, site, err := InputBindSurface(ctx, u.InputBinds[0])
	require.NoError(t, err)
	assert.Equal(t, "void inputBind1(Bitmap PM_bitmap)", m.Signature())
	assert.Equal(t, []string{"PM_wrapper.inputBind1(bitmap);"}, site)

	m, site, err = OutputBindSurface(ctx, u.OutputBinds[0])
	require.NoError(t, err)
	assert.Equal(t, "void outputBind4(Bitmap PM_target)", m.Signature())
	assert.Equal(t, []string{"PM_wrapper.outputBind4(bitmap);"}, site)

	m, site, err = PlainCallSurface(ctx, u.MethodCalls[0])
	require.NoError(t, err)
	assert.Equal(t, "int getWidth3()", m.Signature())
	assert.Equal(t, []string{"PM_wrapper.getWidth3()"}, site)

	bad := u.MethodCalls[0]
	bad.Method = "getLength"
	_, _, err = PlainCallSurface(ctx, bad)
	assert.True(t, diag.Is(err, diag.MalformedOperation))
}

func TestInputBindSurface_ArityMismatch(t *testing.T) {
	u := testutil.IncrementUnit()
	in := u.InputBinds[0]
	in.Parameters = in.Parameters[1:]

	_, _, err := InputBindSurface(newContext(u, registry.RenderScript), in)
	assert.True(t, diag.Is(err, diag.MalformedOperation))
}

func TestPlainCall(t *testing.T) {
	u := testutil.ImageUnit()
	frag, err := PlainCall(newContext(u, registry.PMRuntime), u.MethodCalls[0])
	require.NoError(t, err)

	assert.Equal(t, "int getWidth3()", frag.Interface)
	assert.Equal(t, "\n@Override\npublic int getWidth3() {\n    return sWidthInputBind1;\n}\n",
		"\n"+codegen.Render(frag.Methods, "    "))
}

func TestLowerBody(t *testing.T) {
	tests := []struct {
		name    string
		backend registry.Backend
		op      ir.OperationType
		elem    ir.DomainType
		code    string
		want    string
	}{
		{"scalar field", registry.RenderScript, ir.Foreach, ir.TypeInt32, "e.value = e.value * 2;", "(*e) = (*e) * 2;"},
		{"expression body", registry.PMRuntime, ir.Filter, ir.TypeInt32, "e.value % 2 == 0", "return e % 2 == 0;"},
		{"braced body", registry.RenderScript, ir.Map, ir.TypeFloat32, "{ return new Int32((int) e.value); }", "return ((int) ((int) e));"},
		{"local domain type", registry.PMRuntime, ir.Map, ir.TypeInt32, "Float32 h = new Float32(e.value / 2.0f); return h;", "float h = ((float) (e / 2.0f)); return h;"},
		{"final dropped", registry.RenderScript, ir.Foreach, ir.TypeInt32, "final int k = 3; e.value = k;", "int k = 3; (*e) = k;"},
		{"boolean local", registry.PMRuntime, ir.Foreach, ir.TypeInt32, "boolean odd = e.value % 2 == 1; if (odd) { e.value = 0; }", "int odd = (*e) % 2 == 1; if (odd) { (*e) = 0; }"},
		{"math intrinsic", registry.PMRuntime, ir.Map, ir.TypeFloat32, "return new Float32(Math.abs(e.value));", "return ((float) (fabs(e)));"},
		{"shadowing local", registry.RenderScript, ir.Foreach, ir.TypeInt32, "int x = 1; e.value = x;", "int x = 1; (*e) = x;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := testutil.IncrementUnit()
			ctx := newContext(u, tt.backend)
			op := ir.Operation{Seq: 2, Type: tt.op, Function: ir.UserFunction{Code: tt.code}}

			expr := "e"
			if tt.op == ir.Foreach {
				expr = "(*e)"
			}
			got, err := LowerBody(ctx, op, map[string]Binding{"e": {Domain: tt.elem, Expr: expr}}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLowerBody_Errors(t *testing.T) {
	tests := []struct {
		name string
		code string
		want diag.Code
	}{
		{"unbalanced", "e.value = (e.value + 1;", diag.MalformedOperation},
		{"reserved prefix", "int PM_tmp = 1; e.value = PM_tmp;", diag.NamingCollision},
		{"collection local", "BitmapImage other = null;", diag.MalformedOperation},
		{"unknown constructor", "e.value = new Foo(1);", diag.UnsupportedBackendType},
		{"unknown intrinsic", "e.value = Math.hypot(1, 2);", diag.UnsupportedBackendType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := testutil.IncrementUnit()
			ctx := newContext(u, registry.RenderScript)
			op := ir.Operation{Seq: 2, Type: ir.Foreach, Function: ir.UserFunction{Code: tt.code}}

			_, err := LowerBody(ctx, op, map[string]Binding{"e": {Domain: ir.TypeInt32, Expr: "(*e)"}}, nil)
			require.Error(t, err)
			assert.True(t, diag.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestBuildHelper(t *testing.T) {
	u := testutil.PipelineUnit()
	ctx := newContext(u, registry.PMRuntime)
	op := u.Operations[2]
	op.Execution = ir.Parallel
	src, err := ctx.Collection(op.Collection, diag.ForOperation(op))
	require.NoError(t, err)

	h, err := BuildHelper(ctx, op, src, nil, HelperOptions{})
	require.NoError(t, err)
	assert.Equal(t, "fFloat32Operation4", h.Name)
	assert.Equal(t, "kFloat32Operation4", h.Kernel)
	assert.Equal(t, "float", h.ResultType)
	assert.Equal(t, "float fFloat32Operation4(float a, float c) {\n    return ((float) (a + c));\n}\n",
		codegen.Render(h.Nodes, "    "))
	assert.Equal(t, "fFloat32Operation4(x, y)", h.Call("x", "y"))

	op.Function.Arguments = op.Function.Arguments[:1]
	_, err = BuildHelper(newContext(u, registry.PMRuntime), op, src, nil, HelperOptions{})
	assert.True(t, diag.Is(err, diag.MalformedOperation))
}

func TestTileStatements(t *testing.T) {
	assert.Equal(t, []string{
		"int PM_tiles = (int) Math.ceil(Math.sqrt((double) n));",
		"int PM_tileSize = (n + PM_tiles - 1) / PM_tiles;",
		"PM_tiles = (n + PM_tileSize - 1) / PM_tileSize;",
	}, Tiling{}.TileStatements("n", "w", "h", "Math.ceil", "Math.sqrt"))

	assert.Equal(t, []string{
		"int PM_tileSize = 32;",
		"int PM_tiles = (n + PM_tileSize - 1) / PM_tileSize;",
	}, Tiling{Fixed: 32}.TileStatements("n", "w", "h", "Math.ceil", "Math.sqrt"))

	assert.Equal(t, []string{
		"int PM_tileSize = w;",
		"int PM_tiles = h;",
	}, Tiling{Rows: true, Fixed: 32}.TileStatements("n", "w", "h", "std::ceil", "std::sqrt"))
}
