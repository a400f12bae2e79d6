package testutil

import (
	"github.com/roach88/pmc/internal/ir"
)

// Final returns a final variable.
func Final(name, typeName string) ir.Variable {
	return ir.Variable{Name: name, TypeName: typeName}
}

// Mutable returns a non-final variable.
func Mutable(name, typeName string) ir.Variable {
	return ir.Variable{Name: name, TypeName: typeName, Mutability: ir.Mutable}
}

// ArrayOf returns an Array<elem> variable.
func ArrayOf(name, elem string) ir.Variable {
	return ir.Variable{Name: name, TypeName: "Array", TypeParameter: elem}
}

// UnitBuilder assembles translation units for tests. Every record gets the
// next seq of a DeterministicClock, so records are numbered in the order
// they are added.
type UnitBuilder struct {
	unit  ir.TranslationUnit
	clock *DeterministicClock
}

// NewUnit starts a parallel unit.
func NewUnit(pkg, class string) *UnitBuilder {
	return &UnitBuilder{
		unit:  ir.TranslationUnit{Package: pkg, Class: class, Parallel: true},
		clock: NewDeterministicClock(),
	}
}

// Sequential marks the unit as non-parallel.
func (b *UnitBuilder) Sequential() *UnitBuilder {
	b.unit.Parallel = false
	return b
}

// Array adds `Array<elem> name = new Array<>(host, elem.class)`.
func (b *UnitBuilder) Array(name, elem, host string) ir.Variable {
	v := ArrayOf(name, elem)
	b.unit.InputBinds = append(b.unit.InputBinds, ir.InputBind{
		Seq:        b.clock.Next(),
		Collection: v,
		Parameters: []ir.Parameter{
			{Kind: ir.ParamVariable, Text: host, TypeName: hostArray(elem)},
			{Kind: ir.ParamLiteral, Text: elem + ".class"},
		},
	})
	return v
}

// Bitmap adds `BitmapImage name = new BitmapImage(bitmap)`.
func (b *UnitBuilder) Bitmap(name, bitmap string) ir.Variable {
	v := Final(name, "BitmapImage")
	b.unit.InputBinds = append(b.unit.InputBinds, ir.InputBind{
		Seq:        b.clock.Next(),
		Collection: v,
		Parameters: []ir.Parameter{{Kind: ir.ParamVariable, Text: bitmap, TypeName: "Bitmap"}},
	})
	return v
}

// HDR adds `HDRImage name = new HDRImage(data, width, height)`.
func (b *UnitBuilder) HDR(name, data, width, height string) ir.Variable {
	v := Final(name, "HDRImage")
	b.unit.InputBinds = append(b.unit.InputBinds, ir.InputBind{
		Seq:        b.clock.Next(),
		Collection: v,
		Parameters: []ir.Parameter{
			{Kind: ir.ParamVariable, Text: data, TypeName: "byte[]"},
			{Kind: ir.ParamExpression, Text: width, TypeName: "int"},
			{Kind: ir.ParamExpression, Text: height, TypeName: "int"},
		},
	})
	return v
}

// Foreach adds `coll.foreach(arg -> { code })`.
func (b *UnitBuilder) Foreach(coll ir.Variable, arg, code string, externals ...ir.Variable) *UnitBuilder {
	b.op(ir.Foreach, coll, nil, []string{arg}, code, externals)
	return b
}

// Map adds `Array<destElem> dest = coll.map(arg -> { code })`.
func (b *UnitBuilder) Map(coll ir.Variable, dest, destElem, arg, code string, externals ...ir.Variable) ir.Variable {
	d := ArrayOf(dest, destElem)
	b.op(ir.Map, coll, &d, []string{arg}, code, externals)
	return d
}

// Filter adds `Array<elem> dest = coll.filter(arg -> { code })`.
func (b *UnitBuilder) Filter(coll ir.Variable, dest, arg, code string, externals ...ir.Variable) ir.Variable {
	d := ArrayOf(dest, coll.TypeParameter)
	b.op(ir.Filter, coll, &d, []string{arg}, code, externals)
	return d
}

// Reduce adds `T dest = coll.reduce((a, c) -> { code })` where T is the
// element type.
func (b *UnitBuilder) Reduce(coll ir.Variable, dest, a, c, code string, externals ...ir.Variable) ir.Variable {
	d := Final(dest, coll.Element().String())
	b.op(ir.Reduce, coll, &d, []string{a, c}, code, externals)
	return d
}

// Execution overrides the requested execution of the last operation.
func (b *UnitBuilder) Execution(e ir.ExecutionType) *UnitBuilder {
	b.unit.Operations[len(b.unit.Operations)-1].Execution = e
	return b
}

// Bind overrides the destination bind kind of the last operation.
func (b *UnitBuilder) Bind(k ir.BindKind) *UnitBuilder {
	b.unit.Operations[len(b.unit.Operations)-1].DestinationBind = k
	return b
}

func (b *UnitBuilder) op(t ir.OperationType, coll ir.Variable, dest *ir.Variable, args []string, code string, externals []ir.Variable) {
	elem := coll.Element().String()
	fn := ir.UserFunction{Code: code}
	for _, a := range args {
		fn.Arguments = append(fn.Arguments, Final(a, elem))
	}
	b.unit.Operations = append(b.unit.Operations, ir.Operation{
		Seq:         b.clock.Next(),
		Collection:  coll,
		Type:        t,
		Destination: dest,
		Externals:   append([]ir.Variable(nil), externals...),
		Function:    fn,
	})
}

// Output adds an output bind of coll into a host variable.
func (b *UnitBuilder) Output(coll ir.Variable, dest, destType string, kind ir.BindKind) *UnitBuilder {
	b.unit.OutputBinds = append(b.unit.OutputBinds, ir.OutputBind{
		Seq:         b.clock.Next(),
		Collection:  coll,
		Destination: Final(dest, destType),
		Kind:        kind,
	})
	return b
}

// Call adds a plain method call such as getWidth.
func (b *UnitBuilder) Call(coll ir.Variable, method string) *UnitBuilder {
	b.unit.MethodCalls = append(b.unit.MethodCalls, ir.MethodCall{
		Seq:        b.clock.Next(),
		Collection: coll,
		Method:     method,
	})
	return b
}

// Build returns the unit. The builder must not be used afterwards.
func (b *UnitBuilder) Build() *ir.TranslationUnit {
	u := b.unit
	return &u
}

func hostArray(elem string) string {
	switch elem {
	case "Int16":
		return "short[]"
	case "Int32":
		return "int[]"
	case "Float32":
		return "float[]"
	case "Bool":
		return "boolean[]"
	default:
		return elem + "[]"
	}
}

// IncrementUnit is the smallest end-to-end program: every element of an
// Array<Int32> is incremented and copied back into a host array.
func IncrementUnit() *ir.TranslationUnit {
	b := NewUnit("com.example.app", "Increment")
	input := b.Array("input", "Int32", "data")
	b.Foreach(input, "e", "e.value = e.value + 1;")
	b.Output(input, "data", "int[]", ir.Assignment)
	return b.Build()
}

// CountUnit counts the elements above a threshold, which forces the
// operation onto the sequential path.
func CountUnit() *ir.TranslationUnit {
	b := NewUnit("com.example.app", "Counter")
	input := b.Array("input", "Int32", "data")
	b.Foreach(input, "e", "if (e.value > max.value) { count.value += 1; }",
		Final("max", "Int32"), Mutable("count", "Int32"))
	return b.Build()
}

// PipelineUnit chains map, filter and reduce over an array.
func PipelineUnit() *ir.TranslationUnit {
	b := NewUnit("com.example.app", "Pipeline")
	input := b.Array("input", "Int32", "data")
	scaled := b.Map(input, "scaled", "Float32", "e", "return new Float32(e.value * factor);", Final("factor", "float"))
	kept := b.Filter(scaled, "kept", "e", "e.value > 0.5f")
	b.Reduce(kept, "sum", "a", "c", "return new Float32(a.value + c.value);")
	b.Output(kept, "result", "float[]", ir.DeclarativeAssignment)
	return b.Build()
}

// ImageUnit brightens a BitmapImage and writes it back to a Bitmap.
func ImageUnit() *ir.TranslationUnit {
	b := NewUnit("com.example.app", "Brighten")
	img := b.Bitmap("image", "bitmap")
	b.Foreach(img, "p", "p.rgba.red = Math.min(p.rgba.red * gain, 1.0f);", Final("gain", "float"))
	b.Call(img, "getWidth")
	b.Output(img, "bitmap", "Bitmap", ir.BindNone)
	return b.Build()
}
