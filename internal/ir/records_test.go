package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVariableEqualIgnoresSeqAndMutability(t *testing.T) {
	a := Variable{Name: "x", TypeName: "Array", TypeParameter: "Int32", Seq: 1}
	b := Variable{Name: "x", TypeName: "Array", TypeParameter: "Int32", Seq: 7, Mutability: Mutable}
	c := Variable{Name: "x", TypeName: "Array", TypeParameter: "Float32"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestVariableElement(t *testing.T) {
	assert.Equal(t, TypeInt32, Variable{TypeName: "Array", TypeParameter: "Int32"}.Element())
	assert.Equal(t, TypePixel, Variable{TypeName: "BitmapImage"}.Element())
	assert.Equal(t, TypeUnknown, Variable{TypeName: "int"}.Element())
	assert.Equal(t, "Array<Float32>", Variable{TypeName: "Array", TypeParameter: "Float32"}.FullType())
}

func TestEnumParsing(t *testing.T) {
	op, ok := ParseOperationType("Reduce")
	assert.True(t, ok)
	assert.Equal(t, Reduce, op)
	assert.Equal(t, 2, op.Arity())
	assert.False(t, Foreach.HasDestination())

	exec, ok := ParseExecutionType("sequential")
	assert.True(t, ok)
	assert.Equal(t, Sequential, exec)

	kind, ok := ParseBindKind("none")
	assert.True(t, ok)
	assert.Equal(t, BindNone, kind)

	_, ok = ParseParameterKind("lambda")
	assert.False(t, ok)
}

func TestProducers(t *testing.T) {
	u := sampleUnit()
	dest := Variable{Name: "doubled", TypeName: "Array", TypeParameter: "Int32"}
	u.Operations = append(u.Operations, Operation{
		Seq:         4,
		Collection:  u.InputBinds[0].Collection,
		Type:        Map,
		Destination: &dest,
	})
	sum := Variable{Name: "sum", TypeName: "Int32"}
	u.Operations = append(u.Operations, Operation{
		Seq:         5,
		Collection:  u.InputBinds[0].Collection,
		Type:        Reduce,
		Destination: &sum,
	})

	producers := u.Producers()
	assert.Equal(t, Owner{Kind: OwnerInputBind, Seq: 1}, producers["array"])
	assert.Equal(t, Owner{Kind: OwnerOperation, Seq: 4}, producers["doubled"])
	_, ok := producers["sum"]
	assert.False(t, ok, "reduce results are host values, not collections")

	assert.Equal(t, "org.example.Increment", u.Name())
	assert.Equal(t, "Operation4", producers["doubled"].String())
}

func TestParameterClassLiteral(t *testing.T) {
	assert.True(t, Parameter{Kind: ParamExpression, Text: "Int32.class"}.IsClassLiteral())
	assert.False(t, Parameter{Kind: ParamVariable, Text: "data"}.IsClassLiteral())
}
