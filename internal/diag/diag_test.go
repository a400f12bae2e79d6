package diag

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pmc/internal/ir"
)

func TestErrorFormatsRecordIdentity(t *testing.T) {
	op := ir.Operation{Seq: 3, Collection: ir.Variable{Name: "a", TypeName: "Array", TypeParameter: "Int32"}}
	err := Errorf(MalformedOperation, ForOperation(op), "reduce takes 2 arguments, got %d", 1)

	assert.Equal(t, "MALFORMED_OPERATION: Operation3(Array<Int32>): reduce takes 2 arguments, got 1", err.Error())
	assert.True(t, Is(err, MalformedOperation))
	assert.False(t, Is(err, NamingCollision))
}

func TestWrapFillsMissingRecord(t *testing.T) {
	inner := Errorf(UnsupportedBackendType, UnitRecord, "RGB is not supported")
	rec := Record{Owner: ir.Owner{Kind: ir.OwnerInputBind, Seq: 1}, TypeName: "Array<RGB>"}

	wrapped := Wrap(MalformedOperation, rec, fmt.Errorf("lookup: %w", inner))
	assert.Equal(t, UnsupportedBackendType, wrapped.Code, "inner code wins")
	assert.Equal(t, rec, wrapped.Record)
	assert.Equal(t, UnitRecord, inner.Record, "inner error is not mutated")

	plain := Wrap(MalformedOperation, rec, errors.New("boom"))
	assert.Equal(t, MalformedOperation, plain.Code)
	assert.Equal(t, "boom", plain.Message)
}

func TestCollectorAggregates(t *testing.T) {
	c := NewCollector("org.example.Foo", "pmruntime")
	assert.NoError(t, c.Err())

	c.Add(nil)
	assert.NoError(t, c.Err())

	c.Add(Errorf(MalformedOperation, UnitRecord, "first"), Errorf(UnresolvedCapture, UnitRecord, "second"))
	err := c.Err()
	require.Error(t, err)

	var ue *UnitError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, 2, ue.Len())
	assert.Equal(t, "org.example.Foo", ue.Unit)
	assert.Contains(t, err.Error(), "org.example.Foo [pmruntime]: 2 error(s) occurred:")
	assert.Contains(t, err.Error(), "* UNRESOLVED_CAPTURE: unit: second")
	assert.True(t, Is(err, UnresolvedCapture))
	assert.False(t, Is(err, NamingCollision))

	var de *Error
	require.True(t, errors.As(err, &de), "errors.As reaches aggregated errors")
	assert.Equal(t, MalformedOperation, de.Code)
}

func TestCollectorConcurrentAdd(t *testing.T) {
	c := NewCollector("u", "")
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Add(Errorf(MalformedOperation, UnitRecord, "e%d", i))
		}(i)
	}
	wg.Wait()

	var ue *UnitError
	require.True(t, errors.As(c.Err(), &ue))
	assert.Equal(t, 32, ue.Len())
}
