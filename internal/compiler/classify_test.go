package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pmc/internal/diag"
	"github.com/roach88/pmc/internal/ir"
	"github.com/roach88/pmc/internal/testutil"
)

var bothPaths = ir.Capabilities{Parallel: true, Sequential: true}

func TestClassify(t *testing.T) {
	count := testutil.CountUnit().Operations[0]
	increment := testutil.IncrementUnit().Operations[0]

	requested := increment
	requested.Execution = ir.Sequential

	readOnly := count
	readOnly.Function.Code = "if (e.value > max.value) { e.value = count.value; }"

	tests := []struct {
		name string
		op   ir.Operation
		caps ir.Capabilities
		want ir.ExecutionType
	}{
		{"no captures runs parallel", increment, bothPaths, ir.Parallel},
		{"mutated capture forces sequential", count, bothPaths, ir.Sequential},
		{"reading a mutable capture stays parallel", readOnly, bothPaths, ir.Parallel},
		{"requested sequential", requested, bothPaths, ir.Sequential},
		{"no parallel path", increment, ir.Capabilities{Sequential: true}, ir.Sequential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.op, tt.caps)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyMutationWithoutSequentialPath(t *testing.T) {
	count := testutil.CountUnit().Operations[0]
	_, err := Classify(count, ir.Capabilities{Parallel: true})
	require.Error(t, err)
	assert.True(t, diag.Is(err, diag.MalformedOperation))
}

func TestClassifyReduceParallel(t *testing.T) {
	reduce := testutil.PipelineUnit().Operations[2]
	got, err := Classify(reduce, bothPaths)
	require.NoError(t, err)
	assert.Equal(t, ir.Parallel, got)
}

func TestClassifyUnitDoesNotMutateInput(t *testing.T) {
	u := testutil.CountUnit()
	ops, errs := ClassifyUnit(u, bothPaths)
	require.Empty(t, errs)
	assert.Equal(t, ir.Sequential, ops[0].Execution)
	assert.Equal(t, ir.ExecNone, u.Operations[0].Execution)
}

func TestClassifyUnitNonParallelUnit(t *testing.T) {
	u := testutil.IncrementUnit()
	u.Parallel = false
	ops, errs := ClassifyUnit(u, bothPaths)
	require.Empty(t, errs)
	assert.Equal(t, ir.Sequential, ops[0].Execution)
}

func TestMutatesCapture(t *testing.T) {
	name, ok := MutatesCapture(testutil.CountUnit().Operations[0])
	assert.True(t, ok)
	assert.Equal(t, "count", name)

	_, ok = MutatesCapture(testutil.IncrementUnit().Operations[0])
	assert.False(t, ok)
}
