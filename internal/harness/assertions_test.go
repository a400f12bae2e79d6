package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pmc/internal/driver"
	"github.com/roach88/pmc/internal/registry"
	"github.com/roach88/pmc/internal/testutil"
)

func incrementOutput(t *testing.T) *driver.Output {
	t.Helper()
	out, err := driver.New().Compile(context.Background(), testutil.IncrementUnit(), registry.RenderScript)
	require.NoError(t, err)
	return out
}

func TestEvaluateAssertions_Pass(t *testing.T) {
	out := incrementOutput(t)
	errs := EvaluateAssertions(out, []Assertion{
		{Type: AssertArtifactCount, Count: 3},
		{Type: AssertArtifactContains, Path: "com/example/app/Increment.rs", Contains: []string{"(*e) = (*e) + 1;"}},
		{Type: AssertArtifactAbsent, Path: "com/example/app/Increment.rs", Contains: []string{"PM_kernels"}},
		{Type: AssertExecution, Owner: "Operation2", Execution: "parallel"},
		{Type: AssertCallSite, Owner: "OutputBind3", Lines: []string{"data = PM_wrapper.outputBind3();"}},
		{Type: AssertNameIssued, Ident: "mInputInputBind1"},
	})
	assert.Empty(t, errs)
}

func TestEvaluateAssertions_Failures(t *testing.T) {
	out := incrementOutput(t)

	tests := []struct {
		name      string
		assertion Assertion
		want      string
	}{
		{
			name:      "missing artifact",
			assertion: Assertion{Type: AssertArtifactContains, Path: "nope.rs", Contains: []string{"x"}},
			want:      "not emitted",
		},
		{
			name:      "missing substring",
			assertion: Assertion{Type: AssertArtifactContains, Path: "com/example/app/Increment.rs", Contains: []string{"reduce"}},
			want:      "substring not found",
		},
		{
			name:      "present substring",
			assertion: Assertion{Type: AssertArtifactAbsent, Path: "com/example/app/Increment.rs", Contains: []string{"(*e)"}},
			want:      "substring found",
		},
		{
			name:      "count",
			assertion: Assertion{Type: AssertArtifactCount, Count: 5},
			want:      "3 artifacts",
		},
		{
			name:      "execution",
			assertion: Assertion{Type: AssertExecution, Owner: "Operation2", Execution: "sequential"},
			want:      `Operation2 is "parallel"`,
		},
		{
			name:      "execution of unknown record",
			assertion: Assertion{Type: AssertExecution, Owner: "Operation9", Execution: "parallel"},
			want:      "no such record",
		},
		{
			name:      "call site",
			assertion: Assertion{Type: AssertCallSite, Owner: "Operation2", Lines: []string{"x();"}},
			want:      "PM_wrapper.foreach2();",
		},
		{
			name:      "name",
			assertion: Assertion{Type: AssertNameIssued, Ident: "mOutput"},
			want:      "none match",
		},
		{
			name:      "unknown type",
			assertion: Assertion{Type: "trace_order"},
			want:      "unknown assertion type",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(out, []Assertion{tt.assertion})
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], "assertion 0:")
			assert.Contains(t, errs[0], tt.want)
		})
	}
}

func TestAssertionError_ListsArtifacts(t *testing.T) {
	err := &AssertionError{
		Type:     AssertArtifactCount,
		Expected: "1 artifacts",
		Actual:   "2 artifacts",
		Paths:    []string{"a.rs", "b.java"},
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: artifact_count")
	assert.Contains(t, msg, "  Expected: 1 artifacts")
	assert.Contains(t, msg, "  [2] b.java")
}
