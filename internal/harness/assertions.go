package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/pmc/internal/driver"
	"github.com/roach88/pmc/internal/emitter"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Paths    []string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Paths) > 0 {
		fmt.Fprintf(&buf, "\nArtifacts:\n")
		for i, p := range e.Paths {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, p)
		}
	}
	return buf.String()
}

func artifactPaths(out *driver.Output) []string {
	paths := make([]string, 0, len(out.Artifacts))
	for _, a := range out.Artifacts {
		paths = append(paths, a.Path)
	}
	return paths
}

func findArtifact(out *driver.Output, path string) (emitter.Artifact, bool) {
	for _, a := range out.Artifacts {
		if a.Path == path {
			return a, true
		}
	}
	return emitter.Artifact{}, false
}

// assertArtifactText checks the artifact at a.Path for every Contains
// entry. With want unset the entries must all be absent.
func assertArtifactText(out *driver.Output, a Assertion, want bool) error {
	art, ok := findArtifact(out, a.Path)
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("artifact %s", a.Path),
			Actual:   "not emitted",
			Paths:    artifactPaths(out),
		}
	}
	text := string(art.Content)
	for _, s := range a.Contains {
		if strings.Contains(text, s) == want {
			continue
		}
		expected := fmt.Sprintf("%s contains %q", a.Path, s)
		actual := "substring not found"
		if !want {
			expected = fmt.Sprintf("%s does not contain %q", a.Path, s)
			actual = "substring found"
		}
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual}
	}
	return nil
}

func assertArtifactCount(out *driver.Output, a Assertion) error {
	if len(out.Artifacts) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%d artifacts", a.Count),
		Actual:   fmt.Sprintf("%d artifacts", len(out.Artifacts)),
		Paths:    artifactPaths(out),
	}
}

func assertExecution(out *driver.Output, a Assertion) error {
	for _, s := range out.Plan {
		if s.Owner.String() != a.Owner {
			continue
		}
		if s.Execution == a.Execution {
			return nil
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s is %s", a.Owner, a.Execution),
			Actual:   fmt.Sprintf("%s is %q", a.Owner, s.Execution),
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("record %s", a.Owner),
		Actual:   "no such record",
	}
}

func assertCallSite(out *driver.Output, a Assertion) error {
	for _, cs := range out.CallSites {
		if cs.Owner.String() != a.Owner {
			continue
		}
		if slices.Equal(cs.Lines, a.Lines) {
			return nil
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%q", a.Lines),
			Actual:   fmt.Sprintf("%q", cs.Lines),
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("call site for %s", a.Owner),
		Actual:   "no such record",
	}
}

func assertNameIssued(out *driver.Output, a Assertion) error {
	for _, n := range out.Names {
		if n.Ident == a.Ident {
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("identifier %s issued", a.Ident),
		Actual:   fmt.Sprintf("%d identifiers issued, none match", len(out.Names)),
	}
}

// EvaluateAssertions checks every assertion against a lowering output and
// returns the failure messages.
func EvaluateAssertions(out *driver.Output, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertArtifactContains:
			err = assertArtifactText(out, a, true)
		case AssertArtifactAbsent:
			err = assertArtifactText(out, a, false)
		case AssertArtifactCount:
			err = assertArtifactCount(out, a)
		case AssertExecution:
			err = assertExecution(out, a)
		case AssertCallSite:
			err = assertCallSite(out, a)
		case AssertNameIssued:
			err = assertNameIssued(out, a)
		default:
			err = fmt.Errorf("unknown assertion type: %s", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}
