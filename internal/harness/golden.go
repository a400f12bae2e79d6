package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/pmc/internal/driver"
)

// GoldenDir is the fixture directory of golden snapshots, relative to the
// test's package directory.
const GoldenDir = "testdata/golden"

// Snapshot renders a lowering output as plain text: the classification
// plan, the call sites, then every artifact under a header line.
func Snapshot(out *driver.Output) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "unit: %s\nbackend: %s\n", out.Unit, out.Backend)

	b.WriteString("\n--- plan ---\n")
	for _, s := range out.Plan {
		fmt.Fprintf(&b, "%s %s %s", s.Owner, s.Record, s.Collection)
		if s.Execution != "" {
			fmt.Fprintf(&b, " %s", s.Execution)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n--- call sites ---\n")
	for _, cs := range out.CallSites {
		fmt.Fprintf(&b, "%s:\n", cs.Owner)
		for _, line := range cs.Lines {
			fmt.Fprintf(&b, "    %s\n", line)
		}
	}

	for _, a := range out.Artifacts {
		fmt.Fprintf(&b, "\n=== %s ===\n", a.Path)
		b.Write(a.Content)
	}
	return []byte(b.String())
}

func newGoldie(t *testing.T, dir string) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir(dir),
		goldie.WithNameSuffix(".golden"),
	)
}

// AssertGolden compares an existing output against the golden file name
// in dir.
func AssertGolden(t *testing.T, dir, name string, out *driver.Output) {
	t.Helper()
	newGoldie(t, dir).Assert(t, name, Snapshot(out))
}

// UpdateGolden writes the snapshot of out as the golden file name in dir.
func UpdateGolden(t *testing.T, dir, name string, out *driver.Output) error {
	t.Helper()
	return newGoldie(t, dir).Update(t, name, Snapshot(out))
}
