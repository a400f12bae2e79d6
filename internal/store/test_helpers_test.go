package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/pmc/internal/ir"
	"github.com/roach88/pmc/internal/testutil"
)

// createTestStore creates a new store in a temp dir with predictable ids.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithIDGenerator(testutil.NewFixedIDGenerator("")))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestBuild creates a build input with two artifacts.
func createTestBuild(key, unit, backend string) BuildInput {
	return BuildInput{
		Key:      key,
		Unit:     unit,
		UnitHash: "unit-hash-" + unit,
		Backend:  backend,
		Settings: ir.Object{"tile_size": ir.Int(0)},
		CallSites: []CallSite{
			{Owner: "InputBind1", Lines: []string{"PM_wrapper.inputBind1(data);"}},
			{Owner: "Operation2", Lines: []string{"if (a < b) PM_wrapper.foreach2();"}},
		},
		Artifacts: []Artifact{
			{Path: "com/example/Kernel.rs", Kind: "kernel", Hash: "h1", Content: []byte("#pragma version(1)\n")},
			{Path: "com/example/Wrapper.java", Kind: "interface", Hash: "h2", Content: []byte("interface W {}\n")},
		},
	}
}
