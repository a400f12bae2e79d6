package writer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pmc/internal/emitter"
)

func arts() []emitter.Artifact {
	return []emitter.Artifact{
		{Path: "com/example/app/Increment.rs", Content: []byte("#pragma version(1)\n")},
		{Path: "com/example/app/IncrementWrapper.java", Content: []byte("interface\n")},
		{Path: "jni/com_example_app_IncrementKernels.hpp", Content: []byte("kernels\n")},
		{Path: "com/example/app/IncrementWrapper.java", Content: []byte("interface\n")},
	}
}

func TestWrite_CreatesFiles(t *testing.T) {
	dir := t.TempDir()

	report, err := Write(dir, arts())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"com/example/app/Increment.rs",
		"com/example/app/IncrementWrapper.java",
		"jni/com_example_app_IncrementKernels.hpp",
	}, report.Written)
	assert.Empty(t, report.Unchanged)

	got, err := os.ReadFile(filepath.Join(dir, "jni", "com_example_app_IncrementKernels.hpp"))
	require.NoError(t, err)
	assert.Equal(t, "kernels\n", string(got))

	// No temp files are left behind.
	entries, err := os.ReadDir(filepath.Join(dir, "com", "example", "app"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestWrite_SkipsUnchanged(t *testing.T) {
	dir := t.TempDir()
	_, err := Write(dir, arts())
	require.NoError(t, err)

	changed := arts()
	changed[0].Content = []byte("#pragma version(2)\n")
	report, err := Write(dir, changed)
	require.NoError(t, err)

	assert.Equal(t, []string{"com/example/app/Increment.rs"}, report.Written)
	assert.Len(t, report.Unchanged, 2)
}

func TestWrite_ConflictingContent(t *testing.T) {
	conflict := append(arts(), emitter.Artifact{Path: "com/example/app/Increment.rs", Content: []byte("other\n")})

	_, err := Write(t.TempDir(), conflict)
	assert.ErrorContains(t, err, "generated twice with different content")
}

func TestWrite_RejectsEscapingPath(t *testing.T) {
	_, err := Write(t.TempDir(), []emitter.Artifact{{Path: "../outside.java", Content: []byte("x")}})
	assert.ErrorContains(t, err, "escapes the output directory")
}

func TestWrite_LeavesLockFile(t *testing.T) {
	dir := t.TempDir()
	_, err := Write(dir, arts())
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, LockFile))
	assert.NoError(t, err)
}
