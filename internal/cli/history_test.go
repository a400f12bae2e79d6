package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHistoryCommand(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewHistoryCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func TestHistoryEmptyCache(t *testing.T) {
	isolate(t)
	buf, err := runHistoryCommand(t, "text")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No cached builds.")
}

func TestHistoryListsBuilds(t *testing.T) {
	isolate(t)
	dir := writeUnits(t, map[string]string{"increment.cue": incrementUnit})
	_, err := runCompileCommand(t, "text", dir, "-o", t.TempDir())
	require.NoError(t, err)

	buf, err := runHistoryCommand(t, "text")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "#1 com.example.app.Increment [renderscript] 3 file(s)")
	assert.Contains(t, buf.String(), "#2 com.example.app.Increment [pmruntime] 5 file(s)")

	buf, err = runHistoryCommand(t, "json", "com.example.app.Increment")
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   []HistoryEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.Contains(t, resp.Data[0].Files, "com/example/app/Increment.rs")
	assert.Contains(t, resp.Data[0].Settings, "PM_wrapper")
	assert.NotEmpty(t, resp.Data[0].CompilerVersion)

	buf, err = runHistoryCommand(t, "text", "com.example.app.Other")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No cached builds.")
}

func TestHistoryPrune(t *testing.T) {
	isolate(t)
	dir := writeUnits(t, map[string]string{"increment.cue": incrementUnit})
	_, err := runCompileCommand(t, "text", dir, "-o", t.TempDir(), "-b", "renderscript")
	require.NoError(t, err)

	buf, err := runHistoryCommand(t, "text", "--prune")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ Deleted 1 build(s)")

	buf, err = runHistoryCommand(t, "text")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No cached builds.")
}

func TestHistoryExplicitCachePath(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "other.db")

	buf, err := runHistoryCommand(t, "json", "--cache", path)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []interface{}{}, resp.Data)
}

func TestShortKey(t *testing.T) {
	assert.Equal(t, "abc", shortKey("abc"))
	assert.Equal(t, "0123456789ab", shortKey("0123456789abcdef"))
}
