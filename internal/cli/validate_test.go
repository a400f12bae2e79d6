package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runValidateCommand(t *testing.T, opts *RootOptions, args ...string) (*bytes.Buffer, *bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	cmd := NewValidateCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(args)
	return buf, errBuf, cmd.Execute()
}

func TestValidateValidUnits(t *testing.T) {
	dir := writeUnits(t, map[string]string{"increment.cue": incrementUnit})

	buf, _, err := runValidateCommand(t, &RootOptions{Format: "text"}, dir)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ All 1 unit(s) valid")
}

func TestValidateValidUnitsJSON(t *testing.T) {
	dir := writeUnits(t, map[string]string{"increment.cue": incrementUnit})

	buf, _, err := runValidateCommand(t, &RootOptions{Format: "json"}, dir, "--backend", "renderscript,pmruntime")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 1, resp.Data.Units)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	buf, _, err := runValidateCommand(t, &RootOptions{Format: "text"}, "/nonexistent/path")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, buf.String(), "units directory not found")
}

func TestValidateEmptyDirectory(t *testing.T) {
	buf, _, err := runValidateCommand(t, &RootOptions{Format: "text"}, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNoFiles)
	assert.Contains(t, buf.String(), "no CUE files found")
}

func TestValidateUnresolvedCapture(t *testing.T) {
	dir := writeUnits(t, map[string]string{"scale.cue": uncapturedUnit})

	buf, _, err := runValidateCommand(t, &RootOptions{Format: "text"}, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "validation failed")
	assert.Contains(t, buf.String(), "✗ Validation failed")
	assert.Contains(t, buf.String(), ErrCodeCapture)
	assert.Contains(t, buf.String(), "factor")
}

func TestValidateUnresolvedCaptureJSON(t *testing.T) {
	dir := writeUnits(t, map[string]string{"scale.cue": uncapturedUnit})

	buf, _, err := runValidateCommand(t, &RootOptions{Format: "json"}, dir)
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeCapture, resp.Error.Code)

	details, ok := resp.Error.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "com.example.app.Scale", details["unit"])
	assert.Equal(t, "UNRESOLVED_CAPTURE", details["kind"])
}

func TestValidateDeclarationErrors(t *testing.T) {
	dir := writeUnits(t, map[string]string{
		"increment.cue": incrementUnit,
		"broken.cue":    badOperationUnit,
	})

	buf, _, err := runValidateCommand(t, &RootOptions{Format: "text"}, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), ErrCodeOperation)
	assert.Contains(t, buf.String(), "unit.Broken")
}

func TestValidateUnknownBackend(t *testing.T) {
	dir := writeUnits(t, map[string]string{"increment.cue": incrementUnit})

	_, _, err := runValidateCommand(t, &RootOptions{Format: "text"}, dir, "--backend", "metal")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeConfig)
}

func TestValidateVerboseOutput(t *testing.T) {
	dir := writeUnits(t, map[string]string{"increment.cue": incrementUnit})

	_, errBuf, err := runValidateCommand(t, &RootOptions{Format: "text", Verbose: true}, dir)
	require.NoError(t, err)
	assert.Contains(t, errBuf.String(), "Validating unit: com.example.app.Increment")
}

func TestMapFieldToErrorCode(t *testing.T) {
	tests := []struct {
		field    string
		expected string
	}{
		{"cue", ErrCodeUnitSyntax},
		{"input_binds[0].parameters", ErrCodeInputBind},
		{"operations[1].type", ErrCodeOperation},
		{"output_binds[0].kind", ErrCodeOutputBind},
		{"method_calls[0].method", ErrCodeMethodCall},
		{"unit", ErrCodeUnitDeclared},
		{"java_package", ErrCodeUnitDeclared},
		{"something_else", ErrCodeGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.expected, MapFieldToErrorCode(tt.field))
		})
	}
}
