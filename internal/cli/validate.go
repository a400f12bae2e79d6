package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pmc/internal/driver"
	"github.com/roach88/pmc/internal/registry"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Backends []string // also lower for these backends
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool       `json:"valid"`
	Units  int        `json:"units"`
	Errors []CLIError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <units-dir>",
		Short: "Validate units without generating code",
		Long: `Validate translation units without writing any output.

Checks declarations, record ordering, operation shapes and lambda
captures. With --backend, each unit is also lowered in memory so
backend-specific type problems are reported too.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Backends, "backend", "b", nil, "also lower for these backends")

	return cmd
}

func runValidate(ctx context.Context, opts *ValidateOptions, unitsDir string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	backends := make([]registry.Backend, 0, len(opts.Backends))
	for _, s := range opts.Backends {
		b, err := registry.ParseBackend(s)
		if err != nil {
			return outputValidateError(formatter, ErrCodeConfig, err.Error(), nil)
		}
		backends = append(backends, b)
	}

	// Collect every declaration problem
	loadResult, loadErrors := LoadUnits(unitsDir, LoadModeCollectAll)

	// Handle load errors (directory not found, no files, etc.)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidateError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, unitsDir)

	result := ValidationResult{Units: len(loadResult.Units)}
	for _, err := range loadErrors {
		code, message := parseCompileError(err)
		result.Errors = append(result.Errors, CLIError{Code: code, Message: message})
	}

	d := driver.New()
	for _, u := range loadResult.Units {
		formatter.VerboseLog("Validating unit: %s", u.Name())
		if err := d.Validate(u); err != nil {
			result.Errors = append(result.Errors, DiagErrors(err)...)
			continue
		}
		for _, b := range backends {
			formatter.VerboseLog("Lowering %s for %s", u.Name(), b)
			if _, err := d.Compile(ctx, u, b); err != nil {
				result.Errors = append(result.Errors, DiagErrors(err)...)
			}
		}
	}

	if len(result.Errors) > 0 {
		return outputValidationErrors(formatter, result)
	}
	result.Valid = true
	return outputValidateSuccess(formatter, result)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "%s All %d unit(s) valid\n", OK(), result.Units)
	return nil
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	// Load errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	if formatter.JSON() {
		if err := formatter.Respond(result, errs); err != nil {
			return err
		}
	} else {
		formatter.Problems("Validation failed", errs)
	}
	return failedWith("validation", len(errs))
}
