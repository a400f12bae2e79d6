package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pmc/internal/compiler"
	"github.com/roach88/pmc/internal/driver"
	"github.com/roach88/pmc/internal/emitter"
	"github.com/roach88/pmc/internal/writer"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output   string   // output directory
	Backends []string // backend ids
	Units    []string // unit filter
	Workers  int
	TileSize int
	NoCache  bool
}

// CompilationResult holds every successful build and what was written.
type CompilationResult struct {
	Builds    []UnitBuild `json:"builds"`
	Output    string      `json:"output"`
	Written   []string    `json:"written"`
	Unchanged []string    `json:"unchanged"`
	Errors    []CLIError  `json:"errors,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <units-dir>",
		Short: "Lower translation units to backend code",
		Long: `Lower every translation unit in a CUE package for the configured backends.

Generated files are written below the output directory. Unchanged files
are left untouched. Builds are cached by unit hash, backend and settings;
a cached build is reused without lowering.

A unit rejected by one backend does not stop the others: successful
builds are still written and the command exits with status 1.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output directory")
	cmd.Flags().StringSliceVarP(&opts.Backends, "backend", "b", nil, "backends to lower for (renderscript|pmruntime)")
	cmd.Flags().StringSliceVarP(&opts.Units, "unit", "u", nil, "only compile these units")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "records lowered concurrently")
	cmd.Flags().IntVar(&opts.TileSize, "tile-size", 0, "fixed reduction tile size")
	cmd.Flags().BoolVar(&opts.NoCache, "no-cache", false, "skip the build cache")

	return cmd
}

// applyFlags lets explicitly set flags override the config.
func (o *CompileOptions) applyFlags(cmd *cobra.Command, cfg *Config) {
	if cmd.Flags().Changed("backend") {
		cfg.Backends = o.Backends
	}
	if o.Output != "" {
		cfg.Output = o.Output
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = o.Workers
	}
	if cmd.Flags().Changed("tile-size") {
		cfg.TileSize = o.TileSize
	}
	if o.NoCache {
		cfg.Cache = ""
	}
}

func runCompile(ctx context.Context, opts *CompileOptions, unitsDir string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	cfg, err := loadRootConfig(opts.RootOptions)
	if err != nil {
		return outputCompileError(formatter, ErrCodeConfig, err.Error(), nil)
	}
	opts.applyFlags(cmd, &cfg)
	backends, err := cfg.ParseBackends()
	if err != nil {
		return outputCompileError(formatter, ErrCodeConfig, err.Error(), nil)
	}

	// Use shared loader with collect-all mode
	loadResult, loadErrors := LoadUnits(unitsDir, LoadModeCollectAll)

	// Handle load errors (directory not found, no files, etc.)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputCompileError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputCompileError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, unitsDir)

	// Handle declaration errors
	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	units, err := SelectUnits(loadResult.Units, opts.Units)
	if err != nil {
		return outputCompileErrors(formatter, []error{err})
	}

	builder := &Builder{driver: driver.New(
		driver.WithWorkers(cfg.Workers),
		driver.WithLowerOptions(cfg.LowerOptions()),
	)}
	if cfg.Cache != "" {
		st, err := openCache(cfg.Cache)
		if err != nil {
			return outputCompileError(formatter, ErrCodeCache, err.Error(), nil)
		}
		defer st.Close()
		builder.store = st
		formatter.VerboseLog("Using build cache %s", cfg.Cache)
	}

	result := &CompilationResult{Output: cfg.Output}
	var artifacts []emitter.Artifact
	for _, u := range units {
		for _, backend := range backends {
			formatter.VerboseLog("Lowering %s for %s", u.Name(), backend)
			ub, err := builder.Build(ctx, u, backend)
			if err != nil {
				if ctx.Err() != nil {
					return WrapExitError(ExitCommandError, "compilation interrupted", err)
				}
				result.Errors = append(result.Errors, DiagErrors(err)...)
				continue
			}
			result.Builds = append(result.Builds, *ub)
			artifacts = append(artifacts, ub.artifacts...)
		}
	}

	if len(artifacts) > 0 {
		report, err := writer.Write(cfg.Output, artifacts)
		if err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output: %v", err), nil)
		}
		result.Written = report.Written
		result.Unchanged = report.Unchanged
	}

	return outputCompileResult(formatter, result)
}

// outputCompileResult outputs the builds, then any lowering errors.
func outputCompileResult(formatter *OutputFormatter, result *CompilationResult) error {
	failed := len(result.Errors) > 0

	if formatter.JSON() {
		if err := formatter.Respond(result, result.Errors); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		if len(result.Builds) > 0 {
			fmt.Fprintf(w, "%s Compiled %d build(s)\n\n", OK(), len(result.Builds))
			for _, b := range result.Builds {
				suffix := ""
				if b.Cached {
					suffix = " (cached)"
				}
				fmt.Fprintf(w, "  %s [%s]: %d file(s)%s\n", b.Unit, b.Backend, len(b.Files), suffix)
			}
			fmt.Fprintln(w)
			fmt.Fprintf(w, "Wrote %d file(s) to %s, %d unchanged\n", len(result.Written), result.Output, len(result.Unchanged))
		}
		if failed {
			if len(result.Builds) > 0 {
				fmt.Fprintln(w)
			}
			formatter.Problems("Lowering failed", result.Errors)
		}
	}

	if failed {
		return failedWith("lowering", len(result.Errors))
	}
	return nil
}

// outputCompileError outputs a single compilation error.
func outputCompileError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	// Load errors are command-level errors (exit code 2)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}

// outputCompileErrors outputs multiple declaration errors.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.JSON() {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseCompileError(err)
			cliErrors[i] = CLIError{Code: code, Message: message}
		}
		if err := formatter.Respond(nil, cliErrors); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	// Text format
	fmt.Fprintf(formatter.Writer, "%s Compilation failed\n", Fail())
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		code, message := parseCompileError(err)
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				loadErr.Pos.Filename(),
				loadErr.Pos.Line(),
				loadErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", code, message)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// parseCompileError extracts error code and message from an error.
func parseCompileError(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return MapFieldToErrorCode(compileErr.Field), compileErr.Message
	}
	return ErrCodeGeneric, err.Error()
}
