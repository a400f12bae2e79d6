package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pmc/internal/driver"
	"github.com/roach88/pmc/internal/registry"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Backend string
	Units   []string
	Names   bool // include issued identifiers
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <units-dir>",
		Short: "Show how units are lowered",
		Long: `Lower units in memory and show the result without writing files.

Prints the classification of every record (parallel or sequential for
operations), the host statements that replace each record and, with
--names, every identifier issued for the unit.

Examples:
  pmc inspect ./units --unit Increment
  pmc inspect ./units --backend pmruntime --names --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Backend, "backend", "b", string(registry.RenderScript), "backend to lower for")
	cmd.Flags().StringSliceVarP(&opts.Units, "unit", "u", nil, "only inspect these units")
	cmd.Flags().BoolVar(&opts.Names, "names", false, "list issued identifiers")

	return cmd
}

func runInspect(ctx context.Context, opts *InspectOptions, unitsDir string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	backend, err := registry.ParseBackend(opts.Backend)
	if err != nil {
		return outputCompileError(formatter, ErrCodeConfig, err.Error(), nil)
	}
	cfg, err := loadRootConfig(opts.RootOptions)
	if err != nil {
		return outputCompileError(formatter, ErrCodeConfig, err.Error(), nil)
	}

	loadResult, loadErrors := LoadUnits(unitsDir, LoadModeFailFast)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputCompileError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputCompileError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}
	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}
	units, err := SelectUnits(loadResult.Units, opts.Units)
	if err != nil {
		return outputCompileErrors(formatter, []error{err})
	}

	d := driver.New(driver.WithLowerOptions(cfg.LowerOptions()))
	var outs []*driver.Output
	var failures []CLIError
	for _, u := range units {
		out, err := d.Compile(ctx, u, backend)
		if err != nil {
			failures = append(failures, DiagErrors(err)...)
			continue
		}
		if !opts.Names {
			out.Names = nil
		}
		outs = append(outs, out)
	}

	if formatter.JSON() {
		if err := formatter.Respond(outs, failures); err != nil {
			return err
		}
	} else {
		for _, out := range outs {
			writeInspectText(formatter, out)
		}
		if len(failures) > 0 {
			formatter.Problems("Lowering failed", failures)
		}
	}

	if len(failures) > 0 {
		return failedWith("lowering", len(failures))
	}
	return nil
}

func writeInspectText(formatter *OutputFormatter, out *driver.Output) {
	w := formatter.Writer
	fmt.Fprintf(w, "%s [%s]\n", out.Unit, out.Backend)
	fmt.Fprintln(w, "  Plan:")
	for _, s := range out.Plan {
		line := fmt.Sprintf("    %-14s %-12s %s", s.Owner, s.Record, s.Collection)
		if s.Execution != "" {
			line += " (" + s.Execution + ")"
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w, "  Call sites:")
	for _, cs := range out.CallSites {
		for _, l := range cs.Lines {
			fmt.Fprintf(w, "    %-14s %s\n", cs.Owner, l)
		}
	}
	if len(out.Names) > 0 {
		fmt.Fprintln(w, "  Names:")
		for _, n := range out.Names {
			fmt.Fprintf(w, "    %-28s %-12s %s\n", n.Ident, n.Role, n.Owner)
		}
	}
	fmt.Fprintln(w)
}
