package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pmc/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Cache string
	Prune bool
}

// HistoryEntry is one cached build without file contents.
type HistoryEntry struct {
	ID              string   `json:"id"`
	Seq             int64    `json:"seq"`
	Unit            string   `json:"unit"`
	Backend         string   `json:"backend"`
	Key             string   `json:"key"`
	CompilerVersion string   `json:"compiler_version"`
	Settings        string   `json:"settings"`
	Files           []string `json:"files"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [unit]",
		Short: "List or prune cached builds",
		Long: `List the builds recorded in the build cache, oldest first.

With a unit name only that unit's builds are shown. With --prune the
listed builds are removed instead.

Examples:
  pmc history
  pmc history com.example.app.Increment
  pmc history --prune --cache .pmc/cache.db`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			unit := ""
			if len(args) == 1 {
				unit = args[0]
			}
			return runHistory(cmd.Context(), opts, unit, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Cache, "cache", "", "build cache path (default from config)")
	cmd.Flags().BoolVar(&opts.Prune, "prune", false, "delete the listed builds")

	return cmd
}

func runHistory(ctx context.Context, opts *HistoryOptions, unit string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	path := opts.Cache
	if path == "" {
		cfg, err := loadRootConfig(opts.RootOptions)
		if err != nil {
			return outputCompileError(formatter, ErrCodeConfig, err.Error(), nil)
		}
		path = cfg.Cache
	}
	if path == "" {
		return outputCompileError(formatter, ErrCodeCache, "no build cache configured", nil)
	}

	st, err := store.Open(path)
	if err != nil {
		return outputCompileError(formatter, ErrCodeCache, err.Error(), nil)
	}
	defer st.Close()

	if opts.Prune {
		n, err := st.DeleteBuilds(ctx, unit)
		if err != nil {
			return outputCompileError(formatter, ErrCodeCache, err.Error(), nil)
		}
		if formatter.JSON() {
			return formatter.Success(map[string]int64{"deleted": n})
		}
		fmt.Fprintf(formatter.Writer, "%s Deleted %d build(s)\n", OK(), n)
		return nil
	}

	builds, err := st.ListBuilds(ctx, unit)
	if err != nil {
		return outputCompileError(formatter, ErrCodeCache, err.Error(), nil)
	}
	entries := make([]HistoryEntry, 0, len(builds))
	for _, b := range builds {
		e := HistoryEntry{
			ID:              b.ID,
			Seq:             b.Seq,
			Unit:            b.Unit,
			Backend:         b.Backend,
			Key:             b.Key,
			CompilerVersion: b.CompilerVersion,
			Settings:        b.Settings,
			Files:           make([]string, 0, len(b.Artifacts)),
		}
		for _, a := range b.Artifacts {
			e.Files = append(e.Files, a.Path)
		}
		entries = append(entries, e)
	}

	if formatter.JSON() {
		return formatter.Respond(entries, nil)
	}

	if len(entries) == 0 {
		fmt.Fprintln(formatter.Writer, "No cached builds.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(formatter.Writer, "#%d %s [%s] %d file(s) %s\n", e.Seq, e.Unit, e.Backend, len(e.Files), shortKey(e.Key))
		if formatter.Verbose {
			fmt.Fprintf(formatter.Writer, "    id=%s version=%s settings=%s\n", e.ID, e.CompilerVersion, e.Settings)
		}
	}
	return nil
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
