package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/actionc/internal/generate"
	"github.com/roach88/actionc/internal/store"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output   string // overrides output_dir
	Scaffold bool
	Stdout   bool // print SQL instead of writing files
	NoCache  bool // ignore the manifest
}

// CompileSummary is the JSON payload of a successful compile.
type CompileSummary struct {
	Entities    int                   `json:"entities"`
	Actions     int                   `json:"actions"`
	Files       int                   `json:"files"`
	OutputDir   string                `json:"output_dir,omitempty"`
	Report      *generate.Report      `json:"report,omitempty"`
	Diagnostics []generate.Diagnostic `json:"diagnostics"`
	Cycles      []string              `json:"cycles"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile [declarations]",
		Short: "Compile declarations into PL/pgSQL files",
		Long: `Compile entity declarations into PL/pgSQL.

Every action yields an input type, a core function and a wrapper. Files are
placed by the configured allocator under output_dir. With a manifest,
unchanged files are left alone and files no longer generated are removed.

Examples:
  actionc compile ./actions
  actionc compile ./actions -o db/generated --scaffold
  actionc compile ./actions --stdout | psql "$DATABASE_URL"`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output directory (overrides output_dir)")
	cmd.Flags().BoolVar(&opts.Scaffold, "scaffold", false, "include table DDL and identity helpers")
	cmd.Flags().BoolVar(&opts.Stdout, "stdout", false, "print the SQL in apply order instead of writing files")
	cmd.Flags().BoolVar(&opts.NoCache, "no-cache", false, "rewrite every file without consulting the manifest")

	return cmd
}

func runCompile(opts *CompileOptions, args []string, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.close()
	ctx := cmd.Context()

	c, _, err := s.build(s.declarations(args))
	if err != nil {
		return err
	}
	res, err := s.generate(ctx, c, opts.Scaffold)
	if err != nil {
		return err
	}

	summary := CompileSummary{
		Entities:    len(c.Model().Entities),
		Files:       len(res.Files),
		Diagnostics: res.Diagnostics,
		Cycles:      []string{},
	}
	for _, e := range c.Model().Entities {
		summary.Actions += len(e.Actions)
	}
	for _, w := range res.Cycles {
		summary.Cycles = append(summary.Cycles, w.Message)
	}
	if summary.Diagnostics == nil {
		summary.Diagnostics = []generate.Diagnostic{}
	}

	if opts.Stdout {
		_, err := fmt.Fprint(cmd.OutOrStdout(), res.SQL())
		return err
	}

	dir := s.cfg.OutputDir
	if opts.Output != "" {
		dir = opts.Output
	}
	w := &generate.Writer{Dir: dir, Logger: s.logger}
	if s.cfg.Manifest != "" && !opts.NoCache {
		m, err := openManifest(s.cfg.Manifest)
		if err != nil {
			return fail(s.out, ExitCommandError, ErrCodeWrite, err)
		}
		defer m.Close()
		w.Manifest = m
	}
	rep, err := w.Write(ctx, res)
	if err != nil {
		return fail(s.out, ExitCommandError, ErrCodeWrite, err)
	}
	summary.OutputDir = dir
	summary.Report = rep

	if s.out.JSON() {
		return s.out.Success(summary)
	}
	printCompileSummary(s.out, summary)
	return nil
}

// openManifest opens the manifest, creating its directory.
func openManifest(path string) (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create manifest directory: %w", err)
	}
	return store.Open(path)
}

func printCompileSummary(out *OutputFormatter, s CompileSummary) {
	out.Printf("✓ Compiled %d action(s) of %d entities into %s\n", s.Actions, s.Entities, s.OutputDir)
	out.Printf("  %d written, %d unchanged, %d removed\n",
		len(s.Report.Written), len(s.Report.Unchanged), len(s.Report.Removed))
	for _, p := range s.Report.Written {
		out.VerboseLog("wrote %s", p)
	}
	for _, p := range s.Report.Removed {
		out.VerboseLog("removed %s", p)
	}
	if len(s.Diagnostics) > 0 || len(s.Cycles) > 0 {
		out.Printf("\nWarnings:\n")
	}
	for _, d := range s.Diagnostics {
		out.Printf("  %s.%s: %s: %s\n", d.Entity, d.Action, d.Field, d.Message)
	}
	for _, c := range s.Cycles {
		out.Printf("  %s\n", c)
	}
}
