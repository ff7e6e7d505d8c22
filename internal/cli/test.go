package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/actionc/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Declarations string   // overrides the configured declarations
	Scaffold     bool     // apply table DDL before the actions
	Fixtures     []string // SQL files applied before the actions
	NoApply      bool     // run against the database as it is
	Filter       string   // scenario filter (glob pattern on the file name)
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios>",
		Short: "Run YAML scenarios against DATABASE_URL",
		Long: `Apply the compiled declarations to DATABASE_URL, then run every scenario
file under <scenarios> (a directory or a single file). Each scenario runs
setup SQL, invokes actions, checks their results and evaluates trace and
row assertions.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, database unreachable, etc.)

Examples:
  actionc test ./scenarios --scaffold
  actionc test ./scenarios --filter "qualify_*"
  actionc test ./scenarios --no-apply --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Declarations, "declarations", "d", "", "declarations to apply (defaults to the configured path)")
	cmd.Flags().BoolVar(&opts.Scaffold, "scaffold", false, "include table DDL and identity helpers")
	cmd.Flags().StringArrayVar(&opts.Fixtures, "fixture", nil, "SQL file applied before the actions (repeatable)")
	cmd.Flags().BoolVar(&opts.NoApply, "no-apply", false, "skip compiling and applying declarations")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, scenarios string, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.close()
	ctx := cmd.Context()

	paths, err := scenarioFiles(scenarios, opts.Filter)
	if err != nil {
		return fail(s.out, ExitCommandError, ErrCodeInput, err)
	}
	if len(paths) == 0 {
		if s.out.JSON() {
			return s.out.Success(&harness.SuiteResult{})
		}
		s.out.Printf("No scenarios found.\n")
		return nil
	}

	x, err := s.executor(ctx)
	if err != nil {
		return err
	}
	defer x.Close()

	if !opts.NoApply {
		decl := opts.Declarations
		if decl == "" {
			decl = s.cfg.Declarations
		}
		if _, err := s.apply(ctx, x, decl, opts.Scaffold, opts.Fixtures); err != nil {
			return err
		}
	}

	result := harness.RunAll(ctx, x, paths, s.logger)

	if s.out.JSON() {
		if err := s.out.Success(result); err != nil {
			return err
		}
	} else {
		printSuite(s.out, result)
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", result.Failed, result.TotalScenarios))
	}
	return nil
}

// scenarioFiles lists the scenario files under path, filtered by a glob on
// the file name without its extension.
func scenarioFiles(path, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scenarios not found: %w", err)
	}
	all := []string{path}
	if info.IsDir() {
		if all, err = harness.FindScenarios(path); err != nil {
			return nil, err
		}
	}
	if filter == "" {
		return all, nil
	}
	if _, err := filepath.Match(filter, ""); err != nil {
		return nil, fmt.Errorf("invalid filter pattern: %w", err)
	}
	var out []string
	for _, p := range all {
		name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		if ok, _ := filepath.Match(filter, name); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func printSuite(out *OutputFormatter, r *harness.SuiteResult) {
	for _, f := range r.Failures {
		name := f.Scenario
		if name == "" {
			name = filepath.Base(f.Path)
		}
		out.Printf("✗ %s\n", name)
		for _, e := range f.Errors {
			out.Printf("  %s\n", strings.ReplaceAll(e, "\n", "\n  "))
		}
	}
	out.Printf("\n%d scenario(s): %d passed, %d failed\n", r.TotalScenarios, r.Passed, r.Failed)
}
