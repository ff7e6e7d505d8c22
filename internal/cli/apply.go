package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/actionc/internal/pgexec"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	Scaffold bool
	Fixtures []string // SQL files applied after the scaffold, before the actions
}

// ApplySummary is the JSON payload of a successful apply.
type ApplySummary struct {
	Files    int      `json:"files"`
	Fixtures []string `json:"fixtures"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply [declarations]",
		Short: "Compile declarations and apply the SQL to DATABASE_URL",
		Long: `Compile declarations and apply every generated file to the database named
by DATABASE_URL in one transaction. A failing statement rolls everything
back. Generated SQL is idempotent, so apply can run repeatedly.

Examples:
  DATABASE_URL=postgres://localhost/crm actionc apply ./actions --scaffold
  actionc apply ./actions --fixture db/helpers.sql`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			x, err := s.executor(cmd.Context())
			if err != nil {
				return err
			}
			defer x.Close()

			n, err := s.apply(cmd.Context(), x, s.declarations(args), opts.Scaffold, opts.Fixtures)
			if err != nil {
				return err
			}

			if s.out.JSON() {
				return s.out.Success(ApplySummary{Files: n, Fixtures: nonNil(opts.Fixtures)})
			}
			s.out.Printf("✓ Applied %d file(s)\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Scaffold, "scaffold", false, "include table DDL and identity helpers")
	cmd.Flags().StringArrayVar(&opts.Fixtures, "fixture", nil, "SQL file applied before the actions (repeatable)")

	return cmd
}

// apply compiles the declarations at path and applies them with fixtures.
// It returns the number of generated files applied.
func (s *session) apply(ctx context.Context, x *pgexec.Executor, path string, scaffold bool, fixtures []string) (int, error) {
	c, _, err := s.build(path)
	if err != nil {
		return 0, err
	}
	res, err := s.generate(ctx, c, scaffold)
	if err != nil {
		return 0, err
	}

	scripts := make([]string, 0, len(fixtures))
	for _, f := range fixtures {
		b, err := os.ReadFile(f)
		if err != nil {
			return 0, fail(s.out, ExitCommandError, ErrCodeInput, fmt.Errorf("read fixture: %w", err))
		}
		scripts = append(scripts, string(b))
	}

	s.out.VerboseLog("Applying %d file(s) and %d fixture(s)", len(res.Files), len(scripts))
	if err := x.ApplyResult(ctx, res, scripts...); err != nil {
		return 0, fail(s.out, ExitCommandError, ErrCodeDatabase, err)
	}
	return len(res.Files), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
