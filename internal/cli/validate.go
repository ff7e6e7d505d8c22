package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/actionc/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                    `json:"valid"`
	Entities int                     `json:"entities"`
	Actions  int                     `json:"actions"`
	Files    []string                `json:"files"`
	Cycles   []compiler.CycleWarning `json:"cycles"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [declarations]",
		Short: "Validate declarations without generating SQL",
		Long: `Validate entity declarations without generating SQL.

Runs structural checks, cross-entity checks (references, cascade targets
and params, implicit id collisions, expression syntax) and cascade cycle
analysis. Faster than compile for development feedback.

Exit codes:
  0 - Declarations are valid (cycle warnings do not fail)
  1 - Declarations are invalid
  2 - Declarations could not be read`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, args []string, cmd *cobra.Command) error {
	s, err := newSession(opts, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	c, res, err := s.build(s.declarations(args))
	if err != nil {
		return err
	}

	result := ValidationResult{
		Valid:    true,
		Entities: len(c.Model().Entities),
		Files:    res.Files,
		Cycles:   c.CycleWarnings(),
	}
	for _, e := range c.Model().Entities {
		result.Actions += len(e.Actions)
	}

	if s.out.JSON() {
		return s.out.Success(result)
	}

	s.out.Printf("✓ All declarations valid (%d entities, %d actions)\n", result.Entities, result.Actions)
	for _, w := range result.Cycles {
		s.out.Printf("  warning: %s\n", w.Message)
	}
	return nil
}
