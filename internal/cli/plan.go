package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/actionc/internal/generate"
)

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	var entity string

	cmd := &cobra.Command{
		Use:   "plan [declarations]",
		Short: "Show the functions and cascades each action produces",
		Long: `Show what compile would produce for every action without generating SQL:
wrapper and core names, input type, whether the action takes an implicit
<entity>_id, declared impacts and the cascade rules its mutations fire.

Examples:
  actionc plan ./actions
  actionc plan ./actions --entity Contact --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			c, _, err := s.build(s.declarations(args))
			if err != nil {
				return err
			}
			entries := filterPlan(generate.Plan(c), entity)

			if s.out.JSON() {
				return s.out.Success(entries)
			}
			printPlan(s.out, entries)
			return nil
		},
	}

	cmd.Flags().StringVar(&entity, "entity", "", "only show actions of this entity")

	return cmd
}

func filterPlan(entries []generate.PlanEntry, entity string) []generate.PlanEntry {
	out := []generate.PlanEntry{}
	for _, e := range entries {
		if entity == "" || e.Entity == entity {
			out = append(out, e)
		}
	}
	return out
}

func printPlan(out *OutputFormatter, entries []generate.PlanEntry) {
	if len(entries) == 0 {
		out.Printf("No actions.\n")
		return
	}
	for _, e := range entries {
		own := ""
		if e.TakesOwnRow {
			own = " (implicit id)"
		}
		out.Printf("%s.%s%s\n", e.Entity, e.Action, own)
		out.Printf("  wrapper: %s\n  core:    %s\n", e.Wrapper, e.Core)
		if len(e.Impacts) > 0 {
			out.Printf("  impacts: %s\n", strings.Join(e.Impacts, ", "))
		}
		for _, r := range e.Cascades {
			out.Printf("  cascade: %s.%s %s %s → %s [%s]\n", r.Entity, r.Name, r.Trigger, r.Scope, r.Target, r.Policy)
		}
	}
}
