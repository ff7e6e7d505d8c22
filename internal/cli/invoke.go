package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/actionc/internal/ir"
	"github.com/roach88/actionc/internal/pgexec"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Input  string // JSON object
	Tenant string
	User   string
}

// InvokeOutput is the JSON payload of invoke.
type InvokeOutput struct {
	TenantID string             `json:"tenant_id"`
	UserID   string             `json:"user_id"`
	Result   *ir.MutationResult `json:"result"`
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <action>",
		Short: "Call an action's wrapper in DATABASE_URL",
		Long: `Call app.<action>(tenant, user, input) and print the mutation result.

The tenant and user default to invoke.tenant_id and invoke.user_id from the
configuration, or to fresh random UUIDs. An action that returns an error
result exits with code 1.

Example:
  actionc invoke qualify_lead --input '{"contact_id":"7f0c..."}' --tenant 9a1e...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return invokeAction(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Input, "input", "{}", "action input as a JSON object")
	cmd.Flags().StringVar(&opts.Tenant, "tenant", "", "tenant UUID")
	cmd.Flags().StringVar(&opts.User, "user", "", "acting user UUID")

	return cmd
}

func invokeAction(opts *InvokeOptions, action string, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	input, err := parseInput(opts.Input)
	if err != nil {
		return fail(s.out, ExitCommandError, ErrCodeInput, err)
	}
	tenant, err := callerID("tenant", opts.Tenant, s.cfg.Invoke.TenantID)
	if err != nil {
		return fail(s.out, ExitCommandError, ErrCodeInput, err)
	}
	user, err := callerID("user", opts.User, s.cfg.Invoke.UserID)
	if err != nil {
		return fail(s.out, ExitCommandError, ErrCodeInput, err)
	}

	x, err := s.executor(cmd.Context())
	if err != nil {
		return err
	}
	defer x.Close()

	res, err := x.Invoke(cmd.Context(), action, pgexec.Caller{TenantID: tenant, UserID: user}, input)
	if err != nil {
		return fail(s.out, ExitCommandError, ErrCodeDatabase, err)
	}

	if s.out.JSON() {
		if err := s.out.Success(InvokeOutput{TenantID: tenant.String(), UserID: user.String(), Result: res}); err != nil {
			return err
		}
	} else {
		printMutationResult(s.out, res)
	}
	if res.Status != ir.StatusSuccess {
		return NewExitError(ExitFailure, fmt.Sprintf("%s returned %s", action, res.Code))
	}
	return nil
}

// parseInput decodes a JSON object, keeping numbers exact.
func parseInput(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var input map[string]any
	if err := dec.Decode(&input); err != nil {
		return nil, fmt.Errorf("invalid --input JSON: %w", err)
	}
	if input == nil {
		return nil, fmt.Errorf("invalid --input JSON: must be an object")
	}
	if dec.More() {
		return nil, fmt.Errorf("invalid --input JSON: trailing data")
	}
	return input, nil
}

// callerID picks the flag, then the configured value, then a random UUID.
func callerID(what, flag, configured string) (uuid.UUID, error) {
	v := flag
	if v == "" {
		v = configured
	}
	if v == "" {
		return uuid.New(), nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q: %w", what, v, err)
	}
	return id, nil
}

func printMutationResult(out *OutputFormatter, res *ir.MutationResult) {
	mark := "✓"
	if res.Status != ir.StatusSuccess {
		mark = "✗"
	}
	out.Printf("%s %s %s", mark, res.Status, res.Code)
	if res.Message != "" {
		out.Printf(": %s", res.Message)
	}
	out.Printf("\n")
	if res.ID != "" {
		out.Printf("  id: %s\n", res.ID)
	}
	if len(res.Data) > 0 {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetIndent("  ", "  ")
		if err := enc.Encode(res.Data); err == nil {
			out.Printf("  data: %s", buf.String())
		}
	}
	for _, imp := range res.Impacts {
		out.Printf("  impact: %s %s %v\n", imp.Entity, imp.Operation, imp.IDs)
	}
}
