package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// selfCycle declares a rule whose target update fires the rule again.
const selfCycle = `entity:
  Counter:
    schema: app_data
    fields:
      - {name: hits, type: integer}
    actions:
      - name: bump_counter
        steps:
          - update:
              target: Counter
              fields:
                - {field: hits, value: hits + 1}
    cascades:
      - name: bump_again
        trigger: after_update
        scope: self
        target: Counter.bump_counter
        policy: ignore
`

func TestValidateValidDeclarations(t *testing.T) {
	out, err := runCLI(t, "validate", crmDeclarations(t))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All declarations valid (3 entities, 14 actions)")
}

func TestValidateValidDeclarationsJSON(t *testing.T) {
	out, err := runCLI(t, "--format", "json", "validate", crmDeclarations(t))
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 3, resp.Data.Entities)
	assert.Len(t, resp.Data.Files, 3)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	out, err := runCLI(t, "validate", "/nonexistent/actions")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "E005")
}

func TestValidateInvalidJSON(t *testing.T) {
	decl := writeDeclarations(t, `entity:
  Deal:
    schema: sales
    fields:
      - {name: Title, type: text}
    actions:
      - name: drop_deal
        steps:
          - delete: {target: Deal}
`)
	out, err := runCLI(t, "--format", "json", "validate", decl)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E201", resp.Error.Code)
	assert.Equal(t, "Deal.fields[0].name", resp.Error.Field)
}

func TestValidateCycleWarns(t *testing.T) {
	out, err := runCLI(t, "validate", writeDeclarations(t, selfCycle))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All declarations valid")
	assert.Contains(t, out, "warning: Self-triggering cascade rule detected: Counter.bump_again")
}

func TestValidateCycleRejected(t *testing.T) {
	t.Setenv("ACTIONC_CYCLE_POLICY", "reject")
	out, err := runCLI(t, "validate", writeDeclarations(t, selfCycle))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "E307 cascades")
}
