package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/actionc/internal/ir"
)

func TestParseInput(t *testing.T) {
	in, err := parseInput(`{"amount": 12345678901234567890, "name": "Ada"}`)
	require.NoError(t, err)
	assert.Equal(t, json.Number("12345678901234567890"), in["amount"])
	assert.Equal(t, "Ada", in["name"])

	for _, bad := range []string{``, `[1]`, `null`, `{"a":1} {}`, `{"a":`} {
		_, err := parseInput(bad)
		assert.Error(t, err, bad)
	}
}

func TestCallerID(t *testing.T) {
	flag := uuid.New()
	configured := uuid.New()

	got, err := callerID("tenant", flag.String(), configured.String())
	require.NoError(t, err)
	assert.Equal(t, flag, got)

	got, err = callerID("tenant", "", configured.String())
	require.NoError(t, err)
	assert.Equal(t, configured, got)

	got, err = callerID("tenant", "", "")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, got)

	_, err = callerID("user", "bob", "")
	assert.ErrorContains(t, err, `invalid user id "bob"`)
}

func TestInvokeRejectsBadInput(t *testing.T) {
	out, err := runCLI(t, "invoke", "qualify_lead", "--input", "[1,2]")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E502]")
}

func TestInvokeRequiresDatabase(t *testing.T) {
	out, err := runCLI(t, "invoke", "qualify_lead", "--tenant", uuid.NewString())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E501]: database URL is required")
}

func TestPrintMutationResult(t *testing.T) {
	buf := &bytes.Buffer{}
	out := &OutputFormatter{Format: "text", Writer: buf}
	printMutationResult(out, &ir.MutationResult{
		ID:      "c1",
		Status:  ir.StatusSuccess,
		Code:    ir.CodeSuccess,
		Data:    map[string]any{"status": "qualified"},
		Impacts: []ir.Impact{{Entity: "Contact", Operation: ir.OpUpdate, IDs: []string{"c1"}}},
	})
	assert.Equal(t, "✓ success success\n"+
		"  id: c1\n"+
		"  data: {\n    \"status\": \"qualified\"\n  }\n"+
		"  impact: Contact update [c1]\n", buf.String())

	buf.Reset()
	printMutationResult(out, &ir.MutationResult{Status: ir.StatusError, Code: "invalid_email", Message: "bad email"})
	assert.Equal(t, "✗ error invalid_email: bad email\n", buf.String())

	buf.Reset()
	printMutationResult(&OutputFormatter{Format: "json", Writer: buf}, &ir.MutationResult{Status: ir.StatusSuccess})
	assert.Empty(t, buf.String())
}
