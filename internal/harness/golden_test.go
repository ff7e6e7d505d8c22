package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func goldenScenario() *Scenario {
	return &Scenario{
		Name:        "golden_trace",
		Description: "Trace of a create followed by a rejected qualification",
		Flow: []FlowStep{
			{Invoke: "create_company", Input: map[string]any{"name": "Acme"}, SaveAs: "company"},
			{
				Invoke: "qualify_lead",
				Input:  map[string]any{"contact_id": "${company}"},
				Expect: &ExpectClause{Status: "error", Code: "not_a_lead"},
			},
		},
	}
}

func goldenRunner() *fakeRunner {
	return newFakeRunner().
		respond("create_company", success("3f0b6c1e-0000-4000-8000-000000000001", map[string]any{"name": "Acme"})).
		respond("qualify_lead", failure("not_a_lead", "only leads can be qualified"))
}

// Random caller ids and generated row ids never reach the trace, so the
// snapshot matches on every run.
func TestRunWithGolden(t *testing.T) {
	res, err := RunWithGolden(t, context.Background(), goldenRunner(), goldenScenario())
	require.NoError(t, err)
	assert.True(t, res.Pass, "%v", res.Errors)
}

func TestSnapshotJSON_Deterministic(t *testing.T) {
	a, err := Run(context.Background(), goldenRunner(), goldenScenario(), nil)
	require.NoError(t, err)
	b, err := Run(context.Background(), goldenRunner(), goldenScenario(), nil)
	require.NoError(t, err)

	ja, err := snapshotJSON("golden_trace", a.Trace)
	require.NoError(t, err)
	jb, err := snapshotJSON("golden_trace", b.Trace)
	require.NoError(t, err)
	assert.Equal(t, ja, jb)
	assert.NotEqual(t, a.Vars["tenant_id"], b.Vars["tenant_id"])
}
