package harness

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() []TraceEvent {
	r := NewResult()
	r.AddInvocationTrace("create_contact", map[string]any{"email": "ann@example.com", "first_name": "Ann"}, 1)
	r.AddResultTrace("create_contact", "success", "success", 2)
	r.AddInvocationTrace("qualify_lead", map[string]any{"contact_id": "${contact}"}, 3)
	r.AddResultTrace("qualify_lead", "error", "not_a_lead", 4)
	r.AddInvocationTrace("create_contact", map[string]any{"email": "bo@example.com"}, 5)
	r.AddResultTrace("create_contact", "success", "success", 6)
	return r.Trace
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Action: "create_contact"}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Action: "create_contact", Input: map[string]any{"email": "bo@example.com"}}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Action: "qualify_lead", Code: "not_a_lead"}))

	err := assertTraceContains(trace, Assertion{Action: "qualify_lead", Code: "success"})
	var ae *AssertionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, AssertTraceContains, ae.Type)
	assert.Equal(t, "action qualify_lead with input map[] and code success", ae.Expected)

	assert.Error(t, assertTraceContains(trace, Assertion{Action: "create_contact", Input: map[string]any{"email": "cy@example.com"}}))
	assert.Error(t, assertTraceContains(trace, Assertion{Action: "archive_contact"}))
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Actions: []string{"create_contact", "qualify_lead"}}))

	err := assertTraceOrder(trace, Assertion{Actions: []string{"qualify_lead", "create_contact"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qualify_lead (pos 3) should be before create_contact (pos 1)")

	err = assertTraceOrder(trace, Assertion{Actions: []string{"create_contact", "win_deal"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing action: win_deal")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "create_contact", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "win_deal", Count: 0}))

	err := assertTraceCount(trace, Assertion{Action: "qualify_lead", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: 2 occurrences of qualify_lead")
	assert.Contains(t, err.Error(), "Actual: 1 occurrences")
}

func TestBuildWhereClause(t *testing.T) {
	vars := map[string]string{"tenant_id": "t-1"}

	sql, args, err := buildWhereClause(map[string]any{
		"tenant_id":  "${tenant_id}",
		"deleted_at": nil,
		"amount":     1200,
		"active":     true,
	}, vars)
	require.NoError(t, err)
	assert.Equal(t, "t.active::TEXT = $1 AND t.amount::TEXT = $2 AND t.deleted_at IS NULL AND t.tenant_id::TEXT = $3", sql)
	assert.Equal(t, []any{"true", "1200", "t-1"}, args)

	sql, args, err = buildWhereClause(nil, vars)
	require.NoError(t, err)
	assert.Empty(t, sql)
	assert.Nil(t, args)

	_, _, err = buildWhereClause(map[string]any{"id; DROP TABLE x": 1}, vars)
	assert.ErrorContains(t, err, "invalid column name")

	_, _, err = buildWhereClause(map[string]any{"id": "${nope}"}, vars)
	assert.ErrorContains(t, err, "undefined variable(s) nope")
}

func TestAssertFinalState(t *testing.T) {
	ctx := context.Background()
	vars := map[string]string{"user_id": "u-1"}
	assertion := Assertion{
		Type:   AssertFinalState,
		Table:  "crm.tb_deal",
		Where:  map[string]any{"id": "d-1"},
		Expect: map[string]any{"stage": "won", "amount": 1200, "updated_by": "${user_id}", "invoice_no": nil},
	}
	row := map[string]any{"stage": "won", "amount": float64(1200), "updated_by": "u-1", "invoice_no": nil, "title": "Renewal"}

	t.Run("match", func(t *testing.T) {
		f := newFakeRunner()
		f.rows = [][]map[string]any{{{"row": row}}}
		require.NoError(t, assertFinalState(ctx, f, assertion, vars))
		require.Len(t, f.queries, 1)
		assert.Equal(t, "SELECT to_jsonb(t) AS row FROM crm.tb_deal t WHERE t.id::TEXT = $1", f.queries[0].SQL)
		assert.Equal(t, []any{"d-1"}, f.queries[0].Args)
	})

	t.Run("value mismatch", func(t *testing.T) {
		changed := map[string]any{"stage": "lost", "amount": float64(1200), "updated_by": "u-1", "invoice_no": nil}
		f := newFakeRunner()
		f.rows = [][]map[string]any{{{"row": changed}}}
		err := assertFinalState(ctx, f, assertion, vars)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `Expected: column "stage" = won`)
		assert.Contains(t, err.Error(), `Actual: column "stage" = lost`)
	})

	t.Run("missing column", func(t *testing.T) {
		f := newFakeRunner()
		f.rows = [][]map[string]any{{{"row": map[string]any{"stage": "won"}}}}
		err := assertFinalState(ctx, f, assertion, vars)
		assert.ErrorContains(t, err, `column "amount" not present in crm.tb_deal`)
	})

	t.Run("no row", func(t *testing.T) {
		f := newFakeRunner()
		f.rows = [][]map[string]any{{}}
		err := assertFinalState(ctx, f, assertion, vars)
		assert.ErrorContains(t, err, "row not found")
	})

	t.Run("ambiguous", func(t *testing.T) {
		f := newFakeRunner()
		f.rows = [][]map[string]any{{{"row": row}, {"row": row}}}
		err := assertFinalState(ctx, f, assertion, vars)
		assert.ErrorContains(t, err, "2 rows matched (assertion is ambiguous)")
	})

	t.Run("query error", func(t *testing.T) {
		f := newFakeRunner()
		f.qryErr = errors.New(`relation "crm.tb_deal" does not exist`)
		err := assertFinalState(ctx, f, assertion, vars)
		assert.ErrorContains(t, err, "query error")
	})

	t.Run("invalid table", func(t *testing.T) {
		bad := assertion
		bad.Table = "crm.tb_deal; DROP SCHEMA crm"
		err := assertFinalState(ctx, newFakeRunner(), bad, vars)
		assert.ErrorContains(t, err, "invalid table name")
	})
}

func TestAssertRowCount(t *testing.T) {
	ctx := context.Background()
	assertion := Assertion{Type: AssertRowCount, Table: "crm.tb_contact", Count: 0}

	f := newFakeRunner()
	f.rows = [][]map[string]any{{{"n": int64(0)}}}
	require.NoError(t, assertRowCount(ctx, f, assertion, nil))
	assert.Equal(t, "SELECT count(*) AS n FROM crm.tb_contact t", f.queries[0].SQL)

	f.rows = [][]map[string]any{{{"n": int64(3)}}}
	err := assertRowCount(ctx, f, assertion, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: 0 rows in crm.tb_contact where (no conditions)")
	assert.Contains(t, err.Error(), "Actual: 3 rows")
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	errs := EvaluateAssertions(context.Background(), newFakeRunner(), NewResult(), []Assertion{{Type: "vibes"}})
	assert.Equal(t, []string{`assertion[0]: unknown assertion type "vibes"`}, errs)
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "1 occurrences of win_deal",
		Actual:   "0 occurrences",
		Trace:    sampleTrace()[2:4],
	}
	assert.Equal(t, "Assertion failed: trace_count\n"+
		"  Expected: 1 occurrences of win_deal\n"+
		"  Actual: 0 occurrences\n"+
		"\nFull trace:\n"+
		"  [1] qualify_lead map[contact_id:${contact}]\n"+
		"  [2]   -> error not_a_lead\n", err.Error())
}
