package harness

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roach88/actionc/internal/ir"
)

const (
	tenantA = "00000000-0000-4000-8000-00000000000a"
	userA   = "00000000-0000-4000-8000-0000000000aa"
)

func run(t *testing.T, runner Runner, s *Scenario) *Result {
	t.Helper()
	res, err := Run(context.Background(), runner, s, zap.NewNop())
	require.NoError(t, err)
	return res
}

func TestRun_Pass(t *testing.T) {
	f := newFakeRunner().respond("qualify_lead", success("c-1",
		map[string]any{"status": "qualified", "amount": float64(1200)},
		ir.Impact{Entity: "Contact", Operation: ir.OpUpdate, IDs: []string{"c-1"}}))

	s := &Scenario{
		Name:        "qualify",
		Description: "d",
		TenantID:    tenantA,
		UserID:      userA,
		Setup:       []string{"INSERT INTO crm.tb_contact (tenant_id) VALUES ('${tenant_id}')"},
		Flow: []FlowStep{{
			Invoke: "qualify_lead",
			Input:  map[string]any{"contact_id": "c-1"},
			Expect: &ExpectClause{
				Status:  "success",
				Code:    "success",
				Data:    map[string]any{"status": "qualified", "amount": 1200},
				Impacts: []string{"Contact:update"},
			},
		}},
	}

	res := run(t, f, s)
	assert.True(t, res.Pass, "%v", res.Errors)
	assert.Empty(t, res.Errors)

	require.Len(t, f.execs, 1)
	assert.Equal(t, "INSERT INTO crm.tb_contact (tenant_id) VALUES ('"+tenantA+"')", f.execs[0])

	require.Len(t, f.invocations, 1)
	assert.Equal(t, uuid.MustParse(tenantA), f.invocations[0].Caller.TenantID)
	assert.Equal(t, uuid.MustParse(userA), f.invocations[0].Caller.UserID)

	assert.Equal(t, []TraceEvent{
		{Type: EventInvocation, Action: "qualify_lead", Input: map[string]any{"contact_id": "c-1"}, Seq: 1},
		{Type: EventResult, Action: "qualify_lead", Status: "success", Code: "success", Seq: 2},
	}, res.Trace)
}

func TestRun_ExpectMismatches(t *testing.T) {
	f := newFakeRunner().respond("qualify_lead", success("c-1", map[string]any{"status": "lead"}))

	s := &Scenario{
		Name:        "qualify",
		Description: "d",
		Flow: []FlowStep{{
			Invoke: "qualify_lead",
			Input:  map[string]any{},
			Expect: &ExpectClause{
				Status:  "error",
				Code:    "not_a_lead",
				Data:    map[string]any{"status": "qualified", "missing": true},
				Impacts: []string{"Contact:update"},
			},
		}},
	}

	res := run(t, f, s)
	assert.False(t, res.Pass)
	assert.Equal(t, []string{
		"flow[0] (qualify_lead): expected status error, got success success: ",
		"flow[0] (qualify_lead): expected code not_a_lead, got success",
		"flow[0] (qualify_lead): expected data.missing, not present",
		"flow[0] (qualify_lead): expected data.status = qualified, got lead",
		"flow[0] (qualify_lead): expected impacts [Contact:update], got []",
	}, res.Errors)
}

func TestRun_StepWithoutExpectMustSucceed(t *testing.T) {
	f := newFakeRunner().respond("close_company", failure("company_not_found", "Company not found"))
	s := &Scenario{Name: "n", Description: "d", Flow: []FlowStep{{Invoke: "close_company", Input: map[string]any{}}}}

	res := run(t, f, s)
	assert.False(t, res.Pass)
	assert.Equal(t, []string{"flow[0] (close_company): expected success, got error company_not_found: Company not found"}, res.Errors)
}

func TestRun_SavedValues(t *testing.T) {
	f := newFakeRunner().
		respond("create_contact", success("c-1", nil)).
		respond("open_deal", success("c-1", map[string]any{"id": "d-1", "amount": float64(5)})).
		respond("win_deal", success("d-1", map[string]any{"deal_id": "d-1"}))

	s := &Scenario{
		Name:        "n",
		Description: "d",
		Flow: []FlowStep{
			{Invoke: "create_contact", Input: map[string]any{}, SaveAs: "contact"},
			{
				Invoke: "open_deal",
				Input:  map[string]any{"contact_id": "${contact}", "tags": []any{"x-${contact}"}},
				Save:   map[string]string{"deal": "data.id", "amount": "data.amount"},
			},
			{
				Invoke: "win_deal",
				Input:  map[string]any{"deal_id": "${deal}"},
				Expect: &ExpectClause{Status: "success", Data: map[string]any{"deal_id": "${deal}"}},
			},
		},
	}

	res := run(t, f, s)
	assert.True(t, res.Pass, "%v", res.Errors)
	assert.Equal(t, "c-1", res.Vars["contact"])
	assert.Equal(t, "d-1", res.Vars["deal"])
	assert.Equal(t, "5", res.Vars["amount"])

	require.Len(t, f.invocations, 3)
	assert.Equal(t, map[string]any{"contact_id": "c-1", "tags": []any{"x-c-1"}}, f.invocations[1].Input)
	assert.Equal(t, map[string]any{"deal_id": "d-1"}, f.invocations[2].Input)

	// The trace keeps declared inputs.
	assert.Equal(t, map[string]any{"deal_id": "${deal}"}, res.Trace[4].Input)
}

func TestRun_SaveWithoutValue(t *testing.T) {
	f := newFakeRunner().respond("import_contacts", success("", map[string]any{}))
	s := &Scenario{Name: "n", Description: "d", Flow: []FlowStep{{
		Invoke: "import_contacts", Input: map[string]any{}, SaveAs: "batch",
	}}}

	res := run(t, f, s)
	assert.False(t, res.Pass)
	assert.Equal(t, []string{"flow[0] (import_contacts): save batch: result has no id"}, res.Errors)
}

func TestRun_DefaultCallerIsFresh(t *testing.T) {
	s := &Scenario{Name: "n", Description: "d", Flow: []FlowStep{{Invoke: "create_company", Input: map[string]any{}}}}

	f := newFakeRunner().respond("create_company", success("x", nil)).respond("create_company", success("y", nil))
	first := run(t, f, s)
	second := run(t, f, s)

	require.Len(t, f.invocations, 2)
	assert.NotEqual(t, uuid.Nil, f.invocations[0].Caller.TenantID)
	assert.NotEqual(t, f.invocations[0].Caller.TenantID, f.invocations[1].Caller.TenantID)
	assert.Equal(t, f.invocations[0].Caller.TenantID.String(), first.Vars["tenant_id"])
	assert.NotEqual(t, first.Vars["user_id"], second.Vars["user_id"])
}

func TestRun_Errors(t *testing.T) {
	base := func() *Scenario {
		return &Scenario{Name: "n", Description: "d", Flow: []FlowStep{{Invoke: "create_company", Input: map[string]any{}}}}
	}

	t.Run("setup failure", func(t *testing.T) {
		f := newFakeRunner()
		f.execErr = errors.New("syntax error")
		s := base()
		s.Setup = []string{"BROKEN"}
		_, err := Run(context.Background(), f, s, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "setup[0]: syntax error")
	})

	t.Run("undefined variable", func(t *testing.T) {
		s := base()
		s.Flow[0].Input = map[string]any{"company_id": "${company}"}
		_, err := Run(context.Background(), newFakeRunner(), s, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "undefined variable(s) company")
	})

	t.Run("invoke failure aborts", func(t *testing.T) {
		f := newFakeRunner()
		f.invErr = errors.New("connection refused")
		_, err := Run(context.Background(), f, base(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "flow[0] (create_company): connection refused")
	})

	t.Run("bad tenant", func(t *testing.T) {
		s := base()
		s.TenantID = "nope"
		_, err := Run(context.Background(), newFakeRunner(), s, nil)
		assert.ErrorContains(t, err, "tenant_id")
	})
}

func TestRun_AssertionsAddErrors(t *testing.T) {
	f := newFakeRunner().respond("create_company", success("x", nil))
	f.rows = [][]map[string]any{{{"n": int64(2)}}}

	s := &Scenario{
		Name:        "n",
		Description: "d",
		Flow:        []FlowStep{{Invoke: "create_company", Input: map[string]any{}}},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Action: "create_company", Count: 1},
			{Type: AssertRowCount, Table: "crm.tb_company", Where: map[string]any{"tenant_id": "${tenant_id}"}, Count: 1},
		},
	}
	res := run(t, f, s)
	assert.False(t, res.Pass)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "Assertion failed: row_count")
	require.Len(t, f.queries, 1)
	assert.Equal(t, []any{res.Vars["tenant_id"]}, f.queries[0].Args)
}

func TestExpand(t *testing.T) {
	vars := map[string]string{"tenant_id": "t", "deal": "d"}

	got, err := expand("${tenant_id}/${deal}/$1/$$body$$/${ notvar }", vars)
	require.NoError(t, err)
	assert.Equal(t, "t/d/$1/$$body$$/${ notvar }", got)

	_, err = expand("${a} ${b}", vars)
	assert.EqualError(t, err, "undefined variable(s) a, b")
}

func TestJSONEqual(t *testing.T) {
	assert.True(t, jsonEqual(1200, float64(1200)))
	assert.True(t, jsonEqual(map[string]any{"a": []any{1, "x"}}, map[string]any{"a": []any{float64(1), "x"}}))
	assert.True(t, jsonEqual(nil, nil))
	assert.False(t, jsonEqual("1", 1))
	assert.False(t, jsonEqual(nil, "x"))
}
