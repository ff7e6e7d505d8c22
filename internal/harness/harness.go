package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roach88/actionc/internal/ir"
	"github.com/roach88/actionc/internal/pgexec"
)

// Runner executes scenario steps. *pgexec.Executor implements it.
type Runner interface {
	Exec(ctx context.Context, sql string) error
	Invoke(ctx context.Context, action string, caller pgexec.Caller, input map[string]any) (*ir.MutationResult, error)
	QueryRows(ctx context.Context, query string, args ...any) ([]map[string]any, error)
}

var _ Runner = (*pgexec.Executor)(nil)

// reservedVars are always defined and cannot be used as save_as names.
var reservedVars = map[string]bool{"tenant_id": true, "user_id": true}

var varRef = regexp.MustCompile(`\$\{([a-z_][a-z0-9_]*)\}`)

// Harness runs one scenario.
type Harness struct {
	runner Runner
	logger *zap.Logger
	caller pgexec.Caller
	seq    int64
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
// 1. Pick the caller (scenario ids or fresh UUIDs)
// 2. Run setup SQL
// 3. Invoke each flow step and check its expect clause
// 4. Evaluate assertions
//
// A returned error means the scenario could not run (setup or driver
// failure); failed expectations are reported in the result.
func Run(ctx context.Context, runner Runner, scenario *Scenario, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Harness{runner: runner, logger: logger.With(zap.String("scenario", scenario.Name))}
	result := NewResult()

	var err error
	if h.caller.TenantID, err = idOrNew(scenario.TenantID); err != nil {
		return nil, fmt.Errorf("tenant_id: %w", err)
	}
	if h.caller.UserID, err = idOrNew(scenario.UserID); err != nil {
		return nil, fmt.Errorf("user_id: %w", err)
	}
	result.Vars["tenant_id"] = h.caller.TenantID.String()
	result.Vars["user_id"] = h.caller.UserID.String()

	if err := h.executeSetup(ctx, scenario.Setup, result); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	for _, msg := range EvaluateAssertions(ctx, runner, result, scenario.Assertions) {
		result.AddError(msg)
	}

	h.logger.Info("scenario finished",
		zap.Bool("pass", result.Pass),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

func idOrNew(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(s)
}

func (h *Harness) next() int64 {
	h.seq++
	return h.seq
}

// executeSetup runs all setup statements in order.
func (h *Harness) executeSetup(ctx context.Context, setup []string, result *Result) error {
	for i, stmt := range setup {
		sql, err := expand(stmt, result.Vars)
		if err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if err := h.runner.Exec(ctx, sql); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		h.logger.Debug("setup statement completed", zap.Int("step", i))
	}
	return nil
}

// executeFlow invokes all flow steps and validates expect clauses.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		input, err := expandValue(step.Input, result.Vars)
		if err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}

		result.AddInvocationTrace(step.Invoke, step.Input, h.next())

		res, err := h.runner.Invoke(ctx, step.Invoke, h.caller, input.(map[string]any))
		if err != nil {
			return fmt.Errorf("flow[%d] (%s): %w", i, step.Invoke, err)
		}
		result.AddResultTrace(step.Invoke, res.Status, res.Code, h.next())

		expect, err := expandExpect(step.Expect, result.Vars)
		if err != nil {
			return fmt.Errorf("flow[%d] expect: %w", i, err)
		}
		for _, msg := range checkExpect(expect, res) {
			result.AddError(fmt.Sprintf("flow[%d] (%s): %s", i, step.Invoke, msg))
		}

		saves := make(map[string]string, len(step.Save)+1)
		for name, src := range step.Save {
			saves[name] = src
		}
		if step.SaveAs != "" {
			saves[step.SaveAs] = "id"
		}
		for _, name := range sortedKeys(saves) {
			v, ok := savedValue(res, saves[name])
			if !ok {
				result.AddError(fmt.Sprintf("flow[%d] (%s): save %s: result has no %s", i, step.Invoke, name, saves[name]))
				continue
			}
			result.Vars[name] = v
		}

		h.logger.Debug("flow step completed",
			zap.Int("step", i),
			zap.String("action", step.Invoke),
			zap.String("status", res.Status),
			zap.String("code", res.Code))
	}
	return nil
}

// expandExpect copies expect with variables expanded in its data.
func expandExpect(expect *ExpectClause, vars map[string]string) (*ExpectClause, error) {
	if expect == nil || expect.Data == nil {
		return expect, nil
	}
	data, err := expandValue(expect.Data, vars)
	if err != nil {
		return nil, err
	}
	out := *expect
	out.Data = data.(map[string]any)
	return &out, nil
}

// savedValue reads "id" or "data.<key>" from a result as text.
func savedValue(res *ir.MutationResult, src string) (string, bool) {
	if src == "id" {
		return res.ID, res.ID != ""
	}
	v, ok := res.Data[strings.TrimPrefix(src, "data.")]
	if !ok || v == nil {
		return "", false
	}
	if s, isString := v.(string); isString {
		return s, true
	}
	return fmt.Sprint(v), true
}

// checkExpect compares a result with its expect clause. A missing clause
// expects success.
func checkExpect(expect *ExpectClause, res *ir.MutationResult) []string {
	if expect == nil {
		if !res.Succeeded() {
			return []string{fmt.Sprintf("expected success, got %s %s: %s", res.Status, res.Code, res.Message)}
		}
		return nil
	}

	var errs []string
	if res.Status != expect.Status {
		errs = append(errs, fmt.Sprintf("expected status %s, got %s %s: %s", expect.Status, res.Status, res.Code, res.Message))
	}
	if expect.Code != "" && res.Code != expect.Code {
		errs = append(errs, fmt.Sprintf("expected code %s, got %s", expect.Code, res.Code))
	}
	for _, key := range sortedKeys(expect.Data) {
		got, ok := res.Data[key]
		if !ok {
			errs = append(errs, fmt.Sprintf("expected data.%s, not present", key))
			continue
		}
		if !jsonEqual(expect.Data[key], got) {
			errs = append(errs, fmt.Sprintf("expected data.%s = %v, got %v", key, expect.Data[key], got))
		}
	}
	if expect.Impacts != nil {
		got := make([]string, len(res.Impacts))
		for i, imp := range res.Impacts {
			got[i] = imp.Entity + ":" + string(imp.Operation)
		}
		if !reflect.DeepEqual(expect.Impacts, got) {
			errs = append(errs, fmt.Sprintf("expected impacts %v, got %v", expect.Impacts, got))
		}
	}
	return errs
}

// expand replaces ${name} references with vars. Unknown names are errors.
func expand(s string, vars map[string]string) (string, error) {
	var missing []string
	out := varRef.ReplaceAllStringFunc(s, func(ref string) string {
		name := varRef.FindStringSubmatch(ref)[1]
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return ref
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("undefined variable(s) %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// expandValue copies v, expanding every string inside it.
func expandValue(v any, vars map[string]string) (any, error) {
	switch val := v.(type) {
	case string:
		return expand(val, vars)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			e, err := expandValue(elem, vars)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = e
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			e, err := expandValue(elem, vars)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = e
		}
		return out, nil
	default:
		return v, nil
	}
}

// jsonEqual compares two values after a JSON round trip, so YAML ints and
// JSON numbers of the same value are equal.
func jsonEqual(a, b any) bool {
	na, errA := normalize(a)
	nb, errB := normalize(b)
	if errA != nil || errB != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
