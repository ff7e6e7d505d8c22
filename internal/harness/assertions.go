package harness

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// validTable matches an optionally schema-qualified table name.
// Identifiers cannot be parameterized, so this prevents SQL injection via
// identifier interpolation.
var validTable = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// validIdentifier matches a column name.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			switch event.Type {
			case EventInvocation:
				fmt.Fprintf(&buf, "  [%d] %s %v\n", i+1, event.Action, event.Input)
			case EventResult:
				fmt.Fprintf(&buf, "  [%d]   -> %s %s\n", i+1, event.Status, event.Code)
			}
		}
	}

	return buf.String()
}

// resultCodeAfter returns the code of the result recorded after the
// invocation at index i.
func resultCodeAfter(trace []TraceEvent, i int) string {
	if i+1 < len(trace) && trace[i+1].Type == EventResult {
		return trace[i+1].Code
	}
	return ""
}

// assertTraceContains checks if the trace contains an invocation matching
// the specified action and input (subset match), optionally with a result
// code.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for i, event := range trace {
		if event.Type != EventInvocation || event.Action != assertion.Action {
			continue
		}
		if !matchInput(event.Input, assertion.Input) {
			continue
		}
		if assertion.Code != "" && resultCodeAfter(trace, i) != assertion.Code {
			continue
		}
		return nil
	}

	expected := fmt.Sprintf("action %s with input %v", assertion.Action, assertion.Input)
	if assertion.Code != "" {
		expected += " and code " + assertion.Code
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if actions appear in the specified order.
// Actions don't need to be consecutive (intervening actions are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	// Step 1: Find first position of each expected action
	positions := make(map[string]int)
	for i, event := range trace {
		if event.Type != EventInvocation {
			continue
		}
		for _, expectedAction := range assertion.Actions {
			if event.Action == expectedAction && positions[expectedAction] == 0 {
				positions[expectedAction] = i + 1 // 1-indexed for readability
			}
		}
	}

	// Step 2: Verify all actions found
	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	// Step 3: Verify order
	for i := 1; i < len(assertion.Actions); i++ {
		prev := assertion.Actions[i-1]
		curr := assertion.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks if the action appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventInvocation && event.Action == assertion.Action {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks that exactly one row matches and that it holds
// the expected values. Rows are read as JSON so column types need no
// driver-specific handling.
func assertFinalState(ctx context.Context, runner Runner, assertion Assertion, vars map[string]string) error {
	from, args, err := buildFrom(assertion, vars)
	if err != nil {
		return err
	}

	rows, err := runner.QueryRows(ctx, "SELECT to_jsonb(t) AS row "+from, args...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}

	whereDesc := formatWhereClause(assertion.Where)
	switch len(rows) {
	case 0:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, whereDesc),
			Actual:   "row not found",
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, whereDesc),
			Actual:   fmt.Sprintf("%d rows matched (assertion is ambiguous)", len(rows)),
		}
	}

	actualRow, ok := rows[0]["row"].(map[string]any)
	if !ok {
		return fmt.Errorf("final_state: unexpected row value %T", rows[0]["row"])
	}

	// Subset semantics - only check fields in Expect
	for _, key := range sortedKeys(assertion.Expect) {
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("column %q to exist", key),
				Actual:   fmt.Sprintf("column %q not present in %s", key, assertion.Table),
			}
		}
		expectedValue, err := expandValue(assertion.Expect[key], vars)
		if err != nil {
			return fmt.Errorf("final_state expect %s: %w", key, err)
		}
		if !jsonEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("column %q = %v", key, expectedValue),
				Actual:   fmt.Sprintf("column %q = %v", key, actualValue),
			}
		}
	}

	return nil
}

// assertRowCount checks the number of rows matching where.
func assertRowCount(ctx context.Context, runner Runner, assertion Assertion, vars map[string]string) error {
	from, args, err := buildFrom(assertion, vars)
	if err != nil {
		return err
	}

	rows, err := runner.QueryRows(ctx, "SELECT count(*) AS n "+from, args...)
	if err != nil {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	if len(rows) != 1 {
		return fmt.Errorf("row_count: expected one result row, got %d", len(rows))
	}

	n, ok := rows[0]["n"].(int64)
	if !ok {
		return fmt.Errorf("row_count: unexpected count value %T", rows[0]["n"])
	}
	if int(n) != assertion.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d rows in %s where %s", assertion.Count, assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   fmt.Sprintf("%d rows", n),
		}
	}
	return nil
}

// buildFrom renders "FROM <table> t [WHERE ...]" with positional args.
func buildFrom(assertion Assertion, vars map[string]string) (string, []any, error) {
	if !validTable.MatchString(assertion.Table) {
		return "", nil, fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validTable.String())
	}
	whereSQL, args, err := buildWhereClause(assertion.Where, vars)
	if err != nil {
		return "", nil, err
	}
	from := "FROM " + assertion.Table + " t"
	if whereSQL != "" {
		from += " WHERE " + whereSQL
	}
	return from, args, nil
}

// buildWhereClause constructs a parameterized WHERE clause. Values compare
// as text so UUID, numeric and timestamp columns need no typed arguments;
// a null value matches NULL. Keys are sorted for determinism.
func buildWhereClause(where map[string]any, vars map[string]string) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	clauses := make([]string, 0, len(where))
	args := make([]any, 0, len(where))

	for _, key := range sortedKeys(where) {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		v, err := expandValue(where[key], vars)
		if err != nil {
			return "", nil, fmt.Errorf("where %s: %w", key, err)
		}
		if v == nil {
			clauses = append(clauses, fmt.Sprintf("t.%s IS NULL", key))
			continue
		}
		args = append(args, fmt.Sprint(v))
		clauses = append(clauses, fmt.Sprintf("t.%s::TEXT = $%d", key, len(args)))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	parts := make([]string, 0, len(where))
	for _, k := range sortedKeys(where) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// matchInput checks if actual contains all expected keys (subset match).
// Extra keys in actual are ignored.
func matchInput(actual, expected map[string]any) bool {
	for key, expectedVal := range expected {
		actualVal, exists := actual[key]
		if !exists || !jsonEqual(actualVal, expectedVal) {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(ctx context.Context, runner Runner, result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertFinalState(ctx, runner, assertion, result.Vars)
		case AssertRowCount:
			err = assertRowCount(ctx, runner, assertion, result.Vars)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
