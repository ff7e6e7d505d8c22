package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// Scenarios run generated actions against a database and assert on the
// returned results, the invocation trace and the resulting rows.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// TenantID and UserID are the caller of every flow step. Empty values
	// get a fresh random UUID per run.
	TenantID string `yaml:"tenant_id,omitempty"`
	UserID   string `yaml:"user_id,omitempty"`

	// Setup contains SQL run before the flow, after variable expansion.
	// Setup statements are assumed to succeed.
	Setup []string `yaml:"setup,omitempty"`

	// Flow contains the invocations with expected results.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count,
	// final_state, row_count
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// Path is the file the scenario was loaded from.
	Path string `yaml:"-"`
}

// FlowStep invokes one action and optionally validates the result.
type FlowStep struct {
	// Invoke is the action name; the wrapper app.<invoke> is called.
	Invoke string `yaml:"invoke"`

	// Input is the JSON payload. String values are expanded.
	Input map[string]any `yaml:"input"`

	// SaveAs stores the result id as ${<save_as>} for later steps.
	SaveAs string `yaml:"save_as,omitempty"`

	// Save stores other result values: name -> "id" or "data.<key>".
	Save map[string]string `yaml:"save,omitempty"`

	// Expect specifies the expected result.
	// If nil, the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected mutation result.
type ExpectClause struct {
	// Status is "success" or "error".
	Status string `yaml:"status"`

	// Code is the expected result code. Empty skips the check.
	Code string `yaml:"code,omitempty"`

	// Data is a subset match against the result data.
	Data map[string]any `yaml:"data,omitempty"`

	// Impacts lists expected "Entity:operation" pairs, in order.
	Impacts []string `yaml:"impacts,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": Check action appears in trace with input
	// - "trace_order": Check actions appear in order
	// - "trace_count": Check action appears exactly N times
	// - "final_state": Query one row and verify expected values
	// - "row_count": Count rows matching where
	Type string `yaml:"type"`

	// Action is the action name (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Input is the expected action input (trace_contains).
	// Subset match - only specified fields are validated.
	Input map[string]any `yaml:"input,omitempty"`

	// Code optionally narrows trace_contains to results with this code.
	Code string `yaml:"code,omitempty"`

	// Table is a schema-qualified table name (final_state, row_count).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters, compared as text.
	// All fields must match exactly.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected column values (final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of occurrences or rows.
	Count int `yaml:"count,omitempty"`

	// Actions is the expected action order (trace_order).
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertRowCount      = "row_count"
)

var saveAsName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	scenario.Path = path

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the .yaml and .yml files directly in dir, sorted.
func FindScenarios(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for _, id := range []struct{ field, value string }{{"tenant_id", s.TenantID}, {"user_id", s.UserID}} {
		if id.value == "" {
			continue
		}
		if _, err := uuid.Parse(id.value); err != nil {
			return fmt.Errorf("%s: %w", id.field, err)
		}
	}

	saved := make(map[string]bool)
	for i, step := range s.Flow {
		if step.Invoke == "" {
			return fmt.Errorf("flow[%d]: invoke is required", i)
		}
		if step.Input == nil {
			return fmt.Errorf("flow[%d]: input is required (use empty map if no input)", i)
		}
		for _, name := range savedNames(step) {
			if !saveAsName.MatchString(name) || reservedVars[name] {
				return fmt.Errorf("flow[%d]: invalid save name %q", i, name)
			}
			if saved[name] {
				return fmt.Errorf("flow[%d]: save name %q is already used", i, name)
			}
			saved[name] = true
		}
		for _, name := range sortedKeys(step.Save) {
			if src := step.Save[name]; src != "id" && !strings.HasPrefix(src, "data.") {
				return fmt.Errorf("flow[%d]: save %s: source must be id or data.<key>, got %q", i, name, src)
			}
		}
		if step.Expect != nil {
			switch step.Expect.Status {
			case "success", "error":
			default:
				return fmt.Errorf("flow[%d].expect: status must be success or error", i)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	return nil
}

// savedNames lists the variables a step defines, sorted.
func savedNames(step FlowStep) []string {
	names := sortedKeys(step.Save)
	if step.SaveAs != "" {
		names = append(names, step.SaveAs)
		sort.Strings(names)
	}
	return names
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertRowCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for row_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for row_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
