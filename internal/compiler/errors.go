package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/actionc/internal/ir"
)

// CompileError reports a step that cannot be lowered.
// Field is the path inside the action, e.g. "steps[2].then[0].condition".
type CompileError struct {
	Entity  string
	Action  string
	Field   string
	Message string
	Err     error
}

func (e *CompileError) Error() string {
	where := e.Entity
	if e.Action != "" {
		where += "." + e.Action
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", where, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", where, e.Message)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// ModelError collects every validation error found in a model.
type ModelError struct {
	Errors []ir.ValidationError
}

func (e *ModelError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	lines := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		lines[i] = "  " + ve.Error()
	}
	return fmt.Sprintf("%d validation errors:\n%s", len(e.Errors), strings.Join(lines, "\n"))
}

// Diagnostic is a non-fatal finding attached to compiled output.
type Diagnostic struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Level   string `json:"level"` // "warning" or "info"
}
