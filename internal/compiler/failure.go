package compiler

import (
	"github.com/roach88/actionc/internal/ir"
	"github.com/roach88/actionc/internal/plsql"
)

// SQLSTATEs private to generated code. Class MR is unused by PostgreSQL.
const (
	// StateActionFailed carries a uniform failure out of nested code:
	// MESSAGE is the result message, DETAIL the result code.
	StateActionFailed = "MR001"

	// StateCascadeIgnored marks a failed result of an ignored cascade
	// so its isolation block rolls back.
	StateCascadeIgnored = "MR002"
)

// constraintCodes maps storage engine conditions to result codes, in handler order.
var constraintCodes = []struct {
	condition string
	code      string
}{
	{"unique_violation", ir.CodeDuplicateKey},
	{"foreign_key_violation", ir.CodeInvalidReference},
	{"not_null_violation", ir.CodeRequiredFieldMissing},
	{"check_violation", ir.CodeConstraintViolation},
}

// fail emits a failure with a literal code and a message expression.
//
// Before anything has been mutated on this path the core returns the
// failure directly. Afterwards it raises StateActionFailed instead, so the
// core's exception boundary rolls back every effect before returning the
// same result.
func (s *scope) fail(code, messageSQL string) plsql.Stmt {
	if s.mutated {
		return raiseFailure(plsql.Literal(code), messageSQL)
	}
	return plsql.Rawf("RETURN app.mutation_failed(%s, %s);", plsql.Literal(code), messageSQL)
}

// failText is fail with a literal message; an empty message repeats the code.
func (s *scope) failText(code, message string) plsql.Stmt {
	if message == "" {
		message = code
	}
	return s.fail(code, plsql.Literal(message))
}

func raiseFailure(codeSQL, messageSQL string) plsql.Stmt {
	return plsql.Rawf("RAISE EXCEPTION USING ERRCODE = %s, MESSAGE = %s, DETAIL = %s;",
		plsql.Literal(StateActionFailed), messageSQL, codeSQL)
}

// boundaryHandlers is the exception section of every core. It turns raised
// failures and engine errors into app.mutation_result; nothing escapes.
func boundaryHandlers() []plsql.Handler {
	handlers := []plsql.Handler{{
		Condition: "SQLSTATE " + plsql.Literal(StateActionFailed),
		Body: []plsql.Stmt{
			plsql.Raw("GET STACKED DIAGNOSTICS v_error_code = PG_EXCEPTION_DETAIL, v_error_message = MESSAGE_TEXT;"),
			plsql.Raw("RETURN app.mutation_failed(v_error_code, v_error_message);"),
		},
	}}
	for _, cc := range constraintCodes {
		handlers = append(handlers, plsql.Handler{
			Condition: cc.condition,
			Body:      []plsql.Stmt{plsql.Rawf("RETURN app.mutation_failed(%s, SQLERRM);", plsql.Literal(cc.code))},
		})
	}
	handlers = append(handlers, plsql.Handler{
		Condition: "OTHERS",
		Body:      []plsql.Stmt{plsql.Rawf("RETURN app.mutation_failed(%s, SQLERRM);", plsql.Literal(ir.CodeInternalError))},
	})
	return handlers
}
