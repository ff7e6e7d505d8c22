package queryir

import (
	"fmt"

	"github.com/roach88/actionc/internal/ir"
)

// ValidationResult lists the problems found in a lookup query.
type ValidationResult struct {
	// Valid is true when Problems is empty.
	Valid bool

	// Problems describes every rule the query breaks.
	Problems []string
}

// Validate checks a query against the lookup query rules:
//  1. From names a table
//  2. OrderBy is set, so iteration order is deterministic
//  3. Columns are plain identifiers
//  4. Equals never compares with NULL (IsNull exists for that)
//
// Validate is a pure function with no side effects.
func Validate(query Query) ValidationResult {
	v := &validator{
		problems: []string{},
	}
	v.validateQuery(query)

	return ValidationResult{
		Valid:    len(v.problems) == 0,
		Problems: v.problems,
	}
}

// validator accumulates problems during traversal.
type validator struct {
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	if q == nil {
		v.addProblem("nil query")
		return
	}

	switch query := q.(type) {
	case Select:
		v.validateSelect(query)
	case *Select:
		v.validateSelect(*query)
	default:
		v.addProblem("unknown query type: %T", q)
	}
}

func (v *validator) validateSelect(sel Select) {
	if sel.From == "" {
		v.addProblem("select without a table")
	}
	if sel.OrderBy == "" {
		v.addProblem("select from %q has no ORDER BY column - iteration order would be undefined", sel.From)
	} else if !ir.IsIdentifier(sel.OrderBy) {
		v.addProblem("ORDER BY column %q is not an identifier", sel.OrderBy)
	}
	for col, alias := range sel.Bindings {
		if !ir.IsIdentifier(col) || !ir.IsIdentifier(alias) {
			v.addProblem("binding %s AS %s is not an identifier pair", col, alias)
		}
	}
	if sel.Filter != nil {
		v.validatePredicate(sel.Filter)
	}
}

func (v *validator) validatePredicate(p Predicate) {
	if p == nil {
		return // nil predicates are valid (no filter)
	}

	switch pred := p.(type) {
	case Equals:
		v.validateEquals(pred)
	case *Equals:
		v.validateEquals(*pred)
	case BoundEquals:
		v.validateBoundEquals(pred)
	case *BoundEquals:
		v.validateBoundEquals(*pred)
	case IsNull:
		v.validateField(pred.Field)
	case *IsNull:
		v.validateField(pred.Field)
	case And:
		v.validateAnd(pred)
	case *And:
		v.validateAnd(*pred)
	default:
		v.addProblem("unknown predicate type: %T", p)
	}
}

func (v *validator) validateField(field string) {
	if !ir.IsIdentifier(field) {
		v.addProblem("column %q is not an identifier", field)
	}
}

func (v *validator) validateEquals(eq Equals) {
	v.validateField(eq.Field)
	switch eq.Value.(type) {
	case ir.IRNull, nil:
		v.addProblem("column %q compared to NULL - use IsNull", eq.Field)
	case ir.IRArray, ir.IRObject:
		v.addProblem("column %q compared to a composite value", eq.Field)
	}
}

func (v *validator) validateBoundEquals(beq BoundEquals) {
	v.validateField(beq.Field)
	if beq.BoundVar == "" {
		v.addProblem("column %q bound to an empty expression", beq.Field)
	}
}

func (v *validator) validateAnd(and And) {
	for _, subPred := range and.Predicates {
		v.validatePredicate(subPred)
	}
}
