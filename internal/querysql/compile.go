// Package querysql renders lookup queries as PostgreSQL text for embedding
// in generated PL/pgSQL.
package querysql

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/actionc/internal/ir"
	"github.com/roach88/actionc/internal/plsql"
	"github.com/roach88/actionc/internal/queryir"
)

// SQLCompiler compiles QueryIR to PostgreSQL query text.
//
// Every query includes ORDER BY on its surrogate key for deterministic
// iteration. Values from the running function are referenced by variable
// name and bound by PL/pgSQL; only IR literals are rendered inline, quoted.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile converts a query to SQL text. Clauses are separated by newlines so
// the text indents cleanly inside a FOR loop.
func (c *SQLCompiler) Compile(q queryir.Query) (string, error) {
	if q == nil {
		return "", fmt.Errorf("cannot compile nil query")
	}
	if res := queryir.Validate(q); !res.Valid {
		return "", fmt.Errorf("invalid query: %s", strings.Join(res.Problems, "; "))
	}

	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	default:
		return "", fmt.Errorf("unsupported query type: %T", q)
	}
}

func (c *SQLCompiler) compileSelect(q queryir.Select) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", c.compileBindings(q.Bindings), q.From)

	if q.Filter != nil {
		filterSQL, err := c.compilePredicate(q.Filter)
		if err != nil {
			return "", fmt.Errorf("compile filter: %w", err)
		}
		b.WriteString("\nWHERE " + filterSQL)
	}

	b.WriteString("\nORDER BY " + c.stableOrderKey(q))
	return b.String(), nil
}

// compileBindings converts bindings to a column list.
// {"pk_deal": "pk"} → "pk_deal AS pk". Keys are sorted for deterministic output.
func (c *SQLCompiler) compileBindings(bindings map[string]string) string {
	if len(bindings) == 0 {
		return "*"
	}

	keys := make([]string, 0, len(bindings))
	for k := range bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, col := range keys {
		alias := bindings[col]
		if col == alias {
			parts = append(parts, col)
		} else {
			parts = append(parts, fmt.Sprintf("%s AS %s", col, alias))
		}
	}
	return strings.Join(parts, ", ")
}

// stableOrderKey returns the ORDER BY clause body.
func (c *SQLCompiler) stableOrderKey(q queryir.Select) string {
	return q.OrderBy + " ASC"
}

func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, error) {
	if p == nil {
		return "TRUE", nil
	}

	switch pred := p.(type) {
	case queryir.Equals:
		return c.compileEquals(pred)
	case *queryir.Equals:
		return c.compileEquals(*pred)
	case queryir.BoundEquals:
		return fmt.Sprintf("%s = %s", pred.Field, pred.BoundVar), nil
	case *queryir.BoundEquals:
		return fmt.Sprintf("%s = %s", pred.Field, pred.BoundVar), nil
	case queryir.IsNull:
		return pred.Field + " IS NULL", nil
	case *queryir.IsNull:
		return pred.Field + " IS NULL", nil
	case queryir.And:
		return c.compileAnd(pred)
	case *queryir.And:
		return c.compileAnd(*pred)
	default:
		return "", fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileEquals(eq queryir.Equals) (string, error) {
	lit, err := irValueToLiteral(eq.Value)
	if err != nil {
		return "", fmt.Errorf("convert value for %s: %w", eq.Field, err)
	}
	return fmt.Sprintf("%s = %s", eq.Field, lit), nil
}

func (c *SQLCompiler) compileAnd(and queryir.And) (string, error) {
	if len(and.Predicates) == 0 {
		return "TRUE", nil
	}

	parts := make([]string, 0, len(and.Predicates))
	for _, pred := range and.Predicates {
		sql, err := c.compilePredicate(pred)
		if err != nil {
			return "", err
		}
		switch pred.(type) {
		case queryir.And, *queryir.And:
			sql = "(" + sql + ")"
		}
		parts = append(parts, sql)
	}
	return strings.Join(parts, " AND "), nil
}

// irValueToLiteral renders a scalar IRValue as a SQL literal.
func irValueToLiteral(v ir.IRValue) (string, error) {
	switch val := v.(type) {
	case ir.IRString:
		return plsql.Literal(string(val)), nil
	case ir.IRInt:
		return strconv.FormatInt(int64(val), 10), nil
	case ir.IRBool:
		if val {
			return "TRUE", nil
		}
		return "FALSE", nil
	case ir.IRNull:
		return "", fmt.Errorf("NULL cannot be compared with =")
	case ir.IRArray:
		return "", fmt.Errorf("IRArray cannot be used as a SQL literal")
	case ir.IRObject:
		return "", fmt.Errorf("IRObject cannot be used as a SQL literal")
	default:
		return "", fmt.Errorf("unsupported IRValue type for SQL literal: %T", v)
	}
}
