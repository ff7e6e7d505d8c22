// Package expr compiles action expressions to SQL.
//
// Conditions, assigned values, filters and payloads are written in CEL
// syntax ("status == 'lead'", "input.amount > 0 && !archived"). They are
// parsed and checked with cel-go against the identifiers in scope, then
// lowered to a PostgreSQL expression. Identifiers never reach the output as
// written: every one is resolved through Symbols, so a name that is not in
// scope is a compile error rather than a runtime surprise.
package expr

import (
	"fmt"
	"slices"
	"sort"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/ext"

	"github.com/roach88/actionc/internal/ir"
)

// Ref is what an identifier or member access resolves to.
type Ref struct {
	// SQL is the expression for the value itself. Empty when the value can
	// only be used through its members (e.g. "input", "caller").
	SQL string

	// Type is the declared type when known.
	Type ir.FieldType

	// Enum lists the allowed literals for enum-typed values.
	Enum []string

	// Member resolves name.member. Nil for scalars.
	Member func(member string) (Ref, error)
}

// Symbols resolves top-level identifiers for one expression.
type Symbols interface {
	// Lookup resolves a top-level identifier.
	Lookup(name string) (Ref, bool)

	// Names lists every identifier Lookup accepts.
	Names() []string
}

// Compiled is a lowered expression.
type Compiled struct {
	SQL  string
	Type ir.FieldType // empty when not statically known

	// Ref is set when the expression is a bare identifier or member access.
	Ref *Ref

	// Literal holds the value when the expression is a single string literal.
	Literal   string
	IsLiteral bool
	IsNullLit bool
}

// Error reports an expression that failed to parse, check or lower.
type Error struct {
	Source  string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("expression %q: %s", e.Source, e.Message)
}

// Compiler holds the base CEL environment. It is safe for concurrent use.
type Compiler struct {
	env *cel.Env
}

// NewCompiler returns a compiler with the string extension library and now().
// Macros are disabled: has(), all() and friends have no SQL lowering.
func NewCompiler() (*Compiler, error) {
	env, err := cel.NewEnv(
		cel.ClearMacros(),
		ext.Strings(),
		cel.Function("now", cel.Overload("now_timestamp", []*cel.Type{}, cel.TimestampType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &Compiler{env: env}, nil
}

// Compile checks source against syms and lowers it to SQL.
func (c *Compiler) Compile(source string, syms Symbols) (Compiled, error) {
	if source == "" {
		return Compiled{}, &Error{Source: source, Message: "empty expression"}
	}

	names := slices.Clone(syms.Names())
	sort.Strings(names)
	names = slices.Compact(names)

	opts := make([]cel.EnvOption, 0, len(names))
	for _, n := range names {
		opts = append(opts, cel.Variable(n, cel.DynType))
	}
	env, err := c.env.Extend(opts...)
	if err != nil {
		return Compiled{}, &Error{Source: source, Message: err.Error()}
	}

	checked, iss := env.Compile(source)
	if iss != nil && iss.Err() != nil {
		return Compiled{}, &Error{Source: source, Message: iss.Err().Error()}
	}

	l := &lowerer{syms: syms}
	out, err := l.lower(checked.NativeRep().Expr())
	if err != nil {
		return Compiled{}, &Error{Source: source, Message: err.Error()}
	}
	return out, nil
}

// Roots returns the top-level identifiers an expression reads, sorted.
// The expression is parsed but not checked, so unknown names are reported
// too. Used to decide whether an action needs its own row loaded.
func (c *Compiler) Roots(source string) ([]string, error) {
	parsed, iss := c.env.Parse(source)
	if iss != nil && iss.Err() != nil {
		return nil, &Error{Source: source, Message: iss.Err().Error()}
	}
	seen := make(map[string]bool)
	var walk func(e celast.Expr)
	walk = func(e celast.Expr) {
		switch e.Kind() {
		case celast.IdentKind:
			seen[e.AsIdent()] = true
		case celast.SelectKind:
			walk(e.AsSelect().Operand())
		case celast.CallKind:
			call := e.AsCall()
			if call.IsMemberFunction() {
				walk(call.Target())
			}
			for _, a := range call.Args() {
				walk(a)
			}
		case celast.ListKind:
			for _, el := range e.AsList().Elements() {
				walk(el)
			}
		case celast.MapKind:
			for _, entry := range e.AsMap().Entries() {
				if entry.Kind() == celast.MapEntryKind {
					walk(entry.AsMapEntry().Key())
					walk(entry.AsMapEntry().Value())
				}
			}
		}
	}
	walk(parsed.NativeRep().Expr())

	roots := make([]string, 0, len(seen))
	for k := range seen {
		roots = append(roots, k)
	}
	sort.Strings(roots)
	return roots, nil
}
