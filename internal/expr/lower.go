package expr

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/overloads"
	"github.com/google/cel-go/common/types"

	"github.com/roach88/actionc/internal/ir"
	"github.com/roach88/actionc/internal/plsql"
)

// lowerer turns a checked CEL tree into SQL text.
type lowerer struct {
	syms Symbols
}

var comparisons = map[string]string{
	operators.Less:          "<",
	operators.LessEquals:    "<=",
	operators.Greater:       ">",
	operators.GreaterEquals: ">=",
}

var arithmetic = map[string]string{
	operators.Subtract: "-",
	operators.Multiply: "*",
	operators.Divide:   "/",
	operators.Modulo:   "%",
}

func (l *lowerer) lower(e celast.Expr) (Compiled, error) {
	switch e.Kind() {
	case celast.LiteralKind:
		return lowerLiteral(e)
	case celast.IdentKind, celast.SelectKind:
		ref, err := l.resolve(e)
		if err != nil {
			return Compiled{}, err
		}
		if ref.SQL == "" {
			return Compiled{}, fmt.Errorf("%s is not a value, select one of its members", describe(e))
		}
		return Compiled{SQL: ref.SQL, Type: ref.Type, Ref: &ref}, nil
	case celast.CallKind:
		return l.lowerCall(e.AsCall())
	case celast.ListKind:
		parts, err := l.lowerAll(e.AsList().Elements())
		if err != nil {
			return Compiled{}, err
		}
		return Compiled{SQL: "jsonb_build_array(" + joinSQL(parts) + ")", Type: ir.TypeJSONB}, nil
	case celast.MapKind:
		return l.lowerMap(e.AsMap())
	default:
		return Compiled{}, fmt.Errorf("unsupported expression form")
	}
}

func (l *lowerer) lowerAll(es []celast.Expr) ([]Compiled, error) {
	out := make([]Compiled, len(es))
	for i, e := range es {
		c, err := l.lower(e)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// resolve walks an identifier or member chain through Symbols.
func (l *lowerer) resolve(e celast.Expr) (Ref, error) {
	switch e.Kind() {
	case celast.IdentKind:
		name := e.AsIdent()
		ref, ok := l.syms.Lookup(name)
		if !ok {
			return Ref{}, fmt.Errorf("undeclared reference to %q", name)
		}
		return ref, nil
	case celast.SelectKind:
		sel := e.AsSelect()
		if sel.IsTestOnly() {
			return Ref{}, fmt.Errorf("has() is not supported")
		}
		parent, err := l.resolve(sel.Operand())
		if err != nil {
			return Ref{}, err
		}
		if parent.Member == nil {
			return Ref{}, fmt.Errorf("%s has no member %q", describe(sel.Operand()), sel.FieldName())
		}
		return parent.Member(sel.FieldName())
	default:
		return Ref{}, fmt.Errorf("member access is only supported on names")
	}
}

func lowerLiteral(e celast.Expr) (Compiled, error) {
	switch v := e.AsLiteral().(type) {
	case types.String:
		s := string(v)
		if isSQLi, fingerprint := libinjection.IsSQLi(s); isSQLi {
			return Compiled{}, fmt.Errorf("string literal %q looks like SQL injection (fingerprint %s)", s, fingerprint)
		}
		return Compiled{SQL: plsql.Literal(s), Type: ir.TypeText, Literal: s, IsLiteral: true}, nil
	case types.Int:
		return Compiled{SQL: strconv.FormatInt(int64(v), 10), Type: ir.TypeBigint}, nil
	case types.Uint:
		return Compiled{SQL: strconv.FormatUint(uint64(v), 10), Type: ir.TypeBigint}, nil
	case types.Double:
		return Compiled{SQL: strconv.FormatFloat(float64(v), 'f', -1, 64), Type: ir.TypeNumeric}, nil
	case types.Bool:
		if v {
			return Compiled{SQL: "TRUE", Type: ir.TypeBoolean}, nil
		}
		return Compiled{SQL: "FALSE", Type: ir.TypeBoolean}, nil
	case types.Null:
		return Compiled{SQL: "NULL", IsNullLit: true}, nil
	default:
		return Compiled{}, fmt.Errorf("unsupported literal of type %T", v)
	}
}

func (l *lowerer) lowerCall(call celast.CallExpr) (Compiled, error) {
	fn := call.FunctionName()

	var target *Compiled
	if call.IsMemberFunction() {
		t, err := l.lower(call.Target())
		if err != nil {
			return Compiled{}, err
		}
		target = &t
	}
	args, err := l.lowerAll(call.Args())
	if err != nil {
		return Compiled{}, err
	}

	switch fn {
	case operators.LogicalAnd:
		return boolean("(" + args[0].SQL + " AND " + args[1].SQL + ")"), nil
	case operators.LogicalOr:
		return boolean("(" + args[0].SQL + " OR " + args[1].SQL + ")"), nil
	case operators.LogicalNot:
		return boolean("(NOT " + args[0].SQL + ")"), nil
	case operators.Equals, operators.NotEquals:
		return equality(fn == operators.Equals, args[0], args[1])
	case operators.Negate:
		return Compiled{SQL: "(-" + args[0].SQL + ")", Type: args[0].Type}, nil
	case operators.Add:
		if isText(args[0]) || isText(args[1]) {
			return Compiled{SQL: "(" + args[0].SQL + " || " + args[1].SQL + ")", Type: ir.TypeText}, nil
		}
		return Compiled{SQL: "(" + args[0].SQL + " + " + args[1].SQL + ")", Type: numericType(args[0], args[1])}, nil
	case operators.Conditional:
		return Compiled{
			SQL:  "(CASE WHEN " + args[0].SQL + " THEN " + args[1].SQL + " ELSE " + args[2].SQL + " END)",
			Type: firstType(args[1], args[2]),
		}, nil
	case operators.In:
		return l.lowerIn(call.Args(), args)
	case operators.Index, operators.OptIndex, operators.OptSelect:
		return Compiled{}, fmt.Errorf("indexing is not supported, select a named member instead")
	}
	if op, ok := comparisons[fn]; ok {
		if err := checkEnumPair(args[0], args[1]); err != nil {
			return Compiled{}, err
		}
		return boolean("(" + args[0].SQL + " " + op + " " + args[1].SQL + ")"), nil
	}
	if op, ok := arithmetic[fn]; ok {
		return Compiled{SQL: "(" + args[0].SQL + " " + op + " " + args[1].SQL + ")", Type: numericType(args[0], args[1])}, nil
	}

	// Receiver-style calls lower with the receiver as first operand.
	operands := args
	if target != nil {
		operands = append([]Compiled{*target}, args...)
	}
	return lowerFunction(fn, operands)
}

func lowerFunction(fn string, ops []Compiled) (Compiled, error) {
	arity := func(n int) error {
		if len(ops) != n {
			return fmt.Errorf("%s() takes %d operand(s), got %d", fn, n, len(ops))
		}
		return nil
	}
	switch fn {
	case overloads.Size:
		if err := arity(1); err != nil {
			return Compiled{}, err
		}
		if ops[0].Type == ir.TypeJSONB {
			return Compiled{SQL: "jsonb_array_length(" + ops[0].SQL + ")", Type: ir.TypeBigint}, nil
		}
		return Compiled{SQL: "char_length(" + ops[0].SQL + ")", Type: ir.TypeBigint}, nil
	case overloads.StartsWith:
		if err := arity(2); err != nil {
			return Compiled{}, err
		}
		return boolean("starts_with(" + ops[0].SQL + ", " + ops[1].SQL + ")"), nil
	case overloads.EndsWith:
		if err := arity(2); err != nil {
			return Compiled{}, err
		}
		return boolean("(right(" + ops[0].SQL + ", char_length(" + ops[1].SQL + ")) = " + ops[1].SQL + ")"), nil
	case overloads.Contains:
		if err := arity(2); err != nil {
			return Compiled{}, err
		}
		return boolean("(strpos(" + ops[0].SQL + ", " + ops[1].SQL + ") > 0)"), nil
	case overloads.Matches:
		if err := arity(2); err != nil {
			return Compiled{}, err
		}
		return boolean("(" + ops[0].SQL + " ~ " + ops[1].SQL + ")"), nil
	case "lowerAscii", "upperAscii", "trim":
		if err := arity(1); err != nil {
			return Compiled{}, err
		}
		sqlFn := map[string]string{"lowerAscii": "lower", "upperAscii": "upper", "trim": "btrim"}[fn]
		return Compiled{SQL: sqlFn + "(" + ops[0].SQL + ")", Type: ir.TypeText}, nil
	case overloads.TypeConvertInt:
		if err := arity(1); err != nil {
			return Compiled{}, err
		}
		return Compiled{SQL: "(" + ops[0].SQL + ")::BIGINT", Type: ir.TypeBigint}, nil
	case overloads.TypeConvertDouble:
		if err := arity(1); err != nil {
			return Compiled{}, err
		}
		return Compiled{SQL: "(" + ops[0].SQL + ")::NUMERIC", Type: ir.TypeNumeric}, nil
	case overloads.TypeConvertString:
		if err := arity(1); err != nil {
			return Compiled{}, err
		}
		return Compiled{SQL: "(" + ops[0].SQL + ")::TEXT", Type: ir.TypeText}, nil
	case "now":
		return Compiled{SQL: "now()", Type: ir.TypeTimestamp}, nil
	default:
		return Compiled{}, fmt.Errorf("function %s() has no SQL lowering", fn)
	}
}

// equality lowers == and != with CEL's null semantics: null equals only null.
func equality(eq bool, a, b Compiled) (Compiled, error) {
	if a.IsNullLit && b.IsNullLit {
		return boolean(strings.ToUpper(strconv.FormatBool(eq))), nil
	}
	if b.IsNullLit {
		a, b = b, a
	}
	if a.IsNullLit {
		if eq {
			return boolean("(" + b.SQL + " IS NULL)"), nil
		}
		return boolean("(" + b.SQL + " IS NOT NULL)"), nil
	}
	if err := checkEnumPair(a, b); err != nil {
		return Compiled{}, err
	}
	if eq {
		return boolean("(" + a.SQL + " IS NOT DISTINCT FROM " + b.SQL + ")"), nil
	}
	return boolean("(" + a.SQL + " IS DISTINCT FROM " + b.SQL + ")"), nil
}

func (l *lowerer) lowerIn(raw []celast.Expr, args []Compiled) (Compiled, error) {
	if raw[1].Kind() != celast.ListKind {
		return Compiled{}, fmt.Errorf("the right side of 'in' must be a list literal")
	}
	items, err := l.lowerAll(raw[1].AsList().Elements())
	if err != nil {
		return Compiled{}, err
	}
	if len(items) == 0 {
		return boolean("FALSE"), nil
	}
	sqls := make([]string, len(items))
	for i, it := range items {
		if err := checkEnumPair(args[0], it); err != nil {
			return Compiled{}, err
		}
		sqls[i] = it.SQL
	}
	return boolean("(" + args[0].SQL + " IN (" + strings.Join(sqls, ", ") + "))"), nil
}

func (l *lowerer) lowerMap(m celast.MapExpr) (Compiled, error) {
	parts := make([]string, 0, 2*m.Size())
	seen := make(map[string]bool)
	for _, entry := range m.Entries() {
		if entry.Kind() != celast.MapEntryKind {
			return Compiled{}, fmt.Errorf("unsupported map entry")
		}
		me := entry.AsMapEntry()
		if me.IsOptional() {
			return Compiled{}, fmt.Errorf("optional map entries are not supported")
		}
		if me.Key().Kind() != celast.LiteralKind {
			return Compiled{}, fmt.Errorf("map keys must be string literals")
		}
		key, err := lowerLiteral(me.Key())
		if err != nil {
			return Compiled{}, err
		}
		if !key.IsLiteral {
			return Compiled{}, fmt.Errorf("map keys must be string literals")
		}
		if seen[key.Literal] {
			return Compiled{}, fmt.Errorf("duplicate map key %q", key.Literal)
		}
		seen[key.Literal] = true
		val, err := l.lower(me.Value())
		if err != nil {
			return Compiled{}, err
		}
		parts = append(parts, key.SQL, val.SQL)
	}
	return Compiled{SQL: "jsonb_build_object(" + strings.Join(parts, ", ") + ")", Type: ir.TypeJSONB}, nil
}

// checkEnumPair rejects comparing an enum-typed value with a literal outside its value set.
func checkEnumPair(a, b Compiled) error {
	for _, pair := range [][2]Compiled{{a, b}, {b, a}} {
		v, lit := pair[0], pair[1]
		if v.Ref == nil || len(v.Ref.Enum) == 0 || !lit.IsLiteral {
			continue
		}
		if !slices.Contains(v.Ref.Enum, lit.Literal) {
			return fmt.Errorf("%q is not one of %s", lit.Literal, strings.Join(v.Ref.Enum, ", "))
		}
	}
	return nil
}

func boolean(sql string) Compiled {
	return Compiled{SQL: sql, Type: ir.TypeBoolean}
}

func isText(c Compiled) bool {
	switch c.Type {
	case ir.TypeText, ir.TypeEmail, ir.TypeEnum:
		return true
	}
	return false
}

func numericType(a, b Compiled) ir.FieldType {
	if a.Type == ir.TypeNumeric || b.Type == ir.TypeNumeric {
		return ir.TypeNumeric
	}
	return firstType(a, b)
}

func firstType(a, b Compiled) ir.FieldType {
	if a.Type != "" {
		return a.Type
	}
	return b.Type
}

func joinSQL(cs []Compiled) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = c.SQL
	}
	return strings.Join(parts, ", ")
}

// describe renders an identifier chain for error messages.
func describe(e celast.Expr) string {
	switch e.Kind() {
	case celast.IdentKind:
		return e.AsIdent()
	case celast.SelectKind:
		return describe(e.AsSelect().Operand()) + "." + e.AsSelect().FieldName()
	default:
		return "expression"
	}
}
