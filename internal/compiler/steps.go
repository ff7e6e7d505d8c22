package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/actionc/internal/expr"
	"github.com/roach88/actionc/internal/ir"
	"github.com/roach88/actionc/internal/plsql"
	"github.com/roach88/actionc/internal/queryir"
	"github.com/roach88/actionc/internal/tablemeta"
)

// compileSteps lowers a step sequence in order. Statements of one step are
// never interleaved with another's.
func (ac *actionCompiler) compileSteps(s *scope, steps []ir.Step, path string) ([]plsql.Stmt, error) {
	var out []plsql.Stmt
	for i, step := range steps {
		stmts, err := ac.compileStep(s, step, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		out = append(out, stmts...)
	}
	return out, nil
}

// compileStep dispatches on the step kind. Every ir.Step variant has a case;
// the default arm only fires for a variant added to ir without a lowering.
func (ac *actionCompiler) compileStep(s *scope, step ir.Step, path string) ([]plsql.Stmt, error) {
	switch v := step.(type) {
	case ir.Validate:
		return ac.validate(s, v, path)
	case ir.Branch:
		return ac.branch(s, v, path)
	case ir.Insert:
		return ac.insert(s, v, path)
	case ir.Update:
		return ac.update(s, v, path)
	case ir.Delete:
		return ac.delete(s, v, path)
	case ir.Call:
		return ac.call(s, v, path)
	case ir.Notify:
		return ac.notify(s, v, path)
	case ir.Foreach:
		return ac.foreach(s, v, path)
	case ir.Return:
		return ac.ret(s, v, path)
	default:
		return nil, ac.errorf(path, "no lowering for step kind %q", step.Kind())
	}
}

func (ac *actionCompiler) validate(s *scope, v ir.Validate, path string) ([]plsql.Stmt, error) {
	cond, err := ac.condition(s, v.Condition, path+".condition")
	if err != nil {
		return nil, err
	}
	return []plsql.Stmt{plsql.If{
		Cond: "NOT COALESCE(" + cond + ", FALSE)",
		Then: []plsql.Stmt{s.failText(v.Code, v.Message)},
	}}, nil
}

func (ac *actionCompiler) branch(s *scope, v ir.Branch, path string) ([]plsql.Stmt, error) {
	cond, err := ac.condition(s, v.Condition, path+".condition")
	if err != nil {
		return nil, err
	}
	thenScope, elseScope := s.child(), s.child()
	thenStmts, err := ac.compileSteps(thenScope, v.Then, path+".then")
	if err != nil {
		return nil, err
	}
	elseStmts, err := ac.compileSteps(elseScope, v.Else, path+".else")
	if err != nil {
		return nil, err
	}
	s.mutated = s.mutated || thenScope.mutated || elseScope.mutated
	return []plsql.Stmt{plsql.If{
		Cond: "COALESCE(" + cond + ", FALSE)",
		Then: nonEmpty(thenStmts),
		Else: elseStmts,
	}}, nil
}

// nonEmpty keeps an IF arm syntactically valid.
func nonEmpty(stmts []plsql.Stmt) []plsql.Stmt {
	if len(stmts) == 0 {
		return []plsql.Stmt{plsql.Raw("NULL;")}
	}
	return stmts
}

func (ac *actionCompiler) call(s *scope, v ir.Call, path string) ([]plsql.Stmt, error) {
	args := make([]string, len(v.Args))
	for i, a := range v.Args {
		out, err := ac.compileExpr(s, a, fmt.Sprintf("%s.args[%d]", path, i))
		if err != nil {
			return nil, err
		}
		args[i] = out.SQL
	}
	invocation := fmt.Sprintf("%s(%s)", v.Function, strings.Join(args, ", "))
	s.mutated = true

	if v.Bind == "" {
		return []plsql.Stmt{plsql.Rawf("PERFORM %s;", invocation)}, nil
	}
	typ := v.BindType
	if typ == "" {
		typ = ir.TypeJSONB
	}
	sqlType, err := tablemeta.SQLType(typ)
	if err != nil {
		return nil, ac.wrap(path+".bind_type", err)
	}
	variable := "v_" + v.Bind
	if err := s.bind(v.Bind, binding{variable: variable, typ: typ}); err != nil {
		return nil, ac.wrap(path+".bind", err)
	}
	if err := ac.declare(variable, sqlType); err != nil {
		return nil, ac.wrap(path+".bind", err)
	}
	return []plsql.Stmt{plsql.Rawf("%s := %s;", variable, invocation)}, nil
}

func (ac *actionCompiler) notify(s *scope, v ir.Notify, path string) ([]plsql.Stmt, error) {
	payload, err := ac.jsonObject(s, v.Payload, nil, path+".payload")
	if err != nil {
		return nil, err
	}
	// Queued notifications roll back with the transaction, so a later
	// failure must raise rather than return.
	s.mutated = true
	return []plsql.Stmt{plsql.Rawf("PERFORM app.emit_event(%s, %s);", plsql.Literal(v.Channel), payload)}, nil
}

// jsonObject lowers a key -> expression map to jsonb_build_object, keys
// sorted. fixed entries come first, already lowered.
func (ac *actionCompiler) jsonObject(syms expr.Symbols, entries map[string]string, fixed [][2]string, path string) (string, error) {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, 2*(len(keys)+len(fixed)))
	for _, kv := range fixed {
		parts = append(parts, plsql.Literal(kv[0]), kv[1])
	}
	for _, k := range keys {
		out, err := ac.compileExpr(syms, entries[k], path+"."+k)
		if err != nil {
			return "", err
		}
		val := out.SQL
		if out.IsLiteral {
			val += "::TEXT"
		}
		parts = append(parts, plsql.Literal(k), val)
	}
	if len(parts) == 0 {
		return "'{}'::JSONB", nil
	}
	return "jsonb_build_object(" + strings.Join(parts, ", ") + ")", nil
}

func (ac *actionCompiler) foreach(s *scope, v ir.Foreach, path string) ([]plsql.Stmt, error) {
	if _, taken := s.Lookup(v.Var); taken {
		return nil, ac.errorf(path+".var", "loop variable %q shadows a name already in scope", v.Var)
	}
	loopVar := "r_" + v.Var
	body := s.child()
	if stepsMutate(v.Body) {
		// The second iteration runs after the first one's mutations.
		body.mutated = true
	}

	var pre []plsql.Stmt
	var query string
	switch col := v.Collection.(type) {
	case ir.RelatedRows:
		if !s.ownLoaded {
			return nil, ac.errorf(path+".collection", "related rows need the %s row, which is not loaded here", ac.entity.Name)
		}
		rel, err := ac.target(col.Entity, path+".collection.entity")
		if err != nil {
			return nil, err
		}
		via, err := relatedVia(rel, ac.entity, col.Via)
		if err != nil {
			return nil, ac.wrap(path+".collection.via", err)
		}
		query, err = ac.lookup(rel, []queryir.Predicate{
			queryir.BoundEquals{Field: tablemeta.FKColumn(via.Name), BoundVar: ac.ownVar + "." + tablemeta.PKColumn(ac.entity)},
		}, nil)
		if err != nil {
			return nil, ac.wrap(path+".collection", err)
		}
		body.bindings[v.Var] = binding{variable: loopVar, entity: rel}

	case ir.QueryRows:
		rel, err := ac.target(col.Entity, path+".collection.entity")
		if err != nil {
			return nil, err
		}
		preds, err := ac.wherePredicates(s, rel, col.Where, path+".collection.where")
		if err != nil {
			return nil, err
		}
		query, err = ac.lookup(rel, preds, nil)
		if err != nil {
			return nil, ac.wrap(path+".collection", err)
		}
		body.bindings[v.Var] = binding{variable: loopVar, entity: rel}

	case ir.InputList:
		p := ac.action.Param(col.Param)
		if p == nil {
			return nil, ac.errorf(path+".collection.param", "action has no param %q", col.Param)
		}
		if p.Type != ir.TypeJSONB {
			return nil, ac.errorf(path+".collection.param", "param %q is %s, a list must be jsonb", p.Name, p.Type)
		}
		arg := argInput + "." + p.Name
		pre = append(pre, plsql.If{
			Cond: fmt.Sprintf("%s IS NOT NULL AND jsonb_typeof(%s) <> 'array'", arg, arg),
			Then: []plsql.Stmt{s.failText(ir.CodeInvalidInput, p.Name+" must be a JSON array")},
		})
		query = fmt.Sprintf("SELECT e.value, e.ord\nFROM jsonb_array_elements(COALESCE(%s, '[]'::JSONB)) WITH ORDINALITY AS e(value, ord)\nORDER BY e.ord", arg)
		body.bindings[v.Var] = binding{variable: loopVar + ".value", typ: ir.TypeJSONB}

	default:
		return nil, ac.errorf(path+".collection", "unsupported collection %T", v.Collection)
	}

	if err := ac.declare(loopVar, "RECORD"); err != nil {
		return nil, ac.wrap(path+".var", err)
	}
	stmts, err := ac.compileSteps(body, v.Body, path+".body")
	if err != nil {
		return nil, err
	}
	s.mutated = s.mutated || body.mutated
	return append(pre, plsql.Loop{Var: loopVar, Query: query, Body: nonEmpty(stmts)}), nil
}

// wherePredicates lowers field equalities of a query collection. String
// literals are compared inline; reference fields compare surrogate keys,
// resolving external references first.
func (ac *actionCompiler) wherePredicates(s *scope, rel *ir.EntityDefinition, where map[string]string, path string) ([]queryir.Predicate, error) {
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var preds []queryir.Predicate
	for _, k := range keys {
		fpath := path + "." + k
		val, err := ac.compileExpr(s, where[k], fpath)
		if err != nil {
			return nil, err
		}
		column := k
		if k != tablemeta.ColumnID {
			f := rel.Field(k)
			if f == nil {
				return nil, ac.errorf(fpath, "%s has no field %q", rel.Name, k)
			}
			column = tablemeta.Column(f)
			if err := checkEnumValue(f, val); err != nil {
				return nil, ac.wrap(fpath, err)
			}
			if f.IsRef() && !val.IsNullLit && val.Type != ir.TypeRef {
				resolved, err := ac.c.resolver.ResolveExpr(ac.c.model.Entity(f.Ref), val.SQL)
				if err != nil {
					return nil, ac.wrap(fpath, err)
				}
				val.SQL, val.IsLiteral = resolved, false
			}
		}
		switch {
		case val.IsNullLit:
			preds = append(preds, queryir.IsNull{Field: column})
		case val.IsLiteral:
			preds = append(preds, queryir.Equals{Field: column, Value: ir.IRString(val.Literal)})
		default:
			preds = append(preds, queryir.BoundEquals{Field: column, BoundVar: val.SQL})
		}
	}
	return preds, nil
}

// lookup renders a query over live rows of rel visible to the caller's tenant.
func (ac *actionCompiler) lookup(rel *ir.EntityDefinition, preds []queryir.Predicate, bindings map[string]string) (string, error) {
	all := append([]queryir.Predicate{}, preds...)
	if rel.TenantScoped {
		all = append(all, queryir.BoundEquals{Field: tablemeta.ColumnTenantID, BoundVar: argTenant})
	}
	if rel.SoftDelete {
		all = append(all, queryir.IsNull{Field: tablemeta.ColumnDeletedAt})
	}
	return ac.c.queries.Compile(queryir.Select{
		From:     tablemeta.Table(rel),
		Filter:   queryir.And{Predicates: all},
		Bindings: bindings,
		OrderBy:  tablemeta.PKColumn(rel),
	})
}

// relatedVia finds the reference field of rel pointing at parent. An empty
// via is inferred when exactly one field qualifies.
func relatedVia(rel, parent *ir.EntityDefinition, via string) (*ir.FieldDefinition, error) {
	if via != "" {
		f := rel.Field(via)
		if f == nil || !f.IsRef() || f.Ref != parent.Name {
			return nil, fmt.Errorf("%s.%s is not a reference to %s", rel.Name, via, parent.Name)
		}
		return f, nil
	}
	var found *ir.FieldDefinition
	for i := range rel.Fields {
		f := &rel.Fields[i]
		if f.IsRef() && f.Ref == parent.Name {
			if found != nil {
				return nil, fmt.Errorf("%s references %s through both %s and %s, name one with via", rel.Name, parent.Name, found.Name, f.Name)
			}
			found = f
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%s has no reference to %s", rel.Name, parent.Name)
	}
	return found, nil
}

// stepsMutate reports whether any step, at any depth, has effects.
func stepsMutate(steps []ir.Step) bool {
	mutates := false
	ir.WalkSteps(steps, func(s ir.Step) {
		switch s.(type) {
		case ir.Insert, ir.Update, ir.Delete, ir.Call, ir.Notify:
			mutates = true
		}
	})
	return mutates
}

func (ac *actionCompiler) ret(s *scope, v ir.Return, path string) ([]plsql.Stmt, error) {
	id, data := ac.primaryResult(s)
	if v.Expression != "" {
		out, err := ac.compileExpr(s, v.Expression, path+".expression")
		if err != nil {
			return nil, err
		}
		data = toJSONB(out)
	}
	return []plsql.Stmt{successReturn(id, data)}, nil
}

// primaryResult is the default id and data: the own row when it is loaded.
func (ac *actionCompiler) primaryResult(s *scope) (string, string) {
	if !s.ownLoaded {
		return "NULL", "NULL"
	}
	return ac.ownVar + "." + tablemeta.ColumnID, sanitizedRow(ac.entity, ac.ownVar)
}

func successReturn(id, data string) plsql.Stmt {
	return plsql.Rawf("RETURN app.mutation_succeeded(%s, %s, v_impacts);", id, data)
}

func toJSONB(c expr.Compiled) string {
	switch {
	case c.IsNullLit:
		return "NULL"
	case c.Type == ir.TypeJSONB:
		return c.SQL
	case c.IsLiteral:
		return "to_jsonb(" + c.SQL + "::TEXT)"
	default:
		return "to_jsonb(" + c.SQL + ")"
	}
}
