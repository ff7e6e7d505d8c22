package compiler

import (
	"fmt"
	"sort"

	"github.com/roach88/actionc/internal/expr"
	"github.com/roach88/actionc/internal/ir"
	"github.com/roach88/actionc/internal/plsql"
	"github.com/roach88/actionc/internal/queryir"
	"github.com/roach88/actionc/internal/tablemeta"
)

// scopeRank orders cascades: the row itself, then its parent, then related rows.
var scopeRank = map[ir.CascadeScope]int{
	ir.ScopeSelf:    0,
	ir.ScopeParent:  1,
	ir.ScopeRelated: 2,
}

// rulesFor returns the rules of e fired by trigger, in execution order.
// Within a scope, declaration order is kept.
func rulesFor(e *ir.EntityDefinition, trigger ir.Trigger) []ir.CascadeRule {
	var rules []ir.CascadeRule
	for _, r := range e.Cascades {
		if r.Trigger == trigger {
			rules = append(rules, r)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return scopeRank[rules[i].Scope] < scopeRank[rules[j].Scope]
	})
	return rules
}

// isActionTarget reports whether a cascade target names a compiled action
// ("Entity.action") rather than an external function ("schema.function").
func isActionTarget(target string) bool {
	left, _, ok := ir.SplitTarget(target)
	return ok && ir.IsEntityName(left)
}

// cascades emits the side effects of the mutation of one row of e, held in
// rowVar.
func (ac *actionCompiler) cascades(e *ir.EntityDefinition, rowVar string, op ir.Operation, path string) ([]plsql.Stmt, error) {
	if op == ir.OpDelete {
		before, after, err := ac.deleteCascades(e, rowVar, path)
		if err != nil {
			return nil, err
		}
		return append(before, after...), nil
	}
	return ac.emitRules(e, rowVar, rulesFor(e, ir.TriggerFor(op)), path)
}

// emitRules emits rules in the given order against the row in rowVar.
func (ac *actionCompiler) emitRules(e *ir.EntityDefinition, rowVar string, rules []ir.CascadeRule, path string) ([]plsql.Stmt, error) {
	var out []plsql.Stmt
	for _, r := range rules {
		stmts, err := ac.cascade(e, rowVar, r)
		if err != nil {
			return nil, ac.wrap(path, fmt.Errorf("cascade %s.%s: %w", e.Name, r.Name, err))
		}
		out = append(out, plsql.Comment(fmt.Sprintf("cascade %s (%s, %s)", r.Name, r.Scope, r.Policy)))
		out = append(out, stmts...)
	}
	return out, nil
}

func (ac *actionCompiler) cascade(e *ir.EntityDefinition, rowVar string, r ir.CascadeRule) ([]plsql.Stmt, error) {
	if err := ac.declare("v_cascade_result", "app.mutation_result"); err != nil {
		return nil, err
	}
	// Parameters read the mutated row and the caller.
	params := &rowSymbols{ac: ac, entity: e, prefix: rowVar, outer: callerSymbols{}}

	switch r.Scope {
	case ir.ScopeSelf:
		return ac.guarded(r, e, rowVar+"."+tablemeta.PKColumn(e), rowVar+"."+tablemeta.ColumnID, params)

	case ir.ScopeParent:
		via := e.Field(r.Via)
		if via == nil || !via.IsRef() {
			return nil, fmt.Errorf("%s.%s is not a reference field", e.Name, r.Via)
		}
		parent := ac.c.model.Entity(via.Ref)
		fk := rowVar + "." + tablemeta.FKColumn(via.Name)
		id := fmt.Sprintf("(SELECT %s FROM %s WHERE %s = %s)",
			tablemeta.ColumnID, tablemeta.Table(parent), tablemeta.PKColumn(parent), fk)
		body, err := ac.guarded(r, parent, fk, id, params)
		if err != nil {
			return nil, err
		}
		return []plsql.Stmt{plsql.If{Cond: fk + " IS NOT NULL", Then: body}}, nil

	case ir.ScopeRelated:
		rel := ac.c.model.Entity(r.Entity)
		if rel == nil {
			return nil, fmt.Errorf("unknown related entity %q", r.Entity)
		}
		via, err := relatedVia(rel, e, r.Via)
		if err != nil {
			return nil, err
		}
		ac.cascadeSeq++
		loopVar := fmt.Sprintf("r_cascade_%d", ac.cascadeSeq)
		if err := ac.declare(loopVar, "RECORD"); err != nil {
			return nil, err
		}
		pk := tablemeta.PKColumn(rel)
		query, err := ac.lookup(rel, []queryir.Predicate{
			queryir.BoundEquals{Field: tablemeta.FKColumn(via.Name), BoundVar: rowVar + "." + tablemeta.PKColumn(e)},
		}, map[string]string{tablemeta.ColumnID: tablemeta.ColumnID, pk: pk})
		if err != nil {
			return nil, err
		}
		body, err := ac.guarded(r, rel, loopVar+"."+pk, loopVar+"."+tablemeta.ColumnID, params)
		if err != nil {
			return nil, err
		}
		return []plsql.Stmt{plsql.Loop{Var: loopVar, Query: query, Body: body}}, nil

	default:
		return nil, fmt.Errorf("unknown scope %q", r.Scope)
	}
}

// guarded emits one cascade call on the row (pkSQL, idSQL) of entity on,
// wrapped according to the rule's failure policy.
func (ac *actionCompiler) guarded(r ir.CascadeRule, on *ir.EntityDefinition, pkSQL, idSQL string, params expr.Symbols) ([]plsql.Stmt, error) {
	var prep []plsql.Stmt
	var call string

	if isActionTarget(r.Target) {
		entityName, actionName, _ := ir.SplitTarget(r.Target)
		target := ac.c.model.Entity(entityName)
		if target == nil || target.Action(actionName) == nil {
			return nil, fmt.Errorf("unknown target %s", r.Target)
		}
		payload, err := ac.jsonObject(params, r.Params, [][2]string{{ImplicitIDName(on), idSQL}}, "params")
		if err != nil {
			return nil, err
		}
		if err := ac.declare("v_cascade_payload", "JSONB"); err != nil {
			return nil, err
		}
		ac.calls[r.Target] = true
		prep = append(prep, plsql.Rawf("v_cascade_payload := %s;", payload))
		call = fmt.Sprintf("%s.%s(%s, jsonb_populate_record(NULL::%s, v_cascade_payload), v_cascade_payload, %s)",
			target.Schema, actionName, argTenant, InputTypeName(actionName), argUser)
	} else {
		payload, err := ac.jsonObject(params, r.Params, nil, "params")
		if err != nil {
			return nil, err
		}
		call = fmt.Sprintf("%s(%s, %s, %s, %s)", r.Target, argTenant, pkSQL, payload, argUser)
	}

	invoke := append(prep, plsql.Rawf("v_cascade_result := %s;", call))
	merge := plsql.Raw("v_impacts := v_impacts || COALESCE(v_cascade_result.impacts, '[]'::JSONB);")
	failed := "v_cascade_result.status IS DISTINCT FROM " + plsql.Literal(ir.StatusSuccess)
	reason := "COALESCE(v_cascade_result.message, v_cascade_result.code, 'no result')"

	if r.Policy == ir.PolicyIgnore {
		body := append(invoke,
			plsql.If{Cond: failed, Then: []plsql.Stmt{
				plsql.Rawf("RAISE EXCEPTION USING ERRCODE = %s, MESSAGE = %s;", plsql.Literal(StateCascadeIgnored), reason),
			}},
			merge,
		)
		return []plsql.Stmt{plsql.Block{
			Body: body,
			Handlers: []plsql.Handler{{
				Condition: "OTHERS",
				Body:      []plsql.Stmt{plsql.Rawf("RAISE WARNING %s, SQLERRM;", plsql.Literal("cascade "+r.Name+" ignored: %"))},
			}},
		}}, nil
	}

	prefix := plsql.Literal("cascade " + r.Name + " failed: ")
	return []plsql.Stmt{
		plsql.Block{
			Body: invoke,
			Handlers: []plsql.Handler{{
				Condition: "OTHERS",
				Body:      []plsql.Stmt{raiseFailure(plsql.Literal(ir.CodeCascadeFailed), prefix+" || SQLERRM")},
			}},
		},
		plsql.If{Cond: failed, Then: []plsql.Stmt{
			raiseFailure(plsql.Literal(ir.CodeCascadeFailed), prefix+" || "+reason),
		}},
		merge,
	}, nil
}
