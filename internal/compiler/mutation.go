package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/actionc/internal/expr"
	"github.com/roach88/actionc/internal/ir"
	"github.com/roach88/actionc/internal/plsql"
	"github.com/roach88/actionc/internal/tablemeta"
)

// assigned is the lowered column list of one mutation.
type assigned struct {
	columns []string
	values  []string
	pre     []plsql.Stmt // reference resolution, runs before the mutation
}

// assignments lowers field assignments for target. Plain values are compiled
// against values; reference values against refs, since a reference is
// resolved once before the statement rather than per row.
func (ac *actionCompiler) assignments(s *scope, target *ir.EntityDefinition, fields []ir.Assignment, values, refs expr.Symbols, path string) (assigned, error) {
	var out assigned
	seen := make(map[string]bool)
	for i, a := range fields {
		fpath := fmt.Sprintf("%s[%d]", path, i)
		f := target.Field(a.Field)
		if f == nil {
			return assigned{}, ac.errorf(fpath+".field", "%s has no field %q", target.Name, a.Field)
		}
		if seen[a.Field] {
			return assigned{}, ac.errorf(fpath+".field", "field %q assigned twice", a.Field)
		}
		seen[a.Field] = true

		syms := values
		if f.IsRef() {
			syms = refs
		}
		val, err := ac.compileExpr(syms, a.Value, fpath+".value")
		if err != nil {
			return assigned{}, err
		}
		if val.IsNullLit && !f.Nullable {
			return assigned{}, ac.errorf(fpath+".value", "field %q is not nullable", f.Name)
		}
		if err := checkEnumValue(f, val); err != nil {
			return assigned{}, ac.wrap(fpath+".value", err)
		}

		sql := coerce(val, f.Type)
		if f.IsRef() && !val.IsNullLit {
			var pre []plsql.Stmt
			sql, pre, err = ac.resolveReference(s, f, val, fpath)
			if err != nil {
				return assigned{}, err
			}
			out.pre = append(out.pre, pre...)
		}
		out.columns = append(out.columns, tablemeta.Column(f))
		out.values = append(out.values, sql)
	}
	return out, nil
}

// resolveReference emits the resolution of an external reference into
// v_fk_<field> and the not-found guard. A value that already is a surrogate
// key of the right entity is used as is.
func (ac *actionCompiler) resolveReference(s *scope, f *ir.FieldDefinition, val expr.Compiled, path string) (string, []plsql.Stmt, error) {
	if val.Type == ir.TypeRef {
		if ent, ok := ac.refColumns[val.SQL]; ok && ent != f.Ref {
			return "", nil, ac.errorf(path+".value", "value references %s, field %q references %s", ent, f.Name, f.Ref)
		}
		return val.SQL, nil, nil
	}

	refEntity := ac.c.model.Entity(f.Ref)
	resolved, err := ac.c.resolver.ResolveExpr(refEntity, val.SQL)
	if err != nil {
		return "", nil, ac.wrap(path+".value", err)
	}
	variable := "v_fk_" + f.Name
	if err := ac.declare(variable, "INTEGER"); err != nil {
		return "", nil, ac.wrap(path, err)
	}

	notFound := s.failText(ir.NotFoundCode(f.Name), refEntity.Name+" not found")
	if f.Nullable {
		return variable, []plsql.Stmt{
			plsql.Rawf("%s := CASE WHEN (%s) IS NULL THEN NULL ELSE %s END;", variable, val.SQL, resolved),
			plsql.If{
				Cond: fmt.Sprintf("(%s) IS NOT NULL AND %s IS NULL", val.SQL, variable),
				Then: []plsql.Stmt{notFound},
			},
		}, nil
	}
	return variable, []plsql.Stmt{
		plsql.Rawf("%s := %s;", variable, resolved),
		plsql.If{Cond: variable + " IS NULL", Then: []plsql.Stmt{notFound}},
	}, nil
}

// checkEnumValue rejects a literal outside an enum field's value set.
func checkEnumValue(f *ir.FieldDefinition, val expr.Compiled) error {
	if f.Type != ir.TypeEnum || !val.IsLiteral {
		return nil
	}
	if !slices.Contains(f.Values, val.Literal) {
		return fmt.Errorf("%q is not one of %s", val.Literal, strings.Join(f.Values, ", "))
	}
	return nil
}

// coerce casts a value to the storage type of a column when the types differ.
// Members of JSON values are text and need the cast to land in typed columns.
func coerce(val expr.Compiled, t ir.FieldType) string {
	if val.IsNullLit || t == ir.TypeRef {
		return val.SQL
	}
	want, err := tablemeta.SQLType(t)
	if err != nil {
		return val.SQL
	}
	if val.Type != "" {
		if have, err := tablemeta.SQLType(val.Type); err == nil && have == want {
			return val.SQL
		}
	}
	if val.IsLiteral && want == "TEXT" {
		return val.SQL
	}
	return "(" + val.SQL + ")::" + want
}

// checkImpact rejects a mutation outside a declared impact set.
func (ac *actionCompiler) checkImpact(target *ir.EntityDefinition, op ir.Operation, path string) error {
	if len(ac.action.Impacts) == 0 {
		return nil
	}
	for _, imp := range ac.action.Impacts {
		if imp.Entity == target.Name && imp.Operation == op {
			return nil
		}
	}
	return ac.errorf(path, "%s of %s is not in the declared impacts", op, target.Name)
}

func impactStmt(target *ir.EntityDefinition, op ir.Operation, idsSQL string) plsql.Stmt {
	return plsql.Rawf("v_impacts := app.add_impact(v_impacts, %s, %s, %s);",
		plsql.Literal(target.Name), plsql.Literal(string(op)), idsSQL)
}

func singleID(rowVar string) string {
	return "ARRAY[" + rowVar + ".id::TEXT]"
}

func (ac *actionCompiler) insert(s *scope, v ir.Insert, path string) ([]plsql.Stmt, error) {
	target, err := ac.target(v.Target, path+".target")
	if err != nil {
		return nil, err
	}
	if err := ac.checkImpact(target, ir.OpInsert, path); err != nil {
		return nil, err
	}
	as, err := ac.assignments(s, target, v.Fields, s, s, path+".fields")
	if err != nil {
		return nil, err
	}
	for _, f := range target.Fields {
		if !f.Nullable && !slices.Contains(as.columns, tablemeta.Column(&f)) {
			return nil, ac.errorf(path+".fields", "insert into %s is missing required field %q", target.Name, f.Name)
		}
	}

	columns, values := as.columns, as.values
	if target.TenantScoped {
		columns = append(columns, tablemeta.ColumnTenantID)
		values = append(values, argTenant)
	}
	columns = append(columns, tablemeta.ColumnCreatedAt, tablemeta.ColumnCreatedBy)
	values = append(values, "now()", argUser)

	snake := ir.SnakeCase(target.Name)
	own := target == ac.entity && (v.Bind == "" || v.Bind == snake)
	rowVar := ac.ownVar
	if !own {
		name := v.Bind
		if name == "" {
			name = "new_" + snake
		}
		rowVar = "v_" + name
		if err := s.bind(name, binding{variable: rowVar, entity: target}); err != nil {
			return nil, ac.wrap(path+".bind", err)
		}
	}
	if err := ac.declare(rowVar, tablemeta.Table(target)+"%ROWTYPE"); err != nil {
		return nil, ac.wrap(path+".bind", err)
	}

	stmts := as.pre
	stmts = append(stmts,
		plsql.Rawf("INSERT INTO %s (%s)\nVALUES (%s)\nRETURNING * INTO %s;",
			tablemeta.Table(target), strings.Join(columns, ", "), strings.Join(values, ", "), rowVar),
		impactStmt(target, ir.OpInsert, singleID(rowVar)),
	)
	s.mutated = true
	if own {
		s.ownLoaded = true
	}

	cascades, err := ac.cascades(target, rowVar, ir.OpInsert, path)
	if err != nil {
		return nil, err
	}
	return append(stmts, cascades...), nil
}

func (ac *actionCompiler) update(s *scope, v ir.Update, path string) ([]plsql.Stmt, error) {
	target, err := ac.target(v.Target, path+".target")
	if err != nil {
		return nil, err
	}
	if err := ac.checkImpact(target, ir.OpUpdate, path); err != nil {
		return nil, err
	}
	if v.Filter != "" {
		return ac.bulkUpdate(s, target, v, path)
	}
	if err := ac.requireOwnRow(s, target, "update", path); err != nil {
		return nil, err
	}

	as, err := ac.assignments(s, target, v.Fields, s, s, path+".fields")
	if err != nil {
		return nil, err
	}
	sets := setList(as, tablemeta.ColumnUpdatedAt, tablemeta.ColumnUpdatedBy)

	stmts := as.pre
	stmts = append(stmts,
		plsql.Rawf("UPDATE %s\nSET %s\nWHERE %s = %s\nRETURNING * INTO %s;",
			tablemeta.Table(target), sets, tablemeta.PKColumn(target), ac.ownPK(), ac.ownVar),
		impactStmt(target, ir.OpUpdate, singleID(ac.ownVar)),
	)
	s.mutated = true

	cascades, err := ac.cascades(target, ac.ownVar, ir.OpUpdate, path)
	if err != nil {
		return nil, err
	}
	return append(stmts, cascades...), nil
}

func (ac *actionCompiler) bulkUpdate(s *scope, target *ir.EntityDefinition, v ir.Update, path string) ([]plsql.Stmt, error) {
	rows := &rowSymbols{ac: ac, entity: target, prefix: "t", outer: s}
	filter, err := ac.condition(rows, v.Filter, path+".filter")
	if err != nil {
		return nil, err
	}
	as, err := ac.assignments(s, target, v.Fields, rows, s, path+".fields")
	if err != nil {
		return nil, err
	}
	where := bulkWhere(target, filter)
	return ac.bulk(s, bulkMutation{
		target: target,
		op:     ir.OpUpdate,
		stmt: fmt.Sprintf("UPDATE %s AS t\nSET %s\nWHERE %s",
			tablemeta.Table(target), setList(as, tablemeta.ColumnUpdatedAt, tablemeta.ColumnUpdatedBy), where),
		where: where,
		pre:   as.pre,
	}, path)
}

func (ac *actionCompiler) delete(s *scope, v ir.Delete, path string) ([]plsql.Stmt, error) {
	target, err := ac.target(v.Target, path+".target")
	if err != nil {
		return nil, err
	}
	if err := ac.checkImpact(target, ir.OpDelete, path); err != nil {
		return nil, err
	}

	if v.Filter != "" {
		rows := &rowSymbols{ac: ac, entity: target, prefix: "t", outer: s}
		filter, err := ac.condition(rows, v.Filter, path+".filter")
		if err != nil {
			return nil, err
		}
		where := bulkWhere(target, filter)
		m := bulkMutation{target: target, op: ir.OpDelete, where: where}
		if target.SoftDelete {
			m.stmt = fmt.Sprintf("UPDATE %s AS t\nSET %s = now(), %s = %s\nWHERE %s",
				tablemeta.Table(target), tablemeta.ColumnDeletedAt, tablemeta.ColumnDeletedBy, argUser, where)
		} else {
			m.stmt = fmt.Sprintf("DELETE FROM %s AS t\nWHERE %s", tablemeta.Table(target), where)
		}
		return ac.bulk(s, m, path)
	}

	if err := ac.requireOwnRow(s, target, "delete", path); err != nil {
		return nil, err
	}
	before, after, err := ac.deleteCascades(target, ac.ownVar, path)
	if err != nil {
		return nil, err
	}
	var stmt plsql.Stmt
	if target.SoftDelete {
		stmt = plsql.Rawf("UPDATE %s\nSET %s = now(), %s = %s\nWHERE %s = %s\nRETURNING * INTO %s;",
			tablemeta.Table(target), tablemeta.ColumnDeletedAt, tablemeta.ColumnDeletedBy, argUser,
			tablemeta.PKColumn(target), ac.ownPK(), ac.ownVar)
	} else {
		stmt = plsql.Rawf("DELETE FROM %s\nWHERE %s = %s;", tablemeta.Table(target), tablemeta.PKColumn(target), ac.ownPK())
	}
	s.mutated = true

	stmts := append(before, stmt, impactStmt(target, ir.OpDelete, singleID(ac.ownVar)))
	return append(stmts, after...), nil
}

// deleteCascades splits the after_delete rules of target around the delete
// statement. A hard delete runs its related rules first, while the rows that
// reference the deleted one can still be found and their foreign keys hold.
func (ac *actionCompiler) deleteCascades(target *ir.EntityDefinition, rowVar, path string) (before, after []plsql.Stmt, err error) {
	var early, late []ir.CascadeRule
	for _, r := range rulesFor(target, ir.AfterDelete) {
		if !target.SoftDelete && r.Scope == ir.ScopeRelated {
			ac.warn(path, "related rule %s of hard-deleted %s runs before the row is removed", r.Name, target.Name)
			early = append(early, r)
		} else {
			late = append(late, r)
		}
	}
	if before, err = ac.emitRules(target, rowVar, early, path); err != nil {
		return nil, nil, err
	}
	if after, err = ac.emitRules(target, rowVar, late, path); err != nil {
		return nil, nil, err
	}
	return before, after, nil
}

// bulkMutation is a filtered update or delete of target.
type bulkMutation struct {
	target *ir.EntityDefinition
	op     ir.Operation
	stmt   string // UPDATE or DELETE aliased as t, without RETURNING
	where  string
	pre    []plsql.Stmt
}

// bulk emits a filtered mutation. Without rules to fire, the affected ids
// are collected in one statement. Otherwise the changed rows are walked in
// surrogate key order and each one fires the rules of its trigger; the
// mutation's impact is recorded ahead of the impacts of those cascades.
func (ac *actionCompiler) bulk(s *scope, m bulkMutation, path string) ([]plsql.Stmt, error) {
	if err := ac.declare("v_ids", "TEXT[]"); err != nil {
		return nil, ac.wrap(path, err)
	}
	target := m.target
	stmts := append([]plsql.Stmt{}, m.pre...)

	if len(rulesFor(target, ir.TriggerFor(m.op))) == 0 {
		stmts = append(stmts,
			plsql.Rawf("WITH changed AS (\n%s\n)\nSELECT array_agg(id::TEXT ORDER BY id) INTO v_ids FROM changed;",
				indent(m.stmt+"\nRETURNING t.id")),
			impactStmt(target, m.op, "v_ids"),
		)
	} else {
		loop, err := ac.bulkLoop(m, path)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, loop...)
	}

	if target == ac.entity && s.ownLoaded {
		stmts = append(stmts, plsql.Rawf("SELECT * INTO %s FROM %s WHERE %s = %s;",
			ac.ownVar, tablemeta.Table(target), tablemeta.PKColumn(target), ac.ownPK()))
	}
	s.mutated = true
	return stmts, nil
}

func (ac *actionCompiler) bulkLoop(m bulkMutation, path string) ([]plsql.Stmt, error) {
	target := m.target
	pk := tablemeta.PKColumn(target)
	ac.bulkSeq++
	rowVar := fmt.Sprintf("r_changed_%d", ac.bulkSeq)
	outer := fmt.Sprintf("v_outer_impacts_%d", ac.bulkSeq)
	if err := ac.declare(rowVar, "RECORD"); err != nil {
		return nil, ac.wrap(path, err)
	}
	if err := ac.declare(outer, "JSONB"); err != nil {
		return nil, ac.wrap(path, err)
	}
	collect := plsql.Rawf("v_ids := array_append(v_ids, %s.%s::TEXT);", rowVar, tablemeta.ColumnID)

	var query string
	var body []plsql.Stmt
	if m.op == ir.OpDelete && !target.SoftDelete {
		// Rows are locked and removed one at a time so related rules run
		// before their parent row disappears.
		before, after, err := ac.deleteCascades(target, rowVar, path)
		if err != nil {
			return nil, err
		}
		query = fmt.Sprintf("SELECT t.* FROM %s AS t\nWHERE %s\nORDER BY t.%s\nFOR UPDATE",
			tablemeta.Table(target), m.where, pk)
		body = append(before,
			plsql.Rawf("DELETE FROM %s WHERE %s = %s.%s;", tablemeta.Table(target), pk, rowVar, pk),
			collect,
		)
		body = append(body, after...)
	} else {
		cascades, err := ac.cascades(target, rowVar, m.op, path)
		if err != nil {
			return nil, err
		}
		query = fmt.Sprintf("WITH changed AS (\n%s\n)\nSELECT * FROM changed ORDER BY %s",
			indent(m.stmt+"\nRETURNING t.*"), pk)
		body = append([]plsql.Stmt{collect}, cascades...)
	}

	return []plsql.Stmt{
		plsql.Raw("v_ids := '{}';"),
		plsql.Rawf("%s := v_impacts;", outer),
		plsql.Raw("v_impacts := '[]'::JSONB;"),
		plsql.Loop{Var: rowVar, Query: query, Body: body},
		plsql.Rawf("v_impacts := app.add_impact(%s, %s, %s, v_ids) || v_impacts;",
			outer, plsql.Literal(target.Name), plsql.Literal(string(m.op))),
	}, nil
}

func indent(text string) string {
	return "    " + strings.ReplaceAll(text, "\n", "\n    ")
}

func (ac *actionCompiler) requireOwnRow(s *scope, target *ir.EntityDefinition, verb, path string) error {
	if target != ac.entity {
		return ac.errorf(path+".target", "%s of %s needs a filter, only the action's own %s row is implied", verb, target.Name, ac.entity.Name)
	}
	if !s.ownLoaded {
		return ac.errorf(path, "%s of the own %s row before it exists", verb, target.Name)
	}
	return nil
}

func (ac *actionCompiler) ownPK() string {
	return ac.ownVar + "." + tablemeta.PKColumn(ac.entity)
}

// setList renders col = value pairs followed by the audit columns.
func setList(as assigned, atColumn, byColumn string) string {
	parts := make([]string, 0, len(as.columns)+2)
	for i, c := range as.columns {
		parts = append(parts, c+" = "+as.values[i])
	}
	parts = append(parts, atColumn+" = now()", byColumn+" = "+argUser)
	return strings.Join(parts, ", ")
}

// bulkWhere restricts a filtered mutation to the caller's live rows.
func bulkWhere(target *ir.EntityDefinition, filter string) string {
	conds := []string{}
	if target.TenantScoped {
		conds = append(conds, "t."+tablemeta.ColumnTenantID+" = "+argTenant)
	}
	if target.SoftDelete {
		conds = append(conds, "t."+tablemeta.ColumnDeletedAt+" IS NULL")
	}
	conds = append(conds, filter)
	return strings.Join(conds, "\nAND ")
}
