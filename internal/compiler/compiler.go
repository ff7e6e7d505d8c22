// Package compiler lowers action specifications to PL/pgSQL.
//
// Each action compiles to an input composite type, a core function holding
// the business logic and a wrapper that converts the raw JSON payload and
// delegates to the core. The core is built from three passes over the
// action's steps:
//
//	preamble  required params, own row resolution and FOR UPDATE load
//	steps     one statement group per step, cascades after each mutation
//	boundary  exception handlers mapping every failure to app.mutation_result
//
// A Compiler is immutable after New and safe for concurrent use; entities
// can be compiled in parallel.
package compiler

import (
	"fmt"
	"sort"

	"github.com/roach88/actionc/internal/expr"
	"github.com/roach88/actionc/internal/ir"
	"github.com/roach88/actionc/internal/plsql"
	"github.com/roach88/actionc/internal/querysql"
	"github.com/roach88/actionc/internal/tablemeta"
)

// CyclePolicy decides what a cascade cycle does to compilation.
type CyclePolicy string

// Cycle policies.
const (
	CycleWarn   CyclePolicy = "warn"
	CycleReject CyclePolicy = "reject"
)

// Options configures a Compiler.
type Options struct {
	// Resolver turns external references into surrogate keys.
	// Defaults to tablemeta.NewTrinityResolver().
	Resolver tablemeta.Resolver

	// CyclePolicy defaults to CycleWarn.
	CyclePolicy CyclePolicy
}

// Compiler compiles the actions of one model.
type Compiler struct {
	model    *ir.Model
	resolver tablemeta.Resolver
	exprs    *expr.Compiler
	queries  *querysql.SQLCompiler
	ownRow   map[string]bool // "Entity.action" -> takes an implicit <entity>_id
	cycles   []CycleWarning
}

// New validates model and prepares it for compilation.
// Validation problems are returned together as a *ModelError.
func New(model *ir.Model, opts Options) (*Compiler, error) {
	if model == nil {
		return nil, fmt.Errorf("nil model")
	}
	exprs, err := expr.NewCompiler()
	if err != nil {
		return nil, err
	}
	c := &Compiler{
		model:    model,
		resolver: opts.Resolver,
		exprs:    exprs,
		queries:  querysql.NewSQLCompiler(),
		ownRow:   make(map[string]bool),
	}
	if c.resolver == nil {
		c.resolver = tablemeta.NewTrinityResolver()
	}

	errs := ValidateModel(model)
	if len(errs) > 0 {
		return nil, &ModelError{Errors: errs}
	}

	for i := range model.Entities {
		e := &model.Entities[i]
		for j := range e.Actions {
			a := &e.Actions[j]
			needs, err := c.needsOwnRow(e, a)
			if err != nil {
				errs = append(errs, ir.ValidationError{
					Field:   fmt.Sprintf("%s.%s", e.Name, a.Name),
					Code:    ErrInvalidExpression,
					Message: err.Error(),
				})
				continue
			}
			c.ownRow[actionKey(e.Name, a.Name)] = needs
		}
	}
	errs = append(errs, c.validateContracts()...)
	if len(errs) > 0 {
		return nil, &ModelError{Errors: errs}
	}

	c.cycles = AnalyzeCycles(model)
	if opts.CyclePolicy == CycleReject && len(c.cycles) > 0 {
		for _, w := range c.cycles {
			errs = append(errs, ir.ValidationError{Field: "cascades", Code: ErrCascadeCycle, Message: w.Message})
		}
		return nil, &ModelError{Errors: errs}
	}
	return c, nil
}

// Model returns the compiled model.
func (c *Compiler) Model() *ir.Model {
	return c.model
}

// CycleWarnings returns the cascade cycles found in the model.
func (c *Compiler) CycleWarnings() []CycleWarning {
	return c.cycles
}

// TakesOwnRow reports whether an action's input carries an implicit
// <entity>_id identifying the row it acts on.
func (c *Compiler) TakesOwnRow(entity, action string) bool {
	return c.ownRow[actionKey(entity, action)]
}

// ImplicitIDName is the input field naming the own row, e.g. contact_id.
func ImplicitIDName(e *ir.EntityDefinition) string {
	return ir.SnakeCase(e.Name) + "_id"
}

func actionKey(entity, action string) string {
	return entity + "." + action
}

// needsOwnRow decides whether an action operates on an existing row of its
// entity. It does unless it inserts that row itself, and it must when it
// updates or deletes it without a filter, iterates its related rows, or any
// expression reads one of its fields.
func (c *Compiler) needsOwnRow(e *ir.EntityDefinition, a *ir.ActionSpec) (bool, error) {
	own := make(map[string]bool)
	own[ir.SnakeCase(e.Name)] = true
	for _, n := range rowNames(e) {
		own[n] = true
	}

	var exprs []string
	inserts, needs := false, false
	ir.WalkSteps(a.Steps, func(s ir.Step) {
		switch v := s.(type) {
		case ir.Validate:
			exprs = append(exprs, v.Condition)
		case ir.Branch:
			exprs = append(exprs, v.Condition)
		case ir.Insert:
			if v.Target == e.Name && (v.Bind == "" || v.Bind == ir.SnakeCase(e.Name)) {
				inserts = true
			}
			exprs = append(exprs, assignmentValues(v.Fields)...)
		case ir.Update:
			if v.Target == e.Name && v.Filter == "" {
				needs = true
			}
			if v.Filter == "" {
				exprs = append(exprs, assignmentValues(v.Fields)...)
			}
		case ir.Delete:
			if v.Target == e.Name && v.Filter == "" {
				needs = true
			}
		case ir.Call:
			exprs = append(exprs, v.Args...)
		case ir.Notify:
			exprs = append(exprs, mapValues(v.Payload)...)
		case ir.Foreach:
			switch col := v.Collection.(type) {
			case ir.RelatedRows:
				needs = true
			case ir.QueryRows:
				exprs = append(exprs, mapValues(col.Where)...)
			}
		case ir.Return:
			if v.Expression != "" {
				exprs = append(exprs, v.Expression)
			}
		}
	})
	if inserts {
		return false, nil
	}
	if needs {
		return true, nil
	}
	for _, src := range exprs {
		roots, err := c.exprs.Roots(src)
		if err != nil {
			return false, err
		}
		for _, r := range roots {
			if own[r] {
				return true, nil
			}
		}
	}
	return false, nil
}

func assignmentValues(fields []ir.Assignment) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Value
	}
	return out
}

// mapValues returns the values of m ordered by key.
func mapValues(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}

// actionCompiler holds the state of compiling one action's core.
type actionCompiler struct {
	c          *Compiler
	entity     *ir.EntityDefinition
	action     *ir.ActionSpec
	decls      *plsql.Decls
	ownVar     string
	implicitID bool

	refColumns  map[string]string // fk column SQL -> referenced entity
	cascadeSeq  int
	bulkSeq     int
	calls       map[string]bool // cores invoked by cascades
	diagnostics []Diagnostic
}

func (c *Compiler) newActionCompiler(e *ir.EntityDefinition, a *ir.ActionSpec) *actionCompiler {
	return &actionCompiler{
		c:          c,
		entity:     e,
		action:     a,
		decls:      &plsql.Decls{},
		ownVar:     "v_" + ir.SnakeCase(e.Name),
		implicitID: c.ownRow[actionKey(e.Name, a.Name)],
		refColumns: make(map[string]string),
		calls:      make(map[string]bool),
	}
}

func (ac *actionCompiler) implicitIDName() string {
	return ImplicitIDName(ac.entity)
}

func (ac *actionCompiler) noteRefColumn(sql, entity string) {
	ac.refColumns[sql] = entity
}

func (ac *actionCompiler) errorf(field string, format string, args ...any) error {
	return &CompileError{
		Entity:  ac.entity.Name,
		Action:  ac.action.Name,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

func (ac *actionCompiler) wrap(field string, err error) error {
	return &CompileError{
		Entity:  ac.entity.Name,
		Action:  ac.action.Name,
		Field:   field,
		Message: err.Error(),
		Err:     err,
	}
}

func (ac *actionCompiler) warn(field, format string, args ...any) {
	ac.diagnostics = append(ac.diagnostics, Diagnostic{
		Field:   fmt.Sprintf("%s.%s.%s", ac.entity.Name, ac.action.Name, field),
		Message: fmt.Sprintf(format, args...),
		Level:   "warning",
	})
}

func (ac *actionCompiler) declare(name, typ string) error {
	return ac.decls.Add(name, typ)
}

// entity looks up a step target.
func (ac *actionCompiler) target(name, field string) (*ir.EntityDefinition, error) {
	e := ac.c.model.Entity(name)
	if e == nil {
		return nil, ac.errorf(field, "unknown entity %q", name)
	}
	return e, nil
}

// compileExpr lowers source against syms.
func (ac *actionCompiler) compileExpr(syms expr.Symbols, source, field string) (expr.Compiled, error) {
	out, err := ac.c.exprs.Compile(source, syms)
	if err != nil {
		return expr.Compiled{}, ac.wrap(field, err)
	}
	return out, nil
}

// condition lowers a boolean expression.
func (ac *actionCompiler) condition(syms expr.Symbols, source, field string) (string, error) {
	out, err := ac.compileExpr(syms, source, field)
	if err != nil {
		return "", err
	}
	if out.Type != "" && out.Type != ir.TypeBoolean {
		return "", ac.errorf(field, "condition %q is %s, not boolean", source, out.Type)
	}
	return out.SQL, nil
}
