package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/actionc/internal/ir"
	"github.com/roach88/actionc/internal/plsql"
	"github.com/roach88/actionc/internal/tablemeta"
)

// ActionArtifacts is the generated SQL of one action.
type ActionArtifacts struct {
	Entity    string
	Action    string
	Schema    string
	InputType string
	Core      string
	Wrapper   string

	// Calls are the "Entity.action" cores invoked by cascades, sorted.
	// Their cores must be created first.
	Calls       []string
	Diagnostics []Diagnostic
}

// InputTypeName is the composite input type of an action.
func InputTypeName(action string) string {
	return "app.type_" + action + "_input"
}

// CompileEntity compiles every action of an entity in declaration order.
func (c *Compiler) CompileEntity(name string) ([]*ActionArtifacts, error) {
	e := c.model.Entity(name)
	if e == nil {
		return nil, fmt.Errorf("unknown entity %q", name)
	}
	out := make([]*ActionArtifacts, 0, len(e.Actions))
	for i := range e.Actions {
		art, err := c.compile(e, &e.Actions[i])
		if err != nil {
			return nil, err
		}
		out = append(out, art)
	}
	return out, nil
}

// CompileAction compiles one action.
func (c *Compiler) CompileAction(entity, action string) (*ActionArtifacts, error) {
	e := c.model.Entity(entity)
	if e == nil {
		return nil, fmt.Errorf("unknown entity %q", entity)
	}
	a := e.Action(action)
	if a == nil {
		return nil, fmt.Errorf("entity %s has no action %q", entity, action)
	}
	return c.compile(e, a)
}

func (c *Compiler) compile(e *ir.EntityDefinition, a *ir.ActionSpec) (*ActionArtifacts, error) {
	input, err := c.InputType(e, a)
	if err != nil {
		return nil, err
	}
	core, err := c.Core(e, a)
	if err != nil {
		return nil, err
	}
	return &ActionArtifacts{
		Entity:      e.Name,
		Action:      a.Name,
		Schema:      e.Schema,
		InputType:   input,
		Core:        core.SQL,
		Wrapper:     c.Wrapper(e, a),
		Calls:       core.Calls,
		Diagnostics: core.Diagnostics,
	}, nil
}

// inputField is one attribute of the input composite.
type inputField struct {
	name    string
	sqlType string
}

// inputFields is the parameter contract shared by wrapper and core: the
// implicit own row id first, then the declared params in order.
func (c *Compiler) inputFields(e *ir.EntityDefinition, a *ir.ActionSpec) ([]inputField, error) {
	var fields []inputField
	if c.TakesOwnRow(e.Name, a.Name) {
		fields = append(fields, inputField{name: ImplicitIDName(e), sqlType: "UUID"})
	}
	for _, p := range a.Params {
		t, err := tablemeta.SQLType(p.Type)
		if err != nil {
			return nil, &CompileError{Entity: e.Name, Action: a.Name, Field: "params." + p.Name, Message: err.Error(), Err: err}
		}
		fields = append(fields, inputField{name: p.Name, sqlType: t})
	}
	return fields, nil
}

// InputType renders the action's input composite type. The type is dropped
// first so a changed parameter list replaces it; CASCADE drops the core
// whose signature uses it, which is recreated right after.
func (c *Compiler) InputType(e *ir.EntityDefinition, a *ir.ActionSpec) (string, error) {
	fields, err := c.inputFields(e, a)
	if err != nil {
		return "", err
	}
	name := InputTypeName(a.Name)
	var b strings.Builder
	fmt.Fprintf(&b, "DROP TYPE IF EXISTS %s CASCADE;\n", name)
	if len(fields) == 0 {
		fmt.Fprintf(&b, "CREATE TYPE %s AS ();\n", name)
		return b.String(), nil
	}
	fmt.Fprintf(&b, "CREATE TYPE %s AS (\n", name)
	for i, f := range fields {
		sep := ","
		if i == len(fields)-1 {
			sep = ""
		}
		fmt.Fprintf(&b, "    %s %s%s\n", f.name, f.sqlType, sep)
	}
	b.WriteString(");\n")
	return b.String(), nil
}

// Wrapper renders app.<action>. It only converts the payload and delegates;
// a payload that does not convert is reported as invalid_input.
func (c *Compiler) Wrapper(e *ir.EntityDefinition, a *ir.ActionSpec) string {
	typ := InputTypeName(a.Name)
	decls := &plsql.Decls{}
	_ = decls.Add("v_input", typ)

	var body []plsql.Stmt
	if e.TenantScoped {
		body = append(body, plsql.If{
			Cond: argTenant + " IS NULL",
			Then: []plsql.Stmt{plsql.Rawf("RETURN app.mutation_failed(%s, %s);",
				plsql.Literal(ir.CodeInvalidInput), plsql.Literal(argTenant+" is required"))},
		})
	}
	body = append(body,
		plsql.Block{
			Body: []plsql.Stmt{
				plsql.Rawf("v_input := jsonb_populate_record(NULL::%s, COALESCE(%s, '{}'::JSONB));", typ, argPayload),
			},
			Handlers: []plsql.Handler{{
				Condition: "OTHERS",
				Body:      []plsql.Stmt{plsql.Rawf("RETURN app.mutation_failed(%s, SQLERRM);", plsql.Literal(ir.CodeInvalidInput))},
			}},
		},
		plsql.Rawf("RETURN %s.%s(%s, v_input, %s, %s);", e.Schema, a.Name, argTenant, argPayload, argUser),
	)

	fn := plsql.Function{
		Schema: "app",
		Name:   a.Name,
		Params: []plsql.Param{
			{Name: argTenant, Type: "UUID"},
			{Name: argUser, Type: "UUID"},
			{Name: argPayload, Type: "JSONB"},
		},
		Returns: "app.mutation_result",
		Comment: fmt.Sprintf("%s.%s: converts the JSON payload and calls %s.%s.", e.Name, a.Name, e.Schema, a.Name),
		Decls:   decls,
		Body:    body,
	}
	return fn.Render()
}

// CoreFunction is a rendered core with what the orchestrator needs to place it.
type CoreFunction struct {
	SQL         string
	Calls       []string
	Diagnostics []Diagnostic
}

// Core renders <schema>.<action>: the preamble, the compiled steps and the
// exception boundary.
func (c *Compiler) Core(e *ir.EntityDefinition, a *ir.ActionSpec) (*CoreFunction, error) {
	ac := c.newActionCompiler(e, a)
	_ = ac.decls.AddInit("v_impacts", "JSONB", "'[]'::JSONB")
	_ = ac.decls.Add("v_error_code", "TEXT")
	_ = ac.decls.Add("v_error_message", "TEXT")

	s := newScope(ac)
	body, err := ac.preamble(s)
	if err != nil {
		return nil, err
	}
	steps, err := ac.compileSteps(s, a.Steps, "steps")
	if err != nil {
		return nil, err
	}
	body = append(body, steps...)
	if n := len(a.Steps); n == 0 || a.Steps[n-1].Kind() != ir.KindReturn {
		id, data := ac.primaryResult(s)
		body = append(body, successReturn(id, data))
	}

	comment := a.Description
	if comment == "" {
		comment = fmt.Sprintf("%s.%s", e.Name, a.Name)
	}
	fn := plsql.Function{
		Schema: e.Schema,
		Name:   a.Name,
		Params: []plsql.Param{
			{Name: argTenant, Type: "UUID"},
			{Name: argInput, Type: InputTypeName(a.Name)},
			{Name: argPayload, Type: "JSONB"},
			{Name: argUser, Type: "UUID"},
		},
		Returns:  "app.mutation_result",
		Comment:  comment,
		Decls:    ac.decls,
		Body:     body,
		Handlers: boundaryHandlers(),
	}
	return &CoreFunction{
		SQL:         fn.Render(),
		Calls:       sortedKeys(ac.calls),
		Diagnostics: ac.diagnostics,
	}, nil
}

// preamble checks required inputs and loads the own row FOR UPDATE.
// Nothing has been mutated yet, so every failure here returns directly.
func (ac *actionCompiler) preamble(s *scope) ([]plsql.Stmt, error) {
	var out []plsql.Stmt
	required := func(name string) {
		out = append(out, plsql.If{
			Cond: argInput + "." + name + " IS NULL",
			Then: []plsql.Stmt{s.failText(ir.CodeRequiredFieldMissing, name+" is required")},
		})
	}

	if ac.implicitID {
		required(ac.implicitIDName())
	}
	for _, p := range ac.action.Params {
		if !p.Nullable {
			required(p.Name)
		}
	}
	if !ac.implicitID {
		return out, nil
	}

	e := ac.entity
	snake := ir.SnakeCase(e.Name)
	pkVar := "v_pk_" + snake
	resolved, err := ac.c.resolver.ResolveExpr(e, argInput+"."+ac.implicitIDName())
	if err != nil {
		return nil, ac.wrap("preamble", err)
	}
	if err := ac.declare(pkVar, "INTEGER"); err != nil {
		return nil, ac.wrap("preamble", err)
	}
	if err := ac.declare(ac.ownVar, tablemeta.Table(e)+"%ROWTYPE"); err != nil {
		return nil, ac.wrap("preamble", err)
	}
	out = append(out,
		plsql.Rawf("%s := %s;", pkVar, resolved),
		plsql.If{
			Cond: pkVar + " IS NULL",
			Then: []plsql.Stmt{s.failText(ir.NotFoundCode(snake), e.Name+" not found")},
		},
		plsql.Rawf("SELECT * INTO %s FROM %s WHERE %s = %s FOR UPDATE;",
			ac.ownVar, tablemeta.Table(e), tablemeta.PKColumn(e), pkVar),
	)
	s.ownLoaded = true
	return out, nil
}
