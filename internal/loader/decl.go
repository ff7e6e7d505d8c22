package loader

import (
	"fmt"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/roach88/actionc/internal/ir"
)

// EntityDecl is the source form of one entity. CUE decodes through the json
// tags and YAML through the yaml tags; both formats share the layout.
type EntityDecl struct {
	Schema       string        `json:"schema" yaml:"schema"`
	Description  string        `json:"description,omitempty" yaml:"description,omitempty"`
	TenantScoped bool          `json:"tenant_scoped,omitempty" yaml:"tenant_scoped,omitempty"`
	SoftDelete   bool          `json:"soft_delete,omitempty" yaml:"soft_delete,omitempty"`
	Fields       []FieldDecl   `json:"fields,omitempty" yaml:"fields,omitempty"`
	Actions      []ActionDecl  `json:"actions,omitempty" yaml:"actions,omitempty"`
	Cascades     []CascadeDecl `json:"cascades,omitempty" yaml:"cascades,omitempty"`
}

// FieldDecl declares one entity field.
type FieldDecl struct {
	Name     string   `json:"name" yaml:"name"`
	Type     string   `json:"type" yaml:"type"`
	Nullable bool     `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	Ref      string   `json:"ref,omitempty" yaml:"ref,omitempty"`
	Values   []string `json:"values,omitempty" yaml:"values,omitempty"`
}

// ParamDecl declares one action parameter.
type ParamDecl struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Nullable bool   `json:"nullable,omitempty" yaml:"nullable,omitempty"`
}

// ImpactDecl declares an entity an action may mutate.
type ImpactDecl struct {
	Entity    string `json:"entity" yaml:"entity"`
	Operation string `json:"operation" yaml:"operation"`
}

// ActionDecl declares one action.
type ActionDecl struct {
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Params      []ParamDecl  `json:"params,omitempty" yaml:"params,omitempty"`
	Steps       []StepDecl   `json:"steps" yaml:"steps"`
	Impacts     []ImpactDecl `json:"impacts,omitempty" yaml:"impacts,omitempty"`
}

// StepDecl holds exactly one step, keyed by its kind.
type StepDecl struct {
	Validate *ValidateDecl `json:"validate,omitempty" yaml:"validate,omitempty"`
	Branch   *BranchDecl   `json:"branch,omitempty" yaml:"branch,omitempty"`
	Insert   *MutationDecl `json:"insert,omitempty" yaml:"insert,omitempty"`
	Update   *MutationDecl `json:"update,omitempty" yaml:"update,omitempty"`
	Delete   *MutationDecl `json:"delete,omitempty" yaml:"delete,omitempty"`
	Call     *CallDecl     `json:"call,omitempty" yaml:"call,omitempty"`
	Notify   *NotifyDecl   `json:"notify,omitempty" yaml:"notify,omitempty"`
	Foreach  *ForeachDecl  `json:"foreach,omitempty" yaml:"foreach,omitempty"`
	Return   *ReturnDecl   `json:"return,omitempty" yaml:"return,omitempty"`
}

type ValidateDecl struct {
	Condition string `json:"condition" yaml:"condition"`
	Code      string `json:"code" yaml:"code"`
	Message   string `json:"message,omitempty" yaml:"message,omitempty"`
}

type BranchDecl struct {
	Condition string     `json:"condition" yaml:"condition"`
	Then      []StepDecl `json:"then" yaml:"then"`
	Else      []StepDecl `json:"else,omitempty" yaml:"else,omitempty"`
}

type AssignmentDecl struct {
	Field string `json:"field" yaml:"field"`
	Value string `json:"value" yaml:"value"`
}

// MutationDecl is shared by insert, update and delete.
type MutationDecl struct {
	Target string           `json:"target" yaml:"target"`
	Fields []AssignmentDecl `json:"fields,omitempty" yaml:"fields,omitempty"`
	Filter string           `json:"filter,omitempty" yaml:"filter,omitempty"`
	Bind   string           `json:"bind,omitempty" yaml:"bind,omitempty"`
}

type CallDecl struct {
	Function string   `json:"function" yaml:"function"`
	Args     []string `json:"args,omitempty" yaml:"args,omitempty"`
	Bind     string   `json:"bind,omitempty" yaml:"bind,omitempty"`
	BindType string   `json:"bind_type,omitempty" yaml:"bind_type,omitempty"`
}

type NotifyDecl struct {
	Channel string            `json:"channel" yaml:"channel"`
	Payload map[string]string `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// ForeachDecl names its collection one of three ways:
//
//	in: related_deals      rows of Deal referencing the action's own row
//	in: input.rows         elements of the jsonb parameter rows
//	query: {entity, where} rows of entity matching field equalities
//
// related gives the related form with an explicit via.
type ForeachDecl struct {
	Var     string       `json:"var" yaml:"var"`
	In      string       `json:"in,omitempty" yaml:"in,omitempty"`
	Related *RelatedDecl `json:"related,omitempty" yaml:"related,omitempty"`
	Query   *QueryDecl   `json:"query,omitempty" yaml:"query,omitempty"`
	Body    []StepDecl   `json:"body" yaml:"body"`
}

type RelatedDecl struct {
	Entity string `json:"entity" yaml:"entity"`
	Via    string `json:"via,omitempty" yaml:"via,omitempty"`
}

type QueryDecl struct {
	Entity string            `json:"entity" yaml:"entity"`
	Where  map[string]string `json:"where,omitempty" yaml:"where,omitempty"`
}

type ReturnDecl struct {
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// CascadeDecl declares one cascade rule.
type CascadeDecl struct {
	Name    string            `json:"name" yaml:"name"`
	Trigger string            `json:"trigger" yaml:"trigger"`
	Scope   string            `json:"scope" yaml:"scope"`
	Entity  string            `json:"entity,omitempty" yaml:"entity,omitempty"`
	Via     string            `json:"via,omitempty" yaml:"via,omitempty"`
	Target  string            `json:"target" yaml:"target"`
	Params  map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
	Policy  string            `json:"policy" yaml:"policy"`
}

// converter turns declarations into IR. Related collections are written by
// table name ("related_deals"), so entity names are resolved after every
// declaration has been read.
type converter struct {
	bySnake map[string]string // "sales_order" -> "SalesOrder"
}

func newConverter(names []string) *converter {
	c := &converter{bySnake: make(map[string]string, len(names))}
	for _, n := range names {
		c.bySnake[ir.SnakeCase(n)] = n
	}
	return c
}

// entity converts one declaration. Empty lists and maps become nil.
func (c *converter) entity(name string, d EntityDecl) (ir.EntityDefinition, error) {
	e := ir.EntityDefinition{
		Name:         name,
		Schema:       d.Schema,
		Description:  d.Description,
		TenantScoped: d.TenantScoped,
		SoftDelete:   d.SoftDelete,
	}
	for _, f := range d.Fields {
		e.Fields = append(e.Fields, ir.FieldDefinition{
			Name:     f.Name,
			Type:     ir.FieldType(f.Type),
			Nullable: f.Nullable,
			Ref:      f.Ref,
			Values:   nilIfEmpty(f.Values),
		})
	}
	for i, a := range d.Actions {
		spec, err := c.action(a)
		if err != nil {
			return e, fmt.Errorf("actions[%d] (%s): %w", i, a.Name, err)
		}
		e.Actions = append(e.Actions, spec)
	}
	for _, r := range d.Cascades {
		e.Cascades = append(e.Cascades, ir.CascadeRule{
			Name:    r.Name,
			Trigger: ir.Trigger(r.Trigger),
			Scope:   ir.CascadeScope(r.Scope),
			Entity:  r.Entity,
			Via:     r.Via,
			Target:  r.Target,
			Params:  nilIfEmptyMap(r.Params),
			Policy:  ir.FailurePolicy(r.Policy),
		})
	}
	return e, nil
}

func (c *converter) action(d ActionDecl) (ir.ActionSpec, error) {
	a := ir.ActionSpec{Name: d.Name, Description: d.Description}
	for _, p := range d.Params {
		a.Params = append(a.Params, ir.Param{Name: p.Name, Type: ir.FieldType(p.Type), Nullable: p.Nullable})
	}
	for _, imp := range d.Impacts {
		a.Impacts = append(a.Impacts, ir.ImpactDecl{Entity: imp.Entity, Operation: ir.Operation(imp.Operation)})
	}
	steps, err := c.steps(d.Steps, "steps")
	if err != nil {
		return a, err
	}
	a.Steps = steps
	return a, nil
}

func (c *converter) steps(decls []StepDecl, path string) ([]ir.Step, error) {
	var out []ir.Step
	for i, d := range decls {
		s, err := c.step(d, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *converter) step(d StepDecl, path string) (ir.Step, error) {
	var kinds []string
	var s ir.Step
	var err error

	if d.Validate != nil {
		kinds = append(kinds, "validate")
		s = ir.Validate{Condition: d.Validate.Condition, Code: d.Validate.Code, Message: d.Validate.Message}
	}
	if d.Branch != nil {
		kinds = append(kinds, "branch")
		b := ir.Branch{Condition: d.Branch.Condition}
		if b.Then, err = c.steps(d.Branch.Then, path+".then"); err != nil {
			return nil, err
		}
		if b.Else, err = c.steps(d.Branch.Else, path+".else"); err != nil {
			return nil, err
		}
		s = b
	}
	if d.Insert != nil {
		kinds = append(kinds, "insert")
		if d.Insert.Filter != "" {
			return nil, fmt.Errorf("%s: insert takes no filter", path)
		}
		s = ir.Insert{Target: d.Insert.Target, Fields: assignments(d.Insert.Fields), Bind: d.Insert.Bind}
	}
	if d.Update != nil {
		kinds = append(kinds, "update")
		if d.Update.Bind != "" {
			return nil, fmt.Errorf("%s: update takes no bind", path)
		}
		s = ir.Update{Target: d.Update.Target, Fields: assignments(d.Update.Fields), Filter: d.Update.Filter}
	}
	if d.Delete != nil {
		kinds = append(kinds, "delete")
		if len(d.Delete.Fields) > 0 || d.Delete.Bind != "" {
			return nil, fmt.Errorf("%s: delete takes only target and filter", path)
		}
		s = ir.Delete{Target: d.Delete.Target, Filter: d.Delete.Filter}
	}
	if d.Call != nil {
		kinds = append(kinds, "call")
		s = ir.Call{
			Function: d.Call.Function,
			Args:     nilIfEmpty(d.Call.Args),
			Bind:     d.Call.Bind,
			BindType: ir.FieldType(d.Call.BindType),
		}
	}
	if d.Notify != nil {
		kinds = append(kinds, "notify")
		s = ir.Notify{Channel: d.Notify.Channel, Payload: nilIfEmptyMap(d.Notify.Payload)}
	}
	if d.Foreach != nil {
		kinds = append(kinds, "foreach")
		coll, err := c.collection(d.Foreach, path)
		if err != nil {
			return nil, err
		}
		body, err := c.steps(d.Foreach.Body, path+".body")
		if err != nil {
			return nil, err
		}
		s = ir.Foreach{Var: d.Foreach.Var, Collection: coll, Body: body}
	}
	if d.Return != nil {
		kinds = append(kinds, "return")
		s = ir.Return{Expression: d.Return.Expression}
	}

	switch len(kinds) {
	case 0:
		return nil, fmt.Errorf("%s: step has no kind", path)
	case 1:
		return s, nil
	default:
		return nil, fmt.Errorf("%s: step has more than one kind (%s)", path, strings.Join(kinds, ", "))
	}
}

func (c *converter) collection(d *ForeachDecl, path string) (ir.Collection, error) {
	forms := 0
	for _, set := range []bool{d.In != "", d.Related != nil, d.Query != nil} {
		if set {
			forms++
		}
	}
	if forms != 1 {
		return nil, fmt.Errorf("%s: foreach needs exactly one of in, related or query", path)
	}

	switch {
	case d.Related != nil:
		return ir.RelatedRows{Entity: d.Related.Entity, Via: d.Related.Via}, nil
	case d.Query != nil:
		return ir.QueryRows{Entity: d.Query.Entity, Where: nilIfEmptyMap(d.Query.Where)}, nil
	}

	if param, ok := strings.CutPrefix(d.In, "input."); ok {
		return ir.InputList{Param: param}, nil
	}
	if plural, ok := strings.CutPrefix(d.In, "related_"); ok {
		singular := inflection.Singular(plural)
		name, known := c.bySnake[singular]
		if !known {
			return nil, fmt.Errorf("%s: %s does not name an entity (no entity %q)", path, d.In, singular)
		}
		return ir.RelatedRows{Entity: name}, nil
	}
	return nil, fmt.Errorf("%s: in %q must be related_<plural> or input.<param>", path, d.In)
}

func assignments(decls []AssignmentDecl) []ir.Assignment {
	var out []ir.Assignment
	for _, a := range decls {
		out = append(out, ir.Assignment{Field: a.Field, Value: a.Value})
	}
	return out
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func nilIfEmptyMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}
