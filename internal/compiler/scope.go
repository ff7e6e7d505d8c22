package compiler

import (
	"fmt"
	"sort"

	"github.com/roach88/actionc/internal/expr"
	"github.com/roach88/actionc/internal/ir"
	"github.com/roach88/actionc/internal/plsql"
	"github.com/roach88/actionc/internal/tablemeta"
)

// Names every scope resolves besides bindings and own fields.
const (
	nameInput  = "input"
	nameCaller = "caller"
)

// Function parameters of every core.
const (
	argTenant  = "auth_tenant_id"
	argUser    = "auth_user_id"
	argInput   = "input_data"
	argPayload = "input_payload"
)

// auditColumns are readable on every row value.
var auditColumns = map[string]ir.FieldType{
	tablemeta.ColumnTenantID:  ir.TypeUUID,
	tablemeta.ColumnCreatedAt: ir.TypeTimestamp,
	tablemeta.ColumnCreatedBy: ir.TypeUUID,
	tablemeta.ColumnUpdatedAt: ir.TypeTimestamp,
	tablemeta.ColumnUpdatedBy: ir.TypeUUID,
	tablemeta.ColumnDeletedAt: ir.TypeTimestamp,
	tablemeta.ColumnDeletedBy: ir.TypeUUID,
}

// binding is a name introduced by a step: an inserted row, a call result
// or a loop variable.
type binding struct {
	variable string
	entity   *ir.EntityDefinition // set for row values
	typ      ir.FieldType         // set for scalar and jsonb values
}

// scope is the symbol table while compiling one step sequence.
//
// Child scopes (branch arms, loop bodies) see their parent's names but never
// add to them. ownLoaded tracks whether the own row variable holds a row on
// this path; mutated whether a mutation may already have happened, which
// decides how failures are emitted.
type scope struct {
	parent    *scope
	ac        *actionCompiler
	bindings  map[string]binding
	ownLoaded bool
	mutated   bool
}

func newScope(ac *actionCompiler) *scope {
	return &scope{ac: ac, bindings: make(map[string]binding)}
}

func (s *scope) child() *scope {
	return &scope{
		parent:    s,
		ac:        s.ac,
		bindings:  make(map[string]binding),
		ownLoaded: s.ownLoaded,
		mutated:   s.mutated,
	}
}

func (s *scope) binding(name string) (binding, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if b, ok := cur.bindings[name]; ok {
			return b, true
		}
	}
	return binding{}, false
}

// bind introduces name in this scope. Shadowing any visible name is an error.
func (s *scope) bind(name string, b binding) error {
	if _, ok := s.Lookup(name); ok {
		return fmt.Errorf("%q is already defined in this scope", name)
	}
	if reservedBindings[name] {
		return fmt.Errorf("%q is reserved", name)
	}
	s.bindings[name] = b
	return nil
}

// reservedBindings would collide with generated variables.
var reservedBindings = map[string]bool{
	"ids":           true,
	"impacts":       true,
	"error_code":    true,
	"error_message": true,
	"input":         true,
	"caller":        true,
}

// Lookup implements expr.Symbols.
func (s *scope) Lookup(name string) (expr.Ref, bool) {
	if b, ok := s.binding(name); ok {
		return s.ac.bindingRef(b), true
	}
	switch name {
	case nameInput:
		return s.ac.inputRef(), true
	case nameCaller:
		return callerRef(), true
	}
	if !s.ownLoaded {
		return expr.Ref{}, false
	}
	own := s.ac.entity
	if name == ir.SnakeCase(own.Name) {
		return s.ac.rowRef(own, s.ac.ownVar), true
	}
	ref, err := s.ac.columnRef(own, s.ac.ownVar, name)
	if err != nil {
		return expr.Ref{}, false
	}
	return ref, true
}

// Names implements expr.Symbols.
func (s *scope) Names() []string {
	seen := map[string]bool{nameInput: true, nameCaller: true}
	for cur := s; cur != nil; cur = cur.parent {
		for n := range cur.bindings {
			seen[n] = true
		}
	}
	if s.ownLoaded {
		for _, n := range rowNames(s.ac.entity) {
			seen[n] = true
		}
		seen[ir.SnakeCase(s.ac.entity.Name)] = true
	}
	return sortedKeys(seen)
}

// rowNames lists the members of a row value.
func rowNames(e *ir.EntityDefinition) []string {
	names := []string{tablemeta.ColumnID}
	for _, f := range e.Fields {
		names = append(names, f.Name)
	}
	for n := range auditColumns {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// rowSymbols resolves the bare field names of one row, falling back to an
// outer scope. Filters see the filtered table through alias "t"; cascade
// parameters see the mutated row variable.
type rowSymbols struct {
	ac     *actionCompiler
	entity *ir.EntityDefinition
	prefix string
	outer  expr.Symbols
}

func (r *rowSymbols) Lookup(name string) (expr.Ref, bool) {
	if ref, err := r.ac.columnRef(r.entity, r.prefix, name); err == nil {
		return ref, true
	}
	if r.outer == nil {
		return expr.Ref{}, false
	}
	return r.outer.Lookup(name)
}

func (r *rowSymbols) Names() []string {
	seen := make(map[string]bool)
	for _, n := range rowNames(r.entity) {
		seen[n] = true
	}
	if r.outer != nil {
		for _, n := range r.outer.Names() {
			seen[n] = true
		}
	}
	return sortedKeys(seen)
}

// callerSymbols exposes only caller, for cascade parameters.
type callerSymbols struct{}

func (callerSymbols) Lookup(name string) (expr.Ref, bool) {
	if name == nameCaller {
		return callerRef(), true
	}
	return expr.Ref{}, false
}

func (callerSymbols) Names() []string { return []string{nameCaller} }

func (ac *actionCompiler) bindingRef(b binding) expr.Ref {
	switch {
	case b.entity != nil:
		return ac.rowRef(b.entity, b.variable)
	case b.typ == ir.TypeJSONB:
		return jsonRef(b.variable)
	default:
		return expr.Ref{SQL: b.variable, Type: b.typ}
	}
}

// rowRef is a whole row: as a value it is the row's JSON without internal keys.
func (ac *actionCompiler) rowRef(e *ir.EntityDefinition, variable string) expr.Ref {
	return expr.Ref{
		SQL:  sanitizedRow(e, variable),
		Type: ir.TypeJSONB,
		Member: func(m string) (expr.Ref, error) {
			return ac.columnRef(e, variable, m)
		},
	}
}

// columnRef resolves one member of a row held in variable (or a table alias).
func (ac *actionCompiler) columnRef(e *ir.EntityDefinition, variable, name string) (expr.Ref, error) {
	if name == tablemeta.ColumnID {
		return expr.Ref{SQL: variable + "." + tablemeta.ColumnID, Type: ir.TypeUUID}, nil
	}
	if t, ok := auditColumns[name]; ok {
		if name == tablemeta.ColumnTenantID && !e.TenantScoped {
			return expr.Ref{}, fmt.Errorf("%s is not tenant scoped", e.Name)
		}
		return expr.Ref{SQL: variable + "." + name, Type: t}, nil
	}
	f := e.Field(name)
	if f == nil {
		return expr.Ref{}, fmt.Errorf("%s has no field %q", e.Name, name)
	}
	sql := variable + "." + tablemeta.Column(f)
	if f.IsRef() {
		ac.noteRefColumn(sql, f.Ref)
	}
	return expr.Ref{SQL: sql, Type: f.Type, Enum: f.Values}, nil
}

func (ac *actionCompiler) inputRef() expr.Ref {
	return expr.Ref{
		Member: func(m string) (expr.Ref, error) {
			if ac.implicitID && m == ac.implicitIDName() {
				return expr.Ref{SQL: argInput + "." + m, Type: ir.TypeUUID}, nil
			}
			p := ac.action.Param(m)
			if p == nil {
				return expr.Ref{}, fmt.Errorf("action %s has no param %q", ac.action.Name, m)
			}
			if p.Type == ir.TypeJSONB {
				return jsonRef(argInput + "." + m), nil
			}
			return expr.Ref{SQL: argInput + "." + m, Type: p.Type}, nil
		},
	}
}

func callerRef() expr.Ref {
	return expr.Ref{
		Member: func(m string) (expr.Ref, error) {
			switch m {
			case "user_id":
				return expr.Ref{SQL: argUser, Type: ir.TypeUUID}, nil
			case "tenant_id":
				return expr.Ref{SQL: argTenant, Type: ir.TypeUUID}, nil
			default:
				return expr.Ref{}, fmt.Errorf("caller has no member %q, use user_id or tenant_id", m)
			}
		},
	}
}

// jsonRef is a jsonb value whose members are read as text.
func jsonRef(path string) expr.Ref {
	return expr.Ref{
		SQL:  path,
		Type: ir.TypeJSONB,
		Member: func(m string) (expr.Ref, error) {
			return jsonMemberRef(path, m), nil
		},
	}
}

func jsonMemberRef(base, member string) expr.Ref {
	return expr.Ref{
		SQL:  "(" + base + "->>" + plsql.Literal(member) + ")",
		Type: ir.TypeText,
		Member: func(m string) (expr.Ref, error) {
			return jsonMemberRef(base+"->"+plsql.Literal(member), m), nil
		},
	}
}

// sanitizedRow is the row as JSON without surrogate and foreign keys.
func sanitizedRow(e *ir.EntityDefinition, variable string) string {
	return fmt.Sprintf("(to_jsonb(%s) - %s)", variable, plsql.TextArray(hiddenColumns(e)))
}

// hiddenColumns are the internal keys never exposed in results.
func hiddenColumns(e *ir.EntityDefinition) []string {
	cols := []string{tablemeta.PKColumn(e)}
	for i := range e.Fields {
		if e.Fields[i].IsRef() {
			cols = append(cols, tablemeta.FKColumn(e.Fields[i].Name))
		}
	}
	return cols
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
