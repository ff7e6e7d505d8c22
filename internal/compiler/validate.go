package compiler

import (
	"fmt"
	"sort"

	"github.com/roach88/actionc/internal/ir"
)

// Model validation error codes (E300-E399). Structural codes E2xx come from ir.
const (
	ErrUnknownEntity       = "E301" // ref field, step, impact or cascade names an entity not in the model
	ErrDuplicateEntity     = "E302" // two entities share a name
	ErrDuplicateAction     = "E303" // two entities declare the same action name
	ErrUnknownTarget       = "E304" // cascade target action does not exist
	ErrCascadeTarget       = "E305" // cascade target action acts on the wrong row
	ErrCascadeParams       = "E306" // cascade params do not match the target action
	ErrCascadeCycle        = "E307" // cascade cycle under the reject policy
	ErrImplicitIDCollision = "E308" // declared param collides with the implicit <entity>_id
	ErrInvalidVia          = "E309" // via does not name a reference between the two entities
	ErrInvalidExpression   = "E310" // expression cannot be parsed
	ErrDeletedRowTarget    = "E311" // self after_delete rule calls an action on a hard-deleted row
)

// ValidateModel checks every entity structurally and every reference between
// entities. Returns all errors found (does not fail-fast).
func ValidateModel(m *ir.Model) []ir.ValidationError {
	var errs []ir.ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ir.ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	seenEntities := make(map[string]bool)
	actionOwner := make(map[string]string)
	for i := range m.Entities {
		e := &m.Entities[i]
		if seenEntities[e.Name] {
			add(e.Name, ErrDuplicateEntity, "duplicate entity name: %q", e.Name)
		}
		seenEntities[e.Name] = true

		for _, ve := range e.Validate() {
			ve.Field = e.Name + "." + ve.Field
			errs = append(errs, ve)
		}

		for j, f := range e.Fields {
			if f.IsRef() && f.Ref != "" && m.Entity(f.Ref) == nil {
				add(fmt.Sprintf("%s.fields[%d].ref", e.Name, j), ErrUnknownEntity, "field %q references unknown entity %q", f.Name, f.Ref)
			}
		}

		for j := range e.Actions {
			a := &e.Actions[j]
			path := fmt.Sprintf("%s.actions[%d]", e.Name, j)
			if owner, ok := actionOwner[a.Name]; ok && owner != e.Name {
				add(path+".name", ErrDuplicateAction, "action %q is also declared by %s, wrappers share the app schema", a.Name, owner)
			}
			actionOwner[a.Name] = e.Name

			for k, imp := range a.Impacts {
				if m.Entity(imp.Entity) == nil {
					add(fmt.Sprintf("%s.impacts[%d].entity", path, k), ErrUnknownEntity, "unknown entity %q", imp.Entity)
				}
			}
			errs = append(errs, validateStepEntities(m, a.Steps, path+".steps")...)
		}

		for j, r := range e.Cascades {
			errs = append(errs, validateCascadeLinks(m, e, r, fmt.Sprintf("%s.cascades[%d]", e.Name, j))...)
		}
	}

	return errs
}

func validateStepEntities(m *ir.Model, steps []ir.Step, path string) []ir.ValidationError {
	var errs []ir.ValidationError
	check := func(field, name string) {
		if name != "" && m.Entity(name) == nil {
			errs = append(errs, ir.ValidationError{Field: field, Code: ErrUnknownEntity, Message: fmt.Sprintf("unknown entity %q", name)})
		}
	}
	for i, s := range steps {
		spath := fmt.Sprintf("%s[%d]", path, i)
		switch v := s.(type) {
		case ir.Insert:
			check(spath+".target", v.Target)
		case ir.Update:
			check(spath+".target", v.Target)
		case ir.Delete:
			check(spath+".target", v.Target)
		case ir.Branch:
			errs = append(errs, validateStepEntities(m, v.Then, spath+".then")...)
			errs = append(errs, validateStepEntities(m, v.Else, spath+".else")...)
		case ir.Foreach:
			switch col := v.Collection.(type) {
			case ir.RelatedRows:
				check(spath+".collection.entity", col.Entity)
			case ir.QueryRows:
				check(spath+".collection.entity", col.Entity)
			}
			errs = append(errs, validateStepEntities(m, v.Body, spath+".body")...)
		}
	}
	return errs
}

// cascadeSubject returns the entity whose rows a cascade rule's calls act on.
func cascadeSubject(m *ir.Model, e *ir.EntityDefinition, r ir.CascadeRule) (*ir.EntityDefinition, error) {
	switch r.Scope {
	case ir.ScopeSelf:
		return e, nil
	case ir.ScopeParent:
		via := e.Field(r.Via)
		if via == nil || !via.IsRef() {
			return nil, fmt.Errorf("via %q is not a reference field of %s", r.Via, e.Name)
		}
		parent := m.Entity(via.Ref)
		if parent == nil {
			return nil, fmt.Errorf("via %q references unknown entity %q", r.Via, via.Ref)
		}
		return parent, nil
	case ir.ScopeRelated:
		rel := m.Entity(r.Entity)
		if rel == nil {
			return nil, fmt.Errorf("unknown related entity %q", r.Entity)
		}
		if _, err := relatedVia(rel, e, r.Via); err != nil {
			return nil, err
		}
		return rel, nil
	default:
		return nil, fmt.Errorf("unknown scope %q", r.Scope)
	}
}

func validateCascadeLinks(m *ir.Model, e *ir.EntityDefinition, r ir.CascadeRule, path string) []ir.ValidationError {
	var errs []ir.ValidationError
	if _, err := cascadeSubject(m, e, r); err != nil {
		code := ErrInvalidVia
		if r.Scope == ir.ScopeRelated && m.Entity(r.Entity) == nil {
			code = ErrUnknownEntity
		}
		errs = append(errs, ir.ValidationError{Field: path + ".via", Code: code, Message: err.Error()})
	}
	if isActionTarget(r.Target) {
		entityName, actionName, _ := ir.SplitTarget(r.Target)
		target := m.Entity(entityName)
		if target == nil || target.Action(actionName) == nil {
			errs = append(errs, ir.ValidationError{
				Field:   path + ".target",
				Code:    ErrUnknownTarget,
				Message: fmt.Sprintf("target action %s does not exist", r.Target),
			})
		}
	}
	return errs
}

// validateContracts checks what needs the implicit id decisions: cascade
// targets must act on the row the cascade passes them, with the params they
// declare, and no declared param may shadow an implicit id.
func (c *Compiler) validateContracts() []ir.ValidationError {
	var errs []ir.ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ir.ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	for i := range c.model.Entities {
		e := &c.model.Entities[i]
		for j := range e.Actions {
			a := &e.Actions[j]
			if c.TakesOwnRow(e.Name, a.Name) && a.Param(ImplicitIDName(e)) != nil {
				add(fmt.Sprintf("%s.actions[%d].params", e.Name, j), ErrImplicitIDCollision,
					"param %q collides with the implicit id of the %s row the action acts on", ImplicitIDName(e), e.Name)
			}
		}

		for j, r := range e.Cascades {
			if !isActionTarget(r.Target) {
				continue
			}
			path := fmt.Sprintf("%s.cascades[%d]", e.Name, j)
			subject, err := cascadeSubject(c.model, e, r)
			if err != nil {
				continue // reported by ValidateModel
			}
			entityName, actionName, _ := ir.SplitTarget(r.Target)
			if entityName != subject.Name {
				add(path+".target", ErrCascadeTarget, "%s scope calls actions of %s, not %s", r.Scope, subject.Name, entityName)
				continue
			}
			if r.Trigger == ir.AfterDelete && r.Scope == ir.ScopeSelf && !e.SoftDelete {
				add(path+".target", ErrDeletedRowTarget, "%s rows are hard deleted, %s cannot act on the removed row", e.Name, r.Target)
				continue
			}
			if !c.TakesOwnRow(entityName, actionName) {
				add(path+".target", ErrCascadeTarget, "target %s does not act on an existing %s row", r.Target, entityName)
				continue
			}
			target := c.model.Entity(entityName).Action(actionName)
			keys := make([]string, 0, len(r.Params))
			for k := range r.Params {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if target.Param(k) == nil {
					add(path+".params."+k, ErrCascadeParams, "target %s has no param %q", r.Target, k)
				}
			}
			for _, p := range target.Params {
				if _, ok := r.Params[p.Name]; !ok && !p.Nullable {
					add(path+".params", ErrCascadeParams, "target %s requires param %q", r.Target, p.Name)
				}
			}
		}
	}
	return errs
}
