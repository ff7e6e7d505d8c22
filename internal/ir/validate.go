package ir

import (
	"fmt"
	"strings"
)

// Structural validation error codes (E200-E299).
const (
	ErrNameInvalid       = "E201" // entity, field, action or param name is malformed
	ErrDuplicateName     = "E202" // duplicate field/action/param/cascade name
	ErrInvalidFieldType  = "E203" // unknown field or param type
	ErrRefMissingTarget  = "E204" // ref field without referenced entity
	ErrEnumNoValues      = "E205" // enum field without values
	ErrReservedField     = "E206" // field collides with a generated column
	ErrStepMissingField  = "E207" // a step lacks a required member
	ErrInvalidCode       = "E208" // validate code is not lower snake case
	ErrInvalidTrigger    = "E209" // unknown cascade trigger
	ErrInvalidScope      = "E210" // unknown cascade scope or missing via/entity
	ErrInvalidPolicy     = "E211" // unknown cascade failure policy
	ErrInvalidImpact     = "E212" // impact declaration is malformed
	ErrUnreachableStep   = "E213" // step after a return in the same sequence
	ErrInvalidFunctionID = "E214" // call/cascade target is not schema.function or Entity.action
)

// ValidationError represents a validation error with field path and message.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks an EntityDefinition against structural rules.
// Returns all errors (not fail-fast) for better developer experience.
// References across entities are checked by the compiler.
func (e *EntityDefinition) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if !IsEntityName(e.Name) {
		add("name", ErrNameInvalid, "entity name %q must be PascalCase", e.Name)
	}
	if !IsIdentifier(e.Schema) {
		add("schema", ErrNameInvalid, "schema %q must be a lower snake case identifier", e.Schema)
	}

	seenFields := make(map[string]bool)
	for i, f := range e.Fields {
		path := fmt.Sprintf("fields[%d]", i)
		if !IsIdentifier(f.Name) {
			add(path+".name", ErrNameInvalid, "field name %q must be a lower snake case identifier", f.Name)
		}
		if IsReservedField(f.Name) {
			add(path+".name", ErrReservedField, "field name %q is reserved for generated columns", f.Name)
		}
		if seenFields[f.Name] {
			add(path+".name", ErrDuplicateName, "duplicate field name: %q", f.Name)
		}
		seenFields[f.Name] = true

		if !ValidFieldTypes[f.Type] {
			add(path+".type", ErrInvalidFieldType, "invalid type %q for field %q", f.Type, f.Name)
		}
		if f.Type == TypeRef && f.Ref == "" {
			add(path+".ref", ErrRefMissingTarget, "ref field %q must name the referenced entity", f.Name)
		}
		if f.Type == TypeEnum && len(f.Values) == 0 {
			add(path+".values", ErrEnumNoValues, "enum field %q must list its values", f.Name)
		}
	}

	seenActions := make(map[string]bool)
	for i := range e.Actions {
		a := &e.Actions[i]
		path := fmt.Sprintf("actions[%d]", i)
		if seenActions[a.Name] {
			add(path+".name", ErrDuplicateName, "duplicate action name: %q", a.Name)
		}
		seenActions[a.Name] = true
		errs = append(errs, a.validate(path)...)
	}

	seenRules := make(map[string]bool)
	for i, r := range e.Cascades {
		path := fmt.Sprintf("cascades[%d]", i)
		if !IsIdentifier(r.Name) {
			add(path+".name", ErrNameInvalid, "cascade name %q must be a lower snake case identifier", r.Name)
		}
		if seenRules[r.Name] {
			add(path+".name", ErrDuplicateName, "duplicate cascade name: %q", r.Name)
		}
		seenRules[r.Name] = true

		switch r.Trigger {
		case AfterCreate, AfterUpdate, AfterDelete:
		default:
			add(path+".trigger", ErrInvalidTrigger, "invalid trigger %q, must be one of: after_create, after_update, after_delete", r.Trigger)
		}
		switch r.Scope {
		case ScopeSelf:
		case ScopeParent:
			if r.Via == "" {
				add(path+".via", ErrInvalidScope, "parent scope requires via (the reference field to the parent)")
			}
		case ScopeRelated:
			if r.Entity == "" {
				add(path+".entity", ErrInvalidScope, "related scope requires entity")
			}
		default:
			add(path+".scope", ErrInvalidScope, "invalid scope %q, must be one of: self, parent, related", r.Scope)
		}
		switch r.Policy {
		case PolicyPropagate, PolicyIgnore:
		default:
			add(path+".policy", ErrInvalidPolicy, "invalid policy %q, must be propagate or ignore", r.Policy)
		}
		if _, _, ok := SplitTarget(r.Target); !ok {
			add(path+".target", ErrInvalidFunctionID, "target %q must be Entity.action or schema.function", r.Target)
		}
	}

	return errs
}

// validate checks one action. path prefixes every reported field.
func (a *ActionSpec) validate(path string) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if !IsIdentifier(a.Name) {
		add(path+".name", ErrNameInvalid, "action name %q must be a lower snake case identifier", a.Name)
	}
	seenParams := make(map[string]bool)
	for i, p := range a.Params {
		ppath := fmt.Sprintf("%s.params[%d]", path, i)
		if !IsIdentifier(p.Name) {
			add(ppath+".name", ErrNameInvalid, "param name %q must be a lower snake case identifier", p.Name)
		}
		if seenParams[p.Name] {
			add(ppath+".name", ErrDuplicateName, "duplicate param name: %q", p.Name)
		}
		seenParams[p.Name] = true
		if !ValidParamTypes[p.Type] {
			add(ppath+".type", ErrInvalidFieldType, "invalid type %q for param %q", p.Type, p.Name)
		}
	}
	for i, imp := range a.Impacts {
		ipath := fmt.Sprintf("%s.impacts[%d]", path, i)
		if !IsEntityName(imp.Entity) {
			add(ipath+".entity", ErrInvalidImpact, "impact entity %q must be an entity name", imp.Entity)
		}
		switch imp.Operation {
		case OpInsert, OpUpdate, OpDelete:
		default:
			add(ipath+".operation", ErrInvalidImpact, "invalid impact operation %q", imp.Operation)
		}
	}

	errs = append(errs, validateSteps(a.Steps, path+".steps")...)
	return errs
}

// validateSteps checks the structure of a step sequence recursively.
func validateSteps(steps []Step, path string) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	for i, s := range steps {
		spath := fmt.Sprintf("%s[%d]", path, i)
		if i > 0 {
			if _, ok := steps[i-1].(Return); ok {
				add(spath, ErrUnreachableStep, "%s step follows a return and can never run", s.Kind())
			}
		}

		switch v := s.(type) {
		case Validate:
			if strings.TrimSpace(v.Condition) == "" {
				add(spath+".condition", ErrStepMissingField, "validate requires a condition")
			}
			if !IsErrorCode(v.Code) {
				add(spath+".code", ErrInvalidCode, "code %q must be lower snake case", v.Code)
			}
		case Branch:
			if strings.TrimSpace(v.Condition) == "" {
				add(spath+".condition", ErrStepMissingField, "branch requires a condition")
			}
			errs = append(errs, validateSteps(v.Then, spath+".then")...)
			errs = append(errs, validateSteps(v.Else, spath+".else")...)
		case Insert:
			if v.Target == "" {
				add(spath+".target", ErrStepMissingField, "insert requires a target entity")
			}
			if len(v.Fields) == 0 {
				add(spath+".fields", ErrStepMissingField, "insert requires at least one field")
			}
			if v.Bind != "" && !IsIdentifier(v.Bind) {
				add(spath+".bind", ErrNameInvalid, "bind name %q must be a lower snake case identifier", v.Bind)
			}
		case Update:
			if v.Target == "" {
				add(spath+".target", ErrStepMissingField, "update requires a target entity")
			}
			if len(v.Fields) == 0 {
				add(spath+".fields", ErrStepMissingField, "update requires at least one field")
			}
		case Delete:
			if v.Target == "" {
				add(spath+".target", ErrStepMissingField, "delete requires a target entity")
			}
		case Call:
			if schema, fn, ok := SplitTarget(v.Function); !ok || !IsIdentifier(schema) || !IsIdentifier(fn) {
				add(spath+".function", ErrInvalidFunctionID, "function %q must be schema.function", v.Function)
			}
			if v.Bind != "" && !IsIdentifier(v.Bind) {
				add(spath+".bind", ErrNameInvalid, "bind name %q must be a lower snake case identifier", v.Bind)
			}
			if v.BindType != "" && !ValidParamTypes[v.BindType] {
				add(spath+".bind_type", ErrInvalidFieldType, "invalid bind type %q", v.BindType)
			}
		case Notify:
			if !IsIdentifier(v.Channel) {
				add(spath+".channel", ErrNameInvalid, "channel %q must be a lower snake case identifier", v.Channel)
			}
		case Foreach:
			if !IsIdentifier(v.Var) {
				add(spath+".var", ErrNameInvalid, "loop variable %q must be a lower snake case identifier", v.Var)
			}
			if v.Collection == nil {
				add(spath+".collection", ErrStepMissingField, "foreach requires a collection")
			}
			errs = append(errs, validateSteps(v.Body, spath+".body")...)
		case Return:
		default:
			add(spath, ErrStepMissingField, "unsupported step type %T", s)
		}
	}
	return errs
}

// SplitTarget splits "A.b" into its two parts.
func SplitTarget(target string) (string, string, bool) {
	left, right, ok := strings.Cut(target, ".")
	if !ok || left == "" || right == "" || strings.Contains(right, ".") {
		return "", "", false
	}
	return left, right, true
}
