package ir

// FieldType is the declared storage type of an entity field or action parameter.
type FieldType string

// Supported field types.
const (
	TypeText      FieldType = "text"
	TypeInteger   FieldType = "integer"
	TypeBigint    FieldType = "bigint"
	TypeNumeric   FieldType = "numeric"
	TypeBoolean   FieldType = "boolean"
	TypeDate      FieldType = "date"
	TypeTimestamp FieldType = "timestamp"
	TypeUUID      FieldType = "uuid"
	TypeJSONB     FieldType = "jsonb"
	TypeEmail     FieldType = "email"
	TypeEnum      FieldType = "enum"
	TypeRef       FieldType = "ref" // stored as fk_<field> INTEGER
)

// ValidFieldTypes defines the allowed entity field types.
var ValidFieldTypes = map[FieldType]bool{
	TypeText:      true,
	TypeInteger:   true,
	TypeBigint:    true,
	TypeNumeric:   true,
	TypeBoolean:   true,
	TypeDate:      true,
	TypeTimestamp: true,
	TypeUUID:      true,
	TypeJSONB:     true,
	TypeEmail:     true,
	TypeEnum:      true,
	TypeRef:       true,
}

// ValidParamTypes defines the allowed action parameter types.
// Parameters carry external values only, so ref is not allowed: pass the
// referenced row's UUID and let the mutation resolve it.
var ValidParamTypes = map[FieldType]bool{
	TypeText:      true,
	TypeInteger:   true,
	TypeBigint:    true,
	TypeNumeric:   true,
	TypeBoolean:   true,
	TypeDate:      true,
	TypeTimestamp: true,
	TypeUUID:      true,
	TypeJSONB:     true,
	TypeEmail:     true,
	TypeEnum:      true,
}

// Model is the complete set of entities compiled together.
type Model struct {
	Entities []EntityDefinition `json:"entities"`
}

// Entity returns the entity with the given name, or nil.
func (m *Model) Entity(name string) *EntityDefinition {
	for i := range m.Entities {
		if m.Entities[i].Name == name {
			return &m.Entities[i]
		}
	}
	return nil
}

// EntityDefinition is a business object with persisted fields.
type EntityDefinition struct {
	Name         string            `json:"name"`   // "Contact"
	Schema       string            `json:"schema"` // "crm"
	Description  string            `json:"description,omitempty"`
	TenantScoped bool              `json:"tenant_scoped,omitempty"`
	SoftDelete   bool              `json:"soft_delete,omitempty"`
	Fields       []FieldDefinition `json:"fields"`
	Actions      []ActionSpec      `json:"actions"`
	Cascades     []CascadeRule     `json:"cascades,omitempty"`
}

// Field returns the field with the given name, or nil.
func (e *EntityDefinition) Field(name string) *FieldDefinition {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i]
		}
	}
	return nil
}

// Action returns the action with the given name, or nil.
func (e *EntityDefinition) Action(name string) *ActionSpec {
	for i := range e.Actions {
		if e.Actions[i].Name == name {
			return &e.Actions[i]
		}
	}
	return nil
}

// FieldDefinition is one attribute of an entity.
type FieldDefinition struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Nullable bool      `json:"nullable,omitempty"`
	Ref      string    `json:"ref,omitempty"`    // referenced entity for ref fields
	Values   []string  `json:"values,omitempty"` // closed value set for enum fields
}

// IsRef reports whether the field references another entity.
func (f FieldDefinition) IsRef() bool {
	return f.Type == TypeRef
}

// Param is one named input of an action.
type Param struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Nullable bool      `json:"nullable,omitempty"`
}

// Operation is a kind of row mutation recorded as an impact.
type Operation string

// Row operations.
const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ImpactDecl declares that an action may mutate rows of an entity.
type ImpactDecl struct {
	Entity    string    `json:"entity"`
	Operation Operation `json:"operation"`
}

// ActionSpec is one named business operation.
// One ActionSpec compiles to exactly one wrapper and one core function.
type ActionSpec struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Params      []Param      `json:"params,omitempty"`
	Steps       []Step       `json:"steps"`
	Impacts     []ImpactDecl `json:"impacts,omitempty"`
}

// Param returns the parameter with the given name, or nil.
func (a *ActionSpec) Param(name string) *Param {
	for i := range a.Params {
		if a.Params[i].Name == name {
			return &a.Params[i]
		}
	}
	return nil
}

// Trigger is the mutation point a cascade rule reacts to.
type Trigger string

// Cascade trigger points.
const (
	AfterCreate Trigger = "after_create"
	AfterUpdate Trigger = "after_update"
	AfterDelete Trigger = "after_delete"
)

// TriggerFor maps a row operation to the cascade trigger it fires.
func TriggerFor(op Operation) Trigger {
	switch op {
	case OpInsert:
		return AfterCreate
	case OpDelete:
		return AfterDelete
	default:
		return AfterUpdate
	}
}

// CascadeScope selects which row a cascade call runs against.
type CascadeScope string

// Cascade scopes, in execution order.
const (
	ScopeSelf    CascadeScope = "self"
	ScopeParent  CascadeScope = "parent"
	ScopeRelated CascadeScope = "related"
)

// FailurePolicy decides what a cascade failure does to the action.
type FailurePolicy string

// Cascade failure policies.
const (
	PolicyPropagate FailurePolicy = "propagate"
	PolicyIgnore    FailurePolicy = "ignore"
)

// CascadeRule is a post-mutation side effect declared on an entity.
//
// Target is either "Entity.action" (a compiled core of this model) or
// "schema.function" (an external function with the cascade contract).
// Via names the reference field that links the two rows: on the declaring
// entity for scope parent, on the related entity for scope related.
type CascadeRule struct {
	Name    string            `json:"name"`
	Trigger Trigger           `json:"trigger"`
	Scope   CascadeScope      `json:"scope"`
	Entity  string            `json:"entity,omitempty"` // related entity (scope related)
	Via     string            `json:"via,omitempty"`
	Target  string            `json:"target"`
	Params  map[string]string `json:"params,omitempty"` // name -> expression
	Policy  FailurePolicy     `json:"policy"`
}
