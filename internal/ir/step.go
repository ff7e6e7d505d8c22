package ir

import "encoding/json"

// StepKind tags a Step variant.
type StepKind string

// Step kinds.
const (
	KindValidate StepKind = "validate"
	KindBranch   StepKind = "branch"
	KindInsert   StepKind = "insert"
	KindUpdate   StepKind = "update"
	KindDelete   StepKind = "delete"
	KindCall     StepKind = "call"
	KindNotify   StepKind = "notify"
	KindForeach  StepKind = "foreach"
	KindReturn   StepKind = "return"
)

// Step is one operation of an action.
//
// This is a sealed interface - only the variants in this package implement
// it. Compilers must switch over every variant; a new kind is added here
// and then fails loudly in every switch that does not handle it.
//
// Expressions (conditions, values, filters) are source strings in CEL syntax.
// They are checked and lowered by the compiler, never here.
type Step interface {
	Kind() StepKind
	step() // Marker method - seals interface to this package
}

// Assignment sets one field of a target entity to an expression.
type Assignment struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Validate fails the action with Code when Condition is false.
type Validate struct {
	Condition string `json:"condition"`
	Code      string `json:"code"`
	Message   string `json:"message,omitempty"`
}

// Branch runs Then when Condition holds and Else otherwise.
// Each arm is its own scope; bindings never leak out of an arm.
type Branch struct {
	Condition string `json:"condition"`
	Then      []Step `json:"then"`
	Else      []Step `json:"else,omitempty"`
}

// Insert creates one row of Target. When Bind is set the new row is
// available to later steps under that name.
type Insert struct {
	Target string       `json:"target"`
	Fields []Assignment `json:"fields"`
	Bind   string       `json:"bind,omitempty"`
}

// Update changes rows of Target. Without a filter it updates the action's
// own row; with a filter it updates every matching row.
type Update struct {
	Target string       `json:"target"`
	Fields []Assignment `json:"fields"`
	Filter string       `json:"filter,omitempty"`
}

// Delete removes rows of Target, softly when the entity declares soft_delete.
// Without a filter it deletes the action's own row.
type Delete struct {
	Target string `json:"target"`
	Filter string `json:"filter,omitempty"`
}

// Call invokes a database function directly. A bound result enters scope
// under Bind with type BindType (jsonb when empty).
type Call struct {
	Function string    `json:"function"` // "schema.function"
	Args     []string  `json:"args,omitempty"`
	Bind     string    `json:"bind,omitempty"`
	BindType FieldType `json:"bind_type,omitempty"`
}

// Notify emits a best-effort event on Channel.
type Notify struct {
	Channel string            `json:"channel"`
	Payload map[string]string `json:"payload,omitempty"` // key -> expression
}

// Foreach runs Body once per element of Collection, bound to Var.
type Foreach struct {
	Var        string     `json:"var"`
	Collection Collection `json:"collection"`
	Body       []Step     `json:"body"`
}

// Return ends the action successfully with Expression as its data.
// An empty Expression returns the primary row.
type Return struct {
	Expression string `json:"expression,omitempty"`
}

func (Validate) Kind() StepKind { return KindValidate }
func (Branch) Kind() StepKind   { return KindBranch }
func (Insert) Kind() StepKind   { return KindInsert }
func (Update) Kind() StepKind   { return KindUpdate }
func (Delete) Kind() StepKind   { return KindDelete }
func (Call) Kind() StepKind     { return KindCall }
func (Notify) Kind() StepKind   { return KindNotify }
func (Foreach) Kind() StepKind  { return KindForeach }
func (Return) Kind() StepKind   { return KindReturn }

func (Validate) step() {}
func (Branch) step()   {}
func (Insert) step()   {}
func (Update) step()   {}
func (Delete) step()   {}
func (Call) step()     {}
func (Notify) step()   {}
func (Foreach) step()  {}
func (Return) step()   {}

// Collection is what a Foreach iterates over.
//
// This is a sealed interface:
//   - RelatedRows: rows of another entity referencing the action's own row
//   - QueryRows: rows of an entity matching field equalities
//   - InputList: elements of a jsonb array parameter
type Collection interface {
	collection() // Marker method - seals interface to this package
}

// RelatedRows iterates rows of Entity whose Via reference points at the
// action's own row. Via is inferred when Entity has exactly one such field.
type RelatedRows struct {
	Entity string `json:"entity"`
	Via    string `json:"via,omitempty"`
}

// QueryRows iterates rows of Entity where every Where field equals its expression.
type QueryRows struct {
	Entity string            `json:"entity"`
	Where  map[string]string `json:"where,omitempty"`
}

// InputList iterates the elements of a jsonb array parameter.
type InputList struct {
	Param string `json:"param"`
}

func (RelatedRows) collection() {}
func (QueryRows) collection()   {}
func (InputList) collection()   {}

// MarshalJSON tags each variant with its kind so hashed IR stays unambiguous.
func (s Validate) MarshalJSON() ([]byte, error) {
	type plain Validate
	return marshalTagged("kind", string(KindValidate), plain(s))
}

func (s Branch) MarshalJSON() ([]byte, error) {
	type plain Branch
	return marshalTagged("kind", string(KindBranch), plain(s))
}

func (s Insert) MarshalJSON() ([]byte, error) {
	type plain Insert
	return marshalTagged("kind", string(KindInsert), plain(s))
}

func (s Update) MarshalJSON() ([]byte, error) {
	type plain Update
	return marshalTagged("kind", string(KindUpdate), plain(s))
}

func (s Delete) MarshalJSON() ([]byte, error) {
	type plain Delete
	return marshalTagged("kind", string(KindDelete), plain(s))
}

func (s Call) MarshalJSON() ([]byte, error) {
	type plain Call
	return marshalTagged("kind", string(KindCall), plain(s))
}

func (s Notify) MarshalJSON() ([]byte, error) {
	type plain Notify
	return marshalTagged("kind", string(KindNotify), plain(s))
}

func (s Foreach) MarshalJSON() ([]byte, error) {
	type plain Foreach
	return marshalTagged("kind", string(KindForeach), plain(s))
}

func (s Return) MarshalJSON() ([]byte, error) {
	type plain Return
	return marshalTagged("kind", string(KindReturn), plain(s))
}

func (c RelatedRows) MarshalJSON() ([]byte, error) {
	type plain RelatedRows
	return marshalTagged("source", "related", plain(c))
}

func (c QueryRows) MarshalJSON() ([]byte, error) {
	type plain QueryRows
	return marshalTagged("source", "query", plain(c))
}

func (c InputList) MarshalJSON() ([]byte, error) {
	type plain InputList
	return marshalTagged("source", "input", plain(c))
}

// marshalTagged marshals v as an object with one extra tag member.
func marshalTagged(tagKey, tag string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	tagBytes, err := json.Marshal(tag)
	if err != nil {
		return nil, err
	}
	fields[tagKey] = tagBytes
	return json.Marshal(fields) // encoding/json sorts map keys
}

// WalkSteps calls fn for every step in steps, depth first, in declaration order.
// Nested arms and loop bodies are visited after their parent step.
func WalkSteps(steps []Step, fn func(Step)) {
	for _, s := range steps {
		fn(s)
		switch v := s.(type) {
		case Branch:
			WalkSteps(v.Then, fn)
			WalkSteps(v.Else, fn)
		case Foreach:
			WalkSteps(v.Body, fn)
		}
	}
}
