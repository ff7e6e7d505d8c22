package ir

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result codes produced by generated code outside declared validations.
const (
	CodeSuccess              = "success"
	CodeInvalidInput         = "invalid_input"
	CodeDuplicateKey         = "duplicate_key"
	CodeInvalidReference     = "invalid_reference"
	CodeRequiredFieldMissing = "required_field_missing"
	CodeConstraintViolation  = "constraint_violation"
	CodeCascadeFailed        = "cascade_failed"
	CodeInternalError        = "internal_error"
)

// NotFoundCode is the result code for a failed resolution of a reference field.
func NotFoundCode(field string) string {
	return field + "_not_found"
}

// MutationResult is the uniform outcome of every generated action.
// It mirrors the app.mutation_result composite type.
type MutationResult struct {
	ID      string         `json:"id,omitempty"`
	Status  string         `json:"status"`
	Code    string         `json:"code"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Impacts []Impact       `json:"impacts"`
}

// Impact records which rows of an entity an action affected.
type Impact struct {
	Entity    string    `json:"entity"`
	Operation Operation `json:"operation"`
	IDs       []string  `json:"ids"`
}

// Succeeded reports whether the result has success status.
func (r *MutationResult) Succeeded() bool {
	return r.Status == StatusSuccess
}
