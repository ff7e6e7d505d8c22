package harness

// Trace event types.
const (
	EventInvocation = "invocation"
	EventResult     = "result"
)

// TraceEvent is either an invocation or its result.
type TraceEvent struct {
	Type   string         `json:"type"`
	Action string         `json:"action"`
	Input  map[string]any `json:"input,omitempty"` // declared input, before expansion
	Status string         `json:"status,omitempty"`
	Code   string         `json:"code,omitempty"`
	Seq    int64          `json:"seq"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace contains all invocations and results in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Vars holds the values ${...} expanded to, including saved ids.
	Vars map[string]string `json:"vars,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Vars:   make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddInvocationTrace adds an invocation to the trace.
func (r *Result) AddInvocationTrace(action string, input map[string]any, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   EventInvocation,
		Action: action,
		Input:  input,
		Seq:    seq,
	})
}

// AddResultTrace adds a result to the trace.
func (r *Result) AddResultTrace(action, status, code string, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   EventResult,
		Action: action,
		Status: status,
		Code:   code,
		Seq:    seq,
	})
}
