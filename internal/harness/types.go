package harness

// TraceEvent records one append and how the engine answered it.
// Identities appear by scenario name so traces are stable across key
// derivations.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	As      string `json:"as"`
	Index   int64  `json:"index"`
	Type    string `json:"type"`
	Outcome string `json:"outcome"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every append matched its expected outcome and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every append in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event, numbering it from 1.
func (r *Result) AddTrace(as string, index int64, typ, outcome string) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:     int64(len(r.Trace) + 1),
		As:      as,
		Index:   index,
		Type:    typ,
		Outcome: outcome,
	})
}
