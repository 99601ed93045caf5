package harness

// TraceEvent records one tick of a scenario run.
type TraceEvent struct {
	Tick uint64 `json:"tick"`

	// Elapsed is the scenario time at the tick, as a duration string.
	Elapsed string `json:"elapsed"`

	// State is the state-machine state after the tick.
	State string `json:"state"`

	// Writes holds the commands the hardware took at EXECUTE_WRITE.
	Writes map[string]any `json:"writes,omitempty"`

	// Changed holds the battery channels whose value changed at this
	// tick's freeze. Undefined values are null.
	Changed map[string]any `json:"changed,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace has one event per tick, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds expectation and assertion failures. Empty if Pass is
	// true.
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

// States returns the state after every tick with consecutive duplicates
// collapsed.
func (r *Result) States() []string {
	var out []string
	for _, ev := range r.Trace {
		if len(out) == 0 || out[len(out)-1] != ev.State {
			out = append(out, ev.State)
		}
	}
	return out
}
