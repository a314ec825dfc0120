package harness

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every assertion held.
	Pass bool `json:"pass"`

	// Errors contains assertion failure messages. Empty if Pass.
	Errors []string `json:"errors,omitempty"`

	// States maps replica name to its canonical JSON document state.
	States map[string]string `json:"states"`

	// Hashes maps replica name to its content hash.
	Hashes map[string]string `json:"hashes"`

	// Converged reports whether every replica ended on the same hash.
	Converged bool `json:"converged"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
		States: make(map[string]string),
		Hashes: make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
