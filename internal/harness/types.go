package harness

import (
	"github.com/roach88/pmc/internal/driver"
)

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Codes lists the diagnostic codes reported by a failed lowering, in
	// program order.
	Codes []string `json:"codes,omitempty"`

	// Output is the lowering result. Nil when lowering failed.
	Output *driver.Output `json:"output,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
