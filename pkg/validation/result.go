// Package validation provides the shared validation result type and the
// stateless validators used before workflows execute: input sanitization,
// parameter policy checks, and reduced JSON-schema checks.
package validation

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationResult is the outcome of one validation pass. Validators
// accumulate every problem they find instead of stopping at the first,
// so a single pass surfaces the complete list to the caller.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// OK returns a passing result.
func OK() ValidationResult {
	return ValidationResult{Valid: true}
}

// Fail returns a failing result carrying the given errors.
func Fail(errs ...string) ValidationResult {
	return ValidationResult{Valid: false, Errors: errs}
}

// AddError records a problem and marks the result invalid.
func (r *ValidationResult) AddError(msg string) {
	r.Valid = false
	r.Errors = append(r.Errors, msg)
}

// AddErrorf records a formatted problem and marks the result invalid.
func (r *ValidationResult) AddErrorf(format string, args ...any) {
	r.AddError(fmt.Sprintf(format, args...))
}

// Merge folds another result into this one.
func (r *ValidationResult) Merge(other ValidationResult) {
	if !other.Valid {
		r.Valid = false
	}
	r.Errors = append(r.Errors, other.Errors...)
}

// MergePrefixed folds another result in, prefixing each of its errors.
// The workflow validator uses this to attribute step errors to step ids.
func (r *ValidationResult) MergePrefixed(prefix string, other ValidationResult) {
	if !other.Valid {
		r.Valid = false
	}
	for _, e := range other.Errors {
		r.Errors = append(r.Errors, prefix+": "+e)
	}
}

// Err returns nil for a valid result, or a single error enumerating
// every recorded problem.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	if len(r.Errors) == 0 {
		return errors.New("validation failed")
	}
	return fmt.Errorf("validation failed: %s", strings.Join(r.Errors, "; "))
}
