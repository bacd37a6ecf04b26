package workflow

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrInvalidDefinition  = errors.New("invalid workflow definition")
	ErrWorkflowNotFound   = errors.New("workflow not found")
	ErrStepNotFound       = errors.New("step not found")
	ErrUnresolvedVariable = errors.New("unresolved variable reference")
	ErrSnapshotNotFound   = errors.New("snapshot not found")
	ErrResultNotFound     = errors.New("result not found")
)

// ErrorKind classifies execution errors so callers can tell "it ran
// and failed" from "the config was bad" or "it ran too long".
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindCondition  ErrorKind = "condition"
	KindExecution  ErrorKind = "execution"
	KindTimeout    ErrorKind = "timeout"
	KindCancelled  ErrorKind = "cancelled"
)

// ExecutionError is the error type the executor raises and records.
type ExecutionError struct {
	Kind    ErrorKind
	StepID  string
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	prefix := fmt.Sprintf("workflow %s error", e.Kind)
	if e.StepID != "" {
		prefix = fmt.Sprintf("%s in step %q", prefix, e.StepID)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// newValidationError wraps accumulated validation failures.
func newValidationError(message string) *ExecutionError {
	return &ExecutionError{Kind: KindValidation, Message: message}
}

func newStepError(stepID, message string, err error) *ExecutionError {
	return &ExecutionError{Kind: KindExecution, StepID: stepID, Message: message, Err: err}
}

func newConditionError(stepID, message string, err error) *ExecutionError {
	return &ExecutionError{Kind: KindCondition, StepID: stepID, Message: message, Err: err}
}

func newTimeoutError(message string) *ExecutionError {
	return &ExecutionError{Kind: KindTimeout, Message: message}
}

func newCancelledError(message string) *ExecutionError {
	return &ExecutionError{Kind: KindCancelled, Message: message}
}

// KindOf extracts the error kind, or an empty string for non-workflow
// errors.
func KindOf(err error) ErrorKind {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	return ""
}

// IsTimeout reports whether err is a workflow timeout.
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }

// IsValidation reports whether err is a pre-execution config error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
