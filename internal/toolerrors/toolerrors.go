// Package toolerrors provides structured error types for the failures raised
// by tool invocation and workflow execution. ToolError preserves error chains
// and supports errors.Is/As while staying JSON-serializable for persistence
// in traces and experiment status files.
package toolerrors

import (
	"errors"
	"fmt"
)

// ToolError represents a structured failure that preserves a message and
// causal chain while still implementing the standard error interface. The
// exported Cause chain is what gets persisted in traces and status files;
// the original wrapped error is kept alongside it so errors.Is/As still see
// the sentinel kinds through the wrapper.
type ToolError struct {
	Message string     `json:"message"`
	Cause   *ToolError `json:"cause,omitempty"`

	wrapped error
}

// New constructs a ToolError with the given message.
func New(message string) *ToolError {
	if message == "" {
		message = "tool error"
	}
	return &ToolError{Message: message}
}

// NewWithCause constructs a ToolError wrapping an underlying error.
func NewWithCause(message string, cause error) *ToolError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ToolError{Message: message, Cause: FromError(cause), wrapped: cause}
}

// FromError converts an arbitrary error into a ToolError chain.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{Message: err.Error(), Cause: FromError(errors.Unwrap(err))}
}

// Errorf formats according to a format specifier and returns a ToolError.
func Errorf(format string, args ...any) *ToolError {
	return New(fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap supports errors.Is/As across the cause chain, preferring the
// original wrapped error (which still carries its sentinel identity) over
// the serializable Cause projection.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.wrapped != nil {
		return e.wrapped
	}
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Sentinel error kinds from the taxonomy (spec §7). Components compare
// against these with errors.Is, wrapping them with context as needed.
var (
	ErrUnknownTool     = errors.New("unknown tool")
	ErrValidation      = errors.New("validation error")
	ErrTemplate        = errors.New("template error")
	ErrWorkflowInvalid = errors.New("workflow invalid")
	ErrUnknownEntity   = errors.New("unknown entity")
	ErrAccessDenied    = errors.New("access denied")
	ErrOverrun         = errors.New("orchestrator overrun")
	ErrScheduler       = errors.New("scheduler error")
)

// SchedulerError reports a failure in the experiment scheduler itself (not a
// single patient's processing failure, which is recorded per-patient instead
// of raised as an error).
type SchedulerError struct {
	Experiment string
	Reason     string
}

func (e *SchedulerError) Error() string {
	return fmt.Sprintf("experiment %q: %s", e.Experiment, e.Reason)
}

func (e *SchedulerError) Is(target error) bool { return target == ErrScheduler }

// ExecutionError augments an underlying cause with the step id active when
// the failure occurred, per spec §4.2.
type ExecutionError struct {
	StepID string
	Cause  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("step %q: %s", e.StepID, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// WrapStep wraps err with the active step id, unless err is nil.
func WrapStep(stepID string, err error) error {
	if err == nil {
		return nil
	}
	return &ExecutionError{StepID: stepID, Cause: err}
}

// TemplateError reports a failure to render a templated expression.
type TemplateError struct {
	StepID string
	Expr   string
	Reason string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template error in step %q (%q): %s", e.StepID, e.Expr, e.Reason)
}

func (e *TemplateError) Is(target error) bool { return target == ErrTemplate }

// ValidationError reports a tool input that does not satisfy its schema.
type ValidationError struct {
	Tool   string
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for tool %q: %v", e.Tool, e.Issues)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
