package errors

import (
	stderrors "errors"
	"fmt"
)

// Error type constants
const (
	ValidationError      = "VALIDATION_ERROR"
	PreconditionFailed   = "PRECONDITION_FAILED"
	DuplicateOperation   = "DUPLICATE_OPERATION"
	UnknownOperation     = "UNKNOWN_OPERATION"
	MissingWhenEvaluator = "MISSING_WHEN_EVALUATOR"
	HandlerError         = "HANDLER_ERROR"
	GuardFailed          = "GUARD_FAILED"
	Transient            = "TRANSIENT"
	Timeout              = "TIMEOUT"
)

// Sentinels for errors.Is matching against a *RunError of the same type.
var (
	ErrDuplicateOperation   = stderrors.New("duplicate operation")
	ErrUnknownOperation     = stderrors.New("unknown operation")
	ErrMissingWhenEvaluator = stderrors.New("missing when evaluator")
	ErrHandler              = stderrors.New("handler error")
	ErrValidation           = stderrors.New("validation error")
)

var sentinels = map[string]error{
	DuplicateOperation:   ErrDuplicateOperation,
	UnknownOperation:     ErrUnknownOperation,
	MissingWhenEvaluator: ErrMissingWhenEvaluator,
	HandlerError:         ErrHandler,
	ValidationError:      ErrValidation,
}

// RunError is a structured error for agent consumption.
type RunError struct {
	Type      string `json:"type"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	StepID    string `json:"step_id,omitempty"`
	Op        string `json:"op,omitempty"`
	Retryable bool   `json:"retryable"`
	Hint      string `json:"hint,omitempty"`
}

func (e *RunError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Type, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Is reports whether target is the sentinel for e's type.
func (e *RunError) Is(target error) bool {
	s, ok := sentinels[e.Type]
	return ok && s == target
}

func NewValidationError(msg, hint string) *RunError {
	return &RunError{Type: ValidationError, Message: msg, Hint: hint}
}

func NewDuplicateOperation(name string) *RunError {
	return &RunError{
		Type:    DuplicateOperation,
		Op:      name,
		Message: fmt.Sprintf("operation %q is already registered", name),
		Hint:    "Register with the override option to replace an existing handler",
	}
}

func NewUnknownOperation(name string) *RunError {
	return &RunError{
		Type:    UnknownOperation,
		Op:      name,
		Message: fmt.Sprintf("unknown operation %q", name),
	}
}

func NewMissingWhenEvaluator(stepID, expr string) *RunError {
	return &RunError{
		Type:    MissingWhenEvaluator,
		StepID:  stepID,
		Message: fmt.Sprintf("guard %q needs a when evaluator but none is configured", expr),
		Hint:    "Call SetWhenEvaluator or pass --evaluator",
	}
}

// FromHandler converts an error returned by a handler into a HANDLER_ERROR.
// A *RunError in the chain contributes its code, message and hint.
func FromHandler(stepID, op string, err error) *RunError {
	out := &RunError{Type: HandlerError, StepID: stepID, Op: op, Message: err.Error()}
	var re *RunError
	if stderrors.As(err, &re) {
		out.Code = re.Code
		if out.Code == "" && re.Type != HandlerError {
			out.Code = re.Type
		}
		out.Message = re.Message
		out.Hint = re.Hint
		out.Retryable = re.Retryable
	}
	return out
}
