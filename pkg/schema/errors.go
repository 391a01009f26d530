package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeCycleDetected       = "CYCLE_DETECTED"
	ErrCodePermissionDenied    = "PERMISSION_DENIED"
	ErrCodeExecution           = "EXECUTION_ERROR"
	ErrCodeStore               = "STORE_ERROR"
	ErrCodeSelfConnection      = "SELF_CONNECTION"
	ErrCodeDuplicateConnection = "DUPLICATE_CONNECTION"
)

// Diagnostic codes attached to graph warnings and validation issues.
const (
	WarnDanglingDependency   = "DANGLING_DEPENDENCY"
	WarnDanglingLoopTarget   = "DANGLING_LOOP_TARGET"
	WarnDanglingRetryTarget  = "DANGLING_RETRY_TARGET"
	WarnInvalidLoopConfig    = "INVALID_LOOP_CONFIG"
	WarnUnknownLoopCondition = "UNKNOWN_LOOP_CONDITION"
	WarnForwardLoop          = "FORWARD_LOOP"
)

// GraphError is the structured error type returned across phasegraph packages.
type GraphError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	PhaseID string         `json:"phase_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *GraphError) Error() string {
	if e.PhaseID != "" {
		return fmt.Sprintf("[%s] phase %s: %s", e.Code, e.PhaseID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *GraphError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a GraphError with the same code.
func (e *GraphError) Is(target error) bool {
	t, ok := target.(*GraphError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new GraphError.
func NewError(code, message string) *GraphError {
	return &GraphError{Code: code, Message: message}
}

// NewErrorf creates a new GraphError with a formatted message.
func NewErrorf(code, format string, args ...any) *GraphError {
	return &GraphError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithPhase attaches a phase ID to the error.
func (e *GraphError) WithPhase(phaseID string) *GraphError {
	e.PhaseID = phaseID
	return e
}

// WithCause attaches an underlying cause.
func (e *GraphError) WithCause(err error) *GraphError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *GraphError) WithDetails(details map[string]any) *GraphError {
	e.Details = details
	return e
}

// CodeOf returns the code of err if it is (or wraps) a GraphError, or "".
func CodeOf(err error) string {
	for err != nil {
		if ge, ok := err.(*GraphError); ok {
			return ge.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
