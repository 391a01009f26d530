package schema

import "fmt"

// ValidationSeverity indicates whether an issue is an error or warning.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is a single problem found in a phase list, located by path.
// Paths look like "phases[design].depends_on".
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// PhasePath builds the issue path for a field of the phase with the given ID.
// An empty field addresses the phase itself.
func PhasePath(phaseID, field string) string {
	if field == "" {
		return fmt.Sprintf("phases[%s]", phaseID)
	}
	return fmt.Sprintf("phases[%s].%s", phaseID, field)
}

// Warning builds a warning-severity issue.
func Warning(path, code, message string) ValidationIssue {
	return ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityWarning}
}

// ValidationResult aggregates all issues from a validation pass.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid returns true if there are no errors (warnings are acceptable).
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError appends an error-severity issue.
func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityError,
	})
}

// AddWarning appends a warning-severity issue.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, Warning(path, code, message))
}

// Merge combines another ValidationResult into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError converts the result to a GraphError if invalid, nil if valid.
// The first error's code is kept when it is the only one.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	code, msg := r.Errors[0].Code, r.Errors[0].Message
	if len(r.Errors) > 1 {
		code = ErrCodeValidation
		msg = fmt.Sprintf("validation failed with %d errors", len(r.Errors))
	}

	return NewError(code, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
}
