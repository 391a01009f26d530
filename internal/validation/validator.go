package validation

import "github.com/rendis/phasegraph/pkg/schema"

// Validator checks workflow documents and phase lists before they are
// stored or drawn.
type Validator interface {
	Decode(data []byte, format Format) (*schema.Document, error)
	Validate(phases []*schema.Phase) *schema.ValidationResult
}

// ConditionChecker reports whether a loop condition is understood.
type ConditionChecker interface {
	Check(condition string) error
}
