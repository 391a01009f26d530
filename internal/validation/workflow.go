package validation

import (
	"fmt"
	"strings"

	"github.com/rendis/phasegraph/pkg/schema"
)

// WorkflowValidator orchestrates the validation pipeline:
// 1. Structural (JSON Schema), for documents
// 2. Shape (ids and join keys)
// 3. References (dependencies, loop targets, retry targets, conditions)
// 4. Dependency cycles
type WorkflowValidator struct {
	documents  *DocumentValidator
	conditions ConditionChecker
}

// NewWorkflowValidator creates a WorkflowValidator.
// checker may be nil to skip loop condition checks.
func NewWorkflowValidator(checker ConditionChecker) (*WorkflowValidator, error) {
	dv, err := NewDocumentValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{documents: dv, conditions: checker}, nil
}

// Decode parses and validates the shape of a document. See DocumentValidator.Decode.
func (wv *WorkflowValidator) Decode(data []byte, format Format) (*schema.Document, error) {
	return wv.documents.Decode(data, format)
}

// Validate runs the shape, reference and cycle stages over a phase list.
func (wv *WorkflowValidator) Validate(phases []*schema.Phase) *schema.ValidationResult {
	return ValidateWorkflow(phases, wv.conditions)
}

// ValidateDocument runs the full pipeline. Structural errors short-circuit.
func (wv *WorkflowValidator) ValidateDocument(doc *schema.Document) *schema.ValidationResult {
	result := validateStructural(wv.documents, doc)
	if !result.Valid() {
		return result
	}
	result.Merge(wv.Validate(doc.Phases))
	return result
}

var _ Validator = (*WorkflowValidator)(nil)

// ValidateWorkflow checks a phase list for broken shape, dangling
// references, invalid loop configs and dependency cycles. Shape errors
// short-circuit the later stages.
//
// Loops that jump forward and loop conditions rejected by checker are
// warnings; everything else is an error.
func ValidateWorkflow(phases []*schema.Phase, checker ConditionChecker) *schema.ValidationResult {
	result := validateShape(phases)
	if !result.Valid() {
		return result
	}

	sequence := make(map[string]int, len(phases))
	for _, p := range phases {
		sequence[p.PhaseTemplateID] = p.Sequence
	}

	for _, p := range phases {
		validateReferences(p, sequence, checker, result)
	}

	if cycled := newDependencyGraph(phases).cycleMembers(); len(cycled) > 0 {
		result.AddError("phases", schema.ErrCodeCycleDetected,
			fmt.Sprintf("cycle detected involving phases: %s", strings.Join(cycled, ", ")))
	}

	return result
}

func validateShape(phases []*schema.Phase) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	ids := make(map[string]bool, len(phases))
	templates := make(map[string]bool, len(phases))

	for i, p := range phases {
		path := fmt.Sprintf("phases[%d]", i)
		switch {
		case p == nil:
			result.AddError(path, schema.ErrCodeValidation, "phase is null")
			continue
		case p.ID == "":
			result.AddError(path+".id", schema.ErrCodeValidation, "id is required")
		case ids[p.ID]:
			result.AddError(path+".id", schema.ErrCodeValidation, fmt.Sprintf("duplicate phase id %q", p.ID))
		}
		ids[p.ID] = true

		switch {
		case p.PhaseTemplateID == "":
			result.AddError(path+".phase_template_id", schema.ErrCodeValidation, "phase_template_id is required")
		case templates[p.PhaseTemplateID]:
			result.AddError(path+".phase_template_id", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate phase_template_id %q", p.PhaseTemplateID))
		}
		templates[p.PhaseTemplateID] = true
	}
	return result
}

func validateReferences(p *schema.Phase, sequence map[string]int, checker ConditionChecker, result *schema.ValidationResult) {
	for _, dep := range p.DependsOn {
		if _, ok := sequence[dep]; !ok {
			result.AddError(schema.PhasePath(p.ID, "depends_on"), schema.WarnDanglingDependency,
				fmt.Sprintf("phase %q depends on non-existent phase %q", p.PhaseTemplateID, dep))
		}
	}

	if retry := p.RetryFromPhase(); retry != "" {
		if _, ok := sequence[retry]; !ok {
			result.AddError(schema.PhasePath(p.ID, "template.retry_from_phase"), schema.WarnDanglingRetryTarget,
				fmt.Sprintf("phase %q retries from non-existent phase %q", p.PhaseTemplateID, retry))
		}
	}

	cfg, err := schema.ParseLoopConfig(p.LoopConfig)
	if err != nil {
		result.AddError(schema.PhasePath(p.ID, "loop_config"), schema.WarnInvalidLoopConfig, err.Error())
		return
	}
	if cfg == nil {
		return
	}

	if checker != nil {
		if err := checker.Check(cfg.Condition); err != nil {
			result.AddWarning(schema.PhasePath(p.ID, "loop_config.condition"), schema.WarnUnknownLoopCondition, err.Error())
		}
	}

	target, ok := sequence[cfg.LoopToPhase]
	if !ok {
		result.AddError(schema.PhasePath(p.ID, "loop_config.loop_to_phase"), schema.WarnDanglingLoopTarget,
			fmt.Sprintf("phase %q has loop_to_phase referencing non-existent phase %q", p.PhaseTemplateID, cfg.LoopToPhase))
		return
	}
	if target >= p.Sequence {
		result.AddWarning(schema.PhasePath(p.ID, "loop_config.loop_to_phase"), schema.WarnForwardLoop,
			fmt.Sprintf("phase %q loops to %q, which does not run before it", p.PhaseTemplateID, cfg.LoopToPhase))
	}
}

// validateStructural converts DocumentValidator output into a ValidationResult.
func validateStructural(v *DocumentValidator, doc *schema.Document) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDocument(doc)
	if err == nil {
		return result
	}

	gErr, ok := err.(*schema.GraphError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if violations, ok := gErr.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", schema.ErrCodeValidation, v)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, gErr.Message)
	return result
}
