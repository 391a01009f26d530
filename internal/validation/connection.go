package validation

import (
	"slices"

	"github.com/rendis/phasegraph/pkg/schema"
)

// ValidateConnection checks whether target may gain a dependency on source.
// Both are phase template IDs. It rejects self-connections, unknown phases,
// dependencies that already exist and dependencies that would close a cycle.
func ValidateConnection(phases []*schema.Phase, source, target string) error {
	if source == target {
		return schema.NewErrorf(schema.ErrCodeSelfConnection,
			"phase %q cannot depend on itself", source).
			WithDetails(map[string]any{"source": source, "target": target})
	}

	var targetPhase *schema.Phase
	found := false
	for _, p := range phases {
		if p == nil {
			continue
		}
		switch p.PhaseTemplateID {
		case source:
			found = true
		case target:
			targetPhase = p
		}
	}
	if !found {
		return schema.NewErrorf(schema.ErrCodeNotFound, "phase %q not found", source).
			WithDetails(map[string]any{"phase_template_id": source})
	}
	if targetPhase == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "phase %q not found", target).
			WithDetails(map[string]any{"phase_template_id": target})
	}

	if slices.Contains(targetPhase.DependsOn, source) {
		return schema.NewErrorf(schema.ErrCodeDuplicateConnection,
			"phase %q already depends on %q", target, source).
			WithPhase(targetPhase.ID)
	}

	// source -> target closes a cycle when source is already downstream of target.
	if newDependencyGraph(phases).reaches(target, source) {
		return schema.NewErrorf(schema.ErrCodeCycleDetected,
			"connecting %q to %q would create a cycle", source, target).
			WithPhase(targetPhase.ID).
			WithDetails(map[string]any{"source": source, "target": target})
	}
	return nil
}

// Disconnect returns target's dependency list without source. It fails with
// NOT_FOUND when the dependency does not exist.
func Disconnect(phases []*schema.Phase, source, target string) ([]string, error) {
	for _, p := range phases {
		if p == nil || p.PhaseTemplateID != target {
			continue
		}
		if !slices.Contains(p.DependsOn, source) {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound,
				"phase %q does not depend on %q", target, source).WithPhase(p.ID)
		}
		deps := make([]string, 0, len(p.DependsOn))
		for _, d := range p.DependsOn {
			if d != source {
				deps = append(deps, d)
			}
		}
		return deps, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "phase %q not found", target)
}
