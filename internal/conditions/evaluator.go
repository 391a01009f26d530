// Package conditions evaluates the loop conditions attached to phases.
//
// A condition is either a named condition (has_findings, not_empty,
// status_needs_fix) or an expression prefixed with its engine name:
// "cel:size(findings) > 0", "expr:status == 'needs_fix'" or
// "jq:.findings | length > 0". Expressions see the variables output,
// status, findings and phase and must produce a boolean.
package conditions

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/rendis/phasegraph/pkg/schema"
)

// Named conditions.
const (
	HasFindings    = "has_findings"
	NotEmpty       = "not_empty"
	StatusNeedsFix = "status_needs_fix"
)

// Input is the phase output a condition is evaluated against.
type Input struct {
	// Phase is the phase template the output belongs to.
	Phase string
	// Output is the raw phase output, usually JSON.
	Output string
}

// Evaluator dispatches conditions to named checks or expression engines.
// It is safe for concurrent use.
type Evaluator struct {
	engines map[string]Engine
	logger  *slog.Logger
}

// NewEvaluator creates an evaluator with the CEL, Expr and GoJQ engines.
func NewEvaluator(logger *slog.Logger) (*Evaluator, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Evaluator{
		engines: map[string]Engine{
			celEngine.Name(): celEngine,
			"expr":           NewExprEngine(),
			"jq":             NewGoJQEngine(),
		},
		logger: logger,
	}, nil
}

// Names lists the named conditions.
func Names() []string {
	return []string{HasFindings, NotEmpty, StatusNeedsFix}
}

// Engines lists the expression prefixes the evaluator understands.
func (e *Evaluator) Engines() []string {
	names := make([]string, 0, len(e.engines))
	for name := range e.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check reports whether condition is a known named condition or an
// expression that compiles. It never evaluates anything.
func (e *Evaluator) Check(condition string) error {
	if engine, expression, ok := e.split(condition); ok {
		return engine.Compile(expression)
	}
	switch condition {
	case HasFindings, NotEmpty, StatusNeedsFix:
		return nil
	case "":
		return schema.NewError(schema.ErrCodeValidation, "loop condition is empty")
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "unknown loop condition %q", condition).
		WithDetails(map[string]any{"condition": condition, "named": Names(), "engines": e.Engines()})
}

// Evaluate decides whether a loop should fire for the given output.
// An empty output never fires. Named conditions treat unparseable output
// as not firing; expression conditions must return a boolean.
func (e *Evaluator) Evaluate(ctx context.Context, condition string, in Input) (bool, error) {
	if err := e.Check(condition); err != nil {
		return false, err
	}
	if in.Output == "" {
		return false, nil
	}

	if engine, expression, ok := e.split(condition); ok {
		out, err := engine.Evaluate(ctx, expression, inputVariables(in))
		if err != nil {
			return false, err
		}
		return toBool(condition, out)
	}

	switch condition {
	case HasFindings:
		var result struct {
			Findings []json.RawMessage `json:"findings"`
		}
		if err := json.Unmarshal([]byte(in.Output), &result); err != nil {
			e.logger.Warn("failed to parse findings for loop condition",
				slog.String("phase", in.Phase),
				slog.String("error", err.Error()),
			)
			return false, nil
		}
		return len(result.Findings) > 0, nil

	case NotEmpty:
		return in.Output != "{}" && in.Output != "[]", nil

	default: // StatusNeedsFix
		var result struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal([]byte(in.Output), &result); err != nil {
			return false, nil
		}
		return result.Status == "needs_fix" || result.Status == "findings", nil
	}
}

func (e *Evaluator) split(condition string) (Engine, string, bool) {
	prefix, expression, ok := strings.Cut(condition, ":")
	if !ok {
		return nil, "", false
	}
	engine, ok := e.engines[prefix]
	if !ok {
		return nil, "", false
	}
	return engine, strings.TrimSpace(expression), true
}

// inputVariables decodes the output once. Non-JSON output is exposed as a string.
func inputVariables(in Input) map[string]any {
	vars := map[string]any{VarPhase: in.Phase}

	var decoded any
	if err := json.Unmarshal([]byte(in.Output), &decoded); err != nil {
		vars[VarOutput] = in.Output
		return vars
	}
	vars[VarOutput] = decoded

	if obj, ok := decoded.(map[string]any); ok {
		if status, ok := obj["status"].(string); ok {
			vars[VarStatus] = status
		}
		if findings, ok := obj["findings"].([]any); ok {
			vars[VarFindings] = findings
		}
	}
	return vars
}

func toBool(condition string, v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case nil:
		return false, nil
	}
	return false, schema.NewErrorf(schema.ErrCodeExecution,
		"loop condition %q returned %T, want bool", condition, v).
		WithDetails(map[string]any{"condition": condition})
}
