package conditions

import "context"

// Engine compiles and evaluates one expression language.
// Three implementations: CEL (cel:), Expr (expr:) and GoJQ (jq:).
type Engine interface {
	Name() string
	// Compile checks an expression without running it. Compiled programs are cached.
	Compile(expression string) error
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Variables exposed to every expression engine.
const (
	VarOutput   = "output"
	VarStatus   = "status"
	VarFindings = "findings"
	VarPhase    = "phase"
)

// variables returns the evaluation data with every variable present.
func variables(data map[string]any) map[string]any {
	out := map[string]any{
		VarOutput:   nil,
		VarStatus:   "",
		VarFindings: []any{},
		VarPhase:    "",
	}
	for k, v := range data {
		if v != nil {
			out[k] = v
		}
	}
	return out
}
