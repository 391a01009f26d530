package schema

import (
	"encoding/json"
	"fmt"
)

// DefaultLoopIterations is used when a loop config omits max_iterations.
const DefaultLoopIterations = 3

// LoopConfig is a conditional backward jump authored on a phase. It is
// stored serialized on the phase.
type LoopConfig struct {
	Condition     string `json:"condition"`
	LoopToPhase   string `json:"loop_to_phase"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

// EffectiveMaxIterations returns MaxIterations, or DefaultLoopIterations when unset.
func (c *LoopConfig) EffectiveMaxIterations() int {
	if c.MaxIterations > 0 {
		return c.MaxIterations
	}
	return DefaultLoopIterations
}

// Label is the edge caption shown for the loop, e.g. "has_findings ×3".
func (c *LoopConfig) Label() string {
	return fmt.Sprintf("%s ×%d", c.Condition, c.EffectiveMaxIterations())
}

// ParseLoopConfig parses a serialized LoopConfig.
// Returns nil for empty or "null" input.
func ParseLoopConfig(s string) (*LoopConfig, error) {
	if s == "" || s == "null" {
		return nil, nil
	}
	var cfg LoopConfig
	if err := json.Unmarshal([]byte(s), &cfg); err != nil {
		return nil, fmt.Errorf("parse loop config: %w", err)
	}
	return &cfg, nil
}

// MarshalLoopConfig serializes a LoopConfig. Returns "" for nil.
func MarshalLoopConfig(cfg *LoopConfig) (string, error) {
	if cfg == nil {
		return "", nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal loop config: %w", err)
	}
	return string(data), nil
}
