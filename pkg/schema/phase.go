package schema

// GateType controls how a phase's completion is approved.
type GateType string

const (
	GateAuto  GateType = "auto"
	GateHuman GateType = "human"
	GateSkip  GateType = "skip"
	GateAI    GateType = "ai"
)

// DefaultMaxIterations applies when neither the phase nor its template sets a limit.
const DefaultMaxIterations = 20

// Valid reports whether g is one of the known gate types.
func (g GateType) Valid() bool {
	switch g {
	case GateAuto, GateHuman, GateSkip, GateAI:
		return true
	}
	return false
}

// PhaseTemplate is the reusable definition a phase instantiates.
type PhaseTemplate struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name,omitempty" yaml:"name,omitempty"`
	Description    string   `json:"description,omitempty" yaml:"description,omitempty"`
	MaxIterations  int      `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	GateType       GateType `json:"gate_type,omitempty" yaml:"gate_type,omitempty"`
	AgentID        string   `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
	RetryFromPhase string   `json:"retry_from_phase,omitempty" yaml:"retry_from_phase,omitempty"`
}

// Phase is one configured step in a workflow. DependsOn, LoopConfig and the
// template's RetryFromPhase reference other phases by PhaseTemplateID.
type Phase struct {
	ID              string   `json:"id"`
	WorkflowID      string   `json:"workflow_id,omitempty"`
	PhaseTemplateID string   `json:"phase_template_id"`
	Sequence        int      `json:"sequence"`
	DependsOn       []string `json:"depends_on,omitempty"`
	LoopConfig      string   `json:"loop_config,omitempty"`

	MaxIterationsOverride *int     `json:"max_iterations_override,omitempty"`
	GateTypeOverride      GateType `json:"gate_type_override,omitempty"`
	AgentOverride         string   `json:"agent_override,omitempty"`

	// Set only after a human placed the node on the canvas.
	PositionX *float64 `json:"position_x,omitempty"`
	PositionY *float64 `json:"position_y,omitempty"`

	Template *PhaseTemplate `json:"template,omitempty"`
}

// StoredPosition returns the persisted canvas position, or nil unless both
// coordinates are present.
func (p *Phase) StoredPosition() *Position {
	if p.PositionX == nil || p.PositionY == nil {
		return nil
	}
	return &Position{X: *p.PositionX, Y: *p.PositionY}
}

// RetryFromPhase returns the template-level retry target, or "".
func (p *Phase) RetryFromPhase() string {
	if p.Template == nil {
		return ""
	}
	return p.Template.RetryFromPhase
}

// EffectiveMaxIterations resolves override, then template, then DefaultMaxIterations.
func (p *Phase) EffectiveMaxIterations() int {
	if p.MaxIterationsOverride != nil {
		return *p.MaxIterationsOverride
	}
	if p.Template != nil && p.Template.MaxIterations > 0 {
		return p.Template.MaxIterations
	}
	return DefaultMaxIterations
}

// EffectiveGateType resolves override, then template, then GateAuto.
func (p *Phase) EffectiveGateType() GateType {
	if p.GateTypeOverride != "" {
		return p.GateTypeOverride
	}
	if p.Template != nil && p.Template.GateType != "" {
		return p.Template.GateType
	}
	return GateAuto
}

// EffectiveAgent resolves the agent override, then the template's agent.
func (p *Phase) EffectiveAgent() string {
	if p.AgentOverride != "" {
		return p.AgentOverride
	}
	if p.Template != nil {
		return p.Template.AgentID
	}
	return ""
}

// DisplayName is the template name, falling back to the template ID.
func (p *Phase) DisplayName() string {
	if p.Template != nil && p.Template.Name != "" {
		return p.Template.Name
	}
	return p.PhaseTemplateID
}

// Position is a canvas coordinate anchored at a node's top-left corner.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
