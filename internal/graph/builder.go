package graph

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/rendis/phasegraph/internal/layout"
	"github.com/rendis/phasegraph/pkg/schema"
)

// ConditionChecker reports whether a loop condition is understood.
// Rejected conditions only produce a warning; the loop edge is kept.
type ConditionChecker interface {
	Check(condition string) error
}

// Option configures Build and Structure.
type Option func(*options)

type options struct {
	checker ConditionChecker
	layout  layout.Config
	logger  *slog.Logger
}

// WithConditionChecker validates loop conditions while building.
func WithConditionChecker(c ConditionChecker) Option {
	return func(o *options) { o.checker = c }
}

// WithLayoutConfig overrides the node geometry and spacing.
func WithLayoutConfig(cfg layout.Config) Option {
	return func(o *options) { o.layout = cfg }
}

// WithLogger enables debug traces.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		layout: layout.DefaultConfig(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.layout = o.layout.Normalized()
	return o
}

// Build turns a phase list into a positioned graph: nodes and classified
// edges, a layered layout over the sequential and dependency edges, and a
// per-node choice between stored and computed positions.
//
// Dangling references drop the affected edge and add a warning. Build only
// fails when the input shape is broken (see Structure).
func Build(phases []*schema.Phase, opts ...Option) (*Graph, error) {
	o := newOptions(opts)

	g, err := structure(phases, o)
	if err != nil {
		return nil, err
	}

	res := ComputeLayout(g, o.layout)
	ResolvePositions(g, res, o.layout.NodeSize)

	o.logger.Debug("graph built",
		slog.Int("nodes", len(g.Nodes)),
		slog.Int("edges", len(g.Edges)),
		slog.Int("warnings", len(g.Warnings)),
		slog.Int("crossings", res.Crossings),
	)
	return g, nil
}

// Structure builds nodes and edges without positions.
//
// It returns a VALIDATION_ERROR when a phase is nil, lacks an id or a
// phase_template_id, or repeats another phase's id or phase_template_id.
func Structure(phases []*schema.Phase, opts ...Option) (*Graph, error) {
	return structure(phases, newOptions(opts))
}

func structure(phases []*schema.Phase, o *options) (*Graph, error) {
	if err := checkShape(phases); err != nil {
		return nil, err
	}

	sorted := make([]*schema.Phase, len(phases))
	copy(sorted, phases)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Sequence < sorted[j].Sequence
	})

	b := &builder{
		g: &Graph{
			Nodes: make([]*Node, 0, len(sorted)),
			Edges: make([]*Edge, 0, len(sorted)),
		},
		byTemplate: make(map[string]string, len(sorted)),
		checker:    o.checker,
		logger:     o.logger,
	}
	for _, p := range sorted {
		b.byTemplate[p.PhaseTemplateID] = NodeID(p.ID)
	}

	for _, p := range sorted {
		b.addNode(p)
	}
	for i := 1; i < len(sorted); i++ {
		b.addSequential(sorted[i-1], sorted[i])
	}
	for _, p := range sorted {
		b.addDependencies(p)
	}
	for _, p := range sorted {
		b.addLoop(p)
	}
	for _, p := range sorted {
		b.addRetry(p)
	}
	return b.g, nil
}

func checkShape(phases []*schema.Phase) error {
	ids := make(map[string]bool, len(phases))
	templates := make(map[string]bool, len(phases))
	for i, p := range phases {
		if p == nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "phases[%d] is null", i)
		}
		if p.ID == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "phases[%d]: id is required", i)
		}
		if p.PhaseTemplateID == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "phases[%d]: phase_template_id is required", i).
				WithPhase(p.ID)
		}
		if ids[p.ID] {
			return schema.NewErrorf(schema.ErrCodeValidation, "duplicate phase id %q", p.ID).WithPhase(p.ID)
		}
		if templates[p.PhaseTemplateID] {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"duplicate phase_template_id %q", p.PhaseTemplateID).WithPhase(p.ID)
		}
		ids[p.ID] = true
		templates[p.PhaseTemplateID] = true
	}
	return nil
}

type builder struct {
	g          *Graph
	byTemplate map[string]string
	checker    ConditionChecker
	logger     *slog.Logger
}

func (b *builder) addNode(p *schema.Phase) {
	b.g.Nodes = append(b.g.Nodes, &Node{
		ID:   NodeID(p.ID),
		Kind: NodeKindPhase,
		Data: NodeData{
			PhaseID:         p.ID,
			PhaseTemplateID: p.PhaseTemplateID,
			Name:            p.DisplayName(),
			Sequence:        p.Sequence,
			GateType:        p.EffectiveGateType(),
			MaxIterations:   p.EffectiveMaxIterations(),
			AgentID:         p.EffectiveAgent(),
		},
		stored: p.StoredPosition(),
	})
}

func (b *builder) addSequential(from, to *schema.Phase) {
	b.g.Edges = append(b.g.Edges, &Edge{
		ID:     fmt.Sprintf("seq-%s-%s", from.ID, to.ID),
		Source: NodeID(from.ID),
		Target: NodeID(to.ID),
		Kind:   EdgeSequential,
	})
}

func (b *builder) addDependencies(p *schema.Phase) {
	seen := make(map[string]bool, len(p.DependsOn))
	for _, dep := range p.DependsOn {
		if seen[dep] {
			continue
		}
		seen[dep] = true

		source, ok := b.byTemplate[dep]
		if !ok {
			b.warn(p, "depends_on", schema.WarnDanglingDependency,
				fmt.Sprintf("depends on unknown phase template %q", dep))
			continue
		}
		b.g.Edges = append(b.g.Edges, &Edge{
			ID:     fmt.Sprintf("dep-%s-%s", dep, p.PhaseTemplateID),
			Source: source,
			Target: NodeID(p.ID),
			Kind:   EdgeDependency,
		})
	}
}

func (b *builder) addLoop(p *schema.Phase) {
	cfg, err := schema.ParseLoopConfig(p.LoopConfig)
	if err != nil {
		b.warn(p, "loop_config", schema.WarnInvalidLoopConfig, err.Error())
		return
	}
	if cfg == nil {
		return
	}

	target, ok := b.byTemplate[cfg.LoopToPhase]
	if !ok {
		b.warn(p, "loop_config.loop_to_phase", schema.WarnDanglingLoopTarget,
			fmt.Sprintf("loops to unknown phase template %q", cfg.LoopToPhase))
		return
	}
	if b.checker != nil {
		if err := b.checker.Check(cfg.Condition); err != nil {
			b.warn(p, "loop_config.condition", schema.WarnUnknownLoopCondition, err.Error())
		}
	}

	b.g.Edges = append(b.g.Edges, &Edge{
		ID:     fmt.Sprintf("loop-%s-%s", p.PhaseTemplateID, cfg.LoopToPhase),
		Source: NodeID(p.ID),
		Target: target,
		Kind:   EdgeLoop,
		Data: &LoopData{
			Condition:     cfg.Condition,
			MaxIterations: cfg.EffectiveMaxIterations(),
			Label:         cfg.Label(),
		},
	})
}

func (b *builder) addRetry(p *schema.Phase) {
	retryFrom := p.RetryFromPhase()
	if retryFrom == "" {
		return
	}
	target, ok := b.byTemplate[retryFrom]
	if !ok {
		b.warn(p, "template.retry_from_phase", schema.WarnDanglingRetryTarget,
			fmt.Sprintf("retries from unknown phase template %q", retryFrom))
		return
	}
	b.g.Edges = append(b.g.Edges, &Edge{
		ID:     fmt.Sprintf("retry-%s-%s", p.PhaseTemplateID, retryFrom),
		Source: NodeID(p.ID),
		Target: target,
		Kind:   EdgeRetry,
	})
}

func (b *builder) warn(p *schema.Phase, field, code, message string) {
	b.g.Warnings = append(b.g.Warnings, schema.Warning(schema.PhasePath(p.ID, field), code, message))
	b.logger.Debug("graph warning",
		slog.String("phase_id", p.ID),
		slog.String("code", code),
		slog.String("reason", message),
	)
}
