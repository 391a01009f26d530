// Package canvas is the application service behind the workflow editor.
// It loads phases from the store, builds the positioned graph and applies
// layout and dependency edits with the checks a canvas needs.
package canvas

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rendis/phasegraph/internal/conditions"
	"github.com/rendis/phasegraph/internal/graph"
	"github.com/rendis/phasegraph/internal/layout"
	"github.com/rendis/phasegraph/internal/logging"
	"github.com/rendis/phasegraph/internal/store"
	"github.com/rendis/phasegraph/internal/validation"
	"github.com/rendis/phasegraph/pkg/schema"
)

// DefaultHistoryLimit caps LayoutHistory when the caller passes no limit.
const DefaultHistoryLimit = 20

// Config holds the service's tunables.
type Config struct {
	Layout layout.Config
}

// Service implements the canvas operations. It is safe for concurrent use.
type Service struct {
	store      store.Store
	conditions *conditions.Evaluator
	validator  *validation.WorkflowValidator
	layout     layout.Config
	logger     *slog.Logger
}

// NewService creates a Service. A zero cfg.Layout means layout.DefaultConfig
// and a nil evaluator is replaced by a new one.
func NewService(s store.Store, evaluator *conditions.Evaluator, cfg Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if evaluator == nil {
		var err error
		if evaluator, err = conditions.NewEvaluator(logger); err != nil {
			return nil, err
		}
	}
	validator, err := validation.NewWorkflowValidator(evaluator)
	if err != nil {
		return nil, err
	}
	lc := cfg.Layout
	if lc == (layout.Config{}) {
		lc = layout.DefaultConfig()
	}
	return &Service{
		store:      s,
		conditions: evaluator,
		validator:  validator,
		layout:     lc.Normalized(),
		logger:     logger,
	}, nil
}

// Graph builds the positioned graph of a stored workflow.
func (s *Service) Graph(ctx context.Context, workflowID string) (*graph.Graph, error) {
	ctx = logging.WithWorkflowID(ctx, workflowID)
	if _, err := s.store.GetWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}
	phases, err := s.store.ListPhases(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return s.build(ctx, phases)
}

// Workflows lists stored workflows.
func (s *Service) Workflows(ctx context.Context, filter store.WorkflowFilter) ([]*schema.Workflow, error) {
	workflows, err := s.store.ListWorkflows(ctx, filter)
	if err != nil {
		return nil, err
	}
	if workflows == nil {
		workflows = []*schema.Workflow{}
	}
	return workflows, nil
}

// BuildDocument builds the graph of a decoded document without storing it.
func (s *Service) BuildDocument(ctx context.Context, doc *schema.Document) (*graph.Graph, error) {
	doc.JoinTemplates()
	return s.build(ctx, doc.Phases)
}

func (s *Service) build(ctx context.Context, phases []*schema.Phase) (*graph.Graph, error) {
	g, err := graph.Build(phases,
		graph.WithConditionChecker(s.conditions),
		graph.WithLayoutConfig(s.layout),
		graph.WithLogger(logging.LogWith(ctx, s.logger)),
	)
	if err != nil {
		return nil, err
	}
	for _, w := range g.Warnings {
		s.logger.WarnContext(ctx, "dropped reference",
			slog.String("path", w.Path),
			slog.String("code", w.Code),
			slog.String("reason", w.Message),
		)
	}
	return g, nil
}

// Decode parses a JSON or YAML workflow document and validates its shape.
func (s *Service) Decode(data []byte, format validation.Format) (*schema.Document, error) {
	return s.validator.Decode(data, format)
}

// SaveLayout replaces the workflow's layout with positions, keyed by phase
// template ID. Phases missing from positions go back to computed layout.
func (s *Service) SaveLayout(ctx context.Context, workflowID string, positions map[string]schema.Position) (*store.LayoutRevision, error) {
	return s.writeLayout(ctx, workflowID, positions, store.ReasonSave)
}

// ResetLayout clears every stored position of the workflow.
func (s *Service) ResetLayout(ctx context.Context, workflowID string) (*store.LayoutRevision, error) {
	return s.writeLayout(ctx, workflowID, nil, store.ReasonReset)
}

// RestoreLayout re-applies the positions of an earlier revision.
func (s *Service) RestoreLayout(ctx context.Context, workflowID, revisionID string) (*store.LayoutRevision, error) {
	rev, err := s.store.GetLayoutRevision(ctx, revisionID)
	if err != nil {
		return nil, err
	}
	if rev.WorkflowID != workflowID {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"layout revision %q not found for workflow %q", revisionID, workflowID)
	}
	return s.writeLayout(ctx, workflowID, rev.Positions, store.ReasonRestore)
}

// LayoutHistory lists the workflow's layout revisions, newest first.
func (s *Service) LayoutHistory(ctx context.Context, workflowID string, limit int) ([]*store.LayoutRevision, error) {
	if _, err := s.store.GetWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	revs, err := s.store.ListLayoutRevisions(ctx, workflowID, limit)
	if err != nil {
		return nil, err
	}
	if revs == nil {
		revs = []*store.LayoutRevision{}
	}
	return revs, nil
}

func (s *Service) writeLayout(ctx context.Context, workflowID string, positions map[string]schema.Position, reason string) (*store.LayoutRevision, error) {
	ctx = logging.WithWorkflowID(ctx, workflowID)
	if _, err := s.editable(ctx, workflowID, "layout"); err != nil {
		return nil, err
	}
	rev, err := s.store.SavePositions(ctx, workflowID, positions, reason)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "layout saved",
		slog.String("revision_id", rev.ID),
		slog.String("reason", reason),
		slog.Int("positions", len(rev.Positions)),
	)
	return rev, nil
}

// Connect adds a dependency of target on source, both phase template IDs,
// after checking it is neither a self-connection, a duplicate nor a cycle.
// It returns the rebuilt graph.
func (s *Service) Connect(ctx context.Context, workflowID, source, target string) (*graph.Graph, error) {
	ctx = logging.WithWorkflowID(ctx, workflowID)
	if _, err := s.editable(ctx, workflowID, "dependencies"); err != nil {
		return nil, err
	}
	phases, err := s.store.ListPhases(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateConnection(phases, source, target); err != nil {
		return nil, err
	}

	var deps []string
	for _, p := range phases {
		if p.PhaseTemplateID == target {
			deps = append(append(deps, p.DependsOn...), source)
			p.DependsOn = deps
		}
	}
	if err := s.store.UpdatePhaseDependencies(ctx, workflowID, target, deps); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "phases connected", slog.String("source", source), slog.String("target", target))
	return s.build(ctx, phases)
}

// Disconnect removes target's dependency on source and returns the rebuilt graph.
func (s *Service) Disconnect(ctx context.Context, workflowID, source, target string) (*graph.Graph, error) {
	ctx = logging.WithWorkflowID(ctx, workflowID)
	if _, err := s.editable(ctx, workflowID, "dependencies"); err != nil {
		return nil, err
	}
	phases, err := s.store.ListPhases(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	deps, err := validation.Disconnect(phases, source, target)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdatePhaseDependencies(ctx, workflowID, target, deps); err != nil {
		return nil, err
	}
	for _, p := range phases {
		if p.PhaseTemplateID == target {
			p.DependsOn = deps
		}
	}
	s.logger.InfoContext(ctx, "phases disconnected", slog.String("source", source), slog.String("target", target))
	return s.build(ctx, phases)
}

// Validate checks a stored workflow's phases.
func (s *Service) Validate(ctx context.Context, workflowID string) (*schema.ValidationResult, error) {
	if _, err := s.store.GetWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}
	phases, err := s.store.ListPhases(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return s.validator.Validate(phases), nil
}

// ValidateDocument runs the full document pipeline, including the schema check.
func (s *Service) ValidateDocument(doc *schema.Document) *schema.ValidationResult {
	doc.JoinTemplates()
	return s.validator.ValidateDocument(doc)
}

// Import validates doc and stores it as a workflow, replacing any existing
// workflow with the same ID. A missing workflow ID gets a generated one.
// Built-in workflows cannot be overwritten.
func (s *Service) Import(ctx context.Context, doc *schema.Document) (*schema.Workflow, error) {
	if err := s.ValidateDocument(doc).ToError(); err != nil {
		return nil, err
	}

	wf := &schema.Workflow{}
	if doc.Workflow != nil {
		*wf = *doc.Workflow
	}
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	if wf.Name == "" {
		wf.Name = wf.ID
	}
	wf.Phases = doc.Phases
	ctx = logging.WithWorkflowID(ctx, wf.ID)

	existing, err := s.store.GetWorkflow(ctx, wf.ID)
	switch {
	case err == nil && existing.IsBuiltin:
		return nil, schema.NewErrorf(schema.ErrCodePermissionDenied,
			"cannot overwrite built-in workflow %q", wf.ID)
	case err != nil && schema.CodeOf(err) != schema.ErrCodeNotFound:
		return nil, err
	}

	templates := documentTemplates(doc)
	rev, err := s.store.ImportWorkflow(ctx, wf, templates)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "workflow imported",
		slog.Int("phases", len(doc.Phases)),
		slog.Int("templates", len(templates)),
		slog.String("revision_id", rev.ID),
	)
	return s.store.GetWorkflow(ctx, wf.ID)
}

// documentTemplates merges the document's templates with those given inline
// on phases. A template listed under templates wins over an inline one with
// the same ID. Inline templates are stored under the phase's template ID,
// since that is the key phases are joined on.
func documentTemplates(doc *schema.Document) []*schema.PhaseTemplate {
	seen := make(map[string]bool, len(doc.Templates))
	out := make([]*schema.PhaseTemplate, 0, len(doc.Templates))
	for _, t := range doc.Templates {
		if t == nil || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		out = append(out, t)
	}
	for _, p := range doc.Phases {
		if p == nil || p.Template == nil || seen[p.PhaseTemplateID] {
			continue
		}
		t := *p.Template
		t.ID = p.PhaseTemplateID
		seen[t.ID] = true
		out = append(out, &t)
	}
	return out
}

// EvaluateLoop evaluates a loop condition against a phase output.
func (s *Service) EvaluateLoop(ctx context.Context, condition string, in conditions.Input) (bool, error) {
	return s.conditions.Evaluate(logging.WithPhaseID(ctx, in.Phase), condition, in)
}

// editable loads the workflow and refuses built-in ones.
func (s *Service) editable(ctx context.Context, workflowID, what string) (*schema.Workflow, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.IsBuiltin {
		s.logger.WarnContext(ctx, "refused edit of built-in workflow", slog.String("target", what))
		return nil, schema.NewErrorf(schema.ErrCodePermissionDenied,
			"cannot modify built-in workflow %s", what).
			WithDetails(map[string]any{"workflow_id": workflowID})
	}
	return wf, nil
}
