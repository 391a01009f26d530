package store

import (
	"context"

	"github.com/rendis/phasegraph/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	SaveWorkflow(ctx context.Context, wf *schema.Workflow, templates []*schema.PhaseTemplate) error
	ImportWorkflow(ctx context.Context, wf *schema.Workflow, templates []*schema.PhaseTemplate) (*LayoutRevision, error)
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Phase templates
	UpsertTemplate(ctx context.Context, tpl *schema.PhaseTemplate) error
	GetTemplate(ctx context.Context, id string) (*schema.PhaseTemplate, error)
	ListTemplates(ctx context.Context) ([]*schema.PhaseTemplate, error)

	// Phases
	ListPhases(ctx context.Context, workflowID string) ([]*schema.Phase, error)
	UpdatePhaseDependencies(ctx context.Context, workflowID, phaseTemplateID string, deps []string) error

	// Layout
	SavePositions(ctx context.Context, workflowID string, positions map[string]schema.Position, reason string) (*LayoutRevision, error)
	GetLayoutRevision(ctx context.Context, id string) (*LayoutRevision, error)
	ListLayoutRevisions(ctx context.Context, workflowID string, limit int) ([]*LayoutRevision, error)
	PruneLayoutRevisions(ctx context.Context, keep int) (int64, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
