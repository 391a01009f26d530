package store

import (
	"time"

	"github.com/rendis/phasegraph/pkg/schema"
)

// LayoutRevision is a snapshot of a workflow's saved positions, keyed by
// phase template ID. An empty Positions map is a reset.
type LayoutRevision struct {
	ID         string                     `json:"id"`
	WorkflowID string                     `json:"workflow_id"`
	Positions  map[string]schema.Position `json:"positions"`
	Reason     string                     `json:"reason"`
	CreatedAt  time.Time                  `json:"created_at"`
}

// Revision reasons.
const (
	ReasonSave    = "save"
	ReasonReset   = "reset"
	ReasonRestore = "restore"
	ReasonImport  = "import"
)

// WorkflowFilter controls workflow listing queries.
type WorkflowFilter struct {
	Builtin *bool
	Limit   int
	Offset  int
}
