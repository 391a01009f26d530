package schema

import "time"

// Workflow groups an ordered set of phases.
// Built-in workflows are read-only: their layout cannot be changed.
type Workflow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsBuiltin   bool      `json:"is_builtin"`
	Phases      []*Phase  `json:"phases,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Document is the importable form of a workflow: its metadata, the
// templates its phases use and the phases themselves.
type Document struct {
	Workflow  *Workflow        `json:"workflow,omitempty"`
	Templates []*PhaseTemplate `json:"templates,omitempty"`
	Phases    []*Phase         `json:"phases"`
}

// JoinTemplates attaches templates to phases by PhaseTemplateID. Phases that
// already carry a template keep it.
func (d *Document) JoinTemplates() {
	byID := make(map[string]*PhaseTemplate, len(d.Templates))
	for _, t := range d.Templates {
		if t != nil {
			byID[t.ID] = t
		}
	}
	for _, p := range d.Phases {
		if p == nil || p.Template != nil {
			continue
		}
		if t, ok := byID[p.PhaseTemplateID]; ok {
			p.Template = t
		}
	}
}
