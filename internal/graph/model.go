package graph

import "github.com/rendis/phasegraph/pkg/schema"

// NodeKind classifies a canvas node. Phases are the only kind today.
type NodeKind string

const NodeKindPhase NodeKind = "phase"

// EdgeKind tags the relationship an edge represents.
type EdgeKind string

const (
	EdgeSequential EdgeKind = "sequential"
	EdgeDependency EdgeKind = "dependency"
	EdgeLoop       EdgeKind = "loop"
	EdgeRetry      EdgeKind = "retry"
)

// EdgeKinds lists every edge kind in rendering order.
var EdgeKinds = []EdgeKind{EdgeSequential, EdgeDependency, EdgeLoop, EdgeRetry}

// InLayout reports whether edges of this kind feed the layout solver.
// Loop and retry edges point backward and would make the layered graph cyclic.
func (k EdgeKind) InLayout() bool {
	return k == EdgeSequential || k == EdgeDependency
}

// Graph is the positioned workflow graph handed to renderers.
type Graph struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
	// Warnings lists references that were dropped while building.
	// They never change Nodes or Edges.
	Warnings []schema.ValidationIssue `json:"warnings,omitempty"`
}

// Node is one phase on the canvas. Position is top-left anchored.
type Node struct {
	ID       string          `json:"id"`
	Kind     NodeKind        `json:"kind"`
	Position schema.Position `json:"position"`
	Data     NodeData        `json:"data"`

	stored *schema.Position
}

// NodeData is the display payload of a phase node.
type NodeData struct {
	PhaseID         string          `json:"phaseId"`
	PhaseTemplateID string          `json:"phaseTemplateId"`
	Name            string          `json:"name"`
	Sequence        int             `json:"sequence"`
	GateType        schema.GateType `json:"gateType"`
	MaxIterations   int             `json:"maxIterations"`
	AgentID         string          `json:"agentId,omitempty"`
	Rank            int             `json:"rank"`
	// Persisted is true when Position came from the stored coordinates.
	Persisted bool `json:"persisted"`
}

// Edge connects two nodes. Data is set only on loop edges.
type Edge struct {
	ID     string    `json:"id"`
	Source string    `json:"source"`
	Target string    `json:"target"`
	Kind   EdgeKind  `json:"kind"`
	Data   *LoopData `json:"data,omitempty"`
}

// LoopData describes a conditional backward jump.
type LoopData struct {
	Condition     string `json:"condition"`
	MaxIterations int    `json:"maxIterations"`
	Label         string `json:"label"`
}

// NodeID returns the node identifier for a phase ID.
func NodeID(phaseID string) string {
	return "phase-" + phaseID
}

// Node returns the node with the given ID, or nil.
func (g *Graph) Node(id string) *Node {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// EdgesOfKind returns the edges of one kind, in build order.
func (g *Graph) EdgesOfKind(kind EdgeKind) []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// LayoutEdges returns the sequential and dependency edges.
func (g *Graph) LayoutEdges() []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e.Kind.InLayout() {
			out = append(out, e)
		}
	}
	return out
}
