package graph

import (
	"github.com/rendis/phasegraph/internal/layout"
	"github.com/rendis/phasegraph/pkg/schema"
)

// ComputeLayout runs the layered solver over every node and the
// layout-eligible edges. Centers in the result are center-anchored.
func ComputeLayout(g *Graph, cfg layout.Config) *layout.Result {
	ids := make([]string, len(g.Nodes))
	for i, n := range g.Nodes {
		ids[i] = n.ID
	}
	var edges []layout.Edge
	for _, e := range g.LayoutEdges() {
		edges = append(edges, layout.Edge{From: e.Source, To: e.Target})
	}
	return layout.Solve(ids, edges, cfg)
}

// Resolve picks a node's position: the stored one verbatim when present,
// otherwise the computed center converted to a top-left anchor.
func Resolve(stored *schema.Position, center layout.Point, size layout.Size) schema.Position {
	if stored != nil {
		return *stored
	}
	return schema.Position{
		X: center.X - size.Width/2,
		Y: center.Y - size.Height/2,
	}
}

// ResolvePositions assigns every node its final position, deciding stored
// versus computed independently per node, and records its rank.
func ResolvePositions(g *Graph, res *layout.Result, size layout.Size) {
	for _, n := range g.Nodes {
		n.Position = Resolve(n.stored, res.Centers[n.ID], size)
		n.Data.Persisted = n.stored != nil
		n.Data.Rank = res.Ranks[n.ID]
	}
}
