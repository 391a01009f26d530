// Package layout computes left-to-right layered drawings of directed graphs.
//
// Solve runs a Sugiyama-style pipeline over string-identified nodes:
//  1. break cycles by reversing DFS back edges, dropping self-loops
//  2. rank nodes by longest path from the sources (Kahn's algorithm)
//  3. split edges spanning several ranks with virtual nodes
//  4. order each rank with barycenter sweeps, keeping the ordering with the
//     fewest crossings
//  5. assign coordinates: x from the rank, y from a median pull projected
//     onto the rank's order with minimum node separation
//
// Every step iterates in input order, so identical input always yields
// identical coordinates.
package layout

// Point is a node center.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a node's bounding box.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Edge is a directed connection between two node IDs.
type Edge struct {
	From string
	To   string
}

// Config controls node dimensions and spacing.
type Config struct {
	NodeSize Size
	// RankSep is the horizontal gap between adjacent ranks.
	RankSep float64
	// NodeSep is the vertical gap between adjacent nodes in a rank.
	NodeSep float64
	// Sweeps is the number of barycenter passes, alternating direction.
	Sweeps int
}

// DefaultConfig returns the phase card geometry used by the canvas.
func DefaultConfig() Config {
	return Config{
		NodeSize: Size{Width: 240, Height: 88},
		RankSep:  100,
		NodeSep:  48,
		Sweeps:   8,
	}
}

// Normalized replaces unset or negative fields with DefaultConfig values.
func (c Config) Normalized() Config {
	d := DefaultConfig()
	if c.NodeSize.Width <= 0 {
		c.NodeSize.Width = d.NodeSize.Width
	}
	if c.NodeSize.Height <= 0 {
		c.NodeSize.Height = d.NodeSize.Height
	}
	if c.RankSep < 0 {
		c.RankSep = d.RankSep
	}
	if c.NodeSep < 0 {
		c.NodeSep = d.NodeSep
	}
	if c.Sweeps <= 0 {
		c.Sweeps = d.Sweeps
	}
	return c
}

// Result holds the computed drawing.
type Result struct {
	// Centers maps every input node ID to its center point.
	Centers map[string]Point
	// Ranks maps every input node ID to its rank (column), starting at 0.
	Ranks map[string]int
	// Order lists the input node IDs of each rank from top to bottom.
	Order [][]string
	// Crossings is the number of edge crossings in the chosen ordering,
	// counted over the subdivided graph.
	Crossings int
	// Reversed lists the edges that were flipped to make the graph acyclic.
	Reversed []Edge
}

// Solve lays out nodes and edges. Duplicate node IDs are ignored after the
// first occurrence; edges with unknown endpoints, self-loops and duplicates
// are dropped. Solve never fails: cycles are broken before ranking.
func Solve(nodes []string, edges []Edge, cfg Config) *Result {
	cfg = cfg.Normalized()
	res := &Result{
		Centers: make(map[string]Point, len(nodes)),
		Ranks:   make(map[string]int, len(nodes)),
	}

	g := newLayered(nodes, cfg.NodeSize.Height)
	if len(g.verts) == 0 {
		return res
	}

	pairs := g.indexEdges(edges)
	pairs, reversed := breakCycles(len(g.verts), pairs)
	for _, p := range reversed {
		res.Reversed = append(res.Reversed, Edge{From: g.verts[p.from].id, To: g.verts[p.to].id})
	}

	g.assignRanks(pairs)
	g.subdivide(pairs)
	res.Crossings = g.order(cfg.Sweeps)
	g.assignCoordinates(cfg)

	res.Order = make([][]string, len(g.ranks))
	for r, layer := range g.ranks {
		for _, v := range layer {
			vert := g.verts[v]
			if vert.dummy {
				continue
			}
			res.Order[r] = append(res.Order[r], vert.id)
			res.Centers[vert.id] = Point{X: vert.x, Y: vert.y}
			res.Ranks[vert.id] = vert.rank
		}
	}
	return res
}
