package layout

// vertex is a node of the working graph. Dummy vertices stand in for the
// interior points of edges spanning more than one rank.
type vertex struct {
	id     string
	dummy  bool
	height float64

	rank  int
	order int
	x, y  float64

	up   []int // neighbors in rank-1
	down []int // neighbors in rank+1
}

// pair is an edge between vertex indices.
type pair struct {
	from, to int
}

// layered is the working graph. ranks holds vertex indices per rank in
// their current top-to-bottom order.
type layered struct {
	verts []*vertex
	index map[string]int
	ranks [][]int
}

func newLayered(ids []string, height float64) *layered {
	g := &layered{
		verts: make([]*vertex, 0, len(ids)),
		index: make(map[string]int, len(ids)),
	}
	for _, id := range ids {
		if _, ok := g.index[id]; ok {
			continue
		}
		g.index[id] = len(g.verts)
		g.verts = append(g.verts, &vertex{id: id, height: height})
	}
	return g
}

// indexEdges resolves edge endpoints to vertex indices, dropping self-loops,
// duplicates and edges that reference unknown nodes.
func (g *layered) indexEdges(edges []Edge) []pair {
	seen := make(map[pair]bool, len(edges))
	out := make([]pair, 0, len(edges))
	for _, e := range edges {
		from, ok := g.index[e.From]
		if !ok {
			continue
		}
		to, ok := g.index[e.To]
		if !ok || from == to {
			continue
		}
		p := pair{from, to}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func (g *layered) addDummy(rank int) int {
	g.verts = append(g.verts, &vertex{dummy: true, rank: rank})
	return len(g.verts) - 1
}

func (g *layered) link(from, to int) {
	g.verts[from].down = append(g.verts[from].down, to)
	g.verts[to].up = append(g.verts[to].up, from)
}

// updateOrder records each vertex's position within its rank.
func (g *layered) updateOrder() {
	for _, layer := range g.ranks {
		for i, v := range layer {
			g.verts[v].order = i
		}
	}
}

func cloneLayers(layers [][]int) [][]int {
	out := make([][]int, len(layers))
	for i, l := range layers {
		out[i] = append([]int(nil), l...)
	}
	return out
}
