package layout

import "sort"

// order reduces edge crossings with alternating barycenter sweeps and keeps
// the best ordering seen. It returns the crossing count of that ordering.
func (g *layered) order(sweeps int) int {
	best := cloneLayers(g.ranks)
	bestCross := g.crossings()

	for i := 0; i < sweeps && bestCross > 0; i++ {
		if i%2 == 0 {
			for r := 1; r < len(g.ranks); r++ {
				g.reorder(r, true)
			}
		} else {
			for r := len(g.ranks) - 2; r >= 0; r-- {
				g.reorder(r, false)
			}
		}
		if c := g.crossings(); c < bestCross {
			best = cloneLayers(g.ranks)
			bestCross = c
		}
	}

	g.ranks = best
	g.updateOrder()
	return bestCross
}

// reorder sorts rank r by the mean position of each vertex's neighbors in the
// adjacent rank (above when fromUp, below otherwise). Vertices without such
// neighbors keep their slot; the rest are stably sorted into the remaining
// slots.
func (g *layered) reorder(r int, fromUp bool) {
	layer := g.ranks[r]

	type entry struct {
		v    int
		bary float64
	}
	var movable []entry
	var slots []int
	for i, v := range layer {
		nbrs := g.verts[v].down
		if fromUp {
			nbrs = g.verts[v].up
		}
		if len(nbrs) == 0 {
			continue
		}
		sum := 0
		for _, n := range nbrs {
			sum += g.verts[n].order
		}
		movable = append(movable, entry{v: v, bary: float64(sum) / float64(len(nbrs))})
		slots = append(slots, i)
	}

	sort.SliceStable(movable, func(i, j int) bool {
		return movable[i].bary < movable[j].bary
	})
	for i, slot := range slots {
		layer[slot] = movable[i].v
	}
	for i, v := range layer {
		g.verts[v].order = i
	}
}

// crossings sums the crossings between every pair of adjacent ranks.
func (g *layered) crossings() int {
	total := 0
	for r := 0; r+1 < len(g.ranks); r++ {
		total += g.layerCrossings(g.ranks[r], g.ranks[r+1])
	}
	return total
}

// layerCrossings counts crossings between two adjacent ranks as inversions of
// target positions, using a Fenwick tree. Two edges (u1,v1) and (u2,v2) cross
// iff pos(u1) < pos(u2) and pos(v1) > pos(v2).
func (g *layered) layerCrossings(upper, lower []int) int {
	if len(upper) == 0 || len(lower) == 0 {
		return 0
	}

	type edge struct{ upper, lower int }
	var edges []edge
	for i, v := range upper {
		for _, child := range g.verts[v].down {
			edges = append(edges, edge{i, g.verts[child].order})
		}
	}
	if len(edges) < 2 {
		return 0
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].upper != edges[j].upper {
			return edges[i].upper < edges[j].upper
		}
		return edges[i].lower < edges[j].lower
	})

	fenwick := make([]int, len(lower)+1)
	crossings, total := 0, 0
	for _, e := range edges {
		lessOrEqual := 0
		for q := e.lower + 1; q > 0; q -= q & (-q) {
			lessOrEqual += fenwick[q]
		}
		crossings += total - lessOrEqual

		total++
		for q := e.lower + 1; q <= len(lower); q += q & (-q) {
			fenwick[q]++
		}
	}
	return crossings
}
