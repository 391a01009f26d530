package layout

// assignRanks places every vertex one rank after the deepest of its
// predecessors. Sources get rank 0. pairs must be acyclic.
func (g *layered) assignRanks(pairs []pair) {
	n := len(g.verts)
	children := make([][]int, n)
	inDegree := make([]int, n)
	for _, p := range pairs {
		children[p.from] = append(children[p.from], p.to)
		inDegree[p.to]++
	}

	queue := make([]int, 0, n)
	for v := 0; v < n; v++ {
		if inDegree[v] == 0 {
			queue = append(queue, v)
		}
	}

	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		for _, child := range children[curr] {
			if r := g.verts[curr].rank + 1; r > g.verts[child].rank {
				g.verts[child].rank = r
			}
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
}

// subdivide links every edge between adjacent ranks, inserting a chain of
// dummy vertices for edges that span more than one rank, then builds the
// initial per-rank ordering: input order first, dummies after.
func (g *layered) subdivide(pairs []pair) {
	for _, p := range pairs {
		from, to := g.verts[p.from].rank, g.verts[p.to].rank
		prev := p.from
		for r := from + 1; r < to; r++ {
			d := g.addDummy(r)
			g.link(prev, d)
			prev = d
		}
		g.link(prev, p.to)
	}

	maxRank := 0
	for _, v := range g.verts {
		if v.rank > maxRank {
			maxRank = v.rank
		}
	}
	g.ranks = make([][]int, maxRank+1)
	for i, v := range g.verts {
		g.ranks[v.rank] = append(g.ranks[v.rank], i)
	}
	g.updateOrder()
}
