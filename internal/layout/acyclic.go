package layout

const (
	white = iota
	gray
	black
)

// breakCycles reverses every DFS back edge so the remaining graph is acyclic.
// Vertices and edges are visited in input order. It returns the rewritten
// edge list, deduplicated, and the original edges that were reversed.
func breakCycles(n int, pairs []pair) ([]pair, []pair) {
	out := make([][]int, n)
	for i, p := range pairs {
		out[p.from] = append(out[p.from], i)
	}

	state := make([]int, n)
	back := make([]bool, len(pairs))

	var visit func(v int)
	visit = func(v int) {
		state[v] = gray
		for _, ei := range out[v] {
			switch t := pairs[ei].to; state[t] {
			case gray:
				back[ei] = true
			case white:
				visit(t)
			}
		}
		state[v] = black
	}
	for v := 0; v < n; v++ {
		if state[v] == white {
			visit(v)
		}
	}

	var reversed []pair
	seen := make(map[pair]bool, len(pairs))
	result := make([]pair, 0, len(pairs))
	for i, p := range pairs {
		if back[i] {
			reversed = append(reversed, p)
			p = pair{from: p.to, to: p.from}
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		result = append(result, p)
	}
	return result, reversed
}
