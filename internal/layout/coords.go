package layout

import (
	"math"
	"sort"
)

// coordPasses is the number of down+up alignment rounds.
const coordPasses = 4

// assignCoordinates places rank r at x = r*(width+rankSep) + width/2 and
// distributes each rank vertically, pulling vertices toward the median of
// their neighbors while keeping order and separation. The result is shifted
// so the topmost real node touches y = 0.
func (g *layered) assignCoordinates(cfg Config) {
	column := cfg.NodeSize.Width + cfg.RankSep
	for _, v := range g.verts {
		v.x = float64(v.rank)*column + cfg.NodeSize.Width/2
	}

	for _, layer := range g.ranks {
		g.pack(layer, cfg.NodeSep)
	}
	for i := 0; i < coordPasses; i++ {
		for r := 1; r < len(g.ranks); r++ {
			g.align(g.ranks[r], true, cfg.NodeSep)
		}
		for r := len(g.ranks) - 2; r >= 0; r-- {
			g.align(g.ranks[r], false, cfg.NodeSep)
		}
	}

	top := math.Inf(1)
	for _, v := range g.verts {
		if !v.dummy {
			top = math.Min(top, v.y-v.height/2)
		}
	}
	for _, v := range g.verts {
		v.y -= top
	}
}

// gap is the minimum center distance between two vertically adjacent vertices.
func (g *layered) gap(a, b int, sep float64) float64 {
	return (g.verts[a].height+g.verts[b].height)/2 + sep
}

// pack stacks a rank tightly and centers it on y = 0.
func (g *layered) pack(layer []int, sep float64) {
	if len(layer) == 0 {
		return
	}
	y := 0.0
	for i, v := range layer {
		if i > 0 {
			y += g.gap(layer[i-1], v, sep)
		}
		g.verts[v].y = y
	}
	mid := y / 2
	for _, v := range layer {
		g.verts[v].y -= mid
	}
}

// align moves every vertex of a rank toward the median y of its neighbors in
// the rank above (fromUp) or below.
func (g *layered) align(layer []int, fromUp bool, sep float64) {
	desired := make([]float64, len(layer))
	for i, v := range layer {
		nbrs := g.verts[v].down
		if fromUp {
			nbrs = g.verts[v].up
		}
		if len(nbrs) == 0 {
			desired[i] = g.verts[v].y
			continue
		}
		ys := make([]float64, len(nbrs))
		for j, n := range nbrs {
			ys[j] = g.verts[n].y
		}
		desired[i] = median(ys)
	}
	g.project(layer, desired, sep)
}

// project finds the y values closest (least squares) to desired that keep
// the rank's order and minimum gaps. Substituting z_i = y_i - offset_i turns
// the gap constraints into z being non-decreasing, which pool adjacent
// violators solves exactly.
func (g *layered) project(layer []int, desired []float64, sep float64) {
	offsets := make([]float64, len(layer))
	for i := 1; i < len(layer); i++ {
		offsets[i] = offsets[i-1] + g.gap(layer[i-1], layer[i], sep)
	}

	type block struct {
		sum   float64
		count int
	}
	mean := func(b block) float64 { return b.sum / float64(b.count) }

	blocks := make([]block, 0, len(layer))
	for i := range layer {
		blocks = append(blocks, block{sum: desired[i] - offsets[i], count: 1})
		for len(blocks) > 1 && mean(blocks[len(blocks)-2]) > mean(blocks[len(blocks)-1]) {
			last := blocks[len(blocks)-1]
			blocks = blocks[:len(blocks)-1]
			blocks[len(blocks)-1].sum += last.sum
			blocks[len(blocks)-1].count += last.count
		}
	}

	i := 0
	for _, b := range blocks {
		z := mean(b)
		for k := 0; k < b.count; k++ {
			g.verts[layer[i]].y = z + offsets[i]
			i++
		}
	}
}

func median(vals []float64) float64 {
	sort.Float64s(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}
