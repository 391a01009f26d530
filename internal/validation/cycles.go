package validation

import (
	"sort"

	"github.com/rendis/phasegraph/pkg/schema"
)

// dependencyGraph indexes dependency edges by phase template ID. Edges to
// unknown templates and repeated entries are skipped.
type dependencyGraph struct {
	ids        []string
	known      map[string]bool
	dependents map[string][]string // dep -> phases that depend on it
	dependsOn  map[string][]string // phase -> its deps
}

func newDependencyGraph(phases []*schema.Phase) *dependencyGraph {
	g := &dependencyGraph{
		known:      make(map[string]bool, len(phases)),
		dependents: make(map[string][]string, len(phases)),
		dependsOn:  make(map[string][]string, len(phases)),
	}
	for _, p := range phases {
		if p == nil || g.known[p.PhaseTemplateID] {
			continue
		}
		g.known[p.PhaseTemplateID] = true
		g.ids = append(g.ids, p.PhaseTemplateID)
	}
	for _, p := range phases {
		if p == nil {
			continue
		}
		seen := make(map[string]bool, len(p.DependsOn))
		for _, dep := range p.DependsOn {
			if seen[dep] || !g.known[dep] {
				continue
			}
			seen[dep] = true
			g.dependents[dep] = append(g.dependents[dep], p.PhaseTemplateID)
			g.dependsOn[p.PhaseTemplateID] = append(g.dependsOn[p.PhaseTemplateID], dep)
		}
	}
	return g
}

// cycleMembers runs Kahn's algorithm and returns the sorted template IDs
// left with a positive in-degree, or nil when the graph is acyclic.
// Phases downstream of a cycle are reported as well.
func (g *dependencyGraph) cycleMembers() []string {
	inDegree := make(map[string]int, len(g.ids))
	for _, id := range g.ids {
		inDegree[id] = len(g.dependsOn[id])
	}

	queue := make([]string, 0, len(g.ids))
	for _, id := range g.ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		processed++
		for _, next := range g.dependents[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if processed == len(g.ids) {
		return nil
	}

	var cycled []string
	for _, id := range g.ids {
		if inDegree[id] > 0 {
			cycled = append(cycled, id)
		}
	}
	sort.Strings(cycled)
	return cycled
}

// reaches reports whether to is reachable from from along dependency edges.
func (g *dependencyGraph) reaches(from, to string) bool {
	visited := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node == to {
			return true
		}
		for _, next := range g.dependents[node] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}
