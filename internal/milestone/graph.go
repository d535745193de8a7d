// Package milestone models the static dependency graph over the guided
// workflow's milestones and resolves which prior milestones' data must be
// folded into context.
package milestone

import (
	"sort"

	"github.com/pathlight/contextd/internal/engine"
)

// Graph is the validated, static milestone dependency DAG. It is built once
// at startup and read-only afterwards.
type Graph struct {
	catalog []string
	index   map[string]int
	deps    map[string][]string
	// required holds the precomputed transitive dependency set per
	// milestone, in catalog order.
	required map[string][]string
}

// NewGraph validates the catalog and dependency map and precomputes the
// transitive dependency sets. Unknown milestone references and cycles are
// configuration errors: they fail here, at startup, never at request time.
func NewGraph(catalog []string, deps map[string][]string) (*Graph, error) {
	if len(catalog) == 0 {
		return nil, engine.Configf("milestone catalog is empty")
	}

	index := make(map[string]int, len(catalog))
	for i, id := range catalog {
		if id == "" {
			return nil, engine.Configf("milestone catalog contains an empty id")
		}
		if _, dup := index[id]; dup {
			return nil, engine.Configf("duplicate milestone %q in catalog", id)
		}
		index[id] = i
	}

	for id, ds := range deps {
		if _, ok := index[id]; !ok {
			return nil, engine.Configf("dependency map references unknown milestone %q", id)
		}
		for _, d := range ds {
			if _, ok := index[d]; !ok {
				return nil, engine.Configf("milestone %q depends on unknown milestone %q", id, d)
			}
		}
	}

	g := &Graph{
		catalog:  append([]string(nil), catalog...),
		index:    index,
		deps:     deps,
		required: make(map[string][]string, len(catalog)),
	}
	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	for _, id := range catalog {
		g.required[id] = g.closure(id)
	}
	return g, nil
}

// Contains reports whether the milestone exists in the catalog.
func (g *Graph) Contains(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Catalog returns the milestone ids in configured order.
func (g *Graph) Catalog() []string {
	return append([]string(nil), g.catalog...)
}

// RequiredMilestones returns the transitive dependency set of the target
// milestone (excluding the target itself), in catalog order.
func (g *Graph) RequiredMilestones(id string) ([]string, error) {
	req, ok := g.required[id]
	if !ok {
		return nil, engine.Configf("unknown milestone %q", id)
	}
	return append([]string(nil), req...), nil
}

// checkAcyclic runs a three-color DFS over the dependency edges.
func (g *Graph) checkAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.catalog))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, d := range g.deps[id] {
			switch color[d] {
			case gray:
				return engine.Configf("milestone dependency cycle through %q and %q", id, d)
			case white:
				if err := visit(d); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, id := range g.catalog {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// closure collects the transitive dependencies of id, sorted by catalog
// position for deterministic output.
func (g *Graph) closure(id string) []string {
	seen := map[string]bool{}
	var walk func(string)
	walk = func(cur string) {
		for _, d := range g.deps[cur] {
			if !seen[d] {
				seen[d] = true
				walk(d)
			}
		}
	}
	walk(id)

	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return g.index[out[i]] < g.index[out[j]]
	})
	return out
}
