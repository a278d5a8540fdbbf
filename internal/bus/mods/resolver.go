package mods

import (
	"errors"
	"fmt"

	"github.com/dominikbraun/graph"
)

// resolveOrder computes the activation order for a set of manifests: every
// requirement comes before the extensions that name it, ties broken
// alphabetically so the order is deterministic. Unknown requirements and
// dependency cycles are errors.
func resolveOrder(manifests []Manifest) ([]string, error) {
	known := make(map[string]struct{}, len(manifests))
	for _, m := range manifests {
		known[m.Name] = struct{}{}
	}

	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	for _, m := range manifests {
		if err := g.AddVertex(m.Name); err != nil {
			return nil, fmt.Errorf("add extension %q: %w", m.Name, err)
		}
	}

	for _, m := range manifests {
		for _, req := range m.Requires {
			if _, ok := known[req]; !ok {
				return nil, fmt.Errorf("runebus: extension %q requires %q, which is not loaded", m.Name, req)
			}
			// Requirement first, requirer second.
			err := g.AddEdge(req, m.Name)
			switch {
			case err == nil:
			case errors.Is(err, graph.ErrEdgeAlreadyExists):
				// Requirement listed twice.
			case errors.Is(err, graph.ErrEdgeCreatesCycle):
				return nil, fmt.Errorf("runebus: extension %q requires %q: dependency cycle: %w", m.Name, req, err)
			default:
				return nil, fmt.Errorf("add requirement %q of %q: %w", req, m.Name, err)
			}
		}
	}

	order, err := graph.StableTopologicalSort(g, func(a, b string) bool { return a < b })
	if err != nil {
		return nil, fmt.Errorf("order extensions: %w", err)
	}
	return order, nil
}
