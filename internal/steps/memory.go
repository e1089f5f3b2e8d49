package steps

import "context"

// MemoryGraph is a Navigator over an in-memory copy of the documentation.
type MemoryGraph struct {
	steps map[int]Step
	next  map[int]int
	prev  map[int]int
}

// NewMemoryGraph builds a graph from validated specs. When several steps point at the same
// successor, the lowest id is its predecessor, as in PostgresGraph.
func NewMemoryGraph(specs []Spec) *MemoryGraph {
	g := &MemoryGraph{
		steps: make(map[int]Step, len(specs)),
		next:  make(map[int]int),
		prev:  make(map[int]int),
	}
	for _, s := range specs {
		g.steps[s.ID] = Step{ID: s.ID, Description: s.Description}
	}
	for _, s := range specs {
		if s.Next == nil {
			continue
		}
		g.next[s.ID] = *s.Next
		if p, ok := g.prev[*s.Next]; !ok || s.ID < p {
			g.prev[*s.Next] = s.ID
		}
	}
	return g
}

// Len returns the number of steps.
func (g *MemoryGraph) Len() int { return len(g.steps) }

func (g *MemoryGraph) Previous(_ context.Context, id int) (Step, error) {
	if p, ok := g.prev[id]; ok {
		return g.steps[p], nil
	}
	return Step{ID: id - 1, Description: NoPreviousStep}, nil
}

func (g *MemoryGraph) Next(_ context.Context, id int) (Step, error) {
	if n, ok := g.next[id]; ok {
		return g.steps[n], nil
	}
	return Step{ID: id + 1, Description: NoNextStep}, nil
}

func (g *MemoryGraph) Current(_ context.Context, id int) (Step, error) {
	if s, ok := g.steps[id]; ok {
		return s, nil
	}
	return Step{ID: id, Description: NoCurrentStep}, nil
}
