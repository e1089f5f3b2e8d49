package tools

import "github.com/deskpilot/deskpilot/internal/llm"

// Registry lists the tools offered to the model for a run.
type Registry struct {
	display Display
	steps   bool
}

// NewRegistry builds the tool set; the documentation tool is offered only when withSteps is set.
func NewRegistry(display Display, withSteps bool) *Registry {
	return &Registry{display: display, steps: withSteps}
}

// Schemas returns tool descriptors in the order they are offered.
func (r *Registry) Schemas() []Schema {
	s := []Schema{ComputerSchema(r.display)}
	if r.steps {
		s = append(s, StepsSchema())
	}
	return s
}

// Schema returns schema for a given tool name if present.
func (r *Registry) Schema(name string) (Schema, bool) {
	for _, s := range r.Schemas() {
		if s.Name == name {
			return s, true
		}
	}
	return Schema{}, false
}

// ToolSchemas renders all schemas for a provider request.
func (r *Registry) ToolSchemas() []llm.ToolSchema {
	schemas := r.Schemas()
	out := make([]llm.ToolSchema, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, s.ToolSchema())
	}
	return out
}
