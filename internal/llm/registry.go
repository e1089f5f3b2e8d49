package llm

import (
	"fmt"
	"sort"
)

// ModelRoute binds a logical model to a provider and physical model name.
type ModelRoute struct {
	Name     string
	Provider string
	Model    string
	// MaxTokens caps each response; zero defers to the agent setting.
	MaxTokens int
}

// Registry resolves logical model names to streaming providers.
type Registry struct {
	providers    map[string]Provider
	models       map[string]ModelRoute
	defaultModel string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		models:    make(map[string]ModelRoute),
	}
}

// RegisterProvider adds a provider under name.
func (r *Registry) RegisterProvider(name string, p Provider) {
	r.providers[name] = p
}

// RegisterModel adds a route. The first route registered is the default until one is
// registered with isDefault.
func (r *Registry) RegisterModel(name string, route ModelRoute, isDefault bool) {
	route.Name = name
	r.models[name] = route
	if isDefault || r.defaultModel == "" {
		r.defaultModel = name
	}
}

// DefaultModel returns the logical name used when none is requested.
func (r *Registry) DefaultModel() string {
	return r.defaultModel
}

// Models lists the registered routes sorted by logical name.
func (r *Registry) Models() []ModelRoute {
	out := make([]ModelRoute, 0, len(r.models))
	for _, route := range r.models {
		out = append(out, route)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve returns the provider and route for modelName, or for the default when empty.
func (r *Registry) Resolve(modelName string) (Provider, ModelRoute, error) {
	if modelName == "" {
		if r.defaultModel == "" {
			return nil, ModelRoute{}, fmt.Errorf("no models registered")
		}
		modelName = r.defaultModel
	}

	route, ok := r.models[modelName]
	if !ok {
		return nil, ModelRoute{}, fmt.Errorf("model %q not registered", modelName)
	}
	p, ok := r.providers[route.Provider]
	if !ok {
		return nil, ModelRoute{}, fmt.Errorf("model %q routes to unknown provider %q", modelName, route.Provider)
	}
	return p, route, nil
}
