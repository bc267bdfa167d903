package tools

import (
	"fmt"
	"sort"
)

// Registry is the immutable-after-startup catalog of tools the reasoning
// step may invoke. Registration happens during wiring; duplicate names are a
// programming error and fail fast.
type Registry struct {
	specs map[string]Spec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// Register adds a tool to the catalog. It rejects invalid specs and
// duplicate names.
func (r *Registry) Register(spec Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if _, exists := r.specs[spec.Name]; exists {
		return fmt.Errorf("tools: duplicate tool name %q", spec.Name)
	}
	r.specs[spec.Name] = spec
	return nil
}

// MustRegister is Register for startup wiring, where a bad catalog should
// stop the process.
func (r *Registry) MustRegister(spec Spec) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

// Lookup returns the spec for the name and whether it exists.
func (r *Registry) Lookup(name string) (Spec, bool) {
	spec, ok := r.specs[name]
	return spec, ok
}

// List returns all registered specs ordered by name, for catalog
// serialization into the reasoning prompt.
func (r *Registry) List() []Spec {
	out := make([]Spec, 0, len(r.specs))
	for _, spec := range r.specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
