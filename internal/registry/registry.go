package registry

import "fmt"

// ErrNotRegistered is returned when an operation names an entity the
// registry has never seen.
type ErrNotRegistered struct {
	Name string
}

func (e *ErrNotRegistered) Error() string {
	return fmt.Sprintf("registry: entity %q is not registered", e.Name)
}

// Registry is an order-preserving mapping from entity name to Descriptor
// (§4.1: "an ordered mapping ... registration order is preserved and is
// the default sequential push order").
type Registry struct {
	order []string
	byName map[string]Descriptor
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byName: make(map[string]Descriptor)}
}

// Register adds d, or replaces it in place if d.Name was already
// registered (replacement does not change its position in Ordered).
func (r *Registry) Register(d Descriptor) {
	if _, exists := r.byName[d.Name]; !exists {
		r.order = append(r.order, d.Name)
	}
	r.byName[d.Name] = d
}

// Get returns the descriptor for name. The second return value is false,
// and a *ErrNotRegistered is the appropriate error for callers that need
// one, if name was never registered.
func (r *Registry) Get(name string) (Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// MustGet returns the descriptor for name or an *ErrNotRegistered — the
// "never silently skipped" failure mode required by §4.1 for
// syncEntity(name) against an unknown name.
func (r *Registry) MustGet(name string) (Descriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, &ErrNotRegistered{Name: name}
	}
	return d, nil
}

// Ordered returns every registered descriptor in registration order.
func (r *Registry) Ordered() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Names returns registered entity names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len reports the number of registered descriptors.
func (r *Registry) Len() int {
	return len(r.order)
}
