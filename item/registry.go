package item

import "fmt"

// Factory is how a concrete item type plugs into the engine: a type tag
// maps to functions that build a default instance, decode a stored item,
// and decode a modifier — the dispatch-on-tag design spec §9 calls for
// instead of generics.
type Factory struct {
	// Default returns a fresh, never-before-mutated item for id, used as
	// the starting point for the first event ever applied to id.
	Default func(id Key) Item
	// Decode parses a previously-encoded Item from its stored bytes.
	Decode func(data []byte) (Item, error)
	// Encode serializes an Item for storage.
	Encode func(it Item) ([]byte, error)
	// DecodeModifier parses a modifier from its stored bytes.
	DecodeModifier func(data []byte) (Modifier, error)
}

// Registry maps type tags to Factories. One Registry is shared by an
// engine.Engine and every ReadView it constructs.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds or replaces the Factory for tag.
func (r *Registry) Register(tag string, f Factory) {
	r.factories[tag] = f
}

// Factory returns the Factory registered for tag.
func (r *Registry) Factory(tag string) (Factory, error) {
	f, ok := r.factories[tag]
	if !ok {
		return Factory{}, Wrap(KindWrongType, fmt.Sprintf("no item type registered for tag %q", tag), nil)
	}
	return f, nil
}
