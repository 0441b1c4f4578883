package registry

import (
	"sort"
	"strings"

	"github.com/vk/opforge/internal/model"
)

const latestTag = "latest"

// Registry holds the components and presets of one registry directory. It
// is filled once by Load and is safe for concurrent reads afterwards.
type Registry struct {
	components map[string]*entry[model.Component]
	presets    map[string]*entry[model.Operation]
}

// entry remembers where a document came from, for duplicate reports.
type entry[T any] struct {
	value  *T
	source string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		components: make(map[string]*entry[model.Component]),
		presets:    make(map[string]*entry[model.Operation]),
	}
}

// Component returns a copy of the component registered under hubRef.
func (r *Registry) Component(hubRef string) (*model.Component, bool) {
	for _, key := range candidates(hubRef) {
		if e, ok := r.components[key]; ok {
			return model.DeepCopy(e.value), true
		}
	}
	return nil, false
}

// Preset returns a copy of the preset registered under name.
func (r *Registry) Preset(name string) (*model.Operation, bool) {
	e, ok := r.presets[name]
	if !ok {
		return nil, false
	}
	return e.value.Clone(), true
}

// Components lists the registered hub references, sorted.
func (r *Registry) Components() []string {
	return sortedKeys(r.components)
}

// Presets lists the registered preset names, sorted.
func (r *Registry) Presets() []string {
	return sortedKeys(r.presets)
}

// candidates lists the keys a hub reference may be stored under, in lookup
// order.
func candidates(hubRef string) []string {
	name, tag, tagged := strings.Cut(hubRef, ":")
	switch {
	case !tagged:
		return []string{hubRef, hubRef + ":" + latestTag}
	case tag == latestTag:
		return []string{hubRef, name}
	}
	return []string{hubRef}
}

func sortedKeys[T any](m map[string]*entry[T]) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
