package evaluator

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opforge/internal/ref"
	"github.com/vk/opforge/internal/types"
)

// Entity holds the sections of an operation or run, keyed by section name:
// inputs, outputs, artifacts, globals and status.
type Entity map[string]any

// Namespace is the ambient data a compilation evaluates against. Upstream
// outputs are injected by the runtime through Ops and Runs.
type Namespace struct {
	Globals map[string]any
	Ops     map[string]Entity
	Runs    map[string]Entity
	DAG     Entity
	System  map[string]any
	Env     map[string]string
	// Params are extra param values visible as `params.<name>` when no bound
	// param of that name exists.
	Params map[string]any
}

// Lookup returns the value r points at.
func (ns *Namespace) Lookup(r ref.Ref) (any, bool) {
	if ns == nil {
		return nil, false
	}
	var root any
	switch r.Kind {
	case ref.Ops, ref.Runs:
		entities := ns.Ops
		if r.Kind == ref.Runs {
			entities = ns.Runs
		}
		entity, ok := entities[r.Entity]
		if !ok {
			return nil, false
		}
		if r.IsEntity() {
			return map[string]any(entity), true
		}
		root, ok = entity[r.Section]
		if !ok {
			return nil, false
		}
	case ref.DAG:
		v, ok := ns.DAG[r.Section]
		if !ok {
			return nil, false
		}
		root = v
	case ref.Globals:
		root = ns.Globals
	case ref.System:
		root = ns.System
	case ref.Env:
		if len(r.Path) != 1 || r.Path[0].HasIndex() {
			return nil, false
		}
		v, ok := ns.Env[r.Path[0].Name]
		return v, ok
	default:
		return nil, false
	}
	return walk(root, r.Path)
}

func walk(v any, path []ref.Segment) (any, bool) {
	cur := v
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg.Name]
		if !ok {
			return nil, false
		}
		if seg.HasIndex() {
			items, ok := cur.([]any)
			if !ok || seg.Index >= len(items) {
				return nil, false
			}
			cur = items[seg.Index]
		}
	}
	return cur, true
}

// ctyRoots converts the namespace into expression variables.
func (ns *Namespace) ctyRoots() (map[string]cty.Value, error) {
	roots := map[string]any{
		string(ref.Globals): ns.Globals,
		string(ref.Ops):     entities(ns.Ops),
		string(ref.Runs):    entities(ns.Runs),
		string(ref.DAG):     map[string]any(ns.DAG),
		string(ref.System):  ns.System,
		string(ref.Env):     env(ns.Env),
	}
	out := make(map[string]cty.Value, len(roots))
	for name, v := range roots {
		m, _ := v.(map[string]any)
		if len(m) == 0 {
			out[name] = cty.EmptyObjectVal
			continue
		}
		cv, err := types.ToCty(types.Normalize(m))
		if err != nil {
			return nil, err
		}
		out[name] = cv
	}
	return out, nil
}

func entities(in map[string]Entity) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = map[string]any(v)
	}
	return out
}

func env(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
