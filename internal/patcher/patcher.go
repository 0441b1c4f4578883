// Package patcher merges a preset over an operation.
//
// The merge is table-driven: every top-level Operation field has a category
// (scalar, set-like list, ordered list, structured, tagged union, params,
// runPatch, component reference) and each category implements the four
// strategies. Nested decorations are merged field by field with the rules of
// their Go type. The patcher never mutates its inputs and never validates
// semantic links between fields.
package patcher

import (
	"reflect"

	"github.com/vk/opforge/internal/engineerr"
	"github.com/vk/opforge/internal/model"
)

type category int

const (
	catMeta category = iota
	catScalar
	catSetList
	catList
	catStruct
	catUnion
	catParams
	catRunPatch
	catComponentRef
)

func (c category) String() string {
	switch c {
	case catScalar:
		return "scalar"
	case catSetList:
		return "set-like list"
	case catList:
		return "ordered list"
	case catStruct:
		return "structured"
	case catUnion:
		return "tagged union"
	case catParams:
		return "params"
	case catRunPatch:
		return "runPatch"
	case catComponentRef:
		return "component reference"
	}
	return "meta"
}

// operationFields assigns a merge category to every Operation field.
var operationFields = map[string]category{
	"version":            catScalar,
	"kind":               catScalar,
	"name":               catScalar,
	"description":        catScalar,
	"tags":               catSetList,
	"presets":            catSetList,
	"queue":              catScalar,
	"namespace":          catScalar,
	"cache":              catStruct,
	"termination":        catStruct,
	"plugins":            catStruct,
	"build":              catStruct,
	"hooks":              catList,
	"schedule":           catUnion,
	"events":             catList,
	"joins":              catList,
	"matrix":             catUnion,
	"dependencies":       catSetList,
	"trigger":            catScalar,
	"conditions":         catScalar,
	"skipOnUpstreamSkip": catScalar,
	"isApproved":         catScalar,
	"cost":               catScalar,
	"params":             catParams,
	"runPatch":           catRunPatch,
	"hubRef":             catComponentRef,
	"urlRef":             catComponentRef,
	"pathRef":            catComponentRef,
	"component":          catComponentRef,
	"isPreset":           catMeta,
	"patchStrategy":      catMeta,
}

// Apply merges preset p over t with p's declared strategy. Operations that
// are not marked as presets are rejected.
func Apply(t, p *model.Operation) (*model.Operation, error) {
	if p == nil {
		return nil, engineerr.New(engineerr.InvalidPreset, "", "preset is nil")
	}
	if p.IsPreset == nil || !*p.IsPreset {
		return nil, engineerr.New(engineerr.InvalidPreset, "/isPreset", "operation %q is not a preset: isPreset must be true", nameOf(p))
	}
	return Patch(t, p, p.Strategy())
}

// Patch merges p over t with strategy s, treating p as a preset whatever its
// isPreset flag says. The result shares no memory with t or p.
func Patch(t, p *model.Operation, s model.PatchStrategy) (*model.Operation, error) {
	if t == nil {
		t = &model.Operation{}
	}
	out := t.Clone()
	if p == nil {
		return out, nil
	}
	if err := checkComponentRefs(t, p); err != nil {
		return nil, err
	}

	ov := reflect.ValueOf(out).Elem()
	pv := reflect.ValueOf(p).Elem()
	for _, f := range model.Fields(ov.Type()) {
		cat := operationFields[f.Name]
		if cat == catMeta {
			continue
		}
		pf := pv.Field(f.Index)
		if !model.IsSet(pf) {
			if s == model.Replace && p.IsNullField(f.Name) && cat != catComponentRef {
				if err := out.SetNull(f.Name); err != nil {
					return nil, engineerr.Wrap(engineerr.InvalidPreset, engineerr.Pointer(f.Name), err, "cannot clear field")
				}
			}
			continue
		}
		of := ov.Field(f.Index)
		merged := mergeTop(cat, engineerr.Pointer(f.Name), of, pf, s)
		of.Set(merged)
		if model.IsSet(of) {
			out.UnsetNull(f.Name)
		}
	}
	return out, nil
}

func mergeTop(cat category, path string, t, p reflect.Value, s model.PatchStrategy) reflect.Value {
	switch cat {
	case catScalar:
		return mergeScalar(t, p, s)
	case catSetList, catList:
		switch s {
		case model.Replace:
			return model.CopyValue(p)
		case model.IsNull:
			if t.Len() == 0 {
				return model.CopyValue(p)
			}
			return t
		}
		return mergeSlice(t, p, s, cat == catSetList)
	case catStruct, catUnion:
		switch s {
		case model.Replace:
			return model.CopyValue(p)
		case model.IsNull:
			if model.IsSet(t) {
				return t
			}
			return model.CopyValue(p)
		}
		if !model.IsSet(t) {
			return model.CopyValue(p)
		}
		if cat == catUnion && kindOf(t) != kindOf(p) {
			if s == model.PreMerge {
				return t
			}
			return model.CopyValue(p)
		}
		return mergeStruct(t, p, s)
	case catParams:
		return reflect.ValueOf(MergeParams(t.Interface().(map[string]*model.Param), p.Interface().(map[string]*model.Param), s))
	case catRunPatch:
		return reflect.ValueOf(mergeRunPatch(t.Interface().(map[string]any), p.Interface().(map[string]any), s, ""))
	case catComponentRef:
		if model.IsSet(t) {
			return t
		}
		return model.CopyValue(p)
	}
	return t
}

// MergeParams merges params by name. On a name collision the preset's param
// wins under REPLACE and POST_MERGE and the target's under ISNULL and
// PRE_MERGE; params are never merged below the param level.
func MergeParams(t, p map[string]*model.Param, s model.PatchStrategy) map[string]*model.Param {
	if t == nil && p == nil {
		return nil
	}
	out := make(map[string]*model.Param, len(t)+len(p))
	for name, param := range t {
		out[name] = param.Clone()
	}
	for name, param := range p {
		if _, taken := out[name]; taken && (s == model.IsNull || s == model.PreMerge) {
			continue
		}
		out[name] = param.Clone()
	}
	return out
}

// checkComponentRefs rejects presets that would change the target's
// component reference.
func checkComponentRefs(t, p *model.Operation) error {
	current, has := t.ComponentRef()
	if !has {
		return nil
	}
	for _, r := range p.ComponentRefs() {
		if r.Kind != current.Kind || !sameRef(t, p, r.Kind) {
			return engineerr.New(engineerr.PresetReassignsComponent, engineerr.Pointer(string(r.Kind)),
				"preset %q cannot replace %s with %s", nameOf(p), current, r)
		}
	}
	for _, k := range []model.ComponentRefKind{model.RefHub, model.RefURL, model.RefPath, model.RefInline} {
		if p.IsNullField(string(k)) {
			return engineerr.New(engineerr.PresetReassignsComponent, engineerr.Pointer(string(k)),
				"preset %q cannot clear %s", nameOf(p), current)
		}
	}
	return nil
}

func sameRef(t, p *model.Operation, kind model.ComponentRefKind) bool {
	switch kind {
	case model.RefHub:
		return *t.HubRef == *p.HubRef
	case model.RefURL:
		return *t.URLRef == *p.URLRef
	case model.RefPath:
		return *t.PathRef == *p.PathRef
	case model.RefInline:
		return reflect.DeepEqual(t.Component, p.Component)
	}
	return false
}

func nameOf(op *model.Operation) string {
	if op.Name != nil {
		return *op.Name
	}
	return ""
}
