package patcher

import (
	"reflect"
	"sort"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/vk/opforge/internal/model"
	"github.com/vk/opforge/internal/types"
)

var (
	spacesType = reflect.TypeOf((*orderedmap.OrderedMap[string, *model.Space])(nil))
	paramsType = reflect.TypeOf(map[string]*model.Param(nil))
)

// presetWins reports whether p takes precedence for a field both sides set.
func presetWins(s model.PatchStrategy) bool {
	return s == model.Replace || s == model.PostMerge
}

func mergeScalar(t, p reflect.Value, s model.PatchStrategy) reflect.Value {
	if presetWins(s) || !model.IsSet(t) {
		return model.CopyValue(p)
	}
	return t
}

// mergeSlice concatenates: preset first under PRE_MERGE, last otherwise.
// Set-like lists keep the first occurrence of every element.
func mergeSlice(t, p reflect.Value, s model.PatchStrategy, setLike bool) reflect.Value {
	first, second := t, p
	if s == model.PreMerge {
		first, second = p, t
	}
	out := reflect.MakeSlice(t.Type(), 0, t.Len()+p.Len())
	seen := map[string]bool{}
	for _, src := range []reflect.Value{first, second} {
		for i := 0; i < src.Len(); i++ {
			item := src.Index(i)
			if setLike {
				key := types.Text(item.Interface())
				if seen[key] {
					continue
				}
				seen[key] = true
			}
			out = reflect.Append(out, model.CopyValue(item))
		}
	}
	return out
}

// mergeStruct merges two non-nil struct pointers field by field.
func mergeStruct(t, p reflect.Value, s model.PatchStrategy) reflect.Value {
	out := model.CopyValue(t)
	oe, pe := out.Elem(), p.Elem()
	for i := 0; i < oe.NumField(); i++ {
		if !oe.Type().Field(i).IsExported() {
			continue
		}
		pf := pe.Field(i)
		if !model.IsSet(pf) {
			continue
		}
		of := oe.Field(i)
		of.Set(mergeNested(of, pf, s))
	}
	return out
}

func mergeNested(t, p reflect.Value, s model.PatchStrategy) reflect.Value {
	if !model.IsSet(t) {
		return model.CopyValue(p)
	}
	switch {
	case t.Type() == spacesType:
		return reflect.ValueOf(mergeSpaces(t.Interface().(*orderedmap.OrderedMap[string, *model.Space]), p.Interface().(*orderedmap.OrderedMap[string, *model.Space]), s))
	case t.Type() == paramsType:
		return reflect.ValueOf(MergeParams(t.Interface().(map[string]*model.Param), p.Interface().(map[string]*model.Param), s))
	case t.Kind() == reflect.Slice:
		return mergeSlice(t, p, s, t.Type().Elem().Kind() == reflect.String)
	case t.Kind() == reflect.Map && t.Type().Elem().Kind() == reflect.Interface:
		plain := reflect.TypeOf(map[string]any(nil))
		merged := mergeMaps(t.Convert(plain).Interface().(map[string]any), p.Convert(plain).Interface().(map[string]any), s, "")
		return reflect.ValueOf(merged).Convert(t.Type())
	case t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct:
		return mergeStruct(t, p, s)
	}
	return mergeScalar(t, p, s)
}

// mergeSpaces merges search spaces by name; the later side wins a
// collision and keeps the earlier side's position.
func mergeSpaces(t, p *orderedmap.OrderedMap[string, *model.Space], s model.PatchStrategy) *orderedmap.OrderedMap[string, *model.Space] {
	first, second := t, p
	if s == model.PreMerge {
		first, second = p, t
	}
	out := orderedmap.New[string, *model.Space]()
	for _, src := range []*orderedmap.OrderedMap[string, *model.Space]{first, second} {
		for pair := src.Oldest(); pair != nil; pair = pair.Next() {
			out.Set(pair.Key, model.DeepCopy(pair.Value))
		}
	}
	return out
}

// kindOf reads the Kind discriminator of a tagged-union struct pointer.
func kindOf(v reflect.Value) string {
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return ""
	}
	f := v.Elem().FieldByName("Kind")
	if !f.IsValid() || f.Kind() != reflect.String {
		return ""
	}
	return f.String()
}

// runPatch lists with special merge rules, matched by dotted path suffix.
var (
	atomicListPaths  = []string{"container.command", "container.args"}
	setLikeListPaths = []string{"environment.imagePullSecrets"}
)

func hasPathSuffix(path string, suffixes []string) bool {
	for _, s := range suffixes {
		if path == s || strings.HasSuffix(path, "."+s) {
			return true
		}
	}
	return false
}

// MergeRun overlays patch onto a component run payload. Under REPLACE every
// top-level key of patch replaces the run's; under ISNULL patch only fills
// keys the run lacks; the merge strategies recurse into nested maps.
func MergeRun(run, patch map[string]any, s model.PatchStrategy) map[string]any {
	if patch == nil {
		return types.DeepCopy(run).(map[string]any)
	}
	return mergeRunPatch(run, patch, s, "")
}

func mergeRunPatch(t, p map[string]any, s model.PatchStrategy, path string) map[string]any {
	switch s {
	case model.Replace:
		out := copyMap(t)
		for _, k := range sortedKeys(p) {
			out[k] = types.DeepCopy(p[k])
		}
		return out
	case model.IsNull:
		out := copyMap(t)
		for _, k := range sortedKeys(p) {
			if isEmpty(out[k]) {
				out[k] = types.DeepCopy(p[k])
			}
		}
		return out
	}
	return mergeMaps(t, p, s, path)
}

// mergeMaps deep-merges p into t. Nulls in p never erase values of t.
func mergeMaps(t, p map[string]any, s model.PatchStrategy, path string) map[string]any {
	out := copyMap(t)
	for _, k := range sortedKeys(p) {
		pv := p[k]
		child := k
		if path != "" {
			child = path + "." + k
		}
		tv, ok := out[k]
		if !ok || tv == nil {
			out[k] = types.DeepCopy(pv)
			continue
		}
		if pv == nil {
			continue
		}
		tm, tIsMap := tv.(map[string]any)
		pm, pIsMap := pv.(map[string]any)
		tl, tIsList := tv.([]any)
		pl, pIsList := pv.([]any)
		switch {
		case tIsMap && pIsMap:
			out[k] = mergeMaps(tm, pm, s, child)
		case tIsList && pIsList && !hasPathSuffix(child, atomicListPaths):
			out[k] = mergeAnyLists(tl, pl, s, hasPathSuffix(child, setLikeListPaths))
		case presetWins(s):
			out[k] = types.DeepCopy(pv)
		}
	}
	return out
}

func mergeAnyLists(t, p []any, s model.PatchStrategy, setLike bool) []any {
	first, second := t, p
	if s == model.PreMerge {
		first, second = p, t
	}
	out := make([]any, 0, len(t)+len(p))
	seen := map[string]bool{}
	for _, src := range [][]any{first, second} {
		for _, item := range src {
			if setLike {
				key := types.Text(item)
				if seen[key] {
					continue
				}
				seen[key] = true
			}
			out = append(out, types.DeepCopy(item))
		}
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = types.DeepCopy(v)
	}
	return out
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(x) == 0
	case []any:
		return len(x) == 0
	case string:
		return x == ""
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
