// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file centralizes reflective access to struct fields by wire name.
// The patcher walks operations field by field and the JSON encoder needs to
// tell "absent" from "present but empty"; both go through these helpers.
package model

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/vk/opforge/internal/types"
)

// FieldInfo describes one serialized struct field.
type FieldInfo struct {
	Name  string
	Index int
	Type  reflect.Type
}

var fieldCache sync.Map // reflect.Type -> []FieldInfo

// Fields returns the serialized fields of a struct type in declaration order.
func Fields(t reflect.Type) []FieldInfo {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if cached, ok := fieldCache.Load(t); ok {
		return cached.([]FieldInfo)
	}
	var out []FieldInfo
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		out = append(out, FieldInfo{Name: name, Index: i, Type: f.Type})
	}
	fieldCache.Store(t, out)
	return out
}

// FieldNames lists the wire names of the serialized fields of v's type.
func FieldNames(v any) []string {
	fields := Fields(reflect.TypeOf(v))
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// Field returns the field of the struct pointed to by ptr with the given wire
// name. The returned value is settable.
func Field(ptr any, name string) (reflect.Value, bool) {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return reflect.Value{}, false
	}
	rv = rv.Elem()
	for _, f := range Fields(rv.Type()) {
		if f.Name == name {
			return rv.Field(f.Index), true
		}
	}
	return reflect.Value{}, false
}

// IsSet reports whether a field value is present: non-nil for pointers,
// slices, maps and interfaces, non-zero otherwise.
func IsSet(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return !v.IsNil()
	}
	return !v.IsZero()
}

func clearField(ptr any, name string) error {
	f, ok := Field(ptr, name)
	if !ok {
		return fmt.Errorf("unknown field %q", name)
	}
	f.Set(reflect.Zero(f.Type()))
	return nil
}

var (
	spacesType      = reflect.TypeOf((*orderedmap.OrderedMap[string, *Space])(nil))
	boundParamsType = reflect.TypeOf((*orderedmap.OrderedMap[string, *BoundParam])(nil))
)

// DeepCopy returns a copy of v that shares no pointers, slices or maps with it.
func DeepCopy[T any](v T) T {
	rv := reflect.ValueOf(&v).Elem()
	out := reflect.New(rv.Type()).Elem()
	copyValue(out, rv)
	return out.Interface().(T)
}

// CopyValue returns a deep copy of v with the same semantics as DeepCopy.
func CopyValue(v reflect.Value) reflect.Value {
	out := reflect.New(v.Type()).Elem()
	copyValue(out, v)
	return out
}

func copyValue(dst, src reflect.Value) {
	if src.Type() == spacesType {
		if src.IsNil() {
			return
		}
		dst.Set(reflect.ValueOf(copySpaces(src.Interface().(*orderedmap.OrderedMap[string, *Space]))))
		return
	}
	if src.Type() == boundParamsType {
		if src.IsNil() {
			return
		}
		dst.Set(reflect.ValueOf(copyBoundParams(src.Interface().(*orderedmap.OrderedMap[string, *BoundParam]))))
		return
	}
	switch src.Kind() {
	case reflect.Pointer:
		if src.IsNil() {
			return
		}
		n := reflect.New(src.Type().Elem())
		copyValue(n.Elem(), src.Elem())
		dst.Set(n)
	case reflect.Struct:
		for i := 0; i < src.NumField(); i++ {
			if !src.Type().Field(i).IsExported() {
				continue
			}
			copyValue(dst.Field(i), src.Field(i))
		}
	case reflect.Slice:
		if src.IsNil() {
			return
		}
		n := reflect.MakeSlice(src.Type(), src.Len(), src.Len())
		for i := 0; i < src.Len(); i++ {
			copyValue(n.Index(i), src.Index(i))
		}
		dst.Set(n)
	case reflect.Map:
		if src.IsNil() {
			return
		}
		n := reflect.MakeMapWithSize(src.Type(), src.Len())
		iter := src.MapRange()
		for iter.Next() {
			val := reflect.New(src.Type().Elem()).Elem()
			copyValue(val, iter.Value())
			n.SetMapIndex(iter.Key(), val)
		}
		dst.Set(n)
	case reflect.Interface:
		if src.IsNil() {
			return
		}
		if cp := types.DeepCopy(src.Interface()); cp != nil {
			dst.Set(reflect.ValueOf(cp))
		}
	default:
		dst.Set(src)
	}
}

func copySpaces(src *orderedmap.OrderedMap[string, *Space]) *orderedmap.OrderedMap[string, *Space] {
	out := orderedmap.New[string, *Space]()
	for pair := src.Oldest(); pair != nil; pair = pair.Next() {
		var sp *Space
		if pair.Value != nil {
			sp = &Space{Kind: pair.Value.Kind, Value: types.DeepCopy(pair.Value.Value)}
		}
		out.Set(pair.Key, sp)
	}
	return out
}

func copyBoundParams(src *orderedmap.OrderedMap[string, *BoundParam]) *orderedmap.OrderedMap[string, *BoundParam] {
	out := orderedmap.New[string, *BoundParam]()
	for pair := src.Oldest(); pair != nil; pair = pair.Next() {
		out.Set(pair.Key, pair.Value.Clone())
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
