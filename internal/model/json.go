// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	"github.com/bytedance/sonic"
)

// encodeJSON sorts map keys so encoding is deterministic.
var encodeJSON = sonic.ConfigStd

// marshalPresent writes the serialized fields of the struct pointed to by ptr
// in declaration order. Unset fields are skipped unless listed in nulls, in
// which case they are written as null. Set fields are always written, so an
// empty list stays distinguishable from an absent one.
func marshalPresent(ptr any, nulls func(string) bool) ([]byte, error) {
	rv := reflect.ValueOf(ptr).Elem()
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, f := range Fields(rv.Type()) {
		fv := rv.Field(f.Index)
		var encoded []byte
		switch {
		case IsSet(fv):
			b, err := encodeJSON.Marshal(fv.Interface())
			if err != nil {
				return nil, fmt.Errorf("encoding %s: %w", f.Name, err)
			}
			encoded = b
		case nulls != nil && nulls(f.Name):
			encoded = []byte("null")
		default:
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.WriteString(strconv.Quote(f.Name))
		buf.WriteByte(':')
		buf.Write(encoded)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// decodeStrict decodes b into the struct pointed to by ptr, rejecting unknown
// fields, and returns the wire names explicitly set to null in declaration
// order.
func decodeStrict(b []byte, ptr any) ([]string, error) {
	var raw map[string]json.RawMessage
	if err := strictJSON.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	fields := Fields(reflect.TypeOf(ptr))
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f.Name] = true
	}
	for name := range raw {
		if !known[name] {
			return nil, fmt.Errorf("unknown field %q", name)
		}
	}
	var nulls []string
	for _, f := range fields {
		if v, ok := raw[f.Name]; ok && bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			nulls = append(nulls, f.Name)
		}
	}
	if err := strictJSON.Unmarshal(b, ptr); err != nil {
		return nil, err
	}
	return nulls, nil
}

type operationAlias Operation

// MarshalJSON keeps present-but-empty containers and explicit nulls.
func (o *Operation) MarshalJSON() ([]byte, error) {
	alias := (*operationAlias)(o)
	return marshalPresent(alias, o.IsNullField)
}

// UnmarshalJSON rejects unknown fields and records explicit nulls.
func (o *Operation) UnmarshalJSON(b []byte) error {
	var alias operationAlias
	nulls, err := decodeStrict(b, &alias)
	if err != nil {
		return err
	}
	alias.Nulls = nulls
	*o = Operation(alias)
	return nil
}

type compiledAlias CompiledOperation

// MarshalJSON keeps present-but-empty containers.
func (c *CompiledOperation) MarshalJSON() ([]byte, error) {
	return marshalPresent((*compiledAlias)(c), nil)
}

type componentAlias Component

// UnmarshalJSON rejects unknown fields outside of the run payload.
func (c *Component) UnmarshalJSON(b []byte) error {
	var alias componentAlias
	if _, err := decodeStrict(b, &alias); err != nil {
		return err
	}
	*c = Component(alias)
	return nil
}
