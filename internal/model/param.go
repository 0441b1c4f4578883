// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package model

import "github.com/vk/opforge/internal/types"

// Param binds a value to a component input. Exactly one of Value and Ref is
// meaningful; a param with neither is a literal null.
type Param struct {
	Value       any    `json:"value,omitempty"`
	Ref         string `json:"ref,omitempty"`
	ContextOnly bool   `json:"contextOnly,omitempty"`
	Connection  string `json:"connection,omitempty"`
	ToInit      bool   `json:"toInit,omitempty"`
	ToEnv       string `json:"toEnv,omitempty"`
}

// Literal returns a value param.
func Literal(v any) *Param { return &Param{Value: v} }

// Reference returns a ref param.
func Reference(ref string) *Param { return &Param{Ref: ref} }

// IsRef reports whether the param points at another entity's field.
func (p *Param) IsRef() bool { return p.Ref != "" }

// Clone returns a deep copy.
func (p *Param) Clone() *Param {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Value = types.DeepCopy(p.Value)
	return &cp
}

// Param sections on a compiled operation.
const (
	SectionInputs  = "inputs"
	SectionOutputs = "outputs"
	SectionContext = "context"
)

// BoundParam is a param after resolution: bound to a declared input or
// output, or kept as a context-only value.
type BoundParam struct {
	Name string `json:"name"`
	// Value is the literal or resolved value.
	Value any `json:"value,omitempty"`
	// Ref is set only while the reference is unresolved.
	Ref         string     `json:"ref,omitempty"`
	Type        types.Type `json:"type"`
	Section     string     `json:"section"`
	ContextOnly bool       `json:"contextOnly,omitempty"`
	Connection  string     `json:"connection,omitempty"`
	ToInit      bool       `json:"toInit,omitempty"`
	ToEnv       string     `json:"toEnv,omitempty"`
}

// Clone returns a deep copy.
func (b *BoundParam) Clone() *BoundParam {
	if b == nil {
		return nil
	}
	cp := *b
	cp.Value = types.DeepCopy(b.Value)
	return &cp
}

// ParamMap is a convenience for building params in code and tests.
func ParamMap(kv map[string]any) map[string]*Param {
	out := make(map[string]*Param, len(kv))
	for k, v := range kv {
		out[k] = Literal(v)
	}
	return out
}
