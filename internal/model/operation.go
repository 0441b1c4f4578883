// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package model

import (
	"fmt"
	"strconv"
	"strings"
)

// PatchStrategy selects how a preset is merged over its target.
type PatchStrategy string

const (
	Replace   PatchStrategy = "REPLACE"
	IsNull    PatchStrategy = "ISNULL"
	PreMerge  PatchStrategy = "PRE_MERGE"
	PostMerge PatchStrategy = "POST_MERGE"
)

// ParsePatchStrategy reads a strategy case-insensitively.
func ParsePatchStrategy(s string) (PatchStrategy, error) {
	switch PatchStrategy(strings.ToUpper(strings.TrimSpace(s))) {
	case Replace:
		return Replace, nil
	case IsNull:
		return IsNull, nil
	case PreMerge:
		return PreMerge, nil
	case PostMerge:
		return PostMerge, nil
	}
	return "", fmt.Errorf("unknown patch strategy %q", s)
}

// UnmarshalJSON accepts any casing of the strategy name.
func (s *PatchStrategy) UnmarshalJSON(b []byte) error {
	raw, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("patch strategy must be a string, got %s", b)
	}
	parsed, err := ParsePatchStrategy(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Operation is an invocation of a component, or a preset overlay when
// IsPreset is set.
type Operation struct {
	Version            *Version          `json:"version,omitempty"`
	Kind               *string           `json:"kind,omitempty"`
	Name               *string           `json:"name,omitempty"`
	Description        *string           `json:"description,omitempty"`
	Tags               []string          `json:"tags,omitempty"`
	Presets            []string          `json:"presets,omitempty"`
	Queue              *string           `json:"queue,omitempty"`
	Namespace          *string           `json:"namespace,omitempty"`
	Cache              *Cache            `json:"cache,omitempty"`
	Termination        *Termination      `json:"termination,omitempty"`
	Plugins            *Plugins          `json:"plugins,omitempty"`
	Build              *Build            `json:"build,omitempty"`
	Hooks              []*Hook           `json:"hooks,omitempty"`
	Schedule           *Schedule         `json:"schedule,omitempty"`
	Events             []*EventTrigger   `json:"events,omitempty"`
	Joins              []*Join           `json:"joins,omitempty"`
	Matrix             *Matrix           `json:"matrix,omitempty"`
	Dependencies       []string          `json:"dependencies,omitempty"`
	Trigger            *string           `json:"trigger,omitempty"`
	Conditions         *string           `json:"conditions,omitempty"`
	SkipOnUpstreamSkip *bool             `json:"skipOnUpstreamSkip,omitempty"`
	IsApproved         *bool             `json:"isApproved,omitempty"`
	Cost               *float64          `json:"cost,omitempty"`
	Params             map[string]*Param `json:"params,omitempty"`
	RunPatch           map[string]any    `json:"runPatch,omitempty"`
	HubRef             *string           `json:"hubRef,omitempty"`
	URLRef             *string           `json:"urlRef,omitempty"`
	PathRef            *string           `json:"pathRef,omitempty"`
	Component          *Component        `json:"component,omitempty"`
	IsPreset           *bool             `json:"isPreset,omitempty"`
	PatchStrategy      *PatchStrategy    `json:"patchStrategy,omitempty"`

	// Nulls lists the top-level fields explicitly set to null, by wire name.
	Nulls []string `json:"-"`
}

// OperationKind is the `kind` written on operations.
const OperationKind = "operation"

// IsNullField reports whether the named field was explicitly set to null.
func (o *Operation) IsNullField(name string) bool {
	for _, n := range o.Nulls {
		if n == name {
			return true
		}
	}
	return false
}

// SetNull marks a top-level field as explicitly null and clears it.
func (o *Operation) SetNull(name string) error {
	if err := clearField(o, name); err != nil {
		return err
	}
	if !o.IsNullField(name) {
		o.Nulls = append(o.Nulls, name)
	}
	return nil
}

// UnsetNull removes name from the explicit-null list.
func (o *Operation) UnsetNull(name string) {
	kept := o.Nulls[:0:0]
	for _, n := range o.Nulls {
		if n != name {
			kept = append(kept, n)
		}
	}
	if len(kept) == 0 {
		kept = nil
	}
	o.Nulls = kept
}

// Strategy returns the declared patch strategy or POST_MERGE.
func (o *Operation) Strategy() PatchStrategy {
	if o.PatchStrategy == nil || *o.PatchStrategy == "" {
		return PostMerge
	}
	return *o.PatchStrategy
}

// ComponentRefKind names the way an operation points at its component.
type ComponentRefKind string

const (
	RefHub    ComponentRefKind = "hubRef"
	RefURL    ComponentRefKind = "urlRef"
	RefPath   ComponentRefKind = "pathRef"
	RefInline ComponentRefKind = "component"
)

// ComponentRef is the single component reference of an operation.
type ComponentRef struct {
	Kind  ComponentRefKind
	Value string
}

func (r ComponentRef) String() string {
	if r.Kind == RefInline {
		return "inline component"
	}
	return fmt.Sprintf("%s %q", r.Kind, r.Value)
}

// ComponentRefs lists every component reference the operation sets.
func (o *Operation) ComponentRefs() []ComponentRef {
	var refs []ComponentRef
	if o.HubRef != nil {
		refs = append(refs, ComponentRef{Kind: RefHub, Value: *o.HubRef})
	}
	if o.URLRef != nil {
		refs = append(refs, ComponentRef{Kind: RefURL, Value: *o.URLRef})
	}
	if o.PathRef != nil {
		refs = append(refs, ComponentRef{Kind: RefPath, Value: *o.PathRef})
	}
	if o.Component != nil {
		refs = append(refs, ComponentRef{Kind: RefInline, Value: o.Component.Name})
	}
	return refs
}

// ComponentRef returns the operation's component reference, if any.
func (o *Operation) ComponentRef() (ComponentRef, bool) {
	refs := o.ComponentRefs()
	if len(refs) == 0 {
		return ComponentRef{}, false
	}
	return refs[0], true
}

// Clone returns a deep copy that shares no memory with o.
func (o *Operation) Clone() *Operation {
	if o == nil {
		return nil
	}
	return DeepCopy(o)
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
