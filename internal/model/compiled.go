// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package model

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// CompiledOperationKind is the `kind` written on compiled operations.
const CompiledOperationKind = "compiled_operation"

// CompiledOperation is a fully resolved operation. Its component is inline,
// its run payload includes the merged runPatch, and every declared input is
// bound in Params, in declaration order.
type CompiledOperation struct {
	Version            *Version                                    `json:"version,omitempty"`
	Kind               string                                      `json:"kind"`
	Name               *string                                     `json:"name,omitempty"`
	Description        *string                                     `json:"description,omitempty"`
	Tags               []string                                    `json:"tags,omitempty"`
	Queue              *string                                     `json:"queue,omitempty"`
	Namespace          *string                                     `json:"namespace,omitempty"`
	Cache              *Cache                                      `json:"cache,omitempty"`
	Termination        *Termination                                `json:"termination,omitempty"`
	Plugins            *Plugins                                    `json:"plugins,omitempty"`
	Build              *Build                                      `json:"build,omitempty"`
	Hooks              []*Hook                                     `json:"hooks,omitempty"`
	Schedule           *Schedule                                   `json:"schedule,omitempty"`
	Events             []*EventTrigger                             `json:"events,omitempty"`
	Joins              []*Join                                     `json:"joins,omitempty"`
	Matrix             *Matrix                                     `json:"matrix,omitempty"`
	Dependencies       []string                                    `json:"dependencies,omitempty"`
	Trigger            *string                                     `json:"trigger,omitempty"`
	Conditions         *string                                     `json:"conditions,omitempty"`
	SkipOnUpstreamSkip *bool                                       `json:"skipOnUpstreamSkip,omitempty"`
	IsApproved         *bool                                       `json:"isApproved,omitempty"`
	Cost               *float64                                    `json:"cost,omitempty"`
	Params             *orderedmap.OrderedMap[string, *BoundParam] `json:"params,omitempty"`
	Component          *Component                                  `json:"component"`
}

// Param returns the bound param with the given name.
func (c *CompiledOperation) Param(name string) (*BoundParam, bool) {
	if c.Params == nil {
		return nil, false
	}
	return c.Params.Get(name)
}

// ParamValues returns name → value for every bound param.
func (c *CompiledOperation) ParamValues() map[string]any {
	out := make(map[string]any)
	if c.Params == nil {
		return out
	}
	for pair := c.Params.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = pair.Value.Value
	}
	return out
}

// Run returns the materialized run payload.
func (c *CompiledOperation) Run() Run {
	if c.Component == nil {
		return nil
	}
	return c.Component.Run
}

// NameOr returns the operation name, or fallback when unnamed.
func (c *CompiledOperation) NameOr(fallback string) string {
	if c.Name == nil || *c.Name == "" {
		return fallback
	}
	return *c.Name
}

// Clone returns a deep copy that shares no memory with c.
func (c *CompiledOperation) Clone() *CompiledOperation {
	if c == nil {
		return nil
	}
	return DeepCopy(c)
}
