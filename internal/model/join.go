// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package model

// Join is a fan-in descriptor selecting upstream runs with a query.
type Join struct {
	Query  string                `json:"query"`
	Sort   string                `json:"sort,omitempty"`
	Limit  *int                  `json:"limit,omitempty"`
	Offset *int                  `json:"offset,omitempty"`
	Params map[string]*JoinParam `json:"params,omitempty"`
}

// JoinParam collects one field of every selected run into a list param.
// Value is a section-qualified field, e.g. `outputs.loss` or `globals.uuid`.
type JoinParam struct {
	Value       string `json:"value"`
	ContextOnly bool   `json:"contextOnly,omitempty"`
	ToInit      bool   `json:"toInit,omitempty"`
}
