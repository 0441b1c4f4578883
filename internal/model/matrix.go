// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package model

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/vk/opforge/internal/types"
)

// MatrixKind selects the search algorithm.
type MatrixKind string

const (
	MatrixMapping   MatrixKind = "mapping"
	MatrixGrid      MatrixKind = "grid"
	MatrixRandom    MatrixKind = "random"
	MatrixBayes     MatrixKind = "bayes"
	MatrixHyperband MatrixKind = "hyperband"
	MatrixIterative MatrixKind = "iterative"
)

// TunerDriven reports whether samples come from an external tuner.
func (k MatrixKind) TunerDriven() bool {
	return k == MatrixBayes || k == MatrixHyperband || k == MatrixIterative
}

// SpaceKind is the distribution or enumeration of a search space.
type SpaceKind string

const (
	SpaceChoice      SpaceKind = "choice"
	SpacePChoice     SpaceKind = "pchoice"
	SpaceRange       SpaceKind = "range"
	SpaceLinspace    SpaceKind = "linspace"
	SpaceLogspace    SpaceKind = "logspace"
	SpaceGeomspace   SpaceKind = "geomspace"
	SpaceUniform     SpaceKind = "uniform"
	SpaceQUniform    SpaceKind = "quniform"
	SpaceLogUniform  SpaceKind = "loguniform"
	SpaceQLogUniform SpaceKind = "qloguniform"
	SpaceNormal      SpaceKind = "normal"
	SpaceQNormal     SpaceKind = "qnormal"
	SpaceLogNormal   SpaceKind = "lognormal"
	SpaceQLogNormal  SpaceKind = "qlognormal"
)

// Discrete reports whether the space enumerates a finite set of values.
func (k SpaceKind) Discrete() bool {
	switch k {
	case SpaceChoice, SpacePChoice, SpaceRange, SpaceLinspace, SpaceLogspace, SpaceGeomspace:
		return true
	}
	return false
}

// Space is one parameter's search space. Value holds the kind-specific
// definition: a list, a map such as {start, stop, step}, or an "a:b:c" string.
type Space struct {
	Kind  SpaceKind `json:"kind"`
	Value any       `json:"value"`
}

type spaceAlias Space

var strictJSON = sonic.Config{UseInt64: true, DisallowUnknownFields: true}.Froze()

// UnmarshalJSON decodes strictly and normalizes the value.
func (s *Space) UnmarshalJSON(b []byte) error {
	var raw spaceAlias
	if err := strictJSON.Unmarshal(b, &raw); err != nil {
		return err
	}
	raw.Kind = SpaceKind(strings.ToLower(string(raw.Kind)))
	raw.Value = types.Normalize(raw.Value)
	*s = Space(raw)
	return nil
}

// Optimization is the direction a metric is optimized in.
type Optimization string

const (
	Maximize Optimization = "maximize"
	Minimize Optimization = "minimize"
)

// OptimizationMetric names the metric a tuner optimizes.
type OptimizationMetric struct {
	Name         string       `json:"name"`
	Optimization Optimization `json:"optimization"`
}

// OptimizationResource is the budgeted resource of hyperband.
type OptimizationResource struct {
	Name string     `json:"name"`
	Type types.Type `json:"type"`
}

// StoppingPolicy refines a metric early stopping rule.
type StoppingPolicy struct {
	Kind               string `json:"kind"`
	EvaluationInterval *int   `json:"evaluationInterval,omitempty"`
	MinInterval        *int   `json:"minInterval,omitempty"`
	MinSamples         *int   `json:"minSamples,omitempty"`
	Percent            *int   `json:"percent,omitempty"`
}

// Early stopping kinds.
const (
	MetricEarlyStopping  = "metric_early_stopping"
	FailureEarlyStopping = "failure_early_stopping"
)

// Stopping policy kinds.
const (
	PolicyMedian     = "median"
	PolicyTruncation = "truncation"
	PolicyDiff       = "diff"
)

// EarlyStopping ends a search when a metric crosses a threshold, a policy
// fires, or too many trials fail.
type EarlyStopping struct {
	Kind         string          `json:"kind"`
	Metric       string          `json:"metric,omitempty"`
	Value        *float64        `json:"value,omitempty"`
	Optimization Optimization    `json:"optimization,omitempty"`
	Percent      *int            `json:"percent,omitempty"`
	Policy       *StoppingPolicy `json:"policy,omitempty"`
}

// TunerHook is the component that drives a tuner-driven search.
type TunerHook struct {
	HubRef  string            `json:"hubRef,omitempty"`
	Queue   string            `json:"queue,omitempty"`
	Presets []string          `json:"presets,omitempty"`
	Params  map[string]*Param `json:"params,omitempty"`
}

// Matrix is a hyperparameter search specification.
type Matrix struct {
	Kind            MatrixKind                             `json:"kind"`
	Values          []map[string]any                       `json:"values,omitempty"`
	Params          *orderedmap.OrderedMap[string, *Space] `json:"params,omitempty"`
	Concurrency     *int                                   `json:"concurrency,omitempty"`
	NumRuns         *int                                   `json:"numRuns,omitempty"`
	Seed            *int64                                 `json:"seed,omitempty"`
	EarlyStopping   []*EarlyStopping                       `json:"earlyStopping,omitempty"`
	Tuner           *TunerHook                             `json:"tuner,omitempty"`
	Metric          *OptimizationMetric                    `json:"metric,omitempty"`
	NumInitialRuns  *int                                   `json:"numInitialRuns,omitempty"`
	MaxIterations   *int                                   `json:"maxIterations,omitempty"`
	Eta             *float64                               `json:"eta,omitempty"`
	Resource        *OptimizationResource                  `json:"resource,omitempty"`
	Resume          *bool                                  `json:"resume,omitempty"`
	UtilityFunction map[string]any                         `json:"utilityFunction,omitempty"`
}

// ParamNames lists the names a matrix assigns, in declaration order. For
// mapping matrices the names are collected from every row in first-seen order.
func (m *Matrix) ParamNames() []string {
	if m == nil {
		return nil
	}
	var names []string
	if m.Params != nil {
		for pair := m.Params.Oldest(); pair != nil; pair = pair.Next() {
			names = append(names, pair.Key)
		}
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	for _, row := range m.Values {
		keys := sortedKeys(row)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	return names
}

// NewSpaces builds an ordered params map from name/space pairs.
func NewSpaces(pairs ...any) *orderedmap.OrderedMap[string, *Space] {
	if len(pairs)%2 != 0 {
		panic(fmt.Sprintf("NewSpaces: odd number of arguments (%d)", len(pairs)))
	}
	om := orderedmap.New[string, *Space]()
	for i := 0; i < len(pairs); i += 2 {
		om.Set(pairs[i].(string), pairs[i+1].(*Space))
	}
	return om
}
