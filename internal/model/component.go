// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package model

import (
	"fmt"
	"strings"

	"github.com/vk/opforge/internal/types"
)

// RunKind discriminates the runtime a component's `run` payload targets.
type RunKind string

const (
	RunJob      RunKind = "job"
	RunService  RunKind = "service"
	RunMPI      RunKind = "mpi"
	RunDask     RunKind = "dask"
	RunRay      RunKind = "ray"
	RunPytorch  RunKind = "pytorch"
	RunTF       RunKind = "tf"
	RunPaddle   RunKind = "paddle"
	RunXGBoost  RunKind = "xgboost"
	RunNotifier RunKind = "notifier"
	RunBuilder  RunKind = "builder"
	RunTuner    RunKind = "tuner"
	RunDAG      RunKind = "dag"
	RunCleaner  RunKind = "cleaner"
	RunWatchdog RunKind = "watchdog"
)

var runKinds = map[RunKind]bool{
	RunJob: true, RunService: true, RunMPI: true, RunDask: true, RunRay: true,
	RunPytorch: true, RunTF: true, RunPaddle: true, RunXGBoost: true, RunNotifier: true,
	RunBuilder: true, RunTuner: true, RunDAG: true, RunCleaner: true, RunWatchdog: true,
}

// runKindAliases maps the long-form spellings onto the canonical kinds.
var runKindAliases = map[string]RunKind{
	"mpijob":     RunMPI,
	"daskjob":    RunDask,
	"rayjob":     RunRay,
	"pytorchjob": RunPytorch,
	"tfjob":      RunTF,
	"paddlejob":  RunPaddle,
	"xgbjob":     RunXGBoost,
}

// ParseRunKind canonicalizes a run kind spelling.
func ParseRunKind(s string) (RunKind, error) {
	k := strings.ToLower(strings.TrimSpace(s))
	if alias, ok := runKindAliases[k]; ok {
		return alias, nil
	}
	if runKinds[RunKind(k)] {
		return RunKind(k), nil
	}
	return "", fmt.Errorf("unknown run kind %q", s)
}

// Run is the free-form runtime payload of a component. Fields other than
// `kind` are passed through verbatim to the runtime converter.
type Run map[string]any

// Kind returns the raw `kind` discriminator.
func (r Run) Kind() string {
	k, _ := r["kind"].(string)
	return k
}

// IO declares one typed input or output of a component.
type IO struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Type        types.Type `json:"type"`
	// Value is the default; only meaningful when IsOptional is set.
	Value      any    `json:"value,omitempty"`
	IsOptional bool   `json:"isOptional,omitempty"`
	Options    []any  `json:"options,omitempty"`
	Connection string `json:"connection,omitempty"`
	ToInit     bool   `json:"toInit,omitempty"`
	ToEnv      string `json:"toEnv,omitempty"`
	Delay      bool   `json:"delay,omitempty"`
	ArgFormat  string `json:"argFormat,omitempty"`
	// Deprecated: use a list[T] type instead.
	IsList *bool `json:"isList,omitempty"`
}

// HasDefault reports whether the input can be left unbound.
func (io *IO) HasDefault() bool { return io.IsOptional }

// Component is a reusable, parameterized workload definition.
type Component struct {
	Version     *Version     `json:"version,omitempty"`
	Kind        string       `json:"kind,omitempty"`
	Name        string       `json:"name,omitempty"`
	Description string       `json:"description,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	Presets     []string     `json:"presets,omitempty"`
	Queue       *string      `json:"queue,omitempty"`
	Cache       *Cache       `json:"cache,omitempty"`
	Termination *Termination `json:"termination,omitempty"`
	Plugins     *Plugins     `json:"plugins,omitempty"`
	Inputs      []*IO        `json:"inputs,omitempty"`
	Outputs     []*IO        `json:"outputs,omitempty"`
	Run         Run          `json:"run"`
}

// Input returns the declared input with the given name.
func (c *Component) Input(name string) (*IO, bool) {
	return findIO(c.Inputs, name)
}

// Output returns the declared output with the given name.
func (c *Component) Output(name string) (*IO, bool) {
	return findIO(c.Outputs, name)
}

func findIO(list []*IO, name string) (*IO, bool) {
	for _, io := range list {
		if io != nil && io.Name == name {
			return io, true
		}
	}
	return nil, false
}
