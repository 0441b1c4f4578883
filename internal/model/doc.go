// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// Package model provides the Go struct representation of the declarative
// workflow documents handled by the compilation engine.
//
// # Core Concepts
//
//   - Component: The reusable "template" of a workload. It declares a contract
//     of typed inputs and outputs plus a free-form `run` payload whose `kind`
//     selects the runtime (job, service, dag, ...).
//
//   - Operation: An invocation of a Component, referenced by hubRef, urlRef,
//     pathRef or carried inline. It binds params to the component's inputs and
//     carries lifecycle decorations (schedule, events, matrix, hooks, ...).
//
//   - Preset: Structurally an Operation with isPreset set. It carries only the
//     fields it overlays plus the patch strategy to apply them with.
//
//   - CompiledOperation: The output of compilation. The component is inline, its
//     run payload is materialized and every declared input is bound.
//
// # Presence
//
// Scalar fields are pointers and containers are nil when unset, so an unset
// field is distinguishable from a zero value. A non-nil empty list or map is
// "present and empty". Top-level fields set to an explicit null are recorded in
// Operation.Nulls so that overlays can clear a field on purpose.
//
// Field names on the wire are camelCase. Unknown fields are rejected everywhere
// except inside free-form payloads (`run`, `runPatch`, param values), which pass
// through verbatim.
package model
