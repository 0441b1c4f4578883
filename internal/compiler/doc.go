// Package compiler turns an operation, its presets and its component into a
// CompiledOperation.
//
// # Why Compiler Exists
//
// Operations are written for people: they point at a component by reference,
// stack presets on top of each other, leave inputs to their defaults and use
// `{{ }}` placeholders. Runtime converters need the opposite: one document
// with the component inline, every input bound and every decoration checked.
// The compiler is the single place that performs that transformation, so the
// converters never have to know about presets, refs or templates.
//
// # How It Works
//
// Compile runs a fixed pipeline and polls the context between steps:
//  1. Fold: the operation body seeds the fold, then declared presets and
//     caller presets are applied left to right with their own strategy.
//     Caller params, overrides and context params are merged last.
//  2. Resolve component: inline, or through the Resolver for hubRef, urlRef
//     and pathRef.
//  3. Bind component: deep copy, and merge runPatch into run (POST_MERGE).
//  4. Resolve params against the declared inputs and outputs.
//  5. Normalize decorations: schedule, events, joins, termination, plugins,
//     cache, hooks, build, trigger and matrix each have a normalizer.
//  6. Evaluate the context: refs and placeholders are substituted, then the
//     substituted values are type checked again.
//
// Expand stops after step 3 and hands the prepared operation to the matrix
// package, which re-runs steps 4 to 6 for every trial.
//
// # Errors
//
// Every failure is an *engineerr.Error whose path points into the operation
// document. No partial CompiledOperation is returned.
package compiler
