// Package app wires the engine together for one invocation: it loads the
// registry, builds the resolver and compiler, and runs a single command
// against them. It is decoupled from flag parsing and process exit codes.
package app
