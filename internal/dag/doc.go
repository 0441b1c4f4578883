// Package dag is a small directed graph of operation names used to plan the
// inner operations of a `dag` run. Edges point from an upstream operation to
// the operations that depend on it. The graph detects cycles and produces a
// deterministic topological order.
package dag
