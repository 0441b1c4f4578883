// Package ref provides a structured representation of the dotted references
// a param or template may point at, e.g. `ops.train.outputs.model` or
// `runs.<uuid>.artifacts.metrics[0]`.
//
// The format is a dot-separated sequence of segments. The first segment is the
// namespace kind; ops and runs take an entity name next; then an optional
// section and a field path. Field path segments may carry a list index.
package ref

import (
	"fmt"
	"strings"
)

// Kind is the namespace a reference resolves against.
type Kind string

const (
	Ops     Kind = "ops"
	Runs    Kind = "runs"
	DAG     Kind = "dag"
	Globals Kind = "globals"
	System  Kind = "system"
	Env     Kind = "env"
)

// Kinds lists every reference namespace in a stable order.
var Kinds = []Kind{Ops, Runs, DAG, Globals, System, Env}

// Sections that can follow an ops/runs entity or the dag root.
const (
	Inputs         = "inputs"
	Outputs        = "outputs"
	Artifacts      = "artifacts"
	SectionGlobals = "globals"
	Status         = "status"
)

// Segment is a single field of a reference path, e.g. `name` or `name[1]`.
type Segment struct {
	Name  string
	Index int // -1 indicates no index is present.
}

// NewSegment creates a segment without an index.
func NewSegment(name string) Segment {
	return Segment{Name: name, Index: -1}
}

// NewIndexedSegment creates a segment that includes an index.
func NewIndexedSegment(name string, index int) Segment {
	return Segment{Name: name, Index: index}
}

// HasIndex returns true if the segment has an explicit index.
func (s Segment) HasIndex() bool {
	return s.Index != -1
}

func (s Segment) String() string {
	if s.HasIndex() {
		return fmt.Sprintf("%s[%d]", s.Name, s.Index)
	}
	return s.Name
}

// Ref is a parsed reference.
type Ref struct {
	Kind Kind
	// Entity is the operation name or run uuid. Empty for other kinds.
	Entity string
	// Section is inputs/outputs/artifacts/globals/status. Empty for
	// globals, system and env references and for bare entity references.
	Section string
	Path    []Segment
}

// String serializes the reference into its canonical dotted form.
func (r Ref) String() string {
	parts := []string{string(r.Kind)}
	if r.Entity != "" {
		parts = append(parts, r.Entity)
	}
	if r.Section != "" {
		parts = append(parts, r.Section)
	}
	for _, s := range r.Path {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, ".")
}

// IsEntity reports whether r names an entity without selecting a field.
func (r Ref) IsEntity() bool {
	return (r.Kind == Ops || r.Kind == Runs) && r.Section == "" && len(r.Path) == 0
}

// Key returns the first path segment name, which is the param/output key for
// section references.
func (r Ref) Key() string {
	if len(r.Path) == 0 {
		return ""
	}
	return r.Path[0].Name
}

// Equal reports structural equality.
func (r Ref) Equal(other Ref) bool {
	if r.Kind != other.Kind || r.Entity != other.Entity || r.Section != other.Section || len(r.Path) != len(other.Path) {
		return false
	}
	for i := range r.Path {
		if r.Path[i] != other.Path[i] {
			return false
		}
	}
	return true
}
