package ref

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/vk/opforge/internal/engineerr"
)

// segmentRegex parses a single field segment, e.g. `name` or `name[1]`.
var segmentRegex = regexp.MustCompile(`^([a-zA-Z0-9_-]+)(?:\[(\d+)\])?$`)

// entityRegex matches operation names.
var entityRegex = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_-]*$`)

var entitySections = map[string]bool{
	Inputs: true, Outputs: true, Artifacts: true, SectionGlobals: true, Status: true,
}

var dagSections = map[string]bool{
	Inputs: true, Outputs: true, Artifacts: true, SectionGlobals: true,
}

// Parse creates a Ref from its canonical string form. Malformed input fails
// with engineerr.BadReference.
func Parse(raw string) (Ref, error) {
	r, err := parse(strings.TrimSpace(raw))
	if err != nil {
		return Ref{}, engineerr.Wrap(engineerr.BadReference, "", err, "invalid reference %q", raw)
	}
	return r, nil
}

// IsRef reports whether s parses as a reference.
func IsRef(s string) bool {
	_, err := parse(strings.TrimSpace(s))
	return err == nil
}

func parse(raw string) (Ref, error) {
	if raw == "" {
		return Ref{}, fmt.Errorf("reference cannot be empty")
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if p == "" {
			return Ref{}, fmt.Errorf("reference contains empty segment")
		}
	}

	r := Ref{Kind: Kind(parts[0])}
	rest := parts[1:]

	switch r.Kind {
	case Ops, Runs:
		if len(rest) == 0 {
			return Ref{}, fmt.Errorf("%s reference requires an entity", r.Kind)
		}
		entity := rest[0]
		if r.Kind == Ops && !entityRegex.MatchString(entity) {
			return Ref{}, fmt.Errorf("invalid operation name %q", entity)
		}
		if r.Kind == Runs {
			id, err := uuid.Parse(entity)
			if err != nil {
				return Ref{}, fmt.Errorf("invalid run uuid %q: %w", entity, err)
			}
			entity = id.String()
		}
		r.Entity = entity
		rest = rest[1:]
		if len(rest) == 0 {
			return r, nil
		}
		if !entitySections[rest[0]] {
			return Ref{}, fmt.Errorf("unknown section %q", rest[0])
		}
		r.Section = rest[0]
		rest = rest[1:]
		if r.Section == Status {
			if len(rest) > 0 {
				return Ref{}, fmt.Errorf("status takes no field path")
			}
			return r, nil
		}
		if len(rest) == 0 {
			return Ref{}, fmt.Errorf("section %q requires a field", r.Section)
		}
	case DAG:
		if len(rest) == 0 || !dagSections[rest[0]] {
			return Ref{}, fmt.Errorf("dag reference requires one of inputs, outputs, artifacts, globals")
		}
		r.Section = rest[0]
		rest = rest[1:]
		if len(rest) == 0 {
			return Ref{}, fmt.Errorf("section %q requires a field", r.Section)
		}
	case Globals, System, Env:
		if len(rest) == 0 {
			return Ref{}, fmt.Errorf("%s reference requires a field", r.Kind)
		}
	default:
		return Ref{}, fmt.Errorf("unknown reference kind %q", parts[0])
	}

	path, err := parsePath(rest)
	if err != nil {
		return Ref{}, err
	}
	r.Path = path
	return r, nil
}

func parsePath(parts []string) ([]Segment, error) {
	path := make([]Segment, 0, len(parts))
	for _, p := range parts {
		matches := segmentRegex.FindStringSubmatch(p)
		if matches == nil {
			return nil, fmt.Errorf("invalid path segment format: %q", p)
		}
		segment := NewSegment(matches[1])
		if matches[2] != "" {
			index, err := strconv.Atoi(matches[2])
			if err != nil {
				// Unreachable due to regex `\d+`
				return nil, fmt.Errorf("internal error parsing index: %w", err)
			}
			segment.Index = index
		}
		path = append(path, segment)
	}
	return path, nil
}
