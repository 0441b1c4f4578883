package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/opforge/internal/ctxlog"
)

// ValidationError lists every problem found in a registry.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("registry validation failed:\n- %s", strings.Join(e.Problems, "\n- "))
}

type problems []string

func (p *problems) add(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return &ValidationError{Problems: p}
}

// Validate checks the registry as a whole: presets must not chain other
// presets, and components must declare a run.
func (r *Registry) Validate(ctx context.Context) error {
	var errs problems
	logger := ctxlog.FromContext(ctx)

	for _, name := range r.Presets() {
		e := r.presets[name]
		if len(e.value.Presets) > 0 {
			errs.add("preset %q (%s): presets cannot list other presets, got %v", name, e.source, e.value.Presets)
		}
		if e.value.Matrix != nil {
			logger.Warn("Preset carries a matrix; it replaces or merges the operation's matrix as a whole.", "preset", name)
		}
	}
	for _, key := range r.Components() {
		e := r.components[key]
		if e.value.Run == nil {
			errs.add("component %q (%s): run section is required", key, e.source)
		}
	}
	return errs.err()
}
