package engineerr

import (
	"context"
	"sync"

	"github.com/vk/opforge/internal/ctxlog"
)

// Warning is a non-fatal diagnostic. Warnings never replace an error.
type Warning struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Sink receives warnings out of band.
type Sink func(Warning)

// LogSink returns a Sink that writes warnings to the logger carried by ctx.
func LogSink(ctx context.Context) Sink {
	logger := ctxlog.FromContext(ctx)
	return func(w Warning) {
		logger.Warn(w.Message, "path", w.Path)
	}
}

// Collector accumulates warnings. It is safe for concurrent use.
type Collector struct {
	mu       sync.Mutex
	warnings []Warning
}

// Sink returns a Sink that appends to the collector.
func (c *Collector) Sink() Sink {
	return func(w Warning) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.warnings = append(c.warnings, w)
	}
}

// Warnings returns a copy of the collected warnings.
func (c *Collector) Warnings() []Warning {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Warning, len(c.warnings))
	copy(out, c.warnings)
	return out
}
