package compiler

import (
	"context"

	"github.com/vk/opforge/internal/model"
)

//go:generate mockgen -destination ../mock/compilermock/Resolver_mock.go --package compilermock -source interface.go

// Resolver dereferences components and named presets. Implementations are
// owned by the caller; the compiler may call them from several goroutines
// when a matrix is expanded concurrently.
type Resolver interface {
	// ResolveComponent returns the component ref points at. A nil component
	// with a nil error means the reference does not exist.
	ResolveComponent(ctx context.Context, ref model.ComponentRef) (*model.Component, error)
	// ResolvePreset returns the preset registered under name, or nil.
	ResolvePreset(ctx context.Context, name string) (*model.Operation, error)
}
