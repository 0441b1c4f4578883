package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/vk/opforge/internal/ctxlog"
	"github.com/vk/opforge/internal/registry"
	"github.com/vk/opforge/internal/resolver"
)

// App holds the collaborators of one invocation.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	registry *registry.Registry
	resolver *resolver.Chain
}

// NewApp builds an App. Documents are written to outW and logs to logW. The
// registry is loaded eagerly so that a broken registry fails before any
// operation is read.
func NewApp(ctx context.Context, outW, logW io.Writer, cfg *Config) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, logW)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Logger configured successfully.")

	var reg *registry.Registry
	if cfg.RegistryDir != "" {
		var err error
		reg, err = registry.Load(ctx, cfg.RegistryDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load registry: %w", err)
		}
		logger.Debug("Registry ready.", "components", len(reg.Components()), "presets", len(reg.Presets()))
	}

	baseDir := "."
	if cfg.OperationPath != "" {
		baseDir = filepath.Dir(cfg.OperationPath)
	}

	return &App{
		outW:     outW,
		logger:   logger,
		config:   cfg,
		registry: reg,
		resolver: resolver.New(reg, resolver.WithBaseDir(baseDir)),
	}, nil
}

// Registry returns the loaded registry, nil when none was configured.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Close releases the resolver's network resources.
func (a *App) Close() error {
	return a.resolver.Close()
}
