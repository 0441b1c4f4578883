package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/opforge/internal/codec"
	"github.com/vk/opforge/internal/ctxlog"
	"github.com/vk/opforge/internal/fsutil"
	"github.com/vk/opforge/internal/model"
)

// Extensions are the file extensions Load reads.
var Extensions = []string{".yaml", ".yml", ".json"}

// Load reads every document under root into a new Registry and validates it.
func Load(ctx context.Context, root string) (*Registry, error) {
	reg := New()
	if err := reg.LoadDir(ctx, root); err != nil {
		return nil, err
	}
	if err := reg.Validate(ctx); err != nil {
		return nil, err
	}
	return reg, nil
}

// LoadDir adds the documents under root to the registry. Problems with
// individual files are collected and returned as one *ValidationError.
func (reg *Registry) LoadDir(ctx context.Context, root string) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Registry loading documents.", "path", root)

	paths, err := fsutil.FindFilesByExtension(root, Extensions...)
	if err != nil {
		return fmt.Errorf("failed to walk registry directory %s: %w", root, err)
	}
	if len(paths) == 0 {
		logger.Warn("No registry documents found.", "path", root)
		return nil
	}

	var problems problems
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		if err := reg.loadFile(path, rel); err != nil {
			problems.add("%s: %v", rel, err)
			continue
		}
		logger.Debug("Registry loaded document.", "file", rel)
	}

	logger.Info("Registry loaded.", "components", len(reg.components), "presets", len(reg.presets))
	return problems.err()
}

func (reg *Registry) loadFile(path, rel string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	doc, err := codec.DecodeDocument(data)
	if err != nil {
		return err
	}
	if doc.Component != nil {
		key, err := HubKey(rel)
		if err != nil {
			return err
		}
		return reg.AddComponent(key, doc.Component, rel)
	}
	op := doc.Operation
	if op.IsPreset == nil || !*op.IsPreset {
		return fmt.Errorf("operation is not a preset; set isPreset: true")
	}
	return reg.AddPreset(presetKey(op.Name, rel), op, rel)
}

// AddComponent registers c under key. source names where c came from.
func (reg *Registry) AddComponent(key string, c *model.Component, source string) error {
	if prev, ok := reg.components[key]; ok {
		return fmt.Errorf("component %q is already defined in %s", key, prev.source)
	}
	reg.components[key] = &entry[model.Component]{value: c, source: source}
	return nil
}

// AddPreset registers p under name. source names where p came from.
func (reg *Registry) AddPreset(name string, p *model.Operation, source string) error {
	if prev, ok := reg.presets[name]; ok {
		return fmt.Errorf("preset %q is already defined in %s", name, prev.source)
	}
	reg.presets[name] = &entry[model.Operation]{value: p, source: source}
	return nil
}
