// Package resolver dereferences component and preset references for the
// compiler. Hub references and presets come from a registry, path references
// from the local file system and URL references from file:// or HTTP(S)
// locations.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"resty.dev/v3"

	"github.com/vk/opforge/internal/codec"
	"github.com/vk/opforge/internal/ctxlog"
	"github.com/vk/opforge/internal/model"
	"github.com/vk/opforge/internal/registry"
)

// Chain implements compiler.Resolver. It is safe for concurrent use.
type Chain struct {
	registry *registry.Registry
	baseDir  string
	client   *resty.Client

	fetches singleflight.Group
	mu      sync.Mutex
	remote  map[string]*model.Component
}

// Option configures a Chain.
type Option func(*Chain)

// WithBaseDir sets the directory relative path references are read from.
func WithBaseDir(dir string) Option {
	return func(c *Chain) { c.baseDir = dir }
}

// WithHTTPClient replaces the client used for http and https URL references.
func WithHTTPClient(client *resty.Client) Option {
	return func(c *Chain) { c.client = client }
}

// New creates a Chain over reg, which may be nil.
func New(reg *registry.Registry, opts ...Option) *Chain {
	c := &Chain{
		registry: reg,
		baseDir:  ".",
		remote:   make(map[string]*model.Component),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = resty.New().
			SetTimeout(30 * time.Second).
			SetRetryCount(2).
			SetHeader("Accept", "application/yaml, application/json")
	}
	return c
}

// Close releases the HTTP client.
func (c *Chain) Close() error {
	return c.client.Close()
}

// ResolveComponent returns a copy of the component ref points at, or nil when
// it does not exist.
func (c *Chain) ResolveComponent(ctx context.Context, ref model.ComponentRef) (*model.Component, error) {
	switch ref.Kind {
	case model.RefHub:
		if c.registry == nil {
			return nil, nil
		}
		comp, ok := c.registry.Component(ref.Value)
		if !ok {
			return nil, nil
		}
		return comp, nil
	case model.RefPath:
		return c.readFile(c.localPath(ref.Value))
	case model.RefURL:
		return c.fromURL(ctx, ref.Value)
	}
	return nil, fmt.Errorf("cannot resolve a %s reference", ref.Kind)
}

// ResolvePreset returns a copy of the preset registered under name, or nil.
func (c *Chain) ResolvePreset(_ context.Context, name string) (*model.Operation, error) {
	if c.registry == nil {
		return nil, nil
	}
	p, ok := c.registry.Preset(name)
	if !ok {
		return nil, nil
	}
	return p, nil
}

func (c *Chain) localPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.baseDir, p)
}

func (c *Chain) readFile(path string) (*model.Component, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read component %s: %w", path, err)
	}
	comp, err := codec.DecodeComponent(data)
	if err != nil {
		return nil, fmt.Errorf("invalid component %s: %w", path, err)
	}
	return comp, nil
}

func (c *Chain) fromURL(ctx context.Context, raw string) (*model.Component, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid component url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "file":
		return c.readFile(c.localPath(filepath.FromSlash(u.Host + u.Path)))
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported url scheme %q in %q", u.Scheme, raw)
	}

	c.mu.Lock()
	cached, ok := c.remote[raw]
	c.mu.Unlock()
	if ok {
		return copyOf(cached), nil
	}

	v, err, _ := c.fetches.Do(raw, func() (any, error) {
		comp, err := c.fetch(ctx, raw)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.remote[raw] = comp
		c.mu.Unlock()
		return comp, nil
	})
	if err != nil {
		return nil, err
	}
	return copyOf(v.(*model.Component)), nil
}

func (c *Chain) fetch(ctx context.Context, raw string) (*model.Component, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Fetching component.", "url", raw)

	resp, err := c.client.R().SetContext(ctx).Get(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch component %s: %w", raw, err)
	}
	switch {
	case resp.StatusCode() == 404:
		logger.Debug("Component not found.", "url", raw)
		return nil, nil
	case !resp.IsSuccess():
		return nil, fmt.Errorf("failed to fetch component %s: %s", raw, resp.Status())
	}
	comp, err := codec.DecodeComponent(resp.Bytes())
	if err != nil {
		return nil, fmt.Errorf("invalid component %s: %w", raw, err)
	}
	return comp, nil
}

func copyOf(c *model.Component) *model.Component {
	if c == nil {
		return nil
	}
	return model.DeepCopy(c)
}
