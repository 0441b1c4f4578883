package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/vk/opforge/internal/codec"
	"github.com/vk/opforge/internal/compiler"
	"github.com/vk/opforge/internal/ctxlog"
	"github.com/vk/opforge/internal/engineerr"
	"github.com/vk/opforge/internal/evaluator"
	"github.com/vk/opforge/internal/model"
	"github.com/vk/opforge/internal/types"
)

// Run executes the configured command and writes its document to the
// output writer.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.", "command", a.config.Command)

	var (
		out any
		err error
	)
	switch a.config.Command {
	case CommandCompile:
		out, err = a.compile(ctx)
	case CommandValidate:
		out, err = a.validate(ctx)
	case CommandSchema:
		out, err = Schema(a.config.SchemaTarget)
	default:
		err = fmt.Errorf("unknown command %q", a.config.Command)
	}
	if err != nil {
		return err
	}

	data, err := codec.Encode(out, a.config.Output)
	if err != nil {
		return err
	}
	if _, err := a.outW.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	a.logger.Debug("App.Run method finished.")
	return nil
}

// dagOutput is what compile prints for a dag operation.
type dagOutput struct {
	Operation  *model.CompiledOperation   `json:"operation"`
	Order      []string                   `json:"order"`
	Upstream   map[string][]string        `json:"upstream"`
	Operations []*model.CompiledOperation `json:"operations"`
}

func (a *App) compile(ctx context.Context) (any, error) {
	op, err := a.readOperation()
	if err != nil {
		return nil, err
	}
	ns, err := a.namespace()
	if err != nil {
		return nil, err
	}
	ov, err := a.overrides(ctx, op)
	if err != nil {
		return nil, err
	}

	c := compiler.New(a.resolver, compiler.Options{
		Strict:    a.config.Strict,
		Namespace: ns,
	})
	if a.config.Expand {
		ops, err := c.CompileAll(ctx, op, ov)
		if err != nil {
			return nil, err
		}
		a.logger.Info("Operation expanded.", "trials", len(ops))
		return ops, nil
	}

	compiled, err := c.Compile(ctx, op, ov)
	if err != nil {
		return nil, err
	}
	if compiled.Run().Kind() != string(model.RunDAG) {
		a.logger.Info("Operation compiled.", "name", compiled.NameOr(""))
		return compiled, nil
	}
	plan, err := compiler.CompileDAG(ctx, c, compiled)
	if err != nil {
		return nil, err
	}
	a.logger.Info("DAG compiled.", "name", compiled.NameOr(""), "operations", len(plan.Order))
	return &dagOutput{
		Operation:  compiled,
		Order:      plan.Order,
		Upstream:   plan.Upstream,
		Operations: plan.Operations,
	}, nil
}

// validation is what validate prints.
type validation struct {
	Valid    bool                `json:"valid"`
	Kind     string              `json:"kind"`
	Warnings []engineerr.Warning `json:"warnings,omitempty"`
}

func (a *App) validate(ctx context.Context) (any, error) {
	data, err := os.ReadFile(a.config.OperationPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", a.config.OperationPath, err)
	}
	doc, err := codec.DecodeDocument(data)
	if err != nil {
		return nil, err
	}
	if doc.Component != nil || isPreset(doc.Operation) {
		kind := doc.Kind()
		if doc.Component == nil {
			kind = "preset"
		}
		return &validation{Valid: true, Kind: kind}, nil
	}

	var collected engineerr.Collector
	c := compiler.New(a.resolver, compiler.Options{Warnings: collected.Sink()})
	if _, err := c.Compile(ctx, doc.Operation, compiler.Overrides{}); err != nil {
		return nil, err
	}
	return &validation{Valid: true, Kind: doc.Kind(), Warnings: collected.Warnings()}, nil
}

func (a *App) readOperation() (*model.Operation, error) {
	data, err := os.ReadFile(a.config.OperationPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read operation %s: %w", a.config.OperationPath, err)
	}
	return codec.DecodeOperation(data)
}

// namespace reads the context document. Its top-level keys name the
// namespace roots: globals, ops, runs, dag, system, env and params.
func (a *App) namespace() (*evaluator.Namespace, error) {
	if a.config.ContextPath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(a.config.ContextPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read context %s: %w", a.config.ContextPath, err)
	}
	raw, err := codec.DecodeValue(data)
	if err != nil {
		return nil, engineerr.Under("/context", err)
	}

	var ns evaluator.Namespace
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &ns,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid context %s: %w", a.config.ContextPath, err)
	}
	return &ns, nil
}

func (a *App) overrides(ctx context.Context, op *model.Operation) (compiler.Overrides, error) {
	var ov compiler.Overrides
	for i, name := range a.config.Presets {
		p, err := a.preset(ctx, name)
		if err != nil {
			return ov, engineerr.Under(engineerr.Pointer("presets", engineerr.Index(len(op.Presets)+i)), err)
		}
		ov.Presets = append(ov.Presets, p)
	}
	if len(a.config.Params) == 0 {
		return ov, nil
	}

	comp, err := a.declaration(ctx, op)
	if err != nil {
		return ov, err
	}
	ov.Params = make(map[string]*model.Param, len(a.config.Params))
	for _, kv := range a.config.Params {
		name, value, err := parseParam(comp, kv)
		if err != nil {
			return ov, err
		}
		ov.Params[name] = model.Literal(value)
	}
	return ov, nil
}

// preset loads a caller preset by registry name, or from a file when name
// carries a document extension.
func (a *App) preset(ctx context.Context, name string) (*model.Operation, error) {
	if hasDocumentExtension(name) {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.InvalidPreset, "", err, "cannot read preset file %q", name)
		}
		return codec.DecodePreset(data)
	}
	p, err := a.resolver.ResolvePreset(ctx, name)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.InvalidPreset, "", err, "cannot resolve preset %q", name)
	}
	if p == nil {
		return nil, engineerr.New(engineerr.InvalidPreset, "", "unknown preset %q", name)
	}
	return p, nil
}

// declaration returns the component the operation points at, used only to
// type --param values. A component that cannot be found yet leaves the
// values as text; the compiler reports the missing component itself.
func (a *App) declaration(ctx context.Context, op *model.Operation) (*model.Component, error) {
	ref, ok := op.ComponentRef()
	if !ok {
		return nil, nil
	}
	if ref.Kind == model.RefInline {
		return op.Component, nil
	}
	comp, err := a.resolver.ResolveComponent(ctx, ref)
	if err != nil {
		ctxlog.FromContext(ctx).Debug("Component not available for param typing.", "ref", ref.String(), "error", err)
		return nil, nil
	}
	return comp, nil
}

// parseParam splits name=value and parses value against the declared type
// of name.
func parseParam(comp *model.Component, kv string) (string, any, error) {
	name, text, ok := strings.Cut(kv, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", nil, fmt.Errorf("invalid param %q: expected name=value", kv)
	}
	if comp == nil {
		return name, text, nil
	}
	io, found := comp.Input(name)
	if !found {
		io, found = comp.Output(name)
	}
	if !found {
		return name, text, nil
	}
	v, err := types.ParseText(io.Type, text)
	if err != nil {
		return "", nil, engineerr.Wrap(engineerr.TypeMismatch, engineerr.Pointer("params", name), err, "invalid value for %s", io.Type)
	}
	return name, v, nil
}

func isPreset(op *model.Operation) bool {
	return op != nil && op.IsPreset != nil && *op.IsPreset
}

func hasDocumentExtension(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range codec.Extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
