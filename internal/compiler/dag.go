package compiler

import (
	"context"
	"errors"
	"regexp"
	"sort"

	"github.com/bytedance/sonic"
	"github.com/go-viper/mapstructure/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vk/opforge/internal/codec"
	"github.com/vk/opforge/internal/dag"
	"github.com/vk/opforge/internal/engineerr"
	"github.com/vk/opforge/internal/evaluator"
	"github.com/vk/opforge/internal/model"
	"github.com/vk/opforge/internal/ref"
)

const operationsPath = "/component/run/operations"

// DAGPlan is the compiled inner graph of a dag operation.
type DAGPlan struct {
	// Operations are the inner operations in topological order.
	Operations []*model.CompiledOperation
	// Order holds the operation names, parallel to Operations.
	Order []string
	// Upstream maps each operation to the sorted names it depends on.
	Upstream map[string][]string
	// Concurrency is the run's concurrency, 0 when unset.
	Concurrency int
}

// dagRun is the part of a dag run payload the planner reads.
type dagRun struct {
	Operations  []map[string]any `mapstructure:"operations"`
	Components  []map[string]any `mapstructure:"components"`
	Concurrency int              `mapstructure:"concurrency"`
}

var (
	placeholderBody = regexp.MustCompile(`\{\{(.*?)\}\}`)
	opsTraversal    = regexp.MustCompile(`(?:^|[^A-Za-z0-9_.])ops\.([A-Za-z0-9_-]+)`)
)

// CompileDAG compiles the inner operations of a compiled dag operation and
// orders them by their dependencies. Inner operations are compiled with c's
// resolver, non-strictly, with the outer params visible as dag.inputs and
// dag.outputs. Components declared in the run are reachable by hubRef.
func CompileDAG(ctx context.Context, c *Compiler, compiled *model.CompiledOperation) (_ *DAGPlan, err error) {
	ctx, span := startSpan(ctx, "compiler.compile_dag", attribute.String("operation", compiled.NameOr("dag")))
	defer func() { finish(span, err) }()

	run := compiled.Run()
	if run.Kind() != string(model.RunDAG) {
		return nil, engineerr.New(engineerr.ParseError, "/component/run/kind", "expected a dag run, got %q", run.Kind())
	}
	var spec dagRun
	if err := decodeRun(run, &spec); err != nil {
		return nil, engineerr.Wrap(engineerr.ParseError, "/component/run", err, "invalid dag run")
	}

	components, err := dagComponents(spec.Components)
	if err != nil {
		return nil, err
	}
	child := c.inner(compiled, components)

	ops := make([]*model.Operation, len(spec.Operations))
	index := make(map[string]int, len(spec.Operations))
	g := dag.New()
	for i, raw := range spec.Operations {
		path := engineerr.Join(operationsPath, engineerr.Index(i))
		op, err := decodeInner(raw)
		if err != nil {
			return nil, engineerr.Under(path, err)
		}
		name := nameOf(op)
		if op.Name == nil || *op.Name == "" {
			return nil, engineerr.New(engineerr.ParseError, engineerr.Join(path, "name"), "dag operations must be named")
		}
		if _, dup := index[name]; dup {
			return nil, engineerr.New(engineerr.ParseError, engineerr.Join(path, "name"), "duplicate operation name %q", name)
		}
		index[name] = i
		ops[i] = op
		g.AddNode(name)
	}

	out := make([]*model.CompiledOperation, len(ops))
	for i, op := range ops {
		if err := step(ctx, "compile dag operation", "operation", *op.Name); err != nil {
			return nil, err
		}
		path := engineerr.Join(operationsPath, engineerr.Index(i))
		inner, err := child.Compile(ctx, op, Overrides{})
		if err != nil {
			return nil, engineerr.Under(path, err)
		}
		out[i] = inner
		for _, up := range upstreams(op, inner) {
			if err := link(g, up.name, *op.Name, engineerr.Join(path, up.path)); err != nil {
				return nil, err
			}
		}
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, engineerr.Wrap(engineerr.CircularReference, operationsPath, err, "dag operations depend on each other")
	}
	plan := &DAGPlan{
		Operations:  make([]*model.CompiledOperation, len(order)),
		Order:       order,
		Upstream:    make(map[string][]string, len(order)),
		Concurrency: spec.Concurrency,
	}
	for i, name := range order {
		plan.Operations[i] = out[index[name]]
		deps, err := g.Dependencies(name)
		if err != nil {
			return nil, err
		}
		plan.Upstream[name] = deps
	}
	span.SetAttributes(attribute.Int("operations", len(order)))
	return plan, nil
}

func decodeRun(run model.Run, out *dagRun) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(run))
}

func decodeInner(raw map[string]any) (*model.Operation, error) {
	data, err := sonic.Marshal(raw)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.ParseError, "", err, "cannot encode operation")
	}
	return codec.DecodeOperation(data)
}

func dagComponents(raws []map[string]any) (map[string]*model.Component, error) {
	out := make(map[string]*model.Component, len(raws))
	for i, raw := range raws {
		path := engineerr.Pointer("component", "run", "components", engineerr.Index(i))
		data, err := sonic.Marshal(raw)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.ParseError, path, err, "cannot encode component")
		}
		comp, err := codec.DecodeComponent(data)
		if err != nil {
			return nil, engineerr.Under(path, err)
		}
		if comp.Name == "" {
			return nil, engineerr.New(engineerr.ParseError, engineerr.Join(path, "name"), "dag components must be named")
		}
		if _, dup := out[comp.Name]; dup {
			return nil, engineerr.New(engineerr.ParseError, engineerr.Join(path, "name"), "duplicate component name %q", comp.Name)
		}
		out[comp.Name] = comp
	}
	return out, nil
}

// inner returns the compiler for the operations of a dag.
func (c *Compiler) inner(outer *model.CompiledOperation, components map[string]*model.Component) *Compiler {
	opts := c.opts
	opts.ParentKind = model.RunDAG
	opts.Strict = false

	ns := &evaluator.Namespace{}
	if c.opts.Namespace != nil {
		cp := *c.opts.Namespace
		ns = &cp
	}
	inputs, outputs := map[string]any{}, map[string]any{}
	if outer.Params != nil {
		for pair := outer.Params.Oldest(); pair != nil; pair = pair.Next() {
			switch pair.Value.Section {
			case model.SectionInputs:
				inputs[pair.Key] = pair.Value.Value
			case model.SectionOutputs:
				outputs[pair.Key] = pair.Value.Value
			}
		}
	}
	ns.DAG = evaluator.Entity{"inputs": inputs, "outputs": outputs, "globals": ns.Globals}
	opts.Namespace = ns

	return New(&dagResolver{components: components, parent: c.resolver}, opts)
}

// dagResolver serves the components declared inside a dag run by hubRef and
// defers everything else to the outer resolver.
type dagResolver struct {
	components map[string]*model.Component
	parent     Resolver
}

func (r *dagResolver) ResolveComponent(ctx context.Context, cr model.ComponentRef) (*model.Component, error) {
	if cr.Kind == model.RefHub {
		if comp, ok := r.components[cr.Value]; ok {
			return model.DeepCopy(comp), nil
		}
	}
	if r.parent == nil {
		return nil, nil
	}
	return r.parent.ResolveComponent(ctx, cr)
}

func (r *dagResolver) ResolvePreset(ctx context.Context, name string) (*model.Operation, error) {
	if r.parent == nil {
		return nil, nil
	}
	return r.parent.ResolvePreset(ctx, name)
}

type upstream struct {
	name string
	path string
}

// upstreams lists the operations op depends on, in a stable order: explicit
// dependencies, then param refs, then events, then placeholders.
func upstreams(op *model.Operation, compiled *model.CompiledOperation) []upstream {
	var out []upstream
	for j, d := range compiled.Dependencies {
		out = append(out, upstream{name: d, path: engineerr.Pointer("dependencies", engineerr.Index(j))})
	}
	for _, name := range sortedParamNames(op.Params) {
		p := op.Params[name]
		if p == nil {
			continue
		}
		path := engineerr.Pointer("params", name)
		if p.Ref != "" {
			if r, err := ref.Parse(p.Ref); err == nil && r.Kind == ref.Ops {
				out = append(out, upstream{name: r.Entity, path: path})
			}
		}
		for _, s := range stringLeaves(p.Value) {
			for _, up := range placeholderOps(s) {
				out = append(out, upstream{name: up, path: path})
			}
		}
	}
	for j, e := range compiled.Events {
		if r, err := ref.Parse(e.Ref); err == nil && r.Kind == ref.Ops {
			out = append(out, upstream{name: r.Entity, path: engineerr.Pointer("events", engineerr.Index(j), "ref")})
		}
	}
	if op.Conditions != nil {
		for _, up := range placeholderOps(*op.Conditions) {
			out = append(out, upstream{name: up, path: "/conditions"})
		}
	}
	return out
}

// link adds the edge from up to down, mapping graph errors onto engine
// errors at path.
func link(g *dag.Graph, up, down, path string) error {
	if !g.Has(up) {
		return engineerr.New(engineerr.BadReference, path, "operation %q depends on unknown operation %q", down, up)
	}
	err := g.AddEdge(up, down)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, dag.ErrCycle):
		return engineerr.Wrap(engineerr.CircularReference, path, err, "operation %q depends on itself", down)
	default:
		return engineerr.Wrap(engineerr.BadReference, path, err, "cannot link %q to %q", up, down)
	}
}

// placeholderOps returns the operation names traversed as ops.<name> inside
// the placeholders of s.
func placeholderOps(s string) []string {
	var out []string
	for _, m := range placeholderBody.FindAllStringSubmatch(s, -1) {
		for _, t := range opsTraversal.FindAllStringSubmatch(m[1], -1) {
			out = append(out, t[1])
		}
	}
	return out
}

// stringLeaves collects the string leaves of a param value.
func stringLeaves(v any) []string {
	switch x := v.(type) {
	case string:
		return []string{x}
	case []any:
		var out []string
		for _, item := range x {
			out = append(out, stringLeaves(item)...)
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out []string
		for _, k := range keys {
			out = append(out, stringLeaves(x[k])...)
		}
		return out
	}
	return nil
}

func sortedParamNames(ps map[string]*model.Param) []string {
	names := make([]string, 0, len(ps))
	for name := range ps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
