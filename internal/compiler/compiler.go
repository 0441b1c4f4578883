package compiler

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vk/opforge/internal/ctxlog"
	"github.com/vk/opforge/internal/engineerr"
	"github.com/vk/opforge/internal/evaluator"
	"github.com/vk/opforge/internal/join"
	"github.com/vk/opforge/internal/matrix"
	"github.com/vk/opforge/internal/model"
	"github.com/vk/opforge/internal/params"
	"github.com/vk/opforge/internal/patcher"
	"github.com/vk/opforge/internal/types"
)

// Options configure a Compiler.
type Options struct {
	// Strict turns unresolved refs and placeholders into UnresolvedRef.
	Strict bool
	// AllowUnknownParams demotes params that match no declared input or
	// output to context-only instead of failing with UnknownParam.
	AllowUnknownParams bool
	// Namespace is the ambient data refs and placeholders resolve against.
	Namespace *evaluator.Namespace
	// Connections validates connection names. Nil skips the check.
	Connections params.ConnectionCatalog
	// ParentKind is the run kind of the enclosing workflow, if any. Joins
	// are only accepted inside a dag.
	ParentKind model.RunKind
	// Tuner drives bayes, hyperband and iterative matrices in Expand.
	Tuner matrix.Tuner
	// Warnings receives non-fatal diagnostics. Defaults to the context logger.
	Warnings engineerr.Sink
}

// Overrides are supplied by the caller on top of the operation.
type Overrides struct {
	// Params are merged by name with POST_MERGE after every preset.
	Params map[string]*model.Param
	// Presets are applied after the operation's declared presets.
	Presets []*model.Operation
	// ParamsOverride replaces param values by name.
	ParamsOverride map[string]any
	// ParamsContext adds context-only params.
	ParamsContext map[string]any
}

// Compiler compiles operations. It holds no mutable state and is safe for
// concurrent use.
type Compiler struct {
	resolver Resolver
	opts     Options
}

// New returns a Compiler. resolver may be nil when every operation carries
// an inline component and declares no presets.
func New(resolver Resolver, opts Options) *Compiler {
	return &Compiler{resolver: resolver, opts: opts}
}

// prepared is an operation after folding and component binding. It is
// shared read-only by every trial of an expansion.
type prepared struct {
	op        *model.Operation
	component *model.Component
	joins     []*join.Descriptor
	// pending are inputs a join fills at runtime.
	pending map[string]bool
}

// declared lists the names a matrix may assign: inputs and context-only
// params.
func (p *prepared) declared() []string {
	names := make([]string, 0, len(p.component.Inputs))
	for _, io := range p.component.Inputs {
		names = append(names, io.Name)
	}
	for name, param := range p.op.Params {
		if param != nil && param.ContextOnly {
			names = append(names, name)
		}
	}
	return names
}

// Compile returns the single compiled form of op. A matrix, if any, is
// validated and retained but not expanded; the inputs it assigns are bound
// without a value.
func (c *Compiler) Compile(ctx context.Context, op *model.Operation, ov Overrides) (_ *model.CompiledOperation, err error) {
	ctx, span := startSpan(ctx, "compiler.compile", attribute.String("operation", nameOf(op)))
	defer func() { finish(span, err) }()

	p, err := c.prepare(ctx, op, ov)
	if err != nil {
		return nil, err
	}
	return c.build(ctx, p, nil)
}

// Expand returns the lazy sequence of compiled trials of op's matrix.
func (c *Compiler) Expand(ctx context.Context, op *model.Operation, ov Overrides) (_ matrix.Sequence, err error) {
	ctx, span := startSpan(ctx, "compiler.expand", attribute.String("operation", nameOf(op)))
	defer func() { finish(span, err) }()

	p, err := c.prepare(ctx, op, ov)
	if err != nil {
		return nil, err
	}
	if p.op.Matrix == nil {
		return nil, engineerr.New(engineerr.InvalidMatrix, "/matrix", "operation %q has no matrix to expand", nameOf(op))
	}
	return c.sequence(ctx, p)
}

// CompileAll compiles every trial of a finite matrix, in trial order. An
// operation without a matrix yields one compiled operation. Tuner-driven
// matrices cannot be drained here; use Expand.
func (c *Compiler) CompileAll(ctx context.Context, op *model.Operation, ov Overrides) (_ []*model.CompiledOperation, err error) {
	ctx, span := startSpan(ctx, "compiler.compile_all", attribute.String("operation", nameOf(op)))
	defer func() { finish(span, err) }()

	p, err := c.prepare(ctx, op, ov)
	if err != nil {
		return nil, err
	}
	if p.op.Matrix == nil {
		compiled, err := c.build(ctx, p, nil)
		if err != nil {
			return nil, err
		}
		return []*model.CompiledOperation{compiled}, nil
	}
	if p.op.Matrix.Kind.TunerDriven() {
		return nil, engineerr.New(engineerr.InvalidMatrix, "/matrix/kind", "%s matrices are driven by a tuner and cannot be compiled eagerly", p.op.Matrix.Kind)
	}
	seq, err := c.sequence(ctx, p)
	if err != nil {
		return nil, err
	}
	trials, err := matrix.Collect(ctx, seq)
	if err != nil {
		return nil, err
	}
	out := make([]*model.CompiledOperation, len(trials))
	for i, t := range trials {
		out[i] = t.Operation
	}
	span.SetAttributes(attribute.Int("trials", len(out)))
	return out, nil
}

func (c *Compiler) sequence(ctx context.Context, p *prepared) (matrix.Sequence, error) {
	if err := matrix.Validate(p.op.Matrix, p.declared()); err != nil {
		return nil, err
	}
	name := nameOf(p.op)
	return matrix.New(p.op.Matrix, matrix.Options{
		Name:  name,
		Tuner: c.opts.Tuner,
		Build: func(ctx context.Context, index int, assignment map[string]any) (_ *model.CompiledOperation, err error) {
			ctx, span := startSpan(ctx, "compiler.trial", attribute.String("operation", name), attribute.Int("index", index))
			defer func() { finish(span, err) }()
			return c.build(ctx, p, assignment)
		},
	})
}

// prepare runs the steps shared by every trial: fold, component resolution,
// component binding and join compilation.
func (c *Compiler) prepare(ctx context.Context, op *model.Operation, ov Overrides) (*prepared, error) {
	if op == nil {
		return nil, engineerr.New(engineerr.ParseError, "", "operation is null")
	}
	if err := step(ctx, "fold presets", "operation", nameOf(op), "presets", len(op.Presets)+len(ov.Presets)); err != nil {
		return nil, err
	}
	folded, err := c.fold(ctx, op, ov)
	if err != nil {
		return nil, err
	}

	if err := step(ctx, "resolve component"); err != nil {
		return nil, err
	}
	comp, err := c.component(ctx, folded)
	if err != nil {
		return nil, err
	}

	if err := step(ctx, "bind component", "component", comp.Name); err != nil {
		return nil, err
	}
	bound, err := bindComponent(comp, folded.RunPatch)
	if err != nil {
		return nil, err
	}

	p := &prepared{op: folded, component: bound, pending: map[string]bool{}}
	if err := c.compileJoins(p); err != nil {
		return nil, err
	}
	return p, nil
}

// build runs param resolution, normalization and evaluation. assignment,
// when not nil, is a matrix trial whose values win over the params.
func (c *Compiler) build(ctx context.Context, p *prepared, assignment map[string]any) (*model.CompiledOperation, error) {
	src := model.DeepCopy(p.op)
	comp := model.DeepCopy(p.component)
	warn := c.warnings(ctx)

	ps := src.Params
	pending := make(map[string]bool, len(p.pending))
	for name := range p.pending {
		pending[name] = true
	}
	for _, d := range p.joins {
		for _, spec := range d.Params {
			pending[spec.Name] = true
		}
	}
	if assignment != nil {
		ps = overrideValues(ps, assignment)
	} else if src.Matrix != nil {
		for _, name := range src.Matrix.ParamNames() {
			if _, given := ps[name]; !given {
				pending[name] = true
			}
		}
	}

	if err := step(ctx, "resolve params", "params", len(ps)); err != nil {
		return nil, err
	}
	popts := params.Options{
		AllowUnknownParams: c.opts.AllowUnknownParams,
		Connections:        c.opts.Connections,
		Pending:            pending,
		Warnings:           warn,
	}
	res, err := params.Resolve(ps, comp.Inputs, comp.Outputs, popts)
	if err != nil {
		return nil, err
	}
	bindJoins(res, p)

	out := &model.CompiledOperation{
		Version:            src.Version,
		Kind:               model.CompiledOperationKind,
		Name:               src.Name,
		Description:        src.Description,
		Tags:               src.Tags,
		Queue:              src.Queue,
		Namespace:          src.Namespace,
		Cache:              src.Cache,
		Termination:        src.Termination,
		Plugins:            src.Plugins,
		Build:              src.Build,
		Hooks:              src.Hooks,
		Schedule:           src.Schedule,
		Events:             src.Events,
		Joins:              src.Joins,
		Matrix:             src.Matrix,
		Dependencies:       src.Dependencies,
		Trigger:            src.Trigger,
		Conditions:         src.Conditions,
		SkipOnUpstreamSkip: src.SkipOnUpstreamSkip,
		IsApproved:         src.IsApproved,
		Cost:               src.Cost,
		Params:             res.Params,
		Component:          comp,
	}

	if err := step(ctx, "normalize decorations"); err != nil {
		return nil, err
	}
	n := &normalization{op: out, opts: &c.opts, warn: warn, declared: p.declared(), joins: p.joins}
	if err := n.run(); err != nil {
		return nil, err
	}

	if err := step(ctx, "evaluate context", "strict", c.opts.Strict); err != nil {
		return nil, err
	}
	if err := c.evaluate(out, comp, popts); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}
	return out, nil
}

// fold seeds the fold with the operation body and applies every preset
// left to right, then the caller's param overrides.
func (c *Compiler) fold(ctx context.Context, op *model.Operation, ov Overrides) (*model.Operation, error) {
	acc := op.Clone()
	logger := ctxlog.FromContext(ctx)

	apply := func(preset *model.Operation, path string) error {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}
		next, err := patcher.Apply(acc, preset)
		if err != nil {
			return engineerr.Under(path, err)
		}
		logger.Debug("compiler: applied preset", "path", path, "preset", nameOf(preset), "strategy", preset.Strategy())
		acc = next
		return nil
	}

	for i, name := range op.Presets {
		path := engineerr.Pointer("presets", engineerr.Index(i))
		preset, err := c.preset(ctx, name, path)
		if err != nil {
			return nil, err
		}
		if err := apply(preset, path); err != nil {
			return nil, err
		}
	}
	for i, preset := range ov.Presets {
		if err := apply(preset, engineerr.Pointer("presets", engineerr.Index(len(op.Presets)+i))); err != nil {
			return nil, err
		}
	}

	if len(ov.Params) > 0 {
		acc.Params = patcher.MergeParams(acc.Params, ov.Params, model.PostMerge)
	}
	acc.Params = overrideValues(acc.Params, ov.ParamsOverride)
	for name, v := range ov.ParamsContext {
		if acc.Params == nil {
			acc.Params = map[string]*model.Param{}
		}
		acc.Params[name] = &model.Param{Value: types.DeepCopy(v), ContextOnly: true}
	}
	return acc, nil
}

// overrideValues returns a copy of ps where every name in values carries
// that literal value. The other attributes of an existing param are kept.
func overrideValues(ps map[string]*model.Param, values map[string]any) map[string]*model.Param {
	if len(values) == 0 {
		return ps
	}
	out := make(map[string]*model.Param, len(ps)+len(values))
	for name, p := range ps {
		out[name] = p
	}
	for name, v := range values {
		p := &model.Param{}
		if current := out[name]; current != nil {
			p = current.Clone()
		}
		p.Value = types.DeepCopy(v)
		p.Ref = ""
		out[name] = p
	}
	return out
}

func (c *Compiler) preset(ctx context.Context, name, path string) (*model.Operation, error) {
	if c.resolver == nil {
		return nil, engineerr.New(engineerr.InvalidPreset, path, "preset %q cannot be looked up without a resolver", name)
	}
	p, err := c.resolver.ResolvePreset(ctx, name)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, cancelled(ctxErr)
		}
		return nil, engineerr.Wrap(engineerr.InvalidPreset, path, err, "cannot resolve preset %q", name)
	}
	if p == nil {
		return nil, engineerr.New(engineerr.InvalidPreset, path, "unknown preset %q", name)
	}
	return p, nil
}

func (c *Compiler) component(ctx context.Context, op *model.Operation) (*model.Component, error) {
	ref, ok := op.ComponentRef()
	if !ok {
		return nil, engineerr.New(engineerr.UnresolvedComponent, "", "operation %q references no component", nameOf(op))
	}
	if ref.Kind == model.RefInline {
		return op.Component, nil
	}
	path := engineerr.Pointer(string(ref.Kind))
	if c.resolver == nil {
		return nil, engineerr.New(engineerr.UnresolvedComponent, path, "%s cannot be resolved without a resolver", ref)
	}
	comp, err := c.resolver.ResolveComponent(ctx, ref)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, cancelled(ctxErr)
		}
		return nil, engineerr.Wrap(engineerr.UnresolvedComponent, path, err, "cannot resolve %s", ref)
	}
	if comp == nil {
		return nil, engineerr.New(engineerr.UnresolvedComponent, path, "%s does not exist", ref)
	}
	return comp, nil
}

// bindComponent copies comp and merges runPatch into its run.
func bindComponent(comp *model.Component, runPatch map[string]any) (*model.Component, error) {
	out := model.DeepCopy(comp)
	if out.Run == nil {
		return nil, engineerr.New(engineerr.ParseError, "/component/run", "component %q has no run section", out.Name)
	}
	kind, err := model.ParseRunKind(out.Run.Kind())
	if err != nil {
		return nil, engineerr.Wrap(engineerr.ParseError, "/component/run/kind", err, "invalid run kind")
	}
	if raw, ok := runPatch["kind"]; ok && raw != nil {
		patched, err := model.ParseRunKind(types.Text(raw))
		if err != nil || patched != kind {
			return nil, engineerr.New(engineerr.ParseError, "/runPatch/kind", "runPatch cannot change the run kind %q", kind)
		}
	}
	out.Run = model.Run(patcher.MergeRun(out.Run, runPatch, model.PostMerge))
	out.Run["kind"] = string(kind)
	return out, nil
}

// compileJoins checks the joins of p and records the inputs they fill.
func (c *Compiler) compileJoins(p *prepared) error {
	if len(p.op.Joins) == 0 {
		return nil
	}
	if c.opts.ParentKind != model.RunDAG {
		return engineerr.New(engineerr.InvalidJoin, "/joins", "joins are only allowed in operations of a dag")
	}
	descriptors, err := join.CompileAll(p.op.Joins)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for i, d := range descriptors {
		for _, spec := range d.Params {
			path := engineerr.Pointer("joins", engineerr.Index(i), "params", spec.Name)
			if seen[spec.Name] {
				return engineerr.New(engineerr.InvalidJoin, path, "param %q is filled by more than one join", spec.Name)
			}
			seen[spec.Name] = true
			if _, given := p.op.Params[spec.Name]; given {
				return engineerr.New(engineerr.InvalidJoin, path, "param %q is set both in params and by a join", spec.Name)
			}
			_, isInput := p.component.Input(spec.Name)
			switch {
			case spec.ContextOnly && isInput:
				return engineerr.New(engineerr.InvalidJoin, path, "context-only join param %q shadows a declared input", spec.Name)
			case !spec.ContextOnly && !isInput:
				return engineerr.New(engineerr.InvalidJoin, path, "join param %q is not a declared input", spec.Name)
			case !spec.ContextOnly:
				p.pending[spec.Name] = true
			}
		}
	}
	p.joins = descriptors
	return nil
}

// bindJoins types every join-filled param as a list and leaves its value to
// the runtime.
func bindJoins(res *params.Resolved, p *prepared) {
	for _, d := range p.joins {
		for _, spec := range d.Params {
			if spec.ContextOnly {
				res.Params.Set(spec.Name, &model.BoundParam{
					Name:        spec.Name,
					Type:        types.Of(types.List),
					Section:     model.SectionContext,
					ContextOnly: true,
					ToInit:      spec.ToInit,
				})
				continue
			}
			bp, ok := res.Params.Get(spec.Name)
			if !ok {
				continue
			}
			bp.Type = listType(bp.Type)
			bp.Value = nil
			bp.Ref = ""
			bp.ToInit = bp.ToInit || spec.ToInit
		}
	}
}

func listType(t types.Type) types.Type {
	switch {
	case t.IsList():
		return t
	case t.IsZero() || t.Name == types.Any:
		return types.Of(types.List)
	}
	return types.ListOf(t.Name)
}

// evaluate substitutes refs and placeholders in params and in the string
// fields of out, then type checks the substituted params.
func (c *Compiler) evaluate(out *model.CompiledOperation, comp *model.Component, popts params.Options) error {
	ev := evaluator.New(c.opts.Namespace, evaluator.Options{Strict: c.opts.Strict, Pending: popts.Pending})
	if err := ev.EvalParams(out.Params); err != nil {
		return err
	}
	for _, f := range []struct {
		path  string
		value **string
	}{
		{"/name", &out.Name},
		{"/description", &out.Description},
		{"/queue", &out.Queue},
		{"/namespace", &out.Namespace},
		{"/conditions", &out.Conditions},
	} {
		if *f.value == nil {
			continue
		}
		v, err := ev.EvalValue(f.path, **f.value)
		if err != nil {
			return err
		}
		s := types.Text(v)
		*f.value = &s
	}
	for i, tag := range out.Tags {
		v, err := ev.EvalValue(engineerr.Pointer("tags", engineerr.Index(i)), tag)
		if err != nil {
			return err
		}
		out.Tags[i] = types.Text(v)
	}

	run, err := evalRun(ev, comp.Run)
	if err != nil {
		return err
	}
	comp.Run = run
	return params.Check(out.Params, comp.Inputs, comp.Outputs, popts)
}

// evalRun substitutes placeholders in the run payload. The inner operations
// and components of a dag are compiled on their own and left untouched.
func evalRun(ev *evaluator.Evaluator, run model.Run) (model.Run, error) {
	out := make(model.Run, len(run))
	for k, v := range run {
		if run.Kind() == string(model.RunDAG) && (k == "operations" || k == "components") {
			out[k] = v
			continue
		}
		evaluated, err := ev.EvalValue(engineerr.Pointer("component", "run", k), v)
		if err != nil {
			return nil, err
		}
		out[k] = evaluated
	}
	return out, nil
}

func (c *Compiler) warnings(ctx context.Context) engineerr.Sink {
	if c.opts.Warnings != nil {
		return c.opts.Warnings
	}
	return engineerr.LogSink(ctx)
}

func cancelled(err error) error {
	if errors.Is(err, engineerr.Cancelled) {
		return err
	}
	return engineerr.Wrap(engineerr.Cancelled, "", err, "compilation cancelled")
}

func nameOf(op *model.Operation) string {
	if op == nil || op.Name == nil || *op.Name == "" {
		return "operation"
	}
	return *op.Name
}
