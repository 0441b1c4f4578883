// Package evaluator substitutes `{{ expr }}` placeholders inside operation
// values.
//
// A placeholder whose body is a plain reference (`ops.prep.outputs.path`,
// `runs.<uuid>.inputs.lr`, `globals.run_uuid`) is looked up directly in the
// Namespace. Any other body is an HCL expression evaluated with the namespace
// roots, the current params (`params.x`, `inputs.x`, `outputs.x` or bare `x`)
// and a small function library in scope.
//
// A placeholder spanning the whole string is replaced by the value itself, so
// structure survives; placeholders embedded in a larger string are replaced by
// the value's canonical text. Unresolvable placeholders are kept verbatim in
// lazy mode and fail with UnresolvedRef in strict mode.
package evaluator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/hcl/v2"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opforge/internal/engineerr"
	"github.com/vk/opforge/internal/model"
	"github.com/vk/opforge/internal/ref"
	"github.com/vk/opforge/internal/types"
)

var placeholderRegex = regexp.MustCompile(`(?s)\{\{(.*?)\}\}`)

// Options tune evaluation.
type Options struct {
	// Strict turns unresolvable placeholders and refs into UnresolvedRef.
	Strict bool
	// Pending names params whose values arrive after compilation, from a
	// matrix trial or a join. Placeholders over them are kept verbatim, in
	// strict mode too.
	Pending map[string]bool
}

// Evaluator resolves placeholders and refs against a Namespace. It is not
// safe for concurrent use.
type Evaluator struct {
	ns     *Namespace
	opts   Options
	roots  map[string]cty.Value
	params *orderedmap.OrderedMap[string, *model.BoundParam]

	done     map[string]bool
	visiting map[string]bool
}

// New returns an evaluator over ns.
func New(ns *Namespace, opts Options) *Evaluator {
	if ns == nil {
		ns = &Namespace{}
	}
	return &Evaluator{ns: ns, opts: opts, done: map[string]bool{}, visiting: map[string]bool{}}
}

// HasPlaceholder reports whether s contains a `{{ }}` placeholder.
func HasPlaceholder(s string) bool { return placeholderRegex.MatchString(s) }

// EvalParams resolves the refs and placeholders of bound params in place.
// Params may reference each other; evaluation follows those references
// lazily and fails with CircularReference on a cycle.
func (e *Evaluator) EvalParams(params *orderedmap.OrderedMap[string, *model.BoundParam]) error {
	e.params = params
	e.done = map[string]bool{}
	for pair := params.Oldest(); pair != nil; pair = pair.Next() {
		e.visiting = map[string]bool{}
		if err := e.resolveParam(pair.Key); err != nil {
			return err
		}
	}
	return nil
}

// EvalValue returns a copy of v with its placeholders substituted. path is
// the JSON pointer of v, used in errors.
func (e *Evaluator) EvalValue(path string, v any) (any, error) {
	e.visiting = map[string]bool{}
	return e.eval(path, v)
}

// ResolveRef resolves a param ref. The boolean is false when the target is
// not available and evaluation is lazy.
func (e *Evaluator) ResolveRef(path, raw string) (any, bool, error) {
	r, err := ref.Parse(raw)
	if err != nil {
		return nil, false, engineerr.Under(path, err)
	}
	v, ok := e.ns.Lookup(r)
	if !ok {
		if e.opts.Strict {
			return nil, false, engineerr.New(engineerr.UnresolvedRef, path, "reference %q cannot be resolved", r)
		}
		return nil, false, nil
	}
	return types.DeepCopy(types.Normalize(v)), true, nil
}

func (e *Evaluator) resolveParam(name string) error {
	if e.done[name] {
		return nil
	}
	path := engineerr.Pointer("params", name)
	if e.visiting[name] {
		return engineerr.New(engineerr.CircularReference, path, "param %q references itself", name)
	}
	bp, ok := e.params.Get(name)
	if !ok {
		return nil
	}
	e.visiting[name] = true
	defer delete(e.visiting, name)

	if bp.Ref != "" {
		v, found, err := e.ResolveRef(path, bp.Ref)
		if err != nil {
			return err
		}
		if found {
			bp.Value = v
			bp.Ref = ""
		}
	} else if bp.Value != nil {
		v, err := e.eval(engineerr.Join(path, "value"), bp.Value)
		if err != nil {
			return err
		}
		bp.Value = v
	}
	e.done[name] = true
	return nil
}

func (e *Evaluator) eval(path string, v any) (any, error) {
	switch x := v.(type) {
	case string:
		return e.evalString(path, x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			ev, err := e.eval(engineerr.Join(path, k), item)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			ev, err := e.eval(engineerr.Join(path, engineerr.Index(i)), item)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	}
	return types.DeepCopy(v), nil
}

func (e *Evaluator) evalString(path, s string) (any, error) {
	matches := placeholderRegex.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		v, ok, err := e.placeholder(path, s[matches[0][2]:matches[0][3]])
		if err != nil || !ok {
			return s, err
		}
		return v, nil
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		v, ok, err := e.placeholder(path, s[m[2]:m[3]])
		if err != nil {
			return nil, err
		}
		if ok {
			b.WriteString(types.Text(v))
		} else {
			b.WriteString(s[m[0]:m[1]])
		}
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

// placeholder evaluates one placeholder body. ok is false when the body
// cannot be resolved yet and evaluation is lazy.
func (e *Evaluator) placeholder(path, body string) (any, bool, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, false, engineerr.New(engineerr.BadReference, path, "empty placeholder")
	}
	if r, err := ref.Parse(body); err == nil {
		v, found := e.ns.Lookup(r)
		if !found {
			return e.unresolved(path, body)
		}
		return types.DeepCopy(types.Normalize(v)), true, nil
	}

	expr, diags := parseExpression(body)
	if diags.HasErrors() {
		return nil, false, engineerr.Wrap(engineerr.BadReference, path, diags, "invalid placeholder {{ %s }}", body)
	}
	traversals, called := references(expr)
	for _, name := range called {
		if _, ok := functions[name]; !ok {
			return nil, false, engineerr.New(engineerr.BadReference, path, "unknown function %q in {{ %s }}", name, body)
		}
	}
	if e.readsPending(traversals) {
		return nil, false, nil
	}

	ctx, err := e.context(path, traversals)
	if err != nil {
		return nil, false, err
	}
	for _, tr := range traversals {
		if _, d := tr.TraverseAbs(ctx); d.HasErrors() {
			return e.unresolved(path, TraversalKey(tr))
		}
	}
	val, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return nil, false, engineerr.Wrap(engineerr.BadReference, path, diags, "cannot evaluate {{ %s }}", body)
	}
	out, err := types.FromCty(val)
	if err != nil {
		return nil, false, engineerr.Wrap(engineerr.BadReference, path, err, "cannot evaluate {{ %s }}", body)
	}
	return out, true, nil
}

func (e *Evaluator) unresolved(path, what string) (any, bool, error) {
	if e.opts.Strict {
		return nil, false, engineerr.New(engineerr.UnresolvedRef, path, "%s cannot be resolved", what)
	}
	return nil, false, nil
}

// context builds the variables an expression needs. Params referenced by
// the expression are resolved first.
func (e *Evaluator) context(path string, traversals []hcl.Traversal) (*hcl.EvalContext, error) {
	if e.roots == nil {
		roots, err := e.ns.ctyRoots()
		if err != nil {
			return nil, engineerr.Wrap(engineerr.BadReference, path, err, "cannot convert namespace")
		}
		e.roots = roots
	}
	vars := make(map[string]cty.Value, len(e.roots)+3)
	for k, v := range e.roots {
		vars[k] = v
	}
	sections := map[string]map[string]any{"params": {}, "inputs": {}, "outputs": {}}
	for _, tr := range traversals {
		root := tr.RootName()
		switch root {
		case "params", "inputs", "outputs":
			name, ok := attrName(tr)
			if !ok {
				continue
			}
			v, section, found, err := e.paramValue(name)
			if err != nil {
				return nil, err
			}
			if !found || (root != "params" && root != section) {
				continue
			}
			sections[root][name] = v
		default:
			if _, isRoot := vars[root]; isRoot {
				continue
			}
			v, _, found, err := e.paramValue(root)
			if err != nil {
				return nil, err
			}
			if !found {
				continue
			}
			cv, err := types.ToCty(v)
			if err != nil {
				return nil, engineerr.Wrap(engineerr.BadReference, path, err, "cannot convert param %q", root)
			}
			vars[root] = cv
		}
	}
	for name, values := range sections {
		if len(values) == 0 {
			vars[name] = cty.EmptyObjectVal
			continue
		}
		cv, err := types.ToCty(values)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.BadReference, path, err, "cannot convert %s", name)
		}
		vars[name] = cv
	}
	return &hcl.EvalContext{Variables: vars, Functions: functions}, nil
}

// readsPending reports whether any traversal reads a pending param, either
// bare or through params, inputs or outputs.
func (e *Evaluator) readsPending(traversals []hcl.Traversal) bool {
	if len(e.opts.Pending) == 0 {
		return false
	}
	for _, tr := range traversals {
		root := tr.RootName()
		switch root {
		case "params", "inputs", "outputs":
			if name, ok := attrName(tr); ok && e.opts.Pending[name] {
				return true
			}
		case string(ref.Globals), string(ref.Ops), string(ref.Runs), string(ref.DAG), string(ref.System), string(ref.Env):
		default:
			if e.opts.Pending[root] {
				return true
			}
		}
	}
	return false
}

// paramValue returns the evaluated value and section of a param. Values that
// are still refs or templates count as not found, as do pending params.
func (e *Evaluator) paramValue(name string) (any, string, bool, error) {
	if e.opts.Pending[name] {
		return nil, "", false, nil
	}
	if e.params != nil {
		if bp, ok := e.params.Get(name); ok {
			if err := e.resolveParam(name); err != nil {
				return nil, "", false, err
			}
			if bp.Ref != "" || hasPlaceholderValue(bp.Value) {
				return nil, "", false, nil
			}
			return bp.Value, bp.Section, true, nil
		}
	}
	if v, ok := e.ns.Params[name]; ok {
		return v, model.SectionContext, true, nil
	}
	return nil, "", false, nil
}

func hasPlaceholderValue(v any) bool {
	switch x := v.(type) {
	case string:
		return HasPlaceholder(x)
	case []any:
		for _, item := range x {
			if hasPlaceholderValue(item) {
				return true
			}
		}
	case map[string]any:
		for _, item := range x {
			if hasPlaceholderValue(item) {
				return true
			}
		}
	}
	return false
}

// String describes the evaluator mode, for logs.
func (o Options) String() string {
	return fmt.Sprintf("strict=%t", o.Strict)
}
