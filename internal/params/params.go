// Package params binds operation params to the declared inputs and outputs of
// a component.
//
// Resolution happens in two phases. Resolve validates names, presence,
// ambiguity, connections and the types of plain literals. Values that still
// depend on the context (refs, `{{ }}` templates) are bound untyped-checked and
// verified by Check once the evaluator has substituted them.
package params

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/vk/opforge/internal/engineerr"
	"github.com/vk/opforge/internal/model"
	"github.com/vk/opforge/internal/types"
)

// ConnectionCatalog answers whether a connection name is known.
type ConnectionCatalog interface {
	HasConnection(name string) bool
}

// Catalog is a ConnectionCatalog over a fixed set of names.
type Catalog map[string]bool

// NewCatalog builds a Catalog.
func NewCatalog(names ...string) Catalog {
	c := make(Catalog, len(names))
	for _, n := range names {
		c[n] = true
	}
	return c
}

// HasConnection implements ConnectionCatalog.
func (c Catalog) HasConnection(name string) bool { return c[name] }

// Options tune resolution.
type Options struct {
	// AllowUnknownParams demotes params that match no declared input or
	// output to context-only with a warning. By default they fail with
	// UnknownParam.
	AllowUnknownParams bool
	// Connections validates connection names. Nil skips the check.
	Connections ConnectionCatalog
	// Pending names inputs filled after compilation, by a join at runtime
	// or by matrix expansion. They are bound without a value.
	Pending map[string]bool
	// Warnings receives non-fatal diagnostics.
	Warnings engineerr.Sink
}

// Resolved is the output of Resolve.
type Resolved struct {
	// Params holds declared inputs in declaration order, then provided
	// outputs, then context-only params sorted by name.
	Params *orderedmap.OrderedMap[string, *model.BoundParam]
	// Context holds the values of context-only params.
	Context map[string]any
}

// Values returns name → value for every bound param.
func (r *Resolved) Values() map[string]any {
	out := make(map[string]any, r.Params.Len())
	for pair := r.Params.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = pair.Value.Value
	}
	return out
}

// Path returns the JSON pointer of a param.
func Path(name string) string { return engineerr.Pointer("params", name) }

// Resolve binds ps to the declared inputs and outputs.
func Resolve(ps map[string]*model.Param, inputs, outputs []*model.IO, opts Options) (*Resolved, error) {
	warn := opts.Warnings
	if warn == nil {
		warn = func(engineerr.Warning) {}
	}
	for _, name := range sortedNames(ps) {
		p := ps[name]
		if p != nil && p.Value != nil && p.Ref != "" {
			return nil, engineerr.New(engineerr.AmbiguousParam, Path(name), "param sets both a value and a ref (%q)", p.Ref)
		}
	}

	res := &Resolved{
		Params:  orderedmap.New[string, *model.BoundParam](),
		Context: make(map[string]any),
	}
	declared := make(map[string]bool, len(inputs)+len(outputs))

	for i, io := range inputs {
		declared[io.Name] = true
		typ := effectiveType(io, engineerr.Pointer("component", "inputs", engineerr.Index(i)), warn)
		p, ok := ps[io.Name]
		if ok && p != nil && p.ContextOnly {
			ok = false
		}
		if !ok {
			bp, err := bindDefault(io, typ, opts)
			if err != nil {
				return nil, err
			}
			res.Params.Set(io.Name, bp)
			continue
		}
		bp, err := bind(io, typ, model.SectionInputs, p, opts)
		if err != nil {
			return nil, err
		}
		res.Params.Set(io.Name, bp)
	}

	for i, io := range outputs {
		declared[io.Name] = true
		p, ok := ps[io.Name]
		if !ok || p == nil || p.ContextOnly {
			continue
		}
		typ := effectiveType(io, engineerr.Pointer("component", "outputs", engineerr.Index(i)), warn)
		bp, err := bind(io, typ, model.SectionOutputs, p, opts)
		if err != nil {
			return nil, err
		}
		if _, dup := res.Params.Get(io.Name); dup {
			return nil, engineerr.New(engineerr.AmbiguousParam, Path(io.Name), "%q is declared both as an input and an output", io.Name)
		}
		res.Params.Set(io.Name, bp)
	}

	var contextNames []string
	for _, name := range sortedNames(ps) {
		p := ps[name]
		if p == nil {
			p = &model.Param{}
		}
		switch {
		case p.ContextOnly:
		case declared[name]:
			continue
		case opts.AllowUnknownParams:
			warn(engineerr.Warning{Path: Path(name), Message: fmt.Sprintf("param %q matches no declared input or output; treating it as context-only", name)})
		default:
			return nil, engineerr.New(engineerr.UnknownParam, Path(name), "param %q matches no declared input or output and is not contextOnly", name)
		}
		if err := checkConnection(name, p.Connection, opts); err != nil {
			return nil, err
		}
		contextNames = append(contextNames, name)
	}
	for _, name := range contextNames {
		p := ps[name]
		if p == nil {
			p = &model.Param{}
		}
		bp := &model.BoundParam{
			Name:        name,
			Value:       types.DeepCopy(p.Value),
			Ref:         p.Ref,
			Type:        types.Of(types.Any),
			Section:     model.SectionContext,
			ContextOnly: true,
			Connection:  p.Connection,
			ToInit:      p.ToInit,
			ToEnv:       p.ToEnv,
		}
		if _, taken := res.Params.Get(name); taken {
			// A context-only param shadowing an input lives only in Context.
			res.Context[name] = bp.Value
			continue
		}
		res.Params.Set(name, bp)
		res.Context[name] = bp.Value
	}
	return res, nil
}

func bindDefault(io *model.IO, typ types.Type, opts Options) (*model.BoundParam, error) {
	bp := &model.BoundParam{
		Name:       io.Name,
		Type:       typ,
		Section:    model.SectionInputs,
		Connection: io.Connection,
		ToInit:     io.ToInit,
		ToEnv:      io.ToEnv,
	}
	switch {
	case io.HasDefault():
		bp.Value = types.DeepCopy(io.Value)
		if bp.Value != nil && !Deferred(bp.Value) {
			v, err := typ.Coerce(bp.Value)
			if err != nil {
				return nil, engineerr.Wrap(engineerr.TypeMismatch, Path(io.Name), err, "default of input %q does not match its type %s", io.Name, typ)
			}
			bp.Value = v
		}
	case opts.Pending[io.Name]:
	default:
		return nil, engineerr.New(engineerr.MissingParam, Path(io.Name), "input %q is required and has no default", io.Name)
	}
	return bp, nil
}

func bind(io *model.IO, typ types.Type, section string, p *model.Param, opts Options) (*model.BoundParam, error) {
	bp := &model.BoundParam{
		Name:       io.Name,
		Ref:        p.Ref,
		Type:       typ,
		Section:    section,
		Connection: firstNonEmpty(p.Connection, io.Connection),
		ToInit:     p.ToInit || io.ToInit,
		ToEnv:      firstNonEmpty(p.ToEnv, io.ToEnv),
	}
	if err := checkConnection(io.Name, bp.Connection, opts); err != nil {
		return nil, err
	}
	if p.IsRef() {
		return bp, nil
	}
	value := types.DeepCopy(p.Value)
	if value == nil {
		if section == model.SectionInputs && !io.HasDefault() && !opts.Pending[io.Name] {
			return nil, engineerr.New(engineerr.MissingParam, Path(io.Name), "input %q is required and its param value is null", io.Name)
		}
		return bp, nil
	}
	if Deferred(value) {
		bp.Value = value
		return bp, nil
	}
	v, err := checkValue(io, typ, value)
	if err != nil {
		return nil, err
	}
	bp.Value = v
	if typ.Name == types.Connection {
		if name, ok := v.(string); ok {
			if err := checkConnection(io.Name, name, opts); err != nil {
				return nil, err
			}
		}
	}
	return bp, nil
}

func checkValue(io *model.IO, typ types.Type, value any) (any, error) {
	v, err := typ.Coerce(value)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.TypeMismatch, Path(io.Name), err, "param %q expects %s", io.Name, typ)
	}
	if len(io.Options) > 0 && !inOptions(v, io.Options) {
		return nil, engineerr.New(engineerr.TypeMismatch, Path(io.Name), "param %q must be one of %s, got %s", io.Name, types.Text(io.Options), types.Text(v))
	}
	return v, nil
}

// Check verifies the bound values that Resolve deferred. It runs after
// context evaluation; values that are still refs or templates are skipped.
func Check(bound *orderedmap.OrderedMap[string, *model.BoundParam], inputs, outputs []*model.IO, opts Options) error {
	for pair := bound.Oldest(); pair != nil; pair = pair.Next() {
		bp := pair.Value
		if bp.ContextOnly || bp.Ref != "" || bp.Value == nil || Deferred(bp.Value) {
			continue
		}
		io := findIO(bp.Name, bp.Section, inputs, outputs)
		if io == nil {
			continue
		}
		v, err := checkValue(io, bp.Type, bp.Value)
		if err != nil {
			return err
		}
		bp.Value = v
		if bp.Type.Name == types.Connection {
			if name, ok := v.(string); ok {
				if err := checkConnection(bp.Name, name, opts); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Deferred reports whether v still contains a `{{ }}` template.
func Deferred(v any) bool {
	switch x := v.(type) {
	case string:
		return strings.Contains(x, "{{")
	case []any:
		for _, item := range x {
			if Deferred(item) {
				return true
			}
		}
	case map[string]any:
		for _, item := range x {
			if Deferred(item) {
				return true
			}
		}
	}
	return false
}

func checkConnection(param, name string, opts Options) error {
	if name == "" || opts.Connections == nil || Deferred(name) {
		return nil
	}
	if !opts.Connections.HasConnection(name) {
		return engineerr.New(engineerr.InvalidConnection, Path(param), "param %q uses unknown connection %q", param, name)
	}
	return nil
}

// effectiveType honors the deprecated isList flag.
func effectiveType(io *model.IO, path string, warn engineerr.Sink) types.Type {
	typ := io.Type
	if typ.IsZero() {
		typ = types.Of(types.Any)
	}
	if io.IsList != nil {
		warn(engineerr.Warning{Path: engineerr.Join(path, "isList"), Message: "isList is deprecated; declare a list[T] type instead"})
		if *io.IsList && !typ.IsList() {
			if typ.Name == types.Any {
				return types.Of(types.List)
			}
			return types.ListOf(typ.Name)
		}
	}
	return typ
}

func findIO(name, section string, inputs, outputs []*model.IO) *model.IO {
	list := inputs
	if section == model.SectionOutputs {
		list = outputs
	}
	for _, io := range list {
		if io.Name == name {
			return io
		}
	}
	return nil
}

func inOptions(v any, options []any) bool {
	for _, o := range options {
		if reflect.DeepEqual(types.Normalize(o), types.Normalize(v)) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func sortedNames(ps map[string]*model.Param) []string {
	names := make([]string, 0, len(ps))
	for k := range ps {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
