package join

import (
	"sort"
	"strings"

	"github.com/vk/opforge/internal/engineerr"
	"github.com/vk/opforge/internal/model"
)

// Sections a join param may read from.
var paramSections = map[string]bool{
	"inputs":    true,
	"outputs":   true,
	"artifacts": true,
	"globals":   true,
}

// ParamSpec fills one list param from every selected record.
type ParamSpec struct {
	Name        string
	Section     string
	Key         string
	ContextOnly bool
	ToInit      bool
}

// Field is the record field the param reads, e.g. `outputs.loss`.
func (p ParamSpec) Field() string { return p.Section + "." + p.Key }

// Descriptor is a compiled join. The runtime passes it to its record store.
type Descriptor struct {
	Query  Query
	Sort   []SortKey
	Limit  *int
	Offset int
	Params []ParamSpec
}

// Compile parses and checks j. Failures are InvalidJoin errors under path.
func Compile(j *model.Join, path string) (*Descriptor, error) {
	if j == nil {
		return nil, engineerr.New(engineerr.InvalidJoin, path, "join is null")
	}
	q, err := ParseQuery(j.Query)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.InvalidJoin, engineerr.Join(path, "query"), err, "invalid join query")
	}
	keys, err := ParseSort(j.Sort)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.InvalidJoin, engineerr.Join(path, "sort"), err, "invalid join sort")
	}
	d := &Descriptor{Query: q, Sort: keys}
	if j.Limit != nil {
		if *j.Limit <= 0 {
			return nil, engineerr.New(engineerr.InvalidJoin, engineerr.Join(path, "limit"), "limit must be positive, got %d", *j.Limit)
		}
		limit := *j.Limit
		d.Limit = &limit
	}
	if j.Offset != nil {
		if *j.Offset < 0 {
			return nil, engineerr.New(engineerr.InvalidJoin, engineerr.Join(path, "offset"), "offset cannot be negative, got %d", *j.Offset)
		}
		d.Offset = *j.Offset
	}

	names := make([]string, 0, len(j.Params))
	for name := range j.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := j.Params[name]
		ppath := engineerr.Join(path, "params", name)
		if p == nil {
			return nil, engineerr.New(engineerr.InvalidJoin, ppath, "join param %q is null", name)
		}
		section, key, ok := strings.Cut(strings.TrimSpace(p.Value), ".")
		if !ok || !paramSections[section] || !keyRegex.MatchString(key) {
			return nil, engineerr.New(engineerr.InvalidJoin, engineerr.Join(ppath, "value"),
				"join param %q must read <section>.<key> with section one of inputs, outputs, artifacts, globals; got %q", name, p.Value)
		}
		d.Params = append(d.Params, ParamSpec{Name: name, Section: section, Key: key, ContextOnly: p.ContextOnly, ToInit: p.ToInit})
	}
	return d, nil
}

// CompileAll compiles every join of an operation under /joins/<i>.
func CompileAll(joins []*model.Join) ([]*Descriptor, error) {
	out := make([]*Descriptor, 0, len(joins))
	for i, j := range joins {
		d, err := Compile(j, engineerr.Pointer("joins", engineerr.Index(i)))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Join renders the descriptor back into its normalized model form.
func (d *Descriptor) Join() *model.Join {
	j := &model.Join{Query: d.Query.String(), Sort: sortString(d.Sort)}
	if d.Limit != nil {
		limit := *d.Limit
		j.Limit = &limit
	}
	if d.Offset > 0 {
		offset := d.Offset
		j.Offset = &offset
	}
	if len(d.Params) > 0 {
		j.Params = make(map[string]*model.JoinParam, len(d.Params))
		for _, p := range d.Params {
			j.Params[p.Name] = &model.JoinParam{Value: p.Field(), ContextOnly: p.ContextOnly, ToInit: p.ToInit}
		}
	}
	return j
}

// Select filters records by the query, orders them by the sort keys, then
// applies offset and limit. Records with equal keys keep their input order.
func (d *Descriptor) Select(records []Record) []Record {
	var out []Record
	for _, r := range records {
		if d.Query.Match(r) {
			out = append(out, r)
		}
	}
	if len(d.Sort) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, k := range d.Sort {
				a, _ := out[i].Get(k.Field)
				b, _ := out[j].Get(k.Field)
				c := less(a, b)
				if c == 0 {
					continue
				}
				if k.Desc && a != nil && b != nil {
					c = -c
				}
				return c < 0
			}
			return false
		})
	}
	if d.Offset >= len(out) {
		return nil
	}
	out = out[d.Offset:]
	if d.Limit != nil && *d.Limit < len(out) {
		out = out[:*d.Limit]
	}
	return out
}

// Materialize collects, per join param, the addressed field of every record
// in order. Records that lack the field are skipped.
func (d *Descriptor) Materialize(records []Record) map[string][]any {
	out := make(map[string][]any, len(d.Params))
	for _, p := range d.Params {
		values := []any{}
		for _, r := range records {
			if v, ok := r.Get(p.Field()); ok {
				values = append(values, v)
			}
		}
		out[p.Name] = values
	}
	return out
}

// Evaluate is Select followed by Materialize.
func (d *Descriptor) Evaluate(records []Record) map[string][]any {
	return d.Materialize(d.Select(records))
}
