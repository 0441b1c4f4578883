package join

import (
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/vk/opforge/internal/types"
)

// Record is one upstream run as handed over by the runtime. Base fields
// (`uuid`, `status`, `created_at`, ...) are top-level keys; sectioned fields
// (`metrics`, `labels`, `inputs`, `outputs`, `artifacts`, `params`,
// `globals`) are nested maps. `tags` is a list.
type Record map[string]any

// Get returns the value of a dotted field such as `status` or `outputs.loss`.
func (r Record) Get(field string) (any, bool) {
	section, key, nested := strings.Cut(field, ".")
	v, ok := r[section]
	if !ok {
		return nil, false
	}
	if !nested {
		return v, true
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok = m[key]
	return v, ok
}

// values lists every value a condition field addresses. Wildcard fields
// expand to every key of the section; list values expand to their items.
func (r Record) values(field string) []any {
	var raw []any
	if section, key, ok := strings.Cut(field, "."); ok && key == "*" {
		m, _ := r[section].(map[string]any)
		for _, v := range m {
			raw = append(raw, v)
		}
	} else if v, ok := r.Get(field); ok {
		raw = append(raw, v)
	}
	var out []any
	for _, v := range raw {
		if items, ok := v.([]any); ok {
			out = append(out, items...)
			continue
		}
		if items, ok := v.([]string); ok {
			for _, s := range items {
				out = append(out, s)
			}
			continue
		}
		out = append(out, v)
	}
	return out
}

// Match reports whether the record satisfies every condition of q.
func (q Query) Match(r Record) bool {
	for _, c := range q.Conditions {
		if !c.Match(r) {
			return false
		}
	}
	return true
}

// Match reports whether the record satisfies c. A condition over a list or a
// wildcard field holds when any addressed value satisfies it.
func (c Condition) Match(r Record) bool {
	hit := false
	for _, v := range r.values(c.Field) {
		if c.test(v) {
			hit = true
			break
		}
	}
	return hit != c.Negate
}

func (c Condition) test(v any) bool {
	switch c.Op {
	case OpEq:
		return equal(v, c.Values[0])
	case OpIn:
		for _, want := range c.Values {
			if equal(v, want) {
				return true
			}
		}
		return false
	case OpLt:
		cmp, ok := compare(v, c.Values[0])
		return ok && cmp < 0
	case OpLte:
		cmp, ok := compare(v, c.Values[0])
		return ok && cmp <= 0
	case OpGt:
		cmp, ok := compare(v, c.Values[0])
		return ok && cmp > 0
	case OpGte:
		cmp, ok := compare(v, c.Values[0])
		return ok && cmp >= 0
	case OpRange:
		lo, okLo := compare(v, c.Values[0])
		hi, okHi := compare(v, c.Values[1])
		return okLo && okHi && lo >= 0 && hi <= 0
	}
	return false
}

func equal(v any, want string) bool {
	if v == nil {
		return want == "null" || want == "none"
	}
	if cmp, ok := compare(v, want); ok && isNumber(v) {
		return cmp == 0
	}
	got := types.Text(v)
	if strings.Contains(want, "*") {
		matched, err := path.Match(want, got)
		return err == nil && matched
	}
	return got == want
}

// compare orders v against the literal want: numerically when both are
// numbers, chronologically when both are timestamps, lexically otherwise.
func compare(v any, want string) (int, bool) {
	if v == nil {
		return 0, false
	}
	if f, ok := number(v); ok {
		w, err := strconv.ParseFloat(want, 64)
		if err != nil {
			return 0, false
		}
		return cmpFloat(f, w), true
	}
	got := types.Text(v)
	if tv, err := types.ParseTime(got); err == nil {
		if tw, err := types.ParseTime(want); err == nil {
			return tv.Compare(tw), true
		}
	}
	return strings.Compare(got, want), true
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case time.Duration:
		return x.Seconds(), true
	}
	return 0, false
}

func isNumber(v any) bool {
	_, ok := number(v)
	return ok
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// less orders two field values for sorting. Missing values sort last.
func less(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			return cmpFloat(fa, fb)
		}
	}
	ta, tb := types.Text(a), types.Text(b)
	if da, err := types.ParseTime(ta); err == nil {
		if db, err := types.ParseTime(tb); err == nil {
			return da.Compare(db)
		}
	}
	return strings.Compare(ta, tb)
}
