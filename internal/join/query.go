// Package join compiles fan-in descriptors. A join selects upstream runs with
// a small query language, orders them, pages them and turns one field of
// every selected run into a list param. The package never fetches runs: the
// runtime hands it records and receives the selection back.
//
// Query syntax is a comma separated conjunction of conditions:
//
//	status:succeeded|failed, metrics.loss:<0.1, tags:exp-*, name:~baseline
//
// A condition is `field:expr` where expr is one of `v`, `a|b|c` (in),
// `<v`, `<=v`, `>v`, `>=v`, `lo..hi` (inclusive range). A leading `~` on
// expr negates the condition. `*` in a value is a glob; `*` as the last
// field segment (`metrics.*`) matches any key of that section.
package join

import (
	"fmt"
	"regexp"
	"strings"
)

// Op is a condition operator.
type Op string

const (
	OpEq    Op = "eq"
	OpIn    Op = "in"
	OpLt    Op = "lt"
	OpLte   Op = "lte"
	OpGt    Op = "gt"
	OpGte   Op = "gte"
	OpRange Op = "range"
)

var comparators = []struct {
	prefix string
	op     Op
}{
	// Longest prefixes first.
	{"<=", OpLte},
	{">=", OpGte},
	{"<", OpLt},
	{">", OpGt},
}

var baseFields = map[string]bool{
	"uuid":        true,
	"name":        true,
	"description": true,
	"status":      true,
	"kind":        true,
	"runtime":     true,
	"user":        true,
	"project":     true,
	"created_at":  true,
	"updated_at":  true,
	"started_at":  true,
	"finished_at": true,
	"duration":    true,
	"tags":        true,
}

// prefixedFields take a key after a dot, e.g. `metrics.loss`.
var prefixedFields = map[string]bool{
	"labels":    true,
	"metrics":   true,
	"params":    true,
	"inputs":    true,
	"outputs":   true,
	"artifacts": true,
}

var keyRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Condition is one clause of a query.
type Condition struct {
	Field  string
	Op     Op
	Negate bool
	// Values holds one value for eq and comparisons, every alternative for
	// in, and the low and high bounds for range.
	Values []string
}

// Query is a conjunction of conditions. The zero Query matches every record.
type Query struct {
	Conditions []Condition
}

// ParseQuery parses the query DSL.
func ParseQuery(raw string) (Query, error) {
	var q Query
	if strings.TrimSpace(raw) == "" {
		return q, fmt.Errorf("query cannot be empty")
	}
	for i, clause := range strings.Split(raw, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			return Query{}, fmt.Errorf("condition %d is empty", i)
		}
		c, err := parseCondition(clause)
		if err != nil {
			return Query{}, fmt.Errorf("condition %q: %w", clause, err)
		}
		q.Conditions = append(q.Conditions, c)
	}
	return q, nil
}

func parseCondition(clause string) (Condition, error) {
	field, expr, ok := strings.Cut(clause, ":")
	if !ok {
		return Condition{}, fmt.Errorf("expected field:value")
	}
	field = strings.TrimSpace(field)
	if err := checkField(field, true); err != nil {
		return Condition{}, err
	}
	c := Condition{Field: field}

	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "~") {
		c.Negate = true
		expr = strings.TrimSpace(expr[1:])
	}
	if expr == "" {
		return Condition{}, fmt.Errorf("missing value")
	}

	for _, cmp := range comparators {
		if strings.HasPrefix(expr, cmp.prefix) {
			v := strings.TrimSpace(expr[len(cmp.prefix):])
			if v == "" {
				return Condition{}, fmt.Errorf("missing value after %s", cmp.prefix)
			}
			c.Op = cmp.op
			c.Values = []string{v}
			return c, nil
		}
	}

	if lo, hi, ok := strings.Cut(expr, ".."); ok {
		lo, hi = strings.TrimSpace(lo), strings.TrimSpace(hi)
		if lo == "" || hi == "" {
			return Condition{}, fmt.Errorf("range needs both bounds")
		}
		c.Op = OpRange
		c.Values = []string{lo, hi}
		return c, nil
	}

	if strings.Contains(expr, "|") {
		for _, v := range strings.Split(expr, "|") {
			v = strings.TrimSpace(v)
			if v == "" {
				return Condition{}, fmt.Errorf("empty alternative in %q", expr)
			}
			c.Values = append(c.Values, v)
		}
		c.Op = OpIn
		return c, nil
	}

	c.Op = OpEq
	c.Values = []string{expr}
	return c, nil
}

// checkField validates a query or sort field. wildcard allows `section.*`.
func checkField(field string, wildcard bool) error {
	if baseFields[field] {
		return nil
	}
	section, key, ok := strings.Cut(field, ".")
	if !ok || !prefixedFields[section] {
		return fmt.Errorf("unknown field %q", field)
	}
	if key == "*" {
		if !wildcard {
			return fmt.Errorf("field %q cannot use a wildcard here", field)
		}
		return nil
	}
	if !keyRegex.MatchString(key) {
		return fmt.Errorf("invalid key %q in field %q", key, field)
	}
	return nil
}

// String renders the query in canonical form.
func (q Query) String() string {
	parts := make([]string, len(q.Conditions))
	for i, c := range q.Conditions {
		parts[i] = c.String()
	}
	return strings.Join(parts, ", ")
}

func (c Condition) String() string {
	var b strings.Builder
	b.WriteString(c.Field)
	b.WriteByte(':')
	if c.Negate {
		b.WriteByte('~')
	}
	switch c.Op {
	case OpLt:
		b.WriteString("<")
	case OpLte:
		b.WriteString("<=")
	case OpGt:
		b.WriteString(">")
	case OpGte:
		b.WriteString(">=")
	}
	switch c.Op {
	case OpIn:
		b.WriteString(strings.Join(c.Values, "|"))
	case OpRange:
		b.WriteString(c.Values[0] + ".." + c.Values[1])
	default:
		b.WriteString(c.Values[0])
	}
	return b.String()
}
