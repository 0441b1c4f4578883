package types

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

var (
	jsonAPI   = sonic.Config{UseInt64: true}.Froze()
	sortedAPI = sonic.Config{SortMapKeys: true}.Froze()
)

// dateLayouts are tried in order when reading date and datetime values.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.DateOnly,
}

// ParseTime reads a timestamp in any of the accepted layouts. Values without
// a zone are taken as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a timestamp", s)
}

// Accepts reports whether v inhabits t without any explicit parse. Integers
// are accepted where floats are expected; integral floats where integers are.
func (t Type) Accepts(v any) bool {
	if v == nil {
		return false
	}
	switch t.Name {
	case "", Any:
		return true
	case Int:
		_, ok := asInt(v)
		return ok
	case Float, Metric:
		_, ok := asFloat(v)
		return ok
	case Bool:
		_, ok := v.(bool)
		return ok
	case Str, Path, Image, Connection:
		_, ok := v.(string)
		return ok
	case Dict, Lineage, Metadata, Dockerfile, File:
		_, ok := v.(map[string]any)
		return ok
	case List:
		items, ok := v.([]any)
		if !ok {
			return false
		}
		if t.Elem == "" {
			return true
		}
		elem := Of(t.Elem)
		for _, item := range items {
			if !elem.Accepts(item) {
				return false
			}
		}
		return true
	case Date, Datetime:
		switch x := v.(type) {
		case time.Time:
			return true
		case string:
			_, err := ParseTime(x)
			return err == nil
		}
		return false
	case URI:
		s, ok := v.(string)
		if !ok || s == "" {
			return false
		}
		_, err := url.Parse(s)
		return err == nil
	case GCS:
		return hasScheme(v, "gs://")
	case S3:
		return hasScheme(v, "s3://")
	case Wasb:
		return hasScheme(v, "wasb://", "wasbs://")
	case Git:
		switch x := v.(type) {
		case string:
			return x != ""
		case map[string]any:
			_, ok := x["url"].(string)
			return ok
		}
		return false
	case Artifacts:
		switch x := v.(type) {
		case []any:
			return allStrings(x)
		case map[string]any:
			for _, key := range []string{"files", "dirs"} {
				if raw, ok := x[key]; ok {
					items, ok := raw.([]any)
					if !ok || !allStrings(items) {
						return false
					}
				}
			}
			return true
		}
		return false
	case Event:
		switch v.(type) {
		case string, map[string]any:
			return true
		}
		return false
	}
	return false
}

// Coerce applies the promotion rules of t to an accepted value: integers
// become float64 for floats and integral floats become int64 for ints. Values
// that are not accepted fail.
func (t Type) Coerce(v any) (any, error) {
	if !t.Accepts(v) {
		return nil, fmt.Errorf("value %s is not a valid %s", describe(v), t)
	}
	switch t.Name {
	case Int:
		i, _ := asInt(v)
		return i, nil
	case Float, Metric:
		f, _ := asFloat(v)
		return f, nil
	case Date:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC().Format(time.DateOnly), nil
		}
	case Datetime:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC().Format(time.RFC3339), nil
		}
	case List:
		if t.Elem == "" {
			return v, nil
		}
		items := v.([]any)
		out := make([]any, len(items))
		elem := Of(t.Elem)
		for i, item := range items {
			c, err := elem.Coerce(item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = c
		}
		return out, nil
	}
	return v, nil
}

// ParseText is the explicit parse from text into t. It is the only path from
// a string to a numeric or boolean value.
func ParseText(t Type, s string) (any, error) {
	switch t.Name {
	case Int:
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as int: %w", s, err)
		}
		return i, nil
	case Float, Metric:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as float: %w", s, err)
		}
		return f, nil
	case Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as bool: %w", s, err)
		}
		return b, nil
	case Dict, Lineage, Metadata, Dockerfile, File, Any, "":
		trimmed := strings.TrimSpace(s)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") || t.Name == Dict {
			v, err := DecodeJSON([]byte(trimmed))
			if err != nil {
				return nil, fmt.Errorf("cannot parse %q as %s: %w", s, t, err)
			}
			return v, nil
		}
		return s, nil
	case List:
		trimmed := strings.TrimSpace(s)
		var items []any
		if strings.HasPrefix(trimmed, "[") {
			v, err := DecodeJSON([]byte(trimmed))
			if err != nil {
				return nil, fmt.Errorf("cannot parse %q as %s: %w", s, t, err)
			}
			list, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("cannot parse %q as %s", s, t)
			}
			items = list
		} else if trimmed != "" {
			for _, part := range strings.Split(trimmed, ",") {
				part = strings.TrimSpace(part)
				if t.Elem == "" {
					items = append(items, part)
					continue
				}
				v, err := ParseText(Of(t.Elem), part)
				if err != nil {
					return nil, err
				}
				items = append(items, v)
			}
		}
		if items == nil {
			items = []any{}
		}
		return t.Coerce(items)
	}
	return s, nil
}

// Text renders v for substitution into a larger string.
func Text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	}
	b, err := sortedAPI.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// DecodeJSON decodes raw JSON into normalized generic values.
func DecodeJSON(b []byte) (any, error) {
	var out any
	if err := jsonAPI.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return Normalize(out), nil
}

// Normalize rewrites generic values into the canonical representation used
// throughout the engine: int64 for every integral number, float64 for the
// rest, map[string]any and []any for containers.
func Normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}
		return float64(x)
	case float32:
		return Normalize(float64(x))
	case float64:
		if i, ok := integral(x); ok {
			return i
		}
		return x
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = Normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[fmt.Sprint(k)] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = Normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = item
		}
		return out
	}
	return v
}

// DeepCopy copies a generic JSON value so the result shares no containers
// with the input.
func DeepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if x == nil {
			return map[string]any(nil)
		}
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = DeepCopy(item)
		}
		return out
	case []any:
		if x == nil {
			return []any(nil)
		}
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = DeepCopy(item)
		}
		return out
	}
	return v
}

func integral(f float64) (int64, bool) {
	if math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func asInt(v any) (int64, bool) {
	switch x := Normalize(v).(type) {
	case int64:
		return x, true
	case float64:
		return integral(x)
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch x := Normalize(v).(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func hasScheme(v any, prefixes ...string) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) && len(s) > len(p) {
			return true
		}
	}
	return false
}

func allStrings(items []any) bool {
	for _, item := range items {
		if _, ok := item.(string); !ok {
			return false
		}
	}
	return true
}

func describe(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(x)
	}
	return fmt.Sprintf("%v (%T)", v, v)
}
