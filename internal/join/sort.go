package join

import (
	"fmt"
	"strings"
)

// SortKey orders records by one field.
type SortKey struct {
	Field string
	Desc  bool
}

func (k SortKey) String() string {
	if k.Desc {
		return "-" + k.Field
	}
	return k.Field
}

// ParseSort parses a comma separated list of fields, each optionally
// prefixed with `-` for descending order. An empty string yields no keys.
func ParseSort(raw string) ([]SortKey, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var keys []SortKey
	seen := map[string]bool{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("sort has an empty field")
		}
		k := SortKey{Field: part}
		if strings.HasPrefix(part, "-") {
			k = SortKey{Field: strings.TrimSpace(part[1:]), Desc: true}
		}
		if err := checkField(k.Field, false); err != nil {
			return nil, err
		}
		if seen[k.Field] {
			return nil, fmt.Errorf("sort field %q repeated", k.Field)
		}
		seen[k.Field] = true
		keys = append(keys, k)
	}
	return keys, nil
}

func sortString(keys []SortKey) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.String()
	}
	return strings.Join(parts, ", ")
}
