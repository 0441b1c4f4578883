// Package types defines the closed set of parameter types understood by the
// engine: how each type is spelled, which raw JSON values inhabit it, how
// values are promoted between types and how they render as text inside
// string templates.
package types

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
)

// Name is the spelling of a scalar or container type.
type Name string

const (
	Any        Name = "any"
	Int        Name = "int"
	Float      Name = "float"
	Bool       Name = "bool"
	Str        Name = "str"
	Dict       Name = "dict"
	List       Name = "list"
	Date       Name = "date"
	Datetime   Name = "datetime"
	URI        Name = "uri"
	Path       Name = "path"
	Artifacts  Name = "artifacts"
	Lineage    Name = "lineage"
	Connection Name = "connection"
	Event      Name = "event"
	Dockerfile Name = "dockerfile"
	File       Name = "file"
	GCS        Name = "gcs"
	S3         Name = "s3"
	Wasb       Name = "wasb"
	Image      Name = "image"
	Git        Name = "git"
	Metric     Name = "metric"
	Metadata   Name = "metadata"
)

var known = map[Name]bool{
	Any: true, Int: true, Float: true, Bool: true, Str: true, Dict: true, List: true,
	Date: true, Datetime: true, URI: true, Path: true, Artifacts: true, Lineage: true,
	Connection: true, Event: true, Dockerfile: true, File: true, GCS: true, S3: true,
	Wasb: true, Image: true, Git: true, Metric: true, Metadata: true,
}

var aliases = map[string]Name{
	"integer": Int,
	"number":  Float,
	"boolean": Bool,
	"string":  Str,
	"object":  Dict,
	"array":   List,
	"url":     URI,
}

// Type is a parameter type. Only lists carry an element type; a list with an
// empty Elem accepts any element.
type Type struct {
	Name Name
	Elem Name
}

// Of returns the scalar type with the given name.
func Of(n Name) Type { return Type{Name: n} }

// ListOf returns list[elem].
func ListOf(elem Name) Type { return Type{Name: List, Elem: elem} }

// IsZero reports whether no type was declared. Undeclared types behave as Any.
func (t Type) IsZero() bool { return t.Name == "" }

// IsList reports whether t is a list type.
func (t Type) IsList() bool { return t.Name == List }

// String returns the canonical spelling, e.g. "float" or "list[int]".
func (t Type) String() string {
	if t.Name == List && t.Elem != "" {
		return fmt.Sprintf("list[%s]", t.Elem)
	}
	return string(t.Name)
}

// Parse reads a type spelling. Both list[T] and list<T> are accepted.
func Parse(text string) (Type, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return Type{}, nil
	}
	for _, pair := range [][2]string{{"[", "]"}, {"<", ">"}} {
		open := strings.Index(s, pair[0])
		if open < 0 {
			continue
		}
		if !strings.HasSuffix(s, pair[1]) {
			return Type{}, fmt.Errorf("unterminated element type in %q", text)
		}
		head, inner := s[:open], s[open+1:len(s)-1]
		if head != string(List) {
			return Type{}, fmt.Errorf("only list types take an element type, got %q", text)
		}
		elem, err := parseName(inner)
		if err != nil {
			return Type{}, fmt.Errorf("invalid element type in %q: %w", text, err)
		}
		if elem == List {
			return Type{}, fmt.Errorf("nested list types are not supported: %q", text)
		}
		return ListOf(elem), nil
	}
	n, err := parseName(s)
	if err != nil {
		return Type{}, err
	}
	return Of(n), nil
}

// MustParse is Parse for statically known spellings.
func MustParse(text string) Type {
	t, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return t
}

func parseName(s string) (Name, error) {
	s = strings.TrimSpace(s)
	if a, ok := aliases[s]; ok {
		return a, nil
	}
	if known[Name(s)] {
		return Name(s), nil
	}
	return "", fmt.Errorf("unknown type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON encodes the canonical spelling as a JSON string.
func (t Type) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.String())), nil
}

// UnmarshalJSON decodes a JSON string spelling.
func (t *Type) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("type must be a string, got %s", b)
	}
	return t.UnmarshalText([]byte(s))
}

// JSONSchema describes Type as a string for schema generation.
func (Type) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Description: "parameter type, e.g. float or list[int]",
	}
}
