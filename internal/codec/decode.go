package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"

	"github.com/vk/opforge/internal/engineerr"
	"github.com/vk/opforge/internal/model"
)

// Document is a decoded top-level document: exactly one of Operation and
// Component is set.
type Document struct {
	Operation *model.Operation
	Component *model.Component
}

// Kind returns "operation" or "component".
func (d Document) Kind() string {
	if d.Component != nil {
		return "component"
	}
	return model.OperationKind
}

// DecodeDocument decodes an operation, preset or component, choosing by the
// top-level `kind` field. Documents without a kind are read as operations.
func DecodeDocument(data []byte) (Document, error) {
	raw, err := ToJSON(data)
	if err != nil {
		return Document{}, err
	}
	h, err := readHeader(raw)
	if err != nil {
		return Document{}, err
	}
	switch h.Kind {
	case "component":
		c, err := decodeComponent(raw)
		return Document{Component: c}, err
	case "", model.OperationKind, "preset":
		op, err := decodeOperation(raw)
		return Document{Operation: op}, err
	}
	return Document{}, engineerr.New(engineerr.ParseError, "/kind", "unknown document kind %q", h.Kind)
}

// DecodeOperation decodes an operation or preset document.
func DecodeOperation(data []byte) (*model.Operation, error) {
	raw, err := ToJSON(data)
	if err != nil {
		return nil, err
	}
	if _, err := readHeader(raw); err != nil {
		return nil, err
	}
	return decodeOperation(raw)
}

// DecodePreset decodes a preset document. The isPreset flag is checked by the
// patcher, not here, so that admission errors carry their own kind.
func DecodePreset(data []byte) (*model.Operation, error) {
	return DecodeOperation(data)
}

// DecodeComponent decodes a component document.
func DecodeComponent(data []byte) (*model.Component, error) {
	raw, err := ToJSON(data)
	if err != nil {
		return nil, err
	}
	h, err := readHeader(raw)
	if err != nil {
		return nil, err
	}
	if h.Kind != "" && h.Kind != "component" {
		return nil, engineerr.New(engineerr.ParseError, "/kind", "expected a component, got kind %q", h.Kind)
	}
	return decodeComponent(raw)
}

func decodeOperation(raw []byte) (*model.Operation, error) {
	var op model.Operation
	if err := decodeAPI.Unmarshal(raw, &op); err != nil {
		return nil, engineerr.Wrap(engineerr.ParseError, "", err, "invalid operation")
	}
	if op.Kind != nil {
		k := strings.ToLower(*op.Kind)
		op.Kind = &k
	}
	if refs := op.ComponentRefs(); len(refs) > 1 {
		return nil, engineerr.New(engineerr.ParseError, "", "an operation sets at most one of hubRef, urlRef, pathRef and component, got %s and %s", refs[0], refs[1])
	}
	if op.Component != nil {
		if err := checkComponent(op.Component); err != nil {
			return nil, engineerr.Under("/component", err)
		}
	}
	return &op, nil
}

func decodeComponent(raw []byte) (*model.Component, error) {
	var c model.Component
	if err := decodeAPI.Unmarshal(raw, &c); err != nil {
		return nil, engineerr.Wrap(engineerr.ParseError, "", err, "invalid component")
	}
	if err := checkComponent(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// checkComponent validates what the decoder cannot: unique IO names, a run
// payload with a known kind, and a supported version.
func checkComponent(c *model.Component) error {
	if c.Version != nil {
		if err := c.Version.Check(); err != nil {
			return engineerr.Wrap(engineerr.ParseError, "/version", err, "unsupported component version")
		}
	}
	for _, section := range []struct {
		name string
		ios  []*model.IO
	}{{"inputs", c.Inputs}, {"outputs", c.Outputs}} {
		seen := make(map[string]bool, len(section.ios))
		for i, io := range section.ios {
			path := engineerr.Pointer(section.name, engineerr.Index(i))
			if io == nil || io.Name == "" {
				return engineerr.New(engineerr.ParseError, path, "io entries need a name")
			}
			if seen[io.Name] {
				return engineerr.New(engineerr.ParseError, path, "duplicate %s name %q", strings.TrimSuffix(section.name, "s"), io.Name)
			}
			seen[io.Name] = true
		}
	}
	if c.Run == nil {
		return engineerr.New(engineerr.ParseError, "/run", "component has no run section")
	}
	kind, err := model.ParseRunKind(c.Run.Kind())
	if err != nil {
		return engineerr.Wrap(engineerr.ParseError, "/run/kind", err, "invalid run kind")
	}
	c.Run["kind"] = string(kind)
	return nil
}

// Encode serializes v as JSON or YAML. Key order follows the JSON encoding of
// v; YAML output uses block style.
func Encode(v any, f Format) ([]byte, error) {
	raw, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	switch f {
	case JSON, "":
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return nil, fmt.Errorf("indenting json: %w", err)
		}
		buf.WriteByte('\n')
		return buf.Bytes(), nil
	case YAML:
		var node yaml.Node
		if err := yaml.Unmarshal(raw, &node); err != nil {
			return nil, fmt.Errorf("re-reading encoded document: %w", err)
		}
		blockStyle(&node)
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(&node); err != nil {
			return nil, fmt.Errorf("encoding yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encoding yaml: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown format %q", f)
}

// blockStyle drops the flow and quoting styles inherited from JSON. Strings
// that would read back as another type keep their quotes.
func blockStyle(n *yaml.Node) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!str" && needsQuotes(n.Value) {
			n.Style = yaml.DoubleQuotedStyle
			return
		}
		n.Style = 0
	default:
		n.Style = 0
	}
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func needsQuotes(s string) bool {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(s), &doc); err != nil || len(doc.Content) != 1 {
		return true
	}
	inner := doc.Content[0]
	return inner.Kind != yaml.ScalarNode || inner.ShortTag() != "!!str" || inner.Value != s
}
