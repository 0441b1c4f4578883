// Package codec reads and writes engine documents in YAML or JSON.
//
// Documents are first parsed into a yaml.Node tree, which accepts both
// formats and preserves key order, and then rewritten as canonical JSON:
// integral numbers lose their fractional part, aliases are expanded and
// duplicate keys are rejected. The canonical JSON is decoded strictly into the
// model types.
package codec

import (
	"bytes"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"

	"github.com/vk/opforge/internal/engineerr"
	"github.com/vk/opforge/internal/model"
	"github.com/vk/opforge/internal/types"
)

// Format is a serialization format.
type Format string

const (
	JSON Format = "json"
	YAML Format = "yaml"
)

// ParseFormat reads a format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	}
	return "", fmt.Errorf("unknown format %q: must be 'json' or 'yaml'", s)
}

// FormatOf guesses the format from a file extension, defaulting to YAML.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return JSON
	}
	return YAML
}

// Extensions lists the file extensions the codec reads.
var Extensions = []string{".yaml", ".yml", ".json"}

var decodeAPI = sonic.Config{UseInt64: true}.Froze()

// ToJSON converts YAML or JSON text into canonical JSON.
func ToJSON(data []byte) ([]byte, error) {
	root, err := parseNode(data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeNode(&buf, root, ""); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeValue parses YAML or JSON into normalized generic values.
func DecodeValue(data []byte) (any, error) {
	raw, err := ToJSON(data)
	if err != nil {
		return nil, err
	}
	var out any
	if err := decodeAPI.Unmarshal(raw, &out); err != nil {
		return nil, engineerr.Wrap(engineerr.ParseError, "", err, "invalid document")
	}
	return types.Normalize(out), nil
}

func parseNode(data []byte) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, engineerr.Wrap(engineerr.ParseError, "", err, "document is not well-formed YAML or JSON")
	}
	if doc.Kind == 0 {
		return nil, engineerr.New(engineerr.ParseError, "", "document is empty")
	}
	return &doc, nil
}

func writeNode(buf *bytes.Buffer, n *yaml.Node, path string) error {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return writeNode(buf, n.Content[0], path)
	case yaml.AliasNode:
		return writeNode(buf, n.Alias, path)
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, item := range n.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeNode(buf, item, engineerr.Join(path, engineerr.Index(i))); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case yaml.MappingNode:
		buf.WriteByte('{')
		seen := make(map[string]bool, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			if key.Kind != yaml.ScalarNode {
				return engineerr.New(engineerr.ParseError, path, "line %d: mapping keys must be scalars", key.Line)
			}
			if key.Value == "<<" {
				return engineerr.New(engineerr.ParseError, path, "line %d: merge keys are not supported", key.Line)
			}
			if seen[key.Value] {
				return engineerr.New(engineerr.ParseError, engineerr.Join(path, key.Value), "line %d: duplicate key %q", key.Line, key.Value)
			}
			seen[key.Value] = true
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(strconv.Quote(key.Value))
			buf.WriteByte(':')
			if err := writeNode(buf, val, engineerr.Join(path, key.Value)); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case yaml.ScalarNode:
		return writeScalar(buf, n, path)
	}
	return engineerr.New(engineerr.ParseError, path, "line %d: unsupported node", n.Line)
}

func writeScalar(buf *bytes.Buffer, n *yaml.Node, path string) error {
	switch n.ShortTag() {
	case "!!null":
		buf.WriteString("null")
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return engineerr.Wrap(engineerr.ParseError, path, err, "line %d: invalid bool", n.Line)
		}
		buf.WriteString(strconv.FormatBool(b))
	case "!!int":
		var i int64
		if err := n.Decode(&i); err == nil {
			buf.WriteString(strconv.FormatInt(i, 10))
			return nil
		}
		var f float64
		if err := n.Decode(&f); err != nil {
			return engineerr.Wrap(engineerr.ParseError, path, err, "line %d: invalid integer", n.Line)
		}
		return writeFloat(buf, f, n, path)
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return engineerr.Wrap(engineerr.ParseError, path, err, "line %d: invalid number", n.Line)
		}
		return writeFloat(buf, f, n, path)
	default:
		b, err := sonic.Marshal(n.Value)
		if err != nil {
			return engineerr.Wrap(engineerr.ParseError, path, err, "line %d: invalid string", n.Line)
		}
		buf.Write(b)
	}
	return nil
}

func writeFloat(buf *bytes.Buffer, f float64, n *yaml.Node, path string) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return engineerr.New(engineerr.ParseError, path, "line %d: non-finite numbers are not supported", n.Line)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		buf.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

// header peeks at the top-level kind and version of a document.
type header struct {
	Kind    string         `json:"kind"`
	Version *model.Version `json:"version"`
}

func readHeader(raw []byte) (header, error) {
	var top map[string]any
	if err := decodeAPI.Unmarshal(raw, &top); err != nil {
		return header{}, engineerr.Wrap(engineerr.ParseError, "", err, "document root must be a mapping")
	}
	var h header
	if k, ok := top["kind"]; ok {
		s, isStr := k.(string)
		if !isStr {
			return header{}, engineerr.New(engineerr.ParseError, "/kind", "kind must be a string")
		}
		h.Kind = strings.ToLower(s)
	}
	if v, ok := top["version"]; ok && v != nil {
		ver := model.Version(types.Text(v))
		if err := ver.Check(); err != nil {
			return header{}, engineerr.Wrap(engineerr.ParseError, "/version", err, "unsupported document version")
		}
		h.Version = &ver
	}
	return h, nil
}
