package types

import (
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name      string
		input     string
		expected  Type
		expectErr bool
	}{
		{name: "scalar", input: "float", expected: Of(Float)},
		{name: "case and space insensitive", input: "  Int ", expected: Of(Int)},
		{name: "alias", input: "string", expected: Of(Str)},
		{name: "bare list", input: "list", expected: Of(List)},
		{name: "bracket list", input: "list[int]", expected: ListOf(Int)},
		{name: "angle list", input: "list<path>", expected: ListOf(Path)},
		{name: "empty is untyped", input: "", expected: Type{}},
		{name: "error - unknown", input: "tensor", expectErr: true},
		{name: "error - element on scalar", input: "int[str]", expectErr: true},
		{name: "error - nested list", input: "list[list]", expectErr: true},
		{name: "error - unterminated", input: "list[int", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.input)
			if tc.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestType_JSONRoundTrip(t *testing.T) {
	in := struct {
		Type Type `json:"type"`
	}{Type: ListOf(Float)}

	raw, err := sonic.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"list[float]"}`, string(raw))

	var out struct {
		Type Type `json:"type"`
	}
	require.NoError(t, sonic.Unmarshal(raw, &out))
	assert.Equal(t, in, out)
}

func TestType_Accepts(t *testing.T) {
	testCases := []struct {
		typ      string
		value    any
		expected bool
	}{
		{"int", int64(3), true},
		{"int", 3.0, true},
		{"int", 3.5, false},
		{"int", "3", false},
		{"float", int64(1), true},
		{"float", 0.1, true},
		{"float", "not-a-number", false},
		{"bool", true, true},
		{"bool", "true", false},
		{"str", "x", true},
		{"str", int64(1), false},
		{"dict", map[string]any{"a": int64(1)}, true},
		{"dict", []any{}, false},
		{"list", []any{int64(1), "a"}, true},
		{"list[int]", []any{int64(1), int64(2)}, true},
		{"list[int]", []any{int64(1), "a"}, false},
		{"list[float]", []any{int64(1), 2.5}, true},
		{"date", "2024-01-02", true},
		{"datetime", "2024-01-02T10:00:00Z", true},
		{"datetime", "yesterday", false},
		{"uri", "https://example.com/x", true},
		{"gcs", "gs://bucket/path", true},
		{"gcs", "s3://bucket/path", false},
		{"s3", "s3://bucket", true},
		{"wasb", "wasbs://container@account/path", true},
		{"git", map[string]any{"url": "https://github.com/x/y"}, true},
		{"git", map[string]any{"revision": "main"}, false},
		{"artifacts", map[string]any{"files": []any{"a.txt"}}, true},
		{"artifacts", map[string]any{"files": []any{int64(1)}}, false},
		{"artifacts", []any{"a", "b"}, true},
		{"any", nil, false},
		{"any", "anything", true},
		{"path", "/a/b", true},
	}

	for _, tc := range testCases {
		t.Run(tc.typ+"/"+describe(tc.value), func(t *testing.T) {
			assert.Equal(t, tc.expected, MustParse(tc.typ).Accepts(tc.value))
		})
	}
}

func TestType_Coerce(t *testing.T) {
	got, err := Of(Float).Coerce(int64(2))
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)

	got, err = Of(Int).Coerce(4.0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got)

	got, err = ListOf(Float).Coerce([]any{int64(1), 0.5})
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 0.5}, got)

	got, err = Of(Datetime).Coerce(time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600)))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T11:00:00Z", got)

	_, err = Of(Int).Coerce("3")
	assert.Error(t, err, "strings never promote to numbers implicitly")
}

func TestParseText(t *testing.T) {
	testCases := []struct {
		name      string
		typ       string
		text      string
		expected  any
		expectErr bool
	}{
		{name: "int", typ: "int", text: "42", expected: int64(42)},
		{name: "float", typ: "float", text: "0.01", expected: 0.01},
		{name: "bool", typ: "bool", text: "true", expected: true},
		{name: "string passthrough", typ: "str", text: "hello", expected: "hello"},
		{name: "dict", typ: "dict", text: `{"a": 1}`, expected: map[string]any{"a": int64(1)}},
		{name: "csv list", typ: "list[int]", text: "1, 2,3", expected: []any{int64(1), int64(2), int64(3)}},
		{name: "json list", typ: "list[float]", text: "[1, 2.5]", expected: []any{1.0, 2.5}},
		{name: "error - int", typ: "int", text: "abc", expectErr: true},
		{name: "error - list element", typ: "list[int]", text: "1,x", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseText(MustParse(tc.typ), tc.text)
			if tc.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestText(t *testing.T) {
	assert.Equal(t, "", Text(nil))
	assert.Equal(t, "3", Text(int64(3)))
	assert.Equal(t, "0.1", Text(0.1))
	assert.Equal(t, "1e-07", Text(1e-7))
	assert.Equal(t, "false", Text(false))
	assert.Equal(t, `{"a":1,"b":[true]}`, Text(map[string]any{"b": []any{true}, "a": int64(1)}))
	assert.Equal(t, "2024-01-01T00:00:00Z", Text(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestNormalize(t *testing.T) {
	in := map[string]any{
		"i":  3,
		"f":  2.0,
		"g":  2.5,
		"m":  map[any]any{"k": uint8(1)},
		"ls": []string{"a"},
	}
	assert.Equal(t, map[string]any{
		"i":  int64(3),
		"f":  int64(2),
		"g":  2.5,
		"m":  map[string]any{"k": int64(1)},
		"ls": []any{"a"},
	}, Normalize(in))
}

func TestDeepCopy(t *testing.T) {
	in := map[string]any{"a": []any{map[string]any{"b": int64(1)}}}
	out := DeepCopy(in).(map[string]any)
	out["a"].([]any)[0].(map[string]any)["b"] = int64(2)

	assert.Equal(t, int64(1), in["a"].([]any)[0].(map[string]any)["b"])
}

func TestCtyRoundTrip(t *testing.T) {
	in := map[string]any{"lr": 0.1, "layers": []any{int64(1), int64(2)}, "name": "x", "on": true}

	val, err := ToCty(in)
	require.NoError(t, err)
	assert.True(t, val.Type().IsObjectType())
	assert.Equal(t, cty.StringVal("x"), val.GetAttr("name"))

	back, err := FromCty(val)
	require.NoError(t, err)
	assert.Equal(t, in, back)

	null, err := ToCty(nil)
	require.NoError(t, err)
	assert.True(t, null.IsNull())
}

func TestType_Cty(t *testing.T) {
	assert.Equal(t, cty.Number, Of(Float).Cty())
	assert.Equal(t, cty.List(cty.Number), ListOf(Int).Cty())
	assert.Equal(t, cty.DynamicPseudoType, Of(Dict).Cty())
}
