package types

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// Cty returns the expression-language type that values of t map onto.
// Structured and reference types map to cty.DynamicPseudoType because their
// shape is only known per value.
func (t Type) Cty() cty.Type {
	switch t.Name {
	case Int, Float, Metric:
		return cty.Number
	case Bool:
		return cty.Bool
	case Str, Path, URI, Image, Connection, Date, Datetime, GCS, S3, Wasb:
		return cty.String
	case List:
		if t.Elem != "" {
			return cty.List(Of(t.Elem).Cty())
		}
	}
	return cty.DynamicPseudoType
}

// ToCty converts a generic JSON value into a cty value whose type is implied
// by the value itself: objects for maps and tuples for lists.
func ToCty(v any) (cty.Value, error) {
	if v == nil {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}
	buf, err := jsonAPI.Marshal(v)
	if err != nil {
		return cty.NilVal, fmt.Errorf("encoding value: %w", err)
	}
	ty, err := ctyjson.ImpliedType(buf)
	if err != nil {
		return cty.NilVal, fmt.Errorf("inferring type: %w", err)
	}
	val, err := ctyjson.Unmarshal(buf, ty)
	if err != nil {
		return cty.NilVal, fmt.Errorf("decoding value: %w", err)
	}
	return val, nil
}

// FromCty converts a known cty value back to a normalized generic value.
func FromCty(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not fully known")
	}
	buf, err := ctyjson.SimpleJSONValue{Value: v}.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding value: %w", err)
	}
	return DecodeJSON(buf)
}
