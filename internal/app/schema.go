package app

import (
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/vk/opforge/internal/model"
)

const schemaBaseID = "https://opforge.dev/schemas"

// orderedValues maps the ordered maps of the model to their value type.
var orderedValues = map[reflect.Type]any{
	reflect.TypeOf(orderedmap.OrderedMap[string, *model.BoundParam]{}): &model.BoundParam{},
	reflect.TypeOf(orderedmap.OrderedMap[string, *model.Space]{}):      &model.Space{},
}

// Schema returns the JSON schema of an operation, component or compiled
// operation document.
func Schema(target string) (*jsonschema.Schema, error) {
	var v any
	switch target {
	case "operation":
		v = &model.Operation{}
	case "component":
		v = &model.Component{}
	case "compiled":
		v = &model.CompiledOperation{}
	default:
		return nil, fmt.Errorf("unknown schema %q: must be one of %v", target, SchemaTargets)
	}

	r := &jsonschema.Reflector{
		BaseSchemaID: schemaBaseID,
		Mapper:       mapOrderedMaps,
	}
	s := r.Reflect(v)
	s.Title = "opforge " + target
	return s, nil
}

// mapOrderedMaps describes the ordered maps of the model as the JSON objects
// they encode to.
func mapOrderedMaps(t reflect.Type) *jsonschema.Schema {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	value, ok := orderedValues[t]
	if !ok {
		return nil
	}
	item := (&jsonschema.Reflector{Anonymous: true, DoNotReference: true}).Reflect(value)
	item.Version = ""
	return &jsonschema.Schema{Type: "object", AdditionalProperties: item}
}
