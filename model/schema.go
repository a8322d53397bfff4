package model

import (
	"maps"
	"reflect"

	"github.com/stevemurr/typed-doc-server/schema"
)

// Schema returns the JSON Schema that stored documents of this model must
// satisfy. The identifier key is not described. The returned map is a copy.
func (i *Info) Schema() map[string]any {
	return copySchema(i.schema)
}

// Validate checks an encoded model value against the model's schema.
func (i *Info) Validate(v any) error {
	doc, err := i.Encode(v)
	if err != nil {
		return err
	}
	return schema.Validate(i.schema, doc)
}

func buildSchema(info *Info) map[string]any {
	props := make(map[string]any, len(info.Fields))
	var required []any
	for _, f := range info.Fields {
		p := typeSchema(f.Type)
		if f.MinLen > 0 {
			p["minLength"] = f.MinLen
		}
		if f.MaxLen > 0 {
			p["maxLength"] = f.MaxLen
		}
		if f.Required {
			required = append(required, f.Key)
		} else if t, ok := p["type"].(string); ok {
			p["type"] = []any{t, "null"}
		}
		props[f.Key] = p
	}
	s := map[string]any{
		"title":      info.GoType.Name(),
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func typeSchema(t reflect.Type) map[string]any {
	if t == timeType {
		return map[string]any{"type": "string", "format": "date-time"}
	}
	switch t.Kind() {
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return map[string]any{"type": "integer"}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer", "minimum": 0}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	case reflect.Slice:
		return map[string]any{"type": "array", "items": typeSchema(t.Elem())}
	case reflect.Map:
		return map[string]any{"type": "object"}
	}
	return map[string]any{}
}

func copySchema(s map[string]any) map[string]any {
	out := maps.Clone(s)
	for k, v := range out {
		switch t := v.(type) {
		case map[string]any:
			out[k] = copySchema(t)
		case []any:
			out[k] = append([]any(nil), t...)
		}
	}
	return out
}
