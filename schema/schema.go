// Package schema provides JSON Schema validation for raw documents read back
// from a store.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrInvalid is wrapped by every ValidationError.
var ErrInvalid = errors.New("schema validation failed")

// ValidationError reports the first constraint a document violated.
type ValidationError struct {
	Path   string // JSONPath-like location, "$" for the document root
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

func fail(path, format string, args ...any) error {
	return &ValidationError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks a document against a JSON Schema (draft-07 subset).
// Returns nil if validation passes or the schema is nil.
//
// Supported JSON Schema keywords:
//   - type (string, number, integer, boolean, object, array, null)
//   - properties, required, additionalProperties
//   - items (for arrays)
//   - minimum, maximum, exclusiveMinimum, exclusiveMaximum
//   - minLength, maxLength, pattern
//   - minItems, maxItems
//   - enum, const
//
// Values may be any Go type a store backend produces: JSON-decoded values,
// sized integers from binary encodings, typed slices, and time.Time.
func Validate(schema map[string]any, doc map[string]any) error {
	if schema == nil {
		return nil
	}
	return validateValue(schema, doc, "$")
}

func validateValue(schema map[string]any, value any, path string) error {
	if t, ok := schema["type"]; ok {
		switch ts := t.(type) {
		case string:
			if err := checkType([]string{ts}, value, path); err != nil {
				return err
			}
		case []any:
			var allowed []string
			for _, s := range ts {
				if str, ok := s.(string); ok {
					allowed = append(allowed, str)
				}
			}
			if err := checkType(allowed, value, path); err != nil {
				return err
			}
		case []string:
			if err := checkType(ts, value, path); err != nil {
				return err
			}
		}
	}

	if enumRaw, ok := schema["enum"]; ok {
		if enumList, ok := enumRaw.([]any); ok {
			if err := checkEnum(enumList, value, path); err != nil {
				return err
			}
		}
	}
	if c, ok := schema["const"]; ok {
		if !looselyEqual(c, value) {
			return fail(path, "value %v does not equal const %v", value, c)
		}
	}

	switch v := value.(type) {
	case map[string]any:
		return validateObject(schema, v, path)
	case string:
		return validateString(schema, v, path)
	case time.Time, nil, bool:
		return nil
	}
	if f, ok := toFloat(value); ok {
		return validateNumber(schema, f, path)
	}
	if rv := reflect.ValueOf(value); rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if _, isBytes := value.([]byte); !isBytes {
			return validateArray(schema, rv, path)
		}
	}
	return nil
}

func checkType(expected []string, value any, path string) error {
	actual := jsonType(value)
	for _, want := range expected {
		switch {
		case want == actual:
			return nil
		case want == "number" && actual == "integer":
			return nil
		case want == "integer" && actual == "number":
			// Accept float values that are whole numbers
			if f, ok := toFloat(value); ok && f == float64(int64(f)) {
				return nil
			}
		}
	}
	if len(expected) == 1 {
		return fail(path, "expected type %q, got %q", expected[0], actual)
	}
	return fail(path, "expected one of types %v, got %q", expected, actual)
}

func jsonType(v any) string {
	if v == nil {
		return "null"
	}
	switch n := v.(type) {
	case map[string]any:
		return "object"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		if _, err := n.Int64(); err == nil {
			return "integer"
		}
		return "number"
	case time.Time:
		return "string"
	case []byte:
		return "string"
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map:
		return "object"
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	}
	return rv.Type().String()
}

func checkEnum(allowed []any, value any, path string) error {
	for _, a := range allowed {
		if looselyEqual(a, value) {
			return nil
		}
	}
	return fail(path, "value not in enum %v", allowed)
}

// looselyEqual compares numbers by value regardless of their Go type.
func looselyEqual(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func validateObject(schema map[string]any, obj map[string]any, path string) error {
	for _, field := range stringList(schema["required"]) {
		if _, exists := obj[field]; !exists {
			return fail(path, "missing required field %q", field)
		}
	}

	propsMap, _ := schema["properties"].(map[string]any)
	// Iterate in key order so the reported error is deterministic.
	fields := make([]string, 0, len(propsMap))
	for field := range propsMap {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		val, exists := obj[field]
		if !exists {
			continue
		}
		ps, ok := propsMap[field].(map[string]any)
		if !ok {
			continue
		}
		if err := validateValue(ps, val, path+"."+field); err != nil {
			return err
		}
	}

	if ap, ok := schema["additionalProperties"]; ok {
		if apBool, ok := ap.(bool); ok && !apBool {
			var extra []string
			for field := range obj {
				if _, defined := propsMap[field]; !defined {
					extra = append(extra, field)
				}
			}
			if len(extra) > 0 {
				sort.Strings(extra)
				return fail(path, "additional properties not allowed: %s", strings.Join(extra, ", "))
			}
		}
	}

	return nil
}

func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func validateArray(schema map[string]any, arr reflect.Value, path string) error {
	n := arr.Len()
	if v, ok := toFloat(schema["minItems"]); ok && float64(n) < v {
		return fail(path, "array length %d is less than minItems %v", n, v)
	}
	if v, ok := toFloat(schema["maxItems"]); ok && float64(n) > v {
		return fail(path, "array length %d is greater than maxItems %v", n, v)
	}
	if itemSchema, ok := schema["items"].(map[string]any); ok {
		for i := 0; i < n; i++ {
			if err := validateValue(itemSchema, arr.Index(i).Interface(), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateString(schema map[string]any, s string, path string) error {
	// Lengths count characters, not bytes.
	n := utf8.RuneCountInString(s)
	if v, ok := toFloat(schema["minLength"]); ok && float64(n) < v {
		return fail(path, "string length %d is less than minLength %v", n, v)
	}
	if v, ok := toFloat(schema["maxLength"]); ok && float64(n) > v {
		return fail(path, "string length %d is greater than maxLength %v", n, v)
	}
	if p, ok := schema["pattern"].(string); ok {
		re, err := regexp.Compile(p)
		if err != nil {
			return fail(path, "invalid pattern %q: %v", p, err)
		}
		if !re.MatchString(s) {
			return fail(path, "string does not match pattern %q", p)
		}
	}
	return nil
}

func validateNumber(schema map[string]any, n float64, path string) error {
	if v, ok := toFloat(schema["minimum"]); ok && n < v {
		return fail(path, "%v is less than minimum %v", n, v)
	}
	if v, ok := toFloat(schema["maximum"]); ok && n > v {
		return fail(path, "%v is greater than maximum %v", n, v)
	}
	if v, ok := toFloat(schema["exclusiveMinimum"]); ok && n <= v {
		return fail(path, "%v is not greater than exclusiveMinimum %v", n, v)
	}
	if v, ok := toFloat(schema["exclusiveMaximum"]); ok && n >= v {
		return fail(path, "%v is not less than exclusiveMaximum %v", n, v)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		return f, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
