package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/stevemurr/typed-doc-server/objectid"
)

// Identified pairs a model value with the identifier the store assigned to
// it. Values of this type only come out of collection read paths, so ID is
// always set; a model that has not been inserted yet is a plain T.
type Identified[T any] struct {
	ID    objectid.ID
	Model T
}

// String renders the value with its identifier first, e.g.
// User(_id=652f..., FirstName="Ada", LastName="Lovelace").
func (v Identified[T]) String() string {
	rv := reflect.ValueOf(v.Model)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	var b strings.Builder
	name := "Model"
	if rv.IsValid() && rv.Type().Name() != "" {
		name = rv.Type().Name()
	}
	fmt.Fprintf(&b, "%s(%s=%s", name, IDKey, v.ID)
	if rv.IsValid() && rv.Kind() == reflect.Struct {
		for i := 0; i < rv.NumField(); i++ {
			sf := rv.Type().Field(i)
			if !sf.IsExported() {
				continue
			}
			fv := rv.Field(i)
			if fv.Kind() == reflect.String {
				fmt.Fprintf(&b, ", %s=%q", sf.Name, fv.String())
			} else {
				fmt.Fprintf(&b, ", %s=%v", sf.Name, fv.Interface())
			}
		}
	}
	b.WriteString(")")
	return b.String()
}

// Equal reports whether both values have the same identifier and model.
func (v Identified[T]) Equal(other Identified[T]) bool {
	return v.ID == other.ID && reflect.DeepEqual(v.Model, other.Model)
}

// MarshalJSON encodes the model's own JSON object with "_id" added as the
// first member.
func (v Identified[T]) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(v.Model)
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("identified value must encode as a JSON object, got %s", body)
	}
	id, err := json.Marshal(v.ID)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	b.WriteString(`{"` + IDKey + `":`)
	b.Write(id)
	if rest := bytes.TrimSpace(body[1:]); len(rest) > 0 && rest[0] != '}' {
		b.WriteByte(',')
	}
	b.Write(body[1:])
	return b.Bytes(), nil
}
