package model

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/stevemurr/typed-doc-server/schema"
	"github.com/stevemurr/typed-doc-server/store"
)

// Encode converts a model value (or pointer to one) into a raw document keyed
// by storage keys. The identifier key is never written.
func (i *Info) Encode(v any) (store.Document, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("encode %s: nil pointer", i.GoType.Name())
		}
		rv = rv.Elem()
	}
	if rv.Type() != i.GoType {
		return nil, fmt.Errorf("encode %s: got value of type %s", i.GoType.Name(), rv.Type())
	}
	doc := make(store.Document, len(i.Fields))
	for _, f := range i.Fields {
		doc[f.Key] = rv.Field(f.Index).Interface()
	}
	return doc, nil
}

// Decode validates a raw document against the model schema and hydrates
// target, which must be a pointer to the model type. Keys the model does not
// know are ignored. Every failure wraps ErrCorruptRecord.
func (i *Info) Decode(doc store.Document, target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Type() != i.GoType {
		return fmt.Errorf("decode %s: target must be a non-nil *%s, got %T", i.GoType.Name(), i.GoType.Name(), target)
	}
	if doc == nil {
		return fmt.Errorf("%w: %s: nil document", ErrCorruptRecord, i.GoType.Name())
	}
	if err := schema.Validate(i.schema, doc); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCorruptRecord, i.GoType.Name(), err)
	}

	out := reflect.New(i.GoType).Elem()
	for _, f := range i.Fields {
		raw, ok := doc[f.Key]
		if !ok || raw == nil {
			continue
		}
		if err := assign(out.Field(f.Index), raw); err != nil {
			return fmt.Errorf("%w: %s.%s (key %q): %w", ErrCorruptRecord, i.GoType.Name(), f.Name, f.Key, err)
		}
	}
	rv.Elem().Set(out)
	return nil
}

// assign stores src into dst, converting between the value shapes store
// backends produce and the field's Go type. Numeric conversions must be
// lossless.
func assign(dst reflect.Value, src any) error {
	if dst.Type() == timeType {
		t, err := toTime(src)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(t))
		return nil
	}

	sv := reflect.ValueOf(src)
	switch dst.Kind() {
	case reflect.Interface:
		dst.Set(sv)
		return nil

	case reflect.String:
		if sv.Kind() != reflect.String {
			return fmt.Errorf("expected string, got %T", src)
		}
		dst.SetString(sv.String())
		return nil

	case reflect.Bool:
		if sv.Kind() != reflect.Bool {
			return fmt.Errorf("expected bool, got %T", src)
		}
		dst.SetBool(sv.Bool())
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt64(sv)
		if err != nil {
			return err
		}
		if dst.OverflowInt(n) {
			return fmt.Errorf("%d overflows %s", n, dst.Type())
		}
		dst.SetInt(n)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toUint64(sv)
		if err != nil {
			return err
		}
		if dst.OverflowUint(n) {
			return fmt.Errorf("%d overflows %s", n, dst.Type())
		}
		dst.SetUint(n)
		return nil

	case reflect.Float32, reflect.Float64:
		f, err := toFloat64(sv)
		if err != nil {
			return err
		}
		if dst.OverflowFloat(f) {
			return fmt.Errorf("%v overflows %s", f, dst.Type())
		}
		dst.SetFloat(f)
		return nil

	case reflect.Slice:
		if sv.Kind() != reflect.Slice && sv.Kind() != reflect.Array {
			return fmt.Errorf("expected array, got %T", src)
		}
		out := reflect.MakeSlice(dst.Type(), sv.Len(), sv.Len())
		for n := 0; n < sv.Len(); n++ {
			elem := sv.Index(n).Interface()
			if elem == nil {
				continue
			}
			if err := assign(out.Index(n), elem); err != nil {
				return fmt.Errorf("[%d]: %w", n, err)
			}
		}
		dst.Set(out)
		return nil

	case reflect.Map:
		m, ok := src.(map[string]any)
		if !ok {
			return fmt.Errorf("expected object, got %T", src)
		}
		out := reflect.MakeMapWithSize(dst.Type(), len(m))
		for k, v := range m {
			if v == nil {
				out.SetMapIndex(reflect.ValueOf(k), reflect.Zero(dst.Type().Elem()))
				continue
			}
			out.SetMapIndex(reflect.ValueOf(k), reflect.ValueOf(v))
		}
		dst.Set(out)
		return nil
	}
	return fmt.Errorf("unsupported field type %s", dst.Type())
}

func toInt64(sv reflect.Value) (int64, error) {
	switch sv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return sv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := sv.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := sv.Float()
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, fmt.Errorf("%v is not an integer", f)
		}
		return int64(f), nil
	}
	return 0, fmt.Errorf("expected integer, got %s", sv.Type())
}

func toUint64(sv reflect.Value) (uint64, error) {
	switch sv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return sv.Uint(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := sv.Int()
		if n < 0 {
			return 0, fmt.Errorf("%d is negative", n)
		}
		return uint64(n), nil
	case reflect.Float32, reflect.Float64:
		f := sv.Float()
		if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 {
			return 0, fmt.Errorf("%v is not an unsigned integer", f)
		}
		return uint64(f), nil
	}
	return 0, fmt.Errorf("expected unsigned integer, got %s", sv.Type())
}

func toFloat64(sv reflect.Value) (float64, error) {
	switch sv.Kind() {
	case reflect.Float32, reflect.Float64:
		return sv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := sv.Int()
		if f := float64(n); int64(f) == n {
			return f, nil
		}
		return 0, fmt.Errorf("%d cannot be represented exactly as a float", n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := sv.Uint()
		if f := float64(n); f < math.MaxUint64 && uint64(f) == n {
			return f, nil
		}
		return 0, fmt.Errorf("%d cannot be represented exactly as a float", n)
	}
	return 0, fmt.Errorf("expected number, got %s", sv.Type())
}

// toTime accepts time.Time values and RFC 3339 strings, which is how the
// JSON backend persists timestamps.
func toTime(src any) (time.Time, error) {
	switch t := src.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", t, err)
		}
		return parsed, nil
	}
	return time.Time{}, fmt.Errorf("expected timestamp, got %T", src)
}
