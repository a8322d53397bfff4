package query

import (
	"reflect"
	"strings"
	"time"

	"github.com/stevemurr/typed-doc-server/objectid"
)

// Type classes in sort order, following the document-store convention of
// bracketing values of different types instead of coercing them.
const (
	classNull = iota
	classNumber
	classString
	classObject
	classArray
	classID
	classBool
	classTime
	classOther
)

func typeClass(v any) int {
	switch v.(type) {
	case nil:
		return classNull
	case string:
		return classString
	case map[string]any:
		return classObject
	case objectid.ID:
		return classID
	case bool:
		return classBool
	case time.Time:
		return classTime
	}
	if _, ok := toFloat(v); ok {
		return classNumber
	}
	if _, ok := toSlice(v); ok {
		return classArray
	}
	return classOther
}

// toFloat converts any Go numeric kind to float64.
func toFloat(v any) (float64, bool) {
	if v == nil {
		return 0, false
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

// toSlice returns the elements of any slice other than []byte.
// Arrays are not slices here: objectid.ID is a fixed-size byte array and is a scalar.
func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case nil, []byte:
		return nil, false
	case []any:
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// equal compares two document values. Numbers compare by value across Go
// types; maps and slices compare structurally.
func equal(a, b any) bool {
	ca, cb := typeClass(a), typeClass(b)
	if ca != cb {
		return false
	}
	switch ca {
	case classNull:
		return true
	case classNumber:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return fa == fb
	case classTime:
		return a.(time.Time).Equal(b.(time.Time))
	case classObject:
		ma, mb := a.(map[string]any), b.(map[string]any)
		if len(ma) != len(mb) {
			return false
		}
		for k, va := range ma {
			vb, ok := mb[k]
			if !ok || !equal(va, vb) {
				return false
			}
		}
		return true
	case classArray:
		sa, _ := toSlice(a)
		sb, _ := toSlice(b)
		if len(sa) != len(sb) {
			return false
		}
		for i := range sa {
			if !equal(sa[i], sb[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two values. Values of different type classes order by
// class. ok is false when the values share a class that has no order.
func compare(a, b any) (int, bool) {
	ca, cb := typeClass(a), typeClass(b)
	if ca != cb {
		if ca < cb {
			return -1, true
		}
		return 1, true
	}
	switch ca {
	case classNull:
		return 0, true
	case classNumber:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return cmpOrdered(fa, fb), true
	case classString:
		return strings.Compare(a.(string), b.(string)), true
	case classID:
		return objectid.Compare(a.(objectid.ID), b.(objectid.ID)), true
	case classBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0, true
		case !ba:
			return -1, true
		}
		return 1, true
	case classTime:
		return a.(time.Time).Compare(b.(time.Time)), true
	case classArray:
		sa, _ := toSlice(a)
		sb, _ := toSlice(b)
		for i := 0; i < len(sa) && i < len(sb); i++ {
			if c, ok := compare(sa[i], sb[i]); !ok || c != 0 {
				return c, ok
			}
		}
		return cmpOrdered(len(sa), len(sb)), true
	}
	return 0, false
}

func cmpOrdered[T int | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
