package model

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
)

var globalRegistry = &registry{
	byName: make(map[string]*Info),
	byType: make(map[reflect.Type]*Info),
}

type registry struct {
	mu     sync.RWMutex
	byName map[string]*Info
	byType map[reflect.Type]*Info
}

var timeType = reflect.TypeOf(time.Time{})

// Register extracts and validates the model metadata of T and adds it to the
// global registry. Registering the same type again returns the cached Info.
func Register[T any]() (*Info, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	globalRegistry.mu.RLock()
	info, ok := globalRegistry.byType[t]
	globalRegistry.mu.RUnlock()
	if ok {
		return info, nil
	}

	info, err := extractInfo(t)
	if err != nil {
		return nil, err
	}

	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	if cached, ok := globalRegistry.byType[t]; ok {
		return cached, nil
	}
	if existing, ok := globalRegistry.byName[info.Name]; ok && existing.GoType != t {
		return nil, fmt.Errorf("model name %q already registered to %s", info.Name, existing.GoType)
	}
	globalRegistry.byName[info.Name] = info
	globalRegistry.byType[t] = info
	return info, nil
}

// MustRegister calls Register and panics on error. It is intended for
// package initialization.
func MustRegister[T any]() *Info {
	info, err := Register[T]()
	if err != nil {
		panic(err)
	}
	return info
}

// Lookup returns the registered Info for T.
func Lookup[T any]() (*Info, bool) {
	return LookupType(reflect.TypeOf((*T)(nil)).Elem())
}

// LookupType returns the registered Info for t.
func LookupType(t reflect.Type) (*Info, bool) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	info, ok := globalRegistry.byType[t]
	return info, ok
}

// LookupName returns the registered Info with the given model name.
func LookupName(name string) (*Info, bool) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	info, ok := globalRegistry.byName[name]
	return info, ok
}

// All returns every registered model sorted by name.
func All() []*Info {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	out := make([]*Info, 0, len(globalRegistry.byName))
	for _, info := range globalRegistry.byName {
		out = append(out, info)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

func extractInfo(t reflect.Type) (*Info, error) {
	if t.Kind() != reflect.Struct {
		return nil, &AliasError{Model: t.String(), Reason: fmt.Sprintf("expected a struct, got %s", t.Kind())}
	}
	if t.Name() == "" {
		return nil, &AliasError{Model: t.String(), Reason: "anonymous struct types cannot be models"}
	}

	info := &Info{
		GoType: t,
		Name:   snakeCase(t.Name()),
		byName: make(map[string]int),
		byKey:  make(map[string]int),
	}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag, err := parseTag(sf.Tag.Get("doc"))
		if err != nil {
			return nil, &AliasError{Model: t.Name(), Field: sf.Name, Reason: err.Error()}
		}
		if tag.Skip {
			continue
		}
		key := tag.Key
		if key == "" {
			key = sf.Name
		}
		if err := checkKey(key); err != "" {
			return nil, &AliasError{Model: t.Name(), Field: sf.Name, Key: key, Reason: err}
		}
		if prev, dup := info.byKey[key]; dup {
			return nil, &AliasError{Model: t.Name(), Field: sf.Name, Key: key,
				Reason: fmt.Sprintf("already used by field %s", info.Fields[prev].Name)}
		}
		if !supported(sf.Type) {
			return nil, &AliasError{Model: t.Name(), Field: sf.Name,
				Reason: fmt.Sprintf("unsupported field type %s", sf.Type)}
		}
		if (tag.MinLen > 0 || tag.MaxLen > 0) && sf.Type.Kind() != reflect.String {
			return nil, &AliasError{Model: t.Name(), Field: sf.Name, Key: key,
				Reason: "minlen and maxlen apply to string fields only"}
		}

		info.byName[sf.Name] = len(info.Fields)
		info.byKey[key] = len(info.Fields)
		info.Fields = append(info.Fields, Field{
			Name:     sf.Name,
			Key:      key,
			Index:    i,
			Type:     sf.Type,
			Required: tag.Required,
			MinLen:   tag.MinLen,
			MaxLen:   tag.MaxLen,
		})
	}
	info.schema = buildSchema(info)
	return info, nil
}

// checkKey returns a reason if key cannot be used as a storage key.
func checkKey(key string) string {
	switch {
	case key == IDKey:
		return "reserved for the document identifier"
	case strings.HasPrefix(key, "$"):
		return "must not start with '$'"
	case strings.Contains(key, "."):
		return "must not contain '.'"
	}
	return ""
}

func supported(t reflect.Type) bool {
	if t == timeType {
		return true
	}
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Interface:
		return t.NumMethod() == 0
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return false
		}
		return supported(t.Elem())
	case reflect.Map:
		return t.Key().Kind() == reflect.String && t.Elem().Kind() == reflect.Interface && t.Elem().NumMethod() == 0
	}
	return false
}

// snakeCase converts a Go identifier to snake_case: "OrderItem" -> "order_item",
// "HTTPLog" -> "http_log".
func snakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
