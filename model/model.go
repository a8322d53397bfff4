// Package model maps Go structs to raw store documents.
//
// A model is a plain struct registered with Register. Each exported field has
// two names: its Go field name, used in memory, and a storage key, used in
// documents. The storage key comes from the `doc` struct tag:
//
//	type User struct {
//	    FirstName string `doc:"firstName,required,minlen=1"`
//	    LastName  string `doc:"lastName,required,minlen=1"`
//	    Nickname  string // stored as "Nickname"
//	    internal  string // not part of the model
//	    Scratch   string `doc:"-"` // skipped
//	}
//
// Registration validates that the mapping is injective and that no key
// collides with the reserved identifier key "_id".
package model

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/stevemurr/typed-doc-server/store"
)

// IDKey is the reserved storage key of a document's identifier.
const IDKey = store.IDKey

var (
	// ErrInvalidAlias is wrapped by every AliasError.
	ErrInvalidAlias = errors.New("invalid model alias")

	// ErrCorruptRecord is returned when a stored document cannot be
	// converted into its model.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrNotRegistered is returned when a value's type has no registered model.
	ErrNotRegistered = errors.New("model not registered")
)

// AliasError describes a model whose field to storage-key mapping is unusable.
type AliasError struct {
	Model  string
	Field  string
	Key    string
	Reason string
}

func (e *AliasError) Error() string {
	switch {
	case e.Field == "":
		return fmt.Sprintf("model %s: %s", e.Model, e.Reason)
	case e.Key == "":
		return fmt.Sprintf("model %s: field %s: %s", e.Model, e.Field, e.Reason)
	}
	return fmt.Sprintf("model %s: field %s: storage key %q: %s", e.Model, e.Field, e.Key, e.Reason)
}

func (e *AliasError) Unwrap() error { return ErrInvalidAlias }

// Field describes one model field.
type Field struct {
	// Name is the Go field name.
	Name string
	// Key is the storage key used in documents.
	Key string
	// Index is the field index within the struct.
	Index int
	// Type is the Go type of the field.
	Type reflect.Type
	// Required fields must be present in stored documents.
	Required bool
	// MinLen and MaxLen bound string lengths in runes. Zero means unset.
	MinLen int
	MaxLen int
}

// Info holds the metadata of a registered model.
type Info struct {
	GoType reflect.Type
	// Name is the snake_case form of the Go type name, e.g. "order_item".
	Name   string
	Fields []Field

	byName map[string]int
	byKey  map[string]int
	schema map[string]any
}

// FieldByName returns the field with the given Go name.
func (i *Info) FieldByName(name string) (Field, bool) {
	idx, ok := i.byName[name]
	if !ok {
		return Field{}, false
	}
	return i.Fields[idx], true
}

// FieldByKey returns the field stored under key.
func (i *Info) FieldByKey(key string) (Field, bool) {
	idx, ok := i.byKey[key]
	if !ok {
		return Field{}, false
	}
	return i.Fields[idx], true
}

// KeyFor maps a Go field name to its storage key.
func (i *Info) KeyFor(name string) (string, bool) {
	f, ok := i.FieldByName(name)
	return f.Key, ok
}

// NameFor maps a storage key to its Go field name.
func (i *Info) NameFor(key string) (string, bool) {
	f, ok := i.FieldByKey(key)
	return f.Name, ok
}

// Keys returns the storage keys in field order.
func (i *Info) Keys() []string {
	keys := make([]string, len(i.Fields))
	for n, f := range i.Fields {
		keys[n] = f.Key
	}
	return keys
}

func (i *Info) String() string {
	return fmt.Sprintf("%s(%s)", i.GoType.Name(), i.Name)
}
