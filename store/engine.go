package store

import (
	"bytes"
	"reflect"
	"time"

	"github.com/stevemurr/typed-doc-server/objectid"
	"github.com/stevemurr/typed-doc-server/query"
)

// The embedded backends (memory, json, sqlite) keep documents as an ordered
// slice in insertion order and evaluate queries in process with the helpers
// below.

// cloneDoc returns a deep copy of a document so callers never share maps
// with the store.
func cloneDoc(src Document) Document {
	if src == nil {
		return nil
	}
	dst := make(Document, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneDoc(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []byte:
		return bytes.Clone(t)
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Type() == timeType {
		return v
	}
	return cloneReflect(rv).Interface()
}

// cloneReflect deep-copies slices and maps of any element type.
func cloneReflect(rv reflect.Value) reflect.Value {
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(cloneElem(rv.Index(i)))
		}
		return out
	case reflect.Map:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneElem(iter.Value()))
		}
		return out
	}
	return rv
}

func cloneElem(e reflect.Value) reflect.Value {
	if e.Kind() == reflect.Interface {
		if e.IsNil() {
			return e
		}
		c := cloneValue(e.Interface())
		if c == nil {
			return reflect.Zero(e.Type())
		}
		return reflect.ValueOf(c)
	}
	return cloneReflect(e)
}

var timeType = reflect.TypeOf((*time.Time)(nil)).Elem()

// withID copies doc and stamps it with id.
func withID(doc Document, id objectid.ID) Document {
	out := cloneDoc(doc)
	if out == nil {
		out = Document{}
	}
	out[IDKey] = id
	return out
}

// docID returns the identifier stored in a document.
func docID(doc Document) objectid.ID {
	id, _ := doc[IDKey].(objectid.ID)
	return id
}

func compileFilter(filter Filter) (*query.Filter, error) {
	f, err := query.Compile(filter)
	if err != nil {
		return nil, invalidQuery(err)
	}
	return f, nil
}

// compileUpdate compiles a copy of update, so operand values written into
// stored documents are never shared with the caller.
func compileUpdate(update Update) (*query.Update, error) {
	u, err := query.CompileUpdate(cloneDoc(update))
	if err != nil {
		return nil, invalidQuery(err)
	}
	return u, nil
}

// firstMatch returns the index of the first matching document, or -1.
func firstMatch(docs []Document, f *query.Filter) int {
	for i, d := range docs {
		if f.Match(d) {
			return i
		}
	}
	return -1
}

// findIn filters, sorts and pages docs, returning copies.
func findIn(docs []Document, f *query.Filter, opts FindOptions) ([]Document, error) {
	keys, err := validateFindOptions(opts)
	if err != nil {
		return nil, err
	}
	var out []Document
	for _, d := range docs {
		if f.Match(d) {
			out = append(out, d)
		}
	}
	query.Sort(out, keys)
	out = query.Page(out, opts.Skip, opts.Limit)

	result := make([]Document, len(out))
	for i, d := range out {
		result[i] = cloneDoc(d)
	}
	return result, nil
}

func countIn(docs []Document, f *query.Filter) int64 {
	var n int64
	for _, d := range docs {
		if f.Match(d) {
			n++
		}
	}
	return n
}

// updateCopy applies u to a copy of doc. The original is untouched so a
// failed update leaves the store unchanged.
func updateCopy(doc Document, u *query.Update) (Document, bool, error) {
	next := cloneDoc(doc)
	changed, err := u.Apply(next)
	if err != nil {
		return nil, false, invalidQuery(err)
	}
	return next, changed, nil
}
