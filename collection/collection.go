// Package collection provides a typed view over a store collection.
//
// A Collection[T] encodes T into raw documents on the way in and decodes
// documents back into model.Identified[T] on the way out. Filters, updates
// and sort keys are store-native and passed through untouched; they use
// storage keys, not Go field names.
package collection

import (
	"context"
	"fmt"
	"reflect"

	"github.com/stevemurr/typed-doc-server/model"
	"github.com/stevemurr/typed-doc-server/objectid"
	"github.com/stevemurr/typed-doc-server/store"
)

// FindOptions controls Find. A nil Filter matches every document. Sort is
// applied before Skip and Limit; a zero Limit means no limit.
type FindOptions struct {
	Filter store.Filter
	Skip   int64
	Limit  int64
	Sort   []store.SortField
}

// Collection is a typed handle to a store collection. It holds no state
// besides the store handle and the model metadata, and is safe for
// concurrent use when the underlying store is.
type Collection[T any] struct {
	coll store.Collection
	info *model.Info
}

// New binds T to c, registering T's model if needed.
func New[T any](c store.Collection) (*Collection[T], error) {
	if t := reflect.TypeOf((*T)(nil)).Elem(); t.Kind() == reflect.Pointer {
		return nil, fmt.Errorf("collection model must be a struct type, got %s", t)
	}
	info, err := model.Register[T]()
	if err != nil {
		return nil, err
	}
	return &Collection[T]{coll: c, info: info}, nil
}

// Name returns the underlying collection name.
func (c *Collection[T]) Name() string { return c.coll.Name() }

// Model returns the model metadata bound to the collection.
func (c *Collection[T]) Model() *model.Info { return c.info }

func (c *Collection[T]) String() string {
	return fmt.Sprintf("Collection[%s](%s)", c.info.GoType.Name(), c.coll.Name())
}

// InsertOne stores v under a new identifier and returns the stored record as
// read back from the store.
func (c *Collection[T]) InsertOne(ctx context.Context, v T) (model.Identified[T], error) {
	doc, err := c.info.Encode(v)
	if err != nil {
		return model.Identified[T]{}, err
	}
	id, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return model.Identified[T]{}, err
	}
	got, ok, err := c.FindByID(ctx, id)
	if err != nil {
		return model.Identified[T]{}, err
	}
	if !ok {
		return model.Identified[T]{}, &PostInsertReadError{Collection: c.coll.Name(), ID: id}
	}
	return got, nil
}

// FindOne returns the first document matching filter. The boolean is false
// when nothing matches.
func (c *Collection[T]) FindOne(ctx context.Context, filter store.Filter) (model.Identified[T], bool, error) {
	doc, err := c.coll.FindOne(ctx, filter)
	if err != nil || doc == nil {
		return model.Identified[T]{}, false, err
	}
	v, err := c.decode(doc)
	if err != nil {
		return model.Identified[T]{}, false, err
	}
	return v, true, nil
}

// FindByID returns the document with the given identifier.
func (c *Collection[T]) FindByID(ctx context.Context, id objectid.ID) (model.Identified[T], bool, error) {
	return c.FindOne(ctx, store.Filter{model.IDKey: id})
}

// Find returns every document matching opts.Filter, sorted and paged.
func (c *Collection[T]) Find(ctx context.Context, opts FindOptions) ([]model.Identified[T], error) {
	docs, err := c.coll.Find(ctx, opts.Filter, store.FindOptions{
		Sort:  opts.Sort,
		Skip:  opts.Skip,
		Limit: opts.Limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]model.Identified[T], 0, len(docs))
	for _, doc := range docs {
		v, err := c.decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// UpdateOne applies update to the first document matching filter and returns
// that document as stored afterwards. The boolean is false when nothing
// matched or the update changed nothing.
//
// The document is re-read by its identifier, so an update that changes the
// fields named in filter still returns the record it modified.
// If the document is deleted between the update and the re-read, the
// result is false with a nil error.
func (c *Collection[T]) UpdateOne(ctx context.Context, filter store.Filter, update store.Update) (model.Identified[T], bool, error) {
	res, err := c.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return model.Identified[T]{}, false, err
	}
	if res.ModifiedCount == 0 || res.ID.IsZero() {
		return model.Identified[T]{}, false, nil
	}
	return c.FindByID(ctx, res.ID)
}

// DeleteOne removes the first document matching filter and reports whether
// one was removed.
func (c *Collection[T]) DeleteOne(ctx context.Context, filter store.Filter) (bool, error) {
	n, err := c.coll.DeleteOne(ctx, filter)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountDocuments returns the number of documents matching filter.
func (c *Collection[T]) CountDocuments(ctx context.Context, filter store.Filter) (int64, error) {
	return c.coll.CountDocuments(ctx, filter)
}

func (c *Collection[T]) decode(doc store.Document) (model.Identified[T], error) {
	id, ok := doc[model.IDKey].(objectid.ID)
	if !ok {
		return model.Identified[T]{}, &RecordError{
			Collection: c.coll.Name(),
			Err:        fmt.Errorf("%w: missing or invalid %s", model.ErrCorruptRecord, model.IDKey),
		}
	}
	var v T
	if err := c.info.Decode(doc, &v); err != nil {
		return model.Identified[T]{}, &RecordError{Collection: c.coll.Name(), ID: id, Err: err}
	}
	return model.Identified[T]{ID: id, Model: v}, nil
}
