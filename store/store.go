// Package store defines the document-store client interface and its backends.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/stevemurr/typed-doc-server/objectid"
	"github.com/stevemurr/typed-doc-server/query"
)

// IDKey is the reserved field holding a document's identifier.
const IDKey = query.IDKey

var (
	// ErrTransport is returned when the store cannot be reached, the call
	// timed out, or the caller's context ended first.
	ErrTransport = errors.New("store transport failure")

	// ErrInvalidQuery is returned when the store rejects a filter, update or
	// sort expression.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrUnknownBackend is returned by New for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown store backend")

	errClosed = fmt.Errorf("%w: store is closed", ErrTransport)
)

// Document is a raw, untyped record keyed by storage field names.
type Document = map[string]any

// Filter is a store-native query predicate, e.g. {"firstName": {"$regex": "^A"}}.
type Filter = map[string]any

// Update is a store-native update expression, e.g. {"$set": {"lastName": "King"}}.
type Update = map[string]any

// SortField orders results by Key. Direction is 1 for ascending, -1 for descending.
type SortField struct {
	Key       string
	Direction int
}

// Asc sorts by key ascending.
func Asc(key string) SortField { return SortField{Key: key, Direction: 1} }

// Desc sorts by key descending.
func Desc(key string) SortField { return SortField{Key: key, Direction: -1} }

// FindOptions controls ordering and paging of Find. Sort is applied first,
// then Skip, then Limit. A zero Limit means no limit.
type FindOptions struct {
	Sort  []SortField
	Skip  int64
	Limit int64
}

// UpdateResult reports the outcome of UpdateOne. ID is the identifier of the
// matched document and is zero when nothing matched.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
	ID            objectid.ID
}

// Store is a handle to a document store. It is safe for concurrent use and
// shared by every collection opened from it.
type Store interface {
	// Collection returns a handle to the named collection. Collections are
	// created lazily on first write.
	Collection(name string) Collection

	// ListCollections returns the sorted names of collections holding data.
	ListCollections(ctx context.Context) ([]string, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close(ctx context.Context) error
}

// Collection is a set of documents keyed by a store-assigned objectid.ID.
// Filters, updates and sorts are passed through in the store's native form.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// InsertOne stores doc under a freshly assigned identifier and returns it.
	// Any _id in doc is replaced.
	InsertOne(ctx context.Context, doc Document) (objectid.ID, error)

	// FindOne returns the first document matching filter, or nil if none does.
	FindOne(ctx context.Context, filter Filter) (Document, error)

	// Find returns every document matching filter, ordered and paged by opts.
	Find(ctx context.Context, filter Filter, opts FindOptions) ([]Document, error)

	// UpdateOne applies update to the first document matching filter.
	UpdateOne(ctx context.Context, filter Filter, update Update) (UpdateResult, error)

	// DeleteOne removes the first document matching filter and returns the
	// number of documents removed (0 or 1).
	DeleteOne(ctx context.Context, filter Filter) (int64, error)

	// CountDocuments returns the number of documents matching filter.
	CountDocuments(ctx context.Context, filter Filter) (int64, error)
}

// checkContext maps an ended context to ErrTransport, the way a network
// client reports a cancelled round trip.
func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// invalidQuery wraps a query package error as ErrInvalidQuery.
func invalidQuery(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidQuery, err)
}

// validateFindOptions rejects negative paging and unknown sort directions.
func validateFindOptions(opts FindOptions) ([]query.SortKey, error) {
	if opts.Skip < 0 {
		return nil, fmt.Errorf("%w: skip must be non-negative, got %d", ErrInvalidQuery, opts.Skip)
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must be non-negative, got %d", ErrInvalidQuery, opts.Limit)
	}
	keys := make([]query.SortKey, 0, len(opts.Sort))
	for _, s := range opts.Sort {
		if s.Key == "" {
			return nil, fmt.Errorf("%w: empty sort key", ErrInvalidQuery)
		}
		switch s.Direction {
		case 1:
			keys = append(keys, query.SortKey{Path: s.Key})
		case -1:
			keys = append(keys, query.SortKey{Path: s.Key, Desc: true})
		default:
			return nil, fmt.Errorf("%w: sort direction for %q must be 1 or -1, got %d", ErrInvalidQuery, s.Key, s.Direction)
		}
	}
	return keys, nil
}
