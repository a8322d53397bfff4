package collection

import (
	"errors"
	"fmt"

	"github.com/stevemurr/typed-doc-server/objectid"
)

// ErrPostInsertRead is returned when a document the store just acknowledged
// cannot be read back.
var ErrPostInsertRead = errors.New("inserted document could not be read back")

// PostInsertReadError identifies the document that went missing after insert.
type PostInsertReadError struct {
	Collection string
	ID         objectid.ID
}

func (e *PostInsertReadError) Error() string {
	return fmt.Sprintf("collection %s: document %s: %v", e.Collection, e.ID, ErrPostInsertRead)
}

func (e *PostInsertReadError) Unwrap() error { return ErrPostInsertRead }

// RecordError reports a stored document that could not be decoded into the
// collection's model. Err wraps model.ErrCorruptRecord.
type RecordError struct {
	Collection string
	ID         objectid.ID
	Err        error
}

func (e *RecordError) Error() string {
	if e.ID.IsZero() {
		return fmt.Sprintf("collection %s: %v", e.Collection, e.Err)
	}
	return fmt.Sprintf("collection %s: document %s: %v", e.Collection, e.ID, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
