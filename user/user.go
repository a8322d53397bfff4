// Package user defines the User model and its collection.
package user

import (
	"github.com/stevemurr/typed-doc-server/collection"
	"github.com/stevemurr/typed-doc-server/model"
	"github.com/stevemurr/typed-doc-server/store"
)

// CollectionName is the store collection holding users.
const CollectionName = "user"

// User is a registered person. Names are stored in camelCase.
type User struct {
	FirstName string `doc:"firstName,required,minlen=1" json:"firstName"`
	LastName  string `doc:"lastName,required,minlen=1" json:"lastName"`
}

// Info is the registered model metadata for User.
var Info = model.MustRegister[User]()

// Collection is the typed user collection.
type Collection = collection.Collection[User]

// NewCollection binds the user collection of s.
func NewCollection(s store.Store) (*Collection, error) {
	return collection.New[User](s.Collection(CollectionName))
}
