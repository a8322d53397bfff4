package store

import (
	"context"
	"fmt"
	"path/filepath"
)

// Backend names accepted by New.
const (
	BackendJSON   = "json"
	BackendSqlite = "sqlite"
	BackendMemory = "memory"
	BackendMongo  = "mongo"
)

// Options selects and configures a backend.
type Options struct {
	Backend string

	// DataDir holds the json files or the sqlite database.
	DataDir string

	// MongoURI and MongoDatabase configure the mongo backend.
	MongoURI      string
	MongoDatabase string
}

// New creates a Store based on the backend name.
//
// Supported backends:
//
//	"json"   - JSON files in DataDir (default)
//	"sqlite" - SQLite database at DataDir/documents.db
//	"memory" - In-memory (ephemeral, for testing)
//	"mongo"  - MongoDB at MongoURI, database MongoDatabase
func New(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendJSON, "":
		return NewJsonFileStore(opts.DataDir)
	case BackendSqlite:
		return NewSqliteStore(filepath.Join(opts.DataDir, "documents.db"))
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendMongo:
		return NewMongoStore(ctx, opts.MongoURI, opts.MongoDatabase)
	default:
		return nil, fmt.Errorf("%w: %q (supported: json, sqlite, memory, mongo)", ErrUnknownBackend, opts.Backend)
	}
}
