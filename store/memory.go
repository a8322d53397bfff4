package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/stevemurr/typed-doc-server/objectid"
)

// MemoryStore keeps everything in memory. Data is lost on restart.
// Safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Document
	closed      bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string][]Document),
	}
}

func (m *MemoryStore) Collection(name string) Collection {
	return &memoryCollection{store: m, name: name}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errClosed
	}
	return nil
}

func (m *MemoryStore) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.collections = make(map[string][]Document)
	return nil
}

// ListCollections returns the names of all collections that contain data.
func (m *MemoryStore) ListCollections(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errClosed
	}
	var names []string
	for name, docs := range m.collections {
		if len(docs) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

type memoryCollection struct {
	store *MemoryStore
	name  string
}

func (c *memoryCollection) Name() string { return c.name }

// begin checks the context and the closed flag. Callers must hold the lock.
func (c *memoryCollection) begin(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if c.store.closed {
		return errClosed
	}
	return nil
}

func (c *memoryCollection) InsertOne(ctx context.Context, doc Document) (objectid.ID, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if err := c.begin(ctx); err != nil {
		return objectid.Nil, err
	}
	id := objectid.New()
	c.store.collections[c.name] = append(c.store.collections[c.name], withID(doc, id))
	return id, nil
}

func (c *memoryCollection) FindOne(ctx context.Context, filter Filter) (Document, error) {
	f, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	if err := c.begin(ctx); err != nil {
		return nil, err
	}
	docs := c.store.collections[c.name]
	if i := firstMatch(docs, f); i >= 0 {
		return cloneDoc(docs[i]), nil
	}
	return nil, nil
}

func (c *memoryCollection) Find(ctx context.Context, filter Filter, opts FindOptions) ([]Document, error) {
	f, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	if err := c.begin(ctx); err != nil {
		return nil, err
	}
	return findIn(c.store.collections[c.name], f, opts)
}

func (c *memoryCollection) UpdateOne(ctx context.Context, filter Filter, update Update) (UpdateResult, error) {
	f, err := compileFilter(filter)
	if err != nil {
		return UpdateResult{}, err
	}
	u, err := compileUpdate(update)
	if err != nil {
		return UpdateResult{}, err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if err := c.begin(ctx); err != nil {
		return UpdateResult{}, err
	}
	docs := c.store.collections[c.name]
	i := firstMatch(docs, f)
	if i < 0 {
		return UpdateResult{}, nil
	}
	next, changed, err := updateCopy(docs[i], u)
	if err != nil {
		return UpdateResult{}, err
	}
	res := UpdateResult{MatchedCount: 1, ID: docID(docs[i])}
	if changed {
		docs[i] = next
		res.ModifiedCount = 1
	}
	return res, nil
}

func (c *memoryCollection) DeleteOne(ctx context.Context, filter Filter) (int64, error) {
	f, err := compileFilter(filter)
	if err != nil {
		return 0, err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if err := c.begin(ctx); err != nil {
		return 0, err
	}
	docs := c.store.collections[c.name]
	i := firstMatch(docs, f)
	if i < 0 {
		return 0, nil
	}
	c.store.collections[c.name] = slices.Delete(docs, i, i+1)
	return 1, nil
}

func (c *memoryCollection) CountDocuments(ctx context.Context, filter Filter) (int64, error) {
	f, err := compileFilter(filter)
	if err != nil {
		return 0, err
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	if err := c.begin(ctx); err != nil {
		return 0, err
	}
	return countIn(c.store.collections[c.name], f), nil
}
