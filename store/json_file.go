package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/stevemurr/typed-doc-server/objectid"
)

// JsonFileStore stores each collection as a separate JSON file on disk.
// Documents are kept as an array in insertion order, with _id written as its
// hex string.
//
// Layout:
//
//	data_dir/
//	  user.json      # "user" collection
//	  orders.json    # "orders" collection
type JsonFileStore struct {
	mu     sync.RWMutex
	dir    string
	closed bool
}

// collectionName restricts names to something safe to use as a file name.
var collectionName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

func NewJsonFileStore(dir string) (*JsonFileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &JsonFileStore{dir: dir}, nil
}

func (s *JsonFileStore) Collection(name string) Collection {
	return &jsonCollection{store: s, name: name}
}

func (s *JsonFileStore) Ping(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

func (s *JsonFileStore) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ListCollections returns the names of all collection files.
func (s *JsonFileStore) ListCollections(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(names)
	return names, nil
}

func (s *JsonFileStore) collectionPath(collection string) (string, error) {
	if !collectionName.MatchString(collection) {
		return "", fmt.Errorf("%w: bad collection name %q", ErrInvalidQuery, collection)
	}
	return filepath.Join(s.dir, collection+".json"), nil
}

// loadCollection reads a collection file. A missing file is an empty collection.
func (s *JsonFileStore) loadCollection(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var docs []Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	for i, d := range docs {
		raw, _ := d[IDKey].(string)
		id, err := objectid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: document %d: %w", path, i, err)
		}
		d[IDKey] = id
	}
	return docs, nil
}

func (s *JsonFileStore) saveCollection(path string, docs []Document) error {
	if docs == nil {
		docs = []Document{}
	}
	b, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, b, 0o644)
}

// writeFileAtomic writes data to a temp file in the same directory and
// renames it over filename, so readers never see a partial collection.
func writeFileAtomic(filename string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(filename), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", filename, err)
	}
	return nil
}

type jsonCollection struct {
	store *JsonFileStore
	name  string
}

func (c *jsonCollection) Name() string { return c.name }

// read loads the collection under the read lock held by the caller.
func (c *jsonCollection) read(ctx context.Context) ([]Document, string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, "", err
	}
	if c.store.closed {
		return nil, "", errClosed
	}
	path, err := c.store.collectionPath(c.name)
	if err != nil {
		return nil, "", err
	}
	docs, err := c.store.loadCollection(path)
	return docs, path, err
}

func (c *jsonCollection) InsertOne(ctx context.Context, doc Document) (objectid.ID, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	docs, path, err := c.read(ctx)
	if err != nil {
		return objectid.Nil, err
	}
	id := objectid.New()
	docs = append(docs, withID(doc, id))
	if err := c.store.saveCollection(path, docs); err != nil {
		return objectid.Nil, err
	}
	return id, nil
}

func (c *jsonCollection) FindOne(ctx context.Context, filter Filter) (Document, error) {
	f, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	docs, _, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	if i := firstMatch(docs, f); i >= 0 {
		return docs[i], nil
	}
	return nil, nil
}

func (c *jsonCollection) Find(ctx context.Context, filter Filter, opts FindOptions) ([]Document, error) {
	f, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	docs, _, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	return findIn(docs, f, opts)
}

func (c *jsonCollection) UpdateOne(ctx context.Context, filter Filter, update Update) (UpdateResult, error) {
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
	docs, path, err := c.read(ctx)
	if err != nil {
		return UpdateResult{}, err
	}
	i := firstMatch(docs, f)
	if i < 0 {
		return UpdateResult{}, nil
	}
	next, changed, err := updateCopy(docs[i], u)
	if err != nil {
		return UpdateResult{}, err
	}
	res := UpdateResult{MatchedCount: 1, ID: docID(docs[i])}
	if !changed {
		return res, nil
	}
	docs[i] = next
	if err := c.store.saveCollection(path, docs); err != nil {
		return UpdateResult{}, err
	}
	res.ModifiedCount = 1
	return res, nil
}

func (c *jsonCollection) DeleteOne(ctx context.Context, filter Filter) (int64, error) {
	f, err := compileFilter(filter)
	if err != nil {
		return 0, err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	docs, path, err := c.read(ctx)
	if err != nil {
		return 0, err
	}
	i := firstMatch(docs, f)
	if i < 0 {
		return 0, nil
	}
	if err := c.store.saveCollection(path, slices.Delete(docs, i, i+1)); err != nil {
		return 0, err
	}
	return 1, nil
}

func (c *jsonCollection) CountDocuments(ctx context.Context, filter Filter) (int64, error) {
	f, err := compileFilter(filter)
	if err != nil {
		return 0, err
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	docs, _, err := c.read(ctx)
	if err != nil {
		return 0, err
	}
	return countIn(docs, f), nil
}
