package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/stevemurr/typed-doc-server/objectid"
)

// SqliteStore stores all collections in a single SQLite database.
// Document bodies are msgpack-encoded so integer, float and time values keep
// their types across a round trip.
//
// Tables:
//
//	documents(seq, collection, id, data)  UNIQUE (collection, id)
//
// seq preserves insertion order, which is the natural order of Find.
type SqliteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data BLOB NOT NULL,
		UNIQUE (collection, id)
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Collection(name string) Collection {
	return &sqliteCollection{store: s, name: name}
}

func (s *SqliteStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.begin(ctx); err != nil {
		return err
	}
	return sqliteErr(s.db.PingContext(ctx))
}

func (s *SqliteStore) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// begin checks the context and the closed flag. Callers hold the lock.
func (s *SqliteStore) begin(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if s.closed {
		return errClosed
	}
	return nil
}

// ListCollections returns the names of all collections that contain data.
func (s *SqliteStore) ListCollections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT collection FROM documents ORDER BY collection")
	if err != nil {
		return nil, sqliteErr(err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, sqliteErr(rows.Err())
}

// sqliteErr classifies driver errors: cancelled calls and an unavailable
// database file are transport failures, everything else passes through.
func sqliteErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrCantOpen, sqlite3.ErrNotADB:
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
	}
	return err
}

func encodeBody(doc Document) ([]byte, error) {
	body := make(Document, len(doc))
	for k, v := range doc {
		if k != IDKey {
			body[k] = v
		}
	}
	return msgpack.Marshal(body)
}

func decodeBody(id string, data []byte) (Document, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	// Integers come back as int64/uint64 and floats as float64 regardless of
	// their encoded width.
	dec.UseLooseInterfaceDecoding(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	for k, v := range doc {
		doc[k] = utcTimes(v)
	}
	oid, err := objectid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	if doc == nil {
		doc = Document{}
	}
	doc[IDKey] = oid
	return doc, nil
}

// utcTimes rewrites decoded times into UTC. msgpack restores them in the
// local zone.
func utcTimes(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case map[string]any:
		for k, e := range t {
			t[k] = utcTimes(e)
		}
	case []any:
		for i, e := range t {
			t[i] = utcTimes(e)
		}
	}
	return v
}

type sqliteCollection struct {
	store *SqliteStore
	name  string
}

func (c *sqliteCollection) Name() string { return c.name }

// load reads the whole collection in insertion order. Callers hold the lock.
func (c *sqliteCollection) load(ctx context.Context) ([]Document, error) {
	if err := c.store.begin(ctx); err != nil {
		return nil, err
	}
	rows, err := c.store.db.QueryContext(ctx,
		"SELECT id, data FROM documents WHERE collection = ? ORDER BY seq", c.name)
	if err != nil {
		return nil, sqliteErr(err)
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, sqliteErr(err)
		}
		doc, err := decodeBody(id, data)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, sqliteErr(rows.Err())
}

func (c *sqliteCollection) InsertOne(ctx context.Context, doc Document) (objectid.ID, error) {
	if err := checkContext(ctx); err != nil {
		return objectid.Nil, err
	}
	body, err := encodeBody(doc)
	if err != nil {
		return objectid.Nil, fmt.Errorf("encode document: %w", err)
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if err := c.store.begin(ctx); err != nil {
		return objectid.Nil, err
	}
	id := objectid.New()
	_, err = c.store.db.ExecContext(ctx,
		"INSERT INTO documents (collection, id, data) VALUES (?, ?, ?)",
		c.name, id.String(), body)
	if err != nil {
		return objectid.Nil, sqliteErr(err)
	}
	return id, nil
}

func (c *sqliteCollection) FindOne(ctx context.Context, filter Filter) (Document, error) {
	f, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	docs, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if i := firstMatch(docs, f); i >= 0 {
		return docs[i], nil
	}
	return nil, nil
}

func (c *sqliteCollection) Find(ctx context.Context, filter Filter, opts FindOptions) ([]Document, error) {
	f, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	docs, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	return findIn(docs, f, opts)
}

func (c *sqliteCollection) UpdateOne(ctx context.Context, filter Filter, update Update) (UpdateResult, error) {
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
	docs, err := c.load(ctx)
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
	id := docID(docs[i])
	res := UpdateResult{MatchedCount: 1, ID: id}
	if !changed {
		return res, nil
	}
	body, err := encodeBody(next)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("encode document: %w", err)
	}
	if _, err := c.store.db.ExecContext(ctx,
		"UPDATE documents SET data = ? WHERE collection = ? AND id = ?",
		body, c.name, id.String()); err != nil {
		return UpdateResult{}, sqliteErr(err)
	}
	res.ModifiedCount = 1
	return res, nil
}

func (c *sqliteCollection) DeleteOne(ctx context.Context, filter Filter) (int64, error) {
	f, err := compileFilter(filter)
	if err != nil {
		return 0, err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	docs, err := c.load(ctx)
	if err != nil {
		return 0, err
	}
	i := firstMatch(docs, f)
	if i < 0 {
		return 0, nil
	}
	res, err := c.store.db.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = ? AND id = ?",
		c.name, docID(docs[i]).String())
	if err != nil {
		return 0, sqliteErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, sqliteErr(err)
	}
	return n, nil
}

func (c *sqliteCollection) CountDocuments(ctx context.Context, filter Filter) (int64, error) {
	f, err := compileFilter(filter)
	if err != nil {
		return 0, err
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	if len(filter) == 0 {
		if err := c.store.begin(ctx); err != nil {
			return 0, err
		}
		var n int64
		err := c.store.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM documents WHERE collection = ?", c.name).Scan(&n)
		return n, sqliteErr(err)
	}
	docs, err := c.load(ctx)
	if err != nil {
		return 0, err
	}
	return countIn(docs, f), nil
}
