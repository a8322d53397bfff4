package store_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/typed-doc-server/objectid"
	"github.com/stevemurr/typed-doc-server/store"
)

func seed(t *testing.T, c store.Collection, docs ...store.Document) []objectid.ID {
	t.Helper()
	ids := make([]objectid.ID, len(docs))
	for i, d := range docs {
		id, err := c.InsertOne(context.Background(), d)
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func firstNames(docs []store.Document) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d["firstName"]
	}
	return out
}

func toAnySlice(v any) []any {
	switch tv := v.(type) {
	case []any:
		return tv
	case []string:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = e
		}
		return out
	}
	return nil
}

// asTime reads a time back from a document. The json backend stores times
// as RFC 3339 strings.
func asTime(t *testing.T, v any) time.Time {
	t.Helper()
	switch tv := v.(type) {
	case time.Time:
		return tv
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, tv)
		require.NoError(t, err)
		return parsed
	}
	t.Fatalf("expected a time, got %T", v)
	return time.Time{}
}

// runStoreTests runs a common test suite against any Store implementation.
func runStoreTests(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		require.NoError(t, s.Ping(ctx))
	})

	t.Run("Find empty", func(t *testing.T) {
		docs, err := s.Collection("empty").Find(ctx, nil, store.FindOptions{})
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("Insert and FindOne", func(t *testing.T) {
		c := s.Collection("insert")
		id, err := c.InsertOne(ctx, store.Document{"firstName": "Ada", "age": 36})
		require.NoError(t, err)
		assert.False(t, id.IsZero())

		got, err := c.FindOne(ctx, store.Filter{"_id": id})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, id, got["_id"])
		assert.Equal(t, "Ada", got["firstName"])
		assert.EqualValues(t, 36, got["age"])
	})

	t.Run("Insert assigns a fresh id", func(t *testing.T) {
		c := s.Collection("fresh")
		stale := objectid.New()
		id, err := c.InsertOne(ctx, store.Document{"_id": stale, "firstName": "Grace"})
		require.NoError(t, err)
		assert.NotEqual(t, stale, id)

		got, err := c.FindOne(ctx, store.Filter{"_id": stale})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("FindOne missing", func(t *testing.T) {
		got, err := s.Collection("insert").FindOne(ctx, store.Filter{"_id": objectid.New()})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Find keeps insertion order", func(t *testing.T) {
		c := s.Collection("order")
		seed(t, c,
			store.Document{"firstName": "Cid", "n": 3},
			store.Document{"firstName": "Ada", "n": 1},
			store.Document{"firstName": "Bea", "n": 2},
		)
		docs, err := c.Find(ctx, nil, store.FindOptions{})
		require.NoError(t, err)
		assert.Equal(t, []any{"Cid", "Ada", "Bea"}, firstNames(docs))
	})

	t.Run("Find filters sorts and pages", func(t *testing.T) {
		c := s.Collection("paged")
		seed(t, c,
			store.Document{"firstName": "Ada", "lastName": "Lovelace"},
			store.Document{"firstName": "Alan", "lastName": "Turing"},
			store.Document{"firstName": "Grace", "lastName": "Hopper"},
			store.Document{"firstName": "Alonzo", "lastName": "Church"},
		)

		docs, err := c.Find(ctx, store.Filter{"firstName": store.Filter{"$regex": "^A"}}, store.FindOptions{
			Sort: []store.SortField{store.Desc("lastName")},
		})
		require.NoError(t, err)
		assert.Equal(t, []any{"Alan", "Ada", "Alonzo"}, firstNames(docs))

		docs, err = c.Find(ctx, nil, store.FindOptions{
			Sort:  []store.SortField{store.Asc("firstName")},
			Skip:  1,
			Limit: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, []any{"Alan", "Alonzo"}, firstNames(docs))

		docs, err = c.Find(ctx, nil, store.FindOptions{Skip: 10})
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("Find rejects bad options", func(t *testing.T) {
		c := s.Collection("paged")
		_, err := c.Find(ctx, nil, store.FindOptions{Skip: -1})
		assert.ErrorIs(t, err, store.ErrInvalidQuery)
		_, err = c.Find(ctx, nil, store.FindOptions{Limit: -1})
		assert.ErrorIs(t, err, store.ErrInvalidQuery)
		_, err = c.Find(ctx, nil, store.FindOptions{Sort: []store.SortField{{Key: "firstName", Direction: 2}}})
		assert.ErrorIs(t, err, store.ErrInvalidQuery)
	})

	t.Run("Invalid filter", func(t *testing.T) {
		c := s.Collection("paged")
		_, err := c.Find(ctx, store.Filter{"firstName": store.Filter{"$bogus": 1}}, store.FindOptions{})
		assert.ErrorIs(t, err, store.ErrInvalidQuery)
		_, err = c.FindOne(ctx, store.Filter{"$bogus": 1})
		assert.ErrorIs(t, err, store.ErrInvalidQuery)
	})

	t.Run("Returned documents are copies", func(t *testing.T) {
		c := s.Collection("copies")
		ids := seed(t, c, store.Document{"firstName": "Ada", "tags": []any{"math"}})

		got, err := c.FindOne(ctx, store.Filter{"_id": ids[0]})
		require.NoError(t, err)
		got["firstName"] = "changed"
		got["tags"].([]any)[0] = "changed"

		again, err := c.FindOne(ctx, store.Filter{"_id": ids[0]})
		require.NoError(t, err)
		assert.Equal(t, "Ada", again["firstName"])
		assert.Equal(t, []any{"math"}, again["tags"])
	})

	t.Run("Update operands are copied", func(t *testing.T) {
		c := s.Collection("operands")
		ids := seed(t, c, store.Document{"firstName": "Ada"})

		tags := []any{"keep"}
		meta := map[string]any{"langs": []string{"en"}}
		res, err := c.UpdateOne(ctx, store.Filter{"_id": ids[0]},
			store.Update{"$set": store.Document{"tags": tags, "meta": meta}})
		require.NoError(t, err)
		require.Equal(t, int64(1), res.ModifiedCount)

		tags[0] = "changed"
		meta["langs"].([]string)[0] = "changed"
		meta["extra"] = true

		got, err := c.FindOne(ctx, store.Filter{"_id": ids[0]})
		require.NoError(t, err)
		assert.Equal(t, []any{"keep"}, got["tags"])
		gotMeta := got["meta"].(map[string]any)
		assert.NotContains(t, gotMeta, "extra")
		assert.EqualValues(t, "en", toAnySlice(gotMeta["langs"])[0])
	})

	t.Run("Time values round trip", func(t *testing.T) {
		c := s.Collection("times")
		when := time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
		ids := seed(t, c, store.Document{"when": when, "nested": map[string]any{"at": when}})

		got, err := c.FindOne(ctx, store.Filter{"_id": ids[0]})
		require.NoError(t, err)
		assert.Equal(t, when, asTime(t, got["when"]))
		assert.Equal(t, when, asTime(t, got["nested"].(map[string]any)["at"]))
	})

	t.Run("UpdateOne", func(t *testing.T) {
		c := s.Collection("update")
		ids := seed(t, c,
			store.Document{"firstName": "Ada", "lastName": "Byron"},
			store.Document{"firstName": "Ada", "lastName": "Other"},
		)

		res, err := c.UpdateOne(ctx, store.Filter{"firstName": "Ada"},
			store.Update{"$set": store.Document{"lastName": "Lovelace"}})
		require.NoError(t, err)
		assert.Equal(t, store.UpdateResult{MatchedCount: 1, ModifiedCount: 1, ID: ids[0]}, res)

		got, err := c.FindOne(ctx, store.Filter{"_id": ids[0]})
		require.NoError(t, err)
		assert.Equal(t, "Lovelace", got["lastName"])

		// The filter no longer matches the updated document, but the result
		// still identifies it.
		res, err = c.UpdateOne(ctx, store.Filter{"lastName": "Other"},
			store.Update{"$set": store.Document{"lastName": "Renamed"}})
		require.NoError(t, err)
		assert.Equal(t, ids[1], res.ID)
	})

	t.Run("UpdateOne without change", func(t *testing.T) {
		c := s.Collection("nochange")
		ids := seed(t, c, store.Document{"firstName": "Ada"})
		res, err := c.UpdateOne(ctx, store.Filter{"_id": ids[0]},
			store.Update{"$set": store.Document{"firstName": "Ada"}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.MatchedCount)
		assert.Equal(t, int64(0), res.ModifiedCount)
		assert.Equal(t, ids[0], res.ID)
	})

	t.Run("UpdateOne no match", func(t *testing.T) {
		c := s.Collection("update")
		res, err := c.UpdateOne(ctx, store.Filter{"_id": objectid.New()},
			store.Update{"$set": store.Document{"lastName": "x"}})
		require.NoError(t, err)
		assert.Equal(t, store.UpdateResult{}, res)
		assert.True(t, res.ID.IsZero())
	})

	t.Run("UpdateOne invalid update", func(t *testing.T) {
		c := s.Collection("update")
		_, err := c.UpdateOne(ctx, store.Filter{"firstName": "Ada"}, store.Update{"lastName": "x"})
		assert.ErrorIs(t, err, store.ErrInvalidQuery)
		_, err = c.UpdateOne(ctx, store.Filter{"firstName": "Ada"}, store.Update{})
		assert.ErrorIs(t, err, store.ErrInvalidQuery)
	})

	t.Run("DeleteOne", func(t *testing.T) {
		c := s.Collection("delete")
		ids := seed(t, c, store.Document{"firstName": "Ada"}, store.Document{"firstName": "Ada"})

		n, err := c.DeleteOne(ctx, store.Filter{"firstName": "Ada"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := c.FindOne(ctx, store.Filter{"_id": ids[0]})
		require.NoError(t, err)
		assert.Nil(t, got)

		n, err = c.DeleteOne(ctx, store.Filter{"_id": ids[0]})
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("CountDocuments", func(t *testing.T) {
		c := s.Collection("count")
		seed(t, c,
			store.Document{"firstName": "Ada"},
			store.Document{"firstName": "Alan"},
			store.Document{"firstName": "Grace"},
		)
		n, err := c.CountDocuments(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		n, err = c.CountDocuments(ctx, store.Filter{"firstName": store.Filter{"$regex": "^a", "$options": "i"}})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		n, err = s.Collection("nothing-here").CountDocuments(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Concurrent callers", func(t *testing.T) {
		const workers, perWorker = 8, 6
		c := s.Collection("concurrent")

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					id, err := c.InsertOne(ctx, store.Document{"worker": w, "i": i, "hits": 0})
					if !assert.NoError(t, err) {
						return
					}
					res, err := c.UpdateOne(ctx, store.Filter{"_id": id}, store.Update{"$inc": store.Document{"hits": 1}})
					if !assert.NoError(t, err) {
						return
					}
					assert.Equal(t, id, res.ID)
					assert.Equal(t, int64(1), res.ModifiedCount)
					if i%2 == 0 {
						n, err := c.DeleteOne(ctx, store.Filter{"_id": id})
						assert.NoError(t, err)
						assert.Equal(t, int64(1), n)
					}
					_, err = c.CountDocuments(ctx, store.Filter{"worker": w})
					assert.NoError(t, err)
				}
			}(w)
		}
		wg.Wait()

		n, err := c.CountDocuments(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(workers*perWorker/2), n)

		n, err = c.CountDocuments(ctx, store.Filter{"hits": 1})
		require.NoError(t, err)
		assert.Equal(t, int64(workers*perWorker/2), n, "no update was lost")

		for w := 0; w < workers; w++ {
			n, err := c.CountDocuments(ctx, store.Filter{"worker": w})
			require.NoError(t, err)
			assert.Equal(t, int64(perWorker/2), n, "worker %d", w)
		}
	})

	t.Run("ListCollections", func(t *testing.T) {
		names, err := s.ListCollections(ctx)
		require.NoError(t, err)
		assert.Contains(t, names, "paged")
		assert.Contains(t, names, "count")
		assert.NotContains(t, names, "nothing-here")
		assert.IsIncreasing(t, names)
	})

	t.Run("Cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		c := s.Collection("count")
		_, err := c.Find(cctx, nil, store.FindOptions{})
		assert.ErrorIs(t, err, store.ErrTransport)
		_, err = c.InsertOne(cctx, store.Document{"firstName": "late"})
		assert.ErrorIs(t, err, store.ErrTransport)
	})
}

func TestMemoryStore(t *testing.T) {
	s := store.NewMemoryStore()
	runStoreTests(t, s)

	require.NoError(t, s.Close(context.Background()))
	assert.ErrorIs(t, s.Ping(context.Background()), store.ErrTransport)
	_, err := s.Collection("paged").Find(context.Background(), nil, store.FindOptions{})
	assert.ErrorIs(t, err, store.ErrTransport)
}

func TestMemoryStoreKeepsGoTypes(t *testing.T) {
	c := store.NewMemoryStore().Collection("typed")
	id, err := c.InsertOne(context.Background(), store.Document{"n": int32(7), "tags": []string{"a"}})
	require.NoError(t, err)
	got, err := c.FindOne(context.Background(), store.Filter{"_id": id})
	require.NoError(t, err)
	assert.Equal(t, int32(7), got["n"])
	assert.Equal(t, []string{"a"}, got["tags"])
}

func TestJsonFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewJsonFileStore(dir)
	require.NoError(t, err)
	runStoreTests(t, s)

	assert.FileExists(t, filepath.Join(dir, "paged.json"))

	// A second store over the same directory sees the same data.
	reopened, err := store.NewJsonFileStore(dir)
	require.NoError(t, err)
	n, err := reopened.Collection("count").CountDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, s.Close(context.Background()))
	assert.ErrorIs(t, s.Ping(context.Background()), store.ErrTransport)
}

func TestJsonFileStoreRejectsUnsafeNames(t *testing.T) {
	s, err := store.NewJsonFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = s.Collection("../escape").InsertOne(context.Background(), store.Document{"a": 1})
	assert.ErrorIs(t, err, store.ErrInvalidQuery)
}

func TestSqliteStore(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := store.NewSqliteStore(dbPath)
	require.NoError(t, err)
	runStoreTests(t, s)

	ctx := context.Background()
	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx), "closing twice is a no-op")
	assert.ErrorIs(t, s.Ping(ctx), store.ErrTransport)

	c := s.Collection("paged")
	_, err = c.Find(ctx, nil, store.FindOptions{})
	assert.ErrorIs(t, err, store.ErrTransport)
	_, err = c.InsertOne(ctx, store.Document{"firstName": "late"})
	assert.ErrorIs(t, err, store.ErrTransport)
	_, err = c.CountDocuments(ctx, nil)
	assert.ErrorIs(t, err, store.ErrTransport)
	_, err = c.DeleteOne(ctx, store.Filter{"firstName": "Ada"})
	assert.ErrorIs(t, err, store.ErrTransport)
	_, err = s.ListCollections(ctx)
	assert.ErrorIs(t, err, store.ErrTransport)
}

func TestSqliteStorePersists(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewSqliteStore(dbPath)
	require.NoError(t, err)
	id, err := s.Collection("people").InsertOne(context.Background(),
		store.Document{"firstName": "Ada", "score": 1.5, "n": 2})
	require.NoError(t, err)
	require.NoError(t, s.Close(context.Background()))

	s, err = store.NewSqliteStore(dbPath)
	require.NoError(t, err)
	defer s.Close(context.Background())
	got, err := s.Collection("people").FindOne(context.Background(), store.Filter{"_id": id})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ada", got["firstName"])
	assert.Equal(t, 1.5, got["score"])
	assert.EqualValues(t, 2, got["n"])
}

func TestFactory(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		backend string
	}{
		{"json"},
		{"sqlite"},
		{"memory"},
		{""},
	}
	for _, tc := range tests {
		t.Run(tc.backend, func(t *testing.T) {
			s, err := store.New(context.Background(), store.Options{
				Backend: tc.backend,
				DataDir: filepath.Join(dir, tc.backend),
			})
			require.NoError(t, err)
			defer s.Close(context.Background())
			require.NoError(t, s.Ping(context.Background()))
		})
	}

	t.Run("unknown", func(t *testing.T) {
		_, err := store.New(context.Background(), store.Options{Backend: "postgres"})
		assert.ErrorIs(t, err, store.ErrUnknownBackend)
	})

	t.Run("mongo requires uri", func(t *testing.T) {
		_, err := store.New(context.Background(), store.Options{Backend: store.BackendMongo})
		assert.Error(t, err)
	})
}
