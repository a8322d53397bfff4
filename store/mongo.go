package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/stevemurr/typed-doc-server/objectid"
)

// Server error codes that mean the request itself was malformed.
var invalidQueryCodes = []int{
	2,     // BadValue
	9,     // FailedToParse
	14,    // TypeMismatch
	52,    // DollarPrefixedFieldName
	66,    // ImmutableField
	72,    // InvalidOptions
	51091, // regular expression is invalid
}

// MongoStore is a MongoDB-backed Store. Filters, updates and sort keys are
// forwarded to the server unchanged apart from converting objectid.ID values
// to BSON ObjectIDs.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore connects to uri and uses the named database. The driver
// connects lazily; call Ping to verify the server is reachable.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo: connection string is required")
	}
	if database == "" {
		return nil, errors.New("mongo: database name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	return &MongoStore{client: client, db: client.Database(database)}, nil
}

func (s *MongoStore) Collection(name string) Collection {
	return &mongoCollection{coll: s.db.Collection(name)}
}

func (s *MongoStore) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, mongoErr(err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return mongoErr(s.client.Ping(ctx, readpref.Primary()))
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// mongoErr maps driver errors onto the store error kinds.
func mongoErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		mongo.IsTimeout(err) || mongo.IsNetworkError(err) ||
		errors.Is(err, mongo.ErrClientDisconnected) {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if strings.Contains(err.Error(), "server selection error") {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		for _, code := range invalidQueryCodes {
			if se.HasErrorCode(code) {
				return fmt.Errorf("%w: %w", ErrInvalidQuery, err)
			}
		}
	}
	return err
}

// toBSON converts outgoing values: objectid.ID becomes bson.ObjectID and
// *regexp.Regexp becomes bson.Regex. Maps and slices are copied.
func toBSON(v any) any {
	switch t := v.(type) {
	case objectid.ID:
		return bson.ObjectID(t)
	case *regexp.Regexp:
		return bson.Regex{Pattern: t.String()}
	case map[string]any:
		out := make(bson.M, len(t))
		for k, e := range t {
			out[k] = toBSON(e)
		}
		return out
	case []any:
		out := make(bson.A, len(t))
		for i, e := range t {
			out[i] = toBSON(e)
		}
		return out
	case []map[string]any:
		out := make(bson.A, len(t))
		for i, e := range t {
			out[i] = toBSON(e)
		}
		return out
	case []objectid.ID:
		out := make(bson.A, len(t))
		for i, e := range t {
			out[i] = bson.ObjectID(e)
		}
		return out
	}
	return v
}

func toBSONDoc(m map[string]any) bson.M {
	if m == nil {
		return bson.M{}
	}
	return toBSON(m).(bson.M)
}

// fromBSON converts incoming values to the plain Go shapes the rest of the
// service works with.
func fromBSON(v any) any {
	switch t := v.(type) {
	case bson.ObjectID:
		return objectid.ID(t)
	case bson.DateTime:
		return t.Time().UTC()
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = fromBSON(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = fromBSON(e)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromBSON(e)
		}
		return out
	case time.Time:
		return t.UTC()
	}
	return v
}

func fromBSONDoc(m bson.M) Document {
	return fromBSON(m).(map[string]any)
}

type mongoCollection struct {
	coll *mongo.Collection
}

func (c *mongoCollection) Name() string { return c.coll.Name() }

func (c *mongoCollection) InsertOne(ctx context.Context, doc Document) (objectid.ID, error) {
	body := toBSONDoc(doc)
	delete(body, IDKey)
	res, err := c.coll.InsertOne(ctx, body)
	if err != nil {
		return objectid.Nil, mongoErr(err)
	}
	oid, ok := res.InsertedID.(bson.ObjectID)
	if !ok {
		return objectid.Nil, fmt.Errorf("mongo: unexpected inserted id type %T", res.InsertedID)
	}
	return objectid.ID(oid), nil
}

func (c *mongoCollection) FindOne(ctx context.Context, filter Filter) (Document, error) {
	var raw bson.M
	err := c.coll.FindOne(ctx, toBSONDoc(filter)).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, mongoErr(err)
	}
	return fromBSONDoc(raw), nil
}

func (c *mongoCollection) Find(ctx context.Context, filter Filter, opts FindOptions) ([]Document, error) {
	if _, err := validateFindOptions(opts); err != nil {
		return nil, err
	}
	fo := options.Find()
	if len(opts.Sort) > 0 {
		keys := make(bson.D, 0, len(opts.Sort))
		for _, s := range opts.Sort {
			keys = append(keys, bson.E{Key: s.Key, Value: s.Direction})
		}
		fo.SetSort(keys)
	}
	if opts.Skip > 0 {
		fo.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		fo.SetLimit(opts.Limit)
	}
	cur, err := c.coll.Find(ctx, toBSONDoc(filter), fo)
	if err != nil {
		return nil, mongoErr(err)
	}
	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, mongoErr(err)
	}
	docs := make([]Document, len(raw))
	for i, r := range raw {
		docs[i] = fromBSONDoc(r)
	}
	return docs, nil
}

// UpdateOne resolves the matching document's _id first, then updates that
// exact document so the result can report which one changed. The two calls
// are not atomic; a concurrent writer can make the second one match nothing.
func (c *mongoCollection) UpdateOne(ctx context.Context, filter Filter, update Update) (UpdateResult, error) {
	if len(update) == 0 {
		return UpdateResult{}, fmt.Errorf("%w: update document must not be empty", ErrInvalidQuery)
	}
	for k := range update {
		if !strings.HasPrefix(k, "$") {
			return UpdateResult{}, fmt.Errorf("%w: update document requires atomic operators, got field %q", ErrInvalidQuery, k)
		}
	}

	var target struct {
		ID bson.ObjectID `bson:"_id"`
	}
	err := c.coll.FindOne(ctx, toBSONDoc(filter),
		options.FindOne().SetProjection(bson.D{{Key: IDKey, Value: 1}})).Decode(&target)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return UpdateResult{}, nil
	}
	if err != nil {
		return UpdateResult{}, mongoErr(err)
	}

	byID := bson.M{"$and": bson.A{toBSONDoc(filter), bson.M{IDKey: target.ID}}}
	res, err := c.coll.UpdateOne(ctx, byID, toBSONDoc(update))
	if err != nil {
		return UpdateResult{}, mongoErr(err)
	}
	out := UpdateResult{MatchedCount: res.MatchedCount, ModifiedCount: res.ModifiedCount}
	if res.MatchedCount > 0 {
		out.ID = objectid.ID(target.ID)
	}
	return out, nil
}

func (c *mongoCollection) DeleteOne(ctx context.Context, filter Filter) (int64, error) {
	res, err := c.coll.DeleteOne(ctx, toBSONDoc(filter))
	if err != nil {
		return 0, mongoErr(err)
	}
	return res.DeletedCount, nil
}

func (c *mongoCollection) CountDocuments(ctx context.Context, filter Filter) (int64, error) {
	n, err := c.coll.CountDocuments(ctx, toBSONDoc(filter))
	return n, mongoErr(err)
}
