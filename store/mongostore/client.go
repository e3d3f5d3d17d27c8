package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/goRegistry/internal/views"
	"github.com/MrEthical07/goRegistry/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	backfillBatch = 500
	// versionID is the _id of the record in the design collection that counts
	// index document changes.
	versionID = "_version"
)

// Option configures a Client.
type Option func(*Client)

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// record is the stored shape of one key. Views lists the "<document>/<index>"
// keys whose map emitted this record when it was last written.
type record struct {
	ID        string     `bson:"_id"`
	Value     []byte     `bson:"value"`
	Counter   *int64     `bson:"counter,omitempty"`
	ExpiresAt *time.Time `bson:"expiresAt,omitempty"`
	Views     []string   `bson:"views,omitempty"`
}

type designRecord struct {
	ID      string                  `bson:"_id"`
	Indexes []store.IndexDefinition `bson:"indexes"`
}

type versionRecord struct {
	ID      string `bson:"_id"`
	Version int64  `bson:"version"`
}

// Client is a MongoDB-backed store.Client. A bucket maps to a collection and
// its index documents to the companion collection "<bucket>_design".
//
// Index document changes bump a version stored next to the documents. After
// each write the client compares it with the version its definitions were
// loaded at and, when they differ, reloads and recomputes the record's index
// keys. A change that lands after that check is covered by its own backfill.
type Client struct {
	client  *mongo.Client
	data    *mongo.Collection
	designs *mongo.Collection

	now      func() time.Time
	compiler *views.Compiler
	views    views.Cache
}

// NewClient wraps a connected driver client.
func NewClient(client *mongo.Client, database, bucket string, opts ...Option) (*Client, error) {
	compiler, err := views.NewCompiler()
	if err != nil {
		return nil, err
	}
	if bucket == "" {
		bucket = "default"
	}

	db := client.Database(database)
	c := &Client{
		client:   client,
		data:     db.Collection(bucket),
		designs:  db.Collection(bucket + "_design"),
		now:      time.Now,
		compiler: compiler,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EnsureIndexes creates the TTL index on expiresAt and the index used by view queries.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	_, err := c.data.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
		{
			Keys: bson.D{{Key: "views", Value: 1}, {Key: "_id", Value: 1}},
		},
	})
	if err != nil {
		return store.Transport(err)
	}
	return nil
}

// live matches records that have not expired. The server TTL monitor only
// runs periodically, so expired records may still be present.
func (c *Client) live() bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"expiresAt": nil},
		bson.M{"expiresAt": bson.M{"$gt": c.now()}},
	}}
}

func (c *Client) liveKey(key string) bson.M {
	f := c.live()
	f["_id"] = key
	return f
}

// Get returns the value stored at key. Counters are returned in decimal.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	var rec record
	err := c.data.FindOne(ctx, c.liveKey(key)).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrKeyNotFound
		}
		return nil, store.Transport(err)
	}
	if rec.Value == nil && rec.Counter != nil {
		return []byte(strconv.FormatInt(*rec.Counter, 10)), nil
	}
	return rec.Value, nil
}

// Set stores value unconditionally.
func (c *Client) Set(ctx context.Context, key string, ttl time.Duration, value []byte) error {
	rec, version := c.newRecord(key, ttl, value)
	_, err := c.data.ReplaceOne(ctx, bson.M{"_id": key}, rec, options.Replace().SetUpsert(true))
	if err != nil {
		return store.Transport(err)
	}
	return c.reindexIfStale(ctx, rec, version)
}

// Add stores value only if key is absent. An expired record that the TTL
// monitor has not yet removed counts as absent.
func (c *Client) Add(ctx context.Context, key string, ttl time.Duration, value []byte) error {
	rec, version := c.newRecord(key, ttl, value)
	_, err := c.data.InsertOne(ctx, rec)
	if err == nil {
		return c.reindexIfStale(ctx, rec, version)
	}
	if !mongo.IsDuplicateKeyError(err) {
		return store.Transport(err)
	}

	res, err := c.data.ReplaceOne(ctx, bson.M{"_id": key, "expiresAt": bson.M{"$lte": c.now()}}, rec)
	if err != nil {
		return store.Transport(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrKeyExists
	}
	return c.reindexIfStale(ctx, rec, version)
}

// Replace stores value only if key is present.
func (c *Client) Replace(ctx context.Context, key string, ttl time.Duration, value []byte) error {
	rec, version := c.newRecord(key, ttl, value)
	res, err := c.data.ReplaceOne(ctx, c.liveKey(key), rec)
	if err != nil {
		return store.Transport(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrKeyNotFound
	}
	return c.reindexIfStale(ctx, rec, version)
}

// newRecord builds the stored shape of key and returns the index version its
// view keys were computed at.
func (c *Client) newRecord(key string, ttl time.Duration, value []byte) (record, int64) {
	vs, version := c.views.Versioned()

	rec := record{ID: key, Value: value}
	if rec.Value == nil {
		rec.Value = []byte{}
	}
	var expires int64
	if ttl > 0 {
		at := c.now().Add(ttl)
		rec.ExpiresAt = &at
		expires = at.UnixMilli()
	}
	rec.Views = emitted(vs, key, expires, value)
	return rec, version
}

func emitted(vs []*views.View, key string, expires int64, value []byte) []string {
	var out []string
	for _, v := range vs {
		if emit, err := v.Emits(key, expires, value); err == nil && emit {
			out = append(out, v.Key())
		}
	}
	return out
}

// reindexIfStale recomputes the view keys of a just-written record when the
// index documents changed since the definitions it was written with.
func (c *Client) reindexIfStale(ctx context.Context, rec record, version int64) error {
	current, err := c.designVersion(ctx)
	if err != nil {
		return err
	}
	if current == version {
		return nil
	}
	if err := c.refreshViews(ctx); err != nil {
		return err
	}

	var expires int64
	if rec.ExpiresAt != nil {
		expires = rec.ExpiresAt.UnixMilli()
	}
	keys := emitted(c.views.Snapshot(), rec.ID, expires, rec.Value)
	if keys == nil {
		keys = []string{}
	}
	// A concurrent write of the same key with another value recomputes its own keys.
	if _, err := c.data.UpdateOne(ctx,
		bson.M{"_id": rec.ID, "value": rec.Value},
		bson.M{"$set": bson.M{"views": keys}},
	); err != nil {
		return store.Transport(err)
	}
	return nil
}

func (c *Client) designVersion(ctx context.Context) (int64, error) {
	var v versionRecord
	err := c.designs.FindOne(ctx, bson.M{"_id": versionID}).Decode(&v)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, store.Transport(err)
	}
	return v.Version, nil
}

// Delete removes key. It reports whether a live record was removed.
func (c *Client) Delete(ctx context.Context, key string) (bool, error) {
	res, err := c.data.DeleteOne(ctx, c.liveKey(key))
	if err != nil {
		return false, store.Transport(err)
	}
	return res.DeletedCount > 0, nil
}

// Increment adds delta to the counter at key, creating it with initial.
func (c *Client) Increment(ctx context.Context, key string, delta, initial int64) (int64, error) {
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{{Key: "counter", Value: bson.D{{Key: "$cond", Value: bson.A{
			bson.D{{Key: "$eq", Value: bson.A{bson.D{{Key: "$type", Value: "$counter"}}, "missing"}}},
			initial,
			bson.D{{Key: "$add", Value: bson.A{"$counter", delta}}},
		}}}}}}},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var rec record
	if err := c.data.FindOneAndUpdate(ctx, bson.M{"_id": key}, update, opts).Decode(&rec); err != nil {
		return 0, store.Transport(err)
	}
	if rec.Counter == nil {
		return 0, fmt.Errorf("%w: %s is not a counter", store.ErrTransport, key)
	}
	return *rec.Counter, nil
}

// IndexDocument loads the named index document.
func (c *Client) IndexDocument(ctx context.Context, name string) (*store.IndexDocument, error) {
	var rec designRecord
	err := c.designs.FindOne(ctx, bson.M{"_id": name}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", store.ErrIndexMissing, name)
		}
		return nil, store.Transport(err)
	}
	return &store.IndexDocument{Name: rec.ID, Indexes: rec.Indexes}, nil
}

// CreateIndexDocument replaces the whole index document and rebuilds its
// indexes over the records already in the bucket.
func (c *Client) CreateIndexDocument(ctx context.Context, doc store.IndexDocument) error {
	compiled, err := c.compiler.CompileDocument(doc)
	if err != nil {
		return err
	}

	var bumped versionRecord
	err = c.designs.FindOneAndUpdate(ctx,
		bson.M{"_id": versionID},
		bson.M{"$inc": bson.M{"version": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&bumped)
	if err != nil {
		return store.Transport(err)
	}

	stale := make([]string, 0, len(doc.Indexes))
	old, err := c.IndexDocument(ctx, doc.Name)
	switch {
	case err == nil:
		for _, def := range old.Indexes {
			stale = append(stale, doc.Name+"/"+def.Name)
		}
	case errors.Is(err, store.ErrIndexMissing):
	default:
		return err
	}
	for _, def := range doc.Indexes {
		stale = append(stale, doc.Name+"/"+def.Name)
	}

	rec := designRecord{ID: doc.Name, Indexes: doc.Indexes}
	if _, err := c.designs.ReplaceOne(ctx, bson.M{"_id": doc.Name}, rec, options.Replace().SetUpsert(true)); err != nil {
		return store.Transport(err)
	}
	if _, err := c.data.UpdateMany(ctx,
		bson.M{"views": bson.M{"$in": stale}},
		bson.M{"$pull": bson.M{"views": bson.M{"$in": stale}}},
	); err != nil {
		return store.Transport(err)
	}

	c.views.ReplaceDocument(doc.Name, compiled, bumped.Version)
	return c.backfill(ctx, compiled)
}

func (c *Client) backfill(ctx context.Context, vs []*views.View) error {
	if len(vs) == 0 {
		return nil
	}

	filter := c.live()
	filter["value"] = bson.M{"$exists": true}
	cur, err := c.data.Find(ctx, filter, options.Find().SetBatchSize(backfillBatch))
	if err != nil {
		return store.Transport(err)
	}
	defer cur.Close(ctx)

	models := make([]mongo.WriteModel, 0, backfillBatch)
	flush := func() error {
		if len(models) == 0 {
			return nil
		}
		_, err := c.data.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
		models = models[:0]
		if err != nil {
			return store.Transport(err)
		}
		return nil
	}

	for cur.Next(ctx) {
		var rec record
		if err := cur.Decode(&rec); err != nil {
			return err
		}
		var expires int64
		if rec.ExpiresAt != nil {
			expires = rec.ExpiresAt.UnixMilli()
		}

		var emitted []string
		for _, v := range vs {
			if emit, err := v.Emits(rec.ID, expires, rec.Value); err == nil && emit {
				emitted = append(emitted, v.Key())
			}
		}
		if len(emitted) == 0 {
			continue
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": rec.ID}).
			SetUpdate(bson.M{"$addToSet": bson.M{"views": bson.M{"$each": emitted}}}))
		if len(models) == backfillBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := cur.Err(); err != nil {
		return store.Transport(err)
	}
	return flush()
}

// QueryIndex scans an index over q.Range. A reduced query returns a single row
// holding the row count.
func (c *Client) QueryIndex(ctx context.Context, document, index string, q store.Query) ([]store.Row, error) {
	v := c.views.Lookup(document, index)
	if v == nil {
		if err := c.refreshViews(ctx); err != nil {
			return nil, err
		}
		v = c.views.Lookup(document, index)
	}
	if v == nil {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrIndexUndefined, document, index)
	}
	if q.Reduce && !v.Counts() {
		return nil, fmt.Errorf("%w: %s/%s has no reduce", store.ErrIndexUndefined, document, index)
	}

	filter := c.live()
	filter["views"] = v.Key()
	if idRange := rangeFilter(q.Range); idRange != nil {
		filter["_id"] = idRange
	}

	if q.Reduce {
		n, err := c.data.CountDocuments(ctx, filter)
		if err != nil {
			return nil, store.Transport(err)
		}
		return []store.Row{{Value: strconv.FormatInt(n, 10)}}, nil
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if !q.IncludeDocs {
		opts.SetProjection(bson.D{{Key: "_id", Value: 1}})
	}
	cur, err := c.data.Find(ctx, filter, opts)
	if err != nil {
		return nil, store.Transport(err)
	}
	var recs []record
	if err := cur.All(ctx, &recs); err != nil {
		return nil, store.Transport(err)
	}

	rows := make([]store.Row, len(recs))
	for i, rec := range recs {
		rows[i] = store.Row{Key: rec.ID}
		if q.IncludeDocs {
			rows[i].Doc = rec.Value
		}
	}
	return rows, nil
}

func rangeFilter(r store.KeyRange) bson.M {
	if r.Start == "" && r.End == "" {
		return nil
	}
	f := bson.M{}
	if r.Start != "" {
		f["$gte"] = r.Start
	}
	if r.End != "" {
		f["$lte"] = r.End
	}
	return f
}

// Ping checks the primary is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx, readpref.Primary()); err != nil {
		return store.Transport(err)
	}
	return nil
}

// Close disconnects the driver client.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.client.Disconnect(ctx)
}

// refreshViews reloads every index document stored for the bucket.
func (c *Client) refreshViews(ctx context.Context) error {
	version, err := c.designVersion(ctx)
	if err != nil {
		return err
	}

	cur, err := c.designs.Find(ctx, bson.M{"_id": bson.M{"$ne": versionID}})
	if err != nil {
		return store.Transport(err)
	}
	var recs []designRecord
	if err := cur.All(ctx, &recs); err != nil {
		return store.Transport(err)
	}

	var all []*views.View
	for _, rec := range recs {
		compiled, err := c.compiler.CompileDocument(store.IndexDocument{Name: rec.ID, Indexes: rec.Indexes})
		if err != nil {
			return err
		}
		all = append(all, compiled...)
	}
	c.views.Reset(all, version)
	return nil
}
