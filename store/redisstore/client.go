package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goRegistry/internal/views"
	"github.com/MrEthical07/goRegistry/store"
	"github.com/redis/go-redis/v9"
)

const (
	scanBatch = 500
	// maxViewReloads bounds how often a write reloads index definitions
	// that keep changing underneath it.
	maxViewReloads = 3
)

var errViewsChanged = errors.New("redisstore: index definitions kept changing during write")

const (
	modeSet     = "set"
	modeAdd     = "nx"
	modeReplace = "xx"
)

// Option configures a Client.
type Option func(*Client)

// WithClock overrides the clock used to compute index expiry scores.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client is a Redis-backed store.Client.
//
// All keys of a bucket share the hash tag "{bucket}" so index maintenance
// scripts stay within one cluster slot. Documents live at "{bucket}:k:<key>";
// each index is a lexicographic sorted set plus a companion sorted set scored
// by expiry, pruned before every query so TTL-expired keys drop out of counts.
//
// Index documents carry a version at "{bucket}:_designs_ver". Writes and
// deletes send the version their definitions were loaded at and the scripts
// refuse them when it is stale, so a client never maintains indexes from
// definitions another process has since replaced.
type Client struct {
	redis    redis.UniversalClient
	prefix   string
	now      func() time.Time
	compiler *views.Compiler
	views    views.Cache
}

// NewClient wraps an existing Redis client for the given bucket.
func NewClient(rdb redis.UniversalClient, bucket string, opts ...Option) (*Client, error) {
	compiler, err := views.NewCompiler()
	if err != nil {
		return nil, err
	}
	if bucket == "" {
		bucket = "default"
	}

	c := &Client{
		redis:    rdb,
		prefix:   "{" + bucket + "}:",
		now:      time.Now,
		compiler: compiler,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) dataKey(key string) string {
	return c.prefix + "k:" + key
}

func (c *Client) designKey(document string) string {
	return c.prefix + "_design:" + document
}

func (c *Client) designsKey() string {
	return c.prefix + "_designs"
}

func (c *Client) versionKey() string {
	return c.prefix + "_designs_ver"
}

func (c *Client) viewKey(document, index string) string {
	return c.prefix + "_view:" + document + ":" + index
}

func (c *Client) expiryKey(document, index string) string {
	return c.prefix + "_vexp:" + document + ":" + index
}

// Get returns the value stored at key.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.redis.Get(ctx, c.dataKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrKeyNotFound
		}
		return nil, store.Transport(err)
	}
	return data, nil
}

// Set stores value unconditionally. A zero ttl never expires.
func (c *Client) Set(ctx context.Context, key string, ttl time.Duration, value []byte) error {
	_, err := c.write(ctx, modeSet, key, ttl, value)
	return err
}

// Add stores value only if key is absent.
func (c *Client) Add(ctx context.Context, key string, ttl time.Duration, value []byte) error {
	ok, err := c.write(ctx, modeAdd, key, ttl, value)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrKeyExists
	}
	return nil
}

// Replace stores value only if key is present.
func (c *Client) Replace(ctx context.Context, key string, ttl time.Duration, value []byte) error {
	ok, err := c.write(ctx, modeReplace, key, ttl, value)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrKeyNotFound
	}
	return nil
}

func (c *Client) write(ctx context.Context, mode, key string, ttl time.Duration, value []byte) (bool, error) {
	for attempt := 0; ; attempt++ {
		res, err := c.writeOnce(ctx, mode, key, ttl, value)
		if err != nil {
			return false, err
		}
		if res != staleViews {
			return res == 1, nil
		}
		if attempt == maxViewReloads {
			return false, store.Transport(errViewsChanged)
		}
		if err := c.refreshViews(ctx); err != nil {
			return false, err
		}
	}
}

func (c *Client) writeOnce(ctx context.Context, mode, key string, ttl time.Duration, value []byte) (int64, error) {
	vs, version := c.views.Versioned()

	var ttlMillis, expires int64
	if ttl > 0 {
		ttlMillis = ttl.Milliseconds()
		if ttlMillis == 0 {
			ttlMillis = 1
		}
		expires = c.now().Add(ttl).UnixMilli()
	}

	keys := make([]string, 0, 2+2*len(vs))
	keys = append(keys, c.dataKey(key), c.versionKey())
	args := make([]interface{}, 0, 6+len(vs))
	args = append(args, mode, value, ttlMillis, key, expires, strconv.FormatInt(version, 10))

	for _, v := range vs {
		keys = append(keys, c.viewKey(v.Document, v.Name), c.expiryKey(v.Document, v.Name))
		emit, err := v.Emits(key, expires, value)
		if err != nil {
			emit = false
		}
		if emit {
			args = append(args, "1")
		} else {
			args = append(args, "0")
		}
	}

	res, err := writeLua.Run(ctx, c.redis, keys, args...).Int64()
	if err != nil {
		return 0, store.Transport(err)
	}
	return res, nil
}

// Delete removes key and its index entries. It reports whether the key existed.
func (c *Client) Delete(ctx context.Context, key string) (bool, error) {
	for attempt := 0; ; attempt++ {
		vs, version := c.views.Versioned()
		keys := make([]string, 0, 2+2*len(vs))
		keys = append(keys, c.dataKey(key), c.versionKey())
		for _, v := range vs {
			keys = append(keys, c.viewKey(v.Document, v.Name), c.expiryKey(v.Document, v.Name))
		}

		n, err := deleteLua.Run(ctx, c.redis, keys, key, strconv.FormatInt(version, 10)).Int64()
		if err != nil {
			return false, store.Transport(err)
		}
		if n != staleViews {
			return n > 0, nil
		}
		if attempt == maxViewReloads {
			return false, store.Transport(errViewsChanged)
		}
		if err := c.refreshViews(ctx); err != nil {
			return false, err
		}
	}
}

// Increment adds delta to the counter at key, creating it with initial.
func (c *Client) Increment(ctx context.Context, key string, delta, initial int64) (int64, error) {
	n, err := incrementLua.Run(ctx, c.redis, []string{c.dataKey(key)}, delta, initial).Int64()
	if err != nil {
		return 0, store.Transport(err)
	}
	return n, nil
}

// IndexDocument loads the named index document.
func (c *Client) IndexDocument(ctx context.Context, name string) (*store.IndexDocument, error) {
	fields, err := c.redis.HGetAll(ctx, c.designKey(name)).Result()
	if err != nil {
		return nil, store.Transport(err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrIndexMissing, name)
	}

	doc := &store.IndexDocument{Name: name, Indexes: make([]store.IndexDefinition, 0, len(fields))}
	for field, raw := range fields {
		var def store.IndexDefinition
		if err := json.Unmarshal([]byte(raw), &def); err != nil {
			return nil, fmt.Errorf("decode index %s/%s: %w", name, field, err)
		}
		def.Name = field
		doc.Indexes = append(doc.Indexes, def)
	}
	sort.Slice(doc.Indexes, func(i, j int) bool { return doc.Indexes[i].Name < doc.Indexes[j].Name })
	return doc, nil
}

// CreateIndexDocument replaces the whole index document and rebuilds its
// indexes over the documents already in the bucket.
func (c *Client) CreateIndexDocument(ctx context.Context, doc store.IndexDocument) error {
	compiled, err := c.compiler.CompileDocument(doc)
	if err != nil {
		return err
	}

	stale := make(map[string]struct{}, len(doc.Indexes))
	old, err := c.IndexDocument(ctx, doc.Name)
	switch {
	case err == nil:
		for _, def := range old.Indexes {
			stale[def.Name] = struct{}{}
		}
	case errors.Is(err, store.ErrIndexMissing):
	default:
		return err
	}
	for _, def := range doc.Indexes {
		stale[def.Name] = struct{}{}
	}

	designKey := c.designKey(doc.Name)
	var bump *redis.IntCmd
	_, err = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		bump = pipe.Incr(ctx, c.versionKey())
		pipe.Del(ctx, designKey)
		for _, def := range doc.Indexes {
			data, err := json.Marshal(def)
			if err != nil {
				return err
			}
			pipe.HSet(ctx, designKey, def.Name, data)
		}
		pipe.SAdd(ctx, c.designsKey(), doc.Name)
		for name := range stale {
			pipe.Del(ctx, c.viewKey(doc.Name, name), c.expiryKey(doc.Name, name))
		}
		return nil
	})
	if err != nil {
		return store.Transport(err)
	}

	c.views.ReplaceDocument(doc.Name, compiled, bump.Val())
	return c.backfill(ctx, compiled)
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

	min, max := lexBounds(q.Range)
	mode := "keys"
	if q.Reduce {
		mode = "count"
	}

	res, err := queryLua.Run(
		ctx,
		c.redis,
		[]string{c.viewKey(document, index), c.expiryKey(document, index)},
		c.now().UnixMilli(),
		min,
		max,
		mode,
	).Result()
	if err != nil {
		return nil, store.Transport(err)
	}

	if q.Reduce {
		n, ok := res.(int64)
		if !ok {
			return nil, fmt.Errorf("%w: invalid count reply %T", store.ErrTransport, res)
		}
		return []store.Row{{Value: strconv.FormatInt(n, 10)}}, nil
	}

	parts, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: invalid range reply %T", store.ErrTransport, res)
	}
	members := make([]string, 0, len(parts))
	for _, p := range parts {
		if s, ok := p.(string); ok {
			members = append(members, s)
		}
	}

	if !q.IncludeDocs {
		rows := make([]store.Row, len(members))
		for i, m := range members {
			rows[i] = store.Row{Key: m}
		}
		return rows, nil
	}
	return c.fetchRows(ctx, members)
}

func (c *Client) fetchRows(ctx context.Context, members []string) ([]store.Row, error) {
	rows := make([]store.Row, 0, len(members))
	for start := 0; start < len(members); start += scanBatch {
		end := start + scanBatch
		if end > len(members) {
			end = len(members)
		}
		batch := members[start:end]

		keys := make([]string, len(batch))
		for i, m := range batch {
			keys[i] = c.dataKey(m)
		}
		values, err := c.redis.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, store.Transport(err)
		}
		for i, v := range values {
			s, ok := v.(string)
			if !ok {
				// Deleted or expired between the range scan and the fetch.
				continue
			}
			rows = append(rows, store.Row{Key: batch[i], Doc: []byte(s)})
		}
	}
	return rows, nil
}

// Ping checks the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return store.Transport(err)
	}
	return nil
}

// Close releases the underlying Redis client.
func (c *Client) Close() error {
	return c.redis.Close()
}

// refreshViews reloads every index document registered in the bucket. The
// version is read first, so a change racing the reload leaves the cache one
// version behind and the next write reloads again.
func (c *Client) refreshViews(ctx context.Context) error {
	version, err := c.redis.Get(ctx, c.versionKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return store.Transport(err)
	}

	names, err := c.redis.SMembers(ctx, c.designsKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return store.Transport(err)
	}

	var all []*views.View
	for _, name := range names {
		doc, err := c.IndexDocument(ctx, name)
		if err != nil {
			if errors.Is(err, store.ErrIndexMissing) {
				continue
			}
			return err
		}
		compiled, err := c.compiler.CompileDocument(*doc)
		if err != nil {
			return err
		}
		all = append(all, compiled...)
	}

	c.views.Reset(all, version)
	return nil
}

func (c *Client) backfill(ctx context.Context, vs []*views.View) error {
	if len(vs) == 0 {
		return nil
	}
	if cc, ok := c.redis.(*redis.ClusterClient); ok {
		return cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return c.backfillNode(ctx, node, vs)
		})
	}
	return c.backfillNode(ctx, c.redis, vs)
}

func (c *Client) backfillNode(ctx context.Context, rdb redis.Cmdable, vs []*views.View) error {
	dataPrefix := c.prefix + "k:"
	pattern := escapeGlob(dataPrefix) + "*"

	var cursor uint64
	for {
		keys, next, err := rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return store.Transport(err)
		}

		if len(keys) > 0 {
			pipe := rdb.Pipeline()
			gets := make([]*redis.StringCmd, len(keys))
			ttls := make([]*redis.DurationCmd, len(keys))
			for i, k := range keys {
				gets[i] = pipe.Get(ctx, k)
				ttls[i] = pipe.PTTL(ctx, k)
			}
			if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
				return store.Transport(err)
			}

			now := c.now()
			writes := rdb.Pipeline()
			for i, k := range keys {
				value, err := gets[i].Bytes()
				if err != nil {
					continue
				}
				member := strings.TrimPrefix(k, dataPrefix)

				var expires int64
				if ttl, err := ttls[i].Result(); err == nil && ttl > 0 {
					expires = now.Add(ttl).UnixMilli()
				}

				for _, v := range vs {
					emit, err := v.Emits(member, expires, value)
					if err != nil || !emit {
						continue
					}
					writes.ZAdd(ctx, c.viewKey(v.Document, v.Name), redis.Z{Score: 0, Member: member})
					if expires > 0 {
						writes.ZAdd(ctx, c.expiryKey(v.Document, v.Name), redis.Z{Score: float64(expires), Member: member})
					}
				}
			}
			if writes.Len() > 0 {
				if _, err := writes.Exec(ctx); err != nil {
					return store.Transport(err)
				}
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func lexBounds(r store.KeyRange) (string, string) {
	min, max := "-", "+"
	if r.Start != "" {
		min = "[" + r.Start
	}
	if r.End != "" {
		max = "[" + r.End
	}
	return min, max
}

func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
