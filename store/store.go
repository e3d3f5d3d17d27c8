package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrKeyNotFound is returned when a key does not exist (or has expired).
	ErrKeyNotFound = errors.New("key not found")
	// ErrKeyExists is returned by Add when the key is already present.
	ErrKeyExists = errors.New("key already exists")
	// ErrIndexMissing is returned when an index document does not exist in the bucket.
	ErrIndexMissing = errors.New("index document missing")
	// ErrIndexUndefined is returned when a query names an index the document does not declare.
	ErrIndexUndefined = errors.New("index not defined")
	// ErrIndexRejected is returned when the store refuses an index document.
	ErrIndexRejected = errors.New("index document rejected")
	// ErrTransport wraps network and server-side failures.
	ErrTransport = errors.New("store transport failure")
)

// Settings describes how to reach a bucket.
type Settings struct {
	Endpoints []string
	Bucket    string
	Username  string
	Password  string
	// Database is only used by backends that group buckets, such as MongoDB.
	Database string
}

// IndexDefinition is one secondary index inside an index document.
//
// Map is a boolean CEL predicate evaluated per document; when it holds, the
// document id is emitted as the index key. Reduce is empty or "_count".
type IndexDefinition struct {
	Name   string `json:"name"`
	Map    string `json:"map"`
	Reduce string `json:"reduce,omitempty"`
}

// Equal reports whether two definitions have the same name and source text.
func (d IndexDefinition) Equal(other IndexDefinition) bool {
	return d.Name == other.Name && d.Map == other.Map && d.Reduce == other.Reduce
}

// IndexDocument groups the index definitions that are created and replaced together.
type IndexDocument struct {
	Name    string
	Indexes []IndexDefinition
}

// Index returns the named definition.
func (d *IndexDocument) Index(name string) (IndexDefinition, bool) {
	if d == nil {
		return IndexDefinition{}, false
	}
	for _, def := range d.Indexes {
		if def.Name == name {
			return def, true
		}
	}
	return IndexDefinition{}, false
}

// KeyRange bounds an index query. Both ends are inclusive; an empty bound is open.
type KeyRange struct {
	Start string
	End   string
}

// Query describes an index query.
type Query struct {
	Range       KeyRange
	IncludeDocs bool
	Reduce      bool
}

// Row is a single index query result. Reduced queries return one row whose
// Value holds the reduction and whose Key is empty.
type Row struct {
	Key   string
	Value string
	Doc   []byte
}

// Client is the capability set the registries need from a remote key-value store.
// Implementations must be safe for concurrent use.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, ttl time.Duration, value []byte) error
	Add(ctx context.Context, key string, ttl time.Duration, value []byte) error
	Replace(ctx context.Context, key string, ttl time.Duration, value []byte) error
	Delete(ctx context.Context, key string) (bool, error)
	// Increment atomically adds delta to the counter at key. An absent counter
	// is created holding initial, and initial is returned.
	Increment(ctx context.Context, key string, delta, initial int64) (int64, error)
	IndexDocument(ctx context.Context, name string) (*IndexDocument, error)
	CreateIndexDocument(ctx context.Context, doc IndexDocument) error
	QueryIndex(ctx context.Context, document, index string, q Query) ([]Row, error)
	Ping(ctx context.Context) error
	Close() error
}

// Dialer opens a Client.
type Dialer interface {
	Dial(ctx context.Context, settings Settings) (Client, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context, settings Settings) (Client, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, settings Settings) (Client, error) {
	return f(ctx, settings)
}

// Transport wraps err as an ErrTransport while keeping err in the chain so
// callers can still match context cancellation and network timeouts.
func Transport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
