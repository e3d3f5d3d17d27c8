package mongostore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/MrEthical07/goRegistry/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

const testDBName = "goregistry_test"

func setupTestClient(t *testing.T) *Client {
	t.Helper()

	uri := os.Getenv("GOREGISTRY_MONGO_URI")
	if uri == "" {
		t.Skip("GOREGISTRY_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sc, err := Dialer{}.Dial(ctx, store.Settings{
		Endpoints: []string{uri},
		Bucket:    "tickets",
		Database:  testDBName,
	})
	require.NoError(t, err)
	c := sc.(*Client)

	require.NoError(t, c.data.Drop(ctx))
	require.NoError(t, c.designs.Drop(ctx))
	require.NoError(t, c.EnsureIndexes(ctx))
	c.views.Reset(nil, 0)

	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConnectionURI(t *testing.T) {
	uri, err := connectionURI([]string{"mongodb://db:27017/?replicaSet=rs0"})
	require.NoError(t, err)
	assert.Equal(t, "mongodb://db:27017/?replicaSet=rs0", uri)

	uri, err = connectionURI([]string{"a:27017", " b:27017 "})
	require.NoError(t, err)
	assert.Equal(t, "mongodb://a:27017,b:27017", uri)

	_, err = connectionURI(nil)
	assert.Error(t, err)
}

func TestRangeFilter(t *testing.T) {
	assert.Nil(t, rangeFilter(store.KeyRange{}))
	assert.Equal(t, bson.M{"$gte": "TGT-", "$lte": "TGT-ʭ"}, rangeFilter(store.KeyRange{Start: "TGT-", End: "TGT-ʭ"}))
	assert.Equal(t, bson.M{"$gte": "ST-"}, rangeFilter(store.KeyRange{Start: "ST-"}))
}

func TestMongoClient_KeyValue(t *testing.T) {
	c := setupTestClient(t)
	ctx := context.Background()

	require.ErrorIs(t, c.Replace(ctx, "k", 0, []byte("v0")), store.ErrKeyNotFound)
	require.NoError(t, c.Add(ctx, "k", 0, []byte("v1")))
	require.ErrorIs(t, c.Add(ctx, "k", 0, []byte("v2")), store.ErrKeyExists)
	require.NoError(t, c.Replace(ctx, "k", 0, []byte("v3")))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v3", string(got))

	deleted, err := c.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = c.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMongoClient_Increment(t *testing.T) {
	c := setupTestClient(t)
	ctx := context.Background()

	n, err := c.Increment(ctx, "LAST_ID", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = c.Increment(ctx, "LAST_ID", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestMongoClient_ExpiredRecordsAreInvisible(t *testing.T) {
	c := setupTestClient(t)
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.CreateIndexDocument(ctx, store.IndexDocument{
		Name:    "statistics",
		Indexes: []store.IndexDefinition{{Name: "all_tickets", Map: "true", Reduce: "_count"}},
	}))
	require.NoError(t, c.Add(ctx, "TGT-1", time.Second, []byte{0x01}))
	require.NoError(t, c.Add(ctx, "TGT-2", time.Hour, []byte{0x01}))

	now = now.Add(2 * time.Second)

	_, err := c.Get(ctx, "TGT-1")
	require.ErrorIs(t, err, store.ErrKeyNotFound)

	rows, err := c.QueryIndex(ctx, "statistics", "all_tickets", store.Query{
		Range:  store.KeyRange{Start: "TGT-", End: "TGT-ʭ"},
		Reduce: true,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "1", rows[0].Value)

	// An expired record no longer blocks Add.
	require.NoError(t, c.Add(ctx, "TGT-1", time.Hour, []byte{0x02}))
}

func TestMongoClient_BackfillAndRange(t *testing.T) {
	c := setupTestClient(t)
	ctx := context.Background()

	for _, k := range []string{"0", "1", "LAST_ID"} {
		require.NoError(t, c.Set(ctx, k, 0, []byte(`{"kind":"ant"}`)))
	}
	require.NoError(t, c.CreateIndexDocument(ctx, store.IndexDocument{
		Name:    "utils",
		Indexes: []store.IndexDefinition{{Name: "all_services", Map: "meta.id.matches('^[0-9]+$')"}},
	}))

	rows, err := c.QueryIndex(ctx, "utils", "all_services", store.Query{IncludeDocs: true})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "0", rows[0].Key)
	assert.Equal(t, `{"kind":"ant"}`, string(rows[0].Doc))

	doc, err := c.IndexDocument(ctx, "utils")
	require.NoError(t, err)
	_, ok := doc.Index("all_services")
	assert.True(t, ok)
}

func TestMongoClient_StaleClientWritesAreIndexed(t *testing.T) {
	owner := setupTestClient(t)
	ctx := context.Background()

	// A second client loaded its definitions before the index document existed.
	writer, err := NewClient(owner.client, testDBName, "tickets")
	require.NoError(t, err)
	require.NoError(t, writer.refreshViews(ctx))

	require.NoError(t, owner.CreateIndexDocument(ctx, store.IndexDocument{
		Name:    "statistics",
		Indexes: []store.IndexDefinition{{Name: "all_tickets", Map: "true", Reduce: "_count"}},
	}))
	require.NoError(t, writer.Add(ctx, "TGT-1", time.Hour, []byte{0x01}))

	rows, err := owner.QueryIndex(ctx, "statistics", "all_tickets", store.Query{
		Range:  store.KeyRange{Start: "TGT-", End: "TGT-ʭ"},
		Reduce: true,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "1", rows[0].Value)
	assert.Equal(t, owner.views.Version(), writer.views.Version())
}
