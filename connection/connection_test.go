package connection

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goRegistry/store"
	"github.com/MrEthical07/goRegistry/store/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

var statistics = []store.IndexDefinition{
	{Name: "all_tickets", Map: "true", Reduce: "_count"},
}

type countingClient struct {
	store.Client
	creates atomic.Int32
	closed  atomic.Bool
}

func (c *countingClient) CreateIndexDocument(ctx context.Context, doc store.IndexDocument) error {
	c.creates.Add(1)
	return c.Client.CreateIndexDocument(ctx, doc)
}

func (c *countingClient) Close() error {
	c.closed.Store(true)
	return c.Client.Close()
}

type countingDialer struct {
	inner    store.Dialer
	attempts atomic.Int32
	last     atomic.Pointer[countingClient]
}

func (d *countingDialer) Dial(ctx context.Context, s store.Settings) (store.Client, error) {
	d.attempts.Add(1)
	c, err := d.inner.Dial(ctx, s)
	if err != nil {
		return nil, err
	}
	cc := &countingClient{Client: c}
	d.last.Store(cc)
	return cc, nil
}

func quietLogger() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

func newTestConnection(t *testing.T, dialer store.Dialer, endpoint string) *Connection {
	t.Helper()

	c := New(dialer,
		WithRetryInterval(20*time.Millisecond),
		WithDialTimeout(time.Second),
		WithLogger(quietLogger()),
	)
	if err := c.Configure(store.Settings{Endpoints: []string{endpoint}, Bucket: "tickets"}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Shutdown() })
	return c
}

func waitReady(t *testing.T, c *Connection) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
}

// reserveAddr returns a loopback address with nothing listening on it.
func reserveAddr(t *testing.T) string {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	addr := mr.Addr()
	mr.Close()
	return addr
}

func TestConfigureRejectsEmptyEndpoints(t *testing.T) {
	c := New(redisstore.Dialer{}, WithLogger(quietLogger()))
	if err := c.Configure(store.Settings{Endpoints: []string{" "}}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if err := c.Initialize(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig from unconfigured Initialize, got %v", err)
	}
}

func TestInitializeDoesNotBlockWhileStoreIsDown(t *testing.T) {
	addr := reserveAddr(t)
	dialer := &countingDialer{inner: redisstore.Dialer{}}
	c := newTestConnection(t, dialer, addr)

	start := time.Now()
	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Initialize blocked for %s", elapsed)
	}

	if _, err := c.Client(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady while store is down, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for dialer.attempts.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := dialer.attempts.Load(); got < 2 {
		t.Fatalf("expected retries while store is down, got %d attempts", got)
	}
	if _, err := c.Client(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady after failed attempts, got %v", err)
	}

	mr := miniredis.NewMiniRedis()
	if err := mr.StartAddr(addr); err != nil {
		t.Skipf("could not rebind %s: %v", addr, err)
	}
	defer mr.Close()

	waitReady(t, c)
	if _, err := c.Client(); err != nil {
		t.Fatalf("expected client after store came up, got %v", err)
	}
	if c.State() != StateConnected {
		t.Fatalf("expected connected, got %s", c.State())
	}
}

func TestShutdownBeforeConnectStopsRetries(t *testing.T) {
	addr := reserveAddr(t)
	dialer := &countingDialer{inner: redisstore.Dialer{}}
	c := newTestConnection(t, dialer, addr)

	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	for dialer.attempts.Load() < 1 {
		time.Sleep(time.Millisecond)
	}

	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	after := dialer.attempts.Load()
	time.Sleep(100 * time.Millisecond)
	if got := dialer.attempts.Load(); got != after {
		t.Fatalf("connection attempts continued after shutdown: %d -> %d", after, got)
	}

	if c.State() != StateShuttingDown {
		t.Fatalf("expected shutting down, got %s", c.State())
	}
	if _, err := c.Client(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady after shutdown, got %v", err)
	}
	if err := c.Shutdown(); err != nil {
		t.Fatalf("second Shutdown failed: %v", err)
	}
	if err := c.Initialize(); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
	if err := c.Wait(context.Background()); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected Wait to report ErrShutdown, got %v", err)
	}
}

func TestShutdownBeforeInitialize(t *testing.T) {
	c := New(redisstore.Dialer{}, WithLogger(quietLogger()))
	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := c.Shutdown(); err != nil {
		t.Fatalf("second Shutdown failed: %v", err)
	}
}

func TestShutdownAfterConnectReleasesClient(t *testing.T) {
	mr := miniredis.RunT(t)
	dialer := &countingDialer{inner: redisstore.Dialer{}}
	c := newTestConnection(t, dialer, mr.Addr())

	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	waitReady(t, c)

	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if !dialer.last.Load().closed.Load() {
		t.Fatal("expected client to be closed on shutdown")
	}
	if _, err := c.Client(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady after shutdown, got %v", err)
	}
}

func TestRegisteredIndexesAreCreatedOnConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	dialer := &countingDialer{inner: redisstore.Dialer{}}
	c := newTestConnection(t, dialer, mr.Addr())

	if err := c.RegisterIndexRequirement(context.Background(), "statistics", statistics); err != nil {
		t.Fatalf("RegisterIndexRequirement failed: %v", err)
	}
	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	waitReady(t, c)

	client, _ := c.Client()
	doc, err := client.IndexDocument(context.Background(), "statistics")
	if err != nil {
		t.Fatalf("IndexDocument failed: %v", err)
	}
	if _, ok := doc.Index("all_tickets"); !ok {
		t.Fatalf("expected all_tickets index, got %+v", doc)
	}
	if got := dialer.last.Load().creates.Load(); got != 1 {
		t.Fatalf("expected one create, got %d", got)
	}

	// Registering after connect verifies synchronously; nothing changed, so no create.
	if err := c.RegisterIndexRequirement(context.Background(), "statistics", statistics); err != nil {
		t.Fatalf("late RegisterIndexRequirement failed: %v", err)
	}
	if got := dialer.last.Load().creates.Load(); got != 1 {
		t.Fatalf("expected no additional create, got %d", got)
	}
}

func TestIndexCreationFailureIsReported(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestConnection(t, redisstore.Dialer{}, mr.Addr())

	bad := []store.IndexDefinition{{Name: "broken", Map: "meta.id +"}}
	if err := c.RegisterIndexRequirement(context.Background(), "statistics", bad); err != nil {
		t.Fatalf("RegisterIndexRequirement failed: %v", err)
	}
	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Wait(ctx); !errors.Is(err, ErrIndexCreation) {
		t.Fatalf("expected ErrIndexCreation, got %v", err)
	}
	if !errors.Is(c.Err(), ErrIndexCreation) {
		t.Fatalf("expected Err to hold ErrIndexCreation, got %v", c.Err())
	}
	// The connection itself stays usable.
	if _, err := c.Client(); err != nil {
		t.Fatalf("expected client despite index failure, got %v", err)
	}
}

func TestRequirementsMergeByIndexName(t *testing.T) {
	c := New(redisstore.Dialer{}, WithLogger(quietLogger()))
	ctx := context.Background()

	_ = c.RegisterIndexRequirement(ctx, "utils", []store.IndexDefinition{{Name: "a", Map: "true"}})
	_ = c.RegisterIndexRequirement(ctx, "utils", []store.IndexDefinition{{Name: "b", Map: "true"}, {Name: "a", Map: "false"}})

	if len(c.requirements) != 1 {
		t.Fatalf("expected one document, got %d", len(c.requirements))
	}
	defs := c.requirements[0].defs
	if len(defs) != 2 || defs[0].Map != "false" || defs[1].Name != "b" {
		t.Fatalf("unexpected merged definitions: %+v", defs)
	}
}

// unstableIndexClient fails the first failures index document reads with a
// transport error.
type unstableIndexClient struct {
	store.Client
	failures atomic.Int32
}

func (c *unstableIndexClient) IndexDocument(ctx context.Context, name string) (*store.IndexDocument, error) {
	if c.failures.Add(-1) >= 0 {
		return nil, store.Transport(errors.New("i/o timeout"))
	}
	return c.Client.IndexDocument(ctx, name)
}

type unstableIndexDialer struct {
	inner    store.Dialer
	failures int32
	last     atomic.Pointer[unstableIndexClient]
}

func (d *unstableIndexDialer) Dial(ctx context.Context, s store.Settings) (store.Client, error) {
	c, err := d.inner.Dial(ctx, s)
	if err != nil {
		return nil, err
	}
	uc := &unstableIndexClient{Client: c}
	uc.failures.Store(d.failures)
	d.last.Store(uc)
	return uc, nil
}

func TestIndexVerificationRetriesTransportFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	dialer := &unstableIndexDialer{inner: redisstore.Dialer{}, failures: 2}
	c := newTestConnection(t, dialer, mr.Addr())

	if err := c.RegisterIndexRequirement(context.Background(), "statistics", statistics); err != nil {
		t.Fatalf("RegisterIndexRequirement failed: %v", err)
	}
	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Wait(ctx); !errors.Is(err, store.ErrTransport) {
		t.Fatalf("expected first verification to report a transport error, got %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for c.Err() != nil {
		if time.Now().After(deadline) {
			t.Fatalf("index verification was not repeated: %v", c.Err())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := dialer.last.Load().Client.IndexDocument(context.Background(), "statistics"); err != nil {
		t.Fatalf("expected index document after retry, got %v", err)
	}
	if c.State() != StateConnected {
		t.Fatalf("expected to stay connected, got %s", c.State())
	}
}

func TestRejectedIndexIsNotRetried(t *testing.T) {
	mr := miniredis.RunT(t)
	dialer := &countingDialer{inner: redisstore.Dialer{}}
	c := newTestConnection(t, dialer, mr.Addr())

	bad := []store.IndexDefinition{{Name: "broken", Map: "meta.id +"}}
	if err := c.RegisterIndexRequirement(context.Background(), "statistics", bad); err != nil {
		t.Fatalf("RegisterIndexRequirement failed: %v", err)
	}
	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	waitSettled(t, c)

	time.Sleep(100 * time.Millisecond)
	if got := dialer.last.Load().creates.Load(); got != 1 {
		t.Fatalf("expected a rejected document to be pushed once, got %d", got)
	}
}

func waitSettled(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case <-c.settled:
	case <-time.After(5 * time.Second):
		t.Fatal("connection did not settle")
	}
}
