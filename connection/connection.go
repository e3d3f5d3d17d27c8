package connection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/goRegistry/internal/metrics"
	"github.com/MrEthical07/goRegistry/internal/schedule"
	"github.com/MrEthical07/goRegistry/store"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultRetryInterval is the delay between connection attempts.
	DefaultRetryInterval = 10 * time.Second
	// DefaultDialTimeout bounds a single connection attempt.
	DefaultDialTimeout = 5 * time.Second
	// DefaultBucket is used when Settings.Bucket is empty.
	DefaultBucket = "default"
)

// State is the lifecycle state of a Connection.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateConnected
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Option configures a Connection.
type Option func(*Connection)

// WithRetryInterval overrides DefaultRetryInterval.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Connection) {
		if d > 0 {
			c.retryInterval = d
		}
	}
}

// WithDialTimeout overrides DefaultDialTimeout.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Connection) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithLogger sets the log entry used by the connection and its verifier.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Connection) {
		if log != nil {
			c.baseLog = log
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Connection) {
		c.metrics = m
	}
}

type requirement struct {
	document string
	defs     []store.IndexDefinition
}

// Connection owns the client handle to the remote store. Initialize returns
// immediately and keeps retrying in the background until the store answers;
// until then Client reports ErrNotReady.
type Connection struct {
	dialer        store.Dialer
	retryInterval time.Duration
	dialTimeout   time.Duration
	baseLog       *logrus.Entry
	log           *logrus.Entry
	metrics       *metrics.Metrics
	verifier      *IndexVerifier

	mu           sync.Mutex
	state        State
	settings     store.Settings
	configured   bool
	client       store.Client
	task         *schedule.Task
	requirements []requirement
	indexErr     error

	settled    chan struct{}
	settleOnce sync.Once
}

// New creates an unconfigured connection that opens clients through dialer.
func New(dialer store.Dialer, opts ...Option) *Connection {
	c := &Connection{
		dialer:        dialer,
		retryInterval: DefaultRetryInterval,
		dialTimeout:   DefaultDialTimeout,
		baseLog:       logrus.NewEntry(logrus.StandardLogger()),
		settled:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.baseLog.WithField("component", "connection")
	c.verifier = NewIndexVerifier(c.baseLog, c.metrics)
	return c
}

// Configure records the settings used by every connection attempt. It
// performs no I/O and must be called before Initialize.
func (c *Connection) Configure(settings store.Settings) error {
	endpoints := make([]string, 0, len(settings.Endpoints))
	for _, ep := range settings.Endpoints {
		if ep = strings.TrimSpace(ep); ep != "" {
			endpoints = append(endpoints, ep)
		}
	}
	if len(endpoints) == 0 {
		return fmt.Errorf("%w: at least one endpoint is required", ErrConfig)
	}
	settings.Endpoints = endpoints
	if strings.TrimSpace(settings.Bucket) == "" {
		settings.Bucket = DefaultBucket
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUninitialized {
		return fmt.Errorf("%w: connection already %s", ErrConfig, c.state)
	}
	c.settings = settings
	c.configured = true
	return nil
}

// RegisterIndexRequirement records index definitions to verify once connected.
// Definitions for the same document are merged by index name. When the
// connection is already established the verification runs immediately and
// its result is returned.
func (c *Connection) RegisterIndexRequirement(ctx context.Context, document string, defs []store.IndexDefinition) error {
	c.mu.Lock()
	merged := c.mergeLocked(document, defs)
	state := c.state
	client := c.client
	c.mu.Unlock()

	if state != StateConnected || client == nil {
		return nil
	}
	return c.verifier.Ensure(ctx, client, document, merged)
}

func (c *Connection) mergeLocked(document string, defs []store.IndexDefinition) []store.IndexDefinition {
	for i := range c.requirements {
		req := &c.requirements[i]
		if req.document != document {
			continue
		}
		for _, def := range defs {
			replaced := false
			for j := range req.defs {
				if req.defs[j].Name == def.Name {
					req.defs[j] = def
					replaced = true
					break
				}
			}
			if !replaced {
				req.defs = append(req.defs, def)
			}
		}
		return append([]store.IndexDefinition(nil), req.defs...)
	}

	c.requirements = append(c.requirements, requirement{
		document: document,
		defs:     append([]store.IndexDefinition(nil), defs...),
	})
	return append([]store.IndexDefinition(nil), defs...)
}

// Initialize starts connecting in the background and returns immediately.
// The first attempt runs at once; failed attempts are retried every retry
// interval until one succeeds or Shutdown is called. Calling Initialize on a
// connection that is already connecting or connected does nothing.
func (c *Connection) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateShuttingDown:
		return ErrShutdown
	case StateConnecting, StateConnected:
		return nil
	}
	if !c.configured {
		return fmt.Errorf("%w: Configure was not called", ErrConfig)
	}

	c.state = StateConnecting
	c.log.WithFields(logrus.Fields{
		"endpoints": c.settings.Endpoints,
		"bucket":    c.settings.Bucket,
		"retry":     c.retryInterval,
	}).Info("initializing store connection")
	c.task = schedule.Every(c.retryInterval, c.attempt)
	return nil
}

// attempt performs one connection attempt, or repeats index verification
// when the previous one failed on a transport error. It reports true when no
// further attempts are needed.
func (c *Connection) attempt(ctx context.Context) bool {
	c.mu.Lock()
	state := c.state
	settings := c.settings
	current := c.client
	c.mu.Unlock()

	switch state {
	case StateConnecting:
	case StateConnected:
		return c.verify(ctx, current)
	default:
		return true
	}

	log := c.log.WithField("bucket", settings.Bucket)
	log.WithField("endpoints", settings.Endpoints).Info("connecting to store")
	c.metrics.Inc(metrics.ConnectAttempt)

	start := time.Now()
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	client, err := c.dialer.Dial(dialCtx, settings)
	cancel()
	c.metrics.Since(metrics.ConnectLatency, start)

	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		c.metrics.Inc(metrics.ConnectFailure)
		log.WithError(err).Errorf("store connection failed, retrying in %s", c.retryInterval)
		return false
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Shutdown won the race; the new client is not ours to keep.
		c.mu.Unlock()
		_ = client.Close()
		return true
	}
	c.client = client
	c.state = StateConnected
	c.mu.Unlock()

	c.metrics.Inc(metrics.ConnectSuccess)
	log.Info("connected to store")
	return c.verify(ctx, client)
}

// verify runs every registered requirement against client and records the
// first error. A transport failure keeps the task running so verification is
// repeated on the next tick; a rejected definition is final.
func (c *Connection) verify(ctx context.Context, client store.Client) bool {
	c.mu.Lock()
	reqs := make([]requirement, len(c.requirements))
	for i, r := range c.requirements {
		reqs[i] = requirement{document: r.document, defs: append([]store.IndexDefinition(nil), r.defs...)}
	}
	c.mu.Unlock()

	var firstErr error
	for _, r := range reqs {
		if err := c.verifier.Ensure(ctx, client, r.document, r.defs); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if ctx.Err() != nil {
		return true
	}

	c.mu.Lock()
	c.indexErr = firstErr
	c.mu.Unlock()
	c.settle()

	if firstErr != nil && errors.Is(firstErr, store.ErrTransport) {
		c.log.WithError(firstErr).Warnf("index verification failed, retrying in %s", c.retryInterval)
		return false
	}
	return true
}

func (c *Connection) settle() {
	c.settleOnce.Do(func() { close(c.settled) })
}

// Client returns the live client handle. It never blocks.
func (c *Connection) Client() (store.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.client == nil {
		return nil, ErrNotReady
	}
	return c.client, nil
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error of the latest index verification, if any. It clears
// once a repeated verification succeeds.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexErr
}

// Wait blocks until the connection is established and its registered indexes
// have been verified, until ctx is done, or until Shutdown is called.
func (c *Connection) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.settled:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateShuttingDown {
		return ErrShutdown
	}
	return c.indexErr
}

// Shutdown cancels pending connection attempts, waits for an in-flight
// attempt to return and releases the client. It is idempotent and may be
// called before Initialize.
func (c *Connection) Shutdown() error {
	c.mu.Lock()
	if c.state == StateShuttingDown {
		c.mu.Unlock()
		return nil
	}
	c.state = StateShuttingDown
	task := c.task
	c.task = nil
	c.mu.Unlock()

	// Stop outside the lock: the in-flight attempt takes c.mu before it returns.
	task.Stop()

	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()
	c.settle()

	if client == nil {
		c.log.Info("store connection shut down")
		return nil
	}
	if err := client.Close(); err != nil {
		c.log.WithError(err).Warn("error closing store client")
		return err
	}
	c.log.Info("store connection closed")
	return nil
}
