package ticket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/MrEthical07/goRegistry/internal/audit"
	"github.com/MrEthical07/goRegistry/internal/metrics"
	"github.com/MrEthical07/goRegistry/store"
	"github.com/sirupsen/logrus"
)

const (
	// StatisticsDocument holds the ticket indexes.
	StatisticsDocument = "statistics"
	// AllTicketsIndex emits every key and reduces to a row count.
	AllTicketsIndex = "all_tickets"
)

// Indexes returns the index definitions the ticket store requires.
func Indexes() []store.IndexDefinition {
	return []store.IndexDefinition{
		{Name: AllTicketsIndex, Map: "true", Reduce: "_count"},
	}
}

// Outcome is the result of a ticket write.
type Outcome int

const (
	// OutcomeSucceeded means the store acknowledged the write.
	OutcomeSucceeded Outcome = iota
	// OutcomeFailed means the write definitely did not happen.
	OutcomeFailed
	// OutcomeUnknown means the operation was interrupted and may or may not
	// have been applied.
	OutcomeUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Connection supplies the live store client and accepts index requirements.
type Connection interface {
	Client() (store.Client, error)
	RegisterIndexRequirement(ctx context.Context, document string, defs []store.IndexDefinition) error
}

// Config holds the per-type store TTLs. A zero timeout never expires.
type Config struct {
	GrantingTicketTimeout time.Duration
	ServiceTicketTimeout  time.Duration
	// OperationTimeout bounds each store call. Zero uses the caller context only.
	OperationTimeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the log entry.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithAuditSink sets the sink receiving granting-ticket lifecycle events.
func WithAuditSink(sink audit.Sink) Option {
	return func(s *Store) {
		s.audit = sink
	}
}

// Store persists tickets in the remote store. There is no local cache; every
// call is one or two round trips on the caller's goroutine.
//
// Transport failures are logged rather than returned. Writes report an
// Outcome so callers can tell a definite failure from an interrupted call.
type Store struct {
	conn    Connection
	cfg     Config
	log     *logrus.Entry
	metrics *metrics.Metrics
	audit   audit.Sink
}

// NewStore creates a ticket store on conn.
func NewStore(conn Connection, cfg Config, opts ...Option) *Store {
	s := &Store{
		conn: conn,
		cfg:  cfg,
		log:  logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "ticket-store")
	return s
}

// RegisterIndexes declares the statistics index on the connection. It must be
// called before the connection is initialized.
func (s *Store) RegisterIndexes(ctx context.Context) error {
	return s.conn.RegisterIndexRequirement(ctx, StatisticsDocument, Indexes())
}

func (s *Store) timeout(t Type) time.Duration {
	switch t {
	case GrantingTicket:
		return s.cfg.GrantingTicketTimeout
	case ServiceTicket:
		return s.cfg.ServiceTicketTimeout
	default:
		return 0
	}
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.OperationTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.OperationTimeout)
	}
	return ctx, func() {}
}

// Add stores a new ticket with the TTL of its type. An existing id yields
// ErrAddConflict and leaves the stored ticket untouched.
func (s *Store) Add(ctx context.Context, t *Ticket) (Outcome, error) {
	client, err := s.conn.Client()
	if err != nil {
		return OutcomeFailed, err
	}
	data, err := Encode(t)
	if err != nil {
		return OutcomeFailed, err
	}
	log := s.log.WithFields(logrus.Fields{"ticket": t.ID, "type": t.Type})

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	start := time.Now()
	err = client.Add(opCtx, t.ID, s.timeout(t.Type), data)
	s.metrics.Since(metrics.StoreLatency, start)

	switch {
	case err == nil:
		s.metrics.Inc(metrics.TicketAdded)
		log.Debug("ticket added")
		if t.Type == GrantingTicket {
			audit.Emit(ctx, s.audit, audit.Event{EventType: audit.EventTicketGrantingCreated, TicketID: t.ID, Success: true})
		}
		return OutcomeSucceeded, nil
	case errors.Is(err, store.ErrKeyExists):
		s.metrics.Inc(metrics.TicketAddConflict)
		log.Warn("ticket id already exists")
		return OutcomeFailed, fmt.Errorf("%w: %s", ErrAddConflict, t.ID)
	default:
		return s.failure(log, "add", err), nil
	}
}

// Update replaces an existing ticket with the TTL of its type. A missing
// target is logged and reported as OutcomeFailed.
func (s *Store) Update(ctx context.Context, t *Ticket) (Outcome, error) {
	client, err := s.conn.Client()
	if err != nil {
		return OutcomeFailed, err
	}
	data, err := Encode(t)
	if err != nil {
		return OutcomeFailed, err
	}
	log := s.log.WithFields(logrus.Fields{"ticket": t.ID, "type": t.Type})

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	start := time.Now()
	err = client.Replace(opCtx, t.ID, s.timeout(t.Type), data)
	s.metrics.Since(metrics.StoreLatency, start)

	switch {
	case err == nil:
		s.metrics.Inc(metrics.TicketUpdated)
		log.Debug("ticket updated")
		return OutcomeSucceeded, nil
	case errors.Is(err, store.ErrKeyNotFound):
		s.metrics.Inc(metrics.TicketUpdateMissing)
		log.Error("failed to update ticket: ticket does not exist")
		return OutcomeFailed, nil
	default:
		return s.failure(log, "update", err), nil
	}
}

// Get returns the ticket stored under id. Absence and transport failures both
// report found=false; only an unready connection returns an error.
func (s *Store) Get(ctx context.Context, id string) (*Ticket, bool, error) {
	client, err := s.conn.Client()
	if err != nil {
		return nil, false, err
	}
	log := s.log.WithField("ticket", id)

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	start := time.Now()
	data, err := client.Get(opCtx, id)
	s.metrics.Since(metrics.StoreLatency, start)

	if err != nil {
		if !errors.Is(err, store.ErrKeyNotFound) {
			s.failure(log, "get", err)
		}
		s.metrics.Inc(metrics.TicketMiss)
		return nil, false, nil
	}

	t, err := Decode(data)
	if err != nil {
		s.metrics.Inc(metrics.TicketMiss)
		log.WithError(err).Error("failed to decode ticket")
		return nil, false, nil
	}
	s.metrics.Inc(metrics.TicketHit)
	return t, true, nil
}

// Delete removes the ticket stored under id and reports whether it existed.
// Transport failures are logged and reported as false.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	client, err := s.conn.Client()
	if err != nil {
		return false, err
	}
	log := s.log.WithField("ticket", id)

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	start := time.Now()
	deleted, err := client.Delete(opCtx, id)
	s.metrics.Since(metrics.StoreLatency, start)

	if err != nil {
		s.failure(log, "delete", err)
		return false, nil
	}
	if deleted {
		s.metrics.Inc(metrics.TicketDeleted)
		if t, ok := TypeOf(id); ok && t == GrantingTicket {
			audit.Emit(ctx, s.audit, audit.Event{EventType: audit.EventTicketGrantingDestroyed, TicketID: id, Success: true})
		}
	}
	return deleted, nil
}

// CountByType returns the number of live tickets of type t in a single
// reduced index query over the type's id prefix.
func (s *Store) CountByType(ctx context.Context, t Type) (int, error) {
	client, err := s.conn.Client()
	if err != nil {
		return 0, err
	}
	prefix := t.Prefix() + "-"
	log := s.log.WithField("type", t)

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	start := time.Now()
	rows, err := client.QueryIndex(opCtx, StatisticsDocument, AllTicketsIndex, store.Query{
		Range:  store.KeyRange{Start: prefix, End: prefix + EndToken},
		Reduce: true,
	})
	s.metrics.Since(metrics.StoreLatency, start)

	if err != nil {
		s.failure(log, "count", err)
		return 0, nil
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := strconv.Atoi(rows[0].Value)
	if err != nil {
		log.WithError(err).Errorf("invalid count value %q", rows[0].Value)
		return 0, nil
	}
	return n, nil
}

// SessionCount returns the number of granting tickets.
func (s *Store) SessionCount(ctx context.Context) (int, error) {
	return s.CountByType(ctx, GrantingTicket)
}

// ServiceTicketCount returns the number of service tickets.
func (s *Store) ServiceTicketCount(ctx context.Context) (int, error) {
	return s.CountByType(ctx, ServiceTicket)
}

// ListAll is not supported: enumerating every ticket does not scale on the
// underlying index. Use the count operations instead.
func (s *Store) ListAll(context.Context) ([]*Ticket, error) {
	return nil, ErrUnsupportedOperation
}

// failure logs a transport error and classifies it.
func (s *Store) failure(log *logrus.Entry, op string, err error) Outcome {
	if interrupted(err) {
		s.metrics.Inc(metrics.TicketOutcomeUnknown)
		log.WithError(err).Warnf("ticket %s interrupted, outcome unknown", op)
		return OutcomeUnknown
	}
	s.metrics.Inc(metrics.TicketTransportError)
	log.WithError(err).Errorf("ticket %s failed", op)
	return OutcomeFailed
}

func interrupted(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
