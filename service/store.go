package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/MrEthical07/goRegistry/internal/audit"
	"github.com/MrEthical07/goRegistry/internal/metrics"
	"github.com/MrEthical07/goRegistry/store"
	"github.com/sirupsen/logrus"
)

const (
	// CounterKey holds the last assigned service id.
	CounterKey = "LAST_ID"
	// UtilsDocument holds the service indexes.
	UtilsDocument = "utils"
	// AllServicesIndex emits every key made only of digits.
	AllServicesIndex = "all_services"
)

// Indexes returns the index definitions the service store requires.
func Indexes() []store.IndexDefinition {
	return []store.IndexDefinition{
		{Name: AllServicesIndex, Map: "meta.id.matches('^[0-9]+$')"},
	}
}

// Connection supplies the live store client and accepts index requirements.
type Connection interface {
	Client() (store.Client, error)
	RegisterIndexRequirement(ctx context.Context, document string, defs []store.IndexDefinition) error
}

// Option configures a Store.
type Option func(*Store)

// WithInitialID sets the value the id counter is created with. It is normally
// the number of statically configured services.
func WithInitialID(id int64) Option {
	return func(s *Store) {
		s.initialID = id
	}
}

// WithOperationTimeout bounds each store call.
func WithOperationTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.opTimeout = d
	}
}

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

// WithAuditSink sets the sink receiving service mutation events.
func WithAuditSink(sink audit.Sink) Option {
	return func(s *Store) {
		s.audit = sink
	}
}

// Store persists service registrations under their decimal id.
type Store struct {
	conn      Connection
	initialID int64
	opTimeout time.Duration
	log       *logrus.Entry
	metrics   *metrics.Metrics
	audit     audit.Sink
}

// NewStore creates a service store on conn.
func NewStore(conn Connection, opts ...Option) *Store {
	s := &Store{
		conn: conn,
		log:  logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "service-store")
	return s
}

// RegisterIndexes declares the utils index on the connection.
func (s *Store) RegisterIndexes(ctx context.Context) error {
	return s.conn.RegisterIndexRequirement(ctx, UtilsDocument, Indexes())
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout > 0 {
		return context.WithTimeout(ctx, s.opTimeout)
	}
	return ctx, func() {}
}

func key(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Save stores svc without expiry. A service with UnsetID first receives a
// fresh id from the store counter; the id is written into svc, which is
// returned. When the write fails svc keeps UnsetID and the next Save draws a
// new id, so ids may skip values but are never reused.
func (s *Store) Save(ctx context.Context, svc Service) (Service, error) {
	if svc == nil {
		return nil, errNilService
	}
	client, err := s.conn.Client()
	if err != nil {
		return nil, err
	}
	attrs := svc.Common()
	s.log.WithFields(logrus.Fields{"service": attrs.Name, "id": attrs.ID}).Debug("saving service")

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	start := time.Now()
	defer s.metrics.Since(metrics.StoreLatency, start)

	assigned := false
	if attrs.ID == UnsetID {
		id, err := client.Increment(opCtx, CounterKey, 1, s.initialID)
		if err != nil {
			return nil, fmt.Errorf("assign service id: %w", err)
		}
		attrs.ID = id
		assigned = true
	}

	data, err := Marshal(svc)
	if err == nil {
		err = client.Set(opCtx, key(attrs.ID), 0, data)
		if err != nil {
			err = fmt.Errorf("save service %d: %w", attrs.ID, err)
		}
	}
	if err != nil {
		// svc is left as the caller passed it; the consumed id is not reused.
		if assigned {
			attrs.ID = UnsetID
		}
		return nil, err
	}

	s.metrics.Inc(metrics.ServiceSaved)
	audit.Emit(ctx, s.audit, audit.Event{
		EventType:   audit.EventServiceSaved,
		ServiceID:   key(attrs.ID),
		ServiceName: attrs.Name,
		Success:     true,
	})
	return svc, nil
}

// Delete removes svc. A completed call always reports true, whether or not
// the record existed.
func (s *Store) Delete(ctx context.Context, svc Service) (bool, error) {
	if svc == nil {
		return false, errNilService
	}
	client, err := s.conn.Client()
	if err != nil {
		return false, err
	}
	attrs := svc.Common()
	s.log.WithFields(logrus.Fields{"service": attrs.Name, "id": attrs.ID}).Debug("deleting service")

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	start := time.Now()
	_, err = client.Delete(opCtx, key(attrs.ID))
	s.metrics.Since(metrics.StoreLatency, start)
	if err != nil {
		return false, fmt.Errorf("delete service %d: %w", attrs.ID, err)
	}

	s.metrics.Inc(metrics.ServiceDeleted)
	audit.Emit(ctx, s.audit, audit.Event{
		EventType:   audit.EventServiceDeleted,
		ServiceID:   key(attrs.ID),
		ServiceName: attrs.Name,
		Success:     true,
	})
	return true, nil
}

// FindByID returns the service stored under id. Any failure, including an
// unready connection, is logged and reported as not found.
func (s *Store) FindByID(ctx context.Context, id int64) (Service, bool) {
	log := s.log.WithField("id", id)
	log.Debug("looking up service")

	client, err := s.conn.Client()
	if err != nil {
		log.WithError(err).Error("unable to get registered service")
		return nil, false
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	start := time.Now()
	data, err := client.Get(opCtx, key(id))
	s.metrics.Since(metrics.StoreLatency, start)
	if err != nil {
		if !errors.Is(err, store.ErrKeyNotFound) {
			log.WithError(err).Error("unable to get registered service")
		}
		return nil, false
	}

	svc, err := Unmarshal(data)
	if err != nil {
		log.WithError(err).Error("unable to decode registered service")
		return nil, false
	}
	return svc, true
}

// LoadAll returns every stored service ordered by id. A failed query is
// logged and yields an empty slice, so an empty result does not prove the
// registry is empty; use LoadAllStrict to tell the two apart.
func (s *Store) LoadAll(ctx context.Context) []Service {
	services, err := s.LoadAllStrict(ctx)
	if err != nil {
		s.log.WithError(err).Warn("unable to load services")
		return []Service{}
	}
	return services
}

// LoadAllStrict is LoadAll but returns the query error.
func (s *Store) LoadAllStrict(ctx context.Context) ([]Service, error) {
	client, err := s.conn.Client()
	if err != nil {
		return nil, err
	}
	s.log.Debug("loading services")

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	start := time.Now()
	rows, err := client.QueryIndex(opCtx, UtilsDocument, AllServicesIndex, store.Query{IncludeDocs: true})
	s.metrics.Since(metrics.StoreLatency, start)
	if err != nil {
		s.metrics.Inc(metrics.ServiceLoadFailure)
		return nil, err
	}

	services := make([]Service, 0, len(rows))
	for _, row := range rows {
		svc, err := Unmarshal(row.Doc)
		if err != nil {
			s.log.WithError(err).WithField("key", row.Key).Warn("skipping undecodable service")
			continue
		}
		services = append(services, svc)
	}
	sort.SliceStable(services, func(i, j int) bool {
		return services[i].Common().ID < services[j].Common().ID
	})
	return services, nil
}
