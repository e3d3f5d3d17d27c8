package goRegistry

import (
	"context"
	"sync"

	"github.com/MrEthical07/goRegistry/connection"
	"github.com/MrEthical07/goRegistry/internal/audit"
	"github.com/MrEthical07/goRegistry/internal/metrics"
	"github.com/MrEthical07/goRegistry/service"
	"github.com/MrEthical07/goRegistry/ticket"
	"github.com/sirupsen/logrus"
)

// Registry owns the store connection and the ticket and service stores built on it.
//
// Registry methods are safe for concurrent use.
type Registry struct {
	config   Config
	log      *logrus.Entry
	conn     *connection.Connection
	tickets  *ticket.Store
	services *service.Store
	seeder   *service.Seeder
	static   int
	metrics  *metrics.Metrics
	audit    *audit.Dispatcher

	mu      sync.Mutex
	started bool
	closed  bool
}

// Health is the registry state reported by the admin endpoint.
type Health struct {
	State      string `json:"state"`
	Ready      bool   `json:"ready"`
	IndexError string `json:"index_error,omitempty"`
	Seeded     int    `json:"seeded"`
	Static     int    `json:"static"`
}

// Stats holds the ticket counts of the registry.
type Stats struct {
	Sessions       int `json:"sessions"`
	ServiceTickets int `json:"service_tickets"`
}

// Start registers the index requirements of both stores, starts connecting
// in the background and starts seeding the static services. It returns
// without waiting for the store; use Wait to block until it is usable.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrShutdown
	}
	if r.started {
		return nil
	}

	if err := r.tickets.RegisterIndexes(ctx); err != nil {
		return err
	}
	if err := r.services.RegisterIndexes(ctx); err != nil {
		return err
	}
	if err := r.conn.Initialize(); err != nil {
		return err
	}
	if r.seeder != nil {
		r.seeder.Start()
	}

	r.started = true
	r.log.Info("registry started")
	return nil
}

// Wait blocks until the store is connected and its indexes verified.
func (r *Registry) Wait(ctx context.Context) error {
	return r.conn.Wait(ctx)
}

// Ready reports whether store operations can currently succeed.
func (r *Registry) Ready() bool {
	return r.conn.State() == connection.StateConnected
}

// Close stops seeding, shuts the connection down and drains the audit
// dispatcher. It is idempotent.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.seeder != nil {
		r.seeder.Stop()
	}
	err := r.conn.Shutdown()
	r.audit.Close()
	r.log.Info("registry closed")
	return err
}

// Tickets returns the ticket store.
func (r *Registry) Tickets() *ticket.Store { return r.tickets }

// Services returns the service store.
func (r *Registry) Services() *service.Store { return r.services }

// Connection returns the underlying store connection.
func (r *Registry) Connection() *connection.Connection { return r.conn }

// Config returns a copy of the configuration the registry was built with.
func (r *Registry) Config() Config { return cloneConfig(r.config) }

// MetricsSnapshot returns the current metrics. It is empty when metrics are disabled.
func (r *Registry) MetricsSnapshot() MetricsSnapshot {
	return r.metrics.Snapshot()
}

// AuditDroppedByType returns, per event type, the audit events that never
// reached the sink. It is empty when auditing is disabled.
func (r *Registry) AuditDroppedByType() map[string]uint64 {
	return r.audit.DroppedByType()
}

// AuditDeliveredByType returns, per event type, the audit events handed to the sink.
func (r *Registry) AuditDeliveredByType() map[string]uint64 {
	return r.audit.DeliveredByType()
}

// Health reports the connection state and seeding progress.
func (r *Registry) Health() Health {
	h := Health{
		State: r.conn.State().String(),
		Ready: r.Ready(),
	}
	if err := r.conn.Err(); err != nil {
		h.IndexError = err.Error()
	}
	if r.seeder != nil {
		h.Seeded = r.seeder.Seeded()
		h.Static = r.static
	}
	return h
}

// Stats counts the live granting and service tickets.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	sessions, err := r.tickets.SessionCount(ctx)
	if err != nil {
		return Stats{}, err
	}
	sts, err := r.tickets.ServiceTicketCount(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Sessions: sessions, ServiceTickets: sts}, nil
}
