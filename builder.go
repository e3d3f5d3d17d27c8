package goRegistry

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/goRegistry/connection"
	"github.com/MrEthical07/goRegistry/internal/audit"
	"github.com/MrEthical07/goRegistry/internal/metrics"
	"github.com/MrEthical07/goRegistry/service"
	"github.com/MrEthical07/goRegistry/store"
	"github.com/MrEthical07/goRegistry/store/mongostore"
	"github.com/MrEthical07/goRegistry/store/redisstore"
	"github.com/MrEthical07/goRegistry/ticket"
	"github.com/sirupsen/logrus"
)

// Builder assembles a Registry. A Builder can be built once.
type Builder struct {
	config    Config
	dialer    store.Dialer
	logger    *logrus.Entry
	auditSink AuditSink
	static    []service.Service

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithDialer overrides the dialer chosen from Store.Backend.
func (b *Builder) WithDialer(d store.Dialer) *Builder {
	b.dialer = d
	return b
}

// WithLogger sets the parent log entry of every registry component.
func (b *Builder) WithLogger(log *logrus.Entry) *Builder {
	b.logger = log
	return b
}

// WithAuditSink sets the sink that receives audit events when Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithStaticServices adds services to seed at startup, after those in
// Services.Static.
func (b *Builder) WithStaticServices(svcs ...service.Service) *Builder {
	b.static = append(b.static, svcs...)
	return b
}

// WithMetricsEnabled toggles Metrics.Enabled.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles Metrics.EnableLatencyHistograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the connection, the ticket
// and service stores and the seeder. It performs no I/O; call Start on the
// result.
func (b *Builder) Build() (*Registry, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialer := b.dialer
	if dialer == nil {
		switch cfg.Store.Backend {
		case BackendMongo:
			dialer = mongostore.Dialer{}
		default:
			dialer = redisstore.Dialer{}
		}
	}

	log := b.logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	// -------- STATIC SERVICES --------
	static := make([]service.Service, 0, len(cfg.Services.Static)+len(b.static))
	for i, sc := range cfg.Services.Static {
		svc, err := sc.Service()
		if err != nil {
			return nil, fmt.Errorf("Services Static[%d]: %w", i, err)
		}
		static = append(static, svc)
	}
	for _, svc := range b.static {
		if svc == nil {
			return nil, errors.New("static service must not be nil")
		}
		static = append(static, svc)
	}

	// -------- OBSERVABILITY --------
	m := metrics.New(metrics.Config{
		Enabled:                 cfg.Metrics.Enabled,
		EnableLatencyHistograms: cfg.Metrics.EnableLatencyHistograms,
	})
	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	var sink audit.Sink
	if dispatcher != nil {
		sink = dispatcher
	}

	// -------- CONNECTION --------
	conn := connection.New(dialer,
		connection.WithRetryInterval(cfg.Store.RetryInterval),
		connection.WithDialTimeout(cfg.Store.DialTimeout),
		connection.WithLogger(log),
		connection.WithMetrics(m),
	)
	if err := conn.Configure(store.Settings{
		Endpoints: cfg.Store.Endpoints,
		Bucket:    cfg.Store.Bucket,
		Username:  cfg.Store.Username,
		Password:  cfg.Store.Password,
		Database:  cfg.Store.Database,
	}); err != nil {
		return nil, err
	}

	// -------- REGISTRIES --------
	tickets := ticket.NewStore(conn, ticket.Config{
		GrantingTicketTimeout: cfg.Tickets.GrantingTicketTimeout(),
		ServiceTicketTimeout:  cfg.Tickets.ServiceTicketTimeout(),
		OperationTimeout:      cfg.Store.OperationTimeout,
	},
		ticket.WithLogger(log),
		ticket.WithMetrics(m),
		ticket.WithAuditSink(sink),
	)
	services := service.NewStore(conn,
		service.WithInitialID(int64(len(static))),
		service.WithOperationTimeout(cfg.Store.OperationTimeout),
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithAuditSink(sink),
	)

	var seeder *service.Seeder
	if len(static) > 0 {
		var err error
		seeder, err = service.NewSeeder(services, static, cfg.Services.SeedRetryInterval)
		if err != nil {
			return nil, err
		}
	}

	b.built = true

	return &Registry{
		config:   cfg,
		log:      log.WithField("component", "registry"),
		conn:     conn,
		tickets:  tickets,
		services: services,
		seeder:   seeder,
		static:   len(static),
		metrics:  m,
		audit:    dispatcher,
	}, nil
}
