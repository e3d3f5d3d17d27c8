package goRegistry

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goRegistry/connection"
	"github.com/MrEthical07/goRegistry/service"
	"github.com/MrEthical07/goRegistry/store/mongostore"
	"gopkg.in/yaml.v3"
)

// Store backends accepted in StoreConfig.Backend.
const (
	BackendRedis = "redis"
	BackendMongo = "mongo"
)

// Config is the full registry configuration.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Tickets  TicketConfig   `yaml:"tickets"`
	Services ServicesConfig `yaml:"services"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Audit    AuditConfig    `yaml:"audit"`
	Logging  LoggingConfig  `yaml:"logging"`
	HTTP     HTTPConfig     `yaml:"http"`
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig describes how to reach the remote store and how patiently.
type StoreConfig struct {
	Backend   string   `yaml:"backend"`
	Endpoints []string `yaml:"endpoints"`
	Bucket    string   `yaml:"bucket"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	// Database is only read by the mongo backend.
	Database string `yaml:"database"`

	RetryInterval    time.Duration `yaml:"retry_interval"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

/*
====================================
REGISTRY CONFIG
====================================
*/

// TicketConfig holds ticket lifetimes in seconds. Zero means no expiry.
type TicketConfig struct {
	GrantingTicketTimeoutSeconds int64 `yaml:"tgt_timeout_seconds"`
	ServiceTicketTimeoutSeconds  int64 `yaml:"st_timeout_seconds"`
}

// GrantingTicketTimeout returns the granting ticket lifetime.
func (c TicketConfig) GrantingTicketTimeout() time.Duration {
	return time.Duration(c.GrantingTicketTimeoutSeconds) * time.Second
}

// ServiceTicketTimeout returns the service ticket lifetime.
func (c TicketConfig) ServiceTicketTimeout() time.Duration {
	return time.Duration(c.ServiceTicketTimeoutSeconds) * time.Second
}

// ServicesConfig lists the statically configured services that are seeded
// into the store at startup.
type ServicesConfig struct {
	Static            []ServiceConfig `yaml:"static"`
	SeedRetryInterval time.Duration   `yaml:"seed_retry_interval"`
}

// ServiceConfig is the file form of one service registration.
type ServiceConfig struct {
	Kind              string   `yaml:"kind"`
	ID                *int64   `yaml:"id"`
	Name              string   `yaml:"name"`
	Description       string   `yaml:"description"`
	ServiceID         string   `yaml:"service_id"`
	Theme             string   `yaml:"theme"`
	UsernameAttribute string   `yaml:"username_attribute"`
	Enabled           *bool    `yaml:"enabled"`
	SSOEnabled        *bool    `yaml:"sso_enabled"`
	AllowedToProxy    bool     `yaml:"allowed_to_proxy"`
	AnonymousAccess   bool     `yaml:"anonymous_access"`
	IgnoreAttributes  bool     `yaml:"ignore_attributes"`
	EvaluationOrder   int      `yaml:"evaluation_order"`
	AllowedAttributes []string `yaml:"allowed_attributes"`
	CaseInsensitive   bool     `yaml:"case_insensitive"`
}

// Service converts the entry into a service registration.
func (c ServiceConfig) Service() (service.Service, error) {
	var svc service.Service
	switch service.Kind(c.Kind) {
	case service.KindRegex, "":
		rs := service.NewRegex(c.Name, c.ServiceID)
		rs.CaseInsensitive = c.CaseInsensitive
		svc = rs
	case service.KindAnt:
		svc = service.NewAntPattern(c.Name, c.ServiceID)
	default:
		return nil, fmt.Errorf("%w: %q", service.ErrUnknownKind, c.Kind)
	}

	attrs := svc.Common()
	if c.ID != nil {
		attrs.ID = *c.ID
	}
	attrs.Description = c.Description
	attrs.Theme = c.Theme
	attrs.UsernameAttribute = c.UsernameAttribute
	if c.Enabled != nil {
		attrs.Enabled = *c.Enabled
	}
	if c.SSOEnabled != nil {
		attrs.SSOEnabled = *c.SSOEnabled
	}
	attrs.AllowedToProxy = c.AllowedToProxy
	attrs.AnonymousAccess = c.AnonymousAccess
	attrs.IgnoreAttributes = c.IgnoreAttributes
	attrs.EvaluationOrder = c.EvaluationOrder
	attrs.AllowedAttributes = append([]string(nil), c.AllowedAttributes...)
	return svc, nil
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

// MetricsConfig toggles in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"latency_histograms"`
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// LoggingConfig configures the root logger built by NewLogger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// HTTPConfig configures the admin listener of goregistryd.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Backend:          BackendRedis,
			Endpoints:        []string{"127.0.0.1:6379"},
			Bucket:           connection.DefaultBucket,
			Database:         mongostore.DefaultDatabase,
			RetryInterval:    connection.DefaultRetryInterval,
			DialTimeout:      connection.DefaultDialTimeout,
			OperationTimeout: 2 * time.Second,
		},
		Tickets: TicketConfig{
			GrantingTicketTimeoutSeconds: 28800,
			ServiceTicketTimeoutSeconds:  10,
		},
		Services: ServicesConfig{
			SeedRetryInterval: service.DefaultSeedInterval,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		HTTP: HTTPConfig{
			Addr: ":8089",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Store.Endpoints = append([]string(nil), cfg.Store.Endpoints...)
	out.Services.Static = append([]ServiceConfig(nil), cfg.Services.Static...)
	return out
}

/*
====================================
LOADING
====================================
*/

// LoadConfig builds a Config from defaults, then the YAML file at path (if
// path is not empty), then GOREGISTRY_* environment variables, and validates
// the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies GOREGISTRY_* environment variables on top of c.
// GOREGISTRY_STORE_ENDPOINTS is a comma separated list.
func (c *Config) ApplyEnvOverrides() error {
	if val := os.Getenv("GOREGISTRY_STORE_BACKEND"); val != "" {
		c.Store.Backend = val
	}
	if val := os.Getenv("GOREGISTRY_STORE_ENDPOINTS"); val != "" {
		var endpoints []string
		for _, ep := range strings.Split(val, ",") {
			if ep = strings.TrimSpace(ep); ep != "" {
				endpoints = append(endpoints, ep)
			}
		}
		c.Store.Endpoints = endpoints
	}
	if val := os.Getenv("GOREGISTRY_STORE_BUCKET"); val != "" {
		c.Store.Bucket = val
	}
	if val := os.Getenv("GOREGISTRY_STORE_USERNAME"); val != "" {
		c.Store.Username = val
	}
	if val := os.Getenv("GOREGISTRY_STORE_PASSWORD"); val != "" {
		c.Store.Password = val
	}
	if val := os.Getenv("GOREGISTRY_STORE_DATABASE"); val != "" {
		c.Store.Database = val
	}
	if val := os.Getenv("GOREGISTRY_TGT_TIMEOUT_SECONDS"); val != "" {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("GOREGISTRY_TGT_TIMEOUT_SECONDS: %w", err)
		}
		c.Tickets.GrantingTicketTimeoutSeconds = n
	}
	if val := os.Getenv("GOREGISTRY_ST_TIMEOUT_SECONDS"); val != "" {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("GOREGISTRY_ST_TIMEOUT_SECONDS: %w", err)
		}
		c.Tickets.ServiceTicketTimeoutSeconds = n
	}
	if val := os.Getenv("GOREGISTRY_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("GOREGISTRY_HTTP_ADDR"); val != "" {
		c.HTTP.Addr = val
	}
	return nil
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	// Store
	if c.Store.Backend != BackendRedis && c.Store.Backend != BackendMongo {
		return errors.New("Store Backend must be 'redis' or 'mongo'")
	}
	if len(c.Store.Endpoints) == 0 {
		return fmt.Errorf("%w: Store Endpoints must not be empty", ErrConfig)
	}
	for _, ep := range c.Store.Endpoints {
		if strings.TrimSpace(ep) == "" {
			return fmt.Errorf("%w: Store Endpoints must not contain empty entries", ErrConfig)
		}
	}
	if c.Store.RetryInterval <= 0 {
		return errors.New("Store RetryInterval must be > 0")
	}
	if c.Store.DialTimeout <= 0 {
		return errors.New("Store DialTimeout must be > 0")
	}
	if c.Store.OperationTimeout < 0 {
		return errors.New("Store OperationTimeout must be >= 0")
	}

	// Tickets
	if c.Tickets.GrantingTicketTimeoutSeconds < 0 {
		return errors.New("Tickets GrantingTicketTimeoutSeconds must be >= 0")
	}
	if c.Tickets.ServiceTicketTimeoutSeconds < 0 {
		return errors.New("Tickets ServiceTicketTimeoutSeconds must be >= 0")
	}

	// Services
	if c.Services.SeedRetryInterval < 0 {
		return errors.New("Services SeedRetryInterval must be >= 0")
	}
	for i, sc := range c.Services.Static {
		if sc.Name == "" {
			return fmt.Errorf("Services Static[%d] Name must not be empty", i)
		}
		if sc.ServiceID == "" {
			return fmt.Errorf("Services Static[%d] ServiceID must not be empty", i)
		}
		if _, err := sc.Service(); err != nil {
			return fmt.Errorf("Services Static[%d]: %w", i, err)
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Audit is enabled")
	}

	// Logging
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Logging.Format != "" && c.Logging.Format != "text" && c.Logging.Format != "json" {
		return errors.New("Logging Format must be 'text' or 'json'")
	}
	return nil
}
