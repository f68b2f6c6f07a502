package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/jonwraymond/sendguard/auth"
	"github.com/jonwraymond/sendguard/idempotency"
	"github.com/jonwraymond/sendguard/ledger/kafkaledger"
	"github.com/jonwraymond/sendguard/observe"
	"github.com/jonwraymond/sendguard/resilience"
	"github.com/jonwraymond/sendguard/transport"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreDynamo   = "dynamo"
)

// Transport backends.
const (
	TransportSMTP = "smtp"
	TransportSES  = "ses"
	TransportLog  = "log"
)

// Config is the complete sendguard configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Store     StoreConfig     `yaml:"store"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Transport TransportConfig `yaml:"transport"`
	Retry     RetryConfig     `yaml:"retry"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Guard     GuardConfig     `yaml:"guard"`
	Observe   ObserveConfig   `yaml:"observe"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
}

// AuthConfig configures API authentication. With no keys and no JWT secret
// the API is unauthenticated.
type AuthConfig struct {
	APIKeyHeader string        `yaml:"apiKeyHeader"`
	APIKeys      []auth.APIKey `yaml:"apiKeys"`
	JWTSecret    string        `yaml:"jwtSecret"`
	JWTIssuer    string        `yaml:"jwtIssuer"`
	JWTAudience  string        `yaml:"jwtAudience"`
	JWTLeeway    time.Duration `yaml:"jwtLeeway"`
}

// Enabled reports whether any credential is configured.
func (a AuthConfig) Enabled() bool {
	return len(a.APIKeys) > 0 || a.JWTSecret != ""
}

// StoreConfig selects the idempotency store and ledger backend.
type StoreConfig struct {
	Type string `yaml:"type"`

	// DSN is the PostgreSQL connection string or the SQLite file path.
	DSN string `yaml:"dsn"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	RedisPrefix   string `yaml:"redisPrefix"`

	DynamoTable    string `yaml:"dynamoTable"`
	DynamoRegion   string `yaml:"dynamoRegion"`
	DynamoEndpoint string `yaml:"dynamoEndpoint"`

	// Retention evicts finished idempotency records after this long.
	// Zero keeps them forever.
	Retention time.Duration `yaml:"retention"`
}

// Policy returns the idempotency retention policy.
func (s StoreConfig) Policy() idempotency.Policy {
	return idempotency.RetentionPolicy(s.Retention)
}

// KafkaConfig configures the attempt audit topic.
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	Strict       bool          `yaml:"strict"`
}

// Ledger returns the kafkaledger configuration.
func (k KafkaConfig) Ledger() kafkaledger.Config {
	return kafkaledger.Config{
		Brokers:      k.Brokers,
		Topic:        k.Topic,
		WriteTimeout: k.WriteTimeout,
		Strict:       k.Strict,
	}
}

// TransportConfig selects and configures the email transport.
type TransportConfig struct {
	Type        string `yaml:"type"`
	FromAddress string `yaml:"fromAddress"`
	FromName    string `yaml:"fromName"`

	SMTPHost               string `yaml:"smtpHost"`
	SMTPPort               int    `yaml:"smtpPort"`
	SMTPUsername           string `yaml:"smtpUsername"`
	SMTPPassword           string `yaml:"smtpPassword"`
	SMTPInsecureSkipVerify bool   `yaml:"smtpInsecureSkipVerify"`
	MessageIDDomain        string `yaml:"messageIdDomain"`

	SESRegion           string `yaml:"sesRegion"`
	SESConfigurationSet string `yaml:"sesConfigurationSet"`
}

// From returns the sender identity.
func (t TransportConfig) From() transport.Sender {
	return transport.Sender{Address: t.FromAddress, Name: t.FromName}
}

// SMTP returns the SMTP transport configuration.
func (t TransportConfig) SMTP() transport.SMTPConfig {
	return transport.SMTPConfig{
		Host:               t.SMTPHost,
		Port:               t.SMTPPort,
		Username:           t.SMTPUsername,
		Password:           t.SMTPPassword,
		From:               t.From(),
		MessageIDDomain:    t.MessageIDDomain,
		InsecureSkipVerify: t.SMTPInsecureSkipVerify,
	}
}

// SES returns the SES transport configuration.
func (t TransportConfig) SES() transport.SESConfig {
	return transport.SESConfig{
		Region:           t.SESRegion,
		From:             t.From(),
		ConfigurationSet: t.SESConfigurationSet,
	}
}

// RetryConfig configures the retry executor.
type RetryConfig struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseDelay   time.Duration `yaml:"baseDelay"`
	MaxDelay    time.Duration `yaml:"maxDelay"`

	// Jitter is the ± fraction applied to each delay. 0 disables jitter.
	Jitter float64 `yaml:"jitter"`
}

// Resilience returns the retry executor configuration.
func (r RetryConfig) Resilience() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    r.MaxAttempts,
		BaseDelay:      r.BaseDelay,
		MaxDelay:       r.MaxDelay,
		JitterFactor:   r.Jitter,
		RetryableCodes: resilience.DefaultRetryableCodes(),
	}
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	FailureThreshold   int           `yaml:"failureThreshold"`
	Cooldown           time.Duration `yaml:"cooldown"`
	MaxCooldown        time.Duration `yaml:"maxCooldown"`
	CooldownMultiplier float64       `yaml:"cooldownMultiplier"`

	// ProviderFailuresOnly stops recipient and content rejections from
	// counting against the breaker.
	ProviderFailuresOnly bool `yaml:"providerFailuresOnly"`
}

// Resilience returns the breaker configuration. Callers add OnStateChange.
func (b BreakerConfig) Resilience() resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		FailureThreshold:   b.FailureThreshold,
		Cooldown:           b.Cooldown,
		MaxCooldown:        b.MaxCooldown,
		CooldownMultiplier: b.CooldownMultiplier,
		HalfOpenMaxProbes:  1,
	}
}

// GuardConfig configures the per-call guard around each transport call.
type GuardConfig struct {
	Timeout time.Duration `yaml:"timeout"`

	// RateLimit is transport calls per second. 0 disables rate limiting.
	RateLimit float64       `yaml:"rateLimit"`
	RateBurst int           `yaml:"rateBurst"`
	RateWait  time.Duration `yaml:"rateWait"`

	// MaxConcurrent caps in-flight transport calls. 0 disables the bulkhead.
	MaxConcurrent int           `yaml:"maxConcurrent"`
	BulkheadWait  time.Duration `yaml:"bulkheadWait"`
}

// Build creates the guard. Disabled protections are left nil.
func (g GuardConfig) Build() *resilience.Guard {
	gc := resilience.GuardConfig{Timeout: g.Timeout}
	if g.RateLimit > 0 {
		gc.Limiter = resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:        g.RateLimit,
			Burst:       g.RateBurst,
			WaitOnLimit: g.RateWait > 0,
			MaxWait:     g.RateWait,
		})
	}
	if g.MaxConcurrent > 0 {
		gc.Bulkhead = resilience.NewBulkhead(resilience.BulkheadConfig{
			MaxConcurrent: g.MaxConcurrent,
			MaxWait:       g.BulkheadWait,
		})
	}
	return resilience.NewGuard(gc)
}

// ObserveConfig configures logging, metrics and tracing.
type ObserveConfig struct {
	ServiceName     string  `yaml:"serviceName"`
	LogLevel        string  `yaml:"logLevel"`
	Metrics         bool    `yaml:"metrics"`
	MetricsExporter string  `yaml:"metricsExporter"`
	Tracing         bool    `yaml:"tracing"`
	TracingExporter string  `yaml:"tracingExporter"`
	SamplePct       float64 `yaml:"samplePct"`
}

// Observer returns the observe configuration for version.
func (o ObserveConfig) Observer(version string) observe.Config {
	return observe.Config{
		ServiceName: o.ServiceName,
		Version:     version,
		Tracing: observe.TracingConfig{
			Enabled:   o.Tracing,
			Exporter:  o.TracingExporter,
			SamplePct: o.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  o.Metrics,
			Exporter: o.MetricsExporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: true,
			Level:   o.LogLevel,
		},
	}
}

// Default returns the configuration used when nothing is set: an in-memory
// store, the log transport and the standard retry and breaker policy.
func Default() *Config {
	retry := resilience.DefaultRetryConfig()
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Auth: AuthConfig{
			APIKeyHeader: auth.DefaultAPIKeyHeader,
		},
		Store: StoreConfig{
			Type:        StoreMemory,
			RedisPrefix: "sendguard",
		},
		Kafka: KafkaConfig{
			Topic:        "sendguard.attempts",
			WriteTimeout: 3 * time.Second,
		},
		Transport: TransportConfig{
			Type:     TransportLog,
			SMTPPort: 587,
		},
		Retry: RetryConfig{
			MaxAttempts: retry.MaxAttempts,
			BaseDelay:   retry.BaseDelay,
			MaxDelay:    retry.MaxDelay,
			Jitter:      retry.JitterFactor,
		},
		Breaker: BreakerConfig{
			FailureThreshold:   5,
			Cooldown:           time.Minute,
			MaxCooldown:        10 * time.Minute,
			CooldownMultiplier: 2,
		},
		Guard: GuardConfig{
			Timeout:       30 * time.Second,
			MaxConcurrent: 10,
		},
		Observe: ObserveConfig{
			ServiceName:     "sendguard",
			LogLevel:        "info",
			Metrics:         true,
			MetricsExporter: "prometheus",
			TracingExporter: "none",
			SamplePct:       1,
		},
	}
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	for _, check := range []func() error{
		c.validateServer,
		c.validateAuth,
		c.validateStore,
		c.validateKafka,
		c.validateTransport,
		c.validatePolicies,
	} {
		if err := check(); err != nil {
			return err
		}
	}

	obs := c.Observe.Observer("")
	if err := obs.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func (c *Config) validateServer() error {
	if c.Server.Addr == "" {
		return invalid("server.addr is required")
	}
	return nil
}

func (c *Config) validateAuth() error {
	seen := make(map[string]bool, len(c.Auth.APIKeys))
	for i, k := range c.Auth.APIKeys {
		if k.Hash == "" || k.Principal == "" {
			return invalid("auth.apiKeys[%d]: hash and principal are required", i)
		}
		h := strings.ToLower(k.Hash)
		if seen[h] {
			return invalid("auth.apiKeys[%d]: duplicate hash", i)
		}
		seen[h] = true
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return invalid("auth.jwtSecret must be at least 32 bytes")
	}
	return nil
}

func (c *Config) validateStore() error {
	s := c.Store
	switch s.Type {
	case StoreMemory:
	case StoreSQLite, StorePostgres:
		if s.DSN == "" {
			return invalid("store.dsn is required for %s", s.Type)
		}
	case StoreRedis:
		if s.RedisAddr == "" {
			return invalid("store.redisAddr is required for redis")
		}
	case StoreDynamo:
		if s.DynamoTable == "" {
			return invalid("store.dynamoTable is required for dynamo")
		}
	default:
		return invalid("unknown store.type %q", s.Type)
	}
	if s.Retention < 0 {
		return invalid("store.retention must not be negative")
	}
	return nil
}

func (c *Config) validateKafka() error {
	if !c.Kafka.Enabled {
		return nil
	}
	if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
		return invalid("kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	return nil
}

func (c *Config) validateTransport() error {
	t := c.Transport
	switch t.Type {
	case TransportLog:
		return nil
	case TransportSMTP:
		if t.SMTPHost == "" {
			return invalid("transport.smtpHost is required for smtp")
		}
	case TransportSES:
	default:
		return invalid("unknown transport.type %q", t.Type)
	}
	if !strings.Contains(t.FromAddress, "@") {
		return invalid("transport.fromAddress must be an email address")
	}
	return nil
}

func (c *Config) validatePolicies() error {
	r := c.Retry
	switch {
	case r.MaxAttempts < 1:
		return invalid("retry.maxAttempts must be at least 1")
	case r.BaseDelay <= 0:
		return invalid("retry.baseDelay must be positive")
	case r.MaxDelay < r.BaseDelay:
		return invalid("retry.maxDelay must be at least retry.baseDelay")
	case r.Jitter < 0 || r.Jitter > 1:
		return invalid("retry.jitter must be between 0 and 1")
	}

	b := c.Breaker
	switch {
	case b.FailureThreshold < 1:
		return invalid("breaker.failureThreshold must be at least 1")
	case b.Cooldown <= 0:
		return invalid("breaker.cooldown must be positive")
	case b.MaxCooldown < b.Cooldown:
		return invalid("breaker.maxCooldown must be at least breaker.cooldown")
	case b.CooldownMultiplier < 1:
		return invalid("breaker.cooldownMultiplier must be at least 1")
	}

	g := c.Guard
	if g.Timeout < 0 || g.RateLimit < 0 || g.MaxConcurrent < 0 {
		return invalid("guard values must not be negative")
	}
	return nil
}
