package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/sendguard/secret"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SENDGUARD_"

// Loader loads configuration. The zero value reads the process environment
// and an optional ./.env file.
type Loader struct {
	// Lookup reads environment variables. Default: os.LookupEnv
	Lookup secret.LookupFunc

	// EnvFiles are dotenv files consulted after the environment. Missing
	// files are ignored. Default: [".env"]
	EnvFiles []string
}

// Load loads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	return Loader{}.Load(context.Background(), path)
}

// Load layers defaults, the YAML file at path, .env files and SENDGUARD_*
// variables, resolves secret references and validates the result.
func (l Loader) Load(ctx context.Context, path string) (*Config, error) {
	lookup, err := l.lookup()
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	base := ""
	if path != "" {
		base = filepath.Dir(path)
	}
	if err := resolveSecrets(ctx, cfg, secret.NewDefaultResolver(lookup, base)); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// lookup merges the environment with dotenv files. Real environment
// variables win, as with godotenv.Load.
func (l Loader) lookup() (secret.LookupFunc, error) {
	base := l.Lookup
	if base == nil {
		base = os.LookupEnv
	}
	files := l.EnvFiles
	if files == nil {
		files = []string{".env"}
	}

	dotenv := make(map[string]string)
	for _, f := range files {
		vals, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("config: read %s: %w", f, err)
		}
		for k, v := range vals {
			if _, ok := dotenv[k]; !ok {
				dotenv[k] = v
			}
		}
	}
	if len(dotenv) == 0 {
		return base, nil
	}

	return func(key string) (string, bool) {
		if v, ok := base(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path.
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// envBindings maps SENDGUARD_* suffixes onto config fields.
func envBindings(c *Config) map[string]any {
	return map[string]any{
		"SERVER_ADDR":             &c.Server.Addr,
		"SERVER_SHUTDOWN_TIMEOUT": &c.Server.ShutdownTimeout,

		"AUTH_API_KEY_HEADER": &c.Auth.APIKeyHeader,
		"AUTH_JWT_SECRET":     &c.Auth.JWTSecret,
		"AUTH_JWT_ISSUER":     &c.Auth.JWTIssuer,
		"AUTH_JWT_AUDIENCE":   &c.Auth.JWTAudience,

		"STORE_TYPE":            &c.Store.Type,
		"STORE_DSN":             &c.Store.DSN,
		"STORE_REDIS_ADDR":      &c.Store.RedisAddr,
		"STORE_REDIS_PASSWORD":  &c.Store.RedisPassword,
		"STORE_REDIS_DB":        &c.Store.RedisDB,
		"STORE_DYNAMO_TABLE":    &c.Store.DynamoTable,
		"STORE_DYNAMO_REGION":   &c.Store.DynamoRegion,
		"STORE_DYNAMO_ENDPOINT": &c.Store.DynamoEndpoint,
		"STORE_RETENTION":       &c.Store.Retention,

		"KAFKA_ENABLED": &c.Kafka.Enabled,
		"KAFKA_BROKERS": &c.Kafka.Brokers,
		"KAFKA_TOPIC":   &c.Kafka.Topic,
		"KAFKA_STRICT":  &c.Kafka.Strict,

		"TRANSPORT_TYPE":          &c.Transport.Type,
		"TRANSPORT_FROM_ADDRESS":  &c.Transport.FromAddress,
		"TRANSPORT_FROM_NAME":     &c.Transport.FromName,
		"TRANSPORT_SMTP_HOST":     &c.Transport.SMTPHost,
		"TRANSPORT_SMTP_PORT":     &c.Transport.SMTPPort,
		"TRANSPORT_SMTP_USERNAME": &c.Transport.SMTPUsername,
		"TRANSPORT_SMTP_PASSWORD": &c.Transport.SMTPPassword,
		"TRANSPORT_SES_REGION":    &c.Transport.SESRegion,

		"RETRY_MAX_ATTEMPTS": &c.Retry.MaxAttempts,
		"RETRY_BASE_DELAY":   &c.Retry.BaseDelay,
		"RETRY_MAX_DELAY":    &c.Retry.MaxDelay,
		"RETRY_JITTER":       &c.Retry.Jitter,

		"BREAKER_FAILURE_THRESHOLD":      &c.Breaker.FailureThreshold,
		"BREAKER_COOLDOWN":               &c.Breaker.Cooldown,
		"BREAKER_MAX_COOLDOWN":           &c.Breaker.MaxCooldown,
		"BREAKER_PROVIDER_FAILURES_ONLY": &c.Breaker.ProviderFailuresOnly,

		"GUARD_TIMEOUT":        &c.Guard.Timeout,
		"GUARD_RATE_LIMIT":     &c.Guard.RateLimit,
		"GUARD_RATE_BURST":     &c.Guard.RateBurst,
		"GUARD_MAX_CONCURRENT": &c.Guard.MaxConcurrent,

		"LOG_LEVEL":        &c.Observe.LogLevel,
		"METRICS_ENABLED":  &c.Observe.Metrics,
		"TRACING_ENABLED":  &c.Observe.Tracing,
		"TRACING_EXPORTER": &c.Observe.TracingExporter,
	}
}

func applyEnv(cfg *Config, lookup secret.LookupFunc) error {
	for suffix, field := range envBindings(cfg) {
		name := EnvPrefix + suffix
		raw, ok := lookup(name)
		if !ok {
			continue
		}
		if err := setField(field, strings.TrimSpace(raw)); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidEnv, name, err)
		}
	}
	return nil
}

func setField(field any, raw string) error {
	switch p := field.(type) {
	case *string:
		*p = raw
	case *int:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		*p = v
	case *float64:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		*p = v
	case *bool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		*p = v
	case *time.Duration:
		v, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*p = v
	case *[]string:
		var out []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*p = out
	default:
		return fmt.Errorf("unsupported field type %T", field)
	}
	return nil
}

func resolveSecrets(ctx context.Context, cfg *Config, r *secret.Resolver) error {
	err := r.ResolveInPlace(ctx, map[string]*string{
		"auth.jwtSecret":         &cfg.Auth.JWTSecret,
		"store.dsn":              &cfg.Store.DSN,
		"store.redisPassword":    &cfg.Store.RedisPassword,
		"transport.smtpPassword": &cfg.Transport.SMTPPassword,
		"transport.smtpUsername": &cfg.Transport.SMTPUsername,
	})
	if err != nil {
		return fmt.Errorf("config: resolve secrets: %w", err)
	}
	return nil
}
