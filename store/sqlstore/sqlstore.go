// Package sqlstore persists idempotency records and send attempts in a SQL
// database. PostgreSQL (lib/pq) and SQLite (go-sqlite3) are supported.
//
// A single Store implements both idempotency.Store and ledger.Ledger so one
// connection pool backs the whole coordinator.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jonwraymond/sendguard/idempotency"
	"github.com/jonwraymond/sendguard/observe"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Connection pool defaults for PostgreSQL.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Opts holds configuration for Open.
type Opts struct {
	Driver string
	DSN    string
	Policy idempotency.Policy
	Logger observe.Logger
}

// Option configures Open.
type Option func(*Opts)

// WithDriver selects the database driver: "postgres" or "sqlite3".
func WithDriver(driver string) Option {
	return func(o *Opts) { o.Driver = driver }
}

// WithDSN sets the data source name. For SQLite this is a file path.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPolicy sets the idempotency retention policy.
func WithPolicy(p idempotency.Policy) Option {
	return func(o *Opts) { o.Policy = p }
}

// WithLogger sets the logger.
func WithLogger(l observe.Logger) Option {
	return func(o *Opts) { o.Logger = l }
}

// Store is a SQL-backed idempotency store and attempt ledger.
type Store struct {
	db     *sql.DB
	driver string
	policy idempotency.Policy
	logger observe.Logger
	now    func() time.Time
}

// Open connects to the database, applies migrations and returns a Store.
func Open(ctx context.Context, opts ...Option) (*Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sqlstore: database DSN not set")
	}

	dsn := cfg.DSN
	switch cfg.Driver {
	case DriverPostgres:
	case DriverSQLite, "sqlite", "":
		cfg.Driver = DriverSQLite
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
		dsn = sqliteDSN(dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		// SQLite allows one writer; serializing connections avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(DefaultMaxOpenConns)
		db.SetMaxIdleConns(DefaultMaxIdleConns)
		db.SetConnMaxLifetime(DefaultConnMaxLifetime)
	}

	s, err := New(ctx, db, cfg.Driver, cfg.Policy)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if cfg.Logger != nil {
		s.logger = cfg.Logger
	}
	s.logger.Debug(ctx, "sql store ready", observe.F("driver", cfg.Driver))
	return s, nil
}

// New wraps an existing connection pool and applies migrations.
func New(ctx context.Context, db *sql.DB, driver string, policy idempotency.Policy) (*Store, error) {
	migrations := sqliteMigrations
	if driver == DriverPostgres {
		migrations = postgresMigrations
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, migrations); err != nil {
		return nil, fmt.Errorf("sqlstore: failed to run migrations: %w", err)
	}

	return &Store{
		db:     db,
		driver: driver,
		policy: policy,
		logger: observe.NewNopLogger(),
		now:    time.Now,
	}, nil
}

// Ping checks database reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func ensureDir(path string) error {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("sqlstore: create database directory: %w", err)
	}
	return nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=5000&_journal_mode=WAL"
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
