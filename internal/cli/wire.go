package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/sendguard/auth"
	"github.com/jonwraymond/sendguard/config"
	"github.com/jonwraymond/sendguard/health"
	"github.com/jonwraymond/sendguard/idempotency"
	"github.com/jonwraymond/sendguard/ledger"
	"github.com/jonwraymond/sendguard/ledger/kafkaledger"
	"github.com/jonwraymond/sendguard/observe"
	"github.com/jonwraymond/sendguard/resilience"
	"github.com/jonwraymond/sendguard/sender"
	"github.com/jonwraymond/sendguard/statusapi"
	"github.com/jonwraymond/sendguard/store/dynamostore"
	"github.com/jonwraymond/sendguard/store/redisstore"
	"github.com/jonwraymond/sendguard/store/sqlstore"
	"github.com/jonwraymond/sendguard/transport"
)

// pruner is implemented by stores that evict expired records on demand.
type pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// app is the assembled service.
type app struct {
	cfg     *config.Config
	obs     observe.Observer
	logger  observe.Logger
	breaker *resilience.CircuitBreaker
	coord   *sender.Coordinator
	health  *health.Aggregator
	handler http.Handler
	pruner  pruner

	closers []func(context.Context) error
}

// backend is an idempotency store and ledger pair, with its health probe.
type backend struct {
	store  idempotency.Store
	ledger ledger.Ledger
	pinger health.Pinger
	pruner pruner
	close  func(context.Context) error
}

// buildApp wires every component from cfg. On error, whatever was already
// opened is closed.
func buildApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	registry := prometheus.NewRegistry()
	obsCfg := cfg.Observe.Observer(Version)
	obsCfg.Metrics.Registerer = registry
	obsCfg.SetGlobal = true
	a.obs, err = observe.NewObserver(ctx, obsCfg)
	if err != nil {
		return nil, fmt.Errorf("observer: %w", err)
	}
	a.closers = append(a.closers, a.obs.Shutdown)
	a.logger = a.obs.Logger()

	be, err := openBackend(ctx, cfg, a.logger)
	if err != nil {
		return nil, err
	}
	if be.close != nil {
		a.closers = append(a.closers, be.close)
	}
	a.pruner = be.pruner

	l := be.ledger
	if cfg.Kafka.Enabled {
		w, err := kafkaledger.NewWriter(cfg.Kafka.Ledger())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return w.Close() })
		l = kafkaledger.New(l, w,
			kafkaledger.WithLogger(a.logger),
			kafkaledger.WithStrict(cfg.Kafka.Strict),
			kafkaledger.WithWriteTimeout(cfg.Kafka.WriteTimeout),
		)
	}

	tr, err := openTransport(ctx, cfg, a.logger)
	if err != nil {
		return nil, err
	}

	bc := cfg.Breaker.Resilience()
	bc.OnStateChange = sender.CircuitTransitionRecorder(a.obs.Metrics(), a.logger)
	a.breaker = resilience.NewCircuitBreaker(bc)

	opts := []sender.Option{
		sender.WithRetryConfig(cfg.Retry.Resilience()),
		sender.WithGuard(cfg.Guard.Build()),
		sender.WithObserver(a.obs),
	}
	if cfg.Breaker.ProviderFailuresOnly {
		opts = append(opts, sender.WithCountFailure(sender.CountProviderFailures))
	}
	a.coord, err = sender.New(be.store, l, a.breaker, tr, opts...)
	if err != nil {
		return nil, err
	}

	a.health = health.NewAggregator(health.WithRunTimeout(5 * time.Second))
	a.health.Register("circuit", health.NewBreakerChecker(a.breaker))
	if be.pinger != nil {
		a.health.Register("store", health.NewPingChecker("store", be.pinger, 2*time.Second))
	}
	if cfg.Kafka.Enabled {
		brokers := kafkaledger.NewBrokers(cfg.Kafka.Brokers)
		a.health.Register("kafka", health.NewPingChecker("kafka", brokers, 2*time.Second), health.Optional())
	}

	apiCfg := statusapi.Config{
		Authenticator: buildAuthenticator(cfg.Auth),
		Health:        a.health,
		Logger:        a.logger,
	}
	if cfg.Observe.Metrics && cfg.Observe.MetricsExporter == "prometheus" {
		apiCfg.Metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	}
	a.handler = statusapi.NewRouter(a.coord, apiCfg)
	return a, nil
}

func openBackend(ctx context.Context, cfg *config.Config, logger observe.Logger) (*backend, error) {
	sc := cfg.Store
	switch sc.Type {
	case config.StoreMemory:
		return &backend{
			store:  idempotency.NewMemoryStore(sc.Policy()),
			ledger: ledger.NewMemoryLedger(),
		}, nil

	case config.StoreSQLite, config.StorePostgres:
		driver := sqlstore.DriverSQLite
		if sc.Type == config.StorePostgres {
			driver = sqlstore.DriverPostgres
		}
		s, err := sqlstore.Open(ctx,
			sqlstore.WithDriver(driver),
			sqlstore.WithDSN(sc.DSN),
			sqlstore.WithPolicy(sc.Policy()),
			sqlstore.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		return &backend{
			store:  s,
			ledger: s,
			pinger: s,
			pruner: s,
			close:  func(context.Context) error { return s.Close() },
		}, nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPassword,
			DB:       sc.RedisDB,
		})
		s := redisstore.New(client,
			redisstore.WithPrefix(sc.RedisPrefix),
			redisstore.WithPolicy(sc.Policy()),
		)
		if err := s.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		return &backend{
			store:  s,
			ledger: s,
			pinger: s,
			close:  func(context.Context) error { return client.Close() },
		}, nil

	case config.StoreDynamo:
		client, err := dynamostore.NewClient(ctx, sc.DynamoRegion, sc.DynamoEndpoint)
		if err != nil {
			return nil, err
		}
		s, err := dynamostore.New(client, sc.DynamoTable, sc.Policy())
		if err != nil {
			return nil, err
		}
		return &backend{store: s, ledger: s, pinger: s}, nil

	default:
		return nil, fmt.Errorf("unknown store type %q", sc.Type)
	}
}

func openTransport(ctx context.Context, cfg *config.Config, logger observe.Logger) (transport.Transport, error) {
	tc := cfg.Transport
	switch tc.Type {
	case config.TransportLog:
		return transport.NewLogTransport(logger, tc.MessageIDDomain), nil
	case config.TransportSMTP:
		return transport.NewSMTPTransport(tc.SMTP())
	case config.TransportSES:
		client, err := transport.NewSESClient(ctx, tc.SESRegion)
		if err != nil {
			return nil, err
		}
		return transport.NewSESTransport(client, tc.SES())
	default:
		return nil, fmt.Errorf("unknown transport type %q", tc.Type)
	}
}

// buildAuthenticator returns nil when no credential is configured.
func buildAuthenticator(ac config.AuthConfig) auth.Authenticator {
	if !ac.Enabled() {
		return nil
	}
	var auths []auth.Authenticator
	if len(ac.APIKeys) > 0 {
		auths = append(auths, auth.NewAPIKeyAuthenticator(
			auth.APIKeyConfig{HeaderName: ac.APIKeyHeader},
			auth.NewMemoryAPIKeyStore(ac.APIKeys...),
		))
	}
	if ac.JWTSecret != "" {
		auths = append(auths, auth.NewJWTAuthenticator(auth.JWTConfig{
			Issuer:   ac.JWTIssuer,
			Audience: ac.JWTAudience,
			Leeway:   ac.JWTLeeway,
		}, []byte(ac.JWTSecret)))
	}
	return auth.NewCompositeAuthenticator(auths...)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
