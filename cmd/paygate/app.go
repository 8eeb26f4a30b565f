package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/paygate/pkg/httpserver"
	"github.com/dmitrymomot/paygate/pkg/logger"
	"github.com/dmitrymomot/paygate/pkg/metrics"
	"github.com/dmitrymomot/paygate/pkg/pg"
	"github.com/dmitrymomot/paygate/pkg/redis"
	"github.com/dmitrymomot/paygate/pkg/requestid"
	"github.com/dmitrymomot/paygate/svc/account"
	"github.com/dmitrymomot/paygate/svc/catalog"
	"github.com/dmitrymomot/paygate/svc/entitlement"
	"github.com/dmitrymomot/paygate/svc/metalog"
	"github.com/dmitrymomot/paygate/svc/storage/postgres"
	"github.com/dmitrymomot/paygate/svc/subscription"
)

// app holds the long-lived dependencies shared by the commands.
type app struct {
	cfg      appConfig
	log      *slog.Logger
	pool     *pgxpool.Pool
	store    *postgres.Store
	redis    *goredis.Client
	cache    entitlement.Cache
	sink     metalog.Sink
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	checks   []httpserver.Check
	closers  []func(context.Context) error
}

func newLogger(cfg appConfig) *slog.Logger {
	// stdout is reserved for command output such as ledger exports
	log := logger.NewFromConfig(cfg.Log,
		logger.WithOutput(os.Stderr),
		logger.WithContextExtractors(requestid.LoggerExtractor),
	)
	logger.SetAsDefault(log)
	return log
}

// openApp connects Postgres and, unless withCache is false, the
// entitlement cache. The metalog sink is optional and never fails startup.
func openApp(ctx context.Context, cfg appConfig, withCache bool) (*app, error) {
	a := &app{
		cfg:      cfg,
		log:      newLogger(cfg),
		cache:    entitlement.NoopCache{},
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	pool, err := pg.Connect(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	a.store = postgres.New(pool)
	a.checks = append(a.checks, httpserver.Check{Name: "postgres", Probe: pg.Healthcheck(pool)})
	a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })

	if withCache {
		if err := a.openCache(ctx); err != nil {
			a.close(ctx)
			return nil, err
		}
	}

	sink, closeSink := metalog.Open(ctx, cfg.Metalog, a.log)
	a.sink = sink
	a.closers = append(a.closers, closeSink)
	if ms, ok := sink.(*metalog.MongoSink); ok {
		a.checks = append(a.checks, httpserver.Check{Name: "metalog", Probe: ms.Healthcheck()})
	}
	return a, nil
}

func (a *app) openCache(ctx context.Context) error {
	switch a.cfg.Paygate.Cache {
	case cacheRedis:
		client, err := redis.Connect(ctx, a.cfg.Redis)
		if err != nil {
			return err
		}
		a.redis = client
		a.cache = entitlement.NewRedisCache(client)
		a.checks = append(a.checks, httpserver.Check{Name: "redis", Probe: redis.Healthcheck(client)})
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	case cacheMemory:
		a.log.WarnContext(ctx, "using in-process entitlement cache; invalidations are not shared between instances")
		a.cache = entitlement.NewMemoryCache(a.cfg.Paygate.CacheCapacity)
	}
	return nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	if err := errors.Join(errs...); err != nil {
		a.log.WarnContext(ctx, "failed to release resources", logger.Error(err))
	}
}

func (a *app) invalidator() *entitlement.Invalidator {
	return entitlement.NewInvalidator(a.cache, a.metrics)
}

func (a *app) engine() (*subscription.Engine, error) {
	due, err := a.cfg.freemiumDueDate()
	if err != nil {
		return nil, err
	}
	return subscription.NewEngine(a.store,
		subscription.WithInvalidator(a.invalidator()),
		subscription.WithSink(a.sink),
		subscription.WithLogger(a.log),
		subscription.WithMetrics(a.metrics),
		subscription.WithFreemiumDueDate(due),
	), nil
}

func (a *app) sweeper() (*subscription.Sweeper, error) {
	due, err := a.cfg.freemiumDueDate()
	if err != nil {
		return nil, err
	}
	return subscription.NewSweeper(a.store,
		subscription.WithSweepInvalidator(a.invalidator()),
		subscription.WithSweepSink(a.sink),
		subscription.WithSweepLogger(a.log),
		subscription.WithSweepMetrics(a.metrics),
		subscription.WithSweepBatchSize(a.cfg.Paygate.SweepBatchSize),
		subscription.WithSweepFreemiumDueDate(due),
	), nil
}

func (a *app) accounts() (*account.Service, error) {
	due, err := a.cfg.freemiumDueDate()
	if err != nil {
		return nil, err
	}
	return account.NewService(a.store,
		account.WithInvalidator(a.invalidator()),
		account.WithSink(a.sink),
		account.WithLogger(a.log),
		account.WithFreemiumDueDate(due),
	), nil
}

func (a *app) resolver() *entitlement.Resolver {
	return entitlement.NewResolver(a.store,
		entitlement.WithCache(a.cache),
		entitlement.WithTTL(a.cfg.Paygate.CacheTTL),
		entitlement.WithLogger(a.log),
		entitlement.WithMetrics(a.metrics),
	)
}

func (a *app) catalog() (*catalog.Catalog, error) {
	return catalog.Load(a.cfg.Paygate.CatalogPath)
}
