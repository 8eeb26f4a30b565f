package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/paygate/pkg/config"
	"github.com/dmitrymomot/paygate/pkg/httpserver"
	"github.com/dmitrymomot/paygate/pkg/logger"
	mongodb "github.com/dmitrymomot/paygate/pkg/mongo"
	"github.com/dmitrymomot/paygate/pkg/pg"
	"github.com/dmitrymomot/paygate/pkg/redis"
	"github.com/dmitrymomot/paygate/svc/ingest"
)

// Entitlement cache backends.
const (
	cacheRedis  = "redis"
	cacheMemory = "memory"
	cacheNone   = "none"
)

var errInvalidConfig = errors.New("invalid configuration")

type paygateConfig struct {
	CatalogPath string `env:"CATALOG_PATH"`

	Cache         string        `env:"ENTITLEMENT_CACHE" envDefault:"redis"`
	CacheTTL      time.Duration `env:"ENTITLEMENT_CACHE_TTL" envDefault:"10m"`
	CacheCapacity int           `env:"ENTITLEMENT_CACHE_CAPACITY" envDefault:"100000"`

	SweepSchedule  string `env:"SWEEP_SCHEDULE" envDefault:"00:05"`
	SweepBatchSize int    `env:"SWEEP_BATCH_SIZE" envDefault:"200"`

	// FreemiumDueDate, as YYYY-MM-DD, is written as the due date of every
	// subscription that drops to freemium. Empty clears the due date.
	FreemiumDueDate string `env:"FREEMIUM_DUE_DATE"`

	MetricsPath string `env:"METRICS_PATH" envDefault:"/metrics"`
}

type appConfig struct {
	Log      logger.Config
	Postgres pg.Config
	Redis    redis.Config
	Metalog  mongodb.Config
	HTTP     httpserver.Config
	PubSub   ingest.PubSubConfig
	Android  ingest.AndroidConfig
	AppStore ingest.AppStoreConfig
	Stripe   ingest.StripeConfig
	Paygate  paygateConfig
}

func loadConfig(envFile string) (appConfig, error) {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	if err := config.LoadEnv(files...); err != nil {
		return appConfig{}, err
	}
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return appConfig{}, err
	}
	if err := cfg.validate(); err != nil {
		return appConfig{}, err
	}
	return cfg, nil
}

func (c appConfig) validate() error {
	switch c.Paygate.Cache {
	case cacheRedis, cacheMemory, cacheNone:
	default:
		return fmt.Errorf("%w: ENTITLEMENT_CACHE must be redis, memory or none, got %q", errInvalidConfig, c.Paygate.Cache)
	}
	if _, err := c.freemiumDueDate(); err != nil {
		return err
	}
	return nil
}

func (c appConfig) freemiumDueDate() (*time.Time, error) {
	if c.Paygate.FreemiumDueDate == "" {
		return nil, nil
	}
	d, err := time.Parse(time.DateOnly, c.Paygate.FreemiumDueDate)
	if err != nil {
		return nil, fmt.Errorf("%w: FREEMIUM_DUE_DATE: %w", errInvalidConfig, err)
	}
	return &d, nil
}
